package objectstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	fs, err := New(filepath.Join(t.TempDir(), "data"))
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	return fs
}

// TestPutOpenDelete проверяет полный цикл объекта.
func TestPutOpenDelete(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()
	content := []byte("зашифрованные данные")

	res, err := fs.Put(ctx, "alice", "alice/f1.enc", bytes.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	sum := sha256.Sum256(content)
	if res.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("checksum = %s, ожидался %s", res.Checksum, hex.EncodeToString(sum[:]))
	}
	if res.Size != int64(len(content)) {
		t.Errorf("size = %d, ожидался %d", res.Size, len(content))
	}

	if _, err := os.Stat(filepath.Join(fs.DataDir(), "alice", "f1.enc.tmp")); !os.IsNotExist(err) {
		t.Error("временный файл не должен оставаться")
	}

	rc, err := fs.Open(ctx, "alice", "alice/f1.enc")
	if err != nil {
		t.Fatalf("ошибка открытия: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, content) {
		t.Errorf("прочитано %q, ожидалось %q", got, content)
	}

	if err := fs.Delete(ctx, "alice", "alice/f1.enc"); err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}
	// Повторное удаление — не ошибка
	if err := fs.Delete(ctx, "alice", "alice/f1.enc"); err != nil {
		t.Fatalf("повторное удаление вернуло ошибку: %v", err)
	}
	if _, err := fs.Open(ctx, "alice", "alice/f1.enc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open после удаления = %v, ожидалась ErrNotFound", err)
	}
}

// TestPut_SizeMismatch проверяет отказ при расхождении размера.
func TestPut_SizeMismatch(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	for _, declared := range []int64{3, 100} {
		_, err := fs.Put(ctx, "alice", "alice/f.enc", bytes.NewReader([]byte("0123456789")), declared)
		if !errors.Is(err, ErrSizeMismatch) {
			t.Errorf("declared=%d: ожидалась ErrSizeMismatch, получено %v", declared, err)
		}
	}
	if _, err := os.Stat(filepath.Join(fs.DataDir(), "alice", "f.enc")); !os.IsNotExist(err) {
		t.Error("объект не должен создаваться при ошибке")
	}
}

// TestForeignHandle проверяет изоляцию на уровне хранилища.
func TestForeignHandle(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	handles := []string{"bob/f1.enc", "alice/../bob/f1.enc", "alice/f1.txt", "alice/sub/f1.enc"}
	for _, h := range handles {
		if _, err := fs.Put(ctx, "alice", h, bytes.NewReader([]byte("x")), 1); !errors.Is(err, ErrForeignHandle) {
			t.Errorf("Put(%q) = %v, ожидалась ErrForeignHandle", h, err)
		}
		if _, err := fs.Open(ctx, "alice", h); !errors.Is(err, ErrForeignHandle) {
			t.Errorf("Open(%q) = %v, ожидалась ErrForeignHandle", h, err)
		}
		if err := fs.Delete(ctx, "alice", h); !errors.Is(err, ErrForeignHandle) {
			t.Errorf("Delete(%q) = %v, ожидалась ErrForeignHandle", h, err)
		}
	}
}

// TestPut_CancelledContext проверяет прерывание записи.
func TestPut_CancelledContext(t *testing.T) {
	fs := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := fs.Put(ctx, "alice", "alice/f.enc", bytes.NewReader([]byte("abc")), 3); !errors.Is(err, context.Canceled) {
		t.Fatalf("ожидалась context.Canceled, получено %v", err)
	}
}

// TestWalk проверяет обход объектов всех арендаторов.
func TestWalk(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	for _, h := range []struct{ tenant, handle string }{
		{"alice", "alice/a.enc"}, {"alice", "alice/b.enc"}, {"bob", "bob/c.enc"},
	} {
		if _, err := fs.Put(ctx, h.tenant, h.handle, bytes.NewReader([]byte("x")), 1); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	// Незавершённая запись не попадает в обход
	_ = os.WriteFile(filepath.Join(fs.DataDir(), "alice", "d.enc.tmp"), []byte("x"), 0o600)

	var got []string
	err := fs.Walk(ctx, func(tenantID, handle string) error {
		got = append(got, handle)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	sort.Strings(got)
	want := []string{"alice/a.enc", "alice/b.enc", "bob/c.enc"}
	if len(got) != len(want) {
		t.Fatalf("Walk = %v, ожидалось %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Walk[%d] = %s, ожидалось %s", i, got[i], want[i])
		}
	}
}
