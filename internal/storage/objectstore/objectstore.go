// Пакет objectstore — хранилище зашифрованных объектов на локальном диске.
//
// Каждый арендатор получает собственный каталог, адрес объекта имеет вид
// {tenant_id}/{record_id}.enc. Принадлежность адреса арендатору проверяется
// при каждом обращении независимо от проверки на уровне метаданных.
package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/cryptvault/internal/domain/authz"
)

// Ошибки хранилища объектов.
var (
	// ErrNotFound — объект отсутствует.
	ErrNotFound = errors.New("объект не найден")
	// ErrForeignHandle — адрес не принадлежит пространству арендатора.
	ErrForeignHandle = errors.New("адрес объекта вне пространства арендатора")
	// ErrSizeMismatch — фактический размер не совпал с заявленным.
	ErrSizeMismatch = errors.New("размер объекта не совпадает с заявленным")
)

// objectExt — расширение зашифрованных объектов.
const objectExt = ".enc"

// Store — контракт хранилища объектов.
type Store interface {
	// Put записывает ровно size байт из r по адресу handle.
	Put(ctx context.Context, tenantID, handle string, r io.Reader, size int64) (*PutResult, error)
	// Open открывает объект для чтения. Вызывающий обязан закрыть reader.
	Open(ctx context.Context, tenantID, handle string) (io.ReadCloser, error)
	// Delete удаляет объект. Отсутствие объекта ошибкой не считается.
	Delete(ctx context.Context, tenantID, handle string) error
	// Walk обходит все объекты всех арендаторов.
	Walk(ctx context.Context, fn func(tenantID, handle string) error) error
}

// PutResult — результат записи объекта.
type PutResult struct {
	// Handle — адрес объекта
	Handle string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 шифротекста
	Checksum string
}

// FileStore — объекты в файловой системе.
type FileStore struct {
	dataDir string
}

var _ Store = (*FileStore)(nil)

// New создаёт FileStore. Создаёт корневой каталог при отсутствии.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

// DataDir возвращает путь к директории данных.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}

// Put записывает объект с подсчётом SHA-256 на лету.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (fs *FileStore) Put(ctx context.Context, tenantID, handle string, r io.Reader, size int64) (*PutResult, error) {
	fullPath, err := fs.resolve(tenantID, handle)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return nil, fmt.Errorf("ошибка создания каталога арендатора: %w", err)
	}

	tmpPath := fullPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	hasher := sha256.New()
	tee := io.TeeReader(io.LimitReader(&ctxReader{ctx: ctx, r: r}, size+1), hasher)

	written, err := io.Copy(f, tee)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}
	if written != size {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: заявлено %d, получено %d", ErrSizeMismatch, size, written)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &PutResult{
		Handle:   handle,
		Size:     written,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает объект для чтения.
func (fs *FileStore) Open(_ context.Context, tenantID, handle string) (io.ReadCloser, error) {
	fullPath, err := fs.resolve(tenantID, handle)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, handle)
		}
		return nil, fmt.Errorf("ошибка открытия объекта %s: %w", handle, err)
	}
	return f, nil
}

// Delete удаляет объект. Возвращает nil, если объект уже не существует.
func (fs *FileStore) Delete(_ context.Context, tenantID, handle string) error {
	fullPath, err := fs.resolve(tenantID, handle)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления объекта %s: %w", handle, err)
	}
	return nil
}

// Walk обходит каталоги арендаторов. Временные файлы пропускаются.
func (fs *FileStore) Walk(ctx context.Context, fn func(tenantID, handle string) error) error {
	tenants, err := os.ReadDir(fs.dataDir)
	if err != nil {
		return fmt.Errorf("ошибка чтения директории данных: %w", err)
	}

	for _, td := range tenants {
		if !td.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(fs.dataDir, td.Name()))
		if err != nil {
			return fmt.Errorf("ошибка чтения каталога арендатора %s: %w", td.Name(), err)
		}
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if e.IsDir() || !strings.HasSuffix(e.Name(), objectExt) {
				continue
			}
			if err := fn(td.Name(), td.Name()+"/"+e.Name()); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolve проверяет принадлежность адреса арендатору и возвращает путь на диске.
func (fs *FileStore) resolve(tenantID, handle string) (string, error) {
	if !authz.HandleBelongs(tenantID, handle) || !strings.HasSuffix(handle, objectExt) {
		return "", fmt.Errorf("%w: %q", ErrForeignHandle, handle)
	}
	return filepath.Join(fs.dataDir, filepath.FromSlash(handle)), nil
}

// ctxReader прерывает чтение при отмене контекста.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
