package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/cryptvault/internal/api/middleware"
	"github.com/bigkaa/cryptvault/internal/domain/authz"
	"github.com/bigkaa/cryptvault/internal/ratelimit"
	"github.com/bigkaa/cryptvault/internal/repository"
	"github.com/bigkaa/cryptvault/internal/repository/memstore"
	"github.com/bigkaa/cryptvault/internal/service"
	"github.com/bigkaa/cryptvault/internal/storage/objectstore"
)

// testTenantHeader — заголовок, которым тесты выбирают принципала вместо JWT.
const testTenantHeader = "X-Test-Tenant"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestRouter собирает маршруты API поверх хранилища в памяти.
// Квота нового арендатора — 1000 байт, максимальный файл — 600 байт.
func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	fs, err := objectstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("Ошибка создания FileStore: %v", err)
	}
	logger := testLogger()
	lifecycle := service.NewLifecycleService(
		memstore.New(),
		fs,
		authz.NewGuard(logger),
		ratelimit.Unlimited{},
		service.NewStatsCache(16, time.Minute),
		service.NewOrphanJournal(16),
		service.LifecycleConfig{
			DefaultStorageLimit: 1000,
			MaxFileSize:         600,
			BlobDeleteAttempts:  1,
			BlobRetryInitial:    time.Millisecond,
		},
		logger,
	)
	h := NewAPIHandler(lifecycle, 600, logger)
	health := NewHealthHandler(fs.DataDir())

	r := chi.NewRouter()
	r.Get("/health/live", health.HealthLive)
	r.Get("/health/ready", health.HealthReady)
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				if sub := req.Header.Get(testTenantHeader); sub != "" {
					req = req.WithContext(middleware.WithPrincipal(req.Context(), authz.User(sub)))
				}
				next.ServeHTTP(w, req)
			})
		})
		Routes(r, h)
	})
	return r
}

func doRequest(t *testing.T, router http.Handler, tenant, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if tenant != "" {
		req.Header.Set(testTenantHeader, tenant)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// uploadBody строит multipart-форму загрузки.
func uploadBody(t *testing.T, payload []byte, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	part, err := mw.CreateFormFile("file", "blob.enc")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func register(t *testing.T, router http.Handler, tenant string) {
	t.Helper()
	rec := doRequest(t, router, tenant, http.MethodPost, "/api/v1/tenants/me", nil, "")
	if rec.Code != http.StatusCreated && rec.Code != http.StatusOK {
		t.Fatalf("регистрация %s: статус %d: %s", tenant, rec.Code, rec.Body.String())
	}
}

func uploadFile(t *testing.T, router http.Handler, tenant string, payload []byte) fileResponse {
	t.Helper()
	body, ct := uploadBody(t, payload, map[string]string{
		"file_size": strconv.Itoa(len(payload)),
		"metadata":  base64.StdEncoding.EncodeToString([]byte("enc-meta")),
	})
	rec := doRequest(t, router, tenant, http.MethodPost, "/api/v1/files/upload", body, ct)
	if rec.Code != http.StatusCreated {
		t.Fatalf("загрузка: статус %d: %s", rec.Code, rec.Body.String())
	}
	var f fileResponse
	decode(t, rec, &f)
	return f
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("некорректный JSON %q: %v", rec.Body.String(), err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, rec, &body)
	return body.Error.Code
}

func TestRegisterTenant_Idempotent(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, "alice", http.MethodPost, "/api/v1/tenants/me", nil, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("первая регистрация: статус %d, ожидался 201", rec.Code)
	}
	rec = doRequest(t, router, "alice", http.MethodPost, "/api/v1/tenants/me", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("повторная регистрация: статус %d, ожидался 200", rec.Code)
	}

	var tn tenantResponse
	decode(t, rec, &tn)
	if tn.ID != "alice" || tn.StorageLimit != 1000 || !tn.Active {
		t.Errorf("арендатор = %+v", tn)
	}
}

func TestMissingPrincipal(t *testing.T) {
	router := newTestRouter(t)
	rec := doRequest(t, router, "", http.MethodGet, "/api/v1/files", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("статус = %d, ожидался 401", rec.Code)
	}
}

func TestUploadDownloadLifecycle(t *testing.T) {
	router := newTestRouter(t)
	register(t, router, "alice")

	payload := []byte("ciphertext-bytes")
	f := uploadFile(t, router, "alice", payload)
	if f.State != "active" || f.SizeBytes != int64(len(payload)) || string(f.Metadata) != "enc-meta" {
		t.Fatalf("запись = %+v", f)
	}
	if f.Checksum == "" {
		t.Error("контрольная сумма не вычислена")
	}

	rec := doRequest(t, router, "alice", http.MethodGet, "/api/v1/files/"+f.ID+"/download", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("скачивание: статус %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), payload) {
		t.Errorf("тело = %q, ожидалось %q", rec.Body.String(), payload)
	}
	if rec.Header().Get("Content-Length") != strconv.Itoa(len(payload)) {
		t.Errorf("Content-Length = %q", rec.Header().Get("Content-Length"))
	}

	// В корзину
	rec = doRequest(t, router, "alice", http.MethodDelete, "/api/v1/files/"+f.ID, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("мягкое удаление: статус %d", rec.Code)
	}
	var deleted fileResponse
	decode(t, rec, &deleted)
	if deleted.State != "soft_deleted" || deleted.DeletedAt == nil {
		t.Errorf("после удаления = %+v", deleted)
	}

	rec = doRequest(t, router, "alice", http.MethodGet, "/api/v1/files/"+f.ID+"/download", nil, "")
	if rec.Code != http.StatusConflict {
		t.Errorf("скачивание из корзины: статус %d, ожидался 409", rec.Code)
	}

	// Квота не освобождается мягким удалением
	var stats storageStatsResponse
	rec = doRequest(t, router, "alice", http.MethodGet, "/api/v1/tenants/me/storage", nil, "")
	decode(t, rec, &stats)
	if stats.StorageUsed != int64(len(payload)) || stats.FileCount != 0 {
		t.Errorf("статистика после мягкого удаления = %+v", stats)
	}

	rec = doRequest(t, router, "alice", http.MethodDelete, "/api/v1/files/"+f.ID+"/permanent", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("окончательное удаление: статус %d: %s", rec.Code, rec.Body.String())
	}
	var purged purgeResponse
	decode(t, rec, &purged)
	if purged.FreedBytes != int64(len(payload)) || !purged.BlobDeleted {
		t.Errorf("результат удаления = %+v", purged)
	}

	rec = doRequest(t, router, "alice", http.MethodGet, "/api/v1/files/"+f.ID, nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("после удаления: статус %d, ожидался 404", rec.Code)
	}
	rec = doRequest(t, router, "alice", http.MethodGet, "/api/v1/tenants/me/storage", nil, "")
	decode(t, rec, &stats)
	if stats.StorageUsed != 0 {
		t.Errorf("занято после удаления = %d, ожидалось 0", stats.StorageUsed)
	}
}

func TestErrorMapping(t *testing.T) {
	router := newTestRouter(t)
	register(t, router, "alice")
	register(t, router, "bob")
	f := uploadFile(t, router, "alice", []byte("0123456789"))

	tests := []struct {
		name     string
		tenant   string
		method   string
		path     string
		wantCode int
		wantErr  string
	}{
		{"восстановление активного", "alice", http.MethodPost, "/api/v1/files/" + f.ID + "/restore", http.StatusConflict, "NOT_DELETED"},
		{"окончательное удаление активного", "alice", http.MethodDelete, "/api/v1/files/" + f.ID + "/permanent", http.StatusConflict, "STATE_MISMATCH"},
		{"чужой файл", "bob", http.MethodGet, "/api/v1/files/" + f.ID, http.StatusForbidden, "FORBIDDEN"},
		{"чужое удаление", "bob", http.MethodDelete, "/api/v1/files/" + f.ID, http.StatusForbidden, "FORBIDDEN"},
		{"некорректный id", "alice", http.MethodGet, "/api/v1/files/not-a-uuid", http.StatusNotFound, "NOT_FOUND"},
		{"незарегистрированный арендатор", "carol", http.MethodGet, "/api/v1/tenants/me/storage", http.StatusNotFound, "NOT_FOUND"},
		{"limit вне диапазона", "alice", http.MethodGet, "/api/v1/files?limit=101", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"limit не число", "alice", http.MethodGet, "/api/v1/files?limit=abc", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"state purged", "alice", http.MethodGet, "/api/v1/files?state=purged", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"мусорный cursor", "alice", http.MethodGet, "/api/v1/files?cursor=@@@", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"неизвестный order", "alice", http.MethodGet, "/api/v1/files?order=random", http.StatusBadRequest, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, tt.tenant, tt.method, tt.path, nil, "")
			if rec.Code != tt.wantCode {
				t.Fatalf("статус = %d, ожидался %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if code := errorCode(t, rec); code != tt.wantErr {
				t.Errorf("код ошибки = %s, ожидался %s", code, tt.wantErr)
			}
		})
	}
}

func TestUpload_QuotaAndSize(t *testing.T) {
	router := newTestRouter(t)
	register(t, router, "alice")

	uploadFile(t, router, "alice", bytes.Repeat([]byte("a"), 500))

	// 500 + 550 > 1000
	body, ct := uploadBody(t, bytes.Repeat([]byte("b"), 550), nil)
	rec := doRequest(t, router, "alice", http.MethodPost, "/api/v1/files/upload", body, ct)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("превышение квоты: статус %d, ожидался 402", rec.Code)
	}
	if code := errorCode(t, rec); code != "STORAGE_QUOTA_EXCEEDED" {
		t.Errorf("код = %s", code)
	}

	// Заявленный размер больше максимального
	body, ct = uploadBody(t, []byte("x"), map[string]string{"file_size": "601"})
	rec = doRequest(t, router, "alice", http.MethodPost, "/api/v1/files/upload", body, ct)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("большой файл: статус %d, ожидался 413", rec.Code)
	}

	// Заявленный размер не совпадает с фактическим: загрузка отменяется
	body, ct = uploadBody(t, []byte("short"), map[string]string{"file_size": "50"})
	rec = doRequest(t, router, "alice", http.MethodPost, "/api/v1/files/upload", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("несовпадение размера: статус %d, ожидался 400", rec.Code)
	}

	var stats storageStatsResponse
	rec = doRequest(t, router, "alice", http.MethodGet, "/api/v1/tenants/me/storage", nil, "")
	decode(t, rec, &stats)
	if stats.StorageUsed != 500 || stats.FileCount != 1 {
		t.Errorf("квота после отказов = %+v, ожидалось 500 байт и 1 файл", stats)
	}
}

func TestUpload_ChecksumMismatch(t *testing.T) {
	router := newTestRouter(t)
	register(t, router, "alice")

	body, ct := uploadBody(t, []byte("payload"), map[string]string{
		"checksum": strings.Repeat("0", 64),
	})
	rec := doRequest(t, router, "alice", http.MethodPost, "/api/v1/files/upload", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("статус %d, ожидался 400", rec.Code)
	}

	rec = doRequest(t, router, "alice", http.MethodGet, "/api/v1/files", nil, "")
	var list fileListResponse
	decode(t, rec, &list)
	if len(list.Items) != 0 {
		t.Errorf("после отменённой загрузки файлов: %d", len(list.Items))
	}
}

func TestUpload_BinaryMetadataPreserved(t *testing.T) {
	router := newTestRouter(t)
	register(t, router, "alice")

	// IV и тег шифрования клиента: не UTF-8
	meta := []byte("\xff\xfe\x00iv\x80")
	body, ct := uploadBody(t, []byte("payload"), map[string]string{
		"metadata": base64.StdEncoding.EncodeToString(meta),
	})
	rec := doRequest(t, router, "alice", http.MethodPost, "/api/v1/files/upload", body, ct)
	if rec.Code != http.StatusCreated {
		t.Fatalf("загрузка: статус %d: %s", rec.Code, rec.Body.String())
	}
	var created fileResponse
	decode(t, rec, &created)
	if !bytes.Equal(created.Metadata, meta) {
		t.Errorf("metadata при загрузке = %q, ожидалось %q", created.Metadata, meta)
	}

	rec = doRequest(t, router, "alice", http.MethodGet, "/api/v1/files/"+created.ID, nil, "")
	var got fileResponse
	decode(t, rec, &got)
	if !bytes.Equal(got.Metadata, meta) {
		t.Errorf("metadata при чтении = %q, ожидалось %q", got.Metadata, meta)
	}

	// metadata не в base64
	body, ct = uploadBody(t, []byte("payload"), map[string]string{"metadata": "не base64!"})
	rec = doRequest(t, router, "alice", http.MethodPost, "/api/v1/files/upload", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("статус %d, ожидался 400", rec.Code)
	}
}

func TestUpload_MissingFilePart(t *testing.T) {
	router := newTestRouter(t)
	register(t, router, "alice")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("file_size", "10")
	_ = mw.Close()

	rec := doRequest(t, router, "alice", http.MethodPost, "/api/v1/files/upload", &buf, mw.FormDataContentType())
	if rec.Code != http.StatusBadRequest {
		t.Errorf("статус %d, ожидался 400", rec.Code)
	}
}

func TestListFiles_Pagination(t *testing.T) {
	router := newTestRouter(t)
	register(t, router, "alice")

	ids := make(map[string]bool)
	for range 5 {
		ids[uploadFile(t, router, "alice", []byte("data")).ID] = true
	}

	seen := make(map[string]bool)
	cursor := ""
	pages := 0
	for {
		path := "/api/v1/files?limit=2"
		if cursor != "" {
			path += "&cursor=" + cursor
		}
		rec := doRequest(t, router, "alice", http.MethodGet, path, nil, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("страница %d: статус %d: %s", pages, rec.Code, rec.Body.String())
		}
		var list fileListResponse
		decode(t, rec, &list)
		for _, f := range list.Items {
			if seen[f.ID] {
				t.Fatalf("файл %s повторился", f.ID)
			}
			seen[f.ID] = true
		}
		pages++
		if list.NextCursor == "" {
			break
		}
		cursor = list.NextCursor
	}

	if pages != 3 {
		t.Errorf("страниц = %d, ожидалось 3", pages)
	}
	if len(seen) != len(ids) {
		t.Errorf("получено %d файлов, ожидалось %d", len(seen), len(ids))
	}
}

func TestListFiles_Order(t *testing.T) {
	router := newTestRouter(t)
	register(t, router, "alice")
	for range 4 {
		uploadFile(t, router, "alice", []byte("data"))
	}

	list := func(query string) []string {
		t.Helper()
		rec := doRequest(t, router, "alice", http.MethodGet, "/api/v1/files"+query, nil, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: статус %d: %s", query, rec.Code, rec.Body.String())
		}
		var page fileListResponse
		decode(t, rec, &page)
		ids := make([]string, 0, len(page.Items))
		for _, f := range page.Items {
			ids = append(ids, f.ID)
		}
		return ids
	}

	asc := list("?order=asc")
	desc := list("?order=desc")
	def := list("")
	if len(asc) != 4 || len(desc) != 4 {
		t.Fatalf("asc=%d desc=%d, ожидалось по 4", len(asc), len(desc))
	}
	for i := range asc {
		if asc[i] != desc[len(desc)-1-i] {
			t.Fatalf("desc не обратен asc: %v / %v", asc, desc)
		}
		if def[i] != desc[i] {
			t.Fatalf("по умолчанию ожидался desc: %v / %v", def, desc)
		}
	}
}

func TestListFiles_StateFilter(t *testing.T) {
	router := newTestRouter(t)
	register(t, router, "alice")

	kept := uploadFile(t, router, "alice", []byte("keep"))
	trashed := uploadFile(t, router, "alice", []byte("trash"))
	doRequest(t, router, "alice", http.MethodDelete, "/api/v1/files/"+trashed.ID, nil, "")

	rec := doRequest(t, router, "alice", http.MethodGet, "/api/v1/files?state=soft_deleted", nil, "")
	var list fileListResponse
	decode(t, rec, &list)
	if len(list.Items) != 1 || list.Items[0].ID != trashed.ID {
		t.Errorf("корзина = %+v", list.Items)
	}

	rec = doRequest(t, router, "alice", http.MethodGet, "/api/v1/files?state=active", nil, "")
	decode(t, rec, &list)
	if len(list.Items) != 1 || list.Items[0].ID != kept.ID {
		t.Errorf("активные = %+v", list.Items)
	}

	// Восстановление возвращает файл в активные
	rec = doRequest(t, router, "alice", http.MethodPost, "/api/v1/files/"+trashed.ID+"/restore", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("восстановление: статус %d", rec.Code)
	}
	rec = doRequest(t, router, "alice", http.MethodGet, "/api/v1/files?state=active", nil, "")
	decode(t, rec, &list)
	if len(list.Items) != 2 {
		t.Errorf("активных после восстановления = %d, ожидалось 2", len(list.Items))
	}
}

func TestSetStorageLimit(t *testing.T) {
	router := newTestRouter(t)
	register(t, router, "alice")
	uploadFile(t, router, "alice", bytes.Repeat([]byte("a"), 300))

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"ниже занятого", `{"storage_limit": 200}`, http.StatusConflict},
		{"ноль", `{"storage_limit": 0}`, http.StatusBadRequest},
		{"без поля", `{}`, http.StatusBadRequest},
		{"мусор", `not json`, http.StatusBadRequest},
		{"увеличение", `{"storage_limit": 5000}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, "alice", http.MethodPatch, "/api/v1/tenants/me/storage-limit",
				strings.NewReader(tt.body), "application/json")
			if rec.Code != tt.wantCode {
				t.Errorf("статус = %d, ожидался %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
		})
	}

	rec := doRequest(t, router, "alice", http.MethodGet, "/api/v1/tenants/me", nil, "")
	var tn tenantResponse
	decode(t, rec, &tn)
	if tn.StorageLimit != 5000 || tn.StorageUsed != 300 {
		t.Errorf("арендатор = %+v", tn)
	}
}

func TestDeactivateTenant(t *testing.T) {
	router := newTestRouter(t)
	register(t, router, "alice")
	f := uploadFile(t, router, "alice", []byte("data"))

	rec := doRequest(t, router, "alice", http.MethodPost, "/api/v1/tenants/me/deactivate", nil, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("деактивация: статус %d", rec.Code)
	}

	rec = doRequest(t, router, "alice", http.MethodGet, "/api/v1/files/"+f.ID, nil, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("чтение после деактивации: статус %d, ожидался 403", rec.Code)
	}
	if code := errorCode(t, rec); code != "TENANT_INACTIVE" {
		t.Errorf("код = %s, ожидался TENANT_INACTIVE", code)
	}
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, "", http.MethodGet, "/health/live", nil, "")
	if rec.Code != http.StatusOK {
		t.Errorf("live: статус %d", rec.Code)
	}

	rec = doRequest(t, router, "", http.MethodGet, "/health/ready", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ready: статус %d: %s", rec.Code, rec.Body.String())
	}
	var resp healthReadyResponse
	decode(t, rec, &resp)
	if resp.Status != statusOK || resp.Checks["filesystem"].Status != statusOK {
		t.Errorf("ready = %+v", resp)
	}
}

// stubChecker — проверка с фиксированным результатом.
type stubChecker struct {
	name, status string
}

func (s stubChecker) Name() string                 { return s.name }
func (s stubChecker) CheckReady() (string, string) { return s.status, "" }

func TestHealthReady_Statuses(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []ReadinessChecker
		wantStatus string
		wantCode   int
	}{
		{"все ok", []ReadinessChecker{stubChecker{"postgresql", statusOK}, stubChecker{"jwks", statusOK}}, statusOK, http.StatusOK},
		{"jwks degraded", []ReadinessChecker{stubChecker{"postgresql", statusOK}, stubChecker{"jwks", statusDegraded}}, statusDegraded, http.StatusOK},
		{"postgres fail", []ReadinessChecker{stubChecker{"postgresql", statusFail}, stubChecker{"jwks", statusDegraded}}, statusFail, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler("", tt.checkers...)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("статус HTTP = %d, ожидался %d", rec.Code, tt.wantCode)
			}
			var resp healthReadyResponse
			decode(t, rec, &resp)
			if resp.Status != tt.wantStatus {
				t.Errorf("статус = %s, ожидался %s", resp.Status, tt.wantStatus)
			}
			if len(resp.Checks) != len(tt.checkers)+1 {
				t.Errorf("проверок = %d", len(resp.Checks))
			}
		})
	}
}

func TestCursorRoundTrip(t *testing.T) {
	if c, err := decodeCursor(""); err != nil || c != nil {
		t.Fatalf("пустой cursor: %v, %v", c, err)
	}
	if s := encodeCursor(nil); s != "" {
		t.Errorf("nil cursor = %q, ожидалась пустая строка", s)
	}

	want := &repository.Cursor{
		At: time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC),
		ID: "9b2f4c1e-8a51-4f0e-9a47-7c7a3c1f2d10",
	}
	got, err := decodeCursor(encodeCursor(want))
	if err != nil {
		t.Fatalf("decodeCursor: %v", err)
	}
	if !got.At.Equal(want.At) || got.ID != want.ID {
		t.Errorf("cursor = %+v, ожидался %+v", got, want)
	}

	encodeRaw := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }
	bad := []string{
		"@@@",
		encodeRaw("без-разделителя"),
		encodeRaw("2026-01-01T00:00:00Z|not-uuid"),
		encodeRaw("yesterday|9b2f4c1e-8a51-4f0e-9a47-7c7a3c1f2d10"),
	}
	for _, s := range bad {
		if _, err := decodeCursor(s); err == nil {
			t.Errorf("cursor %q принят", s)
		}
	}
}
