// Пакет authz — проверка изоляции арендаторов.
//
// Правило одно для всех операций: принципал может действовать над арендатором
// или записью файла тогда и только тогда, когда его идентификатор совпадает
// с идентификатором владельца. Системный принципал (фоновая очистка)
// распознаётся явно и допускается только к ограниченному набору операций.
package authz

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/cryptvault/internal/domain/model"
)

// ErrUnauthorized — принципал не владеет ресурсом.
var ErrUnauthorized = errors.New("доступ к ресурсу запрещён")

// deniedTotal — количество отказов в доступе по операциям.
var deniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cv_authz_denied_total",
	Help: "Общее количество отказов проверки изоляции",
}, []string{"operation"})

// Operation — операция жизненного цикла, для которой выполняется проверка.
type Operation string

const (
	OpUpload          Operation = "upload"
	OpRead            Operation = "read"
	OpList            Operation = "list"
	OpSoftDelete      Operation = "soft_delete"
	OpRestore         Operation = "restore"
	OpPermanentDelete Operation = "permanent_delete"
	OpAbortUpload     Operation = "abort_upload"
	OpStats           Operation = "stats"
	OpManageTenant    Operation = "manage_tenant"
	OpAudit           Operation = "audit"
)

// systemOperations — операции, разрешённые системному принципалу.
var systemOperations = map[Operation]bool{
	OpPermanentDelete: true,
	OpAbortUpload:     true,
	OpStats:           true,
	OpAudit:           true,
}

// systemID — идентификатор системного принципала в логах.
const systemID = "system:sweeper"

// Principal — аутентифицированный субъект, от имени которого выполняется операция.
type Principal struct {
	id     string
	system bool
}

// User создаёт принципал арендатора по subject из JWT.
func User(id string) Principal {
	return Principal{id: id}
}

// System возвращает системный принципал.
func System() Principal {
	return Principal{id: systemID, system: true}
}

// ID возвращает идентификатор принципала.
func (p Principal) ID() string { return p.id }

// IsSystem сообщает, является ли принципал системным.
func (p Principal) IsSystem() bool { return p.system }

// Guard — stateless-проверка принадлежности ресурса.
type Guard struct {
	logger *slog.Logger
}

// NewGuard создаёт проверку изоляции.
func NewGuard(logger *slog.Logger) *Guard {
	return &Guard{logger: logger.With(slog.String("component", "authz"))}
}

// AuthorizeTenant проверяет право принципала на операцию над арендатором.
func (g *Guard) AuthorizeTenant(p Principal, op Operation, tenantID string) error {
	if p.system {
		if systemOperations[op] {
			return nil
		}
		return g.deny(p, op, tenantID, "", "операция недоступна системному принципалу")
	}
	if p.id == "" || tenantID == "" || p.id != tenantID {
		return g.deny(p, op, tenantID, "", "принципал не владеет арендатором")
	}
	return nil
}

// AuthorizeRecord проверяет право принципала на операцию над записью файла.
// Кроме владельца сверяется и пространство адреса объекта в хранилище.
func (g *Guard) AuthorizeRecord(p Principal, op Operation, rec *model.FileRecord) error {
	if err := g.AuthorizeTenant(p, op, rec.TenantID); err != nil {
		return err
	}
	if !HandleBelongs(rec.TenantID, rec.StorageHandle) {
		return g.deny(p, op, rec.TenantID, rec.ID, "адрес объекта вне пространства владельца")
	}
	return nil
}

// AuthorizeHandle проверяет, что адрес объекта лежит в пространстве арендатора
// и принципал вправе к нему обращаться.
func (g *Guard) AuthorizeHandle(p Principal, op Operation, tenantID, handle string) error {
	if err := g.AuthorizeTenant(p, op, tenantID); err != nil {
		return err
	}
	if !HandleBelongs(tenantID, handle) {
		return g.deny(p, op, tenantID, "", "адрес объекта вне пространства владельца")
	}
	return nil
}

// HandleBelongs проверяет, что handle имеет вид {tenantID}/{name}
// без выхода за пределы каталога арендатора.
func HandleBelongs(tenantID, handle string) bool {
	if tenantID == "" || tenantID == "." || tenantID == ".." || strings.ContainsAny(tenantID, `/\`) {
		return false
	}
	name, ok := strings.CutPrefix(handle, tenantID+"/")
	if !ok || name == "" {
		return false
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return false
	}
	return true
}

// deny фиксирует отказ как событие безопасности.
func (g *Guard) deny(p Principal, op Operation, tenantID, recordID, reason string) error {
	deniedTotal.WithLabelValues(string(op)).Inc()
	g.logger.Warn("Отказ в доступе",
		slog.Bool("security_event", true),
		slog.String("principal", p.id),
		slog.String("operation", string(op)),
		slog.String("tenant_id", tenantID),
		slog.String("record_id", recordID),
		slog.String("reason", reason),
	)
	return ErrUnauthorized
}
