package model

import (
	"fmt"
	"time"
)

// FileRecord — метаданные одного зашифрованного объекта.
// Хранится в таблице file_records.
type FileRecord struct {
	// ID — UUID записи
	ID string
	// TenantID — владелец (неизменяем после создания)
	TenantID string
	// SizeBytes — размер шифротекста в байтах (неизменяем после создания)
	SizeBytes int64
	// State — состояние жизненного цикла
	State FileState
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// DeletedAt — время мягкого удаления (только в состоянии soft_deleted)
	DeletedAt *time.Time
	// LastAccessedAt — время последнего чтения
	LastAccessedAt *time.Time
	// StorageHandle — адрес объекта в хранилище ({tenant_id}/{id}.enc)
	StorageHandle string
	// Metadata — непрозрачные зашифрованные метаданные клиента
	Metadata []byte
	// Checksum — заявленная клиентом SHA-256 шифротекста, сверенная при записи
	Checksum string
}

// StorageHandleFor формирует адрес объекта в пространстве арендатора.
func StorageHandleFor(tenantID, recordID string) string {
	return fmt.Sprintf("%s/%s.enc", tenantID, recordID)
}
