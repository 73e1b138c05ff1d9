// Пакет model — доменные сущности: арендаторы, записи файлов и их жизненный цикл.
package model

import "time"

// Tenant — изолированный владелец файлов со своей квотой.
// Хранится в таблице tenants.
type Tenant struct {
	// ID — идентификатор арендатора (совпадает с subject из JWT)
	ID string
	// StorageUsed — занятый объём в байтах (активные и мягко удалённые файлы)
	StorageUsed int64
	// StorageLimit — квота в байтах
	StorageLimit int64
	// Active — неактивному арендатору запрещены любые операции жизненного цикла
	Active bool
	// CreatedAt — время регистрации
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// Available возвращает свободный объём. Никогда не отрицателен.
func (t *Tenant) Available() int64 {
	if t.StorageUsed >= t.StorageLimit {
		return 0
	}
	return t.StorageLimit - t.StorageUsed
}

// UsagePercent возвращает процент использования квоты, округлённый до сотых.
func (t *Tenant) UsagePercent() float64 {
	if t.StorageLimit <= 0 {
		return 0
	}
	p := float64(t.StorageUsed) / float64(t.StorageLimit) * 100
	return float64(int64(p*100+0.5)) / 100
}
