// orphans.go — журнал объектов, оставшихся в хранилище после
// окончательного удаления записи.
//
// Удаление метаданных и освобождение квоты уже зафиксированы к моменту
// удаления объекта, поэтому сбой хранилища не откатывает операцию,
// а фиксируется здесь для повторной попытки фоновой очисткой.
// Журнал живёт в памяти процесса; после рестарта потерянные объекты
// находит сверка хранилища с метаданными (ReconcileObjects).
package service

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// orphanBlobs — текущее число объектов в журнале.
	orphanBlobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cv_orphan_blobs",
		Help: "Количество объектов, ожидающих повторного удаления из хранилища",
	})

	orphanDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cv_orphan_journal_dropped_total",
		Help: "Количество объектов, не попавших в переполненный журнал",
	})
)

// Orphan — объект без записи метаданных.
type Orphan struct {
	TenantID   string
	RecordID   string
	Handle     string
	LastError  string
	Attempts   int
	RecordedAt time.Time
}

// OrphanJournal — потокобезопасный журнал осиротевших объектов.
type OrphanJournal struct {
	mu      sync.Mutex
	entries map[string]*Orphan // ключ — handle
	limit   int
}

// NewOrphanJournal создаёт журнал на не более чем limit записей.
func NewOrphanJournal(limit int) *OrphanJournal {
	return &OrphanJournal{entries: make(map[string]*Orphan), limit: limit}
}

// Record добавляет объект или увеличивает счётчик попыток.
// При переполнении новая запись отбрасывается: её найдёт сверка хранилища.
func (j *OrphanJournal) Record(o Orphan) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if existing, ok := j.entries[o.Handle]; ok {
		existing.Attempts++
		existing.LastError = o.LastError
		return true
	}
	if j.limit > 0 && len(j.entries) >= j.limit {
		orphanDroppedTotal.Inc()
		return false
	}
	if o.Attempts == 0 {
		o.Attempts = 1
	}
	j.entries[o.Handle] = &o
	orphanBlobs.Set(float64(len(j.entries)))
	return true
}

// Resolve удаляет объект из журнала.
func (j *OrphanJournal) Resolve(handle string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.entries, handle)
	orphanBlobs.Set(float64(len(j.entries)))
}

// List возвращает копию журнала в порядке регистрации.
func (j *OrphanJournal) List() []Orphan {
	j.mu.Lock()
	defer j.mu.Unlock()

	result := make([]Orphan, 0, len(j.entries))
	for _, o := range j.entries {
		result = append(result, *o)
	}
	sort.Slice(result, func(a, b int) bool {
		return result[a].RecordedAt.Before(result[b].RecordedAt)
	})
	return result
}

// Len возвращает число записей.
func (j *OrphanJournal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}
