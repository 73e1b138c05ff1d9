package service

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStatsCache_GetSetInvalidate(t *testing.T) {
	c := NewStatsCache(2, time.Minute)

	if _, ok := c.Get("alice"); ok {
		t.Fatal("пустой кэш вернул значение")
	}
	c.SetIfCurrent("alice", c.Generation("alice"), StorageStats{TenantID: "alice", Used: 10})
	got, ok := c.Get("alice")
	if !ok || got.Used != 10 {
		t.Fatalf("Get = %+v, %v", got, ok)
	}

	c.Invalidate("alice")
	if _, ok := c.Get("alice"); ok {
		t.Error("значение осталось после Invalidate")
	}
}

func TestStatsCache_StaleGenerationRejected(t *testing.T) {
	c := NewStatsCache(4, time.Minute)

	gen := c.Generation("alice")
	// Мутация между началом расчёта и сохранением
	c.Invalidate("alice")
	if c.SetIfCurrent("alice", gen, StorageStats{TenantID: "alice", Used: 1}) {
		t.Fatal("сохранена статистика устаревшего поколения")
	}
	if _, ok := c.Get("alice"); ok {
		t.Fatal("устаревшая статистика попала в кэш")
	}

	// Поколение другого арендатора не влияет
	c.Invalidate("bob")
	gen = c.Generation("alice")
	if !c.SetIfCurrent("alice", gen, StorageStats{TenantID: "alice", Used: 2}) {
		t.Fatal("текущее поколение отклонено")
	}
	if got, ok := c.Get("alice"); !ok || got.Used != 2 {
		t.Errorf("Get = %+v, %v", got, ok)
	}
}

func TestStatsCache_Eviction(t *testing.T) {
	c := NewStatsCache(2, time.Minute)
	for _, id := range []string{"a", "b", "c"} {
		c.SetIfCurrent(id, c.Generation(id), StorageStats{TenantID: id})
	}

	if _, ok := c.Get("a"); ok {
		t.Error("старейшая запись не вытеснена")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("новая запись отсутствует")
	}
}

func TestStatsCache_TTL(t *testing.T) {
	c := NewStatsCache(4, 20*time.Millisecond)
	c.SetIfCurrent("alice", 0, StorageStats{TenantID: "alice"})
	time.Sleep(60 * time.Millisecond)
	if _, ok := c.Get("alice"); ok {
		t.Error("запись не истекла по TTL")
	}
}

func TestStatsCache_Disabled(t *testing.T) {
	for _, c := range []*StatsCache{NewStatsCache(0, time.Minute), nil} {
		if c.SetIfCurrent("alice", c.Generation("alice"), StorageStats{}) {
			t.Error("отключённый кэш принял значение")
		}
		if _, ok := c.Get("alice"); ok {
			t.Error("отключённый кэш вернул значение")
		}
		c.Invalidate("alice")
	}
}

func TestOrphanJournal(t *testing.T) {
	j := NewOrphanJournal(2)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if !j.Record(Orphan{Handle: "t/b.enc", RecordedAt: base.Add(time.Minute)}) {
		t.Fatal("первая запись отклонена")
	}
	j.Record(Orphan{Handle: "t/a.enc", RecordedAt: base})
	dropped := testutil.ToFloat64(orphanDroppedTotal)
	if j.Record(Orphan{Handle: "t/c.enc", RecordedAt: base}) {
		t.Error("переполненный журнал принял новую запись")
	}
	if got := testutil.ToFloat64(orphanDroppedTotal) - dropped; got != 1 {
		t.Errorf("cv_orphan_journal_dropped_total вырос на %v, ожидалось 1", got)
	}

	// Повторная запись увеличивает счётчик попыток
	if !j.Record(Orphan{Handle: "t/b.enc", LastError: "снова"}) {
		t.Error("повторная запись отклонена")
	}

	list := j.List()
	if len(list) != 2 || list[0].Handle != "t/a.enc" {
		t.Fatalf("List = %+v", list)
	}
	if list[1].Attempts != 2 || list[1].LastError != "снова" {
		t.Errorf("повтор = %+v", list[1])
	}

	j.Resolve("t/a.enc")
	if j.Len() != 1 {
		t.Errorf("Len = %d, ожидалось 1", j.Len())
	}
}
