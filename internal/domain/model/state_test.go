package model

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to FileState
		want     bool
	}{
		{StateActive, StateSoftDeleted, true},
		{StateSoftDeleted, StateActive, true},
		{StateSoftDeleted, StatePurged, true},
		{StateActive, StatePurged, false},
		{StateActive, StateActive, false},
		{StatePurged, StateActive, false},
		{StatePurged, StateSoftDeleted, false},
		{FileState("unknown"), StateActive, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, ожидалось %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestValidateTransition_UnknownState(t *testing.T) {
	if err := ValidateTransition("bogus", StateActive); err == nil {
		t.Fatal("ожидалась ошибка для неизвестного состояния")
	}
	if err := ValidateTransition(StateActive, StatePurged); err == nil {
		t.Fatal("ожидалась ошибка для active → purged")
	}
	if err := ValidateTransition(StateSoftDeleted, StatePurged); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
}

func TestParseFileState(t *testing.T) {
	if s, err := ParseFileState("soft_deleted"); err != nil || s != StateSoftDeleted {
		t.Fatalf("ParseFileState(soft_deleted) = %q, %v", s, err)
	}
	if _, err := ParseFileState("purged"); err == nil {
		t.Error("purged не должен приниматься снаружи")
	}
	if _, err := ParseFileState(""); err == nil {
		t.Error("пустое состояние не должно приниматься")
	}
}

func TestTenantAvailableAndPercent(t *testing.T) {
	tn := &Tenant{StorageUsed: 333, StorageLimit: 1000}
	if got := tn.Available(); got != 667 {
		t.Errorf("Available = %d, ожидалось 667", got)
	}
	if got := tn.UsagePercent(); got != 33.3 {
		t.Errorf("UsagePercent = %v, ожидалось 33.3", got)
	}

	full := &Tenant{StorageUsed: 1200, StorageLimit: 1000}
	if got := full.Available(); got != 0 {
		t.Errorf("Available при превышении = %d, ожидалось 0", got)
	}

	zero := &Tenant{}
	if got := zero.UsagePercent(); got != 0 {
		t.Errorf("UsagePercent при нулевом лимите = %v, ожидалось 0", got)
	}
}

func TestStorageHandleFor(t *testing.T) {
	if got := StorageHandleFor("alice", "f1"); got != "alice/f1.enc" {
		t.Errorf("StorageHandleFor = %q", got)
	}
}
