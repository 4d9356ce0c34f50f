package rules

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// TestRuleStoreInterface verifies at compile time that the stores implement RuleStore
func TestRuleStoreInterface(t *testing.T) {
	var _ RuleStore = (*InMemoryRuleStore)(nil)
	var _ RuleStore = (*PostgresRuleStore)(nil)
}

// TestInMemoryRuleStoreAddGet verifies Add stamps timestamps and Get returns the rule
func TestInMemoryRuleStoreAddGet(t *testing.T) {
	store := NewInMemoryRuleStore()
	before := time.Now()

	rule := &Rule{ID: "weather", Name: "Weather", Expression: `true`, Outcome: "weather", Active: true}
	if err := store.Add(rule); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	got, err := store.Get("weather")
	if err != nil {
		t.Fatalf("Get() failed after Add(): %v", err)
	}
	if got.Name != "Weather" {
		t.Errorf("Name = %s, want Weather", got.Name)
	}
	if got.CreatedAt.Before(before) || !got.CreatedAt.Equal(got.UpdatedAt) {
		t.Errorf("timestamps not stamped: created=%v updated=%v", got.CreatedAt, got.UpdatedAt)
	}

	if err := store.Add(&Rule{ID: "weather"}); err == nil {
		t.Error("Add() should reject a duplicate ID")
	}
}

// TestInMemoryRuleStoreNotFound verifies missing IDs yield ErrRuleNotFound
func TestInMemoryRuleStoreNotFound(t *testing.T) {
	store := NewInMemoryRuleStore()

	if _, err := store.Get("missing"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Get() error = %v, want ErrRuleNotFound", err)
	}
	if err := store.Update(&Rule{ID: "missing"}); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Update() error = %v, want ErrRuleNotFound", err)
	}
	if err := store.Delete("missing"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Delete() error = %v, want ErrRuleNotFound", err)
	}
}

// TestInMemoryRuleStoreUpdatePreservesCreatedAt verifies Update keeps the original CreatedAt
func TestInMemoryRuleStoreUpdatePreservesCreatedAt(t *testing.T) {
	store := NewInMemoryRuleStore(&Rule{ID: "r", Name: "R", Expression: `true`, Outcome: "weather", Active: true})
	original, _ := store.Get("r")
	createdAt := original.CreatedAt

	time.Sleep(2 * time.Millisecond)
	if err := store.Update(&Rule{ID: "r", Name: "R2", Expression: `false`, Outcome: "weather", Active: true}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	got, _ := store.Get("r")
	if !got.CreatedAt.Equal(createdAt) {
		t.Errorf("CreatedAt changed from %v to %v", createdAt, got.CreatedAt)
	}
	if !got.UpdatedAt.After(createdAt) {
		t.Error("UpdatedAt should advance on Update()")
	}
}

// TestInMemoryRuleStoreListActive verifies inactive rules are filtered and order follows priority
func TestInMemoryRuleStoreListActive(t *testing.T) {
	store := NewInMemoryRuleStore(
		&Rule{ID: "late", Priority: 50, Active: true},
		&Rule{ID: "off", Priority: 1, Active: false},
		&Rule{ID: "early", Priority: 10, Active: true},
		&Rule{ID: "early-b", Priority: 10, Active: true},
	)

	active, err := store.ListActive()
	if err != nil {
		t.Fatalf("ListActive() failed: %v", err)
	}

	want := []string{"early", "early-b", "late"}
	if len(active) != len(want) {
		t.Fatalf("got %d active rules, want %d", len(active), len(want))
	}
	for i, id := range want {
		if active[i].ID != id {
			t.Errorf("active[%d] = %s, want %s", i, active[i].ID, id)
		}
	}
}

// TestInMemoryRuleStoreConcurrentAdd verifies concurrent adds are all retained
func TestInMemoryRuleStoreConcurrentAdd(t *testing.T) {
	store := NewInMemoryRuleStore()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.Add(&Rule{ID: fmt.Sprintf("rule-%d", i), Active: true})
		}(i)
	}
	wg.Wait()

	active, _ := store.ListActive()
	if len(active) != 100 {
		t.Errorf("got %d rules, want 100", len(active))
	}
}

// TestInMemoryRulesCache verifies set/get/invalidate and TTL expiry
func TestInMemoryRulesCache(t *testing.T) {
	cache := NewInMemoryRulesCache(CacheConfig{TTL: 20 * time.Millisecond})

	if cache.Get() != nil || cache.IsValid() {
		t.Fatal("new cache should be empty")
	}

	cache.Set([]*Rule{{ID: "a"}})
	if got := cache.Get(); len(got) != 1 || !cache.IsValid() {
		t.Fatalf("Get() = %v after Set()", got)
	}

	time.Sleep(30 * time.Millisecond)
	if cache.Get() != nil {
		t.Error("entry should expire after TTL")
	}

	cache.Set([]*Rule{{ID: "a"}})
	cache.Invalidate()
	if cache.IsValid() {
		t.Error("Invalidate() should clear the cache")
	}
}
