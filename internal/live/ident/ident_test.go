package ident

import "testing"

func TestOptimisticIDsArePrefixed(t *testing.T) {
	var g Generator

	id := g.NewOptimisticID()
	if !IsOptimistic(id) {
		t.Errorf("IsOptimistic(%q) = false", id)
	}
	if IsOptimistic(g.NewIdempotencyKey()) {
		t.Error("idempotency key should not look optimistic")
	}
}

func TestGeneratorUniqueness(t *testing.T) {
	var g Generator

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := g.NewIdempotencyKey()
		if seen[id] {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestInjectedSource(t *testing.T) {
	g := Generator{Source: func() string { return "fixed" }}

	if got := g.NewOptimisticID(); got != "opt-fixed" {
		t.Errorf("NewOptimisticID() = %q, want opt-fixed", got)
	}
	if got := g.NewQueueID(); got != "fixed" {
		t.Errorf("NewQueueID() = %q, want fixed", got)
	}
}
