package probe

import (
	"context"
	"testing"
)

func TestStatic(t *testing.T) {
	if err := Static(true, "").Check(context.Background()); err != nil {
		t.Fatalf("ok probe returned %v", err)
	}
	err := Static(false, "db down").Check(context.Background())
	if err == nil || err.Error() != "db down" {
		t.Fatalf("failing probe returned %v", err)
	}
	if err := Static(false, "").Check(context.Background()); err == nil {
		t.Fatal("failing probe with empty reason should still fail")
	}
}

func TestMulti(t *testing.T) {
	ctx := context.Background()

	if err := Multi(Static(true, ""), nil, Static(true, "")).Check(ctx); err != nil {
		t.Fatalf("all-ok multi returned %v", err)
	}
	err := Multi(Static(true, ""), Static(false, "first"), Static(false, "second")).Check(ctx)
	if err == nil || err.Error() != "first" {
		t.Fatalf("multi should return first failure, got %v", err)
	}
}

func TestShutdownGate(t *testing.T) {
	var g ShutdownGate
	ctx := context.Background()

	if err := g.Probe().Check(ctx); err != nil {
		t.Fatalf("fresh gate should pass: %v", err)
	}

	g.Set("sigterm received")
	err := g.Probe().Check(ctx)
	if err == nil || err.Error() != "sigterm received" {
		t.Fatalf("draining gate returned %v", err)
	}

	g.Clear()
	if err := g.Probe().Check(ctx); err != nil {
		t.Fatalf("cleared gate should pass: %v", err)
	}
}
