package prof

import (
	"context"
	"testing"
)

func TestStart_Disabled(t *testing.T) {
	stop, err := Start(context.Background(), Options{Enabled: false})
	if err != nil {
		t.Fatalf("disabled Start: %v", err)
	}
	// stop is a no-op
	stop()
	stop()
}

func TestStart_EnabledWithoutAddress(t *testing.T) {
	stop, err := Start(context.Background(), Options{Enabled: true})
	if err == nil {
		t.Fatal("expected error for missing server address")
	}
	if stop == nil {
		t.Fatal("stop func must be non-nil even on error")
	}
	stop()
}
