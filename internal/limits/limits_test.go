package limits

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/craddockd/msgwall/internal/log"
)

type stubSSM struct {
	value string
	err   error

	gotName       string
	gotDecryption bool
}

func (s *stubSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	if in.Name != nil {
		s.gotName = *in.Name
	}
	if in.WithDecryption != nil {
		s.gotDecryption = *in.WithDecryption
	}
	if s.err != nil {
		return nil, s.err
	}
	return &ssm.GetParameterOutput{
		Parameter: &ssmtypes.Parameter{Value: aws.String(s.value)},
	}, nil
}

func newTestResolver(t *testing.T, client GetParameterAPI) *Resolver {
	t.Helper()
	r, err := NewResolver(context.Background(), ResolverOptions{
		Logger: log.Nop(),
		Param:  "/app/msgwall/server/rate-limits",
		Client: client,
	})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r
}

func TestNewResolver_RequiresParam(t *testing.T) {
	_, err := NewResolver(context.Background(), ResolverOptions{Client: &stubSSM{}})
	if err == nil {
		t.Fatal("expected error for missing Param")
	}
}

func TestFetch_OverridesBoth(t *testing.T) {
	stub := &stubSSM{value: `{"limit": 20, "window_seconds": 30}`}
	r := newTestResolver(t, stub)

	defaults := Params{Limit: 5, Window: time.Minute}
	got, err := r.Fetch(context.Background(), defaults)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.Limit != 20 {
		t.Errorf("Limit = %d, want 20", got.Limit)
	}
	if got.Window != 30*time.Second {
		t.Errorf("Window = %v, want 30s", got.Window)
	}
	if stub.gotName != "/app/msgwall/server/rate-limits" {
		t.Errorf("parameter name = %q", stub.gotName)
	}
	if !stub.gotDecryption {
		t.Error("expected WithDecryption to be set")
	}
}

func TestFetch_PartialOverrideKeepsDefaults(t *testing.T) {
	stub := &stubSSM{value: `{"limit": 12}`}
	r := newTestResolver(t, stub)

	defaults := Params{Limit: 5, Window: time.Minute}
	got, err := r.Fetch(context.Background(), defaults)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.Limit != 12 {
		t.Errorf("Limit = %d, want 12", got.Limit)
	}
	if got.Window != time.Minute {
		t.Errorf("Window = %v, want 1m", got.Window)
	}
}

func TestFetch_ErrorReturnsDefaults(t *testing.T) {
	stub := &stubSSM{err: errors.New("throttled")}
	r := newTestResolver(t, stub)

	defaults := Params{Limit: 5, Window: time.Minute}
	got, err := r.Fetch(context.Background(), defaults)
	if err == nil {
		t.Fatal("expected error")
	}
	if got != defaults {
		t.Errorf("got %+v, want defaults back", got)
	}
}

func TestFetch_BadJSON(t *testing.T) {
	stub := &stubSSM{value: `not json`}
	r := newTestResolver(t, stub)

	if _, err := r.Fetch(context.Background(), Params{Limit: 5, Window: time.Minute}); err == nil {
		t.Fatal("expected parse error")
	}
}
