package correlation

import (
	"context"
	"testing"
)

func TestEnsure_MintsWhenAbsent(t *testing.T) {
	ctx, id := Ensure(context.Background())
	if id == "" {
		t.Fatal("expected minted correlation id")
	}
	if From(ctx) != id {
		t.Fatalf("expected context to carry %q, got %q", id, From(ctx))
	}
}

func TestEnsure_PreservesExisting(t *testing.T) {
	ctx := With(context.Background(), "corr-1")
	ctx, id := Ensure(ctx)
	if id != "corr-1" {
		t.Fatalf("expected existing id preserved, got %q", id)
	}
	if From(ctx) != "corr-1" {
		t.Fatalf("expected context id corr-1, got %q", From(ctx))
	}
}

func TestFrom_EmptyWithoutValue(t *testing.T) {
	if got := From(context.Background()); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
