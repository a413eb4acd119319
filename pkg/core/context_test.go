package core

import (
	"context"
	"strings"
	"testing"
)

func TestEnsureRunID(t *testing.T) {
	ctx, id := EnsureRunID(context.Background())
	if !strings.HasPrefix(id, "run-") {
		t.Fatalf("unexpected run id %q", id)
	}
	got, ok := RunID(ctx)
	if !ok || got != id {
		t.Fatalf("expected %q in context, got %q", id, got)
	}
	_, again := EnsureRunID(ctx)
	if again != id {
		t.Fatalf("expected existing id to be kept, got %q", again)
	}
}

func TestRunIDEmpty(t *testing.T) {
	if _, ok := RunID(WithRunID(context.Background(), "")); ok {
		t.Fatalf("expected empty run id to be absent")
	}
}
