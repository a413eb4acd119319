package memory

import (
	"context"
	"strings"
	"testing"
)

// letterEmbedder maps text onto counts of a, b and c.
type letterEmbedder struct{}

func (letterEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{
		float32(strings.Count(text, "a")),
		float32(strings.Count(text, "b")),
		float32(strings.Count(text, "c")) + 0.01,
	}, nil
}

func TestInMemoryStoreSearch(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	if err := s.CreateCollection(ctx, "c", 2); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateCollection(ctx, "c", 2); err != nil {
		t.Fatalf("re-create with same size: %v", err)
	}
	if err := s.CreateCollection(ctx, "c", 3); err == nil {
		t.Fatalf("expected size conflict")
	}
	err := s.Upsert(ctx, "c", []Point{
		{ID: "x", Vector: []float32{1, 0}},
		{ID: "y", Vector: []float32{0, 1}},
		{ID: "z", Vector: []float32{1, 1}},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Upsert(ctx, "c", []Point{{ID: "bad", Vector: []float32{1}}}); err == nil {
		t.Fatalf("expected dimension error")
	}

	res, err := s.Search(ctx, "c", []float32{1, 0.1}, 2, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 2 || res[0].ID != "x" || res[1].ID != "z" {
		t.Fatalf("unexpected ranking %+v", res)
	}
	res, _ = s.Search(ctx, "c", []float32{1, 0}, 10, 0.99)
	if len(res) != 1 || res[0].ID != "x" {
		t.Fatalf("threshold not applied: %+v", res)
	}
	if _, err := s.Search(ctx, "missing", []float32{1, 0}, 1, 0); err == nil {
		t.Fatalf("expected missing collection error")
	}
}

func TestIndexNearest(t *testing.T) {
	ctx := context.Background()
	ix := NewIndex(NewInMemoryStore(), letterEmbedder{}, "exemplars")
	if err := ix.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := ix.Store(ctx, "aaaa", map[string]any{"tool": "Count"}); err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := ix.Store(ctx, "bbbb", map[string]any{"tool": "FindAll"}); err != nil {
		t.Fatalf("store: %v", err)
	}

	hit, ok, err := ix.Nearest(ctx, "aaa", 0.9)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if hit.Point.Payload["tool"] != "Count" || hit.Point.Payload[PayloadText] != "aaaa" {
		t.Fatalf("unexpected payload %+v", hit.Point.Payload)
	}
	if _, ok, _ := ix.Nearest(ctx, "ccc", 0.9); ok {
		t.Fatalf("expected no hit above threshold")
	}
}
