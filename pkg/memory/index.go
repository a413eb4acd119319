// Copyright 2026 © The Kopl Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PayloadText is the payload key holding the embedded text.
const PayloadText = "text"

// Index embeds texts into one collection of a VectorStore.
type Index struct {
	store      VectorStore
	embedder   Embedder
	collection string
}

// NewIndex creates a new Index over collection.
func NewIndex(store VectorStore, embedder Embedder, collection string) *Index {
	return &Index{
		store:      store,
		embedder:   embedder,
		collection: collection,
	}
}

// Collection returns the collection name.
func (ix *Index) Collection() string { return ix.collection }

// Initialize ensures the collection exists, sized from a probe embedding.
func (ix *Index) Initialize(ctx context.Context) error {
	vec, err := ix.embedder.Embed(ctx, "probe")
	if err != nil {
		return fmt.Errorf("failed to get embedding dimension: %w", err)
	}
	if err := ix.store.CreateCollection(ctx, ix.collection, uint64(len(vec))); err != nil {
		return fmt.Errorf("failed to create collection %q: %w", ix.collection, err)
	}
	return nil
}

// Store embeds text and stores it with payload. The text is kept under
// PayloadText.
func (ix *Index) Store(ctx context.Context, text string, payload map[string]any) (string, error) {
	vector, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("failed to embed text: %w", err)
	}

	now := time.Now().Unix()
	fields := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		fields[k] = v
	}
	fields[PayloadText] = text
	fields["timestamp"] = now

	point := Point{
		ID:        uuid.NewString(),
		Vector:    vector,
		Payload:   fields,
		Timestamp: now,
	}
	if err := ix.store.Upsert(ctx, ix.collection, []Point{point}); err != nil {
		return "", fmt.Errorf("failed to store point: %w", err)
	}
	return point.ID, nil
}

// Nearest returns the closest stored point scoring at least threshold.
func (ix *Index) Nearest(ctx context.Context, text string, threshold float32) (SearchResult, bool, error) {
	vector, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return SearchResult{}, false, fmt.Errorf("failed to embed query: %w", err)
	}
	results, err := ix.store.Search(ctx, ix.collection, vector, 1, threshold)
	if err != nil {
		return SearchResult{}, false, fmt.Errorf("failed to search: %w", err)
	}
	if len(results) == 0 {
		return SearchResult{}, false, nil
	}
	return results[0], true, nil
}
