package memory

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
)

// InMemoryStore is an in-process VectorStore scoring by cosine similarity.
type InMemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

type collection struct {
	size   uint64
	points map[string]Point
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{collections: make(map[string]*collection)}
}

// CreateCollection creates name if missing. Re-creating with another size
// fails.
func (s *InMemoryStore) CreateCollection(_ context.Context, name string, vectorSize uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		if c.size != vectorSize {
			return fmt.Errorf("collection %q exists with vector size %d", name, c.size)
		}
		return nil
	}
	s.collections[name] = &collection{size: vectorSize, points: make(map[string]Point)}
	return nil
}

// Upsert stores points by id, replacing earlier points with the same id.
func (s *InMemoryStore) Upsert(_ context.Context, name string, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("collection %q not found", name)
	}
	for _, p := range points {
		if uint64(len(p.Vector)) != c.size {
			return fmt.Errorf("point %s has %d dimensions, collection %q expects %d", p.ID, len(p.Vector), name, c.size)
		}
		c.points[p.ID] = p
	}
	return nil
}

// Search scores every point in the collection. Ties keep id order.
func (s *InMemoryStore) Search(_ context.Context, name string, vector []float32, limit int, scoreThreshold float32) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("collection %q not found", name)
	}
	var results []SearchResult
	for id, p := range c.points {
		score := cosine(vector, p.Vector)
		if score < scoreThreshold {
			continue
		}
		results = append(results, SearchResult{ID: id, Score: score, Point: p})
	}
	slices.SortFunc(results, func(a, b SearchResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
