package program

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Audit statuses.
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// AuditEvent records the lifecycle of one interpreted step.
type AuditEvent struct {
	ProgramID  string    `json:"program_id"`
	RunID      string    `json:"run_id,omitempty"`
	Step       int       `json:"step"`
	Function   string    `json:"function"`
	Status     string    `json:"status"`
	Output     any       `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// AuditHook receives audit events as steps run.
type AuditHook func(ctx context.Context, event AuditEvent)

// AuditStore persists audit events.
type AuditStore interface {
	Record(ctx context.Context, event AuditEvent) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
}

// AuditFilter limits audit event queries.
type AuditFilter struct {
	ProgramID string
	RunID     string
	Function  string
	Status    string
	Limit     int
}

func (f AuditFilter) match(ev AuditEvent) bool {
	switch {
	case f.ProgramID != "" && ev.ProgramID != f.ProgramID:
		return false
	case f.RunID != "" && ev.RunID != f.RunID:
		return false
	case f.Function != "" && ev.Function != f.Function:
		return false
	case f.Status != "" && ev.Status != f.Status:
		return false
	}
	return true
}

// MemoryAuditStore keeps audit events in memory.
type MemoryAuditStore struct {
	mu     sync.Mutex
	events []AuditEvent
}

// NewMemoryAuditStore returns an in-memory audit store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

// Record appends an audit event.
func (s *MemoryAuditStore) Record(_ context.Context, event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// List returns filtered audit events in recording order.
func (s *MemoryAuditStore) List(_ context.Context, filter AuditFilter) ([]AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEvent, 0, len(s.events))
	for _, ev := range s.events {
		if !filter.match(ev) {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// HookFor adapts a store into an AuditHook. Store errors are logged and
// never fail the program.
func HookFor(store AuditStore) AuditHook {
	return func(ctx context.Context, event AuditEvent) {
		if err := store.Record(ctx, event); err != nil {
			slog.WarnContext(ctx, "program.audit.error",
				slog.String("program_id", event.ProgramID),
				slog.Int("step", event.Step),
				slog.String("status", event.Status),
				slog.String("error", err.Error()),
			)
		}
	}
}

// encodeAuditOutput marshals the output payload into JSON.
func encodeAuditOutput(output any) ([]byte, error) {
	if output == nil {
		return []byte("null"), nil
	}
	return json.Marshal(output)
}

// decodeAuditOutput parses a stored JSON output payload.
func decodeAuditOutput(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeAuditTime(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	return value.UTC()
}
