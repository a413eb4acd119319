package program

import (
	"context"
	"database/sql"
	"errors"

	_ "modernc.org/sqlite"
)

// SQLiteAuditStore persists interpreter audit events in SQLite.
type SQLiteAuditStore struct {
	db *sql.DB
}

// NewSQLiteAuditStore creates a SQLite-backed audit store and ensures schema.
func NewSQLiteAuditStore(db *sql.DB) (*SQLiteAuditStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureAuditSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteAuditStore{db: db}, nil
}

// Record stores a single audit event.
func (s *SQLiteAuditStore) Record(ctx context.Context, event AuditEvent) error {
	output, err := encodeAuditOutput(event.Output)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO program_audit_events (
			program_id, run_id, step, function_name, status, output_json, error_text, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ProgramID,
		event.RunID,
		event.Step,
		event.Function,
		event.Status,
		string(output),
		event.Error,
		normalizeAuditTime(event.StartedAt),
		normalizeAuditTime(event.FinishedAt),
	)
	return err
}

// List returns audit events matching the filter in recording order.
func (s *SQLiteAuditStore) List(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT program_id, run_id, step, function_name, status, output_json, error_text, started_at, finished_at
		FROM program_audit_events
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.ProgramID != "" {
		addFilter("program_id = ?", filter.ProgramID)
	}
	if filter.RunID != "" {
		addFilter("run_id = ?", filter.RunID)
	}
	if filter.Function != "" {
		addFilter("function_name = ?", filter.Function)
	}
	if filter.Status != "" {
		addFilter("status = ?", filter.Status)
	}
	query += where + " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var (
			event      AuditEvent
			outputJSON sql.NullString
			errText    sql.NullString
			runID      sql.NullString
			started    sql.NullTime
			finished   sql.NullTime
		)
		if err := rows.Scan(
			&event.ProgramID,
			&runID,
			&event.Step,
			&event.Function,
			&event.Status,
			&outputJSON,
			&errText,
			&started,
			&finished,
		); err != nil {
			return nil, err
		}
		event.RunID = runID.String
		event.Error = errText.String
		if outputJSON.Valid && outputJSON.String != "" {
			if out, err := decodeAuditOutput([]byte(outputJSON.String)); err == nil {
				event.Output = out
			}
		}
		if started.Valid {
			event.StartedAt = started.Time
		}
		if finished.Valid {
			event.FinishedAt = finished.Time
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func ensureAuditSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS program_audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			program_id TEXT NOT NULL,
			run_id TEXT,
			step INTEGER NOT NULL,
			function_name TEXT NOT NULL,
			status TEXT NOT NULL,
			output_json TEXT,
			error_text TEXT,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_program_audit_program ON program_audit_events(program_id);
		CREATE INDEX IF NOT EXISTS idx_program_audit_status ON program_audit_events(status);
	`)
	return err
}
