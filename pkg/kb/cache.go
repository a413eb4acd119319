// Copyright 2026 © The Kopl Authors
// SPDX-License-Identifier: Apache-2.0

package kb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jllopis/kopl/pkg/kopl"
)

// Cache stores a parsed knowledge base in SQLite so later runs skip parsing
// the source file. The snapshot is keyed by the source fingerprint; a source
// whose bytes changed is parsed again and replaces the snapshot.
type Cache struct {
	db *sql.DB
}

// OpenCache opens (or creates) a snapshot database at path.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	c, err := NewCache(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// NewCache wraps an existing database handle and ensures the schema.
func NewCache(db *sql.DB) (*Cache, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureSnapshotSchema(db); err != nil {
		return nil, err
	}
	return &Cache{db: db}, nil
}

// Close releases the database handle.
func (c *Cache) Close() error { return c.db.Close() }

// Load returns the knowledge base for the file at sourcePath, from the
// snapshot when its fingerprint matches and from the source otherwise.
func (c *Cache) Load(ctx context.Context, sourcePath string) (*KB, error) {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, err
	}
	fp := Fingerprint(data)
	kb, ok, err := c.Snapshot(ctx, fp)
	if err != nil {
		return nil, err
	}
	if ok {
		slog.InfoContext(ctx, "kb.cache.hit", slog.String("source", sourcePath), slog.String("fingerprint", fp))
		return kb, nil
	}
	slog.InfoContext(ctx, "kb.cache.miss", slog.String("source", sourcePath), slog.String("fingerprint", fp))
	kb, err = Parse(sourcePath, data)
	if err != nil {
		return nil, err
	}
	if err := c.Store(ctx, fp, sourcePath, kb); err != nil {
		return nil, fmt.Errorf("store kb snapshot: %w", err)
	}
	return kb, nil
}

// Fingerprint returns the fingerprint of the stored snapshot, if any.
func (c *Cache) Fingerprint(ctx context.Context) (string, bool, error) {
	var fp string
	err := c.db.QueryRowContext(ctx, `SELECT fingerprint FROM kb_snapshot WHERE id = 1`).Scan(&fp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return fp, true, nil
}

// Store replaces the snapshot with kb under fingerprint fp.
func (c *Cache) Store(ctx context.Context, fp, source string, kb *KB) (err error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, table := range []string{"kb_snapshot", "kb_concepts", "kb_entities", "kb_edges"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}

	for _, id := range kb.ConceptIDs() {
		concept, _ := kb.Concept(id)
		parents, mErr := json.Marshal(concept.Parents)
		if mErr != nil {
			return mErr
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO kb_concepts (id, name, parents_json) VALUES (?, ?, ?)`,
			concept.ID, concept.Name, string(parents)); err != nil {
			return err
		}
	}
	for _, id := range kb.EntityIDs() {
		ent, _ := kb.Entity(id)
		concepts, mErr := json.Marshal(ent.Concepts)
		if mErr != nil {
			return mErr
		}
		attrs, mErr := json.Marshal(ent.Attributes)
		if mErr != nil {
			return mErr
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO kb_entities (id, name, concepts_json, attributes_json) VALUES (?, ?, ?, ?)`,
			ent.ID, ent.Name, string(concepts), string(attrs)); err != nil {
			return err
		}
	}
	for i, edge := range kb.AllEdges() {
		quals, mErr := json.Marshal(edge.Qualifiers)
		if mErr != nil {
			return mErr
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO kb_edges (seq, relation, source, target, qualifiers_json) VALUES (?, ?, ?, ?, ?)`,
			i, edge.Relation, edge.Source, edge.Target, string(quals)); err != nil {
			return err
		}
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO kb_snapshot (id, fingerprint, source, created_at) VALUES (1, ?, ?, ?)`,
		fp, source, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

// Snapshot rebuilds the stored knowledge base when its fingerprint is fp.
func (c *Cache) Snapshot(ctx context.Context, fp string) (*KB, bool, error) {
	stored, ok, err := c.Fingerprint(ctx)
	if err != nil || !ok || stored != fp {
		return nil, false, err
	}

	b := NewBuilder()
	rows, err := c.db.QueryContext(ctx, `SELECT id, name, parents_json FROM kb_concepts`)
	if err != nil {
		return nil, false, err
	}
	for rows.Next() {
		var (
			concept Concept
			parents string
		)
		if err := rows.Scan(&concept.ID, &concept.Name, &parents); err != nil {
			rows.Close()
			return nil, false, err
		}
		if err := json.Unmarshal([]byte(parents), &concept.Parents); err != nil {
			rows.Close()
			return nil, false, fmt.Errorf("concept %s: %w", concept.ID, err)
		}
		b.AddConcept(concept)
	}
	if err := closeRows(rows); err != nil {
		return nil, false, err
	}

	rows, err = c.db.QueryContext(ctx, `SELECT id, name, concepts_json, attributes_json FROM kb_entities`)
	if err != nil {
		return nil, false, err
	}
	for rows.Next() {
		var (
			ent             Entity
			concepts, attrs string
		)
		if err := rows.Scan(&ent.ID, &ent.Name, &concepts, &attrs); err != nil {
			rows.Close()
			return nil, false, err
		}
		if err := json.Unmarshal([]byte(concepts), &ent.Concepts); err != nil {
			rows.Close()
			return nil, false, fmt.Errorf("entity %s: %w", ent.ID, err)
		}
		if err := json.Unmarshal([]byte(attrs), &ent.Attributes); err != nil {
			rows.Close()
			return nil, false, fmt.Errorf("entity %s: %w", ent.ID, err)
		}
		b.AddEntity(ent)
	}
	if err := closeRows(rows); err != nil {
		return nil, false, err
	}

	rows, err = c.db.QueryContext(ctx, `SELECT relation, source, target, qualifiers_json FROM kb_edges ORDER BY seq ASC`)
	if err != nil {
		return nil, false, err
	}
	for rows.Next() {
		var (
			edge  Edge
			quals string
		)
		if err := rows.Scan(&edge.Relation, &edge.Source, &edge.Target, &quals); err != nil {
			rows.Close()
			return nil, false, err
		}
		var q map[string][]kopl.Value
		if err := json.Unmarshal([]byte(quals), &q); err != nil {
			rows.Close()
			return nil, false, fmt.Errorf("edge %s: %w", edge.Relation, err)
		}
		edge.Qualifiers = q
		b.AddEdge(edge)
	}
	if err := closeRows(rows); err != nil {
		return nil, false, err
	}
	return b.Build(), true, nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}

func ensureSnapshotSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kb_snapshot (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			fingerprint TEXT NOT NULL,
			source TEXT,
			created_at TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS kb_concepts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			parents_json TEXT
		);
		CREATE TABLE IF NOT EXISTS kb_entities (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			concepts_json TEXT,
			attributes_json TEXT
		);
		CREATE TABLE IF NOT EXISTS kb_edges (
			seq INTEGER PRIMARY KEY,
			relation TEXT NOT NULL,
			source TEXT NOT NULL,
			target TEXT NOT NULL,
			qualifiers_json TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_kb_edges_source ON kb_edges(source);
		CREATE INDEX IF NOT EXISTS idx_kb_edges_target ON kb_edges(target);
	`)
	return err
}
