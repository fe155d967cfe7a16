// Package store serves the backing service contract from a local SQLite
// database, so the explorer can run offline on an imported dataset.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ritzau/kg-explorer/pkg/graph"
	"github.com/ritzau/kg-explorer/pkg/logging"
	"github.com/ritzau/kg-explorer/pkg/model"
	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed knowledge graph. The graph itself is also held
// in memory as an index for traversal; SQL serves text search, attribute
// filters and the publication catalogue.
type Store struct {
	db   *sql.DB
	path string

	mu         sync.RWMutex
	ix         *graph.Index
	byExternal map[string]int // publication external id -> index
}

// Open opens or creates a store at path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite doesn't support concurrent writes
	db.SetMaxOpenConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.reload(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS nodes (
			id TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			name TEXT,
			scientific_name TEXT,
			publication_date TEXT,
			properties_json TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_nodes_category ON nodes(category);

		CREATE TABLE IF NOT EXISTS edges (
			source TEXT NOT NULL,
			target TEXT NOT NULL,
			type TEXT NOT NULL,
			weight REAL
		);
		CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source);
		CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target);

		-- Publication catalogue, looked up by external id
		CREATE TABLE IF NOT EXISTS publications (
			pmcid TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			abstract TEXT,
			journal TEXT,
			date TEXT,
			doi TEXT,
			pmid TEXT,
			authors_json TEXT NOT NULL
		);

		-- Full-text search over the catalogue (standalone, not external content)
		CREATE VIRTUAL TABLE IF NOT EXISTS publications_fts USING fts5(
			pmcid,
			title,
			abstract,
			authors_text
		);
	`
	_, err := db.Exec(schema)
	return err
}

// reload rebuilds the in-memory index from the database
func (s *Store) reload(ctx context.Context) error {
	snap := model.NewSnapshot()

	rows, err := s.db.QueryContext(ctx, `SELECT id, category, properties_json FROM nodes ORDER BY rowid`)
	if err != nil {
		return fmt.Errorf("loading nodes: %w", err)
	}
	for rows.Next() {
		var n model.Node
		var props string
		if err := rows.Scan(&n.ID, &n.Category, &props); err != nil {
			rows.Close()
			return fmt.Errorf("scanning node: %w", err)
		}
		if err := json.Unmarshal([]byte(props), &n.Properties); err != nil {
			rows.Close()
			return fmt.Errorf("decoding properties of %s: %w", n.ID, err)
		}
		snap.AddNode(n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("loading nodes: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `SELECT source, target, type, weight FROM edges ORDER BY rowid`)
	if err != nil {
		return fmt.Errorf("loading edges: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e model.Edge
		var w sql.NullFloat64
		if err := rows.Scan(&e.Source, &e.Target, &e.Type, &w); err != nil {
			return fmt.Errorf("scanning edge: %w", err)
		}
		if w.Valid {
			e.Weight = &w.Float64
		}
		snap.AddEdge(e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("loading edges: %w", err)
	}

	ix := graph.Build(snap)
	byExternal := make(map[string]int)
	for i := range ix.Len() {
		if n := ix.Node(i); n.IsPublication() {
			byExternal[n.ExternalID()] = i
		}
	}

	s.mu.Lock()
	s.ix = ix
	s.byExternal = byExternal
	s.mu.Unlock()

	logging.Debug("store index loaded", "nodes", ix.Len(), "edges", len(ix.Links()), "path", s.path)
	return nil
}

// index returns the current graph index
func (s *Store) index() (*graph.Index, map[string]int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ix, s.byExternal
}
