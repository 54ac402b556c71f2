// Package store persists verified subgraph edge lists in SQLite so a
// restart can rehydrate pair coverage without re-running path search.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sugawarayuuta/sonnet"

	"github.com/defistate/defi-pricing-go/graphs"
	"github.com/defistate/defi-pricing-go/pair"
)

const schema = `
CREATE TABLE IF NOT EXISTS subgraphs (
	pair   TEXT    NOT NULL,
	block  INTEGER NOT NULL,
	edges  BLOB    NOT NULL,
	saved  INTEGER NOT NULL,
	PRIMARY KEY (pair, block)
);`

// SQLiteStore implements graphs.SubgraphStore on a local SQLite file.
// One row per (pair, block); Load serves the newest row at or before the
// requested block, so historical re-pricing sees the subgraph shape that
// was current then.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens or creates the database at path and ensures the schema.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// a single writer keeps "latest at or before block" reads trivially
	// consistent
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ensure schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save upserts the edge list for (pair, block). The pair is normalized so
// either direction maps to the same row.
func (s *SQLiteStore) Save(block uint64, p pair.Pair, edges []graphs.SubGraphEdge) error {
	blob, err := sonnet.Marshal(edges)
	if err != nil {
		return fmt.Errorf("store: encode edges for %s: %w", p, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO subgraphs (pair, block, edges, saved) VALUES (?, ?, ?, ?)
		 ON CONFLICT(pair, block) DO UPDATE SET edges = excluded.edges, saved = excluded.saved`,
		p.Ordered().String(), int64(block), blob, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: save %s@%d: %w", p, block, err)
	}
	return nil
}

// Load returns the most recent edge list saved at or before the block,
// or graphs.ErrNoSubgraph when none exists.
func (s *SQLiteStore) Load(block uint64, p pair.Pair) ([]graphs.SubGraphEdge, error) {
	var blob []byte
	err := s.db.QueryRow(
		`SELECT edges FROM subgraphs WHERE pair = ? AND block <= ?
		 ORDER BY block DESC LIMIT 1`,
		p.Ordered().String(), int64(block),
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, graphs.ErrNoSubgraph
	}
	if err != nil {
		return nil, fmt.Errorf("store: load %s@%d: %w", p, block, err)
	}

	var edges []graphs.SubGraphEdge
	if err := sonnet.Unmarshal(blob, &edges); err != nil {
		return nil, fmt.Errorf("store: decode edges for %s: %w", p, err)
	}
	return edges, nil
}

// Prune deletes rows older than keepBlocks behind the given head block,
// keeping at least the newest row per pair.
func (s *SQLiteStore) Prune(head, keepBlocks uint64) error {
	if head <= keepBlocks {
		return nil
	}
	cutoff := int64(head - keepBlocks)
	_, err := s.db.Exec(
		`DELETE FROM subgraphs WHERE block < ? AND (pair, block) NOT IN (
			SELECT pair, MAX(block) FROM subgraphs GROUP BY pair
		)`, cutoff,
	)
	if err != nil {
		return fmt.Errorf("store: prune below %d: %w", cutoff, err)
	}
	return nil
}
