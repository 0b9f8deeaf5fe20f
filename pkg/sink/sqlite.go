package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/ha1tch/csvgraph/pkg/config"
	"github.com/ha1tch/csvgraph/pkg/graph"
	"github.com/ha1tch/csvgraph/pkg/models"
)

// SQLiteSink mirrors the loaded graph into a local SQLite file, one row per
// node and per edge. Edges resolve their endpoints with the same label and
// identifier match the graph backends use.
type SQLiteSink struct {
	db     *sql.DB
	dbPath string
	config SQLiteConfig
	scope  txScope
	closed bool
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	DBPath      string
	EnableWAL   bool // Write-Ahead Logging
	CacheSize   int  // Page cache size in KB
	BusyTimeout int  // Milliseconds to wait on locked database
}

// DefaultSQLiteConfig returns the snapshot defaults
func DefaultSQLiteConfig(dbPath string) SQLiteConfig {
	return SQLiteConfig{
		DBPath:      dbPath,
		EnableWAL:   true,
		CacheSize:   2000, // 2MB
		BusyTimeout: 5000, // 5 seconds
	}
}

// NewSQLiteSink opens or creates the snapshot database
func NewSQLiteSink(ctx context.Context, cfg SQLiteConfig) (*SQLiteSink, error) {
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "csvgraph.db"
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// the load transaction owns the only connection
	db.SetMaxOpenConns(1)

	s := &SQLiteSink{
		db:     db,
		dbPath: dbPath,
		config: cfg,
	}
	s.scope.db = db

	if err := s.initialize(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return s, nil
}

func (s *SQLiteSink) initialize(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA cache_size = -%d", s.config.CacheSize),
		fmt.Sprintf("PRAGMA busy_timeout = %d", s.config.BusyTimeout),
	}
	if s.config.EnableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}

	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS graph_nodes (
			id INTEGER PRIMARY KEY,
			label TEXT NOT NULL,
			ident TEXT, -- identity key of the _id property, NULL when absent
			source_table TEXT NOT NULL,
			properties TEXT NOT NULL -- JSON object
		);

		CREATE INDEX IF NOT EXISTS idx_nodes_ident ON graph_nodes(label, ident);

		CREATE TABLE IF NOT EXISTS graph_edges (
			id INTEGER PRIMARY KEY,
			rel_type TEXT NOT NULL,
			source_id INTEGER NOT NULL REFERENCES graph_nodes(id),
			target_id INTEGER NOT NULL REFERENCES graph_nodes(id),
			properties TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_edges_source ON graph_edges(source_id);
		CREATE INDEX IF NOT EXISTS idx_edges_target ON graph_edges(target_id);
		CREATE INDEX IF NOT EXISTS idx_edges_type ON graph_edges(rel_type);

		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO schema_version (version) VALUES (1)"); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}

	return nil
}

// Name returns the sink name
func (s *SQLiteSink) Name() string { return "sqlite" }

// Info returns sink information
func (s *SQLiteSink) Info() Info {
	return Info{Type: "sqlite", Version: config.Version, Transactional: true, Parameterized: true}
}

// Path returns the database file path
func (s *SQLiteSink) Path() string { return s.dbPath }

// Reset deletes every edge and node
func (s *SQLiteSink) Reset(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	s.scope.rollback()

	for _, stmt := range []string{"DELETE FROM graph_edges", "DELETE FROM graph_nodes"} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &QueryError{Sink: s.Name(), Query: stmt, Err: err}
		}
	}
	return nil
}

// BeginTable opens a savepoint for the table
func (s *SQLiteSink) BeginTable(ctx context.Context, table string) error {
	if s.closed {
		return ErrClosed
	}
	return s.scope.begin(ctx)
}

// EndTable releases the table savepoint, rolling back to it first when !ok
func (s *SQLiteSink) EndTable(ctx context.Context, ok bool) error {
	return s.scope.end(ctx, ok)
}

const insertNode = `INSERT INTO graph_nodes (label, ident, source_table, properties) VALUES (?, ?, ?, ?)`

// CreateNode inserts one node row
func (s *SQLiteSink) CreateNode(ctx context.Context, m models.NodeMutation) error {
	tx, err := s.tx(ctx)
	if err != nil {
		return err
	}

	props, err := json.Marshal(m.Properties.Map())
	if err != nil {
		return fmt.Errorf("failed to encode properties: %w", err)
	}

	var ident interface{}
	if v, ok := m.Properties.Get(models.IDColumn); ok {
		if key, ok := graph.IdentityKey(v); ok {
			ident = key
		}
	}

	if _, err := tx.ExecContext(ctx, insertNode, m.Label, ident, m.Table, string(props)); err != nil {
		return &QueryError{Sink: s.Name(), Query: insertNode, Err: err}
	}
	return nil
}

const insertEdge = `
	INSERT INTO graph_edges (rel_type, source_id, target_id, properties)
	SELECT ?, a.id, b.id, ?
	FROM graph_nodes a, graph_nodes b
	WHERE a.label = ? AND a.ident = ? AND b.label = ? AND b.ident = ?`

// CreateEdge inserts one edge per matched endpoint pair
func (s *SQLiteSink) CreateEdge(ctx context.Context, m models.EdgeMutation) (int, error) {
	fromKey, okFrom := graph.IdentityKey(m.From.ID)
	toKey, okTo := graph.IdentityKey(m.To.ID)
	if !okFrom || !okTo {
		return 0, nil
	}

	tx, err := s.tx(ctx)
	if err != nil {
		return 0, err
	}

	props, err := json.Marshal(m.Properties.Map())
	if err != nil {
		return 0, fmt.Errorf("failed to encode properties: %w", err)
	}

	res, err := tx.ExecContext(ctx, insertEdge, m.Type, string(props),
		m.From.Label, fromKey, m.To.Label, toKey)
	if err != nil {
		return 0, &QueryError{Sink: s.Name(), Query: insertEdge, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLiteSink) tx(ctx context.Context) (*sql.Tx, error) {
	if s.closed {
		return nil, ErrClosed
	}
	return s.scope.current(ctx)
}

// Commit commits the open transaction
func (s *SQLiteSink) Commit(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	return s.scope.commit()
}

// Close rolls back uncommitted work and closes the database
func (s *SQLiteSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.scope.rollback()
	return s.db.Close()
}

// Stats counts committed nodes per label and edges per type. It must not be
// called while a load transaction is open.
func (s *SQLiteSink) Stats(ctx context.Context) (graph.Stats, error) {
	stats := graph.Stats{
		NodesByType: make(map[string]int),
		EdgesByType: make(map[string]int),
	}

	count := func(query string, into map[string]int, total *int) error {
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var key string
			var n int
			if err := rows.Scan(&key, &n); err != nil {
				return err
			}
			into[key] = n
			*total += n
		}
		return rows.Err()
	}

	if err := count("SELECT label, count(*) FROM graph_nodes GROUP BY label", stats.NodesByType, &stats.Nodes); err != nil {
		return stats, err
	}
	if err := count("SELECT rel_type, count(*) FROM graph_edges GROUP BY rel_type", stats.EdgesByType, &stats.Edges); err != nil {
		return stats, err
	}
	return stats, nil
}
