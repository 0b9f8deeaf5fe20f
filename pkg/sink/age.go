package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/lib/pq"

	"github.com/ha1tch/csvgraph/pkg/config"
	"github.com/ha1tch/csvgraph/pkg/cypher"
	"github.com/ha1tch/csvgraph/pkg/models"
)

// DefaultGraphName is the AGE graph loaded when none is configured
const DefaultGraphName = "exo_graph"

// AGEConfig holds the PostgreSQL connection settings of the AGE sink
type AGEConfig struct {
	Host           string
	Port           string
	User           string
	Password       string
	Database       string
	SSLMode        string
	ConnectTimeout time.Duration
	Graph          string
}

// DSN renders the connection settings as a postgres URL
func (c AGEConfig) DSN() string {
	port := c.Port
	if port == "" {
		port = "5432"
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, port),
		Path:   "/" + c.Database,
	}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(c.ConnectTimeout/time.Second)))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// AGESink writes the graph into an Apache AGE graph on PostgreSQL. All
// mutations of a run share one session and one open transaction that the
// coordinator commits explicitly.
type AGESink struct {
	db     *sql.DB
	ownsDB bool
	conn   *sql.Conn
	graph  string
	scope  txScope
	closed bool
}

// OpenAGE connects to PostgreSQL and prepares an AGE session
func OpenAGE(ctx context.Context, cfg AGEConfig) (*AGESink, error) {
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s:%s: %w", cfg.Host, cfg.Port, err)
	}

	s, err := NewAGESink(ctx, db, cfg.Graph)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewAGESink pins a session on db and loads the AGE extension into it
func NewAGESink(ctx context.Context, db *sql.DB, graph string) (*AGESink, error) {
	if graph == "" {
		graph = DefaultGraphName
	}
	if !cypher.IsPlainIdent(graph) {
		return nil, fmt.Errorf("invalid graph name %q", graph)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire session: %w", err)
	}

	init := []string{
		"LOAD 'age'",
		`SET search_path = ag_catalog, "$user", public`,
	}
	for _, stmt := range init {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			conn.Close()
			return nil, enrich("age", stmt, err)
		}
	}

	s := &AGESink{db: db, conn: conn, graph: graph}
	s.scope.db = conn
	return s, nil
}

// Name returns the sink name
func (s *AGESink) Name() string { return "age" }

// Graph returns the AGE graph name
func (s *AGESink) Graph() string { return s.graph }

// Info returns sink information
func (s *AGESink) Info() Info {
	return Info{Type: "age", Version: config.Version, Transactional: true}
}

// Reset drops the graph if it exists and creates it empty
func (s *AGESink) Reset(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	s.scope.rollback()

	const exists = "SELECT count(*) FROM ag_catalog.ag_graph WHERE name = $1"
	var n int
	if err := s.conn.QueryRowContext(ctx, exists, s.graph).Scan(&n); err != nil {
		return enrich(s.Name(), exists, err)
	}

	if n > 0 {
		drop := fmt.Sprintf("SELECT ag_catalog.drop_graph(%s, true)", pq.QuoteLiteral(s.graph))
		if _, err := s.conn.ExecContext(ctx, drop); err != nil {
			return enrich(s.Name(), drop, err)
		}
	}

	create := fmt.Sprintf("SELECT ag_catalog.create_graph(%s)", pq.QuoteLiteral(s.graph))
	if _, err := s.conn.ExecContext(ctx, create); err != nil {
		return enrich(s.Name(), create, err)
	}
	return nil
}

// BeginTable opens a savepoint for the table
func (s *AGESink) BeginTable(ctx context.Context, table string) error {
	if s.closed {
		return ErrClosed
	}
	return s.scope.begin(ctx)
}

// EndTable releases the table savepoint, rolling back to it first when !ok
func (s *AGESink) EndTable(ctx context.Context, ok bool) error {
	return s.scope.end(ctx, ok)
}

// CreateNode issues one CREATE through ag_catalog.cypher
func (s *AGESink) CreateNode(ctx context.Context, m models.NodeMutation) error {
	body := NodeQuery(m)
	_, err := s.exec(ctx, body)
	return err
}

// CreateEdge matches both endpoints by identifier and creates one edge
// per matched pair. The count is the number of rows the query returned.
func (s *AGESink) CreateEdge(ctx context.Context, m models.EdgeMutation) (int, error) {
	body := EdgeQuery(m) + " RETURN r"
	res, err := s.exec(ctx, body)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &QueryError{Sink: s.Name(), Query: body, Err: err}
	}
	return int(n), nil
}

// Query returns the SQL statement that runs a Cypher body against the graph
func (s *AGESink) Query(body string) string {
	return fmt.Sprintf("SELECT * FROM ag_catalog.cypher(%s, %s) AS (v ag_catalog.agtype)",
		pq.QuoteLiteral(s.graph), cypher.DollarQuote(body))
}

func (s *AGESink) exec(ctx context.Context, body string) (sql.Result, error) {
	if s.closed {
		return nil, ErrClosed
	}
	tx, err := s.scope.current(ctx)
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, s.Query(body))
	if err != nil {
		return nil, enrich(s.Name(), body, err)
	}
	return res, nil
}

// Commit commits the open transaction
func (s *AGESink) Commit(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	return s.scope.commit()
}

// Close rolls back uncommitted work and releases the session
func (s *AGESink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.scope.rollback()

	err := s.conn.Close()
	if s.ownsDB {
		if dbErr := s.db.Close(); err == nil {
			err = dbErr
		}
	}
	return err
}

// NodeQuery renders the literal Cypher creating one node
func NodeQuery(m models.NodeMutation) string {
	return fmt.Sprintf("CREATE (n:%s %s)", cypher.Ident(m.Label), cypher.PropertyMap(m.Properties))
}

// EdgeQuery renders the literal Cypher matching both endpoints and creating
// the edge bound to r
func EdgeQuery(m models.EdgeMutation) string {
	return fmt.Sprintf("MATCH (a:%s {%s: %s}), (b:%s {%s: %s}) CREATE (a)-[r:%s %s]->(b)",
		cypher.Ident(m.From.Label), models.IDColumn, cypher.Literal(m.From.ID),
		cypher.Ident(m.To.Label), models.IDColumn, cypher.Literal(m.To.ID),
		cypher.Ident(m.Type), cypher.PropertyMap(m.Properties))
}

// enrich wraps a driver error with the query and any PostgreSQL diagnostics
func enrich(sinkName, query string, err error) error {
	qe := &QueryError{Sink: sinkName, Query: query, Err: err}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		qe.Code = pgErr.Code
		qe.Detail = pgErr.Detail
	}
	return qe
}
