package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/ha1tch/csvgraph/pkg/config"
	"github.com/ha1tch/csvgraph/pkg/cypher"
	"github.com/ha1tch/csvgraph/pkg/models"
)

// ErrMissingURI indicates the Neo4j URI is not provided
var ErrMissingURI = errors.New("neo4j URI is required")

// Counters is the part of a result summary the loader inspects
type Counters struct {
	NodesCreated         int
	NodesDeleted         int
	RelationshipsCreated int
	RelationshipsDeleted int
}

// Runner executes one parameterised write query in its own session
type Runner interface {
	Run(ctx context.Context, query string, params map[string]interface{}) (Counters, error)
	Close(ctx context.Context) error
}

// Neo4jConfig configures the Neo4j sink
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

type driverRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

// DialNeo4j creates a driver and verifies the server is reachable
func DialNeo4j(ctx context.Context, cfg Neo4jConfig) (Runner, error) {
	if cfg.URI == "" {
		return nil, ErrMissingURI
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.URI, err)
	}
	return &driverRunner{driver: driver, database: cfg.Database}, nil
}

func (r *driverRunner) Run(ctx context.Context, query string, params map[string]interface{}) (Counters, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: r.database,
	})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return Counters{}, err
	}
	summary, err := result.Consume(ctx)
	if err != nil {
		return Counters{}, err
	}

	c := summary.Counters()
	return Counters{
		NodesCreated:         c.NodesCreated(),
		NodesDeleted:         c.NodesDeleted(),
		RelationshipsCreated: c.RelationshipsCreated(),
		RelationshipsDeleted: c.RelationshipsDeleted(),
	}, nil
}

func (r *driverRunner) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

// Neo4jSink writes the graph into Neo4j. Every mutation commits on its own,
// so table scopes and Commit are no-ops.
type Neo4jSink struct {
	runner Runner
	closed bool
}

// OpenNeo4j dials Neo4j and returns a sink over the driver
func OpenNeo4j(ctx context.Context, cfg Neo4jConfig) (*Neo4jSink, error) {
	runner, err := DialNeo4j(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewNeo4jSink(runner), nil
}

// NewNeo4jSink creates a sink over an existing runner
func NewNeo4jSink(runner Runner) *Neo4jSink {
	return &Neo4jSink{runner: runner}
}

// Name returns the sink name
func (s *Neo4jSink) Name() string { return "neo4j" }

// Info returns sink information
func (s *Neo4jSink) Info() Info {
	return Info{Type: "neo4j", Version: config.Version, Parameterized: true}
}

const clearQuery = "MATCH (n) DETACH DELETE n"

// Reset detach-deletes every node
func (s *Neo4jSink) Reset(ctx context.Context) error {
	_, err := s.run(ctx, clearQuery, nil)
	return err
}

// BeginTable is a no-op
func (s *Neo4jSink) BeginTable(ctx context.Context, table string) error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

// EndTable is a no-op; committed mutations cannot be rolled back
func (s *Neo4jSink) EndTable(ctx context.Context, ok bool) error {
	return nil
}

// CreateNode creates one node with its properties passed as a parameter map
func (s *Neo4jSink) CreateNode(ctx context.Context, m models.NodeMutation) error {
	q := fmt.Sprintf("CREATE (n:%s) SET n = $props", cypher.Ident(m.Label))
	_, err := s.run(ctx, q, map[string]interface{}{"props": cypher.Params(m.Properties)})
	return err
}

// CreateEdge matches both endpoints and creates the edge, returning the
// relationships-created counter
func (s *Neo4jSink) CreateEdge(ctx context.Context, m models.EdgeMutation) (int, error) {
	q := fmt.Sprintf("MATCH (a:%s {%s: $from}), (b:%s {%s: $to}) CREATE (a)-[r:%s]->(b) SET r = $props",
		cypher.Ident(m.From.Label), models.IDColumn,
		cypher.Ident(m.To.Label), models.IDColumn,
		cypher.Ident(m.Type))
	c, err := s.run(ctx, q, map[string]interface{}{
		"from":  cypher.Param(m.From.ID),
		"to":    cypher.Param(m.To.ID),
		"props": cypher.Params(m.Properties),
	})
	if err != nil {
		return 0, err
	}
	return c.RelationshipsCreated, nil
}

func (s *Neo4jSink) run(ctx context.Context, q string, params map[string]interface{}) (Counters, error) {
	if s.closed {
		return Counters{}, ErrClosed
	}
	c, err := s.runner.Run(ctx, q, params)
	if err != nil {
		return Counters{}, &QueryError{Sink: s.Name(), Query: q, Err: err}
	}
	return c, nil
}

// Commit is a no-op
func (s *Neo4jSink) Commit(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close closes the driver
func (s *Neo4jSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.runner.Close(context.Background())
}
