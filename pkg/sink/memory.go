package sink

import (
	"context"
	"fmt"
	"maps"

	"github.com/ha1tch/csvgraph/pkg/config"
	"github.com/ha1tch/csvgraph/pkg/graph"
	"github.com/ha1tch/csvgraph/pkg/models"
)

// MemorySink loads into an in-process graph. It backs dry runs and tests.
type MemorySink struct {
	name      string
	graph     *graph.IndexedGraph
	committed graph.Mark
	table     *graph.Mark
	closed    bool
}

// NewMemorySink creates an empty in-memory sink
func NewMemorySink(name string) *MemorySink {
	if name == "" {
		name = "memory"
	}
	return &MemorySink{name: name, graph: graph.NewIndexedGraph()}
}

// Name returns the sink name
func (s *MemorySink) Name() string { return s.name }

// Info returns sink information
func (s *MemorySink) Info() Info {
	return Info{Type: "memory", Version: config.Version, Transactional: true}
}

// Graph exposes the loaded graph
func (s *MemorySink) Graph() *graph.IndexedGraph { return s.graph }

// Reset clears the graph
func (s *MemorySink) Reset(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	s.table = nil
	if err := s.graph.Clear(); err != nil {
		return err
	}
	s.committed = s.graph.Mark()
	return nil
}

// BeginTable remembers the graph size so the table can be discarded
func (s *MemorySink) BeginTable(ctx context.Context, table string) error {
	if s.closed {
		return ErrClosed
	}
	m := s.graph.Mark()
	s.table = &m
	return nil
}

// EndTable discards the table's additions when !ok
func (s *MemorySink) EndTable(ctx context.Context, ok bool) error {
	if s.table == nil {
		return ErrNoTable
	}
	if !ok {
		s.graph.Rollback(*s.table)
	}
	s.table = nil
	return nil
}

// CreateNode adds a node
func (s *MemorySink) CreateNode(ctx context.Context, m models.NodeMutation) error {
	if s.closed {
		return ErrClosed
	}
	s.graph.AddNode(m.Label, m.Properties)
	return nil
}

// CreateEdge adds an edge for every matched endpoint pair
func (s *MemorySink) CreateEdge(ctx context.Context, m models.EdgeMutation) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	return s.graph.AddEdge(m.Type, m.From, m.To, m.Properties), nil
}

// Commit makes all completed tables permanent
func (s *MemorySink) Commit(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	s.committed = s.graph.Mark()
	return nil
}

// Close discards uncommitted additions. The graph stays readable.
func (s *MemorySink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.graph.Rollback(s.committed)
	return nil
}

// Dump writes the graph as JSON and reads the file back, failing when the
// copy on disk does not hold the same nodes and edges. It returns the
// statistics of the reloaded copy.
func (s *MemorySink) Dump(filename string) (graph.Stats, error) {
	if err := s.graph.Save(filename); err != nil {
		return graph.Stats{}, fmt.Errorf("failed to write graph dump: %w", err)
	}

	reloaded := graph.NewIndexedGraph()
	if err := reloaded.Load(filename); err != nil {
		return graph.Stats{}, fmt.Errorf("failed to read back graph dump: %w", err)
	}

	want, got := s.graph.Stats(), reloaded.Stats()
	if got.Nodes != want.Nodes || got.Edges != want.Edges ||
		!maps.Equal(got.NodesByType, want.NodesByType) || !maps.Equal(got.EdgesByType, want.EdgesByType) {
		return got, fmt.Errorf("graph dump %s holds %d nodes and %d edges, expected %d and %d",
			filename, got.Nodes, got.Edges, want.Nodes, want.Edges)
	}
	return got, nil
}
