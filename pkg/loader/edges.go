package loader

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/ha1tch/csvgraph/pkg/models"
	"github.com/ha1tch/csvgraph/pkg/schema"
	"github.com/ha1tch/csvgraph/pkg/sink"
)

// Status is the result of applying one relationship row
type Status int

const (
	// Applied means the mutation was issued to every active sink
	Applied Status = iota
	// Skipped means a key was null or missing and no sink was contacted
	Skipped
	// Ignored means the table has no relationship mapping
	Ignored
)

func (s Status) String() string {
	switch s {
	case Applied:
		return "applied"
	case Skipped:
		return "skipped"
	default:
		return "ignored"
	}
}

// Outcome reports what happened to one relationship row
type Outcome struct {
	Status Status
	// Dangling lists the sinks that created no edge for an applied row
	Dangling []string
	// Failed lists the best-effort sinks that rejected the mutation
	Failed []string
}

// EdgeLoader creates relationships between previously loaded nodes
type EdgeLoader struct {
	catalog *schema.Catalog
	sinks   []*sink.Bound
	obs     Observer
	runID   string
}

// NewEdgeLoader creates an edge loader resolving tables through catalog
func NewEdgeLoader(catalog *schema.Catalog, sinks []*sink.Bound, obs Observer) *EdgeLoader {
	if obs == nil {
		obs = nopObserver{}
	}
	return &EdgeLoader{catalog: catalog, sinks: sinks, obs: obs}
}

// Identifier normalizes a key value. An integral float becomes the equal
// integer, so a key exported as 1.0 matches a node created with _id 1 on
// every backend.
func Identifier(v models.Value) models.Value {
	v = v.Normalize()
	if v.Kind() != models.KindFloat {
		return v
	}
	f := v.AsFloat()
	if math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) >= 1<<63 {
		return v
	}
	return models.Int(int64(f))
}

// EdgeMutation builds the edge mutation of a row. It reports false when
// either key is null or missing. Every declared property is present; absent
// columns become null.
func EdgeMutation(mapping schema.EdgeTable, row models.Row) (models.EdgeMutation, bool) {
	from, ok := row.Get(mapping.FromKey)
	if !ok || from.IsNull() {
		return models.EdgeMutation{}, false
	}
	to, ok := row.Get(mapping.ToKey)
	if !ok || to.IsNull() {
		return models.EdgeMutation{}, false
	}

	props := make(models.Properties, len(mapping.Properties))
	for i, col := range mapping.Properties {
		v, _ := row.Get(col)
		props[i] = models.Field{Name: col, Value: v.Normalize()}
	}

	return models.EdgeMutation{
		Table:      mapping.Type,
		Line:       row.Line,
		Type:       mapping.Type,
		From:       models.NodeRef{Label: mapping.FromLabel, ID: Identifier(from)},
		To:         models.NodeRef{Label: mapping.ToLabel, ID: Identifier(to)},
		Properties: props,
	}, true
}

// UndeclaredColumns returns the columns of an edge table that are neither
// keys nor declared properties, sorted
func UndeclaredColumns(mapping schema.EdgeTable, columns []string) []string {
	known := map[string]bool{
		models.IDColumn: true,
		mapping.FromKey: true,
		mapping.ToKey:   true,
	}
	for _, p := range mapping.Properties {
		known[p] = true
	}

	var extra []string
	for _, c := range columns {
		if !known[c] {
			extra = append(extra, c)
		}
	}
	sort.Strings(extra)
	return extra
}

// Apply creates the edge described by row on every active sink. A sink
// creating zero edges is reported as dangling, never retried. A required
// sink failure is returned.
func (l *EdgeLoader) Apply(ctx context.Context, table string, row models.Row) (Outcome, error) {
	mapping, ok := l.catalog.Edge(table)
	if !ok {
		return Outcome{Status: Ignored}, nil
	}

	m, ok := EdgeMutation(mapping, row)
	if !ok {
		return Outcome{Status: Skipped}, nil
	}

	out := Outcome{Status: Applied}
	for _, s := range l.sinks {
		if s.Disabled() {
			continue
		}

		n, err := s.CreateEdge(ctx, m)
		if err != nil {
			l.obs.Observe(Event{
				Kind:  EventMutationFailed,
				RunID: l.runID,
				Table: table,
				Line:  row.Line,
				Sink:  s.Name(),
				Query: sink.QueryOf(err),
				Data:  row.Map(),
				Err:   err,
			})
			if !s.Required() {
				out.Failed = append(out.Failed, s.Name())
				continue
			}
			return out, fmt.Errorf("failed to create %s edge from line %d: %w", mapping.Type, row.Line, err)
		}

		if n == 0 {
			out.Dangling = append(out.Dangling, s.Name())
			l.obs.Observe(Event{
				Kind:  EventDanglingReference,
				RunID: l.runID,
				Table: table,
				Line:  row.Line,
				Sink:  s.Name(),
				Data:  row.Map(),
			})
		}
	}

	return out, nil
}
