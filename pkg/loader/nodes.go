// Package loader turns classified source tables into graph mutations and
// drives them through every configured sink in two phases.
package loader

import (
	"context"
	"fmt"

	"github.com/ha1tch/csvgraph/pkg/models"
	"github.com/ha1tch/csvgraph/pkg/schema"
	"github.com/ha1tch/csvgraph/pkg/sink"
)

// NodeLoader creates one node per source row on every active sink
type NodeLoader struct {
	sinks []*sink.Bound
	obs   Observer
	runID string
}

// NewNodeLoader creates a node loader writing to sinks
func NewNodeLoader(sinks []*sink.Bound, obs Observer) *NodeLoader {
	if obs == nil {
		obs = nopObserver{}
	}
	return &NodeLoader{sinks: sinks, obs: obs}
}

// Mutation builds the node mutation of a row. The identifier column is
// dropped unless the table retains it, in which case it is normalized like
// a relationship key.
func Mutation(table schema.NodeTable, row models.Row) models.NodeMutation {
	props := make(models.Properties, 0, len(row.Fields))
	for _, f := range row.Fields {
		if f.Name == models.IDColumn {
			if table.RetainID {
				props = append(props, models.Field{Name: f.Name, Value: Identifier(f.Value)})
			}
			continue
		}
		props = append(props, models.Field{Name: f.Name, Value: f.Value.Normalize()})
	}
	return models.NodeMutation{
		Table:      table.Name,
		Line:       row.Line,
		Label:      table.Label,
		Properties: props,
	}
}

// Load issues one node mutation per row. Rows without any value are skipped.
// A required sink failure stops the table and is returned; the caller
// discards the table. Best-effort sink failures are counted and the row
// continues.
func (l *NodeLoader) Load(ctx context.Context, table schema.NodeTable, rows []models.Row) (models.TableReport, error) {
	report := models.TableReport{Table: table.Name, Kind: models.TableNodes, Rows: len(rows)}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if row.IsBlank() {
			report.Skipped++
			l.obs.Observe(Event{
				Kind:   EventRowSkipped,
				RunID:  l.runID,
				Table:  table.Name,
				Line:   row.Line,
				Reason: "row has no values",
			})
			continue
		}

		m := Mutation(table, row)
		for _, s := range l.sinks {
			if s.Disabled() {
				continue
			}
			err := s.CreateNode(ctx, m)
			if err == nil {
				continue
			}

			l.obs.Observe(Event{
				Kind:  EventMutationFailed,
				RunID: l.runID,
				Table: table.Name,
				Line:  row.Line,
				Sink:  s.Name(),
				Query: sink.QueryOf(err),
				Data:  row.Map(),
				Err:   err,
			})
			if !s.Required() {
				report.AddFailure(s.Name())
				continue
			}
			return report, fmt.Errorf("failed to create %s node from line %d: %w", table.Label, row.Line, err)
		}
		report.Applied++
	}

	return report, nil
}
