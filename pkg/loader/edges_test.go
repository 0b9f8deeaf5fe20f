package loader_test

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ha1tch/csvgraph/pkg/loader"
	"github.com/ha1tch/csvgraph/pkg/models"
	"github.com/ha1tch/csvgraph/pkg/schema"
	"github.com/ha1tch/csvgraph/pkg/sink"
	"github.com/ha1tch/csvgraph/pkg/source"
)

func hasAim() schema.EdgeTable {
	e, _ := schema.Default().Edge("HAS_AIM")
	return e
}

func edgeRow(line int, exoID, aimID models.Value, extra ...models.Field) models.Row {
	fields := []models.Field{
		{Name: "_id", Value: models.Int(int64(line))},
		{Name: "exoId", Value: exoID},
		{Name: "aimId", Value: aimID},
	}
	return models.Row{Line: line, Fields: append(fields, extra...)}
}

func seed(t *testing.T, s sink.Sink) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateNode(ctx, models.NodeMutation{Label: "Exo", Properties: models.Properties{
		{Name: "_id", Value: models.Int(1)},
	}}))
	require.NoError(t, s.CreateNode(ctx, models.NodeMutation{Label: "Aim", Properties: models.Properties{
		{Name: "_id", Value: models.Int(10)},
	}}))
}

func TestEdgeMutation(t *testing.T) {
	row := edgeRow(2, models.Int(1), models.Int(10),
		models.Field{Name: "aimCategory", Value: models.String("primary")},
		models.Field{Name: "note", Value: models.String("dropped")},
	)

	m, ok := loader.EdgeMutation(hasAim(), row)
	require.True(t, ok)
	assert.Equal(t, "HAS_AIM", m.Type)
	assert.Equal(t, models.NodeRef{Label: "Exo", ID: models.Int(1)}, m.From)
	assert.Equal(t, models.NodeRef{Label: "Aim", ID: models.Int(10)}, m.To)
	assert.Equal(t, models.Properties{{Name: "aimCategory", Value: models.String("primary")}}, m.Properties)

	t.Run("Absent declared property is null", func(t *testing.T) {
		m, ok := loader.EdgeMutation(hasAim(), edgeRow(3, models.Int(1), models.Int(10)))
		require.True(t, ok)
		require.Len(t, m.Properties, 1)
		assert.Equal(t, models.KindNull, m.Properties[0].Value.Kind())
	})

	t.Run("Null key", func(t *testing.T) {
		_, ok := loader.EdgeMutation(hasAim(), edgeRow(4, models.Int(1), models.Null()))
		assert.False(t, ok)
		_, ok = loader.EdgeMutation(hasAim(), edgeRow(4, models.String(""), models.Int(10)))
		assert.False(t, ok)
	})
}

func TestIdentifier(t *testing.T) {
	assert.Equal(t, models.Int(1), loader.Identifier(models.Float(1)))
	assert.Equal(t, models.Int(-3), loader.Identifier(models.Float(-3)))
	assert.Equal(t, models.Int(7), loader.Identifier(models.Int(7)))
	assert.Equal(t, models.Float(1.5), loader.Identifier(models.Float(1.5)))
	assert.Equal(t, models.String("A-1"), loader.Identifier(models.String("A-1")))
	assert.Equal(t, models.KindNull, loader.Identifier(models.Float(math.NaN())).Kind())
	assert.Equal(t, models.KindFloat, loader.Identifier(models.Float(math.Inf(1))).Kind())
	assert.Equal(t, models.KindFloat, loader.Identifier(models.Float(1e20)).Kind())
}

func TestEdgeMutation_IntegralFloatKeys(t *testing.T) {
	// integer columns holding NaN are exported as floats
	data := "_id;exoId;aimId;aimCategory\n" +
		"1;1.0;10.0;primary\n"
	tbl, err := source.Parse(strings.NewReader(data), "HAS_AIM", source.Options{})
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 1)

	m, ok := loader.EdgeMutation(hasAim(), tbl.Rows[0])
	require.True(t, ok)
	assert.Equal(t, models.Int(1), m.From.ID)
	assert.Equal(t, models.Int(10), m.To.ID)

	query := sink.EdgeQuery(m)
	assert.Contains(t, query, "(a:Exo {_id: 1})")
	assert.Contains(t, query, "(b:Aim {_id: 10})")
	assert.NotContains(t, query, "1.0")

	t.Run("Matches integer node identifiers", func(t *testing.T) {
		mem := newStub("memory")
		seed(t, mem)
		l := loader.NewEdgeLoader(schema.Default(), []*sink.Bound{sink.Required(mem)}, nil)

		out, err := l.Apply(context.Background(), "HAS_AIM", tbl.Rows[0])
		require.NoError(t, err)
		assert.Equal(t, loader.Applied, out.Status)
		assert.Empty(t, out.Dangling)
	})

	t.Run("Node identifiers", func(t *testing.T) {
		row := models.Row{Line: 2, Fields: []models.Field{{Name: "_id", Value: models.Float(1)}}}
		n := loader.Mutation(schema.NodeTable{Name: "Exo", Label: "Exo", RetainID: true}, row)
		id, _ := n.Properties.Get("_id")
		assert.Equal(t, models.Int(1), id)
		assert.Contains(t, sink.NodeQuery(n), "_id: 1}")
	})
}

func TestUndeclaredColumns(t *testing.T) {
	cols := []string{"_id", "exoId", "aimId", "note", "aimCategory", "comment"}
	assert.Equal(t, []string{"comment", "note"}, loader.UndeclaredColumns(hasAim(), cols))
	assert.Empty(t, loader.UndeclaredColumns(hasAim(), []string{"exoId", "aimId"}))
}

func TestEdgeLoader_Apply(t *testing.T) {
	ctx := context.Background()
	catalog := schema.Default()

	t.Run("Creates edge", func(t *testing.T) {
		mem := newStub("memory")
		seed(t, mem)
		l := loader.NewEdgeLoader(catalog, []*sink.Bound{sink.Required(mem)}, nil)

		out, err := l.Apply(ctx, "HAS_AIM", edgeRow(2, models.Int(1), models.Int(10)))
		require.NoError(t, err)
		assert.Equal(t, loader.Applied, out.Status)
		assert.Empty(t, out.Dangling)
		assert.Len(t, mem.Graph().Edges("HAS_AIM"), 1)
	})

	t.Run("Dangling reference", func(t *testing.T) {
		rec := &recorder{}
		mem := newStub("memory")
		seed(t, mem)
		l := loader.NewEdgeLoader(catalog, []*sink.Bound{sink.Required(mem)}, rec)

		out, err := l.Apply(ctx, "HAS_AIM", edgeRow(3, models.Int(99), models.Int(10)))
		require.NoError(t, err)
		assert.Equal(t, loader.Applied, out.Status)
		assert.Equal(t, []string{"memory"}, out.Dangling)
		assert.Empty(t, mem.Graph().Edges("HAS_AIM"))

		dangling := rec.kind(loader.EventDanglingReference)
		require.Len(t, dangling, 1)
		assert.Equal(t, 3, dangling[0].Line)
	})

	t.Run("Missing key never reaches a sink", func(t *testing.T) {
		mem := newStub("memory")
		l := loader.NewEdgeLoader(catalog, []*sink.Bound{sink.Required(mem)}, nil)

		out, err := l.Apply(ctx, "HAS_AIM", edgeRow(4, models.Int(1), models.Null()))
		require.NoError(t, err)
		assert.Equal(t, loader.Skipped, out.Status)
		assert.Zero(t, mem.edgeCalls)
	})

	t.Run("Unmapped table", func(t *testing.T) {
		l := loader.NewEdgeLoader(catalog, nil, nil)
		out, err := l.Apply(ctx, "LIKES", edgeRow(5, models.Int(1), models.Int(10)))
		require.NoError(t, err)
		assert.Equal(t, loader.Ignored, out.Status)
		assert.Equal(t, "ignored", out.Status.String())
	})

	t.Run("Secondary failure is reported", func(t *testing.T) {
		primary := newStub("age")
		seed(t, primary)
		secondary := newStub("neo4j")
		secondary.failEdge = errBackend

		l := loader.NewEdgeLoader(catalog, []*sink.Bound{sink.Required(primary), sink.Optional(secondary)}, nil)
		out, err := l.Apply(ctx, "HAS_AIM", edgeRow(6, models.Int(1), models.Int(10)))
		require.NoError(t, err)
		assert.Equal(t, []string{"neo4j"}, out.Failed)
		assert.Empty(t, out.Dangling)
	})

	t.Run("Primary failure is returned", func(t *testing.T) {
		primary := newStub("age")
		primary.failEdge = errBackend

		l := loader.NewEdgeLoader(catalog, []*sink.Bound{sink.Required(primary)}, nil)
		_, err := l.Apply(ctx, "HAS_AIM", edgeRow(7, models.Int(1), models.Int(10)))
		assert.ErrorIs(t, err, errBackend)
	})
}
