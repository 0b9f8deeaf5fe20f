package graph_test

import (
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/ha1tch/csvgraph/pkg/graph"
	"github.com/ha1tch/csvgraph/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(id int64, name string) models.Properties {
	return models.Properties{
		{Name: models.IDColumn, Value: models.Int(id)},
		{Name: "name", Value: models.String(name)},
	}
}

func ref(label string, id models.Value) models.NodeRef {
	return models.NodeRef{Label: label, ID: id}
}

func TestAddNodeAndMatch(t *testing.T) {
	g := graph.NewIndexedGraph()
	exo := g.AddNode("Exo", node(1, "Knee Exo"))
	g.AddNode("Aim", node(1, "Lift"))

	assert.Equal(t, []int{exo}, g.Match(ref("Exo", models.Int(1))))
	assert.Equal(t, []int{exo}, g.Match(ref("Exo", models.Float(1))), "integral float matches integer")
	assert.Empty(t, g.Match(ref("Exo", models.String("1"))))
	assert.Empty(t, g.Match(ref("Exo", models.Null())))
	assert.Empty(t, g.Match(ref("Exo", models.Int(99))))

	n, ok := g.Node(exo)
	require.True(t, ok)
	assert.Equal(t, "Exo", n.Label)
	name, _ := n.Properties.Get("name")
	assert.Equal(t, "Knee Exo", name.AsString())

	_, ok = g.Node(42)
	assert.False(t, ok)
}

func TestAddEdge(t *testing.T) {
	g := graph.NewIndexedGraph()
	exo := g.AddNode("Exo", node(1, "Knee Exo"))
	aim := g.AddNode("Aim", node(2, "Lift"))

	props := models.Properties{{Name: "aimCategory", Value: models.String("primary")}}
	created := g.AddEdge("HAS_AIM", ref("Exo", models.Int(1)), ref("Aim", models.Int(2)), props)
	assert.Equal(t, 1, created)

	out := g.Outgoing(exo)
	require.Len(t, out, 1)
	assert.Equal(t, "HAS_AIM", out[0].Type)
	assert.Equal(t, aim, out[0].To)

	t.Run("Dangling endpoint creates nothing", func(t *testing.T) {
		created := g.AddEdge("HAS_AIM", ref("Exo", models.Int(99)), ref("Aim", models.Int(2)), props)
		assert.Equal(t, 0, created)
		assert.Equal(t, 1, g.EdgeCount())
	})

	t.Run("Duplicate rows are not deduplicated", func(t *testing.T) {
		g.AddEdge("HAS_AIM", ref("Exo", models.Int(1)), ref("Aim", models.Int(2)), props)
		assert.Len(t, g.Edges("HAS_AIM"), 2)
	})
}

func TestAddEdgeMatchesEveryPair(t *testing.T) {
	g := graph.NewIndexedGraph()
	g.AddNode("Exo", node(1, "a"))
	g.AddNode("Exo", node(1, "b"))
	g.AddNode("Aim", node(2, "c"))

	assert.Equal(t, 2, g.AddEdge("HAS_AIM", ref("Exo", models.Int(1)), ref("Aim", models.Int(2)), nil))
}

func TestMarkRollback(t *testing.T) {
	g := graph.NewIndexedGraph()
	g.AddNode("Exo", node(1, "Knee Exo"))
	m := g.Mark()

	g.AddNode("Exo", node(2, "Hip Exo"))
	g.AddEdge("SIMILAR_TO", ref("Exo", models.Int(1)), ref("Exo", models.Int(2)), nil)
	require.Equal(t, 2, g.NodeCount())

	g.Rollback(m)
	assert.Equal(t, 1, g.NodeCount())
	assert.Equal(t, 0, g.EdgeCount())
	assert.Empty(t, g.Match(ref("Exo", models.Int(2))))
	assert.Len(t, g.Match(ref("Exo", models.Int(1))), 1)
}

func TestStatsAndClear(t *testing.T) {
	g := graph.NewIndexedGraph()
	g.AddNode("Exo", node(1, "a"))
	g.AddNode("Exo", node(2, "b"))
	g.AddNode("Aim", node(1, "c"))
	g.AddEdge("HAS_AIM", ref("Exo", models.Int(1)), ref("Aim", models.Int(1)), nil)

	s := g.Stats()
	assert.Equal(t, 3, s.Nodes)
	assert.Equal(t, map[string]int{"Exo": 2, "Aim": 1}, s.NodesByType)
	assert.Equal(t, map[string]int{"HAS_AIM": 1}, s.EdgesByType)

	require.NoError(t, g.Clear())
	assert.Equal(t, 0, g.NodeCount())
	assert.Equal(t, 0, g.EdgeCount())
	assert.Empty(t, g.Match(ref("Exo", models.Int(1))))
}

func TestSaveLoad(t *testing.T) {
	g := graph.NewIndexedGraph()
	g.AddNode("Exo", models.Properties{
		{Name: models.IDColumn, Value: models.Int(1)},
		{Name: "name", Value: models.String("It's \"quoted\"")},
		{Name: "weight", Value: models.Float(2.5)},
		{Name: "certified", Value: models.Bool(true)},
		{Name: "notes", Value: models.Null()},
	})
	g.AddNode("Aim", node(2, "Lift"))
	g.AddEdge("HAS_AIM", ref("Exo", models.Int(1)), ref("Aim", models.Int(2)),
		models.Properties{{Name: "aimCategory", Value: models.String("primary")}})

	path := filepath.Join(t.TempDir(), "graph.json")
	require.NoError(t, g.Save(path))

	loaded := graph.NewIndexedGraph()
	require.NoError(t, loaded.Load(path))

	assert.Equal(t, g.Stats(), loaded.Stats())
	ids := loaded.Match(ref("Exo", models.Int(1)))
	require.Len(t, ids, 1)

	n, _ := loaded.Node(ids[0])
	id, _ := n.Properties.Get(models.IDColumn)
	assert.Equal(t, models.KindInt, id.Kind())
	weight, _ := n.Properties.Get("weight")
	assert.Equal(t, 2.5, weight.AsFloat())
	notes, _ := n.Properties.Get("notes")
	assert.True(t, notes.IsNull())

	out := loaded.Outgoing(ids[0])
	require.Len(t, out, 1)
	assert.Equal(t, "HAS_AIM", out[0].Type)
}

func TestLoadMissingFile(t *testing.T) {
	g := graph.NewIndexedGraph()
	err := g.Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Equal(t, 0, g.NodeCount())
}
