package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/ha1tch/csvgraph/pkg/models"
)

// Node is a labeled node with an internal identifier
type Node struct {
	ID         int               `json:"id"`
	Label      string            `json:"label"`
	Properties models.Properties `json:"properties"`
}

// Edge is a directed, typed edge between two internal node identifiers
type Edge struct {
	Type       string            `json:"type"`
	From       int               `json:"from"`
	To         int               `json:"to"`
	Properties models.Properties `json:"properties"`
}

// Mark records the graph size so later additions can be rolled back
type Mark struct {
	nodes int
	edges int
}

// IndexedGraph is an in-memory property graph indexed by label and the
// retained identifier property
type IndexedGraph struct {
	nodes     []Node
	edges     []Edge
	adjacency map[int][]int               // node -> outgoing edge positions
	index     map[string]map[string][]int // label -> identity key -> nodes
	mu        sync.RWMutex
}

// NewIndexedGraph creates a new indexed graph
func NewIndexedGraph() *IndexedGraph {
	return &IndexedGraph{
		adjacency: make(map[int][]int),
		index:     make(map[string]map[string][]int),
	}
}

// IdentityKey returns the lookup key of an identifier value. Integral floats
// share the key of the equal integer, as in Cypher equality. Null has no key
// and never matches.
func IdentityKey(v models.Value) (string, bool) {
	v = v.Normalize()
	switch v.Kind() {
	case models.KindInt:
		return "n:" + strconv.FormatInt(v.AsInt(), 10), true
	case models.KindFloat:
		f := v.AsFloat()
		if f == float64(int64(f)) {
			return "n:" + strconv.FormatInt(int64(f), 10), true
		}
		return "n:" + strconv.FormatFloat(f, 'g', -1, 64), true
	case models.KindBool:
		return "b:" + strconv.FormatBool(v.AsBool()), true
	case models.KindString:
		return "s:" + v.AsString(), true
	default:
		return "", false
	}
}

// AddNode adds a node and returns its internal identifier
func (g *IndexedGraph) AddNode(label string, props models.Properties) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := len(g.nodes)
	g.nodes = append(g.nodes, Node{ID: id, Label: label, Properties: props})
	g.indexNode(id)
	return id
}

func (g *IndexedGraph) indexNode(id int) {
	n := g.nodes[id]
	v, ok := n.Properties.Get(models.IDColumn)
	if !ok {
		return
	}
	key, ok := IdentityKey(v)
	if !ok {
		return
	}
	byKey, exists := g.index[n.Label]
	if !exists {
		byKey = make(map[string][]int)
		g.index[n.Label] = byKey
	}
	byKey[key] = append(byKey[key], id)
}

// Match returns the nodes carrying ref's label and identifier
func (g *IndexedGraph) Match(ref models.NodeRef) []int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.match(ref)
}

func (g *IndexedGraph) match(ref models.NodeRef) []int {
	key, ok := IdentityKey(ref.ID)
	if !ok {
		return nil
	}
	return g.index[ref.Label][key]
}

// AddEdge creates one edge for every pair of matched endpoints and returns
// the number created. Zero means at least one endpoint did not match.
func (g *IndexedGraph) AddEdge(relType string, from, to models.NodeRef, props models.Properties) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	sources := g.match(from)
	targets := g.match(to)

	created := 0
	for _, a := range sources {
		for _, b := range targets {
			pos := len(g.edges)
			g.edges = append(g.edges, Edge{Type: relType, From: a, To: b, Properties: props})
			g.adjacency[a] = append(g.adjacency[a], pos)
			created++
		}
	}
	return created
}

// Node returns a node by internal identifier
func (g *IndexedGraph) Node(id int) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if id < 0 || id >= len(g.nodes) {
		return Node{}, false
	}
	return g.nodes[id], true
}

// Outgoing returns a copy of the edges leaving a node
func (g *IndexedGraph) Outgoing(id int) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	result := make([]Edge, 0, len(g.adjacency[id]))
	for _, pos := range g.adjacency[id] {
		result = append(result, g.edges[pos])
	}
	return result
}

// Edges returns a copy of all edges of a relationship type
func (g *IndexedGraph) Edges(relType string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var result []Edge
	for _, e := range g.edges {
		if e.Type == relType {
			result = append(result, e)
		}
	}
	return result
}

// Mark returns the current size of the graph
func (g *IndexedGraph) Mark() Mark {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Mark{nodes: len(g.nodes), edges: len(g.edges)}
}

// Rollback discards every node and edge added after m
func (g *IndexedGraph) Rollback(m Mark) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if m.nodes > len(g.nodes) || m.edges > len(g.edges) {
		return
	}
	g.nodes = g.nodes[:m.nodes]
	g.edges = g.edges[:m.edges]
	g.rebuild()
}

func (g *IndexedGraph) rebuild() {
	g.adjacency = make(map[int][]int)
	g.index = make(map[string]map[string][]int)
	for id := range g.nodes {
		g.indexNode(id)
	}
	for pos, e := range g.edges {
		g.adjacency[e.From] = append(g.adjacency[e.From], pos)
	}
}

// Clear removes all nodes and edges
func (g *IndexedGraph) Clear() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes = nil
	g.edges = nil
	g.adjacency = make(map[int][]int)
	g.index = make(map[string]map[string][]int)

	return nil
}

// NodeCount returns the number of nodes in the graph
func (g *IndexedGraph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph
func (g *IndexedGraph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// Stats summarises the graph by label and relationship type
type Stats struct {
	Nodes       int            `json:"nodes"`
	Edges       int            `json:"edges"`
	NodesByType map[string]int `json:"nodes_by_label"`
	EdgesByType map[string]int `json:"edges_by_type"`
}

// Stats returns node counts per label and edge counts per type
func (g *IndexedGraph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := Stats{
		Nodes:       len(g.nodes),
		Edges:       len(g.edges),
		NodesByType: make(map[string]int),
		EdgesByType: make(map[string]int),
	}
	for _, n := range g.nodes {
		s.NodesByType[n.Label]++
	}
	for _, e := range g.edges {
		s.EdgesByType[e.Type]++
	}
	return s
}

type dump struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Save writes the graph to a JSON file
func (g *IndexedGraph) Save(filename string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	data, err := json.MarshalIndent(dump{Nodes: g.nodes, Edges: g.edges}, "", "  ")
	if err != nil {
		return err
	}

	tempFile := filename + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempFile, filename)
}

// Load replaces the graph with the contents of a JSON file
func (g *IndexedGraph) Load(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	var d dump
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("failed to decode graph: %w", err)
	}
	for i, n := range d.Nodes {
		if n.ID != i {
			return fmt.Errorf("node %d out of order in %s", n.ID, filename)
		}
	}
	for _, e := range d.Edges {
		if e.From < 0 || e.From >= len(d.Nodes) || e.To < 0 || e.To >= len(d.Nodes) {
			return fmt.Errorf("edge %s references unknown node", e.Type)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes = d.Nodes
	g.edges = d.Edges
	g.rebuild()

	return nil
}
