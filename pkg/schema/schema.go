// Package schema holds the static table classification: which source tables
// produce nodes, which produce relationships, and how relationship rows
// locate their endpoint nodes.
package schema

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ha1tch/csvgraph/pkg/cypher"
	"gopkg.in/yaml.v3"
)

// ErrInvalidCatalog is returned when a catalog fails validation
var ErrInvalidCatalog = errors.New("invalid catalog")

// Kind is the classification of a source table
type Kind int

const (
	Unrecognized Kind = iota
	Node
	Edge
)

func (k Kind) String() string {
	switch k {
	case Node:
		return "node"
	case Edge:
		return "edge"
	default:
		return "unrecognized"
	}
}

// NodeTable describes a table whose rows become nodes
type NodeTable struct {
	Name     string `yaml:"name" json:"name"`
	Label    string `yaml:"label" json:"label"`
	RetainID bool   `yaml:"retain_id" json:"retain_id"`
}

// EdgeTable describes a table whose rows become relationships.
// The table name is the relationship type.
type EdgeTable struct {
	Type       string   `yaml:"type" json:"type"`
	FromLabel  string   `yaml:"from_label" json:"from_label"`
	FromKey    string   `yaml:"from_key" json:"from_key"`
	ToLabel    string   `yaml:"to_label" json:"to_label"`
	ToKey      string   `yaml:"to_key" json:"to_key"`
	Properties []string `yaml:"properties,omitempty" json:"properties,omitempty"`
}

// Classification is the result of classifying one table name
type Classification struct {
	Kind Kind
	Node NodeTable
	Edge EdgeTable
}

// Catalog is the static table classification
type Catalog struct {
	nodes map[string]NodeTable
	edges map[string]EdgeTable
}

// NewCatalog builds a catalog from node and edge table definitions.
// Empty node labels default to the table name.
func NewCatalog(nodes []NodeTable, edges []EdgeTable) (*Catalog, error) {
	c := &Catalog{
		nodes: make(map[string]NodeTable, len(nodes)),
		edges: make(map[string]EdgeTable, len(edges)),
	}
	for _, n := range nodes {
		if n.Label == "" {
			n.Label = n.Name
		}
		if _, dup := c.nodes[n.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate node table %q", ErrInvalidCatalog, n.Name)
		}
		c.nodes[n.Name] = n
	}
	for _, e := range edges {
		if _, dup := c.edges[e.Type]; dup {
			return nil, fmt.Errorf("%w: duplicate edge table %q", ErrInvalidCatalog, e.Type)
		}
		c.edges[e.Type] = e
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Classify looks up a table name. Matching is exact and case-sensitive.
func (c *Catalog) Classify(table string) Classification {
	if n, ok := c.nodes[table]; ok {
		return Classification{Kind: Node, Node: n}
	}
	if e, ok := c.edges[table]; ok {
		return Classification{Kind: Edge, Edge: e}
	}
	return Classification{Kind: Unrecognized}
}

// Edge returns the mapping for a relationship type
func (c *Catalog) Edge(relType string) (EdgeTable, bool) {
	e, ok := c.edges[relType]
	return e, ok
}

// NodeTables returns all node tables sorted by name
func (c *Catalog) NodeTables() []NodeTable {
	out := make([]NodeTable, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EdgeTables returns all edge tables sorted by relationship type
func (c *Catalog) EdgeTables() []EdgeTable {
	out := make([]EdgeTable, 0, len(c.edges))
	for _, e := range c.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Validate checks that every name is a plain identifier, that node and edge
// table names do not collide and that every edge endpoint is a node table
// retaining its identifier.
func (c *Catalog) Validate() error {
	var problems []string

	labels := make(map[string]NodeTable, len(c.nodes))
	for name, n := range c.nodes {
		if !cypher.IsPlainIdent(name) {
			problems = append(problems, fmt.Sprintf("node table name %q is not a plain identifier", name))
		}
		if !cypher.IsPlainIdent(n.Label) {
			problems = append(problems, fmt.Sprintf("node label %q is not a plain identifier", n.Label))
		}
		labels[n.Label] = n
	}

	for name, e := range c.edges {
		if _, clash := c.nodes[name]; clash {
			problems = append(problems, fmt.Sprintf("%s is both a node and an edge table", name))
		}
		if !cypher.IsPlainIdent(e.Type) {
			problems = append(problems, fmt.Sprintf("relationship type %q is not a plain identifier", e.Type))
		}
		if e.FromKey == "" || e.ToKey == "" {
			problems = append(problems, fmt.Sprintf("%s: both key columns are required", name))
		}
		if e.FromKey != "" && e.FromKey == e.ToKey {
			problems = append(problems, fmt.Sprintf("%s: from and to keys must differ", name))
		}
		for _, end := range []string{e.FromLabel, e.ToLabel} {
			n, ok := labels[end]
			switch {
			case !ok:
				problems = append(problems, fmt.Sprintf("%s: endpoint label %q is not a node table", name, end))
			case !n.RetainID:
				problems = append(problems, fmt.Sprintf("%s: endpoint label %q does not retain its identifier", name, end))
			}
		}
		seen := map[string]bool{e.FromKey: true, e.ToKey: true}
		for _, p := range e.Properties {
			if seen[p] {
				problems = append(problems, fmt.Sprintf("%s: property column %q repeats a key or property", name, p))
			}
			seen[p] = true
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("%w: %s", ErrInvalidCatalog, strings.Join(problems, "; "))
	}
	return nil
}

type catalogFile struct {
	Nodes []NodeTable `yaml:"nodes"`
	Edges []EdgeTable `yaml:"edges"`
}

// Parse reads a catalog from YAML
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse mapping: %w", err)
	}
	return NewCatalog(f.Nodes, f.Edges)
}

// LoadFile reads a catalog from a YAML mapping file
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping: %w", err)
	}
	return Parse(data)
}

// Marshal renders the catalog in the mapping file format
func (c *Catalog) Marshal() ([]byte, error) {
	return yaml.Marshal(catalogFile{Nodes: c.NodeTables(), Edges: c.EdgeTables()})
}
