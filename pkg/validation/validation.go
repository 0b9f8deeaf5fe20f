// Package validation implements the referential guard applied to
// relationship rows before they reach any backend.
package validation

import (
	"sort"
	"strings"
	"sync"

	"github.com/ha1tch/csvgraph/pkg/models"
)

// DefaultSuffix marks foreign key columns
const DefaultSuffix = "Id"

// Verdict is the outcome of checking one row
type Verdict struct {
	Valid bool
	// Offending lists the key columns that were null or missing
	Offending []string
}

// Validator checks relationship rows before they reach any backend and
// remembers which columns caused rejections
type Validator interface {
	CheckTable(table string, row models.Row, keys ...string) Verdict
	Offending(table string) []string
	Reset()
}

var _ Validator = (*Guard)(nil)

// Guard rejects rows whose foreign key columns are null. It keeps a
// per-table tally of the columns responsible.
type Guard struct {
	suffix string

	mu      sync.RWMutex
	columns map[string]map[string]int
}

// NewGuard creates a guard treating columns ending in suffix as foreign keys.
// An empty suffix falls back to DefaultSuffix.
func NewGuard(suffix string) *Guard {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	return &Guard{
		suffix:  suffix,
		columns: make(map[string]map[string]int),
	}
}

// Suffix returns the foreign key suffix
func (g *Guard) Suffix() string {
	return g.suffix
}

// IsForeignKey reports whether a column name follows the foreign key convention
func (g *Guard) IsForeignKey(col string) bool {
	return len(col) > len(g.suffix) && strings.HasSuffix(col, g.suffix)
}

// Check validates a row. Every foreign key column present must be non-null
// and every listed key must be present and non-null.
func (g *Guard) Check(row models.Row, keys ...string) Verdict {
	var offending []string
	seen := make(map[string]bool)

	for _, f := range row.Fields {
		if g.IsForeignKey(f.Name) && f.Value.IsNull() {
			offending = append(offending, f.Name)
			seen[f.Name] = true
		}
	}
	for _, k := range keys {
		if seen[k] {
			continue
		}
		if v, ok := row.Get(k); !ok || v.IsNull() {
			offending = append(offending, k)
			seen[k] = true
		}
	}

	return Verdict{Valid: len(offending) == 0, Offending: offending}
}

// CheckTable validates a row and records a rejection against table
func (g *Guard) CheckTable(table string, row models.Row, keys ...string) Verdict {
	v := g.Check(row, keys...)
	if v.Valid {
		return v
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	cols, ok := g.columns[table]
	if !ok {
		cols = make(map[string]int)
		g.columns[table] = cols
	}
	for _, c := range v.Offending {
		cols[c]++
	}
	return v
}

// Offending returns the columns that caused rejections in table, sorted
func (g *Guard) Offending(table string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]string, 0, len(g.columns[table]))
	for c := range g.columns[table] {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Reset clears all tallies
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.columns = make(map[string]map[string]int)
}
