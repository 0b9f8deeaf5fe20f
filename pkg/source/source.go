// Package source reads a directory of delimited exports into typed rows.
package source

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ha1tch/csvgraph/pkg/models"
)

// Extension is the file suffix of source tables
const Extension = ".csv"

// ErrNoTable is returned when a table file does not exist
var ErrNoTable = errors.New("table not found")

// naMarkers are the cell values read as missing
var naMarkers = map[string]bool{
	"": true, "NaN": true, "nan": true, "-NaN": true, "-nan": true,
	"NULL": true, "null": true, "None": true, "NA": true, "N/A": true,
	"n/a": true, "#N/A": true, "#NA": true, "<NA>": true,
}

// Options controls parsing
type Options struct {
	// Delimiter forces a field separator; zero means detect from the header
	Delimiter rune
	// BoolExempt lists table or column names excluded from Ja/Nee conversion
	BoolExempt []string
}

// Table is one parsed source table
type Table struct {
	Name      string
	Path      string
	Delimiter rune
	Columns   []string
	Rows      []models.Row
}

// Dir is a directory of source tables
type Dir struct {
	path string
	opts Options
}

// NewDir opens a source directory
func NewDir(path string, opts Options) (*Dir, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("source directory does not exist: %s: %w", path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source path is not a directory: %s", path)
	}
	return &Dir{path: path, opts: opts}, nil
}

// Path returns the directory path
func (d *Dir) Path() string {
	return d.path
}

// Tables returns the names of all tables in the directory, sorted
func (d *Dir) Tables() ([]string, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), Extension) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), Extension)
		if name == "" || strings.HasPrefix(name, "_") {
			// temp files such as _temp.csv
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Read parses one table by name
func (d *Dir) Read(name string) (*Table, error) {
	path := filepath.Join(d.path, name+Extension)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNoTable, name)
	}
	return ReadFile(path, d.opts)
}

// ReadFile parses a single file; the table name is the file base name
func ReadFile(path string, opts Options) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	t, err := Parse(f, name, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	t.Path = path
	return t, nil
}

// Parse reads a delimited table from r
func Parse(r io.Reader, name string, opts Options) (*Table, error) {
	br := bufio.NewReader(r)

	delim := opts.Delimiter
	if delim == 0 {
		header, err := br.Peek(4096)
		if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
			return nil, err
		}
		first := string(header)
		if i := strings.IndexByte(first, '\n'); i >= 0 {
			first = first[:i]
		}
		delim = DetectDelimiter(first)
	}

	reader := csv.NewReader(br)
	reader.Comma = delim
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	t := &Table{Name: name, Delimiter: delim}

	header, err := reader.Read()
	if err == io.EOF {
		return t, nil
	}
	if err != nil {
		return nil, err
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	// keep maps a header position to its output column, -1 for synthetic columns
	keep := make([]int, len(header))
	seen := make(map[string]int)
	for i, col := range header {
		col = strings.TrimSpace(col)
		if IsSynthetic(col) {
			keep[i] = -1
			continue
		}
		if n, dup := seen[col]; dup {
			seen[col] = n + 1
			col = fmt.Sprintf("%s.%d", col, n+1)
		} else {
			seen[col] = 0
		}
		keep[i] = len(t.Columns)
		t.Columns = append(t.Columns, col)
	}

	var raw [][]string
	var lines []int
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := reader.FieldPos(0)

		cells := make([]string, len(t.Columns))
		for i, cell := range record {
			if i >= len(keep) || keep[i] < 0 {
				continue
			}
			cells[keep[i]] = cell
		}
		raw = append(raw, cells)
		lines = append(lines, line)
	}

	boolCols := booleanColumns(t, raw, opts.BoolExempt)

	t.Rows = make([]models.Row, len(raw))
	for r, cells := range raw {
		fields := make([]models.Field, len(t.Columns))
		for c, col := range t.Columns {
			var v models.Value
			if boolCols[c] {
				v = parseJaNee(cells[c])
			} else {
				v = ParseValue(cells[c])
			}
			fields[c] = models.Field{Name: col, Value: v}
		}
		t.Rows[r] = models.Row{Line: lines[r], Fields: fields}
	}

	return t, nil
}

// IsSynthetic reports whether a header names an index column written by
// the exporting tool rather than a real column
func IsSynthetic(col string) bool {
	return col == "" || strings.HasPrefix(col, "Unnamed:")
}

// DetectDelimiter picks the most frequent candidate separator of the
// header line, preferring ';' on ties
func DetectDelimiter(header string) rune {
	best, bestCount := ';', strings.Count(header, ";")
	for _, c := range []rune{',', '\t', '|'} {
		if n := strings.Count(header, string(c)); n > bestCount {
			best, bestCount = c, n
		}
	}
	return best
}

// ParseValue converts one raw cell into a typed value
func ParseValue(s string) models.Value {
	trimmed := strings.TrimSpace(s)
	if naMarkers[trimmed] {
		return models.Null()
	}
	switch trimmed {
	case "True", "true", "TRUE":
		return models.Bool(true)
	case "False", "false", "FALSE":
		return models.Bool(false)
	}
	if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil && !leadingZero(trimmed) {
		return models.Int(i)
	}
	if looksNumeric(trimmed) {
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return models.Float(f)
		}
	}
	return models.String(s)
}

// leadingZero keeps codes like "007" as strings
func leadingZero(s string) bool {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "-"), "+")
	return len(s) > 1 && s[0] == '0'
}

// looksNumeric rejects words ParseFloat accepts, such as "inf" or "infinity"
func looksNumeric(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && !strings.ContainsRune("+-.eE", r) {
			return false
		}
	}
	return strings.ContainsAny(s, "0123456789")
}

func isJaNee(s string) bool {
	l := strings.ToLower(strings.TrimSpace(s))
	return l == "ja" || l == "nee"
}

func parseJaNee(s string) models.Value {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ja":
		return models.Bool(true)
	case "nee":
		return models.Bool(false)
	default:
		return models.Null()
	}
}

// booleanColumns marks every column holding at least one Ja/Nee value,
// unless the table or the column is exempt
func booleanColumns(t *Table, raw [][]string, exempt []string) []bool {
	out := make([]bool, len(t.Columns))
	skip := make(map[string]bool, len(exempt))
	for _, e := range exempt {
		skip[e] = true
	}
	if skip[t.Name] {
		return out
	}
	for c, col := range t.Columns {
		if skip[col] {
			continue
		}
		for _, cells := range raw {
			if isJaNee(cells[c]) {
				out[c] = true
				break
			}
		}
	}
	return out
}
