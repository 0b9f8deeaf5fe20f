package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// IDColumn is the relational row identifier carried by every source table
const IDColumn = "_id"

// Kind identifies the scalar type held by a Value
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	default:
		return "null"
	}
}

// Value is a scalar cell value: null, boolean, integer, float or string
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
}

// Null returns the explicit null value
func Null() Value { return Value{} }

// Bool returns a boolean value
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an integer value
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a float value
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String returns a string value
func String(s string) Value { return Value{kind: KindString, s: s} }

// FromAny converts a Go scalar into a Value. Unsupported types are
// rendered with fmt and stored as strings.
func FromAny(v interface{}) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case bool:
		return Bool(x)
	case int:
		return Int(int64(x))
	case int32:
		return Int(int64(x))
	case int64:
		return Int(x)
	case float32:
		return Float(float64(x))
	case float64:
		return Float(x)
	case string:
		return String(x)
	default:
		return String(fmt.Sprint(x))
	}
}

// Kind returns the stored kind
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value must be treated as null: the null marker,
// an empty string, or a NaN float.
func (v Value) IsNull() bool {
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.s == ""
	case KindFloat:
		return math.IsNaN(v.f)
	}
	return false
}

// Normalize maps every null-like value onto the explicit null
func (v Value) Normalize() Value {
	if v.IsNull() {
		return Null()
	}
	return v
}

// AsBool returns the boolean payload
func (v Value) AsBool() bool { return v.b }

// AsInt returns the integer payload
func (v Value) AsInt() int64 { return v.i }

// AsFloat returns the float payload
func (v Value) AsFloat() float64 { return v.f }

// AsString returns the string payload
func (v Value) AsString() string { return v.s }

// Interface returns the value as a plain Go scalar (nil for null)
func (v Value) Interface() interface{} {
	switch v.Normalize().kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	default:
		return nil
	}
}

// String renders the value for diagnostics
func (v Value) String() string {
	switch v.Normalize().kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return v.s
	default:
		return "null"
	}
}

// MarshalJSON encodes the value as its plain JSON scalar
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindFloat && math.IsInf(v.f, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v.Interface())
}

// UnmarshalJSON decodes a plain JSON scalar. Numbers without a fraction or
// exponent decode as integers.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			*v = Int(i)
			return nil
		}
		f, err := x.Float64()
		if err != nil {
			return err
		}
		*v = Float(f)
	case nil, bool, string:
		*v = FromAny(x)
	default:
		return fmt.Errorf("value must be a JSON scalar, got %s", data)
	}
	return nil
}

// Field is one named value of a row
type Field struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// Row is an ordered mapping from column name to value
type Row struct {
	Line   int     `json:"line"`
	Fields []Field `json:"fields"`
}

// Get returns the value stored under name
func (r Row) Get(name string) (Value, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Null(), false
}

// Columns returns the column names in order
func (r Row) Columns() []string {
	cols := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		cols[i] = f.Name
	}
	return cols
}

// IsBlank reports whether every field of the row is null
func (r Row) IsBlank() bool {
	for _, f := range r.Fields {
		if !f.Value.IsNull() {
			return false
		}
	}
	return true
}

// Map returns the row as a plain map, used for diagnostics
func (r Row) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(r.Fields))
	for _, f := range r.Fields {
		m[f.Name] = f.Value.Interface()
	}
	return m
}

// Properties is an ordered property set of a node or edge
type Properties []Field

// Get returns the value stored under name
func (p Properties) Get(name string) (Value, bool) {
	return Row{Fields: p}.Get(name)
}

// Map returns the properties as a plain map
func (p Properties) Map() map[string]interface{} {
	return Row{Fields: p}.Map()
}

// NodeMutation creates one labeled node
type NodeMutation struct {
	Table      string
	Line       int
	Label      string
	Properties Properties
}

// NodeRef locates an existing node by label and retained identifier
type NodeRef struct {
	Label string
	ID    Value
}

// EdgeMutation creates one directed, typed edge between two matched nodes
type EdgeMutation struct {
	Table      string
	Line       int
	Type       string
	From       NodeRef
	To         NodeRef
	Properties Properties
}

// TableKind classifies a processed table in reports
type TableKind string

const (
	TableNodes   TableKind = "node"
	TableEdges   TableKind = "edge"
	TableIgnored TableKind = "ignored"
)

// TableReport summarises the load of one table
type TableReport struct {
	Table      string         `json:"table"`
	Kind       TableKind      `json:"kind"`
	Rows       int            `json:"rows"`
	Applied    int            `json:"applied"`
	Skipped    int            `json:"skipped"`
	Dangling   map[string]int `json:"dangling,omitempty"`
	Failures   map[string]int `json:"sink_failures,omitempty"`
	RolledBack bool           `json:"rolled_back,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// AddDangling counts one dangling reference reported by a sink
func (t *TableReport) AddDangling(sink string) {
	if t.Dangling == nil {
		t.Dangling = make(map[string]int)
	}
	t.Dangling[sink]++
}

// AddFailure counts one failed mutation on a best-effort sink
func (t *TableReport) AddFailure(sink string) {
	if t.Failures == nil {
		t.Failures = make(map[string]int)
	}
	t.Failures[sink]++
}

// Report summarises a complete run
type Report struct {
	RunID        string        `json:"run_id"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time,omitempty"`
	Duration     float64       `json:"duration,omitempty"`
	Sinks        []string      `json:"sinks"`
	Degraded     []string      `json:"degraded,omitempty"`
	Tables       []TableReport `json:"tables"`
	Nodes        int           `json:"nodes"`
	Edges        int           `json:"edges"`
	Skipped      int           `json:"skipped"`
	Dangling     int           `json:"dangling"`
	FailedTables int           `json:"failed_tables"`
	Error        string        `json:"error,omitempty"`
}

// Add folds a table report into the run totals
func (r *Report) Add(t TableReport) {
	r.Tables = append(r.Tables, t)
	switch t.Kind {
	case TableNodes:
		r.Nodes += t.Applied
	case TableEdges:
		r.Edges += t.Applied
	}
	r.Skipped += t.Skipped
	for _, n := range t.Dangling {
		r.Dangling += n
	}
	if t.Error != "" {
		r.FailedTables++
	}
}

// ErrorResponse is the body of a failed status request
type ErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Status  int    `json:"status"`
	} `json:"error"`
}
