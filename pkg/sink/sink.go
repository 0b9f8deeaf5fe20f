// Package sink defines the graph backends a load writes into and the
// failure policies that bind them to a run.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/ha1tch/csvgraph/pkg/models"
)

var (
	// ErrUnknownSink is returned when no factory is registered for a sink type
	ErrUnknownSink = errors.New("unknown sink type")
	// ErrClosed is returned by operations on a closed sink
	ErrClosed = errors.New("sink is closed")
	// ErrNoTable is returned when a table scope is ended without being begun
	ErrNoTable = errors.New("no table in progress")
)

// Sink is a graph backend. Mutations issued between BeginTable and EndTable
// form one table scope; EndTable(false) discards them. Commit makes every
// completed table durable.
type Sink interface {
	Name() string

	// Reset drops all graph state and prepares an empty graph
	Reset(ctx context.Context) error

	BeginTable(ctx context.Context, table string) error
	CreateNode(ctx context.Context, m models.NodeMutation) error
	// CreateEdge returns the number of edges created. Zero means one of the
	// endpoints did not match any node.
	CreateEdge(ctx context.Context, m models.EdgeMutation) (int, error)
	EndTable(ctx context.Context, ok bool) error

	Commit(ctx context.Context) error
	Close() error
}

// Info provides metadata about a sink implementation
type Info struct {
	Type          string // "age", "neo4j", "sqlite", "memory"
	Version       string
	Transactional bool
	Parameterized bool
}

// InfoProvider allows sinks to describe their capabilities
type InfoProvider interface {
	Info() Info
}

// QueryError is a failed mutation together with the query that produced it
type QueryError struct {
	Sink   string
	Query  string
	Code   string
	Detail string
	Err    error
}

func (e *QueryError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Sink, e.Err)
	if e.Code != "" {
		msg += fmt.Sprintf(" (SQLSTATE %s)", e.Code)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// QueryOf returns the query text carried by err, if any
func QueryOf(err error) string {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Query
	}
	return ""
}

// DegradedError marks a failure on a best-effort sink. The run continues.
type DegradedError struct {
	Sink string
	// Disabled is set when the sink takes no further part in the run
	Disabled bool
	Err      error
}

func (e *DegradedError) Error() string {
	if e.Disabled {
		return fmt.Sprintf("%s disabled: %v", e.Sink, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Sink, e.Err)
}

func (e *DegradedError) Unwrap() error {
	return e.Err
}

// IsDegraded reports whether err came from a best-effort sink
func IsDegraded(err error) bool {
	var de *DegradedError
	return errors.As(err, &de)
}

// Policy decides how a sink's failures affect the run
type Policy int

const (
	// PolicyRequired failures abort the current table, or the run on reset
	PolicyRequired Policy = iota
	// PolicyOptional failures are reported and never abort anything
	PolicyOptional
)

func (p Policy) String() string {
	if p == PolicyOptional {
		return "optional"
	}
	return "required"
}

// Bound is a sink bound to a failure policy. It implements Sink.
type Bound struct {
	sink     Sink
	policy   Policy
	disabled error
}

// Required binds a sink whose failures abort work
func Required(s Sink) *Bound {
	return &Bound{sink: s, policy: PolicyRequired}
}

// Optional binds a best-effort sink. Its errors are returned as
// *DegradedError and a failed Reset disables it for the rest of the run.
func Optional(s Sink) *Bound {
	return &Bound{sink: s, policy: PolicyOptional}
}

// Name returns the underlying sink name
func (b *Bound) Name() string { return b.sink.Name() }

// Policy returns the failure policy
func (b *Bound) Policy() Policy { return b.policy }

// Required reports whether failures of this sink abort work
func (b *Bound) Required() bool { return b.policy == PolicyRequired }

// Disabled reports whether the sink has been dropped from the run
func (b *Bound) Disabled() bool { return b.disabled != nil }

// Unwrap returns the underlying sink
func (b *Bound) Unwrap() Sink { return b.sink }

func (b *Bound) wrap(err error) error {
	if err == nil || b.policy == PolicyRequired {
		return err
	}
	return &DegradedError{Sink: b.sink.Name(), Err: err}
}

func (b *Bound) Reset(ctx context.Context) error {
	if b.disabled != nil {
		return nil
	}
	err := b.sink.Reset(ctx)
	if err != nil && b.policy == PolicyOptional {
		b.disabled = err
		return &DegradedError{Sink: b.sink.Name(), Disabled: true, Err: err}
	}
	return err
}

func (b *Bound) BeginTable(ctx context.Context, table string) error {
	if b.disabled != nil {
		return nil
	}
	return b.wrap(b.sink.BeginTable(ctx, table))
}

func (b *Bound) CreateNode(ctx context.Context, m models.NodeMutation) error {
	if b.disabled != nil {
		return nil
	}
	return b.wrap(b.sink.CreateNode(ctx, m))
}

func (b *Bound) CreateEdge(ctx context.Context, m models.EdgeMutation) (int, error) {
	if b.disabled != nil {
		return 0, nil
	}
	n, err := b.sink.CreateEdge(ctx, m)
	return n, b.wrap(err)
}

func (b *Bound) EndTable(ctx context.Context, ok bool) error {
	if b.disabled != nil {
		return nil
	}
	return b.wrap(b.sink.EndTable(ctx, ok))
}

func (b *Bound) Commit(ctx context.Context) error {
	if b.disabled != nil {
		return nil
	}
	return b.wrap(b.sink.Commit(ctx))
}

// Close always closes the underlying sink, disabled or not
func (b *Bound) Close() error {
	return b.wrap(b.sink.Close())
}
