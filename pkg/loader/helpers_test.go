package loader_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/ha1tch/csvgraph/pkg/loader"
	"github.com/ha1tch/csvgraph/pkg/models"
	"github.com/ha1tch/csvgraph/pkg/sink"
	"github.com/ha1tch/csvgraph/pkg/source"
)

var errBackend = errors.New("backend unavailable")

// recorder keeps every event it observes
type recorder struct {
	mu     sync.Mutex
	events []loader.Event
}

func (r *recorder) Observe(e loader.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kind(k loader.EventKind) []loader.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []loader.Event
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// stubSink wraps a memory sink, records every call and fails on demand
type stubSink struct {
	*sink.MemorySink

	failReset   error
	failBegin   error
	failDiscard error
	failLabel   string
	failEdge    error
	nodeCalls   int
	edgeCalls   int
	closeCalls  int
	ops         []string
}

func newStub(name string) *stubSink {
	return &stubSink{MemorySink: sink.NewMemorySink(name)}
}

func (s *stubSink) Reset(ctx context.Context) error {
	s.ops = append(s.ops, "reset")
	if s.failReset != nil {
		return s.failReset
	}
	return s.MemorySink.Reset(ctx)
}

func (s *stubSink) BeginTable(ctx context.Context, table string) error {
	s.ops = append(s.ops, "begin:"+table)
	if s.failBegin != nil {
		return s.failBegin
	}
	return s.MemorySink.BeginTable(ctx, table)
}

func (s *stubSink) CreateNode(ctx context.Context, m models.NodeMutation) error {
	s.nodeCalls++
	s.ops = append(s.ops, "node")
	if s.failLabel != "" && m.Label == s.failLabel {
		return errBackend
	}
	return s.MemorySink.CreateNode(ctx, m)
}

func (s *stubSink) CreateEdge(ctx context.Context, m models.EdgeMutation) (int, error) {
	s.edgeCalls++
	s.ops = append(s.ops, "edge")
	if s.failEdge != nil {
		return 0, s.failEdge
	}
	return s.MemorySink.CreateEdge(ctx, m)
}

func (s *stubSink) EndTable(ctx context.Context, ok bool) error {
	if ok {
		s.ops = append(s.ops, "end")
	} else {
		s.ops = append(s.ops, "discard")
	}
	err := s.MemorySink.EndTable(ctx, ok)
	if !ok && s.failDiscard != nil {
		return s.failDiscard
	}
	return err
}

func (s *stubSink) Commit(ctx context.Context) error {
	s.ops = append(s.ops, "commit")
	return s.MemorySink.Commit(ctx)
}

func (s *stubSink) Close() error {
	s.closeCalls++
	return s.MemorySink.Close()
}

func (s *stubSink) index(op string) int {
	for i, o := range s.ops {
		if o == op {
			return i
		}
	}
	return -1
}

func (s *stubSink) lastIndex(op string) int {
	last := -1
	for i, o := range s.ops {
		if o == op {
			last = i
		}
	}
	return last
}

// memSource serves parsed tables from memory
type memSource struct {
	tables map[string]*source.Table
	broken map[string]error
}

func newSource(t *testing.T, files map[string]string) *memSource {
	t.Helper()
	src := &memSource{tables: make(map[string]*source.Table), broken: make(map[string]error)}
	for name, data := range files {
		tbl, err := source.Parse(strings.NewReader(data), name, source.Options{})
		if err != nil {
			t.Fatalf("failed to parse %s: %v", name, err)
		}
		src.tables[name] = tbl
	}
	return src
}

func (m *memSource) Tables() ([]string, error) {
	var names []string
	for name := range m.tables {
		names = append(names, name)
	}
	for name := range m.broken {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *memSource) Read(name string) (*source.Table, error) {
	if err, ok := m.broken[name]; ok {
		return nil, err
	}
	t, ok := m.tables[name]
	if !ok {
		return nil, source.ErrNoTable
	}
	return t, nil
}

// exoFiles is a small dataset with one skipped and one dangling edge row
var exoFiles = map[string]string{
	"Exo": "_id;name;active;weight\n" +
		"1;ExoLift;Ja;2.5\n" +
		"2;BackAssist;Nee;\n",
	"Aim": "_id;name\n" +
		"10;Lifting\n",
	"HAS_AIM": "_id;exoId;aimId;aimCategory;note\n" +
		"1;1;10;primary;first\n" +
		"2;2;;secondary;no aim\n" +
		"3;99;10;primary;unknown exo\n",
	"Notes": "_id;text\n1;ignored\n",
}

func tableReport(t *testing.T, r *models.Report, name string) models.TableReport {
	t.Helper()
	for _, tr := range r.Tables {
		if tr.Table == name {
			return tr
		}
	}
	t.Fatalf("no report for table %s", name)
	return models.TableReport{}
}
