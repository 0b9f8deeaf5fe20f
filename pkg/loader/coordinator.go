package loader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ha1tch/csvgraph/pkg/models"
	"github.com/ha1tch/csvgraph/pkg/schema"
	"github.com/ha1tch/csvgraph/pkg/sink"
	"github.com/ha1tch/csvgraph/pkg/source"
	"github.com/ha1tch/csvgraph/pkg/validation"
)

// State is the coordinator's position in the two-phase load
type State int

const (
	StateEmpty State = iota
	StateNodesLoading
	StateNodesCommitted
	StateEdgesLoading
	StateEdgesCommitted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNodesLoading:
		return "nodes_loading"
	case StateNodesCommitted:
		return "nodes_committed"
	case StateEdgesLoading:
		return "edges_loading"
	case StateEdgesCommitted:
		return "edges_committed"
	case StateClosed:
		return "closed"
	default:
		return "empty"
	}
}

// Source lists and reads the tables of one load
type Source interface {
	Tables() ([]string, error)
	Read(name string) (*source.Table, error)
}

// Progress is a point-in-time view of a running load
type Progress struct {
	RunID       string    `json:"run_id"`
	State       string    `json:"state"`
	Table       string    `json:"table,omitempty"`
	TablesDone  int       `json:"tables_done"`
	TablesTotal int       `json:"tables_total"`
	Nodes       int       `json:"nodes"`
	Edges       int       `json:"edges"`
	Skipped     int       `json:"skipped"`
	Dangling    int       `json:"dangling"`
	StartTime   time.Time `json:"start_time"`
}

// Options configures a coordinator
type Options struct {
	RunID     string
	Observer  Observer
	// Validator screens relationship rows; nil uses a Guard with the
	// default foreign key suffix
	Validator validation.Validator
}

// Coordinator runs a full reload: reset every sink, load and commit all
// node tables, then load edge tables committing after each, then close
// every sink.
type Coordinator struct {
	catalog *schema.Catalog
	sinks   []*sink.Bound
	guard   validation.Validator
	obs     Observer
	runID   string
	nodes   *NodeLoader
	edges   *EdgeLoader

	mu       sync.RWMutex
	state    State
	progress Progress
}

// New creates a coordinator over sinks. The first required sink is the
// primary backend.
func New(catalog *schema.Catalog, sinks []*sink.Bound, opts Options) *Coordinator {
	obs := opts.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	guard := opts.Validator
	if guard == nil {
		guard = validation.NewGuard(validation.DefaultSuffix)
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	c := &Coordinator{
		catalog: catalog,
		sinks:   sinks,
		guard:   guard,
		obs:     obs,
		runID:   runID,
		nodes:   NewNodeLoader(sinks, obs),
		edges:   NewEdgeLoader(catalog, sinks, obs),
	}
	c.nodes.runID = runID
	c.edges.runID = runID
	c.progress = Progress{RunID: runID, State: StateEmpty.String()}
	return c
}

// RunID returns the identifier of this run
func (c *Coordinator) RunID() string { return c.runID }

// State returns the current state
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Progress returns a snapshot of the load progress
func (c *Coordinator) Progress() Progress {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.progress
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
	c.progress.State = s.String()
}

func (c *Coordinator) setTable(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress.Table = name
}

func (c *Coordinator) tableDone(t models.TableReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress.Table = ""
	c.progress.TablesDone++
	switch t.Kind {
	case models.TableNodes:
		c.progress.Nodes += t.Applied
	case models.TableEdges:
		c.progress.Edges += t.Applied
	}
	c.progress.Skipped += t.Skipped
	for _, n := range t.Dangling {
		c.progress.Dangling += n
	}
}

func (c *Coordinator) active() []*sink.Bound {
	var out []*sink.Bound
	for _, s := range c.sinks {
		if !s.Disabled() {
			out = append(out, s)
		}
	}
	return out
}

// Run performs the load. The returned report is always non-nil. An error
// is returned only when the run could not complete: a required sink failed
// to reset or to commit the node phase, the source could not be listed, or
// ctx was cancelled.
func (c *Coordinator) Run(ctx context.Context, src Source) (report *models.Report, err error) {
	report = &models.Report{RunID: c.runID, StartTime: time.Now()}
	for _, s := range c.sinks {
		report.Sinks = append(report.Sinks, s.Name())
	}

	c.mu.Lock()
	c.progress.StartTime = report.StartTime
	c.mu.Unlock()

	c.obs.Observe(Event{Kind: EventRunStarted, RunID: c.runID, Run: report})

	defer func() {
		if cerr := c.close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			report.Error = err.Error()
		}
		report.EndTime = time.Now()
		report.Duration = report.EndTime.Sub(report.StartTime).Seconds()
		c.obs.Observe(Event{Kind: EventRunCompleted, RunID: c.runID, Run: report})
	}()

	c.setState(StateEmpty)
	c.guard.Reset()
	if err := c.reset(ctx, report); err != nil {
		return report, err
	}

	names, err := src.Tables()
	if err != nil {
		return report, fmt.Errorf("failed to list tables: %w", err)
	}

	var nodeTables []schema.NodeTable
	var edgeTables []schema.EdgeTable
	for _, name := range names {
		cl := c.catalog.Classify(name)
		switch cl.Kind {
		case schema.Node:
			nodeTables = append(nodeTables, cl.Node)
		case schema.Edge:
			edgeTables = append(edgeTables, cl.Edge)
		default:
			c.obs.Observe(Event{Kind: EventTableIgnored, RunID: c.runID, Table: name})
			report.Add(models.TableReport{Table: name, Kind: models.TableIgnored})
		}
	}
	sort.Slice(nodeTables, func(i, j int) bool { return nodeTables[i].Name < nodeTables[j].Name })
	sort.Slice(edgeTables, func(i, j int) bool { return edgeTables[i].Type < edgeTables[j].Type })

	c.mu.Lock()
	c.progress.TablesTotal = len(nodeTables) + len(edgeTables)
	c.mu.Unlock()

	c.setState(StateNodesLoading)
	for _, t := range nodeTables {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		c.finishTable(report, c.loadNodeTable(ctx, src, t), nil)
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	if err := c.commit(ctx); err != nil {
		return report, fmt.Errorf("failed to commit nodes: %w", err)
	}
	c.setState(StateNodesCommitted)

	c.setState(StateEdgesLoading)
	for _, t := range edgeTables {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		tr := c.loadEdgeTable(ctx, src, t)
		c.finishTable(report, tr, c.guard.Offending(t.Type))
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	c.setState(StateEdgesCommitted)

	return report, nil
}

func (c *Coordinator) finishTable(report *models.Report, t models.TableReport, skippedColumns []string) {
	report.Add(t)
	c.tableDone(t)
	c.obs.Observe(Event{
		Kind:    EventTableCompleted,
		RunID:   c.runID,
		Table:   t.Table,
		Columns: skippedColumns,
		Report:  &t,
	})
}

// reset clears every sink. Required failures are fatal; best-effort sinks
// that fail are dropped from the run.
func (c *Coordinator) reset(ctx context.Context, report *models.Report) error {
	for _, s := range c.sinks {
		err := s.Reset(ctx)
		if err == nil {
			continue
		}
		if sink.IsDegraded(err) {
			report.Degraded = append(report.Degraded, s.Name())
			c.obs.Observe(Event{Kind: EventSinkDegraded, RunID: c.runID, Sink: s.Name(), Reason: "reset failed", Err: err})
			continue
		}
		return fmt.Errorf("failed to reset %s: %w", s.Name(), err)
	}
	return nil
}

// commit commits every active sink. The first required failure is returned.
func (c *Coordinator) commit(ctx context.Context) error {
	var first error
	for _, s := range c.active() {
		err := s.Commit(ctx)
		if err == nil {
			continue
		}
		if sink.IsDegraded(err) {
			c.obs.Observe(Event{Kind: EventSinkDegraded, RunID: c.runID, Sink: s.Name(), Reason: "commit failed", Err: err})
			continue
		}
		if first == nil {
			first = fmt.Errorf("%s: %w", s.Name(), err)
		}
	}
	return first
}

// begin opens the table scope on every active sink and returns the sinks
// that need closing
func (c *Coordinator) begin(ctx context.Context, table string, tr *models.TableReport) ([]*sink.Bound, error) {
	var opened []*sink.Bound
	for _, s := range c.active() {
		err := s.BeginTable(ctx, table)
		if err == nil {
			opened = append(opened, s)
			continue
		}
		if sink.IsDegraded(err) {
			tr.AddFailure(s.Name())
			c.obs.Observe(Event{Kind: EventSinkDegraded, RunID: c.runID, Table: table, Sink: s.Name(), Reason: "begin table failed", Err: err})
			continue
		}
		return opened, fmt.Errorf("failed to begin table on %s: %w", s.Name(), err)
	}
	return opened, nil
}

// end closes the table scope, discarding it when !ok. A required failure
// to close a successful scope fails the table.
func (c *Coordinator) end(ctx context.Context, opened []*sink.Bound, table string, ok bool) error {
	var first error
	for _, s := range opened {
		err := s.EndTable(ctx, ok)
		if err == nil {
			continue
		}
		if sink.IsDegraded(err) {
			c.obs.Observe(Event{Kind: EventSinkDegraded, RunID: c.runID, Table: table, Sink: s.Name(), Reason: "end table failed", Err: err})
			continue
		}
		if first == nil {
			first = fmt.Errorf("failed to end table on %s: %w", s.Name(), err)
		}
	}
	return first
}

// abort discards the scope of the sinks that opened a table before another
// sink failed to begin it
func (c *Coordinator) abort(ctx context.Context, opened []*sink.Bound, table string) {
	if err := c.end(ctx, opened, table, false); err != nil {
		c.obs.Observe(Event{Kind: EventDiscardFailed, RunID: c.runID, Table: table, Reason: "begin failed on another sink", Err: err})
	}
}

func failTable(tr *models.TableReport, err error) {
	tr.Error = err.Error()
	tr.RolledBack = true
	tr.Applied = 0
}

func (c *Coordinator) loadNodeTable(ctx context.Context, src Source, t schema.NodeTable) models.TableReport {
	c.setTable(t.Name)

	data, err := src.Read(t.Name)
	if err != nil {
		return models.TableReport{Table: t.Name, Kind: models.TableNodes, Error: err.Error()}
	}

	tr := models.TableReport{Table: t.Name, Kind: models.TableNodes, Rows: len(data.Rows)}
	opened, err := c.begin(ctx, t.Name, &tr)
	if err != nil {
		c.abort(ctx, opened, t.Name)
		failTable(&tr, err)
		return tr
	}

	loaded, loadErr := c.nodes.Load(ctx, t, data.Rows)
	for name, n := range tr.Failures {
		if loaded.Failures == nil {
			loaded.Failures = make(map[string]int)
		}
		loaded.Failures[name] += n
	}
	tr = loaded

	if err := c.end(ctx, opened, t.Name, loadErr == nil); err != nil && loadErr == nil {
		loadErr = err
	}
	if loadErr != nil {
		failTable(&tr, loadErr)
	}
	return tr
}

func (c *Coordinator) loadEdgeTable(ctx context.Context, src Source, t schema.EdgeTable) models.TableReport {
	c.setTable(t.Type)

	data, err := src.Read(t.Type)
	if err != nil {
		return models.TableReport{Table: t.Type, Kind: models.TableEdges, Error: err.Error()}
	}

	tr := models.TableReport{Table: t.Type, Kind: models.TableEdges, Rows: len(data.Rows)}
	if extra := UndeclaredColumns(t, data.Columns); len(extra) > 0 {
		c.obs.Observe(Event{Kind: EventColumnsIgnored, RunID: c.runID, Table: t.Type, Columns: extra})
	}

	opened, err := c.begin(ctx, t.Type, &tr)
	if err != nil {
		c.abort(ctx, opened, t.Type)
		failTable(&tr, err)
		return tr
	}

	loadErr := c.applyEdges(ctx, t, data.Rows, &tr)

	if err := c.end(ctx, opened, t.Type, loadErr == nil); err != nil && loadErr == nil {
		loadErr = err
	}
	if err := c.commit(ctx); err != nil && loadErr == nil {
		loadErr = fmt.Errorf("failed to commit: %w", err)
	}
	if loadErr != nil {
		failTable(&tr, loadErr)
	}
	return tr
}

func (c *Coordinator) applyEdges(ctx context.Context, t schema.EdgeTable, rows []models.Row, tr *models.TableReport) error {
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}

		verdict := c.guard.CheckTable(t.Type, row, t.FromKey, t.ToKey)
		if !verdict.Valid {
			tr.Skipped++
			c.obs.Observe(Event{
				Kind:    EventRowSkipped,
				RunID:   c.runID,
				Table:   t.Type,
				Line:    row.Line,
				Reason:  "missing foreign key",
				Columns: verdict.Offending,
				Data:    row.Map(),
			})
			continue
		}

		out, err := c.edges.Apply(ctx, t.Type, row)
		if err != nil {
			return err
		}
		switch out.Status {
		case Skipped:
			tr.Skipped++
			continue
		case Ignored:
			return errors.New("relationship mapping disappeared")
		}

		tr.Applied++
		for _, name := range out.Dangling {
			tr.AddDangling(name)
		}
		for _, name := range out.Failed {
			tr.AddFailure(name)
		}
	}
	return nil
}

func (c *Coordinator) close() error {
	defer c.setState(StateClosed)

	var first error
	for _, s := range c.sinks {
		err := s.Close()
		if err == nil {
			continue
		}
		if sink.IsDegraded(err) {
			c.obs.Observe(Event{Kind: EventSinkDegraded, RunID: c.runID, Sink: s.Name(), Reason: "close failed", Err: err})
			continue
		}
		if first == nil {
			first = fmt.Errorf("failed to close %s: %w", s.Name(), err)
		}
	}
	return first
}
