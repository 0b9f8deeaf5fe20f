package loader

import (
	"github.com/rs/zerolog"

	"github.com/ha1tch/csvgraph/pkg/models"
)

// EventKind names a structured event emitted during a load
type EventKind string

const (
	EventRunStarted        EventKind = "run_started"
	EventTableIgnored      EventKind = "table_ignored"
	EventColumnsIgnored    EventKind = "columns_ignored"
	EventRowSkipped        EventKind = "row_skipped"
	EventMutationFailed    EventKind = "mutation_failed"
	EventDanglingReference EventKind = "dangling_reference"
	EventSinkDegraded      EventKind = "sink_degraded"
	EventDiscardFailed     EventKind = "discard_failed"
	EventTableCompleted    EventKind = "table_completed"
	EventRunCompleted      EventKind = "run_completed"
)

// Event is one thing that happened during a load. Only the fields relevant
// to the kind are set.
type Event struct {
	Kind    EventKind
	RunID   string
	Table   string
	Line    int
	Sink    string
	Query   string
	Reason  string
	Columns []string
	Data    map[string]interface{}
	Err     error
	Report  *models.TableReport
	Run     *models.Report
}

// Observer receives load events. Implementations must not block.
type Observer interface {
	Observe(e Event)
}

type nopObserver struct{}

func (nopObserver) Observe(Event) {}

// LogObserver renders events with zerolog
type LogObserver struct {
	logger zerolog.Logger
}

// NewLogObserver creates an observer writing to logger
func NewLogObserver(logger zerolog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

// Observe logs e at a level matching its severity
func (l *LogObserver) Observe(e Event) {
	log := l.logger.With().Str("run_id", e.RunID).Logger()

	switch e.Kind {
	case EventRunStarted:
		log.Info().Strs("sinks", e.Run.Sinks).Msg("Load started")

	case EventTableIgnored:
		log.Debug().Str("table", e.Table).Msg("Table not in mapping, skipped")

	case EventColumnsIgnored:
		log.Warn().
			Str("table", e.Table).
			Strs("columns", e.Columns).
			Msg("Columns not declared for this relationship are ignored")

	case EventRowSkipped:
		log.Warn().
			Str("table", e.Table).
			Int("row", e.Line).
			Str("reason", e.Reason).
			Strs("columns", e.Columns).
			Msg("Row skipped")

	case EventMutationFailed:
		log.Error().
			Err(e.Err).
			Str("table", e.Table).
			Int("row", e.Line).
			Str("sink", e.Sink).
			Str("query", e.Query).
			Interface("data", e.Data).
			Msg("Mutation failed")

	case EventDanglingReference:
		log.Warn().
			Str("table", e.Table).
			Int("row", e.Line).
			Str("sink", e.Sink).
			Interface("data", e.Data).
			Msg("No edge created, endpoint node not found")

	case EventSinkDegraded:
		log.Warn().Err(e.Err).Str("sink", e.Sink).Str("reason", e.Reason).Msg("Secondary backend degraded")

	case EventDiscardFailed:
		log.Error().Err(e.Err).Str("table", e.Table).Str("reason", e.Reason).Msg("Failed to discard table scope")

	case EventTableCompleted:
		t := e.Report
		ev := log.Info()
		if t.Error != "" {
			ev = log.Error().Str("error", t.Error)
		} else if t.Skipped > 0 || len(t.Dangling) > 0 || len(t.Failures) > 0 {
			ev = log.Warn()
		}
		ev.Str("table", t.Table).
			Str("kind", string(t.Kind)).
			Int("rows", t.Rows).
			Int("applied", t.Applied).
			Int("skipped", t.Skipped).
			Strs("skipped_columns", e.Columns).
			Interface("dangling", t.Dangling).
			Interface("sink_failures", t.Failures).
			Bool("rolled_back", t.RolledBack).
			Msg("Table completed")

	case EventRunCompleted:
		r := e.Run
		ev := log.Info()
		if r.Error != "" {
			ev = log.Error().Str("error", r.Error)
		}
		ev.Int("nodes", r.Nodes).
			Int("edges", r.Edges).
			Int("skipped", r.Skipped).
			Int("dangling", r.Dangling).
			Int("failed_tables", r.FailedTables).
			Strs("degraded", r.Degraded).
			Float64("duration", r.Duration).
			Msg("Load completed")
	}
}
