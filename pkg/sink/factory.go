package sink

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Factory is a function that creates a new Sink instance
type Factory func(ctx context.Context, config map[string]interface{}) (Sink, error)

var (
	sinkMu       sync.RWMutex
	sinkRegistry = make(map[string]Factory)
)

// RegisterSink registers a new sink implementation
func RegisterSink(name string, factory Factory) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	sinkRegistry[name] = factory
}

// NewSink creates a new sink instance by name
func NewSink(ctx context.Context, name string, config map[string]interface{}) (Sink, error) {
	sinkMu.RLock()
	factory, exists := sinkRegistry[name]
	sinkMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSink, name)
	}

	return factory(ctx, config)
}

// ListSinks returns all registered sink types, sorted
func ListSinks() []string {
	sinkMu.RLock()
	defer sinkMu.RUnlock()

	sinks := make([]string, 0, len(sinkRegistry))
	for name := range sinkRegistry {
		sinks = append(sinks, name)
	}
	sort.Strings(sinks)
	return sinks
}

func stringOpt(config map[string]interface{}, key, fallback string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// init registers built-in sinks
func init() {
	RegisterSink("age", func(ctx context.Context, config map[string]interface{}) (Sink, error) {
		cfg := AGEConfig{
			Host:     stringOpt(config, "host", "localhost"),
			Port:     stringOpt(config, "port", "5432"),
			User:     stringOpt(config, "user", ""),
			Password: stringOpt(config, "password", ""),
			Database: stringOpt(config, "database", ""),
			SSLMode:  stringOpt(config, "sslmode", "require"),
			Graph:    stringOpt(config, "graph", DefaultGraphName),
		}
		if timeout, ok := config["connect_timeout"].(time.Duration); ok {
			cfg.ConnectTimeout = timeout
		}
		s, err := OpenAGE(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	RegisterSink("neo4j", func(ctx context.Context, config map[string]interface{}) (Sink, error) {
		s, err := OpenNeo4j(ctx, Neo4jConfig{
			URI:      stringOpt(config, "uri", ""),
			Username: stringOpt(config, "user", "neo4j"),
			Password: stringOpt(config, "password", ""),
			Database: stringOpt(config, "database", ""),
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	RegisterSink("sqlite", func(ctx context.Context, config map[string]interface{}) (Sink, error) {
		sqliteConfig := DefaultSQLiteConfig(stringOpt(config, "db_path", "csvgraph.db"))

		// Allow overriding config options
		if wal, ok := config["enable_wal"].(bool); ok {
			sqliteConfig.EnableWAL = wal
		}
		if cache, ok := config["cache_size"].(int); ok {
			sqliteConfig.CacheSize = cache
		}
		if timeout, ok := config["busy_timeout"].(int); ok {
			sqliteConfig.BusyTimeout = timeout
		}

		s, err := NewSQLiteSink(ctx, sqliteConfig)
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	RegisterSink("memory", func(ctx context.Context, config map[string]interface{}) (Sink, error) {
		return NewMemorySink(stringOpt(config, "name", "memory")), nil
	})
}
