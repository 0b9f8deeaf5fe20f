package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const Version = "1.0.0"

var (
	// ErrMissingCSVDir is returned when no source directory is configured
	ErrMissingCSVDir = errors.New("CSV directory is not set")
	// ErrMissingDatabase is returned when the primary backend is not configured
	ErrMissingDatabase = errors.New("database host and name are required")
)

// Config holds application configuration
type Config struct {
	// Source configuration
	CSVDir      string
	MappingFile string // YAML catalog, empty for the built-in one
	Delimiter   string // forced field separator, empty to detect
	FKSuffix    string
	BoolExempt  []string

	// Primary backend (Apache AGE)
	GraphName        string
	DBHost           string
	DBPort           int
	DBUser           string
	DBPassword       string
	DBName           string
	DBSSLMode        string
	DBConnectTimeout time.Duration

	// Secondary backend (Neo4j), disabled when NEO4J_URI is empty
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	// Local SQLite mirror, disabled when empty
	SnapshotPath string

	// Cache configuration
	CacheType string // "memory" or "redis"
	CacheSize int
	ReportTTL time.Duration
	RedisHost string
	RedisPort int
	LockTTL   time.Duration

	// Status server, disabled when empty
	StatusAddr string

	// Logging
	LogLevel string
	LogFile  string

	DryRun   bool
	DumpPath string
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		CSVDir:           "data",
		FKSuffix:         "Id",
		BoolExempt:       []string{"HAS_PROPERTY"},
		GraphName:        "exo_graph",
		DBPort:           5432,
		DBSSLMode:        "require",
		DBConnectTimeout: 10 * time.Second,
		Neo4jUser:        "neo4j",
		CacheType:        "memory",
		CacheSize:        16,
		ReportTTL:        24 * time.Hour,
		RedisHost:        "localhost",
		RedisPort:        6379,
		LockTTL:          time.Hour,
		LogLevel:         "info",
	}
}

// Load reads the given env files (".env" when none is given), then the
// environment, into a default configuration. Missing env files are not an
// error. It returns the keys whose values carried surrounding whitespace.
func Load(files ...string) (*Config, []string, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("failed to read env file: %w", err)
	}
	cfg := Default()
	trimmed := LoadFromEnv(cfg)
	return cfg, trimmed, nil
}

// env holds one lookup pass and remembers trimmed keys
type env struct {
	trimmed []string
}

func (e *env) get(key string) string {
	raw := os.Getenv(key)
	val := strings.TrimSpace(raw)
	if val != raw {
		e.trimmed = append(e.trimmed, key)
	}
	return val
}

// LoadFromEnv loads configuration from environment variables. Values are
// whitespace-trimmed; the names of trimmed keys are returned.
func LoadFromEnv(cfg *Config) []string {
	e := &env{}

	if val := e.get("CSV_DIR"); val != "" {
		cfg.CSVDir = val
	}
	if val := e.get("MAPPING_FILE"); val != "" {
		cfg.MappingFile = val
	}
	if val := e.get("CSV_DELIMITER"); val != "" {
		cfg.Delimiter = val
	}
	if val := e.get("FK_SUFFIX"); val != "" {
		cfg.FKSuffix = val
	}
	if val := e.get("BOOL_EXEMPT"); val != "" {
		cfg.BoolExempt = splitList(val)
	}
	if val := e.get("GRAPH_NAME"); val != "" {
		cfg.GraphName = val
	}
	if val := e.get("DB_HOST"); val != "" {
		cfg.DBHost = val
	}
	if val := e.get("DB_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.DBPort = port
		}
	}
	if val := e.get("DB_USER"); val != "" {
		cfg.DBUser = val
	}
	if val := e.get("DB_PASSWORD"); val != "" {
		cfg.DBPassword = val
	}
	if val := e.get("DB_NAME"); val != "" {
		cfg.DBName = val
	}
	if val := e.get("DB_SSLMODE"); val != "" {
		cfg.DBSSLMode = val
	}
	if val := e.get("DB_CONNECT_TIMEOUT"); val != "" {
		if d, ok := parseDuration(val); ok {
			cfg.DBConnectTimeout = d
		}
	}
	if val := e.get("NEO4J_URI"); val != "" {
		cfg.Neo4jURI = val
	}
	if val := e.get("NEO4J_USER"); val != "" {
		cfg.Neo4jUser = val
	}
	if val := e.get("NEO4J_PASSWORD"); val != "" {
		cfg.Neo4jPassword = val
	}
	if val := e.get("NEO4J_DATABASE"); val != "" {
		cfg.Neo4jDatabase = val
	}
	if val := e.get("SNAPSHOT_PATH"); val != "" {
		cfg.SnapshotPath = val
	}
	if val := e.get("CACHE_TYPE"); val != "" {
		cfg.CacheType = val
	}
	if val := e.get("REPORT_TTL"); val != "" {
		if d, ok := parseDuration(val); ok {
			cfg.ReportTTL = d
		}
	}
	if val := e.get("REDIS_HOST"); val != "" {
		cfg.RedisHost = val
	}
	if val := e.get("REDIS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.RedisPort = port
		}
	}
	if val := e.get("LOCK_TTL"); val != "" {
		if d, ok := parseDuration(val); ok {
			cfg.LockTTL = d
		}
	}
	if val := e.get("STATUS_ADDR"); val != "" {
		cfg.StatusAddr = val
	}
	if val := e.get("LOG_LEVEL"); val != "" {
		cfg.LogLevel = val
	}
	if val := e.get("LOG_FILE"); val != "" {
		cfg.LogFile = val
	}
	if val := e.get("DRY_RUN"); val != "" {
		cfg.DryRun = parseBool(val)
	}
	if val := e.get("DUMP_PATH"); val != "" {
		cfg.DumpPath = val
	}

	return e.trimmed
}

// Validate checks that the configuration can drive a load
func (c *Config) Validate() error {
	if c.CSVDir == "" {
		return ErrMissingCSVDir
	}
	if !c.DryRun && (c.DBHost == "" || c.DBName == "") {
		return ErrMissingDatabase
	}
	if len(c.Delimiter) > 1 && c.Delimiter != `\t` {
		return fmt.Errorf("delimiter must be a single character, got %q", c.Delimiter)
	}
	switch c.CacheType {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown cache type %q", c.CacheType)
	}
	return nil
}

// SinkConfig returns the factory options for a registered sink type
func (c *Config) SinkConfig(name string) map[string]interface{} {
	switch name {
	case "age":
		return map[string]interface{}{
			"host":            c.DBHost,
			"port":            strconv.Itoa(c.DBPort),
			"user":            c.DBUser,
			"password":        c.DBPassword,
			"database":        c.DBName,
			"sslmode":         c.DBSSLMode,
			"graph":           c.GraphName,
			"connect_timeout": c.DBConnectTimeout,
		}
	case "neo4j":
		return map[string]interface{}{
			"uri":      c.Neo4jURI,
			"user":     c.Neo4jUser,
			"password": c.Neo4jPassword,
			"database": c.Neo4jDatabase,
		}
	case "sqlite":
		return map[string]interface{}{
			"db_path": c.SnapshotPath,
		}
	default:
		return map[string]interface{}{"name": name}
	}
}

// DelimiterRune returns the forced delimiter, or zero to detect it
func (c *Config) DelimiterRune() rune {
	if c.Delimiter == "" {
		return 0
	}
	if c.Delimiter == `\t` {
		return '\t'
	}
	return rune(c.Delimiter[0])
}

func parseBool(val string) bool {
	val = strings.ToLower(val)
	return val == "true" || val == "1" || val == "yes"
}

// parseDuration accepts Go durations and plain seconds
func parseDuration(val string) (time.Duration, bool) {
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	d, err := time.ParseDuration(val)
	return d, err == nil
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
