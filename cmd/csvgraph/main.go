package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ha1tch/csvgraph/pkg/config"
	"github.com/ha1tch/csvgraph/pkg/schema"
	"github.com/ha1tch/csvgraph/pkg/source"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "csvgraph",
		Short: "Load relational CSV exports into a property graph",
		Long: `csvgraph reloads a directory of CSV exports into Apache AGE,
mirroring every node and relationship into Neo4j when it is configured.

Every run clears the target graphs, creates all nodes, commits, then
creates all relationships.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("env-file", "", "Env file to read before the environment (default .env)")
	rootCmd.PersistentFlags().String("mapping", "", "YAML table mapping (default built-in catalog)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("csvgraph v%s\n", config.Version)
		},
	})

	loadCmd := &cobra.Command{
		Use:   "load",
		Short: "Reload the graph from the CSV directory",
		RunE:  runLoad,
	}
	loadCmd.Flags().String("csv-dir", "", "Directory holding the CSV exports")
	loadCmd.Flags().String("graph", "", "AGE graph name")
	loadCmd.Flags().String("delimiter", "", "Force the field separator instead of detecting it")
	loadCmd.Flags().Bool("dry-run", false, "Load into memory only")
	loadCmd.Flags().String("dump", "", "Write the dry-run graph as JSON to this file")
	loadCmd.Flags().Bool("no-neo4j", false, "Skip the Neo4j mirror")
	loadCmd.Flags().String("status-addr", "", "Serve load progress on this address")
	rootCmd.AddCommand(loadCmd)

	tablesCmd := &cobra.Command{
		Use:   "tables",
		Short: "Print the table mapping, or how the files of a directory classify",
		RunE:  runTables,
	}
	tablesCmd.Flags().String("csv-dir", "", "Classify the files of this directory")
	rootCmd.AddCommand(tablesCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads env files, the environment and flag overrides
func loadConfig(cmd *cobra.Command) (*config.Config, []string, error) {
	var files []string
	if f, _ := cmd.Flags().GetString("env-file"); f != "" {
		files = append(files, f)
	}
	cfg, trimmed, err := config.Load(files...)
	if err != nil {
		return nil, nil, err
	}

	flags := cmd.Flags()
	if v, _ := flags.GetString("mapping"); v != "" {
		cfg.MappingFile = v
	}
	if flags.Lookup("csv-dir") != nil && flags.Changed("csv-dir") {
		cfg.CSVDir, _ = flags.GetString("csv-dir")
	}
	if flags.Lookup("graph") != nil && flags.Changed("graph") {
		cfg.GraphName, _ = flags.GetString("graph")
	}
	if flags.Lookup("delimiter") != nil && flags.Changed("delimiter") {
		cfg.Delimiter, _ = flags.GetString("delimiter")
	}
	if flags.Lookup("dry-run") != nil && flags.Changed("dry-run") {
		cfg.DryRun, _ = flags.GetBool("dry-run")
	}
	if flags.Lookup("dump") != nil && flags.Changed("dump") {
		cfg.DumpPath, _ = flags.GetString("dump")
	}
	if flags.Lookup("status-addr") != nil && flags.Changed("status-addr") {
		cfg.StatusAddr, _ = flags.GetString("status-addr")
	}
	if flags.Lookup("no-neo4j") != nil {
		if skip, _ := flags.GetBool("no-neo4j"); skip {
			cfg.Neo4jURI = ""
		}
	}
	return cfg, trimmed, nil
}

// newLogger writes to the console and, when LOG_FILE is set, to a JSON
// log file as well
func newLogger(cfg *config.Config) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}}
	var closer io.Closer = io.NopCloser(nil)
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().
		Timestamp().
		Logger()
	return logger, closer, nil
}

func loadCatalog(cfg *config.Config) (*schema.Catalog, error) {
	if cfg.MappingFile == "" {
		return schema.Default(), nil
	}
	return schema.LoadFile(cfg.MappingFile)
}

func runTables(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	dir, _ := cmd.Flags().GetString("csv-dir")
	if dir == "" {
		fmt.Println("Node tables:")
		for _, n := range catalog.NodeTables() {
			id := "drops _id"
			if n.RetainID {
				id = "keeps _id"
			}
			fmt.Printf("  %-24s :%s (%s)\n", n.Name, n.Label, id)
		}
		fmt.Println()
		fmt.Println("Relationship tables:")
		for _, e := range catalog.EdgeTables() {
			fmt.Printf("  (:%s {_id: %s})-[:%s]->(:%s {_id: %s})", e.FromLabel, e.FromKey, e.Type, e.ToLabel, e.ToKey)
			if len(e.Properties) > 0 {
				fmt.Printf(" %s", strings.Join(e.Properties, ", "))
			}
			fmt.Println()
		}
		return nil
	}

	src, err := source.NewDir(dir, source.Options{})
	if err != nil {
		return err
	}
	names, err := src.Tables()
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Printf("  %-32s %s\n", name, catalog.Classify(name).Kind)
	}
	return nil
}

func printBanner(cfg *config.Config, sinks []string) {
	lightBlue := "\033[1;36m"
	reset := "\033[0m"

	fmt.Print(lightBlue)
	fmt.Println("//////////////////////////////////////////////")
	fmt.Println("//....csv.....................graph.......//")
	fmt.Println("//....;;;;;........--->........(o)--(o)....//")
	fmt.Println("//....;;;;;........--->..........\\../......//")
	fmt.Println("//....;;;;;........--->..........(o).......//")
	fmt.Println("//////////////////////////////////////////////")
	fmt.Print(reset)

	fmt.Println()
	fmt.Println("//////////////////////////// csvgraph " + config.Version + " ////////////////////////")
	fmt.Println("----------------------------------------------------------------------")
	fmt.Println("Source:")
	fmt.Printf("  Directory: %s\n", cfg.CSVDir)
	if cfg.MappingFile != "" {
		fmt.Printf("  Mapping: %s\n", cfg.MappingFile)
	} else {
		fmt.Println("  Mapping: built-in")
	}
	fmt.Println()
	fmt.Println("Backends:")
	if cfg.DryRun {
		fmt.Println("  Mode: dry run (memory)")
	} else {
		fmt.Printf("  AGE: %s:%d/%s graph %s\n", cfg.DBHost, cfg.DBPort, cfg.DBName, cfg.GraphName)
	}
	fmt.Printf("  Sinks: %s\n", strings.Join(sinks, ", "))
	fmt.Println()
	fmt.Println("Cache Configuration:")
	fmt.Printf("  Type: %s\n", cfg.CacheType)
	if cfg.CacheType == "redis" {
		fmt.Printf("  Redis: %s:%d\n", cfg.RedisHost, cfg.RedisPort)
	}
	if cfg.StatusAddr != "" {
		fmt.Printf("  Status server: %s\n", cfg.StatusAddr)
	}
	fmt.Println("----------------------------------------------------------------------")
	fmt.Println()
}
