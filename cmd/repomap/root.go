// Command repomap is a small inspection CLI over a configured store:
// it runs queries, counts and deletes against any collection using the
// same criteria maps the library accepts, with structures declared in
// a YAML file.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"repomap"
	"repomap/schema"
	"repomap/stores/file"
	"repomap/stores/sqlite"
)

var cfg = viper.New()

var rootCmd = &cobra.Command{
	Use:   "repomap",
	Short: "Inspect and manipulate a repomap store",
	Long: `repomap runs criteria queries against a configured store backend.

Configuration sources (in order of precedence):
1. Command line flags
2. Environment variables (REPOMAP_*)
3. Config file (./repomap.yaml or $HOME/.repomap/repomap.yaml)`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogging(cfg.GetString("log-level"))
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("driver", "file", "store backend: file or sqlite")
	flags.String("store", "repomap.json", "path to the store file or database")
	flags.String("structures", "", "path to a YAML file declaring entity structures")
	flags.String("log-level", "warn", "log level: debug, info, warn, error")

	_ = cfg.BindPFlags(flags)
	cfg.SetEnvPrefix("REPOMAP")
	cfg.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	cfg.AutomaticEnv()

	cfg.SetConfigName("repomap")
	cfg.SetConfigType("yaml")
	cfg.AddConfigPath(".")
	cfg.AddConfigPath("$HOME/.repomap")
	_ = cfg.ReadInConfig()

	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(countCmd)
	rootCmd.AddCommand(deleteCmd)
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func initLogging(level string) error {
	parsed, ok := logLevels[strings.ToLower(level)]
	if !ok {
		parsed = slog.LevelWarn
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parsed})
	slog.SetDefault(slog.New(handler))
	return nil
}

// openStore opens the configured backend.
func openStore() (repomap.Store, error) {
	path := cfg.GetString("store")
	switch driver := cfg.GetString("driver"); driver {
	case "file":
		return file.Open(path)
	case "sqlite":
		return sqlite.Open(path)
	default:
		return nil, fmt.Errorf("unknown driver %q (want file or sqlite)", driver)
	}
}

// loadStructures reads the declared structures file: a YAML mapping of
// collection name to field structure.
func loadStructures() (map[string]schema.Structure, error) {
	path := cfg.GetString("structures")
	if path == "" {
		return map[string]schema.Structure{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read structures: %w", err)
	}
	var structures map[string]schema.Structure
	if err := yaml.Unmarshal(raw, &structures); err != nil {
		return nil, fmt.Errorf("parse structures: %w", err)
	}
	for name, structure := range structures {
		structures[name] = structure.Normalize()
	}
	return structures, nil
}

// openRepository wires a repository for the named collection over the
// configured store.
func openRepository(collection string) (*repomap.Repository, error) {
	store, err := openStore()
	if err != nil {
		return nil, err
	}
	structures, err := loadStructures()
	if err != nil {
		return nil, err
	}
	return repomap.New(store, repomap.Config{
		Collection: collection,
		Structure:  structures[collection],
	})
}

// parseCriteria decodes a YAML/JSON condition map from the command line.
func parseCriteria(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var conditions map[string]any
	if err := yaml.Unmarshal([]byte(raw), &conditions); err != nil {
		return nil, fmt.Errorf("parse criteria: %w", err)
	}
	return conditions, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
