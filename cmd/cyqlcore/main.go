// Package main provides the cyqlcore CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/cyquery/graphcore/pkg/config"
	"github.com/cyquery/graphcore/pkg/cypher"
	"github.com/cyquery/graphcore/pkg/store"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "cyqlcore",
		Short: "cyqlcore - a Cypher-subset query engine over Postgres",
	}
	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file overlaying environment variables")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cyqlcore v%s\n", version)
		},
	})

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the graph schema on the configured store",
		RunE:  runInit,
	}
	rootCmd.AddCommand(initCmd)

	queryCmd := &cobra.Command{
		Use:   "query <cypher>",
		Short: "Run one Cypher statement against the configured store",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuery,
	}
	queryCmd.Flags().String("params", "{}", "JSON object of query parameters")
	rootCmd.AddCommand(queryCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig builds a Config from the environment, overlaid by the file
// named in --config if the flag was set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.LoadFromFile(path)
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	_ = level.UnmarshalText([]byte(cfg.Logging.Level))
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Logging.JSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.PostgresStore, error) {
	s, err := store.Open(ctx, cfg.Store.DSN, cfg.Store.MaxConns, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return s, nil
}

// newPlanCache builds the executor's plan cache, attaching a Redis second
// tier when the operator configured one.
func newPlanCache(cfg *config.Config, logger *slog.Logger) *cypher.PlanCache {
	cache := cypher.NewPlanCache(cfg.Cache.LocalSize)
	if cfg.Cache.RedisAddr == "" {
		return cache
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Cache.RedisAddr,
		DB:   cfg.Cache.RedisDB,
	})
	cache.AttachRemote(client, cfg.Cache.RemoteTTL, logger)
	return cache
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Store.ConnectTimeout)
	defer cancel()

	s, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	fmt.Println("schema ready")
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg)

	paramsText, _ := cmd.Flags().GetString("params")
	var params map[string]any
	if err := json.Unmarshal([]byte(paramsText), &params); err != nil {
		return fmt.Errorf("parsing --params: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Store.ConnectTimeout)
	defer cancel()

	s, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	cache := newPlanCache(cfg, logger)
	executor := cypher.NewExecutor(s, logger, cache)

	result, err := executor.Execute(context.Background(), args[0], params)
	if err != nil {
		out, marshalErr := json.MarshalIndent(map[string]any{
			"error": result.Error,
			"meta":  result.Meta,
		}, "", "  ")
		if marshalErr != nil {
			return marshalErr
		}
		fmt.Println(string(out))
		return fmt.Errorf("executing query: %w", err)
	}

	out, err := json.MarshalIndent(map[string]any{
		"columns": result.Columns,
		"data":    result.Data,
		"stats":   result.Stats,
		"meta":    result.Meta,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
