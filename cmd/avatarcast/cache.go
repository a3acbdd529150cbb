package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/example/go-avatarcast/internal/cache"
	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the artifact cache",
	}

	cmd.AddCommand(newCacheGCCmd())

	return cmd
}

func newCacheGCCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Evict cache entries past their time-to-live",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if !cfg.Cache.Enabled {
				return fmt.Errorf("cache is disabled in configuration")
			}

			ttl := olderThan
			if ttl <= 0 {
				ttl = time.Duration(cfg.Cache.TTLHours) * time.Hour
			}

			store, err := cache.OpenSQLite(cmd.Context(), cfg.Cache.IndexDB, slog.Default())
			if err != nil {
				return fmt.Errorf("open cache index: %w", err)
			}
			defer func() { _ = store.Close() }()

			evicted, err := store.Evict(cmd.Context(), ttl)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(os.Stdout, "evicted %d entries older than %s\n", evicted, ttl)
			return err
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Evict entries older than this (default: configured TTL)")

	return cmd
}
