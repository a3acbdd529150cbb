package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/go-avatarcast/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the avatarcast HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			ctrl, closeStore, err := buildController(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			srv := server.New(cfg, ctrl).
				WithShutdownTimeout(time.Duration(cfg.Server.ShutdownTimeout) * time.Second)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.Start(ctx)
		},
	}

	return cmd
}
