// File: cmd/serve.go
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/internal/dispatch"
	"github.com/xkilldash9x/droidpilot/internal/observability"
	"github.com/xkilldash9x/droidpilot/internal/orchestrator"
	"github.com/xkilldash9x/droidpilot/internal/reasoner"
	"github.com/xkilldash9x/droidpilot/internal/server"
	"github.com/xkilldash9x/droidpilot/internal/taskstore"
	"github.com/xkilldash9x/droidpilot/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session server that devices connect to.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		defer observability.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := taskstore.NewFromConfig(ctx, cfg.TaskStore, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize task store: %w", err)
		}
		defer store.Close()

		rsn, err := reasoner.New(cfg.Reasoner, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize reasoner: %w", err)
		}

		manager := transport.NewManager(cfg.Server, logger)
		dispatcher := dispatch.NewDispatcher(manager, cfg.Agent, logger)
		orch := orchestrator.New(cfg.Agent, dispatcher, rsn, store, manager, logger)
		srv := server.New(cfg.Server, manager, orch, store, logger)

		logger.Info("Session server starting.", zap.String("listen_addr", cfg.Server.ListenAddr))
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("server exited with error: %w", err)
		}
		logger.Info("Session server stopped.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
