package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/conductorhq/conductor/pkg/webhook"
	"github.com/conductorhq/conductor/pkg/workflow"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the webhook ingestion endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDeps(cmd)
			if err != nil {
				return err
			}
			defer d.close()

			addr, _ := cmd.Flags().GetString("addr")

			bridge := webhook.NewBridge(
				webhook.WithTaskStore(&loggingTaskStore{d: d}),
				webhook.WithWorkflowStarter(&engineStarter{d: d}),
				webhook.WithAuditSink(d.sink),
				webhook.WithBridgeLogger(d.logger),
			)
			for _, def := range d.cfg.Webhooks {
				if err := bridge.Register(def); err != nil {
					return fmt.Errorf("webhook %q: %w", def.Name, err)
				}
			}

			server := &http.Server{
				Addr:              addr,
				Handler:           bridge.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.ListenAndServe()
			}()
			fmt.Printf("listening on %s (%d webhooks registered)\n", addr, len(d.cfg.Webhooks))

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().String("addr", ":8787", "listen address")
	return cmd
}

// loggingTaskStore stands in for the external task persistence layer: it
// assigns ids and prints created tasks.
type loggingTaskStore struct {
	d *deps
}

func (s *loggingTaskStore) CreateTask(ctx context.Context, task webhook.Task) (string, error) {
	id := uuid.New().String()
	status := "queued"
	if task.Pending {
		status = "pending (no server resolved)"
	}
	fmt.Printf("task %s created: %s [%s]\n", id, task.Title, status)
	return id, nil
}

// engineStarter adapts the workflow engine to the bridge's starter boundary.
type engineStarter struct {
	d *deps
}

func (s *engineStarter) StartWorkflow(ctx context.Context, def *workflow.Definition) (string, error) {
	// Detached: webhook-started runs outlive the HTTP request.
	return s.d.engine.StartAsync(context.Background(), def)
}
