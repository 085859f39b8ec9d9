package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conductorhq/conductor/pkg/workflow"
)

func newWorkflowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow <file>",
		Short: "Execute a workflow definition",
		Long: "Runs the steps of a YAML workflow definition in order. On step failure " +
			"you choose interactively: retry, skip, continue, or stop.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDeps(cmd)
			if err != nil {
				return err
			}
			defer d.close()

			def, err := workflow.LoadDefinition(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			snap, err := d.engine.Start(ctx, def)
			if err != nil {
				return err
			}

			return superviseRun(ctx, d, snap)
		},
	}
	return cmd
}

// superviseRun drives the interactive decision loop until the run reaches a
// state with nothing left to decide.
func superviseRun(ctx context.Context, d *deps, snap workflow.Snapshot) error {
	reader := bufio.NewReader(os.Stdin)

	for {
		printRunState(snap)

		switch snap.Status {
		case workflow.StatusCompleted:
			return nil
		case workflow.StatusCancelled:
			return nil
		case workflow.StatusAwaitingConfirmation:
			fmt.Println("Answer the questions above, then press enter to continue (or type stop):")
			line, _ := reader.ReadString('\n')
			if strings.TrimSpace(line) == "stop" {
				next, err := d.engine.Stop(snap.ID)
				if err != nil {
					return err
				}
				snap = next
				continue
			}
			next, err := d.engine.Continue(ctx, snap.ID)
			if err != nil {
				return err
			}
			snap = next
		case workflow.StatusFailed:
			next, err := decideOnFailure(ctx, d, reader, snap)
			if err != nil {
				return err
			}
			snap = next
		case workflow.StatusPaused:
			next, err := d.engine.Continue(ctx, snap.ID)
			if err != nil {
				return err
			}
			snap = next
		default:
			return fmt.Errorf("unexpected run status %s", snap.Status)
		}
	}
}

func decideOnFailure(ctx context.Context, d *deps, reader *bufio.Reader, snap workflow.Snapshot) (workflow.Snapshot, error) {
	fmt.Printf("Step %d failed: %s\n", snap.CurrentStep, snap.FailureReason)
	fmt.Print("Decision [retry/skip/continue/stop]: ")

	line, err := reader.ReadString('\n')
	if err != nil {
		return d.engine.Stop(snap.ID)
	}

	switch strings.TrimSpace(strings.ToLower(line)) {
	case "retry":
		return d.engine.Retry(ctx, snap.ID)
	case "skip":
		return d.engine.Skip(snap.ID)
	case "continue":
		return d.engine.Continue(ctx, snap.ID)
	default:
		return d.engine.Stop(snap.ID)
	}
}

func printRunState(snap workflow.Snapshot) {
	fmt.Printf("\nrun %s: %s (step %d/%d)\n", snap.ID, snap.Status, snap.CurrentStep, len(snap.Steps))
	for i, step := range snap.Steps {
		line := fmt.Sprintf("  %d. %s", i, step.State)
		if step.Attempts > 1 {
			line += fmt.Sprintf(" (attempt %d)", step.Attempts)
		}
		if step.Warning != "" {
			line += " warning: " + step.Warning
		}
		fmt.Println(line)
	}
	for _, q := range snap.Questions {
		fmt.Println("  ? " + q)
	}
}
