package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conductorhq/conductor/pkg/agent/confirm"
	"github.com/conductorhq/conductor/pkg/types"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Execute a single agent run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDeps(cmd)
			if err != nil {
				return err
			}
			defer d.close()

			mode, _ := cmd.Flags().GetString("mode")
			runtimeKind, _ := cmd.Flags().GetString("runtime")
			model, _ := cmd.Flags().GetString("model")
			workDir, _ := cmd.Flags().GetString("workdir")
			ralphMax, _ := cmd.Flags().GetInt("ralph-max")
			promiseToken, _ := cmd.Flags().GetString("promise-token")

			req := &types.AgentRunRequest{
				Message:            args[0],
				Mode:               types.RunMode(mode),
				Model:              model,
				RuntimeKind:        runtimeKind,
				WorkDir:            workDir,
				RalphMaxIterations: ralphMax,
				PromiseToken:       promiseToken,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			terminal := streamEvents(d, d.orch.Process(ctx, req))
			if terminal != nil && terminal.Type == types.EventTypeError {
				return fmt.Errorf("run failed: %v", terminal.Error)
			}
			return nil
		},
	}

	cmd.Flags().String("mode", string(types.ModeReact), "run mode: react, ralph_internal, ralph_cli, cli")
	cmd.Flags().String("runtime", "claude", "runtime kind for cli modes: cursor, claude, codex, ralph")
	cmd.Flags().String("model", "", "model preference forwarded to the LLM provider")
	cmd.Flags().String("workdir", "", "working directory for subprocess execution")
	cmd.Flags().Int("ralph-max", 0, "override the Ralph iteration cap")
	cmd.Flags().String("promise-token", "", "override the completion promise token")

	return cmd
}

// streamEvents prints a run's events and resolves confirmation prompts from
// stdin. Returns the terminal event.
func streamEvents(d *deps, events <-chan *types.StreamEvent) *types.StreamEvent {
	var terminal *types.StreamEvent
	reader := bufio.NewReader(os.Stdin)

	for ev := range events {
		printEvent(ev)
		if ev.IsTerminal() {
			terminal = ev
			continue
		}
		if ev.Type == types.EventTypePendingConfirmation {
			approved := promptApproval(reader, ev)
			d.confirmMgr.Resolve(confirm.Decision{
				ConfirmID: ev.ConfirmID,
				Approved:  approved,
			})
		}
	}
	return terminal
}

func promptApproval(reader *bufio.Reader, ev *types.StreamEvent) bool {
	fmt.Printf("Approve %s (%s)? [y/N]: ", ev.ToolName, ev.Reason)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func printEvent(ev *types.StreamEvent) {
	switch ev.Type {
	case types.EventTypeThought:
		fmt.Println(ev.Content)
	case types.EventTypeAction:
		fmt.Printf("-> %s %v\n", ev.ToolName, ev.ToolInput)
	case types.EventTypeObservation:
		fmt.Printf("[observation] %s\n", ev.Content)
	case types.EventTypeToolResult:
		fmt.Printf("[%s] %v\n", ev.ToolName, ev.ToolOutput)
	case types.EventTypePendingConfirmation:
		fmt.Printf("[confirmation required] %s: %s\n", ev.ToolName, ev.Reason)
	case types.EventTypePassthrough:
		fmt.Println(ev.Content)
	case types.EventTypeFinal:
		if ev.Truncated {
			fmt.Println("\n[truncated]", ev.Content)
		} else {
			fmt.Println("\n" + ev.Content)
		}
	case types.EventTypeError:
		fmt.Fprintf(os.Stderr, "error: %v\n", ev.Error)
		if ev.ExitCode != 0 {
			fmt.Fprintf(os.Stderr, "exit code: %d\n", ev.ExitCode)
		}
		for _, line := range ev.StderrTail {
			fmt.Fprintln(os.Stderr, "  "+line)
		}
	case types.EventTypeCancelled:
		fmt.Println("cancelled")
	}
}

func newClassifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <command>",
		Short: "Classify a command through the safety filter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDeps(cmd)
			if err != nil {
				return err
			}
			defer d.close()

			c := d.filter.Classify(args[0])
			fmt.Println(c.Decision)
			if c.Reason != "" {
				fmt.Println("reason:", c.Reason)
			}
			if c.Pattern != "" {
				fmt.Println("pattern:", c.Pattern)
			}
			return nil
		},
	}
}
