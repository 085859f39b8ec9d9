package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "conductor",
		Short: "Agent execution core",
		Long: "Conductor turns prompts and external events into supervised agent runs: " +
			"direct reasoning, self-iterating Ralph loops, or external CLI pass-through, " +
			"with safety classification on every proposed command.",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "path to config file (default ~/.conductor/config.yaml)")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newWorkflowCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newClassifyCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
