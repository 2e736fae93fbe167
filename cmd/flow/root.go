package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/flowexec/flow/internal/config"
	"github.com/flowexec/flow/internal/runloop"
)

// agentBinary is the external agent CLI flow subprocess-invokes. It is not
// a user-facing flag: the CLI surface is a fixed set of options and the
// agent binary is always the Claude Code CLI on PATH.
const agentBinary = "claude"

var (
	flagCycle         string
	flagConfig        string
	flagLogDir        string
	flagMaxIterations int
	flagTodo          string
)

var rootCmd = &cobra.Command{
	Use:   "flow",
	Short: "Drive an automated code-production loop over an AI coding assistant",
	Long: `flow repeatedly invokes an AI coding assistant CLI as a subprocess to carry
out named units of work ("cycles") described in a TOML configuration file,
recording each iteration's outcome to an append-only history log.

Using --max-iterations > 1 without --cycle engages the cycle selector, which
consults the history log and a TODO file to choose each iteration's cycle.
Using neither --cycle nor --max-iterations > 1 is an error: there would be
nothing to decide and nothing to repeat.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagCycle == "" && flagMaxIterations <= 1 {
			return fmt.Errorf("specify --cycle or --max-iterations > 1")
		}

		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}

		code := runloop.Run(*cfg, runloop.Options{
			Binary:        agentBinary,
			LogPath:       filepath.Join(flagLogDir, "log.jsonl"),
			ProgressPath:  filepath.Join(flagLogDir, "progress.json"),
			TodoPath:      flagTodo,
			FixedCycle:    flagCycle,
			MaxIterations: uint32(flagMaxIterations),
			Out:           os.Stdout,
			ErrOut:        os.Stderr,
		})
		if code != 0 {
			os.Exit(code)
		}
		return nil
	},
}

// Execute runs the root command, printing any returned error in the
// teacher's established red-checkmark-free but colorized error style.
func Execute() {
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		red := color.New(color.FgRed).SprintFunc()
		fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVar(&flagCycle, "cycle", "", "run this cycle every iteration, bypassing the selector")
	rootCmd.Flags().StringVar(&flagConfig, "config", "cycles.toml", "path to the cycles configuration file")
	rootCmd.Flags().StringVar(&flagLogDir, "log-dir", ".flow", "directory for the history log and progress snapshot")
	rootCmd.Flags().IntVar(&flagMaxIterations, "max-iterations", 1, "number of iterations to run")
	rootCmd.Flags().StringVar(&flagTodo, "todo", "TODO.md", "path to the TODO file consulted by the selector")
}
