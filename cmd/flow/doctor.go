package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/flowexec/flow/internal/config"
	"github.com/flowexec/flow/internal/doctor"
	"github.com/flowexec/flow/internal/history"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose common configuration and history problems",
	Long: `Run the diagnostic checks against the current configuration and history log:
repeated permission denials, flaky or expensive cycles, missing frequency
gates on triggered cycles, and cycles left without any permission scoping.

Exit codes:
  0 - no findings, or only Warning/Info findings
  1 - at least one Error-severity finding`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}

		logPath := filepath.Join(flagLogDir, "log.jsonl")
		entries, err := history.New(logPath).ReadAll()
		if err != nil {
			return fmt.Errorf("read history log: %w", err)
		}

		report := doctor.Diagnose(*cfg, entries)
		if reported, err := doctor.ProbeAgentVersion(agentBinary); err == nil {
			if finding := doctor.CheckAgentVersion(reported, doctor.MinAgentVersion); finding != nil {
				report.Findings = append(report.Findings, *finding)
			}
		}

		red := color.New(color.FgRed).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()

		if report.IsClean() {
			fmt.Printf("%s no issues found\n", green("✓"))
			return nil
		}

		for _, f := range report.Findings {
			label := cyan(f.Code)
			switch f.Severity {
			case doctor.SeverityError:
				label = red(f.Code)
			case doctor.SeverityWarning:
				label = yellow(f.Code)
			}
			fmt.Printf("%s %s: %s\n", label, f.Severity, f.Message)
			if f.Suggestion != "" {
				fmt.Printf("    %s\n", f.Suggestion)
			}
		}

		if report.Count(doctor.SeverityError) > 0 {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
