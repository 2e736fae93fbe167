package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var initWithHealthSidecar bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold a cycles.toml and log directory in the current project",
	Long: `Create a starter cycles.toml, a TODO.md if one doesn't already exist, and
the .flow/ log directory that flow appends history and progress to.

With --with-health-sidecar, also writes .flow/health.yaml, an optional
sidecar describing which cycles should be treated as health-monitoring
cycles by external tooling.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get current directory: %w", err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		configPath := filepath.Join(cwd, "cycles.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			if err := os.WriteFile(configPath, []byte(starterConfigTOML), 0o644); err != nil {
				return fmt.Errorf("write cycles.toml: %w", err)
			}
			fmt.Printf("%s Created %s\n", green("✓"), cyan("cycles.toml"))
		} else {
			fmt.Printf("%s cycles.toml already exists, leaving it alone\n", gray("→"))
		}

		todoPath := filepath.Join(cwd, "TODO.md")
		if _, err := os.Stat(todoPath); os.IsNotExist(err) {
			if err := os.WriteFile(todoPath, []byte(starterTodo), 0o644); err != nil {
				return fmt.Errorf("write TODO.md: %w", err)
			}
			fmt.Printf("%s Created %s\n", green("✓"), cyan("TODO.md"))
		}

		logDir := filepath.Join(cwd, ".flow")
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return fmt.Errorf("create .flow directory: %w", err)
		}
		fmt.Printf("%s Created %s\n", green("✓"), cyan(".flow/"))

		if initWithHealthSidecar {
			sidecarPath := filepath.Join(logDir, "health.yaml")
			data, err := yaml.Marshal(defaultHealthSidecar())
			if err != nil {
				return fmt.Errorf("marshal health sidecar: %w", err)
			}
			if err := os.WriteFile(sidecarPath, data, 0o644); err != nil {
				return fmt.Errorf("write health sidecar: %w", err)
			}
			fmt.Printf("%s Created %s\n", green("✓"), cyan(".flow/health.yaml"))
		}

		fmt.Printf("\n%s Next steps:\n", gray("→"))
		fmt.Printf("  %s\n", gray("flow --cycle coding"))
		fmt.Printf("  %s\n", gray("flow doctor"))
		return nil
	},
}

// healthSidecar marks which cycles an external health dashboard should
// treat as health-monitoring cycles, separately from cycles.toml's own
// scheduling fields.
type healthSidecar struct {
	HealthCycles []string `yaml:"health_cycles"`
}

func defaultHealthSidecar() healthSidecar {
	return healthSidecar{HealthCycles: []string{"gardening"}}
}

const starterConfigTOML = `[global]
max_permission_denials = 5
circuit_breaker_threshold = 3
max_consecutive_failures = 3
summary_interval = 5
permissions = ["Read", "Grep", "Glob"]

[[cycle]]
name = "coding"
description = "Pick up the next pending TODO item and implement it"
prompt = "Review TODO.md and implement the highest-priority pending task."
permissions = ["Edit", "Write", "Bash"]

[[cycle]]
name = "gardening"
description = "Clean up after a coding cycle: run tests, fix lint, update docs"
prompt = "Run the test suite and address any failures or lint warnings introduced recently."
after = ["coding"]
min_interval = 3
permissions = ["Edit", "Bash"]
`

const starterTodo = `# TODO

- [ ] Describe the first task for flow to pick up
Priority: P1
`

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initWithHealthSidecar, "with-health-sidecar", false, "also scaffold .flow/health.yaml")
}
