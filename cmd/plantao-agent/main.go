// Plantão offline agent.
//
// Keeps shifts, team rosters, events and agent licenses available when the
// backend is unreachable, guards against false logouts during token refresh
// and exposes a local status endpoint.
//
// Usage:
//
//	plantao-agent run --agent-id ID --unit UNIT --team TEAM
//	plantao-agent license check 123.456.789-01
//	plantao-agent safe-mode enable
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/agent"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/config"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/logging"
)

var (
	verbose bool
	asJSON  bool

	cfg *config.Config
	ag  *agent.Agent
)

var rootCmd = &cobra.Command{
	Use:           "plantao-agent",
	Short:         "Offline resilience agent for Plantão Pro",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		if err := logging.Init(logging.Config{Level: level, Format: cfg.LogFormat, OutputPath: "stderr"}); err != nil {
			return fmt.Errorf("init logging: %w", err)
		}
		ag, err = agent.New(cmd.Context(), cfg)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose (debug) logging")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print results as JSON")

	rootCmd.AddCommand(runCmd, statusCmd, shiftsCmd, teamCmd, eventsCmd, licenseCmd, safeModeCmd, cacheCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the agent status as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJSON(ag.Status())
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	err := rootCmd.ExecuteContext(context.Background())
	if ag != nil {
		if cerr := ag.Close(); cerr != nil {
			logging.Warn("close agent", logging.Err(cerr))
		}
	}
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
