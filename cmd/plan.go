package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/insightpulseai/hawk/internal/config"
	"github.com/insightpulseai/hawk/internal/llmclient"
	"github.com/insightpulseai/hawk/internal/observability"
	"github.com/insightpulseai/hawk/internal/planner"
)

func newPlanCmd() *cobra.Command {
	planCmd := &cobra.Command{
		Use:   "plan \"goal\"",
		Short: "Decomposes a goal into a task plan without executing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()
			defer observability.Sync()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			llm, err := llmclient.NewClient(cfg.Planner, logger)
			if err != nil {
				return fmt.Errorf("initialize model client: %w", err)
			}
			pl := planner.New(llm, cfg.Planner, logger)

			plan, err := pl.Plan(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("planning failed: %w", err)
			}

			if errs := planner.ValidatePlan(plan); len(errs) > 0 {
				logger.Warn("Plan has validation errors", zap.Strings("errors", errs))
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(plan)
		},
	}
	return planCmd
}

func init() {
	rootCmd.AddCommand(newPlanCmd())
}
