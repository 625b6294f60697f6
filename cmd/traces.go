package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/insightpulseai/hawk/internal/config"
	"github.com/insightpulseai/hawk/internal/trace"
)

func newTracesCmd() *cobra.Command {
	var sessionID string

	tracesCmd := &cobra.Command{
		Use:   "traces",
		Short: "Lists recorded session traces",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			if cfg.Traces.Dir == "" {
				cfg.Traces.Dir = defaultTraceDir()
			}

			index, err := trace.OpenIndex(cfg.Traces.Dir)
			if err != nil {
				return fmt.Errorf("open trace index: %w", err)
			}
			defer index.Close()

			entries, err := index.List(sessionID)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No traces recorded.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TRACE ID\tSESSION\tSTARTED\tEVENTS\tFAILURES\tDURATION")
			for _, e := range entries {
				duration := "-"
				if e.CompletedAt != nil {
					duration = e.CompletedAt.Sub(e.StartedAt).Round(time.Millisecond).String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					e.TraceID, e.SessionID,
					e.StartedAt.Format(time.RFC3339),
					e.EventCount, e.Failures, duration,
				)
			}
			return w.Flush()
		},
	}

	tracesCmd.Flags().StringVar(&sessionID, "session", "", "filter by session id")
	return tracesCmd
}

func init() {
	rootCmd.AddCommand(newTracesCmd())
}
