package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/insightpulseai/hawk/internal/config"
	"github.com/insightpulseai/hawk/internal/llmclient"
	"github.com/insightpulseai/hawk/internal/observability"
	"github.com/insightpulseai/hawk/internal/planner"
	"github.com/insightpulseai/hawk/internal/sandbox"
	"github.com/insightpulseai/hawk/internal/session"
	"github.com/insightpulseai/hawk/internal/trace"
)

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run \"goal\"",
		Short: "Executes a natural language goal inside an isolated sandbox",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("session.platform", cmd.Flags().Lookup("platform")); err != nil {
				return err
			}
			if err := viper.BindPFlag("sandbox.prefer_remote_vm", cmd.Flags().Lookup("remote-vm")); err != nil {
				return err
			}
			if err := viper.BindPFlag("sandbox.allow_unsandboxed", cmd.Flags().Lookup("allow-unsandboxed")); err != nil {
				return err
			}
			if err := viper.BindPFlag("traces.dir", cmd.Flags().Lookup("trace-dir")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()
			defer observability.Sync()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			if cfg.Traces.Dir == "" {
				cfg.Traces.Dir = defaultTraceDir()
			}

			goal := args[0]
			logger.Info("Starting automation run",
				zap.String("goal", goal),
				zap.String("platform", cfg.Session.Platform),
				zap.Bool("remote_vm", cfg.Sandbox.PreferRemoteVM),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			llm, err := llmclient.NewClient(cfg.Planner, logger)
			if err != nil {
				return fmt.Errorf("initialize model client: %w", err)
			}
			pl := planner.New(llm, cfg.Planner, logger)

			mgr := sandbox.NewManager(cfg.Sandbox, logger)
			defer mgr.Shutdown(context.Background())

			index, err := trace.OpenIndex(ensureDir(cfg.Traces.Dir))
			if err != nil {
				logger.Warn("Trace index unavailable, continuing without it", zap.Error(err))
			} else {
				defer index.Close()
			}

			sessionID := session.NewSessionID()
			recorder, err := trace.NewRecorder(cfg.Traces.Dir, sessionID, index, logger)
			if err != nil {
				return fmt.Errorf("initialize trace recorder: %w", err)
			}
			sess := session.New(cfg, mgr, pl, recorder, logger, session.WithID(sessionID))

			// The reclamation sweep runs alongside the session and stops with it.
			runCtx, cancel := context.WithCancel(ctx)
			g, gctx := errgroup.WithContext(runCtx)

			g.Go(func() error {
				mgr.RunReclaimer(gctx)
				return nil
			})

			var succeeded bool
			g.Go(func() error {
				defer cancel()
				if err := sess.Start(gctx); err != nil {
					return err
				}
				succeeded = sess.Run(gctx, goal)
				return nil
			})

			if err := g.Wait(); err != nil {
				return err
			}
			if !succeeded {
				return fmt.Errorf("goal did not complete: session %s ended in state %s", sess.ID, sess.State())
			}

			logger.Info("Goal completed",
				zap.String("session_id", sess.ID),
				zap.Int("events", len(sess.Trace().Events)),
				zap.String("trace_dir", recorder.Dir()),
			)
			return nil
		},
	}

	runCmd.Flags().String("platform", "linux", "target platform (linux, macos, windows)")
	runCmd.Flags().Bool("remote-vm", true, "prefer the remote micro-VM backend when configured")
	runCmd.Flags().Bool("allow-unsandboxed", false, "permit direct host execution when no sandbox is available")
	runCmd.Flags().String("trace-dir", "", "directory for session traces (default ~/.hawk/traces)")

	return runCmd
}

func defaultTraceDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hawk/traces"
	}
	return home + "/.hawk/traces"
}

func ensureDir(dir string) string {
	_ = os.MkdirAll(dir, 0o755)
	return dir
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}
