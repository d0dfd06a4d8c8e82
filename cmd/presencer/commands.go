package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/presencer"
	"github.com/loykin/presencer/internal/config"
	"github.com/loykin/presencer/pkg/client"
)

// GlobalFlags holds persistent flags shared by the simulation commands.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags holds flags for commands that talk to a running daemon.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

func buildRoot() *cobra.Command {
	var gf GlobalFlags

	root := &cobra.Command{
		Use:   "presencer",
		Short: "Simulate presence tracking over a document store",
		Long: "presencer runs N agents that periodically flip their own\n" +
			"online flag while N watchers observe the collection change feed\n" +
			"and log every transition.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&gf.ConfigPath, "config", "c", "", "TOML config file (built-in two-agent demo when empty)")

	root.AddCommand(buildRunCmd(&gf))
	root.AddCommand(buildServeCmd(&gf))
	root.AddCommand(buildResetCmd(&gf))
	root.AddCommand(buildStatusCmd())
	root.AddCommand(buildStopCmd())
	return root
}

func loadConfig(gf *GlobalFlags) (presencer.Config, error) {
	if gf.ConfigPath == "" {
		return config.Default(), nil
	}
	return presencer.LoadConfig(gf.ConfigPath)
}

// setup opens the store and optional history sink and installs the run
// logger. The returned cleanup closes everything in reverse order.
func setup(cfg presencer.Config, runName string) (presencer.Store, presencer.HistorySink, func(), error) {
	log, logCloser := cfg.Log.New(runName)
	slog.SetDefault(log)

	st, err := presencer.NewStore(cfg.Namespace, cfg.StoreDSN)
	if err != nil {
		_ = logCloser.Close()
		return nil, nil, nil, fmt.Errorf("open store %s: %w", cfg.StoreDSN, err)
	}
	var sink presencer.HistorySink
	if cfg.HistoryDSN != "" {
		sink, err = presencer.NewHistorySink(cfg.HistoryDSN)
		if err != nil {
			_ = st.Close()
			_ = logCloser.Close()
			return nil, nil, nil, fmt.Errorf("open history sink: %w", err)
		}
	}
	cleanup := func() {
		if sink != nil {
			_ = sink.Close()
		}
		_ = st.Close()
		_ = logCloser.Close()
	}
	return st, sink, cleanup, nil
}

func buildRunCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one observation window and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(gf)
			if err != nil {
				return err
			}
			st, sink, cleanup, err := setup(cfg, "run")
			if err != nil {
				return err
			}
			defer cleanup()
			_ = presencer.RegisterMetricsDefault()

			sup, err := presencer.NewSupervisor(cfg.SupervisorConfig(), st, sink)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := sup.Seed(ctx); err != nil {
				return err
			}
			return sup.Run(ctx)
		},
	}
}

func buildServeCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the simulation with the status API exposed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(gf)
			if err != nil {
				return err
			}
			st, sink, cleanup, err := setup(cfg, "serve")
			if err != nil {
				return err
			}
			defer cleanup()
			_ = presencer.RegisterMetricsDefault()
			if cfg.Server.MetricsListen != "" {
				go func() {
					if err := presencer.ServeMetrics(cfg.Server.MetricsListen); err != nil {
						slog.Error("metrics server failed", "op", "listen", "addr", cfg.Server.MetricsListen, "error", err)
					}
				}()
			}

			sup, err := presencer.NewSupervisor(cfg.SupervisorConfig(), st, sink)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := sup.Seed(ctx); err != nil {
				return err
			}
			if err := sup.Start(ctx); err != nil {
				return err
			}
			srv := presencer.NewHTTPServer(cfg.Server.Listen, cfg.Server.BasePath, sup, st)
			defer func() { _ = srv.Close() }()

			timer := time.NewTimer(cfg.Window)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
			case <-sup.Done():
			}
			sup.Stop()
			return nil
		},
	}
}

func buildResetCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete all presence records in the configured namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(gf)
			if err != nil {
				return err
			}
			st, err := presencer.NewStore(cfg.Namespace, cfg.StoreDSN)
			if err != nil {
				return fmt.Errorf("open store %s: %w", cfg.StoreDSN, err)
			}
			defer func() { _ = st.Close() }()
			return st.DeleteAll(cmd.Context())
		},
	}
}

func buildStatusCmd() *cobra.Command {
	var af APIFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running daemon's records and state",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(client.Config{BaseURL: af.APIUrl, Timeout: af.APITimeout})
			state, err := c.State(cmd.Context())
			if err != nil {
				return err
			}
			recs, err := c.Records(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(map[string]any{"state": state, "records": recs})
			return nil
		},
	}
	addAPIFlags(cmd, &af)
	return cmd
}

func buildStopCmd() *cobra.Command {
	var af APIFlags
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Ask a running daemon to end the run early",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(client.Config{BaseURL: af.APIUrl, Timeout: af.APITimeout})
			return c.Stop(cmd.Context())
		},
	}
	addAPIFlags(cmd, &af)
	return cmd
}

func addAPIFlags(cmd *cobra.Command, af *APIFlags) {
	cmd.Flags().StringVar(&af.APIUrl, "api-url", "http://localhost:8080/api", "daemon API base URL")
	cmd.Flags().DurationVar(&af.APITimeout, "api-timeout", 10*time.Second, "daemon API request timeout")
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		return
	}
	fmt.Println(string(b))
}
