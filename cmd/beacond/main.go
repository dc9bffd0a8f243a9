// Command beacond runs the Beacon plugin host.
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

	"github.com/beaconkit/beacon/internal/config"
	"github.com/beaconkit/beacon/internal/runtime"
	"github.com/beaconkit/beacon/pkg/plugin"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		cfgPath string
		verbose bool
	)

	root := &cobra.Command{
		Use:           "beacond",
		Short:         "Beacon plugin host runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	newLogger := func() *slog.Logger {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	loadConfig := func() (*config.Config, error) {
		return config.Load(cfgPath)
	}

	newRuntime := func() (*runtime.Runtime, error) {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		return runtime.New(cfg, newLogger(), runtime.Options{})
	}

	root.AddCommand(serveCmd(newRuntime))
	root.AddCommand(pluginsCmd(newRuntime))
	root.AddCommand(tokenCmd(newRuntime))
	root.AddCommand(statusCmd(newRuntime))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "beacond", version)
		},
	})
	return root
}

func serveCmd(newRuntime func() (*runtime.Runtime, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the plugin host until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := rt.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			rt.Shutdown(shutdownCtx)
			return nil
		},
	}
}

func pluginsCmd(newRuntime func() (*runtime.Runtime, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect discovered and loaded plugins",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List discovered plugins",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Shutdown(cmd.Context())

			discovered, err := rt.Scanner.Discover(cmd.Context())
			if err != nil {
				return err
			}
			for _, dp := range discovered {
				fmt.Fprintf(cmd.OutOrStdout(), "%-32s %-12s %s\n", dp.ID, dp.Kind, dp.Dir)
			}
			if len(discovered) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no plugins discovered")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <dir>",
		Short: "Validate one plugin directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Shutdown(cmd.Context())

			dp, err := rt.Scanner.Validate(args[0])
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(dp.Manifest, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	})

	return cmd
}

func tokenCmd(newRuntime func() (*runtime.Runtime, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue and revoke plugin tokens",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "issue <plugin-id>",
		Short: "Issue a token for a plugin (printed exactly once)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Shutdown(cmd.Context())

			token, err := rt.Tokens.GenerateToken(args[0], plugin.PermissionSet{})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <plugin-id> <token>",
		Short: "Revoke a plugin token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Shutdown(cmd.Context())
			return rt.Tokens.Revoke(args[0], args[1])
		},
	})

	return cmd
}

func statusCmd(newRuntime func() (*runtime.Runtime, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the host health snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Shutdown(cmd.Context())

			out, _ := json.MarshalIndent(rt.Metrics.Dashboard(), "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}
