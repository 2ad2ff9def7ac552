package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/minicodemonkey/reverb-go/internal/listener"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	if err := buildRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string
	var dashboard bool

	rootCmd := &cobra.Command{
		Use:           "reverb-device",
		Short:         "Connects a device to a Reverb app and runs capture scripts on demand",
		Long:          "reverb-device subscribes to a device's presence channel on a Laravel Reverb broker, runs capture scripts when a client-capture event arrives, and reports results to a callback URL.",
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListen(cmd.Context(), configPath, dashboard)
		},
	}
	rootCmd.SetVersionTemplate("reverb-device version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", listener.DefaultConfigFileName, "path to the device config file")
	rootCmd.Flags().BoolVar(&dashboard, "dashboard", false, "show a live status dashboard instead of plain logs")

	rootCmd.AddCommand(newSignCmd())

	return rootCmd
}

func runListen(ctx context.Context, configPath string, dashboard bool) error {
	cfg, err := listener.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.ApplyEnv()

	svc, err := listener.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !dashboard {
		return svc.Run(ctx)
	}

	program := tea.NewProgram(svc.Dashboard(), tea.WithAltScreen())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run(ctx) }()

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	return <-errCh
}
