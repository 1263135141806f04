// Package cli wires configuration, logging and the sync core into the
// fleetmsg command tree.
package cli

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fleetmsg/fleetmsg/internal/config"
	"github.com/fleetmsg/fleetmsg/internal/logging"
	synccore "github.com/fleetmsg/fleetmsg/internal/sync"
	"github.com/fleetmsg/fleetmsg/internal/tui"
)

func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	var (
		configPath string
		baseURL    string
		token      string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:           "fleetmsg",
		Short:         "Terminal messaging client for fleet dispatch",
		Long:          "fleetmsg keeps carrier/driver threads and broadcast channels in sync and renders them in a terminal UI.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, baseURL, token, logLevel)
			if err != nil {
				return err
			}
			return runTUI(cmd.Context(), cfg)
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&baseURL, "api-url", "", "messaging API base URL override")
	cmd.PersistentFlags().StringVar(&token, "token", "", "bearer token override")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug|info|warn|error")

	cmd.AddCommand(newCheckCmd(&configPath, &baseURL, &token, &logLevel))
	return cmd
}

func loadConfig(configPath, baseURL, token, logLevel string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if baseURL != "" {
		cfg.API.BaseURL = baseURL
	}
	if token != "" {
		cfg.API.Token = token
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("prepare directories: %w", err)
	}

	logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		EnableCaller: cfg.Logging.EnableCaller,
	})
	return cfg, nil
}

func runTUI(ctx context.Context, cfg *config.Config) error {
	core, err := synccore.NewCore(cfg)
	if err != nil {
		return fmt.Errorf("init sync core: %w", err)
	}
	defer core.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start returns after the cache paint; the network load runs behind the
	// UI and surfaces through the stale banner.
	core.Start(ctx)

	program := tea.NewProgram(tui.New(core, cfg.TUI.RefreshInterval), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run ui: %w", err)
	}
	return nil
}
