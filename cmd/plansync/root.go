package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/plansync/internal/config"
	"github.com/vovakirdan/plansync/internal/log"
)

var version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "plansync",
		Short: "Live plan conversation sync: reference server and terminal client",
		Long: `plansync keeps a plan's chat in sync with a server of record.

"serve" runs the reference websocket + REST server, "chat" runs a terminal
client on top of the sync engine.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path (default ./config.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	root.AddCommand(newServeCmd(opts), newChatCmd(opts), newSmokeCmd(opts))
	return root
}

// load resolves configuration and builds the logger it asks for.
func (o *rootOptions) load() (config.Config, *zerolog.Logger, error) {
	bootstrap := log.New("warn")
	cfg, path, err := config.Load(bootstrap, o.configPath)
	if err != nil {
		return cfg, nil, fmt.Errorf("load config: %w", err)
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}

	logger := log.NewWithWriter(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	logger.Debug().Str("path", path).Msg("configuration loaded")
	return cfg, logger, nil
}
