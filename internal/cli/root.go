package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/Carelink/internal/config"
	"github.com/SmitUplenchwar2687/Carelink/internal/observability"
)

// Version is stamped at build time with -ldflags "-X ...cli.Version=v1.2.3".
var Version = "dev"

type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
	logFormat  string
}

// NewRootCmd creates the root carelink command.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "carelink",
		Short: "Rate limiting and offline request queueing for Carelink cloud functions",
		Long: `Carelink gates cloud-function calls with a per-caller sliding window,
queues calls made while offline and replays them when the connection returns.`,
		Version:      Version,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (YAML or JSON)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading CARELINK_* variables")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format (json, console)")

	root.AddCommand(
		newServeCmd(opts),
		newSimulateCmd(opts),
		newReplayCmd(opts),
		newQueueCmd(opts),
		newStatusCmd(),
		newGenerateCmd(),
	)

	return root
}

// load resolves the configuration for a command: .env, config file, then
// environment, with --log-* flags applied last.
func (o *rootOptions) load() (config.Config, error) {
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	return cfg, nil
}

func (o *rootOptions) logger(cfg config.Config) (*zap.Logger, error) {
	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}
