package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cytomig/cytomig/internal/config"
	"github.com/cytomig/cytomig/internal/cytomine"
)

// loadConfig resolves configuration with flags on top of the usual
// sources (env, .env.local, YAML).
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	flagOverride(cmd, "host", &cfg.Host)
	flagOverride(cmd, "public-key", &cfg.PublicKey)
	flagOverride(cmd, "private-key", &cfg.PrivateKey)
	flagOverride(cmd, "working-path", &cfg.WorkingPath)
	flagOverride(cmd, "journal-path", &cfg.JournalPath)
	flagOverride(cmd, "log-level", &cfg.LogLevel)
	return cfg, nil
}

func flagOverride(cmd *cobra.Command, name string, target *string) {
	if value, err := cmd.Flags().GetString(name); err == nil && value != "" {
		*target = value
	}
}

// newLogger builds a console logger at the configured level.
func newLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// newClient validates the connection settings and builds the signed
// API client.
func newClient(cfg *config.Config, log *zap.Logger) (*cytomine.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cytomine.NewClient(cfg.Host, cytomine.Credentials{
		PublicKey:  cfg.PublicKey,
		PrivateKey: cfg.PrivateKey,
	}, log)
}
