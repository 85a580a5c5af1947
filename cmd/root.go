// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tweetgrab/internal/config"
	"github.com/xkilldash9x/tweetgrab/internal/observability"
	"github.com/xkilldash9x/tweetgrab/internal/post"
)

type contextKey string

const configKey contextKey = "config"

const envPrefix = "TWEETGRAB"

var cfgFile string

// NewRootCommand builds a fresh command tree. Each call returns independent
// flag state, which keeps tests isolated.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tweetgrab",
		Short: "Captures the latest post of a social profile as JSON.",
		// Version is set at build time. See cmd/version.go.
		Version:      Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v); err != nil {
				return configFailure(cmd, fmt.Errorf("failed to initialize configuration: %w", err))
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return configFailure(cmd, fmt.Errorf("failed to load or validate config: %w", err))
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Starting tweetgrab", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newFetchCmd())
	rootCmd.AddCommand(newPlanCmd())
	return rootCmd
}

// Execute runs the command tree with a signal-aware context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, errResultFailed) {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
	}
	observability.Sync()
	return err
}

// configFailure reports a configuration error. fetch promises one payload on
// stdout for every run, so it gets an error payload there; the artifact path
// is part of the broken config and is not written.
func configFailure(cmd *cobra.Command, err error) error {
	observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "tweetgrab"})
	if cmd.Name() != "fetch" {
		return err
	}
	observability.GetLogger().Error("Configuration rejected", zap.Error(err))
	if emitErr := emit(cmd.OutOrStdout(), &config.Config{}, post.Failure(err.Error()), observability.GetLogger()); !errors.Is(emitErr, errResultFailed) {
		return errors.Join(err, emitErr)
	}
	return fmt.Errorf("%w: %w", errResultFailed, err)
}

// initializeConfig reads the config file, environment and bound flags into v.
func initializeConfig(cmd *cobra.Command, v *viper.Viper) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing default config file is fine; defaults and env apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return bindFlags(cmd, v)
}

// flagKeys maps command flags onto config keys.
var flagKeys = map[string]string{
	"deadline":  "fetch.deadline",
	"attempts":  "fetch.max_attempts",
	"output":    "output.artifact",
	"media-dir": "media.dir",
	"artifact":  "output.artifact",
	"history":   "repost.history_size",
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	if f := cmd.Flags().Lookup("no-media"); f != nil && f.Changed {
		v.Set("media.enabled", false)
	}
	return nil
}

func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}
