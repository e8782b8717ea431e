package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"goflare.io/encore"
	"goflare.io/encore/internal/config"
)

const envPrefix = "ENCORE"

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "encore",
		Short:         "Search music platforms the way the bot does",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cobra.OnInitialize(initConfig)

	cmd.PersistentFlags().String("config", "", "Config file path (optional).")
	cmd.PersistentFlags().String("env-file", ".env", "Dotenv file with platform credentials.")
	cmd.PersistentFlags().String("log-level", "warn", "Log level: debug, info, warn, error.")
	cmd.PersistentFlags().String("store", "", "Result store: memory, ristretto, redis, bolt.")
	_ = viper.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("env_file", cmd.PersistentFlags().Lookup("env-file"))
	_ = viper.BindPFlag("log_level", cmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("store.type", cmd.PersistentFlags().Lookup("store"))

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

func initConfig() {
	// A missing .env is normal outside development.
	if envFile := strings.TrimSpace(viper.GetString("env_file")); envFile != "" {
		_ = godotenv.Load(envFile)
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	cfgFile := strings.TrimSpace(viper.GetString("config"))
	if cfgFile == "" {
		return
	}

	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("unknown log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	if lvl.Level() <= zap.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = lvl
	return zc.Build()
}

// openEncore builds an Encore instance from viper settings. The returned cleanup closes
// it and flushes the logger.
func openEncore(ctx context.Context) (*encore.Encore, func(), error) {
	logger, err := newLogger(viper.GetString("log_level"))
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.LoadViper(viper.GetViper(), config.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	if len(cfg.EnabledPlatforms()) == 0 {
		logger.Warn("No platforms enabled; set platforms.<name>.enabled in the config file")
	}

	e, err := encore.New(ctx, encore.WithConfig(cfg))
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := e.Close(); err != nil {
			logger.Error("Failed to close encore", zap.Error(err))
		}
		_ = logger.Sync()
	}
	return e, cleanup, nil
}
