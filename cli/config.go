package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/taskdeck/taskdeck/pkg/config"
	"github.com/taskdeck/taskdeck/pkg/logger"
)

// flagPaths maps command flags to configuration keys.
var flagPaths = map[string]string{
	"host":         "server.host",
	"port":         "server.port",
	"cors":         "server.cors_enabled",
	"db-conn":      "database.conn_string",
	"auto-migrate": "database.auto_migrate",
	"redis-url":    "redis.url",
	"executor-url": "executor.base_url",
	"log-level":    "runtime.log_level",
	"log-json":     "runtime.log_json",
}

// SetupGlobalConfig loads the env file and configuration, then attaches the
// config and a matching logger to the command context.
func SetupGlobalConfig(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := loadEnvFile(cmd); err != nil {
		return err
	}
	cfg, err := loadConfig(ctx, cmd)
	if err != nil {
		return err
	}
	log := logger.Init(&logger.Config{
		Level:      logger.ParseLevel(cfg.Runtime.LogLevel),
		Output:     os.Stdout,
		JSON:       cfg.Runtime.LogJSON,
		TimeFormat: "15:04:05",
	})
	ctx = config.ContextWithConfig(ctx, cfg)
	ctx = logger.ContextWithLogger(ctx, log)
	cmd.SetContext(ctx)
	return nil
}

func loadEnvFile(cmd *cobra.Command) error {
	path, err := cmd.Flags().GetString("env-file")
	if err != nil || path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("env-file") {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func loadConfig(ctx context.Context, cmd *cobra.Command) (*config.Config, error) {
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	sources := []config.Source{config.NewEnvProvider()}
	if configFile != "" {
		sources = append(sources, config.NewYAMLProvider(configFile))
	}
	cliFlags := extractCLIFlags(cmd)
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cliFlags["runtime.log_level"] = "debug"
	}
	if len(cliFlags) > 0 {
		sources = append(sources, config.NewCLIProvider(cliFlags))
	}
	cfg, err := config.NewService().Load(ctx, sources...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// extractCLIFlags returns only the flags set explicitly on the command line.
func extractCLIFlags(cmd *cobra.Command) map[string]any {
	out := make(map[string]any)
	for name, path := range flagPaths {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		switch flag.Value.Type() {
		case "bool":
			v, _ := cmd.Flags().GetBool(name)
			out[path] = v
		case "int":
			v, _ := cmd.Flags().GetInt(name)
			out[path] = v
		default:
			out[path] = flag.Value.String()
		}
	}
	return out
}
