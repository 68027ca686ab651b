package cli

import (
	"github.com/spf13/cobra"
)

const (
	defaultConfigFile = "taskdeck.yaml"
	defaultEnvFile    = ".env"
)

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "taskdeck",
		Short:         "Task lifecycle service for the agent executor",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return SetupGlobalConfig(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.String("config", defaultConfigFile, "Path to the YAML configuration file")
	flags.String("env-file", defaultEnvFile, "Path to the environment variables file")
	flags.String("log-level", "", "Log level (debug, info, warn, error, disabled)")
	flags.Bool("log-json", false, "Output logs in JSON format")
	flags.Bool("debug", false, "Enable debug mode (sets log level to debug)")

	root.AddCommand(
		ServeCmd(),
		MigrateCmd(),
	)
	return root
}
