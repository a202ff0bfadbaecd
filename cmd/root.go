// Package cmd holds the cloudmesh command line.
package cmd

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/drblury/cloudmesh/internal/app"
)

type globalFlags struct {
	configFile string
	envFile    string
	profiles   []string
	port       int
	logLevel   string
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "cloudmesh",
		Short:         "Run the cloudmesh services",
		Long:          "cloudmesh runs a registry and config server with a gateway, a config client with login, a plain client and an echo service.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadEnvFile(flags.envFile)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configFile, "config", "c", "", "config file (default ./cloudmesh.yaml or ./config/cloudmesh.yaml)")
	pf.StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before the configuration")
	pf.StringSliceVarP(&flags.profiles, "profile", "p", nil, "active profiles, e.g. --profile peer1,native")
	pf.IntVar(&flags.port, "port", 0, "HTTP port, overrides server.port")
	pf.StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn or error")

	for _, kind := range app.Kinds() {
		rootCmd.AddCommand(newServiceCmd(kind, flags))
	}
	rootCmd.AddCommand(newAppsCmd(flags))
	return rootCmd
}

// loadEnvFile exports the variables of path. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
