package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/drblury/cloudmesh/internal/app"
	configpkg "github.com/drblury/cloudmesh/internal/runtime/config"
	loggingpkg "github.com/drblury/cloudmesh/internal/runtime/logging"
)

var serviceNames = map[app.Kind]string{
	app.KindServer:       "cloud-server",
	app.KindConfigClient: "cloud-client",
	app.KindClient:       "cloud-config-client",
	app.KindBase:         "cloud-base",
}

var serviceDescriptions = map[app.Kind]string{
	app.KindServer:       "Run the registry server with the config server, the gateway and the message endpoints",
	app.KindConfigClient: "Run the config client and login service",
	app.KindClient:       "Run the plain client",
	app.KindBase:         "Run the echo service",
}

func newServiceCmd(kind app.Kind, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   string(kind),
		Short: serviceDescriptions[kind],
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig(kind, flags)
			if err != nil {
				return err
			}
			log, err := newLogger(flags.logLevel)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := app.New(ctx, kind, conf, log, app.Dependencies{})
			if err != nil {
				return fmt.Errorf("assemble %s: %w", kind, err)
			}
			log.Info("Starting service", loggingpkg.LogFields{"config": conf.String()})
			if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func newViper(kind app.Kind, flags *globalFlags) (*viper.Viper, error) {
	v, err := configpkg.NewViper(flags.configFile, flags.profiles)
	if err != nil {
		return nil, err
	}
	if name, ok := serviceNames[kind]; ok {
		v.SetDefault("service.name", name)
	}
	if flags.port > 0 {
		v.Set("server.port", flags.port)
	}
	return v, nil
}

func loadConfig(kind app.Kind, flags *globalFlags) (*configpkg.Config, error) {
	v, err := newViper(kind, flags)
	if err != nil {
		return nil, err
	}
	return configpkg.Load(v)
}

func newLogger(level string) (loggingpkg.ServiceLogger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return loggingpkg.NewSlogServiceLogger(slog.New(handler)), nil
}
