// Package main is the camelrace application entrypoint.
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"camelrace/internal"
	"camelrace/internal/app/apps"
	"camelrace/internal/app/cfg"
	"camelrace/internal/pkg/log"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// CLI command definitions.
var (
	logger logrus.FieldLogger = logrus.StandardLogger()

	rootCmd = &cobra.Command{
		Use:   "camelrace",
		Short: "Camel race matchmaking and relay server.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	clientCmd = &cobra.Command{
		Use:   "client",
		Short: "Starts one or more headless racing clients.",
		Args:  cobra.NoArgs,
		RunE:  runCmd,
	}

	serverCmd = &cobra.Command{
		Use:   "server",
		Short: "Starts the matchmaking and relay server.",
		Args:  cobra.NoArgs,
		RunE:  runCmd,
	}
)

func newApp(_ context.Context, cmd *cobra.Command, args []string) (apps.App, []string, error) {
	var err error
	var app apps.App
	switch cmd.Name() {
	case "client":
		app, err = apps.NewClientApp(
			cfg.PortFromEnv(),
			cfg.HealthPortFromEnv(),
			cfg.ClientFromEnv(),
			cfg.RelayFromEnv(),
			cfg.HeartbeatFromEnv(),
		)
		if err != nil {
			return nil, nil, errors.Wrap(err, "new client app failed")
		}
		return app, append([]string{cmd.Name()}, args...), nil
	case "server":
		app, err = apps.NewServerApp(
			cfg.PortFromEnv(),
			cfg.HealthPortFromEnv(),
			cfg.GroupFromEnv(),
			cfg.RelayFromEnv(),
			cfg.HeartbeatFromEnv(),
		)
		if err != nil {
			return nil, nil, errors.Wrap(err, "new server app failed")
		}
		return app, append([]string{cmd.Name()}, args...), nil
	default:
		return nil, nil, fmt.Errorf("unknown command: %s", cmd.Name())
	}
}

func runCmd(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := chainedCheck(
		ctx,
		envCheck,
	); err != nil {
		return errors.Wrap(err, "chained check failed")
	}
	app, args, err := newApp(ctx, cmd, args)
	if err != nil {
		return errors.Wrapf(err, "new %s app failed", cmd.Name())
	}
	return errors.Wrap(app.Run(ctx, args), "run app failed")
}

func envCheck(ctx context.Context) error {
	err := internal.ValidateEnv()
	if err != nil {
		return errors.Wrap(err, "validate env failed")
	}
	log.SetLogger(internal.LogLevel)
	return nil
}

func chainedCheck(ctx context.Context, checks ...func(context.Context) error) error {
	for _, check := range checks {
		err := check(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}

func init() {
	err := internal.RegisterCommandFlags(rootCmd, []*internal.Flag{
		&internal.EnvFlag,
		&internal.LogLevelFlag,

		&internal.PortFlag,
		&internal.GRPCPortFlag,
		&internal.HealthPortFlag,

		&internal.RelayStrategyFlag,
		&internal.RelayInterfaceFlag,
	})
	if err != nil {
		logger.Fatalln(err)
	}

	err = internal.RegisterCommandFlags(serverCmd, []*internal.Flag{
		&internal.PartySizeFlag,
		&internal.MaxGroupsFlag,
		&internal.RelayPoolFlag,
		&internal.RelayBasePortFlag,
		&internal.SelfDeliveryFlag,
		&internal.HeartbeatPeriodFlag,
		&internal.HeartbeatTimeoutFlag,
	})
	if err != nil {
		logger.Fatalln(err)
	}

	err = internal.RegisterCommandFlags(clientCmd, []*internal.Flag{
		&internal.ServerHostFlag,
		&internal.ClientIDFlag,
		&internal.ClientsFlag,
		&internal.ClientTransportFlag,
		&internal.HeartbeatIntervalFlag,
		&internal.StepIntervalFlag,
		&internal.ReportResultFlag,
	})
	if err != nil {
		logger.Fatalln(err)
	}

	rootCmd.AddCommand(
		clientCmd,
		serverCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Fatal(errors.Wrap(err, "execute root command failed"))
	}
}
