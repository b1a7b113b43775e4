package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/f-sync/followback/internal/config"
	"github.com/f-sync/followback/internal/session"
)

const (
	rootCommandUse              = "followback"
	rootCommandShortDescription = "Review the accounts that do not follow back"
	rootCommandLongDescription  = "followback reconciles a followers export with a following export, " +
		"lists the accounts that do not follow back and tracks the unfollow review with a safety rate gate."
)

// sessionOpener opens the review session described by the resolved configuration.
type sessionOpener func(ctx context.Context, settings config.Config, logger *zap.Logger) (*session.Session, error)

// cliApplication carries everything the subcommands share.
type cliApplication struct {
	configuration *viper.Viper
	openSession   sessionOpener
	now           func() time.Time
	stdout        io.Writer
}

func main() {
	application := newCLIApplication(viper.New(), os.Stdout)
	if err := application.rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCLIApplication(configuration *viper.Viper, stdout io.Writer) *cliApplication {
	return &cliApplication{
		configuration: configuration,
		openSession:   openSession,
		now:           time.Now,
		stdout:        stdout,
	}
}

func openSession(ctx context.Context, settings config.Config, logger *zap.Logger) (*session.Session, error) {
	return session.OpenWithState(ctx, settings.Sources(), settings.State, session.Options{
		Limits: settings.Limits,
		Logger: logger,
	})
}

func (application *cliApplication) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          rootCommandUse,
		Short:        rootCommandShortDescription,
		Long:         rootCommandLongDescription,
		SilenceUsage: true,
	}
	root.SetOut(application.stdout)

	config.RegisterFlags(root.PersistentFlags())
	cobra.CheckErr(config.BindFlags(application.configuration, root.PersistentFlags()))
	cobra.OnInitialize(func() {
		config.ConfigureEnvironment(application.configuration)
	})

	root.AddCommand(
		application.listCommand(),
		application.statusCommand(),
		application.markCommand(),
		application.pinCommand(),
		application.unpinCommand(),
		application.visitCommand(),
		application.verifyCommand(),
		application.modeCommand(),
		application.resetCommand(),
		application.diagnosticsCommand(),
		application.configCommand(),
	)
	return root
}

// withSession resolves the configuration, opens the session, runs action and releases the
// session again.
func (application *cliApplication) withSession(command *cobra.Command, action func(context.Context, *session.Session) error) error {
	settings, err := config.Load(application.configuration)
	if err != nil {
		return err
	}
	logger, err := cliLogger(settings.Debug)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx := command.Context()
	reviewSession, err := application.openSession(ctx, settings, logger)
	if err != nil {
		return err
	}
	defer reviewSession.Close()
	return action(ctx, reviewSession)
}

// cliLogger writes warnings and errors to stderr, or everything when debug is set.
func cliLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return config.NewLogger(true)
	}
	loggerConfig := zap.NewProductionConfig()
	loggerConfig.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	loggerConfig.OutputPaths = []string{"stderr"}
	return loggerConfig.Build()
}
