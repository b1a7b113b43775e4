package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/f-sync/followback/internal/config"
	"github.com/f-sync/followback/internal/server"
	"github.com/f-sync/followback/internal/session"
	"github.com/f-sync/followback/internal/watch"
)

const (
	commandUse               = "server"
	commandShortDescription  = "Serve the follow-back review workflow over HTTP"
	shutdownTimeout          = 10 * time.Second
	readHeaderTimeout        = 10 * time.Second
	errMessageOpenSession    = "open session"
	errMessageCreateRouter   = "create router"
	errMessageCreateWatcher  = "create watcher"
	errMessageListenAndServe = "listen and serve"
	logMessageStartingServer = "starting HTTP server"
	logMessageServerStopped  = "server stopped"
	logMessageListenError    = "server listen failure"
	logMessageShutdownError  = "server shutdown failure"
	logMessageWatchDisabled  = "file watching disabled"
	logFieldAddress          = "address"
	logFieldSessionID        = "session_id"
)

func main() {
	cobra.CheckErr(newServerCommand(viper.New()).Execute())
}

func newServerCommand(configuration *viper.Viper) *cobra.Command {
	command := &cobra.Command{
		Use:          commandUse,
		Short:        commandShortDescription,
		SilenceUsage: true,
		RunE: func(command *cobra.Command, _ []string) error {
			return runServerCommand(command.Context(), configuration)
		},
	}

	config.RegisterFlags(command.Flags())
	cobra.CheckErr(config.BindFlags(configuration, command.Flags()))

	cobra.OnInitialize(func() {
		config.ConfigureEnvironment(configuration)
	})

	return command
}

func runServerCommand(parent context.Context, configuration *viper.Viper) error {
	resolved, err := config.Load(configuration)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(resolved.Debug)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, resolved, logger)
}

// serve runs the HTTP server, and the export watcher when enabled, until ctx is cancelled.
func serve(ctx context.Context, resolved config.Config, logger *zap.Logger) error {
	reviewSession, err := session.OpenWithState(ctx, resolved.Sources(), resolved.State, session.Options{
		Limits: resolved.Limits,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageOpenSession, err)
	}
	defer reviewSession.Close()

	router, err := server.NewRouter(server.RouterConfig{
		Session:        reviewSession,
		Reload:         reviewSession.ReloadSources,
		Logger:         logger,
		StatusInterval: resolved.StatusInterval,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageCreateRouter, err)
	}

	var watcher *watch.Watcher
	if resolved.Watch {
		watcher, err = watch.NewWatcher(watch.Config{
			Paths:    []string{resolved.Followers, resolved.Following},
			Debounce: resolved.WatchDebounce,
			Reload:   reviewSession.ReloadSources,
			Logger:   logger,
		})
		switch {
		case errors.Is(err, watch.ErrNothingToWatch):
			logger.Info(logMessageWatchDisabled, zap.Error(err))
		case err != nil:
			return fmt.Errorf("%s: %w", errMessageCreateWatcher, err)
		}
	}

	address := resolved.Address()
	httpServer := &http.Server{Addr: address, Handler: router, ReadHeaderTimeout: readHeaderTimeout}

	group, groupContext := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info(logMessageStartingServer, zap.String(logFieldAddress, address), zap.String(logFieldSessionID, reviewSession.ID()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(logMessageListenError, zap.Error(err))
			return fmt.Errorf("%s: %w", errMessageListenAndServe, err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupContext.Done()
		shutdownContext, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownContext); err != nil {
			logger.Warn(logMessageShutdownError, zap.Error(err))
		}
		return nil
	})
	if watcher != nil {
		group.Go(func() error {
			return watcher.Run(groupContext)
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info(logMessageServerStopped)
	return nil
}
