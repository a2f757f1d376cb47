package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"

	"tunneldeck/internal/app"
	"tunneldeck/internal/config"
	"tunneldeck/internal/logging"
	"tunneldeck/internal/runtime"
)

var BuildVersion = "dev"

const shutdownGrace = 5 * time.Second

func main() {
	rootCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	opts, err := config.ParseOptions()
	if err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	lock, lockedByOther, lockErr := acquireInstanceLock()
	if lockErr != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize single-instance lock:", lockErr)
		os.Exit(2)
	}
	if lockedByOther {
		fmt.Fprintln(os.Stderr, "tunneldeck is already running.")
		os.Exit(1)
	}
	defer func() {
		_ = lock.Release()
	}()

	logger := logging.New(opts.Debug)
	defer func() {
		_ = logger.Close()
	}()
	if err := logger.EnableFilePersistence(0); err != nil {
		logger.Warn("failed to enable file log persistence", logging.Field("error", err))
	}
	logger.Info("starting tunneldeck", logging.Field("version", BuildVersion))

	os.Exit(run(rootCtx, opts, logger))
}

func run(rootCtx context.Context, opts config.Options, logger *logging.Logger) int {
	exitErr := make(chan error, 1)
	controller := runtime.NewController(rootCtx)
	startErr := controller.Start(opts, logger, runtime.StartHooks{
		OnStatus: func(status string) {
			logger.Info("status", logging.Field("state", status))
		},
		OnSessionEnded: func() {
			logger.Warn("session ended, log in again to resume")
		},
		OnEvent: func(topic string, payload json.RawMessage) {
			logger.Info("event",
				logging.Field("topic", topic),
				logging.Field("payload", logging.Truncate(logging.FormatHTTPPayload(payload))),
			)
		},
		OnExit: func(err error) {
			exitErr <- err
		},
	})
	if startErr != nil {
		fmt.Fprintln(os.Stderr, startErr)
		return 2
	}

	select {
	case <-rootCtx.Done():
		controller.StopAndWait(shutdownGrace)
		select {
		case err := <-exitErr:
			return exitCode(err)
		default:
			return 0
		}
	case err := <-exitErr:
		return exitCode(err)
	}
}

func exitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return 0
	case errors.Is(err, app.ErrNoCredentials):
		fmt.Fprintln(os.Stderr, "no stored session; pass --username and --password to log in")
		return 2
	case errors.Is(err, app.ErrSessionEnded):
		return 1
	default:
		return 1
	}
}
