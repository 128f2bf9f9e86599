// Package cli implements C13 — the command surface built with
// github.com/spf13/cobra, adapted from the retrieved bodaay-HuggingFaceModelDownloader
// root-command/signal-context pattern since TeleTurbo carried no CLI of its
// own (it was a desktop GUI application).
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teleaudio/teleaudio/internal/config"
	"github.com/teleaudio/teleaudio/internal/logging"
)

// Exit codes
const (
	ExitSuccess       = 0
	ExitGenericError  = 1
	ExitConfigError   = 2
	ExitTransportError = 3
	ExitAuthError     = 4
)

// Execute builds and runs the root command, returning the process exit code.
func Execute(version string) int {
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root := &cobra.Command{
		Use:           "teleaudio",
		Short:         "Concurrent audio batch downloader for Telegram channels",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	root.AddCommand(newDownloadCmd(ctx))
	root.AddCommand(newSearchCmd(ctx))
	root.AddCommand(newStatsCmd(ctx))
	root.AddCommand(newGroupsCmd(ctx))
	root.AddCommand(newPerformanceCmd(ctx))
	root.AddCommand(newMetadataCmd(ctx))
	root.AddCommand(newLoginCmd(ctx))

	if err := root.Execute(); err != nil {
		return classifyExit(err)
	}
	return ExitSuccess
}

// exitCoder lets a subcommand signal a specific exit code (config vs
// transport vs auth) without the root command inspecting error types it
// doesn't own.
type exitCoder interface {
	ExitCode() int
}

func classifyExit(err error) int {
	if ec, ok := err.(exitCoder); ok {
		return ec.ExitCode()
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	return ExitGenericError
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// loadConfigOrExit centralizes the config-error exit path (code 2) shared by
// every subcommand that touches Store/Transport.
func loadConfigOrExit() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, &configError{err: err}
	}
	return cfg, nil
}

type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) ExitCode() int { return ExitConfigError }

type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) ExitCode() int { return ExitTransportError }

type authError struct{ err error }

func (e *authError) Error() string { return e.err.Error() }
func (e *authError) ExitCode() int { return ExitAuthError }

func newLogger(cfg config.Config) (logging.Logger, error) {
	var file *logging.FileConfig
	if cfg.LogFilePath != "" {
		file = &logging.FileConfig{Path: cfg.LogFilePath, MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28, Compress: true}
	}
	return logging.New(logging.Config{Level: cfg.LogLevel, File: file})
}
