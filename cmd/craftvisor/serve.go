package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/loykin/craftvisor"
	"github.com/loykin/craftvisor/internal/logger"
	"github.com/loykin/craftvisor/internal/server"
	"github.com/loykin/craftvisor/internal/tls"
)

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	Daemonize       bool
	LogFile         string
	ShutdownTimeout time.Duration
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the craftvisor daemon",
		Long: `Start the craftvisor daemon: register every profile under profiles_dir,
serve the control API and run the scheduled commands.

Examples:
  craftvisor serve                      # Defaults plus CRAFTVISOR_* environment
  craftvisor serve craftvisor.toml      # Start with a config file
  craftvisor serve craftvisor.toml --daemonize --logfile=/var/log/craftvisor.out`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := globalFlags.ConfigPath
			if len(args) > 0 {
				configPath = args[0]
			}
			if serveFlags.Daemonize {
				return daemonize(serveFlags.LogFile)
			}
			return runServe(cmd.Context(), configPath, serveFlags.ShutdownTimeout)
		},
	}

	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon stdout/stderr to file")
	cmd.Flags().DurationVar(&serveFlags.ShutdownTimeout, "shutdown-timeout", time.Minute,
		"how long servers get to stop on shutdown before they are killed")

	return cmd
}

// acquireLock takes the single-instance lock. An empty path disables locking.
func acquireLock(path string) (*flock.Flock, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	fileLock := flock.New(path)
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("daemon already running (lock %s held by another process)", path)
	}
	return fileLock, nil
}

func runServe(parent context.Context, configPath string, shutdownTimeout time.Duration) error {
	cfg, err := craftvisor.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	logCloser, err := logger.Setup(cfg.Log)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer func() { _ = logCloser.Close() }()

	fileLock, err := acquireLock(cfg.Server.LockFile)
	if err != nil {
		return err
	}
	if fileLock != nil {
		defer func() { _ = fileLock.Unlock() }()
	}

	certFile, keyFile, err := tls.Resolve(cfg.Server.TLSOptions())
	if err != nil {
		return err
	}

	sup, err := craftvisor.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sup.Start(ctx); err != nil {
		return err
	}

	srv, errCh := server.NewServer(cfg.Server.Listen, sup.Handler(), certFile, keyFile)
	protocol := "http"
	if certFile != "" {
		protocol = "https"
	}
	slog.Info("craftvisor listening", "protocol", protocol, "addr", cfg.Server.Listen,
		"base_path", cfg.Server.BasePath, "profiles", len(sup.Profiles()))

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case serveErr = <-errCh:
		if serveErr != nil {
			slog.Error("http server failed", "error", serveErr)
		}
	}

	httpCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = srv.Shutdown(httpCtx)
	cancel()

	supCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, sup.Shutdown(supCtx))
}
