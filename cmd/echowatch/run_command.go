package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"echowatch/internal/logging"
	"echowatch/internal/pipeline"
	"echowatch/internal/store"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the monitoring pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			lockPath := filepath.Join(cfg.Paths.LogDir, "echowatch.lock")
			lock := flock.New(lockPath)
			ok, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire lock: %w", err)
			}
			if !ok {
				return errors.New("another echowatch instance is already running")
			}
			defer lock.Unlock()

			pidPath := filepath.Join(cfg.Paths.LogDir, "echowatch.pid")
			if err := writePIDFile(pidPath); err != nil {
				return fmt.Errorf("write pid file: %w", err)
			}
			defer os.Remove(pidPath)

			st, err := store.Open(cfg)
			if err != nil {
				logger.Error("open stage store", logging.Error(err))
				return err
			}
			defer st.Close()

			mgr := pipeline.NewManager(cfg, st, logger)
			if err := mgr.Start(signalCtx); err != nil {
				return fmt.Errorf("start pipeline: %w", err)
			}

			<-signalCtx.Done()
			logger.Info("shutting down")
			mgr.Stop()
			return nil
		},
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
