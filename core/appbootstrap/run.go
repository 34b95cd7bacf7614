package appbootstrap

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"edu-cti/api"
	"edu-cti/config"
	"edu-cti/core/store"
	"edu-cti/core/utils"
)

const shutdownGrace = 15 * time.Second

// Run opens the database, applies migrations, wires the runtime and
// serves HTTP until SIGINT/SIGTERM. Background workers are started
// before the listener and stopped after it drains.
func Run(cfg *config.AppConfig, collab Collaborators, logger *utils.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, logger); err != nil {
		return err
	}

	rt, err := composeRuntime(cfg, db, collab, logger)
	if err != nil {
		return err
	}

	for _, w := range rt.workers {
		w.StartWithContext(ctx)
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.NewServer(cfg, rt.serverDeps, logger).Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("LISTEN %s env=%s", cfg.ListenAddr, cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Printf("SHUTDOWN signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("http shutdown: %v", err)
	}
	for _, w := range rt.workers {
		if err := w.StopWithContext(shutdownCtx); err != nil {
			logger.Errorf("worker stop: %v", err)
		}
	}
	return nil
}
