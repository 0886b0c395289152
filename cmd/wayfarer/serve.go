package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hyperjump/wayfarer/internal/models"
	"github.com/hyperjump/wayfarer/internal/server"
	"github.com/hyperjump/wayfarer/internal/watcher"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the HTTP server",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		components, err := initializeComponents(cfg, logger, componentOptions{catalog: true, generator: true})
		if err != nil {
			return err
		}
		defer components.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := components.loadLayers(ctx); err != nil {
			return err
		}

		if cfg.Watch.Enabled {
			reg := components.Registry
			watchSvc, err := watcher.NewWatcher(cfg.Layers.Layout(),
				func(layer models.Layer) {
					// Reload keeps the current index on failure and logs why.
					_ = reg.Reload(ctx, layer)
				},
				watcher.WithLogger(logger),
				watcher.WithDebounce(cfg.Watch.Debounce),
			)
			if err != nil {
				return err
			}
			if err := watchSvc.Start(ctx); err != nil {
				return err
			}
			defer watchSvc.Stop()
			logger.Info("watching layer files", zap.Strings("directories", watchSvc.Directories()))
		}

		srv := server.NewServer(server.Deps{
			Registry:  components.Registry,
			Retriever: components.Engine,
			Answerer:  components.Answerer,
			Validator: components.Validator,
			Catalog:   components.Catalog,
			Storage:   components.Storage,
		}, cfg, logger)

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigChan:
		case err := <-errChan:
			logger.Error("Server failed", zap.Error(err))
			return err
		}

		logger.Info("Shutting down...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Stop(shutdownCtx)
	},
}
