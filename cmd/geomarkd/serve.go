package main

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/geomarkapp/geomark/internal/events"
	"github.com/geomarkapp/geomark/internal/handler"
	"github.com/geomarkapp/geomark/internal/logging"
	"github.com/geomarkapp/geomark/internal/router"
	"github.com/geomarkapp/geomark/internal/service"
	"github.com/geomarkapp/geomark/internal/sync/scheduler"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync daemon and local control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	hub := events.NewHub()

	a, err := newApp(hub)
	if err != nil {
		return err
	}
	defer a.close()

	cfg := a.cfg

	sched := scheduler.New(a.engine, a.monitor, &scheduler.Config{
		SyncInterval: cfg.Sync.Interval,
		SyncTimeout:  5 * time.Minute,
		SyncOnStart:  true,
	})

	svc := service.NewLandmarkService(a.repo, a.queue, func() {
		go sched.SyncNow(context.Background())
	})

	mux := router.New(router.Config{
		Landmarks: handler.NewLandmarkHandler(svc),
		Sync:      handler.NewSyncHandler(a.engine, sched, a.queue, a.monitor, a.repo),
		Health:    handler.NewHealthHandler(cfg.App.Version),
		WS:        hub.HandleWS,
	})

	a.monitor.Start(ctx)
	sched.Start(ctx)

	// Forward connectivity transitions onto the event feed.
	go func() {
		for online := range a.monitor.Subscribe() {
			hub.Publish(events.EventConnectivity,
				map[string]interface{}{"online": online})
		}
	}()

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Control API listening",
			map[string]interface{}{"address": cfg.Server.Address()})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info("Shutting down", nil)

	sched.Stop()
	a.monitor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server shutdown failed", err)
		return err
	}

	logging.Info("Shutdown complete", nil)
	return nil
}
