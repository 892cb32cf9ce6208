// Package main provides the geomarkd daemon and CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/geomarkapp/geomark/internal/config"
	"github.com/geomarkapp/geomark/internal/db"
	"github.com/geomarkapp/geomark/internal/logging"
	"github.com/geomarkapp/geomark/internal/sync"
	"github.com/geomarkapp/geomark/internal/sync/connectivity"
	"github.com/geomarkapp/geomark/internal/sync/queue"
	"github.com/geomarkapp/geomark/internal/sync/remote"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "geomarkd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "geomarkd",
		Short: "Offline-first landmark sync daemon",
		Long: `geomarkd keeps a local landmark cache in sync with the remote landmark API.
Mutations made while offline are queued durably and replayed when connectivity
returns; the daemon exposes a local control API and WebSocket status feed.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newServeCmd(),
		newSyncCmd(),
		newQueueCmd(),
		newLandmarksCmd(),
	)
	return cmd
}

// app bundles the constructed core components shared by all subcommands.
type app struct {
	cfg      *config.Config
	database *db.DB
	repo     *db.Repository
	queue    *queue.Queue
	remote   *remote.Client
	monitor  *connectivity.Monitor
	engine   *sync.Engine
}

// newApp opens the local store and constructs the sync components. Every
// component is explicitly constructed here and passed by reference; nothing
// hangs off package-level state.
func newApp(notifier sync.Notifier) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if cfg.App.Debug {
		logging.Init(os.Stdout, logging.LevelDebug)
	} else {
		logging.Init(os.Stdout, logging.LevelInfo)
	}

	database, err := db.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		database.Close()
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		database.Close()
		return nil, err
	}

	repo := db.NewRepository(database.DB)

	q := queue.New(repo, &queue.Config{
		MaxSize:     cfg.Sync.QueueSize,
		MaxAttempts: cfg.Sync.MaxAttempts,
	})

	client := remote.NewClient(&remote.Config{
		BaseURL:   cfg.Remote.BaseURL,
		AuthToken: cfg.Remote.AuthToken,
		Timeout:   cfg.Remote.Timeout,
	})

	monitor := connectivity.NewMonitor(client, &connectivity.Config{
		ProbeInterval: cfg.Connectivity.ProbeInterval,
		ProbeTimeout:  cfg.Connectivity.ProbeTimeout,
		Debounce:      cfg.Connectivity.Debounce,
	})

	engine := sync.NewEngine(repo, q, client, monitor, notifier)

	return &app{
		cfg:      cfg,
		database: database,
		repo:     repo,
		queue:    q,
		remote:   client,
		monitor:  monitor,
		engine:   engine,
	}, nil
}

// close releases the application's resources.
func (a *app) close() {
	a.repo.Close()
	a.database.Close()
}
