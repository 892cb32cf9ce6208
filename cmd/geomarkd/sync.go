package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	syncengine "github.com/geomarkapp/geomark/internal/sync"
	"github.com/geomarkapp/geomark/internal/sync/remote"
)

// probeOnce satisfies the engine's online check for one-shot runs by pinging
// the remote endpoint directly instead of waiting for the debounced monitor.
type probeOnce struct {
	client  *remote.Client
	timeout time.Duration
}

func (p *probeOnce) IsOnline() bool {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.client.Ping(ctx) == nil
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(nil)
			if err != nil {
				return err
			}
			defer a.close()

			engine := syncengine.NewEngine(a.repo, a.queue, a.remote, &probeOnce{
				client:  a.remote,
				timeout: a.cfg.Connectivity.ProbeTimeout,
			}, nil)

			run, err := engine.Sync(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("sync %s: pushed=%d pulled=%d conflicts=%d in %s\n",
				run.Status, run.Pushed, run.Pulled, run.Conflicts,
				run.Duration.Round(time.Millisecond))
			return nil
		},
	}
}
