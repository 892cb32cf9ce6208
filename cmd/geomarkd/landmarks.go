package main

import (
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newLandmarksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "landmarks",
		Short: "List locally stored landmarks",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(nil)
			if err != nil {
				return err
			}
			defer a.close()

			landmarks, err := a.repo.ListLandmarks()
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Local ID", "Server ID", "Title", "Latitude", "Longitude", "State", "Updated"})
			for _, l := range landmarks {
				serverID := "-"
				if l.HasServerID() {
					serverID = strconv.FormatInt(l.ServerID, 10)
				}
				t.AppendRow(table.Row{
					l.LocalID,
					serverID,
					l.Title,
					l.Latitude,
					l.Longitude,
					l.SyncState,
					time.Unix(l.UpdatedAt, 0).Format(time.RFC3339),
				})
			}
			t.Render()

			return nil
		},
	}
}
