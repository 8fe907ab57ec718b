package main

import (
	"context"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v3"

	"github.com/web3tea/graphmirror/queue"
)

var statusCmd = &cli.Command{
	Name:  "status",
	Usage: "Show durable queue statistics",
	Action: func(ctx context.Context, c *cli.Command) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}

		pool, err := pgxpool.New(ctx, cfg.Source.DSN())
		if err != nil {
			return err
		}
		defer pool.Close()

		q := queue.New(pool, cfg.Sync.QueueTable, nil)
		stats, err := q.Stats(ctx)
		if err != nil {
			return err
		}

		oldest := "-"
		if stats.OldestPending != nil {
			oldest = time.Since(*stats.OldestPending).Truncate(time.Second).String()
		}

		failed := color.GreenString("%d", stats.Failed)
		if stats.Failed > 0 {
			failed = color.RedString("%d", stats.Failed)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Pending", "Processed", "Failed", "Oldest Pending"})
		t.AppendRow(table.Row{stats.Pending, stats.Processed, failed, oldest})
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil
	},
}
