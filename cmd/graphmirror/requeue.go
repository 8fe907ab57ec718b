package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v3"

	"github.com/web3tea/graphmirror/pkg/log"
	"github.com/web3tea/graphmirror/queue"
)

var requeueCmd = &cli.Command{
	Name:  "requeue",
	Usage: "Reset failed queue rows below the retry limit back to pending",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "max-retries",
			Usage: "only requeue rows with fewer retries than this (0 = config default)",
		},
	},
	Action: func(ctx context.Context, c *cli.Command) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}

		maxRetries := int(c.Int("max-retries"))
		if maxRetries <= 0 {
			maxRetries = cfg.Sync.MaxRetries
		}

		pool, err := pgxpool.New(ctx, cfg.Source.DSN())
		if err != nil {
			return err
		}
		defer pool.Close()

		q := queue.New(pool, cfg.Sync.QueueTable, nil)
		n, err := q.RequeueFailed(ctx, maxRetries)
		if err != nil {
			return err
		}

		log.Infof("requeued %d failed rows (retry limit %d)", n, maxRetries)
		return nil
	},
}
