package main

import (
	"context"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v3"

	"github.com/web3tea/graphmirror/capture"
	"github.com/web3tea/graphmirror/pkg/log"
	"github.com/web3tea/graphmirror/schema"
)

var installCmd = &cli.Command{
	Name:  "install",
	Usage: "Create the queue storage and capture triggers, then exit",
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

		inst := capture.NewInstaller(pool, schema.NewPgCatalog(pool), cfg.Sync.QueueTable,
			log.NewLogger("capture", os.Stdout))

		if err := inst.EnsureQueueStorage(ctx); err != nil {
			return err
		}
		if err := inst.InstallCapture(ctx, cfg.Sync.Tables); err != nil {
			return err
		}

		log.Infof("capture installed on %d tables", len(cfg.Sync.Tables))
		return nil
	},
}
