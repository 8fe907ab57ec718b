package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v3"

	"github.com/web3tea/graphmirror/capture"
	"github.com/web3tea/graphmirror/config"
	"github.com/web3tea/graphmirror/graph"
	"github.com/web3tea/graphmirror/pkg/log"
	"github.com/web3tea/graphmirror/queue"
	"github.com/web3tea/graphmirror/schema"
	"github.com/web3tea/graphmirror/syncer"
	"github.com/web3tea/graphmirror/updater"
)

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "Install capture objects and poll the durable queue",
	Action: func(ctx context.Context, c *cli.Command) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		pool, err := pgxpool.New(ctx, cfg.Source.DSN())
		if err != nil {
			return err
		}
		defer pool.Close()

		exec, err := graph.NewNeo4jExecutor(ctx, cfg.Graph)
		if err != nil {
			return err
		}
		defer exec.Close(context.Background())

		s, err := buildSyncer(cfg, pool, exec)
		if err != nil {
			return err
		}

		if err := s.EnsureQueueStorage(ctx); err != nil {
			return err
		}
		if err := s.InstallCapture(ctx, cfg.Sync.Tables); err != nil {
			return err
		}

		log.Infof("graphmirror started, watching %d tables", len(cfg.Sync.Tables))
		if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		log.Infof("graphmirror stopped")
		return nil
	},
}

func buildSyncer(cfg *config.Config, pool *pgxpool.Pool, exec graph.Executor) (*syncer.Syncer, error) {
	catalog := schema.NewPgCatalog(pool)
	resolver := schema.NewResolver(catalog, schema.NewPgSource(pool), log.NewLogger("schema", os.Stdout))

	upd := updater.New(exec, resolver, log.NewLogger("updater", os.Stdout))
	q := queue.New(pool, cfg.Sync.QueueTable, log.NewLogger("queue", os.Stdout))
	inst := capture.NewInstaller(pool, catalog, cfg.Sync.QueueTable, log.NewLogger("capture", os.Stdout))

	interval, err := cfg.Sync.PollIntervalDuration()
	if err != nil {
		return nil, err
	}

	return syncer.New(q, inst, upd,
		syncer.WithBatchSize(cfg.Sync.BatchSize),
		syncer.WithPollInterval(interval),
		syncer.WithLogger(log.NewLogger("syncer", os.Stdout)),
		syncer.WithSchemaCache(resolver),
	), nil
}
