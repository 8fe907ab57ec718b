package capture

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/web3tea/graphmirror/pkg/log"
	"github.com/web3tea/graphmirror/schema"
)

var operations = []string{"insert", "update", "delete"}

// Installer creates the durable queue storage and the per-table capture
// triggers. Both operations run at process startup and are safe to repeat.
type Installer struct {
	pool       *pgxpool.Pool
	catalog    schema.Catalog
	queueTable string
	logger     log.Logger
}

func NewInstaller(pool *pgxpool.Pool, catalog schema.Catalog, queueTable string, logger log.Logger) *Installer {
	if queueTable == "" {
		queueTable = DefaultQueueTable
	}
	if logger == nil {
		logger = log.Nop
	}
	return &Installer{
		pool:       pool,
		catalog:    catalog,
		queueTable: queueTable,
		logger:     logger,
	}
}

// EnsureQueueStorage creates the queue table and its partial index on
// pending rows if they do not exist yet.
func (i *Installer) EnsureQueueStorage(ctx context.Context) error {
	for _, stmt := range queueStorageDDL(i.queueTable) {
		if _, err := i.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure queue storage: %w", err)
		}
	}
	i.logger.Infof("queue storage ready: %s", i.queueTable)
	return nil
}

// InstallCapture installs the capture function and the insert/update/delete
// triggers for every listed table. Already-installed tables are replaced in
// place.
func (i *Installer) InstallCapture(ctx context.Context, tables []string) error {
	for _, table := range tables {
		if err := i.installTable(ctx, table); err != nil {
			return fmt.Errorf("install capture on %s: %w", table, err)
		}
	}
	return nil
}

func (i *Installer) installTable(ctx context.Context, table string) error {
	pk, err := i.catalog.PrimaryKeyColumn(ctx, table)
	if err != nil {
		return err
	}

	if _, err := i.pool.Exec(ctx, captureFunctionDDL(table, pk, i.queueTable)); err != nil {
		return fmt.Errorf("create capture function: %w", err)
	}

	for _, op := range operations {
		for _, stmt := range triggerDDL(table, op) {
			if _, err := i.pool.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("create %s trigger: %w", op, err)
			}
		}
	}

	i.logger.Infof("capture installed on %s (pk %s)", table, pk)
	return nil
}
