package queue

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/web3tea/graphmirror/capture"
	"github.com/web3tea/graphmirror/models"
	"github.com/web3tea/graphmirror/pkg/log"
)

// maxErrorLen bounds the failure message persisted on a queue row.
const maxErrorLen = 500

// Queue is the durable change log. All mutual exclusion between concurrent
// consumers happens inside Claim's single statement; every other method
// operates on rows the caller already owns.
type Queue struct {
	pool   *pgxpool.Pool
	table  string
	logger log.Logger
}

func New(pool *pgxpool.Pool, table string, logger log.Logger) *Queue {
	if table == "" {
		table = capture.DefaultQueueTable
	}
	if logger == nil {
		logger = log.Nop
	}
	return &Queue{pool: pool, table: table, logger: logger}
}

// claimSQL selects up to $1 pending rows in capture order, skipping rows
// locked by concurrent claimants, and marks them processed in the same
// statement. Under any number of concurrent callers each row is returned to
// exactly one of them.
const claimSQL = `
UPDATE %[1]s q
SET processed_at = now()
WHERE q.id IN (
    SELECT id FROM %[1]s
    WHERE processed_at IS NULL
    ORDER BY created_at, id
    FOR UPDATE SKIP LOCKED
    LIMIT $1
)
RETURNING q.id, q.entity_type, q.entity_id, q.change_kind, q.data,
    q.previous_data, q.changed_fields, q.created_at, q.processed_at,
    q.error, q.retries`

// Claim atomically takes ownership of up to limit pending rows and returns
// them in capture order. An empty queue returns nil with no side effects.
func (q *Queue) Claim(ctx context.Context, limit int) ([]*models.QueueRecord, error) {
	rows, err := q.pool.Query(ctx, fmt.Sprintf(claimSQL, q.table), limit)
	if err != nil {
		return nil, fmt.Errorf("claim queue rows: %w", err)
	}
	defer rows.Close()

	var records []*models.QueueRecord
	for rows.Next() {
		var rec models.QueueRecord
		var kind string
		if err := rows.Scan(&rec.ID, &rec.EntityType, &rec.EntityID, &kind,
			&rec.Data, &rec.PreviousData, &rec.ChangedFields,
			&rec.CreatedAt, &rec.ProcessedAt, &rec.Error, &rec.Retries); err != nil {
			return nil, fmt.Errorf("scan queue row: %w", err)
		}
		rec.Kind, err = models.ParseChangeKind(kind)
		if err != nil {
			return nil, fmt.Errorf("queue row %d: %w", rec.ID, err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim queue rows: %w", err)
	}

	// UPDATE ... RETURNING does not guarantee row order.
	sortRecords(records)
	return records, nil
}

// MarkSucceeded clears any stale error left by an earlier failed attempt.
func (q *Queue) MarkSucceeded(ctx context.Context, id int64) error {
	stmt := fmt.Sprintf("UPDATE %s SET error = NULL WHERE id = $1", q.table)
	if _, err := q.pool.Exec(ctx, stmt, id); err != nil {
		return fmt.Errorf("mark queue row %d succeeded: %w", id, err)
	}
	return nil
}

// MarkFailed records the apply failure on the row and bumps its retry
// counter. The row stays claimed; see RequeueFailed for the recovery path.
func (q *Queue) MarkFailed(ctx context.Context, id int64, applyErr error) error {
	stmt := fmt.Sprintf("UPDATE %s SET error = $2, retries = retries + 1 WHERE id = $1", q.table)
	if _, err := q.pool.Exec(ctx, stmt, id, truncateError(applyErr)); err != nil {
		return fmt.Errorf("mark queue row %d failed: %w", id, err)
	}
	return nil
}

// RequeueFailed resets failed rows with fewer than maxRetries attempts back
// to pending, returning how many became claimable again. It is the explicit
// reconciliation sweep; nothing runs it implicitly.
func (q *Queue) RequeueFailed(ctx context.Context, maxRetries int) (int64, error) {
	stmt := fmt.Sprintf(`UPDATE %s SET processed_at = NULL, error = NULL
WHERE processed_at IS NOT NULL AND error IS NOT NULL AND retries < $1`, q.table)
	tag, err := q.pool.Exec(ctx, stmt, maxRetries)
	if err != nil {
		return 0, fmt.Errorf("requeue failed rows: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats summarizes the queue for operators.
type Stats struct {
	Pending       int64
	Processed     int64
	Failed        int64
	OldestPending *time.Time
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	stmt := fmt.Sprintf(`SELECT
    count(*) FILTER (WHERE processed_at IS NULL),
    count(*) FILTER (WHERE processed_at IS NOT NULL),
    count(*) FILTER (WHERE error IS NOT NULL),
    min(created_at) FILTER (WHERE processed_at IS NULL)
FROM %s`, q.table)

	var s Stats
	if err := q.pool.QueryRow(ctx, stmt).Scan(&s.Pending, &s.Processed, &s.Failed, &s.OldestPending); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return s, nil
}

func sortRecords(records []*models.QueueRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}

func truncateError(err error) string {
	msg := err.Error()
	if len(msg) <= maxErrorLen {
		return msg
	}
	runes := []rune(msg)
	if len(runes) > maxErrorLen {
		runes = runes[:maxErrorLen]
	}
	return string(runes)
}
