package queue_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"

	"github.com/web3tea/graphmirror/capture"
	"github.com/web3tea/graphmirror/models"
	"github.com/web3tea/graphmirror/queue"
	"github.com/web3tea/graphmirror/schema"
)

// The suite needs a live PostgreSQL instance, e.g.
//
//	GRAPHMIRROR_TEST_DB="host=localhost user=postgres dbname=graphmirror_test" go test ./queue/...
func TestQueueSuite(t *testing.T) {
	if os.Getenv("GRAPHMIRROR_TEST_DB") == "" {
		t.Skip("GRAPHMIRROR_TEST_DB not set")
	}
	suite.Run(t, new(queueSuite))
}

type queueSuite struct {
	suite.Suite
	pool *pgxpool.Pool
	ctx  context.Context
}

const testQueueTable = "graphmirror_queue_test"
const testSourceTable = "graphmirror_customers_test"

func (s *queueSuite) SetupSuite() {
	s.ctx = context.Background()
	pool, err := pgxpool.New(s.ctx, os.Getenv("GRAPHMIRROR_TEST_DB"))
	s.Require().NoError(err)
	s.pool = pool
}

func (s *queueSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *queueSuite) SetupTest() {
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS " + testQueueTable,
		"DROP TABLE IF EXISTS " + testSourceTable + " CASCADE",
	} {
		_, err := s.pool.Exec(s.ctx, stmt)
		s.Require().NoError(err)
	}

	installer := capture.NewInstaller(s.pool, schema.NewPgCatalog(s.pool), testQueueTable, nil)
	s.Require().NoError(installer.EnsureQueueStorage(s.ctx))
}

func (s *queueSuite) queue() *queue.Queue {
	return queue.New(s.pool, testQueueTable, nil)
}

func (s *queueSuite) insertPending(n int) {
	for i := 0; i < n; i++ {
		_, err := s.pool.Exec(s.ctx, fmt.Sprintf(
			`INSERT INTO %s (entity_type, entity_id, change_kind, data)
			 VALUES ('customers', $1, 'update', '{"seq": %d}')`, testQueueTable, i), fmt.Sprintf("c%d", i))
		s.Require().NoError(err)
	}
}

func (s *queueSuite) TestClaimEmptyQueue() {
	records, err := s.queue().Claim(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(records)
}

func (s *queueSuite) TestClaimMarksProcessedInCaptureOrder() {
	s.insertPending(5)

	records, err := s.queue().Claim(s.ctx, 3)
	s.Require().NoError(err)
	s.Require().Len(records, 3)

	for i, rec := range records {
		s.Equal(fmt.Sprintf("c%d", i), rec.EntityID)
		s.NotNil(rec.ProcessedAt)
		s.Equal(models.KindUpdate, rec.Kind)
	}

	records, err = s.queue().Claim(s.ctx, 10)
	s.Require().NoError(err)
	s.Len(records, 2, "already-claimed rows never reappear")
}

// TestExclusiveClaim drives N concurrent claimants against one queue and
// checks the claimed sets are disjoint and complete.
func (s *queueSuite) TestExclusiveClaim() {
	const total = 60
	const workers = 6
	s.insertPending(total)

	var mu sync.Mutex
	seen := map[int64]int{}
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q := s.queue()
			for {
				records, err := q.Claim(s.ctx, 7)
				if !s.NoError(err) || len(records) == 0 {
					return
				}
				mu.Lock()
				for _, rec := range records {
					seen[rec.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Len(seen, total)
	for id, count := range seen {
		s.Equal(1, count, "row %d claimed more than once", id)
	}

	var pending int
	err := s.pool.QueryRow(s.ctx,
		"SELECT count(*) FROM "+testQueueTable+" WHERE processed_at IS NULL").Scan(&pending)
	s.Require().NoError(err)
	s.Zero(pending)
}

func (s *queueSuite) TestMarkFailedAndRequeue() {
	s.insertPending(1)
	q := s.queue()

	records, err := q.Claim(s.ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	id := records[0].ID

	s.Require().NoError(q.MarkFailed(s.ctx, id, errors.New("graph down")))

	stats, err := q.Stats(s.ctx)
	s.Require().NoError(err)
	s.EqualValues(1, stats.Failed)

	n, err := q.RequeueFailed(s.ctx, 5)
	s.Require().NoError(err)
	s.EqualValues(1, n)

	records, err = q.Claim(s.ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Nil(records[0].Error)
	s.Equal(1, records[0].Retries, "retry count survives the requeue")

	s.Require().NoError(q.MarkSucceeded(s.ctx, id))
	stats, err = q.Stats(s.ctx)
	s.Require().NoError(err)
	s.Zero(stats.Failed)
}

func (s *queueSuite) TestRequeueHonorsRetryLimit() {
	s.insertPending(1)
	q := s.queue()

	records, err := q.Claim(s.ctx, 1)
	s.Require().NoError(err)
	id := records[0].ID

	for i := 0; i < 3; i++ {
		s.Require().NoError(q.MarkFailed(s.ctx, id, errors.New("still down")))
	}

	n, err := q.RequeueFailed(s.ctx, 3)
	s.Require().NoError(err)
	s.Zero(n, "rows at the retry limit stay parked")
}

// TestTriggerPipeline exercises the generated capture objects end to end:
// source mutations must appear on the queue with the right kind, row images
// and changed-field set.
func (s *queueSuite) TestTriggerPipeline() {
	_, err := s.pool.Exec(s.ctx, fmt.Sprintf(
		`CREATE TABLE %s (id text PRIMARY KEY, name text, email text)`, testSourceTable))
	s.Require().NoError(err)

	installer := capture.NewInstaller(s.pool, schema.NewPgCatalog(s.pool), testQueueTable, nil)
	s.Require().NoError(installer.InstallCapture(s.ctx, []string{testSourceTable}))
	// Repeat installation must be a no-op, not an error.
	s.Require().NoError(installer.InstallCapture(s.ctx, []string{testSourceTable}))

	_, err = s.pool.Exec(s.ctx, fmt.Sprintf(
		`INSERT INTO %s (id, name, email) VALUES ('c1', 'A', 'a@example.com')`, testSourceTable))
	s.Require().NoError(err)
	_, err = s.pool.Exec(s.ctx, fmt.Sprintf(
		`UPDATE %s SET email = 'b@example.com' WHERE id = 'c1'`, testSourceTable))
	s.Require().NoError(err)
	_, err = s.pool.Exec(s.ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE id = 'c1'`, testSourceTable))
	s.Require().NoError(err)

	records, err := s.queue().Claim(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(records, 3)

	s.Equal(models.KindCreate, records[0].Kind)
	s.Equal("c1", records[0].EntityID)
	s.Equal("A", records[0].Data["name"])
	s.Empty(records[0].ChangedFields)

	s.Equal(models.KindUpdate, records[1].Kind)
	s.Equal([]string{"email"}, records[1].ChangedFields)
	s.Equal("b@example.com", records[1].Data["email"])
	s.Equal("a@example.com", records[1].PreviousData["email"])

	s.Equal(models.KindDelete, records[2].Kind)
	s.Empty(records[2].Data)
	s.Equal("b@example.com", records[2].PreviousData["email"])
}
