package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/web3tea/graphmirror/models"
	"github.com/web3tea/graphmirror/pkg/log"
)

// Store is the durable queue surface the syncer consumes. *queue.Queue
// implements it.
type Store interface {
	Claim(ctx context.Context, limit int) ([]*models.QueueRecord, error)
	MarkSucceeded(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, applyErr error) error
	RequeueFailed(ctx context.Context, maxRetries int) (int64, error)
}

// Installer provisions the capture side. *capture.Installer implements it.
type Installer interface {
	EnsureQueueStorage(ctx context.Context) error
	InstallCapture(ctx context.Context, tables []string) error
}

// Applier applies one change event to the graph. *updater.Updater
// implements it.
type Applier interface {
	Apply(ctx context.Context, event *models.ChangeEvent) error
}

// SchemaCache is the invalidation hook of the injected relationship cache.
type SchemaCache interface {
	Invalidate(entityTypes ...string)
}

// Syncer is the orchestration facade. Two producer paths converge on the
// same apply algorithm: an in-memory list for programmatic producers and
// tests (Enqueue/Drain), and the durable trigger-fed queue for production
// (ClaimAndProcess/Run).
type Syncer struct {
	store     Store
	installer Installer
	applier   Applier
	cache     SchemaCache
	logger    log.Logger

	batchSize    int
	pollInterval time.Duration

	mu      sync.Mutex
	pending []*models.ChangeEvent
}

func New(store Store, installer Installer, applier Applier, options ...Option) *Syncer {
	s := &Syncer{
		store:        store,
		installer:    installer,
		applier:      applier,
		logger:       log.Nop,
		batchSize:    100,
		pollInterval: time.Second,
	}

	for _, opt := range options {
		opt(s)
	}
	return s
}

// Enqueue appends an event to the in-memory list. Events are applied in
// enqueue order by Drain, never reordered. An update event without an
// explicit changed-field set gets the key-wise diff of its row images, the
// same computation the capture triggers run on the durable path.
func (s *Syncer) Enqueue(event *models.ChangeEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Kind == models.KindUpdate && event.ChangedFields == nil {
		event.ChangedFields = models.DiffFields(event.Data, event.PreviousData)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, event)
}

// Drain pops up to batchSize in-memory events and applies each one,
// returning how many were applied. The first apply failure surfaces
// immediately; already-applied events stay applied and unapplied ones stay
// queued. Cancellation between events leaves nothing half-applied.
func (s *Syncer) Drain(ctx context.Context, batchSize int) (int, error) {
	applied := 0
	for applied < batchSize {
		event, ok := s.popPending()
		if !ok {
			return applied, nil
		}

		if err := ctx.Err(); err != nil {
			s.pushFront(event)
			return applied, err
		}

		if err := s.applier.Apply(ctx, event); err != nil {
			return applied, fmt.Errorf("apply event %s (%s %s/%s): %w",
				event.ID, event.Kind, event.EntityType, event.EntityID, err)
		}
		applied++
	}
	return applied, nil
}

func (s *Syncer) popPending() (*models.ChangeEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil, false
	}
	event := s.pending[0]
	s.pending = s.pending[1:]
	return event, true
}

func (s *Syncer) pushFront(event *models.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append([]*models.ChangeEvent{event}, s.pending...)
}

// ClaimAndProcess claims up to limit pending queue rows and applies each
// claimed event in capture order. One event's failure is recorded on its
// row and never blocks its siblings. The returned count is the number of
// rows claimed, whether or not each apply succeeded.
func (s *Syncer) ClaimAndProcess(ctx context.Context, limit int) (int, error) {
	records, err := s.store.Claim(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("claim batch: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	for _, rec := range records {
		if err := s.applier.Apply(ctx, rec.Event()); err != nil {
			s.logger.Warnf("apply queue row %d (%s %s/%s) failed: %v",
				rec.ID, rec.Kind, rec.EntityType, rec.EntityID, err)
			if markErr := s.store.MarkFailed(ctx, rec.ID, err); markErr != nil {
				s.logger.Errorf("record failure on queue row %d: %v", rec.ID, markErr)
			}
			continue
		}
		if err := s.store.MarkSucceeded(ctx, rec.ID); err != nil {
			s.logger.Errorf("record success on queue row %d: %v", rec.ID, err)
		}
	}
	return len(records), nil
}

// Run polls the durable queue until the context is cancelled. Claim
// failures are logged and retried on the next tick; they are
// infrastructure-level, not per-event.
func (s *Syncer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.logger.Infof("syncer started: batch size %d, poll interval %s", s.batchSize, s.pollInterval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Infof("syncer stopped: %v", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			n, err := s.ClaimAndProcess(ctx, s.batchSize)
			if err != nil {
				s.logger.Errorf("claim and process: %v", err)
				continue
			}
			if n > 0 {
				s.logger.Debugf("processed batch of %d", n)
			}
		}
	}
}

// EnsureQueueStorage provisions the durable queue's backing store.
func (s *Syncer) EnsureQueueStorage(ctx context.Context) error {
	return s.installer.EnsureQueueStorage(ctx)
}

// InstallCapture installs the capture triggers for the watched tables.
func (s *Syncer) InstallCapture(ctx context.Context, tables []string) error {
	return s.installer.InstallCapture(ctx, tables)
}

// RequeueFailed runs the explicit reconciliation sweep on the durable queue.
func (s *Syncer) RequeueFailed(ctx context.Context, maxRetries int) (int64, error) {
	return s.store.RequeueFailed(ctx, maxRetries)
}

// InvalidateSchema resets the injected relationship schema cache.
func (s *Syncer) InvalidateSchema(entityTypes ...string) {
	if s.cache != nil {
		s.cache.Invalidate(entityTypes...)
	}
}
