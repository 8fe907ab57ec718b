package syncer

import (
	"time"

	"github.com/web3tea/graphmirror/pkg/log"
)

// Option configures a Syncer.
type Option func(*Syncer)

// WithBatchSize sets the claim batch size used by Run.
func WithBatchSize(size int) Option {
	return func(s *Syncer) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithPollInterval sets how often Run polls the durable queue.
func WithPollInterval(interval time.Duration) Option {
	return func(s *Syncer) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

// WithLogger sets the syncer's logger.
func WithLogger(logger log.Logger) Option {
	return func(s *Syncer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSchemaCache injects the relationship schema cache so callers can reach
// its invalidation hook through the facade.
func WithSchemaCache(cache SchemaCache) Option {
	return func(s *Syncer) {
		s.cache = cache
	}
}
