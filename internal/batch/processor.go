// Package batch implements coalescing of decay writes. Rather than
// writing every lazily-computed resonance change to storage immediately,
// updates accumulate in memory and flush on a timer, on a size threshold,
// or on demand.
package batch

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/agentdock/memengine/internal/domain"
	"github.com/agentdock/memengine/internal/metrics"
)

// Flusher is the narrow storage capability the processor needs: atomic,
// all-or-nothing application of a batch of updates.
type Flusher interface {
	BatchUpdateMemories(ctx context.Context, updates []domain.MemoryUpdate) error
}

// Config bounds the processor.
type Config struct {
	FlushInterval     time.Duration
	MaxBatchSize      int
	MaxPendingUpdates int
}

// DefaultConfig returns the stock processor bounds.
func DefaultConfig() Config {
	return Config{
		FlushInterval:     5 * time.Second,
		MaxBatchSize:      100,
		MaxPendingUpdates: 10000,
	}
}

// Processor coalesces MemoryUpdate writes keyed by record ID, merging
// repeated updates for the same record, and flushes them to a Flusher.
type Processor struct {
	flusher Flusher
	cfg     Config
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[string]domain.MemoryUpdate
	// order tracks insertion order for oldest-dropped-first back-pressure.
	order []string

	flushMu sync.Mutex // serializes FlushNow / ticker flushes

	destroyed bool

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewProcessor constructs a Processor and starts its background flush
// ticker. Callers must call Destroy to stop it.
func NewProcessor(flusher Flusher, cfg Config, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Processor{
		flusher: flusher,
		cfg:     cfg,
		logger:  logger,
		pending: make(map[string]domain.MemoryUpdate),
		stopCh:  make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *Processor) run() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := p.FlushNow(context.Background()); err != nil {
				p.logger.Warn("periodic batch flush failed", zap.Error(err))
			}
		case <-p.stopCh:
			return
		}
	}
}

// Add enqueues an update, merging it with any pending update for the same
// record: the merged record keeps the last-writer-wins resonance but the
// maximum accessCount and lastAccessedAt seen so far.
// Add triggers an immediate, non-recursive flush when MaxBatchSize is
// reached. A brand-new update (no existing pending entry for its ID)
// arriving while pending is already at MaxPendingUpdates is dropped
// outright (back-pressure, not a crash) and a metric is incremented;
// merges into an already-pending update are never subject to this limit.
func (p *Processor) Add(update domain.MemoryUpdate) {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		metrics.BatchUpdatesDropped.Inc()
		p.logger.Warn("batch processor destroyed, dropping update", zap.String("id", update.ID))
		return
	}
	if existing, ok := p.pending[update.ID]; ok {
		merged := update
		if existing.AccessCount > merged.AccessCount {
			merged.AccessCount = existing.AccessCount
		}
		if existing.LastAccessedAt > merged.LastAccessedAt {
			merged.LastAccessedAt = existing.LastAccessedAt
		}
		p.pending[update.ID] = merged
		p.mu.Unlock()
		return
	}

	if len(p.pending) >= p.cfg.MaxPendingUpdates {
		metrics.BatchUpdatesDropped.Inc()
		p.logger.Warn("batch processor: pending updates at capacity, dropping new update",
			zap.String("id", update.ID), zap.Int("maxPendingUpdates", p.cfg.MaxPendingUpdates))
		p.mu.Unlock()
		return
	}

	p.pending[update.ID] = update
	p.order = append(p.order, update.ID)
	full := len(p.pending) >= p.cfg.MaxBatchSize
	p.mu.Unlock()

	if full {
		go func() {
			if err := p.FlushNow(context.Background()); err != nil {
				p.logger.Warn("size-triggered batch flush failed", zap.Error(err))
			}
		}()
	}
}

// dropOldestLocked drops the oldest pending update. Caller must hold mu.
func (p *Processor) dropOldestLocked() {
	for len(p.order) > 0 {
		oldest := p.order[0]
		p.order = p.order[1:]
		if _, ok := p.pending[oldest]; ok {
			delete(p.pending, oldest)
			metrics.BatchUpdatesDropped.Inc()
			return
		}
	}
}

// PendingCount reports the number of coalesced updates awaiting flush.
func (p *Processor) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// FlushNow drains pending updates and writes them in batches of at most
// MaxBatchSize. Updates that fail to flush are re-inserted, honoring
// MaxPendingUpdates (oldest dropped first), and every failure is
// aggregated via multierr so a caller sees every batch's error, not just
// the first.
func (p *Processor) FlushNow(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return nil
	}
	ids := make([]string, 0, len(p.order))
	seen := make(map[string]bool, len(p.order))
	for _, id := range p.order {
		if seen[id] {
			continue
		}
		if _, ok := p.pending[id]; !ok {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic batch ordering for tests
	updates := make([]domain.MemoryUpdate, 0, len(ids))
	for _, id := range ids {
		updates = append(updates, p.pending[id])
		delete(p.pending, id)
	}
	p.order = nil
	p.mu.Unlock()

	var errs error
	for start := 0; start < len(updates); start += p.cfg.MaxBatchSize {
		end := start + p.cfg.MaxBatchSize
		if end > len(updates) {
			end = len(updates)
		}
		chunk := updates[start:end]
		if err := p.flusher.BatchUpdateMemories(ctx, chunk); err != nil {
			errs = multierr.Append(errs, err)
			p.reinsertFailed(chunk)
			continue
		}
		metrics.BatchFlushesTotal.Inc()
	}
	return errs
}

// reinsertFailed restores updates that failed to flush, respecting
// MaxPendingUpdates by dropping the oldest currently-pending entries first.
func (p *Processor) reinsertFailed(updates []domain.MemoryUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range updates {
		if _, ok := p.pending[u.ID]; ok {
			continue
		}
		if len(p.pending) >= p.cfg.MaxPendingUpdates {
			p.dropOldestLocked()
		}
		p.pending[u.ID] = u
		p.order = append(p.order, u.ID)
	}
}

// Destroy stops the background ticker and flushes any remaining pending
// updates once. Safe to call more than once.
func (p *Processor) Destroy(ctx context.Context) error {
	var err error
	p.once.Do(func() {
		close(p.stopCh)
		p.wg.Wait()
		err = p.FlushNow(ctx)
		p.mu.Lock()
		p.destroyed = true
		p.mu.Unlock()
	})
	return err
}
