// Package manager implements the engine's public surface. It wires
// together storage, connection discovery, recall, and consolidation
// behind a small validated API.
package manager

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentdock/memengine/internal/batch"
	"github.com/agentdock/memengine/internal/domain"
	"github.com/agentdock/memengine/internal/extraction"
	"github.com/agentdock/memengine/internal/graph"
	"github.com/agentdock/memengine/internal/recall"
)

// Store is the narrow storage capability Manager depends on directly. Set
// is the KV capability RunMaintenanceCycle uses to write archive snapshots
// under the lifecycle engine's configured key pattern.
type Store interface {
	StoreRecord(ctx context.Context, rec *domain.Record) (string, error)
	DeleteRecord(ctx context.Context, userID, agentID, id string) error
	GetRecordByID(ctx context.Context, userID, id string) (*domain.Record, error)
	RecallRecords(ctx context.Context, userID, agentID, query string, q domain.RecallQuery) ([]domain.Record, error)
	Set(ctx context.Context, key string, value []byte, opts *domain.SetOptions) error
}

// ConsolidationConfig bounds consolidateMemories.
type ConsolidationConfig struct {
	Enabled             bool
	SimilarityThreshold float64
}

// Config bounds the Manager.
type Config struct {
	Consolidation ConsolidationConfig
}

func DefaultConfig() Config {
	return Config{Consolidation: ConsolidationConfig{Enabled: false, SimilarityThreshold: 0.85}}
}

// ConsolidationResult is one merged group.
type ConsolidationResult struct {
	ConsolidatedID string
	OriginalIDs    []string
}

// Manager is the engine's public surface.
type Manager struct {
	store      Store
	discoverer *graph.Discoverer
	recall     *recall.Service
	batchProc  *batch.Processor
	cfg        Config
	logger     *zap.Logger

	inflight sync.WaitGroup
}

// New constructs a Manager. discoverer and batchProc may be nil: a nil
// discoverer disables connection discovery entirely, a nil batchProc
// means Close has nothing to flush.
func New(store Store, discoverer *graph.Discoverer, recallSvc *recall.Service, batchProc *batch.Processor, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, discoverer: discoverer, recall: recallSvc, batchProc: batchProc, cfg: cfg, logger: logger}
}

// Store persists content for (userID, agentID) and schedules connection
// discovery without waiting for it.
func (m *Manager) Store(ctx context.Context, userID, agentID, content string, memType domain.MemoryType) (string, error) {
	if userID == "" || agentID == "" {
		return "", domain.NewError(domain.KindInvalidArgument, "manager", "store", nil)
	}
	if !domain.ValidMemoryType(string(memType)) {
		return "", domain.NewError(domain.KindInvalidArgument, "manager", "store", nil)
	}

	now := time.Now()
	rec := &domain.Record{
		ID:             domain.NewRecordID(),
		UserID:         userID,
		AgentID:        agentID,
		Type:           memType,
		Content:        content,
		Keywords:       deriveKeywords(content),
		Resonance:      1.0,
		Importance:     0.5,
		Reinforceable:  true,
		Status:         domain.StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
	}

	return m.persist(ctx, rec)
}

// persist writes rec, invalidates the tenant's recall cache, and kicks off
// background connection discovery. Discovery is tracked by the inflight
// group so Close can await it.
func (m *Manager) persist(ctx context.Context, rec *domain.Record) (string, error) {
	id, err := m.store.StoreRecord(ctx, rec)
	if err != nil {
		return "", err
	}
	rec.ID = id
	m.recall.InvalidateCache(rec.UserID, rec.AgentID)

	if m.discoverer != nil {
		m.inflight.Add(1)
		go func() {
			defer m.inflight.Done()
			m.discoverer.OnMemoryWritten(context.WithoutCancel(ctx), *rec)
		}()
	}

	return id, nil
}

// StoreFromMessage runs the extraction pipeline over message and persists
// every surviving candidate under its chosen tier. An extraction failure
// yields zero stored ids, not an error: extraction is best-effort and must
// not block the write path.
func (m *Manager) StoreFromMessage(ctx context.Context, userID, agentID, message string, pipe *extraction.Pipeline, rc extraction.RequestContext) ([]string, error) {
	if userID == "" || agentID == "" || pipe == nil {
		return nil, domain.NewError(domain.KindInvalidArgument, "manager", "storeFromMessage", nil)
	}
	rc.UserID = userID
	rc.AgentID = agentID

	var ids []string
	now := time.Now()
	for _, c := range pipe.Extract(ctx, message, rc) {
		memType := c.Type
		if !domain.ValidMemoryType(string(memType)) {
			memType = domain.TypeEpisodic
		}
		keywords := c.Keywords
		if len(keywords) == 0 {
			keywords = deriveKeywords(c.Content)
		}
		rec := &domain.Record{
			ID:             domain.NewRecordID(),
			UserID:         userID,
			AgentID:        agentID,
			Type:           memType,
			Content:        c.Content,
			Keywords:       keywords,
			Resonance:      1.0,
			Importance:     c.Importance,
			Reinforceable:  true,
			Status:         domain.StatusActive,
			CreatedAt:      now,
			UpdatedAt:      now,
			LastAccessedAt: now,
		}
		id, err := m.persist(ctx, rec)
		if err != nil {
			m.logger.Warn("storeFromMessage: failed to persist candidate", zap.Error(err))
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// deriveKeywords pulls a small ordered set of normalized tokens out of
// content so lexical recall and connection triage have something to work
// with when no richer extraction ran. Short tokens carry too little
// signal to be worth an index slot.
func deriveKeywords(content string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range strings.Fields(strings.ToLower(content)) {
		tok = strings.Trim(tok, ".,;:!?\"'()")
		if len(tok) < 4 || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
		if len(out) == 8 {
			break
		}
	}
	return out
}

// Recall is a thin wrapper over the recall service.
func (m *Manager) Recall(ctx context.Context, userID, agentID, query string, opts recall.Options) ([]recall.Scored, error) {
	if userID == "" || agentID == "" {
		return nil, domain.NewError(domain.KindInvalidArgument, "manager", "recall", nil)
	}
	return m.recall.Recall(ctx, userID, agentID, query, opts)
}

// ConsolidationDisabledErr is returned when consolidation is invoked while
// disabled.
var ConsolidationDisabledErr = domain.NewError(domain.KindInvalidArgument, "manager", "consolidateMemories", nil)

// ConsolidateMemories groups episodic records by lexical similarity to a
// group seed (at least the configured threshold, see groupBySimilarity)
// and merges each group.
func (m *Manager) ConsolidateMemories(ctx context.Context, userID, agentID string) ([]ConsolidationResult, error) {
	if userID == "" || agentID == "" {
		return nil, domain.NewError(domain.KindInvalidArgument, "manager", "consolidateMemories", nil)
	}
	if !m.cfg.Consolidation.Enabled {
		return nil, ConsolidationDisabledErr
	}

	memType := domain.TypeEpisodic
	records, err := m.store.RecallRecords(ctx, userID, agentID, "", domain.RecallQuery{Type: &memType})
	if err != nil {
		return nil, err
	}

	groups := groupBySimilarity(records, m.cfg.Consolidation.SimilarityThreshold)

	var results []ConsolidationResult
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		merged := mergeRecords(group)
		id, err := m.store.StoreRecord(ctx, merged)
		if err != nil {
			m.logger.Warn("consolidation: failed to persist merged record", zap.Error(err))
			continue
		}
		originals := make([]string, len(group))
		for i, g := range group {
			originals[i] = g.ID
		}
		results = append(results, ConsolidationResult{ConsolidatedID: id, OriginalIDs: originals})
	}
	if len(results) > 0 {
		m.recall.InvalidateCache(userID, agentID)
	}
	return results, nil
}

// Close flushes pending batch updates, awaits in-flight discovery
// goroutines (bounded by the caller's context), and is safe to call
// more than once.
func (m *Manager) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("manager close: timed out awaiting in-flight discovery")
	}

	if m.batchProc != nil {
		return m.batchProc.Destroy(ctx)
	}
	return nil
}
