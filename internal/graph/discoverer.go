// Package graph implements async connection discovery with smart
// triage, and bounded traversal of the resulting edges.
package graph

import (
	"context"
	"math"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/agentdock/memengine/internal/domain"
	"github.com/agentdock/memengine/internal/metrics"
)

// Thresholds is the three-tier triage configuration,
// env-overridable by the config layer.
type Thresholds struct {
	AutoSimilar float64
	AutoRelated float64
	LLMRequired float64
}

// DefaultThresholds returns the stock triage thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{AutoSimilar: 0.8, AutoRelated: 0.6, LLMRequired: 0.3}
}

// Config bounds the discovery pipeline.
type Config struct {
	Thresholds          Thresholds
	MaxCandidates       int
	MaxLLMCallsPerBatch int
}

// DefaultConfig returns the stock discovery bounds.
func DefaultConfig() Config {
	return Config{
		Thresholds:          DefaultThresholds(),
		MaxCandidates:       50,
		MaxLLMCallsPerBatch: 5,
	}
}

// CandidateFetcher supplies the recently-active candidate pool for a
// write.
type CandidateFetcher interface {
	RecallRecords(ctx context.Context, userID, agentID, query string, q domain.RecallQuery) ([]domain.Record, error)
}

// ConnectionWriter persists the triaged edges in one transaction.
type ConnectionWriter interface {
	CreateConnections(ctx context.Context, userID string, edges []domain.Connection) error
}

// Discoverer runs the write-triggered discovery pipeline. It never blocks
// a caller's store operation: callers invoke OnMemoryWritten in a goroutine
// and never await it.
type Discoverer struct {
	fetcher    CandidateFetcher
	writer     ConnectionWriter
	classifier domain.Classifier // may be nil: below autoRelated, no edge without one
	limiter    *rate.Limiter
	cfg        Config
	logger     *zap.Logger
}

// NewDiscoverer constructs a Discoverer. classifier may be nil, in which
// case candidates in the llmRequired band are skipped (no edge created)
// rather than erroring.
func NewDiscoverer(fetcher CandidateFetcher, writer ConnectionWriter, classifier domain.Classifier, cfg Config, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{
		fetcher:    fetcher,
		writer:     writer,
		classifier: classifier,
		limiter:    rate.NewLimiter(rate.Limit(cfg.MaxLLMCallsPerBatch), cfg.MaxLLMCallsPerBatch),
		cfg:        cfg,
		logger:     logger,
	}
}

// OnMemoryWritten runs the full pipeline for a freshly written record. Any
// failure is logged and swallowed: discovery is best-effort and must never
// surface as a store failure to the caller.
func (d *Discoverer) OnMemoryWritten(ctx context.Context, rec domain.Record) {
	candidates, err := d.fetcher.RecallRecords(ctx, rec.UserID, rec.AgentID, "", domain.RecallQuery{Limit: d.cfg.MaxCandidates})
	if err != nil {
		d.logger.Warn("graph discovery: candidate fetch failed", zap.Error(err))
		return
	}

	var edges []domain.Connection
	llmCalls := 0
	for _, cand := range candidates {
		if cand.ID == rec.ID {
			continue
		}
		score := similarity(rec, cand)
		edge, ok := d.triage(ctx, rec, cand, score, &llmCalls)
		if ok {
			edges = append(edges, edge)
		}
	}

	if len(edges) == 0 {
		return
	}
	if err := d.writer.CreateConnections(ctx, rec.UserID, edges); err != nil {
		d.logger.Warn("graph discovery: persisting connections failed", zap.Error(err))
	}
}

// triage applies the three-tier thresholds. Threshold comparisons are
// inclusive: a score exactly at autoSimilar labels similar.
func (d *Discoverer) triage(ctx context.Context, source, candidate domain.Record, score float64, llmCalls *int) (domain.Connection, bool) {
	t := d.cfg.Thresholds
	switch {
	case score >= t.AutoSimilar:
		metrics.GraphTriageOutcomes.WithLabelValues(string(domain.TriageAutoSimilar)).Inc()
		return newEdge(source, candidate, domain.ConnSimilar, score, domain.TriageAutoSimilar), true

	case score >= t.AutoRelated:
		metrics.GraphTriageOutcomes.WithLabelValues(string(domain.TriageAutoRelated)).Inc()
		return newEdge(source, candidate, domain.ConnRelated, score, domain.TriageAutoRelated), true

	case score >= t.LLMRequired:
		if d.classifier == nil || *llmCalls >= d.cfg.MaxLLMCallsPerBatch {
			return domain.Connection{}, false
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return domain.Connection{}, false
		}
		*llmCalls++
		result, err := d.classifier.Classify(ctx, source.Content, candidate.Content,
			[]domain.ConnectionType{domain.ConnCauses, domain.ConnRelated, domain.ConnPartOf, domain.ConnOpposite})
		if err != nil {
			d.logger.Debug("graph discovery: classifier call failed", zap.Error(err))
			return domain.Connection{}, false
		}
		metrics.GraphTriageOutcomes.WithLabelValues(string(domain.TriageLLM)).Inc()
		return domain.Connection{
			ID:             domain.NewConnectionID(),
			SourceMemoryID: source.ID,
			TargetMemoryID: candidate.ID,
			UserID:         source.UserID,
			ConnectionType: result.Type,
			Strength:       result.Strength,
			Reason:         result.Reason,
			CreatedAt:      source.CreatedAt,
			Metadata:       map[string]any{"triageMethod": string(domain.TriageLLM)},
		}, true

	default:
		return domain.Connection{}, false
	}
}

func newEdge(source, candidate domain.Record, connType domain.ConnectionType, score float64, method domain.TriageMethod) domain.Connection {
	return domain.Connection{
		ID:             domain.NewConnectionID(),
		SourceMemoryID: source.ID,
		TargetMemoryID: candidate.ID,
		UserID:         source.UserID,
		ConnectionType: connType,
		Strength:       clampUnit(score),
		CreatedAt:      source.CreatedAt,
		Metadata:       map[string]any{"triageMethod": string(method)},
	}
}

// similarity scores two records: cosine similarity over embeddings when
// both are present, else a lexical Jaccard index over keywords.
func similarity(a, b domain.Record) float64 {
	if len(a.Embedding) > 0 && len(b.Embedding) > 0 {
		return cosineSimilarity(a.Embedding, b.Embedding)
	}
	return jaccard(a.Keywords, b.Keywords)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, k := range a {
		set[k] = true
	}
	inter := 0
	union := make(map[string]bool, len(a)+len(b))
	for _, k := range a {
		union[k] = true
	}
	for _, k := range b {
		union[k] = true
		if set[k] {
			inter++
		}
	}
	if len(union) == 0 {
		return 0
	}
	return float64(inter) / float64(len(union))
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
