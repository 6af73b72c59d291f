package recall

import (
	"math"
	"strings"
	"time"

	"github.com/agentdock/memengine/internal/domain"
)

// Weights is `hybridSearchWeights`.
type Weights struct {
	Vector     float64
	Text       float64
	Temporal   float64
	Procedural float64
}

// DefaultWeights favors vector similarity with a lexical fallback.
func DefaultWeights() Weights {
	return Weights{Vector: 0.7, Text: 0.3, Temporal: 0, Procedural: 0}
}

// tierTau is the tier-dependent temporal decay constant τ used by the
// temporal signal. Working memory's short TTL warrants a much shorter τ than the other tiers.
var tierTau = map[domain.MemoryType]time.Duration{
	domain.TypeWorking:    time.Hour,
	domain.TypeEpisodic:   30 * 24 * time.Hour,
	domain.TypeSemantic:   90 * 24 * time.Hour,
	domain.TypeProcedural: 60 * 24 * time.Hour,
}

// Signals holds the four per-candidate ranking signals.
type Signals struct {
	Vector     float64
	Text       float64
	Temporal   float64
	Procedural float64
}

// vectorSignal returns cosine similarity between a query embedding and a
// candidate's embedding, clamped to [0,1]. Absent either embedding, 0.
func vectorSignal(queryEmbedding, candidateEmbedding []float32) float64 {
	if len(queryEmbedding) == 0 || len(candidateEmbedding) == 0 || len(queryEmbedding) != len(candidateEmbedding) {
		return 0
	}
	var dot, normA, normB float64
	for i := range queryEmbedding {
		dot += float64(queryEmbedding[i]) * float64(candidateEmbedding[i])
		normA += float64(queryEmbedding[i]) * float64(queryEmbedding[i])
		normB += float64(candidateEmbedding[i]) * float64(candidateEmbedding[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	v := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return clampUnit(v)
}

// textSignal is a simple bounded token-overlap score:
// |query ∩ content| / |query|.
func textSignal(query, content string) float64 {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return 0
	}
	contentSet := make(map[string]bool)
	for _, tok := range tokenize(content) {
		contentSet[tok] = true
	}
	hits := 0
	for _, tok := range queryTokens {
		if contentSet[tok] {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// temporalSignal is exp(-(now-lastAccessedAt)/τ).
func temporalSignal(now, lastAccessedAt time.Time, memType domain.MemoryType) float64 {
	tau := tierTau[memType]
	if tau <= 0 {
		tau = 30 * 24 * time.Hour
	}
	elapsed := now.Sub(lastAccessedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	return math.Exp(-elapsed.Seconds() / tau.Seconds())
}

// proceduralSignal is the success rate of the matching procedural
// pattern, else 0.
func proceduralSignal(stats *domain.ProceduralStats) float64 {
	if stats == nil {
		return 0
	}
	return stats.SuccessRate()
}

// Fuse computes the weighted-sum fused score:
// weighted signal sum, scaled by resonance/maxResonance and importance
// (both clamped), then optionally boosted by centrality.
func Fuse(signals Signals, w Weights, rec domain.Record, centralityNormalized float64, boostCentral bool, alpha float64) float64 {
	base := w.Vector*signals.Vector + w.Text*signals.Text + w.Temporal*signals.Temporal + w.Procedural*signals.Procedural

	resonanceRatio := clampUnit(rec.Resonance / rec.EffectiveMaxResonance())
	importance := clampUnit(rec.Importance)
	score := base * resonanceRatio * importance

	if boostCentral {
		if alpha < 0 {
			alpha = 0
		}
		if alpha > 0.5 {
			alpha = 0.5
		}
		score *= 1 + alpha*clampUnit(centralityNormalized)
	}
	return score
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
