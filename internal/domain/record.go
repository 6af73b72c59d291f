// Package domain defines the memory engine's shared data model: the
// four-tier record schema, connection graph edges, capability-typed
// storage interfaces, and the external collaborator contracts (embedding,
// classification, cost tracking) the engine depends on.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// MemoryType is one of the four memory tiers.
type MemoryType string

const (
	TypeWorking    MemoryType = "working"
	TypeEpisodic   MemoryType = "episodic"
	TypeSemantic   MemoryType = "semantic"
	TypeProcedural MemoryType = "procedural"
)

func ValidMemoryType(t string) bool {
	switch MemoryType(t) {
	case TypeWorking, TypeEpisodic, TypeSemantic, TypeProcedural:
		return true
	}
	return false
}

func AllMemoryTypes() []MemoryType {
	return []MemoryType{TypeWorking, TypeEpisodic, TypeSemantic, TypeProcedural}
}

// RecordStatus distinguishes recallable records from archived ones.
type RecordStatus string

const (
	StatusActive   RecordStatus = "active"
	StatusArchived RecordStatus = "archived"
)

// DefaultMaxResonance is the ceiling resonance is clamped to,
// reinforcement included.
const DefaultMaxResonance = 2.0

// Record is the shared memory entity. Every field that can be mutated
// after creation is mutated through one of the engine's services (decay,
// batch flush, promotion, archival, explicit update) rather than
// directly, so the bounds and monotonicity invariants hold.
type Record struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	AgentID string `json:"agentId"`

	Type    MemoryType `json:"type"`
	Content string     `json:"content"`

	Importance float64 `json:"importance"`
	Resonance  float64 `json:"resonance"`

	AccessCount int `json:"accessCount"`

	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`

	Keywords []string       `json:"keywords,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	Status RecordStatus `json:"status"`

	NeverDecay    bool `json:"neverDecay"`
	Reinforceable bool `json:"reinforceable"`

	// CustomHalfLifeDays overrides decay.Config.DefaultHalfLifeDays when > 0.
	CustomHalfLifeDays float64 `json:"customHalfLife,omitempty"`

	EmbeddingID string `json:"embeddingId,omitempty"`
	Embedding   []float32 `json:"-"`

	MaxResonance float64 `json:"-"`
}

// NewRecordID returns a fresh opaque record identifier.
func NewRecordID() string {
	return uuid.NewString()
}

// EffectiveMaxResonance returns the record's resonance ceiling, defaulting
// to DefaultMaxResonance when unset.
func (r *Record) EffectiveMaxResonance() float64 {
	if r.MaxResonance > 0 {
		return r.MaxResonance
	}
	return DefaultMaxResonance
}

// ClampResonance enforces the resonance bounds invariant.
func (r *Record) ClampResonance() {
	max := r.EffectiveMaxResonance()
	if r.Resonance < 0 {
		r.Resonance = 0
	}
	if r.Resonance > max {
		r.Resonance = max
	}
}

// TemporalInsights is the well-known shape the decay calculator looks for
// inside Record.Metadata["temporalInsights"].
type TemporalInsights struct {
	Patterns []TemporalPattern `json:"patterns"`
}

type TemporalPatternKind string

const (
	PatternBurst TemporalPatternKind = "burst"
	PatternDaily TemporalPatternKind = "daily"
)

type TemporalPattern struct {
	Kind       TemporalPatternKind `json:"kind"`
	Confidence float64             `json:"confidence"`
}

// ParseTemporalInsights extracts TemporalInsights from a record's metadata
// map, tolerating the metadata being absent or malformed (Integrity error
// kind — callers treat absence as "no insights").
func ParseTemporalInsights(meta map[string]any) (TemporalInsights, bool) {
	if meta == nil {
		return TemporalInsights{}, false
	}
	raw, ok := meta["temporalInsights"]
	if !ok {
		return TemporalInsights{}, false
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return TemporalInsights{}, false
	}
	patternsRaw, ok := m["patterns"]
	if !ok {
		return TemporalInsights{}, false
	}
	list, ok := patternsRaw.([]any)
	if !ok {
		return TemporalInsights{}, false
	}
	var insights TemporalInsights
	for _, item := range list {
		pm, ok := item.(map[string]any)
		if !ok {
			continue
		}
		kind, _ := pm["kind"].(string)
		conf, _ := pm["confidence"].(float64)
		if kind == "" {
			continue
		}
		insights.Patterns = append(insights.Patterns, TemporalPattern{
			Kind:       TemporalPatternKind(kind),
			Confidence: conf,
		})
	}
	return insights, true
}
