package lifecycle

import (
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentdock/memengine/internal/domain"
)

// DecayRule is one ordered decay rule.
type DecayRule struct {
	ID            string
	ConditionExpr string
	DecayRate     float64 // per-day fraction; converted to half-life days
	MinImportance float64
	NeverDecay    bool
	Enabled       bool
	Description   string

	compiled Predicate
}

// DecayRateToHalfLifeDays converts a per-day decay rate into the
// engine's canonical half-life representation: halfLife = ln(2)/decayRate.
// The record stores CustomHalfLifeDays; any decayRate read from a rule
// or config is converted here before being written onto a record.
func DecayRateToHalfLifeDays(decayRate float64) float64 {
	if decayRate <= 0 {
		return 0
	}
	return math.Ln2 / decayRate
}

// DecayConfig is the `decay` sub-config of a lifecycle Config.
type DecayConfig struct {
	Rules            []DecayRule
	DefaultDecayRate float64
}

// PromotionConfig is the `promotion` sub-config of a lifecycle Config.
type PromotionConfig struct {
	EpisodicToSemanticDays     float64
	MinImportanceForPromotion  float64
	MinAccessCountForPromotion int
	PreserveOriginal           bool
	CustomRules                []PromotionRule
}

// PromotionRule is a custom promotion rule using the same predicate
// grammar as decay rules.
type PromotionRule struct {
	ID            string
	ConditionExpr string
	TargetType    domain.MemoryType

	compiled Predicate
}

// CleanupConfig is the `cleanup` sub-config of a lifecycle Config.
type CleanupConfig struct {
	DeleteThreshold     float64
	ArchiveEnabled      bool
	ArchiveKeyPattern   string
	ArchiveTTLSeconds   int64
	MaxMemoriesPerAgent int
}

// Config bundles the three sub-configs.
type Config struct {
	Decay     DecayConfig
	Promotion PromotionConfig
	Cleanup   CleanupConfig
}

func DefaultConfig() Config {
	return Config{
		Decay: DecayConfig{DefaultDecayRate: math.Ln2 / 30},
		Promotion: PromotionConfig{
			EpisodicToSemanticDays:     14,
			MinImportanceForPromotion:  0.6,
			MinAccessCountForPromotion: 3,
			PreserveOriginal:           true,
		},
		Cleanup: CleanupConfig{
			DeleteThreshold:     0.05,
			ArchiveEnabled:      true,
			ArchiveKeyPattern:   "archive:{agentId}:{memoryId}",
			ArchiveTTLSeconds:   90 * 24 * 3600,
			MaxMemoriesPerAgent: 100000,
		},
	}
}

// Engine evaluates lifecycle rules against records. Predicate compilation
// happens once, in NewEngine, not on every evaluation.
type Engine struct {
	cfg    Config
	logger *zap.Logger
}

func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{cfg: cfg, logger: logger}
	e.compile()
	return e
}

// compile parses every rule's condition once. A parse failure disables
// that rule and logs a warning; it never aborts startup.
func (e *Engine) compile() {
	for i := range e.cfg.Decay.Rules {
		r := &e.cfg.Decay.Rules[i]
		if !r.Enabled {
			continue
		}
		pred, err := ParsePredicate(r.ConditionExpr)
		if err != nil {
			e.logger.Warn("lifecycle: disabling decay rule with unparsable condition",
				zap.String("ruleId", r.ID), zap.Error(err))
			r.Enabled = false
			continue
		}
		r.compiled = pred
	}
	for i := range e.cfg.Promotion.CustomRules {
		r := &e.cfg.Promotion.CustomRules[i]
		pred, err := ParsePredicate(r.ConditionExpr)
		if err != nil {
			e.logger.Warn("lifecycle: disabling promotion rule with unparsable condition",
				zap.String("ruleId", r.ID), zap.Error(err))
			continue
		}
		r.compiled = pred
	}
}

// DecayRateFor evaluates the ordered decay rules against rec, returning
// the first matching rule's effective half-life days (converted from its
// decayRate) and whether it marks the record neverDecay. If no rule
// matches, DefaultDecayRate is used.
func (e *Engine) DecayRateFor(rec domain.Record) (halfLifeDays float64, neverDecay bool, ruleID string) {
	for _, r := range e.cfg.Decay.Rules {
		if !r.Enabled || r.compiled == nil {
			continue
		}
		if rec.Importance < r.MinImportance {
			continue
		}
		if !r.compiled.Eval(rec) {
			continue
		}
		return DecayRateToHalfLifeDays(r.DecayRate), r.NeverDecay, r.ID
	}
	return DecayRateToHalfLifeDays(e.cfg.Decay.DefaultDecayRate), false, ""
}

// ShouldPromote reports whether rec qualifies for episodic→semantic
// promotion under the built-in age/importance/accessCount gate, or any
// enabled custom rule.
func (e *Engine) ShouldPromote(rec domain.Record, ageDays float64) bool {
	if rec.Type != domain.TypeEpisodic {
		return false
	}
	p := e.cfg.Promotion
	if ageDays >= p.EpisodicToSemanticDays &&
		rec.Importance >= p.MinImportanceForPromotion &&
		rec.AccessCount >= p.MinAccessCountForPromotion {
		return true
	}
	for _, r := range p.CustomRules {
		if r.compiled != nil && r.compiled.Eval(rec) {
			return true
		}
	}
	return false
}

// PreserveOriginal reports whether a promoted episodic source should be
// retained (true) or archived (false).
func (e *Engine) PreserveOriginal() bool {
	return e.cfg.Promotion.PreserveOriginal
}

// CleanupDecision is the outcome of evaluating a record in a cleanup
// cycle.
type CleanupDecision struct {
	Archive bool
	Delete  bool
}

// Evaluate decides whether rec should be archived or hard-deleted this
// cleanup cycle. For an already-archived record this checks only whether
// its archive TTL has elapsed; for an active record it applies the
// resonance gate.
// MaxMemoriesPerAgent eviction is applied separately by EvictOverflow
// since it needs the full agent set.
func (e *Engine) Evaluate(rec domain.Record, now time.Time) CleanupDecision {
	if rec.NeverDecay {
		return CleanupDecision{}
	}
	if rec.Status == domain.StatusArchived {
		if e.cfg.Cleanup.ArchiveTTLSeconds <= 0 {
			return CleanupDecision{}
		}
		ttl := time.Duration(e.cfg.Cleanup.ArchiveTTLSeconds) * time.Second
		if now.Sub(rec.UpdatedAt) >= ttl {
			return CleanupDecision{Delete: true}
		}
		return CleanupDecision{}
	}
	if rec.Resonance >= e.cfg.Cleanup.DeleteThreshold {
		return CleanupDecision{}
	}
	if e.cfg.Cleanup.ArchiveEnabled {
		return CleanupDecision{Archive: true}
	}
	return CleanupDecision{Delete: true}
}

// ArchiveEnabled reports whether cleanup writes archived records to the
// archive key pattern (true) or hard-deletes them directly (false).
func (e *Engine) ArchiveEnabled() bool {
	return e.cfg.Cleanup.ArchiveEnabled
}

// ArchiveKey substitutes {agentId} and {memoryId} into the configured
// ArchiveKeyPattern.
func (e *Engine) ArchiveKey(agentID, memoryID string) string {
	key := e.cfg.Cleanup.ArchiveKeyPattern
	key = strings.ReplaceAll(key, "{agentId}", agentID)
	key = strings.ReplaceAll(key, "{memoryId}", memoryID)
	return key
}

// ArchiveTTLSeconds returns the configured archive entry TTL.
func (e *Engine) ArchiveTTLSeconds() int64 {
	return e.cfg.Cleanup.ArchiveTTLSeconds
}

// EvictOverflow returns the ids to evict so the agent's total stays within
// MaxMemoriesPerAgent, lowest-resonance first. neverDecay records are
// pinned and excluded from eviction.
func (e *Engine) EvictOverflow(records []domain.Record) []string {
	limit := e.cfg.Cleanup.MaxMemoriesPerAgent
	if limit <= 0 || len(records) <= limit {
		return nil
	}

	evictable := make([]domain.Record, 0, len(records))
	for _, r := range records {
		if !r.NeverDecay {
			evictable = append(evictable, r)
		}
	}
	overflow := len(records) - limit
	if overflow > len(evictable) {
		overflow = len(evictable)
	}

	sort.Slice(evictable, func(i, j int) bool { return evictable[i].Resonance < evictable[j].Resonance })
	ids := make([]string, overflow)
	for i := 0; i < overflow; i++ {
		ids[i] = evictable[i].ID
	}
	return ids
}

