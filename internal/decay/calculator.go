// Package decay implements the lazy decay calculator: a pure,
// synchronous function mapping (record, now) to a decay decision, with
// write-elision below a significant-change threshold.
package decay

import (
	"math"
	"time"

	"github.com/agentdock/memengine/internal/domain"
	"github.com/agentdock/memengine/internal/metrics"
)

// Reason encodes which branches of the decay algorithm fired.
type Reason string

const (
	ReasonArchived              Reason = "archived"
	ReasonTooRecent             Reason = "too_recent"
	ReasonDecayApplied          Reason = "decay_applied"
	ReasonDecayAndReinforcement Reason = "decay_and_reinforcement"
	ReasonNoSignificantChange   Reason = "no_significant_change"
	ReasonNeverDecay            Reason = "never_decay"
	ReasonReinforcementOnly     Reason = "reinforcement_only"
	ReasonCalculationError      Reason = "calculation_error"
)

// Config bounds every tunable of the decay formula.
// Validated at construction; NewConfig replaces out-of-range values with
// the DefaultConfig value for that field rather than erroring, since decay
// configuration is typically loaded from environment defaults that must
// never prevent the engine from starting (a malformed knob degrades to a
// safe default, it does not become a Fatal startup error).
type Config struct {
	DefaultHalfLifeDays        float64
	ArchivalThreshold          float64
	ReinforcementFactor        float64
	MaxResonance               float64
	MinUpdateInterval          time.Duration
	SignificantChangeThreshold float64
	AccessCountThreshold       int
	EnableReinforcement        bool
}

// DefaultConfig returns the stock decay tunables.
func DefaultConfig() Config {
	return Config{
		DefaultHalfLifeDays:        30,
		ArchivalThreshold:          0.1,
		ReinforcementFactor:        0.05,
		MaxResonance:               2.0,
		MinUpdateInterval:          6 * time.Hour,
		SignificantChangeThreshold: 0.1,
		AccessCountThreshold:       5,
		EnableReinforcement:        true,
	}
}

// NewConfig validates cfg, replacing any out-of-range field with its
// DefaultConfig value.
func NewConfig(cfg Config) Config {
	d := DefaultConfig()
	if cfg.DefaultHalfLifeDays > 0 {
		d.DefaultHalfLifeDays = cfg.DefaultHalfLifeDays
	}
	if cfg.ArchivalThreshold >= 0 && cfg.ArchivalThreshold <= 1 {
		d.ArchivalThreshold = cfg.ArchivalThreshold
	}
	if cfg.ReinforcementFactor > 0 && cfg.ReinforcementFactor <= 1 {
		d.ReinforcementFactor = cfg.ReinforcementFactor
	}
	if cfg.MaxResonance >= 1 {
		d.MaxResonance = cfg.MaxResonance
	}
	if cfg.MinUpdateInterval > 0 {
		d.MinUpdateInterval = cfg.MinUpdateInterval
	}
	if cfg.SignificantChangeThreshold >= 0 && cfg.SignificantChangeThreshold <= 1 {
		d.SignificantChangeThreshold = cfg.SignificantChangeThreshold
	}
	if cfg.AccessCountThreshold > 0 {
		d.AccessCountThreshold = cfg.AccessCountThreshold
	}
	d.EnableReinforcement = cfg.EnableReinforcement
	return d
}

// Result is the decay decision for one record.
type Result struct {
	OldResonance           float64
	NewResonance           float64
	ShouldUpdate           bool
	DecayApplied           bool
	ReinforcementApplied   bool
	Reason                 Reason
}

// Calculate computes rec's decay decision as of now. It never mutates rec and never performs I/O.
func Calculate(rec domain.Record, now time.Time, cfg Config) Result {
	result := Result{OldResonance: rec.Resonance, NewResonance: rec.Resonance}

	// Step 1: archived records never decay or update.
	if rec.Status == domain.StatusArchived {
		result.Reason = ReasonArchived
		return result
	}

	// Step 2: neverDecay records skip decay outright; only reinforcement
	// (if eligible) can change them.
	if rec.NeverDecay {
		newVal, reinforced := maybeReinforce(rec, cfg)
		result.NewResonance = clamp(newVal, cfg.MaxResonance)
		result.ReinforcementApplied = reinforced
		result.ShouldUpdate = reinforced && result.NewResonance != result.OldResonance
		result.Reason = ReasonNeverDecay
		return result
	}

	// Step 3: too-recent updates are elided outright.
	if now.Sub(rec.UpdatedAt) < cfg.MinUpdateInterval {
		result.Reason = ReasonTooRecent
		return result
	}

	// Step 4: effective half-life, adjusted by temporal patterns.
	halfLife := cfg.DefaultHalfLifeDays
	if rec.CustomHalfLifeDays > 0 {
		halfLife = rec.CustomHalfLifeDays
	}
	if insights, ok := domain.ParseTemporalInsights(rec.Metadata); ok {
		for _, p := range insights.Patterns {
			switch p.Kind {
			case domain.PatternBurst:
				halfLife *= 1 + 0.3*p.Confidence
			case domain.PatternDaily:
				if p.Confidence > 0.7 {
					halfLife *= 1.2
				}
			}
		}
	}
	if halfLife <= 0 {
		result.Reason = ReasonCalculationError
		return result
	}

	// Step 5: exponential decay since last access.
	deltaDays := now.Sub(rec.LastAccessedAt).Hours() / 24
	if deltaDays < 0 {
		deltaDays = 0
	}
	newResonance := rec.Resonance * math.Pow(0.5, deltaDays/halfLife)
	decayApplied := newResonance != rec.Resonance

	// Step 6: reinforcement, if eligible, is applied after decay.
	reinforced := false
	if reinforcementEligible(rec, cfg) {
		newResonance += newResonance * cfg.ReinforcementFactor
		reinforced = true
	}

	// Step 7: clamp.
	maxRes := cfg.MaxResonance
	if rec.MaxResonance > 0 {
		maxRes = rec.MaxResonance
	}
	newResonance = clamp(newResonance, maxRes)

	result.NewResonance = newResonance
	result.DecayApplied = decayApplied
	result.ReinforcementApplied = reinforced

	// Step 8: write-elision — the whole point of "lazy" decay.
	result.ShouldUpdate = math.Abs(newResonance-rec.Resonance) > cfg.SignificantChangeThreshold

	// Step 9: reason.
	switch {
	case decayApplied && reinforced:
		result.Reason = ReasonDecayAndReinforcement
	case decayApplied:
		result.Reason = ReasonDecayApplied
	case reinforced:
		result.Reason = ReasonReinforcementOnly
	default:
		result.Reason = ReasonNoSignificantChange
	}
	if !result.ShouldUpdate {
		result.Reason = ReasonNoSignificantChange
	}

	return result
}

// reinforcementEligible implements the reinforcement gate shared by steps
// 2 and 6: reinforcement must be enabled globally, the record must allow
// it, and access frequency must exceed the configured threshold. The
// manager's Store and StoreFromMessage construct records with
// Reinforceable true; this gate only needs to honor an explicit false.
func reinforcementEligible(rec domain.Record, cfg Config) bool {
	if !cfg.EnableReinforcement {
		return false
	}
	if !rec.Reinforceable {
		return false
	}
	return rec.AccessCount > cfg.AccessCountThreshold
}

func maybeReinforce(rec domain.Record, cfg Config) (float64, bool) {
	if reinforcementEligible(rec, cfg) {
		return rec.Resonance + rec.Resonance*cfg.ReinforcementFactor, true
	}
	return rec.Resonance, false
}

func clamp(v, max float64) float64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// ShouldArchive reports whether rec has decayed below the archival
// threshold:
// !neverDecay && status==active && resonance < archivalThreshold.
func ShouldArchive(rec domain.Record, cfg Config) bool {
	if rec.NeverDecay {
		return false
	}
	if rec.Status != domain.StatusActive {
		return false
	}
	return rec.Resonance < cfg.ArchivalThreshold
}

// CalculateBatch is a straight, allocation-light map over Calculate.
// It performs no I/O. The write-elision ratio it observes is
// published to metrics.DecayWriteElisionRatio — a pure gauge set, not a
// suspension point.
func CalculateBatch(records []domain.Record, now time.Time, cfg Config) []Result {
	results := make([]Result, len(records))
	elided := 0
	for i, rec := range records {
		results[i] = Calculate(rec, now, cfg)
		if !results[i].ShouldUpdate {
			elided++
		}
	}
	if len(records) > 0 {
		metrics.DecayWriteElisionRatio.Set(float64(elided) / float64(len(records)))
	}
	return results
}
