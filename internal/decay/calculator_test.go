package decay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdock/memengine/internal/domain"
)

func testRecord(resonance float64, lastAccessed, updated time.Time) domain.Record {
	return domain.Record{
		ID:             "rec-1",
		UserID:         "user-1",
		AgentID:        "agent-1",
		Type:           domain.TypeEpisodic,
		Status:         domain.StatusActive,
		Resonance:      resonance,
		Reinforceable:  true,
		LastAccessedAt: lastAccessed,
		UpdatedAt:      updated,
		CreatedAt:      updated,
	}
}

func TestCalculate_MonotonicDecay(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()
	rec := testRecord(1.0, now.Add(-40*24*time.Hour), now.Add(-40*24*time.Hour))

	r1 := Calculate(rec, now, cfg)
	require.True(t, r1.ShouldUpdate)
	assert.Less(t, r1.NewResonance, rec.Resonance)

	rec.Resonance = r1.NewResonance
	rec.LastAccessedAt = now.Add(-80 * 24 * time.Hour)
	rec.UpdatedAt = now.Add(-80 * 24 * time.Hour)
	r2 := Calculate(rec, now, cfg)
	assert.Less(t, r2.NewResonance, r1.NewResonance, "resonance must monotonically decrease with elapsed time")
}

func TestCalculate_NeverDecayFloor(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()
	rec := testRecord(0.5, now.Add(-10000*24*time.Hour), now.Add(-10000*24*time.Hour))
	rec.NeverDecay = true

	r := Calculate(rec, now, cfg)
	assert.Equal(t, ReasonNeverDecay, r.Reason)
	assert.Equal(t, rec.Resonance, r.NewResonance, "neverDecay records must not decay regardless of elapsed time")
}

func TestCalculate_ArchivedSkipped(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()
	rec := testRecord(1.0, now.Add(-100*24*time.Hour), now.Add(-100*24*time.Hour))
	rec.Status = domain.StatusArchived

	r := Calculate(rec, now, cfg)
	assert.Equal(t, ReasonArchived, r.Reason)
	assert.False(t, r.ShouldUpdate)
}

func TestCalculate_TooRecentElided(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()
	rec := testRecord(1.0, now.Add(-1*time.Hour), now.Add(-1*time.Hour))

	r := Calculate(rec, now, cfg)
	assert.Equal(t, ReasonTooRecent, r.Reason)
	assert.False(t, r.ShouldUpdate)
}

func TestCalculate_LazyDecayElision_1000Records(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()

	records := make([]domain.Record, 1000)
	for i := range records {
		// Half were touched seconds ago (within MinUpdateInterval), half
		// weeks ago — only the latter should produce a write.
		if i%2 == 0 {
			records[i] = testRecord(1.0, now.Add(-1*time.Minute), now.Add(-1*time.Minute))
		} else {
			records[i] = testRecord(1.0, now.Add(-60*24*time.Hour), now.Add(-60*24*time.Hour))
		}
	}

	results := CalculateBatch(records, now, cfg)
	updates := 0
	for _, r := range results {
		if r.ShouldUpdate {
			updates++
		}
	}
	assert.Equal(t, 500, updates, "only stale-enough records should trigger a write")
}

func TestCalculate_TemporalBurstExtendsHalfLife(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()
	elapsed := 40 * 24 * time.Hour

	plain := testRecord(1.0, now.Add(-elapsed), now.Add(-elapsed))
	burst := plain
	burst.Metadata = map[string]any{
		"temporalInsights": map[string]any{
			"patterns": []any{
				map[string]any{"kind": "burst", "confidence": 0.9},
			},
		},
	}

	rPlain := Calculate(plain, now, cfg)
	rBurst := Calculate(burst, now, cfg)
	assert.Greater(t, rBurst.NewResonance, rPlain.NewResonance, "a burst pattern should decay slower than the baseline")
}

func TestShouldArchive(t *testing.T) {
	cfg := DefaultConfig()
	rec := testRecord(0.05, time.Now(), time.Now())
	assert.True(t, ShouldArchive(rec, cfg))

	rec.NeverDecay = true
	assert.False(t, ShouldArchive(rec, cfg), "neverDecay records are never archived")
}

func TestCalculate_ReinforcementRequiresAccessThreshold(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()
	rec := testRecord(1.0, now.Add(-40*24*time.Hour), now.Add(-40*24*time.Hour))
	rec.AccessCount = cfg.AccessCountThreshold - 1

	r := Calculate(rec, now, cfg)
	assert.False(t, r.ReinforcementApplied)

	rec.AccessCount = cfg.AccessCountThreshold + 1
	r2 := Calculate(rec, now, cfg)
	assert.True(t, r2.ReinforcementApplied)
}
