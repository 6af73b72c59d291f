package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdock/memengine/internal/domain"
	"github.com/agentdock/memengine/internal/lifecycle"
)

func TestManager_RunMaintenanceCycle_PromotesEligibleEpisodic(t *testing.T) {
	store := newFakeStore()
	m := New(store, nil, nil, nil, DefaultConfig(), nil)
	engine := lifecycle.NewEngine(lifecycle.DefaultConfig(), nil)

	id := domain.NewRecordID()
	store.records[id] = &domain.Record{
		ID: id, UserID: "u", AgentID: "a", Type: domain.TypeEpisodic,
		Content: "recurring preference", Importance: 0.8, Resonance: 1.0,
		AccessCount: 5, Status: domain.StatusActive,
		CreatedAt: time.Now().Add(-30 * 24 * time.Hour),
		UpdatedAt: time.Now().Add(-30 * 24 * time.Hour), LastAccessedAt: time.Now(),
	}

	result, err := m.RunMaintenanceCycle(context.Background(), "u", "a", engine)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Promoted)

	var sawSemantic, sawOriginal bool
	for _, rec := range store.records {
		switch {
		case rec.Type == domain.TypeSemantic:
			sawSemantic = true
		case rec.ID == id:
			sawOriginal = true
			assert.Equal(t, domain.StatusActive, rec.Status, "PreserveOriginal defaults true")
		}
	}
	assert.True(t, sawSemantic, "expected a promoted semantic record")
	assert.True(t, sawOriginal, "original episodic record should survive when PreserveOriginal is true")
}

func TestManager_RunMaintenanceCycle_AppliesDecayRules(t *testing.T) {
	store := newFakeStore()
	m := New(store, nil, nil, nil, DefaultConfig(), nil)
	cfg := lifecycle.DefaultConfig()
	cfg.Decay.Rules = []lifecycle.DecayRule{
		{ID: "slow-important", ConditionExpr: `importance >= 0.8`, DecayRate: 0.01, Enabled: true},
		{ID: "pin-identity", ConditionExpr: `keywords.includes("identity")`, NeverDecay: true, Enabled: true},
	}
	engine := lifecycle.NewEngine(cfg, nil)

	now := time.Now()
	importantID, pinnedID := domain.NewRecordID(), domain.NewRecordID()
	store.records[importantID] = &domain.Record{
		ID: importantID, UserID: "u", AgentID: "a", Type: domain.TypeSemantic,
		Content: "core preference", Importance: 0.9, Resonance: 1.0,
		Status: domain.StatusActive, CreatedAt: now, UpdatedAt: now, LastAccessedAt: now,
	}
	store.records[pinnedID] = &domain.Record{
		ID: pinnedID, UserID: "u", AgentID: "a", Type: domain.TypeSemantic,
		Content: "user's name", Keywords: []string{"identity"}, Importance: 0.5, Resonance: 1.0,
		Status: domain.StatusActive, CreatedAt: now, UpdatedAt: now, LastAccessedAt: now,
	}

	result, err := m.RunMaintenanceCycle(context.Background(), "u", "a", engine)
	require.NoError(t, err)
	assert.Equal(t, 2, result.RulesApplied)
	assert.InDelta(t, lifecycle.DecayRateToHalfLifeDays(0.01), store.records[importantID].CustomHalfLifeDays, 1e-9,
		"a matching rule's decayRate must be persisted as half-life days")
	assert.True(t, store.records[pinnedID].NeverDecay, "a neverDecay rule must pin the record")
}

func TestManager_RunMaintenanceCycle_ArchivesLowResonance(t *testing.T) {
	store := newFakeStore()
	m := New(store, nil, nil, nil, DefaultConfig(), nil)
	engine := lifecycle.NewEngine(lifecycle.DefaultConfig(), nil)

	id := domain.NewRecordID()
	now := time.Now()
	store.records[id] = &domain.Record{
		ID: id, UserID: "u", AgentID: "a", Type: domain.TypeEpisodic,
		Content: "stale aside", Importance: 0.1, Resonance: 0.01,
		Status: domain.StatusActive, CreatedAt: now, UpdatedAt: now, LastAccessedAt: now,
	}

	result, err := m.RunMaintenanceCycle(context.Background(), "u", "a", engine)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Archived)
	assert.Equal(t, domain.StatusArchived, store.records[id].Status)
}

func TestManager_RunMaintenanceCycle_DeletesWhenArchiveDisabled(t *testing.T) {
	store := newFakeStore()
	m := New(store, nil, nil, nil, DefaultConfig(), nil)
	cfg := lifecycle.DefaultConfig()
	cfg.Cleanup.ArchiveEnabled = false
	engine := lifecycle.NewEngine(cfg, nil)

	id := domain.NewRecordID()
	now := time.Now()
	store.records[id] = &domain.Record{
		ID: id, UserID: "u", AgentID: "a", Type: domain.TypeEpisodic,
		Content: "dead weight", Importance: 0.1, Resonance: 0.01,
		Status: domain.StatusActive, CreatedAt: now, UpdatedAt: now, LastAccessedAt: now,
	}

	result, err := m.RunMaintenanceCycle(context.Background(), "u", "a", engine)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
	_, ok := store.records[id]
	assert.False(t, ok)
}

func TestManager_RunMaintenanceCycle_DeletesExpiredArchive(t *testing.T) {
	store := newFakeStore()
	m := New(store, nil, nil, nil, DefaultConfig(), nil)
	cfg := lifecycle.DefaultConfig()
	cfg.Cleanup.ArchiveTTLSeconds = 60
	engine := lifecycle.NewEngine(cfg, nil)

	id := domain.NewRecordID()
	now := time.Now()
	store.records[id] = &domain.Record{
		ID: id, UserID: "u", AgentID: "a", Type: domain.TypeEpisodic,
		Content: "long gone", Importance: 0.1, Resonance: 0.01,
		Status: domain.StatusArchived, CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-2 * time.Minute), LastAccessedAt: now,
	}

	result, err := m.RunMaintenanceCycle(context.Background(), "u", "a", engine)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
	_, ok := store.records[id]
	assert.False(t, ok)
}

func TestManager_RunMaintenanceCycle_KeepsArchiveWithinTTL(t *testing.T) {
	store := newFakeStore()
	m := New(store, nil, nil, nil, DefaultConfig(), nil)
	cfg := lifecycle.DefaultConfig()
	cfg.Cleanup.ArchiveTTLSeconds = 3600
	engine := lifecycle.NewEngine(cfg, nil)

	id := domain.NewRecordID()
	now := time.Now()
	store.records[id] = &domain.Record{
		ID: id, UserID: "u", AgentID: "a", Type: domain.TypeEpisodic,
		Content: "recently archived", Importance: 0.1, Resonance: 0.01,
		Status: domain.StatusArchived, CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Minute), LastAccessedAt: now,
	}

	result, err := m.RunMaintenanceCycle(context.Background(), "u", "a", engine)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Deleted)
	_, ok := store.records[id]
	assert.True(t, ok, "archived record within TTL should survive")
}

func TestManager_RunMaintenanceCycle_EvictsOverflow(t *testing.T) {
	store := newFakeStore()
	m := New(store, nil, nil, nil, DefaultConfig(), nil)
	cfg := lifecycle.DefaultConfig()
	cfg.Cleanup.MaxMemoriesPerAgent = 1
	engine := lifecycle.NewEngine(cfg, nil)

	now := time.Now()
	lowID, highID := domain.NewRecordID(), domain.NewRecordID()
	store.records[lowID] = &domain.Record{
		ID: lowID, UserID: "u", AgentID: "a", Type: domain.TypeSemantic,
		Content: "low", Importance: 0.5, Resonance: 0.2,
		Status: domain.StatusActive, CreatedAt: now, UpdatedAt: now, LastAccessedAt: now,
	}
	store.records[highID] = &domain.Record{
		ID: highID, UserID: "u", AgentID: "a", Type: domain.TypeSemantic,
		Content: "high", Importance: 0.5, Resonance: 0.9,
		Status: domain.StatusActive, CreatedAt: now, UpdatedAt: now, LastAccessedAt: now,
	}

	result, err := m.RunMaintenanceCycle(context.Background(), "u", "a", engine)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Evicted)
	_, lowSurvived := store.records[lowID]
	_, highSurvived := store.records[highID]
	assert.False(t, lowSurvived, "lowest-resonance record should be evicted first")
	assert.True(t, highSurvived)
}

func TestManager_RunMaintenanceCycle_ValidatesEmptyIDs(t *testing.T) {
	m := New(newFakeStore(), nil, nil, nil, DefaultConfig(), nil)
	_, err := m.RunMaintenanceCycle(context.Background(), "", "a", lifecycle.NewEngine(lifecycle.DefaultConfig(), nil))
	require.Error(t, err)
}
