package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdock/memengine/internal/domain"
)

func TestStore_KVRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", []byte("v1"), nil))
	v, ok, err := s.Get(ctx, "k1", nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	require.NoError(t, s.Delete(ctx, "k1", ""))
	_, ok, err = s.Get(ctx, "k1", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_SetRespectsTTL(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", []byte("v1"), &domain.SetOptions{TTLSeconds: 1}))
	_, ok, err := s.Get(ctx, "k1", nil)
	require.NoError(t, err)
	require.True(t, ok, "entry should still be visible before TTL expiry")

	// Directly rewrite the entry with an already-elapsed expiry to avoid a
	// real sleep in the test.
	s.mu.Lock()
	e := s.kv["default"]["k1"]
	e.expiresAt = time.Now().Add(-time.Second)
	s.kv["default"]["k1"] = e
	s.mu.Unlock()

	_, ok, err = s.Get(ctx, "k1", nil)
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must not be returned")
}

func TestStore_ListRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.SaveList(ctx, "recent", []string{"a", "b", "c"}, ""))
	got, err := s.GetList(ctx, "recent", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)

	require.NoError(t, s.DeleteList(ctx, "recent", ""))
	got, err = s.GetList(ctx, "recent", "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_StoreAndGetByID(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.StoreRecord(ctx, &domain.Record{UserID: "u", AgentID: "a", Type: domain.TypeEpisodic, Content: "hello"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := s.GetRecordByID(ctx, "u", id)
	require.NoError(t, err)
	assert.Equal(t, "hello", rec.Content)

	_, err = s.GetRecordByID(ctx, "someone-else", id)
	assert.Error(t, err, "cross-tenant getById must fail")
}

func TestStore_RecallIsTenantIsolated(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.StoreRecord(ctx, &domain.Record{UserID: "alice", AgentID: "a", Type: domain.TypeEpisodic, Content: "alpha"})
	require.NoError(t, err)
	_, err = s.StoreRecord(ctx, &domain.Record{UserID: "bob", AgentID: "a", Type: domain.TypeEpisodic, Content: "beta"})
	require.NoError(t, err)

	results, err := s.RecallRecords(ctx, "alice", "a", "beta", domain.RecallQuery{})
	require.NoError(t, err)
	assert.Empty(t, results, "alice must never see bob's record even by content match")
}

func TestStore_CreateConnectionsRejectsCrossTenantEdges(t *testing.T) {
	s := New()
	ctx := context.Background()

	srcID, _ := s.StoreRecord(ctx, &domain.Record{UserID: "alice", AgentID: "a", Type: domain.TypeEpisodic, Content: "alpha"})
	dstID, _ := s.StoreRecord(ctx, &domain.Record{UserID: "bob", AgentID: "a", Type: domain.TypeEpisodic, Content: "beta"})

	err := s.CreateConnections(ctx, "alice", []domain.Connection{
		{SourceMemoryID: srcID, TargetMemoryID: dstID, ConnectionType: domain.ConnRelated},
	})
	assert.Error(t, err, "an edge spanning two tenants must be rejected")
}

func TestStore_CreateConnectionsUpsertsOnSourceTargetType(t *testing.T) {
	s := New()
	ctx := context.Background()

	srcID, _ := s.StoreRecord(ctx, &domain.Record{UserID: "u", AgentID: "a", Type: domain.TypeEpisodic, Content: "one"})
	dstID, _ := s.StoreRecord(ctx, &domain.Record{UserID: "u", AgentID: "a", Type: domain.TypeEpisodic, Content: "two"})

	require.NoError(t, s.CreateConnections(ctx, "u", []domain.Connection{
		{SourceMemoryID: srcID, TargetMemoryID: dstID, ConnectionType: domain.ConnSimilar, Strength: 0.5, Reason: "first"},
	}))
	require.NoError(t, s.CreateConnections(ctx, "u", []domain.Connection{
		{SourceMemoryID: srcID, TargetMemoryID: dstID, ConnectionType: domain.ConnSimilar, Strength: 0.9, Reason: "second"},
	}))

	s.mu.RLock()
	defer s.mu.RUnlock()
	require.Len(t, s.connections, 1, "same (source, target, type) must upsert, not accumulate")
	assert.Equal(t, 0.9, s.connections[0].Strength)
	assert.Equal(t, "second", s.connections[0].Reason)
}

func TestStore_FindConnectedMemoriesDepthZeroReturnsSeedOnly(t *testing.T) {
	s := New()
	ctx := context.Background()

	srcID, _ := s.StoreRecord(ctx, &domain.Record{UserID: "u", AgentID: "a", Type: domain.TypeEpisodic, Content: "seed"})
	dstID, _ := s.StoreRecord(ctx, &domain.Record{UserID: "u", AgentID: "a", Type: domain.TypeEpisodic, Content: "neighbor"})
	require.NoError(t, s.CreateConnections(ctx, "u", []domain.Connection{
		{SourceMemoryID: srcID, TargetMemoryID: dstID, ConnectionType: domain.ConnRelated},
	}))

	result, err := s.FindConnectedMemories(ctx, "u", srcID, 0)
	require.NoError(t, err)
	require.Len(t, result.Memories, 1)
	assert.Equal(t, srcID, result.Memories[0].ID)
	assert.Empty(t, result.Connections)
}

func TestStore_FindConnectedMemoriesTraversesHopsAndIsTenantSafe(t *testing.T) {
	s := New()
	ctx := context.Background()

	a, _ := s.StoreRecord(ctx, &domain.Record{UserID: "u", AgentID: "a", Type: domain.TypeEpisodic, Content: "a"})
	b, _ := s.StoreRecord(ctx, &domain.Record{UserID: "u", AgentID: "a", Type: domain.TypeEpisodic, Content: "b"})
	c, _ := s.StoreRecord(ctx, &domain.Record{UserID: "u", AgentID: "a", Type: domain.TypeEpisodic, Content: "c"})
	other, _ := s.StoreRecord(ctx, &domain.Record{UserID: "stranger", AgentID: "a", Type: domain.TypeEpisodic, Content: "x"})

	require.NoError(t, s.CreateConnections(ctx, "u", []domain.Connection{
		{SourceMemoryID: a, TargetMemoryID: b, ConnectionType: domain.ConnRelated},
		{SourceMemoryID: b, TargetMemoryID: c, ConnectionType: domain.ConnRelated},
	}))

	result, err := s.FindConnectedMemories(ctx, "u", a, 2)
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, m := range result.Memories {
		ids[m.ID] = true
	}
	assert.True(t, ids[a])
	assert.True(t, ids[b])
	assert.True(t, ids[c])
	assert.False(t, ids[other], "traversal must never leak another tenant's record")
	assert.Len(t, result.Connections, 2)
}

func TestStore_BatchUpdateMemoriesAppliesAtomically(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, _ := s.StoreRecord(ctx, &domain.Record{UserID: "u", AgentID: "a", Type: domain.TypeEpisodic, Content: "c", Resonance: 1.0})

	require.NoError(t, s.BatchUpdateMemories(ctx, []domain.MemoryUpdate{
		{ID: id, Resonance: 0.5, AccessCount: 3, LastAccessedAt: 1000},
	}))

	rec, err := s.GetRecordByID(ctx, "u", id)
	require.NoError(t, err)
	assert.Equal(t, 0.5, rec.Resonance)
	assert.Equal(t, 3, rec.AccessCount)
}
