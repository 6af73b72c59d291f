package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdock/memengine/internal/domain"
)

type mockFlusher struct {
	mu       sync.Mutex
	received [][]domain.MemoryUpdate
	failNext bool
}

func (m *mockFlusher) BatchUpdateMemories(ctx context.Context, updates []domain.MemoryUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return errors.New("simulated flush failure")
	}
	cp := append([]domain.MemoryUpdate(nil), updates...)
	m.received = append(m.received, cp)
	return nil
}

func (m *mockFlusher) all() []domain.MemoryUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.MemoryUpdate
	for _, batch := range m.received {
		out = append(out, batch...)
	}
	return out
}

func testConfig() Config {
	return Config{
		FlushInterval:     time.Hour, // disable ticker races in unit tests
		MaxBatchSize:      100,
		MaxPendingUpdates: 10000,
	}
}

func TestProcessor_MergeByMaxAccessCountAndLastWriterResonance(t *testing.T) {
	flusher := &mockFlusher{}
	p := NewProcessor(flusher, testConfig(), nil)
	defer p.Destroy(context.Background())

	p.Add(domain.MemoryUpdate{ID: "rec-1", Resonance: 1.0, AccessCount: 3, LastAccessedAt: 100})
	p.Add(domain.MemoryUpdate{ID: "rec-1", Resonance: 0.8, AccessCount: 2, LastAccessedAt: 200})

	require.Equal(t, 1, p.PendingCount())
	require.NoError(t, p.FlushNow(context.Background()))

	all := flusher.all()
	require.Len(t, all, 1)
	assert.Equal(t, 0.8, all[0].Resonance, "resonance is last-writer-wins")
	assert.Equal(t, 3, all[0].AccessCount, "accessCount is the max seen")
	assert.Equal(t, int64(200), all[0].LastAccessedAt, "lastAccessedAt is the max seen")
}

func TestProcessor_SizeTriggeredFlush(t *testing.T) {
	flusher := &mockFlusher{}
	cfg := testConfig()
	cfg.MaxBatchSize = 5
	p := NewProcessor(flusher, cfg, nil)
	defer p.Destroy(context.Background())

	for i := 0; i < 5; i++ {
		p.Add(domain.MemoryUpdate{ID: fmt.Sprintf("rec-%d", i), Resonance: 1.0})
	}

	require.Eventually(t, func() bool {
		return len(flusher.all()) == 5
	}, time.Second, 10*time.Millisecond)
}

func TestProcessor_BackPressureDropsNewUpdate(t *testing.T) {
	flusher := &mockFlusher{}
	cfg := testConfig()
	cfg.MaxPendingUpdates = 3
	p := NewProcessor(flusher, cfg, nil)
	defer p.Destroy(context.Background())

	p.Add(domain.MemoryUpdate{ID: "rec-1"})
	p.Add(domain.MemoryUpdate{ID: "rec-2"})
	p.Add(domain.MemoryUpdate{ID: "rec-3"})
	p.Add(domain.MemoryUpdate{ID: "rec-4"}) // pending is full; this one is dropped

	require.Equal(t, 3, p.PendingCount(), "pending must never grow past maxPendingUpdates")
	require.NoError(t, p.FlushNow(context.Background()))
	all := flusher.all()
	ids := make(map[string]bool)
	for _, u := range all {
		ids[u.ID] = true
	}
	assert.True(t, ids["rec-1"], "oldest pending update is kept")
	assert.True(t, ids["rec-2"])
	assert.True(t, ids["rec-3"])
	assert.False(t, ids["rec-4"], "new update must be dropped, not evict an existing one")
}

func TestProcessor_FailedFlushReinsertsUpdates(t *testing.T) {
	flusher := &mockFlusher{failNext: true}
	p := NewProcessor(flusher, testConfig(), nil)
	defer p.Destroy(context.Background())

	p.Add(domain.MemoryUpdate{ID: "rec-1", Resonance: 1.0})
	err := p.FlushNow(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, p.PendingCount(), "a failed flush must re-queue its updates")

	require.NoError(t, p.FlushNow(context.Background()))
	assert.Equal(t, 0, p.PendingCount())
}

func TestProcessor_AddAfterDestroyIsDropped(t *testing.T) {
	flusher := &mockFlusher{}
	p := NewProcessor(flusher, testConfig(), nil)
	require.NoError(t, p.Destroy(context.Background()))

	p.Add(domain.MemoryUpdate{ID: "rec-1"})
	assert.Equal(t, 0, p.PendingCount(), "a destroyed processor drops new updates")
}

func TestProcessor_DestroyFlushesAndEmptiesPending(t *testing.T) {
	flusher := &mockFlusher{}
	p := NewProcessor(flusher, testConfig(), nil)

	p.Add(domain.MemoryUpdate{ID: "rec-1"})
	p.Add(domain.MemoryUpdate{ID: "rec-2"})

	require.NoError(t, p.Destroy(context.Background()))
	assert.Equal(t, 0, p.PendingCount())
	assert.Len(t, flusher.all(), 2)
}
