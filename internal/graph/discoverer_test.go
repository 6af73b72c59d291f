package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdock/memengine/internal/domain"
)

type fakeFetcher struct {
	records []domain.Record
}

func (f *fakeFetcher) RecallRecords(ctx context.Context, userID, agentID, query string, q domain.RecallQuery) ([]domain.Record, error) {
	return f.records, nil
}

type fakeWriter struct {
	userID string
	edges  []domain.Connection
}

func (w *fakeWriter) CreateConnections(ctx context.Context, userID string, edges []domain.Connection) error {
	w.userID = userID
	w.edges = append(w.edges, edges...)
	return nil
}

type fakeClassifier struct {
	result domain.ClassifyResult
	calls  int
}

func (c *fakeClassifier) Classify(ctx context.Context, sourceText, targetText string, candidates []domain.ConnectionType) (domain.ClassifyResult, error) {
	c.calls++
	return c.result, nil
}

func rec(id, content string, keywords []string) domain.Record {
	return domain.Record{ID: id, UserID: "user-1", AgentID: "agent-1", Content: content, Keywords: keywords, CreatedAt: time.Now()}
}

func TestDiscoverer_ThreeTierTriage(t *testing.T) {
	// Keyword overlap drives the triage score when no embeddings are
	// present: 3/3 = 1.0 (similar band), 2/3 ≈ 0.67 (related band),
	// 1/3 ≈ 0.33 (classifier band).
	source := rec("source", "Python is a programming language", []string{"python", "programming", "language"})
	simCandidate := rec("sim", "Python is a high-level programming language", []string{"python", "programming", "language"})
	relatedCandidate := rec("related", "Programming in Python daily", []string{"python", "programming"})
	classifierCandidate := rec("classified", "Learning Python led me to become a developer", []string{"python"})

	fetcher := &fakeFetcher{records: []domain.Record{source, simCandidate, relatedCandidate, classifierCandidate}}
	writer := &fakeWriter{}
	classifier := &fakeClassifier{result: domain.ClassifyResult{Type: domain.ConnCauses, Strength: 0.5, Reason: "inferred"}}

	cfg := DefaultConfig()
	d := NewDiscoverer(fetcher, writer, classifier, cfg, nil)
	d.OnMemoryWritten(context.Background(), source)

	byTarget := make(map[string]domain.Connection)
	for _, e := range writer.edges {
		byTarget[e.TargetMemoryID] = e
	}

	require.Contains(t, byTarget, "sim")
	assert.Equal(t, domain.ConnSimilar, byTarget["sim"].ConnectionType)

	require.Contains(t, byTarget, "related")
	assert.Equal(t, domain.ConnRelated, byTarget["related"].ConnectionType)

	require.Contains(t, byTarget, "classified")
	assert.Equal(t, domain.ConnCauses, byTarget["classified"].ConnectionType)
	assert.Equal(t, 1, classifier.calls)
}

func TestDiscoverer_AutoSimilarInclusiveBoundary(t *testing.T) {
	source := rec("source", "", nil)
	source.Embedding = []float32{1, 0, 0}
	candidate := rec("cand", "", nil)
	// Construct an embedding at exactly cosine similarity 0.8 isn't trivial
	// by hand; instead verify the inclusive operator directly via triage.
	d := NewDiscoverer(&fakeFetcher{}, &fakeWriter{}, nil, DefaultConfig(), nil)
	edge, ok := d.triage(context.Background(), source, candidate, 0.8, new(int))
	require.True(t, ok)
	assert.Equal(t, domain.ConnSimilar, edge.ConnectionType)
}

func TestDiscoverer_BelowLLMRequiredCreatesNoEdge(t *testing.T) {
	source := rec("source", "", nil)
	candidate := rec("cand", "", nil)
	d := NewDiscoverer(&fakeFetcher{}, &fakeWriter{}, nil, DefaultConfig(), nil)
	_, ok := d.triage(context.Background(), source, candidate, 0.1, new(int))
	assert.False(t, ok)
}

func TestDiscoverer_NilClassifierSkipsLLMBand(t *testing.T) {
	source := rec("source", "", nil)
	candidate := rec("cand", "", nil)
	d := NewDiscoverer(&fakeFetcher{}, &fakeWriter{}, nil, DefaultConfig(), nil)
	_, ok := d.triage(context.Background(), source, candidate, 0.4, new(int))
	assert.False(t, ok, "absent classifier must not error, just skip the edge")
}

func TestDiscoverer_RespectsMaxLLMCallsPerBatch(t *testing.T) {
	classifier := &fakeClassifier{result: domain.ClassifyResult{Type: domain.ConnRelated, Strength: 0.4}}
	cfg := DefaultConfig()
	cfg.MaxLLMCallsPerBatch = 1
	d := NewDiscoverer(&fakeFetcher{}, &fakeWriter{}, classifier, cfg, nil)

	source := rec("source", "", nil)
	calls := new(int)
	_, ok1 := d.triage(context.Background(), source, rec("c1", "", nil), 0.4, calls)
	require.True(t, ok1)
	_, ok2 := d.triage(context.Background(), source, rec("c2", "", nil), 0.4, calls)
	assert.False(t, ok2, "a second classifier call within the same batch must be refused")
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
}

func TestJaccard(t *testing.T) {
	assert.InDelta(t, 1.0/3, jaccard([]string{"a", "b"}, []string{"b", "c"}), 1e-9)
	assert.Equal(t, 0.0, jaccard(nil, []string{"a"}))
}
