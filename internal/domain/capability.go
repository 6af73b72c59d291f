package domain

import (
	"context"
	"time"
)

// EmbeddingProvider is a narrow external collaborator. Its absence downgrades the engine to text-only recall —
// callers must tolerate a nil EmbeddingProvider everywhere.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// ClassifyResult is the output of Classifier.Classify.
type ClassifyResult struct {
	Type     ConnectionType
	Strength float64
	Reason   string
}

// Classifier decides a connection's type when cheap triage (cosine
// similarity thresholds) is inconclusive. A classifier
// failure is local: the connection is simply skipped.
type Classifier interface {
	Classify(ctx context.Context, sourceText, targetText string, candidateTypes []ConnectionType) (ClassifyResult, error)
}

// ExtractionCost is one recorded extraction invocation.
type ExtractionCost struct {
	AgentID      string
	Extractor    string
	InputTokens  int
	OutputTokens int
	Model        string
	Cost         float64
	At           time.Time
}

// CostSummary aggregates tracked extraction cost over a window.
type CostSummary struct {
	TotalCost    float64
	InputTokens  int
	OutputTokens int
	Invocations  int
}

// CostTracker is the narrow external collaborator for extraction cost
// accounting.
type CostTracker interface {
	TrackExtraction(ctx context.Context, c ExtractionCost)
	GetCostSummary(ctx context.Context, agentID string, window time.Duration) CostSummary
}
