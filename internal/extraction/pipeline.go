// Package extraction implements PRIME: turning a raw message into
// zero or more candidate memory records via a single compact prompt, with
// model-tier selection and cost tracking.
package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentdock/memengine/internal/domain"
)

// Rule is one active extraction rule supplied by the caller.
type Rule struct {
	ID          string
	Description string
}

// RequestContext scopes one extraction call to a tenant and its active
// rule set.
type RequestContext struct {
	UserID              string
	AgentID             string
	UserRules           []Rule
	ImportanceThreshold float64
}

// Candidate is one extracted memory candidate, annotated with a chosen
// tier and importance.
type Candidate struct {
	Content    string
	Type       domain.MemoryType
	Importance float64
	Keywords   []string
}

// ExtractResponse is what an Extractor returns for one invocation.
type ExtractResponse struct {
	Candidates   []Candidate
	InputTokens  int
	OutputTokens int
}

// Extractor is the narrow model-calling collaborator Pipeline depends on.
// It is intentionally not part of domain's external collaborator set:
// this is an implementation-private seam.
type Extractor interface {
	Extract(ctx context.Context, prompt string, model string) (ExtractResponse, error)
}

// TierThresholds decide when the advanced model is auto-selected.
type TierThresholds struct {
	AdvancedMinChars int
	AdvancedMinRules int
}

func DefaultTierThresholds() TierThresholds {
	return TierThresholds{AdvancedMinChars: 800, AdvancedMinRules: 5}
}

const (
	ModelStandard = "standard"
	ModelAdvanced = "advanced"
)

// SelectTier picks "standard" or "advanced" for a message and its active
// rule count.
func SelectTier(messageLen, activeRules int, t TierThresholds) string {
	if messageLen > t.AdvancedMinChars || activeRules > t.AdvancedMinRules {
		return ModelAdvanced
	}
	return ModelStandard
}

// Config bounds the pipeline's prompt budget.
type Config struct {
	TierThresholds  TierThresholds
	MaxPromptTokens int // hard ceiling; must stay under this even at 8 rules
}

func DefaultConfig() Config {
	return Config{TierThresholds: DefaultTierThresholds(), MaxPromptTokens: 450}
}

// Pipeline turns a message into zero or more candidate memories using a
// single compact prompt.
type Pipeline struct {
	extractor Extractor
	tracker   domain.CostTracker
	cfg       Config
	logger    *zap.Logger
}

func NewPipeline(extractor Extractor, tracker domain.CostTracker, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{extractor: extractor, tracker: tracker, cfg: cfg, logger: logger}
}

// Extract builds the compact prompt, selects a model tier, invokes the
// extractor, and records cost. A classifier error is non-fatal: it
// yields zero candidates and a logged warning, so extraction never
// blocks the write path.
func (p *Pipeline) Extract(ctx context.Context, message string, rc RequestContext) []Candidate {
	model := SelectTier(len(message), len(rc.UserRules), p.cfg.TierThresholds)
	prompt := p.boundedPrompt(message, rc)

	resp, err := p.extractor.Extract(ctx, prompt, model)
	if err != nil {
		p.logger.Warn("extraction failed, yielding zero candidates",
			zap.String("agentId", rc.AgentID), zap.Error(err))
		return nil
	}

	if p.tracker != nil {
		p.tracker.TrackExtraction(ctx, domain.ExtractionCost{
			AgentID:      rc.AgentID,
			Extractor:    "prime",
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			Model:        model,
			At:           time.Now(),
		})
	}

	out := resp.Candidates[:0:0]
	for _, c := range resp.Candidates {
		if c.Importance < rc.ImportanceThreshold {
			continue
		}
		out = append(out, c)
	}
	return out
}

// boundedPrompt builds the compact prompt and enforces MaxPromptTokens:
// when the estimate exceeds the ceiling, the message is truncated by the
// overflow (rules and the output schema are never dropped, so an
// over-budget rule set degrades to an empty message rather than a
// missing schema).
func (p *Pipeline) boundedPrompt(message string, rc RequestContext) string {
	prompt := buildPrompt(message, rc)
	if p.cfg.MaxPromptTokens <= 0 {
		return prompt
	}
	overflow := EstimateTokens(prompt) - p.cfg.MaxPromptTokens
	if overflow <= 0 {
		return prompt
	}
	cut := overflow * 4
	if cut >= len(message) {
		cut = len(message)
	}
	trimmed := message[:len(message)-cut]
	p.logger.Warn("extraction prompt over token budget, truncating message",
		zap.Int("maxPromptTokens", p.cfg.MaxPromptTokens),
		zap.Int("droppedChars", cut))
	return buildPrompt(trimmed, rc)
}

// buildPrompt concatenates message, active rules, and the output schema
// into one compact template.
func buildPrompt(message string, rc RequestContext) string {
	var b strings.Builder
	b.WriteString("message: ")
	b.WriteString(message)
	if len(rc.UserRules) > 0 {
		b.WriteString("\nrules:")
		for _, r := range rc.UserRules {
			fmt.Fprintf(&b, "\n- %s: %s", r.ID, r.Description)
		}
	}
	b.WriteString("\noutput: {content, type ∈ {working,episodic,semantic,procedural}, importance ∈ [0,1], keywords[]}[]")
	return b.String()
}

// EstimateTokens approximates token count at 4 chars per token.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}
