package manager

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/agentdock/memengine/internal/domain"
)

// groupBySimilarity clusters records by lexical similarity. Greedy
// single-pass grouping: each ungrouped record seeds a new group and pulls
// in every remaining record whose similarity to the seed is at least
// threshold; members are not compared with each other.
func groupBySimilarity(records []domain.Record, threshold float64) [][]domain.Record {
	used := make([]bool, len(records))
	var groups [][]domain.Record

	for i := range records {
		if used[i] {
			continue
		}
		group := []domain.Record{records[i]}
		used[i] = true
		for j := i + 1; j < len(records); j++ {
			if used[j] {
				continue
			}
			if lexicalSimilarity(records[i].Content, records[j].Content) >= threshold {
				group = append(group, records[j])
				used[j] = true
			}
		}
		groups = append(groups, group)
	}
	return groups
}

var wordSplit = regexp.MustCompile(`\W+`)

// lexicalSimilarity is a bounded token-Jaccard index, standing in for an
// embedding-cosine comparison when no EmbeddingProvider is wired (the
// reference in-memory store does not require one).
func lexicalSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	union := make(map[string]bool, len(setA)+len(setB))
	for w := range setA {
		union[w] = true
	}
	for w := range setB {
		union[w] = true
		if setA[w] {
			inter++
		}
	}
	return float64(inter) / float64(len(union))
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range wordSplit.Split(strings.ToLower(s), -1) {
		if w != "" {
			out[w] = true
		}
	}
	return out
}

// mergeRecords folds a similarity group into one record:
// keywords unioned, content merged by sentence-deduplication, importance
// = min(1, 1.2·mean), createdAt = min, lastAccessedAt = max.
func mergeRecords(group []domain.Record) *domain.Record {
	first := group[0]
	merged := &domain.Record{
		ID:            domain.NewRecordID(),
		UserID:        first.UserID,
		AgentID:       first.AgentID,
		Type:          domain.TypeSemantic,
		Status:        domain.StatusActive,
		Resonance:     1.0,
		Reinforceable: true,
		Metadata:      map[string]any{"consolidatedFrom": ids(group)},
	}

	keywordSet := make(map[string]bool)
	var importanceSum float64
	sentences := make(map[string]bool)
	var orderedSentences []string

	for i, rec := range group {
		importanceSum += rec.Importance
		for _, kw := range rec.Keywords {
			keywordSet[kw] = true
		}
		for _, sentence := range splitSentences(rec.Content) {
			norm := strings.ToLower(strings.TrimSpace(sentence))
			if norm == "" || sentences[norm] {
				continue
			}
			sentences[norm] = true
			orderedSentences = append(orderedSentences, strings.TrimSpace(sentence))
		}
		if i == 0 || rec.CreatedAt.Before(merged.CreatedAt) {
			merged.CreatedAt = rec.CreatedAt
		}
		if rec.LastAccessedAt.After(merged.LastAccessedAt) {
			merged.LastAccessedAt = rec.LastAccessedAt
		}
	}

	merged.Content = strings.Join(orderedSentences, ". ")
	merged.Keywords = sortedKeys(keywordSet)
	merged.Importance = minFloat(1.0, 1.2*importanceSum/float64(len(group)))
	merged.UpdatedAt = time.Now()
	return merged
}

var sentenceSplit = regexp.MustCompile(`[.!?]+\s*`)

func splitSentences(s string) []string {
	parts := sentenceSplit.Split(s, -1)
	out := parts[:0:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

func ids(group []domain.Record) []string {
	out := make([]string, len(group))
	for i, r := range group {
		out[i] = r.ID
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
