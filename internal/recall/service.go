// Package recall implements the hybrid recall service. It fans out
// across memory tiers, applies lazy decay per candidate, fuses four
// ranking signals, optionally expands through the connection graph, and
// caches results coherently with writes.
package recall

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/agentdock/memengine/internal/decay"
	"github.com/agentdock/memengine/internal/domain"
	"github.com/agentdock/memengine/internal/graph"
	"github.com/agentdock/memengine/internal/metrics"
)

// Enqueuer is the narrow batch-processor collaborator: lazily-decayed
// candidates whose resonance changed enough to matter get pushed here
// instead of written synchronously.
type Enqueuer interface {
	Add(update domain.MemoryUpdate)
}

// Store is the narrow storage capability the service depends on.
type Store interface {
	RecallRecords(ctx context.Context, userID, agentID, query string, q domain.RecallQuery) ([]domain.Record, error)
}

// Embedder is used to embed the query when a vector capability is
// present; absence downgrades to text-only recall.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options shapes one recall request.
type Options struct {
	MemoryTypes           []domain.MemoryType
	Limit                 int
	UseConnections        bool
	ConnectionHops        int
	BoostCentralMemories  bool
	MinRelevanceThreshold float64
	Weights               Weights
	CentralityAlpha       float64
}

const overshoot = 3

// DefaultOptions fills in the engine defaults.
func DefaultOptions() Options {
	return Options{
		MemoryTypes:     domain.AllMemoryTypes(),
		Limit:           10,
		ConnectionHops:  1,
		Weights:         DefaultWeights(),
		CentralityAlpha: 0.3,
	}
}

// Scored is one ranked recall result.
type Scored struct {
	Record       domain.Record
	Score        float64
	ConnectionOf string // set when this record arrived via connection expansion
}

// Service is the hybrid recall pipeline.
type Service struct {
	store     Store
	embedder  Embedder
	enqueuer  Enqueuer
	traversal *graph.Traversal
	decayCfg  decay.Config
	cache     *Cache
	logger    *zap.Logger
}

// New constructs a recall Service. embedder, traversal, enqueuer and cache
// may all be nil: a nil embedder downgrades to text-only recall, a nil
// traversal disables connection expansion, a nil enqueuer means lazy
// decay results are used for ranking but never written back, and a nil cache disables
// caching entirely.
func New(store Store, embedder Embedder, enqueuer Enqueuer, traversal *graph.Traversal, decayCfg decay.Config, cache *Cache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, embedder: embedder, enqueuer: enqueuer, traversal: traversal, decayCfg: decayCfg, cache: cache, logger: logger}
}

// InvalidateCache bumps the result cache's generation for (userID,
// agentID), making every entry cached for that tenant before this call an
// implicit miss. Callers invoke this after any store/update/delete so
// the optional cache stays coherent with writes. A no-op when caching is disabled or the Service itself is nil (Manager's
// recall dependency is optional in tests that don't exercise recall).
func (s *Service) InvalidateCache(userID, agentID string) {
	if s == nil || s.cache == nil {
		return
	}
	s.cache.Invalidate(userID, agentID)
}

// Recall runs the full hybrid pipeline: fan-out, lazy decay, signal
// fusion, optional connection expansion, filter and truncate.
func (s *Service) Recall(ctx context.Context, userID, agentID, query string, opts Options) ([]Scored, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultOptions().Limit
	}
	if len(opts.MemoryTypes) == 0 {
		opts.MemoryTypes = domain.AllMemoryTypes()
	}
	if opts.Weights == (Weights{}) {
		opts.Weights = DefaultWeights()
	}

	if s.cache != nil {
		key := newCacheKey(userID, agentID, query, opts)
		if ids, ok := s.cache.Get(key); ok {
			metrics.RecallCacheHits.Inc()
			return s.hydrateFromIDs(ctx, userID, agentID, query, ids, opts)
		}
		metrics.RecallCacheMisses.Inc()
	}

	candidates, err := s.fanOut(ctx, userID, agentID, query, opts)
	if err != nil {
		return nil, err
	}

	var queryEmbedding []float32
	if s.embedder != nil {
		if emb, embErr := s.embedder.Embed(ctx, query); embErr == nil {
			queryEmbedding = emb
		}
	}

	now := time.Now()
	scored := s.scoreCandidates(candidates, query, queryEmbedding, now, opts, "")

	if opts.UseConnections && s.traversal != nil {
		scored = s.expandConnections(ctx, userID, scored, query, queryEmbedding, now, opts)
	}

	if opts.BoostCentralMemories {
		s.applyCentralityBoost(ctx, userID, scored, opts)
	}

	results := filterSortTruncate(scored, opts)

	if s.cache != nil {
		ids := make([]string, len(results))
		for i, r := range results {
			ids[i] = r.Record.ID
		}
		s.cache.Put(newCacheKey(userID, agentID, query, opts), ids)
	}

	return results, nil
}

func (s *Service) fanOut(ctx context.Context, userID, agentID, query string, opts Options) ([]domain.Record, error) {
	limit := opts.Limit * overshoot
	var all []domain.Record
	for _, t := range opts.MemoryTypes {
		tt := t
		recs, err := s.store.RecallRecords(ctx, userID, agentID, query, domain.RecallQuery{Type: &tt, Limit: limit})
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}
	return all, nil
}

// scoreCandidates applies lazy decay, computes signals, and fuses a score
// for each candidate. connectionOf tags results that arrived via
// connection expansion with their seed's id.
func (s *Service) scoreCandidates(candidates []domain.Record, query string, queryEmbedding []float32, now time.Time, opts Options, connectionOf string) []Scored {
	out := make([]Scored, 0, len(candidates))
	for _, rec := range candidates {
		result := decay.Calculate(rec, now, s.decayCfg)
		rec.Resonance = result.NewResonance
		if result.ShouldUpdate && s.enqueuer != nil {
			s.enqueuer.Add(domain.MemoryUpdate{
				ID:             rec.ID,
				Resonance:      result.NewResonance,
				LastAccessedAt: now.UnixMilli(),
				AccessCount:    rec.AccessCount + 1,
			})
		}

		signals := Signals{
			Vector:   vectorSignal(queryEmbedding, rec.Embedding),
			Text:     textSignal(query, rec.Content),
			Temporal: temporalSignal(now, rec.LastAccessedAt, rec.Type),
		}
		if rec.Type == domain.TypeProcedural {
			if stats, ok := proceduralStatsFromMetadata(rec.Metadata); ok {
				signals.Procedural = proceduralSignal(stats)
			}
		}

		score := Fuse(signals, opts.Weights, rec, 0, false, 0)
		out = append(out, Scored{Record: rec, Score: score, ConnectionOf: connectionOf})
	}
	return out
}

// applyCentralityBoost multiplies each candidate's fused score by
// 1 + α·centrality_normalized. Raw centrality is log(1 + inDegree +
// outDegree) over the record's immediate edges, read from metadata when a
// prior pass already stamped it, else derived from a depth-1 graph
// lookup. Normalization is over the current candidate set, so α bounds
// the strongest boost regardless of absolute degree.
func (s *Service) applyCentralityBoost(ctx context.Context, userID string, scored []Scored, opts Options) {
	if len(scored) == 0 {
		return
	}
	raw := make([]float64, len(scored))
	maxRaw := 0.0
	for i, sc := range scored {
		c := centralityFromMetadata(sc.Record.Metadata)
		if c == 0 && s.traversal != nil {
			c = s.liveCentrality(ctx, userID, sc.Record.ID)
		}
		raw[i] = c
		if c > maxRaw {
			maxRaw = c
		}
	}
	if maxRaw == 0 {
		return
	}

	alpha := opts.CentralityAlpha
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 0.5 {
		alpha = 0.5
	}
	for i := range scored {
		if scored[i].Record.Metadata == nil {
			scored[i].Record.Metadata = map[string]any{}
		}
		scored[i].Record.Metadata["centrality"] = raw[i]
		scored[i].Score *= 1 + alpha*(raw[i]/maxRaw)
	}
}

// liveCentrality counts the record's in/out edges one hop out.
func (s *Service) liveCentrality(ctx context.Context, userID, id string) float64 {
	result, err := s.traversal.FindConnected(ctx, userID, id, 1)
	if err != nil {
		s.logger.Debug("centrality lookup failed", zap.Error(err))
		return 0
	}
	var in, out int
	for _, e := range result.Connections {
		if e.SourceMemoryID == id {
			out++
		}
		if e.TargetMemoryID == id {
			in++
		}
	}
	return graph.Centrality(in, out)
}

// expandConnections folds in neighbors of the top-k seeds, discounting
// their score by 0.7^(ConnectionHops-1) and tagging
// metadata.connectionSource. The discount uses the requested hop bound
// for every neighbor; a neighbor's own distance from the seed is not
// tracked, so a 1-hop neighbor gets the same discount as a farther one.
func (s *Service) expandConnections(ctx context.Context, userID string, seeds []Scored, query string, queryEmbedding []float32, now time.Time, opts Options) []Scored {
	sort.SliceStable(seeds, func(i, j int) bool { return seeds[i].Score > seeds[j].Score })
	k := opts.Limit
	if k > len(seeds) {
		k = len(seeds)
	}

	seen := make(map[string]bool, len(seeds))
	for _, sc := range seeds {
		seen[sc.Record.ID] = true
	}

	var expanded []Scored
	for i := 0; i < k; i++ {
		seed := seeds[i]
		result, err := s.traversal.FindConnected(ctx, userID, seed.Record.ID, opts.ConnectionHops)
		if err != nil {
			s.logger.Debug("connection expansion failed", zap.Error(err))
			continue
		}
		for _, neighbor := range result.Memories {
			if seen[neighbor.ID] {
				continue
			}
			seen[neighbor.ID] = true
			neighborScored := s.scoreCandidates([]domain.Record{neighbor}, query, queryEmbedding, now, opts, seed.Record.ID)[0]
			discount := math.Pow(0.7, float64(opts.ConnectionHops-1))
			neighborScored.Score *= discount
			if neighborScored.Record.Metadata == nil {
				neighborScored.Record.Metadata = map[string]any{}
			}
			neighborScored.Record.Metadata["connectionSource"] = seed.Record.ID
			expanded = append(expanded, neighborScored)
		}
	}
	return append(seeds, expanded...)
}

func filterSortTruncate(scored []Scored, opts Options) []Scored {
	filtered := scored[:0:0]
	for _, sc := range scored {
		if sc.Score < opts.MinRelevanceThreshold {
			continue
		}
		filtered = append(filtered, sc)
	}
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Score > filtered[j].Score })
	if len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}
	return filtered
}

// hydrateFromIDs re-fetches full records for a cached id list. A miss on
// any id (e.g. the record was deleted after caching, before the
// generation bump propagated) is skipped rather than failing the whole
// recall.
func (s *Service) hydrateFromIDs(ctx context.Context, userID, agentID, query string, ids []string, opts Options) ([]Scored, error) {
	all, err := s.fanOut(ctx, userID, agentID, query, opts)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Record, len(all))
	for _, r := range all {
		byID[r.ID] = r
	}
	out := make([]Scored, 0, len(ids))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			out = append(out, Scored{Record: rec})
		}
	}
	return out, nil
}

func centralityFromMetadata(meta map[string]any) float64 {
	if meta == nil {
		return 0
	}
	if v, ok := meta["centrality"].(float64); ok {
		return v
	}
	return 0
}

func proceduralStatsFromMetadata(meta map[string]any) (*domain.ProceduralStats, bool) {
	if meta == nil {
		return nil, false
	}
	raw, ok := meta["proceduralStats"]
	if !ok {
		return nil, false
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, false
	}
	success, _ := m["successCount"].(float64)
	failure, _ := m["failureCount"].(float64)
	return &domain.ProceduralStats{SuccessCount: int(success), FailureCount: int(failure)}, true
}
