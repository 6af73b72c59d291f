// Package memstore implements the full provider capability set
// (domain.Provider, domain.MemoryCapable, domain.VectorCapable)
// in-memory. It is the reference storage backend for tests and local
// development.
package memstore

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentdock/memengine/internal/domain"
)

type kvEntry struct {
	value     []byte
	expiresAt time.Time
}

// Store is an in-memory domain.Provider. All operations are guarded by a
// single mutex: the reference implementation favors correctness and
// simplicity over the lock-striping a production backend might use.
type Store struct {
	mu sync.RWMutex

	kv    map[string]map[string]kvEntry // namespace -> key -> entry
	lists map[string]map[string][]string

	records     map[string]domain.Record   // id -> record
	connections []domain.Connection
	vectors     map[string][]float32 // id -> embedding
}

func New() *Store {
	return &Store{
		kv:      make(map[string]map[string]kvEntry),
		lists:   make(map[string]map[string][]string),
		records: make(map[string]domain.Record),
		vectors: make(map[string][]float32),
	}
}

func namespaceOrDefault(ns string) string {
	if ns == "" {
		return "default"
	}
	return ns
}

// --- KVStore ---

func (s *Store) Get(ctx context.Context, key string, opts *domain.SetOptions) ([]byte, bool, error) {
	ns := "default"
	if opts != nil {
		ns = namespaceOrDefault(opts.Namespace)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.kv[ns]
	if !ok {
		return nil, false, nil
	}
	entry, ok := bucket[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, opts *domain.SetOptions) error {
	ns := "default"
	var ttl time.Duration
	if opts != nil {
		ns = namespaceOrDefault(opts.Namespace)
		if opts.TTLSeconds > 0 {
			ttl = time.Duration(opts.TTLSeconds) * time.Second
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.kv[ns]
	if !ok {
		bucket = make(map[string]kvEntry)
		s.kv[ns] = bucket
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	bucket[key] = kvEntry{value: value, expiresAt: expiresAt}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string, namespace string) error {
	ns := namespaceOrDefault(namespace)
	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket, ok := s.kv[ns]; ok {
		delete(bucket, key)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key string, namespace string) (bool, error) {
	_, ok, err := s.Get(ctx, key, &domain.SetOptions{Namespace: namespace})
	return ok, err
}

func (s *Store) GetMany(ctx context.Context, keys []string, namespace string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok, _ := s.Get(ctx, k, &domain.SetOptions{Namespace: namespace}); ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *Store) SetMany(ctx context.Context, values map[string][]byte, opts *domain.SetOptions) error {
	for k, v := range values {
		if err := s.Set(ctx, k, v, opts); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DeleteMany(ctx context.Context, keys []string, namespace string) error {
	for _, k := range keys {
		if err := s.Delete(ctx, k, namespace); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string, opts domain.ListOptions) ([]string, error) {
	ns := namespaceOrDefault(opts.Namespace)
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.kv[ns]
	if !ok {
		return nil, nil
	}
	var keys []string
	for k := range bucket {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if opts.Offset > 0 && opts.Offset < len(keys) {
		keys = keys[opts.Offset:]
	} else if opts.Offset >= len(keys) {
		return nil, nil
	}
	if opts.Limit > 0 && opts.Limit < len(keys) {
		keys = keys[:opts.Limit]
	}
	return keys, nil
}

func (s *Store) Clear(ctx context.Context, prefix string, namespace string) error {
	ns := namespaceOrDefault(namespace)
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.kv[ns]
	if !ok {
		return nil
	}
	for k := range bucket {
		if strings.HasPrefix(k, prefix) {
			delete(bucket, k)
		}
	}
	return nil
}

// --- ListStore ---

func (s *Store) GetList(ctx context.Context, key string, namespace string) ([]string, error) {
	ns := namespaceOrDefault(namespace)
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.lists[ns]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), bucket[key]...), nil
}

func (s *Store) SaveList(ctx context.Context, key string, values []string, namespace string) error {
	ns := namespaceOrDefault(namespace)
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.lists[ns]
	if !ok {
		bucket = make(map[string][]string)
		s.lists[ns] = bucket
	}
	bucket[key] = append([]string(nil), values...)
	return nil
}

func (s *Store) DeleteList(ctx context.Context, key string, namespace string) error {
	ns := namespaceOrDefault(namespace)
	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket, ok := s.lists[ns]; ok {
		delete(bucket, key)
	}
	return nil
}

func (s *Store) IsHealthy(ctx context.Context) error {
	return nil
}

// --- MemoryCapable ---

func (s *Store) StoreRecord(ctx context.Context, rec *domain.Record) (string, error) {
	if rec.ID == "" {
		rec.ID = domain.NewRecordID()
	}
	if rec.Status == "" {
		rec.Status = domain.StatusActive
	}
	cp := *rec
	s.mu.Lock()
	s.records[cp.ID] = cp
	if len(cp.Embedding) > 0 {
		s.vectors[cp.ID] = cp.Embedding
	}
	s.mu.Unlock()
	return cp.ID, nil
}

func (s *Store) RecallRecords(ctx context.Context, userID, agentID, query string, q domain.RecallQuery) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Record
	for _, rec := range s.records {
		if rec.UserID != userID {
			continue
		}
		if agentID != "" && rec.AgentID != agentID {
			continue
		}
		if q.Type != nil && rec.Type != *q.Type {
			continue
		}
		if rec.Status == domain.StatusArchived && !q.IncludeArchived {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(rec.Content), strings.ToLower(query)) {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) UpdateRecord(ctx context.Context, userID, agentID, id string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.UserID != userID {
		return domain.NewError(domain.KindNotFound, "memstore", "updateRecord", nil)
	}
	applyPatch(&rec, patch)
	s.records[id] = rec
	return nil
}

func applyPatch(rec *domain.Record, patch map[string]any) {
	if v, ok := patch["content"].(string); ok {
		rec.Content = v
	}
	if v, ok := patch["importance"].(float64); ok {
		rec.Importance = v
	}
	if v, ok := patch["resonance"].(float64); ok {
		rec.Resonance = v
	}
	if v, ok := patch["status"].(domain.RecordStatus); ok {
		rec.Status = v
	}
	rec.UpdatedAt = time.Now()
}

func (s *Store) DeleteRecord(ctx context.Context, userID, agentID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.UserID != userID {
		return nil
	}
	delete(s.records, id)
	delete(s.vectors, id)
	kept := s.connections[:0:0]
	for _, c := range s.connections {
		if c.SourceMemoryID != id && c.TargetMemoryID != id {
			kept = append(kept, c)
		}
	}
	s.connections = kept
	return nil
}

func (s *Store) GetRecordByID(ctx context.Context, userID, id string) (*domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok || rec.UserID != userID {
		return nil, domain.NewError(domain.KindNotFound, "memstore", "getRecordByID", nil)
	}
	return &rec, nil
}

func (s *Store) GetStats(ctx context.Context, userID string, agentID *string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[string]int{}
	total := 0
	for _, rec := range s.records {
		if rec.UserID != userID {
			continue
		}
		if agentID != nil && rec.AgentID != *agentID {
			continue
		}
		counts[string(rec.Type)]++
		total++
	}
	return map[string]any{"total": total, "byType": counts}, nil
}

func (s *Store) BatchUpdateMemories(ctx context.Context, updates []domain.MemoryUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range updates {
		rec, ok := s.records[u.ID]
		if !ok {
			continue
		}
		rec.Resonance = u.Resonance
		rec.AccessCount = u.AccessCount
		rec.LastAccessedAt = time.UnixMilli(u.LastAccessedAt)
		rec.UpdatedAt = time.Now()
		s.records[u.ID] = rec
	}
	return nil
}

// CreateConnections validates both endpoints of every edge belong to
// userID, then upserts on (source, target, type): an edge matching an
// existing one on that triple replaces it in place rather than
// accumulating a duplicate, mirroring the postgres provider's
// ON CONFLICT ... DO UPDATE.
func (s *Store) CreateConnections(ctx context.Context, userID string, edges []domain.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range edges {
		src, srcOK := s.records[e.SourceMemoryID]
		dst, dstOK := s.records[e.TargetMemoryID]
		if !srcOK || !dstOK || src.UserID != userID || dst.UserID != userID {
			return domain.NewError(domain.KindInvalidArgument, "memstore", "createConnections", nil)
		}
	}
	for _, e := range edges {
		e.UserID = userID
		if e.ID == "" {
			e.ID = domain.NewConnectionID()
		}
		replaced := false
		for i, existing := range s.connections {
			if existing.SourceMemoryID == e.SourceMemoryID &&
				existing.TargetMemoryID == e.TargetMemoryID &&
				existing.ConnectionType == e.ConnectionType {
				s.connections[i] = e
				replaced = true
				break
			}
		}
		if !replaced {
			s.connections = append(s.connections, e)
		}
	}
	return nil
}

func (s *Store) FindConnectedMemories(ctx context.Context, userID, id string, depth int) (domain.ConnectedResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	visited := map[string]bool{id: true}
	frontier := []string{id}
	var edgesOut []domain.Connection

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, node := range frontier {
			for _, e := range s.connections {
				if e.UserID != userID {
					continue
				}
				var neighbor string
				switch node {
				case e.SourceMemoryID:
					neighbor = e.TargetMemoryID
				case e.TargetMemoryID:
					neighbor = e.SourceMemoryID
				default:
					continue
				}
				if visited[neighbor] {
					continue
				}
				visited[neighbor] = true
				edgesOut = append(edgesOut, e)
				next = append(next, neighbor)
			}
		}
		frontier = next
	}

	var records []domain.Record
	for nodeID := range visited {
		if rec, ok := s.records[nodeID]; ok && rec.UserID == userID {
			records = append(records, rec)
		}
	}
	return domain.ConnectedResult{Memories: records, Connections: edgesOut}, nil
}

// --- VectorCapable ---

func (s *Store) VectorUpsert(ctx context.Context, id string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors[id] = embedding
	if rec, ok := s.records[id]; ok {
		rec.Embedding = embedding
		s.records[id] = rec
	}
	return nil
}

func (s *Store) VectorQuery(ctx context.Context, embedding []float32, k int, filters domain.VectorFilters) ([]domain.VectorMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []domain.VectorMatch
	for id, vec := range s.vectors {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		if filters.UserID != "" && rec.UserID != filters.UserID {
			continue
		}
		if filters.AgentID != "" && rec.AgentID != filters.AgentID {
			continue
		}
		if filters.Type != nil && rec.Type != *filters.Type {
			continue
		}
		matches = append(matches, domain.VectorMatch{ID: id, Score: cosine(embedding, vec)})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *Store) VectorDelete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vectors, id)
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
