package domain

import "context"

// SetOptions configures a KVStore.Set call.
type SetOptions struct {
	TTLSeconds int64
	Metadata   map[string]any
	Namespace  string
}

// ListOptions configures a KVStore.List call.
type ListOptions struct {
	Limit     int
	Offset    int
	Namespace string
}

// KVStore is the required namespaced key/value capability every provider
// must offer. In the providers of this module the effective namespace
// for any call is opts.Namespace if set, else "default"; neither
// provider has a configurable default namespace.
type KVStore interface {
	Get(ctx context.Context, key string, opts *SetOptions) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, opts *SetOptions) error
	Delete(ctx context.Context, key string, namespace string) error
	Exists(ctx context.Context, key string, namespace string) (bool, error)
	GetMany(ctx context.Context, keys []string, namespace string) (map[string][]byte, error)
	SetMany(ctx context.Context, values map[string][]byte, opts *SetOptions) error
	DeleteMany(ctx context.Context, keys []string, namespace string) error
	List(ctx context.Context, prefix string, opts ListOptions) ([]string, error)
	Clear(ctx context.Context, prefix string, namespace string) error
}

// ListStore is the required ordered-list capability.
type ListStore interface {
	GetList(ctx context.Context, key string, namespace string) ([]string, error)
	SaveList(ctx context.Context, key string, values []string, namespace string) error
	DeleteList(ctx context.Context, key string, namespace string) error
}

// RecallQuery is a plain-text lexical query against the memory
// capability's own Recall method (distinct from the hybrid recall
// pipeline in internal/recall, which layers vector/temporal/procedural
// signals on top of a provider's Recall and a vector provider's Query).
type RecallQuery struct {
	Type  *MemoryType
	Limit int

	// IncludeArchived widens the result set to archived records.
	// Maintenance passes true so TTL-expired archives can be reaped;
	// recall never does.
	IncludeArchived bool
}

// MemoryUpdate is one coalesced decay write, applied atomically per batch
// by MemoryCapable.BatchUpdateMemories and §4.4.
type MemoryUpdate struct {
	ID             string
	Resonance      float64
	LastAccessedAt int64 // ms epoch
	AccessCount    int
}

// MemoryCapable is the optional "memory" capability a provider may offer.
// Its absence downgrades the engine to text-only recall.
type MemoryCapable interface {
	StoreRecord(ctx context.Context, rec *Record) (string, error)
	RecallRecords(ctx context.Context, userID, agentID, query string, q RecallQuery) ([]Record, error)
	UpdateRecord(ctx context.Context, userID, agentID, id string, patch map[string]any) error
	DeleteRecord(ctx context.Context, userID, agentID, id string) error
	GetRecordByID(ctx context.Context, userID, id string) (*Record, error)
	GetStats(ctx context.Context, userID string, agentID *string) (map[string]any, error)

	// BatchUpdateMemories applies every update in one transaction,
	// all-or-nothing. Required by the batch update processor.
	BatchUpdateMemories(ctx context.Context, updates []MemoryUpdate) error

	// CreateConnections validates both endpoints belong to userID inside
	// one transaction, upserting on (source, target, type).
	CreateConnections(ctx context.Context, userID string, edges []Connection) error

	// FindConnectedMemories returns every reachable record and edge
	// within depth hops of id, tenant-filtered.
	FindConnectedMemories(ctx context.Context, userID, id string, depth int) (ConnectedResult, error)
}

// VectorFilters narrows a vector query, e.g. by tenant or memory type.
type VectorFilters struct {
	UserID  string
	AgentID string
	Type    *MemoryType
}

// VectorCapable is the optional "vector" capability.
type VectorCapable interface {
	VectorUpsert(ctx context.Context, id string, embedding []float32) error
	VectorQuery(ctx context.Context, embedding []float32, k int, filters VectorFilters) ([]VectorMatch, error)
	VectorDelete(ctx context.Context, id string) error
}

// VectorMatch is one result from VectorCapable.VectorQuery.
type VectorMatch struct {
	ID    string
	Score float64 // cosine similarity in [-1,1], 1 = identical
}

// Provider is the full capability surface a storage backend may offer.
// KVStore and ListStore are required; MemoryCapable and VectorCapable are
// discovered at runtime via type assertion (the idiomatic Go rendition of
// "capabilities discovered at runtime; absence is tolerated by
// downgrading features").
type Provider interface {
	KVStore
	ListStore
	IsHealthy(ctx context.Context) error
}

// AsMemoryCapable type-asserts p to MemoryCapable, returning (nil, false)
// when the provider doesn't offer the capability.
func AsMemoryCapable(p Provider) (MemoryCapable, bool) {
	mc, ok := p.(MemoryCapable)
	return mc, ok
}

// AsVectorCapable type-asserts p to VectorCapable.
func AsVectorCapable(p Provider) (VectorCapable, bool) {
	vc, ok := p.(VectorCapable)
	return vc, ok
}
