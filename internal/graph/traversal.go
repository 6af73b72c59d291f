package graph

import (
	"context"
	"math"

	"github.com/agentdock/memengine/internal/domain"
)

// ConnectionReader is the narrow capability Traversal needs: a tenant-safe
// bounded-depth reachability query.
type ConnectionReader interface {
	FindConnectedMemories(ctx context.Context, userID, id string, depth int) (domain.ConnectedResult, error)
}

// Traversal wraps a ConnectionReader with the centrality computation used
// by recall's fusion boost.
type Traversal struct {
	reader ConnectionReader
}

func NewTraversal(reader ConnectionReader) *Traversal {
	return &Traversal{reader: reader}
}

// FindConnected returns every record and edge reachable from id within
// depth hops, tenant-filtered and deduplicated. The underlying store is
// expected to do the BFS itself (the graph lives there); this method is
// the narrow, testable surface the rest of the engine depends on.
func (t *Traversal) FindConnected(ctx context.Context, userID, id string, depth int) (domain.ConnectedResult, error) {
	if depth < 0 {
		depth = 0
	}
	return t.reader.FindConnectedMemories(ctx, userID, id, depth)
}

// Centrality computes a memory's connectivity boost:
// log(1 + inDegree + outDegree).
func Centrality(inDegree, outDegree int) float64 {
	return math.Log1p(float64(inDegree + outDegree))
}

// BFSConnections performs an in-process breadth-first traversal over a
// flat edge list. Edges are walked in both directions: an edge reached
// from its target side is returned as a reversed copy. depth
// bounds hop count; visited prevents revisits; tenant filtering is the
// caller's responsibility via the edges/records already being
// user-scoped.
func BFSConnections(start string, edges []domain.Connection, depth int) []domain.Connection {
	if depth <= 0 {
		return nil
	}
	adjacency := make(map[string][]domain.Connection)
	for _, e := range edges {
		adjacency[e.SourceMemoryID] = append(adjacency[e.SourceMemoryID], e)
		adjacency[e.TargetMemoryID] = append(adjacency[e.TargetMemoryID], domain.Connection{
			ID:             e.ID,
			SourceMemoryID: e.TargetMemoryID,
			TargetMemoryID: e.SourceMemoryID,
			UserID:         e.UserID,
			ConnectionType: e.ConnectionType,
			Strength:       e.Strength,
			Reason:         e.Reason,
			CreatedAt:      e.CreatedAt,
			Metadata:       e.Metadata,
		})
	}

	visited := map[string]bool{start: true}
	var result []domain.Connection
	frontier := []string{start}

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, node := range frontier {
			for _, edge := range adjacency[node] {
				if visited[edge.TargetMemoryID] {
					continue
				}
				visited[edge.TargetMemoryID] = true
				result = append(result, edge)
				next = append(next, edge.TargetMemoryID)
			}
		}
		frontier = next
	}
	return result
}
