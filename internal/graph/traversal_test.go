package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentdock/memengine/internal/domain"
)

func TestBFSConnections_DepthBoundAndVisitedSet(t *testing.T) {
	edges := []domain.Connection{
		{ID: "e1", SourceMemoryID: "a", TargetMemoryID: "b", UserID: "u1"},
		{ID: "e2", SourceMemoryID: "b", TargetMemoryID: "c", UserID: "u1"},
		{ID: "e3", SourceMemoryID: "c", TargetMemoryID: "a", UserID: "u1"}, // cycle back
	}

	depth1 := BFSConnections("a", edges, 1)
	assert.Len(t, depth1, 2, "edges are walked both ways, so depth 1 reaches b via e1 and c via reversed e3")
	assert.Equal(t, "b", depth1[0].TargetMemoryID)
	assert.Equal(t, "c", depth1[1].TargetMemoryID)

	depth2 := BFSConnections("a", edges, 2)
	assert.Len(t, depth2, 2, "every node is already visited after depth 1, so depth 2 adds no edge and never revisits a")
}

func TestCentrality(t *testing.T) {
	assert.Equal(t, 0.0, Centrality(0, 0))
	assert.Greater(t, Centrality(5, 3), Centrality(1, 1))
}
