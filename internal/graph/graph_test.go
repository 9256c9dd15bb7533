package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxline/workflowcore/internal/graph"
)

func TestTopoSort_LinearChain(t *testing.T) {
	g := graph.New()
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")

	order, err := g.TopoSort()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestTopoSort_IsolatedNode(t *testing.T) {
	g := graph.New()
	g.AddNode("solo")
	g.AddEdge("a", "b")

	order, err := g.TopoSort()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"solo", "a", "b"}, order)
}

func TestTopoSort_CycleDetected(t *testing.T) {
	g := graph.New()
	g.AddEdge("a", "b")
	g.AddEdge("b", "a")

	_, err := g.TopoSort()
	require.Error(t, err)
	var cycleErr *graph.ErrCycle
	require.ErrorAs(t, err, &cycleErr)
}

func TestRoots_ReturnsNodesWithNoIncomingEdges(t *testing.T) {
	g := graph.New()
	g.AddEdge("a", "b")
	g.AddEdge("a", "c")
	g.AddNode("d")

	assert.ElementsMatch(t, []string{"a", "d"}, g.Roots())
}
