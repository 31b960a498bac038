package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGraph(t *testing.T, ids ...string) *domain.Graph {
	t.Helper()
	g := domain.NewGraph(domain.Document{ID: "doc-1", Type: "T"}, nil)
	for i, id := range ids {
		require.NoError(t, g.Add(&domain.NodeInstance{ID: id, Node: id, Initial: i == 0}))
	}
	return g
}

// assertInverse checks that every previous list is exactly the inverse of the next lists.
func assertInverse(t *testing.T, g *domain.Graph) {
	t.Helper()
	for _, inst := range g.Instances() {
		for _, next := range g.Next(inst.ID) {
			assert.Contains(t, ids(g.Previous(next.ID)), inst.ID)
		}
		for _, prev := range g.Previous(inst.ID) {
			assert.Contains(t, ids(g.Next(prev.ID)), inst.ID)
		}
	}
}

func ids(list []*domain.NodeInstance) []string {
	out := make([]string, 0, len(list))
	for _, n := range list {
		out = append(out, n.ID)
	}
	return out
}

func TestGraph_LinkKeepsBothDirections(t *testing.T) {
	g := newGraph(t, "a", "b", "c")

	require.NoError(t, g.Link("a", "b"))
	require.NoError(t, g.Link("a", "c"))
	require.NoError(t, g.Link("a", "b"), "linking twice is a no-op")

	assert.Equal(t, []string{"b", "c"}, ids(g.Next("a")))
	assert.Equal(t, []string{"a"}, ids(g.Previous("b")))
	assert.Len(t, g.Edges(), 2)
	assertInverse(t, g)

	t.Run("Unlink", func(t *testing.T) {
		assert.True(t, g.Unlink("a", "b"))
		assert.False(t, g.Unlink("a", "b"))
		assert.Empty(t, g.Previous("b"))
		assertInverse(t, g)
	})

	t.Run("ClearNext", func(t *testing.T) {
		g.ClearNext("a")
		assert.Empty(t, g.Next("a"))
		assert.Empty(t, g.Previous("c"))
		assertInverse(t, g)
	})
}

func TestGraph_LinkRejectsCyclesAndUnknownIDs(t *testing.T) {
	g := newGraph(t, "a", "b", "c")
	require.NoError(t, g.Link("a", "b"))
	require.NoError(t, g.Link("b", "c"))

	assert.ErrorIs(t, g.Link("c", "a"), domain.ErrIllegalState)
	assert.ErrorIs(t, g.Link("a", "a"), domain.ErrIllegalState)
	assert.ErrorIs(t, g.Link("a", "missing"), domain.ErrNodeInstanceNotFound)
	assert.Len(t, g.Edges(), 2)
}

func TestGraph_IndexedAccessNeverPads(t *testing.T) {
	g := newGraph(t, "a", "b")
	require.NoError(t, g.Link("a", "b"))

	next, err := g.NextAt("a", 0)
	require.NoError(t, err)
	assert.Equal(t, "b", next.ID)

	prev, err := g.PreviousAt("b", 0)
	require.NoError(t, err)
	assert.Equal(t, "a", prev.ID)

	_, err = g.NextAt("a", 3)
	assert.ErrorIs(t, err, domain.ErrIndexOutOfRange)
	_, err = g.PreviousAt("a", 0)
	assert.ErrorIs(t, err, domain.ErrIndexOutOfRange)
	_, err = g.NextAt("a", -1)
	assert.ErrorIs(t, err, domain.ErrIndexOutOfRange)

	assert.Equal(t, 2, g.Len(), "out of range access must not fabricate instances")
	assert.Len(t, g.Next("a"), 1)
}

func TestGraph_Queries(t *testing.T) {
	g := domain.NewGraph(domain.Document{ID: "doc-1"}, nil)
	require.NoError(t, g.Add(&domain.NodeInstance{ID: "a", Initial: true, Complete: true}))
	require.NoError(t, g.Add(&domain.NodeInstance{ID: "p", Active: true}))
	require.NoError(t, g.Add(&domain.NodeInstance{ID: "p1", ProcessID: "p", Initial: true, Active: true}))
	require.NoError(t, g.Add(&domain.NodeInstance{ID: "d"}))
	require.NoError(t, g.Link("a", "p"))
	require.NoError(t, g.Link("a", "d"))

	assert.Equal(t, []string{"p", "p1"}, ids(g.Active()))
	assert.Equal(t, []string{"a"}, ids(g.Terminal()))
	assert.Equal(t, []string{"a"}, ids(g.Initial()), "process entries are not document-level initial")
	assert.Equal(t, []string{"p1"}, ids(g.ProcessInstances("p")))
	assert.True(t, g.InProcess("p1"))
	assert.False(t, g.InProcess("p"))
	assert.NoError(t, g.Check())

	inst, err := g.Instance("d")
	require.NoError(t, err)
	assert.True(t, inst.IsPending())
	assert.Equal(t, "doc-1", inst.DocumentID)
}

func TestGraph_Check(t *testing.T) {
	t.Run("Orphan non-initial instance", func(t *testing.T) {
		g := newGraph(t, "a", "b")
		assert.ErrorIs(t, g.Check(), domain.ErrIllegalState)
	})

	t.Run("Active and complete", func(t *testing.T) {
		g := domain.NewGraph(domain.Document{ID: "doc"}, nil)
		require.NoError(t, g.Add(&domain.NodeInstance{ID: "a", Initial: true, Active: true, Complete: true}))
		assert.ErrorIs(t, g.Check(), domain.ErrIllegalState)
	})
}

func TestGraph_CloneIsIndependent(t *testing.T) {
	g := newGraph(t, "a", "b")
	require.NoError(t, g.Link("a", "b"))
	a, _ := g.Instance("a")
	a.SetNodeState("k", "v")

	c := g.Clone()
	ca, _ := c.Instance("a")
	ca.SetNodeState("k", "changed")
	c.ClearNext("a")

	v, _ := a.NodeState("k")
	assert.Equal(t, "v", v)
	assert.Len(t, g.Next("a"), 1)
}

func TestGraph_JSONPreservesArena(t *testing.T) {
	g := newGraph(t, "a", "b", "c")
	require.NoError(t, g.Link("a", "b"))
	require.NoError(t, g.Link("a", "c"))
	g.AddBranch(&domain.Branch{ID: "b1", Name: "b", SplitInstanceID: "a"})
	g.SetBarrier(&domain.Barrier{Key: domain.BarrierKey("a", "d"), Node: "d", Expected: []string{"b1"}})
	g.Version = 4

	data, err := json.Marshal(g)
	require.NoError(t, err)

	var decoded domain.Graph
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 4, decoded.Version)
	assert.Equal(t, g.Edges(), decoded.Edges())
	assert.Len(t, decoded.SiblingBranches("a"), 1)
	_, ok := decoded.Barrier("a/d")
	assert.True(t, ok)
	assertInverse(t, &decoded)
}
