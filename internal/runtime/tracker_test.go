package runtime_test

import (
	"testing"

	"github.com/aretw0/waypoint/internal/idgen"
	"github.com/aretw0/waypoint/internal/runtime"
	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func splitJoinTemplate(branches ...string) *domain.Template {
	nodes := []*domain.NodeTemplate{{Name: "a", Type: domain.NodeSplit, Next: branches}}
	for _, b := range branches {
		nodes = append(nodes, &domain.NodeTemplate{Name: b, Next: []string{"d"}})
	}
	nodes = append(nodes, &domain.NodeTemplate{Name: "d", Type: domain.NodeJoin})
	return &domain.Template{Name: "split", DocumentType: "memo", Entry: "a", Nodes: nodes, Version: 1}
}

func newTracker() *runtime.Tracker {
	return runtime.NewTracker(runtime.WithIDGenerator(idgen.Sequence("n")))
}

func start(t *testing.T, tr *runtime.Tracker, tpl *domain.Template) *domain.Graph {
	t.Helper()
	g := domain.NewGraph(domain.Document{ID: "doc-1", Type: tpl.DocumentType}, tpl)
	_, err := tr.CreateInitial(g, tpl)
	require.NoError(t, err)
	return g
}

// only returns the single instance materialized for node.
func only(t *testing.T, g *domain.Graph, node string) *domain.NodeInstance {
	t.Helper()
	var found []*domain.NodeInstance
	for _, inst := range g.Instances() {
		if inst.Node == node {
			found = append(found, inst)
		}
	}
	require.Len(t, found, 1, "instances of %s", node)
	return found[0]
}

func nodes(list []*domain.NodeInstance) []string {
	out := make([]string, 0, len(list))
	for _, inst := range list {
		out = append(out, inst.Node)
	}
	return out
}

func TestTracker_CreateInitial(t *testing.T) {
	tr := newTracker()
	tpl := splitJoinTemplate("b", "c")
	g := domain.NewGraph(domain.Document{ID: "doc-1", Type: "memo"}, tpl)

	res, err := tr.CreateInitial(g, tpl)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, nodes(res.Activated))

	a := only(t, g, "a")
	assert.True(t, a.Initial)
	assert.True(t, a.Active)
	assert.Equal(t, []string{"a"}, nodes(g.Initial()))

	_, err = tr.CreateInitial(g, tpl)
	assert.ErrorIs(t, err, domain.ErrIllegalState, "a routed document cannot be routed again")
}

func TestTracker_SplitAndJoin(t *testing.T) {
	tr := newTracker()
	tpl := splitJoinTemplate("b", "c")
	g := start(t, tr, tpl)

	res, err := tr.Advance(g, tpl, only(t, g, "a").ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, nodes(res.Completed))
	assert.ElementsMatch(t, []string{"b", "c"}, nodes(res.Activated))
	assert.Len(t, g.Branches(), 2)

	b, c := only(t, g, "b"), only(t, g, "c")
	assert.NotEqual(t, b.BranchID, c.BranchID)

	res, err = tr.Advance(g, tpl, b.ID)
	require.NoError(t, err)
	assert.Empty(t, res.Activated, "the join must wait for c")
	d := only(t, g, "d")
	assert.True(t, d.IsPending())

	res, err = tr.Advance(g, tpl, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, nodes(res.Released))
	assert.Equal(t, []string{"d"}, nodes(res.Activated))
	assert.True(t, d.Active)
	assert.Empty(t, d.BranchID, "the join continues on the parent branch")
	assert.ElementsMatch(t, []string{b.ID, c.ID}, []string{g.Previous(d.ID)[0].ID, g.Previous(d.ID)[1].ID})

	_, err = tr.Advance(g, tpl, d.ID)
	require.NoError(t, err)
	assert.Empty(t, g.Active())
	assert.Len(t, g.Terminal(), 4)
	assert.NoError(t, g.Check())
}

func TestTracker_JoinNeverFiresEarly(t *testing.T) {
	tr := newTracker()
	tpl := splitJoinTemplate("b", "c", "e", "f")
	g := start(t, tr, tpl)

	_, err := tr.Advance(g, tpl, only(t, g, "a").ID)
	require.NoError(t, err)

	for _, name := range []string{"b", "c", "e"} {
		res, err := tr.Advance(g, tpl, only(t, g, name).ID)
		require.NoError(t, err)
		assert.Empty(t, res.Released, "released after %s", name)
	}
	assert.True(t, only(t, g, "d").IsPending())

	res, err := tr.Advance(g, tpl, only(t, g, "f").ID)
	require.NoError(t, err)
	assert.Len(t, res.Released, 1)
	assert.Len(t, g.Previous(only(t, g, "d").ID), 4)
}

func TestTracker_AdvanceCompleteIsIllegal(t *testing.T) {
	tr := newTracker()
	tpl := splitJoinTemplate("b", "c")
	g := start(t, tr, tpl)

	a := only(t, g, "a")
	_, err := tr.Advance(g, tpl, a.ID)
	require.NoError(t, err)
	before := g.Len()

	_, err = tr.Advance(g, tpl, a.ID)
	assert.ErrorIs(t, err, domain.ErrIllegalState)
	assert.Equal(t, before, g.Len(), "no instances are created")

	b := only(t, g, "b")
	_, err = tr.Advance(g, tpl, b.ID)
	require.NoError(t, err)
	_, err = tr.Advance(g, tpl, only(t, g, "d").ID)
	assert.ErrorIs(t, err, domain.ErrIllegalState, "a pending join cannot be advanced")

	_, err = tr.Advance(g, tpl, "missing")
	assert.ErrorIs(t, err, domain.ErrNodeInstanceNotFound)
}

func TestTracker_NestedSplits(t *testing.T) {
	tpl := &domain.Template{
		Name: "nested", DocumentType: "memo", Entry: "a", Version: 1,
		Nodes: []*domain.NodeTemplate{
			{Name: "a", Type: domain.NodeSplit, Next: []string{"b", "c"}},
			{Name: "b", Type: domain.NodeSplit, Next: []string{"b1", "b2"}},
			{Name: "b1", Next: []string{"bj"}},
			{Name: "b2", Next: []string{"bj"}},
			{Name: "bj", Type: domain.NodeJoin, Next: []string{"d"}},
			{Name: "c", Next: []string{"d"}},
			{Name: "d", Type: domain.NodeJoin},
		},
	}
	tr := newTracker()
	g := start(t, tr, tpl)

	for _, name := range []string{"a", "b", "b1", "c"} {
		_, err := tr.Advance(g, tpl, only(t, g, name).ID)
		require.NoError(t, err, name)
	}
	assert.True(t, only(t, g, "d").IsPending())

	res, err := tr.Advance(g, tpl, only(t, g, "b2").ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"bj"}, nodes(res.Released))
	assert.Equal(t, only(t, g, "b").BranchID, only(t, g, "bj").BranchID)

	res, err = tr.Advance(g, tpl, only(t, g, "bj").ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, nodes(res.Released))
	assert.NoError(t, g.Check())
}

func processTemplate() *domain.Template {
	return &domain.Template{
		Name: "process", DocumentType: "memo", Entry: "start", Version: 1,
		Nodes: []*domain.NodeTemplate{
			{Name: "start", Next: []string{"review"}},
			{Name: "review", Type: domain.NodeProcess, Entry: "r1", Next: []string{"end"},
				Nodes: []*domain.NodeTemplate{
					{Name: "r1", Next: []string{"r2"}},
					{Name: "r2"},
				}},
			{Name: "end"},
		},
	}
}

func TestTracker_Process(t *testing.T) {
	tr := newTracker()
	tpl := processTemplate()
	g := start(t, tr, tpl)

	res, err := tr.Advance(g, tpl, only(t, g, "start").ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"review", "r1"}, nodes(res.Activated))

	review, r1 := only(t, g, "review"), only(t, g, "r1")
	assert.Equal(t, review.ID, r1.ProcessID)
	assert.True(t, r1.Initial, "a process entry is initial within its process")
	assert.True(t, g.InProcess(r1.ID))
	assert.Equal(t, []string{"start"}, nodes(g.Initial()))
	assert.Empty(t, g.Previous(r1.ID))

	_, err = tr.Advance(g, tpl, review.ID)
	assert.ErrorIs(t, err, domain.ErrIllegalState, "the process has unfinished members")

	_, err = tr.Advance(g, tpl, r1.ID)
	require.NoError(t, err)
	assert.Equal(t, review.ID, only(t, g, "r2").ProcessID)

	res, err = tr.Advance(g, tpl, only(t, g, "r2").ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"r2", "review"}, nodes(res.Completed))
	assert.Equal(t, []string{"end"}, nodes(res.Activated))
	assert.Equal(t, []string{review.ID}, []string{g.Previous(only(t, g, "end").ID)[0].ID})
	assert.NoError(t, g.Check())
}

func TestTracker_ProcessAsEntry(t *testing.T) {
	tpl := &domain.Template{
		Name: "wrapped", DocumentType: "memo", Entry: "p", Version: 1,
		Nodes: []*domain.NodeTemplate{
			{Name: "p", Type: domain.NodeProcess, Entry: "x", Nodes: []*domain.NodeTemplate{{Name: "x"}}},
		},
	}
	tr := newTracker()
	g := domain.NewGraph(domain.Document{ID: "doc-1", Type: "memo"}, tpl)

	res, err := tr.CreateInitial(g, tpl)
	require.NoError(t, err)
	assert.Equal(t, []string{"p", "x"}, nodes(res.Activated))

	res, err = tr.Advance(g, tpl, only(t, g, "x").ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "p"}, nodes(res.Completed))
	assert.Empty(t, g.Active())
}

func TestTracker_Cancel(t *testing.T) {
	tr := newTracker()
	tpl := splitJoinTemplate("b", "c")
	g := start(t, tr, tpl)
	_, err := tr.Advance(g, tpl, only(t, g, "a").ID)
	require.NoError(t, err)

	cancelled := tr.Cancel(g)
	assert.ElementsMatch(t, []string{"b", "c"}, nodes(cancelled))
	assert.Empty(t, g.Active())
	assert.True(t, g.Withdrawn)
	assert.Equal(t, 3, g.Len(), "no successors fire")

	assert.Empty(t, tr.Cancel(g), "cancelling twice is a no-op")

	_, err = tr.Advance(g, tpl, only(t, g, "b").ID)
	assert.ErrorIs(t, err, domain.ErrWithdrawn)
	assert.ErrorIs(t, err, domain.ErrIllegalState)
}

func TestTracker_NodeState(t *testing.T) {
	tr := newTracker()
	tpl := splitJoinTemplate("b", "c")
	g := start(t, tr, tpl)
	a := only(t, g, "a")

	require.NoError(t, tr.SetNodeState(g, a.ID, "amount", "100"))
	v, ok, err := tr.NodeState(g, a.ID, "amount")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "100", v)

	require.NoError(t, tr.RemoveNodeState(g, a.ID, "amount", true))
	_, ok, err = tr.NodeState(g, a.ID, "amount")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, tr.RemoveNodeState(g, a.ID, "amount", false))
	assert.ErrorIs(t, tr.RemoveNodeState(g, a.ID, "amount", true), domain.ErrNodeStateNotFound)
	assert.ErrorIs(t, tr.SetNodeState(g, "missing", "k", "v"), domain.ErrNodeInstanceNotFound)
}
