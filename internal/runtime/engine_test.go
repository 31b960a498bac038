package runtime_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aretw0/waypoint/internal/runtime"
	"github.com/aretw0/waypoint/pkg/actionlist"
	"github.com/aretw0/waypoint/pkg/adapters/memory"
	"github.com/aretw0/waypoint/pkg/document"
	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoTemplate drafts, splits into a legal review (everyone) and a finance review
// (first responder), joins at a sign-off and ends with an FYI.
func memoTemplate() *domain.Template {
	return &domain.Template{
		Name:         "memo-review",
		DocumentType: "memo",
		Entry:        "draft",
		Nodes: []*domain.NodeTemplate{
			{Name: "draft", Action: domain.ActionComplete, Next: []string{"fanout"},
				Recipients: []domain.Recipient{domain.Principal("alice")}},
			{Name: "fanout", Type: domain.NodeSplit, Next: []string{"legal", "finance"}},
			{Name: "legal", Next: []string{"signoff"},
				Recipients: []domain.Recipient{domain.Role("legal")}},
			{Name: "finance", Policy: domain.PolicyFirst, Next: []string{"signoff"},
				Recipients: []domain.Recipient{domain.Group("finance")}},
			{Name: "signoff", Type: domain.NodeJoin, Next: []string{"archive"},
				Recipients: []domain.Recipient{domain.Principal("frank")}},
			{Name: "archive", Action: domain.ActionFYI,
				Recipients: []domain.Recipient{domain.Principal("alice")}},
		},
	}
}

type harness struct {
	engine  *runtime.Engine
	dir     *memory.Directory
	actions *actionlist.Service

	mu     sync.Mutex
	events []domain.EventType
	gaps   []*domain.GapError
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	templates := memory.NewTemplateStore()
	_, err := templates.Publish(ctx, memoTemplate())
	require.NoError(t, err)

	h := &harness{
		dir: memory.NewDirectory().
			AddRoleMembers("legal", "bob", "carol").
			AddGroupMembers("finance", "dave", "erin"),
	}
	h.actions = actionlist.New(memory.NewItemStore(), h.dir, actionlist.WithViewTTL(0))

	record := func(ctx context.Context, e *domain.NodeEvent) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, e.Type)
	}
	hooks := domain.LifecycleHooks{
		OnNodeActivated: record,
		OnNodeCompleted: record,
		OnJoinReleased:  record,
		OnResolutionGap: func(_ context.Context, e *domain.GapEvent) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.gaps = append(h.gaps, e.Gap)
		},
		OnDocumentWithdrawn: func(_ context.Context, e *domain.EventBase) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.events = append(h.events, e.Type)
		},
	}

	h.engine = runtime.NewEngine(
		templates,
		document.NewManager(memory.NewGraphStore()),
		h.actions,
		runtime.NewTracker(),
		runtime.NewResolver(h.dir),
		runtime.WithHooks(hooks),
	)
	return h
}

func (h *harness) count(typ domain.EventType) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if e == typ {
			n++
		}
	}
	return n
}

// itemFor returns the single active item of principal.
func (h *harness) itemFor(t *testing.T, principal string) *domain.ActionItem {
	t.Helper()
	list, err := h.actions.GetActionList(context.Background(), principal, domain.ActionListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1, "action list of %s", principal)
	return list[0]
}

func (h *harness) listSize(t *testing.T, principal string) int {
	t.Helper()
	n, err := h.actions.GetCount(context.Background(), principal)
	require.NoError(t, err)
	return n
}

var memoDoc = domain.Document{ID: "memo-1", Type: "memo", Title: "Q3 budget"}

func TestEngine_Route(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	g, err := h.engine.Route(ctx, memoDoc)
	require.NoError(t, err)
	assert.Equal(t, "memo-review", g.Template)
	assert.Equal(t, 1, g.TemplateVersion)
	require.Len(t, g.Active(), 1)

	item := h.itemFor(t, "alice")
	assert.Equal(t, domain.ActionComplete, item.Action)
	assert.Equal(t, "Q3 budget", item.Title)
	assert.Equal(t, g.Active()[0].ID, item.InstanceID)

	_, err = h.engine.Route(ctx, memoDoc)
	assert.ErrorIs(t, err, domain.ErrIllegalState)

	_, err = h.engine.Route(ctx, domain.Document{ID: "x", Type: "unknown"})
	assert.ErrorIs(t, err, domain.ErrTemplateNotFound)
}

func TestEngine_SplitJoinThroughActions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Route(ctx, memoDoc)
	require.NoError(t, err)

	acted, err := h.engine.Act(ctx, h.itemFor(t, "alice").ID)
	require.NoError(t, err)
	assert.True(t, acted.Outbox)

	// The bare split passes through; both reviews are waiting.
	for _, p := range []string{"bob", "carol", "dave", "erin"} {
		assert.Equal(t, 1, h.listSize(t, p), p)
	}

	_, err = h.engine.Act(ctx, h.itemFor(t, "bob").ID)
	require.NoError(t, err)
	assert.Equal(t, 1, h.listSize(t, "carol"), "legal needs everyone")

	_, err = h.engine.Act(ctx, h.itemFor(t, "dave").ID)
	require.NoError(t, err)
	assert.Zero(t, h.listSize(t, "erin"), "finance completes on the first action")
	assert.Zero(t, h.listSize(t, "frank"), "the join waits for legal")
	outbox, err := h.actions.GetOutbox(ctx, "erin", domain.ActionListFilter{})
	require.NoError(t, err)
	assert.Len(t, outbox, 1)

	_, err = h.engine.Act(ctx, h.itemFor(t, "carol").ID)
	require.NoError(t, err)
	assert.Equal(t, 1, h.listSize(t, "frank"), "the join released on the last branch")
	assert.Equal(t, 1, h.count(domain.EventJoinReleased))

	_, err = h.engine.Act(ctx, h.itemFor(t, "frank").ID)
	require.NoError(t, err)
	fyi := h.itemFor(t, "alice")
	assert.Equal(t, domain.ActionFYI, fyi.Action)

	g, err := h.engine.Graph(ctx, memoDoc.ID)
	require.NoError(t, err)
	require.NoError(t, g.Check())
	require.Len(t, g.Active(), 1)
	assert.Equal(t, "archive", g.Active()[0].Node)
}

func TestEngine_ActTwiceIsIllegal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Route(ctx, memoDoc)
	require.NoError(t, err)
	item := h.itemFor(t, "alice")

	_, err = h.engine.Act(ctx, item.ID)
	require.NoError(t, err)
	_, err = h.engine.Act(ctx, item.ID)
	assert.ErrorIs(t, err, domain.ErrIllegalState)

	_, err = h.engine.Act(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrActionItemNotFound)
}

func TestEngine_Complete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	g, err := h.engine.Route(ctx, memoDoc)
	require.NoError(t, err)
	draft := g.Active()[0]

	activated, err := h.engine.Complete(ctx, memoDoc.ID, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"fanout", "legal", "finance"}, nodes(activated))
	assert.Zero(t, h.listSize(t, "alice"), "the completed step's items are retired")

	before, err := h.actions.FindByDocumentID(ctx, memoDoc.ID)
	require.NoError(t, err)
	_, err = h.engine.Complete(ctx, memoDoc.ID, draft.ID)
	assert.ErrorIs(t, err, domain.ErrIllegalState)
	after, err := h.actions.FindByDocumentID(ctx, memoDoc.ID)
	require.NoError(t, err)
	assert.Len(t, after, len(before), "a failed advance publishes nothing")
}

func TestEngine_ConcurrentCompleteFiresOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	g, err := h.engine.Route(ctx, memoDoc)
	require.NoError(t, err)
	draft := g.Active()[0]

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.Complete(ctx, memoDoc.ID, draft.ID)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrIllegalState)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, h.listSize(t, "bob"))
}

func TestEngine_PrimaryDelegation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.dir.SetPrimaryDelegate("alice", "memo", "zed")

	_, err := h.engine.Route(ctx, memoDoc)
	require.NoError(t, err)

	assert.Zero(t, h.listSize(t, "alice"))
	item := h.itemFor(t, "zed")
	assert.Equal(t, domain.DelegationPrimary, item.Delegation)
	assert.Equal(t, "alice", item.DelegatorID)

	delegates, err := h.actions.FindUserPrimaryDelegations(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"zed"}, delegates)
}

func TestEngine_SecondaryDelegateActsForDelegator(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.dir.AddSecondaryDelegate("alice", "memo", "sam")

	_, err := h.engine.Route(ctx, memoDoc)
	require.NoError(t, err)
	assert.Equal(t, 1, h.listSize(t, "alice"))
	assert.Zero(t, h.listSize(t, "sam"), "secondary items are not counted")

	_, err = h.engine.Act(ctx, h.itemFor(t, "sam").ID)
	require.NoError(t, err)
	assert.Zero(t, h.listSize(t, "alice"), "the delegator's copy is settled too")
	assert.Equal(t, 1, h.listSize(t, "bob"))
}

func TestEngine_GapsAndReresolve(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.dir.SetRoleMembers("legal")

	_, err := h.engine.Route(ctx, memoDoc)
	require.NoError(t, err)
	_, err = h.engine.Act(ctx, h.itemFor(t, "alice").ID)
	require.NoError(t, err)

	require.Len(t, h.gaps, 1)
	assert.Equal(t, domain.GapEmpty, h.gaps[0].Reason)
	assert.Equal(t, 1, h.listSize(t, "dave"), "a gap does not block other branches")

	h.dir.SetRoleMembers("legal", "carol")
	published, err := h.engine.Reresolve(ctx, memoDoc.ID)
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Equal(t, "carol", published[0].PrincipalID)

	published, err = h.engine.Reresolve(ctx, memoDoc.ID)
	require.NoError(t, err)
	assert.Empty(t, published, "re-resolution never duplicates items")

	items, err := h.actions.FindByDocumentID(ctx, memoDoc.ID)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestEngine_Withdraw(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Route(ctx, memoDoc)
	require.NoError(t, err)
	_, err = h.engine.Act(ctx, h.itemFor(t, "alice").ID)
	require.NoError(t, err)
	bobs := h.itemFor(t, "bob")

	require.NoError(t, h.engine.Withdraw(ctx, memoDoc.ID))
	require.NoError(t, h.engine.Withdraw(ctx, memoDoc.ID), "withdrawing twice is a no-op")
	assert.Equal(t, 1, h.count(domain.EventDocumentWithdrawn))

	g, err := h.engine.Graph(ctx, memoDoc.ID)
	require.NoError(t, err)
	assert.True(t, g.Withdrawn)
	assert.Empty(t, g.Active())

	assert.Zero(t, h.listSize(t, "bob"))
	outbox, err := h.actions.GetOutbox(ctx, "bob", domain.ActionListFilter{})
	require.NoError(t, err)
	require.Len(t, outbox, 1)
	assert.True(t, outbox[0].Moot)

	_, err = h.engine.Act(ctx, bobs.ID)
	assert.ErrorIs(t, err, domain.ErrWithdrawn)
	_, err = h.engine.Complete(ctx, memoDoc.ID, bobs.InstanceID)
	assert.True(t, errors.Is(err, domain.ErrIllegalState))
}

func TestEngine_NodeStateAndRetitle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	g, err := h.engine.Route(ctx, memoDoc)
	require.NoError(t, err)
	draft := g.Active()[0]

	require.NoError(t, h.engine.SetNodeState(ctx, memoDoc.ID, draft.ID, "attempt", "1"))
	v, ok, err := h.engine.NodeState(ctx, memoDoc.ID, draft.ID, "attempt")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	require.NoError(t, h.engine.RemoveNodeState(ctx, memoDoc.ID, draft.ID, "attempt", true))
	err = h.engine.RemoveNodeState(ctx, memoDoc.ID, draft.ID, "attempt", true)
	assert.ErrorIs(t, err, domain.ErrNodeStateNotFound)

	require.NoError(t, h.engine.Retitle(ctx, memoDoc.ID, "Q4 budget"))
	assert.Equal(t, "Q4 budget", h.itemFor(t, "alice").Title)
	g, err = h.engine.Graph(ctx, memoDoc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Q4 budget", g.Document.Title)

	tpl, err := h.engine.Template(ctx, memoDoc.ID)
	require.NoError(t, err)
	assert.Equal(t, "memo-review", tpl.Name)
}
