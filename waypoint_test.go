package waypoint_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/waypoint"
	"github.com/aretw0/waypoint/pkg/adapters/memory"
	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/dsl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contractTemplate() *domain.Template {
	b := dsl.New("contract-review").ForDocumentType("contract")
	b.Add("legal").Role("legal").Go("archive").
		Add("archive").Principal("alice").Action(domain.ActionFYI)
	return b.MustBuild()
}

func TestEngine_RouteAndAct(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	var activated, published int
	eng := waypoint.New(
		waypoint.WithDirectory(memory.NewDirectory().AddRoleMembers("legal", "bob", "carol")),
		waypoint.WithViewTTL(0),
		waypoint.WithClock(func() time.Time { return fixed }),
		waypoint.WithLifecycleHooks(domain.LifecycleHooks{
			OnNodeActivated: func(context.Context, *domain.NodeEvent) { activated++ },
		}),
		waypoint.WithLifecycleHooks(domain.LifecycleHooks{
			OnItemPublished: func(context.Context, *domain.ItemEvent) { published++ },
		}),
	)

	n, err := eng.Load(ctx, memory.NewSourceFromTemplates(contractTemplate()))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	g, err := eng.Route(ctx, domain.Document{ID: "doc-1", Type: "contract", Title: "NDA"})
	require.NoError(t, err)
	assert.Equal(t, "contract-review", g.Document.Template)
	require.Len(t, g.Active(), 1)

	bob, err := eng.ActionList().GetActionList(ctx, "bob", domain.ActionListFilter{})
	require.NoError(t, err)
	require.Len(t, bob, 1)
	assert.Equal(t, "NDA", bob[0].Title)
	assert.Equal(t, fixed, bob[0].CreatedAt)

	_, err = eng.Act(ctx, bob[0].ID)
	require.NoError(t, err)

	carol, err := eng.ActionList().GetActionList(ctx, "carol", domain.ActionListFilter{})
	require.NoError(t, err)
	require.Len(t, carol, 1, "every legal member must approve")
	_, err = eng.Act(ctx, carol[0].ID)
	require.NoError(t, err)

	alice, err := eng.ActionList().GetActionList(ctx, "alice", domain.ActionListFilter{})
	require.NoError(t, err)
	require.Len(t, alice, 1)
	assert.Equal(t, domain.ActionFYI, alice[0].Action)
	assert.Equal(t, "archive", alice[0].Node)

	assert.Equal(t, 2, activated)
	assert.Equal(t, 3, published, "both hook sets are chained")
}

func TestEngine_LoadRejectsInvalidTemplates(t *testing.T) {
	eng := waypoint.New()
	broken := &domain.Template{Name: "broken", DocumentType: "x", Entry: "missing"}

	n, err := eng.Load(context.Background(), memory.NewSourceFromTemplates(contractTemplate(), broken))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidTemplate)
	assert.Equal(t, 1, n)

	names, err := eng.Templates().List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"contract-review"}, names)
}

func TestEngine_WithdrawAndRetitle(t *testing.T) {
	ctx := context.Background()
	eng := waypoint.New(
		waypoint.WithDirectory(memory.NewDirectory().AddRoleMembers("legal", "bob")),
		waypoint.WithViewTTL(0),
	)
	_, err := eng.Publish(ctx, contractTemplate())
	require.NoError(t, err)
	_, err = eng.Route(ctx, domain.Document{ID: "doc-1", Type: "contract", Title: "Draft"})
	require.NoError(t, err)

	require.NoError(t, eng.Retitle(ctx, "doc-1", "Final"))
	items, err := eng.ActionList().FindByDocumentID(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Final", items[0].Title)

	require.NoError(t, eng.Withdraw(ctx, "doc-1"))
	g, err := eng.Graph(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, g.Withdrawn)
	assert.Empty(t, g.Active())

	_, err = eng.Act(ctx, items[0].ID)
	assert.ErrorIs(t, err, domain.ErrWithdrawn)
	assert.ErrorIs(t, err, domain.ErrIllegalState)
}

func TestEngine_NodeState(t *testing.T) {
	ctx := context.Background()
	eng := waypoint.New(waypoint.WithDirectory(memory.NewDirectory().AddRoleMembers("legal", "bob")))
	_, err := eng.Publish(ctx, contractTemplate())
	require.NoError(t, err)
	g, err := eng.Route(ctx, domain.Document{ID: "doc-1", Type: "contract"})
	require.NoError(t, err)
	inst := g.Active()[0]

	require.NoError(t, eng.SetNodeState(ctx, "doc-1", inst.ID, "ticket", "LEG-7"))
	value, ok, err := eng.NodeState(ctx, "doc-1", inst.ID, "ticket")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "LEG-7", value)

	require.NoError(t, eng.RemoveNodeState(ctx, "doc-1", inst.ID, "ticket", true))
	err = eng.RemoveNodeState(ctx, "doc-1", inst.ID, "ticket", true)
	assert.ErrorIs(t, err, domain.ErrNodeStateNotFound)

	tpl, err := eng.Template(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "contract-review", tpl.Name)
}

func TestEngine_WithPreferenceStore(t *testing.T) {
	ctx := context.Background()
	prefs := memory.NewPreferenceStore()
	require.NoError(t, prefs.SetOutboxEnabled(ctx, "alice", false))

	eng := waypoint.New(waypoint.WithPreferenceStore(prefs))
	enabled, err := prefs.OutboxEnabled(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, enabled)

	require.NoError(t, eng.ActionList().SetOutboxPreference(ctx, "bob", false))
	enabled, err = prefs.OutboxEnabled(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, enabled, "the engine writes through the configured store")
}
