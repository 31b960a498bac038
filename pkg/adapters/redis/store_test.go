package redis_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/waypoint/internal/idgen"
	"github.com/aretw0/waypoint/pkg/adapters/redis"
	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestGraphStore_Contract(t *testing.T) {
	_, client := newClient(t)
	ports.RunGraphRepositoryContract(t, redis.NewGraphStore(client))
}

func TestItemStore_Contract(t *testing.T) {
	_, client := newClient(t)
	ports.RunActionItemRepositoryContract(t, redis.NewItemStore(client))
}

func TestPreferenceStore_Contract(t *testing.T) {
	mr, client := newClient(t)
	ports.RunPreferenceRepositoryContract(t, redis.NewPreferenceStore(client, redis.WithPrefix("prefs:")))

	require.NoError(t, redis.NewPreferenceStore(client).SetOutboxEnabled(context.Background(), "alice", false))
	members, err := mr.SMembers("waypoint:prefs:outbox-off")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)

	shared, err := redis.NewPreferenceStore(client).OutboxEnabled(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, shared, "replicas on the same redis share preferences")
}

func TestGraphStore_Prefix(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewGraphStore(client, redis.WithPrefix("custom:app:"))
	ctx := context.Background()

	g := domain.NewGraph(domain.Document{ID: "doc-1", Type: "memo"}, &domain.Template{Name: "memo", Version: 1})
	require.NoError(t, store.Save(ctx, g))

	assert.True(t, mr.Exists("custom:app:graph:doc-1"), "graph key carries the prefix")
	assert.True(t, mr.Exists("custom:app:graphs"), "index carries the prefix")

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1"}, ids)
}

func TestGraphStore_ReplicasConflict(t *testing.T) {
	_, client := newClient(t)
	ctx := context.Background()
	replicaA := redis.NewGraphStore(client)
	replicaB := redis.NewGraphStore(client)

	g := domain.NewGraph(domain.Document{ID: "doc-1", Type: "memo"}, &domain.Template{Name: "memo", Version: 1})
	require.NoError(t, replicaA.Save(ctx, g))

	a, err := replicaA.Load(ctx, "doc-1")
	require.NoError(t, err)
	b, err := replicaB.Load(ctx, "doc-1")
	require.NoError(t, err)

	a.Document.Title = "from a"
	require.NoError(t, replicaA.Save(ctx, a))
	b.Document.Title = "from b"
	assert.ErrorIs(t, replicaB.Save(ctx, b), domain.ErrStaleState)

	loaded, err := replicaB.Load(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "from a", loaded.Document.Title)
	assert.Equal(t, 2, loaded.Version)
}

func TestItemStore_Indexes(t *testing.T) {
	_, client := newClient(t)
	store := redis.NewItemStore(client, redis.WithIDGenerator(idgen.Sequence("item")))
	ctx := context.Background()

	put := func(doc, principal, delegator string) *domain.ActionItem {
		item := &domain.ActionItem{
			DocumentID:   doc,
			DocumentType: "memo",
			InstanceID:   doc + "-n1",
			Node:         "review",
			PrincipalID:  principal,
			Action:       domain.ActionApprove,
			DelegatorID:  delegator,
		}
		if delegator != "" {
			item.Delegation = domain.DelegationPrimary
		}
		saved, err := store.Upsert(ctx, item)
		require.NoError(t, err)
		return saved
	}

	first := put("doc-1", "bob", "")
	put("doc-2", "zed", "alice")
	put("doc-1", "carol", "")

	assert.Equal(t, "item-1", first.ID)
	assert.False(t, first.CreatedAt.IsZero())

	byDelegator, err := store.Find(ctx, domain.ItemQuery{DelegatorID: "alice"})
	require.NoError(t, err)
	require.Len(t, byDelegator, 1)
	assert.Equal(t, "zed", byDelegator[0].PrincipalID)

	byDoc, err := store.Find(ctx, domain.ItemQuery{DocumentID: "doc-1"})
	require.NoError(t, err)
	require.Len(t, byDoc, 2)
	assert.Equal(t, []string{"bob", "carol"}, []string{byDoc[0].PrincipalID, byDoc[1].PrincipalID}, "insertion order")

	all, err := store.Find(ctx, domain.ItemQuery{Location: domain.LocationAny})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// Re-keying an item by ID moves it between index sets.
	first.PrincipalID = "dave"
	moved, err := store.Upsert(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "item-1", moved.ID)

	bobs, err := store.Find(ctx, domain.ItemQuery{PrincipalID: "bob"})
	require.NoError(t, err)
	assert.Empty(t, bobs)
	daves, err := store.Find(ctx, domain.ItemQuery{PrincipalID: "dave"})
	require.NoError(t, err)
	assert.Len(t, daves, 1)
}
