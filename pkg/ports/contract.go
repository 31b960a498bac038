package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contractGraph(t *testing.T, documentID string) *domain.Graph {
	t.Helper()
	g := domain.NewGraph(domain.Document{ID: documentID, Type: "contract", Title: "Contract"}, &domain.Template{Name: "contract", Version: 1})
	require.NoError(t, g.Add(&domain.NodeInstance{ID: documentID + "-a", Node: "a", Initial: true, Complete: true}))
	require.NoError(t, g.Add(&domain.NodeInstance{ID: documentID + "-b", Node: "b", Active: true}))
	require.NoError(t, g.Link(documentID+"-a", documentID+"-b"))
	b, _ := g.Instance(documentID + "-b")
	b.SetNodeState("round", "1")
	return g
}

// RunGraphRepositoryContract runs a suite of tests to verify that a GraphRepository
// implementation adheres to the defined interface contract.
func RunGraphRepositoryContract(t *testing.T, repo GraphRepository) {
	ctx := context.Background()
	documentID := "contract-doc-" + time.Now().Format("20060102150405.000000")

	t.Run("Save and Load", func(t *testing.T) {
		g := contractGraph(t, documentID)
		require.NoError(t, repo.Save(ctx, g), "Save should not return error")
		assert.Equal(t, 1, g.Version, "Save bumps the version")

		loaded, err := repo.Load(ctx, documentID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, 1, loaded.Version)
		assert.Equal(t, "contract", loaded.Template)
		assert.Equal(t, g.Edges(), loaded.Edges())
		require.Len(t, loaded.Active(), 1)
		v, ok := loaded.Active()[0].NodeState("round")
		assert.True(t, ok)
		assert.Equal(t, "1", v)
		assert.NoError(t, loaded.Check())
	})

	t.Run("Loaded graphs are isolated", func(t *testing.T) {
		loaded, err := repo.Load(ctx, documentID)
		require.NoError(t, err)
		loaded.Active()[0].Finish()

		again, err := repo.Load(ctx, documentID)
		require.NoError(t, err)
		assert.Len(t, again.Active(), 1)
	})

	t.Run("Stale save is rejected", func(t *testing.T) {
		first, err := repo.Load(ctx, documentID)
		require.NoError(t, err)
		second, err := repo.Load(ctx, documentID)
		require.NoError(t, err)

		first.Active()[0].SetNodeState("round", "2")
		require.NoError(t, repo.Save(ctx, first))

		second.Active()[0].SetNodeState("round", "3")
		err = repo.Save(ctx, second)
		assert.ErrorIs(t, err, domain.ErrStaleState)

		loaded, err := repo.Load(ctx, documentID)
		require.NoError(t, err)
		v, _ := loaded.Active()[0].NodeState("round")
		assert.Equal(t, "2", v, "the conflicting writer must not overwrite")
	})

	t.Run("Creating an existing document is stale", func(t *testing.T) {
		err := repo.Save(ctx, contractGraph(t, documentID))
		assert.ErrorIs(t, err, domain.ErrStaleState)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := repo.Load(ctx, "non-existent-"+documentID)
		assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
	})

	t.Run("List", func(t *testing.T) {
		other := documentID + "-2"
		require.NoError(t, repo.Save(ctx, contractGraph(t, other)))
		defer func() { _ = repo.Delete(ctx, other) }()

		ids, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, documentID)
		assert.Contains(t, ids, other)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, documentID), "Delete should not return error")
		_, err := repo.Load(ctx, documentID)
		assert.ErrorIs(t, err, domain.ErrDocumentNotFound, "Load after Delete should return ErrDocumentNotFound")
	})
}

func contractItem(documentID, principalID string) *domain.ActionItem {
	return &domain.ActionItem{
		DocumentID:   documentID,
		DocumentType: "contract",
		Title:        "Contract",
		InstanceID:   documentID + "-b",
		Node:         "b",
		PrincipalID:  principalID,
		Action:       domain.ActionApprove,
		Source:       domain.Principal(principalID),
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
}

// RunActionItemRepositoryContract runs a suite of tests to verify that an ActionItemRepository
// implementation adheres to the defined interface contract.
func RunActionItemRepositoryContract(t *testing.T, repo ActionItemRepository) {
	ctx := context.Background()
	documentID := "contract-doc-" + time.Now().Format("20060102150405.000000")

	var saved *domain.ActionItem

	t.Run("Upsert creates", func(t *testing.T) {
		var err error
		saved, err = repo.Upsert(ctx, contractItem(documentID, "alice"))
		require.NoError(t, err)
		assert.NotEmpty(t, saved.ID, "Upsert assigns an ID")
		assert.Equal(t, 1, saved.Version)

		got, err := repo.Get(ctx, saved.ID)
		require.NoError(t, err)
		assert.Equal(t, saved.Key(), got.Key())
		assert.Equal(t, "Contract", got.Title)
	})

	t.Run("Upsert on the same key does not duplicate", func(t *testing.T) {
		again, err := repo.Upsert(ctx, contractItem(documentID, "alice"))
		require.NoError(t, err)
		assert.Equal(t, saved.ID, again.ID)
		assert.Equal(t, 2, again.Version)

		items, err := repo.Find(ctx, domain.ItemQuery{DocumentID: documentID})
		require.NoError(t, err)
		assert.Len(t, items, 1)
		saved = again
	})

	t.Run("Stale upsert is rejected", func(t *testing.T) {
		stale := saved.Clone()
		stale.Version = saved.Version - 1
		stale.Title = "Lost update"
		_, err := repo.Upsert(ctx, stale)
		assert.ErrorIs(t, err, domain.ErrStaleState)

		got, err := repo.Get(ctx, saved.ID)
		require.NoError(t, err)
		assert.Equal(t, "Contract", got.Title)
	})

	t.Run("Find by principal and document type", func(t *testing.T) {
		_, err := repo.Upsert(ctx, contractItem(documentID, "bob"))
		require.NoError(t, err)

		items, err := repo.Find(ctx, domain.ItemQuery{PrincipalID: "bob", DocumentID: documentID})
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "bob", items[0].PrincipalID)

		items, err = repo.Find(ctx, domain.ItemQuery{DocumentType: "contract", DocumentID: documentID})
		require.NoError(t, err)
		assert.Len(t, items, 2)
	})

	t.Run("MoveToOutbox", func(t *testing.T) {
		_, err := repo.MoveToOutbox(ctx, saved.ID, saved.Version-1)
		assert.ErrorIs(t, err, domain.ErrStaleState)

		moved, err := repo.MoveToOutbox(ctx, saved.ID, saved.Version)
		require.NoError(t, err)
		assert.True(t, moved.Outbox)
		assert.False(t, moved.OutboxedAt.IsZero())

		active, err := repo.Find(ctx, domain.ItemQuery{PrincipalID: "alice", DocumentID: documentID})
		require.NoError(t, err)
		assert.Empty(t, active)

		outbox, err := repo.Find(ctx, domain.ItemQuery{PrincipalID: "alice", DocumentID: documentID, Location: domain.LocationOutbox})
		require.NoError(t, err)
		require.Len(t, outbox, 1)
		assert.Equal(t, saved.ID, outbox[0].ID)
		saved = moved
	})

	t.Run("Unversioned upsert keeps an outboxed item in the outbox", func(t *testing.T) {
		again, err := repo.Upsert(ctx, contractItem(documentID, "alice"))
		require.NoError(t, err)
		assert.Equal(t, saved.ID, again.ID)
		assert.True(t, again.Outbox)
		assert.True(t, again.OutboxedAt.Equal(saved.OutboxedAt))

		active, err := repo.Find(ctx, domain.ItemQuery{PrincipalID: "alice", DocumentID: documentID})
		require.NoError(t, err)
		assert.Empty(t, active)

		reactivated := again.Clone()
		reactivated.Outbox = false
		reactivated.OutboxedAt = time.Time{}
		back, err := repo.Upsert(ctx, reactivated)
		require.NoError(t, err, "a versioned write may move the item back")
		assert.False(t, back.Outbox)

		active, err = repo.Find(ctx, domain.ItemQuery{PrincipalID: "alice", DocumentID: documentID})
		require.NoError(t, err)
		assert.Len(t, active, 1)
		saved = back
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := repo.Get(ctx, "non-existent-"+documentID)
		assert.ErrorIs(t, err, domain.ErrActionItemNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, saved.ID))
		_, err := repo.Get(ctx, saved.ID)
		assert.ErrorIs(t, err, domain.ErrActionItemNotFound)

		items, err := repo.Find(ctx, domain.ItemQuery{DocumentID: documentID, Location: domain.LocationAny})
		require.NoError(t, err)
		assert.Len(t, items, 1, "only bob's item is left")

		for _, item := range items {
			_ = repo.Delete(ctx, item.ID)
		}
	})
}

// ContractTemplate returns a small valid split/join template for store tests.
func ContractTemplate(name, documentType string) *domain.Template {
	return &domain.Template{
		Name:         name,
		DocumentType: documentType,
		Entry:        "a",
		Nodes: []*domain.NodeTemplate{
			{Name: "a", Type: domain.NodeSplit, Next: []string{"b", "c"}},
			{Name: "b", Next: []string{"d"}, Recipients: []domain.Recipient{domain.Principal("alice")}},
			{Name: "c", Next: []string{"d"}, Recipients: []domain.Recipient{domain.Role("reviewers")}},
			{Name: "d", Type: domain.NodeJoin},
		},
	}
}

// RunTemplateStoreContract runs a suite of tests to verify that a TemplateStore
// implementation adheres to the defined interface contract.
func RunTemplateStoreContract(t *testing.T, store TemplateStore) {
	ctx := context.Background()

	t.Run("Publish and Get", func(t *testing.T) {
		published, err := store.Publish(ctx, ContractTemplate("contract", "contract-doc"))
		require.NoError(t, err)
		assert.Equal(t, 1, published.Version)

		got, err := store.Get(ctx, "contract")
		require.NoError(t, err)
		assert.Equal(t, "a", got.Entry)
		assert.Len(t, got.Nodes, 4)

		byType, err := store.ForDocumentType(ctx, "contract-doc")
		require.NoError(t, err)
		assert.Equal(t, "contract", byType.Name)
	})

	t.Run("Republish creates a new version", func(t *testing.T) {
		next := ContractTemplate("contract", "contract-doc")
		next.Description = "second"
		published, err := store.Publish(ctx, next)
		require.NoError(t, err)
		assert.Equal(t, 2, published.Version)

		old, err := store.GetVersion(ctx, "contract", 1)
		require.NoError(t, err)
		assert.Empty(t, old.Description)
	})

	t.Run("Published templates are immutable", func(t *testing.T) {
		got, err := store.Get(ctx, "contract")
		require.NoError(t, err)
		got.Nodes[0].Next = nil

		again, err := store.Get(ctx, "contract")
		require.NoError(t, err)
		assert.Len(t, again.Nodes[0].Next, 2)
	})

	t.Run("Invalid template is rejected", func(t *testing.T) {
		bad := ContractTemplate("broken", "broken-doc")
		bad.Nodes[1].Next = []string{"a"}
		_, err := store.Publish(ctx, bad)
		assert.ErrorIs(t, err, domain.ErrInvalidTemplate)

		_, err = store.Get(ctx, "broken")
		assert.ErrorIs(t, err, domain.ErrTemplateNotFound)
	})

	t.Run("List", func(t *testing.T) {
		names, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, names, "contract")
	})

	t.Run("Unknown document type", func(t *testing.T) {
		_, err := store.ForDocumentType(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrTemplateNotFound)
	})
}

// RunPreferenceRepositoryContract runs a suite of tests to verify that a PreferenceRepository
// implementation adheres to the defined interface contract.
func RunPreferenceRepositoryContract(t *testing.T, repo PreferenceRepository) {
	ctx := context.Background()
	principal := "contract-user-" + time.Now().Format("20060102150405.000000")

	enabled, err := repo.OutboxEnabled(ctx, principal)
	require.NoError(t, err)
	assert.True(t, enabled, "outbox is enabled until turned off")

	require.NoError(t, repo.SetOutboxEnabled(ctx, principal, false))
	enabled, err = repo.OutboxEnabled(ctx, principal)
	require.NoError(t, err)
	assert.False(t, enabled)

	other, err := repo.OutboxEnabled(ctx, principal+"-other")
	require.NoError(t, err)
	assert.True(t, other, "preferences are per principal")

	require.NoError(t, repo.SetOutboxEnabled(ctx, principal, true))
	enabled, err = repo.OutboxEnabled(ctx, principal)
	require.NoError(t, err)
	assert.True(t, enabled)
}
