package middleware_test

import (
	"context"
	"testing"

	"github.com/aretw0/waypoint/pkg/adapters/memory"
	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/persistence/middleware"
	"github.com/aretw0/waypoint/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIIMiddleware_Masking(t *testing.T) {
	ctx := context.Background()
	underlying := memory.NewGraphStore()
	mw, err := middleware.NewPIIMiddleware([]string{"password", "^ssn"})
	require.NoError(t, err)
	secure := mw(underlying)

	g := domain.NewGraph(domain.Document{ID: "doc-1", Type: "hr"}, nil)
	inst := &domain.NodeInstance{ID: "hr-1", Node: "hr", Active: true}
	inst.SetNodeState("username", "jdoe")
	inst.SetNodeState("user_password", "secret123")
	inst.SetNodeState("ssn_number", "999-99-9999")
	require.NoError(t, g.Add(inst))

	require.NoError(t, secure.Save(ctx, g))
	pw, _ := inst.NodeState("user_password")
	assert.Equal(t, "secret123", pw, "in-memory graph is not modified")

	stored, err := secure.Load(ctx, "doc-1")
	require.NoError(t, err)
	got, err := stored.Instance("hr-1")
	require.NoError(t, err)

	for key, want := range map[string]string{
		"username":      "jdoe",
		"user_password": middleware.Masked,
		"ssn_number":    middleware.Masked,
	} {
		v, ok := got.NodeState(key)
		require.True(t, ok, key)
		assert.Equal(t, want, v, key)
	}
}

func TestPIIMiddleware_InvalidPattern(t *testing.T) {
	_, err := middleware.NewPIIMiddleware([]string{"("})
	assert.Error(t, err)
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	underlying := memory.NewGraphStore()
	pii, err := middleware.NewPIIMiddleware([]string{"password"})
	require.NoError(t, err)
	enc := mustEncryption(t, middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	repo := middleware.Chain(underlying, pii, enc)

	g := newGraph(t)
	inst, err := g.Instance("legal-1")
	require.NoError(t, err)
	inst.SetNodeState("password", "hunter2")
	require.NoError(t, repo.Save(ctx, g))

	loaded, err := repo.Load(ctx, "doc-1")
	require.NoError(t, err)
	inst, err = loaded.Instance("legal-1")
	require.NoError(t, err)
	v, _ := inst.NodeState("password")
	assert.Equal(t, middleware.Masked, v, "masked before sealing")
	v, _ = inst.NodeState("reviewer_note")
	assert.Equal(t, "clause 4 is risky", v)

	ids, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1"}, ids)
	require.NoError(t, repo.Delete(ctx, "doc-1"))
	_, err = repo.Load(ctx, "doc-1")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestChain_GraphRepositoryContract(t *testing.T) {
	pii, err := middleware.NewPIIMiddleware([]string{"password"})
	require.NoError(t, err)
	enc := mustEncryption(t, middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	ports.RunGraphRepositoryContract(t, middleware.Chain(memory.NewGraphStore(), pii, enc))
}
