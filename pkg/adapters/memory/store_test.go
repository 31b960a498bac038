package memory_test

import (
	"context"
	"testing"

	"github.com/aretw0/waypoint/pkg/adapters/memory"
	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphStore_Contract(t *testing.T) {
	ports.RunGraphRepositoryContract(t, memory.NewGraphStore())
}

func TestItemStore_Contract(t *testing.T) {
	ports.RunActionItemRepositoryContract(t, memory.NewItemStore())
}

func TestPreferenceStore_Contract(t *testing.T) {
	ports.RunPreferenceRepositoryContract(t, memory.NewPreferenceStore())
}

func TestTemplateStore_Contract(t *testing.T) {
	ports.RunTemplateStoreContract(t, memory.NewTemplateStore())
}

func TestSource_Templates(t *testing.T) {
	src := memory.NewSource(map[string]string{
		"b": "name: second\ndocument_type: memo\nentry: a\nnodes:\n  - name: a\n",
		"a": "name: first\ndocument_type: memo\nentry: a\nnodes:\n  - name: a\n",
	})

	templates, err := src.Templates(context.Background())
	require.NoError(t, err)
	require.Len(t, templates, 2)
	assert.Equal(t, "first", templates[0].Name, "raw definitions are read in label order")

	built := memory.NewSourceFromTemplates(ports.ContractTemplate("contract", "doc"))
	templates, err = built.Templates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "contract", templates[0].Name)
}

func TestSource_InvalidDefinition(t *testing.T) {
	src := memory.NewSource(map[string]string{"broken": "name: [unterminated"})
	_, err := src.Templates(context.Background())
	assert.Error(t, err)
}

func TestDirectory(t *testing.T) {
	ctx := context.Background()
	dir := memory.NewDirectory().
		AddRoleMembers("finance", "u1", "u2", "u1").
		AddGroupMembers("ops", "u3").
		SetPrimaryDelegate("u1", "invoice", "u9").
		SetPrimaryDelegate("u2", memory.AnyDocumentType, "u8").
		AddSecondaryDelegate("u1", "invoice", "u7").
		AddSecondaryDelegate("u3", memory.AnyDocumentType, "u7")

	t.Run("Resolve", func(t *testing.T) {
		members, err := dir.ResolveRecipients(ctx, domain.Role("finance"))
		require.NoError(t, err)
		assert.Equal(t, []string{"u1", "u2"}, members)

		members, err = dir.ResolveRecipients(ctx, domain.Group("ops"))
		require.NoError(t, err)
		assert.Equal(t, []string{"u3"}, members)

		members, err = dir.ResolveRecipients(ctx, domain.Principal("u5"))
		require.NoError(t, err)
		assert.Equal(t, []string{"u5"}, members)

		members, err = dir.ResolveRecipients(ctx, domain.Role("empty"))
		require.NoError(t, err)
		assert.Empty(t, members)
	})

	t.Run("Primary delegation", func(t *testing.T) {
		d, err := dir.PrimaryDelegate(ctx, "u1", "invoice")
		require.NoError(t, err)
		assert.Equal(t, "u9", d)

		d, err = dir.PrimaryDelegate(ctx, "u1", "leave")
		require.NoError(t, err)
		assert.Empty(t, d)

		d, err = dir.PrimaryDelegate(ctx, "u2", "leave")
		require.NoError(t, err)
		assert.Equal(t, "u8", d, "wildcard delegations apply to every type")
	})

	t.Run("Secondary delegation", func(t *testing.T) {
		delegates, err := dir.SecondaryDelegates(ctx, "u1", "invoice")
		require.NoError(t, err)
		assert.Equal(t, []string{"u7"}, delegates)

		delegators, err := dir.SecondaryDelegators(ctx, "u7")
		require.NoError(t, err)
		assert.Equal(t, []string{"u1", "u3"}, delegators)
	})

	t.Run("Canceled context", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := dir.ResolveRecipients(canceled, domain.Role("finance"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLoadDirectory(t *testing.T) {
	ctx := context.Background()
	dir, err := memory.LoadDirectory([]byte(`
roles:
  legal: [bob, carol]
groups:
  finance: [dave]
delegations:
  - {principal: alice, delegate: zed, document_type: memo}
  - {principal: bob, delegate: sam, type: secondary}
`))
	require.NoError(t, err)

	members, err := dir.ResolveRecipients(ctx, domain.Role("legal"))
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol"}, members)

	d, err := dir.PrimaryDelegate(ctx, "alice", "memo")
	require.NoError(t, err)
	assert.Equal(t, "zed", d)

	delegates, err := dir.SecondaryDelegates(ctx, "bob", "contract")
	require.NoError(t, err)
	assert.Equal(t, []string{"sam"}, delegates, "no document type means every type")

	empty, err := memory.LoadDirectory(nil)
	require.NoError(t, err)
	members, err = empty.ResolveRecipients(ctx, domain.Group("finance"))
	require.NoError(t, err)
	assert.Empty(t, members)

	_, err = memory.LoadDirectory([]byte("delegations:\n  - {principal: a, delegate: b, type: tertiary}\n"))
	assert.Error(t, err)
	_, err = memory.LoadDirectory([]byte("teams: {}\n"))
	assert.Error(t, err, "unknown keys are rejected")
}
