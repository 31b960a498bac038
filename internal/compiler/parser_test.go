package compiler_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/waypoint/internal/compiler"
	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reviewYAML = `
name: review
document_type: invoice
entry: a
nodes:
  - name: a
    type: split
    next: [b, c]
  - name: b
    next: [d]
    recipients:
      - {kind: principal, id: u1}
  - name: c
    next: [d]
    action: acknowledge
    policy: first
    recipients:
      - {kind: role, id: finance}
  - name: d
    type: join
`

func TestParser_Parse(t *testing.T) {
	tpl, err := compiler.NewParser().Parse([]byte(reviewYAML))
	require.NoError(t, err)

	assert.Equal(t, "review", tpl.Name)
	assert.Equal(t, "invoice", tpl.DocumentType)
	require.Len(t, tpl.Nodes, 4)
	assert.Equal(t, domain.NodeSplit, tpl.Nodes[0].Type)
	assert.Equal(t, []string{"b", "c"}, tpl.Nodes[0].Next)

	c, ok := tpl.Node("c")
	require.True(t, ok)
	assert.Equal(t, domain.ActionAcknowledge, c.ActionOrDefault())
	assert.Equal(t, domain.PolicyFirst, c.PolicyOrDefault())
	assert.Equal(t, domain.Role("finance"), c.Recipients[0])
}

func TestParser_JSON(t *testing.T) {
	data := `{"name": "solo", "document_type": "memo", "entry": "a", "nodes": [{"name": "a"}]}`
	tpl, err := compiler.NewParser().Parse([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, "solo", tpl.Name)
	assert.Len(t, tpl.Nodes, 1)
}

func TestParser_Errors(t *testing.T) {
	p := compiler.NewParser()

	_, err := p.Parse([]byte("document_type: memo\nentry: a\n"))
	assert.ErrorIs(t, err, compiler.ErrMissingName)

	_, err = p.Parse([]byte("name: x\nnodes:\n  - name: a\n    nxt: [b]\n"))
	assert.Error(t, err, "unknown fields are rejected")
}

func TestParser_ParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "expense.yaml")
	require.NoError(t, os.WriteFile(path, []byte("document_type: expense\nentry: a\nnodes:\n  - name: a\n"), 0644))

	tpl, err := compiler.NewParser().ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "expense", tpl.Name, "name defaults to the file name")
}
