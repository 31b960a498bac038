package graph_test

import (
	"strings"
	"testing"

	"github.com/aretw0/waypoint/internal/presentation/graph"
	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reviewTemplate() *domain.Template {
	return &domain.Template{
		Name:         "review",
		DocumentType: "memo",
		Entry:        "draft",
		Nodes: []*domain.NodeTemplate{
			{Name: "draft", Next: []string{"fan-out"}, Recipients: []domain.Recipient{domain.Principal("alice")}},
			{Name: "fan-out", Type: domain.NodeSplit, Next: []string{"legal", "finance"}},
			{Name: "legal", Next: []string{"signoff"}, Recipients: []domain.Recipient{domain.Role("legal")}},
			{Name: "finance", Type: domain.NodeProcess, Entry: "f1", Next: []string{"signoff"},
				Nodes: []*domain.NodeTemplate{
					{Name: "f1", Policy: domain.PolicyFirst, Recipients: []domain.Recipient{domain.Group("finance")}},
				}},
			{Name: "signoff", Type: domain.NodeJoin},
		},
	}
}

func TestGenerateMermaid(t *testing.T) {
	out := graph.GenerateMermaid(reviewTemplate(), nil)

	tests := []struct {
		name     string
		contains string
	}{
		{"Entry Node Shape", `draft(("draft <br/> approve: principal:alice"))`},
		{"Split Node Shape", `fan_out{{"fan-out"}}`},
		{"Join Node Shape", `signoff(["signoff"])`},
		{"Process Subgraph", `subgraph finance ["finance"]`},
		{"Nested Node", `        f1["f1 <br/> approve: group:finance (first)"]`},
		{"Edge Sanitization", "draft --> fan_out"},
		{"Edge To Process", "fan_out --> finance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, out, tt.contains)
		})
	}
	assert.True(t, strings.HasPrefix(out, "graph TD\n"))
	assert.NotContains(t, out, "classDef", "no overlay, no styles")
}

func TestGenerateMermaid_Overlay(t *testing.T) {
	g := domain.NewGraph(domain.Document{ID: "doc-1", Type: "memo"}, reviewTemplate())
	require.NoError(t, g.Add(&domain.NodeInstance{ID: "i1", Node: "draft", Initial: true, Complete: true}))
	require.NoError(t, g.Add(&domain.NodeInstance{ID: "i2", Node: "fan-out", Complete: true}))
	require.NoError(t, g.Add(&domain.NodeInstance{ID: "i3", Node: "legal", Active: true}))
	require.NoError(t, g.Add(&domain.NodeInstance{ID: "i4", Node: "ghost", Active: true}))

	overlay := graph.OverlayFromGraph(g)
	assert.Equal(t, []string{"ghost", "legal"}, overlay.ActiveNodes)
	assert.Equal(t, []string{"draft", "fan-out"}, overlay.CompleteNodes)

	out := graph.GenerateMermaid(reviewTemplate(), overlay)
	assert.Contains(t, out, "classDef active")
	assert.Contains(t, out, "class draft complete;")
	assert.Contains(t, out, "class fan_out complete;")
	assert.Contains(t, out, "class legal active;")
	assert.NotContains(t, out, "ghost", "unknown nodes are not styled")
}
