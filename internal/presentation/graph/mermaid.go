package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/waypoint/pkg/domain"
)

// Overlay contains the state of a routed document to visualize on its template.
type Overlay struct {
	ActiveNodes   []string
	CompleteNodes []string
}

// OverlayFromGraph marks the template nodes that have active or completed instances.
// A node with both (a reused join, a revisited step) is shown as active.
func OverlayFromGraph(g *domain.Graph) *Overlay {
	active := make(map[string]bool)
	complete := make(map[string]bool)
	for _, inst := range g.Instances() {
		switch {
		case inst.Active:
			active[inst.Node] = true
		case inst.Complete:
			complete[inst.Node] = true
		}
	}
	overlay := &Overlay{}
	for node := range active {
		overlay.ActiveNodes = append(overlay.ActiveNodes, node)
	}
	for node := range complete {
		if !active[node] {
			overlay.CompleteNodes = append(overlay.CompleteNodes, node)
		}
	}
	sort.Strings(overlay.ActiveNodes)
	sort.Strings(overlay.CompleteNodes)
	return overlay
}

// GenerateMermaid produces a Mermaid flowchart of a template.
// It applies semantic styling:
// - Entry: ((Circle))
// - Split: {{Hexagon}}
// - Join: ([Stadium])
// - Process: subgraph holding its nodes
// - Default: [Rectangle] labelled with the action and recipients
// It also applies overlay styles (Active/Complete) if provided.
func GenerateMermaid(tpl *domain.Template, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	writeNodes(&sb, tpl, tpl.Nodes, "    ")
	tpl.Walk(func(n *domain.NodeTemplate, _ string) {
		for _, next := range n.Next {
			fmt.Fprintf(&sb, "    %s --> %s\n", sanitizeMermaidID(n.Name), sanitizeMermaidID(next))
		}
	})

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high contrast regardless of theme.
		sb.WriteString("    classDef complete fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef active fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
		writeClass(&sb, tpl, overlay.CompleteNodes, "complete")
		writeClass(&sb, tpl, overlay.ActiveNodes, "active")
	}

	return sb.String()
}

func writeNodes(sb *strings.Builder, tpl *domain.Template, nodes []*domain.NodeTemplate, indent string) {
	for _, n := range nodes {
		safeID := sanitizeMermaidID(n.Name)

		if n.IsProcess() {
			fmt.Fprintf(sb, "%ssubgraph %s [\"%s\"]\n", indent, safeID, escapeLabel(n.Name))
			writeNodes(sb, tpl, n.Nodes, indent+"    ")
			fmt.Fprintf(sb, "%send\n", indent)
			continue
		}

		opener, closer := "[", "]"
		switch {
		case n.Name == tpl.Entry:
			opener, closer = "((", "))"
		case n.IsSplit():
			opener, closer = "{{", "}}"
		case n.IsJoin():
			opener, closer = "([", "])"
		}
		fmt.Fprintf(sb, "%s%s%s\"%s\"%s\n", indent, safeID, opener, label(n), closer)
	}
}

func label(n *domain.NodeTemplate) string {
	text := escapeLabel(n.Name)
	if len(n.Recipients) == 0 {
		return text
	}
	recipients := make([]string, len(n.Recipients))
	for i, r := range n.Recipients {
		recipients[i] = escapeLabel(r.String())
	}
	text += fmt.Sprintf(" <br/> %s: %s", n.ActionOrDefault(), strings.Join(recipients, ", "))
	if n.PolicyOrDefault() == domain.PolicyFirst {
		text += " (first)"
	}
	return text
}

// writeClass styles the named nodes, skipping names the template does not know.
func writeClass(sb *strings.Builder, tpl *domain.Template, names []string, class string) {
	seen := make(map[string]bool)
	for _, name := range names {
		if _, ok := tpl.Node(name); !ok {
			continue
		}
		safeID := sanitizeMermaidID(name)
		if seen[safeID] {
			continue
		}
		seen[safeID] = true
		fmt.Fprintf(sb, "    class %s %s;\n", safeID, class)
	}
}

func escapeLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
