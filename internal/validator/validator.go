package validator

import (
	"fmt"

	"github.com/aretw0/waypoint/pkg/domain"
)

// ValidateTemplate checks a template for structural defects before it is published.
// It collects every problem it finds and returns them as a single *domain.TemplateError.
func ValidateTemplate(t *domain.Template) error {
	v := &templateValidator{template: t, nodes: make(map[string]*domain.NodeTemplate)}

	if t.Name == "" {
		v.report("", "template has no name")
	}
	if t.DocumentType == "" {
		v.report("", "template has no document type")
	}

	t.Walk(func(n *domain.NodeTemplate, _ string) {
		if n.Name == "" {
			v.report("", "node without name")
			return
		}
		if _, dup := v.nodes[n.Name]; dup {
			v.report(n.Name, "duplicate node name")
			return
		}
		v.nodes[n.Name] = n
	})

	v.scope("", t.Entry, t.Nodes)

	if len(v.problems) > 0 {
		return &domain.TemplateError{Template: t.Name, Problems: v.problems}
	}
	return nil
}

type templateValidator struct {
	template *domain.Template
	nodes    map[string]*domain.NodeTemplate
	problems []domain.TemplateProblem
}

func (v *templateValidator) report(node, format string, args ...any) {
	v.problems = append(v.problems, domain.TemplateProblem{Node: node, Reason: fmt.Sprintf(format, args...)})
}

// scope validates one level of nodes: the top-level graph or the body of a process node.
func (v *templateValidator) scope(owner, entry string, nodes []*domain.NodeTemplate) {
	local := make(map[string]*domain.NodeTemplate, len(nodes))
	for _, n := range nodes {
		if n.Name != "" {
			local[n.Name] = n
		}
	}

	switch {
	case entry == "" && owner == "":
		v.report("", "no entry node")
	case entry == "":
		v.report(owner, "process has no entry node")
	case local[entry] == nil:
		v.report(owner, "entry node '%s' is not defined in this scope", entry)
	}

	for _, n := range nodes {
		v.node(n, local)
	}

	if v.acyclic(nodes, local) && local[entry] != nil {
		v.reachable(entry, local)
		v.splits(nodes, local)
	}
}

func (v *templateValidator) node(n *domain.NodeTemplate, local map[string]*domain.NodeTemplate) {
	for _, next := range n.Next {
		if _, ok := local[next]; ok {
			continue
		}
		if _, ok := v.nodes[next]; ok {
			v.report(n.Name, "successor '%s' belongs to another process scope", next)
		} else {
			v.report(n.Name, "unknown successor '%s'", next)
		}
	}

	for _, r := range n.Recipients {
		switch r.Kind {
		case domain.RecipientPrincipal, domain.RecipientRole, domain.RecipientGroup:
		default:
			v.report(n.Name, "unknown recipient kind '%s'", r.Kind)
		}
		if r.ID == "" {
			v.report(n.Name, "recipient without id")
		}
	}

	switch n.PolicyOrDefault() {
	case domain.PolicyAll, domain.PolicyFirst:
	default:
		v.report(n.Name, "unknown policy '%s'", n.Policy)
	}

	switch n.Kind() {
	case domain.NodeSimple, domain.NodeJoin:
		if len(n.Next) > 1 {
			v.report(n.Name, "%s node has %d successors; only split nodes may fan out", n.Kind(), len(n.Next))
		}
	case domain.NodeSplit:
		if len(n.Next) < 2 {
			v.report(n.Name, "split node needs at least two successors")
		}
	case domain.NodeProcess:
		if len(n.Next) > 1 {
			v.report(n.Name, "process node has %d successors; only split nodes may fan out", len(n.Next))
		}
		if len(n.Recipients) > 0 {
			v.report(n.Name, "process node cannot have recipients; address its member nodes instead")
		}
		if len(n.Nodes) == 0 {
			v.report(n.Name, "process node has no nodes")
		} else {
			v.scope(n.Name, n.Entry, n.Nodes)
		}
		return
	default:
		v.report(n.Name, "unknown node type '%s'", n.Type)
	}

	if len(n.Nodes) > 0 || n.Entry != "" {
		v.report(n.Name, "only process nodes may declare a sub-graph")
	}
}

// acyclic runs a three-colour DFS over the scope and reports every back edge.
func (v *templateValidator) acyclic(nodes []*domain.NodeTemplate, local map[string]*domain.NodeTemplate) bool {
	const (
		white = iota
		grey
		black
	)
	colour := make(map[string]int, len(nodes))
	ok := true

	var visit func(name string)
	visit = func(name string) {
		colour[name] = grey
		for _, next := range local[name].Next {
			if local[next] == nil {
				continue
			}
			switch colour[next] {
			case grey:
				v.report(name, "cycle through successor '%s'", next)
				ok = false
			case white:
				visit(next)
			}
		}
		colour[name] = black
	}

	for _, n := range nodes {
		if n.Name != "" && colour[n.Name] == white {
			visit(n.Name)
		}
	}
	return ok
}

// reachable crawls the scope from its entry and reports unreachable nodes.
func (v *templateValidator) reachable(entry string, local map[string]*domain.NodeTemplate) {
	visited := map[string]bool{}
	queue := []string{entry}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] || local[current] == nil {
			continue
		}
		visited[current] = true
		queue = append(queue, local[current].Next...)
	}
	for name := range local {
		if !visited[name] {
			v.report(name, "unreachable from entry '%s'", entry)
		}
	}
}

// splits checks that every split's branches meet at one join, and that every join closes a split.
func (v *templateValidator) splits(nodes []*domain.NodeTemplate, local map[string]*domain.NodeTemplate) {
	matched := map[string]bool{}
	for _, n := range nodes {
		if !n.IsSplit() || len(n.Next) < 2 {
			continue
		}
		join := ""
		for _, next := range n.Next {
			found := matchingJoin(next, local)
			switch {
			case found == "":
				v.report(n.Name, "branch '%s' ends before reaching a join", next)
				join = ""
			case join == "":
				join = found
			case join != found:
				v.report(n.Name, "branches meet at different joins ('%s' and '%s')", join, found)
			}
		}
		if join != "" {
			matched[join] = true
		}
	}
	for _, n := range nodes {
		if n.IsJoin() && !matched[n.Name] {
			v.report(n.Name, "join is not closing any split")
		}
	}
}

// matchingJoin follows a branch forward and returns the first join at nesting depth zero.
// Nested splits are followed through their first successor; their own joins are checked separately.
func matchingJoin(start string, local map[string]*domain.NodeTemplate) string {
	depth := 0
	current := start
	for steps := 0; steps <= len(local); steps++ {
		n := local[current]
		if n == nil {
			return ""
		}
		switch {
		case n.IsJoin() && depth == 0:
			return n.Name
		case n.IsJoin():
			depth--
		case n.IsSplit():
			depth++
		}
		if len(n.Next) == 0 {
			return ""
		}
		current = n.Next[0]
	}
	return ""
}
