package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Edge is a directed next/previous relation between two instances.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is the per-document arena of node instances.
//
// Instances are indexed by ID and all relations live in a single edge list, so the
// next and previous views can never disagree. Every mutation goes through Link, Unlink or ClearNext.
type Graph struct {
	Document        Document
	Template        string
	TemplateVersion int
	// Version is the optimistic lock token. Repositories bump it on every successful save.
	Version   int
	Withdrawn bool

	instances map[string]*NodeInstance
	order     []string
	edges     []Edge
	branches  map[string]*Branch
	branchIDs []string
	barriers  map[string]*Barrier
}

// NewGraph creates an empty graph for a document.
func NewGraph(doc Document, template *Template) *Graph {
	g := &Graph{
		Document:  doc,
		instances: make(map[string]*NodeInstance),
		branches:  make(map[string]*Branch),
		barriers:  make(map[string]*Barrier),
	}
	if template != nil {
		g.Template = template.Name
		g.TemplateVersion = template.Version
	}
	return g
}

// DocumentID returns the owning document identity.
func (g *Graph) DocumentID() string { return g.Document.ID }

// Add registers an instance. IDs must be unique.
func (g *Graph) Add(inst *NodeInstance) error {
	if inst.ID == "" {
		return fmt.Errorf("%w: node instance without id", ErrIllegalState)
	}
	if _, exists := g.instances[inst.ID]; exists {
		return fmt.Errorf("%w: duplicate node instance '%s'", ErrIllegalState, inst.ID)
	}
	if inst.DocumentID == "" {
		inst.DocumentID = g.Document.ID
	}
	g.instances[inst.ID] = inst
	g.order = append(g.order, inst.ID)
	return nil
}

// Instance looks an instance up by ID.
func (g *Graph) Instance(id string) (*NodeInstance, error) {
	inst, ok := g.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrNodeInstanceNotFound, id)
	}
	return inst, nil
}

// Len returns the number of instances.
func (g *Graph) Len() int { return len(g.order) }

// Link adds the edge from → to. Linking twice is a no-op. Edges that would close a cycle are rejected.
func (g *Graph) Link(from, to string) error {
	if _, err := g.Instance(from); err != nil {
		return err
	}
	if _, err := g.Instance(to); err != nil {
		return err
	}
	if from == to {
		return fmt.Errorf("%w: self edge on '%s'", ErrIllegalState, from)
	}
	for _, e := range g.edges {
		if e.From == from && e.To == to {
			return nil
		}
	}
	if g.reaches(to, from) {
		return fmt.Errorf("%w: edge %s -> %s would create a cycle", ErrIllegalState, from, to)
	}
	g.edges = append(g.edges, Edge{From: from, To: to})
	return nil
}

// Unlink removes the edge from → to and reports whether it existed.
func (g *Graph) Unlink(from, to string) bool {
	for i, e := range g.edges {
		if e.From == from && e.To == to {
			g.edges = append(g.edges[:i], g.edges[i+1:]...)
			return true
		}
	}
	return false
}

// ClearNext removes every outgoing edge of id.
func (g *Graph) ClearNext(id string) {
	kept := g.edges[:0]
	for _, e := range g.edges {
		if e.From != id {
			kept = append(kept, e)
		}
	}
	g.edges = kept
}

// Next returns the successors of id in edge order.
func (g *Graph) Next(id string) []*NodeInstance {
	var out []*NodeInstance
	for _, e := range g.edges {
		if e.From == id {
			out = append(out, g.instances[e.To])
		}
	}
	return out
}

// Previous returns the predecessors of id in edge order.
func (g *Graph) Previous(id string) []*NodeInstance {
	var out []*NodeInstance
	for _, e := range g.edges {
		if e.To == id {
			out = append(out, g.instances[e.From])
		}
	}
	return out
}

// NextAt returns the i-th successor of id. Out-of-range access is an error.
func (g *Graph) NextAt(id string, i int) (*NodeInstance, error) {
	return at(g.Next(id), id, i)
}

// PreviousAt returns the i-th predecessor of id. Out-of-range access is an error.
func (g *Graph) PreviousAt(id string, i int) (*NodeInstance, error) {
	return at(g.Previous(id), id, i)
}

func at(list []*NodeInstance, id string, i int) (*NodeInstance, error) {
	if i < 0 || i >= len(list) {
		return nil, fmt.Errorf("%w: index %d on '%s' (len %d)", ErrIndexOutOfRange, i, id, len(list))
	}
	return list[i], nil
}

// Edges returns a copy of the edge list.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// Instances returns every instance in creation order.
func (g *Graph) Instances() []*NodeInstance {
	return g.filter(func(*NodeInstance) bool { return true })
}

// Active returns the instances currently awaiting action.
func (g *Graph) Active() []*NodeInstance {
	return g.filter(func(n *NodeInstance) bool { return n.Active })
}

// Terminal returns the complete, inactive instances.
func (g *Graph) Terminal() []*NodeInstance {
	return g.filter((*NodeInstance).IsTerminal)
}

// Initial returns the document-level initial instances. Process entry instances are
// initial only within their process and are not included.
func (g *Graph) Initial() []*NodeInstance {
	return g.filter(func(n *NodeInstance) bool { return n.Initial && n.ProcessID == "" })
}

// ProcessInstances returns the members of the process instance processID.
func (g *Graph) ProcessInstances(processID string) []*NodeInstance {
	return g.filter(func(n *NodeInstance) bool { return n.ProcessID == processID })
}

// InProcess reports whether the instance is nested in a process.
func (g *Graph) InProcess(id string) bool {
	inst, ok := g.instances[id]
	return ok && inst.ProcessID != ""
}

func (g *Graph) filter(keep func(*NodeInstance) bool) []*NodeInstance {
	var out []*NodeInstance
	for _, id := range g.order {
		if inst := g.instances[id]; keep(inst) {
			out = append(out, inst)
		}
	}
	return out
}

func (g *Graph) reaches(from, to string) bool {
	seen := map[string]bool{}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		for _, e := range g.edges {
			if e.From == cur {
				stack = append(stack, e.To)
			}
		}
	}
	return false
}

// AddBranch registers a branch.
func (g *Graph) AddBranch(b *Branch) {
	if _, exists := g.branches[b.ID]; !exists {
		g.branchIDs = append(g.branchIDs, b.ID)
	}
	g.branches[b.ID] = b
}

// Branch looks a branch up by ID.
func (g *Graph) Branch(id string) (*Branch, bool) {
	b, ok := g.branches[id]
	return b, ok
}

// Branches returns every branch in creation order.
func (g *Graph) Branches() []*Branch {
	out := make([]*Branch, 0, len(g.branchIDs))
	for _, id := range g.branchIDs {
		out = append(out, g.branches[id])
	}
	return out
}

// SiblingBranches returns the branches created by the given split instance.
func (g *Graph) SiblingBranches(splitInstanceID string) []*Branch {
	var out []*Branch
	for _, id := range g.branchIDs {
		if b := g.branches[id]; b.SplitInstanceID == splitInstanceID {
			out = append(out, b)
		}
	}
	return out
}

// Barrier looks a join barrier up by key.
func (g *Graph) Barrier(key string) (*Barrier, bool) {
	b, ok := g.barriers[key]
	return b, ok
}

// SetBarrier registers or replaces a join barrier.
func (g *Graph) SetBarrier(b *Barrier) {
	g.barriers[b.Key] = b
}

// Barriers returns all join barriers ordered by key.
func (g *Graph) Barriers() []*Barrier {
	out := make([]*Barrier, 0, len(g.barriers))
	for _, b := range g.barriers {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b *Barrier) int { return strings.Compare(a.Key, b.Key) })
	return out
}

// Check verifies the structural invariants of the graph.
func (g *Graph) Check() error {
	for _, e := range g.edges {
		if _, ok := g.instances[e.From]; !ok {
			return fmt.Errorf("%w: edge from unknown instance '%s'", ErrIllegalState, e.From)
		}
		if _, ok := g.instances[e.To]; !ok {
			return fmt.Errorf("%w: edge to unknown instance '%s'", ErrIllegalState, e.To)
		}
	}
	for _, id := range g.order {
		inst := g.instances[id]
		if inst.Active && inst.Complete {
			return fmt.Errorf("%w: instance '%s' is both active and complete", ErrIllegalState, id)
		}
		if !inst.Initial && len(g.Previous(id)) == 0 {
			return fmt.Errorf("%w: non-initial instance '%s' has no predecessor", ErrIllegalState, id)
		}
		if inst.ProcessID != "" {
			if _, ok := g.instances[inst.ProcessID]; !ok {
				return fmt.Errorf("%w: instance '%s' references unknown process '%s'", ErrIllegalState, id, inst.ProcessID)
			}
		}
	}
	return nil
}

// Clone returns a deep copy that shares no mutable state with g.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		Document:        g.Document,
		Template:        g.Template,
		TemplateVersion: g.TemplateVersion,
		Version:         g.Version,
		Withdrawn:       g.Withdrawn,
		instances:       make(map[string]*NodeInstance, len(g.instances)),
		order:           append([]string(nil), g.order...),
		edges:           append([]Edge(nil), g.edges...),
		branches:        make(map[string]*Branch, len(g.branches)),
		branchIDs:       append([]string(nil), g.branchIDs...),
		barriers:        make(map[string]*Barrier, len(g.barriers)),
	}
	for id, inst := range g.instances {
		c.instances[id] = inst.clone()
	}
	for id, b := range g.branches {
		bc := *b
		c.branches[id] = &bc
	}
	for k, b := range g.barriers {
		c.barriers[k] = b.clone()
	}
	return c
}

type graphSnapshot struct {
	Document        Document        `json:"document"`
	Template        string          `json:"template"`
	TemplateVersion int             `json:"template_version,omitempty"`
	Version         int             `json:"version"`
	Withdrawn       bool            `json:"withdrawn,omitempty"`
	Instances       []*NodeInstance `json:"instances"`
	Edges           []Edge          `json:"edges"`
	Branches        []*Branch       `json:"branches,omitempty"`
	Barriers        []*Barrier      `json:"barriers,omitempty"`
}

// MarshalJSON encodes the arena as flat instance, edge, branch and barrier lists.
func (g *Graph) MarshalJSON() ([]byte, error) {
	snap := graphSnapshot{
		Document:        g.Document,
		Template:        g.Template,
		TemplateVersion: g.TemplateVersion,
		Version:         g.Version,
		Withdrawn:       g.Withdrawn,
		Instances:       g.Instances(),
		Edges:           g.edges,
		Branches:        g.Branches(),
		Barriers:        g.Barriers(),
	}
	if snap.Edges == nil {
		snap.Edges = []Edge{}
	}
	return json.Marshal(snap)
}

// UnmarshalJSON rebuilds the arena from its flat encoding.
func (g *Graph) UnmarshalJSON(data []byte) error {
	var snap graphSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	*g = *NewGraph(snap.Document, nil)
	g.Template = snap.Template
	g.TemplateVersion = snap.TemplateVersion
	g.Version = snap.Version
	g.Withdrawn = snap.Withdrawn
	for _, inst := range snap.Instances {
		if err := g.Add(inst); err != nil {
			return err
		}
	}
	g.edges = snap.Edges
	for _, b := range snap.Branches {
		g.AddBranch(b)
	}
	for _, b := range snap.Barriers {
		g.SetBarrier(b)
	}
	return g.Check()
}
