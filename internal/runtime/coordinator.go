package runtime

import (
	"fmt"

	"github.com/aretw0/waypoint/internal/idgen"
	"github.com/aretw0/waypoint/pkg/domain"
)

// spawnFunc materializes a pending instance of a template node.
type spawnFunc func(g *domain.Graph, node, branchID, processID string) (*domain.NodeInstance, error)

// Coordinator implements split, join and process scoping on top of the tracker.
// It decides which branches and barriers exist; the tracker owns instance flags and edges.
type Coordinator struct {
	newID idgen.Generator
}

// NewCoordinator creates a coordinator that names branches with newID.
func NewCoordinator(newID idgen.Generator) *Coordinator {
	return &Coordinator{newID: newID}
}

// Split creates one sibling branch per successor of a split instance.
// The branches hang under the split instance's own branch, so branch nesting stays a tree.
func (c *Coordinator) Split(g *domain.Graph, from *domain.NodeInstance, node *domain.NodeTemplate) []*domain.Branch {
	branches := make([]*domain.Branch, 0, len(node.Next))
	for _, next := range node.Next {
		b := &domain.Branch{
			ID:              c.newID(),
			Name:            next,
			ParentID:        from.BranchID,
			SplitInstanceID: from.ID,
		}
		g.AddBranch(b)
		branches = append(branches, b)
	}
	return branches
}

// JoinResult describes what an arrival at a join did.
type JoinResult struct {
	Instance *domain.NodeInstance
	Barrier  *domain.Barrier
	Released bool
}

// Join records that branchID reached the join node coming from instance from.
//
// The first arrival materializes the join instance (pending) and its barrier, which expects
// every sibling branch of the split that created branchID. The join instance joins the parent
// branch. Repeated arrivals from the same branch are ignored; arriving at a released barrier
// is an error.
func (c *Coordinator) Join(g *domain.Graph, tpl *domain.Template, from *domain.NodeInstance, node *domain.NodeTemplate, branchID string, spawn spawnFunc) (*JoinResult, error) {
	branch, ok := g.Branch(branchID)
	if !ok || branch.SplitInstanceID == "" {
		return nil, &domain.TemplateError{Template: tpl.Name, Problems: []domain.TemplateProblem{
			{Node: node.Name, Reason: "join reached outside a split branch"},
		}}
	}

	key := domain.BarrierKey(branch.SplitInstanceID, node.Name)
	barrier, exists := g.Barrier(key)
	if !exists {
		siblings := g.SiblingBranches(branch.SplitInstanceID)
		expected := make([]string, 0, len(siblings))
		for _, b := range siblings {
			expected = append(expected, b.ID)
		}
		inst, err := spawn(g, node.Name, branch.ParentID, from.ProcessID)
		if err != nil {
			return nil, err
		}
		barrier = &domain.Barrier{
			Key:             key,
			Node:            node.Name,
			JoinInstanceID:  inst.ID,
			SplitInstanceID: branch.SplitInstanceID,
			Expected:        expected,
		}
		g.SetBarrier(barrier)
	}

	if barrier.Released {
		return nil, fmt.Errorf("%w: join '%s' already released for split '%s'", domain.ErrIllegalState, node.Name, barrier.SplitInstanceID)
	}

	inst, err := g.Instance(barrier.JoinInstanceID)
	if err != nil {
		return nil, err
	}
	if err := g.Link(from.ID, inst.ID); err != nil {
		return nil, err
	}

	res := &JoinResult{Instance: inst, Barrier: barrier}
	if barrier.Arrive(branchID) && barrier.Satisfied() {
		barrier.Released = true
		res.Released = true
	}
	return res, nil
}

// ProcessEntry returns the entry node of a process node's sub-graph.
func (c *Coordinator) ProcessEntry(tpl *domain.Template, node *domain.NodeTemplate) (*domain.NodeTemplate, error) {
	for _, n := range node.Nodes {
		if n.Name == node.Entry {
			return n, nil
		}
	}
	return nil, &domain.TemplateError{Template: tpl.Name, Problems: []domain.TemplateProblem{
		{Node: node.Name, Reason: fmt.Sprintf("process entry '%s' not defined", node.Entry)},
	}}
}

// ProcessSettled reports whether every member of the process instance is complete.
// Pending join instances count as unfinished, exactly like a barrier.
func (c *Coordinator) ProcessSettled(g *domain.Graph, processID string) bool {
	members := g.ProcessInstances(processID)
	if len(members) == 0 {
		return false
	}
	for _, m := range members {
		if !m.Complete {
			return false
		}
	}
	return true
}
