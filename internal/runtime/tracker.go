package runtime

import (
	"fmt"
	"time"

	"github.com/aretw0/waypoint/internal/idgen"
	"github.com/aretw0/waypoint/pkg/domain"
)

// Transition records the effect of a tracker operation on a graph.
type Transition struct {
	// Completed lists the instances that finished, including processes completed in cascade.
	Completed []*domain.NodeInstance
	// Activated lists the instances that became active, in activation order.
	Activated []*domain.NodeInstance
	// Released lists the join instances whose barrier opened (also present in Activated).
	Released []*domain.NodeInstance
}

func (tr *Transition) merge(other *Transition) {
	tr.Completed = append(tr.Completed, other.Completed...)
	tr.Activated = append(tr.Activated, other.Activated...)
	tr.Released = append(tr.Released, other.Released...)
}

// Tracker materializes and mutates per-document node instance graphs.
// It is stateless; callers serialize access to a graph per document.
type Tracker struct {
	coord *Coordinator
	newID idgen.Generator
	now   func() time.Time
}

// TrackerOption configures the Tracker.
type TrackerOption func(*Tracker)

// WithIDGenerator overrides instance and branch ID generation.
func WithIDGenerator(gen idgen.Generator) TrackerOption {
	return func(t *Tracker) {
		t.newID = gen
	}
}

// WithClock overrides the time source for instance timestamps.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a tracker.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		newID: idgen.New,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.coord = NewCoordinator(t.newID)
	return t
}

// CreateInitial materializes the template's entry node as the initial, active instance.
// If the entry is a process node its sub-graph entry is activated as well.
func (t *Tracker) CreateInitial(g *domain.Graph, tpl *domain.Template) (*Transition, error) {
	entry, err := tpl.EntryNode()
	if err != nil {
		return nil, err
	}
	if g.Len() > 0 {
		return nil, fmt.Errorf("%w: document '%s' already has node instances", domain.ErrIllegalState, g.DocumentID())
	}

	inst, err := t.spawn(g, entry.Name, "", "")
	if err != nil {
		return nil, err
	}
	inst.Initial = true

	tr := &Transition{}
	if err := t.activate(g, tpl, inst, entry, tr); err != nil {
		return nil, err
	}
	return tr, nil
}

// Advance completes an active instance and fires its successors.
//
// Advancing a complete instance fails with domain.ErrIllegalState and changes nothing.
// On any error the graph may be partially mutated and must be discarded by the caller.
func (t *Tracker) Advance(g *domain.Graph, tpl *domain.Template, instanceID string) (*Transition, error) {
	if g.Withdrawn {
		return nil, domain.ErrWithdrawn
	}
	tr := &Transition{}
	if err := t.advance(g, tpl, instanceID, tr); err != nil {
		return nil, err
	}
	return tr, nil
}

func (t *Tracker) advance(g *domain.Graph, tpl *domain.Template, instanceID string, tr *Transition) error {
	inst, err := g.Instance(instanceID)
	if err != nil {
		return err
	}
	if inst.Complete {
		return fmt.Errorf("%w: node instance '%s' (%s) is already complete", domain.ErrIllegalState, inst.ID, inst.Node)
	}
	if !inst.Active {
		return fmt.Errorf("%w: node instance '%s' (%s) is not active", domain.ErrIllegalState, inst.ID, inst.Node)
	}

	node, err := t.node(tpl, inst.Node)
	if err != nil {
		return err
	}
	if node.IsProcess() && !t.coord.ProcessSettled(g, inst.ID) {
		return fmt.Errorf("%w: process instance '%s' still has unfinished members", domain.ErrIllegalState, inst.ID)
	}

	inst.Finish()
	tr.Completed = append(tr.Completed, inst)

	if node.IsSplit() {
		for _, b := range t.coord.Split(g, inst, node) {
			if err := t.step(g, tpl, inst, b.Name, b.ID, tr); err != nil {
				return err
			}
		}
	} else {
		for _, next := range node.Next {
			if err := t.step(g, tpl, inst, next, inst.BranchID, tr); err != nil {
				return err
			}
		}
	}

	if inst.ProcessID != "" && t.coord.ProcessSettled(g, inst.ProcessID) {
		return t.advance(g, tpl, inst.ProcessID, tr)
	}
	return nil
}

// step routes from an instance to one successor node on the given branch.
func (t *Tracker) step(g *domain.Graph, tpl *domain.Template, from *domain.NodeInstance, next, branchID string, tr *Transition) error {
	node, err := t.node(tpl, next)
	if err != nil {
		return err
	}

	if node.IsJoin() {
		res, err := t.coord.Join(g, tpl, from, node, branchID, t.spawn)
		if err != nil {
			return err
		}
		if res.Released {
			tr.Released = append(tr.Released, res.Instance)
			return t.activate(g, tpl, res.Instance, node, tr)
		}
		return nil
	}

	inst, err := t.spawn(g, node.Name, branchID, from.ProcessID)
	if err != nil {
		return err
	}
	if err := g.Link(from.ID, inst.ID); err != nil {
		return err
	}
	return t.activate(g, tpl, inst, node, tr)
}

// activate flags an instance active and, for process nodes, starts the sub-graph.
func (t *Tracker) activate(g *domain.Graph, tpl *domain.Template, inst *domain.NodeInstance, node *domain.NodeTemplate, tr *Transition) error {
	inst.Activate()
	tr.Activated = append(tr.Activated, inst)

	if !node.IsProcess() {
		return nil
	}
	entry, err := t.coord.ProcessEntry(tpl, node)
	if err != nil {
		return err
	}
	child, err := t.spawn(g, entry.Name, inst.BranchID, inst.ID)
	if err != nil {
		return err
	}
	child.Initial = true
	return t.activate(g, tpl, child, entry, tr)
}

func (t *Tracker) spawn(g *domain.Graph, node, branchID, processID string) (*domain.NodeInstance, error) {
	inst := &domain.NodeInstance{
		ID:         t.newID(),
		DocumentID: g.DocumentID(),
		Node:       node,
		BranchID:   branchID,
		ProcessID:  processID,
		CreatedAt:  t.now(),
	}
	if err := g.Add(inst); err != nil {
		return nil, err
	}
	return inst, nil
}

func (t *Tracker) node(tpl *domain.Template, name string) (*domain.NodeTemplate, error) {
	node, ok := tpl.Node(name)
	if !ok {
		return nil, &domain.TemplateError{Template: tpl.Name, Problems: []domain.TemplateProblem{
			{Node: name, Reason: "node not defined in template"},
		}}
	}
	return node, nil
}

// Cancel marks every active instance complete without firing successors and flags the
// graph withdrawn. Cancelling twice is a no-op.
func (t *Tracker) Cancel(g *domain.Graph) []*domain.NodeInstance {
	if g.Withdrawn {
		return nil
	}
	cancelled := g.Active()
	for _, inst := range cancelled {
		inst.Finish()
	}
	g.Withdrawn = true
	return cancelled
}

// NodeState returns the value stored under key on an instance.
func (t *Tracker) NodeState(g *domain.Graph, instanceID, key string) (string, bool, error) {
	inst, err := g.Instance(instanceID)
	if err != nil {
		return "", false, err
	}
	v, ok := inst.NodeState(key)
	return v, ok, nil
}

// SetNodeState stores a value on an instance.
func (t *Tracker) SetNodeState(g *domain.Graph, instanceID, key, value string) error {
	inst, err := g.Instance(instanceID)
	if err != nil {
		return err
	}
	inst.SetNodeState(key, value)
	return nil
}

// RemoveNodeState deletes a key from an instance. Removing a missing key is silent
// unless strict is set, in which case domain.ErrNodeStateNotFound is returned.
func (t *Tracker) RemoveNodeState(g *domain.Graph, instanceID, key string, strict bool) error {
	inst, err := g.Instance(instanceID)
	if err != nil {
		return err
	}
	if !inst.RemoveNodeState(key) && strict {
		return fmt.Errorf("%w: '%s' on '%s'", domain.ErrNodeStateNotFound, key, instanceID)
	}
	return nil
}
