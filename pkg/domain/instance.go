package domain

import "time"

// NodeState is a key/value extension entry owned by a node instance.
type NodeState struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// NodeInstance is the per-document materialization of a template node.
// Edges are not stored on the instance; they live in the owning Graph.
type NodeInstance struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Node       string `json:"node"`
	BranchID   string `json:"branch_id,omitempty"`
	// ProcessID references the process instance that spawned this one. It is a lookup key,
	// not ownership.
	ProcessID string      `json:"process_id,omitempty"`
	Active    bool        `json:"active"`
	Complete  bool        `json:"complete"`
	Initial   bool        `json:"initial"`
	State     []NodeState `json:"state,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// IsTerminal reports whether the instance finished routing.
func (n *NodeInstance) IsTerminal() bool {
	return n.Complete && !n.Active
}

// IsPending reports whether the instance was materialized but has not yet been activated,
// as happens to a join waiting on its branches.
func (n *NodeInstance) IsPending() bool {
	return !n.Active && !n.Complete
}

// Activate flags the instance as active.
func (n *NodeInstance) Activate() {
	n.Active = true
	n.Complete = false
}

// Finish flags the instance as complete. A complete instance is never active.
func (n *NodeInstance) Finish() {
	n.Active = false
	n.Complete = true
}

// NodeState returns the value stored under key.
func (n *NodeInstance) NodeState(key string) (string, bool) {
	for _, s := range n.State {
		if s.Key == key {
			return s.Value, true
		}
	}
	return "", false
}

// SetNodeState stores value under key, replacing any previous value.
func (n *NodeInstance) SetNodeState(key, value string) {
	for i := range n.State {
		if n.State[i].Key == key {
			n.State[i].Value = value
			return
		}
	}
	n.State = append(n.State, NodeState{Key: key, Value: value})
}

// RemoveNodeState deletes key and reports whether it existed.
// Removing a missing key is a no-op.
func (n *NodeInstance) RemoveNodeState(key string) bool {
	for i := range n.State {
		if n.State[i].Key == key {
			n.State = append(n.State[:i], n.State[i+1:]...)
			return true
		}
	}
	return false
}

func (n *NodeInstance) clone() *NodeInstance {
	c := *n
	c.State = append([]NodeState(nil), n.State...)
	return &c
}

// Branch is a concurrency lane created by a split. Branches form a tree through ParentID.
type Branch struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
	// SplitInstanceID is the split instance that created the branch. Siblings share it.
	SplitInstanceID string `json:"split_instance_id,omitempty"`
}

// Barrier tracks the branches a join instance waits on.
type Barrier struct {
	Key             string   `json:"key"`
	Node            string   `json:"node"`
	JoinInstanceID  string   `json:"join_instance_id"`
	SplitInstanceID string   `json:"split_instance_id"`
	Expected        []string `json:"expected"`
	Arrived         []string `json:"arrived,omitempty"`
	Released        bool     `json:"released"`
}

// BarrierKey identifies the barrier for a join node reached from a given split.
func BarrierKey(splitInstanceID, node string) string {
	return splitInstanceID + "/" + node
}

// Arrive records a branch reaching the barrier and reports whether it is a new arrival.
func (b *Barrier) Arrive(branchID string) bool {
	for _, id := range b.Arrived {
		if id == branchID {
			return false
		}
	}
	b.Arrived = append(b.Arrived, branchID)
	return true
}

// Satisfied reports whether every expected branch has arrived.
func (b *Barrier) Satisfied() bool {
	for _, want := range b.Expected {
		found := false
		for _, got := range b.Arrived {
			if got == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (b *Barrier) clone() *Barrier {
	c := *b
	c.Expected = append([]string(nil), b.Expected...)
	c.Arrived = append([]string(nil), b.Arrived...)
	return &c
}
