package dsl

import "github.com/aretw0/waypoint/pkg/domain"

// NodeBuilder provides a fluent API for configuring a node.
type NodeBuilder struct {
	node  domain.NodeTemplate
	body  *Scope
	scope *Scope
}

// Add starts the next node in the same scope, so a whole level can be built in one chain.
func (n *NodeBuilder) Add(name string) *NodeBuilder {
	return n.scope.Add(name)
}

// Split marks the node as a fan-out into parallel branches.
func (n *NodeBuilder) Split() *NodeBuilder {
	n.node.Type = domain.NodeSplit
	return n
}

// Join marks the node as the barrier where the branches of a split meet.
func (n *NodeBuilder) Join() *NodeBuilder {
	n.node.Type = domain.NodeJoin
	return n
}

// Process turns the node into a process whose body is built by fn and entered at entry.
func (n *NodeBuilder) Process(entry string, fn func(body *Scope)) *NodeBuilder {
	n.node.Type = domain.NodeProcess
	n.node.Entry = entry
	if n.body == nil {
		n.body = newScope()
	}
	fn(n.body)
	return n
}

// Go adds successors to the node.
func (n *NodeBuilder) Go(targets ...string) *NodeBuilder {
	n.node.Next = append(n.node.Next, targets...)
	return n
}

// Principal addresses the node to principals.
func (n *NodeBuilder) Principal(ids ...string) *NodeBuilder {
	return n.to(domain.Principal, ids)
}

// Role addresses the node to the members of roles.
func (n *NodeBuilder) Role(ids ...string) *NodeBuilder {
	return n.to(domain.Role, ids)
}

// Group addresses the node to the members of groups.
func (n *NodeBuilder) Group(ids ...string) *NodeBuilder {
	return n.to(domain.Group, ids)
}

func (n *NodeBuilder) to(recipient func(string) domain.Recipient, ids []string) *NodeBuilder {
	for _, id := range ids {
		n.node.Recipients = append(n.node.Recipients, recipient(id))
	}
	return n
}

// Action sets the requested action.
func (n *NodeBuilder) Action(action domain.ActionType) *NodeBuilder {
	n.node.Action = action
	return n
}

// First completes the node on the first action instead of waiting for everyone.
func (n *NodeBuilder) First() *NodeBuilder {
	n.node.Policy = domain.PolicyFirst
	return n
}

// Terminal marks the node as a terminal node (end of the route).
func (n *NodeBuilder) Terminal() *NodeBuilder {
	n.node.Next = nil
	return n
}

// Build returns the underlying domain.NodeTemplate.
// This is primarily used by the Builder, but exposed for advanced usage.
func (n *NodeBuilder) Build() *domain.NodeTemplate {
	node := n.node
	node.Next = append([]string(nil), n.node.Next...)
	node.Recipients = append([]domain.Recipient(nil), n.node.Recipients...)
	if n.body != nil {
		node.Nodes = n.body.build()
	}
	return &node
}
