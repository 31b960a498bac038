package domain

import "fmt"

// NodeType classifies a template node's control flow role.
type NodeType string

const (
	NodeSimple  NodeType = "simple"
	NodeSplit   NodeType = "split"
	NodeJoin    NodeType = "join"
	NodeProcess NodeType = "process"
)

// ActionType is the action a recipient is asked to take.
type ActionType string

const (
	ActionApprove     ActionType = "approve"
	ActionAcknowledge ActionType = "acknowledge"
	ActionFYI         ActionType = "fyi"
	ActionComplete    ActionType = "complete"
)

// Policy decides when a node instance with several requests is considered done.
type Policy string

const (
	// PolicyAll completes the instance once every request has been acted on.
	PolicyAll Policy = "all"
	// PolicyFirst completes the instance on the first action taken.
	PolicyFirst Policy = "first"
)

// RecipientKind discriminates the Recipient union.
type RecipientKind string

const (
	RecipientPrincipal RecipientKind = "principal"
	RecipientRole      RecipientKind = "role"
	RecipientGroup     RecipientKind = "group"
)

// Recipient is a principal, role or group reference declared on a template node.
// Roles and groups are expanded when requests are resolved, never at publish time.
type Recipient struct {
	Kind RecipientKind `json:"kind" yaml:"kind" mapstructure:"kind"`
	ID   string        `json:"id" yaml:"id" mapstructure:"id"`
}

func (r Recipient) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}

// Principal is shorthand for a recipient addressing a single principal.
func Principal(id string) Recipient { return Recipient{Kind: RecipientPrincipal, ID: id} }

// Role is shorthand for a role recipient.
func Role(id string) Recipient { return Recipient{Kind: RecipientRole, ID: id} }

// Group is shorthand for a group recipient.
func Group(id string) Recipient { return Recipient{Kind: RecipientGroup, ID: id} }

// NodeTemplate is a single step of a routing template.
type NodeTemplate struct {
	Name       string      `json:"name" yaml:"name"`
	Type       NodeType    `json:"type,omitempty" yaml:"type,omitempty"`
	Next       []string    `json:"next,omitempty" yaml:"next,omitempty"`
	Recipients []Recipient `json:"recipients,omitempty" yaml:"recipients,omitempty"`
	Action     ActionType  `json:"action,omitempty" yaml:"action,omitempty"`
	Policy     Policy      `json:"policy,omitempty" yaml:"policy,omitempty"`

	// Entry and Nodes describe the sub-graph of a process node.
	Entry string          `json:"entry,omitempty" yaml:"entry,omitempty"`
	Nodes []*NodeTemplate `json:"nodes,omitempty" yaml:"nodes,omitempty"`
}

// Kind returns the node type, defaulting to simple.
func (n *NodeTemplate) Kind() NodeType {
	if n.Type == "" {
		return NodeSimple
	}
	return n.Type
}

// ActionOrDefault returns the requested action, defaulting to approve.
func (n *NodeTemplate) ActionOrDefault() ActionType {
	if n.Action == "" {
		return ActionApprove
	}
	return n.Action
}

// PolicyOrDefault returns the activation policy, defaulting to all.
func (n *NodeTemplate) PolicyOrDefault() Policy {
	if n.Policy == "" {
		return PolicyAll
	}
	return n.Policy
}

// IsSplit reports whether the node fans out into branches.
func (n *NodeTemplate) IsSplit() bool { return n.Kind() == NodeSplit }

// IsJoin reports whether the node is a synchronization barrier.
func (n *NodeTemplate) IsJoin() bool { return n.Kind() == NodeJoin }

// IsProcess reports whether the node wraps a sub-graph.
func (n *NodeTemplate) IsProcess() bool { return n.Kind() == NodeProcess }

func (n *NodeTemplate) clone() *NodeTemplate {
	c := *n
	c.Next = append([]string(nil), n.Next...)
	c.Recipients = append([]Recipient(nil), n.Recipients...)
	if n.Nodes != nil {
		c.Nodes = make([]*NodeTemplate, len(n.Nodes))
		for i, child := range n.Nodes {
			c.Nodes[i] = child.clone()
		}
	}
	return &c
}

// Template is an immutable routing definition bound to a document type.
type Template struct {
	Name         string          `json:"name" yaml:"name"`
	DocumentType string          `json:"document_type" yaml:"document_type"`
	Description  string          `json:"description,omitempty" yaml:"description,omitempty"`
	Entry        string          `json:"entry" yaml:"entry"`
	Nodes        []*NodeTemplate `json:"nodes" yaml:"nodes"`
	// Version is assigned by the template store on publish.
	Version int `json:"version,omitempty" yaml:"version,omitempty"`
}

// Clone returns a deep copy.
func (t *Template) Clone() *Template {
	c := *t
	c.Nodes = make([]*NodeTemplate, len(t.Nodes))
	for i, n := range t.Nodes {
		c.Nodes[i] = n.clone()
	}
	return &c
}

// Node finds a node by name anywhere in the template, nested process nodes included.
func (t *Template) Node(name string) (*NodeTemplate, bool) {
	n, _, ok := findNode(t.Nodes, "", name)
	return n, ok
}

// Scope returns the name of the process node that contains the named node,
// or "" for top-level nodes.
func (t *Template) Scope(name string) (string, bool) {
	_, scope, ok := findNode(t.Nodes, "", name)
	return scope, ok
}

// EntryNode returns the top-level entry node.
func (t *Template) EntryNode() (*NodeTemplate, error) {
	if t.Entry == "" {
		return nil, &TemplateError{Template: t.Name, Problems: []TemplateProblem{{Reason: "no entry node"}}}
	}
	n, ok := t.Node(t.Entry)
	if !ok {
		return nil, &TemplateError{Template: t.Name, Problems: []TemplateProblem{{Node: t.Entry, Reason: "entry node not defined"}}}
	}
	return n, nil
}

// Predecessors returns the names of the nodes listing name as a successor.
func (t *Template) Predecessors(name string) []string {
	var out []string
	t.Walk(func(n *NodeTemplate, _ string) {
		for _, next := range n.Next {
			if next == name {
				out = append(out, n.Name)
			}
		}
	})
	return out
}

// Walk visits every node depth-first, passing the name of the enclosing process node.
func (t *Template) Walk(fn func(n *NodeTemplate, scope string)) {
	walkNodes(t.Nodes, "", fn)
}

func walkNodes(nodes []*NodeTemplate, scope string, fn func(*NodeTemplate, string)) {
	for _, n := range nodes {
		fn(n, scope)
		if len(n.Nodes) > 0 {
			walkNodes(n.Nodes, n.Name, fn)
		}
	}
}

func findNode(nodes []*NodeTemplate, scope, name string) (*NodeTemplate, string, bool) {
	for _, n := range nodes {
		if n.Name == name {
			return n, scope, true
		}
		if len(n.Nodes) > 0 {
			if found, s, ok := findNode(n.Nodes, n.Name, name); ok {
				return found, s, true
			}
		}
	}
	return nil, "", false
}
