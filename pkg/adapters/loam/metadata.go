package loam

// TemplateMetadata is the frontmatter of a template document.
// It uses "mapstructure" tags to match the YAML keys of the template format.
type TemplateMetadata struct {
	Name         string         `json:"name" mapstructure:"name"`
	DocumentType string         `json:"document_type" mapstructure:"document_type"`
	Description  string         `json:"description" mapstructure:"description"`
	Entry        string         `json:"entry" mapstructure:"entry"`
	Nodes        []NodeMetadata `json:"nodes" mapstructure:"nodes"`
}

// NodeMetadata describes one node of a template document.
type NodeMetadata struct {
	Name string   `json:"name" mapstructure:"name"`
	Type string   `json:"type" mapstructure:"type"`
	Next []string `json:"next" mapstructure:"next"`
	// To is sugar for a single successor.
	To string `json:"to" mapstructure:"to"`

	// Recipients are either "kind:id" strings (a bare id is a principal) or
	// {kind, id} maps.
	Recipients []any  `json:"recipients" mapstructure:"recipients"`
	Action     string `json:"action" mapstructure:"action"`
	Policy     string `json:"policy" mapstructure:"policy"`

	// Entry and Nodes describe the sub-graph of a process node.
	Entry string         `json:"entry" mapstructure:"entry"`
	Nodes []NodeMetadata `json:"nodes" mapstructure:"nodes"`
}

// RecipientMetadata is the map form of a recipient.
type RecipientMetadata struct {
	Kind string `json:"kind" mapstructure:"kind"`
	ID   string `json:"id" mapstructure:"id"`
}
