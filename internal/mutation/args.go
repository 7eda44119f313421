package mutation

// CreateNodeArgs is the payload of createNode.
type CreateNodeArgs struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Parent  string         `json:"parent,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
	Content string         `json:"content,omitempty"`
}

// NodeRef is the payload of deleteNode and touchNode.
type NodeRef struct {
	ID string `json:"id"`
}

type CreateNodeFieldArgs struct {
	NodeID string `json:"nodeId"`
	Name   string `json:"name"`
	Value  any    `json:"value"`
}

type CreateParentChildLinkArgs struct {
	Parent string `json:"parent"`
	Child  string `json:"child"`
}

type CreatePageArgs struct {
	Path      string         `json:"path"`
	Component string         `json:"component,omitempty"`
	NodeID    string         `json:"nodeId,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// PageRef is the payload of deletePage.
type PageRef struct {
	Path string `json:"path"`
}
