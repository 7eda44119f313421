// Package nodestore is the in-memory content store handed out by the
// initializing phase. Phases read from it; mutations write to it.
package nodestore

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/inful/mdfp"
	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
)

// Node is one content record.
type Node struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Parent    string         `json:"parent,omitempty"`
	Children  []string       `json:"children,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Content   string         `json:"content,omitempty"`
	Digest    string         `json:"digest"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Page maps a URL path to the node (if any) that backs it.
type Page struct {
	Path      string         `json:"path"`
	Component string         `json:"component,omitempty"`
	NodeID    string         `json:"node_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// Store is safe for concurrent use.
type Store struct {
	mu             sync.RWMutex
	nodes          map[string]*Node
	pages          map[string]Page
	generation     uint64
	nodeGeneration uint64
	now            func() time.Time
}

func New() *Store {
	return &Store{nodes: map[string]*Node{}, pages: map[string]Page{}, now: time.Now}
}

// Generation increases by one on every successful write.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// NodeGeneration increases on node writes and ignores page writes.
func (s *Store) NodeGeneration() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodeGeneration
}

// UpsertNode creates or replaces a node, keeping existing parent/child links.
func (s *Store) UpsertNode(n Node) error {
	if strings.TrimSpace(n.ID) == "" || strings.TrimSpace(n.Type) == "" {
		return ferrors.ValidationError("node id and type are required").WithContext("id", n.ID).Build()
	}
	digest, err := fingerprint(n.Fields, n.Content)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryStore, "fingerprint node").WithContext("id", n.ID).Build()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := n
	stored.Fields = maps.Clone(n.Fields)
	stored.Digest = digest
	stored.UpdatedAt = s.now()
	if prev, ok := s.nodes[n.ID]; ok {
		stored.Children = prev.Children
		if stored.Parent == "" {
			stored.Parent = prev.Parent
		}
	} else {
		stored.Children = slices.Clone(n.Children)
	}
	s.nodes[n.ID] = &stored
	s.generation++
	s.nodeGeneration++
	return nil
}

// DeleteNode removes a node and detaches it from its parent. Missing ids are ignored.
func (s *Store) DeleteNode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil
	}
	if parent, ok := s.nodes[n.Parent]; ok {
		parent.Children = slices.DeleteFunc(parent.Children, func(c string) bool { return c == id })
	}
	delete(s.nodes, id)
	s.generation++
	s.nodeGeneration++
	return nil
}

// TouchNode marks a node as still present without changing its content.
func (s *Store) TouchNode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return notFound(id)
	}
	n.UpdatedAt = s.now()
	return nil
}

// SetField sets one field on a node and recomputes its digest.
func (s *Store) SetField(id, name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return notFound(id)
	}
	fields := maps.Clone(n.Fields)
	if fields == nil {
		fields = map[string]any{}
	}
	fields[name] = value
	digest, err := fingerprint(fields, n.Content)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryStore, "fingerprint node").WithContext("id", id).Build()
	}
	n.Fields = fields
	n.Digest = digest
	n.UpdatedAt = s.now()
	s.generation++
	s.nodeGeneration++
	return nil
}

// Link records a parent/child relation between two existing nodes.
func (s *Store) Link(parentID, childID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent, ok := s.nodes[parentID]
	if !ok {
		return notFound(parentID)
	}
	child, ok := s.nodes[childID]
	if !ok {
		return notFound(childID)
	}
	if !slices.Contains(parent.Children, childID) {
		parent.Children = append(parent.Children, childID)
	}
	child.Parent = parentID
	s.generation++
	s.nodeGeneration++
	return nil
}

// UpsertPage creates or replaces the page at p.Path.
func (s *Store) UpsertPage(p Page) error {
	if !strings.HasPrefix(p.Path, "/") {
		return ferrors.ValidationError("page path must start with /").WithContext("path", p.Path).Build()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Context = maps.Clone(p.Context)
	s.pages[p.Path] = p
	s.generation++
	return nil
}

// DeletePage removes a page. Missing paths are ignored.
func (s *Store) DeletePage(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pages[path]; ok {
		delete(s.pages, path)
		s.generation++
	}
	return nil
}

// Node returns a copy of the node with id.
func (s *Store) Node(id string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return Node{}, false
	}
	return cloneNode(n), true
}

// Nodes returns copies of all nodes of the given type ("" for all), ordered by id.
func (s *Store) Nodes(nodeType string) []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		if nodeType == "" || n.Type == nodeType {
			out = append(out, cloneNode(n))
		}
	}
	slices.SortFunc(out, func(a, b Node) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Types returns the distinct node types, sorted.
func (s *Store) Types() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]struct{}{}
	for _, n := range s.nodes {
		seen[n.Type] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen))
}

// Pages returns all pages ordered by path.
func (s *Store) Pages() []Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Collect(maps.Values(s.pages))
	slices.SortFunc(out, func(a, b Page) int { return strings.Compare(a.Path, b.Path) })
	return out
}

// Digest returns the content fingerprint of a node, or "" if absent.
func (s *Store) Digest(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.nodes[id]; ok {
		return n.Digest
	}
	return ""
}

func cloneNode(n *Node) Node {
	c := *n
	c.Fields = maps.Clone(n.Fields)
	c.Children = slices.Clone(n.Children)
	return c
}

// fingerprint hashes the YAML-serialized fields (sorted keys) together with the body.
func fingerprint(fields map[string]any, content string) (string, error) {
	fm := ""
	if len(fields) > 0 {
		b, err := yaml.Marshal(fields)
		if err != nil {
			return "", err
		}
		fm = strings.TrimSuffix(string(b), "\n")
	}
	return mdfp.CalculateFingerprintFromParts(fm, content), nil
}

func notFound(id string) error {
	return ferrors.NotFoundError("node not found").WithContext("id", id).Build()
}
