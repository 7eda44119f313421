// Package content reads Markdown documents from the site's content
// directory: YAML frontmatter, body, derived routes and rendered HTML.
package content

import (
	"bytes"
	"errors"
	"maps"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/sitedev/internal/nodestore"
)

// Node types produced from the content directory.
const (
	TypeMarkdown  = "Markdown"
	TypeDirectory = "Directory"
	TypeSite      = "Site"
)

// ErrMissingClosingDelimiter indicates the document opened a frontmatter
// block with --- but never closed it.
var ErrMissingClosingDelimiter = errors.New("yaml frontmatter start delimiter found but closing delimiter is missing")

// Document is one Markdown file split into frontmatter fields and body.
type Document struct {
	// Rel is the slash-separated path relative to the content directory.
	Rel    string
	Fields map[string]any
	Body   []byte
}

// Parse splits data into frontmatter and body. Documents without
// frontmatter get an empty field map.
func Parse(rel string, data []byte) (Document, error) {
	fm, body, err := split(data)
	if err != nil {
		return Document{}, err
	}
	fields := map[string]any{}
	if len(fm) > 0 {
		if err := yaml.Unmarshal(fm, &fields); err != nil {
			return Document{}, err
		}
		if fields == nil {
			fields = map[string]any{}
		}
	}
	return Document{Rel: path.Clean(rel), Fields: fields, Body: body}, nil
}

func split(content []byte) (fm, body []byte, err error) {
	nl := "\n"
	if i := bytes.IndexByte(content, '\n'); i > 0 && content[i-1] == '\r' {
		nl = "\r\n"
	}
	open := []byte("---" + nl)
	if !bytes.HasPrefix(content, open) {
		return nil, content, nil
	}
	rest := content[len(open):]
	if bytes.HasPrefix(rest, open) {
		return nil, rest[len(open):], nil
	}
	closeSeq := []byte(nl + "---" + nl)
	idx := bytes.Index(rest, closeSeq)
	if idx < 0 {
		return nil, nil, ErrMissingClosingDelimiter
	}
	return rest[:idx+len(nl)], rest[idx+len(closeSeq):], nil
}

// Title prefers the title field, then the first level-one heading, then the file name.
func (d Document) Title() string {
	if t, ok := d.Fields["title"].(string); ok && strings.TrimSpace(t) != "" {
		return strings.TrimSpace(t)
	}
	if h := firstHeading(d.Body); h != "" {
		return h
	}
	base := strings.TrimSuffix(path.Base(d.Rel), path.Ext(d.Rel))
	if base == "index" || base == "_index" {
		if dir := path.Dir(d.Rel); dir != "." {
			return path.Base(dir)
		}
	}
	return base
}

// Draft reports a true draft field.
func (d Document) Draft() bool {
	v, _ := d.Fields["draft"].(bool)
	return v
}

// Node converts the document into the Markdown node sourced from it. The
// sourcePath field marks nodes owned by the content directory.
func (d Document) Node() nodestore.Node {
	fields := maps.Clone(d.Fields)
	if fields == nil {
		fields = map[string]any{}
	}
	fields["title"] = d.Title()
	fields["sourcePath"] = d.Rel
	fields["slug"] = Route(d.Rel)
	return nodestore.Node{
		ID:      NodeID(d.Rel),
		Type:    TypeMarkdown,
		Parent:  DirectoryID(path.Dir(d.Rel)),
		Fields:  fields,
		Content: string(d.Body),
	}
}

// Route maps a content path to its URL: index files own their directory.
//
//	index.md         -> /
//	guide/index.md   -> /guide/
//	guide/intro.md   -> /guide/intro/
func Route(rel string) string {
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")
	dir, file := path.Split(rel)
	stem := strings.TrimSuffix(file, path.Ext(file))
	if stem == "index" || stem == "_index" {
		if dir == "" {
			return "/"
		}
		return "/" + dir
	}
	return "/" + dir + stem + "/"
}

// NodeID is the store id of the node sourced from rel.
func NodeID(rel string) string { return "markdown:" + path.Clean(rel) }

// DirectoryID is the store id of the directory node for dir ("." for the root).
func DirectoryID(dir string) string { return "directory:" + path.Clean(dir) }

// IsMarkdown reports whether name has a Markdown extension.
func IsMarkdown(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".md", ".markdown":
		return true
	}
	return false
}
