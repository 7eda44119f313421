package content

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		fields map[string]any
		body   string
	}{
		{"no frontmatter", "# Title\n\nHello\n", map[string]any{}, "# Title\n\nHello\n"},
		{"yaml frontmatter", "---\ntitle: Intro\n---\n# Body\n", map[string]any{"title": "Intro"}, "# Body\n"},
		{"empty block", "---\n---\n# Body\n", map[string]any{}, "# Body\n"},
		{"crlf", "---\r\ntitle: Intro\r\n---\r\n# Body\r\n", map[string]any{"title": "Intro"}, "# Body\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Parse("a.md", []byte(tt.input))
			require.NoError(t, err)
			require.Equal(t, tt.fields, doc.Fields)
			require.Equal(t, tt.body, string(doc.Body))
		})
	}
}

func TestParseMissingClosingDelimiter(t *testing.T) {
	_, err := Parse("a.md", []byte("---\ntitle: x\n# Body\n"))
	require.True(t, errors.Is(err, ErrMissingClosingDelimiter))
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse("a.md", []byte("---\ntitle: [\n---\nbody\n"))
	require.Error(t, err)
}

func TestTitle(t *testing.T) {
	tests := []struct {
		rel, input, want string
	}{
		{"a.md", "---\ntitle: From Field\n---\n# Heading\n", "From Field"},
		{"a.md", "Intro\n\n# The *Heading*\n", "The Heading"},
		{"guide/setup.md", "no heading\n", "setup"},
		{"guide/index.md", "", "guide"},
	}
	for _, tt := range tests {
		doc, err := Parse(tt.rel, []byte(tt.input))
		require.NoError(t, err)
		require.Equal(t, tt.want, doc.Title(), tt.rel)
	}
}

func TestDraft(t *testing.T) {
	doc, err := Parse("a.md", []byte("---\ndraft: true\n---\n"))
	require.NoError(t, err)
	require.True(t, doc.Draft())
}

func TestRoute(t *testing.T) {
	require.Equal(t, "/", Route("index.md"))
	require.Equal(t, "/", Route("_index.md"))
	require.Equal(t, "/guide/", Route("guide/index.md"))
	require.Equal(t, "/guide/intro/", Route("guide/intro.md"))
	require.Equal(t, "/about/", Route("./about.markdown"))
}

func TestIDs(t *testing.T) {
	require.Equal(t, "markdown:guide/intro.md", NodeID("guide/./intro.md"))
	require.Equal(t, "directory:.", DirectoryID(""))
	require.True(t, IsMarkdown("A.MD"))
	require.False(t, IsMarkdown("a.txt"))
}

func TestRender(t *testing.T) {
	html, err := NewRenderer().Render([]byte("# Hi\n\n| a | b |\n|---|---|\n| 1 | 2 |\n"))
	require.NoError(t, err)
	require.Contains(t, string(html), `<h1 id="hi">Hi</h1>`)
	require.Contains(t, string(html), "<table>")
}

func TestDocumentNode(t *testing.T) {
	doc, err := Parse("guide/intro.md", []byte("---\ntags: [a]\n---\n# Intro\n"))
	require.NoError(t, err)

	n := doc.Node()
	require.Equal(t, "markdown:guide/intro.md", n.ID)
	require.Equal(t, TypeMarkdown, n.Type)
	require.Equal(t, "directory:guide", n.Parent)
	require.Equal(t, "Intro", n.Fields["title"])
	require.Equal(t, "/guide/intro/", n.Fields["slug"])
	require.Equal(t, "guide/intro.md", n.Fields["sourcePath"])
	require.NotContains(t, doc.Fields, "slug")
}
