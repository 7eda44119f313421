package nodestore

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
)

func TestUpsertNodeComputesDigestAndGeneration(t *testing.T) {
	s := New()
	require.NoError(t, s.UpsertNode(Node{ID: "a", Type: "Markdown", Content: "# A", Fields: map[string]any{"title": "A"}}))
	require.Equal(t, uint64(1), s.Generation())

	first := s.Digest("a")
	require.NotEmpty(t, first)

	require.NoError(t, s.UpsertNode(Node{ID: "a", Type: "Markdown", Content: "# A", Fields: map[string]any{"title": "A"}}))
	require.Equal(t, first, s.Digest("a"), "same content keeps the digest")

	require.NoError(t, s.UpsertNode(Node{ID: "a", Type: "Markdown", Content: "# A changed", Fields: map[string]any{"title": "A"}}))
	require.NotEqual(t, first, s.Digest("a"))
	require.Equal(t, uint64(3), s.Generation())
}

func TestUpsertNodeValidates(t *testing.T) {
	err := New().UpsertNode(Node{ID: "a"})
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
}

func TestLinkAndDelete(t *testing.T) {
	s := New()
	require.NoError(t, s.UpsertNode(Node{ID: "p", Type: "Dir"}))
	require.NoError(t, s.UpsertNode(Node{ID: "c", Type: "File"}))
	require.NoError(t, s.Link("p", "c"))

	p, ok := s.Node("p")
	require.True(t, ok)
	require.Equal(t, []string{"c"}, p.Children)

	require.NoError(t, s.UpsertNode(Node{ID: "p", Type: "Dir", Content: "new"}))
	p, _ = s.Node("p")
	require.Equal(t, []string{"c"}, p.Children, "upsert keeps links")

	require.NoError(t, s.DeleteNode("c"))
	p, _ = s.Node("p")
	require.Empty(t, p.Children)
	require.NoError(t, s.DeleteNode("missing"))

	require.True(t, ferrors.HasCategory(s.Link("p", "missing"), ferrors.CategoryNotFound))
}

func TestSetFieldChangesDigest(t *testing.T) {
	s := New()
	require.NoError(t, s.UpsertNode(Node{ID: "a", Type: "Markdown"}))
	before := s.Digest("a")
	require.NoError(t, s.SetField("a", "slug", "/a/"))
	require.NotEqual(t, before, s.Digest("a"))
	require.Error(t, s.SetField("missing", "x", 1))
}

func TestPages(t *testing.T) {
	s := New()
	require.NoError(t, s.UpsertPage(Page{Path: "/b/"}))
	require.NoError(t, s.UpsertPage(Page{Path: "/a/"}))
	require.Error(t, s.UpsertPage(Page{Path: "relative"}))

	pages := s.Pages()
	require.Len(t, pages, 2)
	require.Equal(t, "/a/", pages[0].Path)

	require.NoError(t, s.DeletePage("/a/"))
	require.Len(t, s.Pages(), 1)
}

func TestNodeGenerationIgnoresPages(t *testing.T) {
	s := New()
	require.NoError(t, s.UpsertNode(Node{ID: "a", Type: "Markdown"}))
	require.NoError(t, s.UpsertPage(Page{Path: "/a/", NodeID: "a"}))
	require.NoError(t, s.DeletePage("/a/"))
	require.Equal(t, uint64(1), s.NodeGeneration())
	require.Equal(t, uint64(3), s.Generation())

	require.NoError(t, s.SetField("a", "slug", "/a/"))
	require.Equal(t, uint64(2), s.NodeGeneration())
}

func TestConcurrentWrites(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.UpsertNode(Node{ID: string(rune('a' + i)), Type: "T"})
		}()
	}
	wg.Wait()
	require.Len(t, s.Nodes("T"), 20)
	require.Equal(t, []string{"T"}, s.Types())
}
