package phases

import (
	"bytes"
	"context"
	"html/template"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/inful/mdfp"

	"git.home.luguber.info/inful/sitedev/internal/config"
	"git.home.luguber.info/inful/sitedev/internal/content"
	"git.home.luguber.info/inful/sitedev/internal/develop"
	ferrors "git.home.luguber.info/inful/sitedev/internal/foundation/errors"
	"git.home.luguber.info/inful/sitedev/internal/logfields"
	"git.home.luguber.info/inful/sitedev/internal/nodestore"
)

// SiteQueryID is the static query every page layout reads.
const SiteQueryID = "site"

// PageLink is one navigation entry.
type PageLink struct {
	Path  string `json:"path"`
	Title string `json:"title"`
}

// SiteData is the result of the site query.
type SiteData struct {
	Title string     `json:"title"`
	Pages []PageLink `json:"pages"`
}

// PageData is the result of a page query.
type PageData struct {
	Path     string         `json:"path"`
	Title    string         `json:"title"`
	HTML     string         `json:"html"`
	Fields   map[string]any `json:"fields,omitempty"`
	Children []PageLink     `json:"children,omitempty"`
}

type queryRunner struct {
	store    *nodestore.Store
	renderer *content.Renderer
	cfg      func() *config.Config
}

// Query resolves the site query or the page query for a page path.
func (q *queryRunner) Query(ctx context.Context, id string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == SiteQueryID {
		return q.site(), nil
	}
	var page nodestore.Page
	found := false
	for _, pg := range q.store.Pages() {
		if pg.Path == id {
			page, found = pg, true
			break
		}
	}
	if !found {
		return nil, ferrors.NotFoundError("no page for query").WithContext("query_id", id).Build()
	}
	if page.Component == ComponentIndex {
		site := q.site()
		return PageData{Path: page.Path, Title: site.Title, Children: site.Pages}, nil
	}
	n, ok := q.store.Node(page.NodeID)
	if !ok {
		return nil, ferrors.NotFoundError("page node missing").
			WithContext("query_id", id).
			WithContext("id", page.NodeID).Build()
	}
	html, err := q.renderer.Render([]byte(n.Content))
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryPhase, "render markdown").WithContext("query_id", id).Build()
	}
	title, _ := n.Fields["title"].(string)
	if title == "" {
		title = n.ID
	}
	return PageData{Path: page.Path, Title: title, HTML: string(html), Fields: n.Fields}, nil
}

func (q *queryRunner) site() SiteData {
	data := SiteData{Title: q.cfg().Site.Title}
	if n, ok := q.store.Node(SiteNodeID); ok {
		if t, _ := n.Fields["title"].(string); t != "" {
			data.Title = t
		}
	}
	for _, pg := range q.store.Pages() {
		if pg.Component != ComponentMarkdown {
			continue
		}
		title := pg.Path
		if n, ok := q.store.Node(pg.NodeID); ok {
			if t, _ := n.Fields["title"].(string); t != "" {
				title = t
			}
		}
		data.Pages = append(data.Pages, PageLink{Path: pg.Path, Title: title})
	}
	return data
}

// queryDigest fingerprints everything a query result depends on.
func queryDigest(store *nodestore.Store, id, component string, nav string) string {
	switch component {
	case ComponentMarkdown:
		for _, pg := range store.Pages() {
			if pg.Path == id {
				return mdfp.CalculateFingerprintFromParts(nav, store.Digest(pg.NodeID))
			}
		}
		return ""
	default:
		return mdfp.CalculateFingerprintFromParts(nav, "")
	}
}

// navDigest changes when the page set or any page title changes.
func navDigest(store *nodestore.Store, title string) string {
	var b strings.Builder
	b.WriteString(title)
	for _, pg := range store.Pages() {
		b.WriteString("\n" + pg.Path)
		if n, ok := store.Node(pg.NodeID); ok {
			if t, _ := n.Fields["title"].(string); t != "" {
				b.WriteString(" " + t)
			}
		}
	}
	return b.String()
}

// CalculateDirtyQueries selects queries whose inputs changed since they last
// ran. A refresh or the first pass marks everything dirty.
func (p *Pipeline) CalculateDirtyQueries(_ context.Context, bc develop.BuildContext) (develop.PhaseResult, error) {
	store, err := p.storeFor(bc)
	if err != nil {
		return develop.PhaseResult{}, err
	}
	nav := navDigest(store, p.Config().Site.Title)

	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.rendered {
		if _, ok := p.queries[id]; !ok {
			delete(p.rendered, id)
			delete(p.digests, id)
		}
	}

	all := bc.FirstRun || bc.Refresh
	p.pending = map[string]string{}
	dirty := make([]string, 0, len(p.queries))
	for id, component := range p.queries {
		d := queryDigest(store, id, component, nav)
		p.pending[id] = d
		if all || p.digests[id] != d {
			dirty = append(dirty, id)
		}
	}
	slices.Sort(dirty)
	p.logger.Info("Calculated dirty queries", slog.Int("dirty", len(dirty)), slog.Int("total", len(p.queries)))
	return develop.PhaseResult{QueryIDs: dirty}, nil
}

// RunStaticQueries runs the site query.
func (p *Pipeline) RunStaticQueries(ctx context.Context, bc develop.BuildContext) (develop.PhaseResult, error) {
	if bc.QueryRunner == nil {
		return develop.PhaseResult{}, ferrors.PhaseError("query runner is not built").Build()
	}
	res, err := bc.QueryRunner.Query(ctx, SiteQueryID)
	if err != nil {
		return develop.PhaseResult{}, err
	}
	return develop.PhaseResult{StaticResults: []develop.QueryResult{{ID: SiteQueryID, Result: res}}}, nil
}

// RunPageQueries renders every dirty page and schedules its write to the cache directory.
func (p *Pipeline) RunPageQueries(ctx context.Context, bc develop.BuildContext) (develop.PhaseResult, error) {
	if bc.QueryRunner == nil {
		return develop.PhaseResult{}, ferrors.PhaseError("query runner is not built").Build()
	}
	siteRes, err := bc.QueryRunner.Query(ctx, SiteQueryID)
	if err != nil {
		return develop.PhaseResult{}, err
	}
	site, _ := siteRes.(SiteData)
	public := filepath.Join(p.Config().CachePath(), "public")

	results := make([]develop.QueryResult, 0, len(bc.QueryIDs))
	for _, id := range bc.QueryIDs {
		res, err := bc.QueryRunner.Query(ctx, id)
		if err != nil {
			return develop.PhaseResult{}, ferrors.WrapError(err, ferrors.CategoryPhase, "page query failed").
				WithContext("query_id", id).Build()
		}
		page, _ := res.(PageData)
		html, err := renderLayout(site, page)
		if err != nil {
			return develop.PhaseResult{}, ferrors.WrapError(err, ferrors.CategoryPhase, "render layout").
				WithContext("query_id", id).Build()
		}
		p.mu.Lock()
		p.rendered[id] = html
		if d, ok := p.pending[id]; ok {
			p.digests[id] = d
		}
		p.mu.Unlock()

		target := filepath.Join(public, filepath.FromSlash(strings.TrimPrefix(id, "/")), "index.html")
		p.jobs.Go(func() error { return writeFileAtomic(target, html) })
		results = append(results, develop.QueryResult{ID: id, Result: page})
	}
	p.logger.Info("Ran page queries", slog.Int("count", len(results)))
	return develop.PhaseResult{PageResults: results}, nil
}

// WaitForJobs waits for page writes and tells live clients when the route set changed.
func (p *Pipeline) WaitForJobs(ctx context.Context, _ develop.BuildContext) (develop.PhaseResult, error) {
	pending := p.jobs.Pending()
	if err := p.jobs.Wait(ctx); err != nil {
		return develop.PhaseResult{}, ferrors.WrapError(err, ferrors.CategoryStore, "page write failed").Build()
	}
	if p.hub != nil {
		p.hub.Reload(mdfp.CalculateFingerprintFromParts("", strings.Join(p.routes, "\n")))
	}
	p.logger.Debug("Jobs finished", slog.Int("jobs", pending), logfields.Path(p.Config().CachePath()))
	return develop.PhaseResult{}, nil
}

var layout = template.Must(template.New("page").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Page.Title}} | {{.Site.Title}}</title>
</head>
<body>
<nav>{{range .Site.Pages}}<a href="{{.Path}}">{{.Title}}</a> {{end}}</nav>
<main>
<h1>{{.Page.Title}}</h1>
{{.Content}}
{{if .Page.Children}}<ul>{{range .Page.Children}}<li><a href="{{.Path}}">{{.Title}}</a></li>{{end}}</ul>{{end}}
</main>
</body>
</html>
`))

func renderLayout(site SiteData, page PageData) ([]byte, error) {
	var buf bytes.Buffer
	err := layout.Execute(&buf, struct {
		Site    SiteData
		Page    PageData
		Content template.HTML
	}{site, page, template.HTML(page.HTML)}) // #nosec G203 -- HTML produced by goldmark from local content
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
