package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/sitedev/internal/livereload"
	"git.home.luguber.info/inful/sitedev/internal/metrics"
)

type pageMap map[string]string

func (p pageMap) Page(urlPath string) ([]byte, bool) {
	s, ok := p[urlPath]
	return []byte(s), ok
}

func TestNewSiteRequiresPages(t *testing.T) {
	_, err := NewSite("", nil, nil, nil)
	require.Error(t, err)
}

func TestSiteServesPagesWithLiveClient(t *testing.T) {
	pages := pageMap{
		"/":       "<html><body><h1>Home</h1></body></html>",
		"/guide/": "<p>guide</p>",
	}
	s, err := NewSite("", pages, livereload.NewHub(metrics.NoopRecorder{}, nil), nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "/__live")
	require.Less(t, strings.Index(body, "<script>"), strings.Index(body, "</body>"))

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/guide", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.HasPrefix(rec.Body.String(), "<p>guide</p><script>"))
}

func TestSiteWithoutHubServesPlainPages(t *testing.T) {
	s, err := NewSite("", pageMap{"/": "<p>x</p>"}, nil, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, "<p>x</p>", rec.Body.String())
}

func TestSiteMissingPage(t *testing.T) {
	s, err := NewSite("", pageMap{}, nil, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInjectScriptAppendsWithoutBody(t *testing.T) {
	out := string(injectScript([]byte("<p>x</p>")))
	require.True(t, strings.HasPrefix(out, "<p>x</p><script>"))
	require.True(t, strings.HasSuffix(out, "</script>"))
}
