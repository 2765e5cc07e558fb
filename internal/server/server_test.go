package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bnema/domain-redirector/internal/models"
	"github.com/bnema/domain-redirector/internal/rewrite"
	"github.com/bnema/domain-redirector/internal/settings"
	"github.com/bnema/domain-redirector/internal/store"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *settings.Service) {
	t.Helper()
	svc := settings.New(store.NewRules(store.NewMemory()), nil)
	srv := httptest.NewServer(New(svc, rewrite.New(rewrite.ModeSubstring)).Handler())
	t.Cleanup(srv.Close)
	return srv, svc
}

func do(t *testing.T, method, target, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, target, strings.NewReader(body))
	require.NoError(t, err)
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRulesCRUD(t *testing.T) {
	srv, svc := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/rules", `{"domain":"a.com","replacement":"b.com"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/rules", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rows []models.Row
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rows))
	assert.Equal(t, []models.Row{{Domain: "a.com", Replacement: "b.com"}}, rows)

	resp = do(t, http.MethodDelete, srv.URL+"/rules/a.com", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, svc.Rows())
}

func TestConcurrentAddRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	svc := settings.New(store.NewRules(store.NewFile(afero.NewOsFs(), path)), nil)
	srv := httptest.NewServer(New(svc, nil).Handler())
	t.Cleanup(srv.Close)

	const n = 50
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			body := fmt.Sprintf(`{"domain":"d%d.com","replacement":"mirror.org"}`, i)
			resp, err := http.Post(srv.URL+"/rules", "application/json", strings.NewReader(body))
			if assert.NoError(t, err) {
				assert.Equal(t, http.StatusOK, resp.StatusCode)
				resp.Body.Close()
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Len(t, svc.Rows(), n)
}

func TestAddRuleRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `nope`},
		{name: "missing replacement", body: `{"domain":"a.com"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, svc := newTestServer(t)
			resp := do(t, http.MethodPost, srv.URL+"/rules", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Empty(t, svc.Rows())
		})
	}
}

func TestLists(t *testing.T) {
	srv, svc := newTestServer(t)

	require.Equal(t, http.StatusOK, do(t, http.MethodPost, srv.URL+"/whitelist/a.com", "").StatusCode)
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, srv.URL+"/blacklist/a.com", "").StatusCode)

	resp := do(t, http.MethodGet, srv.URL+"/lists", "")
	var lists ListsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&lists))
	assert.Equal(t, []string{"a.com"}, lists.Whitelist)
	assert.Equal(t, []string{"a.com"}, lists.Blacklist)

	require.Equal(t, http.StatusOK, do(t, http.MethodDelete, srv.URL+"/blacklist/a.com", "").StatusCode)
	assert.Empty(t, svc.RuleSet().Blacklist)
}

func TestExport(t *testing.T) {
	srv, svc := newTestServer(t)
	require.NoError(t, svc.AddReplacement("a.com", "b.com"))
	require.NoError(t, svc.AddWhitelist("w.com"))

	resp := do(t, http.MethodGet, srv.URL+"/export", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), settings.ExportFilename)

	var got map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, map[string]string{"a.com": "b.com"}, got)
}

func TestImport(t *testing.T) {
	srv, svc := newTestServer(t)
	require.NoError(t, svc.AddReplacement("old.com", "x.com"))

	resp := do(t, http.MethodPost, srv.URL+"/import", `{"a.com":"b.com","n.com":null}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats ImportResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Imported)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, []models.Row{{Domain: "a.com", Replacement: "b.com"}}, svc.Rows())
}

func TestImportInvalid(t *testing.T) {
	srv, svc := newTestServer(t)
	require.NoError(t, svc.AddReplacement("old.com", "x.com"))

	resp := do(t, http.MethodPost, srv.URL+"/import", `{"a.com":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["error"], "valid JSON")
	assert.Equal(t, []models.Row{{Domain: "old.com", Replacement: "x.com"}}, svc.Rows())
}

func TestEvaluate(t *testing.T) {
	srv, svc := newTestServer(t)
	require.NoError(t, svc.AddReplacement("old.example.com", "new.example.com"))

	tests := []struct {
		name        string
		url         string
		redirect    bool
		destination string
	}{
		{name: "rewritten", url: "https://old.example.com/path?x=1", redirect: true, destination: "https://new.example.com/path?x=1"},
		{name: "unknown domain", url: "https://other.com/", redirect: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodGet, srv.URL+"/evaluate?url="+url.QueryEscape(tt.url), "")
			require.Equal(t, http.StatusOK, resp.StatusCode)

			var got EvaluateResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
			assert.Equal(t, tt.redirect, got.Redirect)
			assert.Equal(t, tt.destination, got.Destination)
		})
	}

	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, srv.URL+"/evaluate", "").StatusCode)
}

func TestGo(t *testing.T) {
	srv, svc := newTestServer(t)
	require.NoError(t, svc.AddReplacement("old.example.com", "new.example.com"))

	resp := do(t, http.MethodGet, srv.URL+"/go?url="+url.QueryEscape("https://old.example.com/a"), "")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://new.example.com/a", resp.Header.Get("Location"))

	resp = do(t, http.MethodGet, srv.URL+"/go?url="+url.QueryEscape("https://other.com/a"), "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
