package config

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiowebux/searchmeter/internal/keybinds"
	"github.com/studiowebux/searchmeter/internal/pacing"
	"github.com/studiowebux/searchmeter/internal/source"
	"github.com/studiowebux/searchmeter/internal/types"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), DirPermissions))
	require.NoError(t, os.WriteFile(path, []byte(content), FilePermissions))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.Query.Enabled)
	assert.Equal(t, 1, cfg.Query.Workers)
	assert.Equal(t, pacing.ModeFixed, cfg.Query.Pacing.Mode)
	assert.False(t, cfg.Update.Enabled)
	assert.False(t, cfg.Optimize.Enabled)
	assert.Equal(t, 5*time.Second, cfg.DrainTimeout)
	assert.Equal(t, 500, cfg.Classify.ServerErrorMinStatus)
	assert.Empty(t, cfg.Path())
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "searchmeter.yaml", `
name: books
solr:
  url: http://solr:8983/solr/books
  commit_within: 2s
query:
  enabled: true
  workers: 8
  pacing:
    mode: random
    min: 10ms
    max: 50ms
  query_file: queries.txt
  order: random
update:
  enabled: true
  workers: 2
  pacing:
    mode: per_minute
    per_minute: 120
  synthetic:
    fields:
      - {name: id, type: word}
      - {name: pages, type: int, min: 1, max: 900}
drain_timeout: 2s
classify:
  server_error_min_status: 400
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "books", cfg.Name)
	assert.Equal(t, "http://solr:8983/solr/books", cfg.Solr.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Solr.CommitWithin)
	assert.Equal(t, 8, cfg.Query.Workers)
	assert.Equal(t, 10*time.Millisecond, cfg.Query.Pacing.Min)
	assert.Equal(t, source.Random, cfg.Query.Order)
	assert.Equal(t, 120, cfg.Update.Pacing.PerMinute)
	require.NotNil(t, cfg.Update.Synthetic)
	assert.Len(t, cfg.Update.Synthetic.Fields, 2)
	assert.Equal(t, 400, cfg.Classify.ServerErrorMinStatus)
	assert.Equal(t, 10, cfg.TotalWorkers())
	assert.Equal(t, path, cfg.Path())
}

func TestLoad_JSONC(t *testing.T) {
	path := writeFile(t, t.TempDir(), "searchmeter.jsonc", `{
  // trailing commas and comments are fine
  "name": "jsonc",
  "query": {"workers": 3, "queries": ["title:go", "author:pike&rows=5"],},
  "drain_timeout": "750ms",
}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "jsonc", cfg.Name)
	assert.Equal(t, 3, cfg.Query.Workers)
	assert.True(t, cfg.Query.Enabled, "defaults survive partial files")
	assert.Equal(t, 750*time.Millisecond, cfg.DrainTimeout)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SEARCHMETER_SOLR_URL", "http://override:8983/solr/x")
	t.Setenv("SEARCHMETER_QUERY_WORKERS", "12")
	t.Setenv("SEARCHMETER_DRAIN_TIMEOUT", "not-a-duration")
	t.Setenv("SEARCHMETER_SOLR_HEADERS", "X-A=1, X-B=2")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://override:8983/solr/x", cfg.Solr.BaseURL)
	assert.Equal(t, 12, cfg.Query.Workers)
	assert.Equal(t, 5*time.Second, cfg.DrainTimeout, "unparseable values are ignored")
	assert.Equal(t, map[string]string{"X-A": "1", "X-B": "2"}, cfg.Solr.Headers)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad url", "solr:\n  url: not a url\n"},
		{"too many workers", "query:\n  workers: 1001\n"},
		{"unknown pacing", "query:\n  pacing:\n    mode: bursty\n"},
		{"no queries", "query:\n  queries: []\n"},
		{"update without documents", "update:\n  enabled: true\n"},
		{"bad optimize action", "optimize:\n  action: rollback\n"},
		{"bad order", "query:\n  order: backwards\n"},
		{"bad yaml", "query: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "searchmeter.yaml", tt.content)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_DisabledExecutorIsNotValidated(t *testing.T) {
	path := writeFile(t, t.TempDir(), "searchmeter.yaml", "update:\n  enabled: false\n  workers: 0\n")
	_, err := Load(path)
	assert.NoError(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestResolveRelative(t *testing.T) {
	assert.Equal(t, "", ResolveRelative("/etc/sm/searchmeter.yaml", ""))
	assert.Equal(t, "/data/q.txt", ResolveRelative("/etc/sm/searchmeter.yaml", "/data/q.txt"))
	assert.Equal(t, filepath.Join("/etc/sm", "q.txt"), ResolveRelative("/etc/sm/searchmeter.yaml", "q.txt"))
	assert.Equal(t, "q.txt", ResolveRelative("", "q.txt"))
}

func TestInitializeAt(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "home")
	require.NoError(t, InitializeAt(dir))
	assert.DirExists(t, dir)
	assert.Equal(t, filepath.Join(dir, "searchmeter.db"), DatabasePath)
	assert.Equal(t, filepath.Join(dir, DefaultConfigName), GlobalConfigFile)

	assert.Equal(t, "/explicit.yaml", ResolveConfigPath("/explicit.yaml"))
	assert.Equal(t, "", ResolveConfigPath(""))

	writeFile(t, dir, DefaultConfigName, "name: global\n")
	assert.Equal(t, GlobalConfigFile, ResolveConfigPath(""))
}

func TestFileProvider_Plan(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`{"responseHeader":{"QTime":1},"response":{"numFound":1}}`))
	}))
	defer server.Close()

	dir := t.TempDir()
	writeFile(t, dir, "queries.txt", "# comment\ntitle:go\n\nauthor:pike&rows=3\n")
	writeFile(t, dir, "docs.jsonl", "{\"id\":\"1\"}\n{\"id\":\"2\"}\n{\"id\":\"3\"}\n")
	writeFile(t, dir, "plugins/"+"statistics-config.yaml", `
statistics:
  - name: query-qtime
    implementation: qtime-histogram
    kinds: [query]
    active: true
    view: true
`)
	path := writeFile(t, dir, "searchmeter.yaml", `
name: provider
solr:
  url: `+server.URL+`
query:
  workers: 2
  query_file: queries.txt
  repeat: false
update:
  enabled: true
  document_file: docs.jsonl
  batch_size: 2
  repeat: false
optimize:
  enabled: true
  action: commit
plugins_dir: plugins
`)

	p := &FileProvider{Path: path}
	plan, err := p.Plan()
	require.NoError(t, err)
	require.NotNil(t, p.Last)

	assert.Equal(t, "provider", plan.Name)
	require.Len(t, plan.Executors, 3)

	var names []string
	for _, d := range plan.Statistics {
		names = append(names, d.Name)
	}
	assert.Contains(t, names, "query-qtime", "plugin statistics are appended")

	query := plan.Executors[0]
	assert.Equal(t, types.KindQuery, query.Kind)
	src, err := query.Source()
	require.NoError(t, err)
	first, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, "title:go", first.Query.Get("q"))
	second, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, "3", second.Query.Get("rows"))
	_, err = src.Next()
	assert.ErrorIs(t, err, source.ErrExhausted)

	update := plan.Executors[1]
	src, err = update.Source()
	require.NoError(t, err)
	batch, err := src.Next()
	require.NoError(t, err)
	assert.Len(t, batch.Documents, 2)

	optimize := plan.Executors[2]
	src, err = optimize.Source()
	require.NoError(t, err)
	cmd, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, types.ActionCommit, cmd.Action)

	_, err = query.Issuer.Issue(context.Background(), types.Operation{Kind: types.KindQuery, Payload: first})
	require.NoError(t, err)
	assert.Equal(t, 1, hits)
}

func TestFileProvider_PlanFailsOnBadFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "searchmeter.yaml", "query:\n  workers: -1\n")
	p := &FileProvider{Path: path}
	_, err := p.Plan()
	assert.Error(t, err)
	assert.Nil(t, p.Last)
}

func TestLoad_KeyOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "searchmeter.yaml", `
monitor:
  keys:
    start: [enter]
    quit: [Q]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	keys, err := cfg.KeyBindings()
	require.NoError(t, err)
	action, ok := keys.Match("enter")
	require.True(t, ok)
	assert.Equal(t, keybinds.ActionStart, action)
	_, ok = keys.Match("q")
	assert.False(t, ok)

	bad := writeFile(t, dir, "bad.yaml", `
monitor:
  keys:
    strt: [enter]
`)
	_, err = Load(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "start"`)
}
