package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/studiowebux/searchmeter/internal/statistics"
	"github.com/studiowebux/searchmeter/internal/stresstest"
	"github.com/studiowebux/searchmeter/internal/types"
)

func sampleRun() *stresstest.Run {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	completed := started.Add(2 * time.Second)
	return &stresstest.Run{
		ID: 1, GUID: "2abc", Name: "books", Status: stresstest.RunStatusCompleted,
		StartedAt: started, CompletedAt: &completed,
		TotalIssued: 10, TotalSucceeded: 8, TotalFailed: 2,
	}
}

func TestPrintSummary_Formats(t *testing.T) {
	snaps := []statistics.Snapshot{{
		Name: "ops", Implementation: statistics.ImplOperationCounter, Kinds: []types.Kind{types.KindQuery},
		HasView: true, Entries: []statistics.Entry{{Label: "query ok", Value: 8}},
	}}
	s := NewSummary(sampleRun(), []stresstest.Status{{Kind: types.KindQuery, Workers: 2, Issued: 10}}, snaps)

	var text bytes.Buffer
	require.NoError(t, printSummary(&text, s, ""))
	assert.Contains(t, text.String(), "Run 2abc")
	assert.Contains(t, text.String(), "5.00 ops/s")
	assert.Contains(t, text.String(), "query ok")

	var js bytes.Buffer
	require.NoError(t, printSummary(&js, s, FormatJSON))
	var decoded Summary
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, int64(2), decoded.Run.Failed)
	assert.Equal(t, 2*time.Second, decoded.Run.Duration)

	var ym bytes.Buffer
	require.NoError(t, printSummary(&ym, s, FormatYAML))
	var generic map[string]any
	require.NoError(t, yaml.Unmarshal(ym.Bytes(), &generic))
	assert.Contains(t, generic, "executors")

	assert.Error(t, printSummary(&bytes.Buffer{}, s, "xml"))
}

func TestPrintSummary_NoRun(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printSummary(&out, NewSummary(nil, nil, nil), FormatText))
	assert.Contains(t, out.String(), "No run was started")
}

func TestPrintRuns(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printRuns(&out, nil, ""))
	assert.Contains(t, out.String(), "No runs recorded")

	out.Reset()
	require.NoError(t, printRuns(&out, []*stresstest.Run{sampleRun()}, ""))
	assert.Contains(t, out.String(), "2abc")
	assert.Contains(t, out.String(), "2s")

	out.Reset()
	require.NoError(t, printRuns(&out, []*stresstest.Run{sampleRun()}, FormatJSON))
	var decoded []RunSummary
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "books", decoded[0].Name)
}

func TestPrintStatistics(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printStatistics(&out, statistics.DefaultDescriptors(), []string{"a", "b"}, ""))
	assert.Contains(t, out.String(), "IMPLEMENTATION")
	assert.Contains(t, out.String(), "a, b")
}

func writeConfig(t *testing.T, solrURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "searchmeter.yaml")
	content := `
name: cli-test
solr:
  url: ` + solrURL + `
query:
  workers: 2
  pacing:
    mode: unlimited
  queries: ["title:go", "title:rust", "title:zig"]
  repeat: false
drain_timeout: 1s
plugins_dir: ""
logging:
  level: error
database:
  enabled: true
  path: runs.db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRun_EndToEnd(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"responseHeader":{"QTime":2},"response":{"numFound":7}}`))
	}))
	defer server.Close()

	path := writeConfig(t, server.URL)
	err := Run(RunOptions{Options: Options{ConfigPath: path}, Duration: 10 * time.Second, OutputFormat: FormatJSON})
	require.NoError(t, err)
	assert.Equal(t, int64(3), hits.Load(), "a finite source is issued once per payload")

	mgr, err := stresstest.NewManager(filepath.Join(filepath.Dir(path), "runs.db"))
	require.NoError(t, err)
	defer mgr.Close()

	runs, err := mgr.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "cli-test", runs[0].Name)
	assert.Equal(t, stresstest.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, int64(3), runs[0].TotalSucceeded)

	snaps, err := mgr.GetSnapshots(runs[0].ID)
	require.NoError(t, err)
	assert.NotEmpty(t, snaps)
}

func TestOpen_NoPersist(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	app, err := Open(Options{ConfigPath: writeConfig(t, "http://localhost:8983/solr/x"), NoPersist: true})
	require.NoError(t, err)
	defer app.Close()
	assert.Nil(t, app.Manager)
	assert.NotNil(t, app.Scope)
}

func TestOpen_InvalidConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("query:\n  workers: 0\n"), 0o644))
	_, err := Open(Options{ConfigPath: path})
	assert.Error(t, err)
}

type staticVersion struct {
	v   string
	err error
}

func (s staticVersion) ServerVersion(context.Context) (string, error) { return s.v, s.err }

func TestPrintVersion(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printVersion(context.Background(), &buf, "1.2.0", "http://solr", staticVersion{v: "9.4.1"}))
	assert.Contains(t, buf.String(), "searchmeter 1.2.0")
	assert.Contains(t, buf.String(), "(9.4.1)")
	assert.NotContains(t, buf.String(), "warning")

	buf.Reset()
	require.NoError(t, printVersion(context.Background(), &buf, "1.2.0", "http://solr", staticVersion{v: "3.6.2"}))
	assert.Contains(t, buf.String(), "warning: server 3.6.2 is older")

	buf.Reset()
	require.NoError(t, printVersion(context.Background(), &buf, "1.2.0", "http://solr", staticVersion{err: errors.New("refused")}))
	assert.Contains(t, buf.String(), "unreachable: refused")
}

func TestPickerModel(t *testing.T) {
	runs := []*stresstest.Run{sampleRun(), {GUID: "3def", Name: "other", Status: stresstest.RunStatusRunning, StartedAt: time.Now()}}
	items := []list.Item{runItem{run: runs[0]}, runItem{run: runs[1]}}
	m := pickerModel{list: list.New(items, runDelegate{}, 100, runPickerHeight)}

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	next, cmd := next.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, "3def", next.(pickerModel).chosen.GUID)
	assert.Empty(t, next.View())

	cancelled, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.Nil(t, cancelled.(pickerModel).chosen)

	var buf bytes.Buffer
	runDelegate{}.Render(&buf, m.list, 0, items[0])
	assert.Contains(t, buf.String(), "2abc")
	assert.Contains(t, buf.String(), "10 issued")
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestWarnIfUnreachable(t *testing.T) {
	var buf bytes.Buffer
	assert.True(t, warnIfUnreachable(context.Background(), &buf, pingFunc(func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok, "the ping is bounded")
		return nil
	})))
	assert.Empty(t, buf.String())

	assert.False(t, warnIfUnreachable(context.Background(), &buf, pingFunc(func(context.Context) error {
		return errors.New("connection refused")
	})))
	assert.Contains(t, buf.String(), "warning: search service is not answering: connection refused")
}
