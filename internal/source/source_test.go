package source

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiowebux/searchmeter/internal/types"
)

func queryPayloads(qs ...string) []types.Payload {
	out := make([]types.Payload, len(qs))
	for i, q := range qs {
		params, _ := ParseQueryLine(q)
		out[i] = types.Payload{Query: params}
	}
	return out
}

func TestList_SequentialOnce(t *testing.T) {
	l := NewList(queryPayloads("a", "b", "c"), Sequential, false)
	assert.False(t, l.Repeatable())

	for _, want := range []string{"a", "b", "c"} {
		p, err := l.Next()
		require.NoError(t, err)
		assert.Equal(t, want, p.Query.Get("q"))
	}

	_, err := l.Next()
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestList_SequentialRepeatWraps(t *testing.T) {
	l := NewList(queryPayloads("a", "b"), Sequential, true)
	var got []string
	for i := 0; i < 5; i++ {
		p, err := l.Next()
		require.NoError(t, err)
		got = append(got, p.Query.Get("q"))
	}
	assert.Equal(t, []string{"a", "b", "a", "b", "a"}, got)
}

func TestList_RandomOnceServesEachPayloadOnce(t *testing.T) {
	l := NewList(queryPayloads("a", "b", "c", "d", "e"), Random, false)

	seen := map[string]int{}
	for {
		p, err := l.Next()
		if errors.Is(err, ErrExhausted) {
			break
		}
		require.NoError(t, err)
		seen[p.Query.Get("q")]++
	}

	assert.Len(t, seen, 5)
	for q, n := range seen {
		assert.Equal(t, 1, n, "query %s served %d times", q, n)
	}
}

func TestList_EmptyIsExhausted(t *testing.T) {
	_, err := NewList(nil, Random, true).Next()
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestList_ConcurrentDrainIsExact(t *testing.T) {
	payloads := make([]types.Payload, 500)
	l := NewList(payloads, Sequential, false)

	var (
		mu    sync.Mutex
		count int
		wg    sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if _, err := l.Next(); err != nil {
					return
				}
				mu.Lock()
				count++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 500, count)
}

func TestParseQueryLine_ExtraParams(t *testing.T) {
	params, err := ParseQueryLine("title:solr&fq=type:book&rows=5")
	require.NoError(t, err)
	assert.Equal(t, "title:solr", params.Get("q"))
	assert.Equal(t, "type:book", params.Get("fq"))
	assert.Equal(t, "5", params.Get("rows"))
}

func TestReadQueries_SkipsCommentsAndBlanks(t *testing.T) {
	input := "# header\nfoo\n\n  bar&rows=1 \n#bar\n"
	payloads, err := ReadQueries(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, payloads, 2)
	assert.Equal(t, "foo", payloads[0].Query.Get("q"))
	assert.Equal(t, "1", payloads[1].Query.Get("rows"))
}

func TestNewQueryFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queries.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\n"), 0644))

	l, err := NewQueryFile(path, Sequential, false)
	require.NoError(t, err)
	assert.Equal(t, 2, l.Len())

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("# nothing\n"), 0644))
	_, err = NewQueryFile(empty, Sequential, false)
	assert.Error(t, err)

	_, err = NewQueryFile(filepath.Join(dir, "missing.txt"), Sequential, false)
	assert.Error(t, err)
}

func TestReadDocuments_Batches(t *testing.T) {
	input := `{"id":"1"}
{"id":"2"}
{"id":"3"}
`
	payloads, err := ReadDocuments(strings.NewReader(input), 2)
	require.NoError(t, err)
	require.Len(t, payloads, 2)
	assert.Len(t, payloads[0].Documents, 2)
	assert.Len(t, payloads[1].Documents, 1)
	assert.Equal(t, "3", payloads[1].Documents[0]["id"])

	_, err = ReadDocuments(strings.NewReader("{broken"), 2)
	assert.Error(t, err)
}

func TestSynthetic_GeneratesConfiguredFields(t *testing.T) {
	s, err := NewSynthetic(3, []FieldSpec{
		{Name: "title", Type: FieldText, Words: 4},
		{Name: "category", Type: FieldWord},
		{Name: "price", Type: FieldInt, Min: 10, Max: 20},
		{Name: "in_stock", Type: FieldBool},
	}, nil)
	require.NoError(t, err)
	assert.True(t, s.Repeatable())

	p, err := s.Next()
	require.NoError(t, err)
	require.Len(t, p.Documents, 3)

	ids := map[string]bool{}
	for _, doc := range p.Documents {
		ids[doc["id"].(string)] = true
		assert.Len(t, strings.Fields(doc["title"].(string)), 4)
		price := doc["price"].(int)
		assert.GreaterOrEqual(t, price, 10)
		assert.LessOrEqual(t, price, 20)
		assert.IsType(t, true, doc["in_stock"])
	}
	assert.Len(t, ids, 3, "document ids must be unique")
}

func TestSynthetic_RejectsBadSpecs(t *testing.T) {
	_, err := NewSynthetic(0, nil, nil)
	assert.Error(t, err)

	_, err = NewSynthetic(1, []FieldSpec{{Name: "t", Type: FieldText}}, nil)
	assert.Error(t, err)

	_, err = NewSynthetic(1, []FieldSpec{{Name: "n", Type: FieldInt, Min: 5, Max: 1}}, nil)
	assert.Error(t, err)

	_, err = NewSynthetic(1, []FieldSpec{{Name: "x", Type: "uuid"}}, nil)
	assert.Error(t, err)
}

func TestCommand(t *testing.T) {
	c := NewCommand("")
	p, err := c.Next()
	require.NoError(t, err)
	assert.Equal(t, types.ActionOptimize, p.Action)
	assert.True(t, c.Repeatable())

	p, _ = NewCommand(types.ActionCommit).Next()
	assert.Equal(t, types.ActionCommit, p.Action)
}
