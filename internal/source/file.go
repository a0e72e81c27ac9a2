package source

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/studiowebux/searchmeter/internal/types"
)

// ParseQueryLine turns one query-log line into query parameters. The line is the q value,
// optionally followed by "&name=value" pairs for extra request parameters.
func ParseQueryLine(line string) (url.Values, error) {
	q, extra, _ := strings.Cut(line, "&")
	params := url.Values{}
	params.Set("q", strings.TrimSpace(q))
	if extra != "" {
		parsed, err := url.ParseQuery(extra)
		if err != nil {
			return nil, fmt.Errorf("invalid extra parameters %q: %w", extra, err)
		}
		for k, vs := range parsed {
			for _, v := range vs {
				params.Add(k, v)
			}
		}
	}
	return params, nil
}

// ReadQueries parses a query log. Blank lines and lines starting with # are skipped.
func ReadQueries(r io.Reader) ([]types.Payload, error) {
	var payloads []types.Payload
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		params, err := ParseQueryLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		payloads = append(payloads, types.Payload{Query: params})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read queries: %w", err)
	}
	return payloads, nil
}

// NewQueryFile loads a query log from disk into a List source
func NewQueryFile(path string, order Order, repeat bool) (*List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open query file: %w", err)
	}
	defer f.Close()

	payloads, err := ReadQueries(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(payloads) == 0 {
		return nil, fmt.Errorf("query file %s contains no queries", path)
	}
	return NewList(payloads, order, repeat), nil
}

// ReadDocuments parses JSON-lines documents and groups them into batches of batchSize
func ReadDocuments(r io.Reader, batchSize int) ([]types.Payload, error) {
	if batchSize <= 0 {
		batchSize = 1
	}

	var (
		payloads []types.Payload
		batch    []map[string]any
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal([]byte(line), &doc); err != nil {
			return nil, fmt.Errorf("line %d: invalid document: %w", lineNum, err)
		}
		batch = append(batch, doc)
		if len(batch) == batchSize {
			payloads = append(payloads, types.Payload{Documents: batch})
			batch = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}
	if len(batch) > 0 {
		payloads = append(payloads, types.Payload{Documents: batch})
	}
	return payloads, nil
}

// NewDocumentFile loads a JSON-lines document file into a sequential List source
func NewDocumentFile(path string, batchSize int, repeat bool) (*List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open document file: %w", err)
	}
	defer f.Close()

	payloads, err := ReadDocuments(f, batchSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(payloads) == 0 {
		return nil, fmt.Errorf("document file %s contains no documents", path)
	}
	return NewList(payloads, Sequential, repeat), nil
}
