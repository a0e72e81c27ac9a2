// Package solr issues stress-test operations against a Solr-compatible HTTP API.
package solr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/studiowebux/searchmeter/internal/types"
)

// maxErrorBody bounds how much of an error response is kept in StatusError
const maxErrorBody = 256

const serverVersionPath = `lucene."solr-spec-version"`

// StatusError is returned for non-2xx responses
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("solr returned status %d", e.Code)
	}
	return fmt.Sprintf("solr returned status %d: %s", e.Code, e.Body)
}

// StatusCode exposes the HTTP status for error classification
func (e *StatusError) StatusCode() int { return e.Code }

var validate = validator.New()

// Client sends queries, updates and optimize/commit requests to one core
type Client struct {
	cfg       Config
	base      *url.URL
	http      *http.Client
	extractor *Extractor
	logger    *zap.Logger
}

// NewClient validates cfg and builds the HTTP client, including TLS and authentication
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid solr config: %w", err)
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid solr url: %w", err)
	}
	if cfg.QTimePath == "" {
		cfg.QTimePath = DefaultQTimePath
	}
	if cfg.HitsPath == "" {
		cfg.HitsPath = DefaultHitsPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient, err := buildHTTPClient(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP client: %w", err)
	}

	if cfg.OAuth2 != nil {
		cc := clientcredentials.Config{
			ClientID:     cfg.OAuth2.ClientID,
			ClientSecret: cfg.OAuth2.ClientSecret,
			TokenURL:     cfg.OAuth2.TokenURL,
			Scopes:       cfg.OAuth2.Scopes,
		}
		// token requests go through the same pooled transport
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		oauthClient := cc.Client(ctx)
		oauthClient.Timeout = httpClient.Timeout
		httpClient = oauthClient
	}

	extractor := NewExtractor()
	for _, expr := range []string{cfg.QTimePath, cfg.HitsPath} {
		if _, err := extractor.Compile(expr); err != nil {
			return nil, err
		}
	}

	return &Client{
		cfg:       cfg,
		base:      base,
		http:      httpClient,
		extractor: extractor,
		logger:    logger.With(zap.String("solr", base.Redacted())),
	}, nil
}

// Issue dispatches op by kind
func (c *Client) Issue(ctx context.Context, op types.Operation) (types.ResponseMeta, error) {
	switch op.Kind {
	case types.KindQuery:
		return c.Query(ctx, op.Payload.Query)
	case types.KindUpdate:
		return c.Update(ctx, op.Payload.Documents)
	case types.KindOptimize:
		return c.Optimize(ctx, op.Payload.Action)
	default:
		return types.UnknownResponse, fmt.Errorf("unsupported operation kind %s", op.Kind)
	}
}

// Query runs a search request against /select
func (c *Client) Query(ctx context.Context, params url.Values) (types.ResponseMeta, error) {
	q := cloneValues(params)
	q.Set("wt", "json")
	return c.do(ctx, http.MethodGet, "/select", q, nil)
}

// Update posts a batch of documents to /update
func (c *Client) Update(ctx context.Context, docs []map[string]any) (types.ResponseMeta, error) {
	if docs == nil {
		docs = []map[string]any{}
	}
	body, err := json.Marshal(docs)
	if err != nil {
		return types.UnknownResponse, fmt.Errorf("failed to encode documents: %w", err)
	}

	q := url.Values{"wt": {"json"}}
	if c.cfg.CommitWithin > 0 {
		q.Set("commitWithin", strconv.FormatInt(c.cfg.CommitWithin.Milliseconds(), 10))
	}
	return c.do(ctx, http.MethodPost, "/update", q, body)
}

// Optimize sends an optimize or commit request. An empty action uses the optimize mode.
func (c *Client) Optimize(ctx context.Context, action string) (types.ResponseMeta, error) {
	q := url.Values{"wt": {"json"}}
	switch action {
	case "", types.ActionOptimize:
		q.Set("optimize", "true")
	case types.ActionCommit:
		q.Set("commit", "true")
	default:
		return types.UnknownResponse, fmt.Errorf("unsupported action %q", action)
	}
	return c.do(ctx, http.MethodPost, "/update", q, nil)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body []byte) (types.ResponseMeta, error) {
	status, respBody, err := c.send(ctx, method, path, q, body)
	if status == 0 {
		return types.UnknownResponse, err
	}
	meta := types.ResponseMeta{StatusCode: status, Size: int64(len(respBody)), QTime: -1, Hits: -1}
	if err != nil {
		return meta, err
	}

	meta.QTime, meta.Hits = c.extractor.ResponseFields(respBody, c.cfg.QTimePath, c.cfg.HitsPath)

	if status < 200 || status > 299 {
		return meta, &StatusError{Code: status, Body: truncate(string(respBody), maxErrorBody)}
	}
	return meta, nil
}

// send performs one request. status is 0 when no response was received.
func (c *Client) send(ctx context.Context, method, path string, q url.Values, body []byte) (status int, respBody []byte, err error) {
	u := *c.base
	u.Path += path
	u.RawQuery = q.Encode()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.cfg.Headers {
		req.Header.Set(key, value)
	}
	if c.cfg.BasicAuth != nil {
		req.SetBasicAuth(c.cfg.BasicAuth.Username, c.cfg.BasicAuth.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, respBody, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// ServerVersion asks the system handler of the core for the server release
func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	status, body, err := c.send(ctx, http.MethodGet, "/admin/system", url.Values{"wt": {"json"}}, nil)
	if err != nil {
		return "", err
	}
	if status < 200 || status > 299 {
		return "", &StatusError{Code: status, Body: truncate(string(body), maxErrorBody)}
	}

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return "", fmt.Errorf("failed to decode system info: %w", err)
	}
	jp, err := c.extractor.Compile(serverVersionPath)
	if err != nil {
		return "", err
	}
	result, err := jp.Search(data)
	if err != nil {
		return "", fmt.Errorf("JMESPath search failed: %w", err)
	}
	v, ok := result.(string)
	if !ok || v == "" {
		return "", fmt.Errorf("system info has no %s", serverVersionPath)
	}
	return v, nil
}

// Ping checks that the core answers a trivial query
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Query(ctx, url.Values{"q": {"*:*"}, "rows": {"0"}})
	if err != nil {
		c.logger.Warn("Search service is not answering", zap.Error(err))
	}
	return err
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+1)
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

// truncate shortens s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
