package stresstest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiowebux/searchmeter/internal/types"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyPolicy_Classify(t *testing.T) {
	policy := DefaultClassifyPolicy()

	tests := []struct {
		name string
		err  error
		want types.ErrorCategory
	}{
		{"nil", nil, types.CategoryNone},
		{"server error", statusErr(500), types.ServerError(500)},
		{"wrapped server error", fmt.Errorf("update failed: %w", statusErr(503)), types.ServerError(503)},
		{"client error", statusErr(404), types.CategoryOther},
		{"deadline", context.DeadlineExceeded, types.CategoryTimeout},
		{"url timeout", &url.Error{Op: "Get", URL: "http://x", Err: timeoutErr{}}, types.CategoryTimeout},
		{"refused errno", &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, types.CategoryConnectionRefused},
		{"refused text", errors.New("dial tcp 127.0.0.1:1: connect: connection refused"), types.CategoryConnectionRefused},
		{"other", errors.New("unexpected EOF"), types.CategoryOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Classify(tt.err))
		})
	}
}

func TestClassifyPolicy_Boundary(t *testing.T) {
	strict := ClassifyPolicy{ServerErrorMinStatus: 400}
	assert.Equal(t, types.ServerError(404), strict.Classify(statusErr(404)))
	assert.Equal(t, types.CategoryOther, strict.Classify(statusErr(302)))

	// zero value falls back to the default boundary
	var zero ClassifyPolicy
	assert.Equal(t, types.CategoryOther, zero.Classify(statusErr(404)))
	assert.Equal(t, types.ServerError(502), zero.Classify(statusErr(502)))
}

func TestClassifyPolicy_RealTransportErrors(t *testing.T) {
	policy := DefaultClassifyPolicy()

	// a closed listener refuses connections
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = http.Get("http://" + addr)
	require.Error(t, err)
	assert.Equal(t, types.CategoryConnectionRefused, policy.Classify(err))

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer slow.Close()

	client := &http.Client{Timeout: 20 * time.Millisecond}
	_, err = client.Get(slow.URL)
	require.Error(t, err)
	assert.Equal(t, types.CategoryTimeout, policy.Classify(err))
}
