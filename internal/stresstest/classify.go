package stresstest

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"syscall"

	"github.com/studiowebux/searchmeter/internal/types"
)

// DefaultServerErrorMinStatus is the lowest HTTP status reported as ServerError
const DefaultServerErrorMinStatus = 500

// ClassifyPolicy decides how a failed call is categorized
type ClassifyPolicy struct {
	// ServerErrorMinStatus is the lowest status code classified as ServerError{code};
	// other non-2xx statuses are classified as Other.
	ServerErrorMinStatus int `yaml:"server_error_min_status" json:"server_error_min_status" validate:"omitempty,min=100,max=599"`
}

// DefaultClassifyPolicy returns the policy used when none is configured
func DefaultClassifyPolicy() ClassifyPolicy {
	return ClassifyPolicy{ServerErrorMinStatus: DefaultServerErrorMinStatus}
}

// statusCoder is implemented by issuer errors that carry an HTTP status
type statusCoder interface {
	StatusCode() int
}

// Classify maps a call error to its error category
func (p ClassifyPolicy) Classify(err error) types.ErrorCategory {
	if err == nil {
		return types.CategoryNone
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		minStatus := p.ServerErrorMinStatus
		if minStatus <= 0 {
			minStatus = DefaultServerErrorMinStatus
		}
		if code := sc.StatusCode(); code >= minStatus {
			return types.ServerError(code)
		}
		return types.CategoryOther
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return types.CategoryTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return types.CategoryConnectionRefused
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return types.CategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.CategoryTimeout
	}

	// Some transports only surface the cause as text
	errLower := strings.ToLower(err.Error())
	if strings.Contains(errLower, "connection refused") {
		return types.CategoryConnectionRefused
	}
	if strings.Contains(errLower, "timeout") ||
		strings.Contains(errLower, "timed out") ||
		strings.Contains(errLower, "deadline exceeded") {
		return types.CategoryTimeout
	}

	return types.CategoryOther
}
