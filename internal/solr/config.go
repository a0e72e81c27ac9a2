package solr

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

const (
	// HTTP client configuration timeouts
	TCPDialTimeout        = 5 * time.Second
	TCPKeepAliveInterval  = 30 * time.Second
	TLSHandshakeTimeout   = 5 * time.Second
	IdleConnTimeout       = 90 * time.Second
	ExpectContinueTimeout = 1 * time.Second

	// DefaultRequestTimeout applies when Config.Timeout is zero
	DefaultRequestTimeout = 10 * time.Second

	// DefaultMaxConns applies when Config.MaxConns is zero
	DefaultMaxConns = 32
)

// Optimize modes
const (
	OptimizeModeOptimize = "optimize"
	OptimizeModeCommit   = "commit"
)

// Config describes how to reach one Solr core or collection
type Config struct {
	// BaseURL is the core URL, e.g. http://localhost:8983/solr/collection1
	BaseURL string `yaml:"url" json:"url" validate:"required,url"`
	// Timeout bounds a single request
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
	// CommitWithin is added to update requests when positive
	CommitWithin time.Duration `yaml:"commit_within" json:"commit_within" validate:"gte=0"`
	// MaxConns sizes the connection pool, usually the total worker count
	MaxConns int `yaml:"max_conns" json:"max_conns" validate:"gte=0"`
	// QTimePath and HitsPath are JMESPath expressions into the JSON response
	QTimePath string            `yaml:"qtime_path" json:"qtime_path"`
	HitsPath  string            `yaml:"hits_path" json:"hits_path"`
	Headers   map[string]string `yaml:"headers" json:"headers"`

	BasicAuth *BasicAuth `yaml:"basic_auth" json:"basic_auth"`
	OAuth2    *OAuth2    `yaml:"oauth2" json:"oauth2"`
	TLS       *TLSConfig `yaml:"tls" json:"tls"`
}

// BasicAuth holds HTTP basic credentials
type BasicAuth struct {
	Username string `yaml:"username" json:"username" validate:"required"`
	Password string `yaml:"password" json:"password"`
}

// OAuth2 configures the client-credentials grant
type OAuth2 struct {
	TokenURL     string   `yaml:"token_url" json:"token_url" validate:"required,url"`
	ClientID     string   `yaml:"client_id" json:"client_id" validate:"required"`
	ClientSecret string   `yaml:"client_secret" json:"client_secret"`
	Scopes       []string `yaml:"scopes" json:"scopes"`
}

// TLSConfig holds TLS/SSL certificate configuration
type TLSConfig struct {
	CertFile           string `yaml:"cert_file" json:"cert_file"`
	KeyFile            string `yaml:"key_file" json:"key_file"`
	CAFile             string `yaml:"ca_file" json:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
}

// RequestTimeout returns the per-request timeout
func (c *Config) RequestTimeout() time.Duration {
	if c.Timeout == 0 {
		return DefaultRequestTimeout
	}
	return c.Timeout
}

// buildHTTPClient creates an HTTP client sized for load generation
// with connection pooling, timeouts, and resource limits
func buildHTTPClient(cfg *Config) (*http.Client, error) {
	conns := cfg.MaxConns
	if conns <= 0 {
		conns = DefaultMaxConns
	}

	transport := &http.Transport{
		MaxIdleConns:        conns,
		MaxIdleConnsPerHost: conns,
		MaxConnsPerHost:     conns * 2,
		IdleConnTimeout:     IdleConnTimeout,
		ForceAttemptHTTP2:   true,

		DialContext: (&net.Dialer{
			Timeout:   TCPDialTimeout,
			KeepAlive: TCPKeepAliveInterval,
		}).DialContext,

		TLSHandshakeTimeout:   TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.RequestTimeout(),
		ExpectContinueTimeout: ExpectContinueTimeout,
	}

	if cfg.TLS != nil {
		tlsCfg, err := cfg.TLS.build()
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsCfg
	}

	return &http.Client{
		Timeout:   cfg.RequestTimeout(),
		Transport: transport,
	}, nil
}

func (t *TLSConfig) build() (*tls.Config, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: t.InsecureSkipVerify,
	}

	// Load client certificate if provided (for mTLS)
	if t.CertFile != "" && t.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	if t.CAFile != "" {
		caCert, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsCfg.RootCAs = pool
	}

	return tlsCfg, nil
}
