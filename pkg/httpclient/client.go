// Package httpclient builds the HTTP clients used to reach LLM provider
// APIs. It applies shared defaults for timeouts, TLS, connection pooling,
// and request logging with secrets redacted from URLs.
//
// Retries are not handled here: provider-level backoff lives in pkg/llm.
package httpclient

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Config configures an HTTP client.
type Config struct {
	// Timeout is the total request timeout. Must be > 0.
	Timeout time.Duration

	// UserAgent is sent on every request. Must be non-empty.
	UserAgent string
}

// DefaultConfig returns a Config with the standard defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:   120 * time.Second,
		UserAgent: "steward/1.0",
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0, got %v", c.Timeout)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent is required")
	}
	return nil
}

// New creates an HTTP client with TLS 1.2+, connection pooling, and a
// logging transport that injects the User-Agent and redacts sensitive
// query parameters from logged URLs.
func New(cfg Config) (*http.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: newLoggingTransport(base, cfg.UserAgent),
	}, nil
}
