// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

// Package httpclient builds the shared HTTP clients used by the GraphQL
// client and the OAuth2 token flows.
package httpclient

import (
	"crypto/tls"
	"net"
	"net/http"
	"os"
	"time"
)

// Config holds construction options for outbound HTTP clients.
type Config struct {
	Timeout             time.Duration
	DialTimeout         time.Duration
	KeepAlive           time.Duration
	IdleConnTimeout     time.Duration
	TLSHandshakeTimeout time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	InsecureSkipVerify  bool
	UserAgent           string
}

// DefaultConfig returns conservative defaults for API traffic.
func DefaultConfig() *Config {
	return &Config{
		Timeout:             30 * time.Second,
		DialTimeout:         10 * time.Second,
		KeepAlive:           30 * time.Second,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		InsecureSkipVerify:  insecureFromEnv(),
		UserAgent:           "copima/1.0 (GitLab GraphQL Crawler)",
	}
}

// GraphQLConfig returns the configuration used for GraphQL API requests.
// The 30s ceiling is the per-request deadline the crawl engine relies on.
func GraphQLConfig(timeout time.Duration) *Config {
	cfg := DefaultConfig()
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	return cfg
}

// TokenEndpointConfig returns the configuration used for OAuth2 token
// endpoint requests.
func TokenEndpointConfig() *Config {
	cfg := DefaultConfig()
	cfg.UserAgent = "copima/1.0 (OAuth2 Client)"
	return cfg
}

// New builds an *http.Client from cfg.
func New(cfg *Config) *http.Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.KeepAlive,
		}).DialContext,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // test-only escape hatch, see insecureFromEnv
		},
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: &userAgentTransport{agent: cfg.UserAgent, next: transport},
	}
}

// insecureFromEnv honors NODE_TLS_REJECT_UNAUTHORIZED=0, kept for parity with
// test harnesses that target self-signed GitLab instances.
func insecureFromEnv() bool {
	return os.Getenv("NODE_TLS_REJECT_UNAUTHORIZED") == "0"
}

type userAgentTransport struct {
	agent string
	next  http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.agent)
	}
	return t.next.RoundTrip(req)
}
