// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

// Package graphql executes parameterized queries against a GitLab-compatible
// GraphQL endpoint with bearer authentication, a hard per-request deadline,
// and one transparent retry after a refreshed 401.
package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	sterrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/copima/copima/internal/errors"
	"github.com/copima/copima/internal/httpclient"
	"github.com/copima/copima/internal/logger"
)

// RequestTimeout is the hard per-request deadline.
const RequestTimeout = 30 * time.Second

// TokenProvider supplies bearer tokens. Invalidate is called once after an
// upstream 401; the client never mutates credential state itself.
type TokenProvider interface {
	Bearer(ctx context.Context) (string, error)
	Invalidate(ctx context.Context) (string, error)
}

// Client executes GraphQL operations against one host.
type Client struct {
	endpoint   string
	httpClient *http.Client
	tokens     TokenProvider
	log        logger.CommonLogger
}

// ClientOptions configures NewClient.
type ClientOptions struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     logger.CommonLogger
}

// NewClient builds a client for host (e.g. https://gitlab.example.com).
func NewClient(host string, tokens TokenProvider, opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 || timeout > RequestTimeout {
			timeout = RequestTimeout
		}
		httpClient = httpclient.New(httpclient.GraphQLConfig(timeout))
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{
		endpoint:   strings.TrimRight(host, "/") + "/api/graphql",
		httpClient: httpClient,
		tokens:     tokens,
		log:        log,
	}
}

// StatusError is a non-2xx, non-401 response from the endpoint.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("graphql endpoint returned status %d: %s", e.Status, e.Body)
}

// GraphQLError is one entry of a response's errors array.
type GraphQLError struct {
	Message string                 `json:"message"`
	Path    []interface{}          `json:"path,omitempty"`
	Ext     map[string]interface{} `json:"extensions,omitempty"`
}

type responseEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors"`
}

// Query executes document with variables and decodes the data object into
// out. A 401 triggers one token refresh and one retry; a second 401 surfaces
// as auth-invalid.
func (c *Client) Query(ctx context.Context, document Document, variables map[string]interface{}, out interface{}) error {
	token, err := c.tokens.Bearer(ctx)
	if err != nil {
		return err
	}

	status, body, err := c.post(ctx, document, variables, token)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized {
		c.log.Debug("access token rejected, attempting refresh", "operation", document.Name)
		token, err = c.tokens.Invalidate(ctx)
		if err != nil {
			return errors.Wrap(fmt.Errorf("invalid or expired access token"), errors.ErrAuthInvalid)
		}
		status, body, err = c.post(ctx, document, variables, token)
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized {
			return errors.Wrap(fmt.Errorf("invalid or expired access token"), errors.ErrAuthInvalid)
		}
	}

	if status < 200 || status >= 300 {
		return &StatusError{Status: status, Body: truncate(body, 512)}
	}

	var envelope responseEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode graphql response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		messages := make([]string, len(envelope.Errors))
		for i, gqlErr := range envelope.Errors {
			messages[i] = gqlErr.Message
		}
		return errors.Wrap(fmt.Errorf("%s", strings.Join(messages, "; ")), errors.ErrGraphQL)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode graphql data for %s: %w", document.Name, err)
		}
	}
	return nil
}

// post performs one HTTP round trip. Connection-level failures map to the
// connectivity kind, distinct from authentication.
func (c *Client) post(ctx context.Context, document Document, variables map[string]interface{}, token string) (int, []byte, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"query":     document.Query,
		"variables": variables,
	})
	if err != nil {
		return 0, nil, fmt.Errorf("encode graphql request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("create graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, errors.Wrap(ctx.Err(), errors.ErrCancelled)
		}
		if isConnectivityError(err) {
			return 0, nil, errors.Wrap(err, errors.ErrConnectivity)
		}
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return 0, nil, errors.Wrap(err, errors.ErrConnectivity)
	}
	return resp.StatusCode, body, nil
}

// isConnectivityError classifies refused, unreachable, DNS, and timeout
// failures.
func isConnectivityError(err error) bool {
	var netErr net.Error
	if sterrors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if sterrors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if sterrors.As(err, &opErr) {
		return true
	}
	var urlErr *url.Error
	if sterrors.As(err, &urlErr) {
		return urlErr.Timeout() || isConnectivityError(urlErr.Err)
	}
	return sterrors.Is(err, context.DeadlineExceeded)
}

func truncate(body []byte, max int) string {
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max]) + "…"
}
