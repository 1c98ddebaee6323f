// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/copima/copima/internal/config"
	"github.com/copima/copima/internal/errors"
	"github.com/copima/copima/internal/httpclient"
	"github.com/copima/copima/internal/logger"
)

// TokenResponse is the parsed body of a successful token-endpoint response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// RefreshError carries the upstream status and body of a failed grant.
type RefreshError struct {
	Status int
	Body   string
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed with status %d: %s", e.Status, e.Body)
}

// RefreshClient speaks the OAuth2 refresh-token grant.
type RefreshClient struct {
	httpClient *http.Client
	maxRetries uint64
	baseDelay  time.Duration
	log        logger.CommonLogger
}

// RefreshClientOptions configures NewRefreshClient. Zero values take the
// defaults: 3 retries, 1s base delay.
type RefreshClientOptions struct {
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	Logger     logger.CommonLogger
}

// NewRefreshClient builds a refresh client.
func NewRefreshClient(opts RefreshClientOptions) *RefreshClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = httpclient.New(httpclient.TokenEndpointConfig())
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &RefreshClient{
		httpClient: httpClient,
		maxRetries: uint64(maxRetries),
		baseDelay:  baseDelay,
		log:        log,
	}
}

// Refresh exchanges refreshToken at the provider's token endpoint. Transient
// failures retry with exponential backoff 2^attempt * baseDelay; a 400
// carrying invalid_grant is permanent and fails immediately.
func (c *RefreshClient) Refresh(ctx context.Context, provider config.OAuth2ProviderConfig, refreshToken string) (*TokenResponse, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.baseDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

	var token *TokenResponse
	attempt := 0
	operation := func() error {
		attempt++
		resp, refreshErr, err := c.post(ctx, provider, refreshToken)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return backoff.Permanent(errors.Wrap(ctx.Err(), errors.ErrCancelled))
			}
			c.log.Warn("token endpoint unreachable",
				"attempt", attempt, "error", err.Error())
			return errors.Wrap(err, errors.ErrConnectivity)
		case refreshErr != nil:
			if isInvalidGrant(refreshErr.Status, []byte(refreshErr.Body)) {
				return backoff.Permanent(refreshErr)
			}
			c.log.Warn("token endpoint rejected refresh",
				"attempt", attempt, "status", refreshErr.Status)
			return refreshErr
		}
		token = resp
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrRefreshFailed)
	}
	return token, nil
}

// post performs one grant attempt. The second return value carries a non-2xx
// upstream rejection; the third a transport failure.
func (c *RefreshClient) post(ctx context.Context, provider config.OAuth2ProviderConfig, refreshToken string) (*TokenResponse, *RefreshError, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", provider.ClientID)
	form.Set("client_secret", provider.ClientSecret)
	if len(provider.Scopes) > 0 {
		form.Set("scope", strings.Join(provider.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RefreshError{Status: resp.StatusCode, Body: string(body)}, nil
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, nil, fmt.Errorf("parse token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, &RefreshError{Status: resp.StatusCode, Body: "response carries no access_token"}, nil
	}
	return &token, nil, nil
}

// isInvalidGrant detects the one documented permanent failure: the refresh
// token itself was rejected.
func isInvalidGrant(status int, body []byte) bool {
	if status != http.StatusBadRequest {
		return false
	}
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error == "invalid_grant" {
		return true
	}
	return strings.Contains(string(body), "invalid_grant")
}
