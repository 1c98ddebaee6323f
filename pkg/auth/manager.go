// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

// Package auth owns OAuth2 credential management: a token manager with
// pre-expiry refresh scheduling, the refresh-token grant client, and the
// browser authorization-code flow.
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/copima/copima/internal/config"
	"github.com/copima/copima/internal/errors"
	"github.com/copima/copima/internal/logger"
	"github.com/copima/copima/pkg/credstore"
)

// DefaultRefreshThreshold is how long before expiry a token is refreshed.
const DefaultRefreshThreshold = 300 * time.Second

// Manager returns valid access tokens for stored accounts, refreshing
// transparently. At most one refresh is in flight per account; concurrent
// callers join it and receive its result.
type Manager struct {
	store     *credstore.Store
	refresher *RefreshClient
	provider  config.OAuth2ProviderConfig
	threshold time.Duration
	log       logger.CommonLogger

	mu        sync.Mutex
	inflight  map[string]*refreshCall
	timers    map[string]*time.Timer
	destroyed bool
}

type refreshCall struct {
	done  chan struct{}
	token string
	err   error
}

// ManagerOptions configures NewManager.
type ManagerOptions struct {
	RefreshThreshold time.Duration
	Logger           logger.CommonLogger
}

// NewManager binds a token manager to the credential store and a provider.
func NewManager(store *credstore.Store, refresher *RefreshClient, provider config.OAuth2ProviderConfig, opts ManagerOptions) *Manager {
	threshold := opts.RefreshThreshold
	if threshold <= 0 {
		threshold = DefaultRefreshThreshold
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		store:     store,
		refresher: refresher,
		provider:  provider,
		threshold: threshold,
		log:       log,
		inflight:  map[string]*refreshCall{},
		timers:    map[string]*time.Timer{},
	}
}

// GetAccessToken returns a valid access token for accountID. Tokens without
// an expiry are treated as non-expiring; tokens inside the refresh threshold
// are refreshed before being returned.
func (m *Manager) GetAccessToken(ctx context.Context, accountID string) (string, error) {
	account := m.store.FindAccountByAccountID(accountID)
	if account == nil {
		return "", errors.Wrap(fmt.Errorf("account %s not found", accountID), errors.ErrAuthMissing)
	}
	if account.AccessTokenExpiresAt == nil || time.Until(*account.AccessTokenExpiresAt) > m.threshold {
		return account.AccessToken, nil
	}
	return m.refresh(ctx, accountID)
}

// ForceRefresh refreshes accountID's token regardless of expiry. Used by the
// GraphQL client after a 401.
func (m *Manager) ForceRefresh(ctx context.Context, accountID string) (string, error) {
	return m.refresh(ctx, accountID)
}

// refresh serializes refresh attempts per account: the first caller runs the
// grant, everyone else joins the in-flight call.
func (m *Manager) refresh(ctx context.Context, accountID string) (string, error) {
	m.mu.Lock()
	if call, ok := m.inflight[accountID]; ok {
		m.mu.Unlock()
		select {
		case <-call.done:
			return call.token, call.err
		case <-ctx.Done():
			return "", errors.Wrap(ctx.Err(), errors.ErrCancelled)
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	m.inflight[accountID] = call
	m.mu.Unlock()

	token, err := m.doRefresh(ctx, accountID)
	call.token, call.err = token, err
	close(call.done)

	m.mu.Lock()
	delete(m.inflight, accountID)
	m.mu.Unlock()

	return token, err
}

func (m *Manager) doRefresh(ctx context.Context, accountID string) (string, error) {
	account := m.store.FindAccountByAccountID(accountID)
	if account == nil {
		return "", errors.Wrap(fmt.Errorf("account %s not found", accountID), errors.ErrAuthMissing)
	}
	if account.RefreshToken == nil || *account.RefreshToken == "" {
		return "", errors.Wrap(fmt.Errorf("account %s has no refresh token", accountID), errors.ErrAuthMissing)
	}

	token, err := m.refresher.Refresh(ctx, m.provider, *account.RefreshToken)
	if err != nil {
		m.log.Warn("token refresh failed", "accountId", accountID, "error", err.Error())
		return "", err
	}

	patch := credstore.AccountPatch{AccessToken: &token.AccessToken}
	if token.RefreshToken != "" {
		patch.RefreshToken = &token.RefreshToken
	}
	expiresAt := expiryFrom(token.ExpiresIn)
	if expiresAt != nil {
		patch.AccessTokenExpiresAt = expiresAt
	}
	if token.Scope != "" {
		patch.Scope = &token.Scope
	}
	if _, err := m.store.UpdateAccount(accountID, patch); err != nil {
		return "", fmt.Errorf("persist refreshed token: %w", err)
	}

	m.log.Info("access token refreshed", "accountId", accountID, "expiresIn", token.ExpiresIn)

	// A successful refresh supersedes whatever timer was pending.
	m.ClearTokenRefreshTimer(accountID)
	m.ScheduleTokenRefresh(accountID, time.Duration(token.ExpiresIn)*time.Second, nil)

	return token.AccessToken, nil
}

// expiryFrom maps expires_in to an absolute expiry. Zero means the token is
// refreshed again on next use, so the stored expiry is "now"; negative
// values leave the expiry unset. TokenResponse.ExpiresIn does not tell an
// absent expires_in from zero, so a response without one is treated as zero.
func expiryFrom(expiresIn int) *time.Time {
	if expiresIn < 0 {
		return nil
	}
	t := time.Now().UTC().Add(time.Duration(expiresIn) * time.Second)
	return &t
}

// ScheduleTokenRefresh arms a timer firing refreshThreshold before the token
// expires. Non-positive delays are declined; a zero expires_in never turns
// into a zero-delay timer. Fired timers run the refresh and, through
// doRefresh, reschedule themselves from the new expires_in.
func (m *Manager) ScheduleTokenRefresh(accountID string, expiresIn time.Duration, onRefresh func(error)) {
	delay := expiresIn - m.threshold
	if delay <= 0 {
		m.log.Debug("declining token refresh schedule",
			"accountId", accountID, "expiresIn", expiresIn.String())
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}
	if timer, ok := m.timers[accountID]; ok {
		timer.Stop()
	}
	m.timers[accountID] = time.AfterFunc(delay, func() {
		m.mu.Lock()
		delete(m.timers, accountID)
		destroyed := m.destroyed
		m.mu.Unlock()
		if destroyed {
			return
		}
		_, err := m.refresh(context.Background(), accountID)
		if onRefresh != nil {
			onRefresh(err)
		}
	})
}

// ClearTokenRefreshTimer cancels the pending timer for accountID, if any.
func (m *Manager) ClearTokenRefreshTimer(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timer, ok := m.timers[accountID]; ok {
		timer.Stop()
		delete(m.timers, accountID)
	}
}

// Destroy idempotently cancels every outstanding timer.
func (m *Manager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}
	m.destroyed = true
	for id, timer := range m.timers {
		timer.Stop()
		delete(m.timers, id)
	}
}

// Provider adapts the manager to the GraphQL client's token capability for
// one account. The client never mutates credential state through it.
type Provider struct {
	manager   *Manager
	accountID string
}

// NewProvider binds a token provider to accountID.
func (m *Manager) NewProvider(accountID string) *Provider {
	return &Provider{manager: m, accountID: accountID}
}

// Bearer returns a valid access token.
func (p *Provider) Bearer(ctx context.Context) (string, error) {
	return p.manager.GetAccessToken(ctx, p.accountID)
}

// Invalidate forces a refresh after an upstream 401 and returns the new token.
func (p *Provider) Invalidate(ctx context.Context) (string, error) {
	return p.manager.ForceRefresh(ctx, p.accountID)
}

// EphemeralProvider serves tokens supplied directly through configuration,
// refreshing in memory without a credential store. Used when both
// gitlab.accessToken and gitlab.refreshToken are configured.
type EphemeralProvider struct {
	refresher *RefreshClient
	provider  config.OAuth2ProviderConfig

	mu           sync.Mutex
	token        string
	refreshToken string
}

// NewEphemeralProvider wires a storeless token provider.
func NewEphemeralProvider(token, refreshToken string, refresher *RefreshClient, provider config.OAuth2ProviderConfig) *EphemeralProvider {
	return &EphemeralProvider{
		refresher:    refresher,
		provider:     provider,
		token:        token,
		refreshToken: refreshToken,
	}
}

// Bearer returns the current access token.
func (p *EphemeralProvider) Bearer(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == "" {
		return "", errors.Wrap(fmt.Errorf("no access token configured"), errors.ErrAuthMissing)
	}
	return p.token, nil
}

// Invalidate runs the refresh grant and rotates the in-memory pair.
func (p *EphemeralProvider) Invalidate(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refreshToken == "" {
		return "", errors.Wrap(fmt.Errorf("no refresh token configured"), errors.ErrAuthMissing)
	}
	token, err := p.refresher.Refresh(ctx, p.provider, p.refreshToken)
	if err != nil {
		return "", err
	}
	p.token = token.AccessToken
	if token.RefreshToken != "" {
		p.refreshToken = token.RefreshToken
	}
	return p.token, nil
}

// StaticProvider serves a fixed token with no refresh capability. Used when
// the configuration supplies gitlab.accessToken directly.
type StaticProvider struct {
	Token string
}

// Bearer returns the configured token, or ErrAuthMissing when empty.
func (p *StaticProvider) Bearer(context.Context) (string, error) {
	if p.Token == "" {
		return "", errors.Wrap(fmt.Errorf("no access token configured"), errors.ErrAuthMissing)
	}
	return p.Token, nil
}

// Invalidate always fails: a static token cannot be refreshed.
func (p *StaticProvider) Invalidate(context.Context) (string, error) {
	return "", errors.Wrap(fmt.Errorf("static token cannot be refreshed"), errors.ErrAuthMissing)
}
