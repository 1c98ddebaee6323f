// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pkg/browser"
	"golang.org/x/oauth2"

	"github.com/copima/copima/internal/config"
	"github.com/copima/copima/internal/errors"
	"github.com/copima/copima/internal/logger"
)

// FlowOptions configures the browser authorization-code flow.
type FlowOptions struct {
	Provider config.OAuth2ProviderConfig
	Server   config.OAuth2ServerConfig
	// OpenBrowser overrides system browser launching. Tests inject a client
	// that follows the URL themselves.
	OpenBrowser func(url string) error
	Logger      logger.CommonLogger
}

// FlowResult carries the exchanged token back to the auth command.
type FlowResult struct {
	Token *oauth2.Token
	Scope string
}

type callbackResult struct {
	code  string
	state string
	err   error
}

// RunAuthorizationFlow drives the interactive login: it generates a random
// state, opens the provider's authorization URL in the system browser, waits
// on a local HTTP server for the code redirect, validates the state, and
// exchanges the code at the token endpoint.
func RunAuthorizationFlow(ctx context.Context, opts FlowOptions) (*FlowResult, error) {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	open := opts.OpenBrowser
	if open == nil {
		open = browser.OpenURL
	}

	state, err := randomState()
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}

	redirectURI := opts.Provider.RedirectURI
	if redirectURI == "" {
		redirectURI = fmt.Sprintf("http://localhost:%d%s", opts.Server.Port, opts.Server.CallbackPath)
	}

	oauthCfg := &oauth2.Config{
		ClientID:     opts.Provider.ClientID,
		ClientSecret: opts.Provider.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       opts.Provider.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  opts.Provider.AuthorizationURL,
			TokenURL: opts.Provider.TokenURL,
		},
	}

	results := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(opts.Server.CallbackPath, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if errMsg := query.Get("error"); errMsg != "" {
			http.Error(w, "Authorization failed. You can close this window.", http.StatusBadRequest)
			results <- callbackResult{err: fmt.Errorf("provider returned %s: %s", errMsg, query.Get("error_description"))}
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body><h2>Authentication complete</h2><p>You can close this window and return to the terminal.</p></body></html>")
		results <- callbackResult{code: query.Get("code"), state: query.Get("state")}
	})

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", opts.Server.Port))
	if err != nil {
		return nil, fmt.Errorf("start callback server on port %d: %w", opts.Server.Port, err)
	}
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go server.Serve(listener) //nolint:errcheck // Serve returns ErrServerClosed on Shutdown
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx) //nolint:errcheck // best-effort teardown
	}()

	authURL := oauthCfg.AuthCodeURL(state)
	log.Info("opening browser for authorization", "url", authURL)
	if err := open(authURL); err != nil {
		log.Warn("could not open browser, visit the URL manually", "url", authURL, "error", err.Error())
	}

	timeout := opts.Server.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	var callback callbackResult
	select {
	case callback = <-results:
	case <-time.After(timeout):
		return nil, errors.Wrap(fmt.Errorf("no authorization redirect within %s", timeout), errors.ErrAuthMissing)
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), errors.ErrCancelled)
	}
	if callback.err != nil {
		return nil, errors.Wrap(callback.err, errors.ErrAuthInvalid)
	}
	if callback.state != state {
		return nil, errors.Wrap(fmt.Errorf("authorization state mismatch"), errors.ErrAuthInvalid)
	}
	if callback.code == "" {
		return nil, errors.Wrap(fmt.Errorf("authorization redirect carries no code"), errors.ErrAuthInvalid)
	}

	token, err := oauthCfg.Exchange(ctx, callback.code)
	if err != nil {
		return nil, errors.Wrap(fmt.Errorf("exchange authorization code: %w", err), errors.ErrAuthInvalid)
	}

	scope, _ := token.Extra("scope").(string)
	return &FlowResult{Token: token, Scope: scope}, nil
}

// randomState returns 32 cryptographically random bytes as hex.
func randomState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
