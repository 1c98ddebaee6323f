// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

package auth

import (
	"context"
	sterrors "errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copima/copima/internal/config"
	"github.com/copima/copima/internal/errors"
)

func TestEphemeralProviderRotatesPair(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "r1", r.Form.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fresh","token_type":"bearer","expires_in":3600,"refresh_token":"r2"}`))
	}))
	defer server.Close()

	refresher := NewRefreshClient(RefreshClientOptions{HTTPClient: server.Client(), BaseDelay: time.Millisecond})
	provider := NewEphemeralProvider("stale", "r1", refresher, providerFor(server))

	token, err := provider.Bearer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stale", token)

	token, err = provider.Invalidate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
	assert.Equal(t, "r2", provider.refreshToken)

	token, err = provider.Bearer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEphemeralProviderWithoutRefreshToken(t *testing.T) {
	provider := NewEphemeralProvider("tok", "", nil, config.OAuth2ProviderConfig{})
	_, err := provider.Invalidate(context.Background())
	assert.True(t, sterrors.Is(err, errors.ErrAuthMissing))
}
