// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

package errors

import (
	sterrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapPreservesBothChains(t *testing.T) {
	cause := sterrors.New("dial tcp: connection refused")
	err := Wrap(cause, ErrConnectivity)

	assert.True(t, sterrors.Is(err, ErrConnectivity))
	assert.True(t, sterrors.Is(err, cause))
}

func TestWrapNilCause(t *testing.T) {
	err := Wrap(nil, ErrAuthMissing)
	assert.True(t, sterrors.Is(err, ErrAuthMissing))
}

func TestName(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{Wrap(sterrors.New("boom"), ErrSinkWrite), "sink-write"},
		{ErrRefreshFailed, "refresh-failed"},
		{fmt.Errorf("wrapped twice: %w", Wrap(sterrors.New("x"), ErrGraphQL)), "graphql-errors"},
		{sterrors.New("plain"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Name(tt.err))
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(Wrap(sterrors.New("timeout"), ErrConnectivity)))
	assert.False(t, Retryable(Wrap(sterrors.New("401"), ErrAuthInvalid)))
	assert.False(t, Retryable(nil))
}

func TestChain(t *testing.T) {
	inner := sterrors.New("disk full")
	err := Wrap(fmt.Errorf("append users.jsonl: %w", inner), ErrSinkWrite)

	chain := Chain(err)
	assert.Contains(t, chain, "sink-write")
	assert.Contains(t, chain, "disk full")
}
