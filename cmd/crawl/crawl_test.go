// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

package crawl

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/copima/copima/internal/config"
	"github.com/copima/copima/internal/logger"
)

func TestParseSteps(t *testing.T) {
	assert.Nil(t, parseSteps(""))
	assert.Equal(t, []string{"areas"}, parseSteps("areas"))
	assert.Equal(t, []string{"areas", "users"}, parseSteps("areas, users"))
	assert.Equal(t, []string{"resources"}, parseSteps(",resources,"))
}

func TestTokenProviderPrefersConfiguredToken(t *testing.T) {
	cfg := config.Default()
	cfg.GitLab.AccessToken = "direct"

	provider, cleanup, err := tokenProviderFor(cfg, logger.NewNop())
	assert.NoError(t, err)
	defer cleanup()
	assert.NotNil(t, provider)
}

func TestTokenProviderRequiresCredentials(t *testing.T) {
	cfg := config.Default()

	_, _, err := tokenProviderFor(cfg, logger.NewNop())
	assert.Error(t, err)
}
