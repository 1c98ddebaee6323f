// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load(&LoadOptions{Environ: []string{}})
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.GitLab.Timeout)
	assert.Equal(t, 4, cfg.GitLab.MaxConcurrency)
	assert.Equal(t, 600, cfg.GitLab.RateLimit)
	assert.Equal(t, NamingLowercase, cfg.Output.FileNaming)
	assert.Equal(t, CompressionNone, cfg.Output.Compression)
	assert.Equal(t, 3000, cfg.OAuth2.Server.Port)
	assert.True(t, cfg.Resume.Enabled)
}

func TestLoadLocalFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	local := writeConfig(t, dir, "copima.yaml", `
gitlab:
  host: https://gitlab.example.com
  maxConcurrency: 8
output:
  fileNaming: kebab-case
`)

	cfg, err := Load(&LoadOptions{LocalFile: local, Environ: []string{}})
	require.NoError(t, err)

	assert.Equal(t, "https://gitlab.example.com", cfg.GitLab.Host)
	assert.Equal(t, 8, cfg.GitLab.MaxConcurrency)
	assert.Equal(t, NamingKebab, cfg.Output.FileNaming)
	// Untouched fields keep their defaults.
	assert.Equal(t, 600, cfg.GitLab.RateLimit)
}

func TestLoadUserFileBeatsLocalFile(t *testing.T) {
	dir := t.TempDir()
	local := writeConfig(t, dir, "copima.yaml", "gitlab:\n  host: https://local.example.com\n  rateLimit: 100\n")
	user := writeConfig(t, dir, "config.yaml", "gitlab:\n  host: https://user.example.com\n")

	cfg, err := Load(&LoadOptions{LocalFile: local, UserFile: user, Environ: []string{}})
	require.NoError(t, err)

	assert.Equal(t, "https://user.example.com", cfg.GitLab.Host)
	// Deep merge keeps the sibling scalar from the lower layer.
	assert.Equal(t, 100, cfg.GitLab.RateLimit)
}

func TestLoadEnvBeatsFiles(t *testing.T) {
	dir := t.TempDir()
	local := writeConfig(t, dir, "copima.yaml", "gitlab:\n  host: https://file.example.com\n")

	cfg, err := Load(&LoadOptions{
		LocalFile: local,
		Environ: []string{
			"GITLAB_HOST=https://env.example.com",
			"COPIMA_GITLAB_MAX_CONCURRENCY=16",
			"OUTPUT_FILE_NAMING=snake_case",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.GitLab.Host)
	assert.Equal(t, 16, cfg.GitLab.MaxConcurrency)
	assert.Equal(t, NamingSnake, cfg.Output.FileNaming)
}

func TestLoadFlagsBeatEverything(t *testing.T) {
	cfg, err := Load(&LoadOptions{
		Environ: []string{"GITLAB_HOST=https://env.example.com"},
		FlagOverrides: map[string]interface{}{
			"gitlab.host":    "https://flag.example.com",
			"output.rootdir": "/tmp/out",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "https://flag.example.com", cfg.GitLab.Host)
	assert.Equal(t, "/tmp/out", cfg.Output.RootDir)
}

func TestTemplateInterpolation(t *testing.T) {
	dir := t.TempDir()
	local := writeConfig(t, dir, "copima.yaml", "output:\n  rootDir: ${DATA_HOME}/copima\n")

	cfg, err := Load(&LoadOptions{
		LocalFile:    local,
		Environ:      []string{},
		TemplateVars: map[string]string{"DATA_HOME": "/srv/data"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/srv/data/copima", cfg.Output.RootDir)
}

func TestBareNumberDurationsMeanSeconds(t *testing.T) {
	cfg, err := Load(&LoadOptions{Environ: []string{"GITLAB_TIMEOUT=60"}})
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, cfg.GitLab.Timeout)
}

func TestLoadCollectsAllValidationIssues(t *testing.T) {
	_, err := Load(&LoadOptions{
		Environ: []string{},
		FlagOverrides: map[string]interface{}{
			"output.filenaming":  "PascalCase",
			"output.compression": "zstd",
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output.fileNaming")
	assert.Contains(t, err.Error(), "output.compression")
}

func TestValidateIssues(t *testing.T) {
	cfg := Default()
	cfg.GitLab.Host = "not a url"
	cfg.GitLab.MaxConcurrency = 0
	cfg.OAuth2.Providers = map[string]OAuth2ProviderConfig{
		"gitlab": {ClientID: "id", AuthorizationURL: "https://x/oauth/authorize", TokenURL: "https://x/oauth/token"},
	}

	issues := Validate(cfg)

	fields := map[string]Severity{}
	for _, issue := range issues {
		fields[issue.Field] = issue.Severity
	}
	assert.Equal(t, SeverityError, fields["gitlab.host"])
	assert.Equal(t, SeverityError, fields["gitlab.maxConcurrency"])
	assert.Equal(t, SeverityWarning, fields["oauth2.providers.gitlab.clientSecret"])
}

func TestSchemaValidation(t *testing.T) {
	dir := t.TempDir()
	good := writeConfig(t, dir, "good.yaml", "gitlab:\n  host: https://gitlab.example.com\n")
	bad := writeConfig(t, dir, "bad.yaml", "gitlab:\n  maxConcurrency: -2\nunknownSection:\n  x: 1\n")

	issues, err := ValidateFileSchema(good)
	require.NoError(t, err)
	assert.Empty(t, issues)

	issues, err = ValidateFileSchema(bad)
	require.NoError(t, err)
	assert.NotEmpty(t, issues)
}
