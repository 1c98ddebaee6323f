// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

// Package config resolves the effective configuration from five layers:
// built-in defaults, local file, user file, environment, CLI flags. Later
// layers win; nested maps merge deep, scalars and arrays replace.
package config

import (
	sterrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/copima/copima/internal/errors"
)

// LoadOptions customizes Load. The zero value resolves the standard layers
// against the process environment.
type LoadOptions struct {
	// LocalFile overrides the ./copima.{yaml,yml,json} search.
	LocalFile string
	// UserFile overrides the $HOME/.config/copima/config.{yaml,yml,json} search.
	UserFile string
	// Environ is the process environment as KEY=VALUE entries; defaults to
	// os.Environ(). Injected by tests.
	Environ []string
	// FlagOverrides holds dotted keys set from CLI flags, the highest layer.
	FlagOverrides map[string]interface{}
	// TemplateVars backs ${VAR} interpolation on the merged result; when nil
	// the environment is used.
	TemplateVars map[string]string
}

// wellKnownEnv maps legacy environment names onto dotted config keys.
var wellKnownEnv = map[string]string{
	"GITLAB_HOST":            "gitlab.host",
	"GITLAB_ACCESS_TOKEN":    "gitlab.accesstoken",
	"GITLAB_REFRESH_TOKEN":   "gitlab.refreshtoken",
	"GITLAB_TIMEOUT":         "gitlab.timeout",
	"GITLAB_MAX_CONCURRENCY": "gitlab.maxconcurrency",
	"GITLAB_RATE_LIMIT":      "gitlab.ratelimit",
	"DATABASE_PATH":          "database.path",
	"OUTPUT_ROOT_DIR":        "output.rootdir",
	"OUTPUT_FILE_NAMING":     "output.filenaming",
	"LOG_LEVEL":              "logging.level",
}

const envPrefix = "COPIMA_"

// Load resolves, interpolates, and validates the effective configuration.
// Validation issues of error severity are aggregated into ErrConfigInvalid.
func Load(opts *LoadOptions) (*Config, error) {
	if opts == nil {
		opts = &LoadOptions{}
	}
	environ := opts.Environ
	if environ == nil {
		environ = os.Environ()
	}
	env := make(map[string]string, len(environ))
	for _, entry := range environ {
		if name, val, found := strings.Cut(entry, "="); found {
			env[name] = val
		}
	}

	v := viper.New()
	applyDefaults(v)

	// Layer 2: local project file.
	if err := mergeFileLayer(v, opts.LocalFile, []string{"."}); err != nil {
		return nil, err
	}

	// Layer 3: user file.
	userDir := filepath.Join(userConfigDir(), "copima")
	if err := mergeUserFileLayer(v, opts.UserFile, userDir); err != nil {
		return nil, err
	}

	// Layer 4: environment. Well-known names first, then generic COPIMA_*
	// overrides, which win within the layer.
	for name, key := range wellKnownEnv {
		if val := env[name]; val != "" {
			v.Set(key, val)
		}
	}
	for name, val := range env {
		if !strings.HasPrefix(name, envPrefix) || val == "" {
			continue
		}
		if key := genericEnvKey(name); key != "" {
			v.Set(key, val)
		}
	}

	// Layer 5: CLI flags.
	for key, val := range opts.FlagOverrides {
		v.Set(strings.ToLower(key), val)
	}

	// Template interpolation on the merged result.
	vars := opts.TemplateVars
	lookup := func(name string) string {
		if vars != nil {
			return vars[name]
		}
		return env[name]
	}
	merged := viper.New()
	if err := merged.MergeConfigMap(expandMap(v.AllSettings(), lookup)); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigInvalid)
	}
	// Bare-number duration strings (GITLAB_TIMEOUT=60) become integers, which
	// decode as sub-millisecond values that normalizeDurations reads as seconds.
	for _, key := range []string{"gitlab.timeout", "database.timeout", "progress.interval", "resume.autosaveinterval", "oauth2.server.timeout"} {
		if raw, ok := merged.Get(key).(string); ok {
			if n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
				merged.Set(key, n)
			}
		}
	}

	cfg := &Config{}
	if err := merged.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigInvalid)
	}
	normalizeDurations(cfg)

	if err := RequireValid(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults installs the built-in layer.
func applyDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("gitlab.host", def.GitLab.Host)
	v.SetDefault("gitlab.timeout", def.GitLab.Timeout)
	v.SetDefault("gitlab.maxconcurrency", def.GitLab.MaxConcurrency)
	v.SetDefault("gitlab.ratelimit", def.GitLab.RateLimit)
	v.SetDefault("database.path", def.Database.Path)
	v.SetDefault("database.walmode", def.Database.WALMode)
	v.SetDefault("database.timeout", def.Database.Timeout)
	v.SetDefault("output.rootdir", def.Output.RootDir)
	v.SetDefault("output.filenaming", def.Output.FileNaming)
	v.SetDefault("output.prettyprint", def.Output.PrettyPrint)
	v.SetDefault("output.compression", def.Output.Compression)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)
	v.SetDefault("logging.console", def.Logging.Console)
	v.SetDefault("logging.colors", def.Logging.Colors)
	v.SetDefault("progress.enabled", def.Progress.Enabled)
	v.SetDefault("progress.interval", def.Progress.Interval)
	v.SetDefault("resume.enabled", def.Resume.Enabled)
	v.SetDefault("resume.statefile", def.Resume.StateFile)
	v.SetDefault("resume.autosaveinterval", def.Resume.AutoSaveInterval)
	v.SetDefault("oauth2.server.port", def.OAuth2.Server.Port)
	v.SetDefault("oauth2.server.callbackpath", def.OAuth2.Server.CallbackPath)
	v.SetDefault("oauth2.server.timeout", def.OAuth2.Server.Timeout)
}

func mergeFileLayer(v *viper.Viper, explicit string, searchPaths []string) error {
	layer := viper.New()
	if explicit != "" {
		layer.SetConfigFile(explicit)
	} else {
		layer.SetConfigName("copima")
		for _, p := range searchPaths {
			layer.AddConfigPath(p)
		}
	}
	if err := layer.ReadInConfig(); err != nil {
		if isFileNotFound(err) {
			return nil
		}
		return errors.Wrap(err, errors.ErrConfigInvalid)
	}
	return v.MergeConfigMap(layer.AllSettings())
}

func mergeUserFileLayer(v *viper.Viper, explicit, userDir string) error {
	layer := viper.New()
	if explicit != "" {
		layer.SetConfigFile(explicit)
	} else {
		layer.SetConfigName("config")
		layer.AddConfigPath(userDir)
	}
	if err := layer.ReadInConfig(); err != nil {
		if isFileNotFound(err) {
			return nil
		}
		return errors.Wrap(err, errors.ErrConfigInvalid)
	}
	return v.MergeConfigMap(layer.AllSettings())
}

func isFileNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return os.IsNotExist(err) || sterrors.As(err, &notFound)
}

// genericEnvKey maps COPIMA_<SECTION>_<FIELD...> to a dotted key. Field
// underscores are collapsed so COPIMA_GITLAB_MAX_CONCURRENCY targets
// gitlab.maxconcurrency.
func genericEnvKey(name string) string {
	rest := strings.TrimPrefix(name, envPrefix)
	section, field, found := strings.Cut(rest, "_")
	if !found || section == "" || field == "" {
		return ""
	}
	return strings.ToLower(section) + "." + strings.ToLower(strings.ReplaceAll(field, "_", ""))
}

// expandMap recursively interpolates ${VAR} tokens in string values.
func expandMap(in map[string]interface{}, lookup func(string) string) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, val := range in {
		out[k] = expandValue(val, lookup)
	}
	return out
}

func expandValue(val interface{}, lookup func(string) string) interface{} {
	switch typed := val.(type) {
	case string:
		return os.Expand(typed, lookup)
	case map[string]interface{}:
		return expandMap(typed, lookup)
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, item := range typed {
			out[i] = expandValue(item, lookup)
		}
		return out
	default:
		return val
	}
}

// normalizeDurations upgrades bare-number durations (seconds in config files
// and environment variables) that unmarshalled as nanoseconds.
func normalizeDurations(cfg *Config) {
	cfg.GitLab.Timeout = secondsIfBare(cfg.GitLab.Timeout)
	cfg.Database.Timeout = secondsIfBare(cfg.Database.Timeout)
	cfg.Progress.Interval = secondsIfBare(cfg.Progress.Interval)
	cfg.Resume.AutoSaveInterval = secondsIfBare(cfg.Resume.AutoSaveInterval)
	cfg.OAuth2.Server.Timeout = secondsIfBare(cfg.OAuth2.Server.Timeout)
}

// secondsIfBare treats sub-millisecond durations as bare second counts.
// A literal `timeout: 60` decodes as 60ns, which no real setting means.
func secondsIfBare(d time.Duration) time.Duration {
	if d > 0 && d < time.Millisecond {
		return time.Duration(int64(d)) * time.Second
	}
	return d
}

// Describe renders a dotted-key → value view of cfg for `config show`.
func Describe(cfg *Config) [][2]string {
	redact := func(s string) string {
		if s == "" {
			return ""
		}
		return "[redacted]"
	}
	return [][2]string{
		{"gitlab.host", cfg.GitLab.Host},
		{"gitlab.accessToken", redact(cfg.GitLab.AccessToken)},
		{"gitlab.refreshToken", redact(cfg.GitLab.RefreshToken)},
		{"gitlab.accountId", cfg.GitLab.AccountID},
		{"gitlab.timeout", cfg.GitLab.Timeout.String()},
		{"gitlab.maxConcurrency", fmt.Sprintf("%d", cfg.GitLab.MaxConcurrency)},
		{"gitlab.rateLimit", fmt.Sprintf("%d", cfg.GitLab.RateLimit)},
		{"database.path", cfg.Database.Path},
		{"database.walMode", fmt.Sprintf("%t", cfg.Database.WALMode)},
		{"output.rootDir", cfg.Output.RootDir},
		{"output.fileNaming", cfg.Output.FileNaming},
		{"output.prettyPrint", fmt.Sprintf("%t", cfg.Output.PrettyPrint)},
		{"output.compression", cfg.Output.Compression},
		{"logging.level", cfg.Logging.Level},
		{"logging.format", cfg.Logging.Format},
		{"logging.file", cfg.Logging.File},
		{"progress.enabled", fmt.Sprintf("%t", cfg.Progress.Enabled)},
		{"resume.enabled", fmt.Sprintf("%t", cfg.Resume.Enabled)},
		{"resume.stateFile", cfg.Resume.StateFile},
		{"oauth2.server.port", fmt.Sprintf("%d", cfg.OAuth2.Server.Port)},
	}
}
