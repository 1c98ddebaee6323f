// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default returns the built-in configuration layer. Every other layer is
// merged on top of it.
func Default() *Config {
	return &Config{
		GitLab: GitLabConfig{
			Timeout:        30 * time.Second,
			MaxConcurrency: 4,
			RateLimit:      600,
		},
		Database: DatabaseConfig{
			Path:    filepath.Join(userConfigDir(), "copima", "credentials.json"),
			WALMode: true,
			Timeout: 5 * time.Second,
		},
		Output: OutputConfig{
			RootDir:     "./output",
			FileNaming:  NamingLowercase,
			PrettyPrint: false,
			Compression: CompressionNone,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "console",
			Console: true,
			Colors:  true,
		},
		Progress: ProgressConfig{
			Enabled:  true,
			Interval: time.Second,
		},
		Resume: ResumeConfig{
			Enabled:          true,
			StateFile:        "./.copima-resume.json",
			AutoSaveInterval: 5 * time.Second,
		},
		OAuth2: OAuth2Config{
			Providers: map[string]OAuth2ProviderConfig{},
			Server: OAuth2ServerConfig{
				Port:         3000,
				CallbackPath: "/auth/callback",
				Timeout:      120 * time.Second,
			},
		},
	}
}

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config")
}
