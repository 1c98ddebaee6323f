// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

// Package cli carries the flag set shared by every copima command and turns
// it into the highest configuration layer.
package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/copima/copima/internal/config"
	"github.com/copima/copima/internal/logger"
)

// CommonFlags are accepted by every command.
type CommonFlags struct {
	ConfigFile   string
	Host         string
	AccessToken  string
	RefreshToken string
	AccountID    string
	Output       string
	Database     string
	Resume       bool
	Verbose      bool
	Debug        bool
	Quiet        bool

	flagSet *pflag.FlagSet
}

// Register installs the common flags as persistent flags on root.
func (f *CommonFlags) Register(root *cobra.Command) {
	flags := root.PersistentFlags()
	flags.StringVar(&f.ConfigFile, "config", "", "Path to a config file (overrides the search paths)")
	flags.StringVar(&f.Host, "host", "", "GitLab host URL")
	flags.StringVar(&f.AccessToken, "access-token", "", "Access token for direct bearer authentication")
	flags.StringVar(&f.RefreshToken, "refresh-token", "", "Refresh token paired with --access-token")
	flags.StringVar(&f.AccountID, "account-id", "", "Stored account to authenticate as")
	flags.StringVar(&f.Output, "output", "", "Output root directory")
	flags.StringVar(&f.Database, "database", "", "Credential store path")
	flags.BoolVar(&f.Resume, "resume", false, "Resume from the saved crawl state")
	flags.BoolVarP(&f.Verbose, "verbose", "v", false, "Enable verbose logging")
	flags.BoolVar(&f.Debug, "debug", false, "Enable debug logging")
	flags.BoolVarP(&f.Quiet, "quiet", "q", false, "Suppress all logs except errors")
	f.flagSet = flags
}

// overrides maps only the flags the user actually set onto dotted config
// keys, so unset flags never mask lower layers.
func (f *CommonFlags) overrides() map[string]interface{} {
	out := map[string]interface{}{}
	if f.flagSet == nil {
		return out
	}
	set := func(flag, key string, value interface{}) {
		if f.flagSet.Changed(flag) {
			out[key] = value
		}
	}
	set("host", "gitlab.host", f.Host)
	set("access-token", "gitlab.accesstoken", f.AccessToken)
	set("refresh-token", "gitlab.refreshtoken", f.RefreshToken)
	set("account-id", "gitlab.accountid", f.AccountID)
	set("output", "output.rootdir", f.Output)
	set("database", "database.path", f.Database)
	set("resume", "resume.enabled", f.Resume)
	return out
}

// LoadConfig resolves the effective configuration with the CLI layer applied.
func (f *CommonFlags) LoadConfig() (*config.Config, error) {
	return config.Load(&config.LoadOptions{
		LocalFile:     f.ConfigFile,
		FlagOverrides: f.overrides(),
	})
}

// NewLogger builds the component logger honoring the quiet/debug flags.
func (f *CommonFlags) NewLogger(component string, cfg *config.Config) logger.CommonLogger {
	opts := logger.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Colors:  cfg.Logging.Colors,
	}
	switch {
	case f.Quiet:
		opts.Level = "error"
	case f.Debug:
		opts.Level = "debug"
	case f.Verbose && opts.Level != "debug":
		opts.Level = "debug"
	}
	return logger.New(component, opts)
}
