// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

// Package crawl implements `copima crawl` and its per-phase subcommands.
package crawl

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/copima/copima/internal/cli"
	"github.com/copima/copima/internal/config"
	"github.com/copima/copima/internal/errors"
	"github.com/copima/copima/internal/logger"
	"github.com/copima/copima/pkg/auth"
	"github.com/copima/copima/pkg/crawler"
	"github.com/copima/copima/pkg/credstore"
	"github.com/copima/copima/pkg/graphql"
	"github.com/copima/copima/pkg/sink"
)

// NewCrawlCmd builds the crawl command tree.
func NewCrawlCmd(ctx context.Context, flags *cli.CommonFlags) *cobra.Command {
	var steps string

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run the crawl pipeline (areas, users, resources, repository)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(ctx, flags, parseSteps(steps))
		},
	}
	cmd.PersistentFlags().StringVar(&steps, "steps", "", "Comma-separated phase subset (e.g. areas,users)")

	cmd.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "Run every phase",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(ctx, flags, parseSteps(steps))
		},
	})
	for _, phase := range crawler.PhaseOrder {
		phase := phase
		cmd.AddCommand(&cobra.Command{
			Use:   phase,
			Short: "Run only the " + phase + " phase",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runCrawl(ctx, flags, []string{phase})
			},
		})
	}
	return cmd
}

func parseSteps(steps string) []string {
	if steps == "" {
		return nil
	}
	var out []string
	for _, step := range strings.Split(steps, ",") {
		if trimmed := strings.TrimSpace(step); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func runCrawl(ctx context.Context, flags *cli.CommonFlags, phases []string) error {
	cfg, err := flags.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.GitLab.Host == "" {
		return errors.Wrap(fmt.Errorf("gitlab.host is required"), errors.ErrConfigInvalid)
	}

	log := flags.NewLogger("crawler", cfg)

	tokens, cleanup, err := tokenProviderFor(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	client := graphql.NewClient(cfg.GitLab.Host, tokens, graphql.ClientOptions{
		Timeout: cfg.GitLab.Timeout,
		Logger:  log,
	})
	state := crawler.NewStateManager(cfg.Resume.StateFile, cfg.Resume.Enabled, log)
	engine := crawler.New(cfg, client, sink.New(cfg.Output, log), state, crawler.Options{Logger: log})

	if err := engine.Run(ctx, phases); err != nil {
		return err
	}
	log.Info("crawl finished", "output", cfg.Output.RootDir)
	return nil
}

// tokenProviderFor picks the authentication source: a directly configured
// access token, or a stored account serviced by the token manager.
func tokenProviderFor(cfg *config.Config, log logger.CommonLogger) (graphql.TokenProvider, func(), error) {
	if cfg.GitLab.AccessToken != "" {
		provider, bound := cfg.OAuth2.Providers["gitlab"]
		if cfg.GitLab.RefreshToken != "" && bound {
			log.Debug("using configured token pair with refresh capability")
			refresher := auth.NewRefreshClient(auth.RefreshClientOptions{Logger: log})
			return auth.NewEphemeralProvider(cfg.GitLab.AccessToken, cfg.GitLab.RefreshToken, refresher, provider), func() {}, nil
		}
		log.Debug("using configured access token")
		return &auth.StaticProvider{Token: cfg.GitLab.AccessToken}, func() {}, nil
	}

	if cfg.GitLab.AccountID == "" {
		return nil, nil, errors.Wrap(
			fmt.Errorf("no access token configured and no account id given; run `copima auth` first"),
			errors.ErrAuthMissing)
	}

	provider, ok := cfg.OAuth2.Providers["gitlab"]
	if !ok {
		return nil, nil, errors.Wrap(
			fmt.Errorf("stored account %q needs the gitlab oauth2 provider configured for refresh", cfg.GitLab.AccountID),
			errors.ErrAuthMissing)
	}

	store, err := credstore.Open(cfg.Database.Path, credstore.Options{
		WALMode: cfg.Database.WALMode,
		Logger:  log,
	})
	if err != nil {
		return nil, nil, err
	}
	if store.FindAccountByAccountID(cfg.GitLab.AccountID) == nil {
		return nil, nil, errors.Wrap(
			fmt.Errorf("account %q is not in the credential store; run `copima auth`", cfg.GitLab.AccountID),
			errors.ErrAuthMissing)
	}

	manager := auth.NewManager(store,
		auth.NewRefreshClient(auth.RefreshClientOptions{Logger: log}),
		provider, auth.ManagerOptions{Logger: log})
	return manager.NewProvider(cfg.GitLab.AccountID), manager.Destroy, nil
}
