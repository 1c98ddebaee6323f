// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

// Package auth implements `copima auth`, the browser-based login that seeds
// the credential store.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/copima/copima/internal/cli"
	"github.com/copima/copima/internal/config"
	"github.com/copima/copima/internal/errors"
	"github.com/copima/copima/pkg/auth"
	"github.com/copima/copima/pkg/credstore"
	"github.com/copima/copima/pkg/graphql"
)

// NewAuthCmd builds the auth command.
func NewAuthCmd(ctx context.Context, flags *cli.CommonFlags) *cobra.Command {
	var providerName string

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authenticate against a configured OAuth2 provider",
		Long: `Runs the browser-based authorization-code flow: opens the provider's
authorization page, waits for the redirect on a local callback server,
exchanges the code, and persists the account in the credential store.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.LoadConfig()
			if err != nil {
				return err
			}
			return runAuth(ctx, cfg, flags, providerName)
		},
	}
	cmd.Flags().StringVar(&providerName, "provider", "gitlab", "OAuth2 provider name from the configuration")
	return cmd
}

func runAuth(ctx context.Context, cfg *config.Config, flags *cli.CommonFlags, providerName string) error {
	log := flags.NewLogger("auth", cfg)

	provider, ok := cfg.OAuth2.Providers[providerName]
	if !ok {
		return errors.Wrap(
			fmt.Errorf("oauth2 provider %q is not configured", providerName),
			errors.ErrAuthMissing)
	}

	result, err := auth.RunAuthorizationFlow(ctx, auth.FlowOptions{
		Provider: provider,
		Server:   cfg.OAuth2.Server,
		Logger:   log,
	})
	if err != nil {
		return err
	}

	// Identify the account holder with the fresh token.
	gql := graphql.NewClient(cfg.GitLab.Host, &auth.StaticProvider{Token: result.Token.AccessToken},
		graphql.ClientOptions{Timeout: cfg.GitLab.Timeout, Logger: log})
	identity, err := gql.FetchCurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("identify authenticated user: %w", err)
	}
	username := graphql.NodeString(identity, "username")
	if username == "" {
		return errors.Wrap(fmt.Errorf("provider did not identify the user"), errors.ErrAuthInvalid)
	}
	email := graphql.NodeString(identity, "publicEmail")
	if email == "" {
		email = username + "@" + providerName
	}

	store, err := credstore.Open(cfg.Database.Path, credstore.Options{
		WALMode: cfg.Database.WALMode,
		Logger:  log,
	})
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	user, err := store.UpsertUser(credstore.User{
		ID:            uuid.NewString(),
		Name:          graphql.NodeString(identity, "name"),
		Email:         email,
		EmailVerified: graphql.NodeString(identity, "publicEmail") != "",
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return fmt.Errorf("persist user: %w", err)
	}

	accountID := flags.AccountID
	if accountID == "" {
		accountID = username
	}

	account := credstore.Account{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		ProviderID:  providerIDFor(providerName),
		UserID:      user.ID,
		AccessToken: result.Token.AccessToken,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if result.Token.RefreshToken != "" {
		refresh := result.Token.RefreshToken
		account.RefreshToken = &refresh
	}
	if !result.Token.Expiry.IsZero() {
		expiry := result.Token.Expiry.UTC()
		account.AccessTokenExpiresAt = &expiry
	}
	if result.Scope != "" {
		scope := result.Scope
		account.Scope = &scope
	}

	if existing := store.FindAccountByAccountID(accountID); existing != nil {
		patch := credstore.AccountPatch{
			AccessToken:          &account.AccessToken,
			RefreshToken:         account.RefreshToken,
			AccessTokenExpiresAt: account.AccessTokenExpiresAt,
			Scope:                account.Scope,
		}
		if _, err := store.UpdateAccount(accountID, patch); err != nil {
			return fmt.Errorf("update account: %w", err)
		}
	} else if err := store.InsertAccount(account); err != nil {
		return fmt.Errorf("persist account: %w", err)
	}

	// The crawl command's token manager takes over refresh from here; a
	// one-shot command has no process lifetime for a pre-expiry timer.
	log.Info("authentication complete", "accountId", accountID, "user", username)
	fmt.Printf("Authenticated as %s (account %s)\n", username, accountID)
	return nil
}

func providerIDFor(name string) string {
	switch name {
	case credstore.ProviderGitLab, credstore.ProviderGitHub:
		return name
	default:
		return credstore.ProviderCustom
	}
}
