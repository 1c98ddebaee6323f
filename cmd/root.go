// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

// Package cmd assembles the copima command tree.
package cmd

import (
	"context"
	sterrors "errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	authcmd "github.com/copima/copima/cmd/auth"
	configcmd "github.com/copima/copima/cmd/config"
	crawlcmd "github.com/copima/copima/cmd/crawl"
	"github.com/copima/copima/internal/cli"
	"github.com/copima/copima/internal/errors"
)

// Exit codes surfaced by Execute.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitConfigError = 2
)

func newRootCmd(ctx context.Context, version string) (*cobra.Command, *cli.CommonFlags) {
	flags := &cli.CommonFlags{}

	cmd := &cobra.Command{
		Use:           "copima",
		Short:         "Resumable GitLab GraphQL crawler writing hierarchical JSONL",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	flags.Register(cmd)

	cmd.AddCommand(newVersionCmd(version))
	cmd.AddCommand(authcmd.NewAuthCmd(ctx, flags))
	cmd.AddCommand(crawlcmd.NewCrawlCmd(ctx, flags))
	cmd.AddCommand(configcmd.NewConfigCmd(flags))

	return cmd, flags
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the copima version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "copima %s\n", version)
		},
	}
}

// Execute runs the CLI and returns the process exit code. Errors print their
// taxonomy name and one-line message; verbose mode adds the cause chain.
func Execute(ctx context.Context, version string) int {
	root, flags := newRootCmd(ctx, version)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", errors.Name(err), firstLine(err))
		if flags.Verbose || flags.Debug {
			fmt.Fprintf(os.Stderr, "%s\n", errors.Chain(err))
		}
		if sterrors.Is(err, errors.ErrConfigInvalid) {
			return ExitConfigError
		}
		return ExitFailure
	}
	return ExitOK
}

func firstLine(err error) string {
	msg := err.Error()
	for i, r := range msg {
		if r == '\n' {
			return msg[:i]
		}
	}
	return msg
}
