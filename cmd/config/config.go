// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

// Package config implements `copima config show|set|unset|validate`.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/copima/copima/internal/cli"
	"github.com/copima/copima/internal/config"
	"github.com/copima/copima/internal/errors"
)

// NewConfigCmd builds the config command tree.
func NewConfigCmd(flags *cli.CommonFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit the effective configuration",
	}
	cmd.AddCommand(newShowCmd(flags))
	cmd.AddCommand(newSetCmd(flags))
	cmd.AddCommand(newUnsetCmd(flags))
	cmd.AddCommand(newValidateCmd(flags))
	return cmd
}

func newShowCmd(flags *cli.CommonFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration after all layers merge",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.LoadConfig()
			if err != nil {
				return err
			}
			formatter := cli.NewOutputFormatter(format, cmd.OutOrStdout())
			return formatter.FormatPairs(config.Describe(cfg))
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table, json, yaml")
	return cmd
}

func newSetCmd(flags *cli.CommonFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write a value into the local config file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := localConfigPath(flags)
			doc, err := readConfigFile(path)
			if err != nil {
				return err
			}
			setNested(doc, strings.Split(args[0], "."), parseScalar(args[1]))
			if err := writeConfigFile(path, doc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s (written to %s)\n", args[0], args[1], path)
			return nil
		},
	}
}

func newUnsetCmd(flags *cli.CommonFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "unset <key>",
		Short: "Remove a value from the local config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := localConfigPath(flags)
			doc, err := readConfigFile(path)
			if err != nil {
				return err
			}
			unsetNested(doc, strings.Split(args[0], "."))
			if err := writeConfigFile(path, doc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s removed from %s\n", args[0], path)
			return nil
		},
	}
}

func newValidateCmd(flags *cli.CommonFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration structure and values",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			// Structural pass against the schema, when a file is present.
			path := localConfigPath(flags)
			if _, err := os.Stat(path); err == nil {
				issues, err := config.ValidateFileSchema(path)
				if err != nil {
					return err
				}
				for _, issue := range issues {
					fmt.Fprintf(out, "%s %s\n", color.RedString("schema:"), issue.String())
				}
				if len(issues) > 0 {
					return errors.Wrap(fmt.Errorf("%d schema violations in %s", len(issues), path), errors.ErrConfigInvalid)
				}
			}

			// Semantic pass over the merged result.
			cfg, err := flags.LoadConfig()
			if err != nil {
				return err
			}
			issues := config.Validate(cfg)
			for _, issue := range issues {
				label := color.YellowString("warning:")
				if issue.Severity == config.SeverityError {
					label = color.RedString("error:")
				}
				fmt.Fprintf(out, "%s %s\n", label, issue.String())
			}
			fmt.Fprintln(out, color.GreenString("configuration OK"))
			return nil
		},
	}
}

func localConfigPath(flags *cli.CommonFlags) string {
	if flags.ConfigFile != "" {
		return flags.ConfigFile
	}
	for _, candidate := range []string{"copima.yaml", "copima.yml", "copima.json"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return "copima.yaml"
}

func readConfigFile(path string) (map[string]interface{}, error) {
	doc := map[string]interface{}{}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigInvalid)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(fmt.Errorf("parse %s: %w", path, err), errors.ErrConfigInvalid)
	}
	return doc, nil
}

func writeConfigFile(path string, doc map[string]interface{}) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func setNested(doc map[string]interface{}, path []string, value interface{}) {
	for i, key := range path {
		if i == len(path)-1 {
			doc[key] = value
			return
		}
		next, ok := doc[key].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			doc[key] = next
		}
		doc = next
	}
}

func unsetNested(doc map[string]interface{}, path []string) {
	for i, key := range path {
		if i == len(path)-1 {
			delete(doc, key)
			return
		}
		next, ok := doc[key].(map[string]interface{})
		if !ok {
			return
		}
		doc = next
	}
}

// parseScalar keeps booleans and integers typed in the YAML output.
func parseScalar(raw string) interface{} {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	var asInt int
	if _, err := fmt.Sscanf(raw, "%d", &asInt); err == nil && fmt.Sprintf("%d", asInt) == raw {
		return asInt
	}
	return raw
}
