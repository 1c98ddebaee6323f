// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// OutputFormatter renders key/value views in table, json, or yaml form for
// the config inspection commands.
type OutputFormatter struct {
	writer io.Writer
	format string
}

// NewOutputFormatter builds a formatter writing to w.
func NewOutputFormatter(format string, w io.Writer) *OutputFormatter {
	return &OutputFormatter{writer: w, format: format}
}

// FormatPairs renders ordered key/value pairs in the configured format.
func (f *OutputFormatter) FormatPairs(pairs [][2]string) error {
	switch f.format {
	case "", "table":
		table := tablewriter.NewWriter(f.writer)
		table.Header("Key", "Value")
		for _, pair := range pairs {
			table.Append(pair[0], pair[1])
		}
		table.Render()
		return nil
	case "json":
		doc := make(map[string]string, len(pairs))
		for _, pair := range pairs {
			doc[pair[0]] = pair[1]
		}
		encoder := json.NewEncoder(f.writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(doc)
	case "yaml":
		doc := make(map[string]string, len(pairs))
		for _, pair := range pairs {
			doc[pair[0]] = pair[1]
		}
		return yaml.NewEncoder(f.writer).Encode(doc)
	default:
		return fmt.Errorf("unsupported output format: %s (valid: table, json, yaml)", f.format)
	}
}
