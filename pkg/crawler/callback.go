// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

package crawler

import "github.com/copima/copima/pkg/graphql"

// CallbackContext is passed to every user transform.
type CallbackContext struct {
	Host         string
	AccountID    string
	ResourceType string
}

// Callback transforms one fetched node. Returning nil drops the record; an
// error counts as a per-entity failure and never halts the crawl.
type Callback func(node graphql.Node, ctx CallbackContext) (graphql.Node, error)

// IdentityCallback passes every node through unchanged.
func IdentityCallback(node graphql.Node, _ CallbackContext) (graphql.Node, error) {
	return node, nil
}
