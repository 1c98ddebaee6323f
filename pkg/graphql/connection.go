// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

package graphql

import (
	"context"
	"fmt"
)

// PageInfo is a connection's cursor state.
type PageInfo struct {
	HasNextPage bool    `json:"hasNextPage"`
	EndCursor   *string `json:"endCursor"`
}

// Node is one record of a connection, kept schemaless so user transforms can
// reshape it freely.
type Node = map[string]interface{}

// Page is one fetched slice of a connection.
type Page struct {
	Nodes    []Node   `json:"nodes"`
	PageInfo PageInfo `json:"pageInfo"`
}

// NodeString extracts a string field from a node, or "".
func NodeString(node Node, key string) string {
	if val, ok := node[key].(string); ok {
		return val
	}
	return ""
}

// PageFetch returns the page after the given cursor; nil means the first
// page.
type PageFetch func(ctx context.Context, after *string) (*Page, error)

// ForEachPage lazily folds fn over a connection one page at a time, starting
// at the `after` cursor. fn runs to completion for page N before page N+1 is
// fetched, so cursor progress is strictly monotonic for resume purposes. No
// more than one page is ever held in memory.
func ForEachPage(ctx context.Context, after *string, fetch PageFetch, fn func(*Page) error) error {
	cursor := after
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := fetch(ctx, cursor)
		if err != nil {
			return err
		}
		if err := fn(page); err != nil {
			return err
		}
		if !page.PageInfo.HasNextPage {
			return nil
		}
		if page.PageInfo.EndCursor == nil || *page.PageInfo.EndCursor == "" {
			return fmt.Errorf("connection reports another page but no end cursor")
		}
		if cursor != nil && *page.PageInfo.EndCursor == *cursor {
			return fmt.Errorf("connection cursor %q did not advance", *cursor)
		}
		cursor = page.PageInfo.EndCursor
	}
}

// rawConnection is the wire shape of a connection; pointer fields let the
// fetch helpers verify nodes and pageInfo are actually present.
type rawConnection struct {
	Nodes    []Node    `json:"nodes"`
	PageInfo *PageInfo `json:"pageInfo"`
}

// toPage validates the connection shape and normalizes absent node lists.
func (rc *rawConnection) toPage(operation string) (*Page, error) {
	if rc == nil {
		return nil, fmt.Errorf("%s: response carries no connection", operation)
	}
	if rc.PageInfo == nil {
		return nil, fmt.Errorf("%s: connection is missing pageInfo", operation)
	}
	nodes := rc.Nodes
	if nodes == nil {
		nodes = []Node{}
	}
	return &Page{Nodes: nodes, PageInfo: *rc.PageInfo}, nil
}
