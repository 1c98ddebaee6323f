// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

// Package errors defines the stable error taxonomy surfaced by the CLI and
// carried through logs: configuration, authentication, connectivity, GraphQL,
// sink, and state errors, plus wrap helpers preserving both error chains.
package errors
