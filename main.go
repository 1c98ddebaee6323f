// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

// Package main is the entry point for the copima CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/copima/copima/cmd"
)

var version = "dev"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintf(os.Stderr, "\nReceived interrupt, shutting down gracefully...\n")
		cancel()
	}()

	os.Exit(cmd.Execute(ctx, version))
}
