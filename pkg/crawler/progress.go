// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

package crawler

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/copima/copima/internal/config"
)

// progressReporter renders crawl progress with an indeterminate bar. Writes
// go to progress.file when configured, stderr otherwise.
type progressReporter struct {
	mu      sync.Mutex
	bar     *progressbar.ProgressBar
	file    *os.File
	records int64
}

func newProgressReporter(cfg config.ProgressConfig) *progressReporter {
	if !cfg.Enabled {
		return nil
	}

	var out io.Writer = os.Stderr
	var file *os.File
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			out = f
			file = f
		}
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	bar := progressbar.NewOptions64(-1,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription("crawling"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("records"),
		progressbar.OptionThrottle(interval),
	)
	return &progressReporter{bar: bar, file: file}
}

// Phase renames the bar for the running phase.
func (p *progressReporter) Phase(name string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bar.Describe("crawling " + name)
}

// Add counts emitted records.
func (p *progressReporter) Add(records int) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records += int64(records)
	p.bar.Add(records) //nolint:errcheck // indeterminate bar cannot overflow
}

// Close finishes the bar and closes the progress file.
func (p *progressReporter) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bar.Finish() //nolint:errcheck // best-effort rendering
	if p.file != nil {
		p.file.Close()
	}
}
