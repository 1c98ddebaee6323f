// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

// Package sink maps (resource kind, hierarchy path) pairs onto a tree of
// append-only JSONL shards under the output root, one JSON document per line.
package sink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"

	"github.com/copima/copima/internal/config"
	"github.com/copima/copima/internal/errors"
	"github.com/copima/copima/internal/logger"
)

// Sink writes JSONL shards. Writes to the same path are serialized; distinct
// paths may write concurrently.
type Sink struct {
	rootDir     string
	naming      string
	prettyPrint bool
	compression string
	log         logger.CommonLogger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds a sink from the output configuration.
func New(cfg config.OutputConfig, log logger.CommonLogger) *Sink {
	if log == nil {
		log = logger.NewNop()
	}
	return &Sink{
		rootDir:     cfg.RootDir,
		naming:      cfg.FileNaming,
		prettyPrint: cfg.PrettyPrint,
		compression: cfg.Compression,
		log:         log,
		locks:       map[string]*sync.Mutex{},
	}
}

// HierarchicalPath derives the shard path for a resource kind under a
// hierarchy. Only the leaf filename goes through the naming convention;
// directory segments pass through untouched. The result is deterministic.
func (s *Sink) HierarchicalPath(resourceType string, hierarchy ...string) string {
	segments := make([]string, 0, len(hierarchy)+2)
	segments = append(segments, s.rootDir)
	segments = append(segments, hierarchy...)
	segments = append(segments, s.formatName(resourceType)+s.extension())
	return filepath.Join(segments...)
}

// WriteRecords appends records to the shard for (resourceType, hierarchy),
// creating parent directories. Returns the count of records offered.
func (s *Sink) WriteRecords(resourceType string, hierarchy []string, records []interface{}) (int, error) {
	return s.WriteJSONL(s.HierarchicalPath(resourceType, hierarchy...), records, true)
}

// WriteJSONL writes records to path, one JSON document per line (multi-line
// when prettyPrint is configured). The payload is flushed in a single write
// call so appends stay atomic on local disks; records are written whole or
// not at all.
func (s *Sink) WriteJSONL(path string, records []interface{}, appendMode bool) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	for _, record := range records {
		var (
			line []byte
			err  error
		)
		if s.prettyPrint {
			line, err = json.MarshalIndent(record, "", "  ")
		} else {
			line, err = json.Marshal(record)
		}
		if err != nil {
			return 0, errors.Wrap(fmt.Errorf("encode record for %s: %w", path, err), errors.ErrSinkWrite)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	payload, err := s.compress(buf.Bytes())
	if err != nil {
		return 0, errors.Wrap(fmt.Errorf("compress payload for %s: %w", path, err), errors.ErrSinkWrite)
	}

	lock := s.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, errors.Wrap(fmt.Errorf("create shard directory: %w", err), errors.ErrSinkWrite)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return 0, errors.Wrap(fmt.Errorf("open shard %s: %w", path, err), errors.ErrSinkWrite)
	}
	defer file.Close()

	if _, err := file.Write(payload); err != nil {
		return 0, errors.Wrap(fmt.Errorf("append shard %s: %w", path, err), errors.ErrSinkWrite)
	}
	if err := file.Close(); err != nil {
		return 0, errors.Wrap(fmt.Errorf("close shard %s: %w", path, err), errors.ErrSinkWrite)
	}

	s.log.Debug("shard appended", "path", path, "records", len(records))
	return len(records), nil
}

// compress wraps the payload per the configured codec. Each append becomes
// its own compressed member, which concatenates into a valid stream.
func (s *Sink) compress(payload []byte) ([]byte, error) {
	switch s.compression {
	case "", config.CompressionNone:
		return payload, nil
	case config.CompressionGzip:
		var out bytes.Buffer
		writer := gzip.NewWriter(&out)
		if _, err := writer.Write(payload); err != nil {
			return nil, err
		}
		if err := writer.Close(); err != nil {
			return nil, err
		}
		return out.Bytes(), nil
	case config.CompressionBrotli:
		var out bytes.Buffer
		writer := brotli.NewWriter(&out)
		if _, err := writer.Write(payload); err != nil {
			return nil, err
		}
		if err := writer.Close(); err != nil {
			return nil, err
		}
		return out.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", s.compression)
	}
}

func (s *Sink) extension() string {
	switch s.compression {
	case config.CompressionGzip:
		return ".jsonl.gz"
	case config.CompressionBrotli:
		return ".jsonl.br"
	default:
		return ".jsonl"
	}
}

// formatName applies the configured naming convention to the leaf filename.
func (s *Sink) formatName(resourceType string) string {
	switch s.naming {
	case config.NamingKebab:
		return splitCamel(resourceType, '-')
	case config.NamingSnake:
		return splitCamel(resourceType, '_')
	default: // lowercase
		stripped := strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}
			return r
		}, resourceType)
		return strings.ToLower(stripped)
	}
}

// splitCamel lowers camelCase into sep-joined words: mergeRequests becomes
// merge-requests or merge_requests.
func splitCamel(name string, sep rune) string {
	var out strings.Builder
	var prev rune
	for i, r := range name {
		switch {
		case unicode.IsSpace(r):
			continue
		case unicode.IsUpper(r):
			if i > 0 && !unicode.IsUpper(prev) {
				out.WriteRune(sep)
			}
			out.WriteRune(unicode.ToLower(r))
		default:
			out.WriteRune(r)
		}
		prev = r
	}
	return out.String()
}

func (s *Sink) pathLock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[path]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[path] = lock
	}
	return lock
}
