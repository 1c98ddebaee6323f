// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

package crawler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/copima/copima/internal/errors"
	"github.com/copima/copima/internal/logger"
)

// PhaseState is one phase's checkpoint.
type PhaseState struct {
	Completed bool `json:"completed"`
	// Cursors maps connection keys to the endCursor of the last fully
	// processed page.
	Cursors map[string]string `json:"cursors,omitempty"`
	// CompletedIDs holds entity ids (group/project paths) whose fan-out
	// finished.
	CompletedIDs []string `json:"completedIds,omitempty"`
	// FailedIDs holds entities that failed without halting the crawl.
	FailedIDs []string `json:"failedIds,omitempty"`
}

// CrawlState is the persisted resume checkpoint.
type CrawlState struct {
	StartedAt   time.Time              `json:"startedAt"`
	LastUpdated time.Time              `json:"lastUpdated"`
	Host        string                 `json:"host"`
	Phases      map[string]*PhaseState `json:"phases"`
	// DiscoveredGroups and DiscoveredProjects carry the areas phase's output
	// to the resources and repository phases across runs.
	DiscoveredGroups   []string `json:"discoveredGroups,omitempty"`
	DiscoveredProjects []string `json:"discoveredProjects,omitempty"`
}

// StateManager loads and persists crawl state with single-writer semantics.
type StateManager struct {
	path    string
	enabled bool
	log     logger.CommonLogger

	mu    sync.Mutex
	state *CrawlState
	dirty bool
}

// NewStateManager builds a manager for the state file at path. When enabled
// is false the state file is never read or written and a fresh in-memory
// state is used.
func NewStateManager(path string, enabled bool, log logger.CommonLogger) *StateManager {
	if log == nil {
		log = logger.NewNop()
	}
	return &StateManager{path: path, enabled: enabled, log: log}
}

// Load reads the checkpoint. A corrupt file is renamed to .bak, logged, and
// treated as absent; the crawl starts fresh rather than failing.
func (sm *StateManager) Load(host string) *CrawlState {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	fresh := &CrawlState{
		StartedAt: time.Now().UTC(),
		Host:      host,
		Phases:    map[string]*PhaseState{},
	}
	if !sm.enabled {
		sm.state = fresh
		return sm.state
	}

	data, err := os.ReadFile(sm.path)
	switch {
	case os.IsNotExist(err):
		sm.state = fresh
	case err != nil:
		sm.log.Warn("cannot read resume state, starting fresh", "path", sm.path, "error", err.Error())
		sm.state = fresh
	default:
		var loaded CrawlState
		if err := json.Unmarshal(data, &loaded); err != nil {
			backup := sm.path + ".bak"
			sm.log.Warn("resume state is corrupt, moving aside",
				"path", sm.path, "backup", backup,
				"error", errors.Wrap(err, errors.ErrStateCorrupt).Error())
			if renameErr := os.Rename(sm.path, backup); renameErr != nil {
				sm.log.Warn("could not move corrupt state", "error", renameErr.Error())
			}
			sm.state = fresh
			break
		}
		if loaded.Phases == nil {
			loaded.Phases = map[string]*PhaseState{}
		}
		if loaded.Host != "" && loaded.Host != host {
			sm.log.Warn("resume state targets a different host, starting fresh",
				"stateHost", loaded.Host, "host", host)
			sm.state = fresh
			break
		}
		sm.state = &loaded
	}
	return sm.state
}

// Phase returns the named phase's checkpoint, creating it on first use.
func (sm *StateManager) Phase(name string) *PhaseState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.phaseLocked(name)
}

func (sm *StateManager) phaseLocked(name string) *PhaseState {
	if sm.state == nil {
		sm.state = &CrawlState{StartedAt: time.Now().UTC(), Phases: map[string]*PhaseState{}}
	}
	phase, ok := sm.state.Phases[name]
	if !ok {
		phase = &PhaseState{Cursors: map[string]string{}}
		sm.state.Phases[name] = phase
	}
	if phase.Cursors == nil {
		phase.Cursors = map[string]string{}
	}
	return phase
}

// PhaseCompleted reports whether a phase already ran to completion.
func (sm *StateManager) PhaseCompleted(name string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	phase, ok := sm.state.Phases[name]
	return ok && phase.Completed
}

// MarkPhaseCompleted flags the phase done and flushes.
func (sm *StateManager) MarkPhaseCompleted(name string) error {
	sm.mu.Lock()
	sm.phaseLocked(name).Completed = true
	sm.dirty = true
	sm.mu.Unlock()
	return sm.Flush()
}

// Cursor returns the checkpointed cursor for a connection, or nil.
func (sm *StateManager) Cursor(phase, connection string) *string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if cursor, ok := sm.phaseLocked(phase).Cursors[connection]; ok && cursor != "" {
		c := cursor
		return &c
	}
	return nil
}

// SetCursor records the endCursor of a fully processed page.
func (sm *StateManager) SetCursor(phase, connection, cursor string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.phaseLocked(phase).Cursors[connection] = cursor
	sm.dirty = true
}

// ClearCursor removes a finished connection's cursor.
func (sm *StateManager) ClearCursor(phase, connection string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.phaseLocked(phase).Cursors, connection)
	sm.dirty = true
}

// IDCompleted reports whether the entity already finished in this phase.
func (sm *StateManager) IDCompleted(phase, id string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, done := range sm.phaseLocked(phase).CompletedIDs {
		if done == id {
			return true
		}
	}
	return false
}

// MarkIDCompleted records an entity as processed.
func (sm *StateManager) MarkIDCompleted(phase, id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	state := sm.phaseLocked(phase)
	for _, done := range state.CompletedIDs {
		if done == id {
			return
		}
	}
	state.CompletedIDs = append(state.CompletedIDs, id)
	sm.dirty = true
}

// MarkIDFailed records a per-entity failure without halting the crawl.
func (sm *StateManager) MarkIDFailed(phase, id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	state := sm.phaseLocked(phase)
	for _, failed := range state.FailedIDs {
		if failed == id {
			return
		}
	}
	state.FailedIDs = append(state.FailedIDs, id)
	sm.dirty = true
}

// FailedIDs returns the phase's failure list.
func (sm *StateManager) FailedIDs(phase string) []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return append([]string(nil), sm.phaseLocked(phase).FailedIDs...)
}

// RecordDiscovery merges newly found groups and projects into the state.
func (sm *StateManager) RecordDiscovery(groups, projects []string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state.DiscoveredGroups = mergeUnique(sm.state.DiscoveredGroups, groups)
	sm.state.DiscoveredProjects = mergeUnique(sm.state.DiscoveredProjects, projects)
	sm.dirty = true
}

// Discovered returns the areas phase's accumulated output.
func (sm *StateManager) Discovered() (groups, projects []string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return append([]string(nil), sm.state.DiscoveredGroups...),
		append([]string(nil), sm.state.DiscoveredProjects...)
}

// Flush atomically persists the state when it changed since the last write.
func (sm *StateManager) Flush() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.enabled || sm.state == nil || !sm.dirty {
		return nil
	}

	sm.state.LastUpdated = time.Now().UTC()
	data, err := json.MarshalIndent(sm.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal resume state: %w", err)
	}

	dir := filepath.Dir(sm.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".resume-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, sm.path); err != nil {
		return fmt.Errorf("commit resume state: %w", err)
	}
	sm.dirty = false
	return nil
}

// AutoSave flushes on every interval tick until done is closed, then performs
// a final flush.
func (sm *StateManager) AutoSave(done <-chan struct{}, interval time.Duration) {
	if !sm.enabled || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := sm.Flush(); err != nil {
				sm.log.Warn("autosave failed", "error", err.Error())
			}
		case <-done:
			if err := sm.Flush(); err != nil {
				sm.log.Warn("final state flush failed", "error", err.Error())
			}
			return
		}
	}
}

func mergeUnique(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, item := range existing {
		seen[item] = struct{}{}
	}
	for _, item := range incoming {
		if _, ok := seen[item]; !ok {
			existing = append(existing, item)
			seen[item] = struct{}{}
		}
	}
	return existing
}
