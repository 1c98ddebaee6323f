// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

// Package crawler drives the four-phase pipeline: areas, users, resources,
// repository. Phases run sequentially; fan-out within a phase runs under a
// semaphore, and a global token bucket gates every outbound request.
package crawler

import (
	"context"
	sterrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/copima/copima/internal/config"
	"github.com/copima/copima/internal/errors"
	"github.com/copima/copima/internal/logger"
	"github.com/copima/copima/pkg/graphql"
	"github.com/copima/copima/pkg/sink"
)

// Phase names, in execution order.
const (
	PhaseAreas      = "areas"
	PhaseUsers      = "users"
	PhaseResources  = "resources"
	PhaseRepository = "repository"
)

// PhaseOrder is the strict execution order.
var PhaseOrder = []string{PhaseAreas, PhaseUsers, PhaseResources, PhaseRepository}

// Engine sequences the crawl.
type Engine struct {
	cfg      *config.Config
	client   *graphql.Client
	sink     *sink.Sink
	state    *StateManager
	callback Callback
	log      logger.CommonLogger

	limiter    *rate.Limiter
	sem        *semaphore.Weighted
	progress   *progressReporter
	maxRetries uint64
}

// Options configures New. A nil Callback passes nodes through unchanged.
type Options struct {
	Callback   Callback
	Logger     logger.CommonLogger
	MaxRetries int
}

// New wires an engine.
func New(cfg *config.Config, client *graphql.Client, snk *sink.Sink, state *StateManager, opts Options) *Engine {
	callback := opts.Callback
	if callback == nil {
		callback = IdentityCallback
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	perSecond := rate.Limit(float64(cfg.GitLab.RateLimit) / 60.0)
	burst := cfg.GitLab.RateLimit / 60
	if burst < 1 {
		burst = 1
	}
	concurrency := cfg.GitLab.MaxConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	return &Engine{
		cfg:        cfg,
		client:     client,
		sink:       snk,
		state:      state,
		callback:   callback,
		log:        log,
		limiter:    rate.NewLimiter(perSecond, burst),
		sem:        semaphore.NewWeighted(int64(concurrency)),
		progress:   newProgressReporter(cfg.Progress),
		maxRetries: uint64(maxRetries),
	}
}

// Run executes the selected phases in pipeline order; an empty selection
// runs all four. Completed phases are skipped when resuming. A cancelled
// crawl still flushes its resume state.
func (e *Engine) Run(ctx context.Context, phases []string) error {
	selected, err := selectPhases(phases)
	if err != nil {
		return err
	}

	e.state.Load(e.cfg.GitLab.Host)

	autosaveDone := make(chan struct{})
	var autosave sync.WaitGroup
	autosave.Add(1)
	go func() {
		defer autosave.Done()
		e.state.AutoSave(autosaveDone, e.cfg.Resume.AutoSaveInterval)
	}()
	defer func() {
		close(autosaveDone)
		autosave.Wait()
		e.progress.Close()
	}()

	for _, phase := range selected {
		if e.cfg.Resume.Enabled && e.state.PhaseCompleted(phase) {
			e.log.Info("skipping completed phase", "phase", phase)
			continue
		}

		e.progress.Phase(phase)
		e.log.Info("phase starting", "phase", phase)
		start := time.Now()

		err := e.runPhase(ctx, phase)
		if flushErr := e.state.Flush(); flushErr != nil {
			e.log.Warn("state flush failed at phase boundary", "phase", phase, "error", flushErr.Error())
		}
		if err != nil {
			if ctx.Err() != nil {
				return errors.Wrap(ctx.Err(), errors.ErrCancelled)
			}
			return fmt.Errorf("phase %s: %w", phase, err)
		}

		if err := e.state.MarkPhaseCompleted(phase); err != nil {
			return fmt.Errorf("checkpoint phase %s: %w", phase, err)
		}
		if failed := e.state.FailedIDs(phase); len(failed) > 0 {
			e.log.Warn("phase finished with entity failures",
				"phase", phase, "failed", len(failed))
		}
		e.log.Info("phase complete", "phase", phase, "duration", time.Since(start).String())
	}
	return nil
}

func (e *Engine) runPhase(ctx context.Context, phase string) error {
	switch phase {
	case PhaseAreas:
		return e.runAreas(ctx)
	case PhaseUsers:
		return e.runUsers(ctx)
	case PhaseResources:
		return e.runResources(ctx)
	case PhaseRepository:
		return e.runRepository(ctx)
	default:
		return fmt.Errorf("unknown phase %q", phase)
	}
}

// selectPhases validates the subset and restores pipeline order.
func selectPhases(phases []string) ([]string, error) {
	if len(phases) == 0 {
		return PhaseOrder, nil
	}
	want := map[string]bool{}
	for _, phase := range phases {
		known := false
		for _, candidate := range PhaseOrder {
			if candidate == phase {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("unknown phase %q (valid: areas, users, resources, repository)", phase)
		}
		want[phase] = true
	}
	var ordered []string
	for _, phase := range PhaseOrder {
		if want[phase] {
			ordered = append(ordered, phase)
		}
	}
	return ordered, nil
}

// connection describes one paginated crawl target.
type connection struct {
	phase        string
	key          string
	resourceType string
	hierarchy    []string
	fetch        func(ctx context.Context, after *string) (*graphql.Page, error)
	onNodes      func(nodes []graphql.Node)
}

// crawlConnection pages through conn, dispatching callbacks and sink writes
// page by page. Page N is fully processed before page N+1 is fetched, and
// the checkpoint cursor only ever moves forward.
func (e *Engine) crawlConnection(ctx context.Context, conn connection) error {
	after := e.state.Cursor(conn.phase, conn.key)
	err := graphql.ForEachPage(ctx, after,
		func(ctx context.Context, cursor *string) (*graphql.Page, error) {
			return e.fetchPage(ctx, func(ctx context.Context) (*graphql.Page, error) {
				return conn.fetch(ctx, cursor)
			})
		},
		func(page *graphql.Page) error {
			if conn.onNodes != nil {
				conn.onNodes(page.Nodes)
			}
			e.emit(conn.phase, page.Nodes, conn.resourceType, conn.hierarchy)
			if page.PageInfo.EndCursor != nil && *page.PageInfo.EndCursor != "" {
				e.state.SetCursor(conn.phase, conn.key, *page.PageInfo.EndCursor)
			}
			return nil
		})
	if err != nil {
		return err
	}
	e.state.ClearCursor(conn.phase, conn.key)
	return nil
}

// fetchPage wraps one page fetch with the global rate limit and retry with
// exponential backoff. Connectivity and 5xx server errors retry up to
// maxRetries; everything else surfaces immediately.
func (e *Engine) fetchPage(ctx context.Context, fetch func(ctx context.Context) (*graphql.Page, error)) (*graphql.Page, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

	var page *graphql.Page
	operation := func() error {
		if err := e.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(errors.Wrap(err, errors.ErrCancelled))
		}
		fetched, err := fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(errors.Wrap(ctx.Err(), errors.ErrCancelled))
			}
			if retryableFetch(err) {
				e.log.Warn("page fetch failed, retrying", "error", err.Error())
				return err
			}
			return backoff.Permanent(err)
		}
		page = fetched
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, e.maxRetries), ctx)); err != nil {
		return nil, err
	}
	return page, nil
}

func retryableFetch(err error) bool {
	if errors.Retryable(err) {
		return true
	}
	var statusErr *graphql.StatusError
	return sterrors.As(err, &statusErr) && statusErr.Status >= 500
}

// emit dispatches the user callback over a page's nodes and appends the
// survivors to the shard, preserving input order. Callback and sink failures
// are fatal to their entities only.
func (e *Engine) emit(phase string, nodes []graphql.Node, resourceType string, hierarchy []string) {
	if len(nodes) == 0 {
		return
	}
	cbCtx := CallbackContext{
		Host:         e.cfg.GitLab.Host,
		AccountID:    e.cfg.GitLab.AccountID,
		ResourceType: resourceType,
	}

	survivors := make([]interface{}, 0, len(nodes))
	for _, node := range nodes {
		transformed, err := invokeCallback(e.callback, node, cbCtx)
		if err != nil {
			id := nodeID(node)
			e.state.MarkIDFailed(phase, id)
			e.log.Warn("callback failed for entity", "phase", phase, "id", id, "error", err.Error())
			continue
		}
		if transformed == nil {
			continue
		}
		survivors = append(survivors, transformed)
	}
	if len(survivors) == 0 {
		return
	}

	if _, err := e.sink.WriteRecords(resourceType, hierarchy, survivors); err != nil {
		for _, record := range survivors {
			if node, ok := record.(graphql.Node); ok {
				e.state.MarkIDFailed(phase, nodeID(node))
			}
		}
		e.log.Error("sink write failed", "phase", phase, "resource", resourceType, "error", err.Error())
		return
	}
	e.progress.Add(len(survivors))
}

// invokeCallback runs the user transform, converting panics into per-entity
// failures.
func invokeCallback(callback Callback, node graphql.Node, ctx CallbackContext) (result graphql.Node, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result = nil
			err = fmt.Errorf("callback panicked: %v", recovered)
		}
	}()
	return callback(node, ctx)
}

func nodeID(node graphql.Node) string {
	if id := graphql.NodeString(node, "id"); id != "" {
		return id
	}
	return graphql.NodeString(node, "fullPath")
}

// groupHierarchy places a group's resources under groups/<fullPath>.
func groupHierarchy(fullPath string) []string {
	return []string{"groups", fullPath}
}

// projectHierarchy places a project's records under its parent group's
// projects directory. The project name itself is never a directory; root
// projects land under a top-level projects directory.
func projectHierarchy(fullPath string) []string {
	if idx := lastSlash(fullPath); idx > 0 {
		return []string{"groups", fullPath[:idx], "projects"}
	}
	return []string{"projects"}
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

// shouldSkipEntity implements the resume tie-break: an id-level skip only
// applies when none of the entity's connections holds a checkpoint cursor —
// a cursor-level resume always wins.
func (e *Engine) shouldSkipEntity(phase, id string, connectionKeys ...string) bool {
	if !e.cfg.Resume.Enabled || !e.state.IDCompleted(phase, id) {
		return false
	}
	for _, key := range connectionKeys {
		if e.state.Cursor(phase, key) != nil {
			return false
		}
	}
	return true
}
