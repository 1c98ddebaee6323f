// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

package crawler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copima/copima/internal/config"
	"github.com/copima/copima/pkg/graphql"
	"github.com/copima/copima/pkg/sink"
)

type staticTokens struct{}

func (staticTokens) Bearer(context.Context) (string, error)     { return "tok", nil }
func (staticTokens) Invalidate(context.Context) (string, error) { return "tok", nil }

// fakeGitLab routes GraphQL operations by name and serves canned connection
// pages keyed by (operation, fullPath, after).
type fakeGitLab struct {
	t        *testing.T
	pages    map[string]string // routeKey(op, fullPath, after) -> response JSON
	requests atomic.Int32
}

func routeKey(op, fullPath, after string) string {
	return op + "|" + fullPath + "|" + after
}

func (f *fakeGitLab) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		var body struct {
			Query     string                 `json:"query"`
			Variables map[string]interface{} `json:"variables"`
		}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))

		op := operationName(body.Query)
		fullPath, _ := body.Variables["fullPath"].(string)
		after, _ := body.Variables["after"].(string)
		key := routeKey(op, fullPath, after)

		response, ok := f.pages[key]
		if !ok {
			f.t.Errorf("unexpected graphql request %s", key)
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, response)
	}
}

func operationName(query string) string {
	fields := strings.Fields(query)
	for i, field := range fields {
		if field == "query" && i+1 < len(fields) {
			name := fields[i+1]
			if idx := strings.IndexAny(name, "({"); idx > 0 {
				name = name[:idx]
			}
			return name
		}
	}
	return ""
}

// emptyConn is a connection with no nodes and no further pages.
func emptyConn(path ...string) string {
	inner := `{"nodes":[],"pageInfo":{"hasNextPage":false}}`
	for i := len(path) - 1; i >= 0; i-- {
		inner = fmt.Sprintf(`{%q:%s}`, path[i], inner)
	}
	return fmt.Sprintf(`{"data":%s}`, inner)
}

type engineFixture struct {
	engine  *Engine
	rootDir string
	state   string
}

func newEngineFixture(t *testing.T, server *httptest.Server, callback Callback) *engineFixture {
	t.Helper()
	rootDir := t.TempDir()
	stateFile := filepath.Join(t.TempDir(), "resume.json")

	cfg := config.Default()
	cfg.GitLab.Host = server.URL
	cfg.GitLab.AccountID = "acc-1"
	cfg.GitLab.MaxConcurrency = 2
	cfg.GitLab.RateLimit = 600000 // keep tests fast
	cfg.Output.RootDir = rootDir
	cfg.Progress.Enabled = false
	cfg.Resume.StateFile = stateFile
	cfg.Resume.AutoSaveInterval = 50 * time.Millisecond

	client := graphql.NewClient(server.URL, staticTokens{}, graphql.ClientOptions{HTTPClient: server.Client()})
	snk := sink.New(cfg.Output, nil)
	state := NewStateManager(stateFile, true, nil)

	engine := New(cfg, client, snk, state, Options{Callback: callback})
	return &engineFixture{engine: engine, rootDir: rootDir, state: stateFile}
}

func readLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var out []map[string]interface{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var record map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
		out = append(out, record)
	}
	return out
}

func TestBasicUserFetch(t *testing.T) {
	fake := &fakeGitLab{t: t, pages: map[string]string{
		routeKey("Users", "", ""): `{"data":{"users":{"nodes":[{"id":"gid://U/1","username":"alice","name":"Alice","createdAt":"2024-01-01T00:00:00Z"}],"pageInfo":{"hasNextPage":false}}}}`,
	}}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	fx := newEngineFixture(t, server, nil) // identity callback
	require.NoError(t, fx.engine.Run(context.Background(), []string{PhaseUsers}))

	records := readLines(t, filepath.Join(fx.rootDir, "users.jsonl"))
	require.Len(t, records, 1)
	assert.Equal(t, "gid://U/1", records[0]["id"])
	assert.Equal(t, "alice", records[0]["username"])
	assert.Equal(t, "Alice", records[0]["name"])
	assert.Equal(t, "2024-01-01T00:00:00Z", records[0]["createdAt"])
}

func TestGroupWithNestedProject(t *testing.T) {
	fake := &fakeGitLab{t: t, pages: map[string]string{
		routeKey("Groups", "", ""):        `{"data":{"groups":{"nodes":[{"id":"gid://G/1","fullPath":"org","name":"org"}],"pageInfo":{"hasNextPage":false}}}}`,
		routeKey("Projects", "", ""):      emptyConn("projects"),
		routeKey("Subgroups", "org", ""):  emptyConn("group", "descendantGroups"),
		routeKey("GroupProjects", "org", ""): `{"data":{"group":{"projects":{"nodes":[{"id":"gid://P/1","fullPath":"org/app","name":"app"}],"pageInfo":{"hasNextPage":false}}}}}`,
	}}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	fx := newEngineFixture(t, server, nil)
	require.NoError(t, fx.engine.Run(context.Background(), []string{PhaseAreas}))

	// Group record at the root shard.
	groups := readLines(t, filepath.Join(fx.rootDir, "groups.jsonl"))
	require.Len(t, groups, 1)
	assert.Equal(t, "org", groups[0]["fullPath"])

	// Project record under the group directory.
	info, err := os.Stat(filepath.Join(fx.rootDir, "groups", "org"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	projects := readLines(t, filepath.Join(fx.rootDir, "groups", "org", "projects.jsonl"))
	require.Len(t, projects, 1)
	assert.Equal(t, "org/app", projects[0]["fullPath"])
	assert.Equal(t, "app", projects[0]["name"])
}

func TestCallbackDropsOddIndexedNodes(t *testing.T) {
	fake := &fakeGitLab{t: t, pages: map[string]string{
		routeKey("Users", "", ""): `{"data":{"users":{"nodes":[{"id":"u0"},{"id":"u1"},{"id":"u2"},{"id":"u3"},{"id":"u4"}],"pageInfo":{"hasNextPage":false}}}}`,
	}}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	index := 0
	callback := func(node graphql.Node, ctx CallbackContext) (graphql.Node, error) {
		assert.Equal(t, "users", ctx.ResourceType)
		assert.Equal(t, "acc-1", ctx.AccountID)
		defer func() { index++ }()
		if index%2 == 1 {
			return nil, nil // drop
		}
		return node, nil
	}

	fx := newEngineFixture(t, server, callback)
	require.NoError(t, fx.engine.Run(context.Background(), []string{PhaseUsers}))

	records := readLines(t, filepath.Join(fx.rootDir, "users.jsonl"))
	require.Len(t, records, 3)
	assert.Equal(t, "u0", records[0]["id"])
	assert.Equal(t, "u2", records[1]["id"])
	assert.Equal(t, "u4", records[2]["id"])
}

func TestCallbackErrorIsPerEntityNotFatal(t *testing.T) {
	fake := &fakeGitLab{t: t, pages: map[string]string{
		routeKey("Users", "", ""): `{"data":{"users":{"nodes":[{"id":"u0"},{"id":"u1"},{"id":"u2"}],"pageInfo":{"hasNextPage":false}}}}`,
	}}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	callback := func(node graphql.Node, _ CallbackContext) (graphql.Node, error) {
		if graphql.NodeString(node, "id") == "u1" {
			return nil, fmt.Errorf("transform exploded")
		}
		return node, nil
	}

	fx := newEngineFixture(t, server, callback)
	require.NoError(t, fx.engine.Run(context.Background(), []string{PhaseUsers}))

	records := readLines(t, filepath.Join(fx.rootDir, "users.jsonl"))
	require.Len(t, records, 2)
	assert.Equal(t, []string{"u1"}, fx.engine.state.FailedIDs(PhaseUsers))
}

func TestCallbackPanicIsPerEntityFailure(t *testing.T) {
	fake := &fakeGitLab{t: t, pages: map[string]string{
		routeKey("Users", "", ""): `{"data":{"users":{"nodes":[{"id":"u0"},{"id":"u1"}],"pageInfo":{"hasNextPage":false}}}}`,
	}}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	callback := func(node graphql.Node, _ CallbackContext) (graphql.Node, error) {
		if graphql.NodeString(node, "id") == "u0" {
			panic("boom")
		}
		return node, nil
	}

	fx := newEngineFixture(t, server, callback)
	require.NoError(t, fx.engine.Run(context.Background(), []string{PhaseUsers}))

	records := readLines(t, filepath.Join(fx.rootDir, "users.jsonl"))
	require.Len(t, records, 1)
	assert.Equal(t, "u1", records[0]["id"])
}

func TestPaginationProcessesPagesInOrder(t *testing.T) {
	fake := &fakeGitLab{t: t, pages: map[string]string{
		routeKey("Users", "", ""):   `{"data":{"users":{"nodes":[{"id":"u1"}],"pageInfo":{"hasNextPage":true,"endCursor":"c1"}}}}`,
		routeKey("Users", "", "c1"): `{"data":{"users":{"nodes":[{"id":"u2"}],"pageInfo":{"hasNextPage":true,"endCursor":"c2"}}}}`,
		routeKey("Users", "", "c2"): `{"data":{"users":{"nodes":[{"id":"u3"}],"pageInfo":{"hasNextPage":false,"endCursor":"c3"}}}}`,
	}}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	fx := newEngineFixture(t, server, nil)
	require.NoError(t, fx.engine.Run(context.Background(), []string{PhaseUsers}))

	records := readLines(t, filepath.Join(fx.rootDir, "users.jsonl"))
	require.Len(t, records, 3)
	assert.Equal(t, "u1", records[0]["id"])
	assert.Equal(t, "u2", records[1]["id"])
	assert.Equal(t, "u3", records[2]["id"])
}

func TestResumeSkipsCompletedPhase(t *testing.T) {
	fake := &fakeGitLab{t: t, pages: map[string]string{}}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	fx := newEngineFixture(t, server, nil)

	// First, checkpoint the phase as completed.
	state := NewStateManager(fx.state, true, nil)
	state.Load(server.URL)
	require.NoError(t, state.MarkPhaseCompleted(PhaseUsers))

	require.NoError(t, fx.engine.Run(context.Background(), []string{PhaseUsers}))
	assert.Zero(t, fake.requests.Load(), "completed phase must issue no requests")
}

func TestResumeContinuesFromCursor(t *testing.T) {
	fake := &fakeGitLab{t: t, pages: map[string]string{
		// Only the post-checkpoint page is served; requesting page 1 would fail
		// the test through the unexpected-request branch.
		routeKey("Users", "", "c2"): `{"data":{"users":{"nodes":[{"id":"u3"}],"pageInfo":{"hasNextPage":false}}}}`,
	}}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	fx := newEngineFixture(t, server, nil)

	// Simulate a crawl cancelled after fully processing page 2.
	state := NewStateManager(fx.state, true, nil)
	state.Load(server.URL)
	state.SetCursor(PhaseUsers, "users", "c2")
	require.NoError(t, state.Flush())

	require.NoError(t, fx.engine.Run(context.Background(), []string{PhaseUsers}))

	records := readLines(t, filepath.Join(fx.rootDir, "users.jsonl"))
	require.Len(t, records, 1)
	assert.Equal(t, "u3", records[0]["id"])
}

func TestCancelledCrawlFlushesState(t *testing.T) {
	release := make(chan struct{})
	var served atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if served.Add(1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"data":{"users":{"nodes":[{"id":"u1"}],"pageInfo":{"hasNextPage":true,"endCursor":"c1"}}}}`)
			return
		}
		<-release // hang page 2 until the crawl is cancelled
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()
	defer close(release)

	fx := newEngineFixture(t, server, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	err := fx.engine.Run(ctx, []string{PhaseUsers})
	require.Error(t, err)

	// Page 1 was processed whole: its records are on disk and its cursor is
	// checkpointed for the next run.
	records := readLines(t, filepath.Join(fx.rootDir, "users.jsonl"))
	require.Len(t, records, 1)

	state := NewStateManager(fx.state, true, nil)
	state.Load(server.URL)
	cursor := state.Cursor(PhaseUsers, "users")
	require.NotNil(t, cursor)
	assert.Equal(t, "c1", *cursor)
}

func TestResourcesPhaseUsesDiscoveredEntities(t *testing.T) {
	fake := &fakeGitLab{t: t, pages: map[string]string{
		routeKey("GroupMembers", "org", ""):      `{"data":{"group":{"groupMembers":{"nodes":[{"id":"m1"}],"pageInfo":{"hasNextPage":false}}}}}`,
		routeKey("GroupLabels", "org", ""):       emptyConn("group", "labels"),
		routeKey("GroupMilestones", "org", ""):   emptyConn("group", "milestones"),
		routeKey("ProjectMembers", "org/app", ""):    emptyConn("project", "projectMembers"),
		routeKey("ProjectLabels", "org/app", ""):     emptyConn("project", "labels"),
		routeKey("ProjectMilestones", "org/app", ""): emptyConn("project", "milestones"),
		routeKey("ProjectIssues", "org/app", ""): `{"data":{"project":{"issues":{"nodes":[{"id":"i1","iid":"1","title":"bug"}],"pageInfo":{"hasNextPage":false}}}}}`,
		routeKey("ProjectMergeRequests", "org/app", ""): emptyConn("project", "mergeRequests"),
	}}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	fx := newEngineFixture(t, server, nil)

	// The areas phase already ran in a prior run and recorded its discovery.
	state := NewStateManager(fx.state, true, nil)
	state.Load(server.URL)
	state.RecordDiscovery([]string{"org"}, []string{"org/app"})
	require.NoError(t, state.MarkPhaseCompleted(PhaseAreas))

	require.NoError(t, fx.engine.Run(context.Background(), []string{PhaseResources}))

	members := readLines(t, filepath.Join(fx.rootDir, "groups", "org", "members.jsonl"))
	require.Len(t, members, 1)

	issues := readLines(t, filepath.Join(fx.rootDir, "groups", "org", "projects", "issues.jsonl"))
	require.Len(t, issues, 1)
	assert.Equal(t, "bug", issues[0]["title"])
}

func TestRepositoryPhase(t *testing.T) {
	fake := &fakeGitLab{t: t, pages: map[string]string{
		routeKey("ProjectRefs", "org/app", ""):    `{"data":{"project":{"repository":{"refs":{"nodes":[{"name":"main"}],"pageInfo":{"hasNextPage":false}}}}}}`,
		routeKey("ProjectCommits", "org/app", ""): `{"data":{"project":{"repository":{"commits":{"nodes":[{"id":"c1","sha":"abc"}],"pageInfo":{"hasNextPage":false}}}}}}`,
		routeKey("ProjectPipelines", "org/app", ""): `{"data":{"project":{"pipelines":{"nodes":[{"id":"p1","status":"success"}],"pageInfo":{"hasNextPage":false}}}}}`,
	}}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	fx := newEngineFixture(t, server, nil)
	state := NewStateManager(fx.state, true, nil)
	state.Load(server.URL)
	state.RecordDiscovery(nil, []string{"org/app"})
	require.NoError(t, state.Flush())

	require.NoError(t, fx.engine.Run(context.Background(), []string{PhaseRepository}))

	refs := readLines(t, filepath.Join(fx.rootDir, "groups", "org", "projects", "refs.jsonl"))
	require.Len(t, refs, 1)
	assert.Equal(t, "main", refs[0]["name"])

	pipelines := readLines(t, filepath.Join(fx.rootDir, "groups", "org", "projects", "pipelines.jsonl"))
	require.Len(t, pipelines, 1)
}

func TestSelectPhasesOrderingAndValidation(t *testing.T) {
	ordered, err := selectPhases([]string{PhaseRepository, PhaseAreas})
	require.NoError(t, err)
	assert.Equal(t, []string{PhaseAreas, PhaseRepository}, ordered)

	all, err := selectPhases(nil)
	require.NoError(t, err)
	assert.Equal(t, PhaseOrder, all)

	_, err = selectPhases([]string{"nonsense"})
	assert.Error(t, err)
}

func TestServerErrorRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"users":{"nodes":[{"id":"u1"}],"pageInfo":{"hasNextPage":false}}}}`)
	}))
	defer server.Close()

	fx := newEngineFixture(t, server, nil)
	// The engine's page-fetch backoff starts at 1s, so this single retry
	// keeps the test at about one second.
	require.NoError(t, fx.engine.Run(context.Background(), []string{PhaseUsers}))

	assert.Equal(t, int32(2), calls.Load())
	records := readLines(t, filepath.Join(fx.rootDir, "users.jsonl"))
	require.Len(t, records, 1)
}
