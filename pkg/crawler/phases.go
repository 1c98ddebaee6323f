// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

package crawler

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/copima/copima/pkg/graphql"
)

// runAreas enumerates root groups and projects, then recursively descends
// into every group's descendantGroups and projects connections. Discovered
// paths feed the resources and repository phases.
func (e *Engine) runAreas(ctx context.Context) error {
	var (
		mu       sync.Mutex
		frontier []string
	)
	enqueueGroups := func(nodes []graphql.Node) {
		mu.Lock()
		defer mu.Unlock()
		for _, node := range nodes {
			if fullPath := graphql.NodeString(node, "fullPath"); fullPath != "" {
				frontier = append(frontier, fullPath)
			}
		}
	}
	recordProjects := func(nodes []graphql.Node) {
		var paths []string
		for _, node := range nodes {
			if fullPath := graphql.NodeString(node, "fullPath"); fullPath != "" {
				paths = append(paths, fullPath)
			}
		}
		e.state.RecordDiscovery(nil, paths)
	}

	// Root groups and projects first.
	if err := e.crawlConnection(ctx, connection{
		phase:        PhaseAreas,
		key:          "groups",
		resourceType: "groups",
		fetch: func(ctx context.Context, after *string) (*graphql.Page, error) {
			return e.client.FetchGroups(ctx, graphql.DefaultPageSize, after)
		},
		onNodes: enqueueGroups,
	}); err != nil {
		return err
	}
	if err := e.crawlConnection(ctx, connection{
		phase:        PhaseAreas,
		key:          "projects",
		resourceType: "projects",
		fetch: func(ctx context.Context, after *string) (*graphql.Page, error) {
			return e.client.FetchProjects(ctx, graphql.DefaultPageSize, after)
		},
		onNodes: recordProjects,
	}); err != nil {
		return err
	}

	// Breadth-first descent: each wave fans out under the semaphore, newly
	// discovered subgroups form the next wave.
	for len(frontier) > 0 {
		mu.Lock()
		wave := frontier
		frontier = nil
		mu.Unlock()

		group, groupCtx := errgroup.WithContext(ctx)
		for _, fullPath := range wave {
			fullPath := fullPath
			e.state.RecordDiscovery([]string{fullPath}, nil)

			subgroupsKey := "areas/" + fullPath + "/subgroups"
			projectsKey := "areas/" + fullPath + "/projects"
			if e.shouldSkipEntity(PhaseAreas, "group:"+fullPath, subgroupsKey, projectsKey) {
				continue
			}

			group.Go(func() error {
				if err := e.sem.Acquire(groupCtx, 1); err != nil {
					return err
				}
				defer e.sem.Release(1)

				if err := e.crawlConnection(groupCtx, connection{
					phase:        PhaseAreas,
					key:          subgroupsKey,
					resourceType: "groups",
					fetch: func(ctx context.Context, after *string) (*graphql.Page, error) {
						return e.client.FetchSubgroups(ctx, fullPath, graphql.DefaultPageSize, after)
					},
					onNodes: enqueueGroups,
				}); err != nil {
					return err
				}
				if err := e.crawlConnection(groupCtx, connection{
					phase:        PhaseAreas,
					key:          projectsKey,
					resourceType: "projects",
					hierarchy:    groupHierarchy(fullPath),
					fetch: func(ctx context.Context, after *string) (*graphql.Page, error) {
						return e.client.FetchGroupProjects(ctx, fullPath, graphql.DefaultPageSize, after)
					},
					onNodes: recordProjects,
				}); err != nil {
					return err
				}
				e.state.MarkIDCompleted(PhaseAreas, "group:"+fullPath)
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// runUsers enumerates global users into the root shard.
func (e *Engine) runUsers(ctx context.Context) error {
	return e.crawlConnection(ctx, connection{
		phase:        PhaseUsers,
		key:          "users",
		resourceType: "users",
		fetch: func(ctx context.Context, after *string) (*graphql.Page, error) {
			return e.client.FetchUsers(ctx, graphql.DefaultPageSize, after)
		},
	})
}

// resourceConn binds one sub-resource connection of a group or project. The
// fetch field holds a method expression over the GraphQL client.
type resourceConn struct {
	resourceType string
	fetch        func(c *graphql.Client, ctx context.Context, fullPath string, first int, after *string) (*graphql.Page, error)
}

var groupResources = []resourceConn{
	{"members", (*graphql.Client).FetchGroupMembers},
	{"labels", (*graphql.Client).FetchGroupLabels},
	{"milestones", (*graphql.Client).FetchGroupMilestones},
}

var projectResources = []resourceConn{
	{"members", (*graphql.Client).FetchProjectMembers},
	{"labels", (*graphql.Client).FetchProjectLabels},
	{"milestones", (*graphql.Client).FetchProjectMilestones},
	{"issues", (*graphql.Client).FetchProjectIssues},
	{"mergeRequests", (*graphql.Client).FetchProjectMergeRequests},
}

var repositoryResources = []resourceConn{
	{"refs", (*graphql.Client).FetchProjectRefs},
	{"commits", (*graphql.Client).FetchProjectCommits},
	{"pipelines", (*graphql.Client).FetchProjectPipelines},
}

// runResources fetches members, labels, and milestones for every discovered
// group and project, plus issues and merge requests for projects.
func (e *Engine) runResources(ctx context.Context) error {
	groups, projects := e.state.Discovered()

	group, groupCtx := errgroup.WithContext(ctx)
	for _, fullPath := range groups {
		fullPath := fullPath
		e.fanOutEntity(groupCtx, group, PhaseResources, "group:"+fullPath, fullPath,
			groupHierarchy(fullPath), groupResources, bindFetchers(e.client, fullPath))
	}
	for _, fullPath := range projects {
		fullPath := fullPath
		e.fanOutEntity(groupCtx, group, PhaseResources, "project:"+fullPath, fullPath,
			projectHierarchy(fullPath), projectResources, bindFetchers(e.client, fullPath))
	}
	return group.Wait()
}

// runRepository fetches refs, commits, and pipelines for every discovered
// project.
func (e *Engine) runRepository(ctx context.Context) error {
	_, projects := e.state.Discovered()

	group, groupCtx := errgroup.WithContext(ctx)
	for _, fullPath := range projects {
		fullPath := fullPath
		e.fanOutEntity(groupCtx, group, PhaseRepository, "project:"+fullPath, fullPath,
			projectHierarchy(fullPath), repositoryResources, bindFetchers(e.client, fullPath))
	}
	return group.Wait()
}

// bindFetchers closes a client and entity path over a resourceConn fetch.
func bindFetchers(client *graphql.Client, fullPath string) func(resourceConn) graphql.PageFetch {
	return func(rc resourceConn) graphql.PageFetch {
		return func(ctx context.Context, after *string) (*graphql.Page, error) {
			return rc.fetch(client, ctx, fullPath, graphql.DefaultPageSize, after)
		}
	}
}

// fanOutEntity schedules one entity's sub-resource connections under the
// phase semaphore. Connections run sequentially per entity so the entity's
// completion flag means all of them finished.
func (e *Engine) fanOutEntity(
	ctx context.Context,
	group *errgroup.Group,
	phase, entityID, fullPath string,
	hierarchy []string,
	resources []resourceConn,
	bind func(resourceConn) graphql.PageFetch,
) {
	keys := make([]string, len(resources))
	for i, rc := range resources {
		keys[i] = phase + "/" + fullPath + "/" + rc.resourceType
	}
	if e.shouldSkipEntity(phase, entityID, keys...) {
		return
	}

	group.Go(func() error {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer e.sem.Release(1)

		for i, rc := range resources {
			if err := e.crawlConnection(ctx, connection{
				phase:        phase,
				key:          keys[i],
				resourceType: rc.resourceType,
				hierarchy:    hierarchy,
				fetch:        bind(rc),
			}); err != nil {
				return err
			}
		}
		e.state.MarkIDCompleted(phase, entityID)
		return nil
	})
}
