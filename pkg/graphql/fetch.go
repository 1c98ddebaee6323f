// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

package graphql

import (
	"context"
	"encoding/json"
	"fmt"
)

// DefaultPageSize is the `first` argument every list fetch uses.
const DefaultPageSize = 100

// FetchCurrentUser identifies the authenticated user.
func (c *Client) FetchCurrentUser(ctx context.Context) (Node, error) {
	var payload struct {
		CurrentUser Node `json:"currentUser"`
	}
	if err := c.Query(ctx, DocCurrentUser, nil, &payload); err != nil {
		return nil, err
	}
	return payload.CurrentUser, nil
}

// FetchUsers pages the global users connection.
func (c *Client) FetchUsers(ctx context.Context, first int, after *string) (*Page, error) {
	return c.fetchConnection(ctx, DocUsers, []string{"users"}, variables(first, after, nil))
}

// FetchGroups pages the root groups connection.
func (c *Client) FetchGroups(ctx context.Context, first int, after *string) (*Page, error) {
	return c.fetchConnection(ctx, DocGroups, []string{"groups"}, variables(first, after, nil))
}

// FetchProjects pages the root projects connection.
func (c *Client) FetchProjects(ctx context.Context, first int, after *string) (*Page, error) {
	return c.fetchConnection(ctx, DocProjects, []string{"projects"}, variables(first, after, nil))
}

// FetchGroupProjects pages a group's direct projects.
func (c *Client) FetchGroupProjects(ctx context.Context, fullPath string, first int, after *string) (*Page, error) {
	return c.fetchConnection(ctx, DocGroupProjects, []string{"group", "projects"}, variables(first, after, &fullPath))
}

// FetchSubgroups pages a group's direct descendant groups.
func (c *Client) FetchSubgroups(ctx context.Context, fullPath string, first int, after *string) (*Page, error) {
	return c.fetchConnection(ctx, DocSubgroups, []string{"group", "descendantGroups"}, variables(first, after, &fullPath))
}

// FetchGroup fetches one group, or nil when the path does not resolve.
func (c *Client) FetchGroup(ctx context.Context, fullPath string) (Node, error) {
	var payload struct {
		Group Node `json:"group"`
	}
	if err := c.Query(ctx, DocGroup, map[string]interface{}{"fullPath": fullPath}, &payload); err != nil {
		return nil, err
	}
	return payload.Group, nil
}

// FetchProject fetches one project, or nil when the path does not resolve.
func (c *Client) FetchProject(ctx context.Context, fullPath string) (Node, error) {
	var payload struct {
		Project Node `json:"project"`
	}
	if err := c.Query(ctx, DocProject, map[string]interface{}{"fullPath": fullPath}, &payload); err != nil {
		return nil, err
	}
	return payload.Project, nil
}

// FetchGroupMembers pages a group's memberships.
func (c *Client) FetchGroupMembers(ctx context.Context, fullPath string, first int, after *string) (*Page, error) {
	return c.fetchConnection(ctx, DocGroupMembers, []string{"group", "groupMembers"}, variables(first, after, &fullPath))
}

// FetchProjectMembers pages a project's memberships.
func (c *Client) FetchProjectMembers(ctx context.Context, fullPath string, first int, after *string) (*Page, error) {
	return c.fetchConnection(ctx, DocProjectMembers, []string{"project", "projectMembers"}, variables(first, after, &fullPath))
}

// FetchGroupLabels pages a group's labels.
func (c *Client) FetchGroupLabels(ctx context.Context, fullPath string, first int, after *string) (*Page, error) {
	return c.fetchConnection(ctx, DocGroupLabels, []string{"group", "labels"}, variables(first, after, &fullPath))
}

// FetchProjectLabels pages a project's labels.
func (c *Client) FetchProjectLabels(ctx context.Context, fullPath string, first int, after *string) (*Page, error) {
	return c.fetchConnection(ctx, DocProjectLabels, []string{"project", "labels"}, variables(first, after, &fullPath))
}

// FetchGroupMilestones pages a group's milestones.
func (c *Client) FetchGroupMilestones(ctx context.Context, fullPath string, first int, after *string) (*Page, error) {
	return c.fetchConnection(ctx, DocGroupMilestones, []string{"group", "milestones"}, variables(first, after, &fullPath))
}

// FetchProjectMilestones pages a project's milestones.
func (c *Client) FetchProjectMilestones(ctx context.Context, fullPath string, first int, after *string) (*Page, error) {
	return c.fetchConnection(ctx, DocProjectMilestones, []string{"project", "milestones"}, variables(first, after, &fullPath))
}

// FetchProjectIssues pages a project's issues.
func (c *Client) FetchProjectIssues(ctx context.Context, fullPath string, first int, after *string) (*Page, error) {
	return c.fetchConnection(ctx, DocProjectIssues, []string{"project", "issues"}, variables(first, after, &fullPath))
}

// FetchProjectMergeRequests pages a project's merge requests.
func (c *Client) FetchProjectMergeRequests(ctx context.Context, fullPath string, first int, after *string) (*Page, error) {
	return c.fetchConnection(ctx, DocProjectMergeRequests, []string{"project", "mergeRequests"}, variables(first, after, &fullPath))
}

// FetchProjectRefs pages a project's repository refs.
func (c *Client) FetchProjectRefs(ctx context.Context, fullPath string, first int, after *string) (*Page, error) {
	return c.fetchConnection(ctx, DocProjectRefs, []string{"project", "repository", "refs"}, variables(first, after, &fullPath))
}

// FetchProjectCommits pages a project's default-branch commits.
func (c *Client) FetchProjectCommits(ctx context.Context, fullPath string, first int, after *string) (*Page, error) {
	return c.fetchConnection(ctx, DocProjectCommits, []string{"project", "repository", "commits"}, variables(first, after, &fullPath))
}

// FetchProjectPipelines pages a project's pipelines.
func (c *Client) FetchProjectPipelines(ctx context.Context, fullPath string, first int, after *string) (*Page, error) {
	return c.fetchConnection(ctx, DocProjectPipelines, []string{"project", "pipelines"}, variables(first, after, &fullPath))
}

func variables(first int, after *string, fullPath *string) map[string]interface{} {
	if first <= 0 {
		first = DefaultPageSize
	}
	vars := map[string]interface{}{"first": first}
	if after != nil && *after != "" {
		vars["after"] = *after
	}
	if fullPath != nil {
		vars["fullPath"] = *fullPath
	}
	return vars
}

// fetchConnection executes document and digs the connection out at path,
// validating its nodes/pageInfo shape.
func (c *Client) fetchConnection(ctx context.Context, document Document, path []string, vars map[string]interface{}) (*Page, error) {
	var data map[string]json.RawMessage
	if err := c.Query(ctx, document, vars, &data); err != nil {
		return nil, err
	}

	current := data
	for i, key := range path {
		raw, ok := current[key]
		if !ok || string(raw) == "null" {
			return nil, fmt.Errorf("%s: response is missing %q", document.Name, key)
		}
		if i == len(path)-1 {
			var conn rawConnection
			if err := json.Unmarshal(raw, &conn); err != nil {
				return nil, fmt.Errorf("%s: decode connection %q: %w", document.Name, key, err)
			}
			return conn.toPage(document.Name)
		}
		next := map[string]json.RawMessage{}
		if err := json.Unmarshal(raw, &next); err != nil {
			return nil, fmt.Errorf("%s: decode object %q: %w", document.Name, key, err)
		}
		current = next
	}
	return nil, fmt.Errorf("%s: empty connection path", document.Name)
}
