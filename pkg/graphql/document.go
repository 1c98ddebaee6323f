// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

package graphql

// Document is an opaque GraphQL query with an operation name. Compile-time
// constants and runtime file-loaded strings are interchangeable; the client
// only reads the query text.
type Document struct {
	Name  string
	Query string
}

// LoadDocument wraps externally sourced query text.
func LoadDocument(name, query string) Document {
	return Document{Name: name, Query: query}
}

// Documents for the four crawl phases. Every connection requests pageInfo so
// the pagination loop can follow endCursor.

// DocUsers enumerates global users.
var DocUsers = Document{Name: "Users", Query: `
query Users($first: Int!, $after: String) {
  users(first: $first, after: $after) {
    nodes {
      id
      username
      name
      publicEmail
      state
      createdAt
    }
    pageInfo { hasNextPage endCursor }
  }
}`}

// DocCurrentUser identifies the authenticated user after login.
var DocCurrentUser = Document{Name: "CurrentUser", Query: `
query CurrentUser {
  currentUser {
    id
    username
    name
    publicEmail
  }
}`}

// DocGroups enumerates root groups.
var DocGroups = Document{Name: "Groups", Query: `
query Groups($first: Int!, $after: String) {
  groups(first: $first, after: $after) {
    nodes {
      id
      fullPath
      name
      description
      visibility
      createdAt
    }
    pageInfo { hasNextPage endCursor }
  }
}`}

// DocProjects enumerates root projects.
var DocProjects = Document{Name: "Projects", Query: `
query Projects($first: Int!, $after: String) {
  projects(first: $first, after: $after) {
    nodes {
      id
      fullPath
      name
      description
      visibility
      createdAt
      group { id fullPath }
    }
    pageInfo { hasNextPage endCursor }
  }
}`}

// DocGroup fetches one group by path.
var DocGroup = Document{Name: "Group", Query: `
query Group($fullPath: ID!) {
  group(fullPath: $fullPath) {
    id
    fullPath
    name
    description
    visibility
    createdAt
  }
}`}

// DocProject fetches one project by path.
var DocProject = Document{Name: "Project", Query: `
query Project($fullPath: ID!) {
  project(fullPath: $fullPath) {
    id
    fullPath
    name
    description
    visibility
    createdAt
  }
}`}

// DocGroupProjects pages a group's direct projects.
var DocGroupProjects = Document{Name: "GroupProjects", Query: `
query GroupProjects($fullPath: ID!, $first: Int!, $after: String) {
  group(fullPath: $fullPath) {
    projects(first: $first, after: $after, includeSubgroups: false) {
      nodes {
        id
        fullPath
        name
        description
        visibility
        createdAt
      }
      pageInfo { hasNextPage endCursor }
    }
  }
}`}

// DocSubgroups pages a group's direct descendant groups.
var DocSubgroups = Document{Name: "Subgroups", Query: `
query Subgroups($fullPath: ID!, $first: Int!, $after: String) {
  group(fullPath: $fullPath) {
    descendantGroups(first: $first, after: $after) {
      nodes {
        id
        fullPath
        name
        description
        visibility
        createdAt
      }
      pageInfo { hasNextPage endCursor }
    }
  }
}`}

// DocGroupMembers pages a group's memberships.
var DocGroupMembers = Document{Name: "GroupMembers", Query: `
query GroupMembers($fullPath: ID!, $first: Int!, $after: String) {
  group(fullPath: $fullPath) {
    groupMembers(first: $first, after: $after) {
      nodes {
        id
        accessLevel { integerValue stringValue }
        user { id username name }
        createdAt
      }
      pageInfo { hasNextPage endCursor }
    }
  }
}`}

// DocProjectMembers pages a project's memberships.
var DocProjectMembers = Document{Name: "ProjectMembers", Query: `
query ProjectMembers($fullPath: ID!, $first: Int!, $after: String) {
  project(fullPath: $fullPath) {
    projectMembers(first: $first, after: $after) {
      nodes {
        id
        accessLevel { integerValue stringValue }
        user { id username name }
        createdAt
      }
      pageInfo { hasNextPage endCursor }
    }
  }
}`}

// DocGroupLabels pages a group's labels.
var DocGroupLabels = Document{Name: "GroupLabels", Query: `
query GroupLabels($fullPath: ID!, $first: Int!, $after: String) {
  group(fullPath: $fullPath) {
    labels(first: $first, after: $after) {
      nodes { id title description color createdAt }
      pageInfo { hasNextPage endCursor }
    }
  }
}`}

// DocProjectLabels pages a project's labels.
var DocProjectLabels = Document{Name: "ProjectLabels", Query: `
query ProjectLabels($fullPath: ID!, $first: Int!, $after: String) {
  project(fullPath: $fullPath) {
    labels(first: $first, after: $after) {
      nodes { id title description color createdAt }
      pageInfo { hasNextPage endCursor }
    }
  }
}`}

// DocGroupMilestones pages a group's milestones.
var DocGroupMilestones = Document{Name: "GroupMilestones", Query: `
query GroupMilestones($fullPath: ID!, $first: Int!, $after: String) {
  group(fullPath: $fullPath) {
    milestones(first: $first, after: $after) {
      nodes { id title description state dueDate createdAt }
      pageInfo { hasNextPage endCursor }
    }
  }
}`}

// DocProjectMilestones pages a project's milestones.
var DocProjectMilestones = Document{Name: "ProjectMilestones", Query: `
query ProjectMilestones($fullPath: ID!, $first: Int!, $after: String) {
  project(fullPath: $fullPath) {
    milestones(first: $first, after: $after) {
      nodes { id title description state dueDate createdAt }
      pageInfo { hasNextPage endCursor }
    }
  }
}`}

// DocProjectIssues pages a project's issues.
var DocProjectIssues = Document{Name: "ProjectIssues", Query: `
query ProjectIssues($fullPath: ID!, $first: Int!, $after: String) {
  project(fullPath: $fullPath) {
    issues(first: $first, after: $after) {
      nodes {
        id
        iid
        title
        state
        author { id username }
        labels(first: 20) { nodes { title } }
        createdAt
        updatedAt
      }
      pageInfo { hasNextPage endCursor }
    }
  }
}`}

// DocProjectMergeRequests pages a project's merge requests.
var DocProjectMergeRequests = Document{Name: "ProjectMergeRequests", Query: `
query ProjectMergeRequests($fullPath: ID!, $first: Int!, $after: String) {
  project(fullPath: $fullPath) {
    mergeRequests(first: $first, after: $after) {
      nodes {
        id
        iid
        title
        state
        sourceBranch
        targetBranch
        author { id username }
        createdAt
        updatedAt
      }
      pageInfo { hasNextPage endCursor }
    }
  }
}`}

// DocProjectRefs pages a project's refs.
var DocProjectRefs = Document{Name: "ProjectRefs", Query: `
query ProjectRefs($fullPath: ID!, $first: Int!, $after: String) {
  project(fullPath: $fullPath) {
    repository {
      refs(first: $first, after: $after) {
        nodes { name target }
        pageInfo { hasNextPage endCursor }
      }
    }
  }
}`}

// DocProjectCommits pages a project's default-branch commits.
var DocProjectCommits = Document{Name: "ProjectCommits", Query: `
query ProjectCommits($fullPath: ID!, $first: Int!, $after: String) {
  project(fullPath: $fullPath) {
    repository {
      commits(first: $first, after: $after) {
        nodes { id sha title authoredDate authorName }
        pageInfo { hasNextPage endCursor }
      }
    }
  }
}`}

// DocProjectPipelines pages a project's pipelines.
var DocProjectPipelines = Document{Name: "ProjectPipelines", Query: `
query ProjectPipelines($fullPath: ID!, $first: Int!, $after: String) {
  project(fullPath: $fullPath) {
    pipelines(first: $first, after: $after) {
      nodes { id iid status ref sha createdAt finishedAt }
      pageInfo { hasNextPage endCursor }
    }
  }
}`}
