package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/flowmetrics/devops-mcp/pkg/mcp"
)

const githubAPIBase = "https://api.github.com"

// GitHubHandler handles GitHub-related MCP tool calls
type GitHubHandler struct {
	token string
}

// NewGitHubHandler creates a new GitHub handler
func NewGitHubHandler() *GitHubHandler {
	return &GitHubHandler{
		token: os.Getenv("GITHUB_TOKEN"),
	}
}

// IsConfigured reports whether a GitHub token is available.
func (h *GitHubHandler) IsConfigured() bool {
	return h.token != ""
}

// ListTools returns the list of GitHub tools
func (h *GitHubHandler) ListTools() []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        "github_list_repos",
			Description: "List repositories for the authenticated user or an organization",
			InputSchema: schemaObject(map[string]any{
				"org":   prop("string", "Organization name (omit for the authenticated user)"),
				"limit": prop("number", "Maximum number of results (default 30)"),
			}),
		},
		{
			Name:        "github_get_repo",
			Description: "Get details for a repository",
			InputSchema: schemaObject(map[string]any{
				"owner": prop("string", "Repository owner"),
				"repo":  prop("string", "Repository name"),
			}, "owner", "repo"),
		},
		{
			Name:        "github_list_pull_requests",
			Description: "List pull requests for a repository",
			InputSchema: schemaObject(map[string]any{
				"owner": prop("string", "Repository owner"),
				"repo":  prop("string", "Repository name"),
				"state": prop("string", "PR state: open, closed, or all (default open)"),
			}, "owner", "repo"),
		},
		{
			Name:        "github_create_pull_request",
			Description: "Open a pull request",
			InputSchema: schemaObject(map[string]any{
				"owner": prop("string", "Repository owner"),
				"repo":  prop("string", "Repository name"),
				"title": prop("string", "PR title"),
				"head":  prop("string", "Branch with the changes"),
				"base":  prop("string", "Branch to merge into (default main)"),
				"body":  prop("string", "PR description"),
			}, "owner", "repo", "title", "head"),
		},
		{
			Name:        "github_create_issue",
			Description: "Create an issue in a repository",
			InputSchema: schemaObject(map[string]any{
				"owner": prop("string", "Repository owner"),
				"repo":  prop("string", "Repository name"),
				"title": prop("string", "Issue title"),
				"body":  prop("string", "Issue body"),
			}, "owner", "repo", "title"),
		},
		{
			Name:        "github_list_workflow_runs",
			Description: "List recent GitHub Actions workflow runs for a repository",
			InputSchema: schemaObject(map[string]any{
				"owner": prop("string", "Repository owner"),
				"repo":  prop("string", "Repository name"),
				"limit": prop("number", "Maximum number of runs (default 10)"),
			}, "owner", "repo"),
		},
		{
			Name:        "github_trigger_workflow",
			Description: "Trigger a workflow_dispatch event for a workflow",
			InputSchema: schemaObject(map[string]any{
				"owner":       prop("string", "Repository owner"),
				"repo":        prop("string", "Repository name"),
				"workflow_id": prop("string", "Workflow file name or ID (e.g., deploy.yml)"),
				"ref":         prop("string", "Git ref to run on (default main)"),
				"inputs":      prop("object", "Workflow dispatch inputs"),
			}, "owner", "repo", "workflow_id"),
		},
	}
}

// HandleTool routes a GitHub tool call
func (h *GitHubHandler) HandleTool(call mcp.ToolCall) (mcp.ToolResult, error) {
	if !h.IsConfigured() {
		return errorResult("GITHUB_TOKEN environment variable not set")
	}

	args := call.Arguments
	switch call.Name {
	case "github_list_repos":
		return h.listRepos(getString(args, "org"), getInt(args, "limit", 30))
	case "github_get_repo":
		return h.getRepo(getString(args, "owner"), getString(args, "repo"))
	case "github_list_pull_requests":
		return h.listPullRequests(getString(args, "owner"), getString(args, "repo"), getString(args, "state"))
	case "github_create_pull_request":
		return h.createPullRequest(args)
	case "github_create_issue":
		return h.createIssue(args)
	case "github_list_workflow_runs":
		return h.listWorkflowRuns(getString(args, "owner"), getString(args, "repo"), getInt(args, "limit", 10))
	case "github_trigger_workflow":
		return h.triggerWorkflow(args)
	default:
		return errorResult("unknown tool: %s", call.Name)
	}
}

func (h *GitHubHandler) request(method, path string, payload any) (*http.Request, error) {
	var body *bytes.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(encoded)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, githubAPIBase+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (h *GitHubHandler) listRepos(org string, limit int) (mcp.ToolResult, error) {
	path := fmt.Sprintf("/user/repos?per_page=%d&sort=updated", limit)
	if org != "" {
		path = fmt.Sprintf("/orgs/%s/repos?per_page=%d&sort=updated", url.PathEscape(org), limit)
	}

	req, err := h.request(http.MethodGet, path, nil)
	if err != nil {
		return errorResult("%v", err)
	}
	data, err := doJSON(req)
	if err != nil {
		return errorResult("listing repos: %v", err)
	}
	return jsonResult(data)
}

func (h *GitHubHandler) getRepo(owner, repo string) (mcp.ToolResult, error) {
	if owner == "" || repo == "" {
		return errorResult("owner and repo are required")
	}

	req, err := h.request(http.MethodGet, fmt.Sprintf("/repos/%s/%s", url.PathEscape(owner), url.PathEscape(repo)), nil)
	if err != nil {
		return errorResult("%v", err)
	}
	data, err := doJSON(req)
	if err != nil {
		return errorResult("fetching repo: %v", err)
	}
	return jsonResult(data)
}

func (h *GitHubHandler) createPullRequest(args map[string]any) (mcp.ToolResult, error) {
	owner := getString(args, "owner")
	repo := getString(args, "repo")
	title := getString(args, "title")
	head := getString(args, "head")
	if owner == "" || repo == "" || title == "" || head == "" {
		return errorResult("owner, repo, title and head are required")
	}

	base := getString(args, "base")
	if base == "" {
		base = "main"
	}
	payload := map[string]any{"title": title, "head": head, "base": base}
	if body := getString(args, "body"); body != "" {
		payload["body"] = body
	}

	path := fmt.Sprintf("/repos/%s/%s/pulls", url.PathEscape(owner), url.PathEscape(repo))
	req, err := h.request(http.MethodPost, path, payload)
	if err != nil {
		return errorResult("%v", err)
	}
	data, err := doJSON(req)
	if err != nil {
		return errorResult("creating pull request: %v", err)
	}
	return jsonResult(data)
}

func (h *GitHubHandler) listPullRequests(owner, repo, state string) (mcp.ToolResult, error) {
	if owner == "" || repo == "" {
		return errorResult("owner and repo are required")
	}
	if state == "" {
		state = "open"
	}

	path := fmt.Sprintf("/repos/%s/%s/pulls?state=%s", url.PathEscape(owner), url.PathEscape(repo), url.QueryEscape(state))
	req, err := h.request(http.MethodGet, path, nil)
	if err != nil {
		return errorResult("%v", err)
	}
	data, err := doJSON(req)
	if err != nil {
		return errorResult("listing pull requests: %v", err)
	}
	return jsonResult(data)
}

func (h *GitHubHandler) createIssue(args map[string]any) (mcp.ToolResult, error) {
	owner := getString(args, "owner")
	repo := getString(args, "repo")
	title := getString(args, "title")
	if owner == "" || repo == "" || title == "" {
		return errorResult("owner, repo and title are required")
	}

	payload := map[string]any{"title": title}
	if body := getString(args, "body"); body != "" {
		payload["body"] = body
	}

	path := fmt.Sprintf("/repos/%s/%s/issues", url.PathEscape(owner), url.PathEscape(repo))
	req, err := h.request(http.MethodPost, path, payload)
	if err != nil {
		return errorResult("%v", err)
	}
	data, err := doJSON(req)
	if err != nil {
		return errorResult("creating issue: %v", err)
	}
	return jsonResult(data)
}

func (h *GitHubHandler) listWorkflowRuns(owner, repo string, limit int) (mcp.ToolResult, error) {
	if owner == "" || repo == "" {
		return errorResult("owner and repo are required")
	}

	path := fmt.Sprintf("/repos/%s/%s/actions/runs?per_page=%d", url.PathEscape(owner), url.PathEscape(repo), limit)
	req, err := h.request(http.MethodGet, path, nil)
	if err != nil {
		return errorResult("%v", err)
	}
	data, err := doJSON(req)
	if err != nil {
		return errorResult("listing workflow runs: %v", err)
	}
	return jsonResult(data)
}

func (h *GitHubHandler) triggerWorkflow(args map[string]any) (mcp.ToolResult, error) {
	owner := getString(args, "owner")
	repo := getString(args, "repo")
	workflowID := getString(args, "workflow_id")
	if owner == "" || repo == "" || workflowID == "" {
		return errorResult("owner, repo and workflow_id are required")
	}

	ref := getString(args, "ref")
	if ref == "" {
		ref = "main"
	}
	payload := map[string]any{"ref": ref}
	if inputs := getMap(args, "inputs"); inputs != nil {
		payload["inputs"] = inputs
	}

	path := fmt.Sprintf("/repos/%s/%s/actions/workflows/%s/dispatches",
		url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(workflowID))
	req, err := h.request(http.MethodPost, path, payload)
	if err != nil {
		return errorResult("%v", err)
	}
	if _, err := doJSON(req); err != nil {
		return errorResult("triggering workflow: %v", err)
	}
	return textResult(fmt.Sprintf("Workflow %s dispatched on %s", workflowID, ref)), nil
}
