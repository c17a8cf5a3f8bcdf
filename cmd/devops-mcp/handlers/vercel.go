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

const vercelAPIBase = "https://api.vercel.com"

// VercelHandler handles Vercel deployment tools
type VercelHandler struct {
	token  string
	teamID string
}

// NewVercelHandler creates a new Vercel handler
func NewVercelHandler() *VercelHandler {
	return &VercelHandler{
		token:  os.Getenv("VERCEL_TOKEN"),
		teamID: os.Getenv("VERCEL_TEAM_ID"),
	}
}

// IsConfigured reports whether a Vercel token is available.
func (h *VercelHandler) IsConfigured() bool {
	return h.token != ""
}

// ListTools returns the list of Vercel tools
func (h *VercelHandler) ListTools() []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        "vercel_list_projects",
			Description: "List Vercel projects",
			InputSchema: schemaObject(map[string]any{
				"limit": prop("number", "Maximum number of projects (default 20)"),
			}),
		},
		{
			Name:        "vercel_list_deployments",
			Description: "List recent deployments, optionally filtered by project",
			InputSchema: schemaObject(map[string]any{
				"project": prop("string", "Project name or ID"),
				"limit":   prop("number", "Maximum number of deployments (default 10)"),
			}),
		},
		{
			Name:        "vercel_get_deployment",
			Description: "Get details for a deployment by ID or URL",
			InputSchema: schemaObject(map[string]any{
				"deployment_id": prop("string", "Deployment ID or URL"),
			}, "deployment_id"),
		},
		{
			Name:        "vercel_redeploy",
			Description: "Create a new deployment from an existing one",
			InputSchema: schemaObject(map[string]any{
				"project":       prop("string", "Project name"),
				"deployment_id": prop("string", "Deployment ID to redeploy from"),
				"target":        prop("string", "Target environment (default production)"),
			}, "project", "deployment_id"),
		},
		{
			Name:        "vercel_cancel_deployment",
			Description: "Cancel an in-progress deployment",
			InputSchema: schemaObject(map[string]any{
				"deployment_id": prop("string", "Deployment ID"),
			}, "deployment_id"),
		},
		{
			Name:        "vercel_list_env_vars",
			Description: "List environment variables for a project",
			InputSchema: schemaObject(map[string]any{
				"project": prop("string", "Project name or ID"),
			}, "project"),
		},
		{
			Name:        "vercel_add_env_var",
			Description: "Add an environment variable to a project",
			InputSchema: schemaObject(map[string]any{
				"project": prop("string", "Project name or ID"),
				"key":     prop("string", "Variable name"),
				"value":   prop("string", "Variable value"),
				"target":  prop("string", "Target environment: production, preview, or development (default production)"),
			}, "project", "key", "value"),
		},
	}
}

// HandleTool routes a Vercel tool call
func (h *VercelHandler) HandleTool(call mcp.ToolCall) (mcp.ToolResult, error) {
	if !h.IsConfigured() {
		return errorResult("VERCEL_TOKEN environment variable not set")
	}

	args := call.Arguments
	switch call.Name {
	case "vercel_list_projects":
		return h.get(fmt.Sprintf("/v9/projects?limit=%d", getInt(args, "limit", 20)))
	case "vercel_list_deployments":
		path := fmt.Sprintf("/v6/deployments?limit=%d", getInt(args, "limit", 10))
		if project := getString(args, "project"); project != "" {
			path += "&app=" + url.QueryEscape(project)
		}
		return h.get(path)
	case "vercel_get_deployment":
		id := getString(args, "deployment_id")
		if id == "" {
			return errorResult("deployment_id is required")
		}
		return h.get("/v13/deployments/" + url.PathEscape(id))
	case "vercel_redeploy":
		project := getString(args, "project")
		id := getString(args, "deployment_id")
		if project == "" || id == "" {
			return errorResult("project and deployment_id are required")
		}
		target := getString(args, "target")
		if target == "" {
			target = "production"
		}
		return h.send(http.MethodPost, "/v13/deployments", map[string]any{
			"name":         project,
			"deploymentId": id,
			"target":       target,
		})
	case "vercel_cancel_deployment":
		id := getString(args, "deployment_id")
		if id == "" {
			return errorResult("deployment_id is required")
		}
		return h.send(http.MethodPatch, fmt.Sprintf("/v12/deployments/%s/cancel", url.PathEscape(id)), nil)
	case "vercel_list_env_vars":
		project := getString(args, "project")
		if project == "" {
			return errorResult("project is required")
		}
		return h.get(fmt.Sprintf("/v9/projects/%s/env", url.PathEscape(project)))
	case "vercel_add_env_var":
		return h.addEnvVar(args)
	default:
		return errorResult("unknown tool: %s", call.Name)
	}
}

func (h *VercelHandler) addEnvVar(args map[string]any) (mcp.ToolResult, error) {
	project := getString(args, "project")
	key := getString(args, "key")
	value := getString(args, "value")
	if project == "" || key == "" || value == "" {
		return errorResult("project, key and value are required")
	}

	target := getString(args, "target")
	if target == "" {
		target = "production"
	}

	payload := map[string]any{
		"key":    key,
		"value":  value,
		"type":   "encrypted",
		"target": []string{target},
	}
	return h.send(http.MethodPost, fmt.Sprintf("/v10/projects/%s/env", url.PathEscape(project)), payload)
}

func (h *VercelHandler) get(path string) (mcp.ToolResult, error) {
	return h.send(http.MethodGet, path, nil)
}

func (h *VercelHandler) send(method, path string, payload any) (mcp.ToolResult, error) {
	// Team-scoped tokens need the teamId on every request
	if h.teamID != "" {
		sep := "?"
		if containsQuery(path) {
			sep = "&"
		}
		path += sep + "teamId=" + url.QueryEscape(h.teamID)
	}

	var body *bytes.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return errorResult("%v", err)
		}
		body = bytes.NewReader(encoded)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, vercelAPIBase+path, body)
	if err != nil {
		return errorResult("%v", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	data, err := doJSON(req)
	if err != nil {
		return errorResult("vercel API: %v", err)
	}
	return jsonResult(data)
}

func containsQuery(path string) bool {
	for _, ch := range path {
		if ch == '?' {
			return true
		}
	}
	return false
}
