package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/flowmetrics/devops-mcp/pkg/mcp"
)

// N8NHandler handles n8n workflow automation tools
type N8NHandler struct {
	baseURL string
	apiKey  string
}

// NewN8NHandler creates a new n8n handler
func NewN8NHandler() *N8NHandler {
	return &N8NHandler{
		baseURL: strings.TrimRight(os.Getenv("N8N_URL"), "/"),
		apiKey:  os.Getenv("N8N_API_KEY"),
	}
}

// IsConfigured reports whether the n8n instance is reachable via config.
func (h *N8NHandler) IsConfigured() bool {
	return h.baseURL != "" && h.apiKey != ""
}

// ListTools returns the list of n8n tools
func (h *N8NHandler) ListTools() []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        "n8n_list_workflows",
			Description: "List workflows on the n8n instance",
			InputSchema: schemaObject(map[string]any{
				"active": prop("boolean", "Only return active workflows"),
			}),
		},
		{
			Name:        "n8n_get_workflow",
			Description: "Get a workflow definition by ID",
			InputSchema: schemaObject(map[string]any{
				"workflow_id": prop("string", "Workflow ID"),
			}, "workflow_id"),
		},
		{
			Name:        "n8n_activate_workflow",
			Description: "Activate a workflow",
			InputSchema: schemaObject(map[string]any{
				"workflow_id": prop("string", "Workflow ID"),
			}, "workflow_id"),
		},
		{
			Name:        "n8n_deactivate_workflow",
			Description: "Deactivate a workflow",
			InputSchema: schemaObject(map[string]any{
				"workflow_id": prop("string", "Workflow ID"),
			}, "workflow_id"),
		},
		{
			Name:        "n8n_run_workflow",
			Description: "Execute a workflow manually with optional input data",
			InputSchema: schemaObject(map[string]any{
				"workflow_id": prop("string", "Workflow ID"),
				"data":        prop("object", "Input data passed to the workflow"),
			}, "workflow_id"),
		},
		{
			Name:        "n8n_list_executions",
			Description: "List recent workflow executions",
			InputSchema: schemaObject(map[string]any{
				"workflow_id": prop("string", "Filter by workflow ID"),
				"status":      prop("string", "Filter by status: success, error, or waiting"),
				"limit":       prop("number", "Maximum number of executions (default 20)"),
			}),
		},
	}
}

// HandleTool routes an n8n tool call
func (h *N8NHandler) HandleTool(call mcp.ToolCall) (mcp.ToolResult, error) {
	if !h.IsConfigured() {
		return errorResult("N8N_URL and N8N_API_KEY environment variables not set")
	}

	args := call.Arguments
	workflowID := getString(args, "workflow_id")

	switch call.Name {
	case "n8n_list_workflows":
		path := "/api/v1/workflows"
		if getBool(args, "active") {
			path += "?active=true"
		}
		return h.send(http.MethodGet, path, nil)
	case "n8n_get_workflow":
		if workflowID == "" {
			return errorResult("workflow_id is required")
		}
		return h.send(http.MethodGet, "/api/v1/workflows/"+url.PathEscape(workflowID), nil)
	case "n8n_activate_workflow":
		if workflowID == "" {
			return errorResult("workflow_id is required")
		}
		return h.send(http.MethodPost, fmt.Sprintf("/api/v1/workflows/%s/activate", url.PathEscape(workflowID)), nil)
	case "n8n_deactivate_workflow":
		if workflowID == "" {
			return errorResult("workflow_id is required")
		}
		return h.send(http.MethodPost, fmt.Sprintf("/api/v1/workflows/%s/deactivate", url.PathEscape(workflowID)), nil)
	case "n8n_run_workflow":
		if workflowID == "" {
			return errorResult("workflow_id is required")
		}
		var payload any
		if data := getMap(args, "data"); data != nil {
			payload = map[string]any{"data": data}
		}
		return h.send(http.MethodPost, fmt.Sprintf("/api/v1/workflows/%s/run", url.PathEscape(workflowID)), payload)
	case "n8n_list_executions":
		query := url.Values{}
		query.Set("limit", fmt.Sprint(getInt(args, "limit", 20)))
		if workflowID != "" {
			query.Set("workflowId", workflowID)
		}
		if status := getString(args, "status"); status != "" {
			query.Set("status", status)
		}
		return h.send(http.MethodGet, "/api/v1/executions?"+query.Encode(), nil)
	default:
		return errorResult("unknown tool: %s", call.Name)
	}
}

func (h *N8NHandler) send(method, path string, payload any) (mcp.ToolResult, error) {
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

	req, err := http.NewRequest(method, h.baseURL+path, body)
	if err != nil {
		return errorResult("%v", err)
	}
	req.Header.Set("X-N8N-API-KEY", h.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	data, err := doJSON(req)
	if err != nil {
		return errorResult("n8n API: %v", err)
	}
	return jsonResult(data)
}
