package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flowmetrics/devops-mcp/pkg/mcp"
)

// Shared HTTP client with connection pooling
var sharedHTTPClient = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   false,
	},
}

func textResult(text string) mcp.ToolResult {
	return mcp.ToolResult{
		Content: []mcp.ContentBlock{
			{Type: "text", Text: text},
		},
	}
}

func errorResult(format string, args ...any) (mcp.ToolResult, error) {
	err := fmt.Errorf(format, args...)
	return mcp.ToolResult{
		Content: []mcp.ContentBlock{
			{Type: "text", Text: "Error: " + err.Error()},
		},
		IsError: true,
	}, err
}

// jsonResult pretty-prints an API payload into a text content block.
func jsonResult(data any) (mcp.ToolResult, error) {
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errorResult("encoding result: %v", err)
	}
	return textResult(string(encoded)), nil
}

func getString(args map[string]any, key string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return ""
}

// getInt reads a numeric argument; JSON numbers arrive as float64.
func getInt(args map[string]any, key string, fallback int) int {
	switch val := args[key].(type) {
	case float64:
		return int(val)
	case int:
		return val
	}
	return fallback
}

func getBool(args map[string]any, key string) bool {
	val, _ := args[key].(bool)
	return val
}

func getMap(args map[string]any, key string) map[string]any {
	if val, ok := args[key].(map[string]any); ok {
		return val
	}
	return nil
}

// doJSON performs an HTTP request with the shared client, decoding the JSON
// response body. Non-2xx responses become errors carrying the body text.
func doJSON(req *http.Request) (map[string]any, error) {
	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s returned %d: %s", req.Method, req.URL.Path, resp.StatusCode, string(body))
	}

	if len(body) == 0 {
		return map[string]any{"status": resp.StatusCode}, nil
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		// Some endpoints return plain text on success
		return map[string]any{"body": string(body)}, nil
	}

	switch typed := decoded.(type) {
	case map[string]any:
		return typed, nil
	default:
		return map[string]any{"result": typed}, nil
	}
}

func schemaObject(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(typ, description string) map[string]any {
	return map[string]any{
		"type":        typ,
		"description": description,
	}
}
