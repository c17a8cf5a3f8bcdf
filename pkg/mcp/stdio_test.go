package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() (*Server, Handler) {
	server := NewServer("test-server", "v0.0.1")
	server.RegisterTool(Tool{
		Name:        "echo",
		Description: "Echo back the input",
		InputSchema: map[string]any{"type": "object"},
	})
	server.RegisterResource(Resource{URI: "skill://demo/echo", Name: "Echo"})

	handler := func(call ToolCall) (ToolResult, error) {
		if call.Name != "echo" {
			return ToolResult{}, fmt.Errorf("unknown tool: %s", call.Name)
		}
		text, _ := call.Arguments["text"].(string)
		return ToolResult{Content: []ContentBlock{{Type: "text", Text: text}}}, nil
	}
	return server, handler
}

func TestDispatch(t *testing.T) {
	server, handler := testCatalog()
	sse := NewSSEServer(server, handler)

	t.Run("initialize", func(t *testing.T) {
		resp := sse.dispatch(map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize"})
		require.NotNil(t, resp)
		assert.Equal(t, "2.0", resp["jsonrpc"])
		assert.EqualValues(t, 1, resp["id"])

		result := resp["result"].(map[string]any)
		assert.Equal(t, "2024-11-05", result["protocolVersion"])
		info := result["serverInfo"].(map[string]any)
		assert.Equal(t, "test-server", info["name"])
	})

	t.Run("tools/list", func(t *testing.T) {
		resp := sse.dispatch(map[string]any{"id": 2, "method": "tools/list"})
		require.NotNil(t, resp)
		tools := resp["result"].(map[string]any)["tools"].([]Tool)
		require.Len(t, tools, 1)
		assert.Equal(t, "echo", tools[0].Name)
	})

	t.Run("resources/list", func(t *testing.T) {
		resp := sse.dispatch(map[string]any{"id": 3, "method": "resources/list"})
		require.NotNil(t, resp)
		resources := resp["result"].(map[string]any)["resources"].([]Resource)
		require.Len(t, resources, 1)
		assert.Equal(t, "skill://demo/echo", resources[0].URI)
	})

	t.Run("tools/call", func(t *testing.T) {
		resp := sse.dispatch(map[string]any{
			"id":     4,
			"method": "tools/call",
			"params": map[string]any{
				"name":      "echo",
				"arguments": map[string]any{"text": "hello"},
			},
		})
		require.NotNil(t, resp)
		result := resp["result"].(ToolResult)
		require.Len(t, result.Content, 1)
		assert.Equal(t, "hello", result.Content[0].Text)
	})

	t.Run("tool error becomes JSON-RPC error", func(t *testing.T) {
		resp := sse.dispatch(map[string]any{
			"id":     5,
			"method": "tools/call",
			"params": map[string]any{"name": "missing"},
		})
		require.NotNil(t, resp)
		errObj := resp["error"].(map[string]any)
		assert.EqualValues(t, -32000, errObj["code"])
	})

	t.Run("unknown method", func(t *testing.T) {
		resp := sse.dispatch(map[string]any{"id": 6, "method": "bogus"})
		require.NotNil(t, resp)
		errObj := resp["error"].(map[string]any)
		assert.EqualValues(t, -32601, errObj["code"])
	})

	t.Run("notification gets no response", func(t *testing.T) {
		resp := sse.dispatch(map[string]any{"method": "notifications/initialized"})
		assert.Nil(t, resp)
	})
}

func TestStdioRun(t *testing.T) {
	server, handler := testCatalog()
	stdio := &StdioServer{
		sse: NewSSEServer(server, handler),
		in: strings.NewReader(
			`{"jsonrpc":"2.0","id":1,"method":"initialize"}` + "\n" +
				`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n" +
				`{"jsonrpc":"2.0","id":2,"method":"tools/list"}` + "\n"),
		out: &bytes.Buffer{},
	}

	require.NoError(t, stdio.Run())

	lines := strings.Split(strings.TrimSpace(stdio.out.(*bytes.Buffer).String()), "\n")
	// The notification produced no output line.
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.EqualValues(t, 1, first["id"])
	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.EqualValues(t, 2, second["id"])
}

func TestHandleSSEEndpointEvent(t *testing.T) {
	server, handler := testCatalog()
	sse := NewSSEServer(server, handler)

	// Cancel the request context up front so HandleSSE returns right after
	// writing the endpoint event.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodGet, "/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	sse.HandleSSE(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "event: endpoint")
	assert.Contains(t, rec.Body.String(), "data: /messages")
}

func TestHandleMessage(t *testing.T) {
	server, handler := testCatalog()
	sse := NewSSEServer(server, handler)

	t.Run("request gets a JSON response", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/messages",
			strings.NewReader(`{"jsonrpc":"2.0","id":7,"method":"tools/list"}`))
		rec := httptest.NewRecorder()
		sse.HandleMessage(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.EqualValues(t, 7, body["id"])
	})

	t.Run("notification gets 202", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/messages",
			strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
		rec := httptest.NewRecorder()
		sse.HandleMessage(rec, req)
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("invalid JSON is a 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader("{broken"))
		rec := httptest.NewRecorder()
		sse.HandleMessage(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
