package mcp

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// SSEServer implements the MCP protocol over Server-Sent Events: GET /sse
// announces the message endpoint, POST /messages carries JSON-RPC both ways.
type SSEServer struct {
	server  *Server
	handler Handler
}

// NewSSEServer creates an SSE-based MCP transport over the given catalog.
func NewSSEServer(server *Server, handler Handler) *SSEServer {
	return &SSEServer{
		server:  server,
		handler: handler,
	}
}

// HandleSSE streams the endpoint event and holds the connection open until
// the client goes away.
func (s *SSEServer) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	fmt.Fprintf(w, "event: endpoint\ndata: /messages\n\n")
	flusher.Flush()

	<-r.Context().Done()
}

// HandleMessage processes one JSON-RPC request posted by the client.
func (s *SSEServer) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var request map[string]any
	if err := json.Unmarshal(body, &request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	response := s.dispatch(request)
	if response == nil {
		// Notification; acknowledge without a body.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *SSEServer) handleInitialize() map[string]any {
	return map[string]any{
		"result": map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]any{
				"tools":     map[string]any{},
				"resources": map[string]any{},
			},
			"serverInfo": map[string]any{
				"name":    s.server.name,
				"version": s.server.version,
			},
		},
	}
}

func (s *SSEServer) handleListTools() map[string]any {
	return map[string]any{
		"result": map[string]any{
			"tools": s.server.Tools(),
		},
	}
}

func (s *SSEServer) handleListResources() map[string]any {
	return map[string]any{
		"result": map[string]any{
			"resources": s.server.Resources(),
		},
	}
}

func (s *SSEServer) handleToolCall(request map[string]any) map[string]any {
	params, ok := request["params"].(map[string]any)
	if !ok {
		return map[string]any{
			"error": map[string]any{
				"code":    -32602,
				"message": "Invalid params",
			},
		}
	}

	name, _ := params["name"].(string)
	arguments, _ := params["arguments"].(map[string]any)

	result, err := s.handler(ToolCall{Name: name, Arguments: arguments})
	if err != nil {
		return map[string]any{
			"error": map[string]any{
				"code":    -32000,
				"message": err.Error(),
			},
		}
	}

	return map[string]any{
		"result": result,
	}
}
