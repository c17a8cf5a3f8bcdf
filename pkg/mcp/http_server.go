package mcp

import (
	"encoding/json"
	"net/http"
)

// HTTPServer exposes the tool catalog over plain HTTP for debugging and for
// clients that do not speak the SSE transport.
type HTTPServer struct {
	server  *Server
	handler Handler
}

// NewHTTPServer creates a new HTTP tool endpoint.
func NewHTTPServer(server *Server, handler Handler) *HTTPServer {
	return &HTTPServer{
		server:  server,
		handler: handler,
	}
}

// HandleListTools serves GET /tools.
func (h *HTTPServer) HandleListTools(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	tools := h.server.Tools()
	entries := make([]entry, 0, len(tools))
	for _, tool := range tools {
		entries = append(entries, entry{Name: tool.Name, Description: tool.Description})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"tools": entries})
}

// HandleToolCall serves POST /tools/call.
func (h *HTTPServer) HandleToolCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ToolCall
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.handler(req)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{"error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(result)
}
