package mcp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// StdioServer speaks newline-delimited JSON-RPC over stdin/stdout, the
// transport used by Claude Desktop and Claude Code.
type StdioServer struct {
	sse *SSEServer
	in  io.Reader
	out io.Writer
}

// NewStdioServer creates a stdio transport over the given catalog.
func NewStdioServer(server *Server, handler Handler) *StdioServer {
	return &StdioServer{
		sse: NewSSEServer(server, handler),
		in:  os.Stdin,
		out: os.Stdout,
	}
}

// Run reads requests until stdin closes. Responses go to stdout, one JSON
// object per line; notifications (requests without an id) get no response.
func (s *StdioServer) Run() error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	encoder := json.NewEncoder(s.out)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var request map[string]any
		if err := json.Unmarshal(line, &request); err != nil {
			fmt.Fprintf(os.Stderr, "stdio: invalid JSON-RPC frame: %v\n", err)
			continue
		}

		response := s.sse.dispatch(request)
		if response == nil {
			continue
		}
		if err := encoder.Encode(response); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// dispatch routes one decoded JSON-RPC request and shapes the response
// envelope shared by the stdio and SSE transports.
func (s *SSEServer) dispatch(request map[string]any) map[string]any {
	method, _ := request["method"].(string)

	id, hasID := request["id"]
	if !hasID {
		// Notification; nothing to send back.
		return nil
	}

	var response map[string]any
	switch method {
	case "initialize":
		response = s.handleInitialize()
	case "tools/list":
		response = s.handleListTools()
	case "tools/call":
		response = s.handleToolCall(request)
	case "resources/list":
		response = s.handleListResources()
	default:
		response = map[string]any{
			"error": map[string]any{
				"code":    -32601,
				"message": fmt.Sprintf("Method not found: %s", method),
			},
		}
	}

	response["jsonrpc"] = "2.0"
	response["id"] = id
	return response
}
