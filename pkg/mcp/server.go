package mcp

import "sync"

const protocolVersion = "2024-11-05"

// Server holds the registered tool and resource catalog shared by the
// stdio, SSE and HTTP transports.
type Server struct {
	name    string
	version string

	mu        sync.RWMutex
	tools     []Tool
	resources []Resource
}

// NewServer creates a server identified by name/version in initialize
// responses.
func NewServer(name, version string) *Server {
	return &Server{
		name:    name,
		version: version,
	}
}

// RegisterTool adds a tool to the catalog.
func (s *Server) RegisterTool(tool Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = append(s.tools, tool)
}

// RegisterResource adds a resource to the catalog.
func (s *Server) RegisterResource(resource Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources = append(s.resources, resource)
}

// Tools returns the registered tools.
func (s *Server) Tools() []Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Tool, len(s.tools))
	copy(out, s.tools)
	return out
}

// Resources returns the registered resources.
func (s *Server) Resources() []Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Resource, len(s.resources))
	copy(out, s.resources)
	return out
}
