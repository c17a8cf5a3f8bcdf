package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowmetrics/devops-mcp/cmd/devops-mcp/auth"
	"github.com/flowmetrics/devops-mcp/cmd/devops-mcp/handlers"
	oauthsrv "github.com/flowmetrics/devops-mcp/cmd/devops-mcp/oauth"
	"github.com/flowmetrics/devops-mcp/internal/cache"
	"github.com/flowmetrics/devops-mcp/internal/config"
	"github.com/flowmetrics/devops-mcp/internal/oauth"
	"github.com/flowmetrics/devops-mcp/pkg/mcp"
)

const serviceVersion = "v1.0.0"

var (
	flagSSE       bool
	flagHost      string
	flagPort      int
	flagAuthToken string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "devops-mcp",
		Short: "DevOps MCP tool server",
		Long: "MCP server exposing DevOps tools (Azure, GitHub, Vercel, n8n, Slack,\n" +
			"Supabase, Carbone, Metabase, skills, task runner) over stdio or SSE\n" +
			"with an embedded OAuth 2.1 authorization server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	rootCmd.Flags().BoolVar(&flagSSE, "sse", false, "serve over HTTP/SSE instead of stdio")
	rootCmd.Flags().StringVar(&flagHost, "host", "0.0.0.0", "bind address for SSE mode")
	rootCmd.Flags().IntVar(&flagPort, "port", 8080, "listen port for SSE mode")
	rootCmd.Flags().StringVar(&flagAuthToken, "auth-token", "", "static bearer token (overrides MCP_AUTH_TOKEN)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	config.LoadEnv(".env")

	server := mcp.NewServer("devops-mcp", serviceVersion)
	handler, adapters := registerHandlers(server)

	if flagSSE {
		return runSSE(server, handler, adapters)
	}
	return mcp.NewStdioServer(server, handler).Run()
}

// registerHandlers wires every configured adapter into the tool catalog. It
// returns the dispatch function routing calls by tool name, plus the
// per-adapter configured map reported by /health.
func registerHandlers(server *mcp.Server) (mcp.Handler, map[string]bool) {
	tokenCache := cache.NewSimpleCache()

	azureHandler := handlers.NewAzureHandler(tokenCache)
	githubHandler := handlers.NewGitHubHandler()
	vercelHandler := handlers.NewVercelHandler()
	n8nHandler := handlers.NewN8NHandler()
	slackHandler := handlers.NewSlackHandler()
	supabaseHandler := handlers.NewSupabaseHandler()
	carboneHandler := handlers.NewCarboneHandler()
	metabaseHandler := handlers.NewMetabaseHandler(tokenCache)
	skillsHandler := handlers.NewSkillsHandler()
	runnerHandler := handlers.NewRunnerHandler()

	type adapter struct {
		name       string
		configured bool
		tools      []mcp.Tool
		handle     func(mcp.ToolCall) (mcp.ToolResult, error)
	}

	adapters := []adapter{
		{"azure", azureHandler.IsConfigured(), azureHandler.ListTools(), azureHandler.HandleTool},
		{"github", githubHandler.IsConfigured(), githubHandler.ListTools(), githubHandler.HandleTool},
		{"vercel", vercelHandler.IsConfigured(), vercelHandler.ListTools(), vercelHandler.HandleTool},
		{"n8n", n8nHandler.IsConfigured(), n8nHandler.ListTools(), n8nHandler.HandleTool},
		{"slack", slackHandler.IsConfigured(), slackHandler.ListTools(), slackHandler.HandleTool},
		{"supabase", supabaseHandler.IsConfigured(), supabaseHandler.ListTools(), supabaseHandler.HandleTool},
		{"carbone", carboneHandler.IsConfigured(), carboneHandler.ListTools(), carboneHandler.HandleTool},
		{"metabase", metabaseHandler.IsConfigured(), metabaseHandler.ListTools(), metabaseHandler.HandleTool},
		{"skills", skillsHandler.IsConfigured(), skillsHandler.ListTools(), skillsHandler.HandleTool},
		{"runner", runnerHandler.IsConfigured(), runnerHandler.ListTools(), runnerHandler.HandleTool},
	}

	configured := map[string]bool{}
	routes := map[string]func(mcp.ToolCall) (mcp.ToolResult, error){}
	for _, a := range adapters {
		configured[a.name] = a.configured
		if !a.configured {
			fmt.Fprintf(os.Stderr, "Note: %s tools not configured, skipping\n", a.name)
			continue
		}
		for _, tool := range a.tools {
			server.RegisterTool(tool)
			routes[tool.Name] = a.handle
		}
	}

	for _, resource := range skillsHandler.ListResources() {
		server.RegisterResource(resource)
	}
	server.RegisterResource(mcp.Resource{
		URI:         "config://devops-mcp",
		Name:        "Server Configuration",
		Description: "Which adapters are configured on this server",
		MimeType:    "application/json",
	})

	dispatch := func(call mcp.ToolCall) (mcp.ToolResult, error) {
		if handle, ok := routes[call.Name]; ok {
			return handle(call)
		}
		return mcp.ToolResult{
			Content: []mcp.ContentBlock{
				{Type: "text", Text: fmt.Sprintf("Unknown tool: %s", call.Name)},
			},
			IsError: true,
		}, fmt.Errorf("unknown tool: %s", call.Name)
	}
	return dispatch, configured
}

func runSSE(server *mcp.Server, handler mcp.Handler, adapters map[string]bool) error {
	cfg := oauth.LoadConfigFromEnv()
	if flagAuthToken != "" {
		cfg.StaticToken = flagAuthToken
	}

	store, err := buildStore()
	if err != nil {
		return fmt.Errorf("initializing token store: %w", err)
	}
	defer store.Close()

	flow := oauth.NewFlow(cfg, store)

	mux := http.NewServeMux()

	oauthServer := oauthsrv.NewServer(cfg, flow)
	oauthServer.Register(mux)

	gate := auth.NewMiddleware(flow, cfg.StaticToken)

	sseServer := mcp.NewSSEServer(server, handler)
	mux.Handle("/sse", gate.HandlerFunc(sseServer.HandleSSE))
	mux.Handle("/messages", gate.HandlerFunc(sseServer.HandleMessage))

	httpServer := mcp.NewHTTPServer(server, handler)
	mux.Handle("/tools", gate.HandlerFunc(httpServer.HandleListTools))
	mux.Handle("/tools/call", gate.HandlerFunc(httpServer.HandleToolCall))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK
		if err := store.Ping(); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]any{
			"status":        status,
			"service":       "devops-mcp",
			"version":       serviceVersion,
			"tools":         len(server.Tools()),
			"auth_required": cfg.StaticToken != "",
			"adapters":      adapters,
		})
	})

	addr := fmt.Sprintf("%s:%d", flagHost, flagPort)
	fmt.Printf("Starting DevOps MCP server on %s...\n", addr)
	fmt.Printf("   - SSE:       http://%s/sse\n", addr)
	fmt.Printf("   - Messages:  http://%s/messages\n", addr)
	fmt.Printf("   - Metadata:  http://%s/.well-known/oauth-authorization-server\n", addr)
	fmt.Printf("   - Health:    http://%s/health\n", addr)
	if cfg.StaticToken == "" {
		fmt.Println("Warning: no static auth token configured; unauthenticated access is allowed")
	}

	return http.ListenAndServe(addr, corsMiddleware(mux))
}

// buildStore picks Postgres when a database URL is configured, otherwise the
// in-memory store with a background sweep for expired entries.
func buildStore() (oauth.Store, error) {
	if os.Getenv("OAUTH_DATABASE_URL") != "" || os.Getenv("DATABASE_URL") != "" {
		return oauth.NewPostgresStoreFromEnv()
	}

	store := oauth.NewMemoryStore()
	store.StartCleanup(5 * time.Minute)
	return store, nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
