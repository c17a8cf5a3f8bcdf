package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/flowmetrics/devops-mcp/internal/cache"
	"github.com/flowmetrics/devops-mcp/pkg/mcp"
)

// Metabase session tokens last 14 days by default; refresh well before that.
const metabaseSessionTTL = 24 * time.Hour

// MetabaseHandler handles Metabase analytics tools. API calls authenticate
// with a cached session token; embed URLs are signed locally with the
// embedding secret.
type MetabaseHandler struct {
	baseURL   string
	username  string
	password  string
	secretKey string
	sessions  *cache.SimpleCache
}

// NewMetabaseHandler creates a new Metabase handler
func NewMetabaseHandler(sessions *cache.SimpleCache) *MetabaseHandler {
	return &MetabaseHandler{
		baseURL:   strings.TrimRight(os.Getenv("METABASE_URL"), "/"),
		username:  os.Getenv("METABASE_USERNAME"),
		password:  os.Getenv("METABASE_PASSWORD"),
		secretKey: os.Getenv("METABASE_SECRET_KEY"),
		sessions:  sessions,
	}
}

// IsConfigured reports whether the Metabase API is reachable via config.
func (h *MetabaseHandler) IsConfigured() bool {
	return h.baseURL != "" && h.username != "" && h.password != ""
}

// ListTools returns the list of Metabase tools
func (h *MetabaseHandler) ListTools() []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        "metabase_list_dashboards",
			Description: "List dashboards",
			InputSchema: schemaObject(map[string]any{}),
		},
		{
			Name:        "metabase_run_card",
			Description: "Run a saved question (card) and return its rows",
			InputSchema: schemaObject(map[string]any{
				"card_id": prop("number", "Card ID"),
			}, "card_id"),
		},
		{
			Name:        "metabase_run_query",
			Description: "Run an ad-hoc native SQL query against a database",
			InputSchema: schemaObject(map[string]any{
				"database_id": prop("number", "Metabase database ID"),
				"sql":         prop("string", "SQL query"),
			}, "database_id", "sql"),
		},
		{
			Name:        "metabase_generate_embed_url",
			Description: "Generate a signed embed URL for a dashboard or question. Requires METABASE_SECRET_KEY.",
			InputSchema: schemaObject(map[string]any{
				"resource_type":  prop("string", "Resource type: dashboard or question"),
				"resource_id":    prop("number", "Resource ID"),
				"params":         prop("object", "Locked embed parameters"),
				"expiry_minutes": prop("number", "URL validity in minutes (default 60)"),
			}, "resource_type", "resource_id"),
		},
	}
}

// HandleTool routes a Metabase tool call
func (h *MetabaseHandler) HandleTool(call mcp.ToolCall) (mcp.ToolResult, error) {
	args := call.Arguments
	switch call.Name {
	case "metabase_list_dashboards":
		return h.api(http.MethodGet, "/api/dashboard", nil)
	case "metabase_run_card":
		cardID := getInt(args, "card_id", 0)
		if cardID == 0 {
			return errorResult("card_id is required")
		}
		return h.api(http.MethodPost, fmt.Sprintf("/api/card/%d/query", cardID), map[string]any{})
	case "metabase_run_query":
		return h.runQuery(getInt(args, "database_id", 0), getString(args, "sql"))
	case "metabase_generate_embed_url":
		return h.generateEmbedURL(args)
	default:
		return errorResult("unknown tool: %s", call.Name)
	}
}

// sessionToken logs in to /api/session, caching the token across calls.
func (h *MetabaseHandler) sessionToken() (string, error) {
	if cached, ok := h.sessions.Get("metabase:session"); ok {
		return cached.(string), nil
	}

	payload, _ := json.Marshal(map[string]string{
		"username": h.username,
		"password": h.password,
	})
	req, err := http.NewRequest(http.MethodPost, h.baseURL+"/api/session", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	data, err := doJSON(req)
	if err != nil {
		return "", fmt.Errorf("metabase login: %w", err)
	}

	token, _ := data["id"].(string)
	if token == "" {
		return "", fmt.Errorf("metabase login response missing session id")
	}
	h.sessions.Set("metabase:session", token, metabaseSessionTTL)
	return token, nil
}

func (h *MetabaseHandler) api(method, path string, payload any) (mcp.ToolResult, error) {
	if !h.IsConfigured() {
		return errorResult("METABASE_URL, METABASE_USERNAME and METABASE_PASSWORD environment variables not set")
	}

	token, err := h.sessionToken()
	if err != nil {
		return errorResult("%v", err)
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

	req, err := http.NewRequest(method, h.baseURL+path, body)
	if err != nil {
		return errorResult("%v", err)
	}
	req.Header.Set("X-Metabase-Session", token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	data, err := doJSON(req)
	if err != nil {
		return errorResult("metabase API: %v", err)
	}
	return jsonResult(data)
}

func (h *MetabaseHandler) runQuery(databaseID int, sqlQuery string) (mcp.ToolResult, error) {
	if databaseID == 0 || sqlQuery == "" {
		return errorResult("database_id and sql are required")
	}
	return h.api(http.MethodPost, "/api/dataset", map[string]any{
		"database": databaseID,
		"type":     "native",
		"native":   map[string]any{"query": sqlQuery},
	})
}

func (h *MetabaseHandler) generateEmbedURL(args map[string]any) (mcp.ToolResult, error) {
	if h.secretKey == "" {
		return errorResult("METABASE_SECRET_KEY environment variable not set")
	}
	if h.baseURL == "" {
		return errorResult("METABASE_URL environment variable not set")
	}

	resourceType := getString(args, "resource_type")
	if resourceType != "dashboard" && resourceType != "question" {
		return errorResult("resource_type must be dashboard or question")
	}
	resourceID := getInt(args, "resource_id", 0)
	if resourceID == 0 {
		return errorResult("resource_id is required")
	}

	expiryMinutes := getInt(args, "expiry_minutes", 60)
	params := getMap(args, "params")
	if params == nil {
		params = map[string]any{}
	}

	claims := jwt.MapClaims{
		"resource": map[string]any{resourceType: resourceID},
		"params":   params,
		"exp":      time.Now().Add(time.Duration(expiryMinutes) * time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(h.secretKey))
	if err != nil {
		return errorResult("signing embed token: %v", err)
	}

	return jsonResult(map[string]any{
		"embed_url":          fmt.Sprintf("%s/embed/%s/%s", h.baseURL, resourceType, signed),
		"expires_in_minutes": expiryMinutes,
		"resource_type":      resourceType,
		"resource_id":        resourceID,
	})
}
