package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	_ "github.com/lib/pq"

	"github.com/flowmetrics/devops-mcp/pkg/mcp"
)

// SupabaseHandler handles Supabase tools. Table reads and writes go through
// the PostgREST API; supabase_run_sql connects straight to the database.
type SupabaseHandler struct {
	baseURL    string
	serviceKey string
	dbURL      string
}

// NewSupabaseHandler creates a new Supabase handler
func NewSupabaseHandler() *SupabaseHandler {
	key := os.Getenv("SUPABASE_SERVICE_ROLE_KEY")
	if key == "" {
		key = os.Getenv("SUPABASE_KEY")
	}
	return &SupabaseHandler{
		baseURL:    strings.TrimRight(os.Getenv("SUPABASE_URL"), "/"),
		serviceKey: key,
		dbURL:      os.Getenv("SUPABASE_DB_URL"),
	}
}

// IsConfigured reports whether the PostgREST API is reachable via config.
func (h *SupabaseHandler) IsConfigured() bool {
	return h.baseURL != "" && h.serviceKey != ""
}

// ListTools returns the list of Supabase tools
func (h *SupabaseHandler) ListTools() []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        "supabase_query",
			Description: "Query rows from a table via PostgREST",
			InputSchema: schemaObject(map[string]any{
				"table":    prop("string", "Table name"),
				"select":   prop("string", "Columns to select (default *)"),
				"filter":   prop("string", "PostgREST filter, e.g. status=eq.active"),
				"order_by": prop("string", "Column to order by"),
				"limit":    prop("number", "Maximum number of rows (default 100)"),
			}, "table"),
		},
		{
			Name:        "supabase_insert",
			Description: "Insert a row into a table",
			InputSchema: schemaObject(map[string]any{
				"table": prop("string", "Table name"),
				"row":   prop("object", "Column values for the new row"),
			}, "table", "row"),
		},
		{
			Name:        "supabase_rpc",
			Description: "Call a Postgres function exposed through PostgREST",
			InputSchema: schemaObject(map[string]any{
				"function": prop("string", "Function name"),
				"args":     prop("object", "Function arguments"),
			}, "function"),
		},
		{
			Name:        "supabase_run_sql",
			Description: "Run a read-only SQL query against the database directly. Requires SUPABASE_DB_URL.",
			InputSchema: schemaObject(map[string]any{
				"sql": prop("string", "SQL SELECT statement"),
			}, "sql"),
		},
	}
}

// HandleTool routes a Supabase tool call
func (h *SupabaseHandler) HandleTool(call mcp.ToolCall) (mcp.ToolResult, error) {
	args := call.Arguments
	switch call.Name {
	case "supabase_query":
		return h.query(args)
	case "supabase_insert":
		return h.insert(getString(args, "table"), getMap(args, "row"))
	case "supabase_rpc":
		return h.rpc(getString(args, "function"), getMap(args, "args"))
	case "supabase_run_sql":
		return h.runSQL(getString(args, "sql"))
	default:
		return errorResult("unknown tool: %s", call.Name)
	}
}

func (h *SupabaseHandler) query(args map[string]any) (mcp.ToolResult, error) {
	table := getString(args, "table")
	if table == "" {
		return errorResult("table is required")
	}

	sel := getString(args, "select")
	if sel == "" {
		sel = "*"
	}

	query := url.Values{}
	query.Set("select", sel)
	query.Set("limit", fmt.Sprint(getInt(args, "limit", 100)))
	if orderBy := getString(args, "order_by"); orderBy != "" {
		query.Set("order", orderBy)
	}

	path := "/rest/v1/" + url.PathEscape(table) + "?" + query.Encode()
	// PostgREST filters are already key=op.value pairs, append verbatim
	if filter := getString(args, "filter"); filter != "" {
		path += "&" + filter
	}
	return h.rest(http.MethodGet, path, nil)
}

func (h *SupabaseHandler) insert(table string, row map[string]any) (mcp.ToolResult, error) {
	if table == "" || row == nil {
		return errorResult("table and row are required")
	}
	return h.rest(http.MethodPost, "/rest/v1/"+url.PathEscape(table), row)
}

func (h *SupabaseHandler) rpc(function string, fnArgs map[string]any) (mcp.ToolResult, error) {
	if function == "" {
		return errorResult("function is required")
	}
	if fnArgs == nil {
		fnArgs = map[string]any{}
	}
	return h.rest(http.MethodPost, "/rest/v1/rpc/"+url.PathEscape(function), fnArgs)
}

func (h *SupabaseHandler) rest(method, path string, payload any) (mcp.ToolResult, error) {
	if !h.IsConfigured() {
		return errorResult("SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY environment variables not set")
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
	req.Header.Set("apikey", h.serviceKey)
	req.Header.Set("Authorization", "Bearer "+h.serviceKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=representation")
	}

	data, err := doJSON(req)
	if err != nil {
		return errorResult("supabase API: %v", err)
	}
	return jsonResult(data)
}

// runSQL opens a short-lived connection per call; ad-hoc queries are rare
// enough that pooling is not worth holding a connection open.
func (h *SupabaseHandler) runSQL(query string) (mcp.ToolResult, error) {
	if h.dbURL == "" {
		return errorResult("SUPABASE_DB_URL environment variable not set")
	}
	if query == "" {
		return errorResult("sql is required")
	}
	if !strings.EqualFold(firstWord(query), "select") && !strings.EqualFold(firstWord(query), "with") {
		return errorResult("only SELECT statements are allowed")
	}

	db, err := sql.Open("postgres", h.dbURL)
	if err != nil {
		return errorResult("connecting to database: %v", err)
	}
	defer db.Close()

	rows, err := db.Query(query)
	if err != nil {
		return errorResult("running query: %v", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return errorResult("%v", err)
	}

	results := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return errorResult("scanning row: %v", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if raw, ok := values[i].([]byte); ok {
				row[col] = string(raw)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
		if len(results) >= 500 {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return errorResult("%v", err)
	}

	return jsonResult(map[string]any{
		"columns":   columns,
		"rows":      results,
		"row_count": len(results),
	})
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
