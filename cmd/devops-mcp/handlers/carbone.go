package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/flowmetrics/devops-mcp/pkg/mcp"
)

// CarboneHandler handles Carbone document generation tools
type CarboneHandler struct {
	apiURL       string
	apiKey       string
	templatesDir string
}

// NewCarboneHandler creates a new Carbone handler
func NewCarboneHandler() *CarboneHandler {
	apiURL := strings.TrimRight(os.Getenv("CARBONE_API_URL"), "/")
	if apiURL == "" {
		apiURL = "https://api.carbone.io"
	}
	return &CarboneHandler{
		apiURL:       apiURL,
		apiKey:       os.Getenv("CARBONE_API_KEY"),
		templatesDir: os.Getenv("CARBONE_TEMPLATES_DIR"),
	}
}

// IsConfigured reports whether a Carbone API key is available.
func (h *CarboneHandler) IsConfigured() bool {
	return h.apiKey != ""
}

// ListTools returns the list of Carbone tools
func (h *CarboneHandler) ListTools() []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        "carbone_list_templates",
			Description: "List template files in the local templates directory",
			InputSchema: schemaObject(map[string]any{}),
		},
		{
			Name:        "carbone_upload_template",
			Description: "Upload a template file to Carbone and return its template ID",
			InputSchema: schemaObject(map[string]any{
				"file_path": prop("string", "Path to the template file (absolute, or relative to the templates directory)"),
			}, "file_path"),
		},
		{
			Name:        "carbone_render",
			Description: "Render a document from an uploaded template with JSON data",
			InputSchema: schemaObject(map[string]any{
				"template_id": prop("string", "Template ID returned by upload"),
				"data":        prop("object", "Data merged into the template"),
				"convert_to":  prop("string", "Output format, e.g. pdf, docx, xlsx"),
				"report_name": prop("string", "Name for the generated report"),
			}, "template_id", "data"),
		},
	}
}

// HandleTool routes a Carbone tool call
func (h *CarboneHandler) HandleTool(call mcp.ToolCall) (mcp.ToolResult, error) {
	args := call.Arguments
	switch call.Name {
	case "carbone_list_templates":
		return h.listTemplates()
	case "carbone_upload_template":
		return h.uploadTemplate(getString(args, "file_path"))
	case "carbone_render":
		return h.render(args)
	default:
		return errorResult("unknown tool: %s", call.Name)
	}
}

func (h *CarboneHandler) listTemplates() (mcp.ToolResult, error) {
	if h.templatesDir == "" {
		return errorResult("CARBONE_TEMPLATES_DIR environment variable not set")
	}

	entries, err := os.ReadDir(h.templatesDir)
	if err != nil {
		return errorResult("reading templates directory: %v", err)
	}

	templates := []map[string]any{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		templates = append(templates, map[string]any{
			"name": entry.Name(),
			"size": info.Size(),
		})
	}
	return jsonResult(map[string]any{"templates": templates, "count": len(templates)})
}

func (h *CarboneHandler) uploadTemplate(filePath string) (mcp.ToolResult, error) {
	if !h.IsConfigured() {
		return errorResult("CARBONE_API_KEY environment variable not set")
	}
	if filePath == "" {
		return errorResult("file_path is required")
	}
	if !filepath.IsAbs(filePath) && h.templatesDir != "" {
		filePath = filepath.Join(h.templatesDir, filePath)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return errorResult("opening template: %v", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("template", filepath.Base(filePath))
	if err != nil {
		return errorResult("%v", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return errorResult("reading template: %v", err)
	}
	if err := writer.Close(); err != nil {
		return errorResult("%v", err)
	}

	req, err := http.NewRequest(http.MethodPost, h.apiURL+"/template", &buf)
	if err != nil {
		return errorResult("%v", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	data, err := doJSON(req)
	if err != nil {
		return errorResult("uploading template: %v", err)
	}
	return jsonResult(data)
}

func (h *CarboneHandler) render(args map[string]any) (mcp.ToolResult, error) {
	if !h.IsConfigured() {
		return errorResult("CARBONE_API_KEY environment variable not set")
	}

	templateID := getString(args, "template_id")
	data := getMap(args, "data")
	if templateID == "" || data == nil {
		return errorResult("template_id and data are required")
	}

	payload := map[string]any{"data": data}
	if convertTo := getString(args, "convert_to"); convertTo != "" {
		payload["convertTo"] = convertTo
	}
	if reportName := getString(args, "report_name"); reportName != "" {
		payload["reportName"] = reportName
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return errorResult("%v", err)
	}

	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/render/%s", h.apiURL, url.PathEscape(templateID)), bytes.NewReader(encoded))
	if err != nil {
		return errorResult("%v", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.apiKey)
	req.Header.Set("Content-Type", "application/json")

	result, err := doJSON(req)
	if err != nil {
		return errorResult("rendering document: %v", err)
	}
	return jsonResult(result)
}
