package handlers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/flowmetrics/devops-mcp/pkg/mcp"
)

// Skill is one entry in the skills manifest.
type Skill struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

// SkillsManifest lists every discovered skill and category.
type SkillsManifest struct {
	Skills     []Skill  `json:"skills"`
	Categories []string `json:"categories"`
}

// SkillsHandler serves skill documents (SKILL.md files organized by
// category) as tools and MCP resources. The manifest is read from
// manifest.json when present, otherwise generated from the directory tree.
type SkillsHandler struct {
	searchPaths []string

	mu       sync.Mutex
	manifest *SkillsManifest
}

// NewSkillsHandler creates a new skills handler
func NewSkillsHandler() *SkillsHandler {
	home, _ := os.UserHomeDir()
	return &SkillsHandler{
		searchPaths: []string{
			os.Getenv("SKILLS_DIR"),
			filepath.Join(home, "skills"),
			filepath.Join(home, "devops-agent", "skills"),
			"./skills",
		},
	}
}

// IsConfigured reports whether a skills directory exists.
func (h *SkillsHandler) IsConfigured() bool {
	return h.skillsDir() != ""
}

func (h *SkillsHandler) skillsDir() string {
	for _, path := range h.searchPaths {
		if path == "" {
			continue
		}
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return path
		}
	}
	return ""
}

// ListTools returns the list of skills tools
func (h *SkillsHandler) ListTools() []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        "skills_list",
			Description: "List all available skills with their descriptions",
			InputSchema: schemaObject(map[string]any{
				"category": prop("string", "Filter by category"),
				"search":   prop("string", "Search in name and description"),
			}),
		},
		{
			Name:        "skills_get",
			Description: "Get the full content of a skill (SKILL.md)",
			InputSchema: schemaObject(map[string]any{
				"skill_id": prop("string", "Skill ID (e.g., 'documents/docx' or 'docx')"),
			}, "skill_id"),
		},
		{
			Name:        "skills_categories",
			Description: "List skill categories",
			InputSchema: schemaObject(map[string]any{}),
		},
	}
}

// ListResources exposes each skill as a skill:// resource.
func (h *SkillsHandler) ListResources() []mcp.Resource {
	manifest := h.loadManifest()
	resources := make([]mcp.Resource, 0, len(manifest.Skills))
	for _, skill := range manifest.Skills {
		resources = append(resources, mcp.Resource{
			URI:         "skill://" + skill.ID,
			Name:        skill.Name,
			Description: skill.Description,
			MimeType:    "text/markdown",
		})
	}
	return resources
}

// HandleTool routes a skills tool call
func (h *SkillsHandler) HandleTool(call mcp.ToolCall) (mcp.ToolResult, error) {
	args := call.Arguments
	switch call.Name {
	case "skills_list":
		return h.listSkills(getString(args, "category"), getString(args, "search"))
	case "skills_get":
		return h.getSkill(getString(args, "skill_id"))
	case "skills_categories":
		manifest := h.loadManifest()
		return jsonResult(map[string]any{"categories": manifest.Categories})
	default:
		return errorResult("unknown tool: %s", call.Name)
	}
}

func (h *SkillsHandler) listSkills(category, search string) (mcp.ToolResult, error) {
	manifest := h.loadManifest()

	matches := []Skill{}
	needle := strings.ToLower(search)
	for _, skill := range manifest.Skills {
		if category != "" && skill.Category != category {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(skill.Name), needle) &&
			!strings.Contains(strings.ToLower(skill.Description), needle) {
			continue
		}
		matches = append(matches, skill)
	}
	return jsonResult(map[string]any{"skills": matches, "count": len(matches)})
}

func (h *SkillsHandler) getSkill(skillID string) (mcp.ToolResult, error) {
	if skillID == "" {
		return errorResult("skill_id is required")
	}

	dir := h.skillsDir()
	if dir == "" {
		return errorResult("skills directory not found")
	}

	candidate := filepath.Join(dir, filepath.FromSlash(skillID), "SKILL.md")
	if _, err := os.Stat(candidate); err != nil {
		// Try without the category prefix
		candidate = ""
		entries, _ := os.ReadDir(dir)
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			alt := filepath.Join(dir, entry.Name(), skillID, "SKILL.md")
			if _, err := os.Stat(alt); err == nil {
				candidate = alt
				break
			}
		}
	}
	if candidate == "" {
		return errorResult("skill not found: %s", skillID)
	}

	content, err := os.ReadFile(candidate)
	if err != nil {
		return errorResult("reading skill: %v", err)
	}
	return textResult(string(content)), nil
}

func (h *SkillsHandler) loadManifest() *SkillsManifest {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.manifest != nil {
		return h.manifest
	}

	dir := h.skillsDir()
	if dir == "" {
		return &SkillsManifest{Skills: []Skill{}, Categories: []string{}}
	}

	if raw, err := os.ReadFile(filepath.Join(dir, "manifest.json")); err == nil {
		var manifest SkillsManifest
		if err := json.Unmarshal(raw, &manifest); err == nil {
			h.manifest = &manifest
			return h.manifest
		}
	}

	h.manifest = generateManifest(dir)
	return h.manifest
}

// generateManifest walks category/skill/SKILL.md, pulling each skill's
// description from the first paragraph after the title.
func generateManifest(dir string) *SkillsManifest {
	manifest := &SkillsManifest{Skills: []Skill{}, Categories: []string{}}

	categories, err := os.ReadDir(dir)
	if err != nil {
		return manifest
	}

	seen := map[string]bool{}
	for _, category := range categories {
		if !category.IsDir() || strings.HasPrefix(category.Name(), ".") {
			continue
		}

		skillDirs, err := os.ReadDir(filepath.Join(dir, category.Name()))
		if err != nil {
			continue
		}
		for _, skillDir := range skillDirs {
			if !skillDir.IsDir() {
				continue
			}
			content, err := os.ReadFile(filepath.Join(dir, category.Name(), skillDir.Name(), "SKILL.md"))
			if err != nil {
				continue
			}

			seen[category.Name()] = true
			manifest.Skills = append(manifest.Skills, Skill{
				ID:          category.Name() + "/" + skillDir.Name(),
				Name:        titleFromSlug(skillDir.Name()),
				Category:    category.Name(),
				Path:        category.Name() + "/" + skillDir.Name(),
				Description: firstParagraph(string(content)),
			})
		}
	}

	for name := range seen {
		manifest.Categories = append(manifest.Categories, name)
	}
	sort.Strings(manifest.Categories)
	return manifest
}

func firstParagraph(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if i == 0 {
			continue // skip the title
		}
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			if len(trimmed) > 200 {
				return trimmed[:200]
			}
			return trimmed
		}
	}
	return ""
}

func titleFromSlug(slug string) string {
	words := strings.Split(slug, "-")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
