package handlers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmetrics/devops-mcp/pkg/mcp"
)

func callFor(name string, kv ...string) mcp.ToolCall {
	args := map[string]any{}
	for i := 0; i+1 < len(kv); i += 2 {
		args[kv[i]] = kv[i+1]
	}
	return mcp.ToolCall{Name: name, Arguments: args}
}

func writeSkill(t *testing.T, dir, category, name, content string) {
	t.Helper()
	skillDir := filepath.Join(dir, category, name)
	require.NoError(t, os.MkdirAll(skillDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(content), 0o644))
}

func newTestSkillsHandler(t *testing.T) (*SkillsHandler, string) {
	t.Helper()
	dir := t.TempDir()
	writeSkill(t, dir, "documents", "docx-builder",
		"# DOCX Builder\n\nBuild Word documents from templates.\n\n## Usage\n")
	writeSkill(t, dir, "deploy", "blue-green",
		"# Blue Green\n\nRun blue/green deployments safely.\n")

	h := NewSkillsHandler()
	h.searchPaths = []string{dir}
	return h, dir
}

func TestSkillsManifestGeneration(t *testing.T) {
	h, _ := newTestSkillsHandler(t)
	require.True(t, h.IsConfigured())

	manifest := h.loadManifest()
	require.Len(t, manifest.Skills, 2)
	assert.Equal(t, []string{"deploy", "documents"}, manifest.Categories)

	var docx *Skill
	for i := range manifest.Skills {
		if manifest.Skills[i].ID == "documents/docx-builder" {
			docx = &manifest.Skills[i]
		}
	}
	require.NotNil(t, docx)
	assert.Equal(t, "Docx Builder", docx.Name)
	assert.Equal(t, "documents", docx.Category)
	assert.Equal(t, "Build Word documents from templates.", docx.Description)
}

func TestSkillsManifestFile(t *testing.T) {
	dir := t.TempDir()
	manifest := SkillsManifest{
		Skills:     []Skill{{ID: "custom/one", Name: "One", Category: "custom"}},
		Categories: []string{"custom"},
	}
	raw, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), raw, 0o644))

	h := NewSkillsHandler()
	h.searchPaths = []string{dir}

	loaded := h.loadManifest()
	require.Len(t, loaded.Skills, 1)
	assert.Equal(t, "custom/one", loaded.Skills[0].ID)
}

func TestSkillsTools(t *testing.T) {
	h, _ := newTestSkillsHandler(t)

	t.Run("skills_list", func(t *testing.T) {
		result, err := h.HandleTool(callFor("skills_list"))
		require.NoError(t, err)
		assert.Contains(t, result.Content[0].Text, "documents/docx-builder")
		assert.Contains(t, result.Content[0].Text, "deploy/blue-green")
	})

	t.Run("skills_list with category filter", func(t *testing.T) {
		result, err := h.HandleTool(callFor("skills_list", "category", "deploy"))
		require.NoError(t, err)
		assert.NotContains(t, result.Content[0].Text, "docx-builder")
		assert.Contains(t, result.Content[0].Text, "blue-green")
	})

	t.Run("skills_list with search", func(t *testing.T) {
		result, err := h.HandleTool(callFor("skills_list", "search", "word"))
		require.NoError(t, err)
		assert.Contains(t, result.Content[0].Text, "docx-builder")
		assert.NotContains(t, result.Content[0].Text, "blue-green")
	})

	t.Run("skills_get with full id", func(t *testing.T) {
		result, err := h.HandleTool(callFor("skills_get", "skill_id", "documents/docx-builder"))
		require.NoError(t, err)
		assert.Contains(t, result.Content[0].Text, "# DOCX Builder")
	})

	t.Run("skills_get without category prefix", func(t *testing.T) {
		result, err := h.HandleTool(callFor("skills_get", "skill_id", "blue-green"))
		require.NoError(t, err)
		assert.Contains(t, result.Content[0].Text, "# Blue Green")
	})

	t.Run("skills_get unknown skill", func(t *testing.T) {
		result, err := h.HandleTool(callFor("skills_get", "skill_id", "nope"))
		require.Error(t, err)
		assert.True(t, result.IsError)
	})

	t.Run("skills_categories", func(t *testing.T) {
		result, err := h.HandleTool(callFor("skills_categories"))
		require.NoError(t, err)
		assert.Contains(t, result.Content[0].Text, "deploy")
		assert.Contains(t, result.Content[0].Text, "documents")
	})
}

func TestSkillsResources(t *testing.T) {
	h, _ := newTestSkillsHandler(t)

	resources := h.ListResources()
	require.Len(t, resources, 2)
	uris := []string{resources[0].URI, resources[1].URI}
	assert.Contains(t, uris, "skill://documents/docx-builder")
	assert.Contains(t, uris, "skill://deploy/blue-green")
	assert.Equal(t, "text/markdown", resources[0].MimeType)
}
