package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgumentCoercion(t *testing.T) {
	args := map[string]any{
		"name":   "deploy",
		"limit":  float64(25), // JSON numbers decode as float64
		"force":  true,
		"inputs": map[string]any{"env": "prod"},
	}

	assert.Equal(t, "deploy", getString(args, "name"))
	assert.Equal(t, "", getString(args, "missing"))
	assert.Equal(t, 25, getInt(args, "limit", 10))
	assert.Equal(t, 10, getInt(args, "missing", 10))
	assert.True(t, getBool(args, "force"))
	assert.False(t, getBool(args, "missing"))
	assert.Equal(t, map[string]any{"env": "prod"}, getMap(args, "inputs"))
	assert.Nil(t, getMap(args, "missing"))
}

func TestResultHelpers(t *testing.T) {
	t.Run("textResult", func(t *testing.T) {
		result := textResult("done")
		require.Len(t, result.Content, 1)
		assert.Equal(t, "text", result.Content[0].Type)
		assert.Equal(t, "done", result.Content[0].Text)
		assert.False(t, result.IsError)
	})

	t.Run("errorResult flags the result and returns the error", func(t *testing.T) {
		result, err := errorResult("bad thing: %s", "detail")
		require.Error(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, result.Content[0].Text, "bad thing: detail")
	})

	t.Run("jsonResult pretty-prints", func(t *testing.T) {
		result, err := jsonResult(map[string]any{"count": 2})
		require.NoError(t, err)
		assert.Contains(t, result.Content[0].Text, `"count": 2`)
	})
}

func TestSchemaObject(t *testing.T) {
	schema := schemaObject(map[string]any{
		"owner": prop("string", "Repository owner"),
	}, "owner")

	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"owner"}, schema["required"])

	optional := schemaObject(map[string]any{})
	_, hasRequired := optional["required"]
	assert.False(t, hasRequired)
}

func TestHandlersRejectUnknownTools(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "test-token")
	h := NewGitHubHandler()

	result, err := h.HandleTool(callFor("nope"))
	require.Error(t, err)
	assert.True(t, result.IsError)
}

func TestUnconfiguredHandlerErrors(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	h := NewGitHubHandler()
	assert.False(t, h.IsConfigured())

	result, err := h.HandleTool(callFor("github_list_repos"))
	require.Error(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "GITHUB_TOKEN")
}
