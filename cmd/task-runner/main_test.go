package main

import (
	"encoding/json"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/flowmetrics/devops-mcp/internal/models"
)

func TestSubstituteArgs(t *testing.T) {
	command := []string{"docker", "restart", "{container}", "--time", "{grace}"}
	argv := substituteArgs(command, map[string]string{
		"container": "web-1",
		"grace":     "15",
	})
	assert.Equal(t, []string{"docker", "restart", "web-1", "--time", "15"}, argv)

	// Unknown placeholders stay untouched, missing args leave the literal.
	argv = substituteArgs([]string{"echo", "{missing}"}, nil)
	assert.Equal(t, []string{"echo", "{missing}"}, argv)
}

func TestRunnerConfigParsing(t *testing.T) {
	raw := `
tasks:
  disk-usage:
    command: ["df", "-h"]
    timeout: 10s
  deploy:
    command: ["/opt/deploy.sh", "{env}"]
`
	var cfg RunnerConfig
	require.NoError(t, yaml.Unmarshal([]byte(raw), &cfg))

	require.Len(t, cfg.Tasks, 2)
	assert.Equal(t, []string{"df", "-h"}, cfg.Tasks["disk-usage"].Command)
	assert.Equal(t, "10s", cfg.Tasks["disk-usage"].Timeout)
	assert.Equal(t, "", cfg.Tasks["deploy"].Timeout)
}

func deliveryFor(t *testing.T, req models.TaskRequest) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	return amqp.Delivery{Body: body}
}

func decodeResponse(t *testing.T, raw []byte) models.TaskResponse {
	t.Helper()
	var resp models.TaskResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

func TestHandleRequest(t *testing.T) {
	cfg := &RunnerConfig{Tasks: map[string]TaskDef{
		"say": {Command: []string{"echo", "{word}"}, Timeout: "5s"},
		"bad": {Command: []string{"/nonexistent-binary-zzz"}},
	}}

	t.Run("whitelisted task runs and captures output", func(t *testing.T) {
		resp := decodeResponse(t, handleRequest(cfg, deliveryFor(t, models.TaskRequest{
			Task: "say",
			Args: map[string]string{"word": "hello"},
		})))
		assert.True(t, resp.Success)
		assert.Contains(t, resp.Output, "hello")
		assert.NotEmpty(t, resp.Duration)
	})

	t.Run("unlisted task is rejected", func(t *testing.T) {
		resp := decodeResponse(t, handleRequest(cfg, deliveryFor(t, models.TaskRequest{
			Task: "rm-rf",
		})))
		assert.False(t, resp.Success)
		assert.Contains(t, resp.Error, "not whitelisted")
	})

	t.Run("command failure is reported", func(t *testing.T) {
		resp := decodeResponse(t, handleRequest(cfg, deliveryFor(t, models.TaskRequest{
			Task: "bad",
		})))
		assert.False(t, resp.Success)
		assert.NotEmpty(t, resp.Error)
	})

	t.Run("malformed payload is rejected", func(t *testing.T) {
		resp := decodeResponse(t, handleRequest(cfg, amqp.Delivery{Body: []byte("{broken")}))
		assert.False(t, resp.Success)
		assert.Contains(t, resp.Error, "invalid request")
	})
}
