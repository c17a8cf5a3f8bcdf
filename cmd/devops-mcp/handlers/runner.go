package handlers

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/flowmetrics/devops-mcp/internal/models"
	"github.com/flowmetrics/devops-mcp/pkg/mcp"
)

const (
	taskQueue = "TaskRequests"
	// Slightly longer than the runner's own execution timeout (60s)
	taskRPCTimeout = 65 * time.Second
)

// RunnerHandler dispatches whitelisted shell tasks to the task-runner
// worker over RabbitMQ and waits for the reply (RPC over AMQP).
type RunnerHandler struct {
	amqpURL string
}

// NewRunnerHandler creates a new runner handler
func NewRunnerHandler() *RunnerHandler {
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		url = os.Getenv("AMQP_URL")
	}
	return &RunnerHandler{amqpURL: url}
}

// IsConfigured reports whether a broker URL is available.
func (h *RunnerHandler) IsConfigured() bool {
	return h.amqpURL != ""
}

// ListTools returns the list of runner tools
func (h *RunnerHandler) ListTools() []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        "runner_execute_task",
			Description: "Execute a whitelisted task on the task runner. Tasks are defined in the runner's config.yaml.",
			InputSchema: schemaObject(map[string]any{
				"task": prop("string", "Task name from the runner whitelist"),
				"args": prop("object", "String arguments substituted into the task command"),
			}, "task"),
		},
	}
}

// HandleTool routes a runner tool call
func (h *RunnerHandler) HandleTool(call mcp.ToolCall) (mcp.ToolResult, error) {
	if call.Name != "runner_execute_task" {
		return errorResult("unknown tool: %s", call.Name)
	}
	if !h.IsConfigured() {
		return errorResult("RABBITMQ_URL environment variable not set")
	}

	task := getString(call.Arguments, "task")
	if task == "" {
		return errorResult("task is required")
	}

	req := models.TaskRequest{Task: task, Args: map[string]string{}}
	for key, val := range getMap(call.Arguments, "args") {
		if str, ok := val.(string); ok {
			req.Args[key] = str
		}
	}

	resp, err := h.callRunner(req)
	if err != nil {
		return errorResult("task runner: %v", err)
	}
	if !resp.Success {
		return errorResult("task failed: %s", resp.Error)
	}
	return jsonResult(map[string]any{
		"success":  true,
		"output":   resp.Output,
		"duration": resp.Duration,
	})
}

// callRunner publishes the request with a ReplyTo queue and blocks until the
// correlated reply arrives or the RPC timeout fires.
func (h *RunnerHandler) callRunner(req models.TaskRequest) (*models.TaskResponse, error) {
	conn, err := amqp.Dial(h.amqpURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(taskQueue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declaring task queue: %w", err)
	}

	replyQueue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declaring reply queue: %w", err)
	}

	replies, err := ch.Consume(replyQueue.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consuming replies: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	correlationID := uuid.NewString()
	err = ch.Publish("", taskQueue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationID,
		ReplyTo:       replyQueue.Name,
		Body:          body,
	})
	if err != nil {
		return nil, fmt.Errorf("publishing task: %w", err)
	}

	timeout := time.After(taskRPCTimeout)
	for {
		select {
		case delivery, ok := <-replies:
			if !ok {
				return nil, fmt.Errorf("reply channel closed")
			}
			if delivery.CorrelationId != correlationID {
				continue
			}
			var resp models.TaskResponse
			if err := json.Unmarshal(delivery.Body, &resp); err != nil {
				return nil, fmt.Errorf("decoding reply: %w", err)
			}
			return &resp, nil
		case <-timeout:
			return nil, fmt.Errorf("RPC timeout: task runner did not respond within %s", taskRPCTimeout)
		}
	}
}
