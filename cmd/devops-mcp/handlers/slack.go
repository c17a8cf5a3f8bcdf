package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/flowmetrics/devops-mcp/pkg/mcp"
)

const slackAPIBase = "https://slack.com/api"

// SlackHandler handles Slack messaging tools
type SlackHandler struct {
	botToken   string
	webhookURL string
}

// NewSlackHandler creates a new Slack handler
func NewSlackHandler() *SlackHandler {
	return &SlackHandler{
		botToken:   os.Getenv("SLACK_BOT_TOKEN"),
		webhookURL: os.Getenv("SLACK_WEBHOOK_URL"),
	}
}

// IsConfigured reports whether either a bot token or webhook is available.
func (h *SlackHandler) IsConfigured() bool {
	return h.botToken != "" || h.webhookURL != ""
}

// ListTools returns the list of Slack tools
func (h *SlackHandler) ListTools() []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        "slack_send_message",
			Description: "Send a message to a Slack channel. Uses the bot token when available, falling back to the incoming webhook.",
			InputSchema: schemaObject(map[string]any{
				"channel": prop("string", "Channel ID or name (required with a bot token)"),
				"text":    prop("string", "Message text"),
			}, "text"),
		},
		{
			Name:        "slack_list_channels",
			Description: "List public channels in the workspace",
			InputSchema: schemaObject(map[string]any{
				"limit": prop("number", "Maximum number of channels (default 100)"),
			}),
		},
		{
			Name:        "slack_channel_history",
			Description: "Fetch recent messages from a channel",
			InputSchema: schemaObject(map[string]any{
				"channel": prop("string", "Channel ID"),
				"limit":   prop("number", "Maximum number of messages (default 20)"),
			}, "channel"),
		},
	}
}

// HandleTool routes a Slack tool call
func (h *SlackHandler) HandleTool(call mcp.ToolCall) (mcp.ToolResult, error) {
	args := call.Arguments
	switch call.Name {
	case "slack_send_message":
		return h.sendMessage(getString(args, "channel"), getString(args, "text"))
	case "slack_list_channels":
		return h.api(http.MethodGet, fmt.Sprintf("/conversations.list?limit=%d&types=public_channel", getInt(args, "limit", 100)), nil)
	case "slack_channel_history":
		channel := getString(args, "channel")
		if channel == "" {
			return errorResult("channel is required")
		}
		return h.api(http.MethodGet, fmt.Sprintf("/conversations.history?channel=%s&limit=%d",
			url.QueryEscape(channel), getInt(args, "limit", 20)), nil)
	default:
		return errorResult("unknown tool: %s", call.Name)
	}
}

func (h *SlackHandler) sendMessage(channel, text string) (mcp.ToolResult, error) {
	if text == "" {
		return errorResult("text is required")
	}

	if h.botToken != "" {
		if channel == "" {
			return errorResult("channel is required when using a bot token")
		}
		return h.api(http.MethodPost, "/chat.postMessage", map[string]any{
			"channel": channel,
			"text":    text,
		})
	}

	if h.webhookURL == "" {
		return errorResult("SLACK_BOT_TOKEN or SLACK_WEBHOOK_URL environment variable not set")
	}

	encoded, _ := json.Marshal(map[string]string{"text": text})
	req, err := http.NewRequest(http.MethodPost, h.webhookURL, bytes.NewReader(encoded))
	if err != nil {
		return errorResult("%v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if _, err := doJSON(req); err != nil {
		return errorResult("posting to webhook: %v", err)
	}
	return textResult("Message sent via webhook"), nil
}

func (h *SlackHandler) api(method, path string, payload any) (mcp.ToolResult, error) {
	if h.botToken == "" {
		return errorResult("SLACK_BOT_TOKEN environment variable not set")
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

	req, err := http.NewRequest(method, slackAPIBase+path, body)
	if err != nil {
		return errorResult("%v", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.botToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	data, err := doJSON(req)
	if err != nil {
		return errorResult("slack API: %v", err)
	}
	// The Slack API reports errors inside a 200 response
	if ok, exists := data["ok"].(bool); exists && !ok {
		return errorResult("slack API: %v", data["error"])
	}
	return jsonResult(data)
}
