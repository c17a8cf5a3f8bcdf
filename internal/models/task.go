package models

// TaskRequest is the payload published to the TaskRequests queue. Task
// names refer to entries in the runner's config.yaml whitelist.
type TaskRequest struct {
	Task string            `json:"task"`
	Args map[string]string `json:"args,omitempty"`
}

// TaskResponse is the reply published to the caller's reply queue.
type TaskResponse struct {
	Success  bool   `json:"success"`
	Output   string `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration,omitempty"`
}
