package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"gopkg.in/yaml.v3"

	"github.com/flowmetrics/devops-mcp/internal/config"
	"github.com/flowmetrics/devops-mcp/internal/models"
)

const (
	serviceVersion = "v1.0.0"
	taskQueue      = "TaskRequests"
	defaultTimeout = 60 * time.Second
)

// TaskDef is one whitelisted task from config.yaml. Command arguments may
// contain {placeholders} substituted from the request args.
type TaskDef struct {
	Command []string `yaml:"command"`
	Timeout string   `yaml:"timeout"`
}

// RunnerConfig is the config.yaml layout: a named whitelist of tasks the
// runner will execute. Anything not listed is rejected.
type RunnerConfig struct {
	Tasks map[string]TaskDef `yaml:"tasks"`
}

func main() {
	config.LoadEnv(".env")

	fmt.Printf("Starting TaskRunner %s\n", serviceVersion)

	cfg, err := loadRunnerConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config.yaml: %v", err))
	}
	if len(cfg.Tasks) == 0 {
		fmt.Println("Warning: no tasks defined in config.yaml; every request will be rejected")
	}

	amqpURL := os.Getenv("RABBITMQ_URL")
	if amqpURL == "" {
		amqpURL = os.Getenv("AMQP_URL")
	}
	if amqpURL == "" {
		panic("RABBITMQ_URL environment variable not set")
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		panic(fmt.Sprintf("Failed to connect to RabbitMQ: %v", err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		panic(fmt.Sprintf("Failed to open channel: %v", err))
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(taskQueue, true, false, false, false, nil); err != nil {
		panic(fmt.Sprintf("Failed to declare queue: %v", err))
	}

	msgs, err := ch.Consume(taskQueue, "", true, false, false, false, nil)
	if err != nil {
		panic(fmt.Sprintf("Failed to start consumer: %v", err))
	}

	// Process each delivery in its own goroutine so a slow task does not
	// block the queue.
	go func() {
		for d := range msgs {
			go func(delivery amqp.Delivery) {
				responseBytes := handleRequest(cfg, delivery)
				if delivery.ReplyTo == "" {
					return
				}
				err := ch.Publish(
					"",               // exchange
					delivery.ReplyTo, // routing key (the reply queue)
					false,            // mandatory
					false,            // immediate
					amqp.Publishing{
						ContentType:   "application/json",
						CorrelationId: delivery.CorrelationId,
						Body:          responseBytes,
					},
				)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Failed to publish reply: %v\n", err)
				}
			}(d)
		}
	}()

	fmt.Printf("TaskRunner listening on queue %s (%d tasks whitelisted)\n", taskQueue, len(cfg.Tasks))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("Shutting down TaskRunner")
}

func loadRunnerConfig() (*RunnerConfig, error) {
	path := os.Getenv("RUNNER_CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg RunnerConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func handleRequest(cfg *RunnerConfig, d amqp.Delivery) []byte {
	var req models.TaskRequest
	if err := json.Unmarshal(d.Body, &req); err != nil {
		return marshalResponse(models.TaskResponse{
			Success: false,
			Error:   fmt.Sprintf("invalid request: %v", err),
		})
	}

	def, ok := cfg.Tasks[req.Task]
	if !ok {
		return marshalResponse(models.TaskResponse{
			Success: false,
			Error:   fmt.Sprintf("task not whitelisted: %s", req.Task),
		})
	}
	if len(def.Command) == 0 {
		return marshalResponse(models.TaskResponse{
			Success: false,
			Error:   fmt.Sprintf("task has no command: %s", req.Task),
		})
	}

	timeout := defaultTimeout
	if def.Timeout != "" {
		if parsed, err := time.ParseDuration(def.Timeout); err == nil {
			timeout = parsed
		}
	}

	argv := substituteArgs(def.Command, req.Args)

	fmt.Printf("Running task %s: %s\n", req.Task, strings.Join(argv, " "))
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	output, err := cmd.CombinedOutput()
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		return marshalResponse(models.TaskResponse{
			Success:  false,
			Output:   string(output),
			Error:    fmt.Sprintf("task timed out after %s", timeout),
			Duration: elapsed.String(),
		})
	}
	if err != nil {
		return marshalResponse(models.TaskResponse{
			Success:  false,
			Output:   string(output),
			Error:    err.Error(),
			Duration: elapsed.String(),
		})
	}

	return marshalResponse(models.TaskResponse{
		Success:  true,
		Output:   string(output),
		Duration: elapsed.String(),
	})
}

// substituteArgs replaces {name} placeholders in the whitelisted argv with
// values from the request. Unknown placeholders are left as-is; arguments
// never go through a shell.
func substituteArgs(command []string, args map[string]string) []string {
	argv := make([]string, len(command))
	for i, part := range command {
		for key, val := range args {
			part = strings.ReplaceAll(part, "{"+key+"}", val)
		}
		argv[i] = part
	}
	return argv
}

func marshalResponse(resp models.TaskResponse) []byte {
	raw, _ := json.Marshal(resp)
	return raw
}
