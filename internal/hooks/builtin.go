package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/goalrun/internal/goal"
	"github.com/felixgeelhaar/goalrun/internal/process"
)

// RegisterBuiltins registers the script, webhook and slack listener types
func RegisterBuiltins(registry *Registry, processes *process.Runner) {
	registry.RegisterFactory("script", func(config *ListenerConfig) (Listener, error) {
		return NewScriptListener(config, processes)
	})
	registry.RegisterFactory("webhook", func(config *ListenerConfig) (Listener, error) {
		return NewWebhookListener(config)
	})
	registry.RegisterFactory("slack", func(config *ListenerConfig) (Listener, error) {
		return NewSlackListener(config)
	})
}

// baseListener holds the configuration shared by the builtin listeners
type baseListener struct {
	config *ListenerConfig
}

func (b *baseListener) Name() string            { return b.config.Name }
func (b *baseListener) EventTypes() []EventType { return b.config.events() }
func (b *baseListener) Enabled() bool           { return b.config.Enabled }
func (b *baseListener) Timeout() time.Duration  { return b.config.Timeout }

func stringOption(config *ListenerConfig, key string) string {
	v, _ := config.Config[key].(string)
	return v
}

// ScriptListener runs a command with the event in its environment
type ScriptListener struct {
	baseListener
	command   string
	args      []string
	processes *process.Runner
}

// NewScriptListener creates a script listener from config
func NewScriptListener(config *ListenerConfig, processes *process.Runner) (*ScriptListener, error) {
	command := stringOption(config, "command")
	if command == "" {
		command = stringOption(config, "script")
	}
	if command == "" {
		return nil, fmt.Errorf("script listener %s requires 'command' config", config.Name)
	}

	var args []string
	if raw, ok := config.Config["args"].([]any); ok {
		for _, a := range raw {
			args = append(args, fmt.Sprint(a))
		}
	}
	if processes == nil {
		processes = process.NewRunner(DefaultTimeout, nil)
	}

	return &ScriptListener{
		baseListener: baseListener{config: config},
		command:      command,
		args:         args,
		processes:    processes,
	}, nil
}

// Notify runs the command; a non-zero exit fails the notification
func (s *ScriptListener) Notify(ctx context.Context, event *Event) error {
	env := goal.Invocation{Goal: event.Goal, Context: event.Context}.IdentityEnv()
	env["GOALRUN_EVENT"] = string(event.Type)
	env["GOALRUN_GOAL_STATE"] = string(event.Goal.State)
	if event.Result != nil {
		env["GOALRUN_RESULT_CODE"] = strconv.Itoa(event.Result.Code)
		env["GOALRUN_RESULT_MESSAGE"] = event.Result.Message
	}
	if event.Error != "" {
		env["GOALRUN_ERROR"] = event.Error
	}

	var out bytes.Buffer
	res := s.processes.Spawn(ctx, process.Command{Name: s.command, Args: s.args}, process.Options{
		Name:    s.config.Name,
		Env:     env,
		Log:     &out,
		Timeout: s.config.Timeout,
	})
	if res.Failed {
		return fmt.Errorf("%s: %s", res.Message, strings.TrimSpace(out.String()))
	}
	return nil
}

// WebhookListener posts the event as JSON to a URL
type WebhookListener struct {
	baseListener
	url     string
	method  string
	headers map[string]string
	client  *http.Client
}

// NewWebhookListener creates a webhook listener from config
func NewWebhookListener(config *ListenerConfig) (*WebhookListener, error) {
	url := stringOption(config, "url")
	if url == "" {
		return nil, fmt.Errorf("webhook listener %s requires 'url' config", config.Name)
	}
	method := stringOption(config, "method")
	if method == "" {
		method = http.MethodPost
	}

	headers := make(map[string]string)
	if raw, ok := config.Config["headers"].(map[string]any); ok {
		for k, v := range raw {
			headers[k] = fmt.Sprint(v)
		}
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &WebhookListener{
		baseListener: baseListener{config: config},
		url:          url,
		method:       method,
		headers:      headers,
		client:       &http.Client{Timeout: timeout},
	}, nil
}

// Notify sends the event; any non-2xx response fails the notification
func (w *WebhookListener) Notify(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return postJSON(ctx, w.client, w.method, w.url, w.headers, payload)
}

func postJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// SlackListener posts a short summary to a Slack incoming webhook
type SlackListener struct {
	baseListener
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlackListener creates a slack listener from config
func NewSlackListener(config *ListenerConfig) (*SlackListener, error) {
	webhookURL := stringOption(config, "webhookUrl")
	if webhookURL == "" {
		return nil, fmt.Errorf("slack listener %s requires 'webhookUrl' config", config.Name)
	}
	return &SlackListener{
		baseListener: baseListener{config: config},
		webhookURL:   webhookURL,
		channel:      stringOption(config, "channel"),
		client:       &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Notify posts the formatted message
func (s *SlackListener) Notify(ctx context.Context, event *Event) error {
	payload := map[string]any{
		"text":     s.formatMessage(event),
		"username": "goalrun",
	}
	if s.channel != "" {
		payload["channel"] = s.channel
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}
	return postJSON(ctx, s.client, http.MethodPost, s.webhookURL, nil, body)
}

func (s *SlackListener) formatMessage(event *Event) string {
	emoji := ":arrows_counterclockwise:"
	verb := "started"
	switch event.Type {
	case EventSuccess:
		emoji, verb = ":white_check_mark:", "succeeded"
	case EventFailure:
		emoji, verb = ":x:", "failed"
	}

	g := event.Goal
	msg := fmt.Sprintf("%s Goal *%s* %s on `%s` (%s)", emoji, g.Name, verb, g.Repo.Slug(), shortSHA(g.SHA))
	if event.Result != nil && event.Result.Message != "" {
		msg += "\n" + event.Result.Message
	}
	if event.Error != "" {
		msg += "\nError: " + event.Error
	}
	if g.URL != "" {
		msg += "\n" + g.URL
	}
	return msg
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
