// Package notify delivers failure notices to the channel a goal is
// addressed to.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/felixgeelhaar/goalrun/internal/goal"
	"github.com/felixgeelhaar/goalrun/internal/log"
)

// Notice is a message about one goal
type Notice struct {
	Goal    goal.GoalEvent
	Context goal.Context
	Title   string
	Message string
	// RelevantPart is an excerpt of the progress log
	RelevantPart string
	LogURL       string
}

// Notifier delivers notices
type Notifier interface {
	Notify(ctx context.Context, notice Notice) error
}

// LogNotifier writes notices to the process logger
type LogNotifier struct {
	logger *log.Logger
}

// NewLogNotifier creates a notifier backed by logger
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.DefaultLogger()
	}
	return &LogNotifier{logger: logger.With("component", "notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, notice Notice) error {
	n.logger.WarnContext(ctx, notice.Title,
		"goal", notice.Goal.UniqueName,
		"goal_set_id", notice.Goal.GoalSetID,
		"message", notice.Message,
		"relevant_part", notice.RelevantPart,
		"log_url", notice.LogURL,
	)
	return nil
}

// SlackNotifier posts notices to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlackNotifier creates a notifier for a Slack webhook URL
func NewSlackNotifier(webhookURL, channel string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		channel:    channel,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type slackAttachment struct {
	Fallback  string `json:"fallback"`
	Color     string `json:"color"`
	Title     string `json:"title"`
	TitleLink string `json:"title_link,omitempty"`
	Text      string `json:"text"`
	Footer    string `json:"footer,omitempty"`
}

type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username"`
	Attachments []slackAttachment `json:"attachments"`
}

func (n *SlackNotifier) Notify(ctx context.Context, notice Notice) error {
	text := notice.Message
	if notice.RelevantPart != "" {
		text += "\n```\n" + notice.RelevantPart + "\n```"
	}
	msg := slackMessage{
		Channel:  n.channel,
		Username: "goalrun",
		Attachments: []slackAttachment{{
			Fallback:  notice.Title,
			Color:     "#D94649",
			Title:     notice.Title,
			TitleLink: notice.LogURL,
			Text:      text,
			Footer:    fmt.Sprintf("%s %s", notice.Goal.Repo.Slug(), notice.Goal.SHA),
		}},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post slack message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

// Multi delivers a notice to every notifier and joins their errors
func Multi(notifiers ...Notifier) Notifier {
	return multiNotifier(notifiers)
}

type multiNotifier []Notifier

func (m multiNotifier) Notify(ctx context.Context, notice Notice) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, notice); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
