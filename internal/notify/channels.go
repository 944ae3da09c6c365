package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"teamline/internal/domain"
)

const channelTimeout = 5 * time.Second

// EmailWebhook posts notifications to an email relay endpoint.
type EmailWebhook struct {
	URL    string
	From   string
	Client *http.Client
}

func (e *EmailWebhook) Name() string { return "email" }

func (e *EmailWebhook) Deliver(ctx context.Context, user domain.User, n domain.Notification) error {
	payload := map[string]any{
		"from":    e.From,
		"to":      user.Email,
		"subject": n.Title,
		"text":    n.Body,
		"type":    n.Type,
	}
	return postJSON(ctx, e.client(), e.URL, payload, nil)
}

func (e *EmailWebhook) client() *http.Client {
	if e.Client != nil {
		return e.Client
	}
	return &http.Client{Timeout: channelTimeout}
}

// SlackWebhook posts notifications to a Slack incoming webhook.
type SlackWebhook struct {
	URL    string
	Client *http.Client
}

func (s *SlackWebhook) Name() string { return "slack" }

func (s *SlackWebhook) Deliver(ctx context.Context, user domain.User, n domain.Notification) error {
	text := fmt.Sprintf("*%s* (%s)", n.Title, user.Name)
	if n.Body != "" {
		text += "\n" + n.Body
	}
	return postJSON(ctx, s.client(), s.URL, map[string]any{"text": text}, nil)
}

func (s *SlackWebhook) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return &http.Client{Timeout: channelTimeout}
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any, headers map[string]string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
