package teamlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Teamline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// User represents the API user model (partial).
type User struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Active bool   `json:"active"`
}

// Session holds the token pair returned by login and refresh.
type Session struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// Task represents the API task model (partial).
type Task struct {
	ID          string  `json:"id"`
	Key         string  `json:"key"`
	ProjectID   string  `json:"project_id"`
	Title       string  `json:"title"`
	Status      string  `json:"status"`
	Priority    string  `json:"priority"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	CurrentRole *string `json:"current_role,omitempty"`
}

// Notification represents an in-app notification.
type Notification struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Body       string         `json:"body,omitempty"`
	EntityKind string         `json:"entity_kind,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Read       bool           `json:"read"`
	CreatedAt  string         `json:"created_at"`
}

// Pipeline represents a deployment pipeline run.
type Pipeline struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Environment string `json:"environment"`
	Status      string `json:"status"`
	Branch      string `json:"branch,omitempty"`
	CommitSHA   string `json:"commit_sha,omitempty"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedTasks wraps task list responses with cursors.
type PaginatedTasks struct {
	Items      []Task `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// PaginatedNotifications wraps notification list responses.
type PaginatedNotifications struct {
	Items      []Notification `json:"items"`
	NextCursor string         `json:"next_cursor"`
}

// PaginatedEvents wraps event list responses.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Login authenticates and stores the bearer token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "v1/auth/login", map[string]any{
		"email":    email,
		"password": password,
	}, &resp)
	if err == nil {
		c.BearerToken = resp.Token
	}
	return resp, err
}

// Refresh exchanges the session's refresh token for a new pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "v1/auth/refresh", map[string]any{
		"refresh_token": refreshToken,
	}, &resp)
	if err == nil {
		c.BearerToken = resp.Token
	}
	return resp, err
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, "v1/auth/me", nil, &resp)
	return resp, err
}

// CreateTask creates a task in the client's project.
func (c *Client) CreateTask(ctx context.Context, title, priority string) (Task, error) {
	body := map[string]any{"title": title}
	if priority != "" {
		body["priority"] = priority
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.projectPath("tasks"), body, &resp)
	return resp, err
}

// GetTask fetches a task by id or key.
func (c *Client) GetTask(ctx context.Context, idOrKey string) (Task, error) {
	var resp Task
	endpoint := c.projectPath("tasks/" + url.PathEscape(idOrKey))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// TasksPage returns a paginated task listing, optionally filtered by status.
func (c *Client) TasksPage(ctx context.Context, status string, limit int, cursor string) (PaginatedTasks, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.projectPath("tasks")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedTasks
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// HandoffTask hands a task to the next role, optionally naming the teammate
// who picks it up.
func (c *Client) HandoffTask(ctx context.Context, taskID, toRole, toUserID, notes string) (Task, error) {
	body := map[string]any{
		"to_role": toRole,
		"notes":   notes,
	}
	if toUserID != "" {
		body["to_user_id"] = toUserID
	}
	var resp Task
	endpoint := c.projectPath("tasks/" + url.PathEscape(taskID) + "/handoff")
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Notifications returns the authenticated user's notifications.
func (c *Client) Notifications(ctx context.Context, unread bool, limit int, cursor string) (PaginatedNotifications, error) {
	q := url.Values{}
	if unread {
		q.Set("unread", "true")
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v1/notifications"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedNotifications
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// MarkNotificationRead marks one notification read.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) (Notification, error) {
	var resp Notification
	endpoint := "v1/notifications/" + url.PathEscape(id) + "/read"
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// TriggerDeployment starts a deployment pipeline for the project.
func (c *Client) TriggerDeployment(ctx context.Context, environment, branch, commitSHA string) (Pipeline, error) {
	body := map[string]any{
		"environment": environment,
		"branch":      branch,
		"commit_sha":  commitSHA,
	}
	var resp Pipeline
	err := c.do(ctx, http.MethodPost, c.projectPath("deployments"), body, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing scoped to the project.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	q.Set("project_id", c.ProjectID)
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, "v1/events?"+q.Encode(), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v1/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
