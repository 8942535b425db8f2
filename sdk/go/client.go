package siteworksdk

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

// Client is a minimal Sitework HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// User represents an account (partial).
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// Project represents the API project model (partial).
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// Task represents the API task model (partial).
type Task struct {
	ID         string  `json:"id"`
	ProjectID  string  `json:"project_id"`
	Title      string  `json:"title"`
	Status     string  `json:"status"`
	AssigneeID *string `json:"assignee_id,omitempty"`
	DueDate    *string `json:"due_date,omitempty"`
}

// Installation represents a scheduled on-site job.
type Installation struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Title       string  `json:"title"`
	Status      string  `json:"status"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	ScheduledAt *string `json:"scheduled_at,omitempty"`
	Address     string  `json:"address"`
}

// PurchaseItem is one requested line item.
type PurchaseItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Unit     string `json:"unit"`
	Note     string `json:"note,omitempty"`
}

// PurchaseRequest represents a materials request with its items.
type PurchaseRequest struct {
	ID             string         `json:"id"`
	TaskID         *string        `json:"task_id,omitempty"`
	InstallationID *string        `json:"installation_id,omitempty"`
	CreatedBy      string         `json:"created_by"`
	Comment        string         `json:"comment,omitempty"`
	Status         string         `json:"status"`
	ApprovedBy     *string        `json:"approved_by,omitempty"`
	Items          []PurchaseItem `json:"items,omitempty"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Session is the register/login response.
type Session struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Register creates an account and stores the returned token on the client.
func (c *Client) Register(ctx context.Context, email, name, password string) (Session, error) {
	body := map[string]any{"email": email, "name": name, "password": password}
	var resp Session
	if err := c.do(ctx, http.MethodPost, "v1/auth/register", body, &resp); err != nil {
		return Session{}, err
	}
	c.BearerToken = resp.Token
	return resp, nil
}

// Login authenticates and stores the returned token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	body := map[string]any{"email": email, "password": password}
	var resp Session
	if err := c.do(ctx, http.MethodPost, "v1/auth/login", body, &resp); err != nil {
		return Session{}, err
	}
	c.BearerToken = resp.Token
	return resp, nil
}

// Me returns the authenticated account.
func (c *Client) Me(ctx context.Context) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, "v1/me", nil, &resp)
	return resp, err
}

// CreateProject creates a project (managers only).
func (c *Client) CreateProject(ctx context.Context, name, description string) (Project, error) {
	body := map[string]any{"name": name}
	if description != "" {
		body["description"] = description
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "v1/projects", body, &resp)
	return resp, err
}

// Projects lists projects visible to the caller.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, "v1/projects", nil, &resp)
	return resp, err
}

// CreateTask creates a task (managers only).
func (c *Client) CreateTask(ctx context.Context, projectID, title string, assigneeID *string) (Task, error) {
	body := map[string]any{"project_id": projectID, "title": title}
	if assigneeID != nil {
		body["assignee_id"] = *assigneeID
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v1/tasks", body, &resp)
	return resp, err
}

// Tasks lists tasks visible to the caller.
func (c *Client) Tasks(ctx context.Context, projectID, status string) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, listEndpoint("v1/tasks", projectID, status), nil, &resp)
	return resp, err
}

// UpdateTaskStatus moves a task to the given status.
func (c *Client) UpdateTaskStatus(ctx context.Context, taskID, status string) (Task, error) {
	var resp Task
	endpoint := "v1/tasks/" + url.PathEscape(taskID)
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// Installations lists installations visible to the caller.
func (c *Client) Installations(ctx context.Context, projectID, status string) ([]Installation, error) {
	var resp []Installation
	err := c.do(ctx, http.MethodGet, listEndpoint("v1/installations", projectID, status), nil, &resp)
	return resp, err
}

// ItemInput is one line item for CreatePurchaseRequest.
type ItemInput struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Unit     string `json:"unit"`
	Note     string `json:"note,omitempty"`
}

// CreatePurchaseRequest raises a materials request against exactly one task
// or installation.
func (c *Client) CreatePurchaseRequest(ctx context.Context, taskID, installationID *string, comment string, items []ItemInput) (PurchaseRequest, error) {
	body := map[string]any{"items": items}
	if taskID != nil {
		body["task_id"] = *taskID
	}
	if installationID != nil {
		body["installation_id"] = *installationID
	}
	if comment != "" {
		body["comment"] = comment
	}
	var resp PurchaseRequest
	err := c.do(ctx, http.MethodPost, "v1/purchase-requests", body, &resp)
	return resp, err
}

// PurchaseRequests lists requests visible to the caller.
func (c *Client) PurchaseRequests(ctx context.Context, status string) ([]PurchaseRequest, error) {
	endpoint := "v1/purchase-requests"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []PurchaseRequest
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetPurchaseRequest fetches a request with its items.
func (c *Client) GetPurchaseRequest(ctx context.Context, id string) (PurchaseRequest, error) {
	var resp PurchaseRequest
	err := c.do(ctx, http.MethodGet, "v1/purchase-requests/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// DecidePurchaseRequest approves or rejects a pending request (managers only).
func (c *Client) DecidePurchaseRequest(ctx context.Context, id, status string) (PurchaseRequest, error) {
	var resp PurchaseRequest
	endpoint := "v1/purchase-requests/" + url.PathEscape(id) + "/status"
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// Events returns recent audit log entries (managers only).
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v1/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func listEndpoint(base, projectID, status string) string {
	q := url.Values{}
	if projectID != "" {
		q.Set("project_id", projectID)
	}
	if status != "" {
		q.Set("status", status)
	}
	if len(q) == 0 {
		return base
	}
	return base + "?" + q.Encode()
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

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
