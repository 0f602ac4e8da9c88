// Package taiga is a client for the project's Taiga issue tracker, covering
// the handful of endpoints release automation needs.
package taiga

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

//go:generate mockgen -destination=mocks/http_doer_mock.go -package=mocks github.com/user/modforge/pkg/taiga HTTPDoer

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	baseURL    string
	username   string
	password   string
	projectID  int
	token      string
	httpClient HTTPDoer
}

func NewClient(baseURL, username, password string, projectID int) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
		projectID:  projectID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func NewClientWithHTTP(baseURL, username, password string, projectID int, httpClient HTTPDoer) *Client {
	c := NewClient(baseURL, username, password, projectID)
	c.httpClient = httpClient
	return c
}

// Authenticate exchanges the configured credentials for a bearer token used
// by every subsequent call.
func (c *Client) Authenticate(ctx context.Context) error {
	var resp authResponse
	err := c.call(ctx, http.MethodPost, "/auth", nil, map[string]string{
		"username": c.username,
		"password": c.password,
		"type":     "normal",
	}, &resp)
	if err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}
	c.token = resp.AuthToken
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, params url.Values, body, out interface{}) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling payload: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("x-disable-pagination", "True")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("tracker API error: %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) ListStories(ctx context.Context, filter StoryFilter) ([]Story, error) {
	params := url.Values{}
	params.Set("project", strconv.Itoa(c.projectID))
	if filter.Status != nil {
		params.Set("status", strconv.Itoa(*filter.Status))
	}
	if len(filter.Tags) > 0 {
		params.Set("tags", strings.Join(filter.Tags, ","))
	}

	var stories []Story
	if err := c.call(ctx, http.MethodGet, "/userstories", params, nil, &stories); err != nil {
		return nil, err
	}
	return stories, nil
}

func (c *Client) ListEpics(ctx context.Context) ([]Epic, error) {
	params := url.Values{}
	params.Set("project", strconv.Itoa(c.projectID))

	var epics []Epic
	if err := c.call(ctx, http.MethodGet, "/epics", params, nil, &epics); err != nil {
		return nil, err
	}
	return epics, nil
}

// UpdateStory issues a conditional patch keyed on the version the caller last
// read; the tracker rejects stale versions.
func (c *Client) UpdateStory(ctx context.Context, storyID, version int, patch StoryPatch) error {
	data := map[string]interface{}{"version": version}
	if patch.Status != nil {
		data["status"] = *patch.Status
	}
	if patch.Tags != nil {
		data["tags"] = patch.Tags
	}
	if patch.Comment != "" {
		data["comment"] = patch.Comment
	}

	return c.call(ctx, http.MethodPatch, fmt.Sprintf("/userstories/%d", storyID), nil, data, nil)
}

func (c *Client) UpdateEpic(ctx context.Context, epicID, version int, patch EpicPatch) error {
	data := map[string]interface{}{"version": version}
	if patch.Status != nil {
		data["status"] = *patch.Status
	}
	if patch.Order != nil {
		data["epics_order"] = *patch.Order
	}

	return c.call(ctx, http.MethodPatch, fmt.Sprintf("/epics/%d", epicID), nil, data, nil)
}

func (c *Client) CreateEpic(ctx context.Context, name string, status int) (*Epic, error) {
	data := map[string]interface{}{
		"project": c.projectID,
		"subject": name,
		"status":  status,
	}

	var epic Epic
	if err := c.call(ctx, http.MethodPost, "/epics", nil, data, &epic); err != nil {
		return nil, err
	}
	return &epic, nil
}

func (c *Client) CreateTag(ctx context.Context, name, color string) error {
	path := fmt.Sprintf("/projects/%d/create_tag", c.projectID)
	return c.call(ctx, http.MethodPost, path, nil, map[string]string{
		"tag":   name,
		"color": color,
	}, nil)
}

func (c *Client) AttachStoryToEpic(ctx context.Context, epicID, storyID int) error {
	path := fmt.Sprintf("/epics/%d/related_userstories", epicID)
	return c.call(ctx, http.MethodPost, path, nil, map[string]int{
		"epic":       epicID,
		"user_story": storyID,
	}, nil)
}

// BulkReorderStories rewrites the kanban order of a status column.
func (c *Client) BulkReorderStories(ctx context.Context, storyIDs []int, status int) error {
	return c.call(ctx, http.MethodPost, "/userstories/bulk_update_kanban_order", nil, map[string]interface{}{
		"bulk_userstories": storyIDs,
		"project_id":       c.projectID,
		"status_id":        status,
	}, nil)
}

func (c *Client) GetStoryAttributes(ctx context.Context, storyID int) (*StoryAttributes, error) {
	path := fmt.Sprintf("/userstories/custom-attributes-values/%d", storyID)

	var attrs StoryAttributes
	if err := c.call(ctx, http.MethodGet, path, nil, nil, &attrs); err != nil {
		return nil, err
	}
	return &attrs, nil
}

func (c *Client) GetStoryHistory(ctx context.Context, storyID int) ([]HistoryEntry, error) {
	path := fmt.Sprintf("/history/userstory/%d", storyID)

	var entries []HistoryEntry
	if err := c.call(ctx, http.MethodGet, path, nil, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
