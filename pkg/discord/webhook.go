// Package discord posts embed messages to a Discord-compatible webhook.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cenkalti/backoff/v4"
)

//go:generate mockgen -destination=mocks/http_doer_mock.go -package=mocks github.com/user/modforge/pkg/discord HTTPDoer

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

const maxAttempts = 3

type Webhook struct {
	url        string
	httpClient HTTPDoer
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:        url,
		httpClient: &http.Client{},
	}
}

func NewWebhookWithHTTP(url string, httpClient HTTPDoer) *Webhook {
	return &Webhook{
		url:        url,
		httpClient: httpClient,
	}
}

type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Thumbnail struct {
	URL string `json:"url"`
}

type Embed struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Color       int        `json:"color"`
	Fields      []Field    `json:"fields"`
	Thumbnail   *Thumbnail `json:"thumbnail,omitempty"`
}

type Message struct {
	Content   *string `json:"content"`
	Embeds    []Embed `json:"embeds"`
	Username  string  `json:"username,omitempty"`
	AvatarURL string  `json:"avatar_url,omitempty"`
}

// Post delivers one message, retrying transient failures a few times with
// exponential backoff.
func (w *Webhook) Post(ctx context.Context, message Message) error {
	// The wire shape keeps an empty field list rather than null.
	for i := range message.Embeds {
		if message.Embeds[i].Fields == nil {
			message.Embeds[i].Fields = []Field{}
		}
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("executing request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("webhook error: %d", resp.StatusCode)
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxAttempts-1), ctx)
	return backoff.Retry(attempt, policy)
}
