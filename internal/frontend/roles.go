package frontend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

//go:generate mockgen -destination=mocks/http_doer_mock.go -package=mocks github.com/user/modforge/internal/frontend HTTPDoer

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RateLimitedError reports that the role service throttled the lookup.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("role lookup rate limited, retry after %s", e.RetryAfter)
}

// RolesClient resolves a chat user's guild roles through the bot-scoped
// member endpoint.
type RolesClient struct {
	baseURL    string
	token      string
	httpClient HTTPDoer
}

func NewRolesClient(baseURL, token string) *RolesClient {
	return NewRolesClientWithHTTP(baseURL, token, &http.Client{Timeout: 10 * time.Second})
}

func NewRolesClientWithHTTP(baseURL, token string, httpClient HTTPDoer) *RolesClient {
	return &RolesClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: httpClient,
	}
}

// MemberRoles returns the role IDs held by userID. A throttled response maps
// to *RateLimitedError so callers can surface the wait instead of a bare
// failure.
func (c *RolesClient) MemberRoles(ctx context.Context, userID string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/members/"+userID, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("looking up member %s: %w", userID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 5 * time.Second
		if header := resp.Header.Get("Retry-After"); header != "" {
			if seconds, err := strconv.ParseFloat(header, 64); err == nil {
				retryAfter = time.Duration(seconds * float64(time.Second))
			}
		}
		return nil, &RateLimitedError{RetryAfter: retryAfter}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("role lookup error: %d: %s", resp.StatusCode, string(body))
	}

	var member struct {
		Roles []string `json:"roles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&member); err != nil {
		return nil, fmt.Errorf("decoding member: %w", err)
	}
	return member.Roles, nil
}
