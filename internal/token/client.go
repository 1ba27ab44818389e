// Package token fetches room connection grants from the backend token
// service.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aviarylabs/voice-console/internal/observability"
)

// Grant is a room connection credential
type Grant struct {
	Token   string `json:"token"`
	Address string `json:"address"`
}

// StatusError is returned when the token service answers with a non-200
// status
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("token service returned status %d", e.StatusCode)
}

// Client fetches grants over HTTP
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the token service at baseURL
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Fetch requests a grant for the given agent parameters. Any non-200
// response yields a StatusError.
func (c *Client) Fetch(ctx context.Context, voice, personality string, speed float64) (Grant, error) {
	endpoint, err := url.Parse(c.baseURL)
	if err != nil {
		return Grant{}, fmt.Errorf("invalid token service URL: %w", err)
	}
	endpoint = endpoint.JoinPath("token")

	q := endpoint.Query()
	q.Set("voice", voice)
	q.Set("personality", personality)
	q.Set("speed", strconv.FormatFloat(speed, 'f', -1, 64))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Grant{}, fmt.Errorf("build token request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Grant{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()
	observability.ObserveTokenFetch(time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return Grant{}, &StatusError{StatusCode: resp.StatusCode}
	}

	var grant Grant
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return Grant{}, fmt.Errorf("decode token response: %w", err)
	}
	if grant.Token == "" || grant.Address == "" {
		return Grant{}, fmt.Errorf("token response missing token or address")
	}
	return grant, nil
}
