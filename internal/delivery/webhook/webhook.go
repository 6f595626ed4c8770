// Package webhook implements outbound webhook delivery shared by the
// alert engine's notification fan-out (§4.6) and the scheduler's report
// delivery channel (§4.10), grounded on the teacher's security middleware
// use of net/http with bearer-token auth headers.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client posts notifications to a configured webhook endpoint.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// New builds a webhook Client.
func New(baseURL, authToken string) *Client {
	return &Client{baseURL: baseURL, authToken: authToken, httpClient: &http.Client{Timeout: 10 * time.Second}}
}

// Headers carries the ntfy-style header set §4.6 specifies: Title, Tags,
// and an optional Priority for CRITICAL alerts.
type Headers struct {
	Title    string
	Tags     string
	Priority string
}

// Post sends body to baseURL + "/" + pathSuffix with the configured bearer
// token and the given headers.
func (c *Client) Post(ctx context.Context, pathSuffix, body string, headers Headers) error {
	url := fmt.Sprintf("%s/%s", c.baseURL, pathSuffix)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(body))
	if err != nil {
		return err
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	if headers.Title != "" {
		req.Header.Set("Title", headers.Title)
	}
	if headers.Tags != "" {
		req.Header.Set("Tags", headers.Tags)
	}
	if headers.Priority != "" {
		req.Header.Set("Priority", headers.Priority)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook delivery failed with status %d", resp.StatusCode)
	}
	return nil
}

// PostURL sends body to an arbitrary absolute url with arbitrary headers,
// for callers (scheduler report delivery) that don't route off baseURL.
func PostURL(ctx context.Context, url string, body []byte, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook delivery failed with status %d", resp.StatusCode)
	}
	return nil
}
