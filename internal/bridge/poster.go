package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPPoster posts foreground messages to a remote agent's /messages endpoint.
type HTTPPoster struct {
	baseURL string
	client  *http.Client
}

func NewHTTPPoster(baseURL string, client *http.Client) *HTTPPoster {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPPoster{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// HasActive reports whether a remote agent is configured.
func (p *HTTPPoster) HasActive() bool { return p != nil && p.baseURL != "" }

func (p *HTTPPoster) Post(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("post message: status %d", resp.StatusCode)
	}
	return nil
}
