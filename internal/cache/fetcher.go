package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Fetcher performs the network leg of a request.
// A returned error means the network was unreachable; HTTP error statuses are responses.
type Fetcher interface {
	Fetch(ctx context.Context, r *http.Request) (*Response, error)
}

// HTTPFetcher forwards requests to the application origin.
type HTTPFetcher struct {
	origin  *url.URL
	client  *http.Client
	maxBody int64
}

const maxBodyBytes = 16 << 20

// ErrBodyTooLarge is returned for origin responses over the body limit. Such a response
// is treated as a failed fetch so a truncated body never reaches the cache.
var ErrBodyTooLarge = errors.New("response body too large")

var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

func NewHTTPFetcher(origin string, client *http.Client) (*HTTPFetcher, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("origin %q must be absolute", origin)
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPFetcher{origin: u, client: client, maxBody: maxBodyBytes}, nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context, r *http.Request) (*Response, error) {
	target := *f.origin
	target.Path = strings.TrimRight(f.origin.Path, "/") + r.URL.Path
	target.RawQuery = r.URL.RawQuery

	var body io.Reader
	if r.Body != nil && r.Body != http.NoBody {
		body = r.Body
	}
	out, err := http.NewRequestWithContext(ctx, r.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	out.Header = r.Header.Clone()
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}

	resp, err := f.client.Do(out)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target.String(), err)
	}
	if int64(len(data)) > f.maxBody {
		return nil, fmt.Errorf("read %s: %w (limit %d bytes)", target.String(), ErrBodyTooLarge, f.maxBody)
	}
	header := resp.Header.Clone()
	for _, h := range hopHeaders {
		header.Del(h)
	}
	return &Response{Status: resp.StatusCode, Header: header, Body: data, URL: r.URL.RequestURI()}, nil
}
