// Package cache implements the versioned resource cache of the application shell:
// generation priming on install, purge of stale generations on activation, and the
// cache-first fetch path with an offline fallback.
package cache

import (
	"context"
	"net/http"
)

// Response is a stored response snapshot.
type Response struct {
	Status int         `json:"status"`
	Header http.Header `json:"header,omitempty"`
	Body   []byte      `json:"body,omitempty"`
	URL    string      `json:"url,omitempty"`
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Clone returns a deep copy so a stored snapshot never aliases a response handed to a caller.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := &Response{Status: r.Status, Header: r.Header.Clone(), URL: r.URL}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}

// Key is the request identity used as the cache key.
func Key(method, uri string) string {
	return method + " " + uri
}

// RequestKey derives the cache key of an intercepted request.
func RequestKey(r *http.Request) string {
	return Key(r.Method, r.URL.RequestURI())
}

// Storage holds named cache generations.
type Storage interface {
	// Open returns the bucket of a generation, creating it if needed.
	Open(ctx context.Context, generation string) (Bucket, error)
	// Generations lists every existing generation name.
	Generations(ctx context.Context) ([]string, error)
	// Delete removes a generation and reports whether it existed.
	Delete(ctx context.Context, generation string) (bool, error)
}

// Bucket is the content of one generation.
type Bucket interface {
	Match(ctx context.Context, key string) (*Response, bool, error)
	Put(ctx context.Context, key string, resp *Response) error
}
