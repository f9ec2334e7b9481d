package cache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu      sync.Mutex
	calls   map[string]int
	fail    map[string]bool
	offline bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: map[string]int{}, fail: map[string]bool{}}
}

func (f *fakeFetcher) Fetch(_ context.Context, r *http.Request) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := RequestKey(r)
	f.calls[key]++
	if f.offline || f.fail[r.URL.Path] {
		return nil, errors.New("dial tcp: connection refused")
	}
	if r.URL.Path == "/missing" {
		return &Response{Status: http.StatusNotFound, Body: []byte("nope")}, nil
	}
	return &Response{Status: http.StatusOK, Body: []byte("body of " + r.URL.Path), URL: r.URL.RequestURI()}, nil
}

func (f *fakeFetcher) count(method, uri string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[Key(method, uri)]
}

func testManifest(gen string) Manifest {
	return Manifest{Generation: gen, Offline: "/offline.html", Resources: []string{"/", "/js/app.js"}}
}

func newTestCache(t *testing.T, m Manifest, s Storage, f Fetcher) *ResourceCache {
	t.Helper()
	logger := zerolog.Nop()
	return New(Options{Manifest: m, Storage: s, Fetcher: f, Logger: &logger})
}

func TestInstall_PrimesWholeManifest(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	c := newTestCache(t, testManifest("v1"), storage, newFakeFetcher())

	require.NoError(t, c.Install(ctx))

	bucket, err := storage.Open(ctx, "v1")
	require.NoError(t, err)
	for _, p := range []string{"/", "/js/app.js", "/offline.html"} {
		_, ok, err := bucket.Match(ctx, Key(http.MethodGet, p))
		require.NoError(t, err)
		assert.True(t, ok, "expected %s to be primed", p)
	}
}

func TestInstall_FailureLeavesNoGeneration(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	f := newFakeFetcher()
	f.fail["/js/app.js"] = true
	c := newTestCache(t, testManifest("v2"), storage, f)

	err := c.Install(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/js/app.js")

	names, err := storage.Generations(ctx)
	require.NoError(t, err)
	assert.NotContains(t, names, "v2")
}

func TestActivate_PurgesStaleGenerationsIdempotently(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	for _, g := range []string{"v0", "v1", "legacy"} {
		_, err := storage.Open(ctx, g)
		require.NoError(t, err)
	}
	c := newTestCache(t, testManifest("v1"), storage, newFakeFetcher())

	for i := 0; i < 2; i++ {
		require.NoError(t, c.Activate(ctx))
		names, err := storage.Generations(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"v1"}, names)
	}
}

func TestHandleFetch_CacheHitSkipsNetwork(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	c := newTestCache(t, testManifest("v1"), NewMemoryStorage(), f)

	req := httptest.NewRequest(http.MethodGet, "/customer/menu.html?stall=3", nil)
	first, err := c.HandleFetch(ctx, req)
	require.NoError(t, err)
	c.Flush()

	second, err := c.HandleFetch(ctx, httptest.NewRequest(http.MethodGet, "/customer/menu.html?stall=3", nil))
	require.NoError(t, err)

	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, 1, f.count(http.MethodGet, "/customer/menu.html?stall=3"))
}

func TestHandleFetch_ErrorStatusNotCached(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	c := newTestCache(t, testManifest("v1"), NewMemoryStorage(), f)

	for i := 0; i < 2; i++ {
		resp, err := c.HandleFetch(ctx, httptest.NewRequest(http.MethodGet, "/missing", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.Status)
		c.Flush()
	}
	assert.Equal(t, 2, f.count(http.MethodGet, "/missing"))
}

func TestHandleFetch_OfflineFallback(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	c := newTestCache(t, testManifest("v1"), NewMemoryStorage(), f)
	require.NoError(t, c.Install(ctx))

	f.offline = true
	resp, err := c.HandleFetch(ctx, httptest.NewRequest(http.MethodGet, "/customer/cart.html", nil))
	require.NoError(t, err)
	assert.Equal(t, "body of /offline.html", string(resp.Body))
}

func TestHandleFetch_UnavailableWithoutFallback(t *testing.T) {
	f := newFakeFetcher()
	f.offline = true
	c := newTestCache(t, testManifest("v1"), NewMemoryStorage(), f)

	_, err := c.HandleFetch(context.Background(), httptest.NewRequest(http.MethodGet, "/customer/cart.html", nil))
	require.ErrorIs(t, err, ErrResourceUnavailable)
}

func TestHandleFetch_NonGetBypassesCache(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	f := newFakeFetcher()
	c := newTestCache(t, testManifest("v1"), storage, f)

	for i := 0; i < 2; i++ {
		_, err := c.HandleFetch(ctx, httptest.NewRequest(http.MethodPost, "/api/orders", nil))
		require.NoError(t, err)
	}
	c.Flush()
	assert.Equal(t, 2, f.count(http.MethodPost, "/api/orders"))

	bucket, err := storage.Open(ctx, "v1")
	require.NoError(t, err)
	_, ok, err := bucket.Match(ctx, Key(http.MethodPost, "/api/orders"))
	require.NoError(t, err)
	assert.False(t, ok)
}

type failingPutStorage struct{ *MemoryStorage }

func (s failingPutStorage) Open(ctx context.Context, gen string) (Bucket, error) {
	b, err := s.MemoryStorage.Open(ctx, gen)
	if err != nil {
		return nil, err
	}
	return failingPutBucket{b}, nil
}

type failingPutBucket struct{ Bucket }

func (failingPutBucket) Put(context.Context, string, *Response) error {
	return errors.New("quota exceeded")
}

func TestHandleFetch_StoreFailureDoesNotFailResponse(t *testing.T) {
	f := newFakeFetcher()
	c := newTestCache(t, testManifest("v1"), failingPutStorage{NewMemoryStorage()}, f)

	resp, err := c.HandleFetch(context.Background(), httptest.NewRequest(http.MethodGet, "/js/app.js", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	c.Flush()
}

func TestManifestPaths_IncludesOfflineOnce(t *testing.T) {
	m := Manifest{Generation: "g", Offline: "/offline.html", Resources: []string{"/", "/offline.html", "/"}}
	assert.Equal(t, []string{"/", "/offline.html"}, m.Paths())

	m.Resources = []string{"/"}
	assert.Equal(t, []string{"/", "/offline.html"}, m.Paths())
}

func TestHandleFetch_OversizedOriginBodyIsNeverCached(t *testing.T) {
	ctx := context.Background()
	var hits atomic.Int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		size := 64
		if r.URL.Path == "/big.bin" {
			size = 65
		}
		_, _ = w.Write([]byte(strings.Repeat("x", size)))
	}))
	defer origin.Close()

	f, err := NewHTTPFetcher(origin.URL, origin.Client())
	require.NoError(t, err)
	f.maxBody = 64

	storage := NewMemoryStorage()
	c := newTestCache(t, Manifest{Generation: "v1"}, storage, f)

	for i := 0; i < 2; i++ {
		_, err := c.HandleFetch(ctx, httptest.NewRequest(http.MethodGet, "/big.bin", nil))
		require.ErrorIs(t, err, ErrResourceUnavailable)
		assert.Contains(t, err.Error(), ErrBodyTooLarge.Error())
	}
	c.Flush()
	assert.Equal(t, int32(2), hits.Load())

	bucket, err := storage.Open(ctx, "v1")
	require.NoError(t, err)
	_, ok, err := bucket.Match(ctx, Key(http.MethodGet, "/big.bin"))
	require.NoError(t, err)
	assert.False(t, ok)

	resp, err := c.HandleFetch(ctx, httptest.NewRequest(http.MethodGet, "/at-limit.bin", nil))
	require.NoError(t, err)
	assert.Len(t, resp.Body, 64)
}

func TestHTTPFetcher_RejectsBodyOverLimit(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 10)))
	}))
	defer origin.Close()

	f, err := NewHTTPFetcher(origin.URL, origin.Client())
	require.NoError(t, err)
	f.maxBody = 9

	_, err = f.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "/x", nil))
	require.ErrorIs(t, err, ErrBodyTooLarge)
}
