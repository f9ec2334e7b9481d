package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	xlog "github.com/duisenbekovayan/order_live/internal/log"
	"github.com/duisenbekovayan/order_live/internal/metrics"
)

// ErrResourceUnavailable is returned when the network failed and no offline fallback is cached.
var ErrResourceUnavailable = errors.New("resource unavailable")

// ResourceCache serves shell resources cache-first out of the current generation.
type ResourceCache struct {
	manifest Manifest
	storage  Storage
	fetcher  Fetcher
	logger   zerolog.Logger

	writes sync.WaitGroup
}

type Options struct {
	Manifest Manifest
	Storage  Storage
	Fetcher  Fetcher
	Logger   *zerolog.Logger
}

func New(opts Options) *ResourceCache {
	if opts.Storage == nil {
		opts.Storage = NewMemoryStorage()
	}
	if opts.Manifest.Generation == "" {
		opts.Manifest = DefaultManifest()
	}
	logger := xlog.WithComponent("cache")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &ResourceCache{
		manifest: opts.Manifest,
		storage:  opts.Storage,
		fetcher:  opts.Fetcher,
		logger:   logger.With().Str(xlog.FieldGeneration, opts.Manifest.Generation).Logger(),
	}
}

// Generation is the live generation tag.
func (c *ResourceCache) Generation() string { return c.manifest.Generation }

// Install primes the current generation with every manifest resource. Any failed fetch
// fails the install and leaves no partially filled generation behind.
func (c *ResourceCache) Install(ctx context.Context) error {
	existing, err := c.storage.Generations(ctx)
	if err != nil {
		return fmt.Errorf("install: %w", err)
	}
	preexisting := false
	for _, g := range existing {
		if g == c.manifest.Generation {
			preexisting = true
			break
		}
	}

	paths := c.manifest.Paths()
	fetched := make([]*Response, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range paths {
		g.Go(func() error {
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, p, nil)
			if err != nil {
				return err
			}
			resp, err := c.fetcher.Fetch(gctx, req)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", p, err)
			}
			if !resp.OK() {
				return fmt.Errorf("fetch %s: status %d", p, resp.Status)
			}
			fetched[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.CacheInstallsTotal.WithLabelValues(c.manifest.Generation, "failed").Inc()
		return fmt.Errorf("install %s: %w", c.manifest.Generation, err)
	}

	bucket, err := c.storage.Open(ctx, c.manifest.Generation)
	if err != nil {
		return fmt.Errorf("install: %w", err)
	}
	for i, p := range paths {
		if err := bucket.Put(ctx, Key(http.MethodGet, p), fetched[i]); err != nil {
			if !preexisting {
				if _, derr := c.storage.Delete(context.WithoutCancel(ctx), c.manifest.Generation); derr != nil {
					c.logger.Warn().Err(derr).Msg("failed to drop partial generation")
				}
			}
			metrics.CacheInstallsTotal.WithLabelValues(c.manifest.Generation, "failed").Inc()
			return fmt.Errorf("install %s: store %s: %w", c.manifest.Generation, p, err)
		}
	}

	metrics.CacheInstallsTotal.WithLabelValues(c.manifest.Generation, "ok").Inc()
	c.logger.Info().Int("resources", len(paths)).Msg("cache generation installed")
	return nil
}

// Activate deletes every generation other than the current one and waits for all deletions.
func (c *ResourceCache) Activate(ctx context.Context) error {
	names, err := c.storage.Generations(ctx)
	if err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		if name == c.manifest.Generation {
			continue
		}
		g.Go(func() error {
			deleted, err := c.storage.Delete(gctx, name)
			if err != nil {
				return err
			}
			if deleted {
				metrics.CacheGenerationsDeleted.Inc()
				c.logger.Info().Str("stale", name).Msg("deleted stale cache generation")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	return nil
}

// HandleFetch answers an intercepted request. Only GET requests use the cache; a network
// response is stored write-through without delaying the caller.
func (c *ResourceCache) HandleFetch(ctx context.Context, r *http.Request) (*Response, error) {
	if r.Method != http.MethodGet {
		metrics.IncCacheLookup("bypass")
		resp, err := c.fetcher.Fetch(ctx, r)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s: %v", ErrResourceUnavailable, r.Method, r.URL.RequestURI(), err)
		}
		return resp, nil
	}

	key := RequestKey(r)
	bucket, err := c.storage.Open(ctx, c.manifest.Generation)
	if err != nil {
		c.logger.Warn().Err(err).Msg("cache storage unavailable, using network only")
		bucket = nil
	}
	if bucket != nil {
		cached, ok, err := bucket.Match(ctx, key)
		if err != nil {
			c.logger.Warn().Err(err).Str(xlog.FieldURL, key).Msg("cache match failed")
		}
		if ok {
			metrics.IncCacheLookup("hit")
			return cached, nil
		}
	}

	resp, err := c.fetcher.Fetch(ctx, r)
	if err != nil {
		return c.offline(ctx, bucket, r, err)
	}
	metrics.IncCacheLookup("miss")
	if resp.OK() && bucket != nil {
		c.store(ctx, bucket, key, resp.Clone())
	}
	return resp, nil
}

func (c *ResourceCache) offline(ctx context.Context, bucket Bucket, r *http.Request, cause error) (*Response, error) {
	if bucket != nil && c.manifest.Offline != "" {
		fallback, ok, err := bucket.Match(ctx, Key(http.MethodGet, c.manifest.Offline))
		if err == nil && ok {
			metrics.IncCacheLookup("offline")
			c.logger.Debug().Err(cause).Str(xlog.FieldURL, r.URL.RequestURI()).Msg("network failed, serving offline fallback")
			return fallback, nil
		}
	}
	metrics.IncCacheLookup("unavailable")
	return nil, fmt.Errorf("%w: %s: %v", ErrResourceUnavailable, r.URL.RequestURI(), cause)
}

func (c *ResourceCache) store(ctx context.Context, bucket Bucket, key string, resp *Response) {
	c.writes.Add(1)
	go func() {
		defer c.writes.Done()
		if err := bucket.Put(context.WithoutCancel(ctx), key, resp); err != nil {
			c.logger.Warn().Err(err).Str(xlog.FieldURL, key).Msg("cache write failed")
		}
	}()
}

// Flush waits for pending write-through stores.
func (c *ResourceCache) Flush() {
	c.writes.Wait()
}
