// Package tjs implements the runtime substrate for a sandboxed
// JavaScript/TypeScript execution environment: module resolution and
// transformation, a TLS pipe driver, a pooled connection layer, an
// HTTP/1.1 message engine, and a WebSocket frame codec, wired together
// behind one Runtime.
package tjs

import (
	"sync"

	"github.com/cobalt-run/tjs/internal/connpool"
	"github.com/cobalt-run/tjs/internal/httpmsg"
	"github.com/cobalt-run/tjs/internal/resolver"
)

// Runtime is one configured instance of the system: a module resolver, an
// HTTP client for fetch(), and (once Serve is called) a listening server.
// The zero value is not usable; construct one with NewRuntime.
type Runtime struct {
	cfg    *Config
	Logger *Logger

	resolver *resolver.Resolver
	cache    *resolver.Cache
	client   *httpmsg.Client

	mu       sync.Mutex
	listener *connpool.Listener
	server   *connpool.Server
	closed   bool
}

// NewRuntime builds a Runtime from cfg. A nil cfg uses NewConfig's
// defaults. Nothing touches the network or disk until Serve, Fetch, or
// LoadModule is called.
func NewRuntime(cfg *Config) (*Runtime, error) {
	if cfg == nil {
		cfg = NewConfig()
	}

	cache := resolver.NewCache(resolver.CacheConfig{
		Dir:          cfg.CacheDir,
		MemoryBytes:  cfg.ResolverCacheMemoryBytes,
		WatchEnabled: cfg.WatchEnabled,
	})

	res := resolver.New(resolver.Config{
		CacheDir:            cfg.CacheDir,
		RegistryURL:         cfg.JSRRegistryURL,
		HTTPImportsEnabled:  cfg.HTTPImportsEnabled,
		JSRImportsEnabled:   cfg.JSRImportsEnabled,
		NodeBuiltinsEnabled: cfg.NodeBuiltinsEnabled,
	}, cache)

	client := httpmsg.NewClient(httpmsg.ClientConfig{
		MaxSocketsPerHost:  cfg.MaxSocketsPerHost,
		PoolAcquireTimeout: cfg.PoolAcquireTimeout,
		IdleConnTimeout:    cfg.IdleConnTimeout,
		MaxRedirects:       cfg.MaxRedirects,
		TLSConfig:          cfg.TLSConfig,
	})

	return &Runtime{
		cfg:      cfg,
		Logger:   NewLogger(cfg),
		resolver: res,
		cache:    cache,
		client:   client,
	}, nil
}

// Close shuts down the Runtime: it stops accepting new connections (if
// Serve was called) and releases every pooled client connection. It does
// not wait for in-flight requests to drain.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return nil
	}
	rt.closed = true

	var err error
	if rt.listener != nil {
		err = rt.listener.Close()
	} else if rt.server != nil && rt.cfg.Listener != nil {
		err = rt.cfg.Listener.Close()
	}
	rt.client.Close()
	return err
}
