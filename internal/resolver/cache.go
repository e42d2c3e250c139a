package resolver

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/aofei/mimesniffer"
	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/vmihailenco/msgpack/v5"
)

// CacheConfig configures a Cache.
type CacheConfig struct {
	// Dir is the cache root, laid out as
	// <Dir>/http/<host>/<hash(url)><ext> for remote modules and
	// <Dir>/jsr/<scope>/<name>/<version>/... for JSR packages.
	Dir string

	// MemoryBytes sizes the fastcache front of the disk cache.
	MemoryBytes int

	// WatchEnabled turns on fsnotify-based invalidation of cached
	// entries when their backing files change on disk.
	WatchEnabled bool
}

// entryMeta is the msgpack-encoded sidecar written next to a cached
// module's body, recording enough to answer Get without re-reading the
// body for its content type.
type entryMeta struct {
	URL         string    `msgpack:"url"`
	ContentType string    `msgpack:"content_type"`
	FetchedAt   time.Time `msgpack:"fetched_at"`
}

// Cache is the on-disk, fastcache-fronted module cache: a sync.Map of
// known entries, a fastcache.Cache holding recently used bodies keyed by
// content hash, and an fsnotify watcher that evicts stale entries.
type Cache struct {
	cfg CacheConfig

	loadOnce  sync.Once
	entries   sync.Map // cache key (string) -> *entry
	memory    *fastcache.Cache
	watcher   *fsnotify.Watcher
	loadError error

	// OnInvalidate, when set, is called with the original URL of any
	// entry evicted by a watched file change. The resolver uses this to
	// drop the corresponding in-process Module Record.
	OnInvalidate func(url string)
}

// entry is one cached module body plus its sidecar metadata.
type entry struct {
	key      string
	path     string
	metaPath string
	meta     entryMeta
	checksum [32]byte
}

// NewCache returns a Cache configured from cfg. Nothing touches disk
// until the first Get or Put.
func NewCache(cfg CacheConfig) *Cache {
	return &Cache{cfg: cfg}
}

// load lazily initializes the fastcache front and, when WatchEnabled, the
// fsnotify watcher and its dispatch goroutine.
func (c *Cache) load() {
	c.loadOnce.Do(func() {
		c.memory = fastcache.New(c.cfg.MemoryBytes)

		if !c.cfg.WatchEnabled {
			return
		}

		w, err := fsnotify.NewWatcher()
		if err != nil {
			c.loadError = fmt.Errorf(
				"resolver: failed to build cache watcher: %w", err,
			)
			return
		}
		c.watcher = w

		go func() {
			for {
				select {
				case e, ok := <-w.Events:
					if !ok {
						return
					}
					c.invalidatePath(e.Name)
				case _, ok := <-w.Errors:
					if !ok {
						return
					}
				}
			}
		}()
	})
}

// cacheKey returns the stable on-disk identity of url: its host directory
// plus the lowercase hex xxhash of the full URL.
func (c *Cache) cacheKey(rawURL string) (dir, hash string) {
	u, err := url.Parse(rawURL)
	host := "unknown"
	if err == nil && u.Host != "" {
		host = u.Host
	}
	sum := xxhash.Sum64String(rawURL)
	return host, hex.EncodeToString([]byte{
		byte(sum >> 56), byte(sum >> 48), byte(sum >> 40), byte(sum >> 32),
		byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum),
	})
}

// extFor returns the cache file extension for rawURL, falling back to
// sniffing body's content when the URL itself carries no recognizable
// extension.
func extFor(rawURL string, body []byte) string {
	if ext := filepath.Ext(rawURL); ext != "" && len(ext) <= 6 {
		return ext
	}

	switch mimesniffer.Sniff(body) {
	case "application/json":
		return ".json"
	default:
		return ".js"
	}
}

// Get returns the cached body and content type for rawURL, or
// found == false on a cache miss (either layer).
func (c *Cache) Get(rawURL string) (body []byte, contentType string, found bool) {
	c.load()

	host, hash := c.cacheKey(rawURL)
	key := host + "/" + hash

	if ei, ok := c.entries.Load(key); ok {
		e := ei.(*entry)
		if b := c.memory.Get(nil, e.checksum[:]); len(b) > 0 {
			return b, e.meta.ContentType, true
		}
		// Memory evicted the body; fall through to disk.
		if b, err := os.ReadFile(e.path); err == nil {
			c.memory.Set(e.checksum[:], b)
			return b, e.meta.ContentType, true
		}
		c.entries.Delete(key)
		return nil, "", false
	}

	dir := filepath.Join(c.cfg.Dir, "http", host)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, "", false
	}

	for _, de := range entries {
		if de.IsDir() || filepath.Ext(de.Name()) == ".meta" {
			continue
		}
		base := de.Name()[:len(de.Name())-len(filepath.Ext(de.Name()))]
		if base != hash {
			continue
		}

		path := filepath.Join(dir, de.Name())
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, "", false
		}

		metaPath := path + ".meta"
		mb, err := os.ReadFile(metaPath)
		if err != nil {
			return nil, "", false
		}

		var m entryMeta
		if err := msgpack.Unmarshal(mb, &m); err != nil {
			return nil, "", false
		}

		e := &entry{key: key, path: path, metaPath: metaPath, meta: m}
		e.checksum = checksum(b)
		c.memory.Set(e.checksum[:], b)
		c.entries.Store(key, e)

		if c.watcher != nil {
			c.watcher.Add(path)
		}

		return b, m.ContentType, true
	}

	return nil, "", false
}

// Put writes body to the disk cache for rawURL with the given
// contentType, populates the memory front, and arms fsnotify watching
// for it when enabled.
func (c *Cache) Put(rawURL, contentType string, body []byte) error {
	c.load()
	if c.loadError != nil {
		return c.loadError
	}

	host, hash := c.cacheKey(rawURL)
	dir := filepath.Join(c.cfg.Dir, "http", host)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("resolver: failed to create cache dir: %w", err)
	}

	path := filepath.Join(dir, hash+extFor(rawURL, body))
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("resolver: failed to write cache entry: %w", err)
	}

	m := entryMeta{URL: rawURL, ContentType: contentType, FetchedAt: time.Now()}
	mb, err := msgpack.Marshal(m)
	if err != nil {
		return fmt.Errorf("resolver: failed to encode cache sidecar: %w", err)
	}

	metaPath := path + ".meta"
	if err := os.WriteFile(metaPath, mb, 0o644); err != nil {
		return fmt.Errorf("resolver: failed to write cache sidecar: %w", err)
	}

	e := &entry{key: host + "/" + hash, path: path, metaPath: metaPath, meta: m}
	e.checksum = checksum(body)
	c.memory.Set(e.checksum[:], body)
	c.entries.Store(e.key, e)

	if c.watcher != nil {
		c.watcher.Add(path)
	}

	return nil
}

// invalidatePath drops the entry (if any) whose on-disk path changed or
// was removed, from both the fastcache front and the entries index, and
// notifies OnInvalidate with its original URL.
func (c *Cache) invalidatePath(path string) {
	var hit *entry
	c.entries.Range(func(_, v interface{}) bool {
		e := v.(*entry)
		if e.path == path {
			hit = e
			return false
		}
		return true
	})

	if hit == nil {
		return
	}

	c.entries.Delete(hit.key)
	c.memory.Del(hit.checksum[:])

	if c.OnInvalidate != nil {
		c.OnInvalidate(hit.meta.URL)
	}
}

func checksum(b []byte) [32]byte {
	return sha256.Sum256(b)
}
