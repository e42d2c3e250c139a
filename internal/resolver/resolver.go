// Package resolver implements the Module Resolver & Transformer:
// specifier dispatch, the on-disk/in-memory module cache, JSR package
// resolution, and TS/TSX/JSX/JSON transformation.
package resolver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cobalt-run/tjs/internal/rterrors"
	"golang.org/x/sync/singleflight"
)

// extensionProbeOrder is the fixed order candidate extensions are probed in.
var extensionProbeOrder = []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs", ".json"}

// Config configures a Resolver.
type Config struct {
	CacheDir            string
	RegistryURL         string
	HTTPImportsEnabled  bool
	JSRImportsEnabled   bool
	NodeBuiltinsEnabled bool

	// NodeBuiltin, when non-nil, is consulted for node:NAME specifiers
	// ahead of the <cacheDir>/node/NAME fallback.
	NodeBuiltin func(name string) (string, bool)
}

// packageJSON is the subset of package.json the resolver reads for
// node_modules resolution.
type packageJSON struct {
	Main    string      `json:"main"`
	Module  string      `json:"module"`
	Exports interface{} `json:"exports"`
}

// Resolver dispatches specifiers to resolved paths, memoizing by
// (specifier, parent) and caching remote module bodies via Cache.
type Resolver struct {
	cfg        Config
	cache      *Cache
	httpClient *http.Client

	records    sync.Map // resolved path -> *Record
	remoteURLs sync.Map // resolved path -> original URL (remote URL map, )
	memo       sync.Map // "specifier\x00parent" -> string (resolved path)
	group      singleflight.Group
}

// New returns a Resolver configured from cfg, backed by cache.
func New(cfg Config, cache *Cache) *Resolver {
	return &Resolver{
		cfg:        cfg,
		cache:      cache,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Resolve dispatches specifier against parent (the absolute path of the
// importing module, "" for the entry module), memoized by (specifier,
// parent).
func (r *Resolver) Resolve(specifier, parent string) (string, error) {
	key := specifier + "\x00" + parent
	if v, ok := r.memo.Load(key); ok {
		return v.(string), nil
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		resolved, err := r.resolveUncached(specifier, parent)
		if err != nil {
			return "", err
		}
		r.memo.Store(key, resolved)
		return resolved, nil
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

func (r *Resolver) resolveUncached(specifier, parent string) (string, error) {
	switch {
	case strings.HasPrefix(specifier, "node:"):
		return r.resolveNode(strings.TrimPrefix(specifier, "node:"))
	case strings.HasPrefix(specifier, "http://"), strings.HasPrefix(specifier, "https://"):
		return r.resolveRemote(specifier)
	case strings.HasPrefix(specifier, "jsr:"):
		return r.resolveJSR(specifier)
	case strings.HasPrefix(specifier, "./"), strings.HasPrefix(specifier, "../"):
		return r.resolveRelative(specifier, parent)
	case strings.HasPrefix(specifier, "/"):
		return r.probe(specifier)
	default:
		return r.resolvePackage(specifier, parent)
	}
}

// resolveNode resolves a node:NAME specifier against NodeBuiltin, then the
// on-disk node builtin cache.
func (r *Resolver) resolveNode(name string) (string, error) {
	if !r.cfg.NodeBuiltinsEnabled {
		return "", fmt.Errorf("%w: node imports disabled: node:%s", rterrors.ErrDisabledProtocol, name)
	}

	if r.cfg.NodeBuiltin != nil {
		if path, ok := r.cfg.NodeBuiltin(name); ok {
			return path, nil
		}
	}

	return filepath.Join(r.cfg.CacheDir, "node", name), nil
}

// resolveRemote resolves an http(s):// specifier: consult the disk/memory
// cache, else fetch synchronously, write it, and return the cache path.
func (r *Resolver) resolveRemote(rawURL string) (string, error) {
	if !r.cfg.HTTPImportsEnabled {
		return "", fmt.Errorf("%w: http imports disabled: %s", rterrors.ErrDisabledProtocol, rawURL)
	}

	if _, _, found := r.cache.Get(rawURL); found {
		path := r.cachePathFor(rawURL)
		r.remoteURLs.Store(path, rawURL)
		return path, nil
	}

	resp, err := r.httpClient.Get(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", rterrors.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s returned %d", rterrors.ErrFetchFailed, rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", rterrors.ErrFetchFailed, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if err := r.cache.Put(rawURL, contentType, body); err != nil {
		return "", err
	}

	path := r.cachePathFor(rawURL)
	r.remoteURLs.Store(path, rawURL)

	return path, nil
}

// cachePathFor mirrors Cache.cacheKey's on-disk layout, used to hand the
// resolver a stable path string without re-reading the cached body.
func (r *Resolver) cachePathFor(rawURL string) string {
	host, hash := r.cache.cacheKey(rawURL)
	ext := extFor(rawURL, nil)
	return filepath.Join(r.cfg.CacheDir, "http", host, hash+ext)
}

// resolveRelative resolves a "./" or "../" specifier against the parent's
// directory, recomposing against the parent's original URL when the
// parent is itself a remote module.
func (r *Resolver) resolveRelative(specifier, parent string) (string, error) {
	if origin, ok := r.remoteURLs.Load(parent); ok {
		originURL := origin.(string)

		// jsr: URLs are opaque (not hierarchical), so net/url's
		// ResolveReference can't recompose them; resolve against the
		// package's own path component instead and re-enter step 3.
		if strings.HasPrefix(originURL, "jsr:") {
			spec, err := parseJSRSpecifier(strings.TrimPrefix(originURL, "jsr:"))
			if err != nil {
				return "", fmt.Errorf("%w: %v", rterrors.ErrResolutionFailed, err)
			}
			newPath := path.Join(path.Dir(spec.Path), specifier)
			newPath = strings.TrimPrefix(path.Clean(newPath), "/")
			recomposed := fmt.Sprintf("jsr:@%s/%s@%s/%s", spec.Scope, spec.Name, spec.Version, newPath)
			return r.resolveUncached(recomposed, parent)
		}

		base, err := url.Parse(originURL)
		if err != nil {
			return "", fmt.Errorf("%w: invalid parent origin url: %v", rterrors.ErrResolutionFailed, err)
		}
		rel, err := url.Parse(specifier)
		if err != nil {
			return "", fmt.Errorf("%w: invalid relative specifier: %v", rterrors.ErrResolutionFailed, err)
		}
		return r.resolveUncached(base.ResolveReference(rel).String(), parent)
	}

	dir := filepath.Dir(parent)
	joined := filepath.Join(dir, filepath.FromSlash(specifier))

	return r.probe(joined)
}

// resolvePackage resolves a bare package specifier against node_modules.
func (r *Resolver) resolvePackage(specifier, parent string) (string, error) {
	packageName, subpath := splitPackageSpecifier(specifier)

	dir := filepath.Dir(parent)
	for {
		candidate := filepath.Join(dir, "node_modules", packageName)
		if fi, err := os.Stat(candidate); err == nil && fi.IsDir() {
			return r.resolveFromPackageDir(candidate, subpath)
		}

		parentDir := filepath.Dir(dir)
		if parentDir == dir {
			break
		}
		dir = parentDir
	}

	return "", fmt.Errorf(
		"%w: package not found: %s (imported by %s)",
		rterrors.ErrResolutionFailed, specifier, parent,
	)
}

// splitPackageSpecifier splits "pkg/sub/path" or "@scope/pkg/sub/path"
// into the package name and the remaining subpath.
func splitPackageSpecifier(specifier string) (packageName, subpath string) {
	if strings.HasPrefix(specifier, "@") {
		parts := strings.SplitN(specifier, "/", 3)
		if len(parts) < 2 {
			return specifier, ""
		}
		packageName = parts[0] + "/" + parts[1]
		if len(parts) == 3 {
			subpath = parts[2]
		}
		return packageName, subpath
	}

	parts := strings.SplitN(specifier, "/", 2)
	packageName = parts[0]
	if len(parts) == 2 {
		subpath = parts[1]
	}
	return packageName, subpath
}

// resolveFromPackageDir honors package.json exports, then module, then
// main, falling back to index.
func (r *Resolver) resolveFromPackageDir(dir, subpath string) (string, error) {
	if subpath != "" {
		return r.probe(filepath.Join(dir, filepath.FromSlash(subpath)))
	}

	pkgPath := filepath.Join(dir, "package.json")
	b, err := os.ReadFile(pkgPath)
	if err != nil {
		return r.probe(filepath.Join(dir, "index"))
	}

	var pkg packageJSON
	if err := json.Unmarshal(b, &pkg); err != nil {
		return "", fmt.Errorf("%w: malformed package.json at %s: %v", rterrors.ErrResolutionFailed, pkgPath, err)
	}

	if entry := exportsEntry(pkg.Exports); entry != "" {
		return r.probe(filepath.Join(dir, filepath.FromSlash(entry)))
	}
	if pkg.Module != "" {
		return r.probe(filepath.Join(dir, filepath.FromSlash(pkg.Module)))
	}
	if pkg.Main != "" {
		return r.probe(filepath.Join(dir, filepath.FromSlash(pkg.Main)))
	}

	return r.probe(filepath.Join(dir, "index"))
}

// exportsEntry extracts the "." export from a package.json exports field,
// which may be a bare string, or an object keyed by "." and/or condition
// names ("import", "default", ...).
func exportsEntry(exports interface{}) string {
	switch v := exports.(type) {
	case string:
		return v
	case map[string]interface{}:
		if dot, ok := v["."]; ok {
			return exportsEntry(dot)
		}
		for _, cond := range []string{"import", "default"} {
			if s, ok := v[cond]; ok {
				return exportsEntry(s)
			}
		}
	}
	return ""
}

// probe implements extension probing: try base path as-is, recursing
// into <base>/index if base is a directory, then base with each
// extension in extensionProbeOrder.
func (r *Resolver) probe(base string) (string, error) {
	if fi, err := os.Stat(base); err == nil {
		if fi.IsDir() {
			return r.probe(filepath.Join(base, "index"))
		}
		return base, nil
	}

	for _, ext := range extensionProbeOrder {
		candidate := base + ext
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: no candidate for %s", rterrors.ErrResolutionFailed, base)
}

// Load returns the Module Record for path, transforming and caching it on
// first access.
func (r *Resolver) Load(path string) (*Record, error) {
	if v, ok := r.records.Load(path); ok {
		return v.(*Record), nil
	}

	lang := langFromExt(filepath.Ext(path))

	var (
		source string
		origin string
	)
	if o, ok := r.remoteURLs.Load(path); ok {
		origin = o.(string)
		b, _, found := r.cache.Get(origin)
		if !found {
			b, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", rterrors.ErrFetchFailed, err)
			}
			source = string(b)
		} else {
			source = string(b)
		}
	} else {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", rterrors.ErrResolutionFailed, err)
		}
		source = string(b)
	}

	code, sourceMap, err := Transform(lang, path, source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rterrors.ErrTransformFailed, err)
	}

	rec := &Record{
		Path:      path,
		OriginURL: origin,
		Lang:      lang,
		Source:    code,
		SourceMap: sourceMap,
	}
	r.records.Store(path, rec)

	if r.invalidateOnWatch() {
		r.cache.OnInvalidate = func(url string) {
			r.records.Range(func(k, v interface{}) bool {
				if rec := v.(*Record); rec.OriginURL == url {
					r.records.Delete(k)
					return false
				}
				return true
			})
		}
	}

	return rec, nil
}

func (r *Resolver) invalidateOnWatch() bool { return r.cache.cfg.WatchEnabled }
