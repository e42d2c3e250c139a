package resolver

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSRSpecifier(t *testing.T) {
	p, err := parseJSRSpecifier("@std/path")
	require.NoError(t, err)
	assert.Equal(t, "std", p.Scope)
	assert.Equal(t, "path", p.Name)
	assert.Equal(t, "", p.Version)
	assert.Equal(t, "", p.Path)

	p, err = parseJSRSpecifier("@std/path@1.2.3/posix.ts")
	require.NoError(t, err)
	assert.Equal(t, "std", p.Scope)
	assert.Equal(t, "path", p.Name)
	assert.Equal(t, "1.2.3", p.Version)
	assert.Equal(t, "posix.ts", p.Path)

	p, err = parseJSRSpecifier("@std/path/posix.ts")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3" != p.Version, true)
	assert.Equal(t, "posix.ts", p.Path)

	_, err = parseJSRSpecifier("not-scoped")
	assert.Error(t, err)
}

// TestResolveJSRPackage exercises a registry that returns meta.json
// pinning latest=1.2.3, and a 1.2.3_meta.json whose manifest lists mod.ts.
func TestResolveJSRPackage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/@std/path/meta.json", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `{"latest":"1.2.3"}`)
	})
	mux.HandleFunc("/@std/path/1.2.3_meta.json", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `{"manifest":{"mod.ts":{"size":19}},"exports":{".":"./mod.ts"}}`)
	})
	mux.HandleFunc("/@std/path/1.2.3/mod.ts", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, "export const x = 1;")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	root := t.TempDir()
	cache := NewCache(CacheConfig{Dir: filepath.Join(root, "cache"), MemoryBytes: 1 << 20})
	r := New(Config{
		CacheDir:           filepath.Join(root, "cache"),
		RegistryURL:        srv.URL,
		JSRImportsEnabled:  true,
		HTTPImportsEnabled: true,
	}, cache)

	resolved, err := r.Resolve("jsr:@std/path", "")
	require.NoError(t, err)

	wantPath := filepath.Join(root, "cache", "jsr", "std", "path", "1.2.3", "mod.ts")
	assert.Equal(t, wantPath, resolved)

	b, err := os.ReadFile(wantPath)
	require.NoError(t, err)
	assert.Equal(t, "export const x = 1;", string(b))

	// Re-resolving a relative import from that file re-enters at step 2
	// and lands back on the same cached path.
	again, err := r.resolveRelative("./mod.ts", wantPath)
	require.NoError(t, err)
	assert.Equal(t, wantPath, again)
}

func TestResolveJSRDisabled(t *testing.T) {
	root := t.TempDir()
	cache := NewCache(CacheConfig{Dir: root, MemoryBytes: 1 << 20})
	r := New(Config{CacheDir: root, JSRImportsEnabled: false}, cache)

	_, err := r.Resolve("jsr:@std/path", "")
	assert.Error(t, err)
}
