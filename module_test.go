package tjs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRuntime(t *testing.T) (*Runtime, string) {
	t.Helper()
	root := t.TempDir()
	cfg := NewConfig()
	cfg.CacheDir = filepath.Join(root, "cache")
	cfg.LoggerEnabled = false
	rt, err := NewRuntime(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	return rt, root
}

func TestLoadModuleResolvesAndTransforms(t *testing.T) {
	rt, root := newTestRuntime(t)

	entry := filepath.Join(root, "entry.ts")
	require.NoError(t, os.WriteFile(entry, []byte("const x: number = 1;\nexport default x;\n"), 0o644))

	mod, err := rt.LoadModule(entry, "")
	require.NoError(t, err)
	assert.Equal(t, entry, mod.Path)
	assert.Equal(t, "ts", mod.Lang)
	assert.NotEmpty(t, mod.Source)
}

func TestLoadModuleMissingFileErrors(t *testing.T) {
	rt, root := newTestRuntime(t)

	_, err := rt.LoadModule(filepath.Join(root, "missing.ts"), "")
	assert.Error(t, err)
}
