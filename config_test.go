package tjs

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	c := NewConfig()
	assert.Equal(t, "localhost:8080", c.Address)
	assert.Equal(t, 20, c.MaxRedirects)
	assert.True(t, c.PermissionsGranted)
	assert.True(t, c.HTTPImportsEnabled)
	assert.True(t, c.JSRImportsEnabled)
	assert.Equal(t, "https://jsr.io", c.JSRRegistryURL)
}

func TestNewConfigFileTOML(t *testing.T) {
	content := `
address = "127.0.0.1:2333"
read_timeout = 200000000
max_header_bytes = 65536
tls_cert_file = "path_to_tls_cert_file"
max_sockets_per_host = 12
acme_enabled = true
`
	f, err := os.CreateTemp(t.TempDir(), "config-*.toml")
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	c, err := NewConfigFile(f.Name())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:2333", c.Address)
	assert.Equal(t, 200*time.Millisecond, c.ReadTimeout)
	assert.Equal(t, 65536, c.MaxHeaderBytes)
	assert.Equal(t, "path_to_tls_cert_file", c.TLSCertFile)
	assert.Equal(t, 12, c.MaxSocketsPerHost)
	assert.True(t, c.ACMEEnabled)
	assert.NotNil(t, c.Data)
}

func TestNewConfigFileYAML(t *testing.T) {
	content := "address: 0.0.0.0:9000\nproxy_enabled: true\n"
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	c, err := NewConfigFile(f.Name())
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", c.Address)
	assert.True(t, c.PROXYEnabled)
}

func TestNewConfigFileUnsupportedExt(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "config-*.conf")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = NewConfigFile(f.Name())
	assert.Error(t, err)
}

func TestNewConfigFileMissing(t *testing.T) {
	_, err := NewConfigFile("config_not_exist.toml")
	assert.Error(t, err)
}
