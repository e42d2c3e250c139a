package tjs

import (
	"crypto"
	"crypto/tls"
	"crypto/x509/pkix"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// Config is a global set of configuration for an instance of the runtime.
//
// It is recommended not to mutate a Config after passing it to NewRuntime, which
// will cause unpredictable problems in a running runtime.
type Config struct {
	// CacheDir is the root of the on-disk module cache. Layout:
	// <CacheDir>/http/<host>/<hash><ext>, <CacheDir>/jsr/<scope>/<name>/<version>/...,
	// <CacheDir>/node/<name>.
	//
	// Default value: "<home>/.tjs/cache"
	CacheDir string `mapstructure:"cache_dir"`

	// Address is the TCP address that Serve listens on.
	//
	// Default value: "localhost:8080"
	Address string `mapstructure:"address"`

	// Listener is a custom net.Listener. If set, the server accepts
	// connections on it instead of dialing Address itself.
	Listener net.Listener `mapstructure:"-"`

	// ReadTimeout bounds how long the server may take to read an entire
	// request, including its body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// ReadHeaderTimeout is decoded from configuration files, but Serve
	// does not apply it; only ReadTimeout bounds request reads.
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`

	// WriteTimeout is decoded from configuration files, but Serve does
	// not apply it; response writes carry no deadline from it.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// KeepAliveTimeout bounds how long an idle keep-alive connection
	// waits for its next request before the server closes it.
	//
	// Default value: 75s
	KeepAliveTimeout time.Duration `mapstructure:"keep_alive_timeout"`

	// MaxRequestsPerConnection caps how many requests a single
	// ServerConnection serves before the server forces Connection: close.
	//
	// Default value: 1000, 0 means unlimited
	MaxRequestsPerConnection int `mapstructure:"max_requests_per_connection"`

	// MaxHeaderBytes is copied into the request pipeline's
	// MaxHeaderBytes. The parser does not enforce it: a request's
	// header block is read without a byte limit.
	//
	// Default value: 1048576
	MaxHeaderBytes int `mapstructure:"max_header_bytes"`

	// TLSCertFile is the path to the server's TLS certificate.
	TLSCertFile string `mapstructure:"tls_cert_file"`

	// TLSKeyFile is the path to the server's TLS key, matching
	// TLSCertFile.
	TLSKeyFile string `mapstructure:"tls_key_file"`

	// TLSConfig is passed on to the fetch client's configuration, but
	// neither Serve nor the client reads it: Serve takes its certificate
	// from TLSCertFile/TLSKeyFile (or ACME), and the client builds its
	// own TLS context for each dial.
	TLSConfig *tls.Config `mapstructure:"-"`

	// ACMEEnabled turns on automatic certificate provisioning via ACME
	// (golang.org/x/crypto/acme/autocert); when set, Serve uses it in
	// place of TLSCertFile/TLSKeyFile.
	ACMEEnabled bool `mapstructure:"acme_enabled"`

	// ACMECertRoot is the directory autocert uses to cache issued
	// certificates.
	//
	// Default value: "acme-certs"
	ACMECertRoot string `mapstructure:"acme_cert_root"`

	// ACMEHostWhitelist restricts which hosts autocert will issue
	// certificates for. Highly recommended when ACMEEnabled is true.
	ACMEHostWhitelist []string `mapstructure:"acme_host_whitelist"`

	// ACMEAccountKey is the account key used to register with the ACME
	// CA. A new ECDSA P-256 key is generated when nil.
	ACMEAccountKey crypto.Signer `mapstructure:"-"`

	// ACMEExtraExts lists extra certificate extensions applied to every
	// CSR autocert generates.
	ACMEExtraExts []pkix.Extension `mapstructure:"-"`

	// MaxSocketsPerHost caps how many Connections the client pool holds
	// open per (scheme, host, port) key.
	//
	// Default value: 6
	MaxSocketsPerHost int `mapstructure:"max_sockets_per_host"`

	// PoolAcquireTimeout bounds how long acquire() waits for an IDLE
	// connection before returning ErrPoolTimeout.
	//
	// Default value: 30s
	PoolAcquireTimeout time.Duration `mapstructure:"pool_acquire_timeout"`

	// IdleConnTimeout bounds how long a released, keep-alive connection
	// sits IDLE in the client pool before it is closed.
	//
	// Default value: 90s
	IdleConnTimeout time.Duration `mapstructure:"idle_conn_timeout"`

	// MaxRedirects caps the length of a fetch redirect chain before
	// ErrTooManyRedirects.
	//
	// Default value: 20
	MaxRedirects int `mapstructure:"max_redirects"`

	// WebSocketHandshakeTimeout bounds how long the server waits for a
	// WebSocket upgrade handshake to complete.
	WebSocketHandshakeTimeout time.Duration `mapstructure:"websocket_handshake_timeout"`

	// WebSocketSubprotocols lists the subprotocols Serve negotiates, in
	// preference order.
	WebSocketSubprotocols []string `mapstructure:"websocket_subprotocols"`

	// WebSocketPingInterval is how often an OPEN WebSocket sends a PING
	// while idle.
	//
	// Default value: 30s
	WebSocketPingInterval time.Duration `mapstructure:"websocket_ping_interval"`

	// WebSocketPongTimeout bounds how long a WebSocket waits for a PONG
	// after sending a PING before forcing CLOSE 1006.
	//
	// Default value: 5s
	WebSocketPongTimeout time.Duration `mapstructure:"websocket_pong_timeout"`

	// PROXYEnabled turns on PROXY protocol v1/v2 support ahead of the
	// TLS handshake on accepted connections.
	PROXYEnabled bool `mapstructure:"proxy_enabled"`

	// PROXYReadHeaderTimeout bounds how long a connection may take to
	// present its PROXY protocol header.
	PROXYReadHeaderTimeout time.Duration `mapstructure:"proxy_read_header_timeout"`

	// PROXYRelayerIPWhitelist restricts which peer addresses may speak
	// the PROXY protocol. Empty means any peer may.
	PROXYRelayerIPWhitelist []string `mapstructure:"proxy_relayer_ip_whitelist"`

	// ResolverCacheMemoryBytes sizes the in-memory fastcache front of the
	// on-disk module cache.
	//
	// Default value: 32MB
	ResolverCacheMemoryBytes int `mapstructure:"resolver_cache_memory_bytes"`

	// WatchEnabled turns on fsnotify-based invalidation of cached module
	// records and the resolution cache when their backing files change
	// on disk.
	WatchEnabled bool `mapstructure:"watch_enabled"`

	// HTTPImportsEnabled gates http:// and https:// specifier resolution.
	//
	// Default value: true
	HTTPImportsEnabled bool `mapstructure:"http_imports_enabled"`

	// JSRImportsEnabled gates jsr: specifier resolution.
	//
	// Default value: true
	JSRImportsEnabled bool `mapstructure:"jsr_imports_enabled"`

	// JSRRegistryURL is the base URL of the JSR registry consulted for
	// package metadata and manifests.
	//
	// Default value: "https://jsr.io"
	JSRRegistryURL string `mapstructure:"jsr_registry_url"`

	// NodeBuiltinsEnabled gates node: specifier resolution.
	//
	// Default value: true
	NodeBuiltinsEnabled bool `mapstructure:"node_builtins_enabled"`

	// PermissionsGranted is the constant answer returned by the
	// permission stub; no actual sandboxing is implemented.
	//
	// Default value: true
	PermissionsGranted bool `mapstructure:"permissions_granted"`

	// LoggerEnabled toggles all Logger output.
	//
	// Default value: true
	LoggerEnabled bool `mapstructure:"logger_enabled"`

	// LogFormat is the text/template format string used by Logger.
	LogFormat string `mapstructure:"log_format"`

	// Data holds the raw decoded configuration map, available to callers
	// that embedded extra keys beyond the known fields.
	Data map[string]interface{} `mapstructure:"-"`
}

// defaultConfig returns a Config populated with the documented defaults.
func defaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		CacheDir:                 filepath.Join(home, ".tjs", "cache"),
		Address:                  "localhost:8080",
		KeepAliveTimeout:         75 * time.Second,
		MaxRequestsPerConnection: 1000,
		MaxHeaderBytes:           1 << 20,
		ACMECertRoot:             "acme-certs",
		MaxSocketsPerHost:        6,
		PoolAcquireTimeout:       30 * time.Second,
		IdleConnTimeout:          90 * time.Second,
		MaxRedirects:             20,
		WebSocketPingInterval:    30 * time.Second,
		WebSocketPongTimeout:     5 * time.Second,
		ResolverCacheMemoryBytes: 32 << 20,
		HTTPImportsEnabled:       true,
		JSRImportsEnabled:        true,
		JSRRegistryURL:           "https://jsr.io",
		NodeBuiltinsEnabled:      true,
		PermissionsGranted:       true,
		LoggerEnabled:            true,
		LogFormat: `{"time":"{{.time_rfc3339}}","level":"{{.level}}",` +
			`"file":"{{.short_file}}","line":"{{.line}}"}`,
	}
}

// NewConfig returns a new Config with the documented defaults.
func NewConfig() *Config {
	c := defaultConfig()
	return &c
}

// NewConfigFile returns a new Config loaded from the file at path, whose
// format is chosen by its extension: ".toml", ".yaml"/".yml", or ".ini".
// Fields absent from the file keep their documented defaults.
func NewConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tjs: failed to read config file: %w", err)
	}

	var raw map[string]interface{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(b, &raw); err != nil {
			return nil, fmt.Errorf("tjs: failed to parse toml config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &raw); err != nil {
			return nil, fmt.Errorf("tjs: failed to parse yaml config: %w", err)
		}
	case ".ini":
		f, err := ini.Load(b)
		if err != nil {
			return nil, fmt.Errorf("tjs: failed to parse ini config: %w", err)
		}
		raw = make(map[string]interface{})
		for _, section := range f.Sections() {
			for _, key := range section.Keys() {
				raw[key.Name()] = key.Value()
			}
		}
	default:
		return nil, fmt.Errorf(
			"tjs: unsupported config file extension: %s",
			filepath.Ext(path),
		)
	}

	c := defaultConfig()
	c.Data = raw
	if err := mapstructure.WeakDecode(raw, &c); err != nil {
		return nil, fmt.Errorf("tjs: failed to decode config: %w", err)
	}

	return &c, nil
}
