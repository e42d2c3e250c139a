package resolver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cobalt-run/tjs/internal/rterrors"
)

// jsrMeta is the package-level `meta.json` document JSR serves at
// `<registry>/<scope>/<name>/meta.json`.
type jsrMeta struct {
	Latest string `json:"latest"`
}

// jsrVersionMeta is the `<version>_meta.json` document listing every file
// in a pinned version's manifest.
type jsrVersionMeta struct {
	Manifest map[string]struct {
		Size int `json:"size"`
	} `json:"manifest"`
	Exports map[string]string `json:"exports"`
}

// parsedJSRSpecifier is a decomposed `jsr:@scope/name[@version][/path]`
// specifier.
type parsedJSRSpecifier struct {
	Scope   string
	Name    string
	Version string // "" means unspecified, pin to latest
	Path    string // subpath after the package name, "" for the default export
}

// parseJSRSpecifier splits a jsr: specifier (with the "jsr:" prefix
// already stripped) into its components.
func parseJSRSpecifier(spec string) (parsedJSRSpecifier, error) {
	if !strings.HasPrefix(spec, "@") {
		return parsedJSRSpecifier{}, fmt.Errorf("resolver: malformed jsr specifier: %s", spec)
	}

	rest := spec[1:] // drop "@"
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return parsedJSRSpecifier{}, fmt.Errorf("resolver: malformed jsr specifier: %s", spec)
	}
	scope := rest[:slash]
	rest = rest[slash+1:]

	var name, version, path string
	if at := strings.IndexByte(rest, '@'); at >= 0 {
		name = rest[:at]
		rest = rest[at+1:]
		if slash := strings.IndexByte(rest, '/'); slash >= 0 {
			version = rest[:slash]
			path = rest[slash+1:]
		} else {
			version = rest
		}
	} else if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		name = rest[:slash]
		path = rest[slash+1:]
	} else {
		name = rest
	}

	return parsedJSRSpecifier{Scope: scope, Name: name, Version: version, Path: path}, nil
}

// resolveJSR resolves a jsr: specifier: pin a version, populate the
// on-disk package directory from the registry manifest if not already
// cached, and resolve the requested subpath (or the package's default
// export, then mod.ts/mod.js/index.ts/index.js).
func (r *Resolver) resolveJSR(specifier string) (string, error) {
	if !r.cfg.JSRImportsEnabled {
		return "", fmt.Errorf("%w: jsr imports disabled: %s", rterrors.ErrDisabledProtocol, specifier)
	}

	spec, err := parseJSRSpecifier(strings.TrimPrefix(specifier, "jsr:"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", rterrors.ErrResolutionFailed, err)
	}

	version := spec.Version
	if version == "" {
		version, err = r.jsrLatestVersion(spec.Scope, spec.Name)
		if err != nil {
			return "", err
		}
	}

	pkgDir := filepath.Join(r.cfg.CacheDir, "jsr", spec.Scope, spec.Name, version)
	metaPath := filepath.Join(pkgDir, "_meta.json")

	var vmeta jsrVersionMeta
	if b, err := os.ReadFile(metaPath); err == nil {
		if err := json.Unmarshal(b, &vmeta); err != nil {
			return "", fmt.Errorf("%w: corrupt jsr version metadata: %v", rterrors.ErrResolutionFailed, err)
		}
	} else {
		vmeta, err = r.jsrFetchVersion(spec.Scope, spec.Name, version, pkgDir)
		if err != nil {
			return "", err
		}
	}

	sub := spec.Path
	if sub == "" {
		sub = vmeta.Exports["."]
		if sub == "" {
			for _, candidate := range []string{"mod.ts", "mod.js", "index.ts", "index.js"} {
				if _, ok := vmeta.Manifest[candidate]; ok {
					sub = candidate
					break
				}
			}
		}
	}
	sub = strings.TrimPrefix(sub, "./")

	resolved := filepath.Join(pkgDir, filepath.FromSlash(sub))

	// Store the pinned-version form so a later relative import from this
	// file recomposes against the same resolved version, not "latest"
	// again.
	pinned := fmt.Sprintf("jsr:@%s/%s@%s/%s", spec.Scope, spec.Name, version, sub)
	r.remoteURLs.Store(resolved, pinned)

	return resolved, nil
}

// jsrLatestVersion fetches the package's meta.json and returns its pinned
// "latest" version.
func (r *Resolver) jsrLatestVersion(scope, name string) (string, error) {
	url := fmt.Sprintf("%s/@%s/%s/meta.json", r.cfg.RegistryURL, scope, name)

	resp, err := r.httpClient.Get(url)
	if err != nil {
		return "", fmt.Errorf("%w: %v", rterrors.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: jsr meta %s returned %d", rterrors.ErrFetchFailed, url, resp.StatusCode)
	}

	var m jsrMeta
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return "", fmt.Errorf("%w: %v", rterrors.ErrFetchFailed, err)
	}
	if m.Latest == "" {
		return "", fmt.Errorf("%w: jsr package @%s/%s has no published version", rterrors.ErrResolutionFailed, scope, name)
	}

	return m.Latest, nil
}

// jsrFetchVersion downloads the version manifest and every file it lists
// into pkgDir, then writes the `_meta.json` sidecar.
func (r *Resolver) jsrFetchVersion(scope, name, version, pkgDir string) (jsrVersionMeta, error) {
	url := fmt.Sprintf("%s/@%s/%s/%s_meta.json", r.cfg.RegistryURL, scope, name, version)

	resp, err := r.httpClient.Get(url)
	if err != nil {
		return jsrVersionMeta{}, fmt.Errorf("%w: %v", rterrors.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return jsrVersionMeta{}, fmt.Errorf(
			"%w: jsr version meta %s returned %d", rterrors.ErrFetchFailed, url, resp.StatusCode,
		)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return jsrVersionMeta{}, fmt.Errorf("%w: %v", rterrors.ErrFetchFailed, err)
	}

	var vmeta jsrVersionMeta
	if err := json.Unmarshal(body, &vmeta); err != nil {
		return jsrVersionMeta{}, fmt.Errorf("%w: %v", rterrors.ErrFetchFailed, err)
	}

	if err := os.MkdirAll(pkgDir, 0o755); err != nil {
		return jsrVersionMeta{}, fmt.Errorf("resolver: failed to create jsr package dir: %w", err)
	}

	for file := range vmeta.Manifest {
		fileURL := fmt.Sprintf("%s/@%s/%s/%s/%s", r.cfg.RegistryURL, scope, name, version, file)
		fresp, err := r.httpClient.Get(fileURL)
		if err != nil {
			return jsrVersionMeta{}, fmt.Errorf("%w: %v", rterrors.ErrFetchFailed, err)
		}

		fbody, err := io.ReadAll(fresp.Body)
		fresp.Body.Close()
		if err != nil || fresp.StatusCode != http.StatusOK {
			return jsrVersionMeta{}, fmt.Errorf(
				"%w: jsr file %s fetch failed", rterrors.ErrFetchFailed, fileURL,
			)
		}

		dest := filepath.Join(pkgDir, filepath.FromSlash(file))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return jsrVersionMeta{}, fmt.Errorf("resolver: failed to create jsr file dir: %w", err)
		}
		if err := os.WriteFile(dest, fbody, 0o644); err != nil {
			return jsrVersionMeta{}, fmt.Errorf("resolver: failed to write jsr file: %w", err)
		}
	}

	if err := os.WriteFile(filepath.Join(pkgDir, "_meta.json"), body, 0o644); err != nil {
		return jsrVersionMeta{}, fmt.Errorf("resolver: failed to write jsr sidecar: %w", err)
	}

	return vmeta, nil
}
