package resolver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// Transform runs the transformation selected by lang
// over source, returning the plain-script text, an optional source map,
// and a plain error on rejection (Resolver.Load wraps it with
// ErrTransformFailed).
func Transform(lang, sourcefile, source string) (code, sourceMap string, err error) {
	switch lang {
	case LangJSON:
		return transformJSON(source)
	case LangJS, LangMJS, LangCJS:
		return source, "", nil
	}

	loader := api.LoaderJS
	switch lang {
	case LangTS:
		loader = api.LoaderTS
	case LangTSX:
		loader = api.LoaderTSX
	case LangJSX:
		loader = api.LoaderJSX
	}

	result := api.Transform(source, api.TransformOptions{
		Loader:     loader,
		Format:     api.FormatESModule,
		Sourcemap:  api.SourceMapExternal,
		Sourcefile: sourcefile,
		TsconfigRaw: `{"compilerOptions":{"importHelpers":false}}`,
	})

	if len(result.Errors) > 0 {
		var b strings.Builder
		for _, e := range result.Errors {
			fmt.Fprintf(&b, "%s\n", e.Text)
		}
		return "", "", fmt.Errorf("resolver: transform failed for %s: %s", sourcefile, b.String())
	}

	return string(result.Code), string(result.Map), nil
}

// transformJSON emits a synthetic ES module exposing the parsed JSON
// literal as its default export.
func transformJSON(source string) (code, sourceMap string, err error) {
	var v interface{}
	if err := json.Unmarshal([]byte(source), &v); err != nil {
		return "", "", fmt.Errorf("resolver: invalid json module: %w", err)
	}

	reencoded, err := json.Marshal(v)
	if err != nil {
		return "", "", fmt.Errorf("resolver: failed to re-encode json module: %w", err)
	}

	return fmt.Sprintf("export default %s;\n", reencoded), "", nil
}
