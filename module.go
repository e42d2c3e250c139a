package tjs

// Module is a resolved, transformed script ready for a script engine's
// load hook.
type Module struct {
	// Path is the absolute resolved path: a filesystem path for local
	// modules, or the on-disk cache path for remote/JSR modules.
	Path string

	// Lang is the source-language tag the transform ran under (one of
	// the resolver.Lang* constants: "ts", "tsx", "jsx", "js", "json",
	// "mjs", "cjs").
	Lang string

	// Source is the transformed script text.
	Source string

	// SourceMap is the transform's emitted source map JSON, or "" when
	// none was produced.
	SourceMap string
}

// LoadModule resolves specifier against parent (the absolute path of the
// importing module, "" for the entry module) and returns its transformed
// source, fetching and caching it on first access.
func (rt *Runtime) LoadModule(specifier, parent string) (*Module, error) {
	path, err := rt.resolver.Resolve(specifier, parent)
	if err != nil {
		return nil, err
	}

	rec, err := rt.resolver.Load(path)
	if err != nil {
		return nil, err
	}

	return &Module{
		Path:      rec.Path,
		Lang:      rec.Lang,
		Source:    rec.Source,
		SourceMap: rec.SourceMap,
	}, nil
}
