package resolver

// Record is a Module Record: everything the resolver knows about one
// resolved module after its first resolution. Records are created once
// and never destroyed during the process lifetime; they live in
// Resolver.records keyed by resolved path.
type Record struct {
	// Path is the absolute resolved path: a filesystem path for local
	// modules, or the on-disk cache path for remote/JSR modules.
	Path string

	// OriginURL is the original http:, https:, or jsr: URL this record
	// was fetched from, or "" for a plain filesystem module.
	OriginURL string

	// Lang is the source-language tag used to pick a Transform.
	Lang string

	// Source is the transformed script text, ready for the script
	// engine's load hook.
	Source string

	// SourceMap is the transform's emitted source map JSON, or "" when
	// none was produced.
	SourceMap string

	// IsMain marks the process's entry module.
	IsMain bool
}

// Source-language tags.
const (
	LangTS   = "ts"
	LangTSX  = "tsx"
	LangJSX  = "jsx"
	LangJS   = "js"
	LangJSON = "json"
	LangMJS  = "mjs"
	LangCJS  = "cjs"
)

// langFromExt maps a resolved path's extension to its source-language tag.
func langFromExt(ext string) string {
	switch ext {
	case ".ts":
		return LangTS
	case ".tsx":
		return LangTSX
	case ".jsx":
		return LangJSX
	case ".json":
		return LangJSON
	case ".mjs":
		return LangMJS
	case ".cjs":
		return LangCJS
	default:
		return LangJS
	}
}
