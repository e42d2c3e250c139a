// Command tjsrt exercises the runtime substrate against one entry
// specifier: resolve it, transform it, and report what would be handed
// to a script engine's load hook. There is no embedded script engine
// here — this binary proves the resolver/cache/transform pipeline, not
// execution.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/cobalt-run/tjs"
)

func main() {
	fs := flag.NewFlagSet("tjsrt", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: tjsrt <entry> [args...]")
	}
	fs.Parse(os.Args[1:])

	args := fs.Args()
	if len(args) < 1 {
		fs.Usage()
		os.Exit(2)
	}
	entry, scriptArgs := args[0], args[1:]

	cfg := tjs.NewConfig()
	rt, err := tjs.NewRuntime(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tjsrt: %v\n", err)
		os.Exit(1)
	}
	defer rt.Close()

	mod, err := rt.LoadModule(entry, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "tjsrt: %v\n", err)
		os.Exit(1)
	}

	modLogger := rt.Logger.With(map[string]interface{}{
		"module": mod.Path,
		"lang":   mod.Lang,
	})
	if len(scriptArgs) > 0 {
		modLogger.Infof("loaded module (%d bytes) with args %v", len(mod.Source), scriptArgs)
	} else {
		modLogger.Infof("loaded module (%d bytes)", len(mod.Source))
	}
}
