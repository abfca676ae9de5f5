// protoconv converts the PrintGuard prototype cache into JSON.
//
// Usage:
//
//	protoconv [--dir=<scripts dir>] [--source=<file>] [--output=<file>] [--copy-to=<file>|--no-copy]
//	protoconv inspect <file> [--format=<name>] [--markdown]
//	protoconv version
//
// With no arguments it reads ../model/prototypes/cache/prototypes.pkl, writes
// ./prototypes.json and copies it next to the source. Default paths resolve
// against --dir, which defaults to the working directory rather than the
// directory holding the binary, so run it from the scripts directory or pass
// --dir. Explicit --source, --output and --copy-to paths resolve against the
// working directory.
package main

import (
	"fmt"
	"os"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
