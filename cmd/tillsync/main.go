// Command tillsync runs the offline-first POS store: local CRUD with an
// outbox, sync against the remote authority, and a caching proxy for the
// till's web UI.
package main

import (
	"fmt"
	"os"
)

// version is stamped by the build (-ldflags "-X main.version=...").
var version = "dev"

func main() {
	root := newRootCmd(newApp(os.Stdout, os.Stderr))
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tillsync:", err)
		os.Exit(exitCode(err))
	}
}
