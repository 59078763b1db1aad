// Command httpd bootstraps the server facade behind a small CLI: flags and
// an optional YAML config file select the listen address, worker pool
// bounds, and timeouts, and a structured logiface/stumpy logger is wired
// into every core package's Logger interface (spec §1 calls this whole
// surface a collaborator, explicitly out of the core's scope).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
