// mamlarr acquires audiobooks through a torrent backend while honoring
// tracker seeding obligations. This binary carries both the long-running
// daemon and the operator CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		// Interrupt-driven shutdown already logged its reason.
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
