// Command wptworker runs Web Platform Tests files in isolated embedded
// JavaScript environments and reports the results.
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errTestsFailed) {
			fmt.Fprintln(os.Stderr, "wptworker:", err)
		}
		os.Exit(1)
	}
}
