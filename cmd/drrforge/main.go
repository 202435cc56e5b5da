// Command drrforge renders digitally reconstructed radiographs from CT
// series and crops them into training images.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// version is set at build time via -ldflags
var version = "dev"

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
