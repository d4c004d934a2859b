// The main package for the previewd executable.
package main

import (
	"github.com/eligetuhosting/previewd/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
