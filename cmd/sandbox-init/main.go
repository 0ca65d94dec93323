// Command sandbox-init applies resource limits to itself and executes the
// sandboxed command in its place. The spawner starts it with the request
// on descriptor 3.
package main

import (
	"fmt"
	"os"

	"ojdriver/internal/sandbox"
)

func main() {
	err := sandbox.RunInit()
	_, _ = fmt.Fprintf(os.Stderr, "sandbox-init: %v\n", err)
	os.Exit(127)
}
