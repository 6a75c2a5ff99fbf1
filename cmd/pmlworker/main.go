// pmlworker is the sandboxed child process spawned by pkg/sandbox to
// replay one crystallized capability's StaticDAG. It has no flags, no
// config file, and touches nothing but its own stdin/stdout: every tool
// call it needs is proxied back to the parent over the rpcbridge
// protocol.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/casys-ai/pml/internal/sandboxrunner"
)

func main() {
	if err := sandboxrunner.Run(context.Background(), os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "pmlworker:", err)
		os.Exit(1)
	}
}
