// Command onnxgraph inspects, optimizes, differentiates and runs ONNX
// computation graphs from the command line.
package main

import (
	"context"
	"os"
)

func main() {
	if err := NewCLI().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
