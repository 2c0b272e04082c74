package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	err := newRootCommand().Execute()
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		// Interrupted run; the pipeline already shut down cleanly.
		os.Exit(130)
	}
	fmt.Fprintf(os.Stderr, "echowatch: %v\n", err)
	os.Exit(1)
}
