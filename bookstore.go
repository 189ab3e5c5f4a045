package main

import (
	"context"
	"fmt"
	"os"

	"bookstore/pkg/app"
)

// main exposes a root-level entry point so operators can simply run `go run bookstore.go`.
func main() {
	if err := app.Run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "application stopped with error: %v\n", err)
		os.Exit(1)
	}
}
