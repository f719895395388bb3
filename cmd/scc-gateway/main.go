package main

import (
	"fmt"
	"os"

	"github.com/Micheleww/scc-gateway/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--version", "-v", "version":
		fmt.Printf("scc-gateway %s\n", version.Version)
		os.Exit(0)
	case "serve":
		serve(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  scc-gateway --version")
	fmt.Fprintln(os.Stderr, "  scc-gateway serve [--addr <host:port>] [--config <bootstrap.yaml>] [--data-dir <dir>]")
}
