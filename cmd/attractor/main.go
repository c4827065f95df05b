// Command attractor runs, serves, and validates graph-driven pipelines.
package main

import (
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runCommand(os.Args[2:])
	case "serve":
		serveCommand(os.Args[2:])
	case "validate":
		validateCommand(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("attractor %s\n", version)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  attractor run --graph <file.dot> [--config <attractor.yaml>] [--run-id <id>] [--logs-root <dir>]")
	fmt.Fprintln(os.Stderr, "  attractor validate --graph <file.dot>")
	fmt.Fprintln(os.Stderr, "  attractor serve [--addr <host:port>]")
	fmt.Fprintln(os.Stderr, "  attractor version")
}
