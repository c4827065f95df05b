package main

import (
	"fmt"
	"os"

	"github.com/flowgraph/attractor/internal/server"
)

func serveCommand(args []string) {
	addr := ":8080"
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--addr":
			i++
			addr = argAt(args, i)
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}

	srv := server.New(server.Config{Addr: addr})
	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
