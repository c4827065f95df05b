package main

import (
	"fmt"
	"os"

	"github.com/flowgraph/attractor/internal/dot"
	"github.com/flowgraph/attractor/internal/validate"
)

func validateCommand(args []string) {
	var graphPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--graph":
			i++
			graphPath = argAt(args, i)
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	if graphPath == "" {
		fmt.Fprintln(os.Stderr, "--graph is required")
		os.Exit(1)
	}

	source, err := os.ReadFile(graphPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	g, err := dot.Parse(string(source))
	if err != nil {
		fmt.Fprintln(os.Stderr, "parse graph:", err)
		os.Exit(1)
	}

	diags, err := validate.OrRaise(g)
	for _, d := range diags {
		fmt.Printf("[%s] %s: %s\n", d.Severity, d.Rule, d.Message)
		if d.Fix != "" {
			fmt.Printf("  fix: %s\n", d.Fix)
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "validation failed:", err)
		os.Exit(1)
	}
	fmt.Println("graph is valid")
	os.Exit(0)
}
