package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/flowgraph/attractor/internal/config"
	"github.com/flowgraph/attractor/internal/dot"
	"github.com/flowgraph/attractor/internal/engine"
	"github.com/flowgraph/attractor/internal/events"
	"github.com/flowgraph/attractor/internal/handler"
	"github.com/flowgraph/attractor/internal/llm/router"
	"github.com/flowgraph/attractor/internal/model"
	"github.com/flowgraph/attractor/internal/runtime"
	"github.com/flowgraph/attractor/internal/server"
	"github.com/flowgraph/attractor/internal/style"
)

func runCommand(args []string) {
	var graphPath, configPath, runID, logsRoot string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--graph":
			i++
			graphPath = argAt(args, i)
		case "--config":
			i++
			configPath = argAt(args, i)
		case "--run-id":
			i++
			runID = argAt(args, i)
		case "--logs-root":
			i++
			logsRoot = argAt(args, i)
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	if graphPath == "" {
		fmt.Fprintln(os.Stderr, "--graph is required")
		usage()
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

	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.Discover(graphPath)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	if sheetSrc := g.ModelStylesheet(); sheetSrc != "" {
		sheet, err := loadStylesheetFile(sheetSrc, graphPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load stylesheet:", err)
			os.Exit(1)
		}
		sheet.Apply(g)
	}
	applyDefaultLLM(g, cfg)

	if logsRoot == "" {
		logsRoot = cfg.LogsRoot
	}
	if runID == "" {
		runID = engine.NewRunID()
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	emitter := events.NewEmitter()
	emitter.On(func(ev events.Event) {
		logger.Info().Str("event", string(ev.Type)).Fields(ev.Data).Msg("")
	})

	var backend handler.CodergenBackend
	if rb := router.FromEnv(); rb.Anthropic != nil || rb.OpenAI != nil {
		backend = rb
	}
	resolver := server.BuildRegistry(emitter, nil, backend, logsRoot)
	eng := engine.New(resolver, emitter)

	res, err := eng.Run(g, engine.Config{LogsRoot: logsRoot, RunID: runID})
	if err != nil {
		fmt.Fprintln(os.Stderr, "run failed:", err)
	}
	if res == nil {
		os.Exit(1)
	}
	if res.Status != runtime.StatusSuccess {
		fmt.Fprintf(os.Stderr, "pipeline finished with status %s: %s\n", res.Status, res.FailureReason)
		os.Exit(1)
	}
	fmt.Printf("pipeline completed successfully (run_id=%s, logs_root=%s)\n", runID, logsRoot)
	os.Exit(0)
}

func applyDefaultLLM(g *model.Graph, cfg *config.Config) {
	if cfg == nil {
		return
	}
	for _, n := range g.Nodes {
		if cfg.LLM.Provider != "" {
			if _, set := n.Attrs["llm_provider"]; !set {
				n.Attrs["llm_provider"] = cfg.LLM.Provider
			}
		}
		if cfg.LLM.Model != "" {
			if _, set := n.Attrs["llm_model"]; !set {
				n.Attrs["llm_model"] = cfg.LLM.Model
			}
		}
	}
}

func argAt(args []string, i int) string {
	if i >= len(args) {
		fmt.Fprintln(os.Stderr, "missing value for flag")
		os.Exit(1)
	}
	return args[i]
}

func loadStylesheetFile(sheetAttr, graphPath string) (*style.Sheet, error) {
	raw, err := os.ReadFile(resolveSheetPath(sheetAttr, graphPath))
	if err != nil {
		return nil, err
	}
	return style.Parse(string(raw))
}
