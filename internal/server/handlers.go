package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flowgraph/attractor/internal/config"
	"github.com/flowgraph/attractor/internal/dot"
	"github.com/flowgraph/attractor/internal/engine"
	"github.com/flowgraph/attractor/internal/events"
	"github.com/flowgraph/attractor/internal/handler"
	"github.com/flowgraph/attractor/internal/model"
	"github.com/flowgraph/attractor/internal/style"
)

var validRunID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,127}$`)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleSubmitPipeline(w http.ResponseWriter, r *http.Request) {
	var req SubmitPipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.DotSource == "" && req.DotSourcePath == "" {
		writeError(w, http.StatusBadRequest, "dot_source or dot_source_path is required")
		return
	}
	if req.DotSource != "" && req.DotSourcePath != "" {
		writeError(w, http.StatusBadRequest, "provide dot_source or dot_source_path, not both")
		return
	}

	var (
		source     string
		sourcePath string
	)
	if req.DotSource != "" {
		source = req.DotSource
	} else {
		raw, err := os.ReadFile(req.DotSourcePath)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("cannot read dot file: %v", err))
			return
		}
		source = string(raw)
		sourcePath = req.DotSourcePath
	}

	g, err := dot.Parse(source)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("parse graph: %v", err))
		return
	}

	var cfg *config.Config
	if req.ConfigPath != "" {
		cfg, err = config.Load(req.ConfigPath)
	} else if sourcePath != "" {
		cfg, err = config.Discover(sourcePath)
	} else {
		cfg, err = config.Discover(".")
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid config: %v", err))
		return
	}

	if sheetSrc := g.ModelStylesheet(); sheetSrc != "" {
		sheet, err := loadStylesheet(sheetSrc, sourcePath)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid stylesheet: %v", err))
			return
		}
		sheet.Apply(g)
	}
	applyLLMDefaults(g, cfg)

	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		runID = engine.NewRunID()
	}
	if !validRunID.MatchString(runID) {
		writeError(w, http.StatusBadRequest, "run_id must be alphanumeric with dashes/underscores, 1-128 chars")
		return
	}

	broadcaster := NewBroadcaster()
	interviewer := NewWebInterviewer(0)
	runCtx, cancel := context.WithCancel(s.baseCtx)

	pr := &PipelineRun{
		RunID:       runID,
		Broadcaster: broadcaster,
		Interviewer: interviewer,
		Cancel:      cancel,
		StartedAt:   time.Now().UTC(),
		LogsRoot:    joinLogsRoot(cfg.LogsRoot, runID),
	}
	if err := s.registry.Register(runID, pr); err != nil {
		cancel()
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	go func() {
		defer broadcaster.Close()

		emitter := events.NewEmitter()
		emitter.On(broadcaster.Observer())

		var backend handler.CodergenBackend
		if s.backend != nil && (s.backend.Anthropic != nil || s.backend.OpenAI != nil) {
			backend = s.backend
		}
		resolver := BuildRegistry(emitter, interviewer, backend, pr.LogsRoot)
		eng := engine.New(resolver, emitter)

		stop := context.AfterFunc(runCtx, interviewer.Cancel)
		defer stop()

		res, err := eng.Run(g, engine.Config{LogsRoot: pr.LogsRoot, RunID: runID})
		if res != nil {
			pr.SetContext(res.Context)
		}
		pr.Finish(res, err)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "accepted"})
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, pr.Status())
}

func (s *Server) handlePipelineEvents(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.lookup(w, r)
	if !ok {
		return
	}
	WriteSSE(w, r, pr.Broadcaster)
}

func (s *Server) handleCancelPipeline(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if pr.Cancel != nil {
		pr.Cancel()
	}
	pr.Interviewer.Cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceling"})
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, pr.ContextValues())
}

func (s *Server) handleGetQuestions(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, pr.Interviewer.Pending())
}

func (s *Server) handleAnswerQuestion(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.lookup(w, r)
	if !ok {
		return
	}
	qid := chi.URLParam(r, "qid")
	var req AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if !pr.Interviewer.Answer(qid, req.Selected) {
		writeError(w, http.StatusNotFound, "question not found or already answered")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "answered"})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*PipelineRun, bool) {
	runID := chi.URLParam(r, "id")
	pr, ok := s.registry.Get(runID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("pipeline %s not found", runID))
		return nil, false
	}
	return pr, true
}

func applyLLMDefaults(g *model.Graph, cfg *config.Config) {
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

func loadStylesheet(sheetAttr, graphPath string) (*style.Sheet, error) {
	path := sheetAttr
	if graphPath != "" && !filepath.IsAbs(sheetAttr) {
		path = filepath.Join(filepath.Dir(graphPath), sheetAttr)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		raw, err = os.ReadFile(sheetAttr)
		if err != nil {
			return nil, err
		}
	}
	return style.Parse(string(raw))
}

func joinLogsRoot(root, sub string) string {
	if root == "" {
		root = "./logs"
	}
	return filepath.Join(root, sub)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
