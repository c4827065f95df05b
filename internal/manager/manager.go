// Package manager implements the stack.manager_loop handler: spawning and
// supervising a child pipeline process, polling its progress, and steering
// it via context until it finishes or the cycle budget is exhausted.
package manager

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/flowgraph/attractor/internal/cond"
	"github.com/flowgraph/attractor/internal/model"
	"github.com/flowgraph/attractor/internal/runtime"
)

// ChildProcess abstracts the child pipeline's process lifecycle so the
// manager loop never depends on a concrete exec.Cmd, making it testable
// with a fake.
type ChildProcess interface {
	IsAlive() bool
	ExitCode() (code int, exited bool)
	Signal(graceful bool) error
}

// osChildProcess wraps a started *exec.Cmd.
type osChildProcess struct {
	cmd      *exec.Cmd
	done     chan struct{}
	exitCode int
	exited   bool
}

func startChild(dotfilePath, logsRoot string) (*osChildProcess, error) {
	cmd := exec.Command(os.Args[0], childCommandArgs(dotfilePath, logsRoot)...)
	return wrapChildCmd(cmd)
}

// childCommandArgs builds the args passed to this binary's own `run`
// subcommand to execute the child pipeline, which only recognizes
// --graph/--config/--run-id/--logs-root (see cmd/attractor/run.go).
func childCommandArgs(dotfilePath, logsRoot string) []string {
	return []string{"run", "--graph", dotfilePath, "--logs-root", logsRoot}
}

// wrapChildCmd starts cmd and begins tracking its exit in the background.
// Split out from startChild so tests can exercise the real process-tracking
// logic against a plain shell command instead of re-invoking this binary.
func wrapChildCmd(cmd *exec.Cmd) (*osChildProcess, error) {
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn child pipeline: %w", err)
	}
	cp := &osChildProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		cp.exited = true
		if exitErr, ok := err.(*exec.ExitError); ok {
			cp.exitCode = exitErr.ExitCode()
		} else if err == nil {
			cp.exitCode = 0
		} else {
			cp.exitCode = -1
		}
		close(cp.done)
	}()
	return cp, nil
}

func (c *osChildProcess) IsAlive() bool {
	if c.cmd.Process == nil {
		return false
	}
	if c.exited {
		return false
	}
	return pidAlive(c.cmd.Process.Pid)
}

func (c *osChildProcess) ExitCode() (int, bool) { return c.exitCode, c.exited }

func (c *osChildProcess) Signal(graceful bool) error {
	if c.cmd.Process == nil {
		return nil
	}
	if graceful {
		return c.cmd.Process.Signal(syscall.SIGTERM)
	}
	return c.cmd.Process.Kill()
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}

// Handler implements handler.Handler for stack.manager_loop nodes.
type Handler struct {
	// LogsRoot is the parent run's log root; children get a subdirectory.
	LogsRoot string
	// Spawn allows tests to substitute a fake child process.
	Spawn func(dotfilePath, childLogsRoot string) (ChildProcess, error)
}

func (h Handler) Execute(n *model.Node, ctx *runtime.Context, g *model.Graph, logsRoot string) (*runtime.Outcome, error) {
	dotfilePattern := n.Attr("stack.child_dotfile", g.ChildDotfile())
	if dotfilePattern == "" {
		return &runtime.Outcome{Status: runtime.StatusFail, FailureReason: "stack.child_dotfile is required"}, nil
	}
	dotfilePath, err := resolveChildDotfile(dotfilePattern)
	if err != nil {
		return &runtime.Outcome{Status: runtime.StatusFail, FailureReason: err.Error()}, nil
	}

	autostart := parseAutostart(n.Attr("stack.child_autostart", ""))
	pollInterval := model.ParseDuration(n.Attr("manager.poll_interval", ""))
	if pollInterval <= 0 {
		pollInterval = 45 * time.Second
	}
	maxCycles := 1000
	if v := n.Attr("manager.max_cycles", ""); v != "" {
		if p, perr := strconv.Atoi(v); perr == nil && p > 0 {
			maxCycles = p
		}
	}
	actions := splitActions(n.Attr("manager.actions", ""))
	stopCondition := n.Attr("manager.stop_condition", "")

	childLogsRoot := filepath.Join(logsRoot, n.ID, "child")
	os.MkdirAll(childLogsRoot, 0o755)

	spawn := h.Spawn
	if spawn == nil {
		spawn = func(path, root string) (ChildProcess, error) { return startChild(path, root) }
	}

	var child ChildProcess
	status := "pending"
	if autostart {
		child, err = spawn(dotfilePath, childLogsRoot)
		if err != nil {
			return &runtime.Outcome{Status: runtime.StatusFail, FailureReason: err.Error()}, nil
		}
		status = "running"
		ctx.Set("stack.child.status", status)
	}

	for cycle := 0; cycle < maxCycles; cycle++ {
		if contains(actions, "observe") && child != nil {
			if code, exited := child.ExitCode(); exited {
				if code == 0 {
					ctx.Set("stack.child.status", "completed")
					ctx.Set("stack.child.outcome", "success")
					return &runtime.Outcome{Status: runtime.StatusSuccess, Notes: "child pipeline completed"}, nil
				}
				ctx.Set("stack.child.status", "failed")
				reason := fmt.Sprintf("child pipeline exited %d", code)
				return &runtime.Outcome{Status: runtime.StatusFail, FailureReason: reason}, nil
			}
			mirrorChildCheckpoint(childLogsRoot, ctx)
		}

		if contains(actions, "steer") {
			ctx.Set("stack.manager.steer", fmt.Sprintf("cycle %d", cycle))
		}

		if stopCondition != "" {
			if func() (ok bool) {
				defer func() { recover() }()
				return cond.Evaluate(stopCondition, &runtime.Outcome{Status: runtime.Status(ctx.GetString("outcome"))}, ctx)
			}() {
				return &runtime.Outcome{Status: runtime.StatusSuccess, Notes: "stop_condition satisfied"}, nil
			}
		}

		if contains(actions, "wait") {
			time.Sleep(pollInterval)
		}
	}

	if child != nil {
		_ = child.Signal(true)
		time.Sleep(5 * time.Second)
		if child.IsAlive() {
			_ = child.Signal(false)
		}
	}
	return &runtime.Outcome{Status: runtime.StatusFail, FailureReason: "max cycles exceeded"}, nil
}

// mirrorChildCheckpoint copies the child's progress vector into the
// parent's context when a checkpoint file is visible under its log tree.
func mirrorChildCheckpoint(childLogsRoot string, ctx *runtime.Context) {
	cp, err := runtime.LoadCheckpoint(filepath.Join(childLogsRoot, "checkpoint.json"))
	if err != nil {
		return
	}
	ctx.Set("stack.child.current_node", cp.CurrentNode)
	ctx.Set("stack.child.completed_count", len(cp.CompletedNodes))
}

func splitActions(raw string) []string {
	var out []string
	for _, a := range strings.Split(raw, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func parseAutostart(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "false", "0", "no":
		return false
	default:
		return true
	}
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

// resolveChildDotfile expands a glob pattern (e.g. "children/*.dot") to a
// single concrete path, picking the lexicographically first match. A
// pattern with no glob metacharacters is returned unchanged after an
// existence check.
func resolveChildDotfile(pattern string) (string, error) {
	if !strings.ContainsAny(pattern, "*?[") {
		if _, err := os.Stat(pattern); err != nil {
			return "", fmt.Errorf("child dotfile %q: %w", pattern, err)
		}
		return pattern, nil
	}
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return "", fmt.Errorf("invalid child_dotfile glob %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("child_dotfile glob %q matched no files", pattern)
	}
	return matches[0], nil
}
