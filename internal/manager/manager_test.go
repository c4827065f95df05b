package manager

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/attractor/internal/model"
	"github.com/flowgraph/attractor/internal/runtime"
)

type fakeChild struct {
	alive    bool
	code     int
	exited   bool
	signaled []bool
}

func (f *fakeChild) IsAlive() bool            { return f.alive }
func (f *fakeChild) ExitCode() (int, bool)    { return f.code, f.exited }
func (f *fakeChild) Signal(graceful bool) error {
	f.signaled = append(f.signaled, graceful)
	return nil
}

func writeDotfile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "child.dot")
	require.NoError(t, os.WriteFile(path, []byte("digraph d { start [shape=Mdiamond]; done [shape=Msquare]; start -> done }"), 0o644))
	return path
}

func TestManagerHandler_ObserveDetectsSuccessfulChildExit(t *testing.T) {
	dir := t.TempDir()
	dotfile := writeDotfile(t, dir)

	n := model.NewNode("supervise")
	n.Attrs["stack.child_dotfile"] = dotfile
	n.Attrs["manager.actions"] = "observe"

	child := &fakeChild{exited: true, code: 0}
	h := Handler{LogsRoot: dir, Spawn: func(string, string) (ChildProcess, error) { return child, nil }}

	ctx := runtime.NewContext()
	out, err := h.Execute(n, ctx, model.NewGraph("g"), dir)
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusSuccess, out.Status)
	assert.Equal(t, "completed", ctx.GetString("stack.child.status"))
}

func TestManagerHandler_ObserveDetectsFailedChildExit(t *testing.T) {
	dir := t.TempDir()
	dotfile := writeDotfile(t, dir)

	n := model.NewNode("supervise")
	n.Attrs["stack.child_dotfile"] = dotfile
	n.Attrs["manager.actions"] = "observe"

	child := &fakeChild{exited: true, code: 1}
	h := Handler{LogsRoot: dir, Spawn: func(string, string) (ChildProcess, error) { return child, nil }}

	out, err := h.Execute(n, runtime.NewContext(), model.NewGraph("g"), dir)
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusFail, out.Status)
}

func TestManagerHandler_MissingChildDotfileFails(t *testing.T) {
	dir := t.TempDir()
	n := model.NewNode("supervise")

	h := Handler{LogsRoot: dir}
	out, err := h.Execute(n, runtime.NewContext(), model.NewGraph("g"), dir)
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusFail, out.Status)
	assert.Contains(t, out.FailureReason, "stack.child_dotfile")
}

func TestManagerHandler_StopConditionSucceedsWithoutAutostart(t *testing.T) {
	dir := t.TempDir()
	dotfile := writeDotfile(t, dir)

	n := model.NewNode("supervise")
	n.Attrs["stack.child_dotfile"] = dotfile
	n.Attrs["stack.child_autostart"] = "false"
	n.Attrs["manager.stop_condition"] = "context.ready=true"

	ctx := runtime.NewContext()
	ctx.Set("ready", true)

	h := Handler{LogsRoot: dir}
	out, err := h.Execute(n, ctx, model.NewGraph("g"), dir)
	require.NoError(t, err)
	assert.Equal(t, runtime.StatusSuccess, out.Status)
}

func TestOSChildProcess_TracksRealProcessSuccessfulExit(t *testing.T) {
	cp, err := wrapChildCmd(exec.Command("sh", "-c", "exit 0"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, exited := cp.ExitCode()
		return exited
	}, 2*time.Second, 10*time.Millisecond)

	code, exited := cp.ExitCode()
	assert.True(t, exited)
	assert.Equal(t, 0, code)
	assert.False(t, cp.IsAlive())
}

func TestOSChildProcess_TracksRealProcessNonZeroExit(t *testing.T) {
	cp, err := wrapChildCmd(exec.Command("sh", "-c", "exit 7"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, exited := cp.ExitCode()
		return exited
	}, 2*time.Second, 10*time.Millisecond)

	code, exited := cp.ExitCode()
	assert.True(t, exited)
	assert.Equal(t, 7, code)
}

func TestOSChildProcess_IsAliveWhileRunningThenSignalStopsIt(t *testing.T) {
	cp, err := wrapChildCmd(exec.Command("sh", "-c", "sleep 5"))
	require.NoError(t, err)

	assert.True(t, cp.IsAlive())
	require.NoError(t, cp.Signal(false))

	require.Eventually(t, func() bool {
		_, exited := cp.ExitCode()
		return exited
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, cp.IsAlive())
}

func TestChildCommandArgs_UsesGraphFlagNotFileFlag(t *testing.T) {
	args := childCommandArgs("child.dot", "/tmp/logs")
	assert.Equal(t, []string{"run", "--graph", "child.dot", "--logs-root", "/tmp/logs"}, args)
	assert.NotContains(t, args, "--file")
}

func TestResolveChildDotfile_GlobPicksFirstLexicographicMatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.dot"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.dot"), []byte("a"), 0o644))

	resolved, err := resolveChildDotfile(filepath.Join(dir, "*.dot"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.dot"), resolved)
}

func TestResolveChildDotfile_MissingPlainFileErrors(t *testing.T) {
	_, err := resolveChildDotfile("/nonexistent/path/child.dot")
	assert.Error(t, err)
}
