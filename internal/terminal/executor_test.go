package terminal

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

func newTestExecutor(t *testing.T) (*Store, *Executor) {
	t.Helper()
	store := newTestStore(t, testStoreConfig())
	executor := NewExecutor(store, ExecutorConfig{
		CommandTimeout: 30 * time.Second,
		MaxOutputBytes: 1 << 20,
	}, nil)
	return store, executor
}

func TestExecuteEmptyCommand(t *testing.T) {
	store, executor := newTestExecutor(t)
	session, _ := store.CreateSession("conv1")

	if _, err := executor.Execute(session.ID.String(), "   "); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("Expected ErrEmptyCommand, got %v", err)
	}

	// No record may be created for rejected input.
	if got := len(session.Detail().Commands); got != 1 {
		t.Errorf("Expected only the welcome record, got %d commands", got)
	}
}

func TestExecuteUnknownSession(t *testing.T) {
	_, executor := newTestExecutor(t)

	if _, err := executor.Execute("term_missing", "pwd"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestBuiltinPwd(t *testing.T) {
	store, executor := newTestExecutor(t)
	session, _ := store.CreateSession("conv1")

	view, err := executor.Execute(session.ID.String(), "pwd")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if view.Status != StatusCompleted {
		t.Errorf("Expected completed, got %s", view.Status)
	}
	if view.Output != session.WorkingDir() {
		t.Errorf("pwd output %q should equal working dir %q", view.Output, session.WorkingDir())
	}
	if store.Registry().Count() != 0 {
		t.Error("Built-ins must not register process handles")
	}
}

func TestBuiltinHelp(t *testing.T) {
	store, executor := newTestExecutor(t)
	session, _ := store.CreateSession("conv1")

	view, _ := executor.Execute(session.ID.String(), "help")
	if view.Status != StatusCompleted {
		t.Errorf("Expected completed, got %s", view.Status)
	}
	if !strings.Contains(view.Output, "cd <dir>") {
		t.Error("Help output should list built-ins")
	}
}

func TestBuiltinClear(t *testing.T) {
	store, executor := newTestExecutor(t)
	session, _ := store.CreateSession("conv1")

	view, _ := executor.Execute(session.ID.String(), "clear")
	if view.Output != ClearSentinel {
		t.Errorf("Expected clear sentinel, got %q", view.Output)
	}
	if view.Status != StatusCompleted {
		t.Errorf("Expected completed, got %s", view.Status)
	}
}

func TestBuiltinCd(t *testing.T) {
	store, executor := newTestExecutor(t)
	session, _ := store.CreateSession("conv1")

	sub := filepath.Join(session.WorkingDir(), "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	view, _ := executor.Execute(session.ID.String(), "cd sub")
	if view.Status != StatusCompleted {
		t.Fatalf("cd failed: %s %s", view.Status, view.Error)
	}
	if session.WorkingDir() != sub {
		t.Errorf("Working dir should be %q, got %q", sub, session.WorkingDir())
	}

	// pwd reflects the change.
	view, _ = executor.Execute(session.ID.String(), "pwd")
	if view.Output != sub {
		t.Errorf("pwd after cd should print %q, got %q", sub, view.Output)
	}
}

func TestBuiltinCdAbsolute(t *testing.T) {
	store, executor := newTestExecutor(t)
	session, _ := store.CreateSession("conv1")

	target := t.TempDir()
	view, _ := executor.Execute(session.ID.String(), "cd "+target)
	if view.Status != StatusCompleted {
		t.Fatalf("cd failed: %s", view.Error)
	}

	view, _ = executor.Execute(session.ID.String(), "pwd")
	if view.Output != target {
		t.Errorf("pwd should print %q, got %q", target, view.Output)
	}
}

func TestBuiltinCdMissingDir(t *testing.T) {
	store, executor := newTestExecutor(t)
	session, _ := store.CreateSession("conv1")

	original := session.WorkingDir()
	view, _ := executor.Execute(session.ID.String(), "cd /definitely/not/a/dir")

	if view.Status != StatusFailed {
		t.Errorf("Expected failed, got %s", view.Status)
	}
	if view.Error == "" {
		t.Error("Failed cd should carry an error message")
	}
	if session.WorkingDir() != original {
		t.Error("Failed cd must not mutate the working directory")
	}
}

func TestExecuteExternalCompleted(t *testing.T) {
	store, executor := newTestExecutor(t)
	session, _ := store.CreateSession("conv1")

	view, err := executor.Execute(session.ID.String(), "echo hello world")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if view.Status != StatusCompleted {
		t.Fatalf("Expected completed, got %s (%s)", view.Status, view.Error)
	}
	if !strings.Contains(view.Output, "hello world") {
		t.Errorf("Expected echoed output, got %q", view.Output)
	}
	if view.EndedAt == nil {
		t.Error("Finished command should have EndedAt set")
	}
	if store.Registry().Count() != 0 {
		t.Error("Handle should be deregistered after exit")
	}
}

func TestExecuteExternalMergesStderr(t *testing.T) {
	store, executor := newTestExecutor(t)
	session, _ := store.CreateSession("conv1")

	view, _ := executor.Execute(session.ID.String(), "echo out; echo err 1>&2")
	if !strings.Contains(view.Output, "out") || !strings.Contains(view.Output, "err") {
		t.Errorf("Expected merged stdout+stderr, got %q", view.Output)
	}
}

func TestExecuteExternalRunsInWorkingDir(t *testing.T) {
	store, executor := newTestExecutor(t)
	session, _ := store.CreateSession("conv1")

	view, _ := executor.Execute(session.ID.String(), "pwd -P || pwd")
	if view.Status != StatusCompleted {
		t.Fatalf("Expected completed, got %s", view.Status)
	}

	// Resolve symlinks before comparing; macOS tempdirs live under /private.
	resolved, _ := filepath.EvalSymlinks(session.WorkingDir())
	got := strings.TrimSpace(view.Output)
	if got != session.WorkingDir() && got != resolved {
		t.Errorf("Shell pwd %q should match session working dir %q", got, session.WorkingDir())
	}
}

func TestExecuteExternalNonzeroExit(t *testing.T) {
	store, executor := newTestExecutor(t)
	session, _ := store.CreateSession("conv1")

	view, _ := executor.Execute(session.ID.String(), "exit 7")

	if view.Status != StatusFailed {
		t.Fatalf("Expected failed, got %s", view.Status)
	}
	if !strings.Contains(view.Error, "7") {
		t.Errorf("Error should mention the exit code, got %q", view.Error)
	}
	// The command printed nothing, so the failure message backfills output.
	if view.Output == "" {
		t.Error("Failed command with no output should still have displayable output")
	}
}

func TestExecuteExternalEnvironment(t *testing.T) {
	store, executor := newTestExecutor(t)
	session, _ := store.CreateSession("conv1")

	view, _ := executor.Execute(session.ID.String(), "echo $TERM/$COLORTERM")
	if !strings.Contains(view.Output, "xterm-256color/truecolor") {
		t.Errorf("Session env overrides should reach the child, got %q", view.Output)
	}
}

func TestExecuteTimeout(t *testing.T) {
	store := newTestStore(t, testStoreConfig())
	executor := NewExecutor(store, ExecutorConfig{
		CommandTimeout: 300 * time.Millisecond,
		MaxOutputBytes: 1 << 20,
	}, nil)
	session, _ := store.CreateSession("conv1")

	start := time.Now()
	view, err := executor.Execute(session.ID.String(), "sleep 30")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if view.Status != StatusTimeout {
		t.Fatalf("Expected timeout, got %s", view.Status)
	}
	if !strings.Contains(view.Output, "timed out") {
		t.Errorf("Timeout notice should be visible in output, got %q", view.Output)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Timeout handling took too long: %s", elapsed)
	}
	if store.Registry().Count() != 0 {
		t.Error("Handle should be gone after timeout kill")
	}
}

func TestExecuteTimeoutKillsProcessGroup(t *testing.T) {
	store := newTestStore(t, testStoreConfig())
	executor := NewExecutor(store, ExecutorConfig{
		CommandTimeout: 300 * time.Millisecond,
		MaxOutputBytes: 1 << 20,
	}, nil)
	session, _ := store.CreateSession("conv1")

	// The shell forks a child; killing only the shell would leak it.
	type result struct {
		view CommandView
	}
	resCh := make(chan result, 1)
	go func() {
		view, _ := executor.Execute(session.ID.String(), "sleep 30 & wait")
		resCh <- result{view}
	}()

	handles := awaitHandles(t, store.Registry(), session.ID.String())
	pgid := handles[0].Pgid

	res := <-resCh
	if res.view.Status != StatusTimeout {
		t.Fatalf("Expected timeout, got %s", res.view.Status)
	}

	// The whole group must be dead shortly after.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if syscall.Kill(-pgid, 0) != nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Errorf("Process group %d still alive after timeout", pgid)
}

func TestCancelRunningCommand(t *testing.T) {
	store, executor := newTestExecutor(t)
	session, _ := store.CreateSession("conv1")

	viewCh := make(chan CommandView, 1)
	go func() {
		view, _ := executor.Execute(session.ID.String(), "sleep 30")
		viewCh <- view
	}()

	handles := awaitHandles(t, store.Registry(), session.ID.String())
	commandID := handles[0].CommandID

	if !executor.Cancel(session.ID.String(), commandID) {
		t.Fatal("Cancel should succeed for a running command")
	}

	select {
	case view := <-viewCh:
		if view.Status != StatusTerminated {
			t.Errorf("Expected terminated, got %s", view.Status)
		}
		if !strings.Contains(view.Output, "terminated by user") {
			t.Errorf("Expected termination note in output, got %q", view.Output)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Execute did not return after cancel")
	}

	if store.Registry().Count() != 0 {
		t.Error("Cancelled command should leave no handles")
	}
}

func TestCancelFinishedCommand(t *testing.T) {
	store, executor := newTestExecutor(t)
	session, _ := store.CreateSession("conv1")

	view, _ := executor.Execute(session.ID.String(), "echo done")
	if view.Status != StatusCompleted {
		t.Fatalf("Setup command failed: %s", view.Status)
	}

	if executor.Cancel(session.ID.String(), view.ID) {
		t.Error("Cancel of an exited command should report failure")
	}

	// The terminal status must not change.
	after := session.Detail().Commands
	last := after[len(after)-1]
	if last.Status != StatusCompleted {
		t.Errorf("Cancel must not alter a terminal status, got %s", last.Status)
	}
}

func TestCommandHistoryAppendOnly(t *testing.T) {
	store, executor := newTestExecutor(t)
	session, _ := store.CreateSession("conv1")

	var prev []string
	for _, text := range []string{"pwd", "echo one", "help", "echo two"} {
		if _, err := executor.Execute(session.ID.String(), text); err != nil {
			t.Fatal(err)
		}

		detail := session.Detail()
		ids := make([]string, len(detail.Commands))
		for i, c := range detail.Commands {
			ids[i] = c.ID
		}

		if len(ids) != len(prev)+1 {
			t.Fatalf("History length should grow by one, was %d now %d", len(prev), len(ids))
		}
		for i := range prev {
			if ids[i] != prev[i] {
				t.Fatal("History must never be reordered")
			}
		}
		prev = ids
	}
}

func TestCommandLogFileWritten(t *testing.T) {
	store, executor := newTestExecutor(t)
	session, _ := store.CreateSession("conv1")

	if _, err := executor.Execute(session.ID.String(), "echo logged"); err != nil {
		t.Fatal(err)
	}

	// The welcome record occupies seq 0, the echo is seq 1.
	path := store.layout.CommandLogPath(session.ID.String(), 1)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Command log file missing: %v", err)
	}
	if !strings.Contains(string(data), "logged") {
		t.Errorf("Log file should contain command output, got %q", string(data))
	}
}

// awaitHandles waits until the session owns at least one handle and returns
// the current set.
func awaitHandles(t *testing.T, reg *Registry, sessionID string) []*ProcessHandle {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if handles := reg.FindBySession(sessionID); len(handles) > 0 {
			return handles
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Timed out waiting for a process handle")
	return nil
}
