package terminal

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bioinfoflow/backend/internal/infrastructure/logging"
	"github.com/bioinfoflow/backend/internal/shared/id"
)

// ErrEmptyCommand is returned when the submitted command text is blank.
var ErrEmptyCommand = errors.New("empty command text")

const readChunkSize = 4096

// Observer receives command completion events. Implemented by the metrics
// layer; a nil observer is valid.
type Observer interface {
	CommandFinished(status CommandStatus, duration time.Duration)
}

// ExecutorConfig tunes command execution.
type ExecutorConfig struct {
	CommandTimeout time.Duration // maximum run time per command
	MaxOutputBytes int           // in-memory output cap; the log file keeps everything
}

// DefaultExecutorConfig returns the standard executor limits.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		CommandTimeout: 60 * time.Second,
		MaxOutputBytes: 1 << 20,
	}
}

// Executor interprets a submitted command string in the context of a session:
// built-ins are handled inline, everything else is spawned as a shell child
// in its own process group with streamed output capture and a hard timeout.
type Executor struct {
	store    *Store
	cfg      ExecutorConfig
	logger   *logging.Logger
	observer Observer
}

// NewExecutor creates an executor bound to a session store.
func NewExecutor(store *Store, cfg ExecutorConfig, logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{store: store, cfg: cfg, logger: logger}
}

// WithObserver attaches a completion observer.
func (e *Executor) WithObserver(obs Observer) *Executor {
	e.observer = obs
	return e
}

// Execute runs a command in the session and returns the finalized record.
// The call blocks for up to the command timeout. Execution failures are
// recorded on the Command, never returned as errors: the caller always gets
// a record, even a failed one. Only an unknown session or blank text error.
func (e *Executor) Execute(sessionID, text string) (CommandView, error) {
	session, err := e.store.Get(sessionID)
	if err != nil {
		return CommandView{}, err
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return CommandView{}, ErrEmptyCommand
	}

	cmd := &Command{
		ID:        id.NewCommandID(),
		Text:      text,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}
	seq := session.appendCommand(cmd)

	if !e.runBuiltin(session, cmd, trimmed) {
		e.runExternal(session, cmd, seq, trimmed)
	}

	view := cmd.Snapshot()
	if e.observer != nil && view.EndedAt != nil {
		e.observer.CommandFinished(view.Status, view.EndedAt.Sub(view.StartedAt))
	}
	return view, nil
}

// runExternal spawns the command as a shell child and blocks until it exits,
// times out, or is cancelled from another goroutine.
func (e *Executor) runExternal(session *Session, cmd *Command, seq int, text string) {
	logFile := e.openLogFile(session, seq)
	if logFile != nil {
		defer logFile.Close()
	}

	shell := exec.Command("/bin/sh", "-c", text)
	shell.Dir = session.WorkingDir()
	shell.Env = append(os.Environ(), session.Environ()...)
	// New process group so termination can target the whole tree without
	// touching the server itself.
	shell.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	pr, pw, err := os.Pipe()
	if err != nil {
		e.recordSpawnFailure(cmd, err)
		return
	}
	shell.Stdout = pw
	shell.Stderr = pw

	if err := shell.Start(); err != nil {
		pw.Close()
		pr.Close()
		e.recordSpawnFailure(cmd, err)
		return
	}
	pw.Close() // child holds the write end now

	pgid, err := syscall.Getpgid(shell.Process.Pid)
	if err != nil {
		pgid = shell.Process.Pid
	}

	// Register before reading any output so a slow starter is cancellable
	// from the moment it exists.
	handle := &ProcessHandle{
		ID:        id.NewProcessID(),
		OSPid:     shell.Process.Pid,
		Pgid:      pgid,
		SessionID: session.ID.String(),
		CommandID: cmd.ID.String(),
		StartedAt: time.Now(),
		cmd:       shell,
	}
	e.store.registry.Register(handle)

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		buf := make([]byte, readChunkSize)
		written := 0
		for {
			n, rerr := pr.Read(buf)
			if n > 0 {
				chunk := buf[:n]
				if logFile != nil {
					logFile.Write(chunk)
				}
				if written < e.cfg.MaxOutputBytes {
					cmd.appendOutput(string(chunk))
					written += n
				}
			}
			if rerr != nil {
				return
			}
		}
	}()

	waitCh := make(chan error, 1)
	go func() { waitCh <- shell.Wait() }()

	timer := time.NewTimer(e.cfg.CommandTimeout)
	defer timer.Stop()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-waitCh:
	case <-timer.C:
		timedOut = true
		e.logger.Info("command execution timed out",
			zap.String("session_id", session.ID.String()),
			zap.String("command_id", cmd.ID.String()),
		)
		e.store.controller.Terminate(handle)
		waitErr = <-waitCh
	}

	// Drain remaining buffered output. Descendants that escaped the kill can
	// hold the pipe open, so the drain window is bounded.
	select {
	case <-readerDone:
	case <-time.After(200 * time.Millisecond):
		pr.Close()
		<-readerDone
	}
	pr.Close()

	e.store.registry.Remove(handle.ID)

	switch {
	case timedOut:
		notice := fmt.Sprintf("\n%sCommand timed out after %s%s", ansiRed, e.cfg.CommandTimeout, ansiReset)
		cmd.finishWithNote(StatusTimeout, fmt.Sprintf("execution timed out after %s", e.cfg.CommandTimeout), notice)

	case handle.cancelled.Load():
		cmd.finishWithNote(StatusTerminated, "",
			fmt.Sprintf("\n%sCommand terminated by user%s", ansiRed, ansiReset))

	case waitErr == nil:
		cmd.finish(StatusCompleted, "")

	default:
		code := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		msg := fmt.Sprintf("command failed with exit code %d", code)
		cmd.mu.Lock()
		empty := cmd.Output == ""
		cmd.mu.Unlock()
		if empty {
			// Always give the client something to display.
			cmd.finishWithNote(StatusFailed, msg, fmt.Sprintf("%s%s%s", ansiRed, msg, ansiReset))
		} else {
			cmd.finish(StatusFailed, msg)
		}
	}
}

// Cancel terminates a specific running command: escalation against every
// matching process handle, then the Command record is marked terminated, but
// only if the cancellation actually stopped something. Cancelling a command
// whose process already exited reports failure and mutates nothing.
func (e *Executor) Cancel(sessionID, commandID string) bool {
	session, err := e.store.Get(sessionID)
	if err != nil {
		return false
	}

	handles := e.store.registry.FindByCommand(sessionID, commandID)
	if len(handles) == 0 {
		return false
	}

	for _, h := range handles {
		h.cancelled.Store(true)
	}
	success := false
	for _, h := range handles {
		if e.store.controller.Terminate(h) {
			success = true
		}
		e.store.registry.Remove(h.ID)
	}
	if !success {
		for _, h := range handles {
			h.cancelled.Store(false)
		}
		return false
	}

	if cmd := session.findCommand(commandID); cmd != nil {
		cmd.finishWithNote(StatusTerminated, "",
			fmt.Sprintf("\n%sCommand terminated by user%s", ansiRed, ansiReset))
	}
	return true
}

func (e *Executor) recordSpawnFailure(cmd *Command, err error) {
	msg := err.Error()
	cmd.finishWithNote(StatusFailed, msg,
		fmt.Sprintf("%sExecution error: %s%s", ansiRed, msg, ansiReset))
}

func (e *Executor) openLogFile(session *Session, seq int) *os.File {
	path := e.store.layout.CommandLogPath(session.ID.String(), seq)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		e.logger.Warn("cannot create terminal log directory", zap.Error(err))
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		e.logger.Warn("cannot open command log file", zap.String("path", path), zap.Error(err))
		return nil
	}
	return f
}
