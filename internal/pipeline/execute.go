package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bioinfoflow/backend/internal/terminal"
)

// outputMaxLines bounds how much of a step log is stored inline; longer
// logs keep the head and tail around a truncation marker.
const outputMaxLines = 1000

// ExecuteStep runs one workflow step's shell command in the conversation
// workspace. Output goes to a per-step log file; the step record gets a
// truncated read-back. The step times out independently of any terminal
// session commands.
func (s *Service) ExecuteStep(ctx context.Context, planID, stepID, conversationID string) (*Step, error) {
	s.mu.Lock()
	w, err := s.getLocked(planID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	idx := -1
	for i := range w.Steps {
		if w.Steps[i].ID == stepID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s in plan %s", ErrStepNotFound, stepID, planID)
	}

	started := time.Now()
	w.Steps[idx].Status = StepRunning
	w.Steps[idx].StartedAt = &started
	w.Steps[idx].Error = ""
	w.Steps[idx].Output = ""
	if err := s.save(w); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	step := w.Steps[idx]
	s.mu.Unlock()

	result := s.runStep(ctx, planID, conversationID, step)

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-load so a concurrent execution of another step is not clobbered.
	w, err = s.getLocked(planID)
	if err != nil {
		return nil, err
	}
	for i := range w.Steps {
		if w.Steps[i].ID == stepID {
			w.Steps[i] = result
			idx = i
			break
		}
	}
	rollUp(w)
	if err := s.save(w); err != nil {
		return nil, err
	}
	final := w.Steps[idx]
	return &final, nil
}

// runStep does the actual spawn/wait/escalate cycle and returns the
// finalized step record.
func (s *Service) runStep(ctx context.Context, planID, conversationID string, step Step) Step {
	finish := func(status, errMsg string) Step {
		ended := time.Now()
		step.Status = status
		step.Error = errMsg
		step.EndedAt = &ended
		return step
	}

	workDir, err := s.layout.ResolveConversationWorkDir(conversationID)
	if err != nil {
		return finish(StepFailed, fmt.Sprintf("resolve working directory: %v", err))
	}

	logPath := s.layout.StepLogPath(planID, step.ID)
	logFile, err := os.Create(logPath)
	if err != nil {
		return finish(StepFailed, fmt.Sprintf("open step log: %v", err))
	}
	defer logFile.Close()

	shell := exec.Command("/bin/sh", "-c", step.Command)
	shell.Dir = workDir
	shell.Stdout = logFile
	shell.Stderr = logFile
	shell.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := shell.Start(); err != nil {
		return finish(StepFailed, fmt.Sprintf("start command: %v", err))
	}

	pgid, perr := syscall.Getpgid(shell.Process.Pid)
	if perr != nil {
		pgid = shell.Process.Pid
	}
	handle := terminal.NewProcessHandle(shell, pgid, conversationID, step.ID)

	waitCh := make(chan error, 1)
	go func() { waitCh <- shell.Wait() }()

	timer := time.NewTimer(s.cfg.StepTimeout)
	defer timer.Stop()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-waitCh:
	case <-ctx.Done():
		s.controller.Terminate(handle)
		<-waitCh
		return finish(StepFailed, fmt.Sprintf("step cancelled: %v", ctx.Err()))
	case <-timer.C:
		timedOut = true
		s.controller.Terminate(handle)
		waitErr = <-waitCh
	}

	if timedOut {
		s.logger.Warn("workflow step timed out",
			zap.String("plan_id", planID),
			zap.String("step_id", step.ID),
			zap.Duration("timeout", s.cfg.StepTimeout),
		)
		out := finish(StepTimeout, fmt.Sprintf("Command execution timed out after %s", s.cfg.StepTimeout))
		out.Output = truncatedOutput(logPath)
		return out
	}

	step.Output = truncatedOutput(logPath)
	if waitErr == nil {
		return finish(StepCompleted, "")
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return finish(StepFailed, fmt.Sprintf("Command failed with return code %d", exitErr.ExitCode()))
	}
	return finish(StepFailed, waitErr.Error())
}

// truncatedOutput reads a step log, keeping head and tail when it exceeds
// outputMaxLines.
func truncatedOutput(path string) string {
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	if len(lines) <= outputMaxLines {
		return strings.Join(lines, "\n")
	}

	half := outputMaxLines / 2
	omitted := len(lines) - outputMaxLines
	var b strings.Builder
	b.WriteString(strings.Join(lines[:half], "\n"))
	fmt.Fprintf(&b, "\n... [output truncated, %d lines omitted] ...\n", omitted)
	b.WriteString(strings.Join(lines[len(lines)-half:], "\n"))
	return b.String()
}
