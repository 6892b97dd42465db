package terminal

import (
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bioinfoflow/backend/internal/shared/id"
)

// CommandStatus is the lifecycle state of a command record. Running is the
// sole initial state; the other four are terminal and final.
type CommandStatus string

const (
	StatusRunning    CommandStatus = "running"
	StatusCompleted  CommandStatus = "completed"
	StatusFailed     CommandStatus = "failed"
	StatusTimeout    CommandStatus = "timeout"
	StatusTerminated CommandStatus = "terminated"
)

// Terminal reports whether the status is final.
func (s CommandStatus) Terminal() bool {
	return s != StatusRunning
}

// ClearSentinel is returned as the output of the clear built-in. The client
// interprets it as an instruction to wipe its display.
const ClearSentinel = "CLEAR_TERMINAL"

// Command is one entry in a session's history. Output is append-only while
// running and frozen once the status becomes terminal.
type Command struct {
	ID        id.CommandID
	Text      string
	Status    CommandStatus
	Output    string
	Error     string
	StartedAt time.Time
	EndedAt   *time.Time

	mu sync.Mutex
}

// appendOutput appends a chunk unless the command already finished.
func (c *Command) appendOutput(chunk string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Status.Terminal() {
		return
	}
	c.Output += chunk
}

// finish moves the command to a terminal status. It is a no-op if the command
// already reached one: terminal states never transition again.
func (c *Command) finish(status CommandStatus, errMsg string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Status.Terminal() {
		return false
	}
	now := time.Now()
	c.Status = status
	c.Error = errMsg
	c.EndedAt = &now
	return true
}

// finishWithNote atomically finalizes the command and appends a trailing note
// to its output, so the note cannot race with streamed chunks.
func (c *Command) finishWithNote(status CommandStatus, errMsg, note string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Status.Terminal() {
		return false
	}
	now := time.Now()
	c.Status = status
	c.Error = errMsg
	c.EndedAt = &now
	c.Output += note
	return true
}

// Snapshot returns a consistent copy for serialization.
func (c *Command) Snapshot() CommandView {
	c.mu.Lock()
	defer c.mu.Unlock()

	view := CommandView{
		ID:        c.ID.String(),
		Text:      c.Text,
		Status:    c.Status,
		Output:    c.Output,
		Error:     c.Error,
		StartedAt: c.StartedAt,
	}
	if c.EndedAt != nil {
		t := *c.EndedAt
		view.EndedAt = &t
	}
	return view
}

// CommandView is the public representation of a command record.
type CommandView struct {
	ID        string        `json:"id"`
	Text      string        `json:"text"`
	Status    CommandStatus `json:"status"`
	Output    string        `json:"output"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
}

// Session is one terminal tab scoped to a conversation: a working directory,
// an environment, and an ordered command history. Commands are append-only;
// individual entries are never removed or reordered.
type Session struct {
	ID             id.SessionID
	ConversationID string
	CreatedAt      time.Time

	mu           sync.RWMutex
	workingDir   string
	env          map[string]string
	commands     []*Command
	lastActiveAt time.Time
}

// WorkingDir returns the session's current working directory.
func (s *Session) WorkingDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workingDir
}

// setWorkingDir mutates the working directory. Only the cd built-in calls it.
func (s *Session) setWorkingDir(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workingDir = dir
}

// Environ returns the session environment as KEY=VALUE pairs.
func (s *Session) Environ() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	env := make([]string, 0, len(s.env))
	for k, v := range s.env {
		env = append(env, k+"="+v)
	}
	return env
}

// appendCommand appends a command to the history and returns its sequence
// number within the session.
func (s *Session) appendCommand(cmd *Command) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)
	return len(s.commands) - 1
}

// findCommand returns the command with the given id, or nil.
func (s *Session) findCommand(commandID string) *Command {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cmd := range s.commands {
		if cmd.ID.String() == commandID {
			return cmd
		}
	}
	return nil
}

// Command returns a snapshot of one command record by id.
func (s *Session) Command(commandID string) (CommandView, bool) {
	cmd := s.findCommand(commandID)
	if cmd == nil {
		return CommandView{}, false
	}
	return cmd.Snapshot(), true
}

// touch refreshes the last-active timestamp.
func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActiveAt = time.Now()
}

// LastActiveAt returns the last-active timestamp.
func (s *Session) LastActiveAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActiveAt
}

// Summary returns the public summary representation.
func (s *Session) Summary() SessionSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionSummary{
		ID:             s.ID.String(),
		ConversationID: s.ConversationID,
		WorkingDir:     s.workingDir,
		CreatedAt:      s.CreatedAt,
		LastActiveAt:   s.lastActiveAt,
		CommandCount:   len(s.commands),
	}
}

// Detail returns the public detail representation, including full history.
func (s *Session) Detail() SessionDetail {
	s.mu.RLock()
	commands := make([]*Command, len(s.commands))
	copy(commands, s.commands)
	detail := SessionDetail{
		SessionSummary: SessionSummary{
			ID:             s.ID.String(),
			ConversationID: s.ConversationID,
			WorkingDir:     s.workingDir,
			CreatedAt:      s.CreatedAt,
			LastActiveAt:   s.lastActiveAt,
			CommandCount:   len(s.commands),
		},
		Environment: make(map[string]string, len(s.env)),
	}
	for k, v := range s.env {
		detail.Environment[k] = v
	}
	s.mu.RUnlock()

	detail.Commands = make([]CommandView, len(commands))
	for i, cmd := range commands {
		detail.Commands[i] = cmd.Snapshot()
	}
	return detail
}

// SessionSummary is the list representation of a session.
type SessionSummary struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	WorkingDir     string    `json:"working_directory"`
	CreatedAt      time.Time `json:"created_at"`
	LastActiveAt   time.Time `json:"last_active_at"`
	CommandCount   int       `json:"command_count"`
}

// SessionDetail is the full representation of a session.
type SessionDetail struct {
	SessionSummary
	Environment map[string]string `json:"environment"`
	Commands    []CommandView     `json:"commands"`
}

// ProcessHandle tracks one spawned child process. Handles live only in memory
// and only while the process does: they are registered right after spawn and
// removed as soon as the process is observed to have exited or been killed.
type ProcessHandle struct {
	ID        id.ProcessID
	OSPid     int
	Pgid      int
	SessionID string
	CommandID string
	StartedAt time.Time

	cmd *exec.Cmd

	// Set by Cancel before signaling so the executor finalizes the command
	// as terminated instead of failed when the kill wins the race.
	cancelled atomic.Bool
}

// NewProcessHandle wraps a started command for group signaling. Workflow step
// execution uses the same handle and Controller escalation as the terminal.
func NewProcessHandle(cmd *exec.Cmd, pgid int, sessionID, commandID string) *ProcessHandle {
	return &ProcessHandle{
		ID:        id.NewProcessID(),
		OSPid:     cmd.Process.Pid,
		Pgid:      pgid,
		SessionID: sessionID,
		CommandID: commandID,
		StartedAt: time.Now(),
		cmd:       cmd,
	}
}
