// Package paths provides the standardized on-disk layout for backend data.
//
// All persisted state lives under a single data root:
//
//	data/
//	  conversations/   one JSON document per conversation
//	  files/<conv>/    per-conversation file workspace
//	  plans/           workflow plan documents
//	  logs/            workflow step execution logs
//	  terminal_logs/   per-command terminal output logs
//
// Components never build these paths themselves; they go through a Layout so
// the whole tree can be rooted anywhere (t.TempDir in tests, a volume in prod).
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout resolves data directories under a root.
type Layout struct {
	Root string
}

// New creates a layout rooted at root.
func New(root string) Layout {
	return Layout{Root: root}
}

// ConversationsDir returns the conversation document directory.
func (l Layout) ConversationsDir() string {
	return filepath.Join(l.Root, "conversations")
}

// FilesDir returns the root of all conversation file workspaces.
func (l Layout) FilesDir() string {
	return filepath.Join(l.Root, "files")
}

// ConversationFilesDir returns the file workspace for one conversation.
func (l Layout) ConversationFilesDir(conversationID string) string {
	return filepath.Join(l.FilesDir(), conversationID)
}

// PlansDir returns the workflow plan directory.
func (l Layout) PlansDir() string {
	return filepath.Join(l.Root, "plans")
}

// LogsDir returns the workflow step log directory.
func (l Layout) LogsDir() string {
	return filepath.Join(l.Root, "logs")
}

// TerminalLogsDir returns the terminal command log directory.
func (l Layout) TerminalLogsDir() string {
	return filepath.Join(l.Root, "terminal_logs")
}

// CommandLogPath returns the log file for one terminal command, keyed by the
// owning session and the command's position in the session history.
func (l Layout) CommandLogPath(sessionID string, seq int) string {
	return filepath.Join(l.TerminalLogsDir(), fmt.Sprintf("%s_%d.log", sessionID, seq))
}

// StepLogPath returns the log file for one workflow step execution.
func (l Layout) StepLogPath(planID, stepID string) string {
	return filepath.Join(l.LogsDir(), fmt.Sprintf("%s_%s.log", planID, stepID))
}

// StandardDirectories returns all directories that should exist under the root.
func (l Layout) StandardDirectories() []string {
	return []string{
		l.Root,
		l.ConversationsDir(),
		l.FilesDir(),
		l.PlansDir(),
		l.LogsDir(),
		l.TerminalLogsDir(),
	}
}

// Ensure creates the standard directory tree.
func (l Layout) Ensure() error {
	for _, dir := range l.StandardDirectories() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// ResolveConversationWorkDir returns the conversation's file workspace,
// creating it if absent. The returned path is guaranteed to exist.
func (l Layout) ResolveConversationWorkDir(conversationID string) (string, error) {
	dir := l.ConversationFilesDir(conversationID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace for %s: %w", conversationID, err)
	}
	return dir, nil
}
