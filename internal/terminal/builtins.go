package terminal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ANSI codes used in built-in command output. The forced TERM/COLORTERM
// session environment guarantees clients can render them.
const (
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiBlue   = "\033[34m"
	ansiReset  = "\033[0m"
)

func welcomeBanner(workDir string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%sWelcome to the terminal!%s\n", ansiGreen, ansiReset)
	fmt.Fprintf(&b, "Current working directory: %s%s%s\n", ansiBlue, workDir, ansiReset)
	fmt.Fprintf(&b, "Tip: run %shelp%s to list available commands\n", ansiYellow, ansiReset)
	return b.String()
}

func helpText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%sAvailable commands:%s\n", ansiGreen, ansiReset)
	for _, entry := range [][2]string{
		{"cd <dir>", "change the current working directory"},
		{"pwd", "print the current working directory"},
		{"ls", "list files in the current directory"},
		{"cat <file>", "print file contents"},
		{"mkdir <dir>", "create a new directory"},
		{"rm <file>", "remove a file"},
		{"clear", "clear the screen"},
		{"help", "show this help message"},
	} {
		fmt.Fprintf(&b, "  %s%s%s - %s\n", ansiYellow, entry[0], ansiReset, entry[1])
	}
	return b.String()
}

// runBuiltin handles a command without spawning a process. It returns false
// when the text is not a built-in and must be executed externally.
func (e *Executor) runBuiltin(session *Session, cmd *Command, text string) bool {
	switch {
	case text == "help":
		cmd.finishWithNote(StatusCompleted, "", helpText())
		return true

	case text == "clear":
		cmd.finishWithNote(StatusCompleted, "", ClearSentinel)
		return true

	case text == "pwd":
		cmd.finishWithNote(StatusCompleted, "", session.WorkingDir())
		return true

	case strings.HasPrefix(text, "cd ") || text == "cd":
		e.changeDir(session, cmd, strings.TrimSpace(strings.TrimPrefix(text, "cd")))
		return true
	}
	return false
}

// changeDir implements the cd built-in. Relative targets resolve against the
// session's current directory; ~ expands to the user home. A target that is
// not an existing directory fails without mutating the session.
func (e *Executor) changeDir(session *Session, cmd *Command, target string) {
	if target == "" {
		cmd.finishWithNote(StatusFailed, "cd: missing directory argument",
			fmt.Sprintf("%sError: cd requires a directory argument%s", ansiRed, ansiReset))
		return
	}

	if target == "~" || strings.HasPrefix(target, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			target = filepath.Join(home, strings.TrimPrefix(target, "~"))
		}
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(session.WorkingDir(), target)
	}
	target = filepath.Clean(target)

	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		cmd.finishWithNote(StatusFailed, fmt.Sprintf("directory %q does not exist", target),
			fmt.Sprintf("%sError: directory '%s' does not exist%s", ansiRed, target, ansiReset))
		return
	}

	session.setWorkingDir(target)
	cmd.finishWithNote(StatusCompleted, "",
		fmt.Sprintf("%sChanged directory to: %s%s%s", ansiGreen, ansiBlue, target, ansiReset))
}
