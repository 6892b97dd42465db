// Package id provides centralized ID generation for the backend.
//
// Every identifier in the system is a prefixed ULID. Prefixes make log lines
// and JSON payloads self-describing (conv_*, term_*, cmd_*), and ULIDs are
// lexicographically sortable so directory listings of persisted records come
// back in creation order for free.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ConversationID identifies a conversation.
type ConversationID string

// SessionID identifies a terminal session.
type SessionID string

// CommandID identifies a command record within a terminal session.
type CommandID string

// ProcessID identifies a registered child process. Distinct from the OS pid.
type ProcessID string

// MessageID identifies a conversation message.
type MessageID string

// PlanID identifies a workflow plan.
type PlanID string

// FileID identifies a workspace file entry.
type FileID string

// ID prefixes.
const (
	ConversationPrefix = "conv"
	SessionPrefix      = "term"
	CommandPrefix      = "cmd"
	ProcessPrefix      = "proc"
	MessagePrefix      = "msg"
	PlanPrefix         = "plan"
	FilePrefix         = "file"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for testing with deterministic entropy.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string.
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewConversationID generates a new conversation ID.
func NewConversationID() ConversationID {
	return ConversationID(Default().GenerateWithPrefix(ConversationPrefix))
}

// NewSessionID generates a new terminal session ID.
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

// NewCommandID generates a new command ID.
func NewCommandID() CommandID {
	return CommandID(Default().GenerateWithPrefix(CommandPrefix))
}

// NewProcessID generates a new process handle ID.
func NewProcessID() ProcessID {
	return ProcessID(Default().GenerateWithPrefix(ProcessPrefix))
}

// NewMessageID generates a new message ID.
func NewMessageID() MessageID {
	return MessageID(Default().GenerateWithPrefix(MessagePrefix))
}

// NewPlanID generates a new workflow plan ID.
func NewPlanID() PlanID {
	return PlanID(Default().GenerateWithPrefix(PlanPrefix))
}

// NewFileID generates a new file entry ID.
func NewFileID() FileID {
	return FileID(Default().GenerateWithPrefix(FilePrefix))
}

// String methods for ID types.
func (id ConversationID) String() string { return string(id) }
func (id SessionID) String() string      { return string(id) }
func (id CommandID) String() string      { return string(id) }
func (id ProcessID) String() string      { return string(id) }
func (id MessageID) String() string      { return string(id) }
func (id PlanID) String() string         { return string(id) }
func (id FileID) String() string         { return string(id) }

// IsValid checks if an ID string is a valid ULID.
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// Timestamp extracts the creation time from a ULID string.
func Timestamp(id string) (time.Time, error) {
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
