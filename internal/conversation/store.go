// Package conversation manages conversation documents: flat JSON-file CRUD
// plus the chat/agent message flows layered on top.
package conversation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/bioinfoflow/backend/internal/infrastructure/logging"
	"github.com/bioinfoflow/backend/internal/shared/id"
	"github.com/bioinfoflow/backend/internal/shared/paths"
)

// ErrNotFound is returned for unknown conversation ids.
var ErrNotFound = errors.New("conversation not found")

// Mode selects how incoming messages are processed.
type Mode string

const (
	ModeChat  Mode = "chat"
	ModeAgent Mode = "agent"
)

// Valid reports whether the mode is one of the known values.
func (m Mode) Valid() bool { return m == ModeChat || m == ModeAgent }

// Message is one entry in a conversation transcript.
type Message struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Sender     string    `json:"sender"` // "user", "bot", "system"
	Timestamp  time.Time `json:"timestamp"`
	IsWelcome  bool      `json:"isWelcome,omitempty"`
	IsSystem   bool      `json:"isSystem,omitempty"`
	WorkflowID string    `json:"workflow_id,omitempty"`
}

// Conversation is the full persisted document.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Mode      Mode      `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

// Summary is the list representation.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Mode         Mode      `json:"mode"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Store persists conversations as one JSON document per file. Writes to the
// same conversation are serialized through the store mutex; the documents
// are small enough that whole-file rewrites are fine.
type Store struct {
	mu     sync.Mutex
	layout paths.Layout
	logger *logging.Logger
}

// NewStore creates a conversation store over the data layout.
func NewStore(layout paths.Layout, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{layout: layout, logger: logger}
}

func (s *Store) docPath(conversationID string) string {
	return filepath.Join(s.layout.ConversationsDir(), conversationID+".json")
}

// List returns summaries of every conversation, most recently updated first.
// Unreadable documents are logged and skipped, never fatal.
func (s *Store) List() []Summary {
	entries, err := os.ReadDir(s.layout.ConversationsDir())
	if err != nil {
		return nil
	}

	var summaries []Summary
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		conv, err := s.load(filepath.Join(s.layout.ConversationsDir(), entry.Name()))
		if err != nil {
			s.logger.Error("skipping unreadable conversation document",
				zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		summaries = append(summaries, Summary{
			ID:           conv.ID,
			Title:        conv.Title,
			Mode:         conv.Mode,
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
			MessageCount: len(conv.Messages),
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries
}

// Get loads one conversation.
func (s *Store) Get(conversationID string) (*Conversation, error) {
	conv, err := s.load(s.docPath(conversationID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
		}
		return nil, err
	}
	return conv, nil
}

// Create allocates a conversation with a mode-specific welcome message and
// persists it. An empty title gets a timestamped default.
func (s *Store) Create(title string, mode Mode) (*Conversation, error) {
	if !mode.Valid() {
		mode = ModeChat
	}
	now := time.Now()
	if title == "" {
		title = "Conversation " + now.Format("2006-01-02 15:04")
	}

	welcome := "Welcome! How can I assist you with your bioinformatics questions today?"
	if mode == ModeAgent {
		welcome = "Welcome to Agent Mode! I'll help you plan and execute bioinformatics workflows. " +
			"Please describe your analysis goal and the data you're working with."
	}

	conv := &Conversation{
		ID:        id.NewConversationID().String(),
		Title:     title,
		Mode:      mode,
		CreatedAt: now,
		UpdatedAt: now,
		Messages: []Message{{
			ID:        id.NewMessageID().String(),
			Text:      welcome,
			Sender:    "bot",
			Timestamp: now,
			IsWelcome: true,
		}},
	}

	if err := s.save(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Delete removes a conversation document. Returns false for unknown ids.
func (s *Store) Delete(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.docPath(conversationID)); err != nil {
		return false
	}
	return true
}

// Rename updates the title.
func (s *Store) Rename(conversationID, title string) (*Conversation, error) {
	return s.update(conversationID, func(conv *Conversation) {
		conv.Title = title
	})
}

// SetMode switches between chat and agent mode, appending a system message
// when the mode actually changes.
func (s *Store) SetMode(conversationID string, mode Mode) (*Conversation, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("mode must be %q or %q", ModeChat, ModeAgent)
	}
	return s.update(conversationID, func(conv *Conversation) {
		if conv.Mode == mode {
			return
		}
		conv.Mode = mode
		note := "Switched to Chat Mode - You can ask any bioinformatics questions"
		if mode == ModeAgent {
			note = "Switched to Agent Mode - Describe your analysis goals and I'll create workflows to help you"
		}
		conv.Messages = append(conv.Messages, Message{
			ID:        id.NewMessageID().String(),
			Text:      note,
			Sender:    "system",
			Timestamp: time.Now(),
			IsSystem:  true,
		})
	})
}

// AppendMessage adds a message to the transcript and persists the document.
func (s *Store) AppendMessage(conversationID string, msg Message) (*Message, error) {
	if msg.ID == "" {
		msg.ID = id.NewMessageID().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	_, err := s.update(conversationID, func(conv *Conversation) {
		conv.Messages = append(conv.Messages, msg)
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// Messages returns the transcript.
func (s *Store) Messages(conversationID string) ([]Message, error) {
	conv, err := s.Get(conversationID)
	if err != nil {
		return nil, err
	}
	return conv.Messages, nil
}

// update applies fn to a loaded document inside the store lock and persists
// the result, refreshing UpdatedAt.
func (s *Store) update(conversationID string, fn func(*Conversation)) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.load(s.docPath(conversationID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
		}
		return nil, err
	}

	fn(conv)
	conv.UpdatedAt = time.Now()
	if err := s.saveLocked(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *Store) load(path string) (*Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var conv Conversation
	if err := sonic.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return &conv, nil
}

func (s *Store) save(conv *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(conv)
}

func (s *Store) saveLocked(conv *Conversation) error {
	data, err := sonic.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", conv.ID, err)
	}
	if err := os.MkdirAll(s.layout.ConversationsDir(), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.docPath(conv.ID), data, 0o644)
}
