package terminal

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bioinfoflow/backend/internal/infrastructure/logging"
	"github.com/bioinfoflow/backend/internal/shared/id"
	"github.com/bioinfoflow/backend/internal/shared/paths"
)

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = errors.New("terminal session not found")

// Environment variables copied from the host into new sessions.
var envAllowList = []string{"PATH", "TERM", "COLORTERM", "LANG", "HOME", "USER"}

// Forced overrides so downstream tools emit color codes consistently.
var envOverrides = map[string]string{
	"TERM":      "xterm-256color",
	"COLORTERM": "truecolor",
}

// Lifecycle receives session open/close events. Implemented by the metrics
// layer; a nil lifecycle is valid. Close events fire for explicit
// termination and for idle reaping alike.
type Lifecycle interface {
	SessionOpened()
	SessionClosed()
}

// StoreConfig tunes session lifecycle behavior.
type StoreConfig struct {
	IdleTimeout     time.Duration // sessions idle longer than this are reaped
	ReapInterval    time.Duration // how often the reaper sweeps
	KillGracePeriod time.Duration // SIGTERM to SIGKILL escalation delay
}

// DefaultStoreConfig returns the standard lifecycle settings: hourly idle
// threshold swept every five minutes.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		IdleTimeout:     time.Hour,
		ReapInterval:    5 * time.Minute,
		KillGracePeriod: 500 * time.Millisecond,
	}
}

// Store owns the session map, the process registry, and the idle reaper.
// All map mutation is serialized through one mutex; read-modify-write
// sequences hold it for the whole sequence.
type Store struct {
	mu       sync.Mutex
	sessions map[id.SessionID]*Session

	registry   *Registry
	controller *Controller
	layout     paths.Layout
	cfg        StoreConfig
	logger     *logging.Logger
	lifecycle  Lifecycle

	reaperStop chan struct{}
	reaperDone chan struct{}
	stopOnce   sync.Once
}

// NewStore creates a session store and starts its background reaper. Call
// Stop on shutdown to cancel the reaper and terminate remaining sessions.
func NewStore(layout paths.Layout, cfg StoreConfig, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Store{
		sessions:   make(map[id.SessionID]*Session),
		registry:   NewRegistry(),
		controller: NewController(cfg.KillGracePeriod, logger),
		layout:     layout,
		cfg:        cfg,
		logger:     logger,
		reaperStop: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
	go s.reapLoop()
	return s
}

// WithLifecycle attaches a session lifecycle observer. Call before serving
// traffic; the field is not synchronized.
func (s *Store) WithLifecycle(l Lifecycle) *Store {
	s.lifecycle = l
	return s
}

// Registry exposes the process handle registry.
func (s *Store) Registry() *Registry { return s.registry }

// Controller exposes the termination controller.
func (s *Store) Controller() *Controller { return s.controller }

// CreateSession allocates a session for a conversation: resolves the
// conversation's file workspace (creating it if absent), seeds the
// environment from the host allow-list plus forced overrides, and appends a
// welcome command record so the client has something to render immediately.
func (s *Store) CreateSession(conversationID string) (*Session, error) {
	workDir, err := s.layout.ResolveConversationWorkDir(conversationID)
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	env := make(map[string]string, len(envAllowList))
	for _, key := range envAllowList {
		if v, ok := os.LookupEnv(key); ok {
			env[key] = v
		}
	}
	for k, v := range envOverrides {
		env[k] = v
	}

	now := time.Now()
	session := &Session{
		ID:             id.NewSessionID(),
		ConversationID: conversationID,
		CreatedAt:      now,
		workingDir:     workDir,
		env:            env,
		lastActiveAt:   now,
	}

	welcome := &Command{
		ID:        id.NewCommandID(),
		Text:      "welcome",
		Status:    StatusCompleted,
		Output:    welcomeBanner(workDir),
		StartedAt: now,
		EndedAt:   &now,
	}
	session.commands = append(session.commands, welcome)

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	if s.lifecycle != nil {
		s.lifecycle.SessionOpened()
	}
	s.logger.Info("terminal session created",
		zap.String("session_id", session.ID.String()),
		zap.String("conversation_id", conversationID),
		zap.String("working_dir", workDir),
	)
	return session, nil
}

// Get returns a session and refreshes its last-active timestamp.
func (s *Store) Get(sessionID string) (*Session, error) {
	s.mu.Lock()
	session, ok := s.sessions[id.SessionID(sessionID)]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	session.touch()
	return session, nil
}

// ListByConversation returns session summaries for a conversation, most
// recently active first.
func (s *Store) ListByConversation(conversationID string) []SessionSummary {
	s.mu.Lock()
	var matched []*Session
	for _, session := range s.sessions {
		if session.ConversationID == conversationID {
			matched = append(matched, session)
		}
	}
	s.mu.Unlock()

	summaries := make([]SessionSummary, len(matched))
	for i, session := range matched {
		summaries[i] = session.Summary()
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastActiveAt.After(summaries[j].LastActiveAt)
	})
	return summaries
}

// Terminate destroys a session: every process it owns is escalated against
// and deregistered, then the session is removed. Returns false for unknown
// ids; terminating an already-gone session is a no-op, not an error.
func (s *Store) Terminate(sessionID string) bool {
	s.mu.Lock()
	session, ok := s.sessions[id.SessionID(sessionID)]
	if ok {
		delete(s.sessions, session.ID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	for _, h := range s.registry.FindBySession(sessionID) {
		s.controller.Terminate(h)
		s.registry.Remove(h.ID)
	}

	if s.lifecycle != nil {
		s.lifecycle.SessionClosed()
	}
	s.logger.Info("terminal session terminated", zap.String("session_id", sessionID))
	return true
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Stop cancels the reaper and terminates all remaining sessions.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.reaperStop)
		<-s.reaperDone

		s.mu.Lock()
		ids := make([]string, 0, len(s.sessions))
		for sid := range s.sessions {
			ids = append(ids, sid.String())
		}
		s.mu.Unlock()
		for _, sid := range ids {
			s.Terminate(sid)
		}
	})
}

// reapLoop sweeps idle sessions on a fixed interval. A failure on one
// session is logged and must not block the rest of the sweep.
func (s *Store) reapLoop() {
	defer close(s.reaperDone)
	ticker := time.NewTicker(s.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.reaperStop:
			return
		case <-ticker.C:
			s.reapIdle()
		}
	}
}

func (s *Store) reapIdle() {
	cutoff := time.Now().Add(-s.cfg.IdleTimeout)

	s.mu.Lock()
	var expired []string
	for _, session := range s.sessions {
		if session.LastActiveAt().Before(cutoff) {
			expired = append(expired, session.ID.String())
		}
	}
	s.mu.Unlock()

	for _, sid := range expired {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("reaper panic", zap.String("session_id", sid), zap.Any("panic", r))
				}
			}()
			s.logger.Info("reaping idle terminal session", zap.String("session_id", sid))
			s.Terminate(sid)
		}()
	}
}
