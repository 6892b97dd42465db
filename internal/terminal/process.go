package terminal

import (
	"errors"
	"os"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bioinfoflow/backend/internal/infrastructure/logging"
	"github.com/bioinfoflow/backend/internal/shared/id"
)

// Registry tracks live ProcessHandles. All access is serialized through one
// mutex; lookups return copies of the handle slice so callers can signal
// processes without holding the lock.
type Registry struct {
	mu      sync.Mutex
	handles map[id.ProcessID]*ProcessHandle
}

// NewRegistry creates an empty process registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[id.ProcessID]*ProcessHandle)}
}

// Register adds a handle.
func (r *Registry) Register(h *ProcessHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[h.ID] = h
}

// Remove deletes a handle by id.
func (r *Registry) Remove(procID id.ProcessID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, procID)
}

// FindByCommand returns handles owned by the given command.
func (r *Registry) FindByCommand(sessionID, commandID string) []*ProcessHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*ProcessHandle
	for _, h := range r.handles {
		if h.SessionID == sessionID && h.CommandID == commandID {
			out = append(out, h)
		}
	}
	return out
}

// FindBySession returns handles owned by the given session.
func (r *Registry) FindBySession(sessionID string) []*ProcessHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*ProcessHandle
	for _, h := range r.handles {
		if h.SessionID == sessionID {
			out = append(out, h)
		}
	}
	return out
}

// All returns every live handle.
func (r *Registry) All() []*ProcessHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ProcessHandle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	return out
}

// Count returns the number of live handles.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Controller performs graceful-then-forceful signal escalation against
// process groups. Shared by timeout handling, explicit cancellation, and
// session destruction.
type Controller struct {
	grace  time.Duration
	logger *logging.Logger
}

// NewController creates a controller with the given grace period between
// SIGTERM and SIGKILL.
func NewController(grace time.Duration, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Controller{grace: grace, logger: logger}
}

// Terminate escalates against the handle's process group: SIGTERM, wait the
// grace period, re-check liveness, SIGKILL if still alive. If group signaling
// fails it falls back to signaling the process directly. Total failure is
// logged and reported, never fatal: a leaked zombie is preferable to a stuck
// caller, so cleanup proceeds regardless.
func (c *Controller) Terminate(h *ProcessHandle) bool {
	if c.signalGroup(h, syscall.SIGTERM) {
		time.Sleep(c.grace)
		if !c.Alive(h) {
			return true
		}
		if c.signalGroup(h, syscall.SIGKILL) {
			return true
		}
	}

	// Group signaling failed; fall back to the individual process.
	if h.cmd != nil && h.cmd.Process != nil {
		err := h.cmd.Process.Kill()
		if err == nil || errors.Is(err, os.ErrProcessDone) {
			return true
		}
	}

	c.logger.Warn("failed to terminate process group",
		zap.Int("pgid", h.Pgid),
		zap.Int("pid", h.OSPid),
		zap.String("session_id", h.SessionID),
		zap.String("command_id", h.CommandID),
	)
	return false
}

// Alive reports whether the handle's process group still has members.
func (c *Controller) Alive(h *ProcessHandle) bool {
	return syscall.Kill(-h.Pgid, 0) == nil
}

func (c *Controller) signalGroup(h *ProcessHandle, sig syscall.Signal) bool {
	if err := syscall.Kill(-h.Pgid, sig); err != nil {
		if err == syscall.ESRCH {
			// Group already reaped; treat as success.
			return true
		}
		c.logger.Debug("process group signal failed",
			zap.Int("pgid", h.Pgid),
			zap.String("signal", sig.String()),
			zap.Error(err),
		)
		return false
	}
	return true
}
