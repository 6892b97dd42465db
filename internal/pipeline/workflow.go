// Package pipeline manages bioinformatics workflow plans: AI-generated
// step lists persisted as JSON documents and executed one step at a time
// in the owning conversation's workspace.
package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

var (
	// ErrNotFound marks unknown plan ids.
	ErrNotFound = errors.New("workflow not found")
	// ErrStepNotFound marks unknown step ids within a known plan.
	ErrStepNotFound = errors.New("workflow step not found")
)

// Workflow statuses.
const (
	WorkflowCreated    = "created"
	WorkflowInProgress = "in_progress"
	WorkflowCompleted  = "completed"
	WorkflowFailed     = "failed"
)

// Step statuses.
const (
	StepPending   = "pending"
	StepRunning   = "running"
	StepCompleted = "completed"
	StepFailed    = "failed"
	StepTimeout   = "timeout"
)

// Step is one executable unit of a workflow.
type Step struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Command     string     `json:"command"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Output      string     `json:"output,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// Workflow is a persisted plan document.
type Workflow struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	Steps          []Step    `json:"steps"`
}

// Summary is the list representation of a workflow.
type Summary struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	ConversationID string    `json:"conversation_id"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	StepCount      int       `json:"step_count"`
}

func (s *Service) planPath(planID string) string {
	return filepath.Join(s.layout.PlansDir(), fmt.Sprintf("plan_%s.json", planID))
}

// save persists the plan document. Callers hold s.mu.
func (s *Service) save(w *Workflow) error {
	data, err := sonic.MarshalIndent(w, "", "  ")
	if err != nil {
		return fmt.Errorf("encode workflow: %w", err)
	}
	if err := os.WriteFile(s.planPath(w.ID), data, 0o644); err != nil {
		return fmt.Errorf("write workflow: %w", err)
	}
	return nil
}

func (s *Service) load(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var w Workflow
	if err := sonic.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode workflow %s: %w", filepath.Base(path), err)
	}
	return &w, nil
}

// Get retrieves a workflow plan by id.
func (s *Service) Get(planID string) (*Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(planID)
}

func (s *Service) getLocked(planID string) (*Workflow, error) {
	w, err := s.load(s.planPath(planID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, planID)
		}
		return nil, err
	}
	return w, nil
}

// List returns workflow summaries, newest first. An empty conversationID
// returns every plan.
func (s *Service) List(conversationID string) []Summary {
	entries, err := os.ReadDir(s.layout.PlansDir())
	if err != nil {
		return []Summary{}
	}

	summaries := []Summary{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "plan_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		w, err := s.load(filepath.Join(s.layout.PlansDir(), name))
		if err != nil {
			s.logger.Warn("skipping unreadable plan", zap.String("file", name), zap.Error(err))
			continue
		}
		if conversationID != "" && w.ConversationID != conversationID {
			continue
		}
		summaries = append(summaries, Summary{
			ID:             w.ID,
			Title:          w.Title,
			ConversationID: w.ConversationID,
			Status:         w.Status,
			CreatedAt:      w.CreatedAt,
			StepCount:      len(w.Steps),
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries
}

// rollUp recomputes the workflow status from its step statuses.
func rollUp(w *Workflow) {
	allCompleted := true
	anyFailed := false
	for _, step := range w.Steps {
		if step.Status != StepCompleted {
			allCompleted = false
		}
		if step.Status == StepFailed {
			anyFailed = true
		}
	}
	switch {
	case allCompleted:
		w.Status = WorkflowCompleted
	case anyFailed:
		w.Status = WorkflowFailed
	default:
		w.Status = WorkflowInProgress
	}
}
