package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/bioinfoflow/backend/internal/ai"
	"github.com/bioinfoflow/backend/internal/conversation"
	"github.com/bioinfoflow/backend/internal/files"
	"github.com/bioinfoflow/backend/internal/infrastructure/config"
	"github.com/bioinfoflow/backend/internal/infrastructure/logging"
	"github.com/bioinfoflow/backend/internal/shared/id"
	"github.com/bioinfoflow/backend/internal/shared/paths"
	"github.com/bioinfoflow/backend/internal/terminal"
)

// Service creates, stores, and executes workflow plans.
type Service struct {
	layout     paths.Layout
	generator  ai.Generator
	filesvc    *files.Service
	controller *terminal.Controller
	cfg        config.PipelineConfig
	logger     *logging.Logger

	// Serializes plan document read-modify-write cycles.
	mu sync.Mutex
}

// NewService creates the pipeline service. The controller handles process
// group escalation for timed-out steps.
func NewService(layout paths.Layout, generator ai.Generator, filesvc *files.Service, controller *terminal.Controller, cfg config.PipelineConfig, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		layout:     layout,
		generator:  generator,
		filesvc:    filesvc,
		controller: controller,
		cfg:        cfg,
		logger:     logger,
	}
}

// planDoc is the shape the model is asked to produce.
type planDoc struct {
	Title string    `json:"title"`
	Steps []stepDoc `json:"steps"`
}

type stepDoc struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Command     string `json:"command"`
	Description string `json:"description"`
}

// CreateWorkflow plans a workflow for the goal using the conversation's
// available files. AI failures fall back to a template workflow so plan
// creation never fails on model errors.
func (s *Service) CreateWorkflow(ctx context.Context, conversationID, goal string) (*Workflow, error) {
	available, err := s.filesvc.List(conversationID, "")
	if err != nil {
		return nil, err
	}

	doc := s.generatePlan(ctx, goal, available)

	now := time.Now()
	w := &Workflow{
		ID:             id.NewPlanID().String(),
		ConversationID: conversationID,
		Title:          doc.Title,
		Status:         WorkflowCreated,
		CreatedAt:      now,
		Steps:          make([]Step, 0, len(doc.Steps)),
	}
	for i, step := range doc.Steps {
		stepID := step.ID
		if stepID == "" {
			stepID = fmt.Sprintf("step%d", i+1)
		}
		w.Steps = append(w.Steps, Step{
			ID:          stepID,
			Title:       step.Title,
			Command:     step.Command,
			Description: step.Description,
			Status:      StepPending,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.save(w); err != nil {
		return nil, err
	}
	s.logger.Info("workflow created",
		zap.String("plan_id", w.ID),
		zap.String("conversation_id", conversationID),
		zap.Int("steps", len(w.Steps)),
	)
	return w, nil
}

// PlanWorkflow adapts CreateWorkflow to the conversation service's planner
// contract.
func (s *Service) PlanWorkflow(ctx context.Context, conversationID, goal string) (*conversation.PlannedWorkflow, error) {
	w, err := s.CreateWorkflow(ctx, conversationID, goal)
	if err != nil {
		return nil, err
	}
	planned := &conversation.PlannedWorkflow{ID: w.ID, Title: w.Title}
	for _, step := range w.Steps {
		planned.StepTitles = append(planned.StepTitles, step.Title)
	}
	return planned, nil
}

func (s *Service) generatePlan(ctx context.Context, goal string, available []files.Entry) *planDoc {
	var fileList strings.Builder
	for _, entry := range available {
		fmt.Fprintf(&fileList, "- %s (%s)\n", entry.Name, entry.Type)
	}

	prompt := fmt.Sprintf(`I need to create a bioinformatics workflow for the following goal:

GOAL: %s

I have the following files available:
%s
Create a detailed step-by-step bioinformatics workflow to achieve this goal.
For each step, provide:
1. A title describing the action
2. A detailed command that can be executed in bash
3. A description explaining what the command does and why it's necessary

Format your response as a valid JSON object with the following structure:
{
    "title": "Overall Workflow Title",
    "steps": [
        {
            "id": "step1",
            "title": "Step Title",
            "command": "bash command to execute",
            "description": "Detailed explanation of what this step does"
        }
    ]
}

Ensure that all commands correctly reference the file paths within the workflow directory.
Use best practices for bioinformatics workflows and include appropriate tools like FastQC,
BWA, STAR, Samtools, GATK, etc. as needed.`, goal, fileList.String())

	response, err := s.generator.GenerateStructured(ctx, prompt)
	if err != nil {
		s.logger.Warn("workflow generation failed, using fallback", zap.Error(err))
		return fallbackPlan(available)
	}

	var doc planDoc
	if err := sonic.UnmarshalString(response, &doc); err != nil || doc.Title == "" || len(doc.Steps) == 0 {
		s.logger.Warn("workflow response unusable, using fallback", zap.Error(err))
		return fallbackPlan(available)
	}
	return &doc
}

// fallbackPlan builds a template workflow when the model is unavailable:
// a FastQC pass when FASTQ inputs exist, a file inventory otherwise.
func fallbackPlan(available []files.Entry) *planDoc {
	var fastq []string
	for _, entry := range available {
		if entry.Type == "fastq" {
			fastq = append(fastq, entry.Name)
		}
	}

	if len(fastq) > 0 {
		return &planDoc{
			Title: fmt.Sprintf("Basic Analysis of %d FASTQ Files", len(fastq)),
			Steps: []stepDoc{
				{
					ID:          "step1",
					Title:       "Quality Control with FastQC",
					Command:     "fastqc " + strings.Join(fastq, " "),
					Description: "Check the quality of raw sequencing data using FastQC",
				},
				{
					ID:          "step2",
					Title:       "Create Results Directory",
					Command:     "mkdir -p results",
					Description: "Create a directory to store results",
				},
			},
		}
	}

	return &planDoc{
		Title: "Basic File Analysis",
		Steps: []stepDoc{
			{
				ID:          "step1",
				Title:       "List Available Files",
				Command:     "ls -la > file_inventory.txt",
				Description: "Create an inventory of all available files",
			},
			{
				ID:          "step2",
				Title:       "Create Results Directory",
				Command:     "mkdir -p results",
				Description: "Create a directory to store results",
			},
		},
	}
}
