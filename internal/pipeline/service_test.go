package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bioinfoflow/backend/internal/files"
	"github.com/bioinfoflow/backend/internal/infrastructure/config"
	"github.com/bioinfoflow/backend/internal/infrastructure/logging"
	"github.com/bioinfoflow/backend/internal/shared/paths"
	"github.com/bioinfoflow/backend/internal/terminal"
)

const testConv = "conv_01PLAN"

// stubGenerator returns a fixed structured response or an error.
type stubGenerator struct {
	response string
	err      error
}

func (g *stubGenerator) Generate(context.Context, string) (string, error) {
	return g.response, g.err
}

func (g *stubGenerator) GenerateStructured(context.Context, string) (string, error) {
	return g.response, g.err
}

func newTestService(t *testing.T, gen *stubGenerator, timeout time.Duration) *Service {
	t.Helper()
	layout := paths.Layout{Root: t.TempDir()}
	require.NoError(t, layout.Ensure())

	logger := logging.NewNop()
	filesvc := files.NewService(layout, logger)
	controller := terminal.NewController(100*time.Millisecond, logger)
	cfg := config.PipelineConfig{StepTimeout: timeout}
	return NewService(layout, gen, filesvc, controller, cfg, logger)
}

func seedFile(t *testing.T, svc *Service, name string) {
	t.Helper()
	_, err := svc.filesvc.CreateFile(testConv, "", name, "content")
	require.NoError(t, err)
}

func TestCreateWorkflowFromModel(t *testing.T) {
	gen := &stubGenerator{response: `{
		"title": "RNA-seq Quantification",
		"steps": [
			{"id": "step1", "title": "Index Genome", "command": "echo index", "description": "Build the index"},
			{"title": "Quantify", "command": "echo quant", "description": "Run quantification"}
		]
	}`}
	svc := newTestService(t, gen, time.Minute)

	w, err := svc.CreateWorkflow(context.Background(), testConv, "quantify my reads")
	require.NoError(t, err)

	assert.Equal(t, "RNA-seq Quantification", w.Title)
	assert.Equal(t, WorkflowCreated, w.Status)
	assert.Equal(t, testConv, w.ConversationID)
	require.Len(t, w.Steps, 2)
	assert.Equal(t, "step1", w.Steps[0].ID)
	assert.Equal(t, "step2", w.Steps[1].ID) // missing id filled in
	assert.Equal(t, StepPending, w.Steps[0].Status)
	assert.True(t, strings.HasPrefix(w.ID, "plan_"))
}

func TestCreateWorkflowFallbackFastq(t *testing.T) {
	svc := newTestService(t, &stubGenerator{err: errors.New("model down")}, time.Minute)
	seedFile(t, svc, "sample_R1.fastq.gz")
	seedFile(t, svc, "sample_R2.fastq.gz")

	w, err := svc.CreateWorkflow(context.Background(), testConv, "check quality")
	require.NoError(t, err)

	assert.Contains(t, w.Title, "2 FASTQ Files")
	require.Len(t, w.Steps, 2)
	assert.Contains(t, w.Steps[0].Command, "fastqc")
	assert.Contains(t, w.Steps[0].Command, "sample_R1.fastq.gz")
}

func TestCreateWorkflowFallbackInventory(t *testing.T) {
	svc := newTestService(t, &stubGenerator{err: errors.New("model down")}, time.Minute)
	seedFile(t, svc, "notes.txt")

	w, err := svc.CreateWorkflow(context.Background(), testConv, "analyze")
	require.NoError(t, err)

	assert.Equal(t, "Basic File Analysis", w.Title)
	assert.Contains(t, w.Steps[0].Command, "file_inventory.txt")
}

func TestCreateWorkflowRejectsMalformedResponse(t *testing.T) {
	// Parseable JSON with no steps still falls back.
	svc := newTestService(t, &stubGenerator{response: `{"title": "", "steps": []}`}, time.Minute)

	w, err := svc.CreateWorkflow(context.Background(), testConv, "analyze")
	require.NoError(t, err)
	assert.Equal(t, "Basic File Analysis", w.Title)
}

func TestGetUnknownPlan(t *testing.T) {
	svc := newTestService(t, &stubGenerator{}, time.Minute)

	_, err := svc.Get("plan_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListFiltersAndSorts(t *testing.T) {
	gen := &stubGenerator{err: errors.New("down")}
	svc := newTestService(t, gen, time.Minute)

	first, err := svc.CreateWorkflow(context.Background(), testConv, "one")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := svc.CreateWorkflow(context.Background(), testConv, "two")
	require.NoError(t, err)
	_, err = svc.CreateWorkflow(context.Background(), "conv_OTHER", "three")
	require.NoError(t, err)

	all := svc.List("")
	assert.Len(t, all, 3)

	mine := svc.List(testConv)
	require.Len(t, mine, 2)
	assert.Equal(t, second.ID, mine[0].ID)
	assert.Equal(t, first.ID, mine[1].ID)
	assert.Equal(t, 2, mine[0].StepCount)
}

func TestPlanWorkflowAdaptsForConversations(t *testing.T) {
	svc := newTestService(t, &stubGenerator{err: errors.New("down")}, time.Minute)

	planned, err := svc.PlanWorkflow(context.Background(), testConv, "analyze")
	require.NoError(t, err)
	assert.Equal(t, "Basic File Analysis", planned.Title)
	assert.Equal(t, []string{"List Available Files", "Create Results Directory"}, planned.StepTitles)
}

func makeWorkflow(t *testing.T, svc *Service, commands ...string) *Workflow {
	t.Helper()
	var steps []stepDoc
	for i, cmd := range commands {
		steps = append(steps, stepDoc{
			ID:      fmt.Sprintf("step%d", i+1),
			Title:   fmt.Sprintf("Step %d", i+1),
			Command: cmd,
		})
	}
	doc := planDoc{Title: "Test Plan", Steps: steps}
	data, err := sonic.Marshal(doc)
	require.NoError(t, err)

	svc.generator = &stubGenerator{response: string(data)}
	w, err := svc.CreateWorkflow(context.Background(), testConv, "test")
	require.NoError(t, err)
	return w
}

func TestExecuteStepCompleted(t *testing.T) {
	svc := newTestService(t, &stubGenerator{}, time.Minute)
	w := makeWorkflow(t, svc, "echo hello step", "echo second")

	step, err := svc.ExecuteStep(context.Background(), w.ID, "step1", testConv)
	require.NoError(t, err)

	assert.Equal(t, StepCompleted, step.Status)
	assert.Contains(t, step.Output, "hello step")
	assert.NotNil(t, step.StartedAt)
	assert.NotNil(t, step.EndedAt)

	// Log file lands under data/logs.
	logPath := svc.layout.StepLogPath(w.ID, "step1")
	_, err = os.Stat(logPath)
	assert.NoError(t, err)

	reloaded, err := svc.Get(w.ID)
	require.NoError(t, err)
	assert.Equal(t, WorkflowInProgress, reloaded.Status)
}

func TestExecuteAllStepsCompletesWorkflow(t *testing.T) {
	svc := newTestService(t, &stubGenerator{}, time.Minute)
	w := makeWorkflow(t, svc, "true", "true")

	_, err := svc.ExecuteStep(context.Background(), w.ID, "step1", testConv)
	require.NoError(t, err)
	_, err = svc.ExecuteStep(context.Background(), w.ID, "step2", testConv)
	require.NoError(t, err)

	reloaded, err := svc.Get(w.ID)
	require.NoError(t, err)
	assert.Equal(t, WorkflowCompleted, reloaded.Status)
}

func TestExecuteStepFailure(t *testing.T) {
	svc := newTestService(t, &stubGenerator{}, time.Minute)
	w := makeWorkflow(t, svc, "echo oops >&2; exit 3")

	step, err := svc.ExecuteStep(context.Background(), w.ID, "step1", testConv)
	require.NoError(t, err)

	assert.Equal(t, StepFailed, step.Status)
	assert.Contains(t, step.Error, "return code 3")
	assert.Contains(t, step.Output, "oops") // stderr captured in the log

	reloaded, err := svc.Get(w.ID)
	require.NoError(t, err)
	assert.Equal(t, WorkflowFailed, reloaded.Status)
}

func TestExecuteStepTimeout(t *testing.T) {
	svc := newTestService(t, &stubGenerator{}, 300*time.Millisecond)
	w := makeWorkflow(t, svc, "sleep 30")

	start := time.Now()
	step, err := svc.ExecuteStep(context.Background(), w.ID, "step1", testConv)
	require.NoError(t, err)

	assert.Equal(t, StepTimeout, step.Status)
	assert.Contains(t, step.Error, "timed out")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecuteStepRunsInWorkspace(t *testing.T) {
	svc := newTestService(t, &stubGenerator{}, time.Minute)
	w := makeWorkflow(t, svc, "echo data > produced.txt")

	_, err := svc.ExecuteStep(context.Background(), w.ID, "step1", testConv)
	require.NoError(t, err)

	workDir := svc.layout.ConversationFilesDir(testConv)
	_, err = os.Stat(filepath.Join(workDir, "produced.txt"))
	assert.NoError(t, err)
}

func TestExecuteStepUnknownIDs(t *testing.T) {
	svc := newTestService(t, &stubGenerator{}, time.Minute)
	w := makeWorkflow(t, svc, "true")

	_, err := svc.ExecuteStep(context.Background(), "plan_missing", "step1", testConv)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.ExecuteStep(context.Background(), w.ID, "step99", testConv)
	assert.ErrorIs(t, err, ErrStepNotFound)
}

func TestTruncatedOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "step.log")

	var b strings.Builder
	for i := 1; i <= outputMaxLines+200; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))

	out := truncatedOutput(path)
	assert.Contains(t, out, "line 1\n")
	assert.Contains(t, out, fmt.Sprintf("line %d", outputMaxLines+200))
	assert.Contains(t, out, "[output truncated, 200 lines omitted]")
	assert.NotContains(t, out, fmt.Sprintf("line %d\n", outputMaxLines/2+10))
}
