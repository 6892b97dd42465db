package conversation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/bioinfoflow/backend/internal/ai"
	"github.com/bioinfoflow/backend/internal/infrastructure/logging"
)

// PlannedWorkflow is what the planner reports back after creating a plan.
type PlannedWorkflow struct {
	ID         string
	Title      string
	StepTitles []string
}

// Planner creates an executable workflow for an analysis goal. Implemented
// by the pipeline service.
type Planner interface {
	PlanWorkflow(ctx context.Context, conversationID, goal string) (*PlannedWorkflow, error)
}

// Exchange is the result of processing one user message.
type Exchange struct {
	UserMessage *Message `json:"user_message"`
	AIMessage   *Message `json:"ai_message"`
}

// historyWindow bounds how many recent messages feed the chat prompt.
const historyWindow = 5

// Service layers the chat/agent message flows over the store. AI failures
// degrade to apology messages; the caller always gets an exchange.
type Service struct {
	store     *Store
	generator ai.Generator
	planner   Planner
	logger    *logging.Logger
}

// NewService creates the conversation service.
func NewService(store *Store, generator ai.Generator, planner Planner, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{store: store, generator: generator, planner: planner, logger: logger}
}

// Store exposes the underlying document store.
func (s *Service) Store() *Store { return s.store }

// SendMessage records the user message, generates a mode-appropriate bot
// reply, records that too, and returns both.
func (s *Service) SendMessage(ctx context.Context, conversationID, text string) (*Exchange, error) {
	userMsg, err := s.store.AppendMessage(conversationID, Message{Text: text, Sender: "user"})
	if err != nil {
		return nil, err
	}

	conv, err := s.store.Get(conversationID)
	if err != nil {
		return nil, err
	}

	var reply Message
	if conv.Mode == ModeAgent {
		reply = s.agentReply(ctx, conv, text)
	} else {
		reply = s.chatReply(ctx, conv)
	}

	aiMsg, err := s.store.AppendMessage(conversationID, reply)
	if err != nil {
		return nil, err
	}
	return &Exchange{UserMessage: userMsg, AIMessage: aiMsg}, nil
}

// chatReply answers questions using recent history for context.
func (s *Service) chatReply(ctx context.Context, conv *Conversation) Message {
	var history strings.Builder
	msgs := conv.Messages
	if len(msgs) > historyWindow {
		msgs = msgs[len(msgs)-historyWindow:]
	}
	for _, msg := range msgs {
		if msg.IsWelcome || msg.IsSystem {
			continue
		}
		role := "User"
		if msg.Sender == "bot" {
			role = "Bot"
		}
		fmt.Fprintf(&history, "%s: %s\n", role, msg.Text)
	}

	prompt := fmt.Sprintf(`You are in CHAT MODE, answering bioinformatics questions.
Do not plan or execute workflows; if the user wants to run an analysis, suggest Agent Mode.

Recent conversation:
%s
Provide a helpful answer about bioinformatics concepts, tools, or techniques.`, history.String())

	text, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		s.logger.Error("chat reply generation failed", zap.Error(err))
		text = "I'm sorry, I encountered an error while processing your request."
	}
	return Message{Text: text, Sender: "bot"}
}

// agentReply decides whether the user wants a workflow; if so it creates one
// through the planner and attaches its id to the reply.
func (s *Service) agentReply(ctx context.Context, conv *Conversation, text string) Message {
	if s.planner == nil {
		return Message{Text: "I'm sorry, Agent Mode is unavailable right now.", Sender: "bot"}
	}

	analysisPrompt := fmt.Sprintf(`Analyze the following user request in AGENT MODE:
%q

Is the user asking for a bioinformatics workflow or analysis to be performed?
Answer with 'YES' if they want a workflow created, or 'NO' if they're just asking a question.`, text)

	answer, err := s.generator.Generate(ctx, analysisPrompt)
	if err != nil {
		s.logger.Error("agent intent analysis failed", zap.Error(err))
		return Message{Text: "I'm sorry, I encountered an error while planning your workflow.", Sender: "bot"}
	}

	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(answer)), "YES") {
		prompt := fmt.Sprintf(`You are in AGENT MODE for bioinformatics analysis. The user asked:
%q

This appears to be a general question rather than a workflow request, so answer it directly.`, text)
		reply, gerr := s.generator.Generate(ctx, prompt)
		if gerr != nil {
			reply = "I'm sorry, I encountered an error while processing your request."
		}
		return Message{Text: reply, Sender: "bot"}
	}

	planned, err := s.planner.PlanWorkflow(ctx, conv.ID, text)
	if err != nil {
		s.logger.Error("workflow planning failed", zap.Error(err))
		return Message{Text: "I'm sorry, I encountered an error while planning your workflow.", Sender: "bot"}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "I've created a workflow based on your request:\n\n**%s**\n\n", planned.Title)
	fmt.Fprintf(&b, "This workflow contains %d steps:\n\n", len(planned.StepTitles))
	for i, title := range planned.StepTitles {
		fmt.Fprintf(&b, "- Step %d: %s\n", i+1, title)
	}
	b.WriteString("\nYou can view and execute this workflow in the pipeline manager below.\n")

	return Message{Text: b.String(), Sender: "bot", WorkflowID: planned.ID}
}
