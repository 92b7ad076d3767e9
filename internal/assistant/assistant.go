package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/calumw/pilltick/internal/config"
	apperrors "github.com/calumw/pilltick/internal/errors"
	"github.com/calumw/pilltick/internal/medication"
	"github.com/calumw/pilltick/internal/metrics"
	"github.com/calumw/pilltick/internal/store"
	"go.uber.org/zap"
)

const historyWindow = 20

// Assistant answers questions about the user's medication plan. Every request
// carries a system prompt built from the live schedule and today's dose log,
// so the model never has to guess what the user takes.
type Assistant struct {
	cfg     config.AssistantConfig
	client  *Client
	meds    *medication.Store
	store   *store.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func New(cfg config.AssistantConfig, meds *medication.Store, st *store.Store, logger *zap.Logger) *Assistant {
	return &Assistant{
		cfg:     cfg,
		client:  NewClient(cfg),
		meds:    meds,
		store:   st,
		logger:  logger,
		metrics: metrics.Default(),
	}
}

// Enabled reports whether the assistant is configured and turned on
func (a *Assistant) Enabled() bool {
	return a.cfg.Enabled && a.cfg.APIKey != ""
}

// Chat appends the user's message to the conversation, queries the provider,
// and stores the reply. A nil conversationID starts a new conversation.
func (a *Assistant) Chat(ctx context.Context, userID, conversationID, text string) (*store.Message, error) {
	if !a.Enabled() {
		return nil, apperrors.ErrAssistantDisabled
	}

	conv, err := a.conversation(userID, conversationID, text)
	if err != nil {
		return nil, err
	}

	userMsg := &store.Message{
		ID:             store.NewID("msg"),
		ConversationID: conv.ID,
		Role:           "user",
		Content:        text,
	}
	if err := a.store.CreateMessage(userMsg); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}

	messages, err := a.buildPrompt(userID, conv.ID)
	if err != nil {
		return nil, err
	}

	reply, tokens, err := a.client.Complete(ctx, messages)
	if err != nil {
		a.metrics.RecordAssistantRequest("error")
		a.logger.Warn("Assistant request failed", zap.Error(err))
		return nil, err
	}
	a.metrics.RecordAssistantRequest("ok")

	assistantMsg := &store.Message{
		ID:             store.NewID("msg"),
		ConversationID: conv.ID,
		Role:           "assistant",
		Content:        reply,
	}
	if err := a.store.CreateMessage(assistantMsg); err != nil {
		return nil, fmt.Errorf("failed to store reply: %w", err)
	}

	conv.TokensUsed += int64(tokens)
	conv.MessageCount += 2
	if err := a.store.UpdateConversation(conv); err != nil {
		a.logger.Warn("Failed to update conversation stats", zap.Error(err))
	}
	return assistantMsg, nil
}

func (a *Assistant) conversation(userID, conversationID, firstLine string) (*store.Conversation, error) {
	if conversationID != "" {
		conv, err := a.store.GetConversation(conversationID)
		if err != nil {
			return nil, err
		}
		if conv == nil || conv.UserID != userID {
			return nil, apperrors.ErrNotFound
		}
		return conv, nil
	}

	title := firstLine
	if r := []rune(title); len(r) > 60 {
		title = string(r[:60])
	}
	conv := &store.Conversation{
		ID:     store.NewID("conv"),
		UserID: userID,
		Title:  title,
		Model:  a.cfg.Model,
	}
	if err := a.store.CreateConversation(conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (a *Assistant) buildPrompt(userID, conversationID string) ([]Message, error) {
	system, err := a.systemPrompt(userID)
	if err != nil {
		return nil, err
	}

	history, err := a.store.GetMessages(conversationID, historyWindow, 0)
	if err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(history)+1)
	messages = append(messages, Message{Role: "system", Content: system})
	for _, m := range history {
		messages = append(messages, Message{Role: m.Role, Content: m.Content})
	}
	return messages, nil
}

func (a *Assistant) systemPrompt(userID string) (string, error) {
	reminders, err := a.meds.ListReminders(userID, true)
	if err != nil {
		return "", err
	}
	logs, err := a.meds.GetTodayLogs(userID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("You are Pilltick, a medication companion. Answer briefly and factually. ")
	b.WriteString("You are not a doctor: never give dosing advice beyond the user's own plan, ")
	b.WriteString("and suggest contacting a pharmacist or doctor for medical questions.\n\n")

	b.WriteString("Today is " + time.Now().Format("Monday, 2 January 2006") + ".\n\n")

	if len(reminders) == 0 {
		b.WriteString("The user has no active medication reminders.\n")
	} else {
		b.WriteString("Active medication plan:\n")
		for _, r := range reminders {
			line := fmt.Sprintf("- %s", r.Name)
			if r.Dosage != "" {
				line += " " + r.Dosage
			}
			line += fmt.Sprintf(" (%s at %s)", r.Frequency, strings.Join(r.Times, ", "))
			if r.Instructions != "" {
				line += ", " + r.Instructions
			}
			b.WriteString(line + "\n")
		}
	}

	if len(logs) > 0 {
		b.WriteString("\nToday's doses so far:\n")
		for _, l := range logs {
			b.WriteString(fmt.Sprintf("- %s at %s: %s\n", l.ReminderName, l.Slot, l.Status))
		}
	}
	return b.String(), nil
}
