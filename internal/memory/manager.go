package memory

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Manager is the memory subsystem's public surface (spec §4.C): durable
// storage plus an in-RAM working window per active conversation, backed by
// a single-writer actor per conversation to avoid the summarization race
// (spec §9). Grounded on the teacher's internal/agent/memory.Manager,
// trimmed to the spec's simpler token/count-triggered summarization rule.
type Manager struct {
	store      Store
	summarizer Summarizer
	actors     *actorRegistry

	enabled              bool
	maxContextTokens     int
	maxWorkingMessages   int
	autoSummarize        bool
	summarizeThreshold   int
	summaryTriggerRatio  float64
	keepRecentMessages   int
}

// Options configures a Manager, mirroring internal/config.MemoryConfig.
type Options struct {
	Enabled              bool
	MaxContextTokens     int
	MaxWorkingMessages   int
	AutoSummarize        bool
	SummarizeThreshold   int
	SummaryTriggerRatio  float64
	KeepRecentMessages   int
}

// NewManager constructs a memory manager over store, summarizing with
// summarizer when the working window outgrows its budget.
func NewManager(store Store, summarizer Summarizer, opts Options) *Manager {
	return &Manager{
		store:               store,
		summarizer:          summarizer,
		actors:              newActorRegistry(),
		enabled:             opts.Enabled,
		maxContextTokens:    opts.MaxContextTokens,
		maxWorkingMessages:  opts.MaxWorkingMessages,
		autoSummarize:       opts.AutoSummarize,
		summarizeThreshold:  opts.SummarizeThreshold,
		summaryTriggerRatio: opts.SummaryTriggerRatio,
		keepRecentMessages:  opts.KeepRecentMessages,
	}
}

// GetOrCreateUserConversation returns the user's most-recently-updated
// conversation id if one exists, creating one with model otherwise. The
// model on an existing conversation is never overwritten.
func (m *Manager) GetOrCreateUserConversation(ctx context.Context, userID, model string) (*Conversation, error) {
	existing, err := m.store.MostRecentConversationForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("looking up conversation for user %q: %w", userID, err)
	}
	if existing != nil {
		return existing, nil
	}
	return m.store.CreateConversation(ctx, &userID, model)
}

// HashSystemMessage computes the collision-resistant digest used to decide
// whether a system message changed (spec allows any 128-bit digest; MD5 is
// used purely as a content fingerprint, never for anything security-sensitive).
func HashSystemMessage(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// SetSystemMessage updates the conversation's system message if its hash
// differs from what's stored, returning whether an update occurred.
// Idempotent on repeated calls with unchanged text.
func (m *Manager) SetSystemMessage(ctx context.Context, conversationID, text string) (bool, error) {
	hash := HashSystemMessage(text)
	return m.store.UpdateSystemMessage(ctx, conversationID, text, hash)
}

// AddUserMessage appends a user message, serialized through the
// conversation's single-writer actor, and may trigger summarization.
func (m *Manager) AddUserMessage(ctx context.Context, conversationID, content string) (Message, error) {
	return m.appendMessage(ctx, conversationID, Message{Role: RoleUser, Content: content})
}

// AddAssistantMessage appends an assistant message (optionally carrying tool
// calls), serialized through the conversation's single-writer actor.
func (m *Manager) AddAssistantMessage(ctx context.Context, conversationID, content string, toolCalls []ToolCall) (Message, error) {
	return m.appendMessage(ctx, conversationID, Message{Role: RoleAssistant, Content: content, ToolCalls: toolCalls})
}

// AddToolMessage appends a tool-role message answering toolCallID.
func (m *Manager) AddToolMessage(ctx context.Context, conversationID, content, toolCallID string) (Message, error) {
	return m.appendMessage(ctx, conversationID, Message{Role: RoleTool, Content: content, ToolCallID: &toolCallID})
}

func (m *Manager) appendMessage(ctx context.Context, conversationID string, msg Message) (Message, error) {
	actor := m.actors.get(conversationID)

	var result Message
	var resultErr error
	actor.submit(func() {
		if err := m.ensureWindowLoaded(ctx, actor, conversationID); err != nil {
			resultErr = err
			return
		}

		stored, err := m.store.NextSequenceAndInsert(ctx, conversationID, msg)
		if err != nil {
			resultErr = err
			return
		}
		result = stored

		actor.window.WorkingMessages = append(actor.window.WorkingMessages, stored)
		actor.window.TotalTokens += tokensOf(stored)

		m.maybeSummarize(ctx, actor, conversationID)
	})
	return result, resultErr
}

func tokensOf(m Message) int {
	if m.Tokens != nil {
		return *m.Tokens
	}
	return estimateTokens(m.Content, len(m.ToolCalls))
}

// ensureWindowLoaded lazily populates the actor's working window from the
// store on first access (spec §3 WorkingContext lifecycle).
func (m *Manager) ensureWindowLoaded(ctx context.Context, actor *conversationActor, conversationID string) error {
	if actor.window != nil {
		return nil
	}
	conv, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	messages, err := m.store.GetMessages(ctx, conversationID)
	if err != nil {
		return err
	}
	total := 0
	for _, msg := range messages {
		total += tokensOf(msg)
	}
	actor.window = &WorkingContext{
		ConversationID:   conversationID,
		WorkingMessages:  messages,
		Summary:          conv.Summary,
		TotalTokens:      total,
		MaxContextTokens: m.maxContextTokens,
	}
	return nil
}

// maybeSummarize implements the working-window management algorithm of
// spec §4.C verbatim. Called with the actor's own goroutine holding
// exclusive access to window — no lock needed.
func (m *Manager) maybeSummarize(ctx context.Context, actor *conversationActor, conversationID string) {
	window := actor.window
	over := window.TotalTokens > m.maxContextTokens || len(window.WorkingMessages) > m.maxWorkingMessages
	if !over {
		return
	}
	if !m.autoSummarize {
		return // oversize window tolerated this turn
	}

	budget := int(float64(m.maxContextTokens) * (1 - m.summaryTriggerRatio))

	keepCount := 0
	runningTokens := 0
	for i := len(window.WorkingMessages) - 1; i >= 0; i-- {
		candidateTokens := tokensOf(window.WorkingMessages[i])
		if runningTokens+candidateTokens > budget || keepCount >= m.maxWorkingMessages {
			break
		}
		runningTokens += candidateTokens
		keepCount++
	}
	minKeep := m.keepRecentMessages
	if minKeep > len(window.WorkingMessages) {
		minKeep = len(window.WorkingMessages)
	}
	if keepCount < minKeep {
		keepCount = minKeep
	}

	drainCount := len(window.WorkingMessages) - keepCount
	if drainCount <= 0 {
		return
	}
	drained := window.WorkingMessages[:drainCount]
	kept := window.WorkingMessages[drainCount:]

	existingSummary := ""
	if window.Summary != nil {
		existingSummary = *window.Summary
	}

	newSummary, err := m.summarizer.Summarize(ctx, existingSummary, drained)
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("memory_summarize_failed")
		return // the oversize window is tolerated; nothing is lost durably
	}

	lastDrainedSeq := drained[len(drained)-1].Sequence
	if err := m.store.UpdateSummary(ctx, conversationID, newSummary, lastDrainedSeq); err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("memory_summary_persist_failed")
		return
	}

	window.Summary = &newSummary
	window.WorkingMessages = kept
	total := 0
	for _, msg := range kept {
		total += tokensOf(msg)
	}
	window.TotalTokens = total
}

// GetModelContext returns the prompt to send downstream: a synthetic system
// message carrying the summary (if any), then every working message in
// order, tool calls normalized to the wire shape.
func (m *Manager) GetModelContext(ctx context.Context, conversationID string) ([]OutboundMessage, error) {
	actor := m.actors.get(conversationID)

	var out []OutboundMessage
	var resultErr error
	actor.submit(func() {
		if err := m.ensureWindowLoaded(ctx, actor, conversationID); err != nil {
			resultErr = err
			return
		}
		window := actor.window
		if window.Summary != nil && *window.Summary != "" {
			out = append(out, OutboundMessage{
				Role:    RoleSystem,
				Content: "Previous conversation summary: " + *window.Summary,
			})
		}
		for _, msg := range window.WorkingMessages {
			out = append(out, toOutbound(msg))
		}
	})
	return out, resultErr
}

func toOutbound(msg Message) OutboundMessage {
	om := OutboundMessage{Role: msg.Role, Content: msg.Content}
	if msg.ToolCallID != nil {
		om.ToolCallID = *msg.ToolCallID
	}
	for _, tc := range msg.ToolCalls {
		wire := OutboundToolCall{ID: tc.ID, Type: "function"}
		wire.Function.Name = tc.Name
		wire.Function.Arguments = string(tc.Arguments)
		om.ToolCalls = append(om.ToolCalls, wire)
	}
	return om
}

// GetWorkingMessages returns the raw working-window contents.
func (m *Manager) GetWorkingMessages(ctx context.Context, conversationID string) ([]Message, error) {
	actor := m.actors.get(conversationID)

	var out []Message
	var resultErr error
	actor.submit(func() {
		if err := m.ensureWindowLoaded(ctx, actor, conversationID); err != nil {
			resultErr = err
			return
		}
		out = append(out, actor.window.WorkingMessages...)
	})
	return out, resultErr
}

// GetFullHistory returns every message for conversationID by ascending
// sequence.
func (m *Manager) GetFullHistory(ctx context.Context, conversationID string) ([]Message, error) {
	return m.store.GetMessages(ctx, conversationID)
}

// GetUserFullHistory resolves userID to its conversation then returns the
// full history, or an empty list if the user has no conversation yet.
func (m *Manager) GetUserFullHistory(ctx context.Context, userID string) ([]Message, error) {
	conv, err := m.store.MostRecentConversationForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return []Message{}, nil
	}
	return m.GetFullHistory(ctx, conv.ID)
}

// ListUserConversations returns the user's conversations, most-recent first.
func (m *Manager) ListUserConversations(ctx context.Context, userID string, limit int) ([]ConversationSummary, error) {
	return m.store.ListConversationsByUser(ctx, userID, limit)
}

// DeleteConversation drops the cache entry and the durable row (messages
// cascade).
func (m *Manager) DeleteConversation(ctx context.Context, conversationID string) error {
	m.actors.drop(conversationID)
	return m.store.DeleteConversation(ctx, conversationID)
}

// Enabled reports whether memory hydration/summarization is turned on.
func (m *Manager) Enabled() bool { return m.enabled }
