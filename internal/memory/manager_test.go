package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestManager(opts Options) *Manager {
	return NewManager(NewMemoryStore(), StubSummarizer{}, opts)
}

func TestGetOrCreateUserConversationReusesAcrossModels(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(Options{MaxContextTokens: 8192, MaxWorkingMessages: 50})

	first, err := mgr.GetOrCreateUserConversation(ctx, "alice", "gpt-A")
	require.NoError(t, err)

	_, err = mgr.AddUserMessage(ctx, first.ID, "hello")
	require.NoError(t, err)

	second, err := mgr.GetOrCreateUserConversation(ctx, "alice", "gpt-B")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "gpt-A", second.ModelName) // model on existing conversation is not overwritten
}

func TestSequencesAreContiguous(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(Options{MaxContextTokens: 8192, MaxWorkingMessages: 50})

	conv, err := mgr.GetOrCreateUserConversation(ctx, "bob", "gpt-A")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := mgr.AddUserMessage(ctx, conv.ID, "msg")
		require.NoError(t, err)
	}

	history, err := mgr.GetFullHistory(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, history, 5)
	for i, m := range history {
		require.Equal(t, i+1, m.Sequence)
	}
}

func TestAddUserMessageRoundTrip(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(Options{MaxContextTokens: 8192, MaxWorkingMessages: 50})

	conv, err := mgr.GetOrCreateUserConversation(ctx, "carol", "gpt-A")
	require.NoError(t, err)

	_, err = mgr.AddUserMessage(ctx, conv.ID, "Say hi.")
	require.NoError(t, err)

	history, err := mgr.GetFullHistory(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, "Say hi.", history[len(history)-1].Content)
}

func TestSetSystemMessageIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(Options{MaxContextTokens: 8192, MaxWorkingMessages: 50})

	conv, err := mgr.GetOrCreateUserConversation(ctx, "dave", "gpt-A")
	require.NoError(t, err)

	updated, err := mgr.SetSystemMessage(ctx, conv.ID, "You are helpful.")
	require.NoError(t, err)
	require.True(t, updated)

	updated, err = mgr.SetSystemMessage(ctx, conv.ID, "You are helpful.")
	require.NoError(t, err)
	require.False(t, updated)
}

func TestSummarizationTrigger(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(Options{
		MaxContextTokens:    1_000_000, // token budget not the trigger here
		MaxWorkingMessages:  4,
		AutoSummarize:       true,
		SummarizeThreshold:  4,
		SummaryTriggerRatio: 0.8,
		KeepRecentMessages:  2,
	})

	conv, err := mgr.GetOrCreateUserConversation(ctx, "erin", "gpt-A")
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		_, err := mgr.AddUserMessage(ctx, conv.ID, "msg")
		require.NoError(t, err)
	}

	// calculate_keep_count (original_source/src/memory/manager.rs) caps the
	// newest-to-oldest walk at max_working_messages, not keep_recent_messages;
	// keep_recent_messages only raises the floor when the walk alone would
	// keep fewer. With tiny messages the token budget never binds, so each
	// trigger keeps max_working_messages (4) and drains exactly one message.
	working, err := mgr.GetWorkingMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, working, 4)

	stored, err := mgr.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Summary)
	require.NotEmpty(t, *stored.Summary)
	require.NotNil(t, stored.LastSummarySequence)
	require.Equal(t, 2, *stored.LastSummarySequence)
}

func TestGetModelContextIncludesSummaryFirst(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(Options{
		MaxContextTokens:    1_000_000,
		MaxWorkingMessages:  4,
		AutoSummarize:       true,
		SummarizeThreshold:  4,
		SummaryTriggerRatio: 0.8,
		KeepRecentMessages:  2,
	})

	conv, err := mgr.GetOrCreateUserConversation(ctx, "frank", "gpt-A")
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		_, err := mgr.AddUserMessage(ctx, conv.ID, "msg")
		require.NoError(t, err)
	}

	outbound, err := mgr.GetModelContext(ctx, conv.ID)
	require.NoError(t, err)
	require.NotEmpty(t, outbound)
	require.Equal(t, RoleSystem, outbound[0].Role)
	require.Contains(t, outbound[0].Content, "Previous conversation summary:")
}

func TestGetUserFullHistoryEmptyWhenNoConversation(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(Options{MaxContextTokens: 8192, MaxWorkingMessages: 50})

	history, err := mgr.GetUserFullHistory(ctx, "nobody")
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestAddUserMessageFailsOnMissingConversation(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(Options{MaxContextTokens: 8192, MaxWorkingMessages: 50})

	_, err := mgr.AddUserMessage(ctx, "does-not-exist", "hi")
	require.Error(t, err)
}
