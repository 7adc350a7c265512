package history

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/veridoc/ragd/internal/rag"
)

type fakePurger struct {
	purged []rag.Scope
	err    error
}

func (f *fakePurger) DeleteScope(_ context.Context, scope rag.Scope) error {
	if f.err != nil {
		return f.err
	}
	f.purged = append(f.purged, scope)
	return nil
}

func openTestStore(t *testing.T, purger SessionPurger) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "history.db"), purger, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConversationLifecycle(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "governance questions")
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "governance questions", got.Title)

	list, err := s.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, conv.ID, list[0].ID)
}

func TestGetConversation_NotFound(t *testing.T) {
	s := openTestStore(t, nil)

	_, err := s.GetConversation(context.Background(), "missing")
	assert.ErrorIs(t, err, rag.ErrNotFound)
}

func TestDeleteConversation_PurgesVectorsFirst(t *testing.T) {
	purger := &fakePurger{}
	s := openTestStore(t, purger)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, Message{ConversationID: conv.ID, Role: RoleUser, Content: "hello"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteConversation(ctx, conv.ID))

	require.Len(t, purger.purged, 1)
	assert.Equal(t, rag.Session(conv.ID), purger.purged[0])

	_, err = s.GetConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, rag.ErrNotFound)

	messages, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, messages, "cascade removes the transcript")
}

func TestDeleteConversation_PurgeFailureKeepsRows(t *testing.T) {
	purger := &fakePurger{err: errors.New("vector store down")}
	s := openTestStore(t, purger)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "")
	require.NoError(t, err)

	err = s.DeleteConversation(ctx, conv.ID)
	require.Error(t, err)

	// Rows survive so the deletion can be retried later.
	_, err = s.GetConversation(ctx, conv.ID)
	assert.NoError(t, err)
}

func TestDeleteConversation_NotFound(t *testing.T) {
	purger := &fakePurger{}
	s := openTestStore(t, purger)

	err := s.DeleteConversation(context.Background(), "missing")
	assert.ErrorIs(t, err, rag.ErrNotFound)
	assert.Empty(t, purger.purged, "no purge for unknown conversations")
}

func TestRecentMessages_WindowAndOrder(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		_, err := s.AppendMessage(ctx, Message{
			ConversationID: conv.ID, Role: role, Content: fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
	}

	recent, err := s.RecentMessages(ctx, conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, recent, HistoryWindow)

	// Oldest of the window first, newest last.
	assert.Equal(t, "message 4", recent[0].Content)
	assert.Equal(t, "message 9", recent[len(recent)-1].Content)
}

func TestAppendMessage_FieldsSurviveRoundTrip(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "")
	require.NoError(t, err)

	_, err = s.AppendMessage(ctx, Message{
		ConversationID: conv.ID, Role: RoleUser,
		Content: "see attached", Attachment: "upload.pdf",
	})
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, Message{
		ConversationID: conv.ID, Role: RoleAssistant,
		Content: "partial answer", Flagged: true,
	})
	require.NoError(t, err)

	messages, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)

	assert.Equal(t, "upload.pdf", messages[0].Attachment)
	assert.False(t, messages[0].Flagged)
	assert.True(t, messages[1].Flagged)
	assert.Equal(t, RoleAssistant, messages[1].Role)
	assert.Empty(t, messages[1].Attachment)
}
