package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bioinfoflow/backend/internal/infrastructure/logging"
	"github.com/bioinfoflow/backend/internal/shared/paths"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	layout := paths.Layout{Root: t.TempDir()}
	require.NoError(t, layout.Ensure())
	return NewStore(layout, logging.NewNop())
}

func TestCreateSeedsWelcomeMessage(t *testing.T) {
	store := newTestStore(t)

	conv, err := store.Create("My Analysis", ModeChat)
	require.NoError(t, err)

	assert.Equal(t, "My Analysis", conv.Title)
	assert.Equal(t, ModeChat, conv.Mode)
	require.Len(t, conv.Messages, 1)
	assert.True(t, conv.Messages[0].IsWelcome)
	assert.Equal(t, "bot", conv.Messages[0].Sender)
}

func TestCreateDefaults(t *testing.T) {
	store := newTestStore(t)

	conv, err := store.Create("", Mode("bogus"))
	require.NoError(t, err)

	assert.Equal(t, ModeChat, conv.Mode)
	assert.NotEmpty(t, conv.Title)
}

func TestAgentWelcomeMentionsWorkflows(t *testing.T) {
	store := newTestStore(t)

	conv, err := store.Create("", ModeAgent)
	require.NoError(t, err)

	require.Len(t, conv.Messages, 1)
	assert.Contains(t, conv.Messages[0].Text, "workflow")
}

func TestGetRoundTrip(t *testing.T) {
	store := newTestStore(t)

	created, err := store.Create("Round Trip", ModeChat)
	require.NoError(t, err)

	loaded, err := store.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, loaded.ID)
	assert.Equal(t, "Round Trip", loaded.Title)
	assert.Len(t, loaded.Messages, 1)
}

func TestGetUnknown(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get("conv_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListOrdersByUpdatedAt(t *testing.T) {
	store := newTestStore(t)

	first, err := store.Create("first", ModeChat)
	require.NoError(t, err)
	second, err := store.Create("second", ModeChat)
	require.NoError(t, err)

	// Touching the older conversation should move it to the front.
	_, err = store.AppendMessage(first.ID, Message{Text: "hi", Sender: "user"})
	require.NoError(t, err)

	summaries := store.List()
	require.Len(t, summaries, 2)
	assert.Equal(t, first.ID, summaries[0].ID)
	assert.Equal(t, second.ID, summaries[1].ID)
	assert.Equal(t, 2, summaries[0].MessageCount)
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)

	conv, err := store.Create("doomed", ModeChat)
	require.NoError(t, err)

	assert.True(t, store.Delete(conv.ID))
	assert.False(t, store.Delete(conv.ID))

	_, err = store.Get(conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRename(t *testing.T) {
	store := newTestStore(t)

	conv, err := store.Create("old name", ModeChat)
	require.NoError(t, err)

	renamed, err := store.Rename(conv.ID, "new name")
	require.NoError(t, err)
	assert.Equal(t, "new name", renamed.Title)

	loaded, err := store.Get(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "new name", loaded.Title)
}

func TestSetModeRecordsSystemMessage(t *testing.T) {
	store := newTestStore(t)

	conv, err := store.Create("switcher", ModeChat)
	require.NoError(t, err)

	updated, err := store.SetMode(conv.ID, ModeAgent)
	require.NoError(t, err)
	assert.Equal(t, ModeAgent, updated.Mode)

	last := updated.Messages[len(updated.Messages)-1]
	assert.True(t, last.IsSystem)
	assert.Contains(t, last.Text, "Agent Mode")

	// Setting the same mode again should not add another system message.
	again, err := store.SetMode(conv.ID, ModeAgent)
	require.NoError(t, err)
	assert.Len(t, again.Messages, len(updated.Messages))
}

func TestSetModeRejectsUnknown(t *testing.T) {
	store := newTestStore(t)

	conv, err := store.Create("switcher", ModeChat)
	require.NoError(t, err)

	_, err = store.SetMode(conv.ID, Mode("turbo"))
	assert.Error(t, err)
}

func TestAppendMessageAssignsIDAndTimestamp(t *testing.T) {
	store := newTestStore(t)

	conv, err := store.Create("messages", ModeChat)
	require.NoError(t, err)

	msg, err := store.AppendMessage(conv.ID, Message{Text: "hello", Sender: "user"})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.Timestamp.IsZero())

	msgs, err := store.Messages(conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[1].Text)
}
