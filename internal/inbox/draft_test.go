package inbox

import (
	"context"
	"testing"

	"github.com/schoolinbox/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposeDraft(t *testing.T) {
	convs, entries := fixture()
	e := newTestEngine(t, convs, entries, nil)

	t.Run("empty selection is a no-op", func(t *testing.T) {
		_, ok := e.ComposeDraft(context.Background(), nil)
		assert.False(t, ok)
		_, ok = e.ComposeDraft(context.Background(), []string{})
		assert.False(t, ok)
	})

	t.Run("two staff selected yields a draft with exactly those participants and no id", func(t *testing.T) {
		draft, ok := e.ComposeDraft(context.Background(), []string{"t1@school.example", "t2@school.example"})
		require.True(t, ok)
		require.Len(t, draft.Participants, 2)
		assert.Equal(t, "t1@school.example", draft.Participants[0].ID)
		assert.Equal(t, "t2@school.example", draft.Participants[1].ID)

		sel := draft.Selection()
		assert.True(t, sel.IsNew)
		assert.Empty(t, sel.ConversationID)
		assert.Equal(t, draft.Participants, sel.Participants)
	})
}

func TestSelectConversation(t *testing.T) {
	convs, entries := fixture()
	e := newTestEngine(t, convs, entries, nil)

	t.Run("persisted conversation", func(t *testing.T) {
		sel, err := e.SelectConversation(context.Background(), "c300")
		require.NoError(t, err)
		assert.False(t, sel.IsNew)
		assert.Equal(t, "c300", sel.ConversationID)
		require.Len(t, sel.Participants, 1)
		assert.Equal(t, "t2@school.example", sel.Participants[0].ID)
	})

	t.Run("missing record", func(t *testing.T) {
		_, err := e.SelectConversation(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrConversationNotFound)
	})
}

func TestSelectionTaggedUnion(t *testing.T) {
	// A draft and a persisted selection must be distinguishable by the tag
	// alone, not by an empty id.
	draft := model.DraftConversation{Participants: []model.Participant{{ID: "t1"}}}.Selection()
	persisted := model.ConversationSelection{IsNew: false, ConversationID: "c1"}
	assert.True(t, draft.IsNew)
	assert.False(t, persisted.IsNew)
}
