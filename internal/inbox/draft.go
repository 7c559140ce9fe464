package inbox

import (
	"context"
	"time"

	"github.com/schoolinbox/internal/logger"
	"github.com/schoolinbox/internal/model"
)

// ComposeDraft builds a pre-conversation draft from a staff multi-select.
// Every selected identifier is resolved first so the hand-off to the composer
// always carries display-ready participants. An empty selection is a no-op:
// ok is false and there is nothing actionable.
func (e *Engine) ComposeDraft(ctx context.Context, selected []string) (model.DraftConversation, bool) {
	if len(selected) == 0 {
		return model.DraftConversation{}, false
	}
	participants := make([]model.Participant, 0, len(selected))
	for _, id := range selected {
		participants = append(participants, e.resolver.Resolve(ctx, id))
	}
	return model.DraftConversation{Participants: participants}, true
}

// SelectConversation builds the composer hand-off for a persisted
// conversation: the record is loaded, participants resolved, the requesting
// user excluded. Returns repository-level errors unchanged so the handler can
// map a missing record to 404.
func (e *Engine) SelectConversation(ctx context.Context, conversationID string) (model.ConversationSelection, error) {
	defer logger.DeferLogDuration("inbox.SelectConversation", time.Now())()
	convs, err := e.convs.GetByIDs(ctx, []string{conversationID})
	if err != nil {
		return model.ConversationSelection{}, err
	}
	conv, ok := convs[conversationID]
	if !ok {
		return model.ConversationSelection{}, ErrConversationNotFound
	}
	participants := make([]model.Participant, 0, len(conv.Participants))
	for _, pid := range conv.Participants {
		if pid == e.userID {
			continue
		}
		participants = append(participants, e.resolver.Resolve(ctx, pid))
	}
	return model.ConversationSelection{
		IsNew:          false,
		ConversationID: conv.ID,
		Participants:   participants,
	}, nil
}
