package inbox

import (
	"context"

	"github.com/schoolinbox/internal/model"
	"golang.org/x/sync/errgroup"
)

// enrich joins the global record, the per-user index entry and resolved
// participants into view models, preserving input order. Ids are processed in
// fixed-size batches with bounded concurrency so a wide window never fans out
// into unbounded parallel reads.
//
// An id whose global record or index entry is missing is dropped silently:
// conversations can be deleted upstream, and the index can be momentarily
// ahead of or behind the record store.
func (e *Engine) enrich(ctx context.Context, ids []string) ([]model.ConversationView, error) {
	if len(ids) == 0 {
		return []model.ConversationView{}, nil
	}

	slots := make([]*model.ConversationView, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.BatchWorkers)

	for start := 0; start < len(ids); start += e.opts.BatchSize {
		end := start + e.opts.BatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]
		offset := start
		g.Go(func() error {
			convs, err := e.convs.GetByIDs(ctx, batch)
			if err != nil {
				return err
			}
			entries, err := e.entries.GetEntries(ctx, e.userID, batch)
			if err != nil {
				return err
			}
			for i, id := range batch {
				conv, haveConv := convs[id]
				entry, haveEntry := entries[id]
				if !haveConv || !haveEntry {
					continue
				}
				v := e.buildView(ctx, conv, entry)
				slots[offset+i] = &v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]model.ConversationView, 0, len(ids))
	for _, v := range slots {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out, nil
}

// buildView assembles one view model. The requesting user is excluded from
// the participant display list; active/unread come verbatim from the index
// entry and are overridden by the overlay at render time.
func (e *Engine) buildView(ctx context.Context, conv model.Conversation, entry model.ConversationEntry) model.ConversationView {
	participants := make([]model.Participant, 0, len(conv.Participants))
	for _, pid := range conv.Participants {
		if pid == e.userID {
			continue
		}
		participants = append(participants, e.resolver.Resolve(ctx, pid))
	}
	return model.ConversationView{
		ConversationID: conv.ID,
		LastMessage:    entry.LastMessage,
		LastSenderName: entry.LastSenderName,
		LastMessageAt:  entry.LastMessageAt,
		Participants:   participants,
		Active:         entry.Active,
		UnreadMessages: entry.UnreadMessages,
	}
}
