package converse

import (
	"context"
	"fmt"

	"github.com/mdevan/converse/store"
)

// EmptyTrashResult contains the result of an empty-trash operation.
type EmptyTrashResult struct {
	// Deleted is the number of conversations soft-deleted for the user.
	Deleted int
	// Destroyed is how many of those became orphans and were removed
	// physically.
	Destroyed int
	// Interrupted indicates the run stopped early (context cancelled).
	Interrupted bool
}

// EmptyTrash soft-deletes every conversation in the user's trash.
// Conversations every participant has deleted are destroyed outright.
//
// The run processes the trash in batches until it drains or the context
// is cancelled. Call it from the application's own scheduler; the
// library never empties trash on its own.
func (c *userClient) EmptyTrash(ctx context.Context) (*EmptyTrashResult, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}

	result := &EmptyTrashResult{}
	const batchSize = 100

	for {
		if ctx.Err() != nil {
			result.Interrupted = true
			return result, ctx.Err()
		}

		// Deleting shrinks the trash, so always read the first page.
		list, err := c.service.store.ListConversations(ctx, c.userID, store.ScopeTrash, store.ListOptions{Limit: batchSize})
		if err != nil {
			return result, fmt.Errorf("list trash: %w", err)
		}
		if len(list.Conversations) == 0 {
			return result, nil
		}

		for _, data := range list.Conversations {
			if ctx.Err() != nil {
				result.Interrupted = true
				return result, ctx.Err()
			}
			conv := &Conversation{service: c.service, data: data}
			destroyed, err := conv.MarkAsDeleted(ctx, c.userID)
			if err != nil {
				return result, fmt.Errorf("delete conversation %s: %w", data.ID, err)
			}
			result.Deleted++
			if destroyed {
				result.Destroyed++
			}
		}
	}
}
