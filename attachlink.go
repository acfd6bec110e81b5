package converse

import (
	"context"
	"fmt"

	"github.com/mdevan/converse/store"
)

// handleNewDatafiles links a delivered message's attached files to the
// message and its conversation, and grants each recipient access to the
// non-public ones.
//
// File IDs are resolved through the configured FileStore scoped to the
// sender; files the sender does not own are silently excluded rather
// than failing the delivery. Links are idempotent, so re-processing a
// message never duplicates them.
func (s *service) handleNewDatafiles(ctx context.Context, msg *store.Message, fileIDs, recipientIDs []string) error {
	if s.fileStore == nil || len(fileIDs) == 0 {
		return nil
	}
	limits := s.opts.getLimits()
	if len(fileIDs) > limits.MaxFileCount {
		return fmt.Errorf("converse: %d files exceeds limit of %d: %w",
			len(fileIDs), limits.MaxFileCount, ErrInvalidMessage)
	}

	files, err := s.fileStore.OwnedFiles(ctx, msg.SenderID, fileIDs)
	if err != nil {
		return fmt.Errorf("resolve files: %w", err)
	}

	for _, f := range files {
		if _, err := s.store.LinkFile(ctx, &store.AttachmentLink{
			FileID:    f.ID,
			OwnerType: store.OwnerMessage,
			OwnerID:   msg.ID,
		}); err != nil {
			return fmt.Errorf("link file to message: %w", err)
		}
		if _, err := s.store.LinkFile(ctx, &store.AttachmentLink{
			FileID:    f.ID,
			OwnerType: store.OwnerConversation,
			OwnerID:   msg.ConversationID,
		}); err != nil {
			return fmt.Errorf("link file to conversation: %w", err)
		}

		if f.Public || s.grantor == nil {
			continue
		}
		for _, recipientID := range recipientIDs {
			if recipientID == msg.SenderID {
				continue
			}
			if err := s.grantor.GrantPermission(ctx, recipientID, f.ID); err != nil {
				return fmt.Errorf("grant file access to %s: %w", recipientID, err)
			}
		}
	}
	return nil
}
