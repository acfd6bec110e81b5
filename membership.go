package converse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mdevan/converse/store"
)

// AddParticipant adds a user to the conversation and backfills one inbox
// receipt per existing non-system message, preserving each message's
// original timestamps so the new participant's view orders correctly.
// Adding an existing participant is a no-op.
//
// No system message is generated; callers wanting the announced flavor
// use AddNewRecipient.
func (c *Conversation) AddParticipant(ctx context.Context, participantID string) error {
	if participantID == "" {
		return nil
	}
	if !isValidUserID(participantID) {
		return fmt.Errorf("converse: %q: %w", participantID, ErrInvalidUserID)
	}

	created, err := c.service.store.AddMember(ctx, c.data.ID, participantID)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	if !created {
		return nil
	}
	return c.backfillReceipts(ctx, participantID)
}

// backfillReceipts creates unread inbox receipts for every non-system
// message the participant does not already hold a receipt for.
func (c *Conversation) backfillReceipts(ctx context.Context, participantID string) error {
	msgs, err := c.service.store.Messages(ctx, c.data.ID, store.ListOptions{})
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	existing, err := c.service.store.ReceiptsFor(ctx, c.data.ID, participantID)
	if err != nil {
		return fmt.Errorf("load receipts: %w", err)
	}
	held := make(map[string]bool, len(existing))
	for _, r := range existing {
		held[r.MessageID] = true
	}

	var receipts []*store.Receipt
	for _, msg := range msgs {
		if msg.System || held[msg.ID] {
			continue
		}
		receipts = append(receipts, &store.Receipt{
			MessageID:      msg.ID,
			ConversationID: c.data.ID,
			ReceiverID:     participantID,
			Mailbox:        store.MailboxInbox,
			CreatedAt:      msg.CreatedAt,
			UpdatedAt:      msg.UpdatedAt,
		})
	}
	if len(receipts) == 0 {
		return nil
	}
	if _, err := c.service.store.CreateReceipts(ctx, receipts); err != nil {
		return fmt.Errorf("backfill receipts: %w", err)
	}
	return nil
}

// AddNewRecipients attaches several participants at once without system
// messages or notifications. Used at conversation creation time; invalid
// IDs are rejected before any membership is written.
func (c *Conversation) AddNewRecipients(ctx context.Context, participantIDs ...string) error {
	for _, id := range participantIDs {
		if id == "" || !isValidUserID(id) {
			return fmt.Errorf("converse: %q: %w", id, ErrInvalidUserID)
		}
	}
	for _, id := range participantIDs {
		if err := c.AddParticipant(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// AddNewRecipient adds one participant to an established conversation.
// Existing members are left untouched. The new member gets receipts for
// the conversation's history and an "added" system message sent on
// behalf of the originator. Every participant holds a receipt for the
// announcement; only the new member is notified out-of-band.
func (c *Conversation) AddNewRecipient(ctx context.Context, participantID string) error {
	if participantID == "" {
		return nil
	}
	if !isValidUserID(participantID) {
		return fmt.Errorf("converse: %q: %w", participantID, ErrInvalidUserID)
	}

	member, err := c.service.store.IsMember(ctx, c.data.ID, participantID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if member {
		return nil
	}

	if err := c.AddParticipant(ctx, participantID); err != nil {
		return err
	}

	originator, err := c.Originator(ctx)
	if err != nil {
		return err
	}
	if originator != "" {
		if _, err := c.service.deliverSystemMessage(ctx, c.data, originator, participantID, store.SystemCaseAdded); err != nil {
			// Membership already changed; a failed announcement is not
			// reason to undo it.
			if _, ok := IsDispatchError(err); !ok {
				c.service.logger.Warn("system message for added participant failed",
					"conversation_id", c.data.ID,
					"participant_id", participantID,
					"error", err)
			}
		}
	}

	c.publishMembershipChanged(ctx, participantID, store.SystemCaseAdded)
	return nil
}

// RemoveRecipient removes a participant from the conversation and marks
// their receipts deleted. The originator cannot be removed; removing a
// non-member is a no-op. Each removal generates a "removed" system
// message the remaining participants and the removed participant all
// hold receipts for, notified out-of-band to the removed participant
// only.
func (c *Conversation) RemoveRecipient(ctx context.Context, participantID string) error {
	if participantID == "" {
		return nil
	}

	originator, err := c.Originator(ctx)
	if err != nil {
		return err
	}
	if participantID == originator {
		return nil
	}

	removed, err := c.service.store.RemoveMember(ctx, c.data.ID, participantID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if !removed {
		return nil
	}

	if _, err := c.service.store.MarkDeleted(ctx, c.data.ID, participantID); err != nil {
		return fmt.Errorf("delete receipts: %w", err)
	}

	sender := originator
	if sender == "" {
		sender = participantID
	}
	if _, err := c.service.deliverSystemMessage(ctx, c.data, sender, participantID, store.SystemCaseRemoved); err != nil {
		if _, ok := IsDispatchError(err); !ok {
			c.service.logger.Warn("system message for removed participant failed",
				"conversation_id", c.data.ID,
				"participant_id", participantID,
				"error", err)
		}
	}

	c.publishMembershipChanged(ctx, participantID, store.SystemCaseRemoved)
	return nil
}

// Leave removes the acting participant from the conversation at their own
// request. The originator cannot leave. A "left" system message is
// persisted for the remaining participants but never dispatched.
func (c *Conversation) Leave(ctx context.Context, participantID string) error {
	if participantID == "" {
		return nil
	}

	originator, err := c.Originator(ctx)
	if err != nil {
		return err
	}
	if participantID == originator {
		return errors.New("converse: originator cannot leave the conversation")
	}

	member, err := c.service.store.IsMember(ctx, c.data.ID, participantID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !member {
		return nil
	}

	// Persist the departure message before deleting receipts so the
	// leaver is not left holding a live receipt for their own exit.
	if _, err := c.service.deliverSystemMessage(ctx, c.data, participantID, participantID, store.SystemCaseLeft); err != nil {
		c.service.logger.Warn("system message for departing participant failed",
			"conversation_id", c.data.ID,
			"participant_id", participantID,
			"error", err)
	}

	if _, err := c.service.store.RemoveMember(ctx, c.data.ID, participantID); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}

	if _, err := c.service.store.MarkDeleted(ctx, c.data.ID, participantID); err != nil {
		return fmt.Errorf("delete receipts: %w", err)
	}

	c.publishMembershipChanged(ctx, participantID, store.SystemCaseLeft)
	return nil
}

func (c *Conversation) publishMembershipChanged(ctx context.Context, participantID string, change store.SystemCase) {
	err := c.service.events.MembershipChanged.Publish(ctx, MembershipChangedEvent{
		ConversationID: c.data.ID,
		UserID:         participantID,
		Change:         string(change),
		ChangedAt:      time.Now().UTC(),
	})
	if err != nil {
		c.service.opts.safeEventPublishFailure("MembershipChanged", err)
	}
}
