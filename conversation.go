package converse

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mdevan/converse/store"
)

// Conversation is a handle on a single conversation. Operations that act
// on behalf of a participant take the participant ID explicitly, so one
// handle can serve any number of participants.
//
// Participant-scoped mutations treat an empty participant ID as a no-op
// and participant-scoped predicates report false, never an error. This
// mirrors how callers naturally pass "whoever is acting" without guarding
// for absent users.
//
// A handle caches the conversation's first message once loaded. Handles
// are meant to be short-lived and are not safe for concurrent use.
type Conversation struct {
	service *service
	data    *store.Conversation

	// first message snapshot, loaded lazily
	original       *store.Message
	originalLoaded bool
}

// ID returns the conversation identifier.
func (c *Conversation) ID() string { return c.data.ID }

// Subject returns the conversation subject.
func (c *Conversation) Subject() string { return c.data.Subject }

// CreatedAt returns the conversation creation time.
func (c *Conversation) CreatedAt() time.Time { return c.data.CreatedAt }

// UpdatedAt returns the last-activity time.
func (c *Conversation) UpdatedAt() time.Time { return c.data.UpdatedAt }

// TruncatedSubject returns the subject shortened for previews.
func (c *Conversation) TruncatedSubject() string {
	return Truncated(c.data.Subject, DefaultSubjectPreviewLength)
}

// --- Receipt flag mutations ---

// MarkAsRead marks every message of the conversation as read for the
// participant. Idempotent; an empty participant ID is a no-op.
func (c *Conversation) MarkAsRead(ctx context.Context, participantID string) error {
	changed, err := c.mutate(ctx, "mark_read", participantID, func() (int64, error) {
		return c.service.store.MarkRead(ctx, c.data.ID, participantID, true)
	})
	if err != nil || changed == 0 {
		return err
	}

	if err := c.service.events.ConversationRead.Publish(ctx, ConversationReadEvent{
		ConversationID: c.data.ID,
		ParticipantID:  participantID,
		ReadAt:         time.Now().UTC(),
	}); err != nil {
		if c.service.opts.eventErrorsFatal {
			return &EventPublishError{
				Event:          "ConversationRead",
				ConversationID: c.data.ID,
				Err:            err,
			}
		}
		c.service.opts.safeEventPublishFailure("ConversationRead", err)
	}
	return nil
}

// MarkAsUnread marks every message of the conversation as unread for the
// participant.
func (c *Conversation) MarkAsUnread(ctx context.Context, participantID string) error {
	_, err := c.mutate(ctx, "mark_unread", participantID, func() (int64, error) {
		return c.service.store.MarkRead(ctx, c.data.ID, participantID, false)
	})
	return err
}

// MoveToTrash moves the conversation to the participant's trash.
func (c *Conversation) MoveToTrash(ctx context.Context, participantID string) error {
	_, err := c.mutate(ctx, "trash", participantID, func() (int64, error) {
		return c.service.store.SetTrashed(ctx, c.data.ID, participantID, true)
	})
	return err
}

// Untrash restores the conversation from the participant's trash.
func (c *Conversation) Untrash(ctx context.Context, participantID string) error {
	_, err := c.mutate(ctx, "untrash", participantID, func() (int64, error) {
		return c.service.store.SetTrashed(ctx, c.data.ID, participantID, false)
	})
	return err
}

// mutate runs a participant-scoped flag mutation with instrumentation.
// Empty participant IDs short-circuit to a no-op.
func (c *Conversation) mutate(ctx context.Context, op, participantID string, fn func() (int64, error)) (int64, error) {
	if participantID == "" {
		return 0, nil
	}

	ctx, endSpan := c.service.otel.startSpan(ctx, "converse.mutate",
		attribute.String("conversation_id", c.data.ID),
		attribute.String("participant_id", participantID),
		attribute.String("operation", op),
	)
	start := time.Now()
	changed, err := fn()
	endSpan(err)
	c.service.otel.recordMutate(ctx, time.Since(start), op, err)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return changed, nil
}

// MarkAsDeleted soft-deletes the conversation for the participant. When
// every participant has deleted all of their receipts the conversation is
// orphaned and physically destroyed, cascading to its messages, receipts,
// opt-outs, memberships, and attachment links.
//
// Returns true when the cascade destroy ran.
func (c *Conversation) MarkAsDeleted(ctx context.Context, participantID string) (bool, error) {
	if participantID == "" {
		return false, nil
	}

	if _, err := c.mutate(ctx, "delete", participantID, func() (int64, error) {
		return c.service.store.MarkDeleted(ctx, c.data.ID, participantID)
	}); err != nil {
		return false, err
	}

	orphaned, err := c.isOrphaned(ctx)
	if err != nil {
		return false, err
	}
	if !orphaned {
		return false, nil
	}

	ctx, endSpan := c.service.otel.startSpan(ctx, "converse.destroy",
		attribute.String("conversation_id", c.data.ID),
	)
	start := time.Now()
	destroyErr := c.service.store.DestroyConversation(ctx, c.data.ID)
	endSpan(destroyErr)
	c.service.otel.recordDestroy(ctx, time.Since(start), destroyErr)
	if destroyErr != nil {
		return false, fmt.Errorf("destroy conversation: %w", destroyErr)
	}

	c.service.logger.Info("destroyed orphaned conversation", "conversation_id", c.data.ID)

	if err := c.service.events.ConversationDestroyed.Publish(ctx, ConversationDestroyedEvent{
		ConversationID: c.data.ID,
		DestroyedAt:    time.Now().UTC(),
	}); err != nil {
		if c.service.opts.eventErrorsFatal {
			return true, &EventPublishError{
				Event:          "ConversationDestroyed",
				ConversationID: c.data.ID,
				Err:            err,
			}
		}
		c.service.opts.safeEventPublishFailure("ConversationDestroyed", err)
	}
	return true, nil
}

// isOrphaned reports whether every participant has deleted all of their
// receipts. Participants holding no receipts count as done.
func (c *Conversation) isOrphaned(ctx context.Context) (bool, error) {
	receipts, err := c.service.store.ConversationReceipts(ctx, c.data.ID)
	if err != nil {
		return false, fmt.Errorf("conversation receipts: %w", err)
	}
	if len(receipts) == 0 {
		return true, nil
	}
	for _, r := range receipts {
		if !r.Deleted {
			return false, nil
		}
	}
	return true, nil
}

// --- Predicates ---

// IsParticipant reports whether the user belongs to the conversation.
// An empty participant ID reports false.
func (c *Conversation) IsParticipant(ctx context.Context, participantID string) (bool, error) {
	if participantID == "" {
		return false, nil
	}
	ok, err := c.service.store.IsMember(ctx, c.data.ID, participantID)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return ok, nil
}

// IsUnread reports whether the participant holds at least one unread,
// non-deleted receipt.
func (c *Conversation) IsUnread(ctx context.Context, participantID string) (bool, error) {
	if participantID == "" {
		return false, nil
	}
	receipts, err := c.receiptsFor(ctx, participantID)
	if err != nil {
		return false, err
	}
	for _, r := range receipts {
		if !r.Deleted && !r.IsRead {
			return true, nil
		}
	}
	return false, nil
}

// IsRead reports whether the participant has no unread receipts.
// An empty participant ID reports false.
func (c *Conversation) IsRead(ctx context.Context, participantID string) (bool, error) {
	if participantID == "" {
		return false, nil
	}
	unread, err := c.IsUnread(ctx, participantID)
	if err != nil {
		return false, err
	}
	return !unread, nil
}

// IsTrashed reports whether the participant holds at least one trashed
// receipt.
func (c *Conversation) IsTrashed(ctx context.Context, participantID string) (bool, error) {
	if participantID == "" {
		return false, nil
	}
	receipts, err := c.receiptsFor(ctx, participantID)
	if err != nil {
		return false, err
	}
	for _, r := range receipts {
		if r.Trashed {
			return true, nil
		}
	}
	return false, nil
}

// IsCompletelyTrashed reports whether every one of the participant's
// receipts is trashed. A participant with no receipts reports false.
func (c *Conversation) IsCompletelyTrashed(ctx context.Context, participantID string) (bool, error) {
	if participantID == "" {
		return false, nil
	}
	receipts, err := c.receiptsFor(ctx, participantID)
	if err != nil {
		return false, err
	}
	if len(receipts) == 0 {
		return false, nil
	}
	for _, r := range receipts {
		if !r.Trashed {
			return false, nil
		}
	}
	return true, nil
}

// IsDeleted reports whether every one of the participant's receipts is
// soft-deleted. Participants holding no receipts report true, matching
// the orphan check. An empty participant ID reports false.
func (c *Conversation) IsDeleted(ctx context.Context, participantID string) (bool, error) {
	if participantID == "" {
		return false, nil
	}
	receipts, err := c.receiptsFor(ctx, participantID)
	if err != nil {
		return false, err
	}
	for _, r := range receipts {
		if !r.Deleted {
			return false, nil
		}
	}
	return true, nil
}

func (c *Conversation) receiptsFor(ctx context.Context, participantID string) ([]*store.Receipt, error) {
	receipts, err := c.service.store.ReceiptsFor(ctx, c.data.ID, participantID)
	if err != nil {
		return nil, fmt.Errorf("receipts for: %w", err)
	}
	return receipts, nil
}

// --- Message accessors ---

// OriginalMessage returns the conversation's first non-system message,
// or nil when the conversation has none.
func (c *Conversation) OriginalMessage(ctx context.Context) (*store.Message, error) {
	if c.originalLoaded {
		return c.original, nil
	}
	msg, err := c.service.store.FirstMessage(ctx, c.data.ID)
	if err != nil {
		if store.IsNotFound(err) {
			c.originalLoaded = true
			return nil, nil
		}
		return nil, fmt.Errorf("first message: %w", err)
	}
	c.original = msg
	c.originalLoaded = true
	return msg, nil
}

// Originator returns the sender of the original message, or "" when the
// conversation has no non-system messages.
func (c *Conversation) Originator(ctx context.Context) (string, error) {
	msg, err := c.OriginalMessage(ctx)
	if err != nil || msg == nil {
		return "", err
	}
	return msg.SenderID, nil
}

// LastMessage returns the most recent non-system message, or nil when
// the conversation has none.
func (c *Conversation) LastMessage(ctx context.Context) (*store.Message, error) {
	msg, err := c.service.store.LastMessage(ctx, c.data.ID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("last message: %w", err)
	}
	return msg, nil
}

// LastSender returns the sender of the most recent non-system message,
// or "" when the conversation has none.
func (c *Conversation) LastSender(ctx context.Context) (string, error) {
	msg, err := c.LastMessage(ctx)
	if err != nil || msg == nil {
		return "", err
	}
	return msg.SenderID, nil
}

// Messages returns conversation messages ordered oldest first.
func (c *Conversation) Messages(ctx context.Context, opts store.ListOptions) ([]*store.Message, error) {
	msgs, err := c.service.store.Messages(ctx, c.data.ID, opts)
	if err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}
	return msgs, nil
}

// CountMessages returns the number of messages in the conversation.
func (c *Conversation) CountMessages(ctx context.Context) (int64, error) {
	n, err := c.service.store.CountMessages(ctx, c.data.ID)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// Participants returns the conversation's participant IDs.
func (c *Conversation) Participants(ctx context.Context) ([]string, error) {
	members, err := c.service.store.Members(ctx, c.data.ID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

// Receipts returns the receipts a participant holds in the conversation.
func (c *Conversation) Receipts(ctx context.Context, participantID string) ([]*store.Receipt, error) {
	return c.receiptsFor(ctx, participantID)
}

// --- Notification subscription ---

// HasSubscriber reports whether the participant receives notifications
// for this conversation (the default, absent an opt-out).
func (c *Conversation) HasSubscriber(ctx context.Context, participantID string) (bool, error) {
	if participantID == "" {
		return false, nil
	}
	optedOut, err := c.service.store.HasOptOut(ctx, c.data.ID, participantID)
	if err != nil {
		return false, fmt.Errorf("check opt-out: %w", err)
	}
	return !optedOut, nil
}

// OptOut unsubscribes the participant from this conversation's
// notifications. Only currently-subscribed participants are affected;
// an existing opt-out is left untouched.
func (c *Conversation) OptOut(ctx context.Context, participantID string) error {
	if participantID == "" {
		return nil
	}
	subscribed, err := c.HasSubscriber(ctx, participantID)
	if err != nil {
		return err
	}
	if !subscribed {
		return nil
	}
	if err := c.service.store.AddOptOut(ctx, c.data.ID, participantID); err != nil {
		return fmt.Errorf("add opt-out: %w", err)
	}
	return nil
}

// OptIn restores the participant's notification subscription. Opting in
// without a prior opt-out is a no-op.
func (c *Conversation) OptIn(ctx context.Context, participantID string) error {
	if participantID == "" {
		return nil
	}
	if err := c.service.store.RemoveOptOut(ctx, c.data.ID, participantID); err != nil {
		return fmt.Errorf("remove opt-out: %w", err)
	}
	return nil
}
