package converse

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mdevan/converse/store"
)

// deliver persists msg with its receipts and dispatches notifications.
// This is the single delivery path for both user and system messages.
// recipientIDs determines who holds inbox receipts; dispatchTo determines
// who is notified out-of-band. The two differ only for membership
// announcements, which every participant keeps a receipt for but only the
// affected participant is notified about.
//
// Receipt construction is all-or-nothing: if any receipt fails validation,
// nothing is persisted and the returned Delivery carries the unpersisted
// sender receipt alongside the error. After the message is committed a
// dispatch failure is reported but never rolls the delivery back.
func (s *service) deliver(ctx context.Context, conv *store.Conversation, msg *store.Message, recipientIDs, dispatchTo []string, reply bool) (*Delivery, error) {
	// Step 1: Deduplicate recipients so the receipt set has one inbox
	// receipt per recipient.
	recipientIDs = deduplicateRecipients(recipientIDs)

	// Setup tracing
	ctx, endSpan := s.otel.startSpan(ctx, "converse.deliver",
		attribute.String("sender_id", msg.SenderID),
		attribute.String("conversation_id", conv.ID),
		attribute.Int("recipient_count", len(recipientIDs)),
		attribute.Bool("system", msg.System),
	)
	start := time.Now()
	var deliverErr error
	defer func() {
		endSpan(deliverErr)
		s.otel.recordDeliver(ctx, time.Since(start), len(recipientIDs), msg.System, deliverErr)
	}()

	// Step 2: Build the receipt set. The sender always holds a sentbox
	// receipt created already-read. A sender listed among the recipients
	// additionally receives an inbox receipt like anyone else.
	senderReceipt := &store.Receipt{
		ConversationID: conv.ID,
		ReceiverID:     msg.SenderID,
		Mailbox:        store.MailboxSentbox,
		IsRead:         true,
	}
	receipts := make([]*store.Receipt, 0, len(recipientIDs)+1)
	receipts = append(receipts, senderReceipt)
	for _, id := range recipientIDs {
		receipts = append(receipts, &store.Receipt{
			ConversationID: conv.ID,
			ReceiverID:     id,
			Mailbox:        store.MailboxInbox,
		})
	}

	delivery := &Delivery{
		Conversation:  conv,
		Message:       msg,
		SenderReceipt: senderReceipt,
	}

	// Step 3: Validate the message and every receipt before persisting
	// anything. The sender receipt is handed back even when invalid.
	if err := ValidateMessage(msg, s.opts.getLimits()); err != nil {
		deliverErr = err
		return delivery, deliverErr
	}
	for _, r := range receipts {
		if err := ValidateReceipt(r); err != nil {
			deliverErr = err
			return delivery, deliverErr
		}
	}

	// Step 4: Acquire delivery semaphore. Nothing is persisted yet, so the
	// caller still gets the unpersisted sender receipt back.
	if err := s.deliverSem.Acquire(ctx, 1); err != nil {
		deliverErr = err
		return delivery, deliverErr
	}
	defer s.deliverSem.Release(1)

	// Step 5: Plugin BeforeDeliver hook
	if err := s.plugins.beforeDeliver(ctx, msg.SenderID, msg, recipientIDs); err != nil {
		deliverErr = err
		return nil, deliverErr
	}

	// Step 6: Persist the message and all receipts in one transaction.
	stored, storedReceipts, err := s.store.CreateMessageWithReceipts(ctx, msg, receipts)
	if err != nil {
		deliverErr = fmt.Errorf("create message with receipts: %w", err)
		return nil, deliverErr
	}
	delivery.Message = stored
	for _, r := range storedReceipts {
		if r.Mailbox == store.MailboxSentbox && r.ReceiverID == stored.SenderID {
			delivery.SenderReceipt = r
			continue
		}
		delivery.RecipientReceipts = append(delivery.RecipientReceipts, r)
	}

	// Step 7: Bump conversation activity for replies so listings surface
	// the conversation first.
	if reply {
		if err := s.store.TouchConversation(ctx, conv.ID); err != nil {
			s.logger.Warn("failed to touch conversation after reply",
				"conversation_id", conv.ID, "error", err)
		}
	}

	// Step 8: Dispatch out-of-band notifications. The message is already
	// committed; failures surface as DispatchError but roll nothing back.
	if err := s.dispatch(ctx, stored, conv, dispatchTo); err != nil {
		deliverErr = err
		return delivery, deliverErr
	}

	// Step 9: Post-deliver hook
	if s.postDeliver != nil {
		s.postDeliver(ctx, stored)
	}

	// Step 10: Plugin AfterDeliver hook and event publishing
	if err := s.plugins.afterDeliver(ctx, stored.SenderID, stored); err != nil {
		deliverErr = err
		return delivery, deliverErr
	}

	if err := s.events.MessageDelivered.Publish(ctx, MessageDeliveredEvent{
		MessageID:      stored.ID,
		ConversationID: conv.ID,
		SenderID:       stored.SenderID,
		RecipientIDs:   recipientIDs,
		System:         stored.System,
		DeliveredAt:    stored.CreatedAt,
	}); err != nil {
		if s.opts.eventErrorsFatal {
			deliverErr = &EventPublishError{
				Event:          "MessageDelivered",
				ConversationID: conv.ID,
				Err:            err,
			}
			return delivery, deliverErr
		}
		s.opts.safeEventPublishFailure("MessageDelivered", err)
	}

	return delivery, nil
}

// dispatch notifies recipients about a persisted message. The sender and
// opted-out participants are excluded. System messages recording a
// departure are never dispatched.
func (s *service) dispatch(ctx context.Context, msg *store.Message, conv *store.Conversation, recipientIDs []string) error {
	if msg.System && msg.SystemCase == store.SystemCaseLeft {
		return nil
	}

	optedOut, err := s.store.OptedOut(ctx, conv.ID)
	if err != nil {
		s.logger.Warn("failed to load opt-outs before dispatch, notifying all recipients",
			"conversation_id", conv.ID, "error", err)
	}
	skip := make(map[string]bool, len(optedOut)+1)
	skip[msg.SenderID] = true
	for _, id := range optedOut {
		skip[id] = true
	}

	notify := make([]string, 0, len(recipientIDs))
	for _, id := range recipientIDs {
		if !skip[id] {
			notify = append(notify, id)
		}
	}
	if len(notify) == 0 {
		return nil
	}

	if err := s.dispatcher.Dispatch(ctx, msg, conv, notify); err != nil {
		return &DispatchError{
			MessageID:    msg.ID,
			RecipientIDs: notify,
			Err:          err,
		}
	}
	return nil
}

// deliverSystemMessage persists a machine-generated membership message.
// Every current participant receives an inbox receipt so the announcement
// shows up in their listings, plus the target when they have already been
// removed from the member list. Out-of-band dispatch is restricted to the
// target participant.
func (s *service) deliverSystemMessage(ctx context.Context, conv *store.Conversation, senderID, targetID string, sysCase store.SystemCase) (*Delivery, error) {
	if !sysCase.Valid() || sysCase == store.SystemCaseNone {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSystemCase, sysCase)
	}

	members, err := s.store.Members(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	recipients := make([]string, 0, len(members)+1)
	targetPresent := false
	for _, m := range members {
		if m == senderID {
			continue
		}
		if m == targetID {
			targetPresent = true
		}
		recipients = append(recipients, m)
	}
	if !targetPresent && targetID != senderID {
		recipients = append(recipients, targetID)
	}

	msg := &store.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		Body:           s.systemMessageBody(ctx, targetID, sysCase),
		System:         true,
		SystemCase:     sysCase,
	}
	return s.deliver(ctx, conv, msg, recipients, []string{targetID}, true)
}

// systemMessageBody composes the human-readable body of a system message,
// using the resolver for display names when configured.
func (s *service) systemMessageBody(ctx context.Context, targetID string, sysCase store.SystemCase) string {
	name := targetID
	if s.resolver != nil {
		if r, err := s.resolver.Resolve(ctx, targetID); err == nil && r != nil && r.Name != "" {
			name = r.Name
		}
	}

	switch sysCase {
	case store.SystemCaseAdded:
		return fmt.Sprintf("%s was added to the conversation", name)
	case store.SystemCaseRemoved:
		return fmt.Sprintf("%s was removed from the conversation", name)
	case store.SystemCaseLeft:
		return fmt.Sprintf("%s left the conversation", name)
	default:
		return ""
	}
}
