package converse

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for conversation events.
const (
	EventNameMessageDelivered      = "converse.message.delivered"
	EventNameConversationRead      = "converse.conversation.read"
	EventNameConversationDestroyed = "converse.conversation.destroyed"
	EventNameMembershipChanged     = "converse.membership.changed"
)

// MessageDeliveredEvent is published when a message is delivered.
// This is the primary event for notifying downstream consumers of new
// messages, including system messages.
type MessageDeliveredEvent struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	RecipientIDs   []string  `json:"recipient_ids"`
	System         bool      `json:"system"`
	DeliveredAt    time.Time `json:"delivered_at"`
}

// ConversationReadEvent is published when a participant marks a
// conversation as read. Use this for read receipts and engagement tracking.
type ConversationReadEvent struct {
	ConversationID string    `json:"conversation_id"`
	ParticipantID  string    `json:"participant_id"`
	ReadAt         time.Time `json:"read_at"`
}

// ConversationDestroyedEvent is published when an orphaned conversation
// is cascade-destroyed. This event is only published for physical
// destruction, not per-participant soft deletes.
type ConversationDestroyedEvent struct {
	ConversationID string    `json:"conversation_id"`
	DestroyedAt    time.Time `json:"destroyed_at"`
}

// MembershipChangedEvent is published when a participant is added to,
// removed from, or leaves a conversation. Change holds the system case
// ("added", "removed", "left").
type MembershipChangedEvent struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Change         string    `json:"change"`
	ChangedAt      time.Time `json:"changed_at"`
}

// ServiceEvents provides access to per-service event instances.
// Each service creates its own events bound to its own event bus,
// enabling independent event routing and parallel testing.
//
// Subscribe to events:
//
//	svc.Events().MessageDelivered.Subscribe(ctx, handler)
//	svc.Events().ConversationRead.Subscribe(ctx, handler)
type ServiceEvents struct {
	// MessageDelivered is published when a message is delivered.
	MessageDelivered event.Event[MessageDeliveredEvent]

	// ConversationRead is published when a conversation is marked as read.
	ConversationRead event.Event[ConversationReadEvent]

	// ConversationDestroyed is published when an orphaned conversation is destroyed.
	ConversationDestroyed event.Event[ConversationDestroyedEvent]

	// MembershipChanged is published when the participant set changes.
	MembershipChanged event.Event[MembershipChangedEvent]
}

// newServiceEvents creates per-service event instances with a unique name prefix.
func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		MessageDelivered:      event.New[MessageDeliveredEvent](namePrefix + "." + EventNameMessageDelivered),
		ConversationRead:      event.New[ConversationReadEvent](namePrefix + "." + EventNameConversationRead),
		ConversationDestroyed: event.New[ConversationDestroyedEvent](namePrefix + "." + EventNameConversationDestroyed),
		MembershipChanged:     event.New[MembershipChangedEvent](namePrefix + "." + EventNameMembershipChanged),
	}
}

// registerServiceEvents registers per-service events with the given bus.
func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.MessageDelivered); err != nil {
		return fmt.Errorf("register MessageDelivered: %w", err)
	}
	if err := event.Register(ctx, bus, events.ConversationRead); err != nil {
		return fmt.Errorf("register ConversationRead: %w", err)
	}
	if err := event.Register(ctx, bus, events.ConversationDestroyed); err != nil {
		return fmt.Errorf("register ConversationDestroyed: %w", err)
	}
	if err := event.Register(ctx, bus, events.MembershipChanged); err != nil {
		return fmt.Errorf("register MembershipChanged: %w", err)
	}
	return nil
}
