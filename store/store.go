// Package store provides interfaces and types for conversation storage.
// Implementations are in store/memory and store/postgres subpackages.
//
// # Architectural Principle: No Distributed Locks
//
// This package is designed to avoid distributed locks entirely. All
// concurrency concerns are handled through:
//
//  1. Atomic Database Operations: flag mutations on receipts are single
//     UPDATE statements scoped by (conversation, receiver). The database
//     engine guarantees their atomicity.
//
//  2. Idempotency via Unique Constraints: opt-outs, memberships, and
//     attachment links are enforced by unique indexes. Instead of locking
//     before write, conflicts are handled via return status.
//
//  3. Transactional Batches: message delivery persists the message and all
//     of its receipts in a single transaction, and conversation destruction
//     removes the conversation and everything it owns in a single
//     transaction. Partial state is never visible.
//
// Example - Atomic Delivery:
//
//	// WRONG: Distributed lock approach (DO NOT USE)
//	lock.Acquire("deliver:" + conversationID)
//	defer lock.Release()
//	store.CreateMessage(msg)
//	for _, r := range receipts { store.CreateReceipt(r) }
//
//	// CORRECT: Single transactional unit
//	msg, receipts, err := store.CreateMessageWithReceipts(ctx, msg, receipts)
//	// Either the message and every receipt exist, or none of them do.
//
// This design provides simpler architecture (no external lock service),
// database ACID guarantees instead of lock service availability, and
// automatic deadlock prevention.
package store

import (
	"context"
)

// Store is the storage interface for the conversation system.
//
// All operations must be safe for concurrent use. Implementations must use
// database-level atomicity (transactions, atomic operations) rather than
// external locking mechanisms. See package documentation for details.
type Store interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// Conversation records and cascade destruction
	ConversationStore

	// Messages, including transactional delivery
	MessageStore

	// Per-(message, receiver) mailbox state
	ReceiptStore

	// Notification subscription state
	OptOutStore

	// Participant sets
	MembershipStore

	// File-to-message and file-to-conversation links
	AttachmentLinkStore
}

// ConversationStore provides operations for conversation records.
type ConversationStore interface {
	// CreateConversation creates a new conversation with the given subject.
	CreateConversation(ctx context.Context, subject string) (*Conversation, error)

	// GetConversation retrieves a conversation by ID.
	// Returns ErrNotFound if the conversation doesn't exist.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// TouchConversation bumps the conversation's last-activity timestamp.
	TouchConversation(ctx context.Context, id string) error

	// DestroyConversation removes the conversation and everything it owns:
	// messages, receipts, opt-outs, memberships, and attachment links.
	//
	// This operation MUST be transactional. A failed destroy must not leave
	// the conversation half-deleted.
	DestroyConversation(ctx context.Context, id string) error

	// ListConversations returns conversations visible to the participant
	// under the given scope, ordered by last activity (newest first).
	ListConversations(ctx context.Context, participantID string, scope Scope, opts ListOptions) (*ConversationList, error)
}

// MessageStore provides operations for conversation messages.
// Messages are append-only. There is no message mutation: per-recipient
// state lives on receipts.
type MessageStore interface {
	// GetMessage retrieves a message by ID.
	// Returns ErrNotFound if the message doesn't exist.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// FirstMessage returns the earliest non-system message of a conversation.
	// Returns ErrNotFound when the conversation has no non-system messages.
	FirstMessage(ctx context.Context, conversationID string) (*Message, error)

	// LastMessage returns the most recent non-system message of a conversation.
	// Returns ErrNotFound when the conversation has no non-system messages.
	LastMessage(ctx context.Context, conversationID string) (*Message, error)

	// Messages returns conversation messages ordered by creation time
	// (oldest first).
	Messages(ctx context.Context, conversationID string, opts ListOptions) ([]*Message, error)

	// CountMessages returns the number of messages in a conversation.
	CountMessages(ctx context.Context, conversationID string) (int64, error)

	// CreateMessageWithReceipts persists a message and its receipts in a
	// single transaction.
	//
	// This operation MUST be atomic - either the message and all receipts
	// are created or none are. This atomicity guarantee is the commit
	// boundary for delivery: callers never observe a message without its
	// receipts or a subset of the receipts.
	//
	// Returns:
	//   - (message, receipts, nil): Everything was created
	//   - (nil, nil, error): Operation failed, nothing was created
	CreateMessageWithReceipts(ctx context.Context, msg *Message, receipts []*Receipt) (*Message, []*Receipt, error)
}

// ReceiptStore provides operations for per-(message, receiver) mailbox state.
//
// All flag mutations are idempotent: applying the same operation twice
// yields the same state. Mutations scoped to a participant with no receipts
// affect zero rows and return (0, nil), never an error.
type ReceiptStore interface {
	// ReceiptsFor returns all receipts a participant holds in a conversation.
	// Returns an empty slice for unknown participants.
	ReceiptsFor(ctx context.Context, conversationID, participantID string) ([]*Receipt, error)

	// ConversationReceipts returns every receipt of a conversation,
	// across all participants.
	ConversationReceipts(ctx context.Context, conversationID string) ([]*Receipt, error)

	// FindReceipts retrieves receipts matching the filters.
	FindReceipts(ctx context.Context, filters []Filter, opts ListOptions) ([]*Receipt, error)

	// CreateReceipts persists receipts outside a delivery, used to backfill
	// state for participants added after messages were sent. Non-zero
	// timestamps on the given receipts are preserved so that backfilled
	// receipts keep the original message's dates.
	CreateReceipts(ctx context.Context, receipts []*Receipt) ([]*Receipt, error)

	// MarkRead sets the read flag on all of the participant's receipts in
	// the conversation. Returns the number of receipts whose state changed.
	MarkRead(ctx context.Context, conversationID, participantID string, read bool) (int64, error)

	// SetTrashed sets the trashed flag on all of the participant's receipts
	// in the conversation. Returns the number of receipts whose state changed.
	SetTrashed(ctx context.Context, conversationID, participantID string, trashed bool) (int64, error)

	// MarkDeleted soft-deletes all of the participant's receipts in the
	// conversation. Receipts are never physically removed by this operation;
	// only DestroyConversation removes them.
	MarkDeleted(ctx context.Context, conversationID, participantID string) (int64, error)
}

// OptOutStore tracks per-conversation notification subscription state.
// Presence of an opt-out row means the participant is unsubscribed;
// absence means the default, subscribed.
type OptOutStore interface {
	// AddOptOut records that the participant is unsubscribed.
	// Idempotent: adding an existing opt-out is a no-op.
	AddOptOut(ctx context.Context, conversationID, participantID string) error

	// RemoveOptOut deletes the participant's opt-out, restoring the
	// subscribed default. Removing an absent opt-out is a no-op.
	RemoveOptOut(ctx context.Context, conversationID, participantID string) error

	// HasOptOut reports whether the participant is currently opted out.
	HasOptOut(ctx context.Context, conversationID, participantID string) (bool, error)

	// OptedOut returns the IDs of all opted-out participants of a
	// conversation. Used to exclude them from notification dispatch.
	OptedOut(ctx context.Context, conversationID string) ([]string, error)
}

// MembershipStore tracks the participant set of each conversation.
type MembershipStore interface {
	// AddMember attaches a user to a conversation.
	// Returns false when the user was already a member.
	AddMember(ctx context.Context, conversationID, userID string) (bool, error)

	// AddMembers attaches multiple users at once, skipping existing members.
	AddMembers(ctx context.Context, conversationID string, userIDs []string) error

	// RemoveMember detaches a user from a conversation.
	// Returns false when the user was not a member.
	RemoveMember(ctx context.Context, conversationID, userID string) (bool, error)

	// IsMember reports whether the user belongs to the conversation.
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)

	// Members returns the participant IDs of a conversation.
	// Returns an empty slice for unknown conversations, never an error.
	Members(ctx context.Context, conversationID string) ([]string, error)
}

// AttachmentLinkStore tracks which uploaded files are associated with
// which messages and conversations.
type AttachmentLinkStore interface {
	// LinkFile associates a file with a message or conversation.
	// Idempotent per (file, owner type, owner): returns false when the
	// link already existed.
	LinkFile(ctx context.Context, link *AttachmentLink) (bool, error)

	// FileLinks returns all links owned by the given message or conversation.
	FileLinks(ctx context.Context, ownerType, ownerID string) ([]*AttachmentLink, error)
}
