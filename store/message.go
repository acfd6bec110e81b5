package store

import (
	"time"
)

// SystemCase classifies machine-generated membership messages.
// Regular user messages carry SystemCaseNone.
type SystemCase string

const (
	// SystemCaseNone marks a regular user-authored message.
	SystemCaseNone SystemCase = ""

	// SystemCaseAdded records that a participant was added by the originator.
	SystemCaseAdded SystemCase = "added"

	// SystemCaseRemoved records that a participant was removed by the originator.
	SystemCaseRemoved SystemCase = "removed"

	// SystemCaseLeft records that a participant left on their own.
	SystemCaseLeft SystemCase = "left"
)

// Valid reports whether the system case is one of the allowed values.
func (c SystemCase) Valid() bool {
	switch c {
	case SystemCaseNone, SystemCaseAdded, SystemCaseRemoved, SystemCaseLeft:
		return true
	}
	return false
}

// Mailbox values for receipts.
const (
	MailboxInbox   = "inbox"
	MailboxSentbox = "sentbox"
)

// ValidMailbox reports whether m is a known mailbox name.
func ValidMailbox(m string) bool {
	return m == MailboxInbox || m == MailboxSentbox
}

// Message is a single entry in a conversation. Messages are immutable once
// persisted; all per-recipient state lives on receipts.
type Message struct {
	// ID is the unique message identifier, assigned by the store.
	ID string `json:"id" db:"id"`

	// ConversationID is the owning conversation.
	ConversationID string `json:"conversation_id" db:"conversation_id"`

	// SenderID identifies the author. For system messages this is the
	// acting participant (originator for added/removed, the leaver for left).
	SenderID string `json:"sender_id" db:"sender_id"`

	// Body is the message text.
	Body string `json:"body" db:"body"`

	// System marks machine-generated membership messages.
	System bool `json:"system" db:"system"`

	// SystemCase is the kind of system message, SystemCaseNone otherwise.
	SystemCase SystemCase `json:"system_case" db:"system_case"`

	// AttachmentID optionally references the primary attached file.
	AttachmentID string `json:"attachment_id,omitempty" db:"attachment_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsSystem reports whether the message is machine-generated.
func (m *Message) IsSystem() bool { return m.System }

// IsAdded reports whether the message records a participant addition.
func (m *Message) IsAdded() bool { return m.SystemCase == SystemCaseAdded }

// IsRemoved reports whether the message records a participant removal.
func (m *Message) IsRemoved() bool { return m.SystemCase == SystemCaseRemoved }

// IsLeft reports whether the message records a participant departure.
func (m *Message) IsLeft() bool { return m.SystemCase == SystemCaseLeft }

// Receipt is the per-(message, receiver) record tracking mailbox placement
// and the read, trashed, and deleted flags. Exactly one receipt exists per
// recipient per message; the sender holds a sentbox receipt created
// already-read.
type Receipt struct {
	// ID is the unique receipt identifier, assigned by the store.
	ID string `json:"id" db:"id"`

	// MessageID is the message this receipt belongs to.
	MessageID string `json:"message_id" db:"message_id"`

	// ConversationID is denormalized from the message so that conversation
	// scoped flag mutations are single statements.
	ConversationID string `json:"conversation_id" db:"conversation_id"`

	// ReceiverID identifies the participant holding this receipt.
	ReceiverID string `json:"receiver_id" db:"receiver_id"`

	// Mailbox is MailboxInbox or MailboxSentbox.
	Mailbox string `json:"mailbox" db:"mailbox"`

	// IsRead reports whether the receiver has read the message.
	IsRead bool `json:"is_read" db:"is_read"`

	// Trashed reports whether the receiver moved the message to trash.
	Trashed bool `json:"trashed" db:"trashed"`

	// Deleted soft-deletes the receipt for the receiver. Deleted receipts
	// are excluded from mailbox listings but retained until the
	// conversation is destroyed.
	Deleted bool `json:"deleted" db:"deleted"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
