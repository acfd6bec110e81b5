package store

import (
	"time"
)

// Conversation is a thread of messages between a fixed-or-growing set of
// participants. Conversations hold no per-participant state themselves;
// that lives on receipts.
type Conversation struct {
	// ID is the unique conversation identifier, assigned by the store.
	ID string `json:"id" db:"id"`

	// Subject is the conversation title.
	Subject string `json:"subject" db:"subject"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt tracks last activity and orders conversation listings.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// OptOut records that a participant unsubscribed from a conversation's
// notifications. Absence of a row means the subscribed default.
type OptOut struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	ParticipantID  string    `json:"participant_id" db:"participant_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Membership attaches a user to a conversation.
type Membership struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	UserID         string    `json:"user_id" db:"user_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Attachment link owner types.
const (
	OwnerMessage      = "message"
	OwnerConversation = "conversation"
)

// AttachmentLink associates an uploaded file with a message or a
// conversation. The (file, owner type, owner) triple is unique.
type AttachmentLink struct {
	ID        string    `json:"id" db:"id"`
	FileID    string    `json:"file_id" db:"file_id"`
	OwnerType string    `json:"owner_type" db:"owner_type"`
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Scope selects which of a participant's conversations a listing returns.
type Scope string

const (
	// ScopeAll returns every conversation the participant holds
	// non-deleted receipts in.
	ScopeAll Scope = "all"

	// ScopeInbox returns conversations with at least one non-trashed,
	// non-deleted inbox receipt.
	ScopeInbox Scope = "inbox"

	// ScopeSentbox returns conversations with at least one non-trashed,
	// non-deleted sentbox receipt.
	ScopeSentbox Scope = "sentbox"

	// ScopeTrash returns conversations with at least one trashed,
	// non-deleted receipt.
	ScopeTrash Scope = "trash"

	// ScopeNotTrash returns conversations with at least one non-trashed,
	// non-deleted receipt in any mailbox.
	ScopeNotTrash Scope = "not_trash"

	// ScopeUnread returns inbox conversations holding at least one unread,
	// non-trashed, non-deleted receipt.
	ScopeUnread Scope = "unread"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeAll, ScopeInbox, ScopeSentbox, ScopeTrash, ScopeNotTrash, ScopeUnread:
		return true
	}
	return false
}

// ListOptions controls pagination of listings.
type ListOptions struct {
	// Limit caps the number of results. Zero means the store default.
	Limit int

	// Offset skips results for pagination.
	Offset int
}

// ConversationList is a page of conversations with pagination metadata.
type ConversationList struct {
	Conversations []*Conversation `json:"conversations"`

	// Total is the number of conversations matching the scope,
	// ignoring pagination.
	Total int64 `json:"total"`

	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}
