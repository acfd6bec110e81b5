package converse

import (
	"context"

	"github.com/mdevan/converse/store"
)

// Sanitizer cleans user-supplied subjects and bodies before validation
// and persistence. Implementations typically strip markup or normalize
// whitespace.
type Sanitizer interface {
	SanitizeSubject(subject string) string
	SanitizeBody(body string) string
}

// NotificationDispatcher delivers out-of-band notifications (email, push)
// for a persisted message. Dispatch happens after the message and its
// receipts are committed; a dispatch failure never rolls the delivery back.
type NotificationDispatcher interface {
	// Dispatch notifies the given recipients about msg. The recipient list
	// already excludes the sender and opted-out participants.
	Dispatch(ctx context.Context, msg *store.Message, conv *store.Conversation, recipientIDs []string) error
}

// Recipient is a participant as seen by notification delivery: the stable
// user ID plus whatever display information the application can supply.
type Recipient struct {
	UserID string
	Name   string
	// Email is empty when the user has no notification address.
	Email string
}

// RecipientResolver maps participant IDs to Recipient records. The
// delivery pipeline uses it for display names in system message bodies,
// and dispatchers use it for notification addresses. Implementations must
// be safe for concurrent use.
type RecipientResolver interface {
	Resolve(ctx context.Context, userID string) (*Recipient, error)

	// ResolveBatch resolves several IDs in one call, preserving input
	// order. Unknown IDs yield nil entries rather than an error.
	ResolveBatch(ctx context.Context, userIDs []string) ([]*Recipient, error)
}

// File is an uploaded file record resolved through a FileStore.
type File struct {
	ID      string
	OwnerID string
	// Public files need no per-recipient permission grants.
	Public bool
}

// FileStore resolves attached file IDs to file records.
type FileStore interface {
	// OwnedFiles returns the subset of fileIDs that exist and are owned by
	// ownerID. Files that are missing or owned by someone else are simply
	// absent from the result, not an error.
	OwnedFiles(ctx context.Context, ownerID string, fileIDs []string) ([]File, error)
}

// PermissionGrantor gives a recipient read access to a non-public file.
type PermissionGrantor interface {
	GrantPermission(ctx context.Context, recipientID, fileID string) error
}

// PostDeliverHook is invoked after every successful delivery, including
// system messages. It runs after notification dispatch.
type PostDeliverHook func(ctx context.Context, msg *store.Message)

// noopSanitizer passes content through unchanged.
type noopSanitizer struct{}

func (noopSanitizer) SanitizeSubject(subject string) string { return subject }
func (noopSanitizer) SanitizeBody(body string) string       { return body }

// noopDispatcher drops notifications.
type noopDispatcher struct{}

func (noopDispatcher) Dispatch(ctx context.Context, msg *store.Message, conv *store.Conversation, recipientIDs []string) error {
	return nil
}
