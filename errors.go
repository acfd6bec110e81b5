package converse

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mdevan/converse/store"
)

// Sentinel errors for the converse package.
// Use errors.Is() to check for these errors.
//
// These errors wrap corresponding store-level errors where applicable,
// so errors.Is(err, converse.ErrNotFound) will match both service-level
// and store-level "not found" errors.
var (
	// ErrNotFound is returned when a conversation, message, or receipt
	// cannot be found. Wraps store.ErrNotFound for consistent error checking.
	ErrNotFound = fmt.Errorf("converse: %w", store.ErrNotFound)

	// ErrUnauthorized is returned when a user is not a participant of the
	// conversation they are operating on.
	ErrUnauthorized = errors.New("converse: unauthorized")

	// ErrInvalidMessage is returned for message validation failures.
	ErrInvalidMessage = errors.New("converse: invalid message")

	// ErrEmptyRecipients is returned when no recipients are provided.
	// Wraps store.ErrEmptyRecipients for consistent error checking.
	ErrEmptyRecipients = fmt.Errorf("converse: %w", store.ErrEmptyRecipients)

	// ErrEmptySubject is returned when a conversation subject is empty.
	// Wraps store.ErrEmptySubject for consistent error checking.
	ErrEmptySubject = fmt.Errorf("converse: %w", store.ErrEmptySubject)

	// ErrEmptyBody is returned when a message body is empty.
	// Wraps store.ErrEmptyBody for consistent error checking.
	ErrEmptyBody = fmt.Errorf("converse: %w", store.ErrEmptyBody)

	// ErrStoreRequired is returned when no store is configured.
	ErrStoreRequired = errors.New("converse: store is required")

	// ErrNotConnected is returned when operations are attempted before Connect().
	// Wraps store.ErrNotConnected for consistent error checking.
	ErrNotConnected = fmt.Errorf("converse: %w", store.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	// Wraps store.ErrAlreadyConnected for consistent error checking.
	ErrAlreadyConnected = fmt.Errorf("converse: %w", store.ErrAlreadyConnected)

	// ErrInvalidID is returned when an invalid ID is provided.
	// Wraps store.ErrInvalidID for consistent error checking.
	ErrInvalidID = fmt.Errorf("converse: %w", store.ErrInvalidID)

	// ErrDuplicateEntry is returned when a duplicate entry is detected.
	// Wraps store.ErrDuplicateEntry for consistent error checking.
	ErrDuplicateEntry = fmt.Errorf("converse: %w", store.ErrDuplicateEntry)

	// ErrFilterInvalid is returned when a filter is invalid.
	// Wraps store.ErrFilterInvalid for consistent error checking.
	ErrFilterInvalid = fmt.Errorf("converse: %w", store.ErrFilterInvalid)

	// ErrSubjectTooLong is returned when a subject exceeds the maximum length.
	ErrSubjectTooLong = errors.New("converse: subject too long")

	// ErrBodyTooLarge is returned when a body exceeds the maximum size.
	ErrBodyTooLarge = errors.New("converse: body too large")

	// ErrInvalidContent is returned when content contains invalid characters.
	ErrInvalidContent = errors.New("converse: invalid content")

	// ErrTooManyRecipients is returned when the recipient count exceeds the limit.
	ErrTooManyRecipients = errors.New("converse: too many recipients")

	// ErrInvalidRecipient is returned when a recipient ID is invalid.
	ErrInvalidRecipient = errors.New("converse: invalid recipient")

	// ErrInvalidUserID is returned when a user ID contains invalid characters.
	ErrInvalidUserID = errors.New("converse: invalid user id")

	// ErrNotParticipant is returned when an operation names a user who is
	// not a member of the conversation.
	ErrNotParticipant = errors.New("converse: not a participant")

	// ErrInvalidSystemCase is returned when a system message carries an
	// unknown case. Wraps store.ErrInvalidSystemCase.
	ErrInvalidSystemCase = fmt.Errorf("converse: %w", store.ErrInvalidSystemCase)

	// ErrDispatchFailed is returned when notification dispatch fails after
	// the message was persisted. The delivery itself is never rolled back.
	ErrDispatchFailed = errors.New("converse: notification dispatch failed")
)

// DispatchError provides details about a failed notification dispatch.
// The message identified by MessageID was persisted; only the outbound
// notification failed.
type DispatchError struct {
	// MessageID is the persisted message the dispatch was for.
	MessageID string
	// RecipientIDs are the recipients the dispatcher was notifying.
	RecipientIDs []string
	// Err is the underlying dispatcher error.
	Err error
}

func (e *DispatchError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "converse: dispatch failed for message %s", e.MessageID)
	if len(e.RecipientIDs) > 0 {
		const maxShown = 5
		sb.WriteString(" (recipients: ")
		for i, id := range e.RecipientIDs {
			if i > 0 {
				sb.WriteString(", ")
			}
			if i >= maxShown {
				fmt.Fprintf(&sb, "...and %d more", len(e.RecipientIDs)-maxShown)
				break
			}
			sb.WriteString(id)
		}
		sb.WriteString(")")
	}
	fmt.Fprintf(&sb, ": %v", e.Err)
	return sb.String()
}

func (e *DispatchError) Unwrap() []error {
	return []error{ErrDispatchFailed, e.Err}
}

// IsDispatchError checks if the error is a dispatch error and returns details.
// Useful for callers that want to retry the notification without resending
// the message.
func IsDispatchError(err error) (*DispatchError, bool) {
	var de *DispatchError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// IsRetryableError determines if an error is retryable.
// Returns true for temporary/transient errors, false for permanent errors.
// Handles both service-level and store-level errors.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	// Permanent errors that should not be retried (service-level)
	permanentErrors := []error{
		ErrNotFound,
		ErrUnauthorized,
		ErrInvalidMessage,
		ErrEmptyRecipients,
		ErrEmptySubject,
		ErrEmptyBody,
		ErrInvalidID,
		ErrSubjectTooLong,
		ErrBodyTooLarge,
		ErrInvalidContent,
		ErrTooManyRecipients,
		ErrInvalidRecipient,
		ErrInvalidUserID,
		ErrNotParticipant,
		ErrInvalidSystemCase,
		ErrDuplicateEntry,
	}

	for _, permErr := range permanentErrors {
		if errors.Is(err, permErr) {
			return false
		}
	}

	// Also check store-level permanent errors (in case they bubble up unwrapped)
	storePermanentErrors := []error{
		store.ErrNotFound,
		store.ErrInvalidID,
		store.ErrDuplicateEntry,
		store.ErrEmptyRecipients,
		store.ErrEmptySubject,
		store.ErrEmptyBody,
		store.ErrFilterInvalid,
		store.ErrInvalidSystemCase,
		store.ErrInvalidMailbox,
		store.ErrInvalidScope,
	}

	for _, permErr := range storePermanentErrors {
		if errors.Is(err, permErr) {
			return false
		}
	}

	// Retryable errors
	retryableErrors := []error{
		ErrNotConnected,            // Connection can be re-established
		ErrDispatchFailed,          // Dispatch can be retried, the message is persisted
		store.ErrNotConnected,      // Store connection can be re-established
		store.ErrTransactionFailed, // Transaction can be retried
	}

	for _, retryErr := range retryableErrors {
		if errors.Is(err, retryErr) {
			return true
		}
	}

	// For unknown errors, default to retryable (conservative approach)
	// as they might be transient network/timeout issues
	return true
}

// ValidationError provides details about a validation failure.
type ValidationError struct {
	Field   string // The field that failed validation
	Message string // Human-readable error message
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("converse: validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidMessage
}

// EventPublishError is returned when event publishing fails but the
// operation succeeded. The message was delivered or the flag mutation
// applied; only the event notification failed.
type EventPublishError struct {
	Event          string // The event name (e.g., "MessageDelivered")
	ConversationID string // The conversation the event was for
	Err            error  // The underlying publish error
}

func (e *EventPublishError) Error() string {
	return fmt.Sprintf("converse: event %s publish failed for conversation %s: %v", e.Event, e.ConversationID, e.Err)
}

func (e *EventPublishError) Unwrap() error {
	return e.Err
}

// IsEventPublishError checks if the error is an event publish error and
// returns details. Useful when eventErrorsFatal=true but you still want
// to know the operation itself succeeded.
func IsEventPublishError(err error) (*EventPublishError, bool) {
	var epe *EventPublishError
	if errors.As(err, &epe) {
		return epe, true
	}
	return nil, false
}
