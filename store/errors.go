package store

import "errors"

// Sentinel errors for the store package.
var (
	// ErrNotFound is returned when a record cannot be found.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidID is returned when an invalid ID is provided.
	ErrInvalidID = errors.New("store: invalid id")

	// ErrDuplicateEntry is returned when a duplicate entry is detected.
	ErrDuplicateEntry = errors.New("store: duplicate entry")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("store: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("store: already connected")

	// ErrEmptySubject is returned when a conversation subject is empty.
	ErrEmptySubject = errors.New("store: empty subject")

	// ErrEmptyBody is returned when a message body is empty.
	ErrEmptyBody = errors.New("store: empty body")

	// ErrEmptyRecipients is returned when no receipts are provided for a delivery.
	ErrEmptyRecipients = errors.New("store: empty recipients")

	// ErrInvalidSystemCase is returned when a message carries an unknown system case.
	ErrInvalidSystemCase = errors.New("store: invalid system case")

	// ErrInvalidMailbox is returned when a receipt names an unknown mailbox.
	ErrInvalidMailbox = errors.New("store: invalid mailbox")

	// ErrInvalidScope is returned when a listing names an unknown scope.
	ErrInvalidScope = errors.New("store: invalid scope")

	// ErrFilterInvalid is returned when a filter is invalid.
	ErrFilterInvalid = errors.New("store: invalid filter")

	// ErrTransactionFailed is returned when a database transaction fails.
	// This indicates the atomic operation could not complete and no changes were made.
	ErrTransactionFailed = errors.New("store: transaction failed")
)

// Error checking helpers.

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInvalidID(err error) bool {
	return errors.Is(err, ErrInvalidID)
}

func IsDuplicateEntry(err error) bool {
	return errors.Is(err, ErrDuplicateEntry)
}

func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
