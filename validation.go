package converse

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mdevan/converse/store"
)

// MessageLimits holds all message validation limits.
// Used to pass limits to validation functions.
type MessageLimits struct {
	MaxSubjectLength  int
	MaxBodySize       int
	MaxRecipientCount int
	MaxFileCount      int
}

// MinSubjectLength is the minimum subject length (non-empty after trimming).
const MinSubjectLength = 1

// DefaultLimits returns the default message limits.
func DefaultLimits() MessageLimits {
	return MessageLimits{
		MaxSubjectLength:  DefaultMaxSubjectLength,
		MaxBodySize:       DefaultMaxBodySize,
		MaxRecipientCount: DefaultMaxRecipientCount,
		MaxFileCount:      DefaultMaxFileCount,
	}
}

// ValidateSubject validates a conversation subject using default limits.
// For configurable limits, use ValidateSubjectWithLimits.
func ValidateSubject(subject string) error {
	return ValidateSubjectWithLimits(subject, DefaultLimits())
}

// ValidateSubjectWithLimits validates a conversation subject against
// configurable limits.
func ValidateSubjectWithLimits(subject string, limits MessageLimits) error {
	// Trim whitespace for validation
	trimmed := strings.TrimSpace(subject)
	if len(trimmed) < MinSubjectLength {
		return ErrEmptySubject
	}

	if len(subject) > limits.MaxSubjectLength {
		return fmt.Errorf("%w: subject length %d exceeds max %d", ErrSubjectTooLong, len(subject), limits.MaxSubjectLength)
	}

	// Check for valid UTF-8 and no control characters (except newline/tab)
	if !utf8.ValidString(subject) {
		return fmt.Errorf("%w: subject contains invalid UTF-8", ErrInvalidContent)
	}

	for _, r := range subject {
		if unicode.IsControl(r) && r != '\t' && r != '\n' && r != '\r' {
			return fmt.Errorf("%w: subject contains control character U+%04X", ErrInvalidContent, r)
		}
	}

	return nil
}

// ValidateBody validates a message body using default limits.
// For configurable limits, use ValidateBodyWithLimits.
func ValidateBody(body string) error {
	return ValidateBodyWithLimits(body, DefaultLimits())
}

// ValidateBodyWithLimits validates a message body against configurable limits.
func ValidateBodyWithLimits(body string, limits MessageLimits) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyBody
	}

	if len(body) > limits.MaxBodySize {
		return fmt.Errorf("%w: body size %d exceeds max %d bytes", ErrBodyTooLarge, len(body), limits.MaxBodySize)
	}

	// Check for valid UTF-8
	if !utf8.ValidString(body) {
		return fmt.Errorf("%w: body contains invalid UTF-8", ErrInvalidContent)
	}

	// Check for null bytes which could indicate injection attempts
	if strings.ContainsRune(body, '\x00') {
		return fmt.Errorf("%w: body contains null bytes", ErrInvalidContent)
	}

	return nil
}

// ValidateRecipients validates the recipient list.
func ValidateRecipients(recipientIDs []string, limits MessageLimits) error {
	if len(recipientIDs) == 0 {
		return ErrEmptyRecipients
	}

	if len(recipientIDs) > limits.MaxRecipientCount {
		return fmt.Errorf("%w: recipient count %d exceeds max %d", ErrTooManyRecipients, len(recipientIDs), limits.MaxRecipientCount)
	}

	// Check for empty and malformed recipient IDs
	// (duplicates are silently deduplicated at delivery time)
	for _, id := range recipientIDs {
		if id == "" {
			return fmt.Errorf("%w: empty recipient ID", ErrInvalidRecipient)
		}
		if !isValidUserID(id) {
			return fmt.Errorf("%w: %q", ErrInvalidRecipient, id)
		}
	}

	return nil
}

// ValidateMessage validates a message before delivery: non-empty body
// within size limits and a known system case.
func ValidateMessage(msg *store.Message, limits MessageLimits) error {
	if msg == nil {
		return ErrInvalidMessage
	}
	if msg.SenderID == "" {
		return &ValidationError{Field: "sender_id", Message: "sender is required"}
	}
	if err := ValidateBodyWithLimits(msg.Body, limits); err != nil {
		return err
	}
	if !msg.SystemCase.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSystemCase, msg.SystemCase)
	}
	if msg.System != (msg.SystemCase != store.SystemCaseNone) {
		return &ValidationError{Field: "system_case", Message: "system flag and system case disagree"}
	}
	return nil
}

// ValidateReceipt validates a receipt before persistence.
func ValidateReceipt(r *store.Receipt) error {
	if r == nil {
		return &ValidationError{Field: "receipt", Message: "receipt is required"}
	}
	if r.ReceiverID == "" {
		return &ValidationError{Field: "receiver_id", Message: "receiver is required"}
	}
	if !store.ValidMailbox(r.Mailbox) {
		return &ValidationError{Field: "mailbox", Message: fmt.Sprintf("unknown mailbox %q", r.Mailbox)}
	}
	return nil
}

// Truncated returns the subject shortened to at most n characters,
// appending "..." when truncation occurs. The ellipsis counts toward the
// bound, so Truncated("Hello world", 10) yields "Hello w...".
// Non-positive n returns an empty string.
func Truncated(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	const ellipsis = "..."
	keep := n - len(ellipsis)
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + ellipsis
}
