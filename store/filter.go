package store

import (
	"fmt"
)

// Filter represents a receipt query filter with a field key, comparison
// operator, and value.
type Filter struct {
	key      string
	value    any
	operator string
}

// Key returns the storage field key.
func (f Filter) Key() string { return f.key }

// Value returns the filter value.
func (f Filter) Value() any { return f.value }

// Operator returns the comparison operator (eq, ne, gt, gte, lt, lte, in).
func (f Filter) Operator() string { return f.operator }

// FilterBuilder builds filters for a specific receipt field.
// Use ReceiptFilter() to create one, then chain a comparison method:
//
//	filter, err := store.ReceiptFilter("CreatedAt").GreaterThan(cutoff)
type FilterBuilder struct {
	key string
	err error
}

// validOperators is the set of supported filter operators.
var validOperators = map[string]bool{
	"eq":  true,
	"ne":  true,
	"gt":  true,
	"gte": true,
	"lt":  true,
	"lte": true,
	"in":  true,
}

// NewFilter creates a filter with the given key, operator, and value.
// The key must be a valid receipt field (validated via ReceiptFieldKey).
// Returns ErrFilterInvalid if the key or operator is invalid.
func NewFilter(key, operator string, value any) (Filter, error) {
	storageKey, ok := ReceiptFieldKey(key)
	if !ok {
		return Filter{}, fmt.Errorf("%w: unsupported field: %s", ErrFilterInvalid, key)
	}
	if !validOperators[operator] {
		return Filter{}, fmt.Errorf("%w: unsupported operator: %s", ErrFilterInvalid, operator)
	}
	return Filter{key: storageKey, value: value, operator: operator}, nil
}

// FilterError represents an error in filter building.
type FilterError struct {
	Key string
	Err error
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("filter %s: %v", e.Key, e.Err)
}

func (e *FilterError) Unwrap() error {
	return e.Err
}

func (b *FilterBuilder) build(op string, v any) (Filter, error) {
	if b.err != nil {
		return Filter{}, &FilterError{Key: b.key, Err: b.err}
	}
	return Filter{key: b.key, value: v, operator: op}, nil
}

func (b *FilterBuilder) Equal(v any) (Filter, error)            { return b.build("eq", v) }
func (b *FilterBuilder) NotEqual(v any) (Filter, error)         { return b.build("ne", v) }
func (b *FilterBuilder) GreaterThan(v any) (Filter, error)      { return b.build("gt", v) }
func (b *FilterBuilder) GreaterThanEqual(v any) (Filter, error) { return b.build("gte", v) }
func (b *FilterBuilder) LessThan(v any) (Filter, error)         { return b.build("lt", v) }
func (b *FilterBuilder) LessThanEqual(v any) (Filter, error)    { return b.build("lte", v) }
func (b *FilterBuilder) In(v ...any) (Filter, error)            { return b.build("in", v) }

// ReceiptFilter returns a filter builder for receipt fields.
func ReceiptFilter(field string) *FilterBuilder {
	key, ok := ReceiptFieldKey(field)
	if !ok {
		return &FilterBuilder{key: field, err: fmt.Errorf("unsupported field: %s", field)}
	}
	return &FilterBuilder{key: key}
}

// ReceiptFieldKey maps field names to storage keys.
func ReceiptFieldKey(field string) (string, bool) {
	switch field {
	case "ID", "id":
		return "id", true
	case "MessageID", "message_id":
		return "message_id", true
	case "ConversationID", "conversation_id":
		return "conversation_id", true
	case "ReceiverID", "receiver_id":
		return "receiver_id", true
	case "Mailbox", "mailbox":
		return "mailbox", true
	case "IsRead", "is_read":
		return "is_read", true
	case "Trashed", "trashed":
		return "trashed", true
	case "Deleted", "deleted":
		return "deleted", true
	case "CreatedAt", "created_at":
		return "created_at", true
	case "UpdatedAt", "updated_at":
		return "updated_at", true
	default:
		return "", false
	}
}

// Convenience filter functions

// ReceiverIs returns a filter for receipts held by a specific participant.
func ReceiverIs(participantID string) Filter {
	f, _ := ReceiptFilter("ReceiverID").Equal(participantID)
	return f
}

// ConversationIs returns a filter for receipts of a specific conversation.
func ConversationIs(conversationID string) Filter {
	f, _ := ReceiptFilter("ConversationID").Equal(conversationID)
	return f
}

// MessageIs returns a filter for receipts of a specific message.
func MessageIs(messageID string) Filter {
	f, _ := ReceiptFilter("MessageID").Equal(messageID)
	return f
}

// InMailbox returns a filter for receipts in a specific mailbox.
func InMailbox(mailbox string) Filter {
	f, _ := ReceiptFilter("Mailbox").Equal(mailbox)
	return f
}

// IsReadFilter returns a filter for read or unread receipts.
func IsReadFilter(isRead bool) Filter {
	f, _ := ReceiptFilter("IsRead").Equal(isRead)
	return f
}

// TrashedIs returns a filter on the trashed flag.
func TrashedIs(trashed bool) Filter {
	f, _ := ReceiptFilter("Trashed").Equal(trashed)
	return f
}

// NotDeleted returns a filter that excludes soft-deleted receipts.
func NotDeleted() Filter {
	f, _ := ReceiptFilter("Deleted").Equal(false)
	return f
}
