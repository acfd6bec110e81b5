package memory

import (
	"context"
	"sort"
	"time"

	"github.com/mdevan/converse/store"
)

// ReceiptsFor returns all receipts a participant holds in a conversation.
func (s *Store) ReceiptsFor(ctx context.Context, conversationID, participantID string) ([]*store.Receipt, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*store.Receipt{}
	for _, r := range s.receipts {
		if r.ConversationID == conversationID && r.ReceiverID == participantID {
			out = append(out, cloneReceipt(r))
		}
	}
	sortReceipts(out)
	return out, nil
}

// ConversationReceipts returns every receipt of a conversation.
func (s *Store) ConversationReceipts(ctx context.Context, conversationID string) ([]*store.Receipt, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*store.Receipt{}
	for _, r := range s.receipts {
		if r.ConversationID == conversationID {
			out = append(out, cloneReceipt(r))
		}
	}
	sortReceipts(out)
	return out, nil
}

// FindReceipts retrieves receipts matching the filters.
func (s *Store) FindReceipts(ctx context.Context, filters []store.Filter, opts store.ListOptions) ([]*store.Receipt, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := []*store.Receipt{}
	for _, r := range s.receipts {
		if matchesFilters(r, filters) {
			out = append(out, cloneReceipt(r))
		}
	}
	s.mu.RUnlock()

	sortReceipts(out)
	limit, offset := normalizeLimit(opts)
	if offset >= len(out) {
		return []*store.Receipt{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateReceipts persists backfill receipts, preserving non-zero timestamps.
func (s *Store) CreateReceipts(ctx context.Context, receipts []*store.Receipt) ([]*store.Receipt, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*store.Receipt, 0, len(receipts))
	for _, r := range receipts {
		if r.ReceiverID == "" || r.MessageID == "" || r.ConversationID == "" {
			return nil, store.ErrInvalidID
		}
		if !store.ValidMailbox(r.Mailbox) {
			return nil, store.ErrInvalidMailbox
		}
		rc := cloneReceipt(r)
		rc.ID = newID()
		if rc.CreatedAt.IsZero() {
			rc.CreatedAt = now
		}
		if rc.UpdatedAt.IsZero() {
			rc.UpdatedAt = now
		}
		s.receipts[rc.ID] = rc
		out = append(out, cloneReceipt(rc))
	}
	return out, nil
}

// MarkRead sets the read flag on the participant's receipts.
func (s *Store) MarkRead(ctx context.Context, conversationID, participantID string, read bool) (int64, error) {
	return s.updateFlags(conversationID, participantID, func(r *store.Receipt) bool {
		if r.IsRead == read {
			return false
		}
		r.IsRead = read
		return true
	})
}

// SetTrashed sets the trashed flag on the participant's receipts.
func (s *Store) SetTrashed(ctx context.Context, conversationID, participantID string, trashed bool) (int64, error) {
	return s.updateFlags(conversationID, participantID, func(r *store.Receipt) bool {
		if r.Trashed == trashed {
			return false
		}
		r.Trashed = trashed
		return true
	})
}

// MarkDeleted soft-deletes the participant's receipts.
func (s *Store) MarkDeleted(ctx context.Context, conversationID, participantID string) (int64, error) {
	return s.updateFlags(conversationID, participantID, func(r *store.Receipt) bool {
		if r.Deleted {
			return false
		}
		r.Deleted = true
		return true
	})
}

// updateFlags applies mutate to every matching receipt under the write
// lock. Receipts are copied before mutation so in-flight readers holding
// clones are unaffected.
func (s *Store) updateFlags(conversationID, participantID string, mutate func(*store.Receipt) bool) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if conversationID == "" || participantID == "" {
		return 0, nil
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var changed int64
	for id, r := range s.receipts {
		if r.ConversationID != conversationID || r.ReceiverID != participantID {
			continue
		}
		cp := *r
		if mutate(&cp) {
			cp.UpdatedAt = now
			s.receipts[id] = &cp
			changed++
		}
	}
	return changed, nil
}

func sortReceipts(receipts []*store.Receipt) {
	sort.Slice(receipts, func(i, j int) bool {
		if receipts[i].CreatedAt.Equal(receipts[j].CreatedAt) {
			return receipts[i].ID < receipts[j].ID
		}
		return receipts[i].CreatedAt.Before(receipts[j].CreatedAt)
	})
}

func matchesFilters(r *store.Receipt, filters []store.Filter) bool {
	for _, f := range filters {
		if !matchesFilter(r, f) {
			return false
		}
	}
	return true
}

func matchesFilter(r *store.Receipt, f store.Filter) bool {
	field := receiptField(r, f.Key())
	switch f.Operator() {
	case "eq":
		return compareValues(field, f.Value()) == 0
	case "ne":
		return compareValues(field, f.Value()) != 0
	case "gt":
		return compareValues(field, f.Value()) > 0
	case "gte":
		return compareValues(field, f.Value()) >= 0
	case "lt":
		return compareValues(field, f.Value()) < 0
	case "lte":
		return compareValues(field, f.Value()) <= 0
	case "in":
		values, ok := f.Value().([]any)
		if !ok {
			return false
		}
		for _, v := range values {
			if compareValues(field, v) == 0 {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func receiptField(r *store.Receipt, key string) any {
	switch key {
	case "id":
		return r.ID
	case "message_id":
		return r.MessageID
	case "conversation_id":
		return r.ConversationID
	case "receiver_id":
		return r.ReceiverID
	case "mailbox":
		return r.Mailbox
	case "is_read":
		return r.IsRead
	case "trashed":
		return r.Trashed
	case "deleted":
		return r.Deleted
	case "created_at":
		return r.CreatedAt
	case "updated_at":
		return r.UpdatedAt
	default:
		return nil
	}
}

// compareValues returns -1, 0, or 1. Mismatched types compare as unequal.
func compareValues(a, b any) int {
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case bool:
		if bv, ok := b.(bool); ok {
			if av == bv {
				return 0
			}
			if !av {
				return -1
			}
			return 1
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			switch {
			case av.Before(bv):
				return -1
			case av.After(bv):
				return 1
			}
			return 0
		}
	}
	return -1
}
