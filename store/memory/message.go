package memory

import (
	"context"
	"sort"

	"github.com/mdevan/converse/store"
)

// GetMessage retrieves a message by ID.
func (s *Store) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}

	s.mu.RLock()
	msg, ok := s.messages[id]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneMessage(msg), nil
}

// FirstMessage returns the earliest non-system message of a conversation.
func (s *Store) FirstMessage(ctx context.Context, conversationID string) (*store.Message, error) {
	return s.edgeMessage(conversationID, true)
}

// LastMessage returns the most recent non-system message of a conversation.
func (s *Store) LastMessage(ctx context.Context, conversationID string) (*store.Message, error) {
	return s.edgeMessage(conversationID, false)
}

func (s *Store) edgeMessage(conversationID string, earliest bool) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *store.Message
	for _, m := range s.messages {
		if m.ConversationID != conversationID || m.System {
			continue
		}
		if best == nil {
			best = m
			continue
		}
		if earliest && m.CreatedAt.Before(best.CreatedAt) {
			best = m
		}
		if !earliest && m.CreatedAt.After(best.CreatedAt) {
			best = m
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return cloneMessage(best), nil
}

// Messages returns conversation messages ordered oldest first.
func (s *Store) Messages(ctx context.Context, conversationID string, opts store.ListOptions) ([]*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var msgs []*store.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			msgs = append(msgs, cloneMessage(m))
		}
	}
	s.mu.RUnlock()

	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})

	limit, offset := normalizeLimit(opts)
	if offset >= len(msgs) {
		return []*store.Message{}, nil
	}
	msgs = msgs[offset:]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

// CountMessages returns the number of messages in a conversation.
func (s *Store) CountMessages(ctx context.Context, conversationID string) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			n++
		}
	}
	return n, nil
}

// CreateMessageWithReceipts persists a message and its receipts atomically.
func (s *Store) CreateMessageWithReceipts(ctx context.Context, msg *store.Message, receipts []*store.Receipt) (*store.Message, []*store.Receipt, error) {
	if err := s.checkConnected(); err != nil {
		return nil, nil, err
	}
	if msg == nil || msg.ConversationID == "" || msg.SenderID == "" {
		return nil, nil, store.ErrInvalidID
	}
	if msg.Body == "" {
		return nil, nil, store.ErrEmptyBody
	}
	if !msg.SystemCase.Valid() {
		return nil, nil, store.ErrInvalidSystemCase
	}
	if len(receipts) == 0 {
		return nil, nil, store.ErrEmptyRecipients
	}
	for _, r := range receipts {
		if r.ReceiverID == "" {
			return nil, nil, store.ErrInvalidID
		}
		if !store.ValidMailbox(r.Mailbox) {
			return nil, nil, store.ErrInvalidMailbox
		}
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return nil, nil, store.ErrNotFound
	}

	stored := cloneMessage(msg)
	stored.ID = newID()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.messages[stored.ID] = stored

	out := make([]*store.Receipt, 0, len(receipts))
	for _, r := range receipts {
		rc := cloneReceipt(r)
		rc.ID = newID()
		rc.MessageID = stored.ID
		rc.ConversationID = stored.ConversationID
		rc.CreatedAt = now
		rc.UpdatedAt = now
		s.receipts[rc.ID] = rc
		out = append(out, cloneReceipt(rc))
	}

	return cloneMessage(stored), out, nil
}
