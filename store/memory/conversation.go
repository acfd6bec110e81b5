package memory

import (
	"context"
	"sort"

	"github.com/mdevan/converse/store"
)

// CreateConversation creates a new conversation with the given subject.
func (s *Store) CreateConversation(ctx context.Context, subject string) (*store.Conversation, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if subject == "" {
		return nil, store.ErrEmptySubject
	}

	now := s.now()
	conv := &store.Conversation{
		ID:        newID(),
		Subject:   subject,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.mu.Unlock()

	return cloneConversation(conv), nil
}

// GetConversation retrieves a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}

	s.mu.RLock()
	conv, ok := s.conversations[id]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneConversation(conv), nil
}

// TouchConversation bumps the conversation's last-activity timestamp.
func (s *Store) TouchConversation(ctx context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return store.ErrNotFound
	}
	cp := *conv
	cp.UpdatedAt = s.now()
	s.conversations[id] = &cp
	return nil
}

// DestroyConversation removes the conversation and everything it owns.
// The single write lock makes the cascade atomic.
func (s *Store) DestroyConversation(ctx context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return store.ErrNotFound
	}

	delete(s.conversations, id)
	for mid, msg := range s.messages {
		if msg.ConversationID == id {
			delete(s.messages, mid)
			for lid, l := range s.links {
				if l.OwnerType == store.OwnerMessage && l.OwnerID == mid {
					delete(s.links, lid)
				}
			}
		}
	}
	for rid, r := range s.receipts {
		if r.ConversationID == id {
			delete(s.receipts, rid)
		}
	}
	delete(s.optOuts, id)
	delete(s.memberships, id)
	for lid, l := range s.links {
		if l.OwnerType == store.OwnerConversation && l.OwnerID == id {
			delete(s.links, lid)
		}
	}
	return nil
}

// ListConversations returns conversations visible to the participant
// under the given scope, newest activity first.
func (s *Store) ListConversations(ctx context.Context, participantID string, scope store.Scope, opts store.ListOptions) (*store.ConversationList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if participantID == "" {
		return nil, store.ErrInvalidID
	}
	if !scope.Valid() {
		return nil, store.ErrInvalidScope
	}

	s.mu.RLock()
	// Group the participant's receipts by conversation, then test the
	// scope against each group.
	byConv := make(map[string][]*store.Receipt)
	for _, r := range s.receipts {
		if r.ReceiverID == participantID {
			byConv[r.ConversationID] = append(byConv[r.ConversationID], r)
		}
	}
	var matched []*store.Conversation
	for convID, receipts := range byConv {
		conv, ok := s.conversations[convID]
		if !ok {
			continue
		}
		if scopeMatches(scope, receipts) {
			matched = append(matched, cloneConversation(conv))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})

	total := int64(len(matched))
	limit, offset := normalizeLimit(opts)
	if offset >= len(matched) {
		matched = nil
	} else {
		matched = matched[offset:]
		if len(matched) > limit {
			matched = matched[:limit]
		}
	}

	return &store.ConversationList{
		Conversations: matched,
		Total:         total,
		Limit:         limit,
		Offset:        offset,
	}, nil
}

// scopeMatches reports whether any of the participant's receipts put the
// conversation in the scope.
func scopeMatches(scope store.Scope, receipts []*store.Receipt) bool {
	for _, r := range receipts {
		if r.Deleted {
			continue
		}
		switch scope {
		case store.ScopeAll:
			return true
		case store.ScopeInbox:
			if r.Mailbox == store.MailboxInbox && !r.Trashed {
				return true
			}
		case store.ScopeSentbox:
			if r.Mailbox == store.MailboxSentbox && !r.Trashed {
				return true
			}
		case store.ScopeTrash:
			if r.Trashed {
				return true
			}
		case store.ScopeNotTrash:
			if !r.Trashed {
				return true
			}
		case store.ScopeUnread:
			if r.Mailbox == store.MailboxInbox && !r.IsRead && !r.Trashed {
				return true
			}
		}
	}
	return false
}
