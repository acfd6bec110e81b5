package memory

import (
	"context"
	"sort"

	"github.com/mdevan/converse/store"
)

// AddOptOut records that the participant is unsubscribed. Idempotent.
func (s *Store) AddOptOut(ctx context.Context, conversationID, participantID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if conversationID == "" || participantID == "" {
		return store.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.optOuts[conversationID]
	if set == nil {
		set = make(map[string]bool)
		s.optOuts[conversationID] = set
	}
	set[participantID] = true
	return nil
}

// RemoveOptOut deletes the participant's opt-out. Absent rows are a no-op.
func (s *Store) RemoveOptOut(ctx context.Context, conversationID, participantID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok := s.optOuts[conversationID]; ok {
		delete(set, participantID)
	}
	return nil
}

// HasOptOut reports whether the participant is currently opted out.
func (s *Store) HasOptOut(ctx context.Context, conversationID, participantID string) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.optOuts[conversationID][participantID], nil
}

// OptedOut returns the IDs of opted-out participants, sorted for
// deterministic output.
func (s *Store) OptedOut(ctx context.Context, conversationID string) ([]string, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]string, 0, len(s.optOuts[conversationID]))
	for id := range s.optOuts[conversationID] {
		out = append(out, id)
	}
	s.mu.RUnlock()

	sort.Strings(out)
	return out, nil
}

// AddMember attaches a user to a conversation.
func (s *Store) AddMember(ctx context.Context, conversationID, userID string) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}
	if conversationID == "" || userID == "" {
		return false, store.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addMemberLocked(conversationID, userID), nil
}

// AddMembers attaches multiple users, skipping existing members.
func (s *Store) AddMembers(ctx context.Context, conversationID string, userIDs []string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if conversationID == "" {
		return store.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range userIDs {
		if id == "" {
			return store.ErrInvalidID
		}
		s.addMemberLocked(conversationID, id)
	}
	return nil
}

func (s *Store) addMemberLocked(conversationID, userID string) bool {
	for _, m := range s.memberships[conversationID] {
		if m == userID {
			return false
		}
	}
	s.memberships[conversationID] = append(s.memberships[conversationID], userID)
	return true
}

// RemoveMember detaches a user from a conversation.
func (s *Store) RemoveMember(ctx context.Context, conversationID, userID string) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	members := s.memberships[conversationID]
	for i, m := range members {
		if m == userID {
			s.memberships[conversationID] = append(members[:i:i], members[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// IsMember reports whether the user belongs to the conversation.
func (s *Store) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.memberships[conversationID] {
		if m == userID {
			return true, nil
		}
	}
	return false, nil
}

// Members returns the participant IDs of a conversation in join order.
func (s *Store) Members(ctx context.Context, conversationID string) ([]string, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.memberships[conversationID]))
	copy(out, s.memberships[conversationID])
	return out, nil
}

// LinkFile associates a file with a message or conversation. Idempotent
// per (file, owner type, owner).
func (s *Store) LinkFile(ctx context.Context, link *store.AttachmentLink) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}
	if link == nil || link.FileID == "" || link.OwnerID == "" {
		return false, store.ErrInvalidID
	}
	if link.OwnerType != store.OwnerMessage && link.OwnerType != store.OwnerConversation {
		return false, store.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.links {
		if l.FileID == link.FileID && l.OwnerType == link.OwnerType && l.OwnerID == link.OwnerID {
			return false, nil
		}
	}

	lc := cloneLink(link)
	lc.ID = newID()
	lc.CreatedAt = s.now()
	s.links[lc.ID] = lc
	return true, nil
}

// FileLinks returns all links owned by the given message or conversation.
func (s *Store) FileLinks(ctx context.Context, ownerType, ownerID string) ([]*store.AttachmentLink, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := []*store.AttachmentLink{}
	for _, l := range s.links {
		if l.OwnerType == ownerType && l.OwnerID == ownerID {
			out = append(out, cloneLink(l))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
