package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mdevan/converse/store"
)

// AddOptOut unsubscribes a participant from a conversation's
// notifications. Idempotent through the unique constraint.
func (s *Store) AddOptOut(ctx context.Context, conversationID, participantID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if conversationID == "" || participantID == "" {
		return store.ErrInvalidID
	}
	if _, err := uuid.Parse(conversationID); err != nil {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, conversation_id, participant_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_id, participant_id) DO NOTHING
	`, s.table("opt_outs"))

	if _, err := s.db.ExecContext(ctx, query, uuid.New().String(), conversationID, participantID, time.Now().UTC()); err != nil {
		return fmt.Errorf("add opt-out: %w", err)
	}
	return nil
}

// RemoveOptOut restores the subscription. Removing an absent opt-out is
// a no-op.
func (s *Store) RemoveOptOut(ctx context.Context, conversationID, participantID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if _, err := uuid.Parse(conversationID); err != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE conversation_id = $1 AND participant_id = $2`, s.table("opt_outs"))
	if _, err := s.db.ExecContext(ctx, query, conversationID, participantID); err != nil {
		return fmt.Errorf("remove opt-out: %w", err)
	}
	return nil
}

func (s *Store) HasOptOut(ctx context.Context, conversationID, participantID string) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}
	if _, err := uuid.Parse(conversationID); err != nil {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT EXISTS(SELECT 1 FROM %s WHERE conversation_id = $1 AND participant_id = $2)
	`, s.table("opt_outs"))

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, conversationID, participantID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check opt-out: %w", err)
	}
	return exists, nil
}

// OptedOut returns the IDs of participants who unsubscribed from the
// conversation's notifications.
func (s *Store) OptedOut(ctx context.Context, conversationID string) ([]string, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(conversationID); err != nil {
		return []string{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT participant_id FROM %s
		WHERE conversation_id = $1
		ORDER BY participant_id ASC
	`, s.table("opt_outs"))

	ids := []string{}
	if err := s.db.SelectContext(ctx, &ids, query, conversationID); err != nil {
		return nil, fmt.Errorf("list opt-outs: %w", err)
	}
	return ids, nil
}

// AddMember attaches a user to a conversation. Returns true when a new
// membership row was created.
func (s *Store) AddMember(ctx context.Context, conversationID, userID string) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}
	if conversationID == "" || userID == "" {
		return false, store.ErrInvalidID
	}
	if _, err := uuid.Parse(conversationID); err != nil {
		return false, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, conversation_id, user_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_id, user_id) DO NOTHING
	`, s.table("memberships"))

	result, err := s.db.ExecContext(ctx, query, uuid.New().String(), conversationID, userID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("add member: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows > 0, nil
}

// AddMembers attaches several users in one transaction.
func (s *Store) AddMembers(ctx context.Context, conversationID string, userIDs []string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if conversationID == "" {
		return store.ErrInvalidID
	}
	if _, err := uuid.Parse(conversationID); err != nil {
		return store.ErrInvalidID
	}
	for _, id := range userIDs {
		if id == "" {
			return store.ErrInvalidID
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, conversation_id, user_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_id, user_id) DO NOTHING
	`, s.table("memberships"))

	now := time.Now().UTC()
	for _, userID := range userIDs {
		if _, err := tx.ExecContext(ctx, query, uuid.New().String(), conversationID, userID, now); err != nil {
			return fmt.Errorf("add member %s: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrTransactionFailed, err)
	}
	return nil
}

// RemoveMember detaches a user. Returns true when a membership row was
// removed.
func (s *Store) RemoveMember(ctx context.Context, conversationID, userID string) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}
	if _, err := uuid.Parse(conversationID); err != nil {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE conversation_id = $1 AND user_id = $2`, s.table("memberships"))
	result, err := s.db.ExecContext(ctx, query, conversationID, userID)
	if err != nil {
		return false, fmt.Errorf("remove member: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows > 0, nil
}

func (s *Store) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}
	if _, err := uuid.Parse(conversationID); err != nil {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT EXISTS(SELECT 1 FROM %s WHERE conversation_id = $1 AND user_id = $2)
	`, s.table("memberships"))

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

// Members returns participant IDs in join order.
func (s *Store) Members(ctx context.Context, conversationID string) ([]string, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(conversationID); err != nil {
		return []string{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT user_id FROM %s
		WHERE conversation_id = $1
		ORDER BY created_at ASC, user_id ASC
	`, s.table("memberships"))

	members := []string{}
	if err := s.db.SelectContext(ctx, &members, query, conversationID); err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

// LinkFile associates a file with a message or conversation. Returns
// true when the link did not already exist.
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

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, file_id, owner_type, owner_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (file_id, owner_type, owner_id) DO NOTHING
	`, s.table("attachment_links"))

	result, err := s.db.ExecContext(ctx, query, uuid.New().String(), link.FileID, link.OwnerType, link.OwnerID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("link file: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows > 0, nil
}

// FileLinks returns the links attached to a message or conversation.
func (s *Store) FileLinks(ctx context.Context, ownerType, ownerID string) ([]*store.AttachmentLink, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, file_id, owner_type, owner_id, created_at
		FROM %s
		WHERE owner_type = $1 AND owner_id = $2
		ORDER BY created_at ASC, file_id ASC
	`, s.table("attachment_links"))

	links := []*store.AttachmentLink{}
	if err := s.db.SelectContext(ctx, &links, query, ownerType, ownerID); err != nil {
		return nil, fmt.Errorf("list file links: %w", err)
	}
	return links, nil
}
