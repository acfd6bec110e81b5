package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mdevan/converse/store"
)

func (s *Store) CreateConversation(ctx context.Context, subject string) (*store.Conversation, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if subject == "" {
		return nil, store.ErrEmptySubject
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	now := time.Now().UTC()
	conv := &store.Conversation{
		ID:        uuid.New().String(),
		Subject:   subject,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, subject, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`, s.table("conversations"))

	if _, err := s.db.ExecContext(ctx, query, conv.ID, conv.Subject, conv.CreatedAt, conv.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, subject, created_at, updated_at
		FROM %s WHERE id = $1
	`, s.table("conversations"))

	var conv store.Conversation
	if err := s.db.GetContext(ctx, &conv, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &conv, nil
}

func (s *Store) TouchConversation(ctx context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %s SET updated_at = $1 WHERE id = $2`, s.table("conversations"))
	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DestroyConversation removes the conversation and everything it owns in
// one transaction.
func (s *Store) DestroyConversation(ctx context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	linkQuery := fmt.Sprintf(`
		DELETE FROM %s
		WHERE (owner_type = $1 AND owner_id = $2)
		   OR (owner_type = $3 AND owner_id IN (SELECT id::text FROM %s WHERE conversation_id = $2))
	`, s.table("attachment_links"), s.table("messages"))
	if _, err := tx.ExecContext(ctx, linkQuery, store.OwnerConversation, id, store.OwnerMessage); err != nil {
		return fmt.Errorf("delete attachment links: %w", err)
	}

	byConversation := []string{"receipts", "messages", "opt_outs", "memberships"}
	for _, name := range byConversation {
		q := fmt.Sprintf(`DELETE FROM %s WHERE conversation_id = $1`, s.table(name))
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("delete %s: %w", name, err)
		}
	}

	q := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table("conversations"))
	result, err := tx.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrTransactionFailed, err)
	}
	return nil
}

// scopePredicate returns the receipt conditions for a listing scope.
// The receipt alias is r; non-deleted and receiver matching are applied
// by the caller.
func scopePredicate(scope store.Scope) (string, error) {
	switch scope {
	case store.ScopeAll:
		return "TRUE", nil
	case store.ScopeInbox:
		return "r.mailbox = 'inbox' AND NOT r.trashed", nil
	case store.ScopeSentbox:
		return "r.mailbox = 'sentbox' AND NOT r.trashed", nil
	case store.ScopeTrash:
		return "r.trashed", nil
	case store.ScopeNotTrash:
		return "NOT r.trashed", nil
	case store.ScopeUnread:
		return "r.mailbox = 'inbox' AND NOT r.is_read AND NOT r.trashed", nil
	default:
		return "", store.ErrInvalidScope
	}
}

func (s *Store) ListConversations(ctx context.Context, participantID string, scope store.Scope, opts store.ListOptions) (*store.ConversationList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if participantID == "" {
		return nil, store.ErrInvalidID
	}
	predicate, err := scopePredicate(scope)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	where := fmt.Sprintf(`
		EXISTS (
			SELECT 1 FROM %s r
			WHERE r.conversation_id = c.id
			  AND r.receiver_id = $1
			  AND NOT r.deleted
			  AND %s
		)
	`, s.table("receipts"), predicate)

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s c WHERE %s`, s.table("conversations"), where)
	var total int64
	if err := s.db.QueryRowContext(ctx, countQuery, participantID).Scan(&total); err != nil {
		return nil, fmt.Errorf("count conversations: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT c.id, c.subject, c.created_at, c.updated_at
		FROM %s c
		WHERE %s
		ORDER BY c.updated_at DESC
		LIMIT $2 OFFSET $3
	`, s.table("conversations"), where)

	var conversations []*store.Conversation
	if err := s.db.SelectContext(ctx, &conversations, query, participantID, opts.Limit, opts.Offset); err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}

	return &store.ConversationList{
		Conversations: conversations,
		Total:         total,
		Limit:         opts.Limit,
		Offset:        opts.Offset,
	}, nil
}
