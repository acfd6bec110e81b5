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

const messageColumns = `id, conversation_id, sender_id, body, system, system_case, attachment_id, created_at, updated_at`

func (s *Store) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, messageColumns, s.table("messages"))

	var msg store.Message
	if err := s.db.GetContext(ctx, &msg, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &msg, nil
}

// FirstMessage returns the earliest non-system message of a conversation.
func (s *Store) FirstMessage(ctx context.Context, conversationID string) (*store.Message, error) {
	return s.edgeMessage(ctx, conversationID, "ASC")
}

// LastMessage returns the most recent non-system message of a conversation.
func (s *Store) LastMessage(ctx context.Context, conversationID string) (*store.Message, error) {
	return s.edgeMessage(ctx, conversationID, "DESC")
}

func (s *Store) edgeMessage(ctx context.Context, conversationID, direction string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(conversationID); err != nil {
		return nil, store.ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE conversation_id = $1 AND NOT system
		ORDER BY created_at %s
		LIMIT 1
	`, messageColumns, s.table("messages"), direction)

	var msg store.Message
	if err := s.db.GetContext(ctx, &msg, query, conversationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("edge message: %w", err)
	}
	return &msg, nil
}

// Messages returns conversation messages ordered oldest first.
func (s *Store) Messages(ctx context.Context, conversationID string, opts store.ListOptions) ([]*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(conversationID); err != nil {
		return []*store.Message{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE conversation_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`, messageColumns, s.table("messages"))

	msgs := []*store.Message{}
	if err := s.db.SelectContext(ctx, &msgs, query, conversationID, opts.Limit, opts.Offset); err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	return msgs, nil
}

func (s *Store) CountMessages(ctx context.Context, conversationID string) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if _, err := uuid.Parse(conversationID); err != nil {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE conversation_id = $1`, s.table("messages"))
	var n int64
	if err := s.db.QueryRowContext(ctx, query, conversationID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// CreateMessageWithReceipts persists a message and its receipts in one
// transaction. Either everything lands or nothing does.
func (s *Store) CreateMessageWithReceipts(ctx context.Context, msg *store.Message, receipts []*store.Receipt) (*store.Message, []*store.Receipt, error) {
	if err := s.checkConnected(); err != nil {
		return nil, nil, err
	}
	if msg == nil || msg.ConversationID == "" || msg.SenderID == "" {
		return nil, nil, store.ErrInvalidID
	}
	if _, err := uuid.Parse(msg.ConversationID); err != nil {
		return nil, nil, store.ErrNotFound
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

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// The conversation row must exist; uuid validation doubles as a
	// guard against malformed references.
	var exists bool
	existsQuery := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1)`, s.table("conversations"))
	if err := tx.QueryRowContext(ctx, existsQuery, msg.ConversationID).Scan(&exists); err != nil {
		return nil, nil, fmt.Errorf("check conversation: %w", err)
	}
	if !exists {
		return nil, nil, store.ErrNotFound
	}

	now := time.Now().UTC()
	stored := *msg
	stored.ID = uuid.New().String()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	insertMsg := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, s.table("messages"), messageColumns)
	if _, err := tx.ExecContext(ctx, insertMsg,
		stored.ID, stored.ConversationID, stored.SenderID, stored.Body,
		stored.System, stored.SystemCase, stored.AttachmentID,
		stored.CreatedAt, stored.UpdatedAt,
	); err != nil {
		return nil, nil, fmt.Errorf("insert message: %w", err)
	}

	insertReceipt := fmt.Sprintf(`
		INSERT INTO %s (id, message_id, conversation_id, receiver_id, mailbox,
		                is_read, trashed, deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, s.table("receipts"))

	out := make([]*store.Receipt, 0, len(receipts))
	for _, r := range receipts {
		rc := *r
		rc.ID = uuid.New().String()
		rc.MessageID = stored.ID
		rc.ConversationID = stored.ConversationID
		rc.CreatedAt = now
		rc.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, insertReceipt,
			rc.ID, rc.MessageID, rc.ConversationID, rc.ReceiverID, rc.Mailbox,
			rc.IsRead, rc.Trashed, rc.Deleted, rc.CreatedAt, rc.UpdatedAt,
		); err != nil {
			return nil, nil, fmt.Errorf("insert receipt: %w", err)
		}
		out = append(out, &rc)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", store.ErrTransactionFailed, err)
	}
	return &stored, out, nil
}
