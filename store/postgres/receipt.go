package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mdevan/converse/store"
)

const receiptColumns = `id, message_id, conversation_id, receiver_id, mailbox, is_read, trashed, deleted, created_at, updated_at`

// ReceiptsFor returns the participant's receipts in a conversation,
// oldest first.
func (s *Store) ReceiptsFor(ctx context.Context, conversationID, participantID string) ([]*store.Receipt, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(conversationID); err != nil {
		// Malformed IDs match nothing rather than tripping a uuid cast.
		return []*store.Receipt{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE conversation_id = $1 AND receiver_id = $2
		ORDER BY created_at ASC, id ASC
	`, receiptColumns, s.table("receipts"))

	receipts := []*store.Receipt{}
	if err := s.db.SelectContext(ctx, &receipts, query, conversationID, participantID); err != nil {
		return nil, fmt.Errorf("receipts for: %w", err)
	}
	return receipts, nil
}

// ConversationReceipts returns every receipt of a conversation.
func (s *Store) ConversationReceipts(ctx context.Context, conversationID string) ([]*store.Receipt, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(conversationID); err != nil {
		return []*store.Receipt{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`, receiptColumns, s.table("receipts"))

	receipts := []*store.Receipt{}
	if err := s.db.SelectContext(ctx, &receipts, query, conversationID); err != nil {
		return nil, fmt.Errorf("conversation receipts: %w", err)
	}
	return receipts, nil
}

// filterOperators maps filter operators to SQL comparison operators.
var filterOperators = map[string]string{
	"eq":  "=",
	"ne":  "!=",
	"gt":  ">",
	"gte": ">=",
	"lt":  "<",
	"lte": "<=",
}

// FindReceipts queries receipts by typed filters.
func (s *Store) FindReceipts(ctx context.Context, filters []store.Filter, opts store.ListOptions) ([]*store.Receipt, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	conditions := []string{"TRUE"}
	args := []any{}
	for _, f := range filters {
		column, ok := store.ReceiptFieldKey(f.Key())
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %q", store.ErrFilterInvalid, f.Key())
		}
		if f.Operator() == "in" {
			values, ok := f.Value().([]any)
			if !ok || len(values) == 0 {
				return nil, fmt.Errorf("%w: in requires values", store.ErrFilterInvalid)
			}
			args = append(args, pq.Array(values))
			conditions = append(conditions, fmt.Sprintf("%s = ANY($%d)", column, len(args)))
			continue
		}
		op, ok := filterOperators[f.Operator()]
		if !ok {
			return nil, fmt.Errorf("%w: unknown operator %q", store.ErrFilterInvalid, f.Operator())
		}
		args = append(args, f.Value())
		conditions = append(conditions, fmt.Sprintf("%s %s $%d", column, op, len(args)))
	}

	args = append(args, opts.Limit, opts.Offset)
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE %s
		ORDER BY created_at ASC, id ASC
		LIMIT $%d OFFSET $%d
	`, receiptColumns, s.table("receipts"), strings.Join(conditions, " AND "), len(args)-1, len(args))

	receipts := []*store.Receipt{}
	if err := s.db.SelectContext(ctx, &receipts, query, args...); err != nil {
		return nil, fmt.Errorf("find receipts: %w", err)
	}
	return receipts, nil
}

// CreateReceipts persists backfill receipts, preserving non-zero
// timestamps. Receipts a receiver already holds for a message are
// skipped via the unique constraint.
func (s *Store) CreateReceipts(ctx context.Context, receipts []*store.Receipt) ([]*store.Receipt, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insert := fmt.Sprintf(`
		INSERT INTO %s (id, message_id, conversation_id, receiver_id, mailbox,
		                is_read, trashed, deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (message_id, receiver_id) DO NOTHING
	`, s.table("receipts"))

	now := time.Now().UTC()
	out := make([]*store.Receipt, 0, len(receipts))
	for _, r := range receipts {
		if r.ReceiverID == "" || r.MessageID == "" || r.ConversationID == "" {
			return nil, store.ErrInvalidID
		}
		if !store.ValidMailbox(r.Mailbox) {
			return nil, store.ErrInvalidMailbox
		}
		rc := *r
		rc.ID = uuid.New().String()
		if rc.CreatedAt.IsZero() {
			rc.CreatedAt = now
		}
		if rc.UpdatedAt.IsZero() {
			rc.UpdatedAt = now
		}
		if _, err := tx.ExecContext(ctx, insert,
			rc.ID, rc.MessageID, rc.ConversationID, rc.ReceiverID, rc.Mailbox,
			rc.IsRead, rc.Trashed, rc.Deleted, rc.CreatedAt, rc.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("insert receipt: %w", err)
		}
		out = append(out, &rc)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrTransactionFailed, err)
	}
	return out, nil
}

// MarkRead sets the read flag on the participant's receipts. A single
// atomic UPDATE; no read-modify-write.
func (s *Store) MarkRead(ctx context.Context, conversationID, participantID string, read bool) (int64, error) {
	return s.updateFlags(ctx, conversationID, participantID, "is_read = $3", read)
}

// SetTrashed sets the trashed flag on the participant's receipts.
func (s *Store) SetTrashed(ctx context.Context, conversationID, participantID string, trashed bool) (int64, error) {
	return s.updateFlags(ctx, conversationID, participantID, "trashed = $3", trashed)
}

// MarkDeleted soft-deletes the participant's receipts.
func (s *Store) MarkDeleted(ctx context.Context, conversationID, participantID string) (int64, error) {
	return s.updateFlags(ctx, conversationID, participantID, "deleted = $3", true)
}

func (s *Store) updateFlags(ctx context.Context, conversationID, participantID, assignment string, value bool) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if conversationID == "" || participantID == "" {
		return 0, nil
	}
	if _, err := uuid.Parse(conversationID); err != nil {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	column := strings.SplitN(assignment, " ", 2)[0]
	query := fmt.Sprintf(`
		UPDATE %s SET %s, updated_at = $4
		WHERE conversation_id = $1 AND receiver_id = $2 AND %s != $3
	`, s.table("receipts"), assignment, column)

	result, err := s.db.ExecContext(ctx, query, conversationID, participantID, value, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("update receipts: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return rows, nil
}
