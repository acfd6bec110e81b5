// Package postgres provides a PostgreSQL implementation of store.Store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/mdevan/converse/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL.
//
// Atomicity relies on the database: multi-row writes run inside
// transactions and idempotent writes use unique constraints with
// ON CONFLICT DO NOTHING. No application-level locking.
type Store struct {
	db        *sqlx.DB
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new PostgreSQL store with the provided database connection.
// Call Connect() to initialize the schema and indexes.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:     db,
		opts:   o,
		logger: o.logger,
	}
}

// NewFromDB creates a new PostgreSQL store from a standard sql.DB connection.
// This wraps the sql.DB with sqlx for enhanced functionality.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	return New(sqlx.NewDb(db, "postgres"), opts...)
}

// NewFromDSN opens a connection from a data source name.
func NewFromDSN(dsn string, opts ...Option) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	return New(db, opts...), nil
}

// Connect initializes the schema and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres ping: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.logger.Info("connected to PostgreSQL", "table_prefix", s.opts.tablePrefix)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the database connection.
func (s *Store) Close(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil
	}
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// table returns the prefixed name for a logical table.
func (s *Store) table(name string) string {
	return s.opts.tablePrefix + name
}

// ensureSchema creates the required tables and indexes.
func (s *Store) ensureSchema(ctx context.Context) error {
	conversations := s.table("conversations")
	messages := s.table("messages")
	receipts := s.table("receipts")
	optOuts := s.table("opt_outs")
	memberships := s.table("memberships")
	links := s.table("attachment_links")

	tables := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				subject TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`, conversations),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				conversation_id UUID NOT NULL,
				sender_id VARCHAR(255) NOT NULL,
				body TEXT NOT NULL DEFAULT '',
				system BOOLEAN NOT NULL DEFAULT FALSE,
				system_case VARCHAR(50) NOT NULL DEFAULT '',
				attachment_id VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`, messages),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				message_id UUID NOT NULL,
				conversation_id UUID NOT NULL,
				receiver_id VARCHAR(255) NOT NULL,
				mailbox VARCHAR(50) NOT NULL DEFAULT 'inbox',
				is_read BOOLEAN NOT NULL DEFAULT FALSE,
				trashed BOOLEAN NOT NULL DEFAULT FALSE,
				deleted BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE(message_id, receiver_id)
			)
		`, receipts),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				conversation_id UUID NOT NULL,
				participant_id VARCHAR(255) NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE(conversation_id, participant_id)
			)
		`, optOuts),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				conversation_id UUID NOT NULL,
				user_id VARCHAR(255) NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE(conversation_id, user_id)
			)
		`, memberships),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				file_id VARCHAR(255) NOT NULL,
				owner_type VARCHAR(50) NOT NULL,
				owner_id VARCHAR(255) NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE(file_id, owner_type, owner_id)
			)
		`, links),
	}

	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_conversation ON %s(conversation_id, created_at)`, messages, messages),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_conversation ON %s(conversation_id)`, receipts, receipts),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_receiver ON %s(receiver_id, conversation_id)`, receipts, receipts),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_unread ON %s(receiver_id, is_read) WHERE NOT deleted`, receipts, receipts),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_conversation ON %s(conversation_id)`, memberships, memberships),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user ON %s(user_id)`, memberships, memberships),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_conversation ON %s(conversation_id)`, optOuts, optOuts),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_owner ON %s(owner_type, owner_id)`, links, links),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_updated ON %s(updated_at DESC)`, conversations, conversations),
	}

	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			s.logger.Warn("failed to create index", "error", err, "sql", idx)
		}
	}

	return nil
}

// checkConnected returns error if not connected.
func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}
