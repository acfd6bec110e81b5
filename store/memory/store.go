// Package memory provides an in-memory implementation of the store.Store
// interface, intended for tests and single-process deployments.
//
// All tables live behind a single RWMutex: the transactional operations
// (CreateMessageWithReceipts, DestroyConversation) span multiple tables,
// so one lock is what makes them atomic here.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mdevan/converse/store"
)

// DefaultListLimit caps listings when ListOptions.Limit is zero.
const DefaultListLimit = 50

// Connection states.
const (
	stateDisconnected int32 = 0
	stateConnected    int32 = 1
)

// Store is an in-memory store.Store implementation.
type Store struct {
	mu        sync.RWMutex
	connected int32

	conversations map[string]*store.Conversation
	messages      map[string]*store.Message
	receipts      map[string]*store.Receipt
	optOuts       map[string]map[string]bool // conversation ID -> participant set
	memberships   map[string][]string        // conversation ID -> ordered member IDs
	links         map[string]*store.AttachmentLink

	now func() time.Time
}

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// New creates an in-memory store.
func New() *Store {
	return &Store{
		conversations: make(map[string]*store.Conversation),
		messages:      make(map[string]*store.Message),
		receipts:      make(map[string]*store.Receipt),
		optOuts:       make(map[string]map[string]bool),
		memberships:   make(map[string][]string),
		links:         make(map[string]*store.AttachmentLink),
		now:           time.Now,
	}
}

// Connect marks the store as ready for use.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, stateDisconnected, stateConnected) {
		return store.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected. Data is retained so a
// reconnected store sees the same state.
func (s *Store) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, stateConnected, stateDisconnected) {
		return store.ErrNotConnected
	}
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) != stateConnected {
		return store.ErrNotConnected
	}
	return nil
}

func newID() string {
	return uuid.New().String()
}

// normalizeLimit applies the default page size.
func normalizeLimit(opts store.ListOptions) (limit, offset int) {
	limit = opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	offset = opts.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Clone helpers. Callers outside the package must never share pointers
// with the maps, so every read path copies.

func cloneConversation(c *store.Conversation) *store.Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

func cloneMessage(m *store.Message) *store.Message {
	if m == nil {
		return nil
	}
	cp := *m
	return &cp
}

func cloneReceipt(r *store.Receipt) *store.Receipt {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

func cloneLink(l *store.AttachmentLink) *store.AttachmentLink {
	if l == nil {
		return nil
	}
	cp := *l
	return &cp
}
