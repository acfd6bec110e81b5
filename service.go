package converse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"golang.org/x/sync/semaphore"

	"github.com/mdevan/converse/store"
)

// Type aliases for commonly used store types.
// These allow users to work with the converse package without importing
// store directly.
type (
	ListOptions      = store.ListOptions
	Scope            = store.Scope
	ConversationList = store.ConversationList
)

// Re-exported scope constants.
const (
	ScopeAll      = store.ScopeAll
	ScopeInbox    = store.ScopeInbox
	ScopeSentbox  = store.ScopeSentbox
	ScopeTrash    = store.ScopeTrash
	ScopeNotTrash = store.ScopeNotTrash
	ScopeUnread   = store.ScopeUnread
)

// ServiceHealth provides health and state information about the service.
type ServiceHealth interface {
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool
}

// Service manages the conversation system (server-side).
// It handles connections to storage and creates per-user clients.
//
// Composed of:
//   - ServiceHealth: Health and state queries (IsConnected)
type Service interface {
	ServiceHealth

	// Connect establishes connections to storage backends.
	Connect(ctx context.Context) error
	// Close closes all connections.
	Close(ctx context.Context) error
	// Client returns a conversation client for the given user.
	// The returned client shares the service's connections.
	Client(userID string) Client
	// Conversation returns a handle on an existing conversation.
	// Handle operations take the acting participant explicitly.
	Conversation(ctx context.Context, conversationID string) (*Conversation, error)
	// Events returns per-service event instances for subscribing and publishing.
	// Each service has its own events bound to its own event bus, enabling
	// independent event routing and parallel testing. The bus is established
	// by Connect; Events returns nil until Connect has succeeded.
	Events() *ServiceEvents
}

// Connection states for the service.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// service is the default implementation of Service.
type service struct {
	store       store.Store
	logger      *slog.Logger
	opts        *options
	state       int32 // stateDisconnected, stateConnecting, or stateConnected
	plugins     *pluginRegistry
	otel        *otelInstrumentation
	deliverSem  *semaphore.Weighted // Limits concurrent deliveries to prevent resource exhaustion
	eventBus    *event.Bus          // Event bus for publishing events
	events      *ServiceEvents      // Per-service event instances
	sanitizer   Sanitizer
	dispatcher  NotificationDispatcher
	fileStore   FileStore
	grantor     PermissionGrantor
	resolver    RecipientResolver
	postDeliver PostDeliverHook
}

// NewService creates a new conversation service.
// Call Connect() to establish connections to backends.
func NewService(opts ...Option) (Service, error) {
	o := newOptions(opts...)

	if o.store == nil {
		return nil, ErrStoreRequired
	}

	// Initialize plugin registry
	plugins := newPluginRegistry(o.logger)
	for _, p := range o.plugins {
		plugins.register(p)
	}

	// Initialize OTel instrumentation
	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	s := &service{
		store:       o.store,
		logger:      o.logger,
		opts:        o,
		plugins:     plugins,
		otel:        otelInstr,
		deliverSem:  semaphore.NewWeighted(int64(o.maxConcurrentDeliveries)),
		sanitizer:   o.sanitizer,
		dispatcher:  o.dispatcher,
		fileStore:   o.fileStore,
		grantor:     o.grantor,
		resolver:    o.resolver,
		postDeliver: o.postDeliver,
	}
	if s.sanitizer == nil {
		s.sanitizer = noopSanitizer{}
	}
	if s.dispatcher == nil {
		s.dispatcher = noopDispatcher{}
	}
	return s, nil
}

// Events returns per-service event instances for subscribing and publishing,
// or nil before Connect establishes the event bus.
func (s *service) Events() *ServiceEvents {
	return s.events
}

// IsConnected returns true if the service is connected and ready.
func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

// Connect establishes connections to storage backends.
func (s *service) Connect(ctx context.Context) error {
	// Use three-state to prevent Client() from seeing partial initialization
	// stateDisconnected -> stateConnecting -> stateConnected
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	// Reset to disconnected on failure, set to connected on success
	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	if err := s.store.Connect(ctx); err != nil {
		return fmt.Errorf("connect store: %w", err)
	}

	// Initialize event bus with appropriate transport
	if err := s.initEventBus(ctx); err != nil {
		s.store.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	// Initialize plugins
	if err := s.plugins.initAll(ctx); err != nil {
		s.eventBus.Close(ctx)
		s.store.Close(ctx)
		return fmt.Errorf("init plugins: %w", err)
	}

	success = true
	s.logger.Info("conversation service connected")
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus initializes the event bus for this service.
// Each service creates its own bus with its own per-service events.
func (s *service) initEventBus(ctx context.Context) error {
	serviceName := s.opts.serviceName
	if serviceName == "" {
		serviceName = "converse"
	}
	// Each bus needs a unique name, so append a counter suffix
	busName := fmt.Sprintf("%s-%d", serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(s.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		s.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}

	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	s.eventBus = bus

	// Create and register per-service events (unique per service instance).
	s.events = newServiceEvents(busName)
	if err := registerServiceEvents(ctx, bus, s.events); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("register service events: %w", err)
	}

	return nil
}

// Close closes connections to storage backends.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// Wait for in-flight deliveries to complete (graceful shutdown).
	// After setting state to disconnected, no new deliveries can start
	// because checkAccess fails. We acquire all semaphore slots to wait
	// for existing operations to finish.
	s.logger.Info("waiting for in-flight operations to complete...", "timeout", s.opts.shutdownTimeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
	defer shutdownCancel()
	if err := s.deliverSem.Acquire(shutdownCtx, int64(s.opts.maxConcurrentDeliveries)); err != nil {
		// Context cancelled or deadline exceeded - log but continue shutdown
		s.logger.Warn("timeout waiting for in-flight operations, proceeding with shutdown",
			"error", err)
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", err))
	} else {
		s.deliverSem.Release(int64(s.opts.maxConcurrentDeliveries))
		s.logger.Info("all in-flight operations completed")
	}

	// Close plugins first (reverse order of init)
	if err := s.plugins.closeAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close plugins: %w", err))
	}

	// Close event bus only if using a real transport. For noop transport
	// the bus holds no resources.
	if s.eventBus != nil && (s.opts.eventTransport != nil || s.opts.redisClient != nil) {
		if err := s.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := s.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	return errors.Join(errs...)
}

// Client returns a conversation client for the given user.
func (s *service) Client(userID string) Client {
	return &userClient{
		userID:      userID,
		service:     s,
		validUserID: isValidUserID(userID),
	}
}

// Conversation returns a handle on an existing conversation.
func (s *service) Conversation(ctx context.Context, conversationID string) (*Conversation, error) {
	if atomic.LoadInt32(&s.state) != stateConnected {
		return nil, ErrNotConnected
	}

	data, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &Conversation{service: s, data: data}, nil
}

// isValidUserID checks if a user ID is valid.
// Valid user IDs are non-empty and contain only safe characters.
// This prevents key injection and other security issues.
func isValidUserID(userID string) bool {
	if userID == "" {
		return false
	}
	// Allow alphanumeric, hyphen, underscore, period, at-sign
	// Disallow: *, :, /, \, spaces, and control characters
	for _, c := range userID {
		if c == '*' || c == ':' || c == '/' || c == '\\' ||
			c == ' ' || c == '\t' || c == '\n' || c == '\r' ||
			c < 32 || c == 127 {
			return false
		}
	}
	return true
}
