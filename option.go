package converse

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/event/v3/transport"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mdevan/converse/store"
)

// Default configuration values.
const (
	DefaultShutdownTimeout = 30 * time.Second // default graceful shutdown timeout
	MinShutdownTimeout     = 1 * time.Second  // minimum shutdown timeout

	// Default message limits
	DefaultMaxSubjectLength  = 255              // conversation subject length
	DefaultMaxBodySize       = 10 * 1024 * 1024 // 10 MB
	DefaultMaxRecipientCount = 100              // max recipients per delivery
	DefaultMaxFileCount      = 20               // max attached files per message

	// Query limits
	DefaultMaxQueryLimit = 100 // max records per listing
	DefaultQueryLimit    = 20  // default records per listing

	// Concurrency limits
	DefaultMaxConcurrentDeliveries = 10 // max concurrent deliveries per service

	// Subject preview length used by Truncated.
	DefaultSubjectPreviewLength = 10
)

// options holds service configuration.
type options struct {
	store  store.Store
	logger *slog.Logger

	plugins []Plugin

	// Collaborators (all optional, noop defaults applied in NewService)
	sanitizer   Sanitizer
	dispatcher  NotificationDispatcher
	fileStore   FileStore
	grantor     PermissionGrantor
	resolver    RecipientResolver
	postDeliver PostDeliverHook

	// Message limits
	maxSubjectLength  int
	maxBodySize       int
	maxRecipientCount int
	maxFileCount      int

	// Query limits
	maxQueryLimit     int
	defaultQueryLimit int

	// Concurrency limits
	maxConcurrentDeliveries int

	// Shutdown
	shutdownTimeout time.Duration

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Event handling
	eventErrorsFatal      bool                    // If true, event publishing failures cause operation to fail
	eventTransport        transport.Transport     // Event transport (optional, uses noop if nil)
	redisClient           redis.UniversalClient   // Redis client for event transport (optional, uses noop if nil)
	onEventPublishFailure EventPublishFailureFunc // Callback for event publish failures (always set)
}

// EventPublishFailureFunc is called when an event fails to publish.
// The eventName is the name of the event (e.g., "MessageDelivered"), and
// err is the publish error.
type EventPublishFailureFunc func(eventName string, err error)

// safeEventPublishFailure calls the event failure callback with panic recovery.
// If the callback panics, the panic is logged and suppressed to prevent cascading failures.
func (o *options) safeEventPublishFailure(eventName string, err error) {
	if o.onEventPublishFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in event publish failure handler",
				"event", eventName,
				"original_error", err,
				"panic", r,
			)
		}
	}()
	o.onEventPublishFailure(eventName, err)
}

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		logger: slog.Default(),
		// Message limits defaults
		maxSubjectLength:  DefaultMaxSubjectLength,
		maxBodySize:       DefaultMaxBodySize,
		maxRecipientCount: DefaultMaxRecipientCount,
		maxFileCount:      DefaultMaxFileCount,
		// Query limits defaults
		maxQueryLimit:     DefaultMaxQueryLimit,
		defaultQueryLimit: DefaultQueryLimit,
		// Concurrency limits defaults
		maxConcurrentDeliveries: DefaultMaxConcurrentDeliveries,
		// Shutdown defaults
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}

	// Validate query limits consistency
	if o.defaultQueryLimit > o.maxQueryLimit {
		o.defaultQueryLimit = o.maxQueryLimit
	}

	// Ensure event failure callback is always set
	if o.onEventPublishFailure == nil {
		o.onEventPublishFailure = func(eventName string, err error) {
			o.logger.Error("failed to publish event", "event", eventName, "error", err)
		}
	}

	return o
}

// Option configures a conversation service.
type Option func(*options)

// --- Core Options ---

// WithStore sets the storage backend (required).
func WithStore(s store.Store) Option {
	return func(o *options) {
		if s != nil {
			o.store = s
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// --- Collaborator Options ---

// WithSanitizer sets the content sanitizer applied to subjects and bodies
// before validation. Default passes content through unchanged.
func WithSanitizer(s Sanitizer) Option {
	return func(o *options) {
		if s != nil {
			o.sanitizer = s
		}
	}
}

// WithDispatcher sets the notification dispatcher invoked after a message
// is persisted. Default is a no-op dispatcher.
func WithDispatcher(d NotificationDispatcher) Option {
	return func(o *options) {
		if d != nil {
			o.dispatcher = d
		}
	}
}

// WithFileStore sets the file store used to resolve attached file IDs
// to owned file records. Without a file store, deliveries with file IDs
// skip attachment handling.
func WithFileStore(fs FileStore) Option {
	return func(o *options) {
		if fs != nil {
			o.fileStore = fs
		}
	}
}

// WithPermissionGrantor sets the grantor used to give recipients access
// to non-public attached files.
func WithPermissionGrantor(g PermissionGrantor) Option {
	return func(o *options) {
		if g != nil {
			o.grantor = g
		}
	}
}

// WithResolver sets the recipient resolver used to produce display names
// for system message bodies and dispatch addressing.
func WithResolver(r RecipientResolver) Option {
	return func(o *options) {
		if r != nil {
			o.resolver = r
		}
	}
}

// WithPostDeliverHook sets a hook invoked after every successful delivery,
// including system messages. The hook runs after dispatch and must not
// block for long.
func WithPostDeliverHook(h PostDeliverHook) Option {
	return func(o *options) {
		if h != nil {
			o.postDeliver = h
		}
	}
}

// --- Plugin/Extension Options ---

// WithPlugin registers a plugin with the service.
// Plugins can hook into the delivery lifecycle.
// Multiple plugins can be registered by calling this option multiple times.
func WithPlugin(p Plugin) Option {
	return func(o *options) {
		if p != nil {
			o.plugins = append(o.plugins, p)
		}
	}
}

// WithPlugins registers multiple plugins at once.
func WithPlugins(plugins ...Plugin) Option {
	return func(o *options) {
		for _, p := range plugins {
			if p != nil {
				o.plugins = append(o.plugins, p)
			}
		}
	}
}

// --- OTel Options ---

// WithTracing enables or disables OpenTelemetry tracing.
// When enabled, spans are created for all service operations.
// Default is disabled.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables or disables OpenTelemetry metrics.
// When enabled, metrics are collected for all service operations.
// Default is disabled.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithOTel enables both OpenTelemetry tracing and metrics.
// This is a convenience function equivalent to calling
// WithTracing(true) and WithMetrics(true).
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the service name for OpenTelemetry telemetry.
// Default is "converse".
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom OpenTelemetry tracer provider.
// Default uses the global tracer provider from otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom OpenTelemetry meter provider.
// Default uses the global meter provider from otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// --- Message Limit Options ---

// WithMaxBodySize sets the maximum body size in bytes.
// Default is 10 MB.
func WithMaxBodySize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBodySize = n
		}
	}
}

// WithMaxRecipients sets the maximum number of recipients per delivery.
// Default is 100.
func WithMaxRecipients(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxRecipientCount = n
		}
	}
}

// WithMaxSubjectLength sets the maximum subject length in characters.
// Default is 255.
func WithMaxSubjectLength(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSubjectLength = n
		}
	}
}

// WithMaxFileCount sets the maximum number of attached files per message.
// Default is 20.
func WithMaxFileCount(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxFileCount = n
		}
	}
}

// --- Query Limit Options ---

// WithMaxQueryLimit sets the maximum number of records per listing.
// Any listing requesting more than this limit will be capped.
// Default is 100.
func WithMaxQueryLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxQueryLimit = n
		}
	}
}

// WithDefaultQueryLimit sets the default number of records per listing
// when no limit is specified. If this exceeds MaxQueryLimit, it is
// automatically capped to MaxQueryLimit.
// Default is 20.
func WithDefaultQueryLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.defaultQueryLimit = n
		}
	}
}

// --- Concurrency Options ---

// WithMaxConcurrentDeliveries sets the maximum number of concurrent
// delivery operations. This prevents resource exhaustion when many
// messages are being delivered simultaneously.
// Default is 10.
func WithMaxConcurrentDeliveries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentDeliveries = n
		}
	}
}

// WithShutdownTimeout sets the maximum time to wait for in-flight operations
// during graceful shutdown. When Close() is called, the service waits up to
// this duration for ongoing deliveries to complete.
// Default is 30 seconds. Minimum is 1 second.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= MinShutdownTimeout {
			o.shutdownTimeout = d
		}
	}
}

// --- Event Options ---

// WithEventErrorsFatal configures whether event publishing failures should
// cause the operation to fail. By default, event failures are logged but
// the operation succeeds (the message is still delivered).
//
// Set to true if your application requires guaranteed event delivery,
// for example when events drive critical downstream processes.
// Set to false (default) for fire-and-forget event publishing.
func WithEventErrorsFatal(fatal bool) Option {
	return func(o *options) {
		o.eventErrorsFatal = fatal
	}
}

// WithEventTransport sets the event transport for publishing and subscribing.
// When provided, events are published via the given transport for reliable delivery.
// If not provided, a noop transport is used (events are silently dropped).
//
// Example with Redis:
//
//	transport, _ := redis.New(redisClient)
//	svc, _ := converse.NewService(converse.WithEventTransport(transport))
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.eventTransport = t
		}
	}
}

// WithRedisClient sets a Redis client for the event transport.
// When provided, events are published to Redis Streams for reliable delivery.
// If not provided, a noop transport is used (events are silently dropped).
//
// Compatible with *redis.Client, *redis.ClusterClient, and redis.UniversalClient.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		if client != nil {
			o.redisClient = client
		}
	}
}

// WithEventPublishFailureHandler sets a callback for event publishing failures.
// This callback is invoked whenever an event fails to publish (and eventErrorsFatal is false).
// Use this for custom logging, metrics, or alerting on event failures.
//
// By default, failures are logged using the configured logger.
func WithEventPublishFailureHandler(fn EventPublishFailureFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.onEventPublishFailure = fn
		}
	}
}

// getLimits returns the configured message limits.
func (o *options) getLimits() MessageLimits {
	return MessageLimits{
		MaxSubjectLength:  o.maxSubjectLength,
		MaxBodySize:       o.maxBodySize,
		MaxRecipientCount: o.maxRecipientCount,
		MaxFileCount:      o.maxFileCount,
	}
}
