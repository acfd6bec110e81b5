package converse

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mdevan/converse/store"
)

// Plugin defines the interface for service extensions.
// Plugins can hook into message delivery to add custom behavior
// such as spam filtering, rate limiting, or content validation.
//
// For observing other operations (read, trash, destroy), use the event
// system instead (Service.Events()).
type Plugin interface {
	// Name returns the plugin identifier.
	Name() string
	// Init initializes the plugin. Called when service connects.
	Init(ctx context.Context) error
	// Close cleans up plugin resources. Called when service closes.
	Close(ctx context.Context) error
}

// DeliveryHook is called before/after delivering messages.
// This is the primary extension point for delivery validation and filtering.
type DeliveryHook interface {
	Plugin
	// BeforeDeliver is called before a message is persisted. Return an
	// error to abort. Use this for spam filtering, rate limiting, or
	// content validation.
	BeforeDeliver(ctx context.Context, senderID string, msg *store.Message, recipientIDs []string) error
	// AfterDeliver is called after a message is successfully persisted.
	// Return an error to signal post-delivery failures.
	// Note: The message is already delivered and cannot be rolled back.
	AfterDeliver(ctx context.Context, senderID string, msg *store.Message) error
}

// pluginRegistry holds registered plugins.
type pluginRegistry struct {
	all      []Plugin
	delivery []DeliveryHook
	logger   *slog.Logger
}

// newPluginRegistry creates a new plugin registry.
func newPluginRegistry(logger *slog.Logger) *pluginRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &pluginRegistry{logger: logger}
}

// register adds a plugin to the registry.
func (r *pluginRegistry) register(p Plugin) {
	r.all = append(r.all, p)

	if h, ok := p.(DeliveryHook); ok {
		r.delivery = append(r.delivery, h)
	}
}

// initAll initializes all plugins.
// On failure, already-initialized plugins are closed in reverse order.
func (r *pluginRegistry) initAll(ctx context.Context) error {
	for i, p := range r.all {
		if err := p.Init(ctx); err != nil {
			// Close already-initialized plugins in reverse order
			for j := i - 1; j >= 0; j-- {
				if closeErr := r.all[j].Close(ctx); closeErr != nil {
					r.logger.Error("failed to close plugin during init rollback",
						"plugin", r.all[j].Name(), "error", closeErr)
				}
			}
			return &PluginError{Plugin: p.Name(), Op: "init", Err: err}
		}
	}
	return nil
}

// closeAll closes all plugins in reverse order.
func (r *pluginRegistry) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(r.all) - 1; i >= 0; i-- {
		if err := r.all[i].Close(ctx); err != nil {
			errs = append(errs, &PluginError{Plugin: r.all[i].Name(), Op: "close", Err: err})
		}
	}
	return errors.Join(errs...)
}

// PluginError represents an error from a plugin.
type PluginError struct {
	Plugin string
	Op     string
	Err    error
}

func (e *PluginError) Error() string {
	return "plugin " + e.Plugin + " " + e.Op + ": " + e.Err.Error()
}

func (e *PluginError) Unwrap() error {
	return e.Err
}

// Hook execution helpers

func (r *pluginRegistry) beforeDeliver(ctx context.Context, senderID string, msg *store.Message, recipientIDs []string) error {
	for _, h := range r.delivery {
		if err := h.BeforeDeliver(ctx, senderID, msg, recipientIDs); err != nil {
			return &PluginError{Plugin: h.Name(), Op: "BeforeDeliver", Err: err}
		}
	}
	return nil
}

func (r *pluginRegistry) afterDeliver(ctx context.Context, senderID string, msg *store.Message) error {
	for _, h := range r.delivery {
		if err := h.AfterDeliver(ctx, senderID, msg); err != nil {
			return &PluginError{Plugin: h.Name(), Op: "AfterDeliver", Err: err}
		}
	}
	return nil
}
