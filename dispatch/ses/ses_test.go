package ses

import (
	"context"
	"errors"
	"testing"
	"time"

	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/mdevan/converse"
	"github.com/mdevan/converse/resolver"
	"github.com/mdevan/converse/retry"
	"github.com/mdevan/converse/store"
)

// mockSESClient implements SendEmailAPI for testing.
type mockSESClient struct {
	sendFn    func(ctx context.Context, params *sesv2.SendEmailInput) (*sesv2.SendEmailOutput, error)
	callCount int
	lastInput *sesv2.SendEmailInput
}

func (m *mockSESClient) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.callCount++
	m.lastInput = params
	if m.sendFn != nil {
		return m.sendFn(ctx, params)
	}
	return &sesv2.SendEmailOutput{}, nil
}

func testResolver() converse.RecipientResolver {
	return resolver.NewStatic(map[string]*converse.Recipient{
		"alice": {UserID: "alice", Name: "Alice", Email: "alice@example.com"},
		"bob":   {UserID: "bob", Name: "Bob", Email: "bob@example.com"},
		"ghost": {UserID: "ghost", Name: "Ghost"}, // no email address
	})
}

func testMessage() (*store.Message, *store.Conversation) {
	conv := &store.Conversation{ID: "conv-1", Subject: "Weekend plans"}
	msg := &store.Message{ID: "msg-1", ConversationID: conv.ID, SenderID: "alice", Body: "BBQ on Saturday"}
	return msg, conv
}

func fastRetry() retry.Config {
	return retry.Config{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}
}

func TestNewWithClient(t *testing.T) {
	client := &mockSESClient{}

	t.Run("requires resolver", func(t *testing.T) {
		_, err := NewWithClient(Config{Sender: "noreply@example.com"}, client)
		if err == nil {
			t.Error("expected error without resolver")
		}
	})

	t.Run("requires sender", func(t *testing.T) {
		_, err := NewWithClient(Config{Resolver: testResolver()}, client)
		if err == nil {
			t.Error("expected error without sender")
		}
	})

	t.Run("valid config", func(t *testing.T) {
		d, err := NewWithClient(Config{Sender: "noreply@example.com", Resolver: testResolver()}, client)
		if err != nil || d == nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("sends one email with recipients in bcc", func(t *testing.T) {
		client := &mockSESClient{}
		d, err := NewWithClient(Config{
			Sender:   "noreply@example.com",
			Resolver: testResolver(),
			Retry:    fastRetry(),
		}, client)
		if err != nil {
			t.Fatalf("new: %v", err)
		}

		msg, conv := testMessage()
		if err := d.Dispatch(ctx, msg, conv, []string{"alice", "bob"}); err != nil {
			t.Fatalf("dispatch: %v", err)
		}

		if client.callCount != 1 {
			t.Fatalf("expected 1 send, got %d", client.callCount)
		}
		input := client.lastInput
		if *input.FromEmailAddress != "noreply@example.com" {
			t.Errorf("unexpected sender: %s", *input.FromEmailAddress)
		}
		if len(input.Destination.BccAddresses) != 2 {
			t.Errorf("expected 2 bcc addresses, got %v", input.Destination.BccAddresses)
		}
		if *input.Content.Simple.Subject.Data != "Weekend plans" {
			t.Errorf("unexpected subject: %s", *input.Content.Simple.Subject.Data)
		}
		if *input.Content.Simple.Body.Text.Data != "BBQ on Saturday" {
			t.Errorf("unexpected body: %s", *input.Content.Simple.Body.Text.Data)
		}
	})

	t.Run("skips unresolvable recipients", func(t *testing.T) {
		client := &mockSESClient{}
		d, _ := NewWithClient(Config{
			Sender:   "noreply@example.com",
			Resolver: testResolver(),
			Retry:    fastRetry(),
		}, client)

		msg, conv := testMessage()
		if err := d.Dispatch(ctx, msg, conv, []string{"bob", "ghost", "unknown"}); err != nil {
			t.Fatalf("dispatch: %v", err)
		}

		bcc := client.lastInput.Destination.BccAddresses
		if len(bcc) != 1 || bcc[0] != "bob@example.com" {
			t.Errorf("expected only bob, got %v", bcc)
		}
	})

	t.Run("no resolvable recipients is a no-op", func(t *testing.T) {
		client := &mockSESClient{}
		d, _ := NewWithClient(Config{
			Sender:   "noreply@example.com",
			Resolver: testResolver(),
			Retry:    fastRetry(),
		}, client)

		msg, conv := testMessage()
		if err := d.Dispatch(ctx, msg, conv, []string{"ghost", "unknown"}); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if client.callCount != 0 {
			t.Errorf("expected no send, got %d", client.callCount)
		}
	})

	t.Run("empty recipient list is a no-op", func(t *testing.T) {
		client := &mockSESClient{}
		d, _ := NewWithClient(Config{
			Sender:   "noreply@example.com",
			Resolver: testResolver(),
			Retry:    fastRetry(),
		}, client)

		msg, conv := testMessage()
		if err := d.Dispatch(ctx, msg, conv, nil); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if client.callCount != 0 {
			t.Errorf("expected no send, got %d", client.callCount)
		}
	})

	t.Run("retries transient failures", func(t *testing.T) {
		attempts := 0
		client := &mockSESClient{
			sendFn: func(ctx context.Context, params *sesv2.SendEmailInput) (*sesv2.SendEmailOutput, error) {
				attempts++
				if attempts < 2 {
					return nil, errors.New("throttled")
				}
				return &sesv2.SendEmailOutput{}, nil
			},
		}
		d, _ := NewWithClient(Config{
			Sender:   "noreply@example.com",
			Resolver: testResolver(),
			Retry:    fastRetry(),
		}, client)

		msg, conv := testMessage()
		if err := d.Dispatch(ctx, msg, conv, []string{"bob"}); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if attempts != 2 {
			t.Errorf("expected 2 attempts, got %d", attempts)
		}
	})

	t.Run("persistent failure surfaces the error", func(t *testing.T) {
		sendErr := errors.New("ses unavailable")
		client := &mockSESClient{
			sendFn: func(ctx context.Context, params *sesv2.SendEmailInput) (*sesv2.SendEmailOutput, error) {
				return nil, sendErr
			},
		}
		d, _ := NewWithClient(Config{
			Sender:   "noreply@example.com",
			Resolver: testResolver(),
			Retry:    fastRetry(),
		}, client)

		msg, conv := testMessage()
		err := d.Dispatch(ctx, msg, conv, []string{"bob"})
		if !errors.Is(err, sendErr) {
			t.Errorf("expected send error in the chain, got %v", err)
		}
		// First attempt plus the configured retries.
		if client.callCount != 3 {
			t.Errorf("expected 3 attempts, got %d", client.callCount)
		}
	})

	t.Run("non-retryable failure stops immediately", func(t *testing.T) {
		client := &mockSESClient{
			sendFn: func(ctx context.Context, params *sesv2.SendEmailInput) (*sesv2.SendEmailOutput, error) {
				return nil, retry.MarkNotRetryable(errors.New("address rejected"))
			},
		}
		d, _ := NewWithClient(Config{
			Sender:   "noreply@example.com",
			Resolver: testResolver(),
			Retry:    fastRetry(),
		}, client)

		msg, conv := testMessage()
		if err := d.Dispatch(ctx, msg, conv, []string{"bob"}); err == nil {
			t.Fatal("expected error")
		}
		if client.callCount != 1 {
			t.Errorf("expected 1 attempt, got %d", client.callCount)
		}
	})
}
