package converse

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mdevan/converse/store"
	"github.com/mdevan/converse/store/memory"
)

// recordingDispatcher captures dispatch calls for assertions.
type recordingDispatcher struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, msg *store.Message, conv *store.Conversation, recipientIDs []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, append([]string(nil), recipientIDs...))
	return d.err
}

func (d *recordingDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *recordingDispatcher) lastCall() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.calls) == 0 {
		return nil
	}
	return d.calls[len(d.calls)-1]
}

func setupTestServiceWithDispatcher(t *testing.T, dispatcher NotificationDispatcher) Service {
	t.Helper()

	svc, err := NewService(
		WithStore(memory.New()),
		WithDispatcher(dispatcher),
	)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	return svc
}

func TestStart(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	defer svc.Close(ctx)

	alice := svc.Client("alice")

	t.Run("delivers opening message with receipts", func(t *testing.T) {
		delivery, err := alice.Start(ctx, StartRequest{
			Subject:      "Lunch",
			Body:         "Pizza on Friday?",
			RecipientIDs: []string{"bob", "carol"},
		})
		if err != nil {
			t.Fatalf("start failed: %v", err)
		}

		if delivery.Conversation == nil || delivery.Conversation.Subject != "Lunch" {
			t.Fatalf("unexpected conversation: %+v", delivery.Conversation)
		}
		if delivery.Message == nil || delivery.Message.ID == "" {
			t.Fatal("expected persisted message")
		}

		// Sender's sentbox receipt is created already read.
		sr := delivery.SenderReceipt
		if sr == nil {
			t.Fatal("expected sender receipt")
		}
		if sr.Mailbox != store.MailboxSentbox || !sr.IsRead || sr.ReceiverID != "alice" {
			t.Errorf("unexpected sender receipt: %+v", sr)
		}

		if len(delivery.RecipientReceipts) != 2 {
			t.Fatalf("expected 2 recipient receipts, got %d", len(delivery.RecipientReceipts))
		}
		for _, r := range delivery.RecipientReceipts {
			if r.Mailbox != store.MailboxInbox || r.IsRead {
				t.Errorf("unexpected recipient receipt: %+v", r)
			}
		}

		// All three are members.
		conv, err := svc.Conversation(ctx, delivery.Conversation.ID)
		if err != nil {
			t.Fatalf("get conversation: %v", err)
		}
		participants, err := conv.Participants(ctx)
		if err != nil {
			t.Fatalf("participants: %v", err)
		}
		if len(participants) != 3 {
			t.Errorf("expected 3 participants, got %v", participants)
		}
	})

	t.Run("sender as recipient gets inbox receipt too", func(t *testing.T) {
		delivery, err := alice.Start(ctx, StartRequest{
			Subject:      "Note to self",
			Body:         "Buy milk",
			RecipientIDs: []string{"alice"},
		})
		if err != nil {
			t.Fatalf("start failed: %v", err)
		}
		if len(delivery.RecipientReceipts) != 1 {
			t.Fatalf("expected 1 recipient receipt, got %d", len(delivery.RecipientReceipts))
		}
		r := delivery.RecipientReceipts[0]
		if r.ReceiverID != "alice" || r.Mailbox != store.MailboxInbox || r.IsRead {
			t.Errorf("unexpected self receipt: %+v", r)
		}
	})

	t.Run("duplicate recipients collapse to one receipt", func(t *testing.T) {
		delivery, err := alice.Start(ctx, StartRequest{
			Subject:      "Dupes",
			Body:         "once",
			RecipientIDs: []string{"bob", "bob", "bob"},
		})
		if err != nil {
			t.Fatalf("start failed: %v", err)
		}
		if len(delivery.RecipientReceipts) != 1 {
			t.Errorf("expected 1 recipient receipt, got %d", len(delivery.RecipientReceipts))
		}
	})

	t.Run("rejects empty subject", func(t *testing.T) {
		_, err := alice.Start(ctx, StartRequest{
			Body:         "content",
			RecipientIDs: []string{"bob"},
		})
		if !errors.Is(err, ErrEmptySubject) {
			t.Errorf("expected ErrEmptySubject, got %v", err)
		}
	})

	t.Run("rejects empty recipients", func(t *testing.T) {
		_, err := alice.Start(ctx, StartRequest{
			Subject: "hi",
			Body:    "content",
		})
		if !errors.Is(err, ErrEmptyRecipients) {
			t.Errorf("expected ErrEmptyRecipients, got %v", err)
		}
	})

	t.Run("empty body returns sender receipt with error", func(t *testing.T) {
		delivery, err := alice.Start(ctx, StartRequest{
			Subject:      "No body",
			RecipientIDs: []string{"bob"},
		})
		if !errors.Is(err, ErrEmptyBody) {
			t.Fatalf("expected ErrEmptyBody, got %v", err)
		}
		if delivery == nil || delivery.SenderReceipt == nil {
			t.Fatal("expected delivery with sender receipt alongside the error")
		}
		// Nothing persisted.
		if delivery.SenderReceipt.ID != "" {
			t.Error("expected unpersisted sender receipt")
		}

		// The conversation shell was rolled back.
		if _, err := svc.Conversation(ctx, delivery.Conversation.ID); err == nil {
			t.Error("expected conversation to be rolled back")
		}
	})

	t.Run("cancelled context still returns the sender receipt", func(t *testing.T) {
		// Cancellation surfaces at the delivery semaphore, before anything
		// is persisted. The caller still gets the unpersisted sender
		// receipt alongside the error.
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		delivery, err := alice.Start(cancelled, StartRequest{
			Subject:      "Doomed",
			Body:         "never sent",
			RecipientIDs: []string{"bob"},
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if delivery == nil || delivery.SenderReceipt == nil {
			t.Fatal("expected delivery with sender receipt alongside the error")
		}
		if delivery.SenderReceipt.ID != "" {
			t.Error("expected unpersisted sender receipt")
		}
	})
}

func TestReply(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	defer svc.Close(ctx)

	alice := svc.Client("alice")
	bob := svc.Client("bob")

	delivery, err := alice.Start(ctx, StartRequest{
		Subject:      "Thread",
		Body:         "opening",
		RecipientIDs: []string{"bob", "carol"},
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	convID := delivery.Conversation.ID

	t.Run("reply fans out to other members", func(t *testing.T) {
		reply, err := bob.Reply(ctx, convID, "response")
		if err != nil {
			t.Fatalf("reply failed: %v", err)
		}
		if reply.SenderReceipt.ReceiverID != "bob" || reply.SenderReceipt.Mailbox != store.MailboxSentbox {
			t.Errorf("unexpected sender receipt: %+v", reply.SenderReceipt)
		}

		receivers := map[string]bool{}
		for _, r := range reply.RecipientReceipts {
			receivers[r.ReceiverID] = true
		}
		if !receivers["alice"] || !receivers["carol"] || receivers["bob"] {
			t.Errorf("unexpected recipient set: %v", receivers)
		}
	})

	t.Run("non-member cannot reply", func(t *testing.T) {
		mallory := svc.Client("mallory")
		_, err := mallory.Reply(ctx, convID, "let me in")
		if !errors.Is(err, ErrNotParticipant) {
			t.Errorf("expected ErrNotParticipant, got %v", err)
		}
	})

	t.Run("reply bumps conversation activity", func(t *testing.T) {
		before, err := svc.Conversation(ctx, convID)
		if err != nil {
			t.Fatalf("get conversation: %v", err)
		}

		if _, err := alice.Reply(ctx, convID, "bump"); err != nil {
			t.Fatalf("reply failed: %v", err)
		}

		after, err := svc.Conversation(ctx, convID)
		if err != nil {
			t.Fatalf("get conversation: %v", err)
		}
		if after.UpdatedAt().Before(before.UpdatedAt()) {
			t.Error("expected UpdatedAt to advance on reply")
		}
	})
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("notifies recipients but not the sender", func(t *testing.T) {
		dispatcher := &recordingDispatcher{}
		svc := setupTestServiceWithDispatcher(t, dispatcher)
		defer svc.Close(ctx)

		alice := svc.Client("alice")
		if _, err := alice.Start(ctx, StartRequest{
			Subject:      "Notify",
			Body:         "hello",
			RecipientIDs: []string{"bob", "alice"},
		}); err != nil {
			t.Fatalf("start failed: %v", err)
		}

		if dispatcher.callCount() != 1 {
			t.Fatalf("expected 1 dispatch, got %d", dispatcher.callCount())
		}
		notified := dispatcher.lastCall()
		if len(notified) != 1 || notified[0] != "bob" {
			t.Errorf("expected only bob notified, got %v", notified)
		}
	})

	t.Run("opted-out participants are excluded", func(t *testing.T) {
		dispatcher := &recordingDispatcher{}
		svc := setupTestServiceWithDispatcher(t, dispatcher)
		defer svc.Close(ctx)

		alice := svc.Client("alice")
		delivery, err := alice.Start(ctx, StartRequest{
			Subject:      "Opt-outs",
			Body:         "hello",
			RecipientIDs: []string{"bob", "carol"},
		})
		if err != nil {
			t.Fatalf("start failed: %v", err)
		}

		conv, err := svc.Conversation(ctx, delivery.Conversation.ID)
		if err != nil {
			t.Fatalf("get conversation: %v", err)
		}
		if err := conv.OptOut(ctx, "carol"); err != nil {
			t.Fatalf("opt out: %v", err)
		}

		if _, err := alice.Reply(ctx, delivery.Conversation.ID, "again"); err != nil {
			t.Fatalf("reply failed: %v", err)
		}

		notified := dispatcher.lastCall()
		if len(notified) != 1 || notified[0] != "bob" {
			t.Errorf("expected only bob notified after carol opted out, got %v", notified)
		}
	})

	t.Run("dispatch failure keeps the persisted message", func(t *testing.T) {
		dispatcher := &recordingDispatcher{err: errors.New("smtp down")}
		svc := setupTestServiceWithDispatcher(t, dispatcher)
		defer svc.Close(ctx)

		alice := svc.Client("alice")
		delivery, err := alice.Start(ctx, StartRequest{
			Subject:      "Flaky",
			Body:         "hello",
			RecipientIDs: []string{"bob"},
		})
		if err == nil {
			t.Fatal("expected dispatch error")
		}
		de, ok := IsDispatchError(err)
		if !ok {
			t.Fatalf("expected DispatchError, got %v", err)
		}
		if de.MessageID != delivery.Message.ID {
			t.Errorf("expected message ID %q in error, got %q", delivery.Message.ID, de.MessageID)
		}

		// Message and conversation survive the failed dispatch.
		conv, convErr := svc.Conversation(ctx, delivery.Conversation.ID)
		if convErr != nil {
			t.Fatalf("conversation should survive: %v", convErr)
		}
		count, countErr := conv.CountMessages(ctx)
		if countErr != nil || count != 1 {
			t.Errorf("expected 1 persisted message, got %d (%v)", count, countErr)
		}
	})
}

func TestListings(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	defer svc.Close(ctx)

	alice := svc.Client("alice")
	bob := svc.Client("bob")

	first, err := alice.Start(ctx, StartRequest{
		Subject:      "First",
		Body:         "one",
		RecipientIDs: []string{"bob"},
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := alice.Start(ctx, StartRequest{
		Subject:      "Second",
		Body:         "two",
		RecipientIDs: []string{"bob"},
	}); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	t.Run("inbox lists received conversations", func(t *testing.T) {
		list, err := bob.Inbox(ctx, store.ListOptions{})
		if err != nil {
			t.Fatalf("inbox failed: %v", err)
		}
		if list.Total != 2 || len(list.Conversations) != 2 {
			t.Errorf("expected 2 inbox conversations, got total=%d len=%d", list.Total, len(list.Conversations))
		}
	})

	t.Run("sender inbox is empty", func(t *testing.T) {
		list, err := alice.Inbox(ctx, store.ListOptions{})
		if err != nil {
			t.Fatalf("inbox failed: %v", err)
		}
		if list.Total != 0 {
			t.Errorf("expected empty inbox for sender, got %d", list.Total)
		}
	})

	t.Run("sentbox lists sent conversations", func(t *testing.T) {
		list, err := alice.Sentbox(ctx, store.ListOptions{})
		if err != nil {
			t.Fatalf("sentbox failed: %v", err)
		}
		if list.Total != 2 {
			t.Errorf("expected 2 sentbox conversations, got %d", list.Total)
		}
	})

	t.Run("unread shrinks after mark as read", func(t *testing.T) {
		list, err := bob.Unread(ctx, store.ListOptions{})
		if err != nil {
			t.Fatalf("unread failed: %v", err)
		}
		if list.Total != 2 {
			t.Fatalf("expected 2 unread, got %d", list.Total)
		}

		conv, err := svc.Conversation(ctx, first.Conversation.ID)
		if err != nil {
			t.Fatalf("get conversation: %v", err)
		}
		if err := conv.MarkAsRead(ctx, "bob"); err != nil {
			t.Fatalf("mark as read: %v", err)
		}

		list, err = bob.Unread(ctx, store.ListOptions{})
		if err != nil {
			t.Fatalf("unread failed: %v", err)
		}
		if list.Total != 1 {
			t.Errorf("expected 1 unread after marking, got %d", list.Total)
		}
	})

	t.Run("trash scope tracks trashed conversations", func(t *testing.T) {
		conv, err := svc.Conversation(ctx, first.Conversation.ID)
		if err != nil {
			t.Fatalf("get conversation: %v", err)
		}
		if err := conv.MoveToTrash(ctx, "bob"); err != nil {
			t.Fatalf("move to trash: %v", err)
		}

		trash, err := bob.Trash(ctx, store.ListOptions{})
		if err != nil {
			t.Fatalf("trash failed: %v", err)
		}
		if trash.Total != 1 {
			t.Errorf("expected 1 trashed, got %d", trash.Total)
		}

		inbox, err := bob.Inbox(ctx, store.ListOptions{})
		if err != nil {
			t.Fatalf("inbox failed: %v", err)
		}
		if inbox.Total != 1 {
			t.Errorf("expected trashed conversation out of inbox, got %d", inbox.Total)
		}

		if err := conv.Untrash(ctx, "bob"); err != nil {
			t.Fatalf("untrash: %v", err)
		}
		inbox, _ = bob.Inbox(ctx, store.ListOptions{})
		if inbox.Total != 2 {
			t.Errorf("expected restored inbox of 2, got %d", inbox.Total)
		}
	})

	t.Run("invalid scope is rejected", func(t *testing.T) {
		_, err := bob.Conversations(ctx, store.Scope("bogus"), store.ListOptions{})
		if err == nil {
			t.Error("expected error for invalid scope")
		}
	})
}

func TestEmptyTrash(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	defer svc.Close(ctx)

	alice := svc.Client("alice")
	bob := svc.Client("bob")

	delivery, err := alice.Start(ctx, StartRequest{
		Subject:      "Disposable",
		Body:         "trash me",
		RecipientIDs: []string{"bob"},
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	convID := delivery.Conversation.ID

	conv, err := svc.Conversation(ctx, convID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if err := conv.MoveToTrash(ctx, "bob"); err != nil {
		t.Fatalf("move to trash: %v", err)
	}

	result, err := bob.EmptyTrash(ctx)
	if err != nil {
		t.Fatalf("empty trash failed: %v", err)
	}
	if result.Deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", result.Deleted)
	}
	if result.Destroyed != 0 {
		t.Errorf("conversation still has alice's receipts, expected 0 destroyed, got %d", result.Destroyed)
	}

	// Bob's trash is drained.
	trash, err := bob.Trash(ctx, store.ListOptions{})
	if err != nil {
		t.Fatalf("trash failed: %v", err)
	}
	if trash.Total != 0 {
		t.Errorf("expected empty trash, got %d", trash.Total)
	}

	// Alice deleting too orphans and destroys the conversation.
	if _, err := conv.MarkAsDeleted(ctx, "alice"); err != nil {
		t.Fatalf("mark as deleted: %v", err)
	}
	if _, err := svc.Conversation(ctx, convID); err == nil {
		t.Error("expected conversation destroyed after all participants deleted")
	}
}
