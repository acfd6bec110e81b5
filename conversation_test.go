package converse

import (
	"context"
	"strings"
	"testing"

	"github.com/mdevan/converse/store"
	"github.com/mdevan/converse/store/memory"
)

// startConversation is a shorthand for tests that need a seeded
// three-party conversation.
func startConversation(t *testing.T, svc Service, sender string, recipients ...string) *Conversation {
	t.Helper()

	delivery, err := svc.Client(sender).Start(context.Background(), StartRequest{
		Subject:      "Test thread",
		Body:         "opening message",
		RecipientIDs: recipients,
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	conv, err := svc.Conversation(context.Background(), delivery.Conversation.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	return conv
}

func TestConversationFlags(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	defer svc.Close(ctx)

	conv := startConversation(t, svc, "alice", "bob")

	t.Run("recipient starts unread", func(t *testing.T) {
		unread, err := conv.IsUnread(ctx, "bob")
		if err != nil {
			t.Fatalf("IsUnread: %v", err)
		}
		if !unread {
			t.Error("expected bob unread")
		}
	})

	t.Run("sender starts read", func(t *testing.T) {
		read, err := conv.IsRead(ctx, "alice")
		if err != nil {
			t.Fatalf("IsRead: %v", err)
		}
		if !read {
			t.Error("expected alice read, sentbox receipts are created read")
		}
	})

	t.Run("mark as read then unread", func(t *testing.T) {
		if err := conv.MarkAsRead(ctx, "bob"); err != nil {
			t.Fatalf("MarkAsRead: %v", err)
		}
		read, _ := conv.IsRead(ctx, "bob")
		if !read {
			t.Error("expected bob read after MarkAsRead")
		}

		if err := conv.MarkAsUnread(ctx, "bob"); err != nil {
			t.Fatalf("MarkAsUnread: %v", err)
		}
		unread, _ := conv.IsUnread(ctx, "bob")
		if !unread {
			t.Error("expected bob unread after MarkAsUnread")
		}
	})

	t.Run("trash and untrash", func(t *testing.T) {
		if err := conv.MoveToTrash(ctx, "bob"); err != nil {
			t.Fatalf("MoveToTrash: %v", err)
		}
		trashed, _ := conv.IsTrashed(ctx, "bob")
		completely, _ := conv.IsCompletelyTrashed(ctx, "bob")
		if !trashed || !completely {
			t.Errorf("expected fully trashed, got trashed=%v completely=%v", trashed, completely)
		}

		if err := conv.Untrash(ctx, "bob"); err != nil {
			t.Fatalf("Untrash: %v", err)
		}
		trashed, _ = conv.IsTrashed(ctx, "bob")
		if trashed {
			t.Error("expected untrashed")
		}
	})

	t.Run("empty participant ID is a no-op", func(t *testing.T) {
		if err := conv.MarkAsRead(ctx, ""); err != nil {
			t.Errorf("MarkAsRead with empty ID: %v", err)
		}
		if err := conv.MoveToTrash(ctx, ""); err != nil {
			t.Errorf("MoveToTrash with empty ID: %v", err)
		}
		unread, err := conv.IsUnread(ctx, "")
		if err != nil || unread {
			t.Errorf("IsUnread with empty ID: got %v, %v", unread, err)
		}
	})

	t.Run("non-participant is completely untouched", func(t *testing.T) {
		completely, err := conv.IsCompletelyTrashed(ctx, "stranger")
		if err != nil {
			t.Fatalf("IsCompletelyTrashed: %v", err)
		}
		if completely {
			t.Error("participant with no receipts should not be completely trashed")
		}
	})
}

func TestConversationDeletion(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	defer svc.Close(ctx)

	conv := startConversation(t, svc, "alice", "bob")
	convID := conv.ID()

	t.Run("single delete does not destroy", func(t *testing.T) {
		destroyed, err := conv.MarkAsDeleted(ctx, "bob")
		if err != nil {
			t.Fatalf("MarkAsDeleted: %v", err)
		}
		if destroyed {
			t.Error("expected conversation to survive while alice holds live receipts")
		}

		deleted, _ := conv.IsDeleted(ctx, "bob")
		if !deleted {
			t.Error("expected bob deleted")
		}
		deleted, _ = conv.IsDeleted(ctx, "alice")
		if deleted {
			t.Error("expected alice not deleted")
		}
	})

	t.Run("last delete destroys the conversation", func(t *testing.T) {
		destroyed, err := conv.MarkAsDeleted(ctx, "alice")
		if err != nil {
			t.Fatalf("MarkAsDeleted: %v", err)
		}
		if !destroyed {
			t.Fatal("expected orphaned conversation to be destroyed")
		}

		if _, err := svc.Conversation(ctx, convID); err == nil {
			t.Error("expected conversation gone after destroy")
		}
	})

	t.Run("destroy cascades through the store", func(t *testing.T) {
		st := memory.New()
		svc2, err := NewService(WithStore(st))
		if err != nil {
			t.Fatalf("NewService: %v", err)
		}
		if err := svc2.Connect(ctx); err != nil {
			t.Fatalf("Connect: %v", err)
		}
		defer svc2.Close(ctx)

		conv2 := startConversation(t, svc2, "alice", "bob")
		id := conv2.ID()
		if _, err := conv2.MarkAsDeleted(ctx, "bob"); err != nil {
			t.Fatalf("MarkAsDeleted: %v", err)
		}
		if _, err := conv2.MarkAsDeleted(ctx, "alice"); err != nil {
			t.Fatalf("MarkAsDeleted: %v", err)
		}

		if _, err := st.GetConversation(ctx, id); !store.IsNotFound(err) {
			t.Errorf("expected ErrNotFound for destroyed conversation, got %v", err)
		}
		receipts, err := st.ConversationReceipts(ctx, id)
		if err != nil {
			t.Fatalf("ConversationReceipts: %v", err)
		}
		if len(receipts) != 0 {
			t.Errorf("expected no receipts after destroy, got %d", len(receipts))
		}
		count, err := st.CountMessages(ctx, id)
		if err != nil || count != 0 {
			t.Errorf("expected no messages after destroy, got %d (%v)", count, err)
		}
	})

	t.Run("deletion is per participant", func(t *testing.T) {
		other := startConversation(t, svc, "alice", "bob", "carol")
		if _, err := other.MarkAsDeleted(ctx, "carol"); err != nil {
			t.Fatalf("MarkAsDeleted: %v", err)
		}
		if _, err := svc.Conversation(ctx, other.ID()); err != nil {
			t.Errorf("conversation should survive partial deletion: %v", err)
		}
	})
}

func TestConversationMessages(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	defer svc.Close(ctx)

	conv := startConversation(t, svc, "alice", "bob")
	if _, err := svc.Client("bob").Reply(ctx, conv.ID(), "second"); err != nil {
		t.Fatalf("reply failed: %v", err)
	}
	if _, err := svc.Client("alice").Reply(ctx, conv.ID(), "third"); err != nil {
		t.Fatalf("reply failed: %v", err)
	}

	t.Run("original message and originator", func(t *testing.T) {
		msg, err := conv.OriginalMessage(ctx)
		if err != nil {
			t.Fatalf("OriginalMessage: %v", err)
		}
		if msg == nil || msg.Body != "opening message" {
			t.Fatalf("unexpected original message: %+v", msg)
		}
		origin, err := conv.Originator(ctx)
		if err != nil || origin != "alice" {
			t.Errorf("expected originator alice, got %q (%v)", origin, err)
		}
	})

	t.Run("last message and sender", func(t *testing.T) {
		msg, err := conv.LastMessage(ctx)
		if err != nil {
			t.Fatalf("LastMessage: %v", err)
		}
		if msg == nil || msg.Body != "third" {
			t.Fatalf("unexpected last message: %+v", msg)
		}
		sender, err := conv.LastSender(ctx)
		if err != nil || sender != "alice" {
			t.Errorf("expected last sender alice, got %q (%v)", sender, err)
		}
	})

	t.Run("messages are ordered oldest first", func(t *testing.T) {
		msgs, err := conv.Messages(ctx, store.ListOptions{})
		if err != nil {
			t.Fatalf("Messages: %v", err)
		}
		if len(msgs) != 3 {
			t.Fatalf("expected 3 messages, got %d", len(msgs))
		}
		if msgs[0].Body != "opening message" || msgs[2].Body != "third" {
			t.Errorf("unexpected order: %q ... %q", msgs[0].Body, msgs[2].Body)
		}
	})

	t.Run("count", func(t *testing.T) {
		n, err := conv.CountMessages(ctx)
		if err != nil || n != 3 {
			t.Errorf("expected 3, got %d (%v)", n, err)
		}
	})

	t.Run("pagination", func(t *testing.T) {
		msgs, err := conv.Messages(ctx, store.ListOptions{Limit: 2, Offset: 1})
		if err != nil {
			t.Fatalf("Messages: %v", err)
		}
		if len(msgs) != 2 || msgs[0].Body != "second" {
			t.Errorf("unexpected page: %+v", msgs)
		}
	})
}

func TestStreamMessages(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	defer svc.Close(ctx)

	conv := startConversation(t, svc, "alice", "bob")
	bodies := []string{"opening message"}
	for _, body := range []string{"one", "two", "three", "four"} {
		if _, err := svc.Client("bob").Reply(ctx, conv.ID(), body); err != nil {
			t.Fatalf("reply failed: %v", err)
		}
		bodies = append(bodies, body)
	}

	t.Run("iterates all messages in batches", func(t *testing.T) {
		it := conv.StreamMessages(2)
		var got []string
		for {
			ok, err := it.Next(ctx)
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if !ok {
				break
			}
			msg, err := it.Message()
			if err != nil {
				t.Fatalf("Message: %v", err)
			}
			got = append(got, msg.Body)
		}
		if len(got) != len(bodies) {
			t.Fatalf("expected %d messages, got %d", len(bodies), len(got))
		}
		for i := range bodies {
			if got[i] != bodies[i] {
				t.Errorf("message %d: expected %q, got %q", i, bodies[i], got[i])
			}
		}
	})

	t.Run("message before next errors", func(t *testing.T) {
		it := conv.StreamMessages(0)
		if _, err := it.Message(); err == nil {
			t.Error("expected error before first Next")
		}
	})
}

func TestConversationSubscription(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	defer svc.Close(ctx)

	conv := startConversation(t, svc, "alice", "bob")

	t.Run("subscribed by default", func(t *testing.T) {
		sub, err := conv.HasSubscriber(ctx, "bob")
		if err != nil || !sub {
			t.Errorf("expected subscribed, got %v (%v)", sub, err)
		}
	})

	t.Run("opt out then back in", func(t *testing.T) {
		if err := conv.OptOut(ctx, "bob"); err != nil {
			t.Fatalf("OptOut: %v", err)
		}
		sub, _ := conv.HasSubscriber(ctx, "bob")
		if sub {
			t.Error("expected unsubscribed after opt-out")
		}

		// Repeated opt-out is a no-op.
		if err := conv.OptOut(ctx, "bob"); err != nil {
			t.Fatalf("repeated OptOut: %v", err)
		}

		if err := conv.OptIn(ctx, "bob"); err != nil {
			t.Fatalf("OptIn: %v", err)
		}
		sub, _ = conv.HasSubscriber(ctx, "bob")
		if !sub {
			t.Error("expected subscribed after opt-in")
		}
	})

	t.Run("opt in without opt out is a no-op", func(t *testing.T) {
		if err := conv.OptIn(ctx, "alice"); err != nil {
			t.Errorf("OptIn: %v", err)
		}
	})
}

func TestTruncatedSubject(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	defer svc.Close(ctx)

	long := strings.Repeat("subject ", 20)
	delivery, err := svc.Client("alice").Start(ctx, StartRequest{
		Subject:      long,
		Body:         "body",
		RecipientIDs: []string{"bob"},
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	conv, err := svc.Conversation(ctx, delivery.Conversation.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}

	preview := conv.TruncatedSubject()
	if len([]rune(preview)) > DefaultSubjectPreviewLength {
		t.Errorf("preview too long: %d runes", len([]rune(preview)))
	}
	if !strings.HasSuffix(preview, "...") {
		t.Errorf("expected ellipsis, got %q", preview)
	}
}
