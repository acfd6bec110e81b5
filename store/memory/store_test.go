package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mdevan/converse/store"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	s := New()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return s
}

// seedConversation creates a conversation with one delivered message from
// sender to the given recipients and returns it with the stored message.
func seedConversation(t *testing.T, s *Store, sender string, recipients ...string) (*store.Conversation, *store.Message) {
	t.Helper()
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "seed")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if err := s.AddMembers(ctx, conv.ID, append([]string{sender}, recipients...)); err != nil {
		t.Fatalf("add members: %v", err)
	}

	receipts := []*store.Receipt{{
		ConversationID: conv.ID,
		ReceiverID:     sender,
		Mailbox:        store.MailboxSentbox,
		IsRead:         true,
	}}
	for _, r := range recipients {
		receipts = append(receipts, &store.Receipt{
			ConversationID: conv.ID,
			ReceiverID:     r,
			Mailbox:        store.MailboxInbox,
		})
	}
	msg, _, err := s.CreateMessageWithReceipts(ctx, &store.Message{
		ConversationID: conv.ID,
		SenderID:       sender,
		Body:           "hello",
	}, receipts)
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	return conv, msg
}

func TestConnectionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.CreateConversation(ctx, "early"); !errors.Is(err, store.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected before Connect, got %v", err)
	}
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.Connect(ctx); !errors.Is(err, store.ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(ctx); !errors.Is(err, store.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected on double close, got %v", err)
	}
}

func TestConversationCRUD(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	t.Run("create and get", func(t *testing.T) {
		conv, err := s.CreateConversation(ctx, "greetings")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if conv.ID == "" || conv.CreatedAt.IsZero() {
			t.Errorf("incomplete conversation: %+v", conv)
		}

		got, err := s.GetConversation(ctx, conv.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Subject != "greetings" {
			t.Errorf("unexpected subject %q", got.Subject)
		}
	})

	t.Run("empty subject rejected", func(t *testing.T) {
		if _, err := s.CreateConversation(ctx, ""); !errors.Is(err, store.ErrEmptySubject) {
			t.Errorf("expected ErrEmptySubject, got %v", err)
		}
	})

	t.Run("missing conversation", func(t *testing.T) {
		if _, err := s.GetConversation(ctx, "no-such-id"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("touch bumps updated_at", func(t *testing.T) {
		conv, err := s.CreateConversation(ctx, "touchable")
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		s.now = func() time.Time { return conv.UpdatedAt.Add(time.Minute) }
		defer func() { s.now = time.Now }()

		if err := s.TouchConversation(ctx, conv.ID); err != nil {
			t.Fatalf("touch: %v", err)
		}
		got, _ := s.GetConversation(ctx, conv.ID)
		if !got.UpdatedAt.After(conv.UpdatedAt) {
			t.Error("expected UpdatedAt to advance")
		}
	})
}

func TestCreateMessageWithReceipts(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	conv, _ := seedConversation(t, s, "alice", "bob")

	t.Run("assigns IDs and links receipts", func(t *testing.T) {
		msg, receipts, err := s.CreateMessageWithReceipts(ctx, &store.Message{
			ConversationID: conv.ID,
			SenderID:       "bob",
			Body:           "reply",
		}, []*store.Receipt{
			{ConversationID: conv.ID, ReceiverID: "bob", Mailbox: store.MailboxSentbox, IsRead: true},
			{ConversationID: conv.ID, ReceiverID: "alice", Mailbox: store.MailboxInbox},
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if msg.ID == "" {
			t.Error("expected assigned message ID")
		}
		for _, r := range receipts {
			if r.ID == "" || r.MessageID != msg.ID || r.ConversationID != conv.ID {
				t.Errorf("receipt not linked: %+v", r)
			}
		}
	})

	t.Run("unknown conversation", func(t *testing.T) {
		_, _, err := s.CreateMessageWithReceipts(ctx, &store.Message{
			ConversationID: "missing",
			SenderID:       "alice",
			Body:           "x",
		}, []*store.Receipt{{ConversationID: "missing", ReceiverID: "alice", Mailbox: store.MailboxSentbox}})
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("validation failures persist nothing", func(t *testing.T) {
		before, _ := s.CountMessages(ctx, conv.ID)

		cases := []struct {
			name     string
			msg      *store.Message
			receipts []*store.Receipt
			want     error
		}{
			{
				"empty body",
				&store.Message{ConversationID: conv.ID, SenderID: "alice"},
				[]*store.Receipt{{ConversationID: conv.ID, ReceiverID: "alice", Mailbox: store.MailboxSentbox}},
				store.ErrEmptyBody,
			},
			{
				"no receipts",
				&store.Message{ConversationID: conv.ID, SenderID: "alice", Body: "x"},
				nil,
				store.ErrEmptyRecipients,
			},
			{
				"bad mailbox",
				&store.Message{ConversationID: conv.ID, SenderID: "alice", Body: "x"},
				[]*store.Receipt{{ConversationID: conv.ID, ReceiverID: "alice", Mailbox: "spam"}},
				store.ErrInvalidMailbox,
			},
			{
				"bad system case",
				&store.Message{ConversationID: conv.ID, SenderID: "alice", Body: "x", SystemCase: "exploded"},
				[]*store.Receipt{{ConversationID: conv.ID, ReceiverID: "alice", Mailbox: store.MailboxSentbox}},
				store.ErrInvalidSystemCase,
			},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, _, err := s.CreateMessageWithReceipts(ctx, tc.msg, tc.receipts)
				if !errors.Is(err, tc.want) {
					t.Errorf("expected %v, got %v", tc.want, err)
				}
			})
		}

		after, _ := s.CountMessages(ctx, conv.ID)
		if after != before {
			t.Errorf("message count changed from %d to %d", before, after)
		}
	})
}

func TestMessageQueries(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	conv, first := seedConversation(t, s, "alice", "bob")

	// Later messages get later timestamps.
	base := first.CreatedAt
	for i, body := range []string{"second", "third", "system note"} {
		ts := base.Add(time.Duration(i+1) * time.Second)
		s.now = func() time.Time { return ts }
		msg := &store.Message{ConversationID: conv.ID, SenderID: "bob", Body: body}
		if body == "system note" {
			msg.System = true
			msg.SystemCase = store.SystemCaseLeft
		}
		if _, _, err := s.CreateMessageWithReceipts(ctx, msg, []*store.Receipt{
			{ConversationID: conv.ID, ReceiverID: "alice", Mailbox: store.MailboxInbox},
		}); err != nil {
			t.Fatalf("create %q: %v", body, err)
		}
	}
	s.now = time.Now

	t.Run("edges skip system messages", func(t *testing.T) {
		got, err := s.FirstMessage(ctx, conv.ID)
		if err != nil || got.ID != first.ID {
			t.Errorf("FirstMessage: got %+v (%v)", got, err)
		}
		last, err := s.LastMessage(ctx, conv.ID)
		if err != nil || last.Body != "third" {
			t.Errorf("LastMessage: got %+v (%v)", last, err)
		}
	})

	t.Run("no non-system messages", func(t *testing.T) {
		empty, err := s.CreateConversation(ctx, "quiet")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := s.FirstMessage(ctx, empty.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("listing includes system messages in order", func(t *testing.T) {
		msgs, err := s.Messages(ctx, conv.ID, store.ListOptions{})
		if err != nil {
			t.Fatalf("messages: %v", err)
		}
		if len(msgs) != 4 || msgs[0].Body != "hello" || msgs[3].Body != "system note" {
			t.Errorf("unexpected listing: %d messages", len(msgs))
		}
	})

	t.Run("pagination", func(t *testing.T) {
		msgs, err := s.Messages(ctx, conv.ID, store.ListOptions{Limit: 2, Offset: 2})
		if err != nil {
			t.Fatalf("messages: %v", err)
		}
		if len(msgs) != 2 || msgs[0].Body != "third" {
			t.Errorf("unexpected page: %+v", msgs)
		}

		msgs, _ = s.Messages(ctx, conv.ID, store.ListOptions{Offset: 100})
		if len(msgs) != 0 {
			t.Errorf("expected empty page past the end, got %d", len(msgs))
		}
	})

	t.Run("count", func(t *testing.T) {
		n, err := s.CountMessages(ctx, conv.ID)
		if err != nil || n != 4 {
			t.Errorf("expected 4, got %d (%v)", n, err)
		}
	})
}

func TestReceiptFlags(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	conv, _ := seedConversation(t, s, "alice", "bob")

	t.Run("mark read reports changed rows", func(t *testing.T) {
		changed, err := s.MarkRead(ctx, conv.ID, "bob", true)
		if err != nil || changed != 1 {
			t.Errorf("expected 1 changed, got %d (%v)", changed, err)
		}

		// Marking again changes nothing.
		changed, err = s.MarkRead(ctx, conv.ID, "bob", true)
		if err != nil || changed != 0 {
			t.Errorf("expected 0 changed on repeat, got %d (%v)", changed, err)
		}
	})

	t.Run("flags are per participant", func(t *testing.T) {
		if _, err := s.SetTrashed(ctx, conv.ID, "bob", true); err != nil {
			t.Fatalf("trash: %v", err)
		}
		receipts, _ := s.ReceiptsFor(ctx, conv.ID, "alice")
		for _, r := range receipts {
			if r.Trashed {
				t.Errorf("alice's receipt trashed by bob's flag: %+v", r)
			}
		}
	})

	t.Run("empty IDs are a no-op", func(t *testing.T) {
		changed, err := s.MarkDeleted(ctx, conv.ID, "")
		if err != nil || changed != 0 {
			t.Errorf("expected no-op, got %d (%v)", changed, err)
		}
	})
}

func TestCreateReceipts(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	conv, msg := seedConversation(t, s, "alice", "bob")

	t.Run("preserves non-zero timestamps", func(t *testing.T) {
		past := time.Now().Add(-48 * time.Hour).Truncate(time.Second)
		out, err := s.CreateReceipts(ctx, []*store.Receipt{{
			ConversationID: conv.ID,
			MessageID:      msg.ID,
			ReceiverID:     "carol",
			Mailbox:        store.MailboxInbox,
			CreatedAt:      past,
			UpdatedAt:      past,
		}})
		if err != nil {
			t.Fatalf("create receipts: %v", err)
		}
		if len(out) != 1 || !out[0].CreatedAt.Equal(past) {
			t.Errorf("expected preserved timestamp, got %+v", out)
		}
		if out[0].ID == "" {
			t.Error("expected assigned ID")
		}
	})

	t.Run("zero timestamps get now", func(t *testing.T) {
		out, err := s.CreateReceipts(ctx, []*store.Receipt{{
			ConversationID: conv.ID,
			MessageID:      msg.ID,
			ReceiverID:     "dave",
			Mailbox:        store.MailboxInbox,
		}})
		if err != nil {
			t.Fatalf("create receipts: %v", err)
		}
		if out[0].CreatedAt.IsZero() {
			t.Error("expected CreatedAt to be filled in")
		}
	})

	t.Run("rejects incomplete receipts", func(t *testing.T) {
		_, err := s.CreateReceipts(ctx, []*store.Receipt{{
			ConversationID: conv.ID,
			ReceiverID:     "eve",
			Mailbox:        store.MailboxInbox,
		}})
		if !errors.Is(err, store.ErrInvalidID) {
			t.Errorf("expected ErrInvalidID for missing message ID, got %v", err)
		}
	})
}

func TestFindReceipts(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	conv, _ := seedConversation(t, s, "alice", "bob", "carol")

	t.Run("filter by receiver", func(t *testing.T) {
		out, err := s.FindReceipts(ctx, []store.Filter{store.ReceiverIs("bob")}, store.ListOptions{})
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if len(out) != 1 || out[0].ReceiverID != "bob" {
			t.Errorf("unexpected result: %+v", out)
		}
	})

	t.Run("combined filters", func(t *testing.T) {
		unreadInbox := []store.Filter{
			store.ConversationIs(conv.ID),
			store.InMailbox(store.MailboxInbox),
			store.IsReadFilter(false),
		}
		out, err := s.FindReceipts(ctx, unreadInbox, store.ListOptions{})
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if len(out) != 2 {
			t.Errorf("expected bob and carol, got %d receipts", len(out))
		}
	})

	t.Run("in operator", func(t *testing.T) {
		f, err := store.ReceiptFilter("ReceiverID").In("bob", "carol")
		if err != nil {
			t.Fatalf("build filter: %v", err)
		}
		out, err := s.FindReceipts(ctx, []store.Filter{f}, store.ListOptions{})
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if len(out) != 2 {
			t.Errorf("expected 2 receipts, got %d", len(out))
		}
	})

	t.Run("no matches", func(t *testing.T) {
		out, err := s.FindReceipts(ctx, []store.Filter{store.ReceiverIs("nobody")}, store.ListOptions{})
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if len(out) != 0 {
			t.Errorf("expected none, got %d", len(out))
		}
	})
}

func TestListConversationScopes(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	// Three conversations for bob: one untouched, one read, one trashed.
	untouched, _ := seedConversation(t, s, "alice", "bob")
	read, _ := seedConversation(t, s, "alice", "bob")
	trashed, _ := seedConversation(t, s, "alice", "bob")
	if _, err := s.MarkRead(ctx, read.ID, "bob", true); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if _, err := s.SetTrashed(ctx, trashed.ID, "bob", true); err != nil {
		t.Fatalf("trash: %v", err)
	}

	counts := map[store.Scope]int64{
		store.ScopeAll:      3,
		store.ScopeInbox:    2,
		store.ScopeSentbox:  0,
		store.ScopeTrash:    1,
		store.ScopeNotTrash: 2,
		store.ScopeUnread:   1,
	}
	for scope, want := range counts {
		t.Run(fmt.Sprintf("scope %s", scope), func(t *testing.T) {
			list, err := s.ListConversations(ctx, "bob", scope, store.ListOptions{})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if list.Total != want {
				t.Errorf("expected %d, got %d", want, list.Total)
			}
		})
	}

	t.Run("unread scope picks the untouched conversation", func(t *testing.T) {
		list, err := s.ListConversations(ctx, "bob", store.ScopeUnread, store.ListOptions{})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list.Conversations) != 1 || list.Conversations[0].ID != untouched.ID {
			t.Errorf("unexpected unread listing: %+v", list.Conversations)
		}
	})

	t.Run("deleted receipts hide the conversation", func(t *testing.T) {
		if _, err := s.MarkDeleted(ctx, untouched.ID, "bob"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		list, err := s.ListConversations(ctx, "bob", store.ScopeAll, store.ListOptions{})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if list.Total != 2 {
			t.Errorf("expected 2 after deletion, got %d", list.Total)
		}
	})

	t.Run("invalid scope", func(t *testing.T) {
		if _, err := s.ListConversations(ctx, "bob", "bogus", store.ListOptions{}); !errors.Is(err, store.ErrInvalidScope) {
			t.Errorf("expected ErrInvalidScope, got %v", err)
		}
	})

	t.Run("empty participant", func(t *testing.T) {
		if _, err := s.ListConversations(ctx, "", store.ScopeAll, store.ListOptions{}); !errors.Is(err, store.ErrInvalidID) {
			t.Errorf("expected ErrInvalidID, got %v", err)
		}
	})
}

func TestMembershipAndOptOuts(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	conv, _ := seedConversation(t, s, "alice", "bob")

	t.Run("add member is idempotent", func(t *testing.T) {
		created, err := s.AddMember(ctx, conv.ID, "carol")
		if err != nil || !created {
			t.Fatalf("expected creation, got %v (%v)", created, err)
		}
		created, err = s.AddMember(ctx, conv.ID, "carol")
		if err != nil || created {
			t.Errorf("expected no-op on repeat, got %v (%v)", created, err)
		}

		members, _ := s.Members(ctx, conv.ID)
		if len(members) != 3 {
			t.Errorf("expected 3 members, got %v", members)
		}
	})

	t.Run("remove member", func(t *testing.T) {
		removed, err := s.RemoveMember(ctx, conv.ID, "carol")
		if err != nil || !removed {
			t.Fatalf("expected removal, got %v (%v)", removed, err)
		}
		removed, err = s.RemoveMember(ctx, conv.ID, "carol")
		if err != nil || removed {
			t.Errorf("expected no-op on repeat, got %v (%v)", removed, err)
		}

		isMember, _ := s.IsMember(ctx, conv.ID, "carol")
		if isMember {
			t.Error("expected carol gone")
		}
	})

	t.Run("opt-outs are idempotent and sorted", func(t *testing.T) {
		for _, id := range []string{"bob", "alice", "bob"} {
			if err := s.AddOptOut(ctx, conv.ID, id); err != nil {
				t.Fatalf("opt out %s: %v", id, err)
			}
		}

		out, err := s.OptedOut(ctx, conv.ID)
		if err != nil {
			t.Fatalf("opted out: %v", err)
		}
		if len(out) != 2 || out[0] != "alice" || out[1] != "bob" {
			t.Errorf("unexpected opt-outs: %v", out)
		}

		has, _ := s.HasOptOut(ctx, conv.ID, "bob")
		if !has {
			t.Error("expected bob opted out")
		}

		if err := s.RemoveOptOut(ctx, conv.ID, "bob"); err != nil {
			t.Fatalf("remove opt-out: %v", err)
		}
		has, _ = s.HasOptOut(ctx, conv.ID, "bob")
		if has {
			t.Error("expected bob subscribed again")
		}

		// Removing an absent opt-out is fine.
		if err := s.RemoveOptOut(ctx, conv.ID, "nobody"); err != nil {
			t.Errorf("remove absent opt-out: %v", err)
		}
	})
}

func TestAttachmentLinks(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	conv, msg := seedConversation(t, s, "alice", "bob")

	t.Run("link is idempotent per owner", func(t *testing.T) {
		link := &store.AttachmentLink{FileID: "file-1", OwnerType: store.OwnerMessage, OwnerID: msg.ID}
		created, err := s.LinkFile(ctx, link)
		if err != nil || !created {
			t.Fatalf("expected creation, got %v (%v)", created, err)
		}
		created, err = s.LinkFile(ctx, link)
		if err != nil || created {
			t.Errorf("expected no-op on repeat, got %v (%v)", created, err)
		}

		// Same file under a different owner is a separate link.
		created, err = s.LinkFile(ctx, &store.AttachmentLink{
			FileID: "file-1", OwnerType: store.OwnerConversation, OwnerID: conv.ID,
		})
		if err != nil || !created {
			t.Errorf("expected creation for conversation owner, got %v (%v)", created, err)
		}
	})

	t.Run("rejects unknown owner types", func(t *testing.T) {
		_, err := s.LinkFile(ctx, &store.AttachmentLink{FileID: "f", OwnerType: "user", OwnerID: "x"})
		if !errors.Is(err, store.ErrInvalidID) {
			t.Errorf("expected ErrInvalidID, got %v", err)
		}
	})

	t.Run("file links by owner", func(t *testing.T) {
		links, err := s.FileLinks(ctx, store.OwnerMessage, msg.ID)
		if err != nil {
			t.Fatalf("file links: %v", err)
		}
		if len(links) != 1 || links[0].FileID != "file-1" {
			t.Errorf("unexpected links: %+v", links)
		}
	})
}

func TestDestroyConversation(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	conv, msg := seedConversation(t, s, "alice", "bob")

	if err := s.AddOptOut(ctx, conv.ID, "bob"); err != nil {
		t.Fatalf("opt out: %v", err)
	}
	if _, err := s.LinkFile(ctx, &store.AttachmentLink{
		FileID: "file-1", OwnerType: store.OwnerMessage, OwnerID: msg.ID,
	}); err != nil {
		t.Fatalf("link: %v", err)
	}
	if _, err := s.LinkFile(ctx, &store.AttachmentLink{
		FileID: "file-1", OwnerType: store.OwnerConversation, OwnerID: conv.ID,
	}); err != nil {
		t.Fatalf("link: %v", err)
	}

	if err := s.DestroyConversation(ctx, conv.ID); err != nil {
		t.Fatalf("destroy: %v", err)
	}

	if _, err := s.GetConversation(ctx, conv.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected conversation gone, got %v", err)
	}
	if _, err := s.GetMessage(ctx, msg.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected message gone, got %v", err)
	}
	receipts, _ := s.ConversationReceipts(ctx, conv.ID)
	if len(receipts) != 0 {
		t.Errorf("expected receipts gone, got %d", len(receipts))
	}
	members, _ := s.Members(ctx, conv.ID)
	if len(members) != 0 {
		t.Errorf("expected memberships gone, got %v", members)
	}
	optOuts, _ := s.OptedOut(ctx, conv.ID)
	if len(optOuts) != 0 {
		t.Errorf("expected opt-outs gone, got %v", optOuts)
	}
	for _, owner := range []struct{ typ, id string }{
		{store.OwnerMessage, msg.ID},
		{store.OwnerConversation, conv.ID},
	} {
		links, _ := s.FileLinks(ctx, owner.typ, owner.id)
		if len(links) != 0 {
			t.Errorf("expected %s links gone, got %d", owner.typ, len(links))
		}
	}

	if err := s.DestroyConversation(ctx, conv.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound on repeat destroy, got %v", err)
	}
}
