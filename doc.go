// Package converse provides a threaded conversation messaging library
// for Go.
//
// Users (identified by opaque user IDs) exchange messages inside
// conversations. Every message fans out into per-participant receipts
// which carry the read, trashed, and deleted flags, so each participant
// sees their own view of a shared thread. All functionality is exposed
// via interfaces, with pluggable storage backends (PostgreSQL,
// in-memory).
//
// # Basic Usage
//
//	// Create in-memory store for testing
//	store := memory.New()
//
//	// Create conversation service
//	svc, err := converse.NewService(
//	    converse.WithStore(store),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Connect initializes schema and event transport
//	if err := svc.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close(ctx)
//
//	// Get a client for a user
//	client := svc.Client("user123")
//
//	// Start a conversation
//	delivery, err := client.Start(ctx, converse.StartRequest{
//	    Subject:      "Weekend plans",
//	    Body:         "Anyone around on Saturday?",
//	    RecipientIDs: []string{"user456", "user789"},
//	})
//
//	// Reply to it
//	_, err = client.Reply(ctx, delivery.Conversation.ID, "I am!")
//
// # Conversation Operations
//
//   - Start/Reply: Create conversations and deliver messages
//   - Inbox/Sentbox/Trash/Unread: Scoped conversation listings
//   - MarkAsRead/MarkAsUnread/MoveToTrash/Untrash: Per-participant flags
//   - MarkAsDeleted: Soft delete; orphaned conversations are destroyed
//   - AddNewRecipient/RemoveRecipient/Leave: Membership with system messages
//   - OptOut/OptIn: Per-conversation notification subscriptions
//
// # Storage Backends
//
// The store package provides implementations for:
//   - PostgreSQL (store/postgres) - accepts a DSN or *sqlx.DB
//   - In-memory (store/memory) - for testing
//
// # Notifications
//
// Message delivery can fan out to an external channel through the
// NotificationDispatcher interface. The dispatch/ses package sends
// email notifications via AWS SESv2. Opted-out participants and the
// sender are excluded from dispatch; a dispatch failure never rolls
// back the persisted message.
//
// # Events
//
// Converse provides typed events for conversation lifecycle
// notifications. Events use the github.com/rbaliyan/event/v3 library
// which supports multiple transports (Redis Streams, NATS, Kafka,
// in-memory channel).
//
// To enable events, pass WithRedisClient or WithEventTransport when
// creating the service:
//
//	svc, err := converse.NewService(
//	    converse.WithStore(store),
//	    converse.WithRedisClient(redisClient),
//	)
//
// Events are automatically registered during Connect(). Access
// per-service events via the Events() method:
//
//	events := svc.Events()
//	events.MessageDelivered.Subscribe(ctx, handler)
//	events.ConversationRead.Subscribe(ctx, handler)
//
// Available events:
//   - MessageDelivered - when a message is persisted with its receipts
//   - ConversationRead - when a participant marks a conversation read
//   - ConversationDestroyed - when an orphaned conversation is destroyed
//   - MembershipChanged - when a participant is added, removed, or leaves
package converse
