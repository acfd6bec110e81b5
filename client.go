package converse

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mdevan/converse/store"
)

// ConversationLister provides conversation listing by scope.
type ConversationLister interface {
	Inbox(ctx context.Context, opts store.ListOptions) (*store.ConversationList, error)
	Sentbox(ctx context.Context, opts store.ListOptions) (*store.ConversationList, error)
	Trash(ctx context.Context, opts store.ListOptions) (*store.ConversationList, error)
	Unread(ctx context.Context, opts store.ListOptions) (*store.ConversationList, error)
	// Conversations lists under an explicit scope.
	Conversations(ctx context.Context, scope store.Scope, opts store.ListOptions) (*store.ConversationList, error)
}

// StartRequest carries the data needed to start a new conversation.
type StartRequest struct {
	// Subject of the new conversation.
	Subject string
	// Body of the opening message.
	Body string
	// RecipientIDs receive the opening message. The sender may be included
	// to additionally receive their own message in the inbox.
	RecipientIDs []string
	// FileIDs optionally attach uploaded files owned by the sender.
	FileIDs []string
}

// Delivery is the result of delivering a message. The sender receipt is
// populated even when validation fails, in which case it is unpersisted
// and the accompanying error describes the failure.
type Delivery struct {
	Conversation  *store.Conversation
	Message       *store.Message
	SenderReceipt *store.Receipt
	// RecipientReceipts holds the inbox receipts created for recipients.
	RecipientReceipts []*store.Receipt
}

// Client provides conversation operations for a single user.
//
// Composed of:
//   - ConversationLister: scope-based listings (Inbox, Sentbox, Trash, Unread)
type Client interface {
	UserID() string
	ConversationLister

	// Start creates a conversation and delivers the opening message.
	Start(ctx context.Context, req StartRequest) (*Delivery, error)
	// Reply delivers a message to an existing conversation.
	Reply(ctx context.Context, conversationID, body string, fileIDs ...string) (*Delivery, error)
	// Conversation returns a handle on a conversation.
	Conversation(ctx context.Context, conversationID string) (*Conversation, error)
	// Receipts returns the receipts this user holds in a conversation.
	Receipts(ctx context.Context, conversationID string) ([]*store.Receipt, error)
	// EmptyTrash soft-deletes everything in the user's trash, destroying
	// conversations every participant has deleted.
	EmptyTrash(ctx context.Context) (*EmptyTrashResult, error)
}

// userClient is the default implementation of Client.
type userClient struct {
	userID      string
	service     *service
	validUserID bool // set by Client() after validation
}

// UserID returns the user ID of this client.
func (c *userClient) UserID() string {
	return c.userID
}

// isConnected checks if the service is connected.
func (c *userClient) isConnected() bool {
	return atomic.LoadInt32(&c.service.state) == stateConnected
}

// checkAccess verifies the client is ready for operations.
// Returns ErrNotConnected if service isn't connected,
// or ErrInvalidUserID if the user ID failed validation.
func (c *userClient) checkAccess() error {
	if !c.isConnected() {
		return ErrNotConnected
	}
	if !c.validUserID {
		return ErrInvalidUserID
	}
	return nil
}

// Start creates a conversation and delivers the opening message to the
// recipients. On validation failure the returned Delivery carries the
// unpersisted sender receipt alongside the error.
func (c *userClient) Start(ctx context.Context, req StartRequest) (*Delivery, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}

	// Step 1: Sanitize user-supplied content before validation.
	subject := c.service.sanitizer.SanitizeSubject(req.Subject)
	body := c.service.sanitizer.SanitizeBody(req.Body)

	// Step 2: Validate inputs (before creating anything).
	limits := c.service.opts.getLimits()
	if err := ValidateSubjectWithLimits(subject, limits); err != nil {
		return nil, err
	}
	if err := ValidateRecipients(req.RecipientIDs, limits); err != nil {
		return nil, err
	}

	// Step 3: Create the conversation shell.
	conv, err := c.service.store.CreateConversation(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	// Step 4: Attach the initial participant set. Bulk creation attaches
	// members silently, with no system messages or notifications.
	members := append([]string{c.userID}, req.RecipientIDs...)
	if err := c.service.store.AddMembers(ctx, conv.ID, deduplicateRecipients(members)); err != nil {
		c.rollbackConversation(ctx, conv.ID)
		return nil, fmt.Errorf("add members: %w", err)
	}

	// Step 5: Deliver the opening message.
	msg := &store.Message{
		ConversationID: conv.ID,
		SenderID:       c.userID,
		Body:           body,
	}
	delivery, err := c.service.deliver(ctx, conv, msg, req.RecipientIDs, req.RecipientIDs, false)
	if err != nil && delivery == nil {
		c.rollbackConversation(ctx, conv.ID)
		return nil, err
	}
	if err != nil {
		// Validation failures hand back the sender receipt with the error.
		if _, ok := IsDispatchError(err); !ok {
			c.rollbackConversation(ctx, conv.ID)
		}
		return delivery, err
	}

	// Step 6: Attach files owned by the sender.
	if len(req.FileIDs) > 0 {
		if err := c.service.handleNewDatafiles(ctx, delivery.Message, req.FileIDs, req.RecipientIDs); err != nil {
			return delivery, err
		}
	}

	return delivery, nil
}

// Reply delivers a message to an existing conversation. Recipients are
// the current participants other than the sender.
func (c *userClient) Reply(ctx context.Context, conversationID, body string, fileIDs ...string) (*Delivery, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}

	conv, err := c.service.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	isMember, err := c.service.store.IsMember(ctx, conversationID, c.userID)
	if err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if !isMember {
		return nil, ErrNotParticipant
	}

	members, err := c.service.store.Members(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	recipients := make([]string, 0, len(members))
	for _, m := range members {
		if m != c.userID {
			recipients = append(recipients, m)
		}
	}

	msg := &store.Message{
		ConversationID: conv.ID,
		SenderID:       c.userID,
		Body:           c.service.sanitizer.SanitizeBody(body),
	}
	delivery, err := c.service.deliver(ctx, conv, msg, recipients, recipients, true)
	if err != nil {
		return delivery, err
	}

	if len(fileIDs) > 0 {
		if err := c.service.handleNewDatafiles(ctx, delivery.Message, fileIDs, recipients); err != nil {
			return delivery, err
		}
	}

	return delivery, nil
}

// rollbackConversation removes a conversation shell after a failed start.
func (c *userClient) rollbackConversation(ctx context.Context, conversationID string) {
	if err := c.service.store.DestroyConversation(ctx, conversationID); err != nil {
		c.service.logger.Error("failed to roll back conversation after delivery failure",
			"conversation_id", conversationID, "error", err)
	}
}

// Conversation returns a handle on a conversation.
func (c *userClient) Conversation(ctx context.Context, conversationID string) (*Conversation, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}
	return c.service.Conversation(ctx, conversationID)
}

// Receipts returns the receipts this user holds in a conversation.
func (c *userClient) Receipts(ctx context.Context, conversationID string) ([]*store.Receipt, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}
	receipts, err := c.service.store.ReceiptsFor(ctx, conversationID, c.userID)
	if err != nil {
		return nil, fmt.Errorf("receipts for: %w", err)
	}
	return receipts, nil
}

// Inbox returns conversations with at least one visible inbox receipt.
func (c *userClient) Inbox(ctx context.Context, opts store.ListOptions) (*store.ConversationList, error) {
	return c.Conversations(ctx, store.ScopeInbox, opts)
}

// Sentbox returns conversations the user has sent messages in.
func (c *userClient) Sentbox(ctx context.Context, opts store.ListOptions) (*store.ConversationList, error) {
	return c.Conversations(ctx, store.ScopeSentbox, opts)
}

// Trash returns conversations with at least one trashed receipt.
func (c *userClient) Trash(ctx context.Context, opts store.ListOptions) (*store.ConversationList, error) {
	return c.Conversations(ctx, store.ScopeTrash, opts)
}

// Unread returns inbox conversations holding unread receipts.
func (c *userClient) Unread(ctx context.Context, opts store.ListOptions) (*store.ConversationList, error) {
	return c.Conversations(ctx, store.ScopeUnread, opts)
}

// Conversations lists this user's conversations under the given scope.
func (c *userClient) Conversations(ctx context.Context, scope store.Scope, opts store.ListOptions) (*store.ConversationList, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}

	// OTel tracing
	ctx, endSpan := c.service.otel.startSpan(ctx, "converse.list",
		attribute.String("user_id", c.userID),
		attribute.String("scope", string(scope)),
	)
	start := time.Now()
	var listErr error
	var resultCount int
	defer func() {
		endSpan(listErr)
		c.service.otel.recordList(ctx, time.Since(start), string(scope), resultCount, listErr)
	}()

	// Apply default and maximum listing limits.
	if opts.Limit == 0 {
		opts.Limit = c.service.opts.defaultQueryLimit
	}
	if opts.Limit > c.service.opts.maxQueryLimit {
		opts.Limit = c.service.opts.maxQueryLimit
	}

	list, err := c.service.store.ListConversations(ctx, c.userID, scope, opts)
	if err != nil {
		listErr = err
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	resultCount = len(list.Conversations)

	return list, nil
}

// deduplicateRecipients returns a list of unique recipient IDs,
// preserving first-seen order.
func deduplicateRecipients(recipientIDs []string) []string {
	seen := make(map[string]bool, len(recipientIDs))
	unique := make([]string, 0, len(recipientIDs))
	for _, id := range recipientIDs {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	return unique
}
