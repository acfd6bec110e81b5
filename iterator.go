package converse

import (
	"context"
	"errors"

	"github.com/mdevan/converse/store"
)

// DefaultStreamBatchSize is the page size used when streaming messages.
const DefaultStreamBatchSize = 100

// MessageIterator provides streaming access to a conversation's
// messages, oldest first. It pulls pages lazily, so arbitrarily long
// threads can be walked without loading them whole.
//
// The iterator is stateless beyond its cursor and holds no resources
// requiring cleanup; simply stop calling Next when done.
//
//	iter := conv.StreamMessages(0)
//	for {
//	    ok, err := iter.Next(ctx)
//	    if err != nil || !ok {
//	        break
//	    }
//	    process(iter.Message())
//	}
type MessageIterator struct {
	service        *service
	conversationID string
	batchSize      int

	buffer  []*store.Message
	pos     int
	offset  int
	drained bool
}

// StreamMessages returns an iterator over the conversation's messages.
// A batchSize of zero or less uses DefaultStreamBatchSize.
func (c *Conversation) StreamMessages(batchSize int) *MessageIterator {
	if batchSize <= 0 {
		batchSize = DefaultStreamBatchSize
	}
	return &MessageIterator{
		service:        c.service,
		conversationID: c.data.ID,
		batchSize:      batchSize,
	}
}

// Next advances to the next message. It reports false when the
// conversation is exhausted.
func (it *MessageIterator) Next(ctx context.Context) (bool, error) {
	it.pos++
	if it.pos < len(it.buffer) {
		return true, nil
	}
	if it.drained {
		return false, nil
	}

	msgs, err := it.service.store.Messages(ctx, it.conversationID, store.ListOptions{
		Limit:  it.batchSize,
		Offset: it.offset,
	})
	if err != nil {
		return false, err
	}
	it.offset += len(msgs)
	if len(msgs) < it.batchSize {
		it.drained = true
	}
	it.buffer = msgs
	it.pos = 0
	return len(msgs) > 0, nil
}

// Message returns the current message. It is only valid after a Next
// call that returned true.
func (it *MessageIterator) Message() (*store.Message, error) {
	if it.pos < 0 || it.pos >= len(it.buffer) {
		return nil, errors.New("converse: iterator has no current message")
	}
	return it.buffer[it.pos], nil
}
