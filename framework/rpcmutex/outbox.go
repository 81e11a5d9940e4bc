package rpcmutex

import (
	"context"
	"sync"

	"github.com/akriventsev/amqpgate/framework/amqptransport"
)

// LinkClass separates fetch traffic from mutex traffic onto distinct
// links, so a long queue wait on one never blocks delivery of the
// other (each class gets its own credit window from the transport).
type LinkClass int

const (
	LinkClassFetch LinkClass = iota
	LinkClassMutex
)

func (c LinkClass) String() string {
	if c == LinkClassMutex {
		return "mutex"
	}
	return "fetch"
}

// OutgoingMessage is one queued send.
type OutgoingMessage struct {
	Class LinkClass
	Msg   amqptransport.OutboundMessage
	// Result receives the resolved Delivery (or an error) once the
	// underlying sender accepts the send call. It is not the terminal
	// disposition; callers use Delivery.OnUpdate for that.
	Result chan<- outboxResult
}

type outboxResult struct {
	delivery amqptransport.Delivery
	err      error
}

// OutboxQueue is a per-connection FIFO drain loop per LinkClass: every
// enqueued message for a class is sent strictly in order on that
// class's Sender, so that one class's backlog never reorders ahead of
// itself even though both classes progress independently of each
// other.
type OutboxQueue struct {
	senders map[LinkClass]amqptransport.Sender

	mu    sync.Mutex
	queue map[LinkClass]chan OutgoingMessage
	once  map[LinkClass]bool
}

// NewOutboxQueue creates a drain loop over the given per-class
// senders.
func NewOutboxQueue(senders map[LinkClass]amqptransport.Sender) *OutboxQueue {
	return &OutboxQueue{
		senders: senders,
		queue:   make(map[LinkClass]chan OutgoingMessage),
		once:    make(map[LinkClass]bool),
	}
}

func (q *OutboxQueue) chanFor(class LinkClass) chan OutgoingMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.queue[class]
	if !ok {
		ch = make(chan OutgoingMessage, 64)
		q.queue[class] = ch
	}
	if !q.once[class] {
		q.once[class] = true
		go q.drain(class, ch)
	}
	return ch
}

func (q *OutboxQueue) drain(class LinkClass, ch chan OutgoingMessage) {
	sender := q.senders[class]
	ctx := context.Background()
	for out := range ch {
		d, err := sender.SendTracked(ctx, out.Msg)
		if out.Result != nil {
			out.Result <- outboxResult{delivery: d, err: err}
		}
	}
}

// Enqueue schedules msg for sending on class and returns the Delivery
// once the underlying transport has accepted the send call (not its
// terminal disposition).
func (q *OutboxQueue) Enqueue(ctx context.Context, class LinkClass, msg amqptransport.OutboundMessage) (amqptransport.Delivery, error) {
	result := make(chan outboxResult, 1)
	ch := q.chanFor(class)
	select {
	case ch <- OutgoingMessage{Class: class, Msg: msg, Result: result}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-result:
		return r.delivery, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
