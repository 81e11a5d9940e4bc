package rpcmutex

import (
	"sync"
	"sync/atomic"

	"github.com/akriventsev/amqpgate/framework/wire"
)

// pendingReply is what a Correlator hands to a waiting caller once a
// reply with a matching correlation id arrives.
type pendingReply struct {
	props wire.ResponseProperties
	body  []byte
}

// Correlator is the connection-wide table mapping an outstanding
// request's correlation id to the channel its caller is blocked on.
// One Correlator is shared by every ClientEndpoint on a connection,
// since correlation ids are only unique per reply-to address and the
// connection owns a single reply receiver.
type Correlator struct {
	seq uint64

	mu      sync.Mutex
	waiters map[uint64]chan pendingReply
}

// NewCorrelator creates an empty Correlator.
func NewCorrelator() *Correlator {
	return &Correlator{waiters: make(map[uint64]chan pendingReply)}
}

// NextID returns a fresh correlation id, unique for the lifetime of
// this Correlator.
func (c *Correlator) NextID() uint64 {
	return atomic.AddUint64(&c.seq, 1)
}

// Register opens a slot for corrID and returns the channel that will
// receive exactly one reply. Callers must eventually call Forget,
// whether or not a reply arrived, to avoid leaking the slot.
func (c *Correlator) Register(corrID uint64) <-chan pendingReply {
	ch := make(chan pendingReply, 1)
	c.mu.Lock()
	c.waiters[corrID] = ch
	c.mu.Unlock()
	return ch
}

// Forget removes corrID's slot without sending to it. Safe to call
// after a successful Deliver, or after the caller gives up waiting.
func (c *Correlator) Forget(corrID uint64) {
	c.mu.Lock()
	delete(c.waiters, corrID)
	c.mu.Unlock()
}

// Deliver routes a reply to the waiter registered for corrID. It
// returns false if no waiter was registered (the reply is stale: its
// caller already timed out and was forgotten, or the correlation id
// is unknown).
func (c *Correlator) Deliver(corrID uint64, props wire.ResponseProperties, body []byte) bool {
	c.mu.Lock()
	ch, ok := c.waiters[corrID]
	if ok {
		delete(c.waiters, corrID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	ch <- pendingReply{props: props, body: body}
	return true
}

// DeliverAll fails every still-registered waiter by sending it a reply
// carrying props (and no body), and removes all slots; used when the
// underlying connection is lost.
func (c *Correlator) DeliverAll(props wire.ResponseProperties) {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = make(map[uint64]chan pendingReply)
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- pendingReply{props: props}
	}
}
