package rpcmutex

import (
	"context"
	"sync"
	"time"

	"github.com/akriventsev/amqpgate/framework/amqptransport"
	"github.com/akriventsev/amqpgate/framework/metrics"
	"github.com/akriventsev/amqpgate/framework/wire"
	"github.com/google/uuid"
)

// MutexSet lazily creates one MutexInstance per distinct name seen at
// a path. A path that never receives an acquire request never
// allocates one.
type MutexSet struct {
	mu        sync.Mutex
	instances map[string]*MutexInstance
}

func newMutexSet() *MutexSet {
	return &MutexSet{instances: make(map[string]*MutexInstance)}
}

// Get returns the named MutexInstance, creating it on first use.
func (s *MutexSet) Get(name string) *MutexInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.instances[name]
	if !ok {
		m = newMutexInstance(name)
		s.instances[name] = m
	}
	return m
}

// Instances returns every MutexInstance created in this set so far.
func (s *MutexSet) Instances() []*MutexInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*MutexInstance, 0, len(s.instances))
	for _, m := range s.instances {
		out = append(out, m)
	}
	return out
}

// waiter is one entry in a MutexInstance's FIFO queue.
type waiter struct {
	acquisitionID string
	resp          *Response
	receiver      amqptransport.Receiver
	inbound       amqptransport.InboundMessage
	waitTimer     *time.Timer
}

// MutexInstance is the server-side FIFO wait-queue for one named
// mutex. The queue head is the current holder; a waiter is granted as
// soon as it becomes the head, which happens either immediately (the
// queue was empty) or when the previous head releases. Non-head
// waiters may carry a wait_time deadline; the head's timer, if any, is
// never armed, since the head is by definition not waiting.
type MutexInstance struct {
	name string

	mu      sync.Mutex
	queue   []*waiter
	metrics *metrics.Metrics
}

func newMutexInstance(name string) *MutexInstance {
	return &MutexInstance{name: name}
}

// attachMetrics sets the collector grant/Release/Drop report held-mutex
// counts through. Safe to call more than once with the same collector;
// a nil argument (e.g. in tests that build a MutexInstance directly) is
// tolerated by every recording call below.
func (m *MutexInstance) attachMetrics(mx *metrics.Metrics) {
	m.mu.Lock()
	m.metrics = mx
	m.mu.Unlock()
}

// Enqueue adds a waiter holding the delivery at (receiver, inbound),
// to be replied to via resp. waitTime is the waiter's queue deadline;
// zero means no deadline. Enqueue grants immediately if the queue was
// empty before this call.
func (m *MutexInstance) Enqueue(receiver amqptransport.Receiver, inbound amqptransport.InboundMessage, resp *Response, waitTime time.Duration) {
	w := &waiter{
		acquisitionID: uuid.NewString(),
		resp:          resp,
		receiver:      receiver,
		inbound:       inbound,
	}

	m.mu.Lock()
	wasEmpty := len(m.queue) == 0
	m.queue = append(m.queue, w)
	if !wasEmpty && waitTime > 0 {
		w.waitTimer = time.AfterFunc(waitTime, func() { m.timeoutWaiter(w) })
	}
	mx := m.metrics
	m.mu.Unlock()

	if wasEmpty {
		m.grant(w, mx)
	}
}

// grant notifies w that it now holds the mutex. The underlying
// delivery is deliberately left unsettled: the granted acquisition
// stays "held" on the wire until Release settles it. Notification of
// the grant travels through the ordinary reply message, not through
// the transport disposition hook.
func (m *MutexInstance) grant(w *waiter, mx *metrics.Metrics) {
	w.resp.withAcquisitionID(w.acquisitionID)
	_ = w.resp.Send(nil)
	if mx != nil {
		mx.IncrementHeldMutexes(context.Background())
	}
}

// Release is invoked when the client's release message for
// acquisitionID arrives (ServerEndpoint.handleRelease). It removes the
// head, settles its delivery, and grants the new head if one exists.
// It is a no-op if acquisitionID does not belong to the current head.
func (m *MutexInstance) Release(ctx context.Context, acquisitionID string) error {
	m.mu.Lock()
	if len(m.queue) == 0 || m.queue[0].acquisitionID != acquisitionID {
		m.mu.Unlock()
		return nil
	}
	head := m.queue[0]
	m.queue = m.queue[1:]
	var next *waiter
	if len(m.queue) > 0 {
		next = m.queue[0]
		if next.waitTimer != nil {
			next.waitTimer.Stop()
			next.waitTimer = nil
		}
	}
	mx := m.metrics
	m.mu.Unlock()

	err := head.receiver.Settle(ctx, head.inbound)
	if mx != nil {
		mx.DecrementHeldMutexes(ctx)
	}
	if next != nil {
		m.grant(next, mx)
	}
	return err
}

// Drop forcibly ends the current holder's acquisition, e.g. because
// the connection holding it was lost. Unlike Release, this settles
// the held delivery by rejecting it rather than accepting it.
// Rejecting, specifically, is what the real go-amqp client's
// Sender.Send distinguishes: it only special-cases a terminal
// StateRejected (returning a non-nil error) and treats every other
// terminal state, including Released and Modified, the same as
// Accepted (a nil error). A settle-as-released here would therefore
// be indistinguishable from Release's settle-as-accepted on the real
// transport, even though the fake transport (which reports every
// terminal state explicitly) would have told them apart just fine.
// Rejecting is what lets ClientEndpoint.CriticalSection's disposition
// hook tell an orderly release apart from an unsolicited drop, on
// both transports, and invoke onCancel.
func (m *MutexInstance) Drop(ctx context.Context) {
	m.mu.Lock()
	if len(m.queue) == 0 {
		m.mu.Unlock()
		return
	}
	head := m.queue[0]
	m.queue = m.queue[1:]
	var next *waiter
	if len(m.queue) > 0 {
		next = m.queue[0]
		if next.waitTimer != nil {
			next.waitTimer.Stop()
			next.waitTimer = nil
		}
	}
	mx := m.metrics
	m.mu.Unlock()

	_ = head.receiver.Reject(ctx, head.inbound, "mutex holder dropped")
	if mx != nil {
		mx.DecrementHeldMutexes(ctx)
	}
	if next != nil {
		m.grant(next, mx)
	}
}

// timeoutWaiter removes a non-head waiter whose wait_time elapsed
// before it reached the head of the queue, and replies 408. It is a
// no-op if the waiter already became the head (its timer was stopped
// by Release/Drop before that could race) or already left the queue.
func (m *MutexInstance) timeoutWaiter(w *waiter) {
	m.mu.Lock()
	idx := -1
	for i, q := range m.queue {
		if q == w {
			idx = i
			break
		}
	}
	if idx <= 0 {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue[:idx], m.queue[idx+1:]...)
	m.mu.Unlock()

	_ = w.receiver.Release(context.Background(), w.inbound)
	w.resp.Status(wire.StatusMutexQueueTimeout)
	_ = w.resp.Send(map[string]string{"error": ErrQueueTimeout().Message})
}
