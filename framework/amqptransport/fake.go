package amqptransport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// NewFakeTransport returns an in-memory Transport implementation for
// tests: messages sent to an address are delivered to whichever
// Receiver was opened on that address within the same broker. Two
// endpoints under test share a broker by calling NewFakeTransport
// against the same *FakeBroker.
func NewFakeTransport(broker *FakeBroker) Transport {
	return &fakeTransport{broker: broker}
}

// NewFakeBroker creates an empty address space for fake transports to
// share.
func NewFakeBroker() *FakeBroker {
	return &FakeBroker{receivers: make(map[string]*fakeReceiver)}
}

// FakeBroker is the shared address space backing one or more
// fakeTransport instances, standing in for a real AMQP broker/router.
type FakeBroker struct {
	mu        sync.Mutex
	receivers map[string]*fakeReceiver
	addrSeq   uint64
}

func (b *FakeBroker) register(addr string, r *fakeReceiver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receivers[addr] = r
}

func (b *FakeBroker) unregister(addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.receivers, addr)
}

func (b *FakeBroker) deliver(addr string, msg InboundMessage) error {
	b.mu.Lock()
	r, ok := b.receivers[addr]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("amqptransport: no receiver at address %q", addr)
	}
	r.enqueue(msg)
	return nil
}

func (b *FakeBroker) dynamicAddress() string {
	n := atomic.AddUint64(&b.addrSeq, 1)
	return fmt.Sprintf("/$dynamic/%d-%s", n, uuid.NewString())
}

type fakeTransport struct {
	broker *FakeBroker
}

func (t *fakeTransport) NewSession(ctx context.Context) (Session, error) {
	return &fakeSession{broker: t.broker}, nil
}

func (t *fakeTransport) Close(ctx context.Context) error { return nil }

type fakeSession struct {
	broker *FakeBroker
}

func (s *fakeSession) NewAnonymousSender(ctx context.Context) (Sender, error) {
	return &fakeSender{broker: s.broker}, nil
}

func (s *fakeSession) NewSender(ctx context.Context, target string, credit uint32) (Sender, error) {
	return &fakeSender{broker: s.broker, fixedTarget: target}, nil
}

func (s *fakeSession) NewDynamicReceiver(ctx context.Context, credit uint32) (Receiver, error) {
	addr := s.broker.dynamicAddress()
	r := newFakeReceiver(addr, s.broker)
	s.broker.register(addr, r)
	return r, nil
}

func (s *fakeSession) NewReceiver(ctx context.Context, source string, credit uint32) (Receiver, error) {
	r := newFakeReceiver(source, s.broker)
	s.broker.register(source, r)
	return r, nil
}

func (s *fakeSession) Close(ctx context.Context) error { return nil }

type fakeSender struct {
	broker      *FakeBroker
	fixedTarget string
	nextHandle  uint64
}

func (s *fakeSender) SendTracked(ctx context.Context, out OutboundMessage) (Delivery, error) {
	handle := atomic.AddUint64(&s.nextHandle, 1)
	target := out.To
	if s.fixedTarget != "" {
		target = s.fixedTarget
	}

	d := &fakeDelivery{handle: handle}

	in := InboundMessage{
		CorrelationID:         out.CorrelationID,
		ReplyTo:               out.ReplyTo,
		ApplicationProperties: out.ApplicationProperties,
		Body:                  out.Body,
		delivery:              d,
	}

	if err := s.broker.deliver(target, in); err != nil {
		d.resolve(DispositionEvent{Handle: handle, State: StateReleased, Settled: true})
		return d, nil
	}

	return d, nil
}

func (s *fakeSender) Close(ctx context.Context) error { return nil }

// fakeDelivery is resolved either by the receiving side calling
// Accept/Reject/Release/Modify/Settle, or by the sending side calling
// Settle directly (which resolves it as accepted).
type fakeDelivery struct {
	handle uint64

	mu       sync.Mutex
	event    *DispositionEvent
	callback func(DispositionEvent)
}

func (d *fakeDelivery) Handle() uint64 { return d.handle }

func (d *fakeDelivery) resolve(evt DispositionEvent) {
	d.mu.Lock()
	if d.event != nil {
		d.mu.Unlock()
		return
	}
	evt.Handle = d.handle
	d.event = &evt
	cb := d.callback
	d.mu.Unlock()

	if cb != nil {
		cb(evt)
	}
}

func (d *fakeDelivery) OnUpdate(fn func(DispositionEvent)) {
	d.mu.Lock()
	if d.event != nil {
		evt := *d.event
		d.mu.Unlock()
		fn(evt)
		return
	}
	d.callback = fn
	d.mu.Unlock()
}

func (d *fakeDelivery) Settle(ctx context.Context) error {
	d.resolve(DispositionEvent{State: StateAccepted, Settled: true})
	return nil
}

type fakeReceiver struct {
	addr   string
	broker *FakeBroker

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []InboundMessage
	closed bool
}

func newFakeReceiver(addr string, broker *FakeBroker) *fakeReceiver {
	r := &fakeReceiver{addr: addr, broker: broker}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *fakeReceiver) Address() string { return r.addr }

func (r *fakeReceiver) enqueue(msg InboundMessage) {
	r.mu.Lock()
	r.queue = append(r.queue, msg)
	r.cond.Signal()
	r.mu.Unlock()
}

func (r *fakeReceiver) Receive(ctx context.Context) (InboundMessage, error) {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
		close(done)
	}()

	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.queue) == 0 && !r.closed {
		select {
		case <-ctx.Done():
			return InboundMessage{}, ctx.Err()
		default:
		}
		r.cond.Wait()
	}
	if len(r.queue) == 0 {
		return InboundMessage{}, ctx.Err()
	}
	msg := r.queue[0]
	r.queue = r.queue[1:]
	return msg, nil
}

func (r *fakeReceiver) Accept(ctx context.Context, msg InboundMessage) error {
	msg.delivery.(*fakeDelivery).resolve(DispositionEvent{State: StateAccepted, Settled: true})
	return nil
}

func (r *fakeReceiver) Reject(ctx context.Context, msg InboundMessage, description string) error {
	msg.delivery.(*fakeDelivery).resolve(DispositionEvent{State: StateRejected, Settled: true})
	return nil
}

func (r *fakeReceiver) Release(ctx context.Context, msg InboundMessage) error {
	msg.delivery.(*fakeDelivery).resolve(DispositionEvent{State: StateReleased, Settled: true})
	return nil
}

func (r *fakeReceiver) Modify(ctx context.Context, msg InboundMessage, deliveryFailed bool) error {
	msg.delivery.(*fakeDelivery).resolve(DispositionEvent{State: StateModified, Settled: true})
	return nil
}

func (r *fakeReceiver) Settle(ctx context.Context, msg InboundMessage) error {
	msg.delivery.(*fakeDelivery).resolve(DispositionEvent{State: StateAccepted, Settled: true})
	return nil
}

func (r *fakeReceiver) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.cond.Broadcast()
	r.mu.Unlock()
	r.broker.unregister(r.addr)
	return nil
}
