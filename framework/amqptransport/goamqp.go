package amqptransport

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Azure/go-amqp"
)

// Config holds the connection parameters a host program supplies.
// TLSConfig is left to amqp.ConnOptions since it is transport-layer
// material out of scope for this module.
type Config struct {
	Address  string
	SASLType string // "anonymous" or "external"; external enables client-cert identity
}

// goAMQPTransport adapts a single *amqp.Conn.
type goAMQPTransport struct {
	conn *amqp.Conn
}

// Dial opens a connection to addr and returns a Transport backed by
// github.com/Azure/go-amqp.
func Dial(ctx context.Context, cfg Config) (Transport, error) {
	opts := &amqp.ConnOptions{}
	if cfg.SASLType == "external" {
		opts.SASLType = amqp.SASLTypeExternal()
	} else {
		opts.SASLType = amqp.SASLTypeAnonymous()
	}

	conn, err := amqp.Dial(ctx, cfg.Address, opts)
	if err != nil {
		return nil, err
	}
	return &goAMQPTransport{conn: conn}, nil
}

func (t *goAMQPTransport) NewSession(ctx context.Context) (Session, error) {
	sess, err := t.conn.NewSession(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &goAMQPSession{sess: sess}, nil
}

func (t *goAMQPTransport) Close(ctx context.Context) error {
	return t.conn.Close()
}

type goAMQPSession struct {
	sess *amqp.Session
}

func settleSecond() *amqp.ReceiverSettleMode {
	m := amqp.ReceiverSettleModeSecond
	return &m
}

func settleUnsettled() *amqp.SenderSettleMode {
	m := amqp.SenderSettleModeUnsettled
	return &m
}

// Senders deliberately do not set RequestedReceiverSettleMode. The
// vendored library's own Sender.attach rejects the combination of an
// unsettled sender with a requested receiver mode of "second" outright
// ("sender does not support exactly-once guarantee") — the receiver
// side of each link already requests mode-second on its own attach
// (see NewReceiver/NewDynamicReceiver below), which is sufficient to
// keep a received delivery manually-settleable; the sender has no need
// to also hint at it, and doing so only trips that rejection.
func (s *goAMQPSession) NewAnonymousSender(ctx context.Context) (Sender, error) {
	snd, err := s.sess.NewSender(ctx, "", &amqp.SenderOptions{
		SettlementMode: settleUnsettled(),
	})
	if err != nil {
		return nil, err
	}
	return newGoAMQPSender(snd), nil
}

func (s *goAMQPSession) NewSender(ctx context.Context, target string, credit uint32) (Sender, error) {
	snd, err := s.sess.NewSender(ctx, target, &amqp.SenderOptions{
		SettlementMode: settleUnsettled(),
	})
	if err != nil {
		return nil, err
	}
	return newGoAMQPSender(snd), nil
}

func (s *goAMQPSession) NewDynamicReceiver(ctx context.Context, credit uint32) (Receiver, error) {
	rcv, err := s.sess.NewReceiver(ctx, "", &amqp.ReceiverOptions{
		DynamicAddress: true,
		Credit:         int32(credit),
		SettlementMode: settleSecond(),
	})
	if err != nil {
		return nil, err
	}
	return &goAMQPReceiver{rcv: rcv}, nil
}

func (s *goAMQPSession) NewReceiver(ctx context.Context, source string, credit uint32) (Receiver, error) {
	rcv, err := s.sess.NewReceiver(ctx, source, &amqp.ReceiverOptions{
		Credit:         int32(credit),
		SettlementMode: settleSecond(),
	})
	if err != nil {
		return nil, err
	}
	return &goAMQPReceiver{rcv: rcv}, nil
}

func (s *goAMQPSession) Close(ctx context.Context) error {
	return s.sess.Close(ctx)
}

type goAMQPSender struct {
	snd      *amqp.Sender
	nextTag  uint64
	mu       sync.Mutex
	pending  map[uint64]*goAMQPDelivery
}

func newGoAMQPSender(snd *amqp.Sender) *goAMQPSender {
	return &goAMQPSender{snd: snd, pending: make(map[uint64]*goAMQPDelivery)}
}

func (s *goAMQPSender) SendTracked(ctx context.Context, out OutboundMessage) (Delivery, error) {
	handle := atomic.AddUint64(&s.nextTag, 1)

	msg := &amqp.Message{
		Properties: &amqp.MessageProperties{
			To:            &out.To,
			ReplyTo:       &out.ReplyTo,
			CorrelationID: out.CorrelationID,
		},
		ApplicationProperties: out.ApplicationProperties,
		Data:                  [][]byte{out.Body},
	}

	sendCtx, cancel := context.WithCancel(ctx)
	d := &goAMQPDelivery{handle: handle, ready: make(chan struct{}), cancel: cancel}

	s.mu.Lock()
	s.pending[handle] = d
	s.mu.Unlock()

	go func() {
		err := s.snd.Send(sendCtx, msg, nil)
		evt := DispositionEvent{Handle: handle, Settled: true}
		switch {
		case err == nil:
			// The underlying Sender.Send only special-cases a terminal
			// StateRejected; every other terminal state it observes
			// (Accepted, Released, Modified) resolves with a nil error.
			// A nil error is therefore reported as StateAccepted here,
			// which is why MutexInstance.Drop must settle its held
			// delivery by rejecting rather than releasing it — only a
			// reject is distinguishable from an ordinary accept-based
			// release through this adapter.
			evt.State = StateAccepted
		case d.selfSettled():
			// Settle() cancelled sendCtx to end a held (unsettled)
			// mutex delivery locally; that is a release, not a failure.
			evt.State = StateAccepted
		default:
			evt.State = StateRejected
		}
		d.resolve(evt)

		s.mu.Lock()
		delete(s.pending, handle)
		s.mu.Unlock()
	}()

	return d, nil
}

func (s *goAMQPSender) Close(ctx context.Context) error {
	return s.snd.Close(ctx)
}

// goAMQPDelivery adapts the blocking go-amqp Send() call into the
// async Delivery contract: the handle is available immediately, the
// terminal disposition arrives later on a background goroutine.
type goAMQPDelivery struct {
	handle uint64
	cancel context.CancelFunc

	mu        sync.Mutex
	event     *DispositionEvent
	ready     chan struct{}
	callback  func(DispositionEvent)
	selfEnded bool
}

func (d *goAMQPDelivery) selfSettled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selfEnded
}

func (d *goAMQPDelivery) Handle() uint64 { return d.handle }

func (d *goAMQPDelivery) resolve(evt DispositionEvent) {
	d.mu.Lock()
	d.event = &evt
	cb := d.callback
	close(d.ready)
	d.mu.Unlock()

	if cb != nil {
		cb(evt)
	}
}

func (d *goAMQPDelivery) OnUpdate(fn func(DispositionEvent)) {
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

// Settle ends a delivery the client is holding open (an unsettled
// mutex acquire) by cancelling its send context. The background Send()
// call then returns a cancellation error; SendTracked reports that as
// StateAccepted because the delivery is marked self-settled.
func (d *goAMQPDelivery) Settle(ctx context.Context) error {
	d.mu.Lock()
	d.selfEnded = true
	d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
	return nil
}

type goAMQPReceiver struct {
	rcv *amqp.Receiver
}

func (r *goAMQPReceiver) Address() string {
	return r.rcv.Address()
}

func (r *goAMQPReceiver) Receive(ctx context.Context) (InboundMessage, error) {
	msg, err := r.rcv.Receive(ctx, nil)
	if err != nil {
		return InboundMessage{}, err
	}

	in := InboundMessage{
		ApplicationProperties: msg.ApplicationProperties,
		delivery:              msg,
	}
	if msg.Properties != nil {
		if msg.Properties.ReplyTo != nil {
			in.ReplyTo = *msg.Properties.ReplyTo
		}
		if cid, ok := msg.Properties.CorrelationID.(uint64); ok {
			in.CorrelationID = cid
		}
	}
	if len(msg.Data) > 0 {
		in.Body = msg.Data[0]
	}
	return in, nil
}

func (r *goAMQPReceiver) Accept(ctx context.Context, in InboundMessage) error {
	msg := in.delivery.(*amqp.Message)
	return r.rcv.AcceptMessage(ctx, msg)
}

func (r *goAMQPReceiver) Reject(ctx context.Context, in InboundMessage, description string) error {
	msg := in.delivery.(*amqp.Message)
	return r.rcv.RejectMessage(ctx, msg, &amqp.Error{Condition: amqp.ErrCond("amqpgate:rejected"), Description: description})
}

func (r *goAMQPReceiver) Release(ctx context.Context, in InboundMessage) error {
	msg := in.delivery.(*amqp.Message)
	return r.rcv.ReleaseMessage(ctx, msg)
}

func (r *goAMQPReceiver) Modify(ctx context.Context, in InboundMessage, deliveryFailed bool) error {
	msg := in.delivery.(*amqp.Message)
	return r.rcv.ModifyMessage(ctx, msg, &amqp.ModifyMessageOptions{DeliveryFailed: deliveryFailed})
}

// Settle finally accepts a delivery that was deliberately left
// unsettled after receipt (a granted mutex acquisition). Calling it
// only at release time, rather than at receive time, is what keeps
// the delivery "held" on the wire in between.
func (r *goAMQPReceiver) Settle(ctx context.Context, in InboundMessage) error {
	msg := in.delivery.(*amqp.Message)
	return r.rcv.AcceptMessage(ctx, msg)
}

func (r *goAMQPReceiver) Close(ctx context.Context) error {
	return r.rcv.Close(ctx)
}
