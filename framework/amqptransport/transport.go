// Package amqptransport narrows github.com/Azure/go-amqp's session/link
// surface down to the contract framework/rpcmutex needs: anonymous
// senders, dynamic-source receivers, manual accept/settle, and
// per-delivery disposition observation. An in-memory fake
// (fake.go) satisfies the same interfaces for tests.
package amqptransport

import "context"

// DispositionState is the terminal outcome of a delivery as observed
// by the side that sent it.
type DispositionState int

const (
	StateUnsettled DispositionState = iota
	StateAccepted
	StateRejected
	StateReleased
	StateModified
)

func (s DispositionState) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateRejected:
		return "rejected"
	case StateReleased:
		return "released"
	case StateModified:
		return "modified"
	default:
		return "unsettled"
	}
}

// OutboundMessage is what a Sender transmits.
type OutboundMessage struct {
	To                    string
	ReplyTo               string
	CorrelationID         uint64
	ApplicationProperties map[string]interface{}
	Body                  []byte
}

// InboundMessage is what a Receiver hands back from Receive.
type InboundMessage struct {
	CorrelationID         uint64
	ReplyTo               string
	ApplicationProperties map[string]interface{}
	Body                  []byte

	delivery interface{} // opaque handle threaded back through Accept/Reject/Release/Modify
}

// DispositionEvent reports the terminal state of a previously sent
// delivery, or (for locally-held deliveries) the fact that the peer
// settled it. Handle identifies the delivery within its link class.
type DispositionEvent struct {
	Handle  uint64
	State   DispositionState
	Settled bool
}

// Delivery is a single outstanding send. It is live from SendTracked
// until its terminal disposition fires.
type Delivery interface {
	// Handle is stable for the lifetime of the delivery.
	Handle() uint64
	// OnUpdate registers the callback invoked exactly once with the
	// delivery's terminal DispositionEvent. Safe to call after the
	// event has already occurred (fires immediately in that case).
	OnUpdate(fn func(DispositionEvent))
	// Settle locally settles the delivery and resolves it as accepted.
	// framework/rpcmutex does not call it: its client ends a held mutex
	// with an explicit release message instead.
	Settle(ctx context.Context) error
}

// Sender transmits messages on one logical link (one LinkClass).
type Sender interface {
	// SendTracked enqueues msg and returns a Delivery immediately;
	// the network exchange happens in the background and resolves
	// the Delivery's OnUpdate hook.
	SendTracked(ctx context.Context, msg OutboundMessage) (Delivery, error)
	Close(ctx context.Context) error
}

// Receiver receives messages on one logical link.
type Receiver interface {
	// Address returns the link's assigned address; for a dynamic-source
	// receiver it is populated once NewDynamicReceiver returns.
	Address() string
	Receive(ctx context.Context) (InboundMessage, error)
	Accept(ctx context.Context, msg InboundMessage) error
	Reject(ctx context.Context, msg InboundMessage, description string) error
	Release(ctx context.Context, msg InboundMessage) error
	Modify(ctx context.Context, msg InboundMessage, deliveryFailed bool) error
	// Settle terminally settles msg by accepting it (both the go-amqp
	// adapter and the fake resolve it as accepted). A delivery left
	// un-settled after Receive
	// stays "held" on the wire; MutexInstance uses this to model a
	// granted-but-not-yet-released acquisition, calling Settle only
	// when the lock is actually released.
	Settle(ctx context.Context, msg InboundMessage) error
	Close(ctx context.Context) error
}

// Session is one AMQP session: a factory for the senders/receivers a
// connection needs.
type Session interface {
	NewAnonymousSender(ctx context.Context) (Sender, error)
	NewDynamicReceiver(ctx context.Context, credit uint32) (Receiver, error)
	NewSender(ctx context.Context, target string, credit uint32) (Sender, error)
	NewReceiver(ctx context.Context, source string, credit uint32) (Receiver, error)
	Close(ctx context.Context) error
}

// Transport dials a broker and opens sessions on the resulting
// connection.
type Transport interface {
	NewSession(ctx context.Context) (Session, error)
	Close(ctx context.Context) error
}
