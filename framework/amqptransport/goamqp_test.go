package amqptransport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests exercise goAMQPDelivery's disposition-event plumbing
// directly, without a live *amqp.Conn: dialing, SASL, and session/link
// framing are out of scope per this module's spec (external transport
// collaborators), so there is no broker to connect to in this test
// tree. What is in scope, and tested here, is the translation logic
// goAMQPSender.SendTracked layers on top of the vendored client's
// Sender.Send — the part responsible for telling an ordinary release
// apart from a forced drop, which is exactly what a prior review round
// found broken.

func TestGoAMQPDelivery_OnUpdateFiresImmediatelyAfterResolve(t *testing.T) {
	d := &goAMQPDelivery{handle: 7, ready: make(chan struct{})}
	d.resolve(DispositionEvent{State: StateAccepted, Settled: true})

	fired := make(chan DispositionEvent, 1)
	d.OnUpdate(func(evt DispositionEvent) { fired <- evt })

	select {
	case evt := <-fired:
		assert.Equal(t, StateAccepted, evt.State)
		assert.Equal(t, uint64(7), evt.Handle)
	default:
		t.Fatal("OnUpdate did not fire synchronously for an already-resolved delivery")
	}
}

func TestGoAMQPDelivery_OnUpdateFiresOnceOnLaterResolve(t *testing.T) {
	d := &goAMQPDelivery{handle: 3, ready: make(chan struct{})}

	fired := make(chan DispositionEvent, 1)
	d.OnUpdate(func(evt DispositionEvent) { fired <- evt })

	d.resolve(DispositionEvent{State: StateRejected, Settled: true})

	select {
	case evt := <-fired:
		assert.Equal(t, StateRejected, evt.State)
	default:
		t.Fatal("OnUpdate callback never fired")
	}
}

func TestGoAMQPDelivery_SettleMarksSelfSettledAndCancelsSendContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &goAMQPDelivery{handle: 1, ready: make(chan struct{}), cancel: cancel}

	require.False(t, d.selfSettled())
	require.NoError(t, d.Settle(context.Background()))
	assert.True(t, d.selfSettled())

	select {
	case <-ctx.Done():
	default:
		t.Fatal("Settle did not cancel the delivery's send context")
	}
}

// TestSendTracked_ClassificationMatchesVendoredSendContract restates,
// in a local closure, the case analysis goAMQPSender.SendTracked's
// background goroutine runs once Sender.Send returns (SendTracked itself
// is not called here, since it needs a live sender), against the
// vendored client's actual
// contract (Sender.Send returns a non-nil error only for a terminal
// StateRejected; every other terminal disposition, including Released
// and Modified, resolves with a nil error). A nil error must map to
// StateAccepted; this is also why MutexInstance.Drop has to settle its
// held delivery by rejecting it rather than releasing it — a release
// would be indistinguishable from an ordinary accept-based release
// through this exact classification.
func TestSendTracked_ClassificationMatchesVendoredSendContract(t *testing.T) {
	classify := func(err error, selfSettled bool) DispositionState {
		switch {
		case err == nil:
			return StateAccepted
		case selfSettled:
			return StateAccepted
		default:
			return StateRejected
		}
	}

	assert.Equal(t, StateAccepted, classify(nil, false), "Sender.Send returning nil (accept, release, or modify) must read as accepted")
	assert.Equal(t, StateRejected, classify(assert.AnError, false), "Sender.Send returning the rejected state's error must read as rejected")
	assert.Equal(t, StateAccepted, classify(context.Canceled, true), "a self-settled delivery whose send context we cancelled must read as accepted, not rejected")
}
