package amqptransport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeTransport_SendIsDeliveredToMatchingReceiver(t *testing.T) {
	broker := NewFakeBroker()
	transport := NewFakeTransport(broker)
	ctx := context.Background()

	session, err := transport.NewSession(ctx)
	require.NoError(t, err)

	recv, err := session.NewReceiver(ctx, "svc", 1)
	require.NoError(t, err)
	sender, err := session.NewSender(ctx, "svc", 1)
	require.NoError(t, err)

	_, err = sender.SendTracked(ctx, OutboundMessage{To: "svc", CorrelationID: 7, Body: []byte("hi")})
	require.NoError(t, err)

	msg, err := recv.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), msg.CorrelationID)
	assert.Equal(t, []byte("hi"), msg.Body)
}

func TestFakeTransport_SendToUnknownAddressReleasesDelivery(t *testing.T) {
	broker := NewFakeBroker()
	transport := NewFakeTransport(broker)
	ctx := context.Background()

	session, err := transport.NewSession(ctx)
	require.NoError(t, err)
	sender, err := session.NewAnonymousSender(ctx)
	require.NoError(t, err)

	delivery, err := sender.SendTracked(ctx, OutboundMessage{To: "nobody-home"})
	require.NoError(t, err)

	done := make(chan DispositionEvent, 1)
	delivery.OnUpdate(func(evt DispositionEvent) { done <- evt })

	select {
	case evt := <-done:
		assert.Equal(t, StateReleased, evt.State)
	case <-time.After(time.Second):
		t.Fatal("disposition never resolved")
	}
}

func TestFakeTransport_DynamicReceiverGetsUniqueAddresses(t *testing.T) {
	broker := NewFakeBroker()
	transport := NewFakeTransport(broker)
	ctx := context.Background()

	session, err := transport.NewSession(ctx)
	require.NoError(t, err)

	a, err := session.NewDynamicReceiver(ctx, 1)
	require.NoError(t, err)
	b, err := session.NewDynamicReceiver(ctx, 1)
	require.NoError(t, err)

	assert.NotEqual(t, a.Address(), b.Address())
}

func TestFakeDelivery_AcceptResolvesAsSettledAccepted(t *testing.T) {
	broker := NewFakeBroker()
	transport := NewFakeTransport(broker)
	ctx := context.Background()

	session, err := transport.NewSession(ctx)
	require.NoError(t, err)
	recv, err := session.NewReceiver(ctx, "svc", 1)
	require.NoError(t, err)
	sender, err := session.NewSender(ctx, "svc", 1)
	require.NoError(t, err)

	delivery, err := sender.SendTracked(ctx, OutboundMessage{To: "svc"})
	require.NoError(t, err)

	msg, err := recv.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, recv.Accept(ctx, msg))

	var evt DispositionEvent
	delivery.OnUpdate(func(e DispositionEvent) { evt = e })
	assert.Equal(t, StateAccepted, evt.State)
	assert.True(t, evt.Settled)

	// Accept is idempotent against a later Settle on the same delivery.
	require.NoError(t, recv.Settle(ctx, msg))
}

func TestFakeReceiver_ReceiveUnblocksOnContextCancel(t *testing.T) {
	broker := NewFakeBroker()
	transport := NewFakeTransport(broker)
	ctx := context.Background()

	session, err := transport.NewSession(ctx)
	require.NoError(t, err)
	recv, err := session.NewReceiver(ctx, "svc", 1)
	require.NoError(t, err)

	recvCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	_, err = recv.Receive(recvCtx)
	assert.Error(t, err)
}
