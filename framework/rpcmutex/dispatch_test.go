package rpcmutex

import (
	"context"
	"testing"
	"time"

	"github.com/akriventsev/amqpgate/framework/amqptransport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispositionMux_TrackFiresHookOnTerminalDisposition(t *testing.T) {
	broker := amqptransport.NewFakeBroker()
	transport := amqptransport.NewFakeTransport(broker)
	ctx := context.Background()

	session, err := transport.NewSession(ctx)
	require.NoError(t, err)
	recv, err := session.NewReceiver(ctx, "addr", 1)
	require.NoError(t, err)
	sender, err := session.NewSender(ctx, "addr", 1)
	require.NoError(t, err)

	delivery, err := sender.SendTracked(ctx, amqptransport.OutboundMessage{To: "addr"})
	require.NoError(t, err)

	mux := NewDispositionMux()
	fired := make(chan amqptransport.DispositionEvent, 1)
	mux.Track(delivery, func(evt amqptransport.DispositionEvent) { fired <- evt })

	msg, err := recv.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, recv.Accept(ctx, msg))

	select {
	case evt := <-fired:
		assert.Equal(t, amqptransport.StateAccepted, evt.State)
	case <-time.After(time.Second):
		t.Fatal("hook never fired")
	}
}
