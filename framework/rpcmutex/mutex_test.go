package rpcmutex

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/akriventsev/amqpgate/framework/amqptransport"
	"github.com/akriventsev/amqpgate/framework/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSender captures every OutboundMessage sent through it, for
// assertions on what a grant/timeout reply looked like.
type recordingSender struct {
	mu  sync.Mutex
	out []amqptransport.OutboundMessage
}

func (s *recordingSender) SendTracked(ctx context.Context, msg amqptransport.OutboundMessage) (amqptransport.Delivery, error) {
	s.mu.Lock()
	s.out = append(s.out, msg)
	s.mu.Unlock()
	return nil, nil
}

func (s *recordingSender) Close(ctx context.Context) error { return nil }

func (s *recordingSender) last() amqptransport.OutboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out[len(s.out)-1]
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.out)
}

// recordingReceiver implements amqptransport.Receiver just enough to
// track which disposition method was called on which message.
type recordingReceiver struct {
	mu       sync.Mutex
	settled  []amqptransport.InboundMessage
	released []amqptransport.InboundMessage
	rejected []amqptransport.InboundMessage
}

func (r *recordingReceiver) Address() string { return "test" }
func (r *recordingReceiver) Receive(ctx context.Context) (amqptransport.InboundMessage, error) {
	return amqptransport.InboundMessage{}, nil
}
func (r *recordingReceiver) Accept(ctx context.Context, msg amqptransport.InboundMessage) error {
	return nil
}
func (r *recordingReceiver) Reject(ctx context.Context, msg amqptransport.InboundMessage, description string) error {
	r.mu.Lock()
	r.rejected = append(r.rejected, msg)
	r.mu.Unlock()
	return nil
}
func (r *recordingReceiver) Release(ctx context.Context, msg amqptransport.InboundMessage) error {
	r.mu.Lock()
	r.released = append(r.released, msg)
	r.mu.Unlock()
	return nil
}
func (r *recordingReceiver) Modify(ctx context.Context, msg amqptransport.InboundMessage, deliveryFailed bool) error {
	return nil
}
func (r *recordingReceiver) Settle(ctx context.Context, msg amqptransport.InboundMessage) error {
	r.mu.Lock()
	r.settled = append(r.settled, msg)
	r.mu.Unlock()
	return nil
}
func (r *recordingReceiver) Close(ctx context.Context) error { return nil }

func newTestWaiterResponse(sender *recordingSender) *Response {
	return newResponse(sender, wire.DefaultSerializer(), "client-reply", 1)
}

func TestMutexInstance_EmptyQueueGrantsImmediately(t *testing.T) {
	m := newMutexInstance("lockA")
	recv := &recordingReceiver{}
	sender := &recordingSender{}

	m.Enqueue(recv, amqptransport.InboundMessage{CorrelationID: 1}, newTestWaiterResponse(sender), 0)

	require.Equal(t, 1, sender.count())
	props := wire.ResponsePropertiesFromMap(sender.last().ApplicationProperties)
	assert.Equal(t, wire.StatusOK, props.Status)
	assert.NotEmpty(t, props.AcquisitionID)
}

func TestMutexInstance_SecondWaiterQueuesWithoutGrant(t *testing.T) {
	m := newMutexInstance("lockA")
	recv := &recordingReceiver{}

	senderA := &recordingSender{}
	m.Enqueue(recv, amqptransport.InboundMessage{CorrelationID: 1}, newTestWaiterResponse(senderA), 0)

	senderB := &recordingSender{}
	m.Enqueue(recv, amqptransport.InboundMessage{CorrelationID: 2}, newTestWaiterResponse(senderB), 0)

	assert.Equal(t, 1, senderA.count())
	assert.Equal(t, 0, senderB.count())
}

func TestMutexInstance_ReleaseGrantsNextWaiter(t *testing.T) {
	m := newMutexInstance("lockA")
	recv := &recordingReceiver{}

	senderA := &recordingSender{}
	m.Enqueue(recv, amqptransport.InboundMessage{CorrelationID: 1}, newTestWaiterResponse(senderA), 0)
	idA := wire.ResponsePropertiesFromMap(senderA.last().ApplicationProperties).AcquisitionID

	senderB := &recordingSender{}
	m.Enqueue(recv, amqptransport.InboundMessage{CorrelationID: 2}, newTestWaiterResponse(senderB), 0)
	require.Equal(t, 0, senderB.count())

	require.NoError(t, m.Release(context.Background(), idA))

	require.Equal(t, 1, len(recv.settled))
	require.Equal(t, 1, senderB.count())
	propsB := wire.ResponsePropertiesFromMap(senderB.last().ApplicationProperties)
	assert.Equal(t, wire.StatusOK, propsB.Status)
}

func TestMutexInstance_ReleaseWithStaleAcquisitionIDIsNoop(t *testing.T) {
	m := newMutexInstance("lockA")
	recv := &recordingReceiver{}
	sender := &recordingSender{}
	m.Enqueue(recv, amqptransport.InboundMessage{}, newTestWaiterResponse(sender), 0)

	require.NoError(t, m.Release(context.Background(), "not-the-real-id"))
	assert.Empty(t, recv.settled)
}

func TestMutexInstance_HeadWaiterNeverGetsATimer(t *testing.T) {
	m := newMutexInstance("lockA")
	recv := &recordingReceiver{}

	senderA := &recordingSender{}
	m.Enqueue(recv, amqptransport.InboundMessage{}, newTestWaiterResponse(senderA), 50*time.Millisecond)

	// The head (senderA) was granted immediately and must not have a
	// timer armed even though it was called with a non-zero waitTime.
	require.Len(t, m.queue, 1)
	assert.Nil(t, m.queue[0].waitTimer)
}

func TestMutexInstance_QueuedWaiterTimesOutWith408(t *testing.T) {
	m := newMutexInstance("lockA")
	recv := &recordingReceiver{}

	senderA := &recordingSender{}
	m.Enqueue(recv, amqptransport.InboundMessage{}, newTestWaiterResponse(senderA), 0)

	senderB := &recordingSender{}
	m.Enqueue(recv, amqptransport.InboundMessage{}, newTestWaiterResponse(senderB), 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return senderB.count() == 1
	}, time.Second, 10*time.Millisecond)

	props := wire.ResponsePropertiesFromMap(senderB.last().ApplicationProperties)
	assert.Equal(t, wire.StatusMutexQueueTimeout, props.Status)
	assert.Len(t, recv.released, 1)
}

func TestMutexInstance_DropReleasesHeadDistinctlyFromRelease(t *testing.T) {
	m := newMutexInstance("lockA")
	recv := &recordingReceiver{}

	senderA := &recordingSender{}
	m.Enqueue(recv, amqptransport.InboundMessage{}, newTestWaiterResponse(senderA), 0)

	senderB := &recordingSender{}
	m.Enqueue(recv, amqptransport.InboundMessage{}, newTestWaiterResponse(senderB), 0)
	require.Equal(t, 0, senderB.count())

	// Drop must settle the head via Reject, not Settle or Release: a
	// normal Release (tested above by TestMutexInstance_ReleaseGrantsNextWaiter)
	// leaves recv.settled non-empty, which both the fake and the real
	// go-amqp-backed transport resolve to StateAccepted on the client
	// side. The real transport's Sender.Send only ever reports a
	// distinct terminal state for a reject, collapsing every other
	// disposition (including a release) into the same outcome as an
	// accept — so only a reject lets a forced Drop be told apart from
	// an orderly Release by the client's disposition hook.
	m.Drop(context.Background())

	assert.Empty(t, recv.settled)
	assert.Empty(t, recv.released)
	assert.Len(t, recv.rejected, 1)
	require.Equal(t, 1, senderB.count())
	propsB := wire.ResponsePropertiesFromMap(senderB.last().ApplicationProperties)
	assert.Equal(t, wire.StatusOK, propsB.Status)
}
