package rpcmutex

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/akriventsev/amqpgate/framework/amqptransport"
	"github.com/akriventsev/amqpgate/framework/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newLinkedConnections wires a server-side and a client-side
// APIConnection against the same in-memory broker, the way two
// processes sharing a real AMQP router would be wired.
func newLinkedConnections(t *testing.T) (server, client *APIConnection) {
	t.Helper()
	broker := amqptransport.NewFakeBroker()

	serverTransport := amqptransport.NewFakeTransport(broker)
	clientTransport := amqptransport.NewFakeTransport(broker)

	ctx := context.Background()
	server, err := NewAPIConnection(ctx, serverTransport, wire.DefaultSerializer())
	require.NoError(t, err)
	client, err = NewAPIConnection(ctx, clientTransport, wire.DefaultSerializer())
	require.NoError(t, err)
	return server, client
}

func TestFetch_RoutesToRegisteredHandler(t *testing.T) {
	server, client := newLinkedConnections(t)
	ctx := context.Background()

	ep, err := server.ServerEndpoint(ctx, "svc")
	require.NoError(t, err)
	require.NoError(t, ep.Handle("GET", "/widgets/1", func(req *Request, resp *Response) {
		_ = resp.Send(map[string]string{"name": "widget-1"})
	}))
	go ep.Serve(ctx)

	cli, err := client.ClientEndpoint("svc")
	require.NoError(t, err)

	result, err := cli.Fetch(ctx, "/widgets/1", WithOp("GET"), WithTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, wire.StatusOK, result.Status)

	var body map[string]string
	require.NoError(t, wire.DefaultSerializer().Deserialize(result.Body, &body))
	assert.Equal(t, "widget-1", body["name"])
}

func TestFetch_UnknownPathReturns404(t *testing.T) {
	server, client := newLinkedConnections(t)
	ctx := context.Background()

	ep, err := server.ServerEndpoint(ctx, "svc")
	require.NoError(t, err)
	go ep.Serve(ctx)

	cli, err := client.ClientEndpoint("svc")
	require.NoError(t, err)

	result, err := cli.Fetch(ctx, "/nope", WithTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, wire.StatusNotFound, result.Status)
}

func TestFetch_WrongVerbReturns400(t *testing.T) {
	server, client := newLinkedConnections(t)
	ctx := context.Background()

	ep, err := server.ServerEndpoint(ctx, "svc")
	require.NoError(t, err)
	require.NoError(t, ep.Handle("GET", "/widgets/1", func(req *Request, resp *Response) { _ = resp.End() }))
	go ep.Serve(ctx)

	cli, err := client.ClientEndpoint("svc")
	require.NoError(t, err)

	result, err := cli.Fetch(ctx, "/widgets/1", WithOp("DELETE"), WithTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, wire.StatusMethodNotPermitted, result.Status)
}

func TestCriticalSection_SerializesFiveConcurrentClients(t *testing.T) {
	server, client := newLinkedConnections(t)
	ctx := context.Background()

	ep, err := server.ServerEndpoint(ctx, "svc")
	require.NoError(t, err)
	require.NoError(t, ep.Handle("acquire", "/counter", func(req *Request, resp *Response) {}))
	go ep.Serve(ctx)

	cli, err := client.ClientEndpoint("svc")
	require.NoError(t, err)

	var counter int64
	var maxObservedConcurrency int64
	var inside int64

	run := func() error {
		return cli.CriticalSection(ctx, "/counter", "counter-lock", func(ctx context.Context) error {
			cur := atomic.AddInt64(&inside, 1)
			for {
				max := atomic.LoadInt64(&maxObservedConcurrency)
				if cur <= max || atomic.CompareAndSwapInt64(&maxObservedConcurrency, max, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&counter, 1)
			atomic.AddInt64(&inside, -1)
			return nil
		}, nil, WithCSTimeout(2*time.Second))
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, run())
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 5, counter)
	assert.EqualValues(t, 1, maxObservedConcurrency)
}

func TestCriticalSection_MutexErrorSurfacesReplyStatus(t *testing.T) {
	server, client := newLinkedConnections(t)
	ctx := context.Background()

	ep, err := server.ServerEndpoint(ctx, "svc")
	require.NoError(t, err)
	require.NoError(t, ep.Handle("GET", "/counter", func(req *Request, resp *Response) { _ = resp.End() }))
	go ep.Serve(ctx)

	cli, err := client.ClientEndpoint("svc")
	require.NoError(t, err)

	// No acquire handler registered at /missing-lock -> 404 on the mutex link.
	err = cli.CriticalSection(ctx, "/missing-lock", "some-lock", func(ctx context.Context) error {
		return nil
	}, nil, WithCSTimeout(time.Second))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Mutex error")
}

func TestAPIConnection_DuplicateServerEndpointRejected(t *testing.T) {
	server, _ := newLinkedConnections(t)
	ctx := context.Background()

	_, err := server.ServerEndpoint(ctx, "svc")
	require.NoError(t, err)

	_, err = server.ServerEndpoint(ctx, "svc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestAPIConnection_GetStats(t *testing.T) {
	server, client := newLinkedConnections(t)
	ctx := context.Background()

	_, err := server.ServerEndpoint(ctx, "svc")
	require.NoError(t, err)
	_, err = client.ClientEndpoint("svc")
	require.NoError(t, err)

	stats := server.GetStats()
	assert.Equal(t, 1, stats.ServerEndpointCount)
	assert.Equal(t, 0, stats.ClientEndpointCount)

	clientStats := client.GetStats()
	assert.Equal(t, 0, clientStats.ServerEndpointCount)
	assert.Equal(t, 1, clientStats.ClientEndpointCount)
}

func TestServeTeardown_ForceDropsHeldMutexAndClientObservesIt(t *testing.T) {
	server, client := newLinkedConnections(t)
	ctx := context.Background()

	ep, err := server.ServerEndpoint(ctx, "svc")
	require.NoError(t, err)
	require.NoError(t, ep.Handle("acquire", "/counter", func(req *Request, resp *Response) {}))

	serveCtx, cancelServe := context.WithCancel(ctx)
	serveDone := make(chan error, 1)
	go func() { serveDone <- ep.Serve(serveCtx) }()

	cli, err := client.ClientEndpoint("svc")
	require.NoError(t, err)

	held := make(chan struct{})
	cancelled := make(chan struct{})
	csErr := make(chan error, 1)
	go func() {
		csErr <- cli.CriticalSection(ctx, "/counter", "counter-lock", func(ctx context.Context) error {
			close(held)
			<-ctx.Done() // unblocked only by the disposition hook on an unsolicited drop
			return ctx.Err()
		}, func() { close(cancelled) }, WithCSTimeout(0))
	}()

	<-held
	cancelServe()

	select {
	case err := <-serveDone:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve never returned after cancellation")
	}

	select {
	case err := <-csErr:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dropped prematurely")
	case <-time.After(time.Second):
		t.Fatal("critical section never observed the forced drop")
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("onCancel was never invoked on the unsolicited drop")
	}
}
