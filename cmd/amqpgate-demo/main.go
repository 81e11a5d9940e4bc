// Command amqpgate-demo wires one APIConnection over an in-memory
// broker, registers a handful of routes, and drives a client through
// plain fetches plus a contended critical section. It exists to show
// the pieces fitting together end to end.
package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/akriventsev/amqpgate/framework/adminapi"
	"github.com/akriventsev/amqpgate/framework/amqptransport"
	"github.com/akriventsev/amqpgate/framework/metrics"
	"github.com/akriventsev/amqpgate/framework/rpcmutex"
	"github.com/akriventsev/amqpgate/framework/wire"
)

const serverAddress = "demo.names"

type variableStore struct {
	mu      sync.Mutex
	counter int
}

func main() {
	ctx := context.Background()
	ser := wire.DefaultSerializer()

	meterProvider, err := metrics.SetupMetrics(&metrics.MetricsConfig{
		ExporterType: "prometheus",
		SamplingRate: 1.0,
		ResourceAttrs: map[string]string{
			"service.name": "amqpgate-demo",
		},
	})
	if err != nil {
		log.Fatalf("setup metrics: %v", err)
	}
	defer metrics.ShutdownMetrics(ctx, meterProvider)

	broker := amqptransport.NewFakeBroker()
	serverConn, err := rpcmutex.NewAPIConnection(ctx, amqptransport.NewFakeTransport(broker), ser)
	if err != nil {
		log.Fatalf("server connection: %v", err)
	}
	defer serverConn.Close(ctx)

	clientConn, err := rpcmutex.NewAPIConnection(ctx, amqptransport.NewFakeTransport(broker), ser)
	if err != nil {
		log.Fatalf("client connection: %v", err)
	}
	defer clientConn.Close(ctx)

	admin := adminapi.NewServer(serverConn, "amqpgate-demo")
	_ = admin // wired for GET /stats, /healthz, /readyz; not served over a socket in this demo

	store := &variableStore{}

	server, err := serverConn.ServerEndpoint(ctx, serverAddress)
	if err != nil {
		log.Fatalf("server endpoint: %v", err)
	}

	mustHandle(server, "GET", "/names", func(req *rpcmutex.Request, resp *rpcmutex.Response) {
		_ = resp.Send(map[string]string{"item1": "first", "item2": "second"})
	})
	mustHandle(server, "GET", "/names/sub1/sub2", func(req *rpcmutex.Request, resp *rpcmutex.Response) {
		_ = resp.Send("Sub2")
	})
	mustHandle(server, "GET", "/variables/counter", func(req *rpcmutex.Request, resp *rpcmutex.Response) {
		store.mu.Lock()
		value := store.counter
		store.mu.Unlock()
		_ = resp.Send(value)
	})
	mustHandle(server, "PUT", "/variables/counter", func(req *rpcmutex.Request, resp *rpcmutex.Response) {
		var value int
		if err := req.Decode(ser, &value); err != nil {
			resp.Status(wire.StatusMethodNotPermitted)
			_ = resp.Send(map[string]string{"error": err.Error()})
			return
		}
		store.mu.Lock()
		store.counter = value
		store.mu.Unlock()
		_ = resp.Send(value)
	})
	mustHandle(server, "POST", "/variables/counter/increment", func(req *rpcmutex.Request, resp *rpcmutex.Response) {
		store.mu.Lock()
		store.counter++
		value := store.counter
		store.mu.Unlock()
		_ = resp.Send(value)
	})

	go func() {
		if err := server.Serve(ctx); err != nil {
			log.Printf("server endpoint stopped: %v", err)
		}
	}()

	client, err := clientConn.ClientEndpoint(serverAddress)
	if err != nil {
		log.Fatalf("client endpoint: %v", err)
	}

	// S1: GET round trip.
	result := mustFetch(ctx, client, "/names", rpcmutex.WithTimeout(time.Second))
	fmt.Printf("GET /names -> %d %s\n", result.Status, result.Body)

	// S2: nested path.
	result = mustFetch(ctx, client, "/names/sub1/sub2")
	fmt.Printf("GET /names/sub1/sub2 -> %d %s\n", result.Status, result.Body)

	// S3: 404 against a path one segment short of a registered leaf.
	result = mustFetch(ctx, client, "/names/sub1", rpcmutex.WithTimeout(2*time.Second))
	fmt.Printf("GET /names/sub1 -> %d %s (not found, as expected)\n", result.Status, result.Body)

	// S4: PUT then GET.
	result = mustFetch(ctx, client, "/variables/counter")
	fmt.Printf("GET /variables/counter -> %d %s\n", result.Status, result.Body)
	result = mustFetch(ctx, client, "/variables/counter", rpcmutex.WithOp("PUT"), rpcmutex.WithBody(42))
	fmt.Printf("PUT /variables/counter(42) -> %d %s\n", result.Status, result.Body)
	result = mustFetch(ctx, client, "/variables/counter")
	fmt.Printf("GET /variables/counter -> %d %s\n", result.Status, result.Body)

	// Five concurrent critical sections serialized through one mutex,
	// each incrementing the counter exactly once.
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := client.CriticalSection(ctx, "/variables/counter", "counter-lock", func(ctx context.Context) error {
				_, err := client.Fetch(ctx, "/variables/counter/increment", rpcmutex.WithOp("POST"))
				return err
			}, nil, rpcmutex.WithCSTimeout(5*time.Second), rpcmutex.WithLabel(fmt.Sprintf("worker-%d", i)))
			if err != nil {
				log.Printf("worker %d critical section failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	result = mustFetch(ctx, client, "/variables/counter")
	fmt.Printf("GET /variables/counter -> %d %s (after 5 serialized increments)\n", result.Status, result.Body)

	fmt.Printf("server stats: %+v\n", serverConn.GetStats())
}

func mustHandle(server *rpcmutex.ServerEndpoint, verb, path string, fn rpcmutex.HandlerFunc) {
	if err := server.Handle(verb, path, fn); err != nil {
		log.Fatalf("register %s %s: %v", verb, path, err)
	}
}

func mustFetch(ctx context.Context, client *rpcmutex.ClientEndpoint, path string, opts ...rpcmutex.FetchOption) *rpcmutex.FetchResult {
	result, err := client.Fetch(ctx, path, opts...)
	if err != nil {
		log.Fatalf("fetch %s: %v", path, err)
	}
	return result
}
