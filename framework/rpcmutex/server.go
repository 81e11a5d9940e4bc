package rpcmutex

import (
	"context"
	"fmt"
	"time"

	"github.com/akriventsev/amqpgate/framework/amqptransport"
	"github.com/akriventsev/amqpgate/framework/metrics"
	"github.com/akriventsev/amqpgate/framework/observability"
	"github.com/akriventsev/amqpgate/framework/wire"
)

// ServerEndpoint routes requests arriving on one address's fetch and
// mutex links to registered HandlerFuncs. Build one with
// APIConnection.ServerEndpoint, register routes with Handle, then call
// Serve to start processing.
type ServerEndpoint struct {
	address string
	ser     wire.Serializer
	trie    *PathTrie
	metrics *metrics.Metrics

	fetchRecv   amqptransport.Receiver
	mutexRecv   amqptransport.Receiver
	replySender amqptransport.Sender
}

func newServerEndpoint(address string, ser wire.Serializer, m *metrics.Metrics, fetchRecv, mutexRecv amqptransport.Receiver, replySender amqptransport.Sender) *ServerEndpoint {
	return &ServerEndpoint{
		address:     address,
		ser:         ser,
		trie:        NewPathTrie(),
		metrics:     m,
		fetchRecv:   fetchRecv,
		mutexRecv:   mutexRecv,
		replySender: replySender,
	}
}

// Handle registers fn for verb at path. Registering a second handler
// for a different verb at the same path is fine; registering the same
// path twice through separate Handle calls is not an error (each
// HandlerNode accepts multiple verbs) — only PathTrie.Insert with two
// distinct nodes at one path is rejected.
func (e *ServerEndpoint) Handle(verb, path string, fn HandlerFunc) error {
	node := e.trie.Lookup(path)
	if node == nil {
		node = newHandlerNode()
		if err := e.trie.Insert(path, node); err != nil {
			return err
		}
	}
	node.Handle(verb, fn)
	return nil
}

// Serve starts the fetch and mutex receive loops. It returns once ctx
// is cancelled or a receiver's link fails. On return, any mutex this
// endpoint currently holds granted is force-dropped: the link that
// carried its unsettled acquire delivery is gone, so the spec's
// "implicitly released by transport link termination" applies, and
// each holder's client observes the drop through its disposition hook.
func (e *ServerEndpoint) Serve(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() { errCh <- e.serveFetch(ctx) }()
	go func() { errCh <- e.serveMutex(ctx) }()
	err := <-errCh
	e.dropAllMutexes(context.Background())
	return err
}

// dropAllMutexes forces every MutexInstance this endpoint ever created
// to release its current holder, if any, as if the holder had
// disconnected.
func (e *ServerEndpoint) dropAllMutexes(ctx context.Context) {
	e.trie.Walk(func(n *HandlerNode) {
		set := n.MutexSet()
		if set == nil {
			return
		}
		for _, inst := range set.Instances() {
			inst.Drop(ctx)
		}
	})
}

func (e *ServerEndpoint) newResponseFor(msg amqptransport.InboundMessage) *Response {
	return newResponse(e.replySender, e.ser, msg.ReplyTo, msg.CorrelationID)
}

func (e *ServerEndpoint) serveFetch(ctx context.Context) error {
	for {
		msg, err := e.fetchRecv.Receive(ctx)
		if err != nil {
			return err
		}
		props := wire.RequestPropertiesFromMap(msg.ApplicationProperties)
		e.dispatchFetch(ctx, msg, props)
	}
}

func (e *ServerEndpoint) dispatchFetch(ctx context.Context, msg amqptransport.InboundMessage, props wire.RequestProperties) {
	resp := e.newResponseFor(msg)

	node := e.trie.Lookup(props.Path)
	if node == nil {
		_ = e.fetchRecv.Accept(ctx, msg)
		resp.Status(wire.StatusNotFound)
		_ = resp.Send(map[string]string{"error": ErrPathNotFound(props.Path).Message})
		e.metrics.RecordDispatch(ctx, string(props.Op), props.Path, wire.StatusNotFound)
		return
	}

	handlers := node.Handlers(string(props.Op))
	if len(handlers) == 0 {
		_ = e.fetchRecv.Accept(ctx, msg)
		resp.Status(wire.StatusMethodNotPermitted)
		_ = resp.Send(map[string]string{"error": ErrMethodNotPermitted(string(props.Op), props.Path).Message})
		e.metrics.RecordDispatch(ctx, string(props.Op), props.Path, wire.StatusMethodNotPermitted)
		return
	}

	_ = e.fetchRecv.Accept(ctx, msg)

	req := &Request{
		Op:            props.Op,
		Path:          props.Path,
		MutexName:     props.MutexName,
		Label:         props.Label,
		RawBody:       msg.Body,
		correlationID: msg.CorrelationID,
		replyTo:       msg.ReplyTo,
	}

	resp.OnSent(func(status int) {
		e.metrics.RecordDispatch(context.Background(), string(props.Op), props.Path, status)
	})

	go func() {
		_ = observability.TraceDispatch(ctx, string(props.Op), props.Path, func(ctx context.Context) error {
			return runHandlers(handlers, req, resp)
		})
	}()
}

func runHandlers(handlers []HandlerFunc, req *Request, resp *Response) (panicErr error) {
	defer func() {
		if r := recover(); r != nil {
			err := ErrDispatch(fmt.Errorf("%v", r))
			resp.Status(wire.StatusMethodNotPermitted)
			_ = resp.Send(map[string]interface{}{"error": err.Message})
			panicErr = err
		}
	}()
	for _, h := range handlers {
		h(req, resp)
	}
	return nil
}

func (e *ServerEndpoint) serveMutex(ctx context.Context) error {
	for {
		msg, err := e.mutexRecv.Receive(ctx)
		if err != nil {
			return err
		}
		props := wire.RequestPropertiesFromMap(msg.ApplicationProperties)
		e.dispatchMutex(ctx, msg, props)
	}
}

func (e *ServerEndpoint) dispatchMutex(ctx context.Context, msg amqptransport.InboundMessage, props wire.RequestProperties) {
	if props.Op == wire.OpRelease {
		e.handleRelease(ctx, msg, props)
		return
	}

	resp := e.newResponseFor(msg)

	node := e.trie.Lookup(props.Path)
	if node == nil {
		_ = e.mutexRecv.Accept(ctx, msg)
		resp.Status(wire.StatusNotFound)
		_ = resp.Send(map[string]string{"error": ErrPathNotFound(props.Path).Message})
		e.metrics.RecordDispatch(ctx, string(props.Op), props.Path, wire.StatusNotFound)
		return
	}

	resp.OnSent(func(status int) {
		e.metrics.RecordDispatch(context.Background(), string(props.Op), props.Path, status)
	})

	// The acquire request's delivery is deliberately left unsettled:
	// MutexInstance settles it later, once the client's release
	// message arrives.
	waitTime := time.Duration(props.WaitTime) * time.Millisecond
	instance := node.MutexSetFor().Get(props.MutexName)
	instance.attachMetrics(e.metrics)
	instance.Enqueue(e.mutexRecv, msg, resp, waitTime)
}

func (e *ServerEndpoint) handleRelease(ctx context.Context, msg amqptransport.InboundMessage, props wire.RequestProperties) {
	_ = e.mutexRecv.Accept(ctx, msg)

	node := e.trie.Lookup(props.Path)
	if node == nil {
		return
	}
	_ = node.MutexSetFor().Get(props.MutexName).Release(ctx, props.AcquisitionID)
}
