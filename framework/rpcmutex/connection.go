package rpcmutex

import (
	"context"
	"sync"

	"github.com/akriventsev/amqpgate/framework/amqptransport"
	"github.com/akriventsev/amqpgate/framework/metrics"
	"github.com/akriventsev/amqpgate/framework/wire"
)

const defaultLinkCredit = 64

// classAddress derives the per-link-class address a ServerEndpoint
// listens on (and a ClientEndpoint sends to) from a base address,
// keeping fetch and acquire/release traffic on independent links so
// a stalled mutex queue never starves fetch throughput.
func classAddress(base string, class LinkClass) string {
	switch class {
	case LinkClassMutex:
		return base + ".mutex"
	default:
		return base + ".fetch"
	}
}

// ConnectionStats is a snapshot returned by APIConnection.GetStats.
type ConnectionStats struct {
	ServerEndpointCount int
	ClientEndpointCount int
	InFlightCount       int
}

// APIConnection owns one AMQP session and the shared machinery every
// endpoint built on it needs: a correlation table, a dynamic receiver
// for replies, and a per-link-class outbound queue. ServerEndpoint and
// ClientEndpoint are created from it and are cheap, address-scoped
// views over this shared state.
type APIConnection struct {
	session amqptransport.Session
	ser     wire.Serializer
	outbox  *OutboxQueue

	correlator     *Correlator
	replyReceiver  amqptransport.Receiver
	dispositionMux *DispositionMux
	metrics        *metrics.Metrics

	mu              sync.Mutex
	serverEndpoints map[string]*ServerEndpoint
	clientEndpoints map[string]*ClientEndpoint
	inFlight        int
}

// NewAPIConnection opens a session on transport and starts the shared
// reply-receive loop. Call Close to tear everything down.
func NewAPIConnection(ctx context.Context, transport amqptransport.Transport, ser wire.Serializer) (*APIConnection, error) {
	session, err := transport.NewSession(ctx)
	if err != nil {
		return nil, err
	}

	senders := make(map[LinkClass]amqptransport.Sender)
	for _, class := range []LinkClass{LinkClassFetch, LinkClassMutex} {
		snd, err := session.NewAnonymousSender(ctx)
		if err != nil {
			return nil, err
		}
		senders[class] = snd
	}

	replyReceiver, err := session.NewDynamicReceiver(ctx, defaultLinkCredit)
	if err != nil {
		return nil, err
	}

	m, err := metrics.NewMetrics()
	if err != nil {
		return nil, err
	}

	c := &APIConnection{
		session:         session,
		ser:             ser,
		outbox:          NewOutboxQueue(senders),
		correlator:      NewCorrelator(),
		replyReceiver:   replyReceiver,
		dispositionMux:  NewDispositionMux(),
		metrics:         m,
		serverEndpoints: make(map[string]*ServerEndpoint),
		clientEndpoints: make(map[string]*ClientEndpoint),
	}

	go c.pumpReplies(ctx)

	return c, nil
}

func (c *APIConnection) pumpReplies(ctx context.Context) {
	for {
		msg, err := c.replyReceiver.Receive(ctx)
		if err != nil {
			c.correlator.DeliverAll(wire.ResponseProperties{
				Status:            wire.StatusMutexQueueTimeout,
				StatusDescription: ErrConnectionLost(err).Message,
			})
			return
		}

		props := wire.ResponsePropertiesFromMap(msg.ApplicationProperties)
		c.correlator.Deliver(msg.CorrelationID, props, msg.Body)
		_ = c.replyReceiver.Accept(ctx, msg)
	}
}

// ReplyAddress is the address remote servers should send replies to;
// pass it as a request's ReplyTo.
func (c *APIConnection) ReplyAddress() string {
	return c.replyReceiver.Address()
}

func (c *APIConnection) incInFlight() {
	c.mu.Lock()
	c.inFlight++
	c.mu.Unlock()
}

func (c *APIConnection) decInFlight() {
	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()
}

// ServerEndpoint creates a ServerEndpoint bound to address, receiving
// on its fetch and mutex link addresses. Address must not already be
// in use by another server endpoint on this connection; a second call
// for the same address returns ErrDuplicateEndpoint.
func (c *APIConnection) ServerEndpoint(ctx context.Context, address string) (*ServerEndpoint, error) {
	c.mu.Lock()
	if _, exists := c.serverEndpoints[address]; exists {
		c.mu.Unlock()
		return nil, ErrDuplicateEndpoint("server", address)
	}
	c.mu.Unlock()

	fetchRecv, err := c.session.NewReceiver(ctx, classAddress(address, LinkClassFetch), defaultLinkCredit)
	if err != nil {
		return nil, err
	}
	mutexRecv, err := c.session.NewReceiver(ctx, classAddress(address, LinkClassMutex), defaultLinkCredit)
	if err != nil {
		return nil, err
	}
	replySender, err := c.session.NewAnonymousSender(ctx)
	if err != nil {
		return nil, err
	}

	ep := newServerEndpoint(address, c.ser, c.metrics, fetchRecv, mutexRecv, replySender)

	c.mu.Lock()
	c.serverEndpoints[address] = ep
	c.mu.Unlock()

	return ep, nil
}

// ClientEndpoint creates a ClientEndpoint that talks to the server
// endpoint registered at address (on a possibly remote connection).
// Address must not already be in use by another client endpoint on
// this connection.
func (c *APIConnection) ClientEndpoint(address string) (*ClientEndpoint, error) {
	c.mu.Lock()
	if _, exists := c.clientEndpoints[address]; exists {
		c.mu.Unlock()
		return nil, ErrDuplicateEndpoint("client", address)
	}
	c.mu.Unlock()

	ep := newClientEndpoint(address, c)

	c.mu.Lock()
	c.clientEndpoints[address] = ep
	c.mu.Unlock()

	return ep, nil
}

// GetStats reports the connection's current endpoint and in-flight
// request counts.
func (c *APIConnection) GetStats() ConnectionStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnectionStats{
		ServerEndpointCount: len(c.serverEndpoints),
		ClientEndpointCount: len(c.clientEndpoints),
		InFlightCount:       c.inFlight,
	}
}

// Close closes the reply receiver and the underlying session. Server
// and client endpoints created from this connection become unusable.
func (c *APIConnection) Close(ctx context.Context) error {
	_ = c.replyReceiver.Close(ctx)
	return c.session.Close(ctx)
}
