package rpcmutex

import (
	"context"
	"time"

	"github.com/akriventsev/amqpgate/framework/amqptransport"
	"github.com/akriventsev/amqpgate/framework/observability"
	"github.com/akriventsev/amqpgate/framework/wire"
)

// FetchResult is what a successful (or application-level error)
// fetch returns. A non-2xx Status is not itself a Go error; callers
// check Status the way an HTTP client checks a response code.
type FetchResult struct {
	Status int
	Body   []byte
}

// ClientEndpoint issues requests against one remote server address.
// Build one with APIConnection.ClientEndpoint.
type ClientEndpoint struct {
	address string
	conn    *APIConnection
}

func newClientEndpoint(address string, conn *APIConnection) *ClientEndpoint {
	return &ClientEndpoint{address: address, conn: conn}
}

// Fetch sends a single request and waits for its reply, or for ctx /
// the configured timeout to expire, whichever comes first.
func (e *ClientEndpoint) Fetch(ctx context.Context, path string, opts ...FetchOption) (*FetchResult, error) {
	cfg := defaultFetchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	op := wire.NormalizeOp(cfg.op)

	var result *FetchResult
	err := observability.TraceFetch(ctx, string(op), path, func(ctx context.Context) error {
		reqCtx := ctx
		var cancel context.CancelFunc
		if cfg.timeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
			defer cancel()
		}

		var body []byte
		if cfg.body != nil {
			encoded, err := e.conn.ser.Serialize(cfg.body)
			if err != nil {
				return err
			}
			body = encoded
		}

		corrID := e.conn.correlator.NextID()
		replyCh := e.conn.correlator.Register(corrID)
		defer e.conn.correlator.Forget(corrID)

		props := wire.RequestProperties{Op: op, Path: path}
		out := amqptransport.OutboundMessage{
			To:                    classAddress(e.address, LinkClassFetch),
			ReplyTo:               e.conn.ReplyAddress(),
			CorrelationID:         corrID,
			ApplicationProperties: props.ToMap(),
			Body:                  body,
		}

		start := time.Now()
		e.conn.incInFlight()
		e.conn.metrics.IncrementInFlight(ctx)
		defer func() {
			e.conn.decInFlight()
			e.conn.metrics.DecrementInFlight(ctx)
		}()

		if _, err := e.conn.outbox.Enqueue(reqCtx, LinkClassFetch, out); err != nil {
			e.conn.metrics.RecordFetch(ctx, path, time.Since(start), wire.StatusMutexQueueTimeout)
			return ErrTimeout("fetch")
		}

		select {
		case reply := <-replyCh:
			e.conn.metrics.RecordFetch(ctx, path, time.Since(start), reply.props.Status)
			result = &FetchResult{Status: reply.props.Status, Body: reply.body}
			return nil
		case <-reqCtx.Done():
			e.conn.metrics.RecordFetch(ctx, path, time.Since(start), wire.StatusMutexQueueTimeout)
			return ErrTimeout("fetch")
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CriticalSection acquires mutexName at path, runs fn while holding
// it, and sends a release message when fn returns (success or error).
// If ctx or the configured timeout ends before the lock is granted, fn
// does not run, no release message is sent, and onCancel (if non-nil)
// is invoked. onCancel is also invoked if the held acquisition is
// dropped while fn runs; fn's context is then cancelled and
// CriticalSection returns ErrMutexDropped.
func (e *ClientEndpoint) CriticalSection(ctx context.Context, path, mutexName string, fn func(ctx context.Context) error, onCancel func(), opts ...CriticalSectionOption) error {
	cfg := defaultCriticalSectionConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return observability.TraceAcquire(ctx, mutexName, func(ctx context.Context) error {
		reqCtx := ctx
		var cancel context.CancelFunc
		if cfg.timeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
			defer cancel()
		}

		var body []byte
		if cfg.body != nil {
			encoded, err := e.conn.ser.Serialize(cfg.body)
			if err != nil {
				return err
			}
			body = encoded
		}

		corrID := e.conn.correlator.NextID()
		replyCh := e.conn.correlator.Register(corrID)
		defer e.conn.correlator.Forget(corrID)

		props := wire.RequestProperties{
			Op:        wire.OpAcquire,
			Path:      path,
			MutexName: mutexName,
			Label:     cfg.label,
		}
		if cfg.timeout > 0 {
			props.WaitTime = cfg.timeout.Milliseconds()
		}

		out := amqptransport.OutboundMessage{
			To:                    classAddress(e.address, LinkClassMutex),
			ReplyTo:               e.conn.ReplyAddress(),
			CorrelationID:         corrID,
			ApplicationProperties: props.ToMap(),
			Body:                  body,
		}

		start := time.Now()
		e.conn.incInFlight()
		e.conn.metrics.IncrementInFlight(ctx)
		defer func() {
			e.conn.decInFlight()
			e.conn.metrics.DecrementInFlight(ctx)
		}()

		delivery, err := e.conn.outbox.Enqueue(reqCtx, LinkClassMutex, out)
		if err != nil {
			e.conn.metrics.RecordAcquire(ctx, mutexName, time.Since(start), false)
			return ErrMutexTimeout()
		}

		// Watching the acquire delivery's disposition catches the case
		// where the held lock is yanked out from under the critical
		// section (connection loss, server-side drop) instead of settled
		// normally by our own release message.
		dropped := make(chan struct{})
		holdCtx, cancelHold := context.WithCancel(reqCtx)
		defer cancelHold()
		e.conn.dispositionMux.Track(delivery, func(evt amqptransport.DispositionEvent) {
			if evt.State != amqptransport.StateAccepted {
				cancelHold()
				if onCancel != nil {
					onCancel()
				}
				close(dropped)
			}
		})

		var reply pendingReply
		select {
		case reply = <-replyCh:
		case <-reqCtx.Done():
			if onCancel != nil {
				onCancel()
			}
			e.conn.metrics.RecordAcquire(ctx, mutexName, time.Since(start), false)
			return ErrMutexTimeout()
		}

		if reply.props.Status != wire.StatusOK {
			e.conn.metrics.RecordAcquire(ctx, mutexName, time.Since(start), false)
			return ErrMutexError(reply.props.Status, reply.props.StatusDescription)
		}
		e.conn.metrics.RecordAcquire(ctx, mutexName, time.Since(start), true)

		acquisitionID := reply.props.AcquisitionID
		defer e.sendRelease(path, mutexName, acquisitionID)

		err = fn(holdCtx)

		select {
		case <-dropped:
			return ErrMutexDropped()
		default:
		}
		return err
	})
}

// sendRelease fires the one-way release notification; it does not
// wait for any reply, since there is none.
func (e *ClientEndpoint) sendRelease(path, mutexName, acquisitionID string) {
	props := wire.RequestProperties{
		Op:            wire.OpRelease,
		Path:          path,
		MutexName:     mutexName,
		AcquisitionID: acquisitionID,
	}
	out := amqptransport.OutboundMessage{
		To:                    classAddress(e.address, LinkClassMutex),
		ApplicationProperties: props.ToMap(),
	}
	_, _ = e.conn.outbox.Enqueue(context.Background(), LinkClassMutex, out)
}
