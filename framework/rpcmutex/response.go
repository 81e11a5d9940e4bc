package rpcmutex

import (
	"context"
	"sync"

	"github.com/akriventsev/amqpgate/framework/amqptransport"
	"github.com/akriventsev/amqpgate/framework/wire"
)

// Request is handed to a HandlerFunc. The body is not deserialized:
// the raw bytes are exposed via RawBody, and Decode deserializes them
// into whatever the handler expects.
type Request struct {
	Op        wire.Op
	Path      string
	MutexName string
	Label     string
	RawBody   []byte

	correlationID uint64
	replyTo       string
}

// Decode deserializes the request body into v using ser.
func (r *Request) Decode(ser wire.Serializer, v interface{}) error {
	return ser.Deserialize(r.RawBody, v)
}

// Response is a one-shot reply builder: Status sets the status code,
// Send (or End) transmits the reply exactly once. A second call to
// Send or End returns ErrResponseReuse.
type Response struct {
	sender    amqptransport.Sender
	ser       wire.Serializer
	replyTo   string
	corrID    uint64
	acquireID string

	mu     sync.Mutex
	status int
	sent   bool
	onSent func(status int)
}

func newResponse(sender amqptransport.Sender, ser wire.Serializer, replyTo string, corrID uint64) *Response {
	return &Response{sender: sender, ser: ser, replyTo: replyTo, corrID: corrID, status: wire.StatusOK}
}

// Status sets the reply status code and returns the Response for
// chaining, e.g. resp.Status(404).End().
func (r *Response) Status(code int) *Response {
	r.mu.Lock()
	r.status = code
	r.mu.Unlock()
	return r
}

// withAcquisitionID attaches an acquisition id to the next reply;
// used by MutexInstance when granting a lock.
func (r *Response) withAcquisitionID(id string) *Response {
	r.mu.Lock()
	r.acquireID = id
	r.mu.Unlock()
	return r
}

// OnSent registers fn to run with the final status code once the
// reply is actually transmitted. Used by ServerEndpoint to record a
// dispatch metric at the point a verb's real outcome is known, rather
// than when the request was merely accepted off the wire.
func (r *Response) OnSent(fn func(status int)) *Response {
	r.mu.Lock()
	r.onSent = fn
	r.mu.Unlock()
	return r
}

// End sends an empty-body reply. Equivalent to Send(nil).
func (r *Response) End() error {
	return r.Send(nil)
}

// Send serializes body (if non-nil) and transmits the reply. Calling
// Send or End more than once on the same Response returns
// ErrResponseReuse.
func (r *Response) Send(body interface{}) error {
	r.mu.Lock()
	if r.sent {
		r.mu.Unlock()
		return ErrResponseReuse()
	}
	r.sent = true
	status := r.status
	acquireID := r.acquireID
	onSent := r.onSent
	r.mu.Unlock()

	var raw []byte
	if body != nil {
		encoded, err := r.ser.Serialize(body)
		if err != nil {
			return err
		}
		raw = encoded
	}

	props := wire.ResponseProperties{
		Status:            status,
		StatusDescription: statusText(status),
		AcquisitionID:     acquireID,
	}
	out := amqptransport.OutboundMessage{
		To:                    r.replyTo,
		CorrelationID:         r.corrID,
		ApplicationProperties: props.ToMap(),
		Body:                  raw,
	}

	ctx := context.Background()
	_, err := r.sender.SendTracked(ctx, out)
	if onSent != nil {
		onSent(status)
	}
	return err
}

func statusText(status int) string {
	switch status {
	case wire.StatusOK:
		return "OK"
	case wire.StatusMethodNotPermitted:
		return "Method Not Permitted"
	case wire.StatusNotFound:
		return "Not Found"
	case wire.StatusMutexQueueTimeout:
		return "Mutex Queue Timeout"
	default:
		return ""
	}
}
