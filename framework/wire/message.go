// Package wire defines the message shapes carried over the transport
// and the serializer used to encode request/response bodies.
package wire

import "strings"

// Op is the request verb. Acquire is the mutex-protocol verb; the rest
// mirror REST-style methods.
type Op string

const (
	OpGET     Op = "GET"
	OpPUT     Op = "PUT"
	OpPOST    Op = "POST"
	OpDELETE  Op = "DELETE"
	OpAcquire Op = "acquire"
	// OpRelease is a one-way, no-reply message a client sends once its
	// critical section finishes, carrying the AcquisitionID it was
	// granted. The server treats it as the release trigger rather than
	// routing it to a handler.
	OpRelease Op = "release"
)

// NormalizeOp upper-cases everything except the mutex-protocol verbs
// "acquire" and "release", matching the server's case-insensitive verb
// matching.
func NormalizeOp(s string) Op {
	if strings.EqualFold(s, string(OpAcquire)) {
		return OpAcquire
	}
	if strings.EqualFold(s, string(OpRelease)) {
		return OpRelease
	}
	return Op(strings.ToUpper(s))
}

// RequestProperties is the application-properties payload of a
// RequestMessage.
type RequestProperties struct {
	Op            Op     `json:"op"`
	Path          string `json:"path"`
	MutexName     string `json:"mutex_name,omitempty"`
	WaitTime      int64  `json:"wait_time,omitempty"` // milliseconds, 0 = unset
	Label         string `json:"label,omitempty"`
	AcquisitionID string `json:"acquisition_id,omitempty"` // set on OpRelease only
}

// RequestMessage is a request travelling client -> server.
type RequestMessage struct {
	CorrelationID uint64
	ReplyTo       string
	Properties    RequestProperties
	Body          []byte
}

// ResponseProperties is the application-properties payload of a
// ResponseMessage.
type ResponseProperties struct {
	Status            int    `json:"status"`
	StatusDescription string `json:"status_description"`
	AcquisitionID     string `json:"acquisition_id,omitempty"`
}

// ResponseMessage is a reply travelling server -> client.
type ResponseMessage struct {
	To            string
	CorrelationID uint64
	Properties    ResponseProperties
	Body          []byte
}

// HTTP-style status codes used by this protocol.
const (
	StatusOK                 = 200
	StatusMethodNotPermitted = 400
	StatusNotFound           = 404
	StatusMutexQueueTimeout  = 408
)

// ToMap packs p as AMQP application-properties.
func (p RequestProperties) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"op":   string(p.Op),
		"path": p.Path,
	}
	if p.MutexName != "" {
		m["mutex_name"] = p.MutexName
	}
	if p.WaitTime != 0 {
		m["wait_time"] = p.WaitTime
	}
	if p.Label != "" {
		m["label"] = p.Label
	}
	if p.AcquisitionID != "" {
		m["acquisition_id"] = p.AcquisitionID
	}
	return m
}

// RequestPropertiesFromMap unpacks application-properties produced by
// ToMap. Missing fields take their zero value.
func RequestPropertiesFromMap(m map[string]interface{}) RequestProperties {
	var p RequestProperties
	if v, ok := m["op"].(string); ok {
		p.Op = NormalizeOp(v)
	}
	if v, ok := m["path"].(string); ok {
		p.Path = v
	}
	if v, ok := m["mutex_name"].(string); ok {
		p.MutexName = v
	}
	switch v := m["wait_time"].(type) {
	case int64:
		p.WaitTime = v
	case int:
		p.WaitTime = int64(v)
	case float64:
		p.WaitTime = int64(v)
	}
	if v, ok := m["label"].(string); ok {
		p.Label = v
	}
	if v, ok := m["acquisition_id"].(string); ok {
		p.AcquisitionID = v
	}
	return p
}

// ToMap packs p as AMQP application-properties.
func (p ResponseProperties) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"status":             p.Status,
		"status_description": p.StatusDescription,
	}
	if p.AcquisitionID != "" {
		m["acquisition_id"] = p.AcquisitionID
	}
	return m
}

// ResponsePropertiesFromMap unpacks application-properties produced by
// ToMap.
func ResponsePropertiesFromMap(m map[string]interface{}) ResponseProperties {
	var p ResponseProperties
	switch v := m["status"].(type) {
	case int:
		p.Status = v
	case int64:
		p.Status = int(v)
	case float64:
		p.Status = int(v)
	}
	if v, ok := m["status_description"].(string); ok {
		p.StatusDescription = v
	}
	if v, ok := m["acquisition_id"].(string); ok {
		p.AcquisitionID = v
	}
	return p
}
