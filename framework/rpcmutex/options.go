package rpcmutex

import "time"

// fetchConfig holds the resolved options for a fetch() call.
type fetchConfig struct {
	op      string
	timeout time.Duration
	body    interface{}
}

// FetchOption configures a ClientEndpoint.Fetch call. The defaults
// match the base protocol: op=GET, timeout=10s.
type FetchOption func(*fetchConfig)

func defaultFetchConfig() fetchConfig {
	return fetchConfig{op: "GET", timeout: 10 * time.Second}
}

// WithOp sets the request verb.
func WithOp(op string) FetchOption {
	return func(c *fetchConfig) { c.op = op }
}

// WithTimeout sets the per-call timeout. Zero disables it: Fetch then
// waits until ctx is done.
func WithTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) { c.timeout = d }
}

// WithBody attaches a request body.
func WithBody(body interface{}) FetchOption {
	return func(c *fetchConfig) { c.body = body }
}

// criticalSectionConfig holds the resolved options for a
// critical_section call.
type criticalSectionConfig struct {
	timeout time.Duration
	label   string
	body    interface{}
}

// CriticalSectionOption configures ClientEndpoint.CriticalSection.
type CriticalSectionOption func(*criticalSectionConfig)

func defaultCriticalSectionConfig() criticalSectionConfig {
	return criticalSectionConfig{timeout: 10 * time.Second}
}

// WithCSTimeout sets the acquisition+critical-section timeout; 0
// means wait forever.
func WithCSTimeout(d time.Duration) CriticalSectionOption {
	return func(c *criticalSectionConfig) { c.timeout = d }
}

// WithLabel attaches a human-readable label to the acquire request.
func WithLabel(label string) CriticalSectionOption {
	return func(c *criticalSectionConfig) { c.label = label }
}

// WithCSBody attaches a body to the acquire request.
func WithCSBody(body interface{}) CriticalSectionOption {
	return func(c *criticalSectionConfig) { c.body = body }
}

// A queued waiter's server-side deadline is not a Go option: the
// CriticalSection timeout is sent as the acquire request's wait_time
// application property (see wire.RequestProperties.WaitTime).
