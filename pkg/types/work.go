package types

import (
	"context"
	"time"
)

// WorkRequest is one unit of computation sent to a daemon service.
type WorkRequest struct {
	// ID identifies this particular submission. It is transient and never
	// contributes to the request's fingerprint.
	ID string `json:"id" yaml:"id,omitempty"`

	// Service is the name of the daemon service that executes the request.
	Service string `json:"service" yaml:"service"`

	// Type selects the kind of work inside the service.
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	// Payload is the opaque, serializable description of the work.
	Payload map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`

	// Priority is the scheduling priority. Higher values take precedence.
	Priority int `json:"priority,omitempty" yaml:"priority,omitempty"`

	// Cacheable permits the work cache to reuse results for equivalent requests.
	Cacheable bool `json:"cacheable,omitempty" yaml:"cacheable,omitempty"`

	// Inputs are file references the work reads. They are local paths on
	// whichever side currently holds the request and file tokens on the wire.
	Inputs []string `json:"inputs,omitempty" yaml:"inputs,omitempty"`

	// Created is the submission time.
	Created time.Time `json:"created,omitempty" yaml:"-"`
}

// Clone returns a copy of the request whose slices and top-level payload
// map can be modified without affecting the original.
func (r *WorkRequest) Clone() *WorkRequest {
	if r == nil {
		return nil
	}
	c := *r
	if r.Payload != nil {
		c.Payload = make(map[string]any, len(r.Payload))
		for k, v := range r.Payload {
			c.Payload[k] = v
		}
	}
	if r.Inputs != nil {
		c.Inputs = append([]string(nil), r.Inputs...)
	}
	return &c
}

// WorkResult is the artifact of a successful execution.
type WorkResult struct {
	// Outputs are the files produced by the work, named like WorkRequest.Inputs.
	Outputs []string `json:"outputs,omitempty"`

	// Data carries small result values.
	Data map[string]any `json:"data,omitempty"`
}

// Clone returns a copy of the result.
func (r *WorkResult) Clone() *WorkResult {
	if r == nil {
		return nil
	}
	c := &WorkResult{}
	if r.Outputs != nil {
		c.Outputs = append([]string(nil), r.Outputs...)
	}
	if r.Data != nil {
		c.Data = make(map[string]any, len(r.Data))
		for k, v := range r.Data {
			c.Data[k] = v
		}
	}
	return c
}

// HostInfo describes where a request is queued or executing.
type HostInfo struct {
	Host      string `json:"host,omitempty"`
	Daemon    string `json:"daemon,omitempty"`
	Service   string `json:"service,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// WorkSender submits work requests and reports their progress to a listener.
//
// SendWork never blocks on the execution of the work. The listener receives
// RequestEnqueued, any number of UserProgressInformation and
// RequestProcessingStarted calls, then exactly one of
// RequestProcessingFinished or RequestTerminated.
type WorkSender interface {
	SendWork(ctx context.Context, req *WorkRequest, listener ProgressListener)
}
