package daemon

import (
	"github.com/bytedance/sonic"

	"swift/job-engine/pkg/types"
)

type responseKind string

const (
	responseEnqueued responseKind = "enqueued"
	responseStarted  responseKind = "started"
	responseProgress responseKind = "progress"
	responseFinished responseKind = "finished"
	responseFailed   responseKind = "failed"
)

// response is the body of every message a daemon sends back for a request.
type response struct {
	Kind     responseKind        `json:"kind"`
	Host     *types.HostInfo     `json:"host,omitempty"`
	Progress *types.ProgressInfo `json:"progress,omitempty"`
	Error    *types.WireError    `json:"error,omitempty"`
}

func (r *response) last() bool {
	return r.Kind == responseFinished || r.Kind == responseFailed
}

func encodeResponse(r *response) ([]byte, error) {
	data, err := sonic.Marshal(r)
	if err != nil {
		return nil, types.NewProtocolError("encode response", err)
	}
	return data, nil
}

func decodeResponse(data []byte) (*response, error) {
	var r response
	if err := sonic.Unmarshal(data, &r); err != nil {
		return nil, types.NewProtocolError("decode response", err)
	}
	switch r.Kind {
	case responseEnqueued, responseStarted:
		if r.Host == nil {
			return nil, types.NewProtocolError("response "+string(r.Kind)+" without host", nil)
		}
	case responseProgress:
		if r.Progress == nil {
			return nil, types.NewProtocolError("progress response without progress", nil)
		}
	case responseFinished:
	case responseFailed:
		if r.Error == nil {
			return nil, types.NewProtocolError("failure response without error", nil)
		}
	default:
		return nil, types.NewProtocolError("unknown response kind "+string(r.Kind), nil)
	}
	return &r, nil
}

func encodeRequest(req *types.WorkRequest) ([]byte, error) {
	data, err := sonic.Marshal(req)
	if err != nil {
		return nil, types.NewProtocolError("encode work request", err)
	}
	return data, nil
}

func decodeRequest(data []byte) (*types.WorkRequest, error) {
	var req types.WorkRequest
	if err := sonic.Unmarshal(data, &req); err != nil {
		return nil, types.NewProtocolError("decode work request", err)
	}
	if req.Service == "" {
		return nil, types.NewProtocolError("work request without service", nil)
	}
	return &req, nil
}
