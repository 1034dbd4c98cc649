package daemon

import (
	"context"

	"go.uber.org/zap"

	"swift/job-engine/internal/transport"
	"swift/job-engine/pkg/types"
)

// responseReporter streams worker progress back to the requesting client.
// It also rewrites result outputs into tokens before success is reported.
type responseReporter struct {
	ctx        context.Context
	svc        *transport.Service
	req        *transport.Request
	translator *TokenTranslator
	logger     *zap.Logger
}

func (r *responseReporter) send(resp *response) {
	body, err := encodeResponse(resp)
	if err != nil {
		r.logger.Error("encode response", zap.Error(err))
		if resp.last() {
			// The client still needs a terminal response.
			body, _ = encodeResponse(&response{Kind: responseFailed, Error: types.ToWireError(err)})
		} else {
			return
		}
	}
	if err := r.svc.SendResponse(r.ctx, r.req, body, resp.last()); err != nil {
		r.logger.Warn("send response", zap.String("kind", string(resp.Kind)), zap.Error(err))
	}
}

func (r *responseReporter) enqueued(host types.HostInfo) {
	r.send(&response{Kind: responseEnqueued, Host: &host})
}

func (r *responseReporter) ReportStart(host types.HostInfo) {
	r.send(&response{Kind: responseStarted, Host: &host})
}

func (r *responseReporter) ReportProgress(info types.ProgressInfo) {
	r.send(&response{Kind: responseProgress, Progress: &info})
}

func (r *responseReporter) ReportSuccess(result *types.WorkResult) {
	r.send(&response{Kind: responseProgress, Progress: &types.ProgressInfo{Kind: types.ProgressKindResult, Result: result}})
	r.send(&response{Kind: responseFinished})
}

func (r *responseReporter) ReportFailure(err error) {
	r.send(&response{Kind: responseFailed, Error: types.ToWireError(err)})
}

// SyncOutputs rewrites the result outputs as tokens for the client.
func (r *responseReporter) SyncOutputs(_ context.Context, result *types.WorkResult) error {
	return r.translator.ResultToTokens(result)
}
