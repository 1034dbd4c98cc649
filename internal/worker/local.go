package worker

import (
	"context"
	"os"

	"github.com/google/uuid"

	"swift/job-engine/pkg/types"
)

// LocalConnection 在当前进程中执行工作请求，实现 types.WorkSender。
type LocalConnection struct {
	service string
	worker  Worker
	slots   chan struct{}
	host    string
}

// NewLocalConnection 创建本地连接，concurrency 限制同时执行的请求数。
func NewLocalConnection(service string, w Worker, concurrency int) *LocalConnection {
	if concurrency <= 0 {
		concurrency = 1
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return &LocalConnection{
		service: service,
		worker:  w,
		slots:   make(chan struct{}, concurrency),
		host:    host,
	}
}

// SendWork 立即返回；请求在后台 goroutine 中执行。
func (c *LocalConnection) SendWork(ctx context.Context, req *types.WorkRequest, listener types.ProgressListener) {
	req = req.Clone()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	host := types.HostInfo{Host: c.host, Daemon: "local", Service: c.service, RequestID: req.ID}
	listener.RequestEnqueued(host)

	go func() {
		select {
		case c.slots <- struct{}{}:
		case <-ctx.Done():
			listener.RequestTerminated(types.NewProcessingError("request cancelled before start", ctx.Err()))
			return
		}
		defer func() { <-c.slots }()

		_ = Execute(ctx, host, req, ListenerReporter(listener), c.worker)
	}()
}

// ListenerReporter 把报告器调用映射到监听器回调。结果作为 result 类型的进度在完成通知之前送达。
func ListenerReporter(l types.ProgressListener) types.ProgressReporter {
	return listenerReporter{l}
}

type listenerReporter struct {
	l types.ProgressListener
}

func (r listenerReporter) ReportStart(host types.HostInfo) {
	r.l.RequestProcessingStarted(host)
}

func (r listenerReporter) ReportProgress(info types.ProgressInfo) {
	r.l.UserProgressInformation(info)
}

func (r listenerReporter) ReportSuccess(result *types.WorkResult) {
	r.l.UserProgressInformation(types.ProgressInfo{Kind: types.ProgressKindResult, Result: result})
	r.l.RequestProcessingFinished()
}

func (r listenerReporter) ReportFailure(err error) {
	r.l.RequestTerminated(err)
}
