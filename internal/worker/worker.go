// Package worker 定义守护进程一侧的工作执行契约。
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"go.uber.org/zap"

	"swift/job-engine/pkg/logger"
	"swift/job-engine/pkg/types"
)

// ProgressSink 是处理函数在执行过程中报告进度的通道。
type ProgressSink interface {
	Progress(info types.ProgressInfo)
}

// Worker 执行一种工作请求。
type Worker interface {
	// Process 执行请求并返回结果。
	Process(ctx context.Context, req *types.WorkRequest, sink ProgressSink) (*types.WorkResult, error)
	// Check 在投入服务之前校验运行环境。
	Check(ctx context.Context) error
}

// Func 将一个函数适配为 Worker，其 Check 总是成功。
type Func func(ctx context.Context, req *types.WorkRequest, sink ProgressSink) (*types.WorkResult, error)

// Process 调用函数本身。
func (f Func) Process(ctx context.Context, req *types.WorkRequest, sink ProgressSink) (*types.WorkResult, error) {
	return f(ctx, req, sink)
}

// Check 总是返回 nil。
func (f Func) Check(context.Context) error {
	return nil
}

// OutputSynchronizer 是报告器的可选能力：在报告成功之前把输出文件同步回发送方。
type OutputSynchronizer interface {
	SyncOutputs(ctx context.Context, result *types.WorkResult) error
}

// reporterSink 把进度转发给报告器，处理结束后丢弃迟到的进度。
type reporterSink struct {
	reporter types.ProgressReporter
	closed   atomic.Bool
}

func (s *reporterSink) Progress(info types.ProgressInfo) {
	if s.closed.Load() {
		return
	}
	s.reporter.ReportProgress(info)
}

// Execute 是执行模板：报告开始，调用 Process，同步输出，报告成功。
// Process 返回的错误、panic 以及同步失败都只会产生一次 ReportFailure，
// 因此调用方总能收到且只收到一次终止通知。返回值与报告的结果一致。
func Execute(ctx context.Context, host types.HostInfo, req *types.WorkRequest, reporter types.ProgressReporter, w Worker) error {
	reporter.ReportStart(host)

	sink := &reporterSink{reporter: reporter}
	result, err := safeProcess(ctx, req, sink, w)
	sink.closed.Store(true)

	if err == nil {
		if result == nil {
			result = &types.WorkResult{}
		}
		if syncer, ok := reporter.(OutputSynchronizer); ok {
			if serr := syncer.SyncOutputs(ctx, result); serr != nil {
				err = types.NewProcessingError("synchronize outputs", serr)
			}
		}
	}

	if err != nil {
		if types.KindOf(err) == "" {
			err = types.NewProcessingError(fmt.Sprintf("process %s request", req.Service), err)
		}
		reporter.ReportFailure(err)
		return err
	}

	reporter.ReportSuccess(result)
	return nil
}

func safeProcess(ctx context.Context, req *types.WorkRequest, sink ProgressSink, w Worker) (result *types.WorkResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Named("worker").Error("worker panic",
				zap.String("service", req.Service),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			result = nil
			err = types.NewProcessingError(fmt.Sprintf("worker panic: %v", r), nil)
		}
	}()
	return w.Process(ctx, req, sink)
}
