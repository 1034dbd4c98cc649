package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"swift/job-engine/pkg/types"
)

const sleepSteps = 4

// SleepWorker 按 payload.duration_ms 休眠并报告百分比进度；payload.fail 为 true 时失败。
type SleepWorker struct{}

// NewSleepWorker 创建 SleepWorker。
func NewSleepWorker(Options) (Worker, error) {
	return SleepWorker{}, nil
}

func (SleepWorker) Process(ctx context.Context, req *types.WorkRequest, sink ProgressSink) (*types.WorkResult, error) {
	payload := Options(req.Payload)
	total := payload.Duration("duration_ms", 0)
	step := total / sleepSteps

	for i := 1; i <= sleepSteps; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(step):
		}
		sink.Progress(types.ProgressInfo{Kind: types.ProgressKindPercent, Percent: float64(i) * 100 / sleepSteps})
	}

	if payload.Bool("fail", false) {
		return nil, fmt.Errorf("%s", payload.String("message", "requested failure"))
	}
	return &types.WorkResult{Data: map[string]any{"slept_ms": total.Milliseconds()}}, nil
}

func (SleepWorker) Check(context.Context) error {
	return nil
}

// ChecksumWorker 为每个输入文件计算 SHA-256，并把 <name>.sha256 写入 output_dir。
type ChecksumWorker struct {
	outputDir string
}

// NewChecksumWorker 创建 ChecksumWorker，需要 output_dir 选项。
func NewChecksumWorker(options Options) (Worker, error) {
	dir := options.String("output_dir", "")
	if dir == "" {
		return nil, fmt.Errorf("checksum worker requires the output_dir option")
	}
	return &ChecksumWorker{outputDir: dir}, nil
}

func (w *ChecksumWorker) Process(ctx context.Context, req *types.WorkRequest, sink ProgressSink) (*types.WorkResult, error) {
	if len(req.Inputs) == 0 {
		return nil, fmt.Errorf("checksum request has no inputs")
	}

	result := &types.WorkResult{Data: make(map[string]any)}
	for i, input := range req.Inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sum, err := fileSHA256(input)
		if err != nil {
			return nil, err
		}

		name := filepath.Base(input)
		out := filepath.Join(w.outputDir, name+".sha256")
		if err := os.WriteFile(out, []byte(sum+"  "+name+"\n"), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", out, err)
		}
		result.Outputs = append(result.Outputs, out)
		result.Data[name] = sum

		sink.Progress(types.ProgressInfo{
			Kind:    types.ProgressKindPercent,
			Percent: float64(i+1) * 100 / float64(len(req.Inputs)),
			Message: name,
		})
	}
	return result, nil
}

// Check 校验输出目录可写。
func (w *ChecksumWorker) Check(context.Context) error {
	if err := os.MkdirAll(w.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.CreateTemp(w.outputDir, ".check-*")
	if err != nil {
		return fmt.Errorf("output dir %s is not writable: %w", w.outputDir, err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
