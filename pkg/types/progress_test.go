package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestProgressReportEqual(t *testing.T) {
	a := ProgressReport{Total: 10, Executing: 2, Succeeded: 5, Failed: 1, PercentDone: 0.5}
	b := ProgressReport{Total: 10, Executing: 2, Succeeded: 5, Failed: 1, PercentDone: 0.5}

	assert.True(t, a.Equal(b))
	assert.Equal(t, a.String(), b.String())

	b.Queued = 1
	assert.False(t, a.Equal(b))
}

func TestProgressReportStringFailures(t *testing.T) {
	ok := ProgressReport{Total: 3, Succeeded: 3}
	assert.Equal(t, "3/3 done, 3 succeeded", ok.String())
	assert.NotContains(t, ok.String(), "failed")

	failed := ProgressReport{Total: 4, Succeeded: 1, Failed: 3, InitFailed: 2}
	assert.Contains(t, failed.String(), "3 failed")
	assert.Contains(t, failed.String(), "2 failed to initialize")
}

func TestProgressReportStringRunning(t *testing.T) {
	r := ProgressReport{Total: 5, Sent: 1, Queued: 1, Executing: 2, Succeeded: 1, Warning: 1, PercentDone: 1}
	s := r.String()
	assert.Contains(t, s, "1 succeeded (1 with warnings)")
	assert.Contains(t, s, "4 running (1 sent, 1 queued, 2 executing, 50.0% of executing work done)")
}

func TestProgressReportDone(t *testing.T) {
	assert.True(t, ProgressReport{}.Done())
	assert.False(t, ProgressReport{Total: 2, Succeeded: 1}.Done())
	assert.True(t, ProgressReport{Total: 2, Succeeded: 1, Failed: 1}.Done())
}

// TestProperty_ProgressReportRoundTrip checks that reports built from the same
// values are equal and summarize identically, and that failure counts appear
// in the summary exactly when something failed.
func TestProperty_ProgressReportRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		succeeded := rapid.IntRange(0, 50).Draw(t, "succeeded")
		failed := rapid.IntRange(0, 50).Draw(t, "failed")
		initFailed := rapid.IntRange(0, failed).Draw(t, "initFailed")
		executing := rapid.IntRange(0, 10).Draw(t, "executing")
		build := func() ProgressReport {
			return ProgressReport{
				Total:       succeeded + failed + executing,
				Executing:   executing,
				Succeeded:   succeeded,
				Failed:      failed,
				InitFailed:  initFailed,
				PercentDone: float64(executing) / 2,
			}
		}

		a, b := build(), build()
		if !a.Equal(b) || a.String() != b.String() {
			t.Fatalf("identical reports differ: %v / %v", a, b)
		}
		if (failed > 0) != strings.Contains(a.String(), " failed") {
			t.Fatalf("failure summary mismatch for failed=%d: %q", failed, a.String())
		}
	})
}
