package voice

import (
	"context"
	"log/slog"
	"time"
)

// defaultDelays is the poll schedule. The vendor produces the recording asset
// asynchronously after call termination; early polls are cheap, later polls
// tolerate longer processing. Worst case total wait is ~2.75 minutes.
var defaultDelays = []time.Duration{
	10 * time.Second,
	15 * time.Second,
	20 * time.Second,
	30 * time.Second,
	40 * time.Second,
	50 * time.Second,
}

// CallGetter is the vendor lookup the fetcher polls. Satisfied by *Client.
type CallGetter interface {
	GetCall(ctx context.Context, callID string) (*Call, error)
}

// Fetcher polls the vendor for a call's recording URL.
type Fetcher struct {
	vendor CallGetter
	logger *slog.Logger
	delays []time.Duration
	sleep  func(context.Context, time.Duration) bool
}

func NewFetcher(vendor CallGetter, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		vendor: vendor,
		logger: logger,
		delays: defaultDelays,
		sleep:  sleepCtx,
	}
}

// SetDelays overrides the poll schedule. Used by tests.
func (f *Fetcher) SetDelays(delays []time.Duration) {
	f.delays = delays
}

// FetchRecordingURL polls the vendor until the recording URL appears, once per
// scheduled delay. Returns "" when the recording never materializes — a normal
// outcome (e.g. zero-duration calls), never an error. Per-attempt failures are
// logged and treated as not-found for that attempt.
func (f *Fetcher) FetchRecordingURL(ctx context.Context, callID string) string {
	if callID == "" || f.vendor == nil {
		return ""
	}

	for attempt, delay := range f.delays {
		if !f.sleep(ctx, delay) {
			f.logger.Warn("recording fetch cancelled", "call_id", callID, "attempt", attempt+1)
			return ""
		}

		call, err := f.vendor.GetCall(ctx, callID)
		if err != nil {
			f.logger.Warn("recording lookup failed",
				"call_id", callID,
				"attempt", attempt+1,
				"error", err,
			)
			continue
		}

		if url := recordingURL(call); url != "" {
			f.logger.Info("recording found", "call_id", callID, "attempt", attempt+1)
			return url
		}
	}

	f.logger.Info("recording not available after all attempts", "call_id", callID, "attempts", len(f.delays))
	return ""
}

// sleepCtx waits for d or until ctx is done. Returns false when cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
