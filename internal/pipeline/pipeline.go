package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/PitchLabs-AI/debrief/internal/events"
	"github.com/PitchLabs-AI/debrief/internal/grading"
)

// Step outcome values published on the processed event.
const (
	outcomeDone     = "done"
	outcomeSkipped  = "skipped"
	outcomeFallback = "fallback"
)

// RecordingFetcher polls the voice vendor for a call's recording URL.
type RecordingFetcher interface {
	FetchRecordingURL(ctx context.Context, callID string) string
}

// Cleaner produces the LLM-cleaned transcript. The bool reports whether
// cleaning actually ran; false means the raw input came back as a fallback.
type Cleaner interface {
	Clean(ctx context.Context, raw string) (string, bool)
}

// Summarizer produces the coaching summary.
type Summarizer interface {
	Generate(ctx context.Context, transcript string) (string, error)
}

// Grader resolves the rubric and grades the session. A nil result with nil
// error means grading was skipped (no rubric).
type Grader interface {
	GradeSession(ctx context.Context, sessionID, userID int64, assignmentID *int64, transcript string) (*grading.Result, error)
}

// SessionStore is the write surface the pipeline needs.
type SessionStore interface {
	SetRecordingURL(ctx context.Context, sessionID int64, url string) error
	SetCleanTranscript(ctx context.Context, sessionID int64, clean string) error
	SetSummary(ctx context.Context, sessionID int64, summary string) error
}

// Publisher emits progress events. Optional; nil disables eventing.
type Publisher interface {
	Publish(subject string, data any) error
}

// Job is one pipeline run for one saved session.
type Job struct {
	SessionID    int64
	UserID       int64
	AssignmentID *int64
	Transcript   string
	VendorCallID string
}

// Runner executes the post-call pipeline: recording fetch, transcript clean,
// summary, grade. Steps run strictly in order; each is fault-isolated so a
// failing step logs and the next still attempts with whatever data exists.
type Runner struct {
	store      SessionStore
	fetcher    RecordingFetcher
	cleaner    Cleaner
	summarizer Summarizer
	grader     Grader
	events     Publisher
	logger     *slog.Logger

	wg sync.WaitGroup
}

func NewRunner(store SessionStore, fetcher RecordingFetcher, cleaner Cleaner, summarizer Summarizer, grader Grader, ev Publisher, logger *slog.Logger) *Runner {
	return &Runner{
		store:      store,
		fetcher:    fetcher,
		cleaner:    cleaner,
		summarizer: summarizer,
		grader:     grader,
		events:     ev,
		logger:     logger,
	}
}

// Dispatch schedules a pipeline run without blocking the caller. The
// triggering request has already returned by the time the pipeline touches
// anything.
func (r *Runner) Dispatch(job Job) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Run(context.Background(), job)
	}()
}

// Close waits for in-flight pipeline runs to finish.
func (r *Runner) Close() {
	r.wg.Wait()
}

// HandleSessionSaved is the NATS handler for training.session.saved.
func (r *Runner) HandleSessionSaved(subject string, data []byte) {
	var evt events.SessionSavedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		r.logger.Error("failed to parse session saved event", "error", err)
		return
	}
	if evt.SessionID == 0 {
		r.logger.Error("session saved event missing session id")
		return
	}

	r.Dispatch(Job{
		SessionID:    evt.SessionID,
		UserID:       evt.UserID,
		AssignmentID: evt.AssignmentID,
		Transcript:   evt.Transcript,
		VendorCallID: evt.VendorCallID,
	})
}

// Run executes the pipeline for one session. It never returns an error and
// never panics outward: this is best-effort enrichment, and a partial run is
// a valid run.
func (r *Runner) Run(ctx context.Context, job Job) {
	r.logger.Info("pipeline started",
		"session_id", job.SessionID,
		"assignment_id", job.AssignmentID,
		"vendor_call_id", job.VendorCallID,
	)

	outcomes := map[string]string{}

	// Step 1: recording fetch. No vendor call means no recording to find.
	r.step(job.SessionID, "recording", func() error {
		if job.VendorCallID == "" {
			outcomes["recording"] = outcomeSkipped
			return nil
		}
		url := r.fetcher.FetchRecordingURL(ctx, job.VendorCallID)
		if url == "" {
			outcomes["recording"] = outcomeSkipped
			return nil
		}
		if err := r.store.SetRecordingURL(ctx, job.SessionID, url); err != nil {
			outcomes["recording"] = outcomeSkipped
			return err
		}
		outcomes["recording"] = outcomeDone
		return nil
	})

	// Step 2: transcript cleaning. The cleaner falls back to raw internally,
	// so cleaned is always usable by the steps below. A successful clean is
	// persisted even when the model returned the input verbatim, so the lazy
	// read path never re-cleans an already-clean transcript.
	cleaned := job.Transcript
	r.step(job.SessionID, "clean", func() error {
		out, ok := r.cleaner.Clean(ctx, job.Transcript)
		if !ok {
			outcomes["clean"] = outcomeFallback
			return nil
		}
		cleaned = out
		if err := r.store.SetCleanTranscript(ctx, job.SessionID, cleaned); err != nil {
			outcomes["clean"] = outcomeFallback
			return err
		}
		outcomes["clean"] = outcomeDone
		return nil
	})

	// Step 3: coaching summary.
	r.step(job.SessionID, "summary", func() error {
		text, err := r.summarizer.Generate(ctx, cleaned)
		if err != nil {
			outcomes["summary"] = outcomeSkipped
			return err
		}
		if err := r.store.SetSummary(ctx, job.SessionID, text); err != nil {
			outcomes["summary"] = outcomeSkipped
			return err
		}
		outcomes["summary"] = outcomeDone
		return nil
	})

	// Step 4: rubric grading. Runs on the cleaned transcript, which is the
	// raw one when cleaning fell back.
	r.step(job.SessionID, "grade", func() error {
		result, err := r.grader.GradeSession(ctx, job.SessionID, job.UserID, job.AssignmentID, cleaned)
		if err != nil {
			outcomes["grade"] = outcomeSkipped
			return err
		}
		if result == nil {
			outcomes["grade"] = outcomeSkipped
			return nil
		}
		outcomes["grade"] = outcomeDone
		return nil
	})

	r.logger.Info("pipeline finished", "session_id", job.SessionID, "outcomes", outcomes)

	if r.events != nil {
		if err := r.events.Publish(events.SubjectSessionProcessed, map[string]any{
			"session_id": job.SessionID,
			"outcomes":   outcomes,
		}); err != nil {
			r.logger.Warn("failed to publish processed event", "session_id", job.SessionID, "error", err)
		}
	}
}

// step runs one pipeline step with full fault isolation: errors are logged,
// panics are recovered, and neither stops the steps that follow.
func (r *Runner) step(sessionID int64, name string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("pipeline step panicked", "session_id", sessionID, "step", name, "panic", p)
		}
	}()
	if err := fn(); err != nil {
		r.logger.Error("pipeline step failed", "session_id", sessionID, "step", name, "error", err)
	}
}
