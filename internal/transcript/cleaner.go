package transcript

import (
	"context"
	"log/slog"
	"strings"

	"github.com/PitchLabs-AI/debrief/internal/llm"
)

const cleaningSystemPrompt = `You clean up raw transcripts of two-party sales training calls captured from live speech.

The input is speaker-tagged lines ("You:" for the salesperson, "AI Customer:" for the simulated customer) and may contain duplicated lines, overlapping fragments, and interleaving artifacts.

Rules:
- Remove duplicate lines and merge overlapping fragments.
- Preserve the natural two-party conversational flow and everything that was actually said.
- Do not add, summarize, or paraphrase content.
- Output strictly as "Speaker: message" lines, one turn per line, using the same speaker labels as the input.
- Output nothing except the cleaned transcript.`

// Completer is the LLM surface the cleaner needs. Satisfied by *llm.Client.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Cleaner produces a deduplicated, merged rendition of a raw transcript.
type Cleaner struct {
	llm    Completer
	logger *slog.Logger
}

func NewCleaner(llm Completer, logger *slog.Logger) *Cleaner {
	return &Cleaner{llm: llm, logger: logger}
}

// Clean returns the LLM-cleaned transcript and whether cleaning actually ran.
// Cleaning is a quality enhancement, never a hard dependency: any failure or
// empty completion falls back to the raw input unchanged, reported as false.
// An already-clean transcript that the model returns verbatim is still a
// successful clean, so callers can cache it and skip future attempts.
func (c *Cleaner) Clean(ctx context.Context, raw string) (string, bool) {
	if strings.TrimSpace(raw) == "" {
		return raw, false
	}

	cleaned, err := c.llm.Complete(ctx, llm.Request{
		System:      cleaningSystemPrompt,
		User:        raw,
		MaxTokens:   8192,
		Temperature: 0.1,
	})
	if err != nil {
		c.logger.Warn("transcript cleaning failed, using raw transcript", "error", err)
		return raw, false
	}
	if strings.TrimSpace(cleaned) == "" {
		c.logger.Warn("transcript cleaning returned empty output, using raw transcript")
		return raw, false
	}
	return cleaned, true
}
