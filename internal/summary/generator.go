package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PitchLabs-AI/debrief/internal/llm"
)

const coachingSystemPrompt = `You are a sales coach reviewing a role-play training call between a salesperson ("You") and a simulated customer ("AI Customer").

Write a short coaching summary covering exactly three things:
1. Strengths — what the salesperson did well, with specifics from the call.
2. Improvement areas — the most impactful things to work on.
3. Overall assessment — how the call went and whether it reached a good outcome.

Keep it to two or three short paragraphs, roughly 150-300 words. Address the salesperson directly. Plain prose, no headings or bullet lists.`

// ErrNoTranscript is returned when a summary is requested for a session with
// no transcript to summarize.
var ErrNoTranscript = errors.New("summary: no transcript available")

// Completer is the LLM surface the generator needs. Satisfied by *llm.Client.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

type Generator struct {
	llm    Completer
	logger *slog.Logger
}

func NewGenerator(llm Completer, logger *slog.Logger) *Generator {
	return &Generator{llm: llm, logger: logger}
}

// Generate produces the coaching summary for a transcript. Unlike transcript
// cleaning there is no silent fallback: failures propagate so the caller can
// report them.
func (g *Generator) Generate(ctx context.Context, transcript string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return "", ErrNoTranscript
	}

	text, err := g.llm.Complete(ctx, llm.Request{
		System:      coachingSystemPrompt,
		User:        transcript,
		MaxTokens:   600,
		Temperature: 0.6,
	})
	if err != nil {
		return "", fmt.Errorf("summary completion: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("summary completion returned empty output")
	}

	g.logger.Info("summary generated", "summary_len", len(text))
	return text, nil
}
