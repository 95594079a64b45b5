package grading

import (
	"fmt"
	"strings"
)

const gradingSystemPrompt = `You are an expert sales coach grading a role-play training call between a salesperson ("You") and a simulated customer ("AI Customer").

Grade the conversation against the rubric you are given. Rules:
- Evaluate each criterion independently of the others.
- Award points in proportion to skill the salesperson actually DEMONSTRATED, not skill they merely attempted.
- Cite verbatim evidence quotes from the transcript for every criterion where any points are awarded. If no supporting quote exists, use an empty evidence list.
- Give short per-criterion reasoning explaining the score.

Separately, determine whether the call CLOSED, using exactly this rule:
1. If the customer rejected the offer, closed is false.
2. If the salesperson ended the call early or before making an ask, closed is false.
3. Otherwise (the call reached a natural conclusion with no rejection), closed is true.
Provide a short evidence sentence supporting the closed determination.

Your entire response must be a single JSON object. No markdown fences, no commentary.`

const gradingUserPromptTemplate = `Grade this sales training call transcript against the rubric below.

Rubric criteria:
%s

Transcript:
---
%s
---

Respond with valid JSON matching this schema exactly:
{
  "totalScore": number,
  "maxPossibleScore": number,
  "closed": true|false,
  "closedEvidence": "string",
  "criteriaGrades": [
    {
      "title": "string",
      "description": "string",
      "maxPoints": number,
      "earnedPoints": number,
      "evidence": ["verbatim quote"],
      "reasoning": "string"
    }
  ]
}

totalScore must equal the sum of earnedPoints. maxPossibleScore must equal the sum of maxPoints. Return ONLY the JSON object.`

// renderCriteria formats rubric criteria as the bulleted list the grading
// prompt expects.
func renderCriteria(criteria []Criterion) string {
	var b strings.Builder
	for _, c := range criteria {
		fmt.Fprintf(&b, "- %s: %s (Max: %g points)\n", c.Title, c.Description, c.MaxPoints)
	}
	return strings.TrimRight(b.String(), "\n")
}

func gradingUserPrompt(criteria []Criterion, transcript string) string {
	return fmt.Sprintf(gradingUserPromptTemplate, renderCriteria(criteria), transcript)
}
