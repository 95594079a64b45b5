package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/PitchLabs-AI/debrief/internal/grading"
	"github.com/PitchLabs-AI/debrief/internal/llm"
	"github.com/PitchLabs-AI/debrief/internal/pipeline"
	"github.com/PitchLabs-AI/debrief/internal/store"
	"github.com/PitchLabs-AI/debrief/internal/summary"
)

// CreateSessionRequest is the payload from the call-handling layer once a
// training call ends.
type CreateSessionRequest struct {
	UserID          int64      `json:"userId"`
	OrgID           int64      `json:"orgId"`
	AssignmentID    *int64     `json:"assignmentId,omitempty"`
	TemplateID      *int64     `json:"templateId,omitempty"`
	VendorCallID    string     `json:"vendorCallId,omitempty"`
	Transcript      string     `json:"transcript"`
	Status          string     `json:"status,omitempty"`
	DurationSeconds int        `json:"durationSeconds"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
}

// GradeResponse is the on-demand grading response shape.
type GradeResponse struct {
	GradeID          string                   `json:"gradeId"`
	TotalScore       float64                  `json:"totalScore"`
	MaxPossibleScore float64                  `json:"maxPossibleScore"`
	Closed           bool                     `json:"closed"`
	ClosedEvidence   string                   `json:"closedEvidence"`
	CriteriaGrades   []grading.CriterionGrade `json:"criteriaGrades"`
	GradingModel     string                   `json:"gradingModel"`
	WasTruncated     bool                     `json:"wasTruncated"`
}

// createSession handles POST /api/v1/sessions. The session row is durably
// created and the pipeline dispatched; the response never waits on the
// pipeline.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.UserID == 0 || req.OrgID == 0 {
		writeError(w, http.StatusBadRequest, "userId and orgId are required")
		return
	}

	status := store.StatusCompleted
	if req.Status != "" {
		parsed, err := store.ParseStatus(req.Status)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		status = parsed
	}

	sess := &store.Session{
		UserID:          req.UserID,
		OrgID:           req.OrgID,
		AssignmentID:    req.AssignmentID,
		TemplateID:      req.TemplateID,
		Transcript:      req.Transcript,
		Status:          status,
		DurationSeconds: req.DurationSeconds,
		StartedAt:       req.StartedAt,
		EndedAt:         req.EndedAt,
	}
	if req.VendorCallID != "" {
		sess.VendorCallID = &req.VendorCallID
	}

	id, err := s.store.CreateSession(r.Context(), sess)
	if err != nil {
		s.logger.Error("failed to create session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	s.dispatcher.Dispatch(pipeline.Job{
		SessionID:    id,
		UserID:       req.UserID,
		AssignmentID: req.AssignmentID,
		Transcript:   req.Transcript,
		VendorCallID: req.VendorCallID,
	})

	writeJSON(w, http.StatusAccepted, map[string]any{"id": id})
}

// gradeSession handles POST /api/v1/sessions/{id}/grade — the synchronous
// "grade now" path. Unlike the pipeline, failures here surface to the caller.
func (s *Server) gradeSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	transcript := preferredTranscript(sess)
	if transcript == "" {
		writeError(w, http.StatusNotFound, "no transcript available")
		return
	}

	// Callers may supply explicit criteria; otherwise the rubric resolves
	// through the session's assignment (or the default rubric).
	var req struct {
		Criteria []grading.Criterion `json:"criteria,omitempty"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}

	var result *grading.Result
	var err error
	if len(req.Criteria) > 0 {
		result, err = s.grader.GradeTranscript(r.Context(), grading.Input{
			SessionID:    sess.ID,
			UserID:       sess.UserID,
			AssignmentID: sess.AssignmentID,
			Criteria:     req.Criteria,
			Transcript:   transcript,
		})
	} else {
		result, err = s.grader.GradeSession(r.Context(), sess.ID, sess.UserID, sess.AssignmentID, transcript)
	}

	switch {
	case errors.Is(err, grading.ErrInvalidFormat):
		writeError(w, http.StatusUnprocessableEntity, "AI returned invalid grading format")
		return
	case errors.Is(err, llm.ErrContextLength):
		writeError(w, http.StatusRequestEntityTooLarge, "transcript too long for grading model — shorten the call")
		return
	case err != nil:
		s.logger.Error("on-demand grading failed", "session_id", sess.ID, "error", err)
		writeError(w, http.StatusBadGateway, "grading upstream failed")
		return
	case result == nil:
		writeError(w, http.StatusBadRequest, "no rubric configured for this session")
		return
	}

	writeJSON(w, http.StatusOK, GradeResponse{
		GradeID:          result.Grade.ID.String(),
		TotalScore:       result.Grade.TotalScore,
		MaxPossibleScore: result.Grade.MaxPossibleScore,
		Closed:           result.Closed,
		ClosedEvidence:   result.ClosedEvidence,
		CriteriaGrades:   result.Grade.CriteriaGrades,
		GradingModel:     result.Grade.GradingModel,
		WasTruncated:     result.WasTruncated,
	})
}

// getGrade handles GET /api/v1/sessions/{id}/grade — the latest persisted
// grade, including manual overrides.
func (s *Server) getGrade(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	grade, err := s.store.GetLatestGrade(r.Context(), sess.ID)
	if err != nil {
		s.logger.Error("failed to load grade", "session_id", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load grade")
		return
	}
	if grade == nil {
		writeError(w, http.StatusNotFound, "session has not been graded")
		return
	}

	closed := false
	evidence := ""
	if sess.Closed != nil {
		closed = *sess.Closed
	}
	if sess.ClosedEvidence != nil {
		evidence = *sess.ClosedEvidence
	}

	writeJSON(w, http.StatusOK, GradeResponse{
		GradeID:          grade.ID.String(),
		TotalScore:       grade.TotalScore,
		MaxPossibleScore: grade.MaxPossibleScore,
		Closed:           closed,
		ClosedEvidence:   evidence,
		CriteriaGrades:   grade.CriteriaGrades,
		GradingModel:     grade.GradingModel,
	})
}

// overrideGrade handles PUT /api/v1/sessions/{id}/grade — an instructor
// replacing the AI score.
func (s *Server) overrideGrade(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	var req struct {
		TotalScore       float64 `json:"totalScore"`
		MaxPossibleScore float64 `json:"maxPossibleScore"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.MaxPossibleScore <= 0 || req.TotalScore < 0 || req.TotalScore > req.MaxPossibleScore {
		writeError(w, http.StatusBadRequest, "totalScore must be within [0, maxPossibleScore]")
		return
	}

	if err := s.store.ApplyManualOverride(r.Context(), sess.ID, sess.UserID, req.TotalScore, req.MaxPossibleScore); err != nil {
		s.logger.Error("failed to override grade", "session_id", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to override grade")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"totalScore":       req.TotalScore,
		"maxPossibleScore": req.MaxPossibleScore,
		"manualOverride":   true,
	})
}

// summarizeSession handles POST /api/v1/sessions/{id}/summary. An existing
// summary is served from the session record; generation happens at most once.
func (s *Server) summarizeSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	if sess.AISummary != nil && *sess.AISummary != "" {
		writeJSON(w, http.StatusOK, map[string]any{"summary": *sess.AISummary, "cached": true})
		return
	}

	transcript := preferredTranscript(sess)
	text, err := s.summarizer.Generate(r.Context(), transcript)
	if errors.Is(err, summary.ErrNoTranscript) {
		writeError(w, http.StatusNotFound, "no transcript available")
		return
	}
	if err != nil {
		s.logger.Error("on-demand summary failed", "session_id", sess.ID, "error", err)
		writeError(w, http.StatusBadGateway, "summary upstream failed")
		return
	}

	if err := s.store.SetSummary(r.Context(), sess.ID, text); err != nil {
		s.logger.Error("failed to persist summary", "session_id", sess.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{"summary": text, "cached": false})
}

// getTranscript handles GET /api/v1/sessions/{id}/transcript — the lazy
// clean-recompute read path. The stored cleaned transcript wins; the LLM is
// consulted only when none exists yet.
func (s *Server) getTranscript(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	if sess.TranscriptLLMClean != nil && *sess.TranscriptLLMClean != "" {
		writeJSON(w, http.StatusOK, map[string]any{"transcript": *sess.TranscriptLLMClean, "cleaned": true})
		return
	}

	if sess.Transcript == "" {
		writeError(w, http.StatusNotFound, "no transcript available")
		return
	}

	cleaned, ok := s.cleaner.Clean(r.Context(), sess.Transcript)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"transcript": sess.Transcript, "cleaned": false})
		return
	}

	// Persisted even when identical to the raw transcript, so the next read
	// serves the stored value instead of cleaning again.
	if err := s.store.SetCleanTranscript(r.Context(), sess.ID, cleaned); err != nil {
		s.logger.Error("failed to persist cleaned transcript", "session_id", sess.ID, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"transcript": cleaned, "cleaned": true})
}

func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (*store.Session, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return nil, false
	}
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

// preferredTranscript picks the LLM-cleaned transcript when present, the raw
// one otherwise.
func preferredTranscript(sess *store.Session) string {
	if sess.TranscriptLLMClean != nil && *sess.TranscriptLLMClean != "" {
		return *sess.TranscriptLLMClean
	}
	return sess.Transcript
}
