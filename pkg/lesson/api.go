package lesson

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/antibyte/emojivm/pkg/logger"
	"github.com/antibyte/emojivm/pkg/shared"
	"github.com/antibyte/emojivm/pkg/validator"
)

// maxSourceBytes begrenzt eingereichte Programme
const maxSourceBytes = 64 * 1024

// GradeRequest is the body of POST /api/grade.
type GradeRequest struct {
	LessonID string `json:"lessonId"`
	StepID   string `json:"stepId"`
	Source   string `json:"source"`
}

// GradeResponse is the JSON form of a Result.
type GradeResponse struct {
	Success     bool                      `json:"success"`
	Passed      bool                      `json:"passed"`
	Reason      string                    `json:"reason,omitempty"`
	Output      []string                  `json:"output"`
	Expected    []string                  `json:"expected"`
	Mismatch    int                       `json:"mismatch"`
	Diagnostics []shared.DiagnosticRecord `json:"diagnostics,omitempty"`
	Snapshot    *shared.SnapshotRecord    `json:"snapshot,omitempty"`
	Receipt     string                    `json:"receipt,omitempty"`
	Message     string                    `json:"message,omitempty"`
}

// ReceiptResponse is the answer of the receipt check.
type ReceiptResponse struct {
	Success bool           `json:"success"`
	Receipt *ReceiptClaims `json:"receipt,omitempty"`
	Message string         `json:"message"`
}

// LessonSummary lists a lesson without its expected outputs.
type LessonSummary struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Steps       []StepSummary `json:"steps"`
}

// StepSummary is the learner-facing part of a step.
type StepSummary struct {
	ID            string `json:"id"`
	Title         string `json:"title,omitempty"`
	Instructions  string `json:"instructions,omitempty"`
	StarterSource string `json:"starterSource,omitempty"`
}

// API serves loaded lessons, grades submissions and checks receipts.
type API struct {
	mu      sync.RWMutex
	lessons map[string]*shared.LessonRecord
	order   []string
	grader  *Grader
	issuer  *Issuer
	json    *validator.JSONValidator
}

// NewAPI serves lessons graded by grader. issuer verifies receipts and may
// be nil, then receipt checks answer 503.
func NewAPI(lessons []*shared.LessonRecord, grader *Grader, issuer *Issuer) *API {
	a := &API{grader: grader, issuer: issuer, json: validator.NewJSONValidator()}
	a.SetLessons(lessons)
	return a
}

// SetLessons replaces the served lessons.
func (a *API) SetLessons(lessons []*shared.LessonRecord) {
	byID := make(map[string]*shared.LessonRecord, len(lessons))
	order := make([]string, 0, len(lessons))
	for _, l := range lessons {
		if _, dup := byID[l.ID]; dup {
			continue
		}
		byID[l.ID] = l
		order = append(order, l.ID)
	}
	a.mu.Lock()
	a.lessons, a.order = byID, order
	a.mu.Unlock()
}

func (a *API) lesson(id string) (*shared.LessonRecord, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	l, ok := a.lessons[id]
	return l, ok
}

// Register mounts the handlers on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/lessons", a.HandleLessons)
	mux.HandleFunc("/api/grade", a.HandleGrade)
	mux.HandleFunc("/api/receipts/verify", a.HandleVerifyReceipt)
}

// HandleLessons lists all lessons, or one with ?id=.
func (a *API) HandleLessons(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if id := r.URL.Query().Get("id"); id != "" {
		l, ok := a.lesson(id)
		if !ok {
			respondWithError(w, "Unknown lesson", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(summarize(l))
		return
	}

	a.mu.RLock()
	out := make([]LessonSummary, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, summarize(a.lessons[id]))
	}
	a.mu.RUnlock()
	json.NewEncoder(w).Encode(out)
}

func summarize(l *shared.LessonRecord) LessonSummary {
	s := LessonSummary{ID: l.ID, Title: l.Title, Description: l.Description}
	for _, st := range l.Steps {
		s.Steps = append(s.Steps, StepSummary{
			ID:            st.ID,
			Title:         st.Title,
			Instructions:  st.Instructions,
			StarterSource: st.StarterSource,
		})
	}
	return s
}

// HandleGrade grades a submission and answers with the result and, for a
// passed step, a signed receipt.
func (a *API) HandleGrade(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req GradeRequest
	if err := a.decode(r, &req); err != nil {
		logger.Warn(logger.AreaLesson, "invalid grade request: %v", err)
		respondWithError(w, "Invalid request format", http.StatusBadRequest)
		return
	}
	if len(req.Source) > maxSourceBytes {
		respondWithError(w, "Program too large", http.StatusRequestEntityTooLarge)
		return
	}

	l, ok := a.lesson(req.LessonID)
	if !ok {
		respondWithError(w, "Unknown lesson", http.StatusNotFound)
		return
	}
	res, err := a.grader.GradeLesson(r.Context(), l, req.StepID, req.Source)
	switch {
	case errors.Is(err, ErrUnknownStep):
		respondWithError(w, "Unknown lesson step", http.StatusNotFound)
		return
	case err != nil:
		logger.Error(logger.AreaLesson, "grading %s/%s failed: %v", req.LessonID, req.StepID, err)
		respondWithError(w, "Grading failed", http.StatusInternalServerError)
		return
	}

	resp := GradeResponse{
		Success:  true,
		Passed:   res.Passed,
		Reason:   res.Reason,
		Output:   res.Output,
		Expected: res.Expected,
		Mismatch: res.Mismatch,
		Receipt:  res.Receipt,
	}
	for _, d := range res.Diagnostics {
		resp.Diagnostics = append(resp.Diagnostics, shared.DiagnosticRecord{
			Line:    d.Pos.Line,
			Column:  d.Pos.Column,
			Code:    d.Code,
			Message: d.Message,
			Fatal:   d.Fatal,
		})
	}
	if res.Snapshot != nil {
		rec := res.Snapshot.Record()
		resp.Snapshot = &rec
	}
	json.NewEncoder(w).Encode(resp)
}

// HandleVerifyReceipt checks a receipt passed as bearer token or as
// {"token": "..."} body.
func (a *API) HandleVerifyReceipt(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.issuer == nil {
		respondWithError(w, "Receipts are not enabled", http.StatusServiceUnavailable)
		return
	}

	token, err := a.receiptFromRequest(r)
	if err != nil {
		respondWithError(w, err.Error(), http.StatusBadRequest)
		return
	}
	claims, err := a.issuer.Verify(token)
	if err != nil {
		logger.SecurityWarn("receipt rejected: %v", err)
		respondWithError(w, "Invalid receipt", http.StatusUnauthorized)
		return
	}
	json.NewEncoder(w).Encode(ReceiptResponse{Success: true, Receipt: claims, Message: "Receipt valid"})
}

func (a *API) receiptFromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.Fields(h)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1], nil
		}
		return "", fmt.Errorf("invalid authorization header format")
	}
	if r.Method == http.MethodPost {
		var body struct {
			Token string `json:"token"`
		}
		if err := a.decode(r, &body); err == nil && body.Token != "" {
			return body.Token, nil
		}
	}
	return "", fmt.Errorf("no receipt in request")
}

// decode reads a JSON body through the structural checks.
func (a *API) decode(r *http.Request, dst interface{}) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, int64(a.json.MaxBytes)+1))
	if err != nil {
		return err
	}
	if err := a.json.ValidateJSON(data); err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// respondWithError sendet eine Fehlerantwort als JSON
func respondWithError(w http.ResponseWriter, message string, statusCode int) {
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(GradeResponse{Success: false, Message: message})
}
