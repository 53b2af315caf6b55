// Package web exposes the study service as a JSON HTTP API.
package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/srs"
	"github.com/conorfennell/knolsched/internal/storage"
	"github.com/conorfennell/knolsched/internal/study"
)

// OperationHeader carries the operation id of a scheduled response. A client
// retrying a request sends the same value again.
const OperationHeader = "Idempotency-Key"

// Server holds the dependencies for the HTTP server.
type Server struct {
	study  *study.Service
	router *http.ServeMux
	logger *slog.Logger
}

// NewServer creates and configures a new server.
func NewServer(svc *study.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		study:  svc,
		router: http.NewServeMux(),
		logger: logger,
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.HandleFunc("GET /api/session", s.handleGetSession())
	s.router.HandleFunc("GET /api/stats", s.handleGetStats())
	s.router.HandleFunc("GET /api/cards/{id}/preview", s.handleGetPreview())
	s.router.HandleFunc("POST /api/cards/{id}/review", s.handlePostReview())
	s.router.HandleFunc("POST /api/cards/{id}/free", s.handlePostFree())
}

type cardView struct {
	ID               string     `json:"id"`
	Question         string     `json:"question"`
	Answer           string     `json:"answer"`
	Context          string     `json:"context,omitempty"`
	Interval         float64    `json:"interval"`
	DifficultyFactor float64    `json:"difficulty_factor"`
	ReviewCount      int        `json:"review_count"`
	CorrectCount     int        `json:"correct_count"`
	LastReviewDate   *time.Time `json:"last_review,omitempty"`
	NextReviewDate   *time.Time `json:"next_review,omitempty"`
}

func viewOf(c domain.Card) cardView {
	return cardView{
		ID:               c.ID,
		Question:         c.Question,
		Answer:           c.Answer,
		Context:          c.Context,
		Interval:         finite(c.Interval),
		DifficultyFactor: finite(c.DifficultyFactor),
		ReviewCount:      c.ReviewCount,
		CorrectCount:     c.CorrectCount,
		LastReviewDate:   c.LastReviewDate,
		NextReviewDate:   c.NextReviewDate,
	}
}

type resultView struct {
	LogOnly          bool      `json:"log_only"`
	Interval         float64   `json:"interval"`
	DifficultyFactor float64   `json:"difficulty_factor"`
	NextReviewDate   time.Time `json:"next_review"`
}

func resultOf(r srs.Result) resultView {
	return resultView{
		LogOnly:          r.LogOnly,
		Interval:         finite(r.Interval),
		DifficultyFactor: finite(r.DifficultyFactor),
		NextReviewDate:   r.NextReviewDate,
	}
}

// finite maps values JSON cannot carry to 0. A stored card can hold NaN
// until its next response resets it.
func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

type reviewRequest struct {
	Quality srs.Quality `json:"quality"`
}

type reviewResponse struct {
	Processed bool        `json:"processed"`
	Result    *resultView `json:"result,omitempty"`
	Card      *cardView   `json:"card,omitempty"`
}

// handleGetSession returns the cards for the next session. Query parameters:
// min (default 1) and exclude, a comma-separated list of card ids.
func (s *Server) handleGetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		minCount := 1
		if v := r.URL.Query().Get("min"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				http.Error(w, "Invalid min", http.StatusBadRequest)
				return
			}
			minCount = n
		}
		excluded := make(map[string]bool)
		for _, id := range strings.Split(r.URL.Query().Get("exclude"), ",") {
			if id = strings.TrimSpace(id); id != "" {
				excluded[id] = true
			}
		}

		cards, err := s.study.Session(minCount, excluded)
		if err != nil && !errors.Is(err, study.ErrNothingDue) {
			s.fail(w, r, err)
			return
		}
		views := make([]cardView, 0, len(cards))
		for _, c := range cards {
			views = append(views, viewOf(c))
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"cards": views})
	}
}

func (s *Server) handleGetStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, counts, err := s.study.Stats()
		if err != nil {
			s.fail(w, r, err)
			return
		}
		byStatus := make(map[string]int, len(counts))
		for status, n := range counts {
			byStatus[status.String()] = n
		}
		s.writeJSON(w, http.StatusOK, map[string]any{
			"total_cards":        stats.TotalCards,
			"ready_count":        stats.ReadyCount,
			"mastered_cards":     stats.MasteredCards,
			"mastery_percentage": stats.MasteryPercentage,
			"today_review_count": stats.TodayReviewCount,
			"by_status":          byStatus,
		})
	}
}

// handleGetPreview returns what each quality would schedule for the card.
func (s *Server) handleGetPreview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		preview, err := s.study.Preview(r.PathValue("id"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out := make(map[string]resultView, len(preview))
		for q, res := range preview {
			out[q.String()] = resultOf(res)
		}
		s.writeJSON(w, http.StatusOK, out)
	}
}

// handlePostReview applies a scheduled response. The operation id comes
// from the Idempotency-Key header; a replay answers 200 with processed false.
func (s *Server) handlePostReview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		out, err := s.study.Respond(r.Header.Get(OperationHeader), r.PathValue("id"), req.Quality)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, responseOf(out))
	}
}

// handlePostFree applies a free-study response.
func (s *Server) handlePostFree() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		out, err := s.study.FreeStudy(r.PathValue("id"), req.Quality)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, responseOf(out))
	}
}

func responseOf(out study.Outcome) reviewResponse {
	if !out.Processed {
		return reviewResponse{}
	}
	res := resultOf(out.Result)
	card := viewOf(out.Card)
	return reviewResponse{Processed: true, Result: &res, Card: &card}
}

// fail maps service errors to status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrCardNotFound):
		http.Error(w, "Card not found", http.StatusNotFound)
	case errors.Is(err, srs.ErrInvalidQuality):
		http.Error(w, "Invalid quality", http.StatusBadRequest)
	case errors.Is(err, study.ErrMissingOperationID):
		http.Error(w, "Missing "+OperationHeader+" header", http.StatusBadRequest)
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}
