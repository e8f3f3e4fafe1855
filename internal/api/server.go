// Package api exposes the HTTP surface that submits survey answers and drives recovery.
package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/InternetOfUs/app-survey/internal/common/errors"
	"github.com/InternetOfUs/app-survey/internal/common/logger"
	"github.com/InternetOfUs/app-survey/internal/common/validation"
	"github.com/InternetOfUs/app-survey/internal/ingest/tally"
	"github.com/InternetOfUs/app-survey/internal/models"
	"github.com/InternetOfUs/app-survey/internal/pipeline"
	"github.com/InternetOfUs/app-survey/internal/queue"
)

const maxBodyBytes = 1 << 20

// FailureService is the part of *pipeline.Service behind the recovery endpoints.
type FailureService interface {
	Outstanding(ctx context.Context) ([]models.FailedUpdateRecord, error)
	Sweep(ctx context.Context, q pipeline.Enqueuer) (*pipeline.SweepResult, error)
}

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

type Config struct {
	Queue    pipeline.Enqueuer
	Failures FailureService
	// TallySecret verifies the Tally-Signature header when set.
	TallySecret string
	Ready       map[string]Check
	Logger      logger.Logger
}

type server struct {
	cfg Config
	log logger.Logger
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type acceptedBody struct {
	TaskID    string `json:"taskId"`
	SubjectID string `json:"subjectId"`
}

// New returns the router.
func New(cfg Config) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	s := &server{cfg: cfg, log: log.WithFields(map[string]interface{}{"component": "api"})}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.health)
	r.Get("/ready", s.ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/webhooks/tally", s.tallyWebhook)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/survey-answers", s.submitAnswer)
		r.Post("/sweep", s.sweep)
		r.Get("/failures", s.failures)
	})
	return r
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/metrics" || r.URL.Path == "/health" {
			return
		}
		s.log.Debug("HTTP request", map[string]interface{}{
			"method":    r.Method,
			"path":      r.URL.Path,
			"status":    ww.Status(),
			"duration":  time.Since(start).String(),
			"requestId": middleware.GetReqID(r.Context()),
		})
	})
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.cfg.Ready))
	status := http.StatusOK
	for name, check := range s.cfg.Ready {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	writeJSON(w, status, map[string]interface{}{"status": state, "checks": checks})
}

func (s *server) tallyWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, errors.NewInvalidWebhookError(err.Error()))
		return
	}
	if s.cfg.TallySecret != "" && !validSignature(s.cfg.TallySecret, body, r.Header.Get("Tally-Signature")) {
		writeJSON(w, http.StatusUnauthorized, map[string]errorBody{"error": {
			Code:    "INVALID_SIGNATURE",
			Message: "Tally-Signature does not match the payload",
		}})
		return
	}

	answer, event, err := tally.Parse(body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("Tally response received", map[string]interface{}{
		"eventId":    event.EventID,
		"responseId": event.Data.ResponseID,
		"subjectId":  answer.SubjectID,
		"answers":    len(answer.Answers),
	})
	s.submit(r.Context(), w, answer)
}

func (s *server) submitAnswer(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, errors.NewInvalidSurveyAnswerError(err.Error()))
		return
	}

	result, err := validation.ValidateSurveyAnswer(body)
	if err != nil {
		s.writeError(w, errors.NewInvalidSurveyAnswerError(err.Error()))
		return
	}
	if !result.Valid {
		s.writeError(w, errors.NewInvalidSurveyAnswerError(result.Summary()))
		return
	}

	answer, err := models.DecodeSurveyAnswer(body)
	if err != nil {
		s.writeError(w, errors.NewInvalidSurveyAnswerError(err.Error()))
		return
	}
	s.submit(r.Context(), w, answer)
}

// submit enqueues the update and answers 202 without waiting for it to run.
func (s *server) submit(ctx context.Context, w http.ResponseWriter, answer *models.SurveyAnswer) {
	task, err := queue.NewUpdateTask(answer)
	if err != nil {
		s.writeError(w, errors.NewInternalError(err))
		return
	}
	id, err := s.cfg.Queue.Enqueue(ctx, task)
	if err != nil {
		if _, ok := errors.AsStandardError(err); !ok {
			err = errors.NewQueueUnavailableError(err)
		}
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedBody{TaskID: id, SubjectID: answer.SubjectID})
}

func (s *server) sweep(w http.ResponseWriter, r *http.Request) {
	res, err := s.cfg.Failures.Sweep(r.Context(), s.cfg.Queue)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *server) failures(w http.ResponseWriter, r *http.Request) {
	records, err := s.cfg.Failures.Outstanding(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(records),
		"failures": records,
	})
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	stdErr := errors.Normalize(err)
	status := statusFor(stdErr.Code)
	if status >= http.StatusInternalServerError {
		s.log.Error("Request failed", map[string]interface{}{
			"errorCode": string(stdErr.Code),
			"error":     err.Error(),
		})
	}
	writeJSON(w, status, map[string]errorBody{"error": {
		Code:    string(stdErr.Code),
		Message: stdErr.Message,
		Details: stdErr.Details,
	}})
}

func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeInvalidSurveyAnswer, errors.ErrCodeInvalidWebhook:
		return http.StatusBadRequest
	case errors.ErrCodeQueueUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// validSignature checks Tally's base64 HMAC-SHA256 of the raw body.
func validSignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
