package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/alexlabs/alex/internal/config"
	"github.com/alexlabs/alex/internal/domain"
	"github.com/alexlabs/alex/internal/usecase"
)

// Server bundles the handlers and their dependencies.
type Server struct {
	Cfg    config.Config
	Submit usecase.SubmitService
	Status usecase.StatusService
}

// NewServer constructs a Server with all handlers wired.
func NewServer(cfg config.Config, submit usecase.SubmitService, status usecase.StatusService) *Server {
	return &Server{Cfg: cfg, Submit: submit, Status: status}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

type submitRequest struct {
	UserRef        string                `json:"user_ref" validate:"required,max=200"`
	Kind           string                `json:"kind" validate:"required,oneof=portfolio_analysis retirement_only"`
	RequestPayload domain.RequestPayload `json:"request_payload"`
}

// SubmitJobHandler accepts an analysis request and answers 202 with the
// job id; the result is fetched by polling.
func (s *Server) SubmitJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "application/json") {
			writeError(w, r, fmt.Errorf("%w: content-type must be application/json", domain.ErrInvalidArgument), nil)
			return
		}
		var req submitRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			verrs := map[string]string{}
			if ve, ok := err.(validator.ValidationErrors); ok {
				for _, fe := range ve {
					verrs[strings.ToLower(fe.Field())] = fe.Tag()
				}
			}
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
			return
		}

		jobID, err := s.Submit.Submit(r.Context(), req.UserRef, domain.JobKind(req.Kind), req.RequestPayload)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"job_id": jobID,
			"status": string(domain.JobPending),
		})
	}
}

// JobStatusHandler returns the job status and whichever payload slots are
// present.
func (s *Server) JobStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "job_id")
		body, err := s.Status.Fetch(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, body)
	}
}

// HealthHandler answers liveness probes.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
