package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alexlabs/alex/internal/adapter/httpserver"
	"github.com/alexlabs/alex/internal/config"
	"github.com/alexlabs/alex/internal/domain"
	"github.com/alexlabs/alex/internal/usecase"
)

type noopJobs struct{}

func (noopJobs) Create(domain.Context, domain.Job) (string, error) { return "job-1", nil }
func (noopJobs) Get(domain.Context, string) (domain.Job, error) {
	return domain.Job{ID: "job-1", Status: domain.JobPending}, nil
}
func (noopJobs) UpdateStatus(domain.Context, string, domain.JobStatus, *string) error { return nil }
func (noopJobs) SetSlot(domain.Context, string, domain.Slot, any) error               { return nil }
func (noopJobs) MergeChart(domain.Context, string, string, domain.ChartDescriptor) error {
	return nil
}

type noopQueue struct{}

func (noopQueue) EnqueueJob(domain.Context, domain.JobMessage) error { return nil }

func testHandler() http.Handler {
	cfg := config.Config{RateLimitPerMin: 100}
	srv := httpserver.NewServer(cfg,
		usecase.NewSubmitService(noopJobs{}, noopQueue{}),
		usecase.NewStatusService(noopJobs{}))
	readyz := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }
	return BuildRouter(cfg, srv, readyz)
}

func TestRouter_Routes(t *testing.T) {
	t.Parallel()
	h := testHandler()

	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/v1/jobs/job-1"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestRouter_SetsRequestIDAndSecurityHeaders(t *testing.T) {
	t.Parallel()
	h := testHandler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
