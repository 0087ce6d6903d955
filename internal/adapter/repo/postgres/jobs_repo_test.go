package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexlabs/alex/internal/adapter/repo/postgres"
	"github.com/alexlabs/alex/internal/domain"
)

func TestJobRepo_Create_GeneratesID(t *testing.T) {
	t.Parallel()
	var gotArgs []any
	pool := &poolStub{exec: func(sql string, args []any) (pgconn.CommandTag, error) {
		require.Contains(t, sql, "INSERT INTO jobs")
		gotArgs = args
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}}
	repo := postgres.NewJobRepo(pool)

	id, err := repo.Create(context.Background(), domain.Job{
		UserRef:        "user-1",
		Kind:           domain.KindPortfolioAnalysis,
		RequestPayload: domain.NewRequestPayload(),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, gotArgs[0])
	assert.Equal(t, domain.JobPending, gotArgs[3])
}

func TestJobRepo_Create_ExecError(t *testing.T) {
	t.Parallel()
	pool := &poolStub{exec: func(string, []any) (pgconn.CommandTag, error) {
		return pgconn.CommandTag{}, errors.New("conn refused")
	}}
	repo := postgres.NewJobRepo(pool)
	_, err := repo.Create(context.Background(), domain.Job{UserRef: "u"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=job.create")
}

func TestJobRepo_Get_NotFound(t *testing.T) {
	t.Parallel()
	pool := &poolStub{queryRow: func(string, []any) pgx.Row {
		return rowStub{scan: func(...any) error { return pgx.ErrNoRows }}
	}}
	repo := postgres.NewJobRepo(pool)
	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobRepo_Get_DecodesSlots(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()
	reportRaw, _ := json.Marshal("## Report")
	chartsRaw, _ := json.Marshal(map[string]domain.ChartDescriptor{
		"asset_allocation": {Title: "Asset Allocation", ChartType: domain.ChartPie},
	})
	pool := &poolStub{queryRow: func(string, []any) pgx.Row {
		return rowStub{scan: func(dest ...any) error {
			*(dest[0].(*string)) = "job-1"
			*(dest[1].(*string)) = "user-1"
			*(dest[2].(*domain.JobKind)) = domain.KindPortfolioAnalysis
			*(dest[3].(*domain.JobStatus)) = domain.JobRunning
			*(dest[4].(*string)) = ""
			*(dest[5].(*[]byte)) = []byte(`{"accounts":[],"goals":null}`)
			*(dest[6].(*[]byte)) = reportRaw
			*(dest[7].(*[]byte)) = chartsRaw
			*(dest[10].(*time.Time)) = now
			*(dest[11].(*time.Time)) = now
			return nil
		}}
	}}
	repo := postgres.NewJobRepo(pool)

	job, err := repo.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobRunning, job.Status)
	require.NotNil(t, job.Report)
	assert.Equal(t, "## Report", *job.Report)
	require.Contains(t, job.Charts, "asset_allocation")
	assert.Nil(t, job.Retirement)
	assert.Nil(t, job.Summary)
}

func TestJobRepo_UpdateStatus_GuardsPrior(t *testing.T) {
	t.Parallel()
	var gotSQL string
	var gotArgs []any
	pool := &poolStub{exec: func(sql string, args []any) (pgconn.CommandTag, error) {
		gotSQL, gotArgs = sql, args
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}}
	repo := postgres.NewJobRepo(pool)

	require.NoError(t, repo.UpdateStatus(context.Background(), "job-1", domain.JobRunning, nil))
	assert.Contains(t, gotSQL, "status=$5")
	assert.Equal(t, domain.JobPending, gotArgs[4])

	msg := "model exhausted retries"
	require.NoError(t, repo.UpdateStatus(context.Background(), "job-1", domain.JobFailed, &msg))
	assert.Equal(t, domain.JobRunning, gotArgs[4])
	assert.Equal(t, msg, gotArgs[2])
}

func TestJobRepo_UpdateStatus_RejectsPendingTarget(t *testing.T) {
	t.Parallel()
	repo := postgres.NewJobRepo(&poolStub{})
	err := repo.UpdateStatus(context.Background(), "job-1", domain.JobPending, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestJobRepo_UpdateStatus_GuardMiss(t *testing.T) {
	t.Parallel()
	pool := &poolStub{
		exec: func(string, []any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		},
		queryRow: func(string, []any) pgx.Row {
			return rowStub{scan: func(dest ...any) error {
				*(dest[0].(*string)) = "job-1"
				*(dest[3].(*domain.JobStatus)) = domain.JobCompleted
				return nil
			}}
		},
	}
	repo := postgres.NewJobRepo(pool)
	err := repo.UpdateStatus(context.Background(), "job-1", domain.JobRunning, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestJobRepo_UpdateStatus_MissingRow(t *testing.T) {
	t.Parallel()
	pool := &poolStub{
		exec: func(string, []any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		},
		queryRow: func(string, []any) pgx.Row {
			return rowStub{scan: func(...any) error { return pgx.ErrNoRows }}
		},
	}
	repo := postgres.NewJobRepo(pool)
	err := repo.UpdateStatus(context.Background(), "ghost", domain.JobRunning, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobRepo_SetSlot_UnknownSlot(t *testing.T) {
	t.Parallel()
	repo := postgres.NewJobRepo(&poolStub{})
	err := repo.SetSlot(context.Background(), "job-1", domain.Slot("bogus"), "x")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestJobRepo_SetSlot_WritesColumn(t *testing.T) {
	t.Parallel()
	var gotSQL string
	pool := &poolStub{exec: func(sql string, args []any) (pgconn.CommandTag, error) {
		gotSQL = sql
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}}
	repo := postgres.NewJobRepo(pool)
	require.NoError(t, repo.SetSlot(context.Background(), "job-1", domain.SlotReport, "## Report"))
	assert.Contains(t, gotSQL, "report_payload")
	assert.Contains(t, gotSQL, "NOT IN ('completed','failed')")
}

func TestJobRepo_SetSlot_TerminalJob(t *testing.T) {
	t.Parallel()
	pool := &poolStub{
		exec: func(string, []any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		},
		queryRow: func(string, []any) pgx.Row {
			return rowStub{scan: func(dest ...any) error {
				*(dest[0].(*string)) = "job-1"
				*(dest[3].(*domain.JobStatus)) = domain.JobFailed
				return nil
			}}
		},
	}
	repo := postgres.NewJobRepo(pool)
	err := repo.SetSlot(context.Background(), "job-1", domain.SlotReport, "late")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestJobRepo_MergeChart_AddsKey(t *testing.T) {
	t.Parallel()
	existing, _ := json.Marshal(map[string]domain.ChartDescriptor{
		"sector_breakdown": {Title: "Sector Breakdown", ChartType: domain.ChartBar},
	})
	var merged []byte
	pool := &poolStub{
		queryRow: func(string, []any) pgx.Row {
			return rowStub{scan: func(dest ...any) error {
				*(dest[0].(*[]byte)) = existing
				*(dest[1].(*int)) = 3
				return nil
			}}
		},
		exec: func(sql string, args []any) (pgconn.CommandTag, error) {
			require.Contains(t, sql, "charts_version=charts_version+1")
			assert.Equal(t, 3, args[3])
			merged = args[1].([]byte)
			return pgconn.NewCommandTag("UPDATE 1"), nil
		},
	}
	repo := postgres.NewJobRepo(pool)

	err := repo.MergeChart(context.Background(), "job-1", "asset_allocation",
		domain.ChartDescriptor{Title: "Asset Allocation", ChartType: domain.ChartPie})
	require.NoError(t, err)

	var out map[string]domain.ChartDescriptor
	require.NoError(t, json.Unmarshal(merged, &out))
	assert.Len(t, out, 2)
	assert.Contains(t, out, "sector_breakdown")
	assert.Contains(t, out, "asset_allocation")
}

func TestJobRepo_MergeChart_RetriesOnVersionConflict(t *testing.T) {
	t.Parallel()
	version := 0
	execCalls := 0
	pool := &poolStub{
		queryRow: func(string, []any) pgx.Row {
			return rowStub{scan: func(dest ...any) error {
				*(dest[0].(*[]byte)) = nil
				*(dest[1].(*int)) = version
				return nil
			}}
		},
		exec: func(string, []any) (pgconn.CommandTag, error) {
			execCalls++
			if execCalls == 1 {
				version++ // concurrent writer advanced the version
				return pgconn.NewCommandTag("UPDATE 0"), nil
			}
			return pgconn.NewCommandTag("UPDATE 1"), nil
		},
	}
	repo := postgres.NewJobRepo(pool)
	err := repo.MergeChart(context.Background(), "job-1", "k", domain.ChartDescriptor{Title: "K", ChartType: domain.ChartPie})
	require.NoError(t, err)
	assert.Equal(t, 2, execCalls)
}

func TestJobRepo_MergeChart_ConflictExhausted(t *testing.T) {
	t.Parallel()
	pool := &poolStub{
		queryRow: func(string, []any) pgx.Row {
			return rowStub{scan: func(dest ...any) error {
				*(dest[0].(*[]byte)) = nil
				*(dest[1].(*int)) = 0
				return nil
			}}
		},
		exec: func(string, []any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		},
	}
	repo := postgres.NewJobRepo(pool)
	err := repo.MergeChart(context.Background(), "job-1", "k", domain.ChartDescriptor{})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestSlotColumns_CoverAllSlots(t *testing.T) {
	t.Parallel()
	var seen []string
	pool := &poolStub{exec: func(sql string, _ []any) (pgconn.CommandTag, error) {
		seen = append(seen, sql)
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}}
	repo := postgres.NewJobRepo(pool)
	for _, slot := range []domain.Slot{domain.SlotReport, domain.SlotCharts, domain.SlotRetirement, domain.SlotSummary} {
		require.NoError(t, repo.SetSlot(context.Background(), "job-1", slot, map[string]any{}))
	}
	joined := strings.Join(seen, "\n")
	for _, col := range []string{"report_payload", "charts_payload", "retirement_payload", "summary_payload"} {
		assert.Contains(t, joined, col)
	}
}
