package postgres_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexlabs/alex/internal/adapter/repo/postgres"
	"github.com/alexlabs/alex/internal/domain"
)

func classifiedInstrument(symbol string) domain.Instrument {
	return domain.Instrument{
		Symbol:      symbol,
		DisplayName: symbol + " Inc.",
		Kind:        domain.InstrumentStock,
		AssetClass:  domain.Allocation{"equity": 100},
		Region:      domain.Allocation{"north_america": 100},
		Sector:      domain.Allocation{"technology": 100},
	}
}

func TestInstrumentRepo_Upsert_ValidatesFirst(t *testing.T) {
	t.Parallel()
	execCalled := false
	pool := &poolStub{exec: func(string, []any) (pgconn.CommandTag, error) {
		execCalled = true
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}}
	repo := postgres.NewInstrumentRepo(pool)

	bad := classifiedInstrument("AAPL")
	bad.Sector = domain.Allocation{"technology": 60} // does not sum to 100
	err := repo.Upsert(context.Background(), bad)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.False(t, execCalled)

	require.NoError(t, repo.Upsert(context.Background(), classifiedInstrument("AAPL")))
	assert.True(t, execCalled)
}

func TestInstrumentRepo_Get_NotFound(t *testing.T) {
	t.Parallel()
	pool := &poolStub{queryRow: func(string, []any) pgx.Row {
		return rowStub{scan: func(...any) error { return pgx.ErrNoRows }}
	}}
	repo := postgres.NewInstrumentRepo(pool)
	_, err := repo.Get(context.Background(), "ZZZZ")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInstrumentRepo_Get_DecodesAllocations(t *testing.T) {
	t.Parallel()
	pool := &poolStub{queryRow: func(string, []any) pgx.Row {
		return rowStub{scan: func(dest ...any) error {
			*(dest[0].(*string)) = "VTI"
			*(dest[1].(*string)) = "Vanguard Total Stock Market ETF"
			*(dest[2].(*domain.InstrumentKind)) = domain.InstrumentETF
			*(dest[3].(*[]byte)) = []byte(`{"equity":100}`)
			*(dest[4].(*[]byte)) = []byte(`{"north_america":100}`)
			*(dest[5].(*[]byte)) = []byte(`{"diversified":100}`)
			return nil
		}}
	}}
	repo := postgres.NewInstrumentRepo(pool)

	ins, err := repo.Get(context.Background(), "VTI")
	require.NoError(t, err)
	assert.True(t, ins.Classified())
	assert.InDelta(t, 100, ins.AssetClass["equity"], 0.001)
}

func TestInstrumentRepo_ListMissing(t *testing.T) {
	t.Parallel()
	pool := &poolStub{query: func(sql string, args []any) (pgx.Rows, error) {
		require.Contains(t, sql, "ANY($1)")
		return &rowsStub{values: [][]any{{"AAPL"}, {"VTI"}}}, nil
	}}
	repo := postgres.NewInstrumentRepo(pool)

	missing, err := repo.ListMissing(context.Background(), []string{"AAPL", "NEWCO", "VTI", "BTC"})
	require.NoError(t, err)
	assert.Equal(t, []string{"NEWCO", "BTC"}, missing)
}

func TestInstrumentRepo_ListMissing_EmptyInput(t *testing.T) {
	t.Parallel()
	repo := postgres.NewInstrumentRepo(&poolStub{})
	missing, err := repo.ListMissing(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, missing)
}
