package postgres

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/alexlabs/alex/internal/domain"
)

// InstrumentRepo is the reference-data store keyed by symbol.
type InstrumentRepo struct{ Pool PgxPool }

// NewInstrumentRepo constructs an InstrumentRepo with the given pool.
func NewInstrumentRepo(p PgxPool) *InstrumentRepo { return &InstrumentRepo{Pool: p} }

// Get loads one instrument by symbol.
func (r *InstrumentRepo) Get(ctx domain.Context, symbol string) (domain.Instrument, error) {
	tracer := otel.Tracer("repo.instruments")
	ctx, span := tracer.Start(ctx, "instruments.Get")
	defer span.End()
	q := `SELECT symbol, display_name, kind, asset_class, region, sector, updated_at
	      FROM instruments WHERE symbol=$1`
	row := r.Pool.QueryRow(ctx, q, symbol)
	var (
		ins                            domain.Instrument
		assetRaw, regionRaw, sectorRaw []byte
	)
	err := row.Scan(&ins.Symbol, &ins.DisplayName, &ins.Kind, &assetRaw, &regionRaw, &sectorRaw, &ins.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Instrument{}, fmt.Errorf("op=instrument.get: %w", domain.ErrNotFound)
		}
		return domain.Instrument{}, fmt.Errorf("op=instrument.get: %w", err)
	}
	for _, pair := range []struct {
		raw []byte
		dst *domain.Allocation
	}{{assetRaw, &ins.AssetClass}, {regionRaw, &ins.Region}, {sectorRaw, &ins.Sector}} {
		if len(pair.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return domain.Instrument{}, fmt.Errorf("op=instrument.get: %w", err)
		}
	}
	return ins, nil
}

// Upsert validates and writes one classified instrument. A re-upsert with
// equal allocations is a harmless overwrite; divergent re-classifications
// win last-writer, which is acceptable for reference data.
func (r *InstrumentRepo) Upsert(ctx domain.Context, ins domain.Instrument) error {
	tracer := otel.Tracer("repo.instruments")
	ctx, span := tracer.Start(ctx, "instruments.Upsert")
	defer span.End()
	if err := ins.Validate(); err != nil {
		return fmt.Errorf("op=instrument.upsert: %w", err)
	}
	assetRaw, err := json.Marshal(ins.AssetClass)
	if err != nil {
		return fmt.Errorf("op=instrument.upsert: %w", err)
	}
	regionRaw, err := json.Marshal(ins.Region)
	if err != nil {
		return fmt.Errorf("op=instrument.upsert: %w", err)
	}
	sectorRaw, err := json.Marshal(ins.Sector)
	if err != nil {
		return fmt.Errorf("op=instrument.upsert: %w", err)
	}
	q := `INSERT INTO instruments (symbol, display_name, kind, asset_class, region, sector, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7)
	      ON CONFLICT (symbol) DO UPDATE SET
	        display_name=EXCLUDED.display_name, kind=EXCLUDED.kind,
	        asset_class=EXCLUDED.asset_class, region=EXCLUDED.region,
	        sector=EXCLUDED.sector, updated_at=EXCLUDED.updated_at`
	if _, err := r.Pool.Exec(ctx, q, ins.Symbol, ins.DisplayName, ins.Kind, assetRaw, regionRaw, sectorRaw, domain.Now()); err != nil {
		return fmt.Errorf("op=instrument.upsert: %w", err)
	}
	return nil
}

// ListMissing returns, of the given symbols, those absent from the store or
// present without all three allocation maps. Order follows the input.
func (r *InstrumentRepo) ListMissing(ctx domain.Context, symbols []string) ([]string, error) {
	tracer := otel.Tracer("repo.instruments")
	ctx, span := tracer.Start(ctx, "instruments.ListMissing")
	defer span.End()
	if len(symbols) == 0 {
		return nil, nil
	}
	q := `SELECT symbol FROM instruments
	      WHERE symbol = ANY($1)
	        AND asset_class IS NOT NULL AND region IS NOT NULL AND sector IS NOT NULL`
	rows, err := r.Pool.Query(ctx, q, symbols)
	if err != nil {
		return nil, fmt.Errorf("op=instrument.list_missing: %w", err)
	}
	defer rows.Close()
	classified := make(map[string]struct{}, len(symbols))
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("op=instrument.list_missing: %w", err)
		}
		classified[s] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=instrument.list_missing: %w", err)
	}
	missing := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := classified[s]; !ok {
			missing = append(missing, s)
		}
	}
	return missing, nil
}
