package db

import (
	"context"

	"crowdpark/internal/types"
)

// CarparkRepository loads the static carpark datasets. Both queries return
// rows in insertion order so "latest reading" keeps its dataset meaning.
type CarparkRepository struct {
	db DBTX
}

// NewCarparkRepository creates a new CarparkRepository.
func NewCarparkRepository(db DBTX) *CarparkRepository {
	return &CarparkRepository{db: db}
}

// LoadLocations returns every carpark with both coordinates present.
func (r *CarparkRepository) LoadLocations(ctx context.Context) ([]types.CarparkLocation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT car_park_no, address, x_coord, y_coord
		FROM carparks
		WHERE x_coord IS NOT NULL AND y_coord IS NOT NULL
		ORDER BY id`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query carpark locations", err)
	}
	defer rows.Close()

	var out []types.CarparkLocation
	for rows.Next() {
		var loc types.CarparkLocation
		if err := rows.Scan(&loc.CarparkNo, &loc.Address, &loc.X, &loc.Y); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan carpark location", err)
		}
		out = append(out, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating carpark location rows", err)
	}
	return out, nil
}

// LoadHistory returns availability readings joined to their carpark
// address. Readings whose carpark number is not in the catalogue are
// skipped, matching the file loader.
func (r *CarparkRepository) LoadHistory(ctx context.Context) ([]types.CarparkReading, error) {
	rows, err := r.db.Query(ctx, `
		SELECT c.address, a.available_lots
		FROM carpark_availability a
		JOIN carparks c ON c.car_park_no = a.carpark_number
		ORDER BY a.id`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query carpark history", err)
	}
	defer rows.Close()

	var out []types.CarparkReading
	for rows.Next() {
		var rd types.CarparkReading
		if err := rows.Scan(&rd.Address, &rd.AvailableLots); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan carpark reading", err)
		}
		out = append(out, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating carpark history rows", err)
	}
	return out, nil
}

// Ping reports whether the database answers a trivial query.
func (r *CarparkRepository) Ping(ctx context.Context) error {
	var one int
	if err := r.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "database ping failed", err)
	}
	return nil
}
