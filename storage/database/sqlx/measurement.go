// Package sqlxrepos holds the bulk write paths, run with sqlx named statements.
package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core/measurement"
)

const insertMeasurement = `INSERT INTO measurements (
	id, customer_id, stack_id, organization_id, item_key, value, measured_at,
	weather, temperature_c, humidity_pct, pressure_mmhg, wind_direction, wind_speed_ms,
	gas_velocity_ms, gas_temp_c, moisture_pct, oxygen_measured_pct, oxygen_std_pct, flow_sm3_min, created_at
) VALUES (
	:id, :customer_id, :stack_id, :organization_id, :item_key, :value, :measured_at,
	:weather, :temperature_c, :humidity_pct, :pressure_mmhg, :wind_direction, :wind_speed_ms,
	:gas_velocity_ms, :gas_temp_c, :moisture_pct, :oxygen_measured_pct, :oxygen_std_pct, :flow_sm3_min, :created_at
) ON CONFLICT (stack_id, item_key, measured_at) DO NOTHING`

type measurementRecord struct {
	ID                string    `db:"id"`
	CustomerID        string    `db:"customer_id"`
	StackID           string    `db:"stack_id"`
	OrganizationID    *string   `db:"organization_id"`
	ItemKey           string    `db:"item_key"`
	Value             float64   `db:"value"`
	MeasuredAt        time.Time `db:"measured_at"`
	Weather           *string   `db:"weather"`
	TemperatureC      *float64  `db:"temperature_c"`
	HumidityPct       *float64  `db:"humidity_pct"`
	PressureMmHg      *float64  `db:"pressure_mmhg"`
	WindDirection     *string   `db:"wind_direction"`
	WindSpeedMs       *float64  `db:"wind_speed_ms"`
	GasVelocityMs     *float64  `db:"gas_velocity_ms"`
	GasTempC          *float64  `db:"gas_temp_c"`
	MoisturePct       *float64  `db:"moisture_pct"`
	OxygenMeasuredPct *float64  `db:"oxygen_measured_pct"`
	OxygenStdPct      *float64  `db:"oxygen_std_pct"`
	FlowSm3Min        *float64  `db:"flow_sm3_min"`
	CreatedAt         time.Time `db:"created_at"`
}

func newRecord(m measurement.Measurement) measurementRecord {
	rec := measurementRecord{
		ID:                uuid.New().String(),
		CustomerID:        m.CustomerID,
		StackID:           m.StackID,
		ItemKey:           m.ItemKey,
		Value:             m.Value,
		MeasuredAt:        m.MeasuredAt.UTC(),
		Weather:           m.Weather,
		TemperatureC:      m.TemperatureC,
		HumidityPct:       m.HumidityPct,
		PressureMmHg:      m.PressureMmHg,
		WindDirection:     m.WindDirection,
		WindSpeedMs:       m.WindSpeedMs,
		GasVelocityMs:     m.GasVelocityMs,
		GasTempC:          m.GasTempC,
		MoisturePct:       m.MoisturePct,
		OxygenMeasuredPct: m.OxygenMeasuredPct,
		OxygenStdPct:      m.OxygenStdPct,
		FlowSm3Min:        m.FlowSm3Min,
		CreatedAt:         m.CreatedAt.UTC(),
	}
	if m.OrganizationID != "" {
		rec.OrganizationID = &m.OrganizationID
	}
	return rec
}

type measurementImporter struct {
	db *sqlx.DB
}

var _ measurement.Importer = (*measurementImporter)(nil)

func NewMeasurementImporter(db *sql.DB) *measurementImporter {
	return &measurementImporter{db: sqlx.NewDb(db, "postgres")}
}

// ImportMeasurements inserts ms in a single transaction; rows conflicting on (stack, item, time) are skipped.
func (imp measurementImporter) ImportMeasurements(ctx context.Context, ms []measurement.Measurement) (n int, err error) {
	if len(ms) == 0 {
		return 0, nil
	}
	tx, err := imp.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "starting import transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareNamedContext(ctx, insertMeasurement)
	if err != nil {
		return 0, errors.Wrap(err, "preparing measurement insert")
	}
	defer func() { _ = stmt.Close() }()

	for _, m := range ms {
		res, err := stmt.ExecContext(ctx, newRecord(m))
		if err != nil {
			return 0, errors.Wrapf(err, "inserting measurement of %s at %s", m.ItemKey, m.MeasuredAt)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, errors.Wrap(err, "counting inserted measurements")
		}
		n += int(affected)
	}

	if err = tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "committing import")
	}
	return n, nil
}
