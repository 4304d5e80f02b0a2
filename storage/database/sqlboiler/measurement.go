package boiledrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries/qm"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/item"
	"github.com/tigrofin/pmms/core/measurement"
)

// auxColumns maps the sampling condition keys to their column.
var auxColumns = map[string]string{
	item.AuxWeather:        "weather",
	item.AuxTemperature:    "temperature_c",
	item.AuxHumidity:       "humidity_pct",
	item.AuxPressure:       "pressure_mmhg",
	item.AuxWindDirection:  "wind_direction",
	item.AuxWindSpeed:      "wind_speed_ms",
	item.AuxGasVelocity:    "gas_velocity_ms",
	item.AuxGasTemp:        "gas_temp_c",
	item.AuxMoisture:       "moisture_pct",
	item.AuxOxygenMeasured: "oxygen_measured_pct",
	item.AuxOxygenStd:      "oxygen_std_pct",
	item.AuxFlow:           "flow_sm3_min",
}

type measurementRow struct {
	ID                string       `boil:"id"`
	CustomerID        string       `boil:"customer_id"`
	CustomerName      string       `boil:"customer_name"`
	StackID           string       `boil:"stack_id"`
	StackName         string       `boil:"stack_name"`
	OrganizationID    null.String  `boil:"organization_id"`
	ItemKey           string       `boil:"item_key"`
	ItemName          null.String  `boil:"item_name"`
	Unit              null.String  `boil:"unit"`
	Value             float64      `boil:"value"`
	MeasuredAt        time.Time    `boil:"measured_at"`
	Weather           null.String  `boil:"weather"`
	TemperatureC      null.Float64 `boil:"temperature_c"`
	HumidityPct       null.Float64 `boil:"humidity_pct"`
	PressureMmHg      null.Float64 `boil:"pressure_mmhg"`
	WindDirection     null.String  `boil:"wind_direction"`
	WindSpeedMs       null.Float64 `boil:"wind_speed_ms"`
	GasVelocityMs     null.Float64 `boil:"gas_velocity_ms"`
	GasTempC          null.Float64 `boil:"gas_temp_c"`
	MoisturePct       null.Float64 `boil:"moisture_pct"`
	OxygenMeasuredPct null.Float64 `boil:"oxygen_measured_pct"`
	OxygenStdPct      null.Float64 `boil:"oxygen_std_pct"`
	FlowSm3Min        null.Float64 `boil:"flow_sm3_min"`
	CreatedAt         time.Time    `boil:"created_at"`
}

var measurementColumns = []string{
	"id", "customer_id", "stack_id", "organization_id", "item_key", "value", "measured_at",
	"weather", "temperature_c", "humidity_pct", "pressure_mmhg", "wind_direction", "wind_speed_ms",
	"gas_velocity_ms", "gas_temp_c", "moisture_pct", "oxygen_measured_pct", "oxygen_std_pct", "flow_sm3_min",
	"created_at",
}

type measurementRepository struct {
	baseRepo
}

var _ measurement.Repository = (*measurementRepository)(nil)

func NewMeasurementRepository(exec core.DBExecutor) *measurementRepository {
	return &measurementRepository{baseRepo{exec: exec}}
}

func (repo measurementRepository) values(m measurement.Measurement) []interface{} {
	a := m.Auxiliary
	return []interface{}{
		m.ID, m.CustomerID, m.StackID, nullID(m.OrganizationID), m.ItemKey, m.Value, m.MeasuredAt.UTC(),
		null.StringFromPtr(a.Weather), null.Float64FromPtr(a.TemperatureC), null.Float64FromPtr(a.HumidityPct),
		null.Float64FromPtr(a.PressureMmHg), null.StringFromPtr(a.WindDirection), null.Float64FromPtr(a.WindSpeedMs),
		null.Float64FromPtr(a.GasVelocityMs), null.Float64FromPtr(a.GasTempC), null.Float64FromPtr(a.MoisturePct),
		null.Float64FromPtr(a.OxygenMeasuredPct), null.Float64FromPtr(a.OxygenStdPct), null.Float64FromPtr(a.FlowSm3Min),
		m.CreatedAt.UTC(),
	}
}

func (repo measurementRepository) unboil(row measurementRow) measurement.Measurement {
	return measurement.Measurement{
		ID:             row.ID,
		CustomerID:     row.CustomerID,
		CustomerName:   row.CustomerName,
		StackID:        row.StackID,
		StackName:      row.StackName,
		OrganizationID: row.OrganizationID.String,
		ItemKey:        row.ItemKey,
		ItemName:       row.ItemName.String,
		Unit:           row.Unit.String,
		Value:          row.Value,
		MeasuredAt:     row.MeasuredAt.In(measurement.Location),
		CreatedAt:      row.CreatedAt,
		Auxiliary: measurement.Auxiliary{
			Weather:           row.Weather.Ptr(),
			TemperatureC:      row.TemperatureC.Ptr(),
			HumidityPct:       row.HumidityPct.Ptr(),
			PressureMmHg:      row.PressureMmHg.Ptr(),
			WindDirection:     row.WindDirection.Ptr(),
			WindSpeedMs:       row.WindSpeedMs.Ptr(),
			GasVelocityMs:     row.GasVelocityMs.Ptr(),
			GasTempC:          row.GasTempC.Ptr(),
			MoisturePct:       row.MoisturePct.Ptr(),
			OxygenMeasuredPct: row.OxygenMeasuredPct.Ptr(),
			OxygenStdPct:      row.OxygenStdPct.Ptr(),
			FlowSm3Min:        row.FlowSm3Min.Ptr(),
		},
	}
}

// selectMods joins the customer, stack & item names onto measurement rows.
func (repo measurementRepository) selectMods(mods ...qm.QueryMod) []qm.QueryMod {
	return append([]qm.QueryMod{
		qm.Select("m.*", "cu.name AS customer_name", "st.name AS stack_name", "it.name AS item_name", "it.unit AS unit"),
		qm.InnerJoin(tableCustomers + " cu ON cu.id = m.customer_id"),
		qm.InnerJoin(tableStacks + " st ON st.id = m.stack_id"),
		qm.LeftOuterJoin(tableItems + " it ON it.key = m.item_key"),
	}, mods...)
}

func (repo measurementRepository) QueryMeasurements(ctx context.Context, filter *measurement.QueryFilter, exec ...core.DBExecutor) ([]measurement.Measurement, error) {
	var mods []qm.QueryMod
	if filter != nil {
		if filter.CustomerIDs != nil {
			mods = append(mods, whereIn("m.customer_id", validIDs(filter.CustomerIDs)))
		}
		if filter.CustomerName != "" {
			mods = append(mods, qm.Where("cu.name ILIKE ?", "%"+filter.CustomerName+"%"))
		}
		if len(filter.Stacks) > 0 {
			mods = append(mods, whereIn("st.name", filter.Stacks))
		}
		if filter.OrganizationID != "" {
			mods = append(mods, whereID("m.organization_id", filter.OrganizationID))
		}
		if len(filter.ItemKeys) > 0 {
			mods = append(mods, whereIn("m.item_key", filter.ItemKeys))
		}
		if len(filter.ExcludeItemKeys) > 0 {
			mods = append(mods, whereNotIn("m.item_key", filter.ExcludeItemKeys))
		}
		if filter.IDs != nil {
			mods = append(mods, whereIn("m.id", validIDs(filter.IDs)))
		}
		if !filter.From.IsZero() {
			mods = append(mods, qm.Where("m.measured_at >= ?", filter.From.UTC()))
		}
		if !filter.To.IsZero() {
			mods = append(mods, qm.Where("m.measured_at <= ?", filter.To.UTC()))
		}
		if col, ok := auxColumns[filter.AuxiliaryColumn]; ok {
			mods = append(mods, qm.Where("m."+col+" IS NOT NULL"))
		}
	}
	mods = append(mods, qm.OrderBy("m.measured_at DESC, m.created_at DESC"))

	var rows []measurementRow
	if err := newQuery(tableMeasurements+" m", repo.selectMods(mods...)...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying measurements")
	}
	ms := make([]measurement.Measurement, 0, len(rows))
	for _, row := range rows {
		ms = append(ms, repo.unboil(row))
	}
	return ms, nil
}

func (repo measurementRepository) GetMeasurement(ctx context.Context, id string, exec ...core.DBExecutor) (measurement.Measurement, error) {
	if _, err := uuid.Parse(id); err != nil {
		return measurement.Measurement{}, measurement.ErrNotFound
	}
	var row measurementRow
	q := newQuery(tableMeasurements+" m", repo.selectMods(qm.Where("m.id = ?", id))...)
	if err := q.Bind(ctx, repo.getExec(exec), &row); err != nil {
		return measurement.Measurement{}, trapNoRowsErr(err, measurement.ErrNotFound, "finding measurement")
	}
	return repo.unboil(row), nil
}

func (repo measurementRepository) CreateMeasurement(ctx context.Context, m measurement.Measurement, exec ...core.DBExecutor) (measurement.Measurement, error) {
	m.ID = uuid.New().String()
	if err := repo.insert(ctx, tableMeasurements, measurementColumns, repo.values(m), exec); err != nil {
		if isUniqueViolation(err) {
			return measurement.Measurement{}, measurement.ErrDuplicate
		}
		return measurement.Measurement{}, errors.Wrap(err, "inserting measurement")
	}
	return m, nil
}

func (repo measurementRepository) UpdateMeasurement(ctx context.Context, m measurement.Measurement, exec ...core.DBExecutor) (measurement.Measurement, error) {
	n, err := repo.update(ctx, tableMeasurements, measurementColumns[1:], repo.values(m)[1:], "id = ?", []interface{}{m.ID}, exec)
	if err != nil {
		if isUniqueViolation(err) {
			return measurement.Measurement{}, measurement.ErrDuplicate
		}
		return measurement.Measurement{}, errors.Wrap(err, "updating measurement")
	}
	if n == 0 {
		return measurement.Measurement{}, measurement.ErrNotFound
	}
	return m, nil
}

func (repo measurementRepository) DeleteMeasurements(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error) {
	n, err := repo.deleteAll(ctx, tableMeasurements, []qm.QueryMod{whereIn("id", validIDs(ids))}, exec)
	return n, errors.Wrap(err, "deleting measurements")
}
