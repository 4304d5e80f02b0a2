package measurement

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core"
)

var exportHeader = []string{"measuredAt", "customer", "stack", "itemKey", "itemName", "value", "unit", "limit", "exceeded"}

func (svc *service) ExportCSV(ctx context.Context, actor core.Actor, filter *QueryFilter, w io.Writer) error {
	ms, err := svc.Query(ctx, actor, filter)
	if err != nil {
		return err
	}
	return WriteCSV(w, ms)
}

// WriteCSV writes ms with a UTF-8 BOM, timestamps in local time.
func WriteCSV(w io.Writer, ms []Measurement) error {
	if _, err := io.WriteString(w, core.UTF8BOM); err != nil {
		return errors.Wrap(err, "writing csv")
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return errors.Wrap(err, "writing csv")
	}
	for _, m := range ms {
		value := strconv.FormatFloat(m.Value, 'f', -1, 64)
		if m.TextValue != "" {
			value = m.TextValue
		}
		var lim string
		if m.Limit != nil {
			lim = strconv.FormatFloat(*m.Limit, 'f', -1, 64)
		}
		rec := []string{
			m.MeasuredAt.In(Location).Format("2006-01-02 15:04:05"),
			m.CustomerName,
			m.StackName,
			m.ItemKey,
			m.ItemName,
			value,
			m.Unit,
			lim,
			strconv.FormatBool(m.Exceeded),
		}
		if err := cw.Write(rec); err != nil {
			return errors.Wrap(err, "writing csv")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "writing csv")
}

// ExportFilename names the export of the given day.
func ExportFilename(now time.Time) string {
	return "measurements_" + now.In(Location).Format("20060102") + ".csv"
}
