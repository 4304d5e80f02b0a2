package measurement

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/item"
)

// Condition restricts a sampling condition to a numeric range or to a set of values.
type Condition struct {
	Key    string   `json:"key"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
	Values []string `json:"values,omitempty"`
}

// Complete reports whether the condition can be applied: a range needs both bounds,
// a categorical condition at least one value.
func (c Condition) Complete() bool {
	if _, ok := item.CanonicalAuxKey(c.Key); !ok {
		return false
	}
	if item.IsTextAux(c.Key) {
		return len(c.Values) > 0
	}
	return c.Min != nil && c.Max != nil
}

func (c Condition) match(aux Auxiliary) bool {
	if item.IsTextAux(c.Key) {
		v, ok := aux.Text(c.Key)
		return ok && core.ContainsString(c.Values, strings.TrimSpace(v))
	}
	v, ok := aux.Number(c.Key)
	return ok && v >= *c.Min && v <= *c.Max
}

// ParseCondition reads `key:min:max` or `key:value1|value2`.
func ParseCondition(s string) (Condition, error) {
	parts := strings.Split(s, ":")
	key, ok := item.CanonicalAuxKey(parts[0])
	if !ok {
		return Condition{}, fmt.Errorf("%q is not a sampling condition", parts[0])
	}
	c := Condition{Key: key}
	if item.IsTextAux(key) {
		if len(parts) > 1 {
			for _, v := range strings.Split(strings.Join(parts[1:], ":"), "|") {
				c.Values = append(c.Values, strings.TrimSpace(v))
			}
			c.Values = core.UniqueStrings(c.Values)
		}
		return c, nil
	}
	bound := func(i int) (*float64, error) {
		if len(parts) <= i || strings.TrimSpace(parts[i]) == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid bound %q of %s", parts[i], key)
		}
		return &f, nil
	}
	var err error
	if c.Min, err = bound(1); err != nil {
		return Condition{}, err
	}
	if c.Max, err = bound(2); err != nil {
		return Condition{}, err
	}
	return c, nil
}

// CorrelationRequest holds the conditions of a correlation and an optional range of the measured value.
type CorrelationRequest struct {
	Conditions []Condition
	ValueMin   *float64
	ValueMax   *float64
}

type bucket struct {
	stackID string
	minute  int64
}

// Correlate keeps the rows of base whose stack recorded, in the same minute, sampling conditions
// satisfying every complete condition; samples are the rows those conditions are read from.
func Correlate(base, samples []Measurement, req CorrelationRequest) []Measurement {
	out := make([]Measurement, 0, len(base))
	for _, m := range base {
		if (req.ValueMin != nil && m.Value < *req.ValueMin) || (req.ValueMax != nil && m.Value > *req.ValueMax) {
			continue
		}
		out = append(out, m)
	}

	conds := make([]Condition, 0, len(req.Conditions))
	for _, c := range req.Conditions {
		if c.Complete() {
			c.Key, _ = item.CanonicalAuxKey(c.Key)
			conds = append(conds, c)
		}
	}
	if len(conds) == 0 {
		return out
	}

	buckets := make(map[bucket]Auxiliary, len(samples))
	for _, s := range samples {
		b := bucket{s.StackID, minute(s.MeasuredAt)}
		aux := buckets[b]
		aux.Merge(s.Auxiliary)
		buckets[b] = aux
	}

	kept := out[:0]
	for _, m := range out {
		aux, ok := buckets[bucket{m.StackID, minute(m.MeasuredAt)}]
		if !ok {
			continue
		}
		matches := true
		for _, c := range conds {
			if !c.match(aux) {
				matches = false
				break
			}
		}
		if matches {
			kept = append(kept, m)
		}
	}
	return kept
}

func (svc *service) Correlated(ctx context.Context, actor core.Actor, filter *QueryFilter, req CorrelationRequest) ([]Measurement, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	base, err := svc.Query(ctx, actor, filter)
	if err != nil {
		return nil, err
	}

	sf := &QueryFilter{
		CustomerID:     filter.CustomerID,
		CustomerName:   filter.CustomerName,
		Stacks:         filter.Stacks,
		Start:          filter.Start,
		End:            filter.End,
		OrganizationID: filter.OrganizationID,
	}
	sf.Clean()
	if !svc.scope(actor, sf) {
		return []Measurement{}, nil
	}
	if err = bounds(sf); err != nil {
		return nil, err
	}
	samples, err := svc.repo.QueryMeasurements(ctx, sf)
	if err != nil {
		return nil, errors.Wrap(err, "querying sampling conditions")
	}
	return Correlate(base, samples, req), nil
}
