package measurement

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/item"
	"github.com/tigrofin/pmms/core/stack"
)

func fptr(f float64) *float64 { return &f }

func TestParseMeasuredAt(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "20240315093000", want: time.Date(2024, 3, 15, 0, 30, 0, 0, time.UTC)},
		{in: "2024-03-15T09:30:00+09:00", want: time.Date(2024, 3, 15, 0, 30, 0, 0, time.UTC)},
		{in: "2024-03-15T00:30:00Z", want: time.Date(2024, 3, 15, 0, 30, 0, 0, time.UTC)},
		{in: "2024-03-15 09:30:00", want: time.Date(2024, 3, 15, 0, 30, 0, 0, time.UTC)},
		{in: "15/03/2024", wantErr: true},
		{in: "2024031509300", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMeasuredAt(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestAuxiliary(t *testing.T) {
	var a Auxiliary
	assert.True(t, a.IsEmpty())
	assert.NoError(t, a.Set("temp", "21.5"))
	assert.NoError(t, a.Set("weather", " 맑음 "))
	assert.Error(t, a.Set("humidity", "wet"))
	assert.Error(t, a.Set("EA-I-0001", "1"))

	v, ok := a.Number(item.AuxTemperature)
	assert.True(t, ok)
	assert.Equal(t, 21.5, v)
	s, ok := a.Text(item.AuxWeather)
	assert.True(t, ok)
	assert.Equal(t, "맑음", s)
	_, ok = a.Number(item.AuxHumidity)
	assert.False(t, ok)

	var b Auxiliary
	assert.NoError(t, b.Set("o2_measured", "12"))
	assert.NoError(t, b.Set("temperature", "22"))
	a.Merge(b)
	v, _ = a.Number(item.AuxTemperature)
	assert.Equal(t, 22.0, v)
	v, _ = a.Number(item.AuxOxygenMeasured)
	assert.Equal(t, 12.0, v)
	assert.Equal(t, "맑음", *a.Weather)
}

func TestRawValue_UnmarshalJSON(t *testing.T) {
	var nm struct {
		A RawValue `json:"a"`
		B RawValue `json:"b"`
	}
	err := json.Unmarshal([]byte(`{"a": 12.50, "b": "흐림"}`), &nm)
	assert.NoError(t, err)
	assert.Equal(t, RawValue("12.50"), nm.A)
	assert.Equal(t, RawValue("흐림"), nm.B)
	f, err := nm.A.Float()
	assert.NoError(t, err)
	assert.Equal(t, 12.5, f)
}

func TestDedup(t *testing.T) {
	at := time.Date(2024, 3, 15, 0, 30, 10, 0, time.UTC)
	ms := []Measurement{
		{ID: "1", StackID: "s1", ItemKey: "EA-I-0001", Value: 1, MeasuredAt: at},
		{ID: "1", StackID: "s1", ItemKey: "EA-I-0001", Value: 1, MeasuredAt: at},
		{StackID: "s1", ItemKey: "EA-I-0001", Value: 1.0001, MeasuredAt: at},
		{StackID: "s1", ItemKey: "EA-I-0001", Value: 1.0002, MeasuredAt: at.Add(20 * time.Second)},
		{StackID: "s1", ItemKey: "EA-I-0001", Value: 1.0002, MeasuredAt: at.Add(time.Minute)},
		{StackID: "s2", ItemKey: "EA-I-0001", Value: 1.0002, MeasuredAt: at},
	}
	got := Dedup(ms)
	assert.Len(t, got, 4)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, 1.0001, got[1].Value)
	assert.Equal(t, "s2", got[3].StackID)
}

func TestCorrelate(t *testing.T) {
	at := time.Date(2024, 3, 15, 0, 30, 0, 0, time.UTC)
	sample := func(stackID string, at time.Time, key, raw string) Measurement {
		m := Measurement{StackID: stackID, ItemKey: item.AuxiliaryKey, MeasuredAt: at}
		_ = m.Set(key, raw)
		return m
	}
	base := []Measurement{
		{ID: "a", StackID: "s1", Value: 10, MeasuredAt: at.Add(15 * time.Second)},
		{ID: "b", StackID: "s1", Value: 50, MeasuredAt: at.Add(time.Hour)},
		{ID: "c", StackID: "s2", Value: 20, MeasuredAt: at},
		{ID: "d", StackID: "s3", Value: 30, MeasuredAt: at},
	}
	samples := []Measurement{
		sample("s1", at, "temperature", "20"),
		sample("s1", at, "weather", "맑음"),
		sample("s1", at.Add(time.Hour), "temperature", "35"),
		sample("s2", at, "temperature", "25"),
		sample("s2", at, "weather", "비"),
	}

	tests := []struct {
		name string
		req  CorrelationRequest
		want []string
	}{
		{name: "no condition", want: []string{"a", "b", "c", "d"}},
		{
			name: "incomplete conditions are ignored",
			req:  CorrelationRequest{Conditions: []Condition{{Key: "temperature", Min: fptr(0)}, {Key: "weather"}}},
			want: []string{"a", "b", "c", "d"},
		},
		{
			name: "numeric range",
			req:  CorrelationRequest{Conditions: []Condition{{Key: "temp", Min: fptr(15), Max: fptr(30)}}},
			want: []string{"a", "c"},
		},
		{
			name: "all conditions",
			req: CorrelationRequest{Conditions: []Condition{
				{Key: "temperature", Min: fptr(15), Max: fptr(30)},
				{Key: "weather", Values: []string{"맑음", "흐림"}},
			}},
			want: []string{"a"},
		},
		{
			name: "value range",
			req:  CorrelationRequest{ValueMin: fptr(15), ValueMax: fptr(40)},
			want: []string{"c", "d"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Correlate(base, samples, tt.req)
			ids := make([]string, 0, len(got))
			for _, m := range got {
				ids = append(ids, m.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestParseCondition(t *testing.T) {
	c, err := ParseCondition("temp:10:30")
	assert.NoError(t, err)
	assert.Equal(t, item.AuxTemperature, c.Key)
	assert.Equal(t, 10.0, *c.Min)
	assert.Equal(t, 30.0, *c.Max)
	assert.True(t, c.Complete())

	c, err = ParseCondition("humidity:40")
	assert.NoError(t, err)
	assert.Nil(t, c.Max)
	assert.False(t, c.Complete())

	c, err = ParseCondition("weather:맑음|흐림")
	assert.NoError(t, err)
	assert.Equal(t, []string{"맑음", "흐림"}, c.Values)

	_, err = ParseCondition("temperature:hot:30")
	assert.Error(t, err)
	_, err = ParseCondition("EA-I-0001:1:2")
	assert.Error(t, err)
}

func TestGroupRows(t *testing.T) {
	idx := stackIndex{
		byName: map[string][]stack.Stack{
			"#1": {{ID: "s1", CustomerID: "c1", Name: "#1", IsActive: true}},
			"#2": {
				{ID: "s2", CustomerID: "c1", Name: "#2", IsActive: true},
				{ID: "s3", CustomerID: "c2", Name: "#2", IsActive: true},
			},
			"old": {{ID: "s4", CustomerID: "c1", Name: "old"}},
		},
		customers: map[string]string{"c1": "c1", "acme": "c1", "c2": "c2"},
	}
	catalogue := map[string]item.Item{
		"EA-I-0001":       {Key: "EA-I-0001"},
		"EA-I-0008":       {Key: "EA-I-0008"},
		item.AuxiliaryKey: {Key: item.AuxiliaryKey},
	}

	t.Run("groups & merges sampling conditions", func(t *testing.T) {
		var res core.BulkResult
		rows := []BulkRow{
			{Stack: "#1", ItemKey: "EA-I-0001", Value: "12.5", MeasuredAt: "20240315093000"},
			{Stack: "#1", ItemKey: "temperature", Value: "21", MeasuredAt: "20240315093000"},
			{Stack: "#1", ItemKey: "EA-I-0008", Value: "40", MeasuredAt: "2024-03-15T09:30:00+09:00"},
			{Stack: "#1", ItemKey: "EA-I-0001", Value: "13", MeasuredAt: "20240315093000"},
			{Stack: "#1", ItemKey: "weather", Value: "맑음", MeasuredAt: "20240315100000"},
			{Stack: "#2", Customer: "ACME", ItemKey: "EA-I-0001", Value: "3", MeasuredAt: "20240315093000"},
			{Stack: "#2", ItemKey: "EA-I-0001", Value: "3", MeasuredAt: "20240315093000"},
			{Stack: "#9", ItemKey: "EA-I-0001", Value: "3", MeasuredAt: "20240315093000"},
			{Stack: "#1", ItemKey: "XX-0001", Value: "3", MeasuredAt: "20240315093000"},
			{Stack: "#1", ItemKey: "EA-I-0001", Value: "n/a", MeasuredAt: "20240315110000"},
			{Stack: "#1", ItemKey: "EA-I-0001", Value: "1", MeasuredAt: "yesterday"},
		}
		groups, err := groupRows(rows, idx, catalogue, &res)
		assert.NoError(t, err)
		assert.Len(t, groups, 3)
		assert.Len(t, res.Errors, 5)
		assert.Contains(t, res.Errors, "row 9: itemKey 'XX-0001' not found")
		assert.True(t, strings.HasPrefix(res.Errors[0], "row 7: "))

		ms := flatten(groups, "o1", time.Now(), &res)
		assert.Equal(t, 1, res.Skipped)
		assert.Len(t, ms, 4)
		for _, m := range ms[:2] {
			assert.Equal(t, "s1", m.StackID)
			assert.Equal(t, "o1", m.OrganizationID)
			assert.Equal(t, 21.0, *m.TemperatureC)
		}
		assert.Equal(t, item.AuxiliaryKey, ms[2].ItemKey)
		assert.Equal(t, "맑음", *ms[2].Weather)
		assert.Equal(t, "s2", ms[3].StackID)
	})

	t.Run("inactive stack rejects the batch", func(t *testing.T) {
		var res core.BulkResult
		rows := []BulkRow{
			{Stack: "#1", ItemKey: "EA-I-0001", Value: "1", MeasuredAt: "20240315093000"},
			{Stack: "old", ItemKey: "EA-I-0001", Value: "1", MeasuredAt: "20240315093000"},
		}
		_, err := groupRows(rows, idx, catalogue, &res)
		assert.Error(t, err)
	})
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCSV(&buf, []Measurement{{
		CustomerName: "Acme, Inc",
		StackName:    "#1",
		ItemKey:      "EA-I-0001",
		ItemName:     "먼지",
		Value:        12.5,
		Unit:         "mg/Sm³",
		Limit:        fptr(10),
		Exceeded:     true,
		MeasuredAt:   time.Date(2024, 3, 15, 0, 30, 0, 0, time.UTC),
	}})
	assert.NoError(t, err)
	want := core.UTF8BOM +
		"measuredAt,customer,stack,itemKey,itemName,value,unit,limit,exceeded\n" +
		"2024-03-15 09:30:00,\"Acme, Inc\",#1,EA-I-0001,먼지,12.5,mg/Sm³,10,true\n"
	assert.Equal(t, want, buf.String())
}
