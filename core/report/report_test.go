package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tigrofin/pmms/core/item"
	"github.com/tigrofin/pmms/core/measurement"
)

func kst(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, measurement.Location)
}

func fptr(f float64) *float64 { return &f }

func TestSummarize(t *testing.T) {
	now := kst(2024, 3, 20, 12)
	ms := []measurement.Measurement{
		{ID: "1", Value: 10, MeasuredAt: kst(2024, 3, 1, 0), Exceeded: true},
		{ID: "2", Value: 20, MeasuredAt: kst(2024, 2, 29, 23)},
		{ID: "3", Value: 12.25, MeasuredAt: kst(2023, 3, 5, 10)},
	}
	assert.Equal(t, Summary{TotalCount: 3, MonthCount: 1, Exceed: 1, Avg: 14.1}, Summarize(ms, now))
	assert.Equal(t, Summary{}, Summarize(nil, now))
}

func TestMonthlyTrend(t *testing.T) {
	ms := []measurement.Measurement{
		{Value: 30, MeasuredAt: kst(2024, 3, 2, 0)},
		{Value: 10, MeasuredAt: kst(2023, 12, 31, 23)},
		{Value: 15, MeasuredAt: kst(2023, 12, 1, 0)},
	}
	now := kst(2024, 6, 1, 0)

	tr := MonthlyTrend(ms, time.Time{}, time.Time{}, now)
	assert.Equal(t, []string{"12월", "1월", "2월", "3월"}, tr.Labels)
	assert.Equal(t, []float64{12.5, 0, 0, 30}, tr.Data)

	tr = MonthlyTrend(ms, kst(2024, 2, 15, 0), kst(2024, 4, 1, 0), now)
	assert.Equal(t, []string{"2월", "3월", "4월"}, tr.Labels)
	assert.Equal(t, []float64{0, 30, 0}, tr.Data)

	tr = MonthlyTrend(nil, time.Time{}, time.Time{}, now)
	assert.Equal(t, []string{"6월"}, tr.Labels)
	assert.Equal(t, []float64{0}, tr.Data)

	tr = MonthlyTrend(ms, kst(2024, 5, 1, 0), kst(2024, 1, 1, 0), now)
	assert.Empty(t, tr.Labels)
}

func TestSummarizeStacks(t *testing.T) {
	at := kst(2024, 3, 1, 9)
	ms := []measurement.Measurement{
		{ID: "1", StackID: "s1", StackName: "#1", Value: 10, MeasuredAt: at, Limit: fptr(20)},
		{ID: "2", StackID: "s1", StackName: "#1", Value: 25, MeasuredAt: at.Add(time.Hour), Limit: fptr(20), Exceeded: true},
		{ID: "2", StackID: "s1", StackName: "#1", Value: 25, MeasuredAt: at.Add(time.Hour), Limit: fptr(20), Exceeded: true},
		{ID: "3", StackID: "s2", StackName: "#2", Value: 40.125, MeasuredAt: at},
	}
	got := SummarizeStacks(ms)
	assert.Len(t, got, 2)
	assert.Equal(t, "s2", got[0].StackID)
	assert.Equal(t, 40.13, got[0].Avg)
	assert.Nil(t, got[0].Limit)

	assert.Equal(t, "s1", got[1].StackID)
	assert.Equal(t, 17.5, got[1].Avg)
	assert.Equal(t, 2, got[1].Count)
	assert.Equal(t, 1, got[1].ExceedCount)
	assert.True(t, at.Add(time.Hour).Equal(*got[1].LastMeasuredAt))
	assert.Equal(t, 20.0, *got[1].Limit)
}

func TestItemStatistics(t *testing.T) {
	catalogue := map[string]item.Item{
		"EA-I-0001": {Key: "EA-I-0001", Name: "먼지", Unit: "mg/Sm³", Order: 1},
		"EA-I-0008": {Key: "EA-I-0008", Name: "질소산화물", Unit: "ppm", Order: 7},
	}
	ms := []measurement.Measurement{
		{ItemKey: "EA-I-0008", Value: 50, Limit: fptr(100)},
		{ItemKey: "EA-I-0001", Value: 12, Limit: fptr(30)},
		{ItemKey: "EA-I-0001", Value: 40, Limit: fptr(30), Exceeded: true},
		{ItemKey: "EA-I-0001", Value: 5, Limit: fptr(30)},
	}
	got := ItemStatistics(ms, catalogue)
	assert.Len(t, got, 2)
	assert.Equal(t, ItemStats{
		ItemKey: "EA-I-0001", ItemName: "먼지", Unit: "mg/Sm³",
		Count: 3, Avg: 19, Max: 40, Min: 5, Exceed: 1, Limit: fptr(30),
	}, got[0])
	assert.Equal(t, "EA-I-0008", got[1].ItemKey)
	assert.Equal(t, 50.0, got[1].Avg)
}
