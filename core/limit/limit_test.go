package limit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigrofin/pmms/core/item"
)

func TestResolver_Resolve(t *testing.T) {
	dflt := 30.0
	catalogue := map[string]item.Item{
		"EA-I-0001": {Key: "EA-I-0001", HasLimit: true, Limit: &dflt},
		"EA-I-0008": {Key: "EA-I-0008", HasLimit: true, Limit: &dflt},
		"EA-I-0007": {Key: "EA-I-0007", HasLimit: false, Limit: &dflt},
	}
	r := NewResolver([]EmissionLimit{
		{ItemKey: "EA-I-0001", Limit: 25},
		{ItemKey: "EA-I-0001", CustomerID: "c1", Limit: 20},
		{ItemKey: "EA-I-0001", CustomerID: "c1", StackID: "s1", Limit: 15},
	}, catalogue)

	tests := []struct {
		name               string
		itemKey, cust, stk string
		want               float64
		wantOK             bool
	}{
		{name: "stack specific", itemKey: "EA-I-0001", cust: "c1", stk: "s1", want: 15, wantOK: true},
		{name: "customer wide", itemKey: "EA-I-0001", cust: "c1", stk: "s2", want: 20, wantOK: true},
		{name: "global", itemKey: "EA-I-0001", cust: "c2", stk: "s3", want: 25, wantOK: true},
		{name: "item default", itemKey: "EA-I-0008", cust: "c1", stk: "s1", want: 30, wantOK: true},
		{name: "item without limit", itemKey: "EA-I-0007", cust: "c1"},
		{name: "unknown item", itemKey: "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.Resolve(tt.itemKey, tt.cust, tt.stk)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
