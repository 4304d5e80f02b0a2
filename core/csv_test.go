package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name string
		text string
		want [][]string
	}{
		{
			name: "plain",
			text: "stack,itemKey,value\nS-1,EA-I-0001,12.5\n",
			want: [][]string{{"stack", "itemKey", "value"}, {"S-1", "EA-I-0001", "12.5"}},
		},
		{
			name: "quoted fields & escaped quotes",
			text: "name,address\n\"Korea Zinc\",\"Ulsan, \"\"Onsan\"\" plant\"\n",
			want: [][]string{{"name", "address"}, {"Korea Zinc", "Ulsan, \"Onsan\" plant"}},
		},
		{
			name: "blank lines & whitespace are skipped",
			text: "a , b\n\n   \n , \n c,d \n",
			want: [][]string{{"a", "b"}, {"c", "d"}},
		},
		{
			name: "bom & ragged rows",
			text: UTF8BOM + "a,b,c\n1,2\n",
			want: [][]string{{"a", "b", "c"}, {"1", "2"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCSV(strings.NewReader(tt.text))
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCSVHeader(t *testing.T) {
	h := NewCSVHeader([]string{"Customer", "STACK", "itemKey"})
	row := []string{"Korea Zinc", "S-1"}

	assert.Equal(t, 1, h.Index("stack"))
	assert.Equal(t, 2, h.Index("item", "itemkey"))
	assert.Equal(t, -1, h.Index("value"))
	assert.Equal(t, "Korea Zinc", h.Get(row, "customer"))
	assert.Equal(t, "", h.Get(row, "itemKey")) // row too short
}
