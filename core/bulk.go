package core

import "fmt"

// BulkResult reports the outcome of a bulk creation or import.
type BulkResult struct {
	Count   int      `json:"count"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors"`
	Message string   `json:"message"`
}

// AddError records a row level error; rows are numbered from 1, header excluded.
func (r *BulkResult) AddError(row int, format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf("row %d: %s", row, fmt.Sprintf(format, args...)))
}

// Finish fills Message from the counters.
func (r *BulkResult) Finish(noun string) {
	if r.Errors == nil {
		r.Errors = []string{}
	}
	r.Message = fmt.Sprintf("%d %s created", r.Count, noun)
	if r.Skipped > 0 {
		r.Message += fmt.Sprintf(", %d skipped", r.Skipped)
	}
	if n := len(r.Errors); n > 0 {
		r.Message += fmt.Sprintf(", %d errors", n)
	}
}
