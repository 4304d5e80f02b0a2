package echoapi

import (
	"io"
	"io/ioutil"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

// Bind reads `?ordering=name,-createdAt`; a leading "-" sorts descending.
// camelCase fields are converted to their snake_case column.
func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" {
			continue
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: snakeCase(field), Ascending: !descending})
	}
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// maxCSVBodySize bounds the CSV documents accepted by the bulk endpoints.
const maxCSVBodySize = 10 << 20

// CSVRequest carries a CSV document inside a JSON body.
// CustomerID scopes the documents whose rows belong to one customer.
type CSVRequest struct {
	CustomerID string `json:"customerId"`
	CSV        string `json:"csv"`
}

// bindCSV reads the CSV document of a bulk request.
// The body is either raw `text/csv`, with the customer in `?customerId=`, or a JSON CSVRequest.
func bindCSV(ctx echo.Context) (CSVRequest, error) {
	var data CSVRequest
	req := ctx.Request()
	if strings.HasPrefix(req.Header.Get(echo.HeaderContentType), "text/csv") {
		b, err := ioutil.ReadAll(io.LimitReader(req.Body, maxCSVBodySize))
		if err != nil {
			return data, errors.Wrap(err, "reading csv body")
		}
		data.CSV = string(b)
		data.CustomerID = ctx.QueryParam("customerId")
		return data, nil
	}

	if err := ctx.Bind(&data); err != nil {
		return data, errors.Wrap(err, "binding to CSVRequest")
	}
	return data, nil
}

type (
	SuccessResponse struct {
		Success string `json:"success"`
	}

	CountResponse struct {
		Count int `json:"count"`
	}

	DeletedResponse struct {
		Deleted int `json:"deleted"`
	}

	UpdatedResponse struct {
		Updated int `json:"updated"`
	}
)
