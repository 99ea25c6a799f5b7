// Package csvio reads and writes portfolio position snapshots as CSV.
package csvio

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Fields is the canonical column order of a positions snapshot.
var Fields = []string{"symbol", "coins", "avg_cost_ccy", "avg_cost_per_unit"}

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// Row is one position in a snapshot file.
type Row struct {
	Symbol         string
	Coins          decimal.Decimal
	AvgCostCcy     string
	AvgCostPerUnit decimal.Decimal
}

// ParseAmount converts a lenient human-entered amount ("£1,234.50", "-",
// "") to a decimal. Unparseable input yields zero rather than an error.
func ParseAmount(value string) decimal.Decimal {
	s := strings.TrimSpace(value)
	if s == "" || s == "-" {
		return decimal.Zero
	}
	s = strings.NewReplacer("£", "", "$", "", ",", "").Replace(s)
	if d, err := decimal.NewFromString(s); err == nil {
		return d
	}
	if m := numberPattern.FindString(s); m != "" {
		if d, err := decimal.NewFromString(m); err == nil {
			return d
		}
	}
	return decimal.Zero
}

// ReadPositions parses a positions snapshot. The header row is required;
// rows without a symbol are skipped.
func ReadPositions(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read positions csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	out := make([]Row, 0, len(records)-1)
	for i, record := range records {
		if i == 0 {
			continue // header
		}
		if len(record) < 4 {
			return nil, fmt.Errorf("positions csv row %d: expected %d columns, got %d", i+1, len(Fields), len(record))
		}
		symbol := strings.ToUpper(strings.TrimSpace(record[0]))
		if symbol == "" {
			continue
		}
		out = append(out, Row{
			Symbol:         symbol,
			Coins:          ParseAmount(record[1]),
			AvgCostCcy:     strings.ToUpper(strings.TrimSpace(record[2])),
			AvgCostPerUnit: ParseAmount(record[3]),
		})
	}
	return out, nil
}

// WritePositions writes a positions snapshot with a header row.
func WritePositions(w io.Writer, rows []Row) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(Fields); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{row.Symbol, row.Coins.String(), row.AvgCostCcy, row.AvgCostPerUnit.String()}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
