// Package catalog parses the Printful variant export CSV into validated,
// normalized records. It is intentionally dependency-light: it imports nothing
// from internal/ and can be tested without Stripe or a database.
package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
)

// Column order of the export. The header row is validated against these names
// so a re-ordered or truncated export fails loudly instead of mis-mapping.
var expectedHeader = []string{
	"sync_product_id",
	"product_name",
	"sync_variant_id",
	"color",
	"size",
	"sku",
	"retail_price",
	"currency",
}

// VariantRecord is one normalized row of the variant export. Immutable within
// a reconciliation pass; SyncVariantID is the unique key and SKU is the join
// key to the Stripe price catalog.
type VariantRecord struct {
	SyncProductID string
	ProductName   string
	SyncVariantID string
	Color         string
	Size          string
	SKU           string
	RetailPrice   decimal.Decimal
	Currency      string
}

// Nickname returns the "{color} / {size}" variant nickname Printful assigns,
// used by the lookup-key backfill to match legacy Stripe prices.
func (v VariantRecord) Nickname() string {
	return v.Color + " / " + v.Size
}

// SkipReason records why a row was rejected. Line is 1-based and counts the
// header row, matching what an editor shows.
type SkipReason struct {
	Line   int
	SKU    string // may be empty when the sku itself is missing
	Reason string
}

// Result is the outcome of one Load call. Skipped rows are reported, never
// fatal — a single bad row must not block the rest of the catalog.
type Result struct {
	Records []VariantRecord
	Skipped []SkipReason
}

// Load reads the full export from r. It is a pure function of the reader:
// re-opening the file and calling Load again yields the same sequence, which
// is what lets the sync and backfill passes share one export file.
//
// Validation is per-row and fails closed: a row missing sku, sync_variant_id,
// or sync_product_id, or whose retail_price does not parse as a decimal
// number, is skipped and counted. A SKU seen on an earlier row causes the
// later row to be skipped and flagged as a duplicate rather than silently
// winning.
func Load(r io.Reader) (Result, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(expectedHeader)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return Result{}, fmt.Errorf("catalog: read header: %w", err)
	}
	if err := checkHeader(header); err != nil {
		return Result{}, err
	}

	var res Result
	seenSKU := make(map[string]int) // sku → line first seen

	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A structurally broken row (wrong field count, bare quote) is a
			// data problem, not a run-stopper.
			res.Skipped = append(res.Skipped, SkipReason{Line: line, Reason: err.Error()})
			continue
		}

		rec, skip := parseRow(row, line)
		if skip != nil {
			res.Skipped = append(res.Skipped, *skip)
			continue
		}

		if first, dup := seenSKU[rec.SKU]; dup {
			res.Skipped = append(res.Skipped, SkipReason{
				Line:   line,
				SKU:    rec.SKU,
				Reason: fmt.Sprintf("duplicate sku, first seen on line %d", first),
			})
			continue
		}
		seenSKU[rec.SKU] = line

		res.Records = append(res.Records, rec)
	}

	return res, nil
}

func checkHeader(header []string) error {
	for i, want := range expectedHeader {
		if i >= len(header) || strings.TrimSpace(header[i]) != want {
			return fmt.Errorf("catalog: unexpected header: want %v, got %v", expectedHeader, header)
		}
	}
	return nil
}

func parseRow(row []string, line int) (VariantRecord, *SkipReason) {
	rec := VariantRecord{
		SyncProductID: strings.TrimSpace(row[0]),
		ProductName:   strings.TrimSpace(row[1]),
		SyncVariantID: strings.TrimSpace(row[2]),
		Color:         strings.TrimSpace(row[3]),
		Size:          strings.TrimSpace(row[4]),
		SKU:           strings.TrimSpace(row[5]),
		Currency:      strings.ToLower(strings.TrimSpace(row[7])),
	}

	switch {
	case rec.SKU == "":
		return rec, &SkipReason{Line: line, Reason: "missing sku"}
	case rec.SyncVariantID == "":
		return rec, &SkipReason{Line: line, SKU: rec.SKU, Reason: "missing sync_variant_id"}
	case rec.SyncProductID == "":
		return rec, &SkipReason{Line: line, SKU: rec.SKU, Reason: "missing sync_product_id"}
	}

	price, err := decimal.NewFromString(strings.TrimSpace(row[6]))
	if err != nil {
		return rec, &SkipReason{
			Line:   line,
			SKU:    rec.SKU,
			Reason: fmt.Sprintf("retail_price %q is not numeric", row[6]),
		}
	}
	rec.RetailPrice = price

	if rec.Currency == "" {
		rec.Currency = "usd"
	}

	return rec, nil
}
