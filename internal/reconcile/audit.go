package reconcile

import (
	"context"
	"log/slog"
	"sort"

	"github.com/nyashahama/pod-storefront-backend/internal/stripecatalog"
)

// DuplicateVariant is one audit finding: a Printful variant id bound to more
// than one Stripe price.
type DuplicateVariant struct {
	SyncVariantID string
	Count         int
	PriceIDs      []string
}

// AuditReport is the outcome of a full catalog scan.
type AuditReport struct {
	Scanned    int // total prices examined
	Unbound    int // prices with no variant id in metadata (not ours)
	Duplicates []DuplicateVariant
}

// Auditor pages through the entire Stripe price catalog and reports variant
// ids bound to more than one price. It is read-only: detection here, the
// corrective decision stays with an operator.
type Auditor struct {
	catalog  stripecatalog.Client
	pageSize int
	logger   *slog.Logger
}

// NewAuditor constructs an Auditor. pageSize <= 0 defaults to 100, the Stripe
// list maximum.
func NewAuditor(c stripecatalog.Client, pageSize int, logger *slog.Logger) *Auditor {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Auditor{catalog: c, pageSize: pageSize, logger: logger}
}

// Run scans every price. The pagination cursor advances from the last item
// actually seen, so an early exit (cancellation, a failed page) resumes from
// the right place rather than re-scanning or skipping.
func (a *Auditor) Run(ctx context.Context) (AuditReport, error) {
	var report AuditReport
	bindings := make(map[string][]string) // sync_variant_id → price ids

	cursor := ""
	for {
		page, next, err := a.catalog.ListAllPrices(ctx, cursor, a.pageSize)
		if err != nil {
			return report, err
		}

		for _, price := range page {
			cursor = price.ID // advance per item, not per page
			report.Scanned++

			variantID, ok := price.VariantID()
			if !ok {
				report.Unbound++
				continue
			}
			bindings[variantID] = append(bindings[variantID], price.ID)

			if err := ctx.Err(); err != nil {
				return report, err
			}
		}

		if next == "" {
			break
		}
		cursor = next
	}

	for variantID, priceIDs := range bindings {
		if len(priceIDs) > 1 {
			report.Duplicates = append(report.Duplicates, DuplicateVariant{
				SyncVariantID: variantID,
				Count:         len(priceIDs),
				PriceIDs:      priceIDs,
			})
		}
	}
	sort.Slice(report.Duplicates, func(i, j int) bool {
		return report.Duplicates[i].SyncVariantID < report.Duplicates[j].SyncVariantID
	})

	a.logger.Info("audit: scan complete",
		"scanned", report.Scanned,
		"unbound", report.Unbound,
		"duplicates", len(report.Duplicates),
	)
	return report, nil
}
