package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nyashahama/pod-storefront-backend/internal/catalog"
	"github.com/nyashahama/pod-storefront-backend/internal/stripecatalog"
)

// BackfillTally summarises one lookup-key backfill pass.
type BackfillTally struct {
	Updated    int // lookup key set from the nickname match
	AlreadySet int // price already carried the right lookup key
	Unmatched  int // price nickname has no row in the CSV; left untouched
	Missing    int // sync product id in the CSV but not in Stripe
	Errors     int
}

func (t BackfillTally) String() string {
	return fmt.Sprintf("updated=%d already_set=%d unmatched=%d missing=%d errors=%d",
		t.Updated, t.AlreadySet, t.Unmatched, t.Missing, t.Errors)
}

// Backfill assigns the SKU as lookup key to existing prices that lack one,
// matching each price to its CSV row by product + variant nickname. It exists
// for catalogs built before lookup keys were adopted; once every price
// carries its SKU the pass becomes a no-op.
type Backfill struct {
	catalog  stripecatalog.Client
	throttle time.Duration
	logger   *slog.Logger
}

// NewBackfill constructs a Backfill. throttle behaves as in NewReconciler.
func NewBackfill(c stripecatalog.Client, throttle time.Duration, logger *slog.Logger) *Backfill {
	return &Backfill{catalog: c, throttle: throttle, logger: logger}
}

// Run walks every product referenced by the loaded catalog and repairs the
// lookup keys of its prices. Products absent from Stripe and prices whose
// nickname has no CSV match are reported, not fatal.
func (b *Backfill) Run(ctx context.Context, records []catalog.VariantRecord) (BackfillTally, error) {
	var tally BackfillTally

	// sync_product_id → ("{color} / {size}" → record)
	byProduct := make(map[string]map[string]catalog.VariantRecord)
	for _, rec := range records {
		m, ok := byProduct[rec.SyncProductID]
		if !ok {
			m = make(map[string]catalog.VariantRecord)
			byProduct[rec.SyncProductID] = m
		}
		m[rec.Nickname()] = rec
	}

	for syncProductID, nicknames := range byProduct {
		if err := ctx.Err(); err != nil {
			return tally, err
		}

		prod, err := b.catalog.SearchProductBySyncID(ctx, syncProductID)
		if errors.Is(err, stripecatalog.ErrNotFound) {
			tally.Missing++
			b.logger.Warn("backfill: product not in stripe", "sync_product_id", syncProductID)
			continue
		}
		if err != nil {
			tally.Errors++
			b.logger.Error("backfill: product search failed",
				"sync_product_id", syncProductID, "error", err)
			continue
		}

		if err := b.backfillProduct(ctx, prod, nicknames, &tally); err != nil {
			tally.Errors++
			b.logger.Error("backfill: product pass failed",
				"product_id", prod.ID, "error", err)
		}
	}

	b.logger.Info("backfill: pass complete", "tally", tally.String())
	return tally, nil
}

func (b *Backfill) backfillProduct(ctx context.Context, prod stripecatalog.ProductRecord, nicknames map[string]catalog.VariantRecord, tally *BackfillTally) error {
	prices, err := b.catalog.ListPricesByProduct(ctx, prod.ID)
	if err != nil {
		return fmt.Errorf("list prices: %w", err)
	}

	for _, price := range prices {
		rec, ok := nicknames[price.Nickname]
		if !ok {
			tally.Unmatched++
			b.logger.Warn("backfill: no csv row for price nickname",
				"price_id", price.ID, "nickname", price.Nickname)
			continue
		}

		if price.LookupKey == rec.SKU {
			tally.AlreadySet++
			continue
		}

		_, err := b.catalog.UpdatePrice(ctx, price.ID, stripecatalog.UpdatePriceParams{
			LookupKey:         rec.SKU,
			TransferLookupKey: true,
			Metadata: map[string]string{
				stripecatalog.MetaSKU:           rec.SKU,
				stripecatalog.MetaSyncProductID: rec.SyncProductID,
			},
		})
		if err != nil {
			tally.Errors++
			b.logger.Error("backfill: update failed", "price_id", price.ID, "error", err)
			continue
		}
		b.pause(ctx)

		tally.Updated++
		b.logger.Info("backfill: lookup key set",
			"price_id", price.ID, "sku", rec.SKU, "nickname", price.Nickname)
	}

	return nil
}

func (b *Backfill) pause(ctx context.Context) {
	if b.throttle <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(b.throttle):
	}
}
