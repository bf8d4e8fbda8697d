// Package reconcile contains the batch passes that keep the Stripe price
// catalog consistent with the Printful variant export: the price reconciler,
// the lookup-key backfill, and the duplicate auditor. All three run as a
// single sequential pass per invocation — correctness does not depend on
// in-process state surviving between runs.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nyashahama/pod-storefront-backend/internal/catalog"
	"github.com/nyashahama/pod-storefront-backend/internal/stripecatalog"
)

// idempotencyNamespace seeds the deterministic UUIDv5 tokens sent as Stripe
// idempotency keys. Changing it would break replay-collapsing for in-flight
// runs, so it is fixed forever.
var idempotencyNamespace = uuid.MustParse("9a1c8e2f-4b6d-4e1a-9f3c-2d7b5a0c8e41")

// IdempotencyToken derives the Stripe idempotency key for creating a price.
// It is a pure function of the mutation inputs: two runs over the same CSV row
// produce the same token, so Stripe collapses them into one price.
func IdempotencyToken(syncVariantID string, unitAmount int64, currency string) string {
	seed := fmt.Sprintf("price|%s|%d|%s", syncVariantID, unitAmount, currency)
	return uuid.NewSHA1(idempotencyNamespace, []byte(seed)).String()
}

// Tally summarises one reconciliation pass. Batch passes never abort on a bad
// row or a failed Stripe call; they count and continue.
type Tally struct {
	Created   int // new prices for SKUs with no existing price
	Refreshed int // metadata refreshed, amount unchanged
	Unchanged int // already fully reconciled, no call issued
	Replaced  int // amount changed: new price created, old deactivated
	Skipped   int // invalid computed amount or flagged duplicate binding
	Errors    int // Stripe call failed; row skipped
}

func (t Tally) String() string {
	return fmt.Sprintf("created=%d refreshed=%d unchanged=%d replaced=%d skipped=%d errors=%d",
		t.Created, t.Refreshed, t.Unchanged, t.Replaced, t.Skipped, t.Errors)
}

// Reconciler drives the create/refresh/replace decision for every variant
// record. It owns a per-run product cache; construct a fresh Reconciler for
// each pass.
type Reconciler struct {
	catalog  stripecatalog.Client
	throttle time.Duration
	logger   *slog.Logger

	// products caches sync_product_id → resolved Stripe product for the
	// duration of one run, so a 40-variant product costs one search.
	products map[string]stripecatalog.ProductRecord
}

// NewReconciler constructs a Reconciler. throttle is the pause inserted after
// every mutating Stripe call; pass 0 in tests.
func NewReconciler(c stripecatalog.Client, throttle time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		catalog:  c,
		throttle: throttle,
		logger:   logger,
		products: make(map[string]stripecatalog.ProductRecord),
	}
}

// Run reconciles every record against the Stripe catalog. Row-level failures
// are logged and counted; only context cancellation aborts the pass.
func (r *Reconciler) Run(ctx context.Context, records []catalog.VariantRecord) (Tally, error) {
	var tally Tally

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return tally, err
		}

		if err := r.reconcileOne(ctx, rec, &tally); err != nil {
			tally.Errors++
			r.logger.Error("reconcile: row failed",
				"sku", rec.SKU,
				"sync_variant_id", rec.SyncVariantID,
				"error", err,
			)
		}
	}

	r.logger.Info("reconcile: pass complete", "tally", tally.String())
	return tally, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, rec catalog.VariantRecord, tally *Tally) error {
	// ── 1. Compute the amount in minor units ──────────────────────────────────
	amount := rec.RetailPrice.Shift(2).Round(0)
	if !amount.IsPositive() {
		tally.Skipped++
		r.logger.Warn("reconcile: non-positive amount, skipping",
			"sku", rec.SKU, "retail_price", rec.RetailPrice.String())
		return nil
	}
	unitAmount := amount.IntPart()

	// ── 2. Resolve or create the product ──────────────────────────────────────
	prod, err := r.resolveProduct(ctx, rec)
	if err != nil {
		return fmt.Errorf("resolve product %s: %w", rec.SyncProductID, err)
	}

	// ── 3. Resolve the existing price: lookup key first, metadata fallback ────
	existing, err := r.catalog.FindPriceByLookupKey(ctx, rec.SKU)
	if errors.Is(err, stripecatalog.ErrNotFound) {
		// Legacy prices predate lookup keys; they are only findable by the
		// sku stashed in metadata.
		existing, err = r.catalog.SearchPriceBySKU(ctx, rec.SKU)
	}

	switch {
	case errors.Is(err, stripecatalog.ErrNotFound):
		return r.createPrice(ctx, rec, prod, unitAmount, tally)

	case err != nil:
		return fmt.Errorf("find price for %s: %w", rec.SKU, err)
	}

	// A price bound to a different variant means two catalog rows claim the
	// same SKU across runs. Resolving that automatically would hide a data
	// problem; flag it and move on.
	if bound, ok := existing.VariantID(); ok && bound != rec.SyncVariantID {
		tally.Skipped++
		r.logger.Warn("reconcile: sku bound to different variant, skipping",
			"sku", rec.SKU,
			"csv_variant", rec.SyncVariantID,
			"price_variant", bound,
			"price_id", existing.ID,
		)
		return nil
	}

	if existing.UnitAmount == unitAmount && existing.Currency == rec.Currency {
		return r.refreshPrice(ctx, rec, existing, tally)
	}

	return r.replacePrice(ctx, rec, prod, existing, unitAmount, tally)
}

// resolveProduct returns the Stripe product for the record's sync product id,
// consulting the per-run cache, then Stripe search, then creating it.
func (r *Reconciler) resolveProduct(ctx context.Context, rec catalog.VariantRecord) (stripecatalog.ProductRecord, error) {
	if prod, ok := r.products[rec.SyncProductID]; ok {
		return prod, nil
	}

	prod, err := r.catalog.SearchProductBySyncID(ctx, rec.SyncProductID)
	if errors.Is(err, stripecatalog.ErrNotFound) {
		prod, err = r.catalog.CreateProduct(ctx, rec.ProductName, rec.SyncProductID)
		if err == nil {
			r.logger.Info("reconcile: created product",
				"product_id", prod.ID, "sync_product_id", rec.SyncProductID)
			r.pause(ctx)
		}
	}
	if err != nil {
		return stripecatalog.ProductRecord{}, err
	}

	r.products[rec.SyncProductID] = prod
	return prod, nil
}

func (r *Reconciler) createPrice(ctx context.Context, rec catalog.VariantRecord, prod stripecatalog.ProductRecord, unitAmount int64, tally *Tally) error {
	created, err := r.catalog.CreatePrice(ctx, stripecatalog.CreatePriceParams{
		ProductID:      prod.ID,
		UnitAmount:     unitAmount,
		Currency:       rec.Currency,
		LookupKey:      rec.SKU,
		Nickname:       rec.Nickname(),
		Metadata:       variantMetadata(rec),
		IdempotencyKey: IdempotencyToken(rec.SyncVariantID, unitAmount, rec.Currency),
	})
	if err != nil {
		return fmt.Errorf("create price: %w", err)
	}
	r.pause(ctx)

	tally.Created++
	r.logger.Info("reconcile: created price",
		"sku", rec.SKU, "price_id", created.ID, "unit_amount", unitAmount)
	return nil
}

// refreshPrice brings metadata up to date when the numeric fields already
// match. When the metadata is already complete the row is a no-op, which is
// what makes a second run over an unchanged CSV issue zero mutations.
func (r *Reconciler) refreshPrice(ctx context.Context, rec catalog.VariantRecord, existing stripecatalog.PriceRecord, tally *Tally) error {
	want := variantMetadata(rec)
	if metadataCovers(existing.Metadata, want) && existing.LookupKey == rec.SKU {
		tally.Unchanged++
		return nil
	}

	params := stripecatalog.UpdatePriceParams{Metadata: want}
	if existing.LookupKey != rec.SKU {
		params.LookupKey = rec.SKU
		params.TransferLookupKey = true
	}

	if _, err := r.catalog.UpdatePrice(ctx, existing.ID, params); err != nil {
		return fmt.Errorf("refresh price %s: %w", existing.ID, err)
	}
	r.pause(ctx)

	tally.Refreshed++
	r.logger.Info("reconcile: refreshed price metadata", "sku", rec.SKU, "price_id", existing.ID)
	return nil
}

// replacePrice handles an amount or currency change. Stripe prices are
// immutable on their numeric fields, so the new amount means a new price that
// inherits the lookup key, followed by deactivating the old one. The old
// price keeps its metadata but is never reused.
func (r *Reconciler) replacePrice(ctx context.Context, rec catalog.VariantRecord, prod stripecatalog.ProductRecord, old stripecatalog.PriceRecord, unitAmount int64, tally *Tally) error {
	created, err := r.catalog.CreatePrice(ctx, stripecatalog.CreatePriceParams{
		ProductID:         prod.ID,
		UnitAmount:        unitAmount,
		Currency:          rec.Currency,
		LookupKey:         rec.SKU,
		Nickname:          rec.Nickname(),
		Metadata:          variantMetadata(rec),
		IdempotencyKey:    IdempotencyToken(rec.SyncVariantID, unitAmount, rec.Currency),
		TransferLookupKey: true,
	})
	if err != nil {
		return fmt.Errorf("create replacement price: %w", err)
	}
	r.pause(ctx)

	inactive := false
	if _, err := r.catalog.UpdatePrice(ctx, old.ID, stripecatalog.UpdatePriceParams{Active: &inactive}); err != nil {
		// The new price already holds the lookup key, so a failure here
		// leaves an extra active price without the SKU alias. Surface it —
		// the next run retries the deactivation.
		return fmt.Errorf("deactivate superseded price %s: %w", old.ID, err)
	}
	r.pause(ctx)

	tally.Replaced++
	r.logger.Info("reconcile: replaced price",
		"sku", rec.SKU,
		"old_price_id", old.ID,
		"new_price_id", created.ID,
		"old_amount", old.UnitAmount,
		"new_amount", unitAmount,
	)
	return nil
}

// pause sleeps for the configured throttle after a mutating call, respecting
// cancellation.
func (r *Reconciler) pause(ctx context.Context) {
	if r.throttle <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(r.throttle):
	}
}

// variantMetadata is the full metadata contract every reconciled price carries.
func variantMetadata(rec catalog.VariantRecord) map[string]string {
	return map[string]string{
		stripecatalog.MetaSyncVariantID: rec.SyncVariantID,
		stripecatalog.MetaSyncProductID: rec.SyncProductID,
		stripecatalog.MetaSKU:           rec.SKU,
		stripecatalog.MetaColor:         rec.Color,
		stripecatalog.MetaSize:          rec.Size,
	}
}

// metadataCovers reports whether every key/value in want is present in got.
func metadataCovers(got, want map[string]string) bool {
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}
