package reconcile_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/nyashahama/pod-storefront-backend/internal/catalog"
	"github.com/nyashahama/pod-storefront-backend/internal/reconcile"
	"github.com/nyashahama/pod-storefront-backend/internal/stripecatalog"
)

// ─── FAKE CATALOG ─────────────────────────────────────────────────────────────

// fakeCatalog is an in-memory stripecatalog.Client. It honours idempotency
// keys and lookup-key transfer the way Stripe does, and counts every mutating
// call so tests can assert "zero additional mutations".
type fakeCatalog struct {
	products map[string]stripecatalog.ProductRecord // keyed by sync_product_id
	prices   []*stripecatalog.PriceRecord
	seenKeys map[string]string // idempotency key → price id

	productCreates int
	priceCreates   int
	priceUpdates   int

	nextID int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		products: make(map[string]stripecatalog.ProductRecord),
		seenKeys: make(map[string]string),
	}
}

func (f *fakeCatalog) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s_%03d", prefix, f.nextID)
}

func (f *fakeCatalog) mutations() int {
	return f.productCreates + f.priceCreates + f.priceUpdates
}

func (f *fakeCatalog) SearchProductBySyncID(_ context.Context, syncProductID string) (stripecatalog.ProductRecord, error) {
	if p, ok := f.products[syncProductID]; ok {
		return p, nil
	}
	return stripecatalog.ProductRecord{}, stripecatalog.ErrNotFound
}

func (f *fakeCatalog) CreateProduct(_ context.Context, name, syncProductID string) (stripecatalog.ProductRecord, error) {
	f.productCreates++
	p := stripecatalog.ProductRecord{
		ID:       f.id("prod"),
		Name:     name,
		Metadata: map[string]string{stripecatalog.MetaSyncProductID: syncProductID},
	}
	f.products[syncProductID] = p
	return p, nil
}

func (f *fakeCatalog) FindPriceByLookupKey(_ context.Context, sku string) (stripecatalog.PriceRecord, error) {
	for _, p := range f.prices {
		if p.Active && p.LookupKey == sku {
			return *p, nil
		}
	}
	return stripecatalog.PriceRecord{}, stripecatalog.ErrNotFound
}

func (f *fakeCatalog) SearchPriceBySKU(_ context.Context, sku string) (stripecatalog.PriceRecord, error) {
	for _, p := range f.prices {
		if p.Active && p.Metadata[stripecatalog.MetaSKU] == sku {
			return *p, nil
		}
	}
	return stripecatalog.PriceRecord{}, stripecatalog.ErrNotFound
}

func (f *fakeCatalog) CreatePrice(_ context.Context, params stripecatalog.CreatePriceParams) (stripecatalog.PriceRecord, error) {
	if existingID, ok := f.seenKeys[params.IdempotencyKey]; ok {
		for _, p := range f.prices {
			if p.ID == existingID {
				return *p, nil
			}
		}
	}

	f.priceCreates++
	if params.TransferLookupKey {
		for _, p := range f.prices {
			if p.LookupKey == params.LookupKey {
				p.LookupKey = ""
			}
		}
	}

	meta := make(map[string]string, len(params.Metadata))
	for k, v := range params.Metadata {
		meta[k] = v
	}
	rec := &stripecatalog.PriceRecord{
		ID:         f.id("price"),
		ProductID:  params.ProductID,
		LookupKey:  params.LookupKey,
		Nickname:   params.Nickname,
		UnitAmount: params.UnitAmount,
		Currency:   params.Currency,
		Metadata:   meta,
		Active:     true,
	}
	f.prices = append(f.prices, rec)
	f.seenKeys[params.IdempotencyKey] = rec.ID
	return *rec, nil
}

func (f *fakeCatalog) UpdatePrice(_ context.Context, priceID string, params stripecatalog.UpdatePriceParams) (stripecatalog.PriceRecord, error) {
	for _, p := range f.prices {
		if p.ID != priceID {
			continue
		}
		f.priceUpdates++
		if p.Metadata == nil {
			p.Metadata = make(map[string]string)
		}
		for k, v := range params.Metadata {
			p.Metadata[k] = v
		}
		if params.LookupKey != "" {
			if params.TransferLookupKey {
				for _, other := range f.prices {
					if other.ID != priceID && other.LookupKey == params.LookupKey {
						other.LookupKey = ""
					}
				}
			}
			p.LookupKey = params.LookupKey
		}
		if params.Active != nil {
			p.Active = *params.Active
		}
		return *p, nil
	}
	return stripecatalog.PriceRecord{}, stripecatalog.ErrNotFound
}

func (f *fakeCatalog) ListPricesByProduct(_ context.Context, productID string) ([]stripecatalog.PriceRecord, error) {
	var out []stripecatalog.PriceRecord
	for _, p := range f.prices {
		if p.ProductID == productID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeCatalog) ListAllPrices(_ context.Context, cursor string, limit int) ([]stripecatalog.PriceRecord, string, error) {
	start := 0
	if cursor != "" {
		for i, p := range f.prices {
			if p.ID == cursor {
				start = i + 1
				break
			}
		}
	}

	var page []stripecatalog.PriceRecord
	for i := start; i < len(f.prices) && len(page) < limit; i++ {
		page = append(page, *f.prices[i])
	}

	next := ""
	if len(page) == limit && start+limit < len(f.prices) {
		next = page[len(page)-1].ID
	}
	return page, next, nil
}

func (f *fakeCatalog) CreateCheckoutSession(_ context.Context, _ stripecatalog.CheckoutSessionParams) (stripecatalog.CheckoutSession, error) {
	return stripecatalog.CheckoutSession{}, nil
}

func (f *fakeCatalog) VerifyWebhook(_ []byte, _ string, _ string) (stripecatalog.Event, error) {
	return stripecatalog.Event{}, nil
}

// ─── HELPERS ─────────────────────────────────────────────────────────────────

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func variant(syncProductID, syncVariantID, sku, price string) catalog.VariantRecord {
	return catalog.VariantRecord{
		SyncProductID: syncProductID,
		ProductName:   "Classic Tee",
		SyncVariantID: syncVariantID,
		Color:         "Black",
		Size:          "M",
		SKU:           sku,
		RetailPrice:   decimal.RequireFromString(price),
		Currency:      "usd",
	}
}

func activePricesWithLookupKey(f *fakeCatalog, sku string) []stripecatalog.PriceRecord {
	var out []stripecatalog.PriceRecord
	for _, p := range f.prices {
		if p.Active && p.LookupKey == sku {
			out = append(out, *p)
		}
	}
	return out
}

// ─── RECONCILER ───────────────────────────────────────────────────────────────

func TestReconciler_CreatesPricesForNewCatalog(t *testing.T) {
	f := newFakeCatalog()
	r := reconcile.NewReconciler(f, 0, testLogger())

	records := []catalog.VariantRecord{
		variant("101", "1001", "TEE-BLK-M", "20.00"),
		variant("101", "1002", "TEE-BLK-L", "21.50"),
	}

	tally, err := r.Run(context.Background(), records)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if tally.Created != 2 {
		t.Errorf("created: got %d, want 2", tally.Created)
	}
	if f.productCreates != 1 {
		t.Errorf("product creates: got %d, want 1 (cache should dedupe)", f.productCreates)
	}

	p, err := f.FindPriceByLookupKey(context.Background(), "TEE-BLK-L")
	if err != nil {
		t.Fatalf("find TEE-BLK-L: %v", err)
	}
	if p.UnitAmount != 2150 {
		t.Errorf("unit amount: got %d, want 2150", p.UnitAmount)
	}
	if p.Metadata[stripecatalog.MetaSyncVariantID] != "1002" {
		t.Errorf("variant metadata: got %q", p.Metadata[stripecatalog.MetaSyncVariantID])
	}
	if p.Metadata[stripecatalog.MetaColor] != "Black" || p.Metadata[stripecatalog.MetaSize] != "M" {
		t.Error("color/size metadata missing")
	}
}

func TestReconciler_SecondRunOverUnchangedCatalogIssuesZeroMutations(t *testing.T) {
	f := newFakeCatalog()
	records := []catalog.VariantRecord{
		variant("101", "1001", "TEE-BLK-M", "20.00"),
		variant("101", "1002", "TEE-BLK-L", "21.50"),
	}

	if _, err := reconcile.NewReconciler(f, 0, testLogger()).Run(context.Background(), records); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before := f.mutations()

	tally, err := reconcile.NewReconciler(f, 0, testLogger()).Run(context.Background(), records)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if got := f.mutations() - before; got != 0 {
		t.Errorf("second run issued %d mutations, want 0", got)
	}
	if tally.Created != 0 || tally.Replaced != 0 {
		t.Errorf("second run tally: %s", tally)
	}
	if tally.Unchanged != 2 {
		t.Errorf("unchanged: got %d, want 2", tally.Unchanged)
	}
}

func TestReconciler_ReplaceOnPriceChange(t *testing.T) {
	f := newFakeCatalog()
	if _, err := reconcile.NewReconciler(f, 0, testLogger()).Run(context.Background(),
		[]catalog.VariantRecord{variant("101", "1001", "TEE-BLK-M", "20.00")}); err != nil {
		t.Fatalf("seed run: %v", err)
	}
	oldID := f.prices[0].ID

	tally, err := reconcile.NewReconciler(f, 0, testLogger()).Run(context.Background(),
		[]catalog.VariantRecord{variant("101", "1001", "TEE-BLK-M", "22.00")})
	if err != nil {
		t.Fatalf("replace run: %v", err)
	}

	if tally.Replaced != 1 {
		t.Fatalf("replaced: got %d, want 1 (tally %s)", tally.Replaced, tally)
	}

	active := activePricesWithLookupKey(f, "TEE-BLK-M")
	if len(active) != 1 {
		t.Fatalf("active prices with lookup key: got %d, want exactly 1", len(active))
	}
	if active[0].UnitAmount != 2200 {
		t.Errorf("new amount: got %d, want 2200", active[0].UnitAmount)
	}
	if active[0].ID == oldID {
		t.Error("expected a new price id, got the old one")
	}

	for _, p := range f.prices {
		if p.ID == oldID {
			if p.Active {
				t.Error("superseded price should be inactive")
			}
			if p.Metadata[stripecatalog.MetaSKU] != "TEE-BLK-M" {
				t.Error("superseded price should retain its metadata")
			}
		}
	}
}

func TestReconciler_LegacyPriceFoundViaMetadataGetsLookupKey(t *testing.T) {
	f := newFakeCatalog()
	prod, _ := f.CreateProduct(context.Background(), "Classic Tee", "101")
	// A price from before lookup keys: findable only by metadata.
	f.prices = append(f.prices, &stripecatalog.PriceRecord{
		ID:         "price_legacy",
		ProductID:  prod.ID,
		UnitAmount: 2000,
		Currency:   "usd",
		Metadata:   map[string]string{stripecatalog.MetaSKU: "TEE-BLK-M"},
		Active:     true,
	})

	tally, err := reconcile.NewReconciler(f, 0, testLogger()).Run(context.Background(),
		[]catalog.VariantRecord{variant("101", "1001", "TEE-BLK-M", "20.00")})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if tally.Refreshed != 1 {
		t.Fatalf("refreshed: got %d, want 1 (tally %s)", tally.Refreshed, tally)
	}
	if f.priceCreates != 0 {
		t.Errorf("price creates: got %d, want 0", f.priceCreates)
	}
	if f.prices[0].LookupKey != "TEE-BLK-M" {
		t.Errorf("lookup key: got %q", f.prices[0].LookupKey)
	}
	if f.prices[0].Metadata[stripecatalog.MetaSyncVariantID] != "1001" {
		t.Error("refresh should complete the metadata")
	}
}

func TestReconciler_SkipsNonPositiveAmount(t *testing.T) {
	f := newFakeCatalog()
	tally, err := reconcile.NewReconciler(f, 0, testLogger()).Run(context.Background(),
		[]catalog.VariantRecord{variant("101", "1001", "TEE-FREE", "0.00")})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if tally.Skipped != 1 {
		t.Errorf("skipped: got %d, want 1", tally.Skipped)
	}
	if f.mutations() != 0 {
		t.Errorf("mutations: got %d, want 0", f.mutations())
	}
}

func TestReconciler_FlagsSKUBoundToDifferentVariant(t *testing.T) {
	f := newFakeCatalog()
	if _, err := reconcile.NewReconciler(f, 0, testLogger()).Run(context.Background(),
		[]catalog.VariantRecord{variant("101", "1001", "TEE-BLK-M", "20.00")}); err != nil {
		t.Fatalf("seed run: %v", err)
	}
	before := f.mutations()

	// Same SKU, different variant id: a data problem, not something to
	// silently rebind.
	tally, err := reconcile.NewReconciler(f, 0, testLogger()).Run(context.Background(),
		[]catalog.VariantRecord{variant("101", "9999", "TEE-BLK-M", "20.00")})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if tally.Skipped != 1 {
		t.Errorf("skipped: got %d, want 1 (tally %s)", tally.Skipped, tally)
	}
	if f.mutations() != before {
		t.Error("conflicting row must not mutate the catalog")
	}
}

func TestIdempotencyToken_Deterministic(t *testing.T) {
	a := reconcile.IdempotencyToken("1001", 2000, "usd")
	b := reconcile.IdempotencyToken("1001", 2000, "usd")
	if a != b {
		t.Errorf("same inputs should yield the same token: %q vs %q", a, b)
	}
	if c := reconcile.IdempotencyToken("1001", 2200, "usd"); c == a {
		t.Error("amount change should yield a different token")
	}
}

// ─── AUDITOR ──────────────────────────────────────────────────────────────────

func TestAuditor_ReportsVariantBoundToMultiplePrices(t *testing.T) {
	f := newFakeCatalog()
	add := func(id, variantID string) {
		f.prices = append(f.prices, &stripecatalog.PriceRecord{
			ID:       id,
			Metadata: map[string]string{stripecatalog.MetaSyncVariantID: variantID},
			Active:   true,
		})
	}
	add("price_a", "V1")
	add("price_b", "V1")
	add("price_c", "V1")
	add("price_d", "V2")
	add("price_e", "V3")

	// Page size 2 forces cursor-driven pagination across three pages.
	report, err := reconcile.NewAuditor(f, 2, testLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.Scanned != 5 {
		t.Errorf("scanned: got %d, want 5", report.Scanned)
	}
	if len(report.Duplicates) != 1 {
		t.Fatalf("duplicates: got %d, want 1: %+v", len(report.Duplicates), report.Duplicates)
	}
	dup := report.Duplicates[0]
	if dup.SyncVariantID != "V1" || dup.Count != 3 {
		t.Errorf("duplicate: got %s count %d, want V1 count 3", dup.SyncVariantID, dup.Count)
	}
}

func TestAuditor_ReadsLegacyMetadataKey(t *testing.T) {
	f := newFakeCatalog()
	f.prices = append(f.prices,
		&stripecatalog.PriceRecord{
			ID:       "price_new",
			Metadata: map[string]string{stripecatalog.MetaSyncVariantID: "V1"},
		},
		&stripecatalog.PriceRecord{
			ID:       "price_old",
			Metadata: map[string]string{stripecatalog.MetaLegacyVariantID: "V1"},
		},
	)

	report, err := reconcile.NewAuditor(f, 100, testLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(report.Duplicates) != 1 || report.Duplicates[0].Count != 2 {
		t.Fatalf("expected V1 counted under both key names: %+v", report.Duplicates)
	}
}

func TestAuditor_CountsUnboundPrices(t *testing.T) {
	f := newFakeCatalog()
	f.prices = append(f.prices, &stripecatalog.PriceRecord{ID: "price_misc"})

	report, err := reconcile.NewAuditor(f, 100, testLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Unbound != 1 || report.Scanned != 1 {
		t.Errorf("got scanned=%d unbound=%d", report.Scanned, report.Unbound)
	}
}

// ─── BACKFILL ─────────────────────────────────────────────────────────────────

func TestBackfill_SetsLookupKeyFromNicknameMatch(t *testing.T) {
	f := newFakeCatalog()
	prod, _ := f.CreateProduct(context.Background(), "Classic Tee", "101")
	f.prices = append(f.prices,
		&stripecatalog.PriceRecord{
			ID: "price_nolk", ProductID: prod.ID, Nickname: "Black / M",
			UnitAmount: 2000, Currency: "usd", Active: true,
		},
		&stripecatalog.PriceRecord{
			ID: "price_orphan", ProductID: prod.ID, Nickname: "Neon / XXXL",
			UnitAmount: 2000, Currency: "usd", Active: true,
		},
	)

	tally, err := reconcile.NewBackfill(f, 0, testLogger()).Run(context.Background(),
		[]catalog.VariantRecord{variant("101", "1001", "TEE-BLK-M", "20.00")})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if tally.Updated != 1 {
		t.Errorf("updated: got %d, want 1 (tally %s)", tally.Updated, tally)
	}
	if tally.Unmatched != 1 {
		t.Errorf("unmatched: got %d, want 1", tally.Unmatched)
	}

	var fixed *stripecatalog.PriceRecord
	for _, p := range f.prices {
		if p.ID == "price_nolk" {
			fixed = p
		}
	}
	if fixed.LookupKey != "TEE-BLK-M" {
		t.Errorf("lookup key: got %q", fixed.LookupKey)
	}
	if fixed.Metadata[stripecatalog.MetaSKU] != "TEE-BLK-M" {
		t.Error("backfill should merge sku metadata")
	}
}

func TestBackfill_SecondRunIsNoOp(t *testing.T) {
	f := newFakeCatalog()
	prod, _ := f.CreateProduct(context.Background(), "Classic Tee", "101")
	f.prices = append(f.prices, &stripecatalog.PriceRecord{
		ID: "price_nolk", ProductID: prod.ID, Nickname: "Black / M",
		UnitAmount: 2000, Currency: "usd", Active: true,
	})
	records := []catalog.VariantRecord{variant("101", "1001", "TEE-BLK-M", "20.00")}

	if _, err := reconcile.NewBackfill(f, 0, testLogger()).Run(context.Background(), records); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before := f.mutations()

	tally, err := reconcile.NewBackfill(f, 0, testLogger()).Run(context.Background(), records)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if f.mutations() != before {
		t.Error("second run should issue no mutations")
	}
	if tally.AlreadySet != 1 {
		t.Errorf("already_set: got %d, want 1", tally.AlreadySet)
	}
}

func TestBackfill_ProductMissingFromStripeIsReported(t *testing.T) {
	f := newFakeCatalog()
	tally, err := reconcile.NewBackfill(f, 0, testLogger()).Run(context.Background(),
		[]catalog.VariantRecord{variant("777", "1001", "TEE-BLK-M", "20.00")})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if tally.Missing != 1 {
		t.Errorf("missing: got %d, want 1", tally.Missing)
	}
}
