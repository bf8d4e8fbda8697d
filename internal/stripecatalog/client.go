// Package stripecatalog defines the interface for the Stripe product/price
// catalog, checkout sessions, and webhook verification, and provides helpers
// used by the reconcile and api packages.
package stripecatalog

import (
	"context"
	"encoding/json"
	"errors"
)

// ─── METADATA KEYS ───────────────────────────────────────────────────────────

// Metadata keys written onto every reconciled price. MetaLegacyVariantID is an
// older key name some early prices were created with; readers check it as a
// fallback, writers never use it.
const (
	MetaSyncVariantID   = "printful_sync_variant_id"
	MetaSyncProductID   = "printful_sync_product_id"
	MetaSKU             = "printful_sku"
	MetaColor           = "printful_color"
	MetaSize            = "printful_size"
	MetaLegacyVariantID = "sync_variant_id"
)

// ─── TYPES ───────────────────────────────────────────────────────────────────

// ProductRecord is the subset of a Stripe Product the sync pipeline needs.
type ProductRecord struct {
	ID       string
	Name     string
	Metadata map[string]string
}

// PriceRecord is the subset of a Stripe Price the sync pipeline needs.
type PriceRecord struct {
	ID         string
	ProductID  string
	LookupKey  string
	Nickname   string // "{color} / {size}" on reconciled prices
	UnitAmount int64
	Currency   string
	Metadata   map[string]string
	Active     bool
}

// VariantID returns the Printful sync variant id bound to this price,
// checking the current metadata key first and the legacy key second.
// The second return is false when neither key is present.
func (p PriceRecord) VariantID() (string, bool) {
	if v := p.Metadata[MetaSyncVariantID]; v != "" {
		return v, true
	}
	if v := p.Metadata[MetaLegacyVariantID]; v != "" {
		return v, true
	}
	return "", false
}

// CreatePriceParams holds the inputs for creating a price. IdempotencyKey is
// required: the reconciler derives it deterministically from the variant and
// amount so replayed runs never double-create.
type CreatePriceParams struct {
	ProductID      string
	UnitAmount     int64
	Currency       string
	LookupKey      string
	Nickname       string
	Metadata       map[string]string
	IdempotencyKey string
	// TransferLookupKey moves the lookup key off any price that currently
	// holds it. Set on the replace path so the new price inherits the SKU.
	TransferLookupKey bool
}

// UpdatePriceParams holds the mutable fields of a price. Nil/zero fields are
// left untouched.
type UpdatePriceParams struct {
	Metadata          map[string]string // merged into existing metadata
	LookupKey         string            // set when non-empty
	TransferLookupKey bool
	Active            *bool
}

// LineItem is one checkout line. Either PriceID or the ad-hoc amount fields
// are set, never both.
type LineItem struct {
	Name       string
	ImageURL   string
	UnitAmount int64
	Currency   string
	Quantity   int64
}

// CheckoutSessionParams holds everything needed to create a hosted checkout.
type CheckoutSessionParams struct {
	LineItems  []LineItem
	Metadata   map[string]string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is the subset of a created session callers need.
type CheckoutSession struct {
	ID  string
	URL string // hosted payment page; the browser is redirected here
}

// Event is a verified Stripe webhook event. DataRaw contains the raw JSON of
// the event's data.object so handlers can unmarshal only what they need.
type Event struct {
	ID      string
	Type    string
	DataRaw json.RawMessage
}

// ErrNotFound is returned by the find/search operations when no matching
// record exists. Callers branch on it with errors.Is.
var ErrNotFound = errors.New("stripecatalog: not found")

// ─── CLIENT INTERFACE ────────────────────────────────────────────────────────

// Client is the interface the reconcile and api packages use for all Stripe
// calls. The concrete implementation wraps the official stripe-go SDK.
// Tests inject a fake.
type Client interface {
	// SearchProductBySyncID finds the product whose metadata binds it to the
	// given Printful sync product id. Returns ErrNotFound when absent.
	SearchProductBySyncID(ctx context.Context, syncProductID string) (ProductRecord, error)

	// CreateProduct creates a product carrying the sync product id metadata.
	CreateProduct(ctx context.Context, name, syncProductID string) (ProductRecord, error)

	// FindPriceByLookupKey resolves the active price whose lookup_key equals
	// the SKU. Returns ErrNotFound when no such price exists.
	FindPriceByLookupKey(ctx context.Context, sku string) (PriceRecord, error)

	// SearchPriceBySKU is the metadata fallback for legacy prices created
	// before lookup keys were adopted. Returns ErrNotFound when absent.
	SearchPriceBySKU(ctx context.Context, sku string) (PriceRecord, error)

	// CreatePrice creates a new price. Repeated calls with the same
	// IdempotencyKey return the original price instead of creating another.
	CreatePrice(ctx context.Context, p CreatePriceParams) (PriceRecord, error)

	// UpdatePrice mutates metadata, lookup key, or the active flag. Stripe
	// cannot change a price's amount in place; that is the replace path.
	UpdatePrice(ctx context.Context, priceID string, p UpdatePriceParams) (PriceRecord, error)

	// ListPricesByProduct returns every price (active and inactive) bound to
	// a product.
	ListPricesByProduct(ctx context.Context, productID string) ([]PriceRecord, error)

	// ListAllPrices returns one page of the whole price catalog. cursor is
	// the id of the last price of the previous page ("" for the first page);
	// nextCursor is "" when the catalog is exhausted.
	ListAllPrices(ctx context.Context, cursor string, limit int) (page []PriceRecord, nextCursor string, err error)

	// CreateCheckoutSession creates a hosted checkout session.
	CreateCheckoutSession(ctx context.Context, p CheckoutSessionParams) (CheckoutSession, error)

	// VerifyWebhook validates the Stripe-Signature header against the raw
	// request body and returns the parsed event.
	VerifyWebhook(payload []byte, sigHeader string, secret string) (Event, error)
}
