// Package cart defines the cart snapshot the storefront submits at checkout
// and the compact metadata encoding that carries the fulfillment-relevant
// subset of it through Stripe and back. The encoding is the contract between
// session creation and the webhook handler: whatever is not in it does not
// exist at fulfillment time.
package cart

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Metadata keys stored on the checkout session.
const (
	// MetaSchemaKey names the version of the encoded cart. Bump SchemaV1 and
	// branch in DecodeItems when the shape changes; never mutate v1 in place.
	MetaSchemaKey = "cart_schema"
	SchemaV1      = "v1"

	// MetaItemsKeyPrefix prefixes the chunked, string-encoded JSON array of
	// encoded items: cart_items_0, cart_items_1, ...
	MetaItemsKeyPrefix = "cart_items_"
)

// Stripe caps metadata values at 500 characters, so the encoded array is
// split across indexed keys. maxChunks bounds the cart size overall; a
// 20-item cart fits comfortably in two chunks.
const (
	chunkSize = 500
	maxChunks = 8
)

var (
	// ErrEmptyCart rejects a checkout with no line items.
	ErrEmptyCart = errors.New("cart: no items")

	// ErrInvalidItem rejects an item that cannot be fulfilled: missing
	// variant id, non-positive quantity, or an unparseable price.
	ErrInvalidItem = errors.New("cart: invalid item")

	// ErrTooLarge rejects a cart whose encoding exceeds Stripe's metadata
	// value budget.
	ErrTooLarge = errors.New("cart: encoded cart exceeds metadata size budget")
)

// Item is one storefront cart line. Name and ImageURL are presentational and
// deliberately excluded from the session metadata; FileURL optionally points
// at a print file and travels only into the order payload.
type Item struct {
	SyncVariantID string `json:"sync_variant_id"`
	Quantity      int64  `json:"quantity"`
	RetailPrice   string `json:"retail_price"` // decimal string, e.g. "20.00"
	Name          string `json:"name,omitempty"`
	ImageURL      string `json:"image_url,omitempty"`
	FileURL       string `json:"file_url,omitempty"`
}

// encodedItem is the wire shape inside the metadata value. Short keys keep
// twenty-item carts under the 500-character budget.
type encodedItem struct {
	V string `json:"v"` // sync_variant_id
	Q int64  `json:"q"` // quantity
	P string `json:"p"` // retail_price
}

// Validate checks the fields the webhook handler will depend on. The sync
// variant id must parse as a positive integer: it is both the fulfillment
// variant and the design reference (a Printful sync variant permanently binds
// its print file), so a malformed id here means an unfulfillable order later.
func (it Item) Validate() error {
	n, err := strconv.ParseInt(it.SyncVariantID, 10, 64)
	if err != nil || n <= 0 {
		return fmt.Errorf("%w: sync_variant_id %q is not a positive integer", ErrInvalidItem, it.SyncVariantID)
	}
	if it.Quantity <= 0 {
		return fmt.Errorf("%w: quantity %d", ErrInvalidItem, it.Quantity)
	}
	if _, err := decimal.NewFromString(it.RetailPrice); err != nil {
		return fmt.Errorf("%w: retail_price %q is not numeric", ErrInvalidItem, it.RetailPrice)
	}
	return nil
}

// UnitAmount returns the item price in minor units, or an error when the
// price string does not parse or rounds to a non-positive amount.
func (it Item) UnitAmount() (int64, error) {
	d, err := decimal.NewFromString(it.RetailPrice)
	if err != nil {
		return 0, fmt.Errorf("%w: retail_price %q", ErrInvalidItem, it.RetailPrice)
	}
	cents := d.Shift(2).Round(0)
	if !cents.IsPositive() {
		return 0, fmt.Errorf("%w: retail_price %q is not positive", ErrInvalidItem, it.RetailPrice)
	}
	return cents.IntPart(), nil
}

// EncodeItems validates every item and returns the metadata map to store on
// the checkout session. Validation at the encode boundary means a decode
// failure later can only be a schema problem, never bad input that slipped
// through.
func EncodeItems(items []Item) (map[string]string, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	encoded := make([]encodedItem, 0, len(items))
	for i, it := range items {
		if err := it.Validate(); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		encoded = append(encoded, encodedItem{V: it.SyncVariantID, Q: it.Quantity, P: it.RetailPrice})
	}

	raw, err := json.Marshal(encoded)
	if err != nil {
		return nil, fmt.Errorf("cart: marshal items: %w", err)
	}
	if len(raw) > chunkSize*maxChunks {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(raw))
	}

	meta := map[string]string{MetaSchemaKey: SchemaV1}
	for i := 0; len(raw) > 0; i++ {
		n := min(len(raw), chunkSize)
		meta[fmt.Sprintf("%s%d", MetaItemsKeyPrefix, i)] = string(raw[:n])
		raw = raw[n:]
	}
	return meta, nil
}

// DecodeItems reconstructs the fulfillment tuples from session metadata, in
// the original order. It re-validates every invariant EncodeItems enforced:
// the two run in different processes, possibly at different deploy versions,
// so neither side trusts the other.
func DecodeItems(metadata map[string]string) ([]Item, error) {
	if v := metadata[MetaSchemaKey]; v != SchemaV1 {
		return nil, fmt.Errorf("cart: unsupported cart schema %q", v)
	}
	var raw string
	for i := 0; i < maxChunks; i++ {
		chunk, ok := metadata[fmt.Sprintf("%s%d", MetaItemsKeyPrefix, i)]
		if !ok {
			break
		}
		raw += chunk
	}
	if raw == "" {
		return nil, fmt.Errorf("cart: metadata key %s0 missing", MetaItemsKeyPrefix)
	}

	var encoded []encodedItem
	if err := json.Unmarshal([]byte(raw), &encoded); err != nil {
		return nil, fmt.Errorf("cart: unmarshal items: %w", err)
	}
	if len(encoded) == 0 {
		return nil, ErrEmptyCart
	}

	items := make([]Item, 0, len(encoded))
	for i, e := range encoded {
		it := Item{SyncVariantID: e.V, Quantity: e.Q, RetailPrice: e.P}
		if err := it.Validate(); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		items = append(items, it)
	}
	return items, nil
}
