// Package printful defines the interface for submitting fulfillment orders to
// Printful and provides an HTTP implementation. Printful has no official Go
// SDK; the surface this system needs is one endpoint, so the client speaks
// the JSON API directly.
package printful

import (
	"context"
	"errors"
)

// ErrDuplicateOrder is returned when Printful answers 409 Conflict: an order
// with the same external_id already exists. Callers treat it as success —
// it is the backstop that makes webhook redelivery safe.
var ErrDuplicateOrder = errors.New("printful: order with this external_id already exists")

// Recipient is the shipping destination, mapped from the checkout session's
// collected address.
type Recipient struct {
	Name        string `json:"name"`
	Address1    string `json:"address1"`
	City        string `json:"city"`
	StateCode   string `json:"state_code,omitempty"`
	CountryCode string `json:"country_code"`
	Zip         string `json:"zip"`
	Email       string `json:"email,omitempty"`
}

// File is a print file attached to an order item. Optional: sync variants
// already carry their design binding.
type File struct {
	URL string `json:"url"`
}

// OrderItem is one line of a fulfillment order, addressed by Printful sync
// variant id.
type OrderItem struct {
	SyncVariantID int64  `json:"sync_variant_id"`
	Quantity      int64  `json:"quantity"`
	RetailPrice   string `json:"retail_price"`
	Name          string `json:"name,omitempty"`
	Files         []File `json:"files,omitempty"`
}

// Order is a complete fulfillment request. ExternalID carries the Stripe
// event id; Printful enforces its uniqueness server-side, which is the sole
// idempotency mechanism for order creation.
type Order struct {
	ExternalID string      `json:"external_id"`
	Recipient  Recipient   `json:"recipient"`
	Items      []OrderItem `json:"items"`
}

// OrderConfirmation is the subset of Printful's response callers need.
type OrderConfirmation struct {
	ID         int64
	ExternalID string
	Status     string
}

// Client is the interface the webhook handler uses to submit orders.
// Tests inject a stub.
type Client interface {
	// SubmitOrder creates and confirms a fulfillment order. Returns
	// ErrDuplicateOrder when the external_id was already used.
	SubmitOrder(ctx context.Context, order Order) (OrderConfirmation, error)
}
