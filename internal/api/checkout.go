package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/nyashahama/pod-storefront-backend/internal/cart"
	"github.com/nyashahama/pod-storefront-backend/internal/stripecatalog"
)

// ─── POST /api/checkout ───────────────────────────────────────────────────────

type createCheckoutRequest struct {
	Items []cart.Item `json:"items"`
}

type createCheckoutResponse struct {
	// URL is the Stripe-hosted payment page. The browser redirects here.
	URL string `json:"url"`
}

// handleCreateCheckout turns a cart snapshot into a hosted Stripe checkout
// session and returns its redirect URL.
//
// Prices are taken from the cart as submitted (ad-hoc price_data), not from
// the reconciled catalog: the sync pipeline keeps Stripe's catalog honest for
// reporting, but checkout must work even for variants synced minutes ago that
// a stale storefront build still carries. The fulfillment tuples ride along
// in the session metadata; nothing else survives to the webhook.
func (s *Server) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req createCheckoutRequest
	if !decode(w, r, &req) {
		return
	}

	// EncodeItems validates every item up front, so a bad cart never reaches
	// Stripe at all.
	metadata, err := cart.EncodeItems(req.Items)
	if err != nil {
		if errors.Is(err, cart.ErrEmptyCart) || errors.Is(err, cart.ErrInvalidItem) || errors.Is(err, cart.ErrTooLarge) {
			respondErr(w, http.StatusBadRequest, err.Error())
			return
		}
		s.respondInternalErr(w, r, fmt.Errorf("encode cart: %w", err))
		return
	}

	lineItems := make([]stripecatalog.LineItem, 0, len(req.Items)+1)
	for i, it := range req.Items {
		amount, err := it.UnitAmount()
		if err != nil {
			respondErr(w, http.StatusBadRequest, fmt.Sprintf("item %d: %s", i, err))
			return
		}
		lineItems = append(lineItems, stripecatalog.LineItem{
			Name:       it.Name,
			ImageURL:   it.ImageURL,
			UnitAmount: amount,
			Currency:   s.cfg.Currency,
			Quantity:   it.Quantity,
		})
	}

	// Flat-rate shipping rides as its own line item.
	if s.cfg.ShippingCents > 0 {
		lineItems = append(lineItems, stripecatalog.LineItem{
			Name:       "Shipping",
			UnitAmount: s.cfg.ShippingCents,
			Currency:   s.cfg.Currency,
			Quantity:   1,
		})
	}

	session, err := s.stripe.CreateCheckoutSession(r.Context(), stripecatalog.CheckoutSessionParams{
		LineItems:  lineItems,
		Metadata:   metadata,
		SuccessURL: s.cfg.BaseURL + "/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.cfg.BaseURL + "/cart",
	})
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("create checkout session: %w", err))
		return
	}

	s.logger.Info("checkout: session created",
		"session_id", session.ID,
		"items", len(req.Items),
		logField(r),
	)

	respond(w, http.StatusOK, createCheckoutResponse{URL: session.URL})
}
