package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/nyashahama/pod-storefront-backend/internal/cart"
	"github.com/nyashahama/pod-storefront-backend/internal/printful"
	"github.com/nyashahama/pod-storefront-backend/internal/stripecatalog"
)

// ─── POST /api/webhooks/stripe ────────────────────────────────────────────────

// checkoutSessionObject is the subset of Stripe's checkout.session payload the
// fulfillment handler reads.
type checkoutSessionObject struct {
	ID              string            `json:"id"`
	PaymentStatus   string            `json:"payment_status"`
	Metadata        map[string]string `json:"metadata"`
	CustomerDetails *partyDetails     `json:"customer_details"`
	ShippingDetails *partyDetails     `json:"shipping_details"`
}

type partyDetails struct {
	Name    string         `json:"name"`
	Email   string         `json:"email"`
	Address *stripeAddress `json:"address"`
}

type stripeAddress struct {
	Line1      string `json:"line1"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// handleStripeWebhook is the entry point for all Stripe webhook deliveries.
//
// Stripe delivers events at-least-once and retries on non-2xx responses. The
// handler leans on one idempotency mechanism only: the Printful order carries
// the Stripe event id as its external_id, and Printful rejects a second order
// with the same external_id with a 409. A redelivered event therefore ends in
// ErrDuplicateOrder, which is acked as success.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	// ── 1. Read and size-limit the body ───────────────────────────────────────
	// The signature check must run against the exact bytes Stripe signed, so
	// the raw body is read before anything else touches the request.
	r.Body = http.MaxBytesReader(w, r.Body, 65536) // 64 KB — generous for any Stripe event
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		respondErr(w, http.StatusBadRequest, "could not read request body")
		return
	}

	// ── 2. Verify the Stripe-Signature header ─────────────────────────────────
	sig := r.Header.Get("Stripe-Signature")
	event, err := s.stripe.VerifyWebhook(payload, sig, s.cfg.StripeWebhookSecret)
	if err != nil {
		s.logger.Warn("webhook: invalid signature", "error", err, logField(r))
		respondErr(w, http.StatusBadRequest, "invalid webhook signature")
		return
	}

	// ── 3. Journal the delivery ───────────────────────────────────────────────
	// Audit trail only. A journal failure is logged, never returned: losing an
	// audit row is cheaper than a spurious Stripe retry.
	s.logAndIgnoreJournalErr(r, s.journal.Record(r.Context(), event.ID, event.Type, payload), "record delivery")

	// ── 4. Filter by event type and payment status ────────────────────────────
	if event.Type != "checkout.session.completed" {
		s.logger.Debug("webhook: ignoring event type", "type", event.Type, logField(r))
		respond(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	var session checkoutSessionObject
	if err := json.Unmarshal(event.DataRaw, &session); err != nil {
		s.logAndIgnoreJournalErr(r, s.journal.MarkFailed(r.Context(), event.ID, err), "mark failed")
		s.respondInternalErr(w, r, fmt.Errorf("webhook: unmarshal session: %w", err))
		return
	}

	if session.PaymentStatus != "paid" {
		// Async payment methods complete later and fire a separate event.
		s.logger.Info("webhook: session not paid yet, acking",
			"session_id", session.ID,
			"payment_status", session.PaymentStatus,
			logField(r),
		)
		s.logAndIgnoreJournalErr(r, s.journal.MarkProcessed(r.Context(), event.ID), "mark processed")
		respond(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	// ── 5. Rebuild the cart and submit the order ──────────────────────────────
	if err := s.fulfill(r, event, session); err != nil {
		if errors.Is(err, printful.ErrDuplicateOrder) {
			// Redelivery — the order already exists. Ack so Stripe stops retrying.
			s.logger.Info("webhook: duplicate order, acking", "event_id", event.ID, logField(r))
			s.logAndIgnoreJournalErr(r, s.journal.MarkDuplicate(r.Context(), event.ID), "mark duplicate")
			respond(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}

		s.logger.Error("webhook: fulfillment failed",
			"event_id", event.ID,
			"session_id", session.ID,
			"error", err,
			logField(r),
		)
		s.logAndIgnoreJournalErr(r, s.journal.MarkFailed(r.Context(), event.ID, err), "mark failed")
		// 500 so Stripe retries delivery.
		respondErr(w, http.StatusInternalServerError, "fulfillment failed")
		return
	}

	s.logAndIgnoreJournalErr(r, s.journal.MarkProcessed(r.Context(), event.ID), "mark processed")
	respond(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

// fulfill decodes the session metadata and submits the Printful order. Every
// error path forces a Stripe redelivery except ErrDuplicateOrder, which the
// caller handles.
func (s *Server) fulfill(r *http.Request, event stripecatalog.Event, session checkoutSessionObject) error {
	items, err := cart.DecodeItems(session.Metadata)
	if err != nil {
		return fmt.Errorf("decode cart metadata: %w", err)
	}

	recipient, err := buildRecipient(session)
	if err != nil {
		return fmt.Errorf("build recipient: %w", err)
	}

	orderItems := make([]printful.OrderItem, 0, len(items))
	for i, it := range items {
		// DecodeItems already validated the id parses as a positive integer.
		variantID, err := strconv.ParseInt(it.SyncVariantID, 10, 64)
		if err != nil {
			return fmt.Errorf("item %d: sync_variant_id %q: %w", i, it.SyncVariantID, err)
		}
		orderItems = append(orderItems, printful.OrderItem{
			SyncVariantID: variantID,
			Quantity:      it.Quantity,
			RetailPrice:   it.RetailPrice,
		})
	}

	conf, err := s.printful.SubmitOrder(r.Context(), printful.Order{
		ExternalID: event.ID,
		Recipient:  recipient,
		Items:      orderItems,
	})
	if err != nil {
		return err
	}

	s.logger.Info("webhook: order submitted",
		"event_id", event.ID,
		"order_id", conf.ID,
		"order_status", conf.Status,
		"items", len(orderItems),
		logField(r),
	)
	return nil
}

// buildRecipient maps the session's shipping details onto a Printful
// recipient, falling back to customer details when Stripe collected no
// separate shipping block.
func buildRecipient(session checkoutSessionObject) (printful.Recipient, error) {
	details := session.ShippingDetails
	if details == nil || details.Address == nil {
		details = session.CustomerDetails
	}
	if details == nil || details.Address == nil {
		return printful.Recipient{}, errors.New("session has no shipping or customer address")
	}

	email := details.Email
	if email == "" && session.CustomerDetails != nil {
		email = session.CustomerDetails.Email
	}

	return printful.Recipient{
		Name:        details.Name,
		Address1:    details.Address.Line1,
		City:        details.Address.City,
		StateCode:   details.Address.State,
		CountryCode: details.Address.Country,
		Zip:         details.Address.PostalCode,
		Email:       email,
	}, nil
}
