// Package api implements the HTTP layer of the storefront backend. Handlers
// are methods on *Server. Each handler file is responsible for one endpoint
// and only imports the dependencies it actually uses.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nyashahama/pod-storefront-backend/internal/journal"
	"github.com/nyashahama/pod-storefront-backend/internal/printful"
	"github.com/nyashahama/pod-storefront-backend/internal/stripecatalog"
)

// Config holds values read from environment variables at startup.
type Config struct {
	// BaseURL is the storefront origin used to build the checkout success and
	// cancel redirect URLs. e.g. "https://shop.example.com"
	BaseURL string

	// StripeWebhookSecret is the signing secret from the Stripe dashboard.
	StripeWebhookSecret string

	// Env is "production", "staging", or "development".
	Env string

	// ShippingCents is the flat shipping charge added to every checkout.
	ShippingCents int64

	// Currency is the three-letter ISO code all sessions are priced in.
	Currency string
}

// Server holds all shared dependencies. Each handler file attaches methods to
// this type and uses only the fields it needs.
type Server struct {
	// stripe creates checkout sessions and verifies webhook signatures.
	stripe stripecatalog.Client

	// printful submits fulfillment orders after payment.
	printful printful.Client

	// journal records webhook deliveries for auditing. Never gates fulfillment.
	journal journal.Recorder

	cfg    Config
	logger *slog.Logger
}

// NewServer constructs the Server and wires the chi router. The returned
// http.Handler is ready to pass to http.ListenAndServe.
func NewServer(
	stripeClient stripecatalog.Client,
	printfulClient printful.Client,
	recorder journal.Recorder,
	cfg Config,
	logger *slog.Logger,
) http.Handler {
	s := &Server{
		stripe:   stripeClient,
		printful: printfulClient,
		journal:  recorder,
		cfg:      cfg,
		logger:   logger,
	}

	return s.routes()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// ── Global middleware ─────────────────────────────────────────────────────
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggerMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)
	r.Use(middleware.Timeout(30 * time.Second))

	// ── Health ────────────────────────────────────────────────────────────────
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// ── API v1 ────────────────────────────────────────────────────────────────
	r.Route("/api", func(r chi.Router) {

		// Checkout — no auth (anonymous carts).
		r.Post("/checkout", s.handleCreateCheckout)

		// Stripe webhook — no auth (signature verification inside handler).
		r.Post("/webhooks/stripe", s.handleStripeWebhook)
	})

	return r
}
