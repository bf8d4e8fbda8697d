package stripecatalog

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/price"
	"github.com/stripe/stripe-go/v82/product"
	"github.com/stripe/stripe-go/v82/webhook"
)

// stripeClient is the concrete implementation of Client backed by the
// official stripe-go SDK. Construct it with NewClient.
type stripeClient struct {
	secretKey string
}

// NewClient returns a Client backed by the Stripe SDK.
// secretKey is your STRIPE_SECRET_KEY env var.
func NewClient(secretKey string) Client {
	return &stripeClient{secretKey: secretKey}
}

// ─── PRODUCTS ────────────────────────────────────────────────────────────────

func (c *stripeClient) SearchProductBySyncID(ctx context.Context, syncProductID string) (ProductRecord, error) {
	stripe.Key = c.secretKey

	params := &stripe.ProductSearchParams{
		SearchParams: stripe.SearchParams{
			Context: ctx,
			Query:   fmt.Sprintf("metadata['%s']:'%s'", MetaSyncProductID, syncProductID),
			Limit:   stripe.Int64(1),
		},
	}

	iter := product.Search(params)
	for iter.Next() {
		return toProductRecord(iter.Product()), nil
	}
	if err := iter.Err(); err != nil {
		return ProductRecord{}, fmt.Errorf("stripecatalog: search product %s: %w", syncProductID, err)
	}
	return ProductRecord{}, ErrNotFound
}

func (c *stripeClient) CreateProduct(ctx context.Context, name, syncProductID string) (ProductRecord, error) {
	stripe.Key = c.secretKey

	params := &stripe.ProductParams{
		Name: stripe.String(name),
	}
	params.Context = ctx
	params.AddMetadata(MetaSyncProductID, syncProductID)

	p, err := product.New(params)
	if err != nil {
		return ProductRecord{}, fmt.Errorf("stripecatalog: create product %q: %w", name, err)
	}
	return toProductRecord(p), nil
}

// ─── PRICES ──────────────────────────────────────────────────────────────────

func (c *stripeClient) FindPriceByLookupKey(ctx context.Context, sku string) (PriceRecord, error) {
	stripe.Key = c.secretKey

	params := &stripe.PriceListParams{
		LookupKeys: stripe.StringSlice([]string{sku}),
		Active:     stripe.Bool(true),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := price.List(params)
	for iter.Next() {
		return toPriceRecord(iter.Price()), nil
	}
	if err := iter.Err(); err != nil {
		return PriceRecord{}, fmt.Errorf("stripecatalog: list price by lookup key %s: %w", sku, err)
	}
	return PriceRecord{}, ErrNotFound
}

func (c *stripeClient) SearchPriceBySKU(ctx context.Context, sku string) (PriceRecord, error) {
	stripe.Key = c.secretKey

	params := &stripe.PriceSearchParams{
		SearchParams: stripe.SearchParams{
			Context: ctx,
			Query:   fmt.Sprintf("metadata['%s']:'%s' AND active:'true'", MetaSKU, sku),
			Limit:   stripe.Int64(1),
		},
	}

	iter := price.Search(params)
	for iter.Next() {
		return toPriceRecord(iter.Price()), nil
	}
	if err := iter.Err(); err != nil {
		return PriceRecord{}, fmt.Errorf("stripecatalog: search price by sku %s: %w", sku, err)
	}
	return PriceRecord{}, ErrNotFound
}

func (c *stripeClient) CreatePrice(ctx context.Context, p CreatePriceParams) (PriceRecord, error) {
	stripe.Key = c.secretKey

	params := &stripe.PriceParams{
		Product:    stripe.String(p.ProductID),
		UnitAmount: stripe.Int64(p.UnitAmount),
		Currency:   stripe.String(p.Currency),
		LookupKey:  stripe.String(p.LookupKey),
	}
	params.Context = ctx
	if p.Nickname != "" {
		params.Nickname = stripe.String(p.Nickname)
	}
	if p.TransferLookupKey {
		params.TransferLookupKey = stripe.Bool(true)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	// The deterministic key makes retried and replayed creates collapse into
	// one price on Stripe's side.
	params.SetIdempotencyKey(p.IdempotencyKey)

	created, err := price.New(params)
	if err != nil {
		return PriceRecord{}, fmt.Errorf("stripecatalog: create price for %s: %w", p.LookupKey, err)
	}
	return toPriceRecord(created), nil
}

func (c *stripeClient) UpdatePrice(ctx context.Context, priceID string, p UpdatePriceParams) (PriceRecord, error) {
	stripe.Key = c.secretKey

	params := &stripe.PriceParams{}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	if p.LookupKey != "" {
		params.LookupKey = stripe.String(p.LookupKey)
		if p.TransferLookupKey {
			params.TransferLookupKey = stripe.Bool(true)
		}
	}
	if p.Active != nil {
		params.Active = stripe.Bool(*p.Active)
	}

	updated, err := price.Update(priceID, params)
	if err != nil {
		return PriceRecord{}, fmt.Errorf("stripecatalog: update price %s: %w", priceID, err)
	}
	return toPriceRecord(updated), nil
}

func (c *stripeClient) ListPricesByProduct(ctx context.Context, productID string) ([]PriceRecord, error) {
	stripe.Key = c.secretKey

	params := &stripe.PriceListParams{
		Product: stripe.String(productID),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(100)

	var out []PriceRecord
	iter := price.List(params)
	for iter.Next() {
		out = append(out, toPriceRecord(iter.Price()))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("stripecatalog: list prices for product %s: %w", productID, err)
	}
	return out, nil
}

func (c *stripeClient) ListAllPrices(ctx context.Context, cursor string, limit int) ([]PriceRecord, string, error) {
	stripe.Key = c.secretKey

	params := &stripe.PriceListParams{}
	params.Context = ctx
	params.Limit = stripe.Int64(int64(limit))
	// Single-page mode: the caller owns the cursor so it can advance it from
	// the last-seen item even when its loop exits early.
	params.Single = true
	if cursor != "" {
		params.StartingAfter = stripe.String(cursor)
	}

	var page []PriceRecord
	iter := price.List(params)
	for iter.Next() {
		page = append(page, toPriceRecord(iter.Price()))
	}
	if err := iter.Err(); err != nil {
		return nil, cursor, fmt.Errorf("stripecatalog: list all prices after %q: %w", cursor, err)
	}

	next := ""
	if len(page) == limit {
		next = page[len(page)-1].ID
	}
	return page, next, nil
}

// ─── CHECKOUT ────────────────────────────────────────────────────────────────

func (c *stripeClient) CreateCheckoutSession(ctx context.Context, p CheckoutSessionParams) (CheckoutSession, error) {
	stripe.Key = c.secretKey

	items := make([]*stripe.CheckoutSessionLineItemParams, 0, len(p.LineItems))
	for _, li := range p.LineItems {
		productData := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(li.Name),
		}
		if li.ImageURL != "" {
			productData.Images = stripe.StringSlice([]string{li.ImageURL})
		}
		items = append(items, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(li.Quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(li.Currency),
				UnitAmount:  stripe.Int64(li.UnitAmount),
				ProductData: productData,
			},
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:  items,
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		// Printful needs a full shipping address to manufacture and ship.
		ShippingAddressCollection: &stripe.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice([]string{"US", "CA", "GB", "AU", "NZ", "DE", "FR", "NL", "SE"}),
		},
	}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	sess, err := session.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripecatalog: create checkout session: %w", err)
	}
	return CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// ─── WEBHOOKS ────────────────────────────────────────────────────────────────

// VerifyWebhook validates the Stripe-Signature header and returns the parsed
// event. Returns an error if the signature is invalid or the tolerance window
// (300 seconds by default in the Stripe SDK) has expired.
func (c *stripeClient) VerifyWebhook(payload []byte, sigHeader string, secret string) (Event, error) {
	stripeEvent, err := webhook.ConstructEvent(payload, sigHeader, secret)
	if err != nil {
		return Event{}, fmt.Errorf("stripecatalog: webhook verification failed: %w", err)
	}

	return Event{
		ID:      stripeEvent.ID,
		Type:    string(stripeEvent.Type),
		DataRaw: stripeEvent.Data.Raw,
	}, nil
}

// ─── CONVERTERS ──────────────────────────────────────────────────────────────

func toProductRecord(p *stripe.Product) ProductRecord {
	return ProductRecord{
		ID:       p.ID,
		Name:     p.Name,
		Metadata: p.Metadata,
	}
}

func toPriceRecord(p *stripe.Price) PriceRecord {
	rec := PriceRecord{
		ID:         p.ID,
		LookupKey:  p.LookupKey,
		Nickname:   p.Nickname,
		UnitAmount: p.UnitAmount,
		Currency:   string(p.Currency),
		Metadata:   p.Metadata,
		Active:     p.Active,
	}
	if p.Product != nil {
		rec.ProductID = p.Product.ID
	}
	return rec
}
