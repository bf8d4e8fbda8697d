package printful

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// httpClient is the concrete Client backed by the Printful REST API.
type httpClient struct {
	apiKey  string
	baseURL string // e.g. "https://api.printful.com"
	client  *http.Client
}

// NewClient returns a Client that talks to the Printful API.
// apiKey is your PRINTFUL_API_KEY env var.
func NewClient(apiKey, baseURL string) Client {
	return &httpClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ─── API SHAPES ──────────────────────────────────────────────────────────────

// orderRequest wraps Order with the confirm flag: true sends the order
// straight to production instead of leaving a draft.
type orderRequest struct {
	Order
	Confirm bool `json:"confirm"`
}

type orderResponse struct {
	Code   int `json:"code"`
	Result struct {
		ID         int64  `json:"id"`
		ExternalID string `json:"external_id"`
		Status     string `json:"status"`
	} `json:"result"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ─── SUBMIT ──────────────────────────────────────────────────────────────────

func (c *httpClient) SubmitOrder(ctx context.Context, order Order) (OrderConfirmation, error) {
	bodyBytes, err := json.Marshal(orderRequest{Order: order, Confirm: true})
	if err != nil {
		return OrderConfirmation{}, fmt.Errorf("printful: marshal order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/orders",
		bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return OrderConfirmation{}, fmt.Errorf("printful: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return OrderConfirmation{}, fmt.Errorf("printful: http request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return OrderConfirmation{}, fmt.Errorf("printful: read response: %w", err)
	}

	// The external_id uniqueness constraint surfaces as 409. That means this
	// order was already submitted — a success for our caller.
	if resp.StatusCode == http.StatusConflict {
		return OrderConfirmation{ExternalID: order.ExternalID}, ErrDuplicateOrder
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var parsed orderResponse
		if json.Unmarshal(respBytes, &parsed) == nil && parsed.Error.Message != "" {
			return OrderConfirmation{}, fmt.Errorf("printful: order rejected (status %d): %s",
				resp.StatusCode, parsed.Error.Message)
		}
		return OrderConfirmation{}, fmt.Errorf("printful: unexpected status %d: %.200s",
			resp.StatusCode, string(respBytes))
	}

	var parsed orderResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return OrderConfirmation{}, fmt.Errorf("printful: unmarshal response: %w", err)
	}

	return OrderConfirmation{
		ID:         parsed.Result.ID,
		ExternalID: parsed.Result.ExternalID,
		Status:     parsed.Result.Status,
	}, nil
}
