// Package execution provides clients for the order gateway used to cancel
// working orders and submit flattening orders during risk transitions.
package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/openclear/risk-engine/internal/model"
)

// HTTPClient forwards cancels and submissions to an external order gateway
// over JSON/HTTP.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client for the gateway at baseURL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Cancel requests cancellation of a working order. The gateway confirms the
// cancel asynchronously through the execution report stream.
func (c *HTTPClient) Cancel(ctx context.Context, order model.Order) error {
	url := fmt.Sprintf("%s/orders/%s/cancel", c.baseURL, order.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("execution: cancel %s: %w", order.ID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("execution: cancel %s: gateway returned %d", order.ID, resp.StatusCode)
	}
	return nil
}

// Submit sends a new order to the gateway and returns the accepted order.
func (c *HTTPClient) Submit(ctx context.Context,
	fields model.OrderFields) (model.Order, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return model.Order{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return model.Order{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return model.Order{}, fmt.Errorf("execution: submit: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return model.Order{}, fmt.Errorf("execution: submit: gateway returned %d", resp.StatusCode)
	}

	var order model.Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return model.Order{}, fmt.Errorf("execution: submit: decode response: %w", err)
	}
	if order.ID == "" {
		return model.Order{}, fmt.Errorf("execution: submit: gateway returned no order id")
	}
	return order, nil
}

// DryRunClient logs cancels and submissions instead of routing them. Used
// when no gateway is configured so transitions still advance; the synthetic
// orders it returns never receive execution reports.
type DryRunClient struct{}

func (DryRunClient) Cancel(_ context.Context, order model.Order) error {
	slog.Info("dry-run cancel", "order", order.ID,
		"account", order.Fields.Account, "security", order.Fields.Security)
	return nil
}

func (DryRunClient) Submit(_ context.Context,
	fields model.OrderFields) (model.Order, error) {
	order := model.Order{
		ID:        model.OrderID(uuid.New().String()),
		Fields:    fields,
		Timestamp: time.Now().UTC(),
	}
	slog.Info("dry-run submit", "order", order.ID,
		"account", fields.Account, "security", fields.Security,
		"side", fields.Side, "quantity", fields.Quantity.String())
	return order, nil
}
