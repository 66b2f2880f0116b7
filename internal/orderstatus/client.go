// Package orderstatus is the client for the order-status service, the
// collaborator that owns the user-visible state of an order.
package orderstatus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
)

// Status values the payment stage reports.
type Status string

const (
	// StatusPayment marks a successful charge.
	StatusPayment Status = "payment"
	// StatusFailed marks a failed or rolled-back charge.
	StatusFailed Status = "failed"
)

type updateRequest struct {
	OrderID       int64  `json:"order_id"`
	Status        Status `json:"status"`
	StatusMessage string `json:"status_message"`
}

// Client talks JSON over HTTP to the order-status service. The underlying
// retryable client bounds each call with its own timeout so a stalled
// downstream cannot starve the consumer loop.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
}

func NewClient(baseURL string, httpClient *retryablehttp.Client) *Client {
	return &Client{baseURL: baseURL, http: httpClient}
}

// Report posts the stage outcome for an order.
func (c *Client) Report(ctx context.Context, orderID int64, status Status, message string) error {
	body, err := json.Marshal(updateRequest{
		OrderID:       orderID,
		Status:        status,
		StatusMessage: message,
	})
	if err != nil {
		return fmt.Errorf("orderstatus: encode update for order %d: %w", orderID, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders/status", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("orderstatus: build request for order %d: %w", orderID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("orderstatus: update order %d: %w", orderID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("orderstatus: update order %d: unexpected status %s", orderID, resp.Status)
	}
	return nil
}
