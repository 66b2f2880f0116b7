// Package balance is the client for the credit-adjustment service. Direction
// is carried by the endpoint, so amounts are always positive magnitudes.
package balance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
)

type adjustRequest struct {
	UserID     int64 `json:"user_id"`
	NumCredits int64 `json:"num_credits"`
}

// Client talks JSON over HTTP to the balance service.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
}

func NewClient(baseURL string, httpClient *retryablehttp.Client) *Client {
	return &Client{baseURL: baseURL, http: httpClient}
}

// AddFunds credits the user's balance by amount.
func (c *Client) AddFunds(ctx context.Context, userID, amount int64) error {
	return c.adjust(ctx, "/funds/add", userID, amount)
}

// DeductFunds debits the user's balance by amount.
func (c *Client) DeductFunds(ctx context.Context, userID, amount int64) error {
	return c.adjust(ctx, "/funds/deduct", userID, amount)
}

func (c *Client) adjust(ctx context.Context, path string, userID, amount int64) error {
	if amount < 0 {
		amount = -amount
	}
	if amount == 0 {
		// The engine never asks for a zero adjustment; refuse rather than
		// make a pointless call.
		return fmt.Errorf("balance: zero adjustment for user %d", userID)
	}

	body, err := json.Marshal(adjustRequest{UserID: userID, NumCredits: amount})
	if err != nil {
		return fmt.Errorf("balance: encode adjustment for user %d: %w", userID, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("balance: build request for user %d: %w", userID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("balance: adjust funds for user %d: %w", userID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("balance: adjust funds for user %d: unexpected status %s", userID, resp.Status)
	}
	return nil
}
