/**
 * @description
 * This package provides a client for the payment provider's API. The signup
 * core uses it to create hosted checkout sessions for verified intents and
 * billing-portal sessions for provisioned tenants. Subscription state itself
 * flows back asynchronously through signed webhooks, never through this
 * client.
 *
 * @notes
 * - The client includes a default HTTP client with a timeout to prevent
 *   requests from hanging indefinitely.
 * - Error handling returns a formatted error string that includes the status
 *   code and response body for easier debugging.
 */
package paymentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// CheckoutSessionRequest is the payload for creating a hosted checkout session.
// ReferenceID carries the signup intent id so webhook events can be correlated
// back to the intent.
type CheckoutSessionRequest struct {
	ReferenceID   string `json:"reference_id"`
	Plan          string `json:"plan"`
	CustomerEmail string `json:"customer_email"`
	SuccessURL    string `json:"success_url"`
	CancelURL     string `json:"cancel_url"`
}

// CheckoutSession is the provider's hosted checkout session.
type CheckoutSession struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// BillingPortalSession is a short-lived URL where a tenant manages its
// subscription.
type BillingPortalSession struct {
	URL string `json:"url"`
}

// Client is a client for the payment provider API.
type Client struct {
	BaseURL    string
	APIKey     string
	httpClient *http.Client
}

// NewClient creates a new payment provider client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CreateCheckoutSession creates a hosted checkout session for a plan.
func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	url := fmt.Sprintf("%s/v1/checkout/sessions", c.BaseURL)
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to payment provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.handleErrorResponse(resp)
	}

	var session CheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("failed to decode checkout session response: %w", err)
	}
	return &session, nil
}

// CreateBillingPortalSession creates a billing-portal session for an existing
// customer.
func (c *Client) CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (*BillingPortalSession, error) {
	url := fmt.Sprintf("%s/v1/billing_portal/sessions", c.BaseURL)
	body, err := json.Marshal(map[string]string{
		"customer_id": customerID,
		"return_url":  returnURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal portal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create portal http request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send portal request to payment provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.handleErrorResponse(resp)
	}

	var session BillingPortalSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("failed to decode portal session response: %w", err)
	}
	return &session, nil
}

// setHeaders adds the necessary authentication and content-type headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
}

// handleErrorResponse reads the body of a failed API call and returns a formatted error.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("Failed to read error response body: %v", err)
		return fmt.Errorf("payment API error with status %d, but failed to read response body", resp.StatusCode)
	}
	return fmt.Errorf("payment API request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
}
