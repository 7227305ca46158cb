/**
 * @description
 * This package provides a client for the external auth provider's admin API.
 * The signup core never handles email delivery itself: it asks the provider
 * for the current state of an identity (notably the verified-email flag) and
 * can request the confirmation link to be resent.
 *
 * @notes
 * - The client includes a default HTTP client with a timeout to prevent
 *   requests from hanging indefinitely.
 * - Error handling returns a formatted error string that includes the status
 *   code and response body for easier debugging.
 */
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

// User is the slice of the provider's user record the signup core reads.
type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// Client is a client for the auth provider's admin API.
type Client struct {
	BaseURL    string
	APIKey     string
	httpClient *http.Client
}

// NewClient creates a new auth provider client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// GetUser fetches the user record for the given identity.
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	reqURL := fmt.Sprintf("%s/admin/users/%s", c.BaseURL, url.PathEscape(userID))

	httpReq, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to auth provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp)
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode user response: %w", err)
	}
	return &user, nil
}

// ResendVerificationEmail asks the provider to resend the confirmation link.
func (c *Client) ResendVerificationEmail(ctx context.Context, userID string) error {
	reqURL := fmt.Sprintf("%s/admin/users/%s/resend-verification", c.BaseURL, url.PathEscape(userID))

	body, err := json.Marshal(map[string]string{"type": "signup"})
	if err != nil {
		return fmt.Errorf("failed to marshal resend request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", reqURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create resend http request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send resend request to auth provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return c.handleErrorResponse(resp)
	}
	return nil
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
		return fmt.Errorf("auth API error with status %d, but failed to read response body", resp.StatusCode)
	}
	return fmt.Errorf("auth API request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
}
