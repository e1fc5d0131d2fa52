// Package square is a minimal client for the Square Payments and Customers APIs.
package square

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrNotFound is returned when Square answers 404 for the requested object.
var ErrNotFound = errors.New("square: not found")

// RequestError is a non-2xx answer other than 404.
type RequestError struct {
	StatusCode int
	Errors     []APIError
}

func (e *RequestError) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("square: status=%d code=%s detail=%s", e.StatusCode, e.Errors[0].Code, e.Errors[0].Detail)
	}
	return fmt.Sprintf("square: status=%d", e.StatusCode)
}

// Temporary reports whether retrying the request may succeed.
func (e *RequestError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Client struct {
	BaseURL     string
	AccessToken string
	APIVersion  string
	LocationID  string

	HTTPClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client limited to rps requests per second.
func NewClient(baseURL, accessToken, apiVersion, locationID string, rps float64) *Client {
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		AccessToken: accessToken,
		APIVersion:  apiVersion,
		LocationID:  locationID,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// GetPayment fetches one payment by id. Unknown ids yield ErrNotFound.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var out struct {
		Payment *Payment `json:"payment"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/payments/"+url.PathEscape(paymentID), nil, &out); err != nil {
		return nil, err
	}
	if out.Payment == nil {
		return nil, ErrNotFound
	}
	return out.Payment, nil
}

// CreatePayment charges a card nonce. The idempotency key makes retries safe.
func (c *Client) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error) {
	if req.IdempotencyKey == "" {
		return nil, errors.New("square: idempotency key is required")
	}
	if req.LocationID == "" {
		req.LocationID = c.LocationID
	}
	var out struct {
		Payment *Payment `json:"payment"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/payments", req, &out); err != nil {
		return nil, err
	}
	if out.Payment == nil {
		return nil, errors.New("square: empty payment in response")
	}
	return out.Payment, nil
}

// CreateCustomer creates a customer profile.
func (c *Client) CreateCustomer(ctx context.Context, req CreateCustomerRequest) (*Customer, error) {
	var out struct {
		Customer *Customer `json:"customer"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/customers", req, &out); err != nil {
		return nil, err
	}
	if out.Customer == nil {
		return nil, errors.New("square: empty customer in response")
	}
	return out.Customer, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	req.Header.Set("Square-Version", c.APIVersion)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reqErr := &RequestError{StatusCode: resp.StatusCode}
		var envelope struct {
			Errors []APIError `json:"errors"`
		}
		if json.Unmarshal(raw, &envelope) == nil {
			reqErr.Errors = envelope.Errors
		}
		return reqErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("square: decode %s: %w", path, err)
	}
	return nil
}
