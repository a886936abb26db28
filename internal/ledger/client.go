// Package ledger talks to the accounting ledger API.
//
// All write calls carry an Idempotency-Key header; the ledger is expected
// to return the original entity when a key is replayed, so at-least-once
// calling from this side never duplicates a financial record.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is the ledger API surface consumed by fetchers and handlers.
type Client interface {
	ListCustomers(ctx context.Context) ([]Customer, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error)
	CreateInvoice(ctx context.Context, in InvoiceInput, idemKey string) (Invoice, error)
	UpdateInvoice(ctx context.Context, id string, patch InvoicePatch, idemKey string) (Invoice, error)
	RecordPayment(ctx context.Context, in PaymentInput, idemKey string) (Payment, error)
}

// HTTPClient implements Client over the ledger's JSON/HTTP API.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient creates a ledger client. token may be empty for
// unauthenticated local sandboxes.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) ListCustomers(ctx context.Context) ([]Customer, error) {
	var out []Customer
	if err := c.do(ctx, http.MethodGet, "/customers", nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error) {
	q := url.Values{}
	if filter.Customer != "" {
		q.Set("customer", filter.Customer)
	}
	if filter.Status != "" {
		q.Set("status", filter.Status)
	}
	path := "/invoices"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out []Invoice
	if err := c.do(ctx, http.MethodGet, path, nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) CreateInvoice(ctx context.Context, in InvoiceInput, idemKey string) (Invoice, error) {
	var out Invoice
	if err := c.do(ctx, http.MethodPost, "/invoices", in, idemKey, &out); err != nil {
		return Invoice{}, err
	}
	return out, nil
}

func (c *HTTPClient) UpdateInvoice(ctx context.Context, id string, patch InvoicePatch, idemKey string) (Invoice, error) {
	var out Invoice
	path := "/invoices/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodPatch, path, patch, idemKey, &out); err != nil {
		return Invoice{}, err
	}
	return out, nil
}

func (c *HTTPClient) RecordPayment(ctx context.Context, in PaymentInput, idemKey string) (Payment, error) {
	var out Payment
	if err := c.do(ctx, http.MethodPost, "/payments", in, idemKey, &out); err != nil {
		return Payment{}, err
	}
	return out, nil
}

// do performs one request and decodes the JSON response into out.
// Transport failures and 5xx map to ErrUnavailable; auth failures too,
// since a refreshed token makes a retry safe. Remaining 4xx map to
// ErrRejected with the ledger's own message.
func (c *HTTPClient) do(ctx context.Context, method, path string, body any, idemKey string, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decoding response: %v", ErrUnavailable, err)
		}
		return nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: auth failed (%d)", ErrUnavailable, resp.StatusCode)

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: %s", ErrRejected, apiError(resp.Body, resp.StatusCode))

	default:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}

// apiError extracts the ledger's error message, falling back to the status.
func apiError(body io.Reader, status int) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(body, 4096)).Decode(&payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return fmt.Sprintf("status %d", status)
}
