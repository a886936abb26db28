package ledger

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/cache"
)

// Cache keys used by the fetcher and invalidated by write handlers.
const (
	// KeyPrefix covers every ledger cache entry.
	KeyPrefix = "ledger:"

	keyCustomers = "ledger:customers"
	keyInvoices  = "ledger:invoices:open"
)

// invoiceStatusOpen is the query shape behind keyInvoices: the fetcher
// asks the ledger for receivable (open) invoices only.
const invoiceStatusOpen = "open"

// Context is the bounded view of ledger data assembled for one turn.
type Context struct {
	Customers []Customer `json:"customers,omitempty"`
	Invoices  []Invoice  `json:"invoices,omitempty"`

	// Summary counts invoices by status for anything not shown.
	Summary map[string]int `json:"summary,omitempty"`

	// Filtered reports whether Invoices was narrowed by entity hints.
	Filtered bool `json:"filtered,omitempty"`

	// Unavailable is set when the ledger could not be reached; Reason
	// says why. Partial data may still be present.
	Unavailable bool   `json:"unavailable,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Fetcher reads ledger data through the TTL cache.
type Fetcher struct {
	client Client
	cache  *cache.Cache
	limit  int // recent-N cap for unfiltered invoice lists
	log    *slog.Logger
}

// NewFetcher creates a fetcher over client, reading through c.
func NewFetcher(client Client, c *cache.Cache, limit int, logger *slog.Logger) *Fetcher {
	return &Fetcher{client: client, cache: c, limit: limit, log: logger}
}

// Fetch retrieves customers and open invoices, cache-first.
//
// Customers and the open-invoice list are cached under stable keys, with
// the status filter pushed down to the ledger query; hint-filtered views
// are derived in process from the cached list rather than cached per
// hint, which keeps invalidation to a single prefix.
// Upstream failures never propagate: the context is flagged Unavailable.
func (f *Fetcher) Fetch(ctx context.Context, hints []string) Context {
	var out Context

	g, gctx := errgroup.WithContext(ctx)

	var customers []Customer
	var invoices []Invoice
	var custErr, invErr error

	g.Go(func() error {
		customers, custErr = f.customers(gctx)
		return nil // failures are absorbed, not propagated
	})
	g.Go(func() error {
		invoices, invErr = f.invoices(gctx)
		return nil
	})
	_ = g.Wait()

	if custErr != nil || invErr != nil {
		out.Unavailable = true
		if invErr != nil {
			out.Reason = invErr.Error()
		} else {
			out.Reason = custErr.Error()
		}
		f.log.Warn("ledger fetch degraded",
			"customers_err", custErr, "invoices_err", invErr)
	}

	out.Customers = customers
	out.Summary = summarizeInvoices(invoices)

	if len(hints) > 0 {
		filtered := filterInvoices(invoices, hints)
		if len(filtered) > 0 {
			out.Invoices = filtered
			out.Filtered = true
			return out
		}
	}

	if len(invoices) > f.limit {
		invoices = invoices[:f.limit]
	}
	out.Invoices = invoices
	return out
}

func (f *Fetcher) customers(ctx context.Context) ([]Customer, error) {
	if v, ok := f.cache.Get(keyCustomers); ok {
		return v.([]Customer), nil
	}
	customers, err := f.client.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}
	f.cache.Set(keyCustomers, customers)
	return customers, nil
}

func (f *Fetcher) invoices(ctx context.Context) ([]Invoice, error) {
	if v, ok := f.cache.Get(keyInvoices); ok {
		return v.([]Invoice), nil
	}
	invoices, err := f.client.ListInvoices(ctx, InvoiceFilter{Status: invoiceStatusOpen})
	if err != nil {
		return nil, err
	}
	f.cache.Set(keyInvoices, invoices)
	return invoices, nil
}

func filterInvoices(invoices []Invoice, hints []string) []Invoice {
	var out []Invoice
	for _, inv := range invoices {
		for _, h := range hints {
			h = strings.ToLower(strings.TrimSpace(h))
			if h == "" {
				continue
			}
			if strings.ToLower(inv.ID) == h ||
				strings.Contains(strings.ToLower(inv.Customer), h) {
				out = append(out, inv)
				break
			}
		}
	}
	return out
}

func summarizeInvoices(invoices []Invoice) map[string]int {
	if len(invoices) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, inv := range invoices {
		status := inv.Status
		if status == "" {
			status = "unknown"
		}
		counts[status]++
	}
	return counts
}
