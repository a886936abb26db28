package ledger

import "errors"

// Sentinel errors classifying upstream failures.
var (
	// ErrUnavailable indicates a transport, timeout or auth failure.
	// The call may not have reached the ledger; retrying is safe because
	// writes carry idempotency keys.
	ErrUnavailable = errors.New("ledger unavailable")

	// ErrRejected indicates the ledger refused the request on business
	// grounds (bad reference, duplicate number). Retrying without new
	// input will not help.
	ErrRejected = errors.New("ledger rejected request")
)

// Customer is a ledger customer account.
type Customer struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Email   string  `json:"email,omitempty"`
	Balance float64 `json:"balance"`
}

// Invoice is a ledger invoice.
type Invoice struct {
	ID       string  `json:"id"`
	Customer string  `json:"customer"`
	Amount   float64 `json:"amount"`
	Balance  float64 `json:"balance"`
	Status   string  `json:"status"` // draft, open, paid, void
	Memo     string  `json:"memo,omitempty"`
	DueDate  string  `json:"due_date,omitempty"`
}

// Payment is a recorded payment against an invoice.
type Payment struct {
	ID        string  `json:"id"`
	InvoiceID string  `json:"invoice_id"`
	Amount    float64 `json:"amount"`
	Method    string  `json:"method,omitempty"`
	Received  string  `json:"received,omitempty"`
}

// InvoiceFilter narrows ListInvoices.
type InvoiceFilter struct {
	Customer string // match customer name or ID
	Status   string // match invoice status
}

// InvoiceInput is the payload for creating an invoice.
type InvoiceInput struct {
	Customer string  `json:"customer"`
	Amount   float64 `json:"amount"`
	Memo     string  `json:"memo,omitempty"`
	DueDate  string  `json:"due_date,omitempty"`
}

// InvoicePatch updates fields of an existing invoice. Nil fields are
// left unchanged.
type InvoicePatch struct {
	Amount  *float64 `json:"amount,omitempty"`
	Status  *string  `json:"status,omitempty"`
	Memo    *string  `json:"memo,omitempty"`
	DueDate *string  `json:"due_date,omitempty"`
}

// PaymentInput is the payload for recording a payment.
type PaymentInput struct {
	InvoiceID string  `json:"invoice_id"`
	Amount    float64 `json:"amount"`
	Method    string  `json:"method,omitempty"`
}
