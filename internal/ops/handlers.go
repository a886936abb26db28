package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/cache"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/ledger"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/records"
)

// Operation names known to the registry.
const (
	OpCreateInvoice       = "create_invoice"
	OpUpdateInvoice       = "update_invoice"
	OpRecordPayment       = "record_payment"
	OpUpdateProjectStatus = "update_project_status"
)

// Argument types. The json tags drive both decoding from the model's tool
// requests and the generated catalogue schemas; the validate tags gate what
// reaches upstream systems.

// CreateInvoiceArgs are the arguments for create_invoice.
type CreateInvoiceArgs struct {
	Customer string  `json:"customer" validate:"required" jsonschema_description:"Customer name or ledger customer ID the invoice is for"`
	Amount   float64 `json:"amount" validate:"required,gt=0" jsonschema_description:"Invoice amount in dollars, must be positive"`
	Memo     string  `json:"memo,omitempty" jsonschema_description:"Optional memo line describing the work billed"`
	DueDate  string  `json:"due_date,omitempty" validate:"omitempty,datetime=2006-01-02" jsonschema_description:"Optional due date in YYYY-MM-DD format"`
}

// UpdateInvoiceArgs are the arguments for update_invoice.
type UpdateInvoiceArgs struct {
	InvoiceID string   `json:"invoice_id" validate:"required" jsonschema_description:"ID of the invoice to update, e.g. INV-204"`
	Amount    *float64 `json:"amount,omitempty" validate:"omitempty,gt=0" jsonschema_description:"New invoice amount in dollars"`
	Status    *string  `json:"status,omitempty" validate:"omitempty,oneof=draft open paid void" jsonschema_description:"New status: draft, open, paid or void"`
	Memo      *string  `json:"memo,omitempty" jsonschema_description:"New memo line"`
	DueDate   *string  `json:"due_date,omitempty" validate:"omitempty,datetime=2006-01-02" jsonschema_description:"New due date in YYYY-MM-DD format"`
}

// RecordPaymentArgs are the arguments for record_payment.
type RecordPaymentArgs struct {
	InvoiceID string  `json:"invoice_id" validate:"required" jsonschema_description:"ID of the invoice the payment applies to"`
	Amount    float64 `json:"amount" validate:"required,gt=0" jsonschema_description:"Payment amount in dollars, must be positive"`
	Method    string  `json:"method,omitempty" validate:"omitempty,oneof=check card transfer cash" jsonschema_description:"Payment method: check, card, transfer or cash"`
}

// UpdateProjectStatusArgs are the arguments for update_project_status.
type UpdateProjectStatusArgs struct {
	ProjectID string `json:"project_id" validate:"required" jsonschema_description:"ID of the project to update, e.g. PRJ-102"`
	Status    string `json:"status" validate:"required,oneof=planned active on-hold complete cancelled" jsonschema_description:"New status: planned, active, on-hold, complete or cancelled"`
}

// Handlers owns the upstream service wiring shared by all operations.
// Handlers never call each other; composition happens in the orchestrator.
type Handlers struct {
	records  records.Store
	ledger   ledger.Client
	cache    *cache.Cache
	validate *validator.Validate
	log      *slog.Logger
}

// NewHandlers wires the handler set.
func NewHandlers(rec records.Store, led ledger.Client, c *cache.Cache, logger *slog.Logger) *Handlers {
	return &Handlers{
		records:  rec,
		ledger:   led,
		cache:    c,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      logger,
	}
}

// CreateInvoice creates a ledger invoice.
func (h *Handlers) CreateInvoice(ctx context.Context, req Request) Result {
	var args CreateInvoiceArgs
	if detail, ok := h.decode(req, &args); !ok {
		return failure(req.Name, KindValidationFailed, detail)
	}

	inv, err := h.ledger.CreateInvoice(ctx, ledger.InvoiceInput{
		Customer: args.Customer,
		Amount:   args.Amount,
		Memo:     args.Memo,
		DueDate:  args.DueDate,
	}, req.IdempotencyKey)
	if err != nil {
		return h.ledgerFailure(req.Name, err)
	}

	h.cache.Invalidate(ledger.KeyPrefix)

	return success(req.Name,
		fmt.Sprintf("Created invoice %s for %s: $%.2f.", inv.ID, inv.Customer, inv.Amount),
		map[string]string{
			"invoice_id": inv.ID,
			"customer":   inv.Customer,
		})
}

// UpdateInvoice patches an existing ledger invoice.
func (h *Handlers) UpdateInvoice(ctx context.Context, req Request) Result {
	var args UpdateInvoiceArgs
	if detail, ok := h.decode(req, &args); !ok {
		return failure(req.Name, KindValidationFailed, detail)
	}
	if args.Amount == nil && args.Status == nil && args.Memo == nil && args.DueDate == nil {
		return failure(req.Name, KindValidationFailed,
			"nothing to update: provide at least one of amount, status, memo or due_date")
	}

	inv, err := h.ledger.UpdateInvoice(ctx, args.InvoiceID, ledger.InvoicePatch{
		Amount:  args.Amount,
		Status:  args.Status,
		Memo:    args.Memo,
		DueDate: args.DueDate,
	}, req.IdempotencyKey)
	if err != nil {
		return h.ledgerFailure(req.Name, err)
	}

	h.cache.Invalidate(ledger.KeyPrefix)

	return success(req.Name,
		fmt.Sprintf("Updated invoice %s (status %s, $%.2f).", inv.ID, inv.Status, inv.Amount),
		map[string]string{"invoice_id": inv.ID})
}

// RecordPayment records a payment against an invoice.
func (h *Handlers) RecordPayment(ctx context.Context, req Request) Result {
	var args RecordPaymentArgs
	if detail, ok := h.decode(req, &args); !ok {
		return failure(req.Name, KindValidationFailed, detail)
	}

	pay, err := h.ledger.RecordPayment(ctx, ledger.PaymentInput{
		InvoiceID: args.InvoiceID,
		Amount:    args.Amount,
		Method:    args.Method,
	}, req.IdempotencyKey)
	if err != nil {
		return h.ledgerFailure(req.Name, err)
	}

	h.cache.Invalidate(ledger.KeyPrefix)

	return success(req.Name,
		fmt.Sprintf("Recorded payment %s of $%.2f against %s.", pay.ID, pay.Amount, pay.InvoiceID),
		map[string]string{
			"payment_id": pay.ID,
			"invoice_id": pay.InvoiceID,
		})
}

// UpdateProjectStatus updates a project row in the records workbook.
// Records live outside the ledger cache, so no invalidation is needed.
func (h *Handlers) UpdateProjectStatus(ctx context.Context, req Request) Result {
	var args UpdateProjectStatusArgs
	if detail, ok := h.decode(req, &args); !ok {
		return failure(req.Name, KindValidationFailed, detail)
	}

	project, err := h.records.UpdateProjectStatus(args.ProjectID, args.Status)
	if err != nil {
		if errors.Is(err, records.ErrProjectNotFound) {
			return failure(req.Name, KindUpstreamRejected,
				fmt.Sprintf("no project with ID %s exists", args.ProjectID))
		}
		return failure(req.Name, KindUpstreamUnavailable,
			fmt.Sprintf("the records workbook could not be updated: %v", err))
	}

	return success(req.Name,
		fmt.Sprintf("Project %s (%s) is now %s.", project.ID, project.Name, project.Status),
		map[string]string{
			"project_id": project.ID,
			"status":     project.Status,
		})
}

// decode maps the raw args into the typed struct and validates it.
// On failure the returned detail explains which fields were wrong, so the
// model can correct itself on the next round.
func (h *Handlers) decode(req Request, out any) (string, bool) {
	raw, err := json.Marshal(req.Args)
	if err != nil {
		return fmt.Sprintf("arguments could not be encoded: %v", err), false
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Sprintf("arguments do not match the %s schema: %v", req.Name, err), false
	}

	if err := h.validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return "invalid arguments: " + strings.Join(fields, ", "), false
		}
		return fmt.Sprintf("invalid arguments: %v", err), false
	}
	return "", true
}

// ledgerFailure maps a ledger client error onto the error taxonomy.
func (h *Handlers) ledgerFailure(op string, err error) Result {
	h.log.Warn("ledger operation failed", "operation", op, "error", err)

	switch {
	case errors.Is(err, ledger.ErrRejected):
		return failure(op, KindUpstreamRejected, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return failure(op, KindTimeout, "the ledger did not respond in time; it is safe to try again")
	default:
		return failure(op, KindUpstreamUnavailable,
			"the ledger is temporarily unreachable; it is safe to try again")
	}
}
