package ops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/planner"
)

// Handler executes one operation. It must return a Result for every input;
// errors are expressed in the Result, never returned.
type Handler func(ctx context.Context, req Request) Result

// Spec describes one operation in the catalogue: what the model (and the
// /operations listing) sees.
type Spec struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Domain      planner.Domain     `json:"domain"`
	Schema      *jsonschema.Schema `json:"schema"`
}

type operation struct {
	spec    Spec
	handler Handler
	mutates bool // mutating operations go through the idempotency store
}

// Registry maps operation names to handlers. The mapping is fixed at
// construction; adding an operation is a table addition, not a new branch.
type Registry struct {
	ops   map[string]operation
	idem  *resultStore
	log   *slog.Logger
	order []string
}

// NewRegistry builds the registry over the standard handler set.
func NewRegistry(h *Handlers, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		ops:  make(map[string]operation),
		idem: newResultStore(),
		log:  logger,
	}

	register := func(spec Spec, mutates bool, argsSchema func() (*jsonschema.Schema, error), handler Handler) error {
		schema, err := argsSchema()
		if err != nil {
			return fmt.Errorf("schema for %s: %w", spec.Name, err)
		}
		spec.Schema = schema
		r.ops[spec.Name] = operation{spec: spec, handler: handler, mutates: mutates}
		r.order = append(r.order, spec.Name)
		return nil
	}

	entries := []struct {
		spec    Spec
		mutates bool
		schema  func() (*jsonschema.Schema, error)
		handler Handler
	}{
		{
			spec: Spec{
				Name:        OpCreateInvoice,
				Description: "Create a new invoice in the accounting ledger for a customer.",
				Domain:      planner.DomainLedger,
			},
			mutates: true,
			schema:  func() (*jsonschema.Schema, error) { return jsonschema.For[CreateInvoiceArgs](nil) },
			handler: h.CreateInvoice,
		},
		{
			spec: Spec{
				Name:        OpUpdateInvoice,
				Description: "Update an existing invoice's amount, status, memo or due date.",
				Domain:      planner.DomainLedger,
			},
			mutates: true,
			schema:  func() (*jsonschema.Schema, error) { return jsonschema.For[UpdateInvoiceArgs](nil) },
			handler: h.UpdateInvoice,
		},
		{
			spec: Spec{
				Name:        OpRecordPayment,
				Description: "Record a payment received against an invoice.",
				Domain:      planner.DomainLedger,
			},
			mutates: true,
			schema:  func() (*jsonschema.Schema, error) { return jsonschema.For[RecordPaymentArgs](nil) },
			handler: h.RecordPayment,
		},
		{
			spec: Spec{
				Name:        OpUpdateProjectStatus,
				Description: "Set the status of a renovation project in the records workbook.",
				Domain:      planner.DomainRecords,
			},
			mutates: true,
			schema:  func() (*jsonschema.Schema, error) { return jsonschema.For[UpdateProjectStatusArgs](nil) },
			handler: h.UpdateProjectStatus,
		},
	}

	for _, e := range entries {
		if err := register(e.spec, e.mutates, e.schema, e.handler); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Catalogue lists all operations in registration order.
func (r *Registry) Catalogue() []Spec {
	specs := make([]Spec, 0, len(r.ops))
	for _, name := range r.order {
		specs = append(specs, r.ops[name].spec)
	}
	return specs
}

// Lookup returns the spec for an operation name.
func (r *Registry) Lookup(name string) (Spec, bool) {
	op, ok := r.ops[name]
	return op.spec, ok
}

// Dispatch executes one request and always returns exactly one Result.
//
// Unknown names fail with unknown_operation. For mutating operations the
// idempotency store is consulted first: a token seen before returns the
// stored result untouched, marked Replayed. Panics inside handlers are
// recovered into internal_error.
func (r *Registry) Dispatch(ctx context.Context, req Request) (res Result) {
	op, ok := r.ops[req.Name]
	if !ok {
		r.log.Warn("unknown operation requested", "operation", req.Name)
		return failure(req.Name, KindUnknownOperation,
			fmt.Sprintf("no operation named %q is available", req.Name))
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("handler panic",
				"operation", req.Name,
				"panic", rec,
				"stack", string(debug.Stack()))
			res = failure(req.Name, KindInternalError,
				"the operation failed unexpectedly; nothing may have been applied")
		}
	}()

	token := ""
	if op.mutates {
		token = Token(req)
		if prior, seen := r.idem.get(token); seen {
			r.log.Info("operation replayed from idempotency store",
				"operation", req.Name, "token", shortToken(token))
			prior.Replayed = true
			return prior
		}
		req.IdempotencyKey = token
	}

	res = op.handler(ctx, req)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !res.OK() {
		res.ErrorKind = KindTimeout
	}

	if op.mutates && res.OK() {
		r.idem.put(token, res)
	}

	r.log.Info("operation dispatched",
		"operation", req.Name,
		"status", res.Status,
		"error_kind", res.ErrorKind)
	return res
}

// shortToken truncates a token for log lines.
func shortToken(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
