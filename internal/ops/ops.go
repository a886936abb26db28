// Package ops dispatches side-effecting operations requested by the model.
//
// The registry is a static name → handler map built at construction. Every
// dispatch yields exactly one Result, including on panic; nothing escapes
// past the registry. Ledger mutations are made idempotent twice over: a
// local result store replays completed operations, and the derived token
// travels to the ledger as an Idempotency-Key.
package ops

import "time"

// Result status values.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ErrorKind classifies an operation failure.
type ErrorKind string

const (
	// KindValidationFailed means the arguments were bad or missing; the
	// upstream system was never called.
	KindValidationFailed ErrorKind = "validation_failed"

	// KindUpstreamUnavailable means a transport or auth failure; the
	// operation is safe to retry.
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"

	// KindUpstreamRejected means the external system refused the request
	// on business grounds; retrying without new input will not help.
	KindUpstreamRejected ErrorKind = "upstream_rejected"

	// KindUnknownOperation means no handler is registered for the name.
	KindUnknownOperation ErrorKind = "unknown_operation"

	// KindTimeout means the operation exceeded its deadline.
	KindTimeout ErrorKind = "timeout"

	// KindInternalError means a bug; logged in full, surfaced generically.
	KindInternalError ErrorKind = "internal_error"
)

// Request is one operation the model asked to perform.
type Request struct {
	// Name identifies the operation in the registry.
	Name string `json:"name"`

	// Args are the operation arguments as decoded from the model.
	Args map[string]any `json:"args"`

	// SessionID is the originating conversation, used to derive the
	// idempotency token.
	SessionID string `json:"session_id"`

	// IdempotencyKey overrides the derived token when the caller already
	// has one. Usually empty.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Result is the outcome of exactly one dispatched Request.
type Result struct {
	Operation string `json:"operation"`
	Status    string `json:"status"`

	// Detail is human-readable and surfaced verbatim in the chat reply.
	Detail string `json:"detail"`

	// SideEffects records what changed, e.g. {"invoice_id": "INV-204"}.
	SideEffects map[string]string `json:"side_effects,omitempty"`

	// ErrorKind is set iff Status is failed.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`

	// Replayed marks a result served from the idempotency store instead
	// of a fresh upstream call.
	Replayed bool `json:"replayed,omitempty"`

	CompletedAt time.Time `json:"completed_at"`
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool { return r.Status == StatusSuccess }

func success(op, detail string, effects map[string]string) Result {
	return Result{
		Operation:   op,
		Status:      StatusSuccess,
		Detail:      detail,
		SideEffects: effects,
		CompletedAt: time.Now(),
	}
}

func failure(op string, kind ErrorKind, detail string) Result {
	return Result{
		Operation:   op,
		Status:      StatusFailed,
		Detail:      detail,
		ErrorKind:   kind,
		CompletedAt: time.Now(),
	}
}
