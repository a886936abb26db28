package session

import (
	"errors"
	"strings"
	"time"
)

// Sentinel errors for session operations.
var (
	// ErrNotFound indicates the session does not exist or has expired.
	ErrNotFound = errors.New("session not found")

	// ErrEmptyID indicates an empty or whitespace-only session ID.
	ErrEmptyID = errors.New("session ID is empty")
)

// maxRecentExchanges caps the rolling conversation window kept per session.
const maxRecentExchanges = 10

// Exchange is one user/assistant round trip kept in session memory.
type Exchange struct {
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
	At        time.Time `json:"at"`
}

// Memory is the structured state carried across turns of a session.
// It is a fixed schema, not a free-form map: the orchestrator reads and
// writes known fields only.
type Memory struct {
	// LastEntityID is the most recent entity the conversation touched
	// (project, invoice, customer or payment ID).
	LastEntityID string `json:"last_entity_id,omitempty"`

	// LastEntityName is the display name paired with LastEntityID.
	LastEntityName string `json:"last_entity_name,omitempty"`

	// LastDomain records which data domain the previous turn resolved to.
	LastDomain string `json:"last_domain,omitempty"`

	// LastInvoiceID is the most recent invoice created or updated, so a
	// follow-up like "record a payment for it" can resolve the reference.
	LastInvoiceID string `json:"last_invoice_id,omitempty"`

	// LastCustomer is the most recent customer the conversation touched.
	LastCustomer string `json:"last_customer,omitempty"`

	// Recent is the rolling window of prior exchanges, oldest first.
	Recent []Exchange `json:"recent,omitempty"`

	// TurnCount is the total turns completed in this session.
	TurnCount int `json:"turn_count"`
}

// AddExchange appends a round trip to the rolling window, trimming the
// oldest entries beyond the cap, and bumps the turn counter.
func (m *Memory) AddExchange(user, assistant string, at time.Time) {
	m.Recent = append(m.Recent, Exchange{User: user, Assistant: assistant, At: at})
	if n := len(m.Recent); n > maxRecentExchanges {
		m.Recent = m.Recent[n-maxRecentExchanges:]
	}
	m.TurnCount++
}

// Clone returns a deep copy so callers can mutate freely without holding
// store locks.
func (m *Memory) Clone() *Memory {
	if m == nil {
		return &Memory{}
	}
	cp := *m
	cp.Recent = make([]Exchange, len(m.Recent))
	copy(cp.Recent, m.Recent)
	return &cp
}

// NormalizeID trims whitespace from a session ID and reports whether the
// result is usable.
func NormalizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrEmptyID
	}
	return id, nil
}
