// Package orchestrator coordinates one chat turn end to end.
//
// A turn walks a fixed state sequence: plan the required data domains,
// fetch them concurrently, call the model with the assembled context and
// the operation catalogue, dispatch any requested operations in order,
// persist session memory, and return the reply. Upstream failures degrade
// the turn (a domain marked unavailable); only internal faults fail it.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/sync/errgroup"

	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/ledger"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/model"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/ops"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/planner"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/records"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/session"
)

// fallbackReply is returned when the model call fails unrecoverably.
const fallbackReply = "I'm sorry, something went wrong on my side. Please try again in a moment."

// TurnResult is what one processed message produces.
type TurnResult struct {
	Reply      string       `json:"reply"`
	Operations []ops.Result `json:"operations"`
}

// Config wires an Orchestrator.
type Config struct {
	Planner  *planner.Planner
	Records  *records.Fetcher
	Ledger   *ledger.Fetcher
	Registry *ops.Registry
	Model    model.Model
	Sessions *session.Store
	Logger   *slog.Logger

	FetchTimeout time.Duration // per-fetcher, default 5s
	ModelTimeout time.Duration // per model call, default 30s
	TurnDeadline time.Duration // whole turn, default 45s
	MaxRounds    int           // model call / dispatch rounds, default 4
}

// Orchestrator runs chat turns. Turns for the same session are serialized;
// different sessions run concurrently.
type Orchestrator struct {
	planner  *planner.Planner
	records  *records.Fetcher
	ledger   *ledger.Fetcher
	registry *ops.Registry
	model    model.Model
	sessions *session.Store
	log      *slog.Logger

	fetchTimeout time.Duration
	modelTimeout time.Duration
	turnDeadline time.Duration
	maxRounds    int

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates an Orchestrator, defaulting zero timeouts.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Planner == nil:
		return nil, errors.New("planner is required")
	case cfg.Records == nil:
		return nil, errors.New("records fetcher is required")
	case cfg.Ledger == nil:
		return nil, errors.New("ledger fetcher is required")
	case cfg.Registry == nil:
		return nil, errors.New("registry is required")
	case cfg.Model == nil:
		return nil, errors.New("model is required")
	case cfg.Sessions == nil:
		return nil, errors.New("session store is required")
	case cfg.Logger == nil:
		return nil, errors.New("logger is required")
	}

	o := &Orchestrator{
		planner:      cfg.Planner,
		records:      cfg.Records,
		ledger:       cfg.Ledger,
		registry:     cfg.Registry,
		model:        cfg.Model,
		sessions:     cfg.Sessions,
		log:          cfg.Logger,
		fetchTimeout: cfg.FetchTimeout,
		modelTimeout: cfg.ModelTimeout,
		turnDeadline: cfg.TurnDeadline,
		maxRounds:    cfg.MaxRounds,
		locks:        make(map[string]*sync.Mutex),
	}
	if o.fetchTimeout <= 0 {
		o.fetchTimeout = 5 * time.Second
	}
	if o.modelTimeout <= 0 {
		o.modelTimeout = 30 * time.Second
	}
	if o.turnDeadline <= 0 {
		o.turnDeadline = 45 * time.Second
	}
	if o.maxRounds <= 0 {
		o.maxRounds = 4
	}
	return o, nil
}

// HandleTurn processes one inbound message for a session.
//
// The returned error is reserved for caller mistakes (bad session ID);
// model and upstream failures degrade into the reply instead, because a
// partially-completed turn still carries results the user must see.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID, message string) (*TurnResult, error) {
	sessionID, err := session.NormalizeID(sessionID)
	if err != nil {
		return nil, err
	}

	// Same-session turns must not race memory writes.
	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, o.turnDeadline)
	defer cancel()

	start := time.Now()

	// PLANNING
	mem, err := o.sessions.Get(sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	plan := o.planner.Plan(message, mem)

	o.log.Info("turn planned",
		"session_id", sessionID,
		"domains", plan.Domains,
		"hints", plan.EntityHints)

	// FETCHING
	tc := o.fetch(ctx, plan)

	// MODEL_CALL + DISPATCHING
	reply, results := o.converse(ctx, tc, plan, mem, sessionID, message)

	// PERSISTING
	o.remember(mem, plan, results, message, reply)
	if err := o.sessions.Put(sessionID, mem); err != nil {
		o.log.Warn("persisting session failed", "session_id", sessionID, "error", err)
	}

	o.log.Info("turn complete",
		"session_id", sessionID,
		"operations", len(results),
		"elapsed", time.Since(start))

	return &TurnResult{Reply: reply, Operations: results}, nil
}

// fetch loads the planned domains concurrently, each under its own timeout.
func (o *Orchestrator) fetch(ctx context.Context, plan *planner.Plan) *turnContext {
	tc := newTurnContext()
	if len(plan.Domains) == 0 {
		return tc
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	if plan.Needs(planner.DomainRecords) {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, o.fetchTimeout)
			defer cancel()
			c := o.records.Fetch(fctx, plan.EntityHints)
			mu.Lock()
			tc.setRecords(c)
			mu.Unlock()
			return nil
		})
	}
	if plan.Needs(planner.DomainLedger) {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, o.fetchTimeout)
			defer cancel()
			c := o.ledger.Fetch(fctx, plan.EntityHints)
			mu.Lock()
			tc.setLedger(c)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // fetchers absorb their own failures

	return tc
}

// converse runs the model/dispatch loop and returns the final reply plus
// all operation results in dispatch order.
func (o *Orchestrator) converse(
	ctx context.Context,
	tc *turnContext,
	plan *planner.Plan,
	mem *session.Memory,
	sessionID, message string,
) (string, []ops.Result) {
	conv := &model.Conversation{System: tc.systemPrompt(mem)}
	for _, ex := range mem.Recent {
		conv.Append(ai.NewUserMessage(ai.NewTextPart(ex.User)))
		conv.Append(ai.NewModelMessage(ai.NewTextPart(ex.Assistant)))
	}
	conv.Append(ai.NewUserMessage(ai.NewTextPart(message)))

	var results []ops.Result

	for round := 0; round < o.maxRounds; round++ {
		mctx, cancel := context.WithTimeout(ctx, o.modelTimeout)
		turn, err := o.model.Converse(mctx, conv)
		cancel()
		if err != nil {
			o.log.Error("model call failed",
				"session_id", sessionID, "round", round, "error", err)
			return fallbackReply, results
		}

		if len(turn.ToolRequests) == 0 {
			return turn.Reply + tc.unavailabilityNote(), results
		}

		// The raw model message precedes its tool responses.
		if turn.Message != nil {
			conv.Append(turn.Message)
		}

		parts := make([]*ai.Part, 0, len(turn.ToolRequests))
		var notes []*ai.Message
		for _, tr := range turn.ToolRequests {
			req := ops.Request{
				Name:      tr.Name,
				Args:      toArgs(tr.Input),
				SessionID: sessionID,
			}

			if note := o.ensureDomain(ctx, tc, req.Name); note != nil {
				notes = append(notes, note)
			}

			res := o.registry.Dispatch(ctx, req)
			results = append(results, res)

			parts = append(parts, ai.NewToolResponsePart(&ai.ToolResponse{
				Name:   tr.Name,
				Ref:    tr.Ref,
				Output: res,
			}))
		}
		// Providers require the tool response to directly follow the
		// tool-call message; on-demand context notes go after it.
		conv.Append(&ai.Message{Role: ai.RoleTool, Content: parts})
		for _, note := range notes {
			conv.Append(note)
		}
	}

	// Round budget exhausted: summarize what actually happened rather
	// than letting the model keep looping.
	o.log.Warn("dispatch round budget exhausted", "session_id", sessionID)
	return summarizeResults(results) + tc.unavailabilityNote(), results
}

// ensureDomain fetches an operation's domain on demand when the planner
// did not load it, so dispatch never runs blind against unfetched state.
// The returned note carries the fetched context for the model; the caller
// appends it once the tool-call/tool-response pair is complete.
func (o *Orchestrator) ensureDomain(ctx context.Context, tc *turnContext, opName string) *ai.Message {
	spec, ok := o.registry.Lookup(opName)
	if !ok || tc.fetched[string(spec.Domain)] {
		return nil
	}

	fctx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
	defer cancel()

	var note *ai.Message
	switch spec.Domain {
	case planner.DomainRecords:
		c := o.records.Fetch(fctx, nil)
		tc.setRecords(c)
		note = contextNote("records", c)
	case planner.DomainLedger:
		c := o.ledger.Fetch(fctx, nil)
		tc.setLedger(c)
		note = contextNote("ledger", c)
	default:
		return nil
	}

	o.log.Info("fetched domain on demand", "domain", spec.Domain, "operation", opName)
	return note
}

// remember merges the turn's outcome into session memory.
func (o *Orchestrator) remember(mem *session.Memory, plan *planner.Plan, results []ops.Result, message, reply string) {
	if len(plan.Domains) > 0 {
		mem.LastDomain = string(plan.Domains[0])
	}
	if len(plan.EntityHints) > 0 {
		mem.LastEntityID = plan.EntityHints[0]
	}

	for _, res := range results {
		if !res.OK() {
			continue
		}
		if id, ok := res.SideEffects["invoice_id"]; ok {
			mem.LastInvoiceID = id
			mem.LastEntityID = id
		}
		if customer, ok := res.SideEffects["customer"]; ok {
			mem.LastCustomer = customer
			mem.LastEntityName = customer
		}
		if id, ok := res.SideEffects["project_id"]; ok {
			mem.LastEntityID = id
		}
	}

	mem.AddExchange(message, reply, time.Now())
}

// sessionLock returns the mutex serializing turns for one session.
// Locks are never removed; a dangling mutex per idle session is small and
// avoids unlock-vs-delete races.
func (o *Orchestrator) sessionLock(id string) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()

	lock, ok := o.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[id] = lock
	}
	return lock
}

// toArgs normalizes a tool request input into the registry's argument map.
func toArgs(input any) map[string]any {
	if input == nil {
		return map[string]any{}
	}
	if m, ok := input.(map[string]any); ok {
		return m
	}
	// Unexpected shape: round-trip through JSON.
	raw, err := json.Marshal(input)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}

// summarizeResults builds a plain fallback reply from dispatch results.
func summarizeResults(results []ops.Result) string {
	if len(results) == 0 {
		return fallbackReply
	}
	reply := "Here is what I completed:"
	for _, res := range results {
		reply += "\n- " + res.Detail
	}
	return reply
}
