package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/cache"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/ledger"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/log"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/model"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/ops"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/planner"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/records"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/session"
)

// scriptedModel returns pre-programmed turns in order and records the
// conversations it received.
type scriptedModel struct {
	turns []*model.Turn
	err   error

	calls         atomic.Int64
	conversations []*model.Conversation
}

func (m *scriptedModel) Converse(ctx context.Context, conv *model.Conversation) (*model.Turn, error) {
	n := int(m.calls.Add(1)) - 1
	m.conversations = append(m.conversations, conv)
	if m.err != nil {
		return nil, m.err
	}
	if n >= len(m.turns) {
		return &model.Turn{Reply: "Anything else?"}, nil
	}
	return m.turns[n], nil
}

func replyTurn(text string) *model.Turn {
	return &model.Turn{Reply: text}
}

func toolTurn(name string, args map[string]any) *model.Turn {
	return &model.Turn{
		ToolRequests: []*ai.ToolRequest{{Name: name, Input: args, Ref: "r1"}},
		Message: &ai.Message{
			Role:    ai.RoleModel,
			Content: []*ai.Part{ai.NewToolRequestPart(&ai.ToolRequest{Name: name, Input: args, Ref: "r1"})},
		},
	}
}

// fakeLedgerClient implements ledger.Client with call counting.
type fakeLedgerClient struct {
	listErr      error
	createCalls  atomic.Int64
	invoiceCalls atomic.Int64
}

func (f *fakeLedgerClient) ListCustomers(ctx context.Context) ([]ledger.Customer, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return []ledger.Customer{{ID: "CUS-1", Name: "Jones", Balance: 500}}, nil
}

func (f *fakeLedgerClient) ListInvoices(ctx context.Context, _ ledger.InvoiceFilter) ([]ledger.Invoice, error) {
	f.invoiceCalls.Add(1)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return []ledger.Invoice{{ID: "INV-200", Customer: "Jones", Amount: 300, Status: "open"}}, nil
}

func (f *fakeLedgerClient) CreateInvoice(ctx context.Context, in ledger.InvoiceInput, idemKey string) (ledger.Invoice, error) {
	f.createCalls.Add(1)
	return ledger.Invoice{ID: "INV-204", Customer: in.Customer, Amount: in.Amount, Status: "open"}, nil
}

func (f *fakeLedgerClient) UpdateInvoice(ctx context.Context, id string, patch ledger.InvoicePatch, idemKey string) (ledger.Invoice, error) {
	return ledger.Invoice{ID: id, Status: "open"}, nil
}

func (f *fakeLedgerClient) RecordPayment(ctx context.Context, in ledger.PaymentInput, idemKey string) (ledger.Payment, error) {
	return ledger.Payment{ID: "PAY-31", InvoiceID: in.InvoiceID, Amount: in.Amount}, nil
}

// fakeRecordsStore implements records.Store.
type fakeRecordsStore struct {
	listCalls atomic.Int64
	err       error
}

func (f *fakeRecordsStore) List() ([]records.Project, error) {
	f.listCalls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return []records.Project{
		{ID: "PRJ-102", Name: "Kitchen Remodel", Customer: "Jones", Status: "active"},
		{ID: "PRJ-101", Name: "Bathroom Refit", Customer: "Chen", Status: "active"},
	}, nil
}

func (f *fakeRecordsStore) UpdateProjectStatus(id, status string) (records.Project, error) {
	return records.Project{ID: id, Name: "Kitchen Remodel", Status: status}, nil
}

type fixture struct {
	orch     *Orchestrator
	model    *scriptedModel
	ledger   *fakeLedgerClient
	records  *fakeRecordsStore
	sessions *session.Store
	cache    *cache.Cache
}

func newFixture(t *testing.T, m *scriptedModel) *fixture {
	t.Helper()

	logger := log.NewNop()
	led := &fakeLedgerClient{}
	rec := &fakeRecordsStore{}
	c := cache.New(5 * time.Minute)

	reg, err := ops.NewRegistry(ops.NewHandlers(rec, led, c, logger), logger)
	require.NoError(t, err)

	sessions := session.NewStore(30*time.Minute, logger, session.WithSweepInterval(0))
	t.Cleanup(sessions.Close)

	orch, err := New(Config{
		Planner:  planner.New(planner.Config{KnownNames: []string{"Jones", "Chen"}}),
		Records:  records.NewFetcher(rec, 15, logger),
		Ledger:   ledger.NewFetcher(led, c, 15, logger),
		Registry: reg,
		Model:    m,
		Sessions: sessions,
		Logger:   logger,
	})
	require.NoError(t, err)

	return &fixture{orch: orch, model: m, ledger: led, records: rec, sessions: sessions, cache: c}
}

func TestHandleTurn_SmallTalk(t *testing.T) {
	t.Parallel()

	m := &scriptedModel{turns: []*model.Turn{replyTurn("Hello! How can I help?")}}
	fx := newFixture(t, m)

	res, err := fx.orch.HandleTurn(context.Background(), "sess-1", "Hello")
	require.NoError(t, err)

	assert.Equal(t, "Hello! How can I help?", res.Reply)
	assert.Empty(t, res.Operations)
	assert.Zero(t, fx.records.listCalls.Load(), "small talk must not fetch")
	assert.Zero(t, fx.ledger.invoiceCalls.Load())
	require.Len(t, m.conversations, 1)
	assert.Contains(t, m.conversations[0].System, "No external data was loaded")
}

func TestHandleTurn_RecordsQuestion(t *testing.T) {
	t.Parallel()

	m := &scriptedModel{turns: []*model.Turn{replyTurn("The Jones kitchen remodel (PRJ-102) is active.")}}
	fx := newFixture(t, m)

	res, err := fx.orch.HandleTurn(context.Background(), "sess-1", "What's the status of the Jones project?")
	require.NoError(t, err)

	assert.Contains(t, res.Reply, "PRJ-102")
	assert.Empty(t, res.Operations)
	assert.EqualValues(t, 1, fx.records.listCalls.Load())

	// The model saw the filtered Jones record in its system prompt.
	require.Len(t, m.conversations, 1)
	assert.Contains(t, m.conversations[0].System, "Kitchen Remodel")
	assert.NotContains(t, m.conversations[0].System, "Bathroom Refit",
		"hinted fetch narrows to matching projects")
}

func TestHandleTurn_CreateInvoice(t *testing.T) {
	t.Parallel()

	m := &scriptedModel{turns: []*model.Turn{
		toolTurn(ops.OpCreateInvoice, map[string]any{"customer": "Jones", "amount": 500.0}),
		replyTurn("Done — created INV-204 for Jones, $500."),
	}}
	fx := newFixture(t, m)

	res, err := fx.orch.HandleTurn(context.Background(), "sess-1", "Create an invoice for the Jones project for $500")
	require.NoError(t, err)

	assert.Contains(t, res.Reply, "INV-204")
	require.Len(t, res.Operations, 1)
	assert.True(t, res.Operations[0].OK())
	assert.Equal(t, "INV-204", res.Operations[0].SideEffects["invoice_id"])
	assert.EqualValues(t, 1, fx.ledger.createCalls.Load())

	// Cross-domain message fetched both domains concurrently.
	assert.EqualValues(t, 1, fx.records.listCalls.Load())
	assert.EqualValues(t, 1, fx.ledger.invoiceCalls.Load())

	// Ledger cache was invalidated by the confirmed write.
	_, ok := fx.cache.Get("ledger:invoices:open")
	assert.False(t, ok)

	// The model got the tool result appended before its final call.
	require.Len(t, m.conversations, 2)
	last := m.conversations[1].Messages[len(m.conversations[1].Messages)-1]
	assert.Equal(t, ai.RoleTool, last.Role)

	// Memory carries the created invoice.
	mem, err := fx.sessions.Peek("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "INV-204", mem.LastInvoiceID)
	assert.Equal(t, "Jones", mem.LastCustomer)
	assert.Equal(t, 1, mem.TurnCount)
}

func TestHandleTurn_ReplayedCreateIsIdempotent(t *testing.T) {
	t.Parallel()

	args := map[string]any{"customer": "Jones", "amount": 500.0}
	m := &scriptedModel{turns: []*model.Turn{
		toolTurn(ops.OpCreateInvoice, args),
		replyTurn("Created INV-204."),
		toolTurn(ops.OpCreateInvoice, args),
		replyTurn("That invoice already exists: INV-204."),
	}}
	fx := newFixture(t, m)

	first, err := fx.orch.HandleTurn(context.Background(), "sess-1", "Create an invoice for Jones for $500")
	require.NoError(t, err)
	second, err := fx.orch.HandleTurn(context.Background(), "sess-1", "Create an invoice for Jones for $500")
	require.NoError(t, err)

	require.Len(t, first.Operations, 1)
	require.Len(t, second.Operations, 1)
	assert.True(t, second.Operations[0].Replayed)
	assert.Equal(t, first.Operations[0].SideEffects, second.Operations[0].SideEffects)
	assert.EqualValues(t, 1, fx.ledger.createCalls.Load(), "one ledger entity despite the replay")
}

func TestHandleTurn_LedgerUnavailable(t *testing.T) {
	t.Parallel()

	m := &scriptedModel{turns: []*model.Turn{replyTurn("Project records show two active projects.")}}
	fx := newFixture(t, m)
	fx.ledger.listErr = ledger.ErrUnavailable

	res, err := fx.orch.HandleTurn(context.Background(), "sess-1",
		"Summarize the projects and any unpaid invoices")
	require.NoError(t, err, "ledger outage must not fail the turn")

	assert.Contains(t, res.Reply, "ledger data was temporarily unavailable")
	assert.EqualValues(t, 1, fx.records.listCalls.Load(), "records still fetched")

	require.Len(t, m.conversations, 1)
	assert.Contains(t, m.conversations[0].System, `"unavailable": true`)
}

func TestHandleTurn_ModelFailureReturnsFallback(t *testing.T) {
	t.Parallel()

	m := &scriptedModel{err: errors.New("provider exploded")}
	fx := newFixture(t, m)

	res, err := fx.orch.HandleTurn(context.Background(), "sess-1", "hi there, what's up with the projects?")
	require.NoError(t, err)

	assert.Equal(t, fallbackReply, res.Reply)
	assert.Empty(t, res.Operations)
}

func TestHandleTurn_OnDemandDomainFetch(t *testing.T) {
	t.Parallel()

	// A records-only message whose turn nevertheless requests a ledger
	// operation: the orchestrator must fetch ledger context on demand.
	m := &scriptedModel{turns: []*model.Turn{
		toolTurn(ops.OpCreateInvoice, map[string]any{"customer": "Jones", "amount": 250.0}),
		replyTurn("Created INV-204 for Jones."),
	}}
	fx := newFixture(t, m)

	res, err := fx.orch.HandleTurn(context.Background(), "sess-1", "What's the status of the Jones project?")
	require.NoError(t, err)

	require.Len(t, res.Operations, 1)
	assert.True(t, res.Operations[0].OK())
	assert.EqualValues(t, 1, fx.ledger.invoiceCalls.Load(), "ledger fetched on demand")

	// The on-demand context reached the model as a message.
	require.Len(t, m.conversations, 2)
	joined := ""
	for _, msg := range m.conversations[1].Messages {
		for _, part := range msg.Content {
			joined += part.Text
		}
	}
	assert.Contains(t, joined, "ledger data loaded on demand")
}

func TestHandleTurn_ToolResponseDirectlyFollowsToolCall(t *testing.T) {
	t.Parallel()

	// Providers reject a conversation where anything separates a tool-call
	// message from its tool response, so an on-demand context fetch must
	// not splice a user message between the two.
	m := &scriptedModel{turns: []*model.Turn{
		toolTurn(ops.OpCreateInvoice, map[string]any{"customer": "Jones", "amount": 250.0}),
		replyTurn("Created INV-204 for Jones."),
	}}
	fx := newFixture(t, m)

	_, err := fx.orch.HandleTurn(context.Background(), "sess-1", "What's the status of the Jones project?")
	require.NoError(t, err)

	require.Len(t, m.conversations, 2)
	msgs := m.conversations[1].Messages

	toolCallAt := -1
	for i, msg := range msgs {
		for _, part := range msg.Content {
			if part.ToolRequest != nil {
				toolCallAt = i
			}
		}
	}
	require.GreaterOrEqual(t, toolCallAt, 0, "conversation must carry the tool-call message")
	require.Less(t, toolCallAt+1, len(msgs))
	assert.Equal(t, ai.RoleTool, msgs[toolCallAt+1].Role,
		"tool response must be the very next message after the tool call")

	// The on-demand context note trails the tool response.
	var noteAt int
	for i, msg := range msgs {
		for _, part := range msg.Content {
			if strings.Contains(part.Text, "loaded on demand") {
				noteAt = i
			}
		}
	}
	assert.Greater(t, noteAt, toolCallAt+1, "context note must come after the tool response")
}

func TestHandleTurn_SameSessionTurnsSerialized(t *testing.T) {
	t.Parallel()

	m := &scriptedModel{turns: []*model.Turn{
		replyTurn("Two projects are active."),
		replyTurn("Nothing is overdue."),
	}}
	fx := newFixture(t, m)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	for _, msg := range []string{"How are the projects?", "Anything overdue on the schedule?"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.orch.HandleTurn(context.Background(), "sess-1", msg)
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	// Both turns landed in memory: serialized turns cannot lose a write.
	mem, err := fx.sessions.Peek("sess-1")
	require.NoError(t, err)
	assert.Equal(t, 2, mem.TurnCount)
	assert.Len(t, mem.Recent, 2)
}

func TestHandleTurn_RoundBudgetExhausted(t *testing.T) {
	t.Parallel()

	// Model keeps asking for the same tool and never produces a reply.
	turns := make([]*model.Turn, 0, 6)
	for i := 0; i < 6; i++ {
		turns = append(turns, toolTurn(ops.OpUpdateProjectStatus,
			map[string]any{"project_id": "PRJ-102", "status": "on-hold"}))
	}
	m := &scriptedModel{turns: turns}
	fx := newFixture(t, m)

	res, err := fx.orch.HandleTurn(context.Background(), "sess-1", "Put the Jones project on hold")
	require.NoError(t, err)

	assert.EqualValues(t, 4, m.calls.Load(), "loop stops at the round budget")
	assert.NotEmpty(t, res.Operations)
	assert.True(t, strings.HasPrefix(res.Reply, "Here is what I completed:"), "reply: %q", res.Reply)
}

func TestHandleTurn_MemoryCarriesAcrossTurns(t *testing.T) {
	t.Parallel()

	m := &scriptedModel{turns: []*model.Turn{
		toolTurn(ops.OpCreateInvoice, map[string]any{"customer": "Jones", "amount": 500.0}),
		replyTurn("Created INV-204."),
		toolTurn(ops.OpRecordPayment, map[string]any{"invoice_id": "INV-204", "amount": 500.0}),
		replyTurn("Payment recorded against INV-204."),
	}}
	fx := newFixture(t, m)

	_, err := fx.orch.HandleTurn(context.Background(), "sess-1", "Invoice Jones for $500")
	require.NoError(t, err)

	res, err := fx.orch.HandleTurn(context.Background(), "sess-1", "Now record a payment for it")
	require.NoError(t, err)

	require.Len(t, res.Operations, 1)
	assert.Equal(t, "PAY-31", res.Operations[0].SideEffects["payment_id"])

	// Second turn's system prompt carried the remembered invoice.
	require.Len(t, m.conversations, 4)
	assert.Contains(t, m.conversations[2].System, "INV-204")
}

func TestHandleTurn_EmptySessionID(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &scriptedModel{})

	_, err := fx.orch.HandleTurn(context.Background(), "  ", "hello")
	assert.ErrorIs(t, err, session.ErrEmptyID)
}

func TestHandleTurn_UnknownOperationFromModel(t *testing.T) {
	t.Parallel()

	m := &scriptedModel{turns: []*model.Turn{
		toolTurn("launch_rocket", map[string]any{}),
		replyTurn("I can't do that."),
	}}
	fx := newFixture(t, m)

	res, err := fx.orch.HandleTurn(context.Background(), "sess-1", "update the project please")
	require.NoError(t, err)

	require.Len(t, res.Operations, 1)
	assert.Equal(t, ops.KindUnknownOperation, res.Operations[0].ErrorKind)
	assert.False(t, res.Operations[0].OK())
}
