package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"

	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/ledger"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/records"
	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/session"
)

const systemPreamble = `You are the assistant for a home renovation business.
You answer questions about renovation projects and the accounting ledger
(customers, invoices, payments), and you can perform operations through the
tools provided. Rules:
- Only state facts present in the context sections below. If a domain is
  marked unavailable, say so instead of guessing.
- Use a tool whenever the user asks for a change (an invoice, a payment,
  a project status). Never claim a change happened without a tool result.
- Amounts are US dollars. Be concise and concrete; include entity IDs.`

// turnContext is everything fetched for one turn.
type turnContext struct {
	records     *records.Context
	ledger      *ledger.Context
	fetched     map[string]bool // domain name → context loaded
	unavailable []string        // domains that could not be loaded
}

func newTurnContext() *turnContext {
	return &turnContext{fetched: make(map[string]bool)}
}

func (tc *turnContext) setRecords(c records.Context) {
	tc.records = &c
	tc.fetched["records"] = true
	if c.Unavailable {
		tc.unavailable = append(tc.unavailable, "records")
	}
}

func (tc *turnContext) setLedger(c ledger.Context) {
	tc.ledger = &c
	tc.fetched["ledger"] = true
	if c.Unavailable {
		tc.unavailable = append(tc.unavailable, "ledger")
	}
}

// systemPrompt renders the preamble plus serialized context sections.
func (tc *turnContext) systemPrompt(mem *session.Memory) string {
	var b strings.Builder
	b.WriteString(systemPreamble)

	if mem != nil && (mem.LastEntityID != "" || mem.LastInvoiceID != "" || mem.LastCustomer != "") {
		b.WriteString("\n\n## Conversation memory\n")
		if mem.LastEntityID != "" {
			fmt.Fprintf(&b, "Last entity discussed: %s", mem.LastEntityID)
			if mem.LastEntityName != "" {
				fmt.Fprintf(&b, " (%s)", mem.LastEntityName)
			}
			b.WriteString("\n")
		}
		if mem.LastInvoiceID != "" {
			fmt.Fprintf(&b, "Last invoice: %s\n", mem.LastInvoiceID)
		}
		if mem.LastCustomer != "" {
			fmt.Fprintf(&b, "Last customer: %s\n", mem.LastCustomer)
		}
	}

	if tc.records != nil {
		b.WriteString("\n\n## Project records\n")
		writeSection(&b, tc.records)
	}
	if tc.ledger != nil {
		b.WriteString("\n\n## Ledger\n")
		writeSection(&b, tc.ledger)
	}
	if tc.records == nil && tc.ledger == nil {
		b.WriteString("\n\nNo external data was loaded for this message.")
	}
	return b.String()
}

func writeSection(b *strings.Builder, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		b.WriteString("(context could not be serialized)")
		return
	}
	b.Write(data)
}

// contextNote builds the model-visible message for a domain fetched
// mid-turn, after the system prompt was already sent.
func contextNote(domain string, v any) *ai.Message {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte("{}")
	}
	return ai.NewUserMessage(ai.NewTextPart(
		fmt.Sprintf("[context] %s data loaded on demand:\n%s", domain, data)))
}

// unavailabilityNote is appended to the reply when domains failed to load,
// so the user is never silently answered from partial data.
func (tc *turnContext) unavailabilityNote() string {
	if len(tc.unavailable) == 0 {
		return ""
	}
	return fmt.Sprintf("\n\n(Note: %s data was temporarily unavailable for this reply.)",
		strings.Join(tc.unavailable, " and "))
}
