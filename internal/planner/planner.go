// Package planner decides which external data domains a chat turn needs.
//
// Planning is deterministic, side-effect-free and does no I/O: it inspects
// the message text and session memory only. Domain vocabulary is data, not
// code — new terms are configuration additions, not new branches.
package planner

import (
	"regexp"
	"strings"

	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/session"
)

// Domain identifies an external data category a turn can load context from.
type Domain string

const (
	// DomainRecords is the spreadsheet-backed project records store.
	DomainRecords Domain = "records"

	// DomainLedger is the accounting ledger API.
	DomainLedger Domain = "ledger"
)

// Plan is the outcome of planning one turn. It is produced fresh per turn
// and never persisted.
type Plan struct {
	// Domains is the set of data domains to fetch. Empty means the turn
	// needs no external data (small talk).
	Domains []Domain

	// EntityHints are extracted identifiers and names, in order of
	// appearance, used to narrow fetches. Duplicates removed.
	EntityHints []string
}

// Needs reports whether the plan includes the given domain.
func (p *Plan) Needs(d Domain) bool {
	for _, got := range p.Domains {
		if got == d {
			return true
		}
	}
	return false
}

// idPattern matches structured entity identifiers: a known prefix plus
// digits, e.g. PRJ-102, INV-204, CUS-7, PAY-31.
var idPattern = regexp.MustCompile(`\b(?:PRJ|INV|CUS|PAY)-\d+\b`)

// Default vocabulary tables. Overridable via NewPlanner so deployments can
// extend them without code changes.
var (
	defaultLedgerTerms = []string{
		"invoice", "invoices", "payment", "payments", "balance", "owed",
		"owes", "bill", "billed", "billing", "paid", "unpaid", "overdue",
		"charge", "refund", "customer", "customers", "receivable",
	}

	defaultRecordsTerms = []string{
		"project", "projects", "status", "renovation", "remodel", "job",
		"jobs", "task", "tasks", "site", "crew", "schedule", "scheduled",
		"milestone", "permit", "inspection", "contractor", "budget",
	}

	defaultSmallTalk = []string{
		"hello", "hi", "hey", "thanks", "thank you", "good morning",
		"good afternoon", "good evening", "goodbye", "bye", "how are you",
	}
)

// Planner classifies messages into domain sets and extracts entity hints.
type Planner struct {
	ledgerTerms  []string
	recordsTerms []string
	smallTalk    []string
	knownNames   []string
}

// Config carries vocabulary overrides. Empty slices keep the defaults.
type Config struct {
	LedgerTerms  []string
	RecordsTerms []string
	SmallTalk    []string

	// KnownNames is a small lookup table of entity names (customers,
	// project names) that count as entity hints when present in a message.
	KnownNames []string
}

// New creates a planner with the given vocabulary configuration.
func New(cfg Config) *Planner {
	p := &Planner{
		ledgerTerms:  defaultLedgerTerms,
		recordsTerms: defaultRecordsTerms,
		smallTalk:    defaultSmallTalk,
		knownNames:   cfg.KnownNames,
	}
	if len(cfg.LedgerTerms) > 0 {
		p.ledgerTerms = cfg.LedgerTerms
	}
	if len(cfg.RecordsTerms) > 0 {
		p.recordsTerms = cfg.RecordsTerms
	}
	if len(cfg.SmallTalk) > 0 {
		p.smallTalk = cfg.SmallTalk
	}
	return p
}

// Plan classifies a message and extracts entity hints.
//
// Classification rules:
//   - ledger vocabulary → include ledger
//   - records vocabulary → include records
//   - both → both (cross-domain turns are expected)
//   - neither → records by default, unless the message is pure small talk,
//     in which case the domain set is empty
//   - empty message → empty domain set
func (p *Planner) Plan(message string, mem *session.Memory) *Plan {
	plan := &Plan{}

	msg := strings.ToLower(strings.TrimSpace(message))
	if msg == "" {
		return plan
	}

	if containsAny(msg, p.ledgerTerms) {
		plan.Domains = append(plan.Domains, DomainLedger)
	}
	if containsAny(msg, p.recordsTerms) {
		plan.Domains = append(plan.Domains, DomainRecords)
	}
	if len(plan.Domains) == 0 && !p.isSmallTalk(msg) {
		plan.Domains = append(plan.Domains, DomainRecords)
	}

	plan.EntityHints = p.extractHints(message, mem)
	return plan
}

// isSmallTalk reports whether the message is a pure greeting. The match is
// deliberately strict: the whole message (modulo trailing punctuation) must
// be on the allow-list, so "hi, what's my balance" still plans normally.
func (p *Planner) isSmallTalk(msg string) bool {
	msg = strings.TrimRight(msg, "!.?, ")
	for _, phrase := range p.smallTalk {
		if msg == phrase {
			return true
		}
	}
	return false
}

// extractHints collects structured IDs and known names in order of
// appearance, then session-memory references, deduplicated.
func (p *Planner) extractHints(message string, mem *session.Memory) []string {
	var hints []string
	seen := make(map[string]struct{})

	add := func(h string) {
		h = strings.TrimSpace(h)
		if h == "" {
			return
		}
		key := strings.ToLower(h)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		hints = append(hints, h)
	}

	for _, id := range idPattern.FindAllString(message, -1) {
		add(id)
	}

	lower := strings.ToLower(message)
	for _, name := range p.knownNames {
		if name != "" && strings.Contains(lower, strings.ToLower(name)) {
			add(name)
		}
	}

	// Pronoun-style follow-ups ("record a payment for it") lean on what
	// the session last touched.
	if mem != nil && referencesPrior(lower) {
		add(mem.LastEntityID)
		add(mem.LastEntityName)
		add(mem.LastInvoiceID)
	}

	return hints
}

var priorRefs = []string{" it", " that one", " the same", " this one", " them"}

func referencesPrior(lower string) bool {
	lower = strings.TrimRight(lower, "!.?, ")
	for _, ref := range priorRefs {
		if strings.HasSuffix(lower, ref) || strings.Contains(lower, ref+" ") {
			return true
		}
	}
	return false
}

// containsAny reports whether msg contains any term as a whole word.
func containsAny(msg string, terms []string) bool {
	for _, term := range terms {
		if containsWord(msg, term) {
			return true
		}
	}
	return false
}

// containsWord matches term in msg on word boundaries, so "bill" does not
// match "billboard" unless "billboard" is itself a term.
func containsWord(msg, term string) bool {
	idx := 0
	for {
		i := strings.Index(msg[idx:], term)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(term)
		before := start == 0 || !isWordChar(msg[start-1])
		after := end == len(msg) || !isWordChar(msg[end])
		if before && after {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
