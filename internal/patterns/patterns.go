// Package patterns provides a YAML-driven pattern table for extracting
// structured transaction fields from provider SMS text.
//
// Providers change wording between product variants (send, receive, withdraw,
// till payment, inter-wallet transfer), so message shapes are declared as
// data: each pattern couples a regex with a semantic tag, and new shapes are
// added by editing YAML, not ingestion code.
package patterns

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pesakit/smsledger/internal/domain"
)

//go:embed patterns.yaml
var embeddedPatterns []byte

// ErrNoMatch is returned when no pattern structurally matches the message, or
// when the matched pattern's required amount field fails to parse. Both are
// extraction failures: the message is logged and dropped upstream, never
// fatal to the ingestion loop.
var ErrNoMatch = errors.New("no transaction pattern matched")

// defaultDateLayout parses provider timestamps like "15/12/23 2:30 PM".
const defaultDateLayout = "2/1/06 3:04 PM"

// Pattern is a single declared message shape.
//
// The regex must define a named capture group "amount"; the groups "fee",
// "counterparty", "balance", "date", "time", and "ref" are optional. Patterns
// are tried in priority order (highest first) and the first structural match
// wins; shape implies transaction type, so ordering matters where wordings
// overlap.
type Pattern struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"` // semantic tag: CREDIT, DEBIT, TRANSFER, WITHDRAW
	Priority   int    `yaml:"priority"`
	Regex      string `yaml:"regex"`
	DateLayout string `yaml:"date_layout"` // optional, defaults to defaultDateLayout

	compiled *regexp.Regexp
}

// patternSet is the top-level YAML structure.
type patternSet struct {
	Patterns []Pattern `yaml:"patterns"`
}

// Fields holds everything extracted from a matched message.
type Fields struct {
	PatternName     string
	Tag             domain.TransactionType
	Amount          float64
	Fee             float64 // zero when the message carried none
	Counterparty    string  // empty when the message carried none
	Reference       string  // provider receipt/reference code, if present
	ReportedBalance *float64
	OccurredAt      time.Time
}

// Engine applies the pattern table to normalized message bodies.
// Immutable after construction and safe for concurrent use.
type Engine struct {
	patterns []Pattern // sorted by priority, highest first
}

// NewEngine creates an engine from YAML pattern data, validating every entry.
func NewEngine(data []byte) (*Engine, error) {
	var set patternSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse YAML patterns (check syntax, indentation, and field names): %w", err)
	}
	if len(set.Patterns) == 0 {
		return nil, fmt.Errorf("pattern file declares no patterns")
	}

	for i := range set.Patterns {
		p := &set.Patterns[i]

		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("pattern %d: name cannot be empty", i)
		}
		if !domain.ValidateTransactionType(domain.TransactionType(p.Type)) {
			return nil, fmt.Errorf("pattern %d (%s): invalid type %q", i, p.Name, p.Type)
		}
		if p.Priority < 0 || p.Priority > 999 {
			return nil, fmt.Errorf("pattern %d (%s): priority must be in [0,999], got %d", i, p.Name, p.Priority)
		}

		compiled, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("pattern %d (%s): invalid regex: %w", i, p.Name, err)
		}
		if !hasGroup(compiled, "amount") {
			return nil, fmt.Errorf("pattern %d (%s): regex must define an 'amount' capture group", i, p.Name)
		}
		p.compiled = compiled

		if p.DateLayout == "" {
			p.DateLayout = defaultDateLayout
		}
	}

	// Highest priority first. Stable sort preserves YAML order for equal
	// priorities, keeping matching deterministic.
	sorted := make([]Pattern, len(set.Patterns))
	copy(sorted, set.Patterns)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	return &Engine{patterns: sorted}, nil
}

// LoadEmbedded loads the built-in patterns.yaml.
func LoadEmbedded() (*Engine, error) {
	engine, err := NewEngine(embeddedPatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded patterns (possible binary corruption): %w", err)
	}
	return engine, nil
}

// LoadFromFile loads a pattern table from a filesystem path.
func LoadFromFile(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read patterns file: %w", err)
	}
	engine, err := NewEngine(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load patterns from %q: %w", path, err)
	}
	return engine, nil
}

// Extract applies patterns in priority order and returns the fields of the
// first match.
//
// The amount group is required: if it is missing from the match or fails to
// parse, extraction fails with ErrNoMatch. Fee and counterparty default to
// zero/empty when absent. The message timestamp falls back to receivedAt when
// the date token is absent or unparsable.
func (e *Engine) Extract(body string, receivedAt time.Time) (*Fields, error) {
	for i := range e.patterns {
		p := &e.patterns[i]

		groups := matchGroups(p.compiled, body)
		if groups == nil {
			continue
		}

		amountStr, ok := groups["amount"]
		if !ok || strings.TrimSpace(amountStr) == "" {
			return nil, fmt.Errorf("%w: pattern %s matched without an amount", ErrNoMatch, p.Name)
		}
		amount, err := ParseAmount(amountStr)
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %s: bad amount %q: %v", ErrNoMatch, p.Name, amountStr, err)
		}

		fields := &Fields{
			PatternName:  p.Name,
			Tag:          domain.TransactionType(p.Type),
			Amount:       amount,
			Counterparty: strings.TrimSpace(strings.TrimSuffix(groups["counterparty"], ".")),
			Reference:    strings.TrimSpace(groups["ref"]),
			OccurredAt:   receivedAt,
		}

		// Optional fee: absence or a parse failure defaults to zero.
		if feeStr := groups["fee"]; strings.TrimSpace(feeStr) != "" {
			if fee, err := ParseAmount(feeStr); err == nil {
				fields.Fee = fee
			}
		}

		// Optional provider-reported balance, used only as a cross-check.
		if balStr := groups["balance"]; strings.TrimSpace(balStr) != "" {
			if bal, err := ParseAmount(balStr); err == nil {
				fields.ReportedBalance = &bal
			}
		}

		// Optional date + time tokens.
		if when, ok := parseWhen(groups["date"], groups["time"], p.DateLayout); ok {
			fields.OccurredAt = when
		}

		return fields, nil
	}

	return nil, ErrNoMatch
}

// Patterns returns a copy of the pattern table in priority order, without
// compiled state, for inspection and debugging.
func (e *Engine) Patterns() []Pattern {
	out := make([]Pattern, len(e.patterns))
	copy(out, e.patterns)
	for i := range out {
		out[i].compiled = nil
	}
	return out
}

// matchGroups returns named capture groups for the first match of re in body,
// or nil if there is no match.
func matchGroups(re *regexp.Regexp, body string) map[string]string {
	match := re.FindStringSubmatch(body)
	if match == nil {
		return nil
	}
	groups := make(map[string]string)
	for i, name := range re.SubexpNames() {
		if name != "" && i < len(match) {
			groups[name] = match[i]
		}
	}
	return groups
}

func hasGroup(re *regexp.Regexp, name string) bool {
	for _, n := range re.SubexpNames() {
		if n == name {
			return true
		}
	}
	return false
}

// parseWhen combines the captured date and time tokens and parses them with
// the pattern's layout. Returns ok=false when either token is missing or the
// combination doesn't parse; callers fall back to the SMS receipt timestamp.
func parseWhen(dateTok, timeTok, layout string) (time.Time, bool) {
	dateTok = strings.TrimSpace(dateTok)
	timeTok = strings.TrimSpace(timeTok)
	if dateTok == "" {
		return time.Time{}, false
	}

	candidate := dateTok
	if timeTok != "" {
		candidate = dateTok + " " + timeTok
	}

	when, err := time.Parse(layout, candidate)
	if err != nil {
		return time.Time{}, false
	}
	return when, true
}
