// Package normalize cleans raw SMS text and filters messages down to known
// wallet senders before extraction.
package normalize

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Message is a cleaned, sender-attributed SMS ready for pattern extraction.
type Message struct {
	Body       string // whitespace-collapsed, artifact-stripped text
	Sender     string // canonical sender label as registered on the wallet
	ReceivedAt time.Time
}

// Normalizer matches incoming messages against registered wallet sender
// labels. Matching is case-insensitive exact; anything else is rejected.
//
// Normalizer is immutable after construction and safe for concurrent use.
type Normalizer struct {
	senders map[string]string // lowercased label -> canonical label
}

// New creates a normalizer recognizing the given wallet sender labels.
func New(senderLabels []string) *Normalizer {
	senders := make(map[string]string, len(senderLabels))
	for _, label := range senderLabels {
		trimmed := strings.TrimSpace(label)
		if trimmed == "" {
			continue
		}
		senders[strings.ToLower(trimmed)] = trimmed
	}
	return &Normalizer{senders: senders}
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// zero-width and directional marks that SMS gateways occasionally inject
var artifactRunes = runes.In(unicode.Cf)

// CleanText normalizes unicode (NFD, combining marks stripped, NFC), removes
// format-control artifacts, and collapses all whitespace runs to single
// spaces. The result is the canonical body used both for pattern extraction
// and for source-hash fingerprinting, so two renderings of the same message
// clean to the same string.
func CleanText(raw string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), runes.Remove(artifactRunes), norm.NFC)
	cleaned, _, err := transform.String(t, raw)
	if err != nil {
		// Fall back to the raw text; extraction will fail on garbage anyway.
		cleaned = raw
	}
	cleaned = whitespaceRun.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

// Normalize cleans rawText and attributes it to a known sender.
//
// The second return value is false when the sender is not a registered wallet
// label. That is a filtered-out non-match, not an error: promotional and
// personal messages flow through here constantly.
func (n *Normalizer) Normalize(rawText, senderAddress string, receivedAt time.Time) (*Message, bool) {
	canonical, ok := n.senders[strings.ToLower(strings.TrimSpace(senderAddress))]
	if !ok {
		return nil, false
	}

	body := CleanText(rawText)
	if body == "" {
		return nil, false
	}

	return &Message{
		Body:       body,
		Sender:     canonical,
		ReceivedAt: receivedAt,
	}, true
}

// Senders returns the canonical sender labels this normalizer recognizes.
func (n *Normalizer) Senders() []string {
	out := make([]string, 0, len(n.senders))
	for _, canonical := range n.senders {
		out = append(out, canonical)
	}
	return out
}
