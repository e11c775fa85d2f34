package ledger

import (
	"fmt"
	"regexp"
	"strings"
)

// CauseKind classifies why stock moved.
type CauseKind string

const (
	CauseSale        CauseKind = "sale"
	CauseReceiving   CauseKind = "receiving"
	CauseRecount     CauseKind = "recount"
	CauseDamage      CauseKind = "damage"
	CauseTheft       CauseKind = "theft"
	CauseTransfer    CauseKind = "transfer"
	CauseInitialLoad CauseKind = "initial_load"
	CauseOther       CauseKind = "other"
)

// Valid reports whether k is a known kind.
func (k CauseKind) Valid() bool {
	switch k {
	case CauseSale, CauseReceiving, CauseRecount, CauseDamage, CauseTheft,
		CauseTransfer, CauseInitialLoad, CauseOther:
		return true
	}
	return false
}

// Cause is the structured reason of an adjustment.
// Ref holds the order ref for sales, the PO ref for receiving, the transfer
// ref for transfers and the note for other; it is empty for the rest.
type Cause struct {
	Kind CauseKind `json:"kind"`
	Ref  string    `json:"ref,omitempty"`
}

func Sale(orderRef string) Cause   { return Cause{Kind: CauseSale, Ref: orderRef} }
func Receiving(poRef string) Cause { return Cause{Kind: CauseReceiving, Ref: poRef} }
func Recount() Cause               { return Cause{Kind: CauseRecount} }
func Damage() Cause                { return Cause{Kind: CauseDamage} }
func Theft() Cause                 { return Cause{Kind: CauseTheft} }
func Transfer(ref string) Cause    { return Cause{Kind: CauseTransfer, Ref: ref} }
func InitialLoad() Cause           { return Cause{Kind: CauseInitialLoad} }
func Other(note string) Cause      { return Cause{Kind: CauseOther, Ref: note} }

func (c Cause) IsSale() bool { return c.Kind == CauseSale }

func (c Cause) IsZero() bool { return c.Kind == "" }

func (c Cause) String() string { return c.Reason() }

// SalePrefix starts the reason text of every sale adjustment.
const SalePrefix = "Sale"

var reasonLabels = map[CauseKind]string{
	CauseSale:        SalePrefix,
	CauseReceiving:   "Receiving",
	CauseRecount:     "Recount",
	CauseDamage:      "Damage",
	CauseTheft:       "Theft",
	CauseTransfer:    "Transfer",
	CauseInitialLoad: "Initial load",
	CauseOther:       "Other",
}

var refLabels = map[CauseKind]string{
	CauseSale:      "Order",
	CauseReceiving: "PO",
	CauseTransfer:  "Ref",
}

// Reason renders the human readable reason, e.g. "Sale (Order: 1042)".
func (c Cause) Reason() string {
	label, ok := reasonLabels[c.Kind]
	if !ok {
		label = string(c.Kind)
	}
	if c.Ref == "" {
		return label
	}
	if c.Kind == CauseOther {
		return label + ": " + c.Ref
	}
	return fmt.Sprintf("%s (%s: %s)", label, refLabels[c.Kind], c.Ref)
}

var (
	// trailingRefPattern matches a ref group closing the text; the ref may contain parentheses.
	trailingRefPattern = regexp.MustCompile(`\((?:Order|PO|Ref)\s*[:#]\s*(.*)\)\s*$`)
	refPattern         = regexp.MustCompile(`\((?:Order|PO|Ref)\s*[:#]\s*([^)]*)\)`)
)

// ParseCause maps free reason text to a Cause.
// Text whose first word matches a known label takes that kind; the rest is other.
func ParseCause(reason string) Cause {
	text := strings.TrimSpace(reason)
	if text == "" {
		return Cause{Kind: CauseOther}
	}

	ref := ""
	if m := trailingRefPattern.FindStringSubmatch(text); m != nil {
		ref = strings.TrimSpace(m[1])
	} else if m := refPattern.FindStringSubmatch(text); m != nil {
		ref = strings.TrimSpace(m[1])
	}

	lower := strings.ToLower(text)
	switch {
	case strings.HasPrefix(text, SalePrefix):
		return Sale(ref)
	case strings.HasPrefix(lower, "receiving"), strings.HasPrefix(lower, "received"):
		return Receiving(ref)
	case strings.HasPrefix(lower, "recount"):
		return Recount()
	case strings.HasPrefix(lower, "damage"):
		return Damage()
	case strings.HasPrefix(lower, "theft"):
		return Theft()
	case strings.HasPrefix(lower, "transfer"):
		return Transfer(ref)
	case strings.HasPrefix(lower, "initial load"), strings.HasPrefix(lower, "initial_load"):
		return InitialLoad()
	}
	if text == reasonLabels[CauseOther] {
		return Other("")
	}
	return Other(strings.TrimPrefix(text, reasonLabels[CauseOther]+": "))
}
