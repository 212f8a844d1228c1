package class

import "github.com/trezcool/classledger/core"

// Resolve derives the effective status of a stored class row without mutating it.
// Legacy rows carry no status flag: an order number implies the class was activated,
// otherwise it is still a draft.
// Nothing outside this package reads StatusFlag directly.
func Resolve(rec ClassRecord) Status {
	if st, ok := ParseStatus(core.CleanString(rec.StatusFlag, true /* lower */)); ok {
		return st
	}
	if NormalizeOrderNr(rec.OrderNr) != "" {
		return StatusActive
	}
	return StatusDraft
}

// NormalizeOrderNr trims the order number and collapses inner whitespace.
// An empty result means no order number.
func NormalizeOrderNr(s string) string {
	return core.CollapseSpaces(s)
}
