// Package scope computes the row-level branch filter for a principal.
//
// Every list or detail query over branch-owned entities (leads, followups)
// ANDs the resolved Filter into its WHERE clause. A principal without a
// branch resolves to MatchNothing: mis-configuration yields an empty result
// set, never an error and never cross-branch rows.
package scope

import (
	"strings"

	"consultdesk/pkg/types"
)

// Kind tags the variant a Filter carries
type Kind int

const (
	// MatchNothing matches zero rows
	MatchNothing Kind = iota
	// BranchEquals restricts rows to a single branch
	BranchEquals
	// Unrestricted applies no filter
	Unrestricted
)

func (k Kind) String() string {
	switch k {
	case Unrestricted:
		return "unrestricted"
	case BranchEquals:
		return "branch_equals"
	default:
		return "match_nothing"
	}
}

// Filter is an immutable scope predicate.
// The zero value is MatchNothing so an unset filter fails closed.
type Filter struct {
	kind     Kind
	branchID string
}

// NewUnrestricted returns the head-office admin filter
func NewUnrestricted() Filter { return Filter{kind: Unrestricted} }

// NewBranchEquals returns a filter for one branch
func NewBranchEquals(branchID string) Filter {
	return Filter{kind: BranchEquals, branchID: branchID}
}

// NewMatchNothing returns the fail-closed filter
func NewMatchNothing() Filter { return Filter{kind: MatchNothing} }

// adminRole is the only role that lifts a head-office principal's branch filter
const adminRole = "admin"

// Resolve maps a principal onto exactly one filter variant.
// Pure and deterministic in {role, branchType, branchID}.
func Resolve(p *types.Principal) Filter {
	if p == nil {
		return NewMatchNothing()
	}
	// exact match on both fields; "Admin" or "headoffice" stay branch-scoped
	if p.BranchType == types.BranchTypeHeadOffice && p.Role == adminRole {
		return NewUnrestricted()
	}
	if strings.TrimSpace(p.BranchID) == "" {
		return NewMatchNothing()
	}
	return NewBranchEquals(p.BranchID)
}

// Kind returns the variant tag
func (f Filter) Kind() Kind { return f.kind }

// BranchID returns the branch of a BranchEquals filter, empty otherwise
func (f Filter) BranchID() string {
	if f.kind != BranchEquals {
		return ""
	}
	return f.branchID
}

// Matches applies the filter to a single row's branch
func (f Filter) Matches(branchID string) bool {
	switch f.kind {
	case Unrestricted:
		return true
	case BranchEquals:
		return branchID == f.branchID
	default:
		return false
	}
}

// Where renders the filter as a SQL predicate on column using '?' bind vars.
// Callers rebind for their driver.
func (f Filter) Where(column string) (string, []any) {
	switch f.kind {
	case Unrestricted:
		return "1 = 1", nil
	case BranchEquals:
		return column + " = ?", []any{f.branchID}
	default:
		return "1 = 0", nil
	}
}

// Apply filters an in-memory dataset by the branch each row reports
func Apply[T any](f Filter, rows []T, branchOf func(T) string) []T {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		if f.Matches(branchOf(row)) {
			out = append(out, row)
		}
	}
	return out
}

func (f Filter) String() string {
	if f.kind == BranchEquals {
		return f.kind.String() + "(" + f.branchID + ")"
	}
	return f.kind.String()
}
