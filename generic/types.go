/*
Package generic holds the domain-agnostic pieces shared by the cash, chat and
levelup packages.

KEY CONCEPTS:
  - Actor: the current operator/admin as supplied by the auth provider
  - Page / PageOf: offset pagination with the hasMore rule
  - StatusOrder: status-then-recency comparator (sort.go)
  - BestEffort: side effects that never affect the primary outcome (besteffort.go)
  - Error taxonomy (errors.go)
  - Clock: injectable time source

SEE ALSO:
  - cash/: balance ledger and withdrawal state machine
  - chat/: room/message store accessor and realtime reconciliation
*/
package generic

import (
	"time"
)

// =============================================================================
// ACTOR - Who is performing an action
// =============================================================================

type Role string

const (
	RoleUser     Role = "user"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

// Actor is the current user as supplied by the auth/session provider.
// This system only reads it.
type Actor struct {
	ID       string
	FullName string
	Role     Role
}

// HasRole reports whether the actor holds one of roles.
func (a Actor) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// =============================================================================
// PAGINATION
// =============================================================================

// Page is a zero-based page request.
type Page struct {
	Index int
	Size  int
}

// Normalize applies defaultSize when Size is unset and clamps negatives.
func (p Page) Normalize(defaultSize int) Page {
	if p.Index < 0 {
		p.Index = 0
	}
	if p.Size <= 0 {
		p.Size = defaultSize
	}
	if p.Size > 200 {
		p.Size = 200
	}
	return p
}

// Offset is the number of rows to skip.
func (p Page) Offset() int {
	return p.Index * p.Size
}

// HasMore is true when rows exist beyond this page: (page+1)*size < total.
func (p Page) HasMore(total int) bool {
	return (p.Index+1)*p.Size < total
}

// PageOf is one page of items.
type PageOf[T any] struct {
	Items   []T
	Total   int
	HasMore bool
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock returns the current time. Services default to time.Now.
type Clock func() time.Time

func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}
