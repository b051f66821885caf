package search

import (
	"context"
	"errors"
	"time"
)

// ErrCursorExpired is returned when the backend no longer recognizes a cursor
var ErrCursorExpired = errors.New("search cursor expired")

// Clause is a single predicate in a boolean must-query
type Clause interface {
	clause()
}

// Term matches records whose field equals Value exactly
type Term struct {
	Field string
	Value string
}

// FieldOr matches records where any of the listed fields equals Value
type FieldOr struct {
	Fields []string
	Value  string
}

// NumRange matches records whose numeric field lies within the bounds
// Nil bounds are open on that side
type NumRange struct {
	Field string
	GTE   *uint64
	LTE   *uint64
}

// TimeRange matches records whose time field lies within the bounds
// Empty bounds are open on that side
type TimeRange struct {
	Field string
	GTE   string
	LTE   string
}

func (Term) clause()      {}
func (FieldOr) clause()   {}
func (NumRange) clause()  {}
func (TimeRange) clause() {}

// Query is a boolean query whose clauses are combined with logical AND
type Query struct {
	Must []Clause
}

// Sort orders scan results by a single field
type Sort struct {
	Field     string
	Ascending bool
}

// Record is one matched document as returned by the backend
type Record = map[string]interface{}

// Page is one cursor page of scan results
type Page struct {
	// Hits are the records on this page, in sort order
	Hits []Record

	// Total is the backend-reported total match count for the query
	Total int

	// Cursor is the token for fetching the next page; empty when the
	// backend has nothing further to return
	Cursor string
}

// Request describes a cursor-paginated scan
type Request struct {
	Index     string
	Query     Query
	Sort      Sort
	PageSize  int
	KeepAlive time.Duration
}

// Backend is the search collaborator contract
// Open starts a scan and returns the first page plus a cursor; Scroll
// consumes a cursor exactly once and returns the next page; ClearCursor
// releases an abandoned cursor
type Backend interface {
	Open(ctx context.Context, req Request) (*Page, error)
	Scroll(ctx context.Context, cursor string, keepAlive time.Duration) (*Page, error)
	ClearCursor(ctx context.Context, cursor string) error
}
