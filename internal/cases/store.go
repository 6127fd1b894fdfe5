package cases

import (
	"context"

	"github.com/globaldothealth/linelist/internal/caseschema"
	"github.com/globaldothealth/linelist/internal/filter"
)

// Selector names the set of cases an operation applies to: an explicit id
// list, a parsed filter, or everything when both are empty.
type Selector struct {
	IDs    []string
	Filter *filter.Filter
}

// Everything selects all cases.
var Everything = Selector{}

// Store is the persistence contract the controller requires. Implementations
// interpret a Filter as the conjunction of its field/value pairs, with the
// confirmation-date bounds as strict range comparisons. Custom field
// descriptors are persisted alongside the cases so that every service
// instance sees the same schema.
type Store interface {
	// PutCase writes a case under a caller-chosen id, replacing any
	// existing case with that id.
	PutCase(ctx context.Context, id string, c *caseschema.Case) error
	// InsertCase writes a new case and returns its generated id.
	InsertCase(ctx context.Context, c *caseschema.Case) (string, error)
	// CaseByID returns the case or nil when absent.
	CaseByID(ctx context.Context, id string) (*caseschema.Case, error)
	// FetchCases returns one page of cases matching the filter, in
	// retrieval order. Pages are 1-based.
	FetchCases(ctx context.Context, page, limit int, f *filter.Filter) ([]*caseschema.Case, error)
	CountCases(ctx context.Context, f *filter.Filter) (int64, error)
	// IterateCases streams every selected case through fn; returning an
	// error from fn stops iteration and releases the underlying cursor.
	IterateCases(ctx context.Context, sel Selector, fn func(*caseschema.Case) error) error
	UpdateCase(ctx context.Context, id string, update caseschema.DocumentUpdate) error
	// UpdateCases applies one update to every selected case and returns
	// the number of modified cases.
	UpdateCases(ctx context.Context, sel Selector, update caseschema.DocumentUpdate) (int64, error)
	DeleteCase(ctx context.Context, id string) error
	// DeleteCases removes every selected case and returns the number
	// removed.
	DeleteCases(ctx context.Context, sel Selector) (int64, error)
	// ExcludedCaseIDs lists ids of excluded cases originating from the
	// given source.
	ExcludedCaseIDs(ctx context.Context, sourceID string) ([]string, error)
	// CaseFields and AddCaseField persist custom field descriptors.
	CaseFields(ctx context.Context) ([]caseschema.Field, error)
	AddCaseField(ctx context.Context, f caseschema.Field) error
}
