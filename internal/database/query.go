package database

import (
	"fmt"

	"gorm.io/gorm"
)

// FilterOperator is a SQL comparison operator supported by Query.
type FilterOperator int

// FilterOperator values. The set is intentionally small — the
// comparisons the persistence stores issue (state equality,
// run_after/updated_at cutoffs) plus an inclusive lower bound.
const (
	OpEqual FilterOperator = iota
	OpLessThan
	OpLessThanOrEqual
	OpGreaterThanOrEqual
)

func (o FilterOperator) sql() string {
	switch o {
	case OpLessThan:
		return "<"
	case OpLessThanOrEqual:
		return "<="
	case OpGreaterThanOrEqual:
		return ">="
	default:
		return "="
	}
}

// Filter is one comparison condition; conditions on a Query combine with
// AND.
type Filter struct {
	field    string
	operator FilterOperator
	value    any
}

// Field returns the column the filter compares.
func (f Filter) Field() string { return f.field }

// Operator returns the comparison operator.
func (f Filter) Operator() FilterOperator { return f.operator }

// Value returns the comparison value.
func (f Filter) Value() any { return f.value }

// SortDirection orders a result set ascending or descending.
type SortDirection int

// SortDirection values.
const (
	SortAsc SortDirection = iota
	SortDesc
)

func (s SortDirection) sql() string {
	if s == SortDesc {
		return "DESC"
	}
	return "ASC"
}

// OrderBy is one sort specification.
type OrderBy struct {
	field     string
	direction SortDirection
}

// Field returns the sorted column.
func (o OrderBy) Field() string { return o.field }

// Direction returns the sort direction.
func (o OrderBy) Direction() SortDirection { return o.direction }

// Query accumulates filters, ordering, and bounds, then applies them to
// a GORM session. Methods return a copy, so a base query can be shared
// and specialized.
type Query struct {
	filters []Filter
	orderBy []OrderBy
	limit   int
	offset  int
}

// NewQuery creates an empty Query.
func NewQuery() Query {
	return Query{}
}

// Where adds a comparison condition.
func (q Query) Where(field string, operator FilterOperator, value any) Query {
	q.filters = append(q.filters, Filter{field: field, operator: operator, value: value})
	return q
}

// Equal adds an equality condition.
func (q Query) Equal(field string, value any) Query {
	return q.Where(field, OpEqual, value)
}

// LessThan adds a strict upper-bound condition.
func (q Query) LessThan(field string, value any) Query {
	return q.Where(field, OpLessThan, value)
}

// LessThanOrEqual adds an inclusive upper-bound condition.
func (q Query) LessThanOrEqual(field string, value any) Query {
	return q.Where(field, OpLessThanOrEqual, value)
}

// GreaterThanOrEqual adds an inclusive lower-bound condition.
func (q Query) GreaterThanOrEqual(field string, value any) Query {
	return q.Where(field, OpGreaterThanOrEqual, value)
}

// OrderAsc sorts ascending on field.
func (q Query) OrderAsc(field string) Query {
	q.orderBy = append(q.orderBy, OrderBy{field: field, direction: SortAsc})
	return q
}

// OrderDesc sorts descending on field.
func (q Query) OrderDesc(field string) Query {
	q.orderBy = append(q.orderBy, OrderBy{field: field, direction: SortDesc})
	return q
}

// Limit caps the result count. Zero means no limit.
func (q Query) Limit(limit int) Query {
	q.limit = limit
	return q
}

// Offset skips the first offset rows.
func (q Query) Offset(offset int) Query {
	q.offset = offset
	return q
}

// Filters returns a copy of the accumulated conditions.
func (q Query) Filters() []Filter {
	out := make([]Filter, len(q.filters))
	copy(out, q.filters)
	return out
}

// Orders returns a copy of the accumulated sort specifications.
func (q Query) Orders() []OrderBy {
	out := make([]OrderBy, len(q.orderBy))
	copy(out, q.orderBy)
	return out
}

// Apply applies the accumulated conditions to a GORM session.
func (q Query) Apply(db *gorm.DB) *gorm.DB {
	result := db
	for _, f := range q.filters {
		result = result.Where(fmt.Sprintf("%s %s ?", f.field, f.operator.sql()), f.value)
	}
	for _, o := range q.orderBy {
		result = result.Order(fmt.Sprintf("%s %s", o.field, o.direction.sql()))
	}
	if q.limit > 0 {
		result = result.Limit(q.limit)
	}
	if q.offset > 0 {
		result = result.Offset(q.offset)
	}
	return result
}
