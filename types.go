package strata

// Reserved columns the engine may inject into payloads. The statement
// builder receives them like any other field; entities that track them must
// declare the matching policy flags.
const (
	ColumnCreatedAt = "created_at"
	ColumnUpdatedAt = "updated_at"
	ColumnOwnerID   = "owner_id"
)

// EntityPolicy is the static per-entity configuration consumed by the
// generic engine. One value per entity type, defined at compile time and
// never mutated.
type EntityPolicy struct {
	// Table is the relation the entity maps to.
	Table string
	// IDColumn is the primary key column. Defaults to "id" when empty.
	IDColumn string
	// HasTimestamps enables created_at/updated_at injection.
	HasTimestamps bool
	// HasOwnerID enables ownership injection on create and ownership
	// restriction on get/list/update/delete.
	HasOwnerID bool
}

// PrimaryKey returns the effective primary key column.
func (p EntityPolicy) PrimaryKey() string {
	if p.IDColumn == "" {
		return "id"
	}
	return p.IDColumn
}

// Fields is the column/value form of a payload handed to the statement
// builder. The engine treats payload contents as opaque apart from the
// reserved policy columns.
type Fields map[string]any

// Payload is implemented by entity-specific ForCreate/ForUpdate shapes.
type Payload interface {
	Fields() Fields
}

// FilterOp enumerates the supported filter comparisons.
type FilterOp string

const (
	FilterEquals      FilterOp = "eq"
	FilterNotEquals   FilterOp = "neq"
	FilterStartsWith  FilterOp = "starts_with"
	FilterContains    FilterOp = "contains"
	FilterGreaterThan FilterOp = "gt"
	FilterLessThan    FilterOp = "lt"
	FilterGreaterEq   FilterOp = "gte"
	FilterLessEq      FilterOp = "lte"
	FilterIn          FilterOp = "in"
	FilterNotIn       FilterOp = "not_in"
)

// Filter is a single structured condition on a column.
type Filter struct {
	Column string
	Op     FilterOp
	Value  any
}

// Eq is shorthand for an equality filter.
func Eq(column string, value any) Filter {
	return Filter{Column: column, Op: FilterEquals, Value: value}
}

// SortOrder represents sort direction
type SortOrder string

const (
	SortOrderAsc  SortOrder = "asc"
	SortOrderDesc SortOrder = "desc"
)

// OrderBy specifies result ordering for list operations.
type OrderBy struct {
	Column string
	Order  SortOrder
}

// ListOptions bounds and orders a list operation. There is no implicit
// pagination: zero Limit means no LIMIT clause.
type ListOptions struct {
	Filters []Filter
	OrderBy []OrderBy
	Limit   int
	Offset  int
}

// Statement is a parameterized SQL statement produced by a builder.
type Statement struct {
	SQL  string
	Args []any
}
