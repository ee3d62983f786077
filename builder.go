package strata

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// StatementBuilder produces parameterized statements from structured
// payloads and filters. Implementations never execute anything; execution
// belongs to the store. The default implementation targets postgres
// placeholder syntax; callers may substitute their own builder per
// controller.
type StatementBuilder interface {
	Insert(table string, fields Fields, returning string) (Statement, error)
	Select(table string, columns []string, filters []Filter, orderBy []OrderBy, limit, offset int) (Statement, error)
	Update(table string, fields Fields, filters []Filter) (Statement, error)
	Delete(table string, filters []Filter) (Statement, error)
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresBuilder is the default StatementBuilder. Columns are emitted in
// sorted order so statement text is deterministic for a given payload.
type PostgresBuilder struct{}

// NewPostgresBuilder creates the default postgres statement builder.
func NewPostgresBuilder() *PostgresBuilder {
	return &PostgresBuilder{}
}

func validIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return NewValidationError(fmt.Sprintf("invalid identifier %q", name))
	}
	return nil
}

func sortedFieldKeys(fields Fields) ([]string, error) {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		if err := validIdentifier(key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Insert builds an INSERT statement. When returning is non-empty the
// statement yields that column for the new row.
func (b *PostgresBuilder) Insert(table string, fields Fields, returning string) (Statement, error) {
	if err := validIdentifier(table); err != nil {
		return Statement{}, err
	}
	if len(fields) == 0 {
		return Statement{}, NewValidationError("insert payload has no fields")
	}

	keys, err := sortedFieldKeys(fields)
	if err != nil {
		return Statement{}, err
	}

	placeholders := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for i, key := range keys {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, fields[key])
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(keys, ", "), strings.Join(placeholders, ", "))
	if returning != "" {
		if err := validIdentifier(returning); err != nil {
			return Statement{}, err
		}
		sql += " RETURNING " + returning
	}

	return Statement{SQL: sql, Args: args}, nil
}

// Select builds a SELECT statement. Empty columns selects *.
func (b *PostgresBuilder) Select(table string, columns []string, filters []Filter, orderBy []OrderBy, limit, offset int) (Statement, error) {
	if err := validIdentifier(table); err != nil {
		return Statement{}, err
	}

	projection := "*"
	if len(columns) > 0 {
		for _, col := range columns {
			if err := validIdentifier(col); err != nil {
				return Statement{}, err
			}
		}
		projection = strings.Join(columns, ", ")
	}

	where, args, err := b.buildWhere(filters, 1)
	if err != nil {
		return Statement{}, err
	}

	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s", projection, table, where)

	orderClause, err := b.buildOrderBy(orderBy)
	if err != nil {
		return Statement{}, err
	}
	if orderClause != "" {
		sql += " " + orderClause
	}

	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}
	if offset > 0 {
		sql += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, offset)
	}

	return Statement{SQL: sql, Args: args}, nil
}

// Update builds a partial UPDATE statement restricted by filters.
func (b *PostgresBuilder) Update(table string, fields Fields, filters []Filter) (Statement, error) {
	if err := validIdentifier(table); err != nil {
		return Statement{}, err
	}
	if len(fields) == 0 {
		return Statement{}, NewValidationError("update payload has no fields")
	}
	if len(filters) == 0 {
		return Statement{}, NewValidationError("update requires at least one filter")
	}

	keys, err := sortedFieldKeys(fields)
	if err != nil {
		return Statement{}, err
	}

	assignments := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)+len(filters))
	for i, key := range keys {
		assignments = append(assignments, fmt.Sprintf("%s = $%d", key, i+1))
		args = append(args, fields[key])
	}

	where, whereArgs, err := b.buildWhere(filters, len(args)+1)
	if err != nil {
		return Statement{}, err
	}
	args = append(args, whereArgs...)

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(assignments, ", "), where)
	return Statement{SQL: sql, Args: args}, nil
}

// Delete builds a DELETE statement restricted by filters.
func (b *PostgresBuilder) Delete(table string, filters []Filter) (Statement, error) {
	if err := validIdentifier(table); err != nil {
		return Statement{}, err
	}
	if len(filters) == 0 {
		return Statement{}, NewValidationError("delete requires at least one filter")
	}

	where, args, err := b.buildWhere(filters, 1)
	if err != nil {
		return Statement{}, err
	}

	sql := fmt.Sprintf("DELETE FROM %s WHERE %s", table, where)
	return Statement{SQL: sql, Args: args}, nil
}

// buildWhere converts filters to a WHERE clause starting at the given
// placeholder index. No filters yields the neutral condition.
func (b *PostgresBuilder) buildWhere(filters []Filter, initArgIndex int) (string, []any, error) {
	if len(filters) == 0 {
		return "1=1", nil, nil
	}

	conditions := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters))
	argIndex := initArgIndex

	for _, filter := range filters {
		if err := validIdentifier(filter.Column); err != nil {
			return "", nil, err
		}
		condition, err := b.buildCondition(filter, argIndex)
		if err != nil {
			return "", nil, err
		}
		conditions = append(conditions, condition)
		args = append(args, filter.Value)
		argIndex++
	}

	return strings.Join(conditions, " AND "), args, nil
}

// buildCondition builds a single filter condition
func (b *PostgresBuilder) buildCondition(filter Filter, argIndex int) (string, error) {
	switch filter.Op {
	case FilterEquals:
		return fmt.Sprintf("(%s = $%d)", filter.Column, argIndex), nil

	case FilterNotEquals:
		return fmt.Sprintf("(%s != $%d)", filter.Column, argIndex), nil

	case FilterStartsWith:
		return fmt.Sprintf("(%s ILIKE $%d || '%%')", filter.Column, argIndex), nil

	case FilterContains:
		return fmt.Sprintf("(%s ILIKE '%%' || $%d || '%%')", filter.Column, argIndex), nil

	case FilterGreaterThan:
		return fmt.Sprintf("(%s > $%d)", filter.Column, argIndex), nil

	case FilterLessThan:
		return fmt.Sprintf("(%s < $%d)", filter.Column, argIndex), nil

	case FilterGreaterEq:
		return fmt.Sprintf("(%s >= $%d)", filter.Column, argIndex), nil

	case FilterLessEq:
		return fmt.Sprintf("(%s <= $%d)", filter.Column, argIndex), nil

	case FilterIn:
		return fmt.Sprintf("(%s = ANY($%d))", filter.Column, argIndex), nil

	case FilterNotIn:
		return fmt.Sprintf("(%s != ALL($%d))", filter.Column, argIndex), nil

	default:
		return "", NewValidationError(fmt.Sprintf("unsupported filter op %q", filter.Op))
	}
}

// buildOrderBy constructs the ORDER BY clause. Empty orderBy yields no clause.
func (b *PostgresBuilder) buildOrderBy(orderBy []OrderBy) (string, error) {
	if len(orderBy) == 0 {
		return "", nil
	}

	clauses := make([]string, 0, len(orderBy))
	for _, ob := range orderBy {
		if err := validIdentifier(ob.Column); err != nil {
			return "", err
		}
		order := "ASC"
		if ob.Order == SortOrderDesc {
			order = "DESC"
		}
		clauses = append(clauses, fmt.Sprintf("%s %s", ob.Column, order))
	}

	return "ORDER BY " + strings.Join(clauses, ", "), nil
}
