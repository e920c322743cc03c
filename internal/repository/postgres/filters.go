package postgres

import (
	"fmt"
	"strings"

	"spectrum/internal/domain/repositories"
)

// whereClause incrementally assembles a parameterized WHERE clause.
type whereClause struct {
	conds []string
	args  []any
}

func (w *whereClause) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *whereClause) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func (w *whereClause) timeRange(column string, f *repositories.Filter) {
	if f.Since != nil {
		w.add(column+" >= $%d", *f.Since)
	}
	if f.Until != nil {
		w.add(column+" <= $%d", *f.Until)
	}
}

// limitOffset appends pagination to the arg list and returns the SQL tail.
func (w *whereClause) limitOffset(f *repositories.Filter) string {
	w.args = append(w.args, f.PageSize)
	limit := len(w.args)
	w.args = append(w.args, f.Offset())
	offset := len(w.args)
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", limit, offset)
}
