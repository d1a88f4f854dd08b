package database

import (
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

// Excluded refers to the row proposed for insertion inside ON CONFLICT DO UPDATE
func Excluded(column string) any {
	return sqlbuilder.Raw("EXCLUDED." + column)
}

// InsertBuilder is a Postgres insert builder with upsert clauses
type InsertBuilder struct {
	*sqlbuilder.InsertBuilder
}

func NewInsertBuilder() *InsertBuilder {
	return &InsertBuilder{sqlbuilder.PostgreSQL.NewInsertBuilder()}
}

// OnConflict appends ON CONFLICT (columns) DO UPDATE. Fill the returned builder with Set.
// Call it after Values and before Returning.
func (b *InsertBuilder) OnConflict(columns ...string) *sqlbuilder.UpdateBuilder {
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	b.SQL("ON CONFLICT (" + strings.Join(columns, ", ") + ") DO UPDATE " + b.Var(ub))
	return ub
}

func (b *InsertBuilder) OnConflictDoNothing() *InsertBuilder {
	b.SQL("ON CONFLICT DO NOTHING")
	return b
}
