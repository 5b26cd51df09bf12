package dml

import (
	"fmt"

	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	mts "github.com/cdsframework/mts-support-core-sub000"
)

// Quoter renders identifiers for one dialect. The zero Quoter leaves
// identifiers as written.
type Quoter struct {
	quote byte
}

// NewQuoter returns the Quoter of a dialect name.
func NewQuoter(name string) (Quoter, error) {
	var d schema.Dialect
	switch name {
	case mts.DialectNone:
		return Quoter{}, nil
	case mts.DialectPgSQL:
		d = pgdialect.New()
	case mts.DialectMySQL:
		d = mysqldialect.New()
	case mts.DialectSQLite:
		d = sqlitedialect.New()
	case mts.DialectMsSQL:
		// ANSI quoting; SQL Server accepts it with QUOTED_IDENTIFIER on
		return Quoter{quote: '"'}, nil
	default:
		return Quoter{}, mts.NewError(mts.ErrorTypeUnsupported, fmt.Sprintf("unsupported dialect: %q", name))
	}
	return Quoter{quote: d.IdentQuote()}, nil
}

// Ident quotes a possibly dot-qualified identifier.
func (q Quoter) Ident(name string) string {
	if q.quote == 0 {
		return name
	}
	return string(dialect.AppendIdent(nil, name, q.quote))
}

// Column renders a column, qualified by alias when one is given.
func (q Quoter) Column(alias, column string) string {
	if alias == "" {
		return q.Ident(column)
	}
	return q.Ident(alias + "." + column)
}
