package mts

import "slices"

// Dialect names accepted by Config.Dialect. DialectNone compiles statements
// with identifiers left unquoted.
const (
	DialectNone   = ""
	DialectSQLite = "sqlite"
	DialectMySQL  = "mysql"
	DialectPgSQL  = "pgsql"
	DialectMsSQL  = "mssql"
)

// SupportedDialects lists the dialects the dml package can quote for.
var SupportedDialects = []string{
	DialectNone,
	DialectSQLite,
	DialectMySQL,
	DialectPgSQL,
	DialectMsSQL,
}

// IsDialectSupported reports whether dialect is one of SupportedDialects.
func IsDialectSupported(dialect string) bool {
	return slices.Contains(SupportedDialects, dialect)
}
