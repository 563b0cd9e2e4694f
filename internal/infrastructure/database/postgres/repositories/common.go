// Package repositories holds the PostgreSQL queries of a search run: the
// molecule table (counts, property filters, structure streaming, export) and
// the fingerprint tables (neighbor-search pools).
package repositories

import (
	"context"
	"database/sql"
	"strings"

	"github.com/lib/pq"
)

// queryExecutor abstracts sql.DB, sql.Conn and sql.Tx.
type queryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// tempIDTable holds the ids a query is restricted to.
const tempIDTable = "_tmptbl"

// qualify returns schema.table with both parts quoted.  An empty schema
// leaves the table unqualified.
func qualify(schema, table string) string {
	if schema == "" {
		return pq.QuoteIdentifier(table)
	}
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)
}

// quoteCols quotes and comma-joins column names.
func quoteCols(cols ...string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pq.QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}

// firstStatement keeps the text before the first ';' of a user-supplied
// condition.
func firstStatement(cond string) string {
	if i := strings.IndexByte(cond, ';'); i >= 0 {
		cond = cond[:i]
	}
	return strings.TrimSpace(cond)
}

// loadTempIDs creates a transaction-scoped id table on ex and fills it.
func loadTempIDs(ctx context.Context, ex queryExecutor, idColumn string, ids []string) error {
	create := "CREATE TEMPORARY TABLE " + tempIDTable + " (" + pq.QuoteIdentifier(idColumn) + " TEXT) ON COMMIT DROP"
	if _, err := ex.ExecContext(ctx, create); err != nil {
		return err
	}
	insert := "INSERT INTO " + tempIDTable + " SELECT unnest($1::text[])"
	_, err := ex.ExecContext(ctx, insert, pq.Array(ids))
	return err
}
