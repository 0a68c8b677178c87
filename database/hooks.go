package dbops

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/go-pg/pg/v10"
	"github.com/pkg/errors"
)

// The go-pg hook printing the executed SQL queries. It implements the
// pg.QueryHook interface.
type DBLogger struct{}

// The type used to define context keys for database handling.
type contextKeywordDB string

const suppressQueryLoggingKeyword contextKeywordDB = "suppress-query-logging"

// Hook run before SQL query execution.
func (d DBLogger) BeforeQuery(c context.Context, q *pg.QueryEvent) (context.Context, error) {
	if HasSuppressedQueryLogging(c) {
		return c, nil
	}
	query, err := q.FormattedQuery()
	// The queries are printed to stderr while the log output goes to
	// stdout, so the query trace can be redirected to a file and
	// replayed as a script.
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s -- error:%s\n", string(query), err)
	} else {
		fmt.Fprintln(os.Stderr, string(query))
	}
	return c, nil
}

// Hook run after SQL query execution.
func (d DBLogger) AfterQuery(c context.Context, q *pg.QueryEvent) error {
	return nil
}

// Returns a database instance whose queries are excluded from the query
// logging. Used by the periodic pollers whose queries would flood the
// trace output.
func SuppressQueryLogging(db *PgDB) *PgDB {
	return db.WithContext(context.WithValue(db.Context(), suppressQueryLoggingKeyword, true))
}

// Indicates if the query logging is suppressed for the given context.
func HasSuppressedQueryLogging(ctx context.Context) bool {
	suppressed, ok := ctx.Value(suppressQueryLoggingKeyword).(bool)
	return ok && suppressed
}

// The go-pg hook rejecting the queries whose size does not fit into an
// uint32. The go-pg internals cast the query buffer length to uint32
// while sending the full query to the database, so an oversized query
// could smuggle additional statements past the length field. Labeled as
// CVE-2024-44905; no upstream fix is available.
type DBQuerySizeLimiter struct {
	limit int
}

// Instantiates the query size limiter with the maximum size accepted by
// the wire protocol. The four size bytes and the type byte are not part
// of the formatted query passed to the hook.
func NewDBQuerySizeLimiterDefault() pg.QueryHook {
	return DBQuerySizeLimiter{
		limit: math.MaxUint32 - 5,
	}
}

// Instantiates the query size limiter with a custom limit.
func NewDBQuerySizeLimiterCustom(limit int) pg.QueryHook {
	return DBQuerySizeLimiter{
		limit: limit,
	}
}

// Hook run before SQL query execution.
func (d DBQuerySizeLimiter) BeforeQuery(c context.Context, q *pg.QueryEvent) (context.Context, error) {
	query, err := q.FormattedQuery()
	if err != nil {
		return c, nil
	}
	if len(query) > d.limit {
		return c, errors.Errorf("query size exceeds %dB limit, got: %dB", d.limit, len(query))
	}
	return c, nil
}

// Hook run after SQL query execution. Does nothing.
func (d DBQuerySizeLimiter) AfterQuery(c context.Context, q *pg.QueryEvent) error {
	return nil
}
