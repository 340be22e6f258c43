package postgres

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

var _ pgx.QueryTracer = (*slowQueryTracer)(nil)

// slowQueryTracer logs statements exceeding threshold and every failed one.
type slowQueryTracer struct {
	threshold time.Duration
	now       func() time.Time
}

type traceKey struct{}

type traceStart struct {
	at        time.Time
	operation string
}

func (t *slowQueryTracer) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

func (t *slowQueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, traceKey{}, traceStart{at: t.clock(), operation: queryOperation(data.SQL)})
}

func (t *slowQueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(traceKey{}).(traceStart)
	if !ok {
		return
	}
	elapsed := t.clock().Sub(start.at)

	switch {
	case data.Err != nil:
		slog.DebugContext(ctx, "Query failed", "operation", start.operation, "duration", elapsed, "error", data.Err)
	case elapsed >= t.threshold:
		slog.WarnContext(ctx, "Slow query", "operation", start.operation, "duration", elapsed, "rows", data.CommandTag.RowsAffected())
	}
}

// queryOperation names a statement by its leading keyword and table, e.g.
// "INSERT matches", keeping log fields low-cardinality.
func queryOperation(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	verb := strings.ToUpper(fields[0])
	var marker string
	switch verb {
	case "SELECT", "DELETE":
		marker = "FROM"
	case "INSERT":
		marker = "INTO"
	case "UPDATE":
		if len(fields) > 1 {
			return verb + " " + fields[1]
		}
		return verb
	default:
		return verb
	}
	for i, f := range fields[:len(fields)-1] {
		if strings.EqualFold(f, marker) {
			return verb + " " + strings.Trim(fields[i+1], "(),;")
		}
	}
	return verb
}
