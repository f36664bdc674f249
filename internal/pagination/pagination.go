// Package pagination implements Relay connection pagination over SQL result
// sets. Top-level base queries are sliced with LIMIT/OFFSET after resolving the
// total count; base queries used as prefetches are sliced per parent row with a
// ROW_NUMBER window, since relational engines cannot LIMIT per group without
// window functions.
package pagination

import (
	"context"
	"fmt"
	"math"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"modelql/internal/cursor"
	"modelql/internal/dbexec"
	"modelql/internal/gqlerr"
)

// PartitionTotalAlias is the column alias carrying the per-partition row
// count in prefetch queries.
const PartitionTotalAlias = "__total"

// RowNumberAlias is the column alias carrying the 1-based window row number
// in prefetch queries.
const RowNumberAlias = "__rn"

// Params are the raw connection arguments as they arrive from a GraphQL
// request. Nil means the argument was omitted.
type Params struct {
	First    *int
	Last     *int
	Offset   *int
	After    *string
	Before   *string
	MaxLimit *int
}

// Args is the validated pagination state for one paginated field. After and
// Before hold resolved integer offsets; After has already been shifted so it
// names the first included index. Start/Stop are derived by PaginateQuery.
type Args struct {
	After    *int
	Before   *int
	First    *int
	Last     *int
	MaxLimit *int

	// TotalCount is resolved lazily: a count query at the top level, a
	// per-partition window value inside prefetches (where it stays nil here
	// and travels as the __total result column instead).
	TotalCount *int

	Start int
	Stop  *int // nil means the base query is returned unbounded
}

// FromConnectionParams validates raw connection arguments and produces Args.
// All validation failures are invalid-input errors raised before any query
// runs.
func FromConnectionParams(p Params) (*Args, error) {
	args := &Args{First: p.First, Last: p.Last, MaxLimit: p.MaxLimit}

	if p.First != nil && *p.First <= 0 {
		return nil, gqlerr.New(gqlerr.KindInvalidInput, "argument 'first' must be a positive integer")
	}
	if p.Last != nil && *p.Last <= 0 {
		return nil, gqlerr.New(gqlerr.KindInvalidInput, "argument 'last' must be a positive integer")
	}
	if p.MaxLimit != nil {
		if p.First != nil && *p.First > *p.MaxLimit {
			return nil, gqlerr.New(gqlerr.KindInvalidInput, "requesting first %d records exceeds the limit of %d", *p.First, *p.MaxLimit)
		}
		if p.Last != nil && *p.Last > *p.MaxLimit {
			return nil, gqlerr.New(gqlerr.KindInvalidInput, "requesting last %d records exceeds the limit of %d", *p.Last, *p.MaxLimit)
		}
		if p.First == nil && p.Last == nil {
			first := *p.MaxLimit
			args.First = &first
		}
	}

	if p.After != nil {
		offset, err := cursor.CursorToOffset(*p.After)
		if err != nil {
			return nil, gqlerr.Wrap(gqlerr.KindInvalidInput, err, "argument 'after': %v", err)
		}
		args.After = &offset
	}
	if p.Before != nil {
		offset, err := cursor.CursorToOffset(*p.Before)
		if err != nil {
			return nil, gqlerr.Wrap(gqlerr.KindInvalidInput, err, "argument 'before': %v", err)
		}
		args.Before = &offset
	}

	if p.Offset != nil {
		if args.After != nil || args.Before != nil {
			return nil, gqlerr.New(gqlerr.KindInvalidInput, "argument 'offset' cannot be used together with 'after' or 'before'")
		}
		if *p.Offset < 0 {
			return nil, gqlerr.New(gqlerr.KindInvalidInput, "argument 'offset' must be non-negative")
		}
		// Offset N is equivalent to "after index N-1"; zero is a no-op.
		if *p.Offset > 0 {
			after := *p.Offset - 1
			args.After = &after
		}
	}

	if args.After != nil && args.Before != nil && *args.After >= *args.Before {
		return nil, gqlerr.New(gqlerr.KindInvalidInput, "argument 'after' must be before 'before'")
	}

	// "start strictly after index N" becomes "start at index N+1".
	if args.After != nil {
		*args.After++
	}

	return args, nil
}

// Windowed reports whether any slicing argument applies; unwindowed args
// return the base query as-is.
func (a *Args) Windowed() bool {
	return a.After != nil || a.Before != nil || a.First != nil || a.Last != nil
}

// window computes the half-open [start, stop) interval for a known total.
// stop is nil when no upper bound applies.
// Window exposes the slice bounds for a known total. Prefetch callers use it
// with per-partition totals to recover each partition's start offset.
func (a *Args) Window(total int) (start int, stop *int) {
	return a.window(total)
}

func (a *Args) window(total int) (int, *int) {
	start := 0
	if a.After != nil {
		start = minInt(*a.After, total)
	}
	stop := total
	if a.Before != nil {
		stop = minInt(*a.Before, total)
	}
	if a.First != nil && *a.First < stop-start {
		stop = start + *a.First
	}
	if a.Last != nil && *a.Last < stop-start {
		start = stop - *a.Last
	}
	if a.Before == nil && a.First == nil && a.Last == nil {
		return start, nil
	}
	return start, &stop
}

// PaginateQuery slices a top-level base query. The total count is resolved with
// a count query when not already known, and start/stop/total are recorded on
// the args for the connection's pageInfo and totalCount fields.
func (a *Args) PaginateQuery(ctx context.Context, exec dbexec.QueryExecutor, qs sq.SelectBuilder) (sq.SelectBuilder, error) {
	if a.TotalCount == nil {
		total, err := countQuery(ctx, exec, qs)
		if err != nil {
			return qs, err
		}
		a.TotalCount = &total
	}

	start, stop := a.window(*a.TotalCount)
	a.Start = start
	a.Stop = stop

	if stop != nil {
		qs = qs.Limit(uint64(*stop - start))
	} else if start > 0 {
		// MySQL requires a LIMIT clause for OFFSET to apply.
		qs = qs.Limit(math.MaxInt64)
	}
	if start > 0 {
		qs = qs.Offset(uint64(start))
	}
	return qs, nil
}

// PrefetchWindow holds the SQL fragments a prefetch query needs to slice each
// partition independently: a filter over the window row number plus the
// select expressions for the row number and per-partition total.
type PrefetchWindow struct {
	SelectExprs []string // window columns to add to the inner select
	FilterSQL   string   // outer filter over __rn/__total
	FilterArgs  []any
}

// PaginatePrefetch builds the window expressions for slicing a prefetch
// base query per parent partition. Start and stop cannot be Go integers here:
// with 'last', start depends on a total that differs per partition, so both
// bounds are emitted as SQL expressions over the per-partition count.
func (a *Args) PaginatePrefetch(partitionBy []string, orderBy string) PrefetchWindow {
	partition := strings.Join(partitionBy, ", ")
	selectExprs := []string{
		fmt.Sprintf("ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s) AS %s", partition, orderBy, RowNumberAlias),
		fmt.Sprintf("COUNT(*) OVER (PARTITION BY %s) AS %s", partition, PartitionTotalAlias),
	}

	after := 0
	if a.After != nil {
		after = *a.After
	}
	startExpr := fmt.Sprintf("LEAST(?, %s)", PartitionTotalAlias)
	startArgs := []any{after}

	stopExpr := PartitionTotalAlias
	var stopArgs []any
	if a.Before != nil {
		stopExpr = fmt.Sprintf("LEAST(?, %s)", PartitionTotalAlias)
		stopArgs = []any{*a.Before}
	}
	if a.First != nil {
		// stop = min(stop, start + first)
		stopExpr = fmt.Sprintf("LEAST(%s, %s + ?)", stopExpr, startExpr)
		stopArgs = append(append(stopArgs, startArgs...), *a.First)
	}
	if a.Last != nil {
		// start = max(start, stop - last); per-partition because stop varies
		// with the partition total.
		newStart := fmt.Sprintf("GREATEST(%s, %s - ?)", startExpr, stopExpr)
		startArgs = append(append(startArgs, stopArgs...), *a.Last)
		startExpr = newStart
	}

	// Window row numbers are 1-based: index i corresponds to __rn = i+1, so
	// [start, stop) becomes __rn > start AND __rn <= stop.
	filter := fmt.Sprintf("%s > %s", RowNumberAlias, startExpr)
	filterArgs := startArgs
	if a.Before != nil || a.First != nil || a.Last != nil {
		filter += fmt.Sprintf(" AND %s <= %s", RowNumberAlias, stopExpr)
		filterArgs = append(filterArgs, stopArgs...)
	}

	return PrefetchWindow{
		SelectExprs: selectExprs,
		FilterSQL:   filter,
		FilterArgs:  filterArgs,
	}
}

func countQuery(ctx context.Context, exec dbexec.QueryExecutor, qs sq.SelectBuilder) (int, error) {
	baseSQL, baseArgs, err := qs.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return 0, err
	}
	rows, err := exec.QueryContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS __count", baseSQL), baseArgs...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("count query returned no rows")
	}
	var total int
	if err := rows.Scan(&total); err != nil {
		return 0, err
	}
	return total, rows.Err()
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
