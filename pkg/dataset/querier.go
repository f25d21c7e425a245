package dataset

import (
	"context"
	"math"

	"gorm.io/gorm"
)

// QueryCounter counts queries issued while building one dataset. It is
// request-scoped and threaded explicitly so concurrent requests never share
// one; the count is telemetry only.
type QueryCounter struct {
	n int
}

func (c *QueryCounter) Inc()       { c.n++ }
func (c *QueryCounter) Count() int { return c.n }

// Querier runs section queries against the read model and tracks the count.
type Querier struct {
	db      *gorm.DB
	counter *QueryCounter
}

func NewQuerier(db *gorm.DB, counter *QueryCounter) *Querier {
	return &Querier{db: db, counter: counter}
}

// Scan executes one aggregate query built on a fresh session and scans the
// result into dest.
func (q *Querier) Scan(ctx context.Context, dest any, build func(tx *gorm.DB) *gorm.DB) error {
	q.counter.Inc()
	tx := build(q.db.WithContext(ctx).Session(&gorm.Session{NewDB: true}))
	return tx.Scan(dest).Error
}

// rowsToList converts scanned rows into the generic list shape the
// truncation walker understands, coercing non-finite numbers to zero.
func rowsToList(rows []map[string]any) []any {
	list := make([]any, len(rows))
	for i, row := range rows {
		clean := make(map[string]any, len(row))
		for k, v := range row {
			clean[k] = finite(v)
		}
		list[i] = clean
	}
	return list
}

// finite normalizes non-finite numeric aggregates to zero instead of letting
// NaN leak into the serialized document.
func finite(v any) any {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return float64(0)
		}
		return n
	case float32:
		f := float64(n)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return float64(0)
		}
		return f
	default:
		return v
	}
}

func finiteFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
