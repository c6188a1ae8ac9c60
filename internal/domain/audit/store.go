package audit

import (
	"context"
	"time"
)

// Store persists and serves audit records. Append may block briefly,
// bounded by ctx (a saturated queue, or a synchronous commit); Flush and
// Close are used at shutdown to guarantee no record is lost.
type Store interface {
	Append(ctx context.Context, records ...Record) error
	Flush(ctx context.Context) error
	Close() error

	// Query returns the most recent records matching filter, newest
	// first.
	Query(ctx context.Context, filter Filter) ([]Record, error)
}

// Filter specifies the paginated read surface: limit/offset plus
// optional verdict and since-time filters.
type Filter struct {
	Limit  int
	Offset int

	Verdict string // optional, exact match
	Since   time.Time
}

// DefaultQueryLimit is applied when Filter.Limit is zero or negative.
const DefaultQueryLimit = 100

// MaxQueryLimit caps Filter.Limit regardless of what the caller requests.
const MaxQueryLimit = 1000
