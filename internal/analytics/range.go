package analytics

import (
	"errors"
	"fmt"
	"time"

	"codescope/backend/internal/usage/domain"
)

// ErrInvalidRange is returned for unknown range names and empty or inverted explicit ranges.
var ErrInvalidRange = errors.New("invalid time range")

// DefaultRange is used when a query names neither a range nor explicit bounds.
const DefaultRange = "24h"

// maxBuckets bounds explicit ranges so one query cannot allocate an unbounded trend.
const maxBuckets = 5000

// ShortRange is the one-hour named range. Only the timeline accepts it.
const ShortRange = "1h"

var namedRanges = map[string]time.Duration{
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// Range is a half-open time window [Start, End). Name is the named range it was resolved from,
// or empty for explicit bounds.
type Range struct {
	Name  string
	Start time.Time
	End   time.Time
}

// ResolveRange turns query parameters into a Range. Explicit start and end win over name; an empty
// name means DefaultRange. Named ranges are 24h, 7d and 30d and end at now.
func ResolveRange(name string, start, end, now time.Time) (Range, error) {
	return resolveRange(name, start, end, now, false)
}

// ResolveTimelineRange is ResolveRange that also accepts ShortRange.
func ResolveTimelineRange(name string, start, end, now time.Time) (Range, error) {
	return resolveRange(name, start, end, now, true)
}

func resolveRange(name string, start, end, now time.Time, allowShort bool) (Range, error) {
	if !start.IsZero() || !end.IsZero() {
		if start.IsZero() || end.IsZero() {
			return Range{}, fmt.Errorf("%w: start_time and end_time must be given together", ErrInvalidRange)
		}
		r := Range{Start: start.UTC(), End: end.UTC()}
		if !r.End.After(r.Start) {
			return Range{}, fmt.Errorf("%w: end_time must be after start_time", ErrInvalidRange)
		}
		if r.BucketCount() > maxBuckets {
			return Range{}, fmt.Errorf("%w: range spans more than %d buckets", ErrInvalidRange, maxBuckets)
		}
		return r, nil
	}
	if name == "" {
		name = DefaultRange
	}
	d, ok := namedRanges[name]
	if allowShort && name == ShortRange {
		d, ok = time.Hour, true
	}
	if !ok {
		return Range{}, fmt.Errorf("%w: %q", ErrInvalidRange, name)
	}
	now = now.UTC()
	return Range{Name: name, Start: now.Add(-d), End: now}, nil
}

// Duration returns End - Start.
func (r Range) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Step is the trend bucket width: hourly up to 24h, daily above.
func (r Range) Step() time.Duration {
	if r.Duration() <= 24*time.Hour {
		return time.Hour
	}
	return 24 * time.Hour
}

// BucketCount is ceil(Duration / Step), and 0 for an empty range.
func (r Range) BucketCount() int {
	d, step := r.Duration(), r.Step()
	if d <= 0 {
		return 0
	}
	n := int(d / step)
	if d%step != 0 {
		n++
	}
	return n
}

// Buckets returns the start of every bucket, beginning at r.Start.
func (r Range) Buckets() []time.Time {
	n, step := r.BucketCount(), r.Step()
	out := make([]time.Time, n)
	for i := range out {
		out[i] = r.Start.Add(time.Duration(i) * step)
	}
	return out
}

// bucketIndex returns the bucket holding t, or -1 when t is outside the range.
func (r Range) bucketIndex(t time.Time) int {
	if t.Before(r.Start) || !t.Before(r.End) {
		return -1
	}
	return int(t.Sub(r.Start) / r.Step())
}

// Previous is the range of the same length that ends where r starts.
func (r Range) Previous() Range {
	return Range{Name: r.Name, Start: r.Start.Add(-r.Duration()), End: r.Start}
}

// halves splits r at its midpoint.
func (r Range) halves() (Range, Range) {
	mid := r.Start.Add(r.Duration() / 2)
	return Range{Name: r.Name, Start: r.Start, End: mid}, Range{Name: r.Name, Start: mid, End: r.End}
}

// Label names the range for responses: the range name, or "custom" for explicit bounds.
func (r Range) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return "custom"
}

// Query is one analytics request: a range plus optional identity filters.
type Query struct {
	Range
	UserEmail      string
	OrganizationID string
}

// filter converts q into a storage filter.
func (q Query) filter() domain.Filter {
	return domain.Filter{
		Start:          q.Start,
		End:            q.End,
		UserEmail:      q.UserEmail,
		OrganizationID: q.OrganizationID,
	}
}

// in returns a copy of q over r.
func (q Query) in(r Range) Query {
	q.Range = r
	return q
}

// cacheKey identifies the result of op for q. Named ranges are keyed by name so repeated dashboard
// polls share an entry for the cache TTL.
func (q Query) cacheKey(op string) string {
	window := q.Name
	if window == "" {
		window = fmt.Sprintf("%d-%d", q.Start.UnixMilli(), q.End.UnixMilli())
	}
	return fmt.Sprintf("%s|%s|%s|%s", op, window, q.UserEmail, q.OrganizationID)
}
