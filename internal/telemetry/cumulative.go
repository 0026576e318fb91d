package telemetry

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"codescope/backend/internal/telemetry/domain"
)

// seriesTTL is how long a cumulative series is remembered after its last point.
const seriesTTL = time.Hour

type seriesState struct {
	start time.Time
	value float64
	ts    time.Time
	seen  time.Time
}

// cumulativeTracker turns cumulative sum points into increments. A series is a metric name plus
// its full attribute set.
//
// The first point of a series is counted in full only when the series started after the tracker
// did. Otherwise part of its running total may already be stored from before a restart, and the
// point only becomes the baseline.
type cumulativeTracker struct {
	mu        sync.Mutex
	started   time.Time
	now       func() time.Time
	series    map[string]*seriesState
	lastSweep time.Time
}

func newCumulativeTracker(now func() time.Time) *cumulativeTracker {
	t := now()
	return &cumulativeTracker{started: t, now: now, series: map[string]*seriesState{}, lastSweep: t}
}

// delta returns the increment dp adds to its series. ok is false when there is nothing to store:
// a baseline point, a stale point or an unchanged total.
func (t *cumulativeTracker) delta(dp domain.DataPoint) (float64, bool) {
	key := seriesKey(dp)
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.sweep(now)

	st, found := t.series[key]
	switch {
	case !found:
		t.series[key] = &seriesState{start: dp.StartTime, value: dp.Value, ts: dp.Timestamp, seen: now}
		if dp.StartTime.IsZero() || dp.StartTime.Before(t.started) {
			return 0, false
		}
		return dp.Value, dp.Value > 0
	case dp.StartTime.Equal(st.start) && dp.Timestamp.Before(st.ts):
		return 0, false
	case !dp.StartTime.Equal(st.start) || dp.Value < st.value:
		// The producer restarted: the new total counts from zero.
		*st = seriesState{start: dp.StartTime, value: dp.Value, ts: dp.Timestamp, seen: now}
		return dp.Value, dp.Value > 0
	}
	d := dp.Value - st.value
	st.value, st.ts, st.seen = dp.Value, dp.Timestamp, now
	return d, d > 0
}

func (t *cumulativeTracker) sweep(now time.Time) {
	if now.Sub(t.lastSweep) < seriesTTL {
		return
	}
	t.lastSweep = now
	maps.DeleteFunc(t.series, func(_ string, st *seriesState) bool {
		return now.Sub(st.seen) > seriesTTL
	})
}

func seriesKey(dp domain.DataPoint) string {
	var sb strings.Builder
	sb.WriteString(dp.Name)
	for _, k := range slices.Sorted(maps.Keys(dp.Attributes)) {
		sb.WriteByte(0)
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(dp.Attributes[k])
	}
	return sb.String()
}
