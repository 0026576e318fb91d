// Package decode turns OTLP export requests into flat telemetry records and validates each one.
// Every record is decoded independently: a malformed record becomes a ValidationError and never
// affects its neighbours.
package decode

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"codescope/backend/internal/telemetry/domain"
)

// ErrInvalidRecord is matched by every ValidationError.
var ErrInvalidRecord = errors.New("invalid telemetry record")

// ValidationError describes one rejected record.
type ValidationError struct {
	Signal domain.Signal
	Index  int
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s record %d: %s", e.Signal, e.Index, e.Reason)
	}
	return fmt.Sprintf("%s record %d (%s): %s", e.Signal, e.Index, e.Name, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRecord }

// Batch is the decoded content of one export request.
type Batch struct {
	Signal  domain.Signal
	Points  []domain.DataPoint
	Invalid []*ValidationError
}

// Total returns the number of records in the batch, valid or not.
func (b *Batch) Total() int {
	return len(b.Points) + len(b.Invalid)
}

type builder struct {
	batch *Batch
	next  int
}

func newBuilder(signal domain.Signal) *builder {
	return &builder{batch: &Batch{Signal: signal}}
}

func (b *builder) reject(name, reason string) {
	b.batch.Invalid = append(b.batch.Invalid, &ValidationError{
		Signal: b.batch.Signal,
		Index:  b.next,
		Name:   name,
		Reason: reason,
	})
	b.next++
}

// add validates p and files it as accepted or rejected.
func (b *builder) add(p domain.DataPoint, attrErr error) {
	switch {
	case attrErr != nil:
		b.reject(p.Name, attrErr.Error())
		return
	case strings.TrimSpace(p.Name) == "":
		b.reject("", "missing name")
		return
	case math.IsNaN(p.Value) || math.IsInf(p.Value, 0):
		b.reject(p.Name, "value is not a finite number")
		return
	case p.Timestamp.IsZero():
		b.reject(p.Name, "missing timestamp")
		return
	}
	p.Signal = b.batch.Signal
	p.Index = b.next
	b.batch.Points = append(b.batch.Points, p)
	b.next++
}

// Metrics decodes an OTLP metrics export request.
func Metrics(req *colmetricspb.ExportMetricsServiceRequest) *Batch {
	b := newBuilder(domain.SignalMetrics)
	for _, rm := range req.GetResourceMetrics() {
		res := rm.GetResource().GetAttributes()
		for _, sm := range rm.GetScopeMetrics() {
			for _, m := range sm.GetMetrics() {
				decodeMetric(b, m, res)
			}
		}
	}
	return b.batch
}

func decodeMetric(b *builder, m *metricspb.Metric, res []*commonpb.KeyValue) {
	name := m.GetName()
	switch data := m.GetData().(type) {
	case *metricspb.Metric_Gauge:
		for _, dp := range data.Gauge.GetDataPoints() {
			decodeNumber(b, name, dp, res, false)
		}
	case *metricspb.Metric_Sum:
		// Non-monotonic cumulative sums report a current level and are kept as is.
		cumulative := data.Sum.GetIsMonotonic() &&
			data.Sum.GetAggregationTemporality() == metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE
		for _, dp := range data.Sum.GetDataPoints() {
			decodeNumber(b, name, dp, res, cumulative)
		}
	case *metricspb.Metric_Histogram:
		for _, dp := range data.Histogram.GetDataPoints() {
			if dp.Sum == nil {
				b.reject(name, "histogram point has no sum")
				continue
			}
			decodeAggregate(b, name, dp.GetSum(), dp.GetCount(), dp.GetTimeUnixNano(), dp.GetAttributes(), res)
		}
	case *metricspb.Metric_ExponentialHistogram:
		for _, dp := range data.ExponentialHistogram.GetDataPoints() {
			if dp.Sum == nil {
				b.reject(name, "histogram point has no sum")
				continue
			}
			decodeAggregate(b, name, dp.GetSum(), dp.GetCount(), dp.GetTimeUnixNano(), dp.GetAttributes(), res)
		}
	case *metricspb.Metric_Summary:
		for _, dp := range data.Summary.GetDataPoints() {
			decodeAggregate(b, name, dp.GetSum(), dp.GetCount(), dp.GetTimeUnixNano(), dp.GetAttributes(), res)
		}
	case nil:
		b.reject(name, "metric has no data")
	default:
		b.reject(name, fmt.Sprintf("unsupported metric data type %T", data))
	}
}

func decodeNumber(b *builder, name string, dp *metricspb.NumberDataPoint, res []*commonpb.KeyValue, cumulative bool) {
	attrs, err := mergeAttributes(res, dp.GetAttributes())
	var value float64
	switch v := dp.GetValue().(type) {
	case *metricspb.NumberDataPoint_AsDouble:
		value = v.AsDouble
	case *metricspb.NumberDataPoint_AsInt:
		value = float64(v.AsInt)
	default:
		b.reject(name, "data point has no value")
		return
	}
	b.add(domain.DataPoint{
		Name:       name,
		Value:      value,
		Timestamp:  fromUnixNano(dp.GetTimeUnixNano()),
		Attributes: attrs,
		Cumulative: cumulative,
		StartTime:  fromUnixNano(dp.GetStartTimeUnixNano()),
	}, err)
}

// decodeAggregate flattens histogram-like points into one "<name>_sum" record carrying the count.
func decodeAggregate(b *builder, name string, sum float64, count, ts uint64, point, res []*commonpb.KeyValue) {
	attrs, err := mergeAttributes(res, point)
	if attrs != nil {
		attrs["count"] = strconv.FormatUint(count, 10)
	}
	b.add(domain.DataPoint{
		Name:       name + "_sum",
		Value:      sum,
		Timestamp:  fromUnixNano(ts),
		Attributes: attrs,
	}, err)
}

// Logs decodes an OTLP logs export request. Each log record is one event with value 1.
func Logs(req *collogspb.ExportLogsServiceRequest) *Batch {
	b := newBuilder(domain.SignalLogs)
	for _, rl := range req.GetResourceLogs() {
		res := rl.GetResource().GetAttributes()
		for _, sl := range rl.GetScopeLogs() {
			for _, lr := range sl.GetLogRecords() {
				decodeLog(b, lr, res)
			}
		}
	}
	return b.batch
}

func decodeLog(b *builder, lr *logspb.LogRecord, res []*commonpb.KeyValue) {
	attrs, err := mergeAttributes(res, lr.GetAttributes())
	ts := lr.GetTimeUnixNano()
	if ts == 0 {
		ts = lr.GetObservedTimeUnixNano()
	}
	b.add(domain.DataPoint{
		Name:       logEventName(lr, attrs),
		Value:      1,
		Timestamp:  fromUnixNano(ts),
		Attributes: attrs,
	}, err)
}

func logEventName(lr *logspb.LogRecord, attrs map[string]string) string {
	if n := lr.GetEventName(); n != "" {
		return n
	}
	if n := attrs["event.name"]; n != "" {
		return n
	}
	if n := attrs["event_type"]; n != "" {
		return n
	}
	if s, ok := lr.GetBody().GetValue().(*commonpb.AnyValue_StringValue); ok {
		return strings.TrimSpace(s.StringValue)
	}
	return ""
}

// Traces decodes an OTLP trace export request. A span's value is its duration in milliseconds.
func Traces(req *coltracepb.ExportTraceServiceRequest) *Batch {
	b := newBuilder(domain.SignalTraces)
	for _, rs := range req.GetResourceSpans() {
		res := rs.GetResource().GetAttributes()
		for _, ss := range rs.GetScopeSpans() {
			for _, sp := range ss.GetSpans() {
				decodeSpan(b, sp, res)
			}
		}
	}
	return b.batch
}

func decodeSpan(b *builder, sp *tracepb.Span, res []*commonpb.KeyValue) {
	start, end := sp.GetStartTimeUnixNano(), sp.GetEndTimeUnixNano()
	if end < start {
		b.reject(sp.GetName(), "span ends before it starts")
		return
	}
	attrs, err := mergeAttributes(res, sp.GetAttributes())
	if attrs != nil {
		if id := sp.GetTraceId(); len(id) > 0 {
			attrs["trace_id"] = hex.EncodeToString(id)
		}
		if id := sp.GetSpanId(); len(id) > 0 {
			attrs["span_id"] = hex.EncodeToString(id)
		}
		if id := sp.GetParentSpanId(); len(id) > 0 {
			attrs["parent_span_id"] = hex.EncodeToString(id)
		}
	}
	b.add(domain.DataPoint{
		Name:       sp.GetName(),
		Value:      float64(end-start) / float64(time.Millisecond),
		Timestamp:  fromUnixNano(start),
		Attributes: attrs,
	}, err)
}

// mergeAttributes flattens resource then point attributes into one map; point keys win.
// The map is always returned so callers can keep annotating it; err reports an empty key.
func mergeAttributes(resource, point []*commonpb.KeyValue) (map[string]string, error) {
	out := make(map[string]string, len(resource)+len(point))
	var err error
	for _, set := range [][]*commonpb.KeyValue{resource, point} {
		for _, kv := range set {
			if strings.TrimSpace(kv.GetKey()) == "" {
				err = errors.New("attribute with empty key")
				continue
			}
			out[kv.GetKey()] = AttributeString(kv.GetValue())
		}
	}
	return out, err
}

// AttributeString renders an OTLP attribute value as a string. Arrays render as [a, b] and
// key/value lists as {"k":"v"}.
func AttributeString(v *commonpb.AnyValue) string {
	switch x := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return x.StringValue
	case *commonpb.AnyValue_IntValue:
		return strconv.FormatInt(x.IntValue, 10)
	case *commonpb.AnyValue_DoubleValue:
		return strconv.FormatFloat(x.DoubleValue, 'f', -1, 64)
	case *commonpb.AnyValue_BoolValue:
		return strconv.FormatBool(x.BoolValue)
	case *commonpb.AnyValue_BytesValue:
		return string(x.BytesValue)
	case *commonpb.AnyValue_ArrayValue:
		parts := make([]string, 0, len(x.ArrayValue.GetValues()))
		for _, e := range x.ArrayValue.GetValues() {
			parts = append(parts, AttributeString(e))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *commonpb.AnyValue_KvlistValue:
		parts := make([]string, 0, len(x.KvlistValue.GetValues()))
		for _, kv := range x.KvlistValue.GetValues() {
			parts = append(parts, strconv.Quote(kv.GetKey())+":"+strconv.Quote(AttributeString(kv.GetValue())))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return ""
}

func fromUnixNano(ns uint64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(ns)).UTC()
}
