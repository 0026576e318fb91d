package decode

import (
	"errors"
	"math"
	"testing"
	"time"

	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"codescope/backend/internal/telemetry/domain"
)

var ts = time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)

func str(k, v string) *commonpb.KeyValue {
	return &commonpb.KeyValue{Key: k, Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: v}}}
}

func gauge(name string, points ...*metricspb.NumberDataPoint) *metricspb.Metric {
	return &metricspb.Metric{Name: name, Data: &metricspb.Metric_Gauge{Gauge: &metricspb.Gauge{DataPoints: points}}}
}

func doublePoint(v float64, attrs ...*commonpb.KeyValue) *metricspb.NumberDataPoint {
	return &metricspb.NumberDataPoint{
		TimeUnixNano: uint64(ts.UnixNano()),
		Value:        &metricspb.NumberDataPoint_AsDouble{AsDouble: v},
		Attributes:   attrs,
	}
}

func metricsRequest(resource []*commonpb.KeyValue, metrics ...*metricspb.Metric) *colmetricspb.ExportMetricsServiceRequest {
	return &colmetricspb.ExportMetricsServiceRequest{
		ResourceMetrics: []*metricspb.ResourceMetrics{{
			Resource:     &resourcepb.Resource{Attributes: resource},
			ScopeMetrics: []*metricspb.ScopeMetrics{{Metrics: metrics}},
		}},
	}
}

func TestMetrics_GaugeAndSum(t *testing.T) {
	req := metricsRequest(
		[]*commonpb.KeyValue{str("session.id", "S"), str("model", "resource-model")},
		gauge("claude_code.cost.usage", doublePoint(1.5, str("model", "opus"))),
		&metricspb.Metric{Name: "claude_code.token.usage", Data: &metricspb.Metric_Sum{Sum: &metricspb.Sum{
			DataPoints: []*metricspb.NumberDataPoint{{
				TimeUnixNano: uint64(ts.UnixNano()),
				Value:        &metricspb.NumberDataPoint_AsInt{AsInt: 120},
			}},
		}}},
	)
	b := Metrics(req)
	if len(b.Invalid) != 0 {
		t.Fatalf("unexpected rejections: %v", b.Invalid)
	}
	if len(b.Points) != 2 {
		t.Fatalf("points = %d, want 2", len(b.Points))
	}
	p := b.Points[0]
	if p.Name != "claude_code.cost.usage" || p.Value != 1.5 || !p.Timestamp.Equal(ts) {
		t.Errorf("first point = %+v", p)
	}
	if p.Attributes["model"] != "opus" {
		t.Errorf("point attribute should win over resource, got model=%q", p.Attributes["model"])
	}
	if p.Attributes["session.id"] != "S" {
		t.Errorf("resource attribute missing: %v", p.Attributes)
	}
	if b.Points[1].Value != 120 || b.Points[1].Index != 1 {
		t.Errorf("second point = %+v", b.Points[1])
	}
	if b.Points[1].Signal != domain.SignalMetrics {
		t.Errorf("signal = %q", b.Points[1].Signal)
	}
}

func TestMetrics_OneGoodOneBad(t *testing.T) {
	bad := &metricspb.NumberDataPoint{Value: &metricspb.NumberDataPoint_AsDouble{AsDouble: 2}} // no timestamp
	b := Metrics(metricsRequest(nil, gauge("m", doublePoint(1), bad)))
	if len(b.Points) != 1 || len(b.Invalid) != 1 {
		t.Fatalf("points=%d invalid=%d, want 1/1", len(b.Points), len(b.Invalid))
	}
	if b.Total() != 2 {
		t.Errorf("Total() = %d, want 2", b.Total())
	}
	verr := b.Invalid[0]
	if verr.Index != 1 || verr.Reason != "missing timestamp" {
		t.Errorf("rejection = %+v", verr)
	}
	if !errors.Is(verr, ErrInvalidRecord) {
		t.Error("ValidationError should match ErrInvalidRecord")
	}
}

func TestMetrics_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		metric *metricspb.Metric
		reason string
	}{
		{"empty name", gauge("", doublePoint(1)), "missing name"},
		{"nan", gauge("m", doublePoint(math.NaN())), "value is not a finite number"},
		{"inf", gauge("m", doublePoint(math.Inf(1))), "value is not a finite number"},
		{"no value", gauge("m", &metricspb.NumberDataPoint{TimeUnixNano: 1}), "data point has no value"},
		{"no data", &metricspb.Metric{Name: "m"}, "metric has no data"},
		{"empty attribute key", gauge("m", doublePoint(1, str("", "x"))), "attribute with empty key"},
		{"histogram without sum", &metricspb.Metric{Name: "h", Data: &metricspb.Metric_Histogram{Histogram: &metricspb.Histogram{
			DataPoints: []*metricspb.HistogramDataPoint{{TimeUnixNano: 1, Count: 3}},
		}}}, "histogram point has no sum"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Metrics(metricsRequest(nil, tt.metric))
			if len(b.Points) != 0 || len(b.Invalid) != 1 {
				t.Fatalf("points=%d invalid=%d, want 0/1", len(b.Points), len(b.Invalid))
			}
			if b.Invalid[0].Reason != tt.reason {
				t.Errorf("reason = %q, want %q", b.Invalid[0].Reason, tt.reason)
			}
		})
	}
}

func TestMetrics_HistogramFlattensToSum(t *testing.T) {
	sum := 42.5
	m := &metricspb.Metric{Name: "claude_code.response.time", Data: &metricspb.Metric_Histogram{Histogram: &metricspb.Histogram{
		DataPoints: []*metricspb.HistogramDataPoint{{TimeUnixNano: uint64(ts.UnixNano()), Count: 5, Sum: &sum}},
	}}}
	summary := &metricspb.Metric{Name: "latency", Data: &metricspb.Metric_Summary{Summary: &metricspb.Summary{
		DataPoints: []*metricspb.SummaryDataPoint{{TimeUnixNano: uint64(ts.UnixNano()), Count: 2, Sum: 7}},
	}}}
	b := Metrics(metricsRequest(nil, m, summary))
	if len(b.Points) != 2 {
		t.Fatalf("points = %d, want 2 (invalid: %v)", len(b.Points), b.Invalid)
	}
	if b.Points[0].Name != "claude_code.response.time_sum" || b.Points[0].Value != 42.5 || b.Points[0].Attributes["count"] != "5" {
		t.Errorf("histogram point = %+v", b.Points[0])
	}
	if b.Points[1].Name != "latency_sum" || b.Points[1].Attributes["count"] != "2" {
		t.Errorf("summary point = %+v", b.Points[1])
	}
}

func TestLogs_EventNameResolution(t *testing.T) {
	body := func(s string) *commonpb.AnyValue {
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: s}}
	}
	tsn := uint64(ts.UnixNano())
	req := &collogspb.ExportLogsServiceRequest{ResourceLogs: []*logspb.ResourceLogs{{
		Resource: &resourcepb.Resource{Attributes: []*commonpb.KeyValue{str("user.email", "dev@example.com")}},
		ScopeLogs: []*logspb.ScopeLogs{{LogRecords: []*logspb.LogRecord{
			{EventName: "claude_code.tool_result", TimeUnixNano: tsn, Body: body("ignored")},
			{Attributes: []*commonpb.KeyValue{str("event.name", "user_prompt")}, ObservedTimeUnixNano: tsn},
			{Attributes: []*commonpb.KeyValue{str("event_type", "api_request")}, TimeUnixNano: tsn},
			{Body: body("tool_permission_decision"), TimeUnixNano: tsn},
			{TimeUnixNano: tsn},
		}}},
	}}}
	b := Logs(req)
	want := []string{"claude_code.tool_result", "user_prompt", "api_request", "tool_permission_decision"}
	if len(b.Points) != len(want) {
		t.Fatalf("points = %d, want %d", len(b.Points), len(want))
	}
	for i, w := range want {
		if b.Points[i].Name != w {
			t.Errorf("point %d name = %q, want %q", i, b.Points[i].Name, w)
		}
		if b.Points[i].Value != 1 {
			t.Errorf("point %d value = %v, want 1", i, b.Points[i].Value)
		}
		if b.Points[i].Attributes["user.email"] != "dev@example.com" {
			t.Errorf("point %d lost resource attributes", i)
		}
	}
	if len(b.Invalid) != 1 || b.Invalid[0].Reason != "missing name" || b.Invalid[0].Index != 4 {
		t.Errorf("invalid = %v", b.Invalid)
	}
}

func TestTraces_DurationAndIDs(t *testing.T) {
	start := uint64(ts.UnixNano())
	req := &coltracepb.ExportTraceServiceRequest{ResourceSpans: []*tracepb.ResourceSpans{{
		ScopeSpans: []*tracepb.ScopeSpans{{Spans: []*tracepb.Span{
			{
				Name:              "tool.execute",
				TraceId:           []byte{0xab, 0xcd},
				SpanId:            []byte{0x01},
				ParentSpanId:      []byte{0x02},
				StartTimeUnixNano: start,
				EndTimeUnixNano:   start + uint64(250*time.Millisecond),
			},
			{Name: "backwards", StartTimeUnixNano: start, EndTimeUnixNano: start - 1},
		}}},
	}}}
	b := Traces(req)
	if len(b.Points) != 1 || len(b.Invalid) != 1 {
		t.Fatalf("points=%d invalid=%d, want 1/1", len(b.Points), len(b.Invalid))
	}
	p := b.Points[0]
	if p.Value != 250 {
		t.Errorf("duration = %v ms, want 250", p.Value)
	}
	if p.Attributes["trace_id"] != "abcd" || p.Attributes["span_id"] != "01" || p.Attributes["parent_span_id"] != "02" {
		t.Errorf("ids = %v", p.Attributes)
	}
	if !p.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want span start", p.Timestamp)
	}
	if b.Invalid[0].Reason != "span ends before it starts" {
		t.Errorf("reason = %q", b.Invalid[0].Reason)
	}
}

func TestAttributeString(t *testing.T) {
	tests := []struct {
		name string
		v    *commonpb.AnyValue
		want string
	}{
		{"nil", nil, ""},
		{"int", &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: -7}}, "-7"},
		{"double", &commonpb.AnyValue{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: 0.25}}, "0.25"},
		{"bool", &commonpb.AnyValue{Value: &commonpb.AnyValue_BoolValue{BoolValue: true}}, "true"},
		{"bytes", &commonpb.AnyValue{Value: &commonpb.AnyValue_BytesValue{BytesValue: []byte("raw")}}, "raw"},
		{"array", &commonpb.AnyValue{Value: &commonpb.AnyValue_ArrayValue{ArrayValue: &commonpb.ArrayValue{Values: []*commonpb.AnyValue{
			{Value: &commonpb.AnyValue_StringValue{StringValue: "a"}},
			{Value: &commonpb.AnyValue_IntValue{IntValue: 2}},
		}}}}, "[a, 2]"},
		{"kvlist", &commonpb.AnyValue{Value: &commonpb.AnyValue_KvlistValue{KvlistValue: &commonpb.KeyValueList{Values: []*commonpb.KeyValue{
			str("k", "v"),
		}}}}, `{"k":"v"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AttributeString(tt.v); got != tt.want {
				t.Errorf("AttributeString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMetrics_SumTemporality(t *testing.T) {
	start := ts.Add(-time.Hour)
	sum := func(name string, temporality metricspb.AggregationTemporality, monotonic bool) *metricspb.Metric {
		p := doublePoint(5)
		p.StartTimeUnixNano = uint64(start.UnixNano())
		return &metricspb.Metric{Name: name, Data: &metricspb.Metric_Sum{Sum: &metricspb.Sum{
			AggregationTemporality: temporality,
			IsMonotonic:            monotonic,
			DataPoints:             []*metricspb.NumberDataPoint{p},
		}}}
	}
	b := Metrics(metricsRequest(nil,
		sum("cumulative.counter", metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE, true),
		sum("delta.counter", metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_DELTA, true),
		sum("cumulative.updown", metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE, false),
		gauge("a.gauge", doublePoint(1)),
	))
	if len(b.Points) != 4 {
		t.Fatalf("points = %d, invalid = %v", len(b.Points), b.Invalid)
	}
	want := []bool{true, false, false, false}
	for i, p := range b.Points {
		if p.Cumulative != want[i] {
			t.Errorf("%s: Cumulative = %v", p.Name, p.Cumulative)
		}
	}
	if !b.Points[0].StartTime.Equal(start) {
		t.Errorf("StartTime = %v, want %v", b.Points[0].StartTime, start)
	}
}
