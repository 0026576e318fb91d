package handler

import (
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"

	"codescope/backend/internal/telemetry/classifier"
)

// withOrg adds organization.id = org to res unless it already carries an organization alias.
func withOrg(res *resourcepb.Resource, org string) *resourcepb.Resource {
	if org == "" {
		return res
	}
	if res == nil {
		res = &resourcepb.Resource{}
	}
	for _, kv := range res.GetAttributes() {
		for _, k := range classifier.OrganizationIDKeys {
			if kv.GetKey() == k && kv.GetValue().GetStringValue() != "" {
				return res
			}
		}
	}
	res.Attributes = append(res.Attributes, &commonpb.KeyValue{
		Key:   classifier.OrganizationIDKeys[0],
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: org}},
	})
	return res
}

// InjectMetricsOrg tags every resource in req that lacks an organization id with org.
func InjectMetricsOrg(req *colmetricspb.ExportMetricsServiceRequest, org string) {
	for _, rm := range req.GetResourceMetrics() {
		rm.Resource = withOrg(rm.Resource, org)
	}
}

// InjectLogsOrg tags every resource in req that lacks an organization id with org.
func InjectLogsOrg(req *collogspb.ExportLogsServiceRequest, org string) {
	for _, rl := range req.GetResourceLogs() {
		rl.Resource = withOrg(rl.Resource, org)
	}
}

// InjectTraceOrg tags every resource in req that lacks an organization id with org.
func InjectTraceOrg(req *coltracepb.ExportTraceServiceRequest, org string) {
	for _, rs := range req.GetResourceSpans() {
		rs.Resource = withOrg(rs.Resource, org)
	}
}
