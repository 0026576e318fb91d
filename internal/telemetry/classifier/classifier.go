// Package classifier recovers identity context and a semantic category from loosely typed
// telemetry records. Classification is table driven and never rejects a record.
package classifier

import (
	"strings"

	"codescope/backend/internal/logging"
	"codescope/backend/internal/metrics"
	"codescope/backend/internal/telemetry/domain"
	usagedomain "codescope/backend/internal/usage/domain"
)

// MatchKind selects how a Rule's pattern is compared with a record name.
type MatchKind int

const (
	MatchExact MatchKind = iota
	MatchPrefix
	MatchSuffix
	MatchContains
)

// Rule maps a name pattern to a category and kind. Patterns are compared against the lowercased name.
type Rule struct {
	Match    MatchKind
	Pattern  string
	Category domain.Category
	Kind     domain.Kind
}

// Matches reports whether name satisfies the rule.
func (r Rule) Matches(name string) bool {
	name = strings.ToLower(name)
	switch r.Match {
	case MatchExact:
		return name == r.Pattern
	case MatchPrefix:
		return strings.HasPrefix(name, r.Pattern)
	case MatchSuffix:
		return strings.HasSuffix(name, r.Pattern)
	case MatchContains:
		return strings.Contains(name, r.Pattern)
	}
	return false
}

// DefaultRules is the ordered classification table. The first matching rule wins.
var DefaultRules = []Rule{
	{MatchContains, "session.count", domain.CategorySession, domain.KindSessionCount},
	{MatchContains, "session.end", domain.CategorySession, domain.KindSessionEnd},
	{MatchSuffix, "session_end", domain.CategorySession, domain.KindSessionEnd},
	{MatchContains, "session.duration", domain.CategorySession, domain.KindSessionDuration},
	{MatchSuffix, "user_prompt", domain.CategorySession, domain.KindUserPrompt},
	{MatchSuffix, "user_prompt_submitted", domain.CategorySession, domain.KindUserPrompt},
	{MatchContains, "token.usage", domain.CategoryUsage, domain.KindTokenUsage},
	{MatchPrefix, "token", domain.CategoryUsage, domain.KindTokenUsage},
	{MatchContains, "cost.usage", domain.CategoryCost, domain.KindCostUsage},
	{MatchPrefix, "cost", domain.CategoryCost, domain.KindCostUsage},
	{MatchSuffix, "api_request", domain.CategoryCost, domain.KindAPIRequest},
	{MatchSuffix, "api_error", domain.CategoryErrors, domain.KindAPIError},
	{MatchSuffix, "api_request_failed", domain.CategoryErrors, domain.KindAPIError},
	{MatchContains, "commit", domain.CategoryProductivity, domain.KindCommit},
	{MatchContains, "pull_request", domain.CategoryProductivity, domain.KindPullRequest},
	{MatchContains, "lines_of_code", domain.CategoryProductivity, domain.KindLinesOfCode},
	{MatchSuffix, "tool_result", domain.CategoryTools, domain.KindToolResult},
	{MatchSuffix, "tool_decision", domain.CategoryTools, domain.KindToolDecision},
	{MatchSuffix, "tool_permission_decision", domain.CategoryTools, domain.KindToolDecision},
	{MatchContains, "code_edit_tool.decision", domain.CategoryTools, domain.KindToolDecision},
	{MatchPrefix, ToolMetricPrefix, domain.CategoryTools, domain.KindToolUsage},
	{MatchContains, "error", domain.CategoryErrors, domain.KindError},
	{MatchContains, "response.time", domain.CategoryPerformance, domain.KindLatency},
	{MatchContains, "latency", domain.CategoryPerformance, domain.KindLatency},
	{MatchContains, "duration", domain.CategoryPerformance, domain.KindLatency},
}

// ToolMetricPrefix prefixes per-tool usage metrics; the remainder of the name is the tool name.
const ToolMetricPrefix = "claude_code.tool."

// Identity attribute aliases, searched in order. A field stays empty when no alias is present.
var (
	UserIDKeys         = []string{"user.id", "user_id", "enduser.id"}
	UserEmailKeys      = []string{"user.email", "user_email", "enduser.email"}
	OrganizationIDKeys = []string{"organization.id", "organization_id", "org.id"}
	SessionIDKeys      = []string{"session.id", "session_id"}
	VersionKeys        = []string{"service.version", "app.version", "version"}
	HostKeys           = []string{"host.name", "host.id", "host"}
	ServiceKeys        = []string{"service.name", "service"}
)

// Detail attribute aliases.
var (
	TokenTypeKeys  = []string{"type", "token_type"}
	LineChangeKeys = []string{"type", "change_type"}
	ModelKeys      = []string{"model"}
	ToolNameKeys   = []string{"tool_name", "tool"}
	SuccessKeys    = []string{"success"}
)

// Classifier assigns categories using an ordered rule table.
type Classifier struct {
	rules   []Rule
	log     logging.Logger
	metrics *metrics.Collector
}

// New returns a Classifier. extra rules are consulted before DefaultRules.
func New(log logging.Logger, m *metrics.Collector, extra ...Rule) *Classifier {
	rules := make([]Rule, 0, len(extra)+len(DefaultRules))
	rules = append(rules, extra...)
	rules = append(rules, DefaultRules...)
	return &Classifier{rules: rules, log: logging.OrDiscard(log), metrics: m}
}

// Classify resolves p's identity context, category, kind and routing details.
func (c *Classifier) Classify(p domain.DataPoint) domain.ClassifiedMetric {
	labels := usagedomain.Labels(p.Attributes)
	if labels == nil {
		labels = usagedomain.Labels{}
	}
	cm := domain.ClassifiedMetric{
		Signal:    p.Signal,
		Name:      p.Name,
		Value:     p.Value,
		Timestamp: p.Timestamp,
		Labels:    labels,
		Category:  domain.CategoryCustom,
		Kind:      domain.KindCustom,
		SessionID: labels.Get(SessionIDKeys...),
		Identity:  ResolveIdentity(labels),
	}
	matched := false
	for _, r := range c.rules {
		if r.Matches(p.Name) {
			cm.Category, cm.Kind = r.Category, r.Kind
			matched = true
			break
		}
	}
	if !matched {
		c.log.WithFields(logging.Fields{
			"name":   p.Name,
			"signal": p.Signal,
		}).Debug("classifier: no rule matched, using custom category")
	}
	cm.Details = details(cm.Kind, p.Name, labels)
	c.metrics.Classified(string(cm.Category))
	return cm
}

// ResolveIdentity extracts the identity context from labels using the documented aliases.
// Values are copied verbatim.
func ResolveIdentity(labels usagedomain.Labels) usagedomain.Identity {
	return usagedomain.Identity{
		UserID:         labels.Get(UserIDKeys...),
		UserEmail:      labels.Get(UserEmailKeys...),
		OrganizationID: labels.Get(OrganizationIDKeys...),
		Host:           labels.Get(HostKeys...),
		Service:        labels.Get(ServiceKeys...),
		Version:        labels.Get(VersionKeys...),
	}
}

func details(kind domain.Kind, name string, labels usagedomain.Labels) domain.Details {
	d := domain.Details{
		Model:    labels.Get(ModelKeys...),
		ToolName: labels.Get(ToolNameKeys...),
	}
	if ok, found := labels.Bool(SuccessKeys...); found {
		d.Success = &ok
	}
	switch kind {
	case domain.KindTokenUsage:
		d.TokenType = tokenType(labels.Get(TokenTypeKeys...))
	case domain.KindLinesOfCode:
		d.LineChange = lineChange(labels.Get(LineChangeKeys...))
	case domain.KindToolUsage:
		if d.ToolName == "" && strings.HasPrefix(strings.ToLower(name), ToolMetricPrefix) {
			d.ToolName = name[len(ToolMetricPrefix):]
		}
	}
	return d
}

// tokenType normalizes the token type label. Unknown or missing types count as input tokens.
func tokenType(v string) domain.TokenType {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "output":
		return domain.TokenOutput
	case "cachecreation", "cache_creation":
		return domain.TokenCacheCreation
	case "cacheread", "cache_read":
		return domain.TokenCacheRead
	}
	return domain.TokenInput
}

// lineChange normalizes the line change label. Anything but "removed" counts as added lines.
func lineChange(v string) domain.LineChange {
	if strings.EqualFold(strings.TrimSpace(v), "removed") {
		return domain.LinesRemoved
	}
	return domain.LinesAdded
}
