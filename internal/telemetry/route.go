package telemetry

import (
	"context"
	"fmt"
	"math"

	"codescope/backend/internal/telemetry/domain"
	"codescope/backend/internal/usage/repository"
	usagedomain "codescope/backend/internal/usage/domain"
)

// Label aliases read when building typed events.
var (
	repositoryKeys   = []string{"repository", "repo", "vcs.repository.name"}
	commitHashKeys   = []string{"commit_hash", "commit.sha", "vcs.commit.sha"}
	branchKeys       = []string{"branch", "vcs.branch", "vcs.ref.head.name"}
	prNumberKeys     = []string{"pr_number", "pull_request.number"}
	filesChangedKeys = []string{"files_changed"}
	linesAddedKeys   = []string{"lines_added"}
	linesRemovedKeys = []string{"lines_removed"}
	durationKeys     = []string{"duration_ms"}
)

// maxCount is 2^63, the first float64 that does not fit in an int64.
const maxCount = 1 << 63

// route performs the single storage write for a classified record.
//
// api_request events are stored as metric points in the cost category. The same call is already
// counted by the claude_code.cost.usage and claude_code.token.usage metrics, so writing a cost
// record for it would count the spend twice.
func (p *Pipeline) route(ctx context.Context, cm *domain.ClassifiedMetric) error {
	switch cm.Kind {
	case domain.KindSessionCount, domain.KindSessionEnd, domain.KindUserPrompt:
		if cm.SessionID == "" {
			return p.store.RecordMetricPoint(ctx, metricPoint(cm))
		}
		ev := usagedomain.SessionEvent{SessionID: cm.SessionID, Identity: cm.Identity, Timestamp: cm.Timestamp}
		switch cm.Kind {
		case domain.KindSessionEnd:
			ev.End = true
		case domain.KindUserPrompt:
			ev.Commands = 1
		}
		return p.store.RecordSession(ctx, ev)
	case domain.KindTokenUsage, domain.KindCostUsage:
		c, err := costRecord(cm)
		if err != nil {
			return err
		}
		return p.store.RecordCost(ctx, c)
	case domain.KindCommit, domain.KindPullRequest, domain.KindLinesOfCode:
		e, err := productivityEvent(cm)
		if err != nil {
			return err
		}
		return p.store.RecordProductivityEvent(ctx, e)
	case domain.KindToolUsage, domain.KindToolResult:
		r, err := toolUsage(cm)
		if err != nil {
			return err
		}
		return p.store.RecordToolUsage(ctx, r)
	default:
		return p.store.RecordMetricPoint(ctx, metricPoint(cm))
	}
}

// count converts a counter value to an integer, rounding to the nearest whole number. Negative,
// non-finite and out-of-range values are invalid.
func count(field string, v float64) (int64, error) {
	if math.IsNaN(v) || v < 0 || v >= maxCount {
		return 0, fmt.Errorf("%w: %s %v is not a valid count", repository.ErrInvalidEvent, field, v)
	}
	return int64(math.Round(v)), nil
}

// labelCounts reads integer labels, keeping the first invalid one.
type labelCounts struct {
	labels usagedomain.Labels
	err    error
}

// get returns the label as a count. Absent or non-numeric labels read as zero.
func (lc *labelCounts) get(keys []string) int64 {
	f, ok := lc.labels.Float(keys...)
	if !ok {
		return 0
	}
	n, err := count(keys[0], f)
	if err != nil && lc.err == nil {
		lc.err = err
	}
	return n
}

func metricPoint(cm *domain.ClassifiedMetric) *usagedomain.MetricPoint {
	return &usagedomain.MetricPoint{
		SessionID: cm.SessionID,
		Name:      cm.Name,
		Category:  string(cm.Category),
		Value:     cm.Value,
		Timestamp: cm.Timestamp,
		Labels:    cm.Labels,
		Identity:  cm.Identity,
	}
}

func costRecord(cm *domain.ClassifiedMetric) (*usagedomain.CostRecord, error) {
	c := &usagedomain.CostRecord{
		SessionID: cm.SessionID,
		Model:     cm.Details.Model,
		Timestamp: cm.Timestamp,
		Identity:  cm.Identity,
	}
	if cm.Kind == domain.KindCostUsage {
		if math.IsNaN(cm.Value) || math.IsInf(cm.Value, 0) || cm.Value < 0 {
			return nil, fmt.Errorf("%w: cost %v is not a valid amount", repository.ErrInvalidEvent, cm.Value)
		}
		c.CostUSD = cm.Value
		return c, nil
	}
	n, err := count("tokens", cm.Value)
	if err != nil {
		return nil, err
	}
	switch cm.Details.TokenType {
	case domain.TokenOutput:
		c.OutputTokens = n
	case domain.TokenCacheCreation:
		c.CacheCreationTokens = n
	case domain.TokenCacheRead:
		c.CacheReadTokens = n
	default:
		c.InputTokens = n
	}
	return c, nil
}

func productivityEvent(cm *domain.ClassifiedMetric) (*usagedomain.ProductivityEvent, error) {
	lc := labelCounts{labels: cm.Labels}
	e := &usagedomain.ProductivityEvent{
		SessionID:    cm.SessionID,
		Repository:   cm.Labels.Get(repositoryKeys...),
		FilesChanged: lc.get(filesChangedKeys),
		LinesAdded:   lc.get(linesAddedKeys),
		LinesRemoved: lc.get(linesRemovedKeys),
		CommitHash:   cm.Labels.Get(commitHashKeys...),
		Branch:       cm.Labels.Get(branchKeys...),
		PRNumber:     lc.get(prNumberKeys),
		Timestamp:    cm.Timestamp,
		Identity:     cm.Identity,
	}
	if lc.err != nil {
		return nil, lc.err
	}
	n, err := count("value", cm.Value)
	if err != nil {
		return nil, err
	}
	switch cm.Kind {
	case domain.KindCommit:
		e.Kind = usagedomain.KindCommit
		e.Count = n
	case domain.KindPullRequest:
		e.Kind = usagedomain.KindPullRequest
		e.Count = n
	default:
		e.Kind = usagedomain.KindFileEdit
		if cm.Details.LineChange == domain.LinesRemoved {
			e.LinesRemoved = n
		} else {
			e.LinesAdded = n
		}
	}
	return e, nil
}

func toolUsage(cm *domain.ClassifiedMetric) (*usagedomain.ToolUsageRecord, error) {
	lc := labelCounts{labels: cm.Labels}
	r := &usagedomain.ToolUsageRecord{
		SessionID:  cm.SessionID,
		ToolName:   cm.Details.ToolName,
		DurationMS: lc.get(durationKeys),
		Timestamp:  cm.Timestamp,
		Identity:   cm.Identity,
	}
	if lc.err != nil {
		return nil, lc.err
	}
	if r.ToolName == "" {
		r.ToolName = "unknown"
	}
	r.Invocations = 1
	if cm.Kind == domain.KindToolUsage {
		n, err := count("invocations", cm.Value)
		if err != nil {
			return nil, err
		}
		r.Invocations = n
	}
	if cm.Details.Success != nil && !*cm.Details.Success {
		r.ErrorCount = r.Invocations
	} else {
		r.SuccessCount = r.Invocations
	}
	return r, nil
}
