package analytics

import (
	"cmp"
	"context"
	"slices"

	"codescope/backend/internal/usage/domain"
)

// ToolStats is one tool's share of all tool invocations in a range.
type ToolStats struct {
	ToolName      string  `json:"tool_name"`
	UsageCount    int64   `json:"usage_count"`
	SuccessCount  int64   `json:"success_count"`
	ErrorCount    int64   `json:"error_count"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
	Percentage    float64 `json:"percentage"`
	Color         string  `json:"color"`
}

// ToolUsageData is the tool usage distribution.
type ToolUsageData struct {
	TotalToolCalls int64       `json:"total_tool_calls"`
	Tools          []ToolStats `json:"tools"`
}

// ToolUsage groups tool usage records by tool. percentage = tool invocations / all invocations * 100;
// success_rate = successes / invocations * 100 (0 without invocations). Tools are ordered by usage.
func (e *Engine) ToolUsage(ctx context.Context, q Query) (*ToolUsageData, error) {
	return cached(ctx, e, q.cacheKey("tool-usage"), func() (*ToolUsageData, error) {
		recs, err := e.store.ToolUsage(ctx, q.filter())
		if err != nil {
			return nil, err
		}
		return toolDistribution(recs), nil
	})
}

type toolAgg struct {
	invocations, successes, errors, durationMS int64
}

func toolDistribution(recs []*domain.ToolUsageRecord) *ToolUsageData {
	byTool := make(map[string]*toolAgg)
	var total int64
	for _, r := range recs {
		a := byTool[r.ToolName]
		if a == nil {
			a = &toolAgg{}
			byTool[r.ToolName] = a
		}
		a.invocations += r.Invocations
		a.successes += r.SuccessCount
		a.errors += r.ErrorCount
		a.durationMS += r.DurationMS
		total += r.Invocations
	}

	out := &ToolUsageData{TotalToolCalls: total, Tools: make([]ToolStats, 0, len(byTool))}
	for name, a := range byTool {
		out.Tools = append(out.Tools, ToolStats{
			ToolName:      name,
			UsageCount:    a.invocations,
			SuccessCount:  a.successes,
			ErrorCount:    a.errors,
			SuccessRate:   percent(float64(a.successes), float64(a.invocations)),
			AvgDurationMS: ratio(float64(a.durationMS), float64(a.invocations)),
			Percentage:    percent(float64(a.invocations), float64(total)),
		})
	}
	slices.SortFunc(out.Tools, func(a, b ToolStats) int {
		if c := cmp.Compare(b.UsageCount, a.UsageCount); c != 0 {
			return c
		}
		return cmp.Compare(a.ToolName, b.ToolName)
	})
	for i := range out.Tools {
		out.Tools[i].Color = colorAt(i)
	}
	return out
}
