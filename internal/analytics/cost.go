package analytics

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"codescope/backend/internal/usage/domain"
)

// topUsersLimit caps the user rankings.
const topUsersLimit = 10

// ModelCost is the cost breakdown of one model.
type ModelCost struct {
	ModelName           string  `json:"model_name"`
	TotalCostUSD        float64 `json:"total_cost_usd"`
	InputTokens         int64   `json:"input_tokens"`
	OutputTokens        int64   `json:"output_tokens"`
	CacheCreationTokens int64   `json:"cache_creation_tokens"`
	CacheReadTokens     int64   `json:"cache_read_tokens"`
	Sessions            int64   `json:"sessions"`
	CostPerSession      float64 `json:"cost_per_session"`
	AvgInputTokens      float64 `json:"avg_input_tokens"`
	AvgOutputTokens     float64 `json:"avg_output_tokens"`
	// EfficiencyScore is cost per input+output token; lower is better.
	EfficiencyScore   float64 `json:"efficiency_score"`
	PercentageOfTotal float64 `json:"percentage_of_total"`
	Color             string  `json:"color"`
}

// ModelCostComparison ranks models by total cost.
type ModelCostComparison struct {
	Period    string      `json:"period"`
	TotalCost float64     `json:"total_cost"`
	Models    []ModelCost `json:"models"`
}

// UserCost is one user's spend in a range.
type UserCost struct {
	UserEmail         string  `json:"user_email"`
	TotalCostUSD      float64 `json:"total_cost_usd"`
	TotalTokens       int64   `json:"total_tokens"`
	Sessions          int64   `json:"sessions"`
	AvgCostPerSession float64 `json:"avg_cost_per_session"`
}

// CostAnalytics summarizes spend in a range.
type CostAnalytics struct {
	TotalCostUSD             float64     `json:"total_cost_usd"`
	TotalInputTokens         int64       `json:"total_input_tokens"`
	TotalOutputTokens        int64       `json:"total_output_tokens"`
	TotalCacheCreationTokens int64       `json:"total_cache_creation_tokens"`
	TotalCacheReadTokens     int64       `json:"total_cache_read_tokens"`
	Sessions                 int64       `json:"sessions"`
	AverageCostPerSession    float64     `json:"average_cost_per_session"`
	CostTrend                []CostPoint `json:"cost_trend"`
	ModelBreakdown           []ModelCost `json:"model_breakdown"`
	TopUsersByCost           []UserCost  `json:"top_users_by_cost"`
}

// DailyCost is one day of the budget month.
type DailyCost struct {
	Date     time.Time `json:"date"`
	CostUSD  float64   `json:"cost_usd"`
	Sessions int64     `json:"sessions"`
	Tokens   int64     `json:"tokens"`
}

// BudgetProjection is the linear month-end extrapolation of spend.
type BudgetProjection struct {
	CurrentMonthCost      float64 `json:"current_month_cost"`
	MonthlyBudget         float64 `json:"monthly_budget"`
	PercentageUsed        float64 `json:"percentage_used"`
	DaysElapsed           int     `json:"days_elapsed"`
	DaysInMonth           int     `json:"days_in_month"`
	DaysRemaining         int     `json:"days_remaining"`
	DailyAverage          float64 `json:"daily_average"`
	ProjectedMonthEndCost float64 `json:"projected_month_end_cost"`
	IsOverBudget          bool    `json:"is_over_budget"`
}

// BudgetProgress is the budget projection for the current month plus its daily breakdown.
type BudgetProgress struct {
	BudgetProjection
	Month          string      `json:"month"`
	DailyBreakdown []DailyCost `json:"daily_breakdown"`
}

// ProjectBudget extrapolates month-end spend linearly: the mean daily cost so far times the days in
// the month. It is not a statistical forecast.
func ProjectBudget(monthCost, budget float64, daysElapsed, daysInMonth int) BudgetProjection {
	if daysElapsed < 1 {
		daysElapsed = 1
	}
	avg := monthCost / float64(daysElapsed)
	return BudgetProjection{
		CurrentMonthCost:      monthCost,
		MonthlyBudget:         budget,
		PercentageUsed:        percent(monthCost, budget),
		DaysElapsed:           daysElapsed,
		DaysInMonth:           daysInMonth,
		DaysRemaining:         max(daysInMonth-daysElapsed, 0),
		DailyAverage:          avg,
		ProjectedMonthEndCost: avg * float64(daysInMonth),
		IsOverBudget:          monthCost > budget,
	}
}

// ModelCosts groups cost records by model and ranks them by total cost, highest first.
func (e *Engine) ModelCosts(ctx context.Context, q Query) (*ModelCostComparison, error) {
	return cached(ctx, e, q.cacheKey("model-costs"), func() (*ModelCostComparison, error) {
		recs, err := e.store.CostRecords(ctx, q.filter())
		if err != nil {
			return nil, err
		}
		models, total := modelBreakdown(recs)
		return &ModelCostComparison{Period: q.Label(), TotalCost: total, Models: models}, nil
	})
}

// Costs returns totals, the cost trend, the model breakdown and the top users by cost.
func (e *Engine) Costs(ctx context.Context, q Query) (*CostAnalytics, error) {
	return cached(ctx, e, q.cacheKey("costs"), func() (*CostAnalytics, error) {
		recs, err := e.store.CostRecords(ctx, q.filter())
		if err != nil {
			return nil, err
		}
		out := &CostAnalytics{CostTrend: costTrend(q.Range, recs)}
		sessions := make(map[string]struct{})
		for _, c := range recs {
			out.TotalCostUSD += c.CostUSD
			out.TotalInputTokens += c.InputTokens
			out.TotalOutputTokens += c.OutputTokens
			out.TotalCacheCreationTokens += c.CacheCreationTokens
			out.TotalCacheReadTokens += c.CacheReadTokens
			if c.SessionID != "" {
				sessions[c.SessionID] = struct{}{}
			}
		}
		out.Sessions = int64(len(sessions))
		out.AverageCostPerSession = ratio(out.TotalCostUSD, float64(out.Sessions))
		out.ModelBreakdown, _ = modelBreakdown(recs)
		out.TopUsersByCost = topUsersByCost(recs)
		return out, nil
	})
}

// BudgetProgress projects this month's spend, in the reporting timezone, against the monthly budget.
func (e *Engine) BudgetProgress(ctx context.Context, q Query) (*BudgetProgress, error) {
	now := e.now().In(e.loc)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, e.loc)
	nextMonth := monthStart.AddDate(0, 1, 0)
	daysInMonth := nextMonth.AddDate(0, 0, -1).Day()
	month := Range{Name: monthStart.Format("2006-01"), Start: monthStart.UTC(), End: nextMonth.UTC()}
	q = q.in(month)

	key := fmt.Sprintf("budget|%s|%s|%s|%g", month.Name, q.UserEmail, q.OrganizationID, e.budget)
	return cached(ctx, e, key, func() (*BudgetProgress, error) {
		recs, err := e.store.CostRecords(ctx, q.filter())
		if err != nil {
			return nil, err
		}
		days := make([]DailyCost, now.Day())
		daySessions := make([]map[string]struct{}, len(days))
		for i := range days {
			days[i].Date = monthStart.AddDate(0, 0, i).UTC()
			daySessions[i] = make(map[string]struct{})
		}
		var monthCost float64
		for _, c := range recs {
			monthCost += c.CostUSD
			i := c.Timestamp.In(e.loc).Day() - 1
			if i < 0 || i >= len(days) {
				continue
			}
			days[i].CostUSD += c.CostUSD
			days[i].Tokens += c.TotalTokens()
			if c.SessionID != "" {
				daySessions[i][c.SessionID] = struct{}{}
			}
		}
		for i := range days {
			days[i].Sessions = int64(len(daySessions[i]))
		}
		return &BudgetProgress{
			BudgetProjection: ProjectBudget(monthCost, e.budget, now.Day(), daysInMonth),
			Month:            month.Name,
			DailyBreakdown:   days,
		}, nil
	})
}

type modelAgg struct {
	ModelCost
	sessions map[string]struct{}
}

// modelBreakdown groups recs by model, ranked by cost descending then name, and returns the total cost.
func modelBreakdown(recs []*domain.CostRecord) ([]ModelCost, float64) {
	byModel := make(map[string]*modelAgg)
	var total float64
	for _, c := range recs {
		a := byModel[c.Model]
		if a == nil {
			a = &modelAgg{ModelCost: ModelCost{ModelName: c.Model}, sessions: make(map[string]struct{})}
			byModel[c.Model] = a
		}
		a.TotalCostUSD += c.CostUSD
		a.InputTokens += c.InputTokens
		a.OutputTokens += c.OutputTokens
		a.CacheCreationTokens += c.CacheCreationTokens
		a.CacheReadTokens += c.CacheReadTokens
		if c.SessionID != "" {
			a.sessions[c.SessionID] = struct{}{}
		}
		total += c.CostUSD
	}

	out := make([]ModelCost, 0, len(byModel))
	for _, a := range byModel {
		m := a.ModelCost
		m.Sessions = int64(len(a.sessions))
		m.CostPerSession = ratio(m.TotalCostUSD, float64(m.Sessions))
		m.AvgInputTokens = ratio(float64(m.InputTokens), float64(m.Sessions))
		m.AvgOutputTokens = ratio(float64(m.OutputTokens), float64(m.Sessions))
		m.EfficiencyScore = ratio(m.TotalCostUSD, float64(m.InputTokens+m.OutputTokens))
		m.PercentageOfTotal = percent(m.TotalCostUSD, total)
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b ModelCost) int {
		if c := cmp.Compare(b.TotalCostUSD, a.TotalCostUSD); c != 0 {
			return c
		}
		return cmp.Compare(a.ModelName, b.ModelName)
	})
	for i := range out {
		out[i].Color = colorAt(i)
	}
	return out, total
}

// topUsersByCost ranks users with a known email by cost, highest first.
func topUsersByCost(recs []*domain.CostRecord) []UserCost {
	type agg struct {
		UserCost
		sessions map[string]struct{}
	}
	byUser := make(map[string]*agg)
	for _, c := range recs {
		if c.UserEmail == "" {
			continue
		}
		a := byUser[c.UserEmail]
		if a == nil {
			a = &agg{UserCost: UserCost{UserEmail: c.UserEmail}, sessions: make(map[string]struct{})}
			byUser[c.UserEmail] = a
		}
		a.TotalCostUSD += c.CostUSD
		a.TotalTokens += c.TotalTokens()
		if c.SessionID != "" {
			a.sessions[c.SessionID] = struct{}{}
		}
	}
	out := make([]UserCost, 0, len(byUser))
	for _, a := range byUser {
		u := a.UserCost
		u.Sessions = int64(len(a.sessions))
		u.AvgCostPerSession = ratio(u.TotalCostUSD, float64(u.Sessions))
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b UserCost) int {
		if c := cmp.Compare(b.TotalCostUSD, a.TotalCostUSD); c != 0 {
			return c
		}
		return cmp.Compare(a.UserEmail, b.UserEmail)
	})
	if len(out) > topUsersLimit {
		out = out[:topUsersLimit]
	}
	return out
}
