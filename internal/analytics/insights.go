package analytics

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"codescope/backend/internal/usage/domain"
)

// stableBand is the half-width, in percent, within which a change counts as stable.
const stableBand = 5.0

// Trend directions.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// DashboardKPIs are the headline numbers for a range with the change against the previous range of
// the same length. A change is 0 when the previous value is 0.
type DashboardKPIs struct {
	Period            string  `json:"period"`
	Sessions          int64   `json:"sessions"`
	SessionsChange    float64 `json:"sessions_change"`
	TotalTokens       int64   `json:"total_tokens"`
	TotalTokensChange float64 `json:"total_tokens_change"`
	TotalCost         float64 `json:"total_cost"`
	TotalCostChange   float64 `json:"total_cost_change"`
	LinesOfCode       int64   `json:"lines_of_code"`
	LinesOfCodeChange float64 `json:"lines_of_code_change"`
}

// EfficiencyMetrics relates spend to output. Tokens are input plus output tokens; lines are lines
// added plus lines removed.
type EfficiencyMetrics struct {
	TokensPerCommit     float64     `json:"tokens_per_commit"`
	CostPerCommit       float64     `json:"cost_per_commit"`
	TokensPerLineOfCode float64     `json:"tokens_per_line_of_code"`
	CostPerLineOfCode   float64     `json:"cost_per_line_of_code"`
	CommitsPerSession   float64     `json:"commits_per_session"`
	ToolEfficiency      []ToolStats `json:"tool_efficiency"`
}

// TrendDirection compares the second half of a range with the first.
type TrendDirection struct {
	Direction     string  `json:"direction"`
	ChangePercent float64 `json:"change_percent"`
}

// ProductivityForecast is the linear monthly extrapolation of productivity.
type ProductivityForecast struct {
	Commits      int64 `json:"commits"`
	PullRequests int64 `json:"pull_requests"`
	LinesOfCode  int64 `json:"lines_of_code"`
}

// TrendAnalysis reports the direction of cost, productivity, token efficiency and adoption over a
// range, with monthly forecasts extrapolated from the range's daily rate.
type TrendAnalysis struct {
	Range                         string               `json:"range"`
	CostTrend                     TrendDirection       `json:"cost_trend"`
	ProductivityTrend             TrendDirection       `json:"productivity_trend"`
	TokenEfficiencyTrend          TrendDirection       `json:"token_efficiency_trend"`
	UserAdoptionTrend             TrendDirection       `json:"user_adoption_trend"`
	ForecastedMonthlyCost         float64              `json:"forecasted_monthly_cost"`
	ForecastedMonthlyProductivity ProductivityForecast `json:"forecasted_monthly_productivity"`
}

// usage is what the KPI and trend computations need from one range.
type usage struct {
	sessions int64
	tokens   int64 // all four token counters
	ioTokens int64 // input + output
	cost     float64
	commits  int64
	prs      int64
	lines    int64
	users    map[string]struct{}
}

func newUsage() *usage {
	return &usage{users: make(map[string]struct{})}
}

func (u *usage) addCost(c *domain.CostRecord) {
	u.tokens += c.TotalTokens()
	u.ioTokens += c.InputTokens + c.OutputTokens
	u.cost += c.CostUSD
	u.addUser(c.UserEmail)
}

func (u *usage) addProductivity(ev *domain.ProductivityEvent) {
	d := domain.DeltaForProductivity(ev)
	u.commits += d.CommitCount
	u.prs += d.PullRequestCount
	u.lines += d.LinesAdded + d.LinesRemoved
	u.addUser(ev.UserEmail)
}

func (u *usage) addUser(email string) {
	if email != "" {
		u.users[email] = struct{}{}
	}
}

// load reads sessions, cost records and productivity events for q concurrently.
func (e *Engine) load(ctx context.Context, q Query) ([]*domain.Session, []*domain.CostRecord, []*domain.ProductivityEvent, error) {
	var (
		sessions []*domain.Session
		costs    []*domain.CostRecord
		events   []*domain.ProductivityEvent
	)
	f := q.filter()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		sessions, err = e.store.Sessions(gctx, f)
		return err
	})
	g.Go(func() (err error) {
		costs, err = e.store.CostRecords(gctx, f)
		return err
	})
	g.Go(func() (err error) {
		events, err = e.store.ProductivityEvents(gctx, f)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}
	return sessions, costs, events, nil
}

func (e *Engine) usageIn(ctx context.Context, q Query) (*usage, error) {
	sessions, costs, events, err := e.load(ctx, q)
	if err != nil {
		return nil, err
	}
	u := newUsage()
	u.sessions = int64(len(sessions))
	for _, c := range costs {
		u.addCost(c)
	}
	for _, ev := range events {
		u.addProductivity(ev)
	}
	return u, nil
}

// KPIs returns the dashboard KPIs for q and their change against the preceding range.
func (e *Engine) KPIs(ctx context.Context, q Query) (*DashboardKPIs, error) {
	return cached(ctx, e, q.cacheKey("kpis"), func() (*DashboardKPIs, error) {
		var cur, prev *usage
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			cur, err = e.usageIn(gctx, q)
			return err
		})
		g.Go(func() (err error) {
			prev, err = e.usageIn(gctx, q.in(q.Previous()))
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return &DashboardKPIs{
			Period:            q.Label(),
			Sessions:          cur.sessions,
			SessionsChange:    change(float64(cur.sessions), float64(prev.sessions)),
			TotalTokens:       cur.tokens,
			TotalTokensChange: change(float64(cur.tokens), float64(prev.tokens)),
			TotalCost:         cur.cost,
			TotalCostChange:   change(cur.cost, prev.cost),
			LinesOfCode:       cur.lines,
			LinesOfCodeChange: change(float64(cur.lines), float64(prev.lines)),
		}, nil
	})
}

// Efficiency relates tokens and cost to commits and lines changed, plus per-tool statistics.
func (e *Engine) Efficiency(ctx context.Context, q Query) (*EfficiencyMetrics, error) {
	return cached(ctx, e, q.cacheKey("efficiency"), func() (*EfficiencyMetrics, error) {
		sessions, costs, events, err := e.load(ctx, q)
		if err != nil {
			return nil, err
		}
		tools, err := e.store.ToolUsage(ctx, q.filter())
		if err != nil {
			return nil, err
		}
		u := newUsage()
		for _, c := range costs {
			u.addCost(c)
		}
		for _, ev := range events {
			u.addProductivity(ev)
		}
		return &EfficiencyMetrics{
			TokensPerCommit:     ratio(float64(u.ioTokens), float64(u.commits)),
			CostPerCommit:       ratio(u.cost, float64(u.commits)),
			TokensPerLineOfCode: ratio(float64(u.ioTokens), float64(u.lines)),
			CostPerLineOfCode:   ratio(u.cost, float64(u.lines)),
			CommitsPerSession:   ratio(float64(u.commits), float64(len(sessions))),
			ToolEfficiency:      toolDistribution(tools).Tools,
		}, nil
	})
}

// Trends compares the two halves of q's range and extrapolates the range's daily rates to a
// 30-day month.
func (e *Engine) Trends(ctx context.Context, q Query) (*TrendAnalysis, error) {
	return cached(ctx, e, q.cacheKey("trends"), func() (*TrendAnalysis, error) {
		_, costs, events, err := e.load(ctx, q)
		if err != nil {
			return nil, err
		}
		first, second := q.halves()
		a, b, all := newUsage(), newUsage(), newUsage()
		for _, c := range costs {
			all.addCost(c)
			if c.Timestamp.Before(first.End) {
				a.addCost(c)
			} else {
				b.addCost(c)
			}
		}
		for _, ev := range events {
			all.addProductivity(ev)
			if ev.Timestamp.Before(second.Start) {
				a.addProductivity(ev)
			} else {
				b.addProductivity(ev)
			}
		}

		scale := 0.0
		if days := q.Duration().Hours() / 24; days > 0 {
			scale = 30 / days
		}
		forecast := ProductivityForecast{
			Commits:      int64(math.Round(float64(all.commits) * scale)),
			PullRequests: int64(math.Round(float64(all.prs) * scale)),
			LinesOfCode:  int64(math.Round(float64(all.lines) * scale)),
		}
		return &TrendAnalysis{
			Range:                         q.Label(),
			CostTrend:                     trendBetween(a.cost, b.cost),
			ProductivityTrend:             trendBetween(float64(a.commits+a.prs), float64(b.commits+b.prs)),
			TokenEfficiencyTrend:          trendBetween(linesPerKiloToken(a), linesPerKiloToken(b)),
			UserAdoptionTrend:             trendBetween(float64(len(a.users)), float64(len(b.users))),
			ForecastedMonthlyCost:         all.cost * scale,
			ForecastedMonthlyProductivity: forecast,
		}, nil
	})
}

func linesPerKiloToken(u *usage) float64 {
	return ratio(float64(u.lines)*1000, float64(u.ioTokens))
}

// trendBetween classifies the change from first to second. Growth from zero counts as +100%.
func trendBetween(first, second float64) TrendDirection {
	var pct float64
	switch {
	case first == 0 && second == 0:
		return TrendDirection{Direction: TrendStable}
	case first == 0:
		pct = 100
	default:
		pct = change(second, first)
	}
	switch {
	case math.Abs(pct) <= stableBand:
		return TrendDirection{Direction: TrendStable, ChangePercent: pct}
	case pct > 0:
		return TrendDirection{Direction: TrendIncreasing, ChangePercent: pct}
	default:
		return TrendDirection{Direction: TrendDecreasing, ChangePercent: pct}
	}
}
