package analytics

import (
	"cmp"
	"context"
	"slices"

	"codescope/backend/internal/usage/domain"
)

const topContributorsLimit = 10

// ContributorStats is one user's productivity in a range.
type ContributorStats struct {
	UserEmail    string `json:"user_email"`
	Commits      int64  `json:"commits"`
	PullRequests int64  `json:"pull_requests"`
	LinesAdded   int64  `json:"lines_added"`
	LinesRemoved int64  `json:"lines_removed"`
}

// ProductivityMetrics totals productivity events in a range.
type ProductivityMetrics struct {
	TotalCommits       int64               `json:"total_commits"`
	TotalPullRequests  int64               `json:"total_pull_requests"`
	TotalLinesAdded    int64               `json:"total_lines_added"`
	TotalLinesRemoved  int64               `json:"total_lines_removed"`
	FilesChanged       int64               `json:"files_changed"`
	ActiveRepositories []string            `json:"active_repositories"`
	ProductivityTrend  []ProductivityPoint `json:"productivity_trend"`
	TopContributors    []ContributorStats  `json:"top_contributors"`
}

// Productivity returns totals, the productivity trend and the contributor ranking.
func (e *Engine) Productivity(ctx context.Context, q Query) (*ProductivityMetrics, error) {
	return cached(ctx, e, q.cacheKey("productivity"), func() (*ProductivityMetrics, error) {
		events, err := e.store.ProductivityEvents(ctx, q.filter())
		if err != nil {
			return nil, err
		}
		out := &ProductivityMetrics{
			ActiveRepositories: []string{},
			ProductivityTrend:  productivityTrend(q.Range, events),
			TopContributors:    rankContributors(events),
		}
		repos := make(map[string]struct{})
		for _, ev := range events {
			d := domain.DeltaForProductivity(ev)
			out.TotalCommits += d.CommitCount
			out.TotalPullRequests += d.PullRequestCount
			out.TotalLinesAdded += d.LinesAdded
			out.TotalLinesRemoved += d.LinesRemoved
			out.FilesChanged += d.FilesChanged
			if ev.Repository != "" {
				repos[ev.Repository] = struct{}{}
			}
		}
		for r := range repos {
			out.ActiveRepositories = append(out.ActiveRepositories, r)
		}
		slices.Sort(out.ActiveRepositories)
		return out, nil
	})
}

// rankContributors orders users by commits, then pull requests, both descending, then email.
// Events without an email are not attributed to anyone.
func rankContributors(events []*domain.ProductivityEvent) []ContributorStats {
	byUser := make(map[string]*ContributorStats)
	for _, ev := range events {
		if ev.UserEmail == "" {
			continue
		}
		c := byUser[ev.UserEmail]
		if c == nil {
			c = &ContributorStats{UserEmail: ev.UserEmail}
			byUser[ev.UserEmail] = c
		}
		d := domain.DeltaForProductivity(ev)
		c.Commits += d.CommitCount
		c.PullRequests += d.PullRequestCount
		c.LinesAdded += d.LinesAdded
		c.LinesRemoved += d.LinesRemoved
	}
	out := make([]ContributorStats, 0, len(byUser))
	for _, c := range byUser {
		out = append(out, *c)
	}
	slices.SortFunc(out, func(a, b ContributorStats) int {
		if c := cmp.Compare(b.Commits, a.Commits); c != 0 {
			return c
		}
		if c := cmp.Compare(b.PullRequests, a.PullRequests); c != 0 {
			return c
		}
		return cmp.Compare(a.UserEmail, b.UserEmail)
	})
	if len(out) > topContributorsLimit {
		out = out[:topContributorsLimit]
	}
	return out
}
