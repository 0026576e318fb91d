package api

import (
	"github.com/gin-gonic/gin"

	"codescope/backend/internal/usage/domain"
)

// SessionView is a session with its derived status and duration.
type SessionView struct {
	*domain.Session
	Status          string `json:"status"`
	DurationSeconds *int64 `json:"duration_seconds"`
}

func newSessionView(s *domain.Session) SessionView {
	v := SessionView{Session: s, Status: "active"}
	if !s.Active() {
		d := int64(s.Duration().Seconds())
		v.Status = "completed"
		v.DurationSeconds = &d
	}
	return v
}

// PageInfo describes where a page sits in the full result.
type PageInfo struct {
	HasNextPage     bool `json:"has_next_page"`
	HasPreviousPage bool `json:"has_previous_page"`
	CurrentPage     int  `json:"current_page"`
	TotalPages      int  `json:"total_pages"`
}

// SessionPage is one page of the session list.
type SessionPage struct {
	Sessions   []SessionView `json:"sessions"`
	TotalCount int           `json:"total_count"`
	PageInfo   PageInfo      `json:"page_info"`
}

func newPageInfo(total, limit, offset int) PageInfo {
	pages := (total + limit - 1) / limit
	return PageInfo{
		HasNextPage:     offset+limit < total,
		HasPreviousPage: offset > 0,
		CurrentPage:     offset/limit + 1,
		TotalPages:      pages,
	}
}

func (h *handlers) listSessions(c *gin.Context) {
	limit, err := parseInt(c, "limit", defaultPageSize)
	if err != nil {
		h.failErr(c, err)
		return
	}
	if limit == 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)
	offset, err := parseInt(c, "offset", 0)
	if err != nil {
		h.failErr(c, err)
		return
	}
	status := c.Query("status")
	switch status {
	case "", "active", "completed":
	default:
		h.failErr(c, &paramError{name: "status", msg: `must be "active" or "completed"`})
		return
	}

	sessions, total, err := h.sessions.ListSessions(c.Request.Context(), domain.ListSessionsParams{
		Limit:     limit,
		Offset:    offset,
		UserEmail: c.Query("user_email"),
		Status:    status,
	})
	if err != nil {
		h.failErr(c, err)
		return
	}
	views := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, newSessionView(s))
	}
	ok(c, SessionPage{Sessions: views, TotalCount: total, PageInfo: newPageInfo(total, limit, offset)})
}

func (h *handlers) getSession(c *gin.Context) {
	s, err := h.sessions.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.failErr(c, err)
		return
	}
	ok(c, newSessionView(s))
}

func (h *handlers) getSummary(c *gin.Context) {
	sum, err := h.sessions.GetSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.failErr(c, err)
		return
	}
	ok(c, sum)
}

// SessionMetrics is the metric points recorded in one session, oldest first.
type SessionMetrics struct {
	SessionID string                `json:"session_id"`
	Points    []*domain.MetricPoint `json:"points"`
}

func (h *handlers) getSessionMetrics(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := h.sessions.GetSession(ctx, id); err != nil {
		h.failErr(c, err)
		return
	}
	points, err := h.sessions.MetricPoints(ctx, domain.Filter{
		SessionID: id,
		Name:      c.Query("metric_name"),
		Limit:     maxSessionPoints,
	})
	if err != nil {
		h.failErr(c, err)
		return
	}
	if points == nil {
		points = []*domain.MetricPoint{}
	}
	ok(c, SessionMetrics{SessionID: id, Points: points})
}

func (h *handlers) rebuildSummary(c *gin.Context) {
	sum, err := h.sessions.RebuildSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.failErr(c, err)
		return
	}
	h.log.WithField("session_id", sum.SessionID).Info("api: summary rebuilt")
	ok(c, sum)
}

func (h *handlers) deleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.sessions.DeleteSession(c.Request.Context(), id); err != nil {
		h.failErr(c, err)
		return
	}
	h.log.WithField("session_id", id).Info("api: session deleted")
	ok(c, gin.H{"deleted": id})
}
