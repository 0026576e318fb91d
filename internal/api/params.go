package api

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"codescope/backend/internal/analytics"
)

const (
	defaultPageSize  = 20
	maxPageSize      = 100
	maxSessionPoints = 1000
)

// paramError is an invalid query or path parameter.
type paramError struct {
	name, msg string
}

func (e *paramError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.name, e.msg)
}

// rangeResolver is analytics.ResolveRange or analytics.ResolveTimelineRange.
type rangeResolver func(name string, start, end, now time.Time) (analytics.Range, error)

// parseQuery reads range, start_time, end_time, user_email and organization_id.
// defRange is used when no range is named.
func parseQuery(c *gin.Context, resolve rangeResolver, defRange string, now time.Time) (analytics.Query, error) {
	start, err := parseTime(c, "start_time")
	if err != nil {
		return analytics.Query{}, err
	}
	end, err := parseTime(c, "end_time")
	if err != nil {
		return analytics.Query{}, err
	}
	name := c.Query("range")
	if name == "" {
		name = defRange
	}
	r, err := resolve(name, start, end, now)
	if err != nil {
		return analytics.Query{}, err
	}
	return analytics.Query{
		Range:          r,
		UserEmail:      c.Query("user_email"),
		OrganizationID: c.Query("organization_id"),
	}, nil
}

func parseTime(c *gin.Context, name string) (time.Time, error) {
	v := c.Query(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, &paramError{name: name, msg: "must be an RFC 3339 timestamp"}
	}
	return t, nil
}

// parseInt reads a non-negative integer parameter, returning def when it is absent.
func parseInt(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, &paramError{name: name, msg: "must be a non-negative integer"}
	}
	return n, nil
}
