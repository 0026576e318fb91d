// Package api is the JSON query API: sessions, metrics and analytics over the usage store.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"codescope/backend/internal/analytics"
	"codescope/backend/internal/usage/repository"
)

// Response is the envelope of every API response.
type Response struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data"`
	Error     *string   `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data, Timestamp: time.Now().UTC()})
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, Response{Error: &msg, Timestamp: time.Now().UTC()})
}

// failErr maps err to a status: invalid parameters 400, unknown entities 404, anything else 500.
// Internal errors are logged and not echoed to the client.
func (h *handlers) failErr(c *gin.Context, err error) {
	var perr *paramError
	switch {
	case errors.As(err, &perr), errors.Is(err, analytics.ErrInvalidRange):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		fail(c, http.StatusNotFound, "resource not found")
	default:
		h.log.WithError(err).WithField("path", c.FullPath()).Error("api: request failed")
		fail(c, http.StatusInternalServerError, "internal server error")
	}
}
