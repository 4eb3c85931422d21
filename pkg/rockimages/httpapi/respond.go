// Package httpapi holds the helpers every gin handler shares: error
// responses, path and paging parameters, and cross-cutting middleware.
package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rockimages/rockimages/pkg/rockimages/apperr"
	"go.uber.org/zap"
)

// RespondError writes the JSON error body for err and records it on the
// context for the request logger. Server-side failures get a generic message.
func RespondError(c *gin.Context, err error) {
	_ = c.Error(err)
	status := apperr.HTTPStatus(err)

	var validation *apperr.ValidationError
	if errors.As(err, &validation) {
		c.JSON(status, gin.H{"error": validation.Error(), "field": validation.Field})
		return
	}
	c.JSON(status, gin.H{"error": ErrorMessage(c, err)})
}

// ErrorMessage is the text a client may see for err. Failures on our side
// are logged and reduced to a fixed message.
func ErrorMessage(c *gin.Context, err error) string {
	var validation *apperr.ValidationError
	switch status := apperr.HTTPStatus(err); {
	case status == http.StatusNotFound:
		return "Not found"
	case status == http.StatusUnauthorized:
		return "Authentication required"
	case status == http.StatusForbidden:
		return "Insufficient permissions"
	case status == http.StatusConflict:
		return "Already exists"
	case errors.As(err, &validation):
		return validation.Error()
	case status == http.StatusBadGateway:
		zap.L().Warn("dependency failure", zap.String("path", c.Request.URL.Path), zap.Error(err))
		return "Storage unavailable"
	default:
		zap.L().Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		return "Internal server error"
	}
}

// ParseID reads a positive integer path parameter.
func ParseID(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		return 0, apperr.Invalid(name, "must be a positive integer")
	}
	return uint(id), nil
}

// QueryInt reads an integer query parameter, returning 0 when it is absent
// or malformed.
func QueryInt(c *gin.Context, name string) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return v
}
