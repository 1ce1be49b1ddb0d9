package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/garyjia/approval-engine/internal/domain/approval"
)

// PrincipalHeader carries the already-authenticated caller id
const PrincipalHeader = "X-Principal-ID"

// RequestIDHeader is echoed back on every response
const RequestIDHeader = "X-Request-ID"

const (
	principalKey = "principal"
	requestIDKey = "request_id"
)

// requestID keeps a caller-supplied request id or assigns a new one
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func accessLog(logger Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"principal", c.GetString(principalKey),
			"request_id", c.GetString(requestIDKey),
		)
	}
}

// requirePrincipal rejects requests without a principal header
func requirePrincipal() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := strings.TrimSpace(c.GetHeader(PrincipalHeader))
		if principal == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false,
				Error:   "missing " + PrincipalHeader + " header",
			})
			return
		}
		c.Set(principalKey, principal)
		c.Next()
	}
}

func principal(c *gin.Context) string {
	return c.GetString(principalKey)
}

// statusFor maps an error kind to an HTTP status
func statusFor(err error) int {
	switch approval.KindOf(err) {
	case approval.KindNotFound:
		return http.StatusNotFound
	case approval.KindNotAuthorized:
		return http.StatusForbidden
	case approval.KindInvalidState, approval.KindConflict:
		return http.StatusConflict
	case approval.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with its mapped status. Internal errors are logged
// and their detail withheld.
func (h *Handlers) respondError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	resp := Response{Success: false}

	var domainErr *approval.Error
	if errors.As(err, &domainErr) {
		resp.Code = string(domainErr.Kind)
		resp.Error = approval.Message(err)
		resp.Capability = domainErr.Capability
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			"operation", op,
			"path", c.Request.URL.Path,
			"request_id", c.GetString(requestIDKey),
			"error", err)
		resp.Error = "internal error"
	}
	c.JSON(status, resp)
}
