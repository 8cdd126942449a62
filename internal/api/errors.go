package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hottake/debate-app/internal/debate"
)

// statusFor maps a wire error code to its HTTP status.
func statusFor(code string) int {
	switch code {
	case debate.CodeSessionNotFound, debate.CodeUnknownConnection:
		return http.StatusNotFound
	case debate.CodeAlreadyQueued, debate.CodeAlreadyInSession:
		return http.StatusConflict
	case debate.CodeBanned, debate.CodeNotAuthorized:
		return http.StatusForbidden
	case debate.CodeOpponentUnresolvable, debate.CodeInvalidMessage, debate.CodeContentRejected:
		return http.StatusUnprocessableEntity
	case debate.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError writes the error body used by every facade route:
// {"code", "message"} plus ban or retry details when they apply.
func (h *Handler) abortWithError(c *gin.Context, err error) {
	code := debate.ErrorCode(err)
	status := statusFor(code)
	body := gin.H{"code": code, "message": err.Error()}

	var banned *debate.BannedError
	var limited *debate.RateLimitedError
	switch {
	case errors.As(err, &banned):
		body["banned_until"] = banned.Until.UnixMilli()
		body["remaining_seconds"] = int(banned.Remaining / time.Second)
		body["reason"] = banned.Reason
	case errors.As(err, &limited):
		retry := int((limited.RetryAfter + time.Second - 1) / time.Second)
		body["action"] = limited.Action
		body["retry_after"] = retry
		c.Header("Retry-After", strconv.Itoa(retry))
	case status == http.StatusInternalServerError:
		h.log.Error().Str("path", c.FullPath()).Err(err).Msg("request failed")
		body["message"] = "internal error"
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"code":    debate.CodeInvalidMessage,
		"message": err.Error(),
	})
}
