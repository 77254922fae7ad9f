package apperr

import (
	"github.com/gin-gonic/gin"

	"license-server/internal/logging"
)

// RetryAfterSeconds is advertised on 503 responses
const RetryAfterSeconds = "1"

// Respond writes err as a JSON error body and aborts the gin chain.
// Internal errors are logged with the request logger.
func Respond(c *gin.Context, err error) {
	status := HTTPStatus(err)
	code, message := Body(err)

	switch KindOf(err) {
	case KindInternal:
		logging.FromContext(c.Request.Context()).Error().Err(err).
			Str("path", c.FullPath()).
			Msg("Request failed")
	case KindUnavailable:
		logging.FromContext(c.Request.Context()).Warn().Err(err).
			Str("path", c.FullPath()).
			Msg("Store unavailable")
		c.Header("Retry-After", RetryAfterSeconds)
	case KindUnauthorized:
		c.Header("WWW-Authenticate", "Bearer")
	}

	c.AbortWithStatusJSON(status, gin.H{
		"error":   code,
		"message": message,
	})
}

// BindError reports a request binding failure as a validation error
func BindError(c *gin.Context, err error) {
	Respond(c, Validation(err.Error()))
}
