package middleware

import (
	"github.com/gin-gonic/gin"

	"txprop/internal/core/tx"
	"txprop/pkg/logger"
)

// ExecutionContext gives every request its own transaction stack, so
// concurrent requests never share transaction state.
func ExecutionContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ec := tx.NewExecutionContext()
		c.Request = c.Request.WithContext(tx.WithExecutionContext(c.Request.Context(), ec))

		c.Next()

		if depth := ec.Depth(); depth > 0 {
			logger.Warn(c.Request.Context(), "request finished with open transactions",
				"depth", depth,
				"suspended", ec.SuspendedCount(),
			)
		}
	}
}
