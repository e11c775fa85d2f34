package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	appctx "lotledger/internal/core/context"
)

// HeaderUserID carries the acting user, set by the gateway in front of the service.
const HeaderUserID = "X-User-ID"

// UserContext copies the caller identity into the request context, where the
// adjuster picks it up for ledger rows.
func UserContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		if uid := strings.TrimSpace(c.GetHeader(HeaderUserID)); uid != "" {
			c.Set("user_id", uid)
			ctx := appctx.WithUser(c.Request.Context(), &appctx.UserContext{UserID: uid})
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}
