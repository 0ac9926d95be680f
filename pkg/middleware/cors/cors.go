package cors

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Headers the booking clients are allowed to send. X-Request-ID lets
// the web and worker apps propagate their own correlation IDs.
const (
	allowedHeaders = "Authorization, Content-Type, Accept, X-Request-ID"
	allowedMethods = "GET, POST, PUT, DELETE, OPTIONS"
)

// New returns a CORS middleware restricted to the configured origins.
// An empty origin list allows everything, which is the local-dev
// default.
func New(allowedOrigins []string) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 0
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origins[strings.TrimRight(origin, "/")] = struct{}{}
	}

	return func(c *gin.Context) {
		header := c.Writer.Header()
		origin := c.GetHeader("Origin")
		switch {
		case origin != "":
			if _, ok := origins[strings.TrimRight(origin, "/")]; ok || allowAll {
				header.Set("Access-Control-Allow-Origin", origin)
			}
		case allowAll:
			header.Set("Access-Control-Allow-Origin", "*")
		}

		header.Set("Vary", "Origin")
		header.Set("Access-Control-Allow-Credentials", "true")
		header.Set("Access-Control-Allow-Headers", allowedHeaders)
		header.Set("Access-Control-Allow-Methods", allowedMethods)
		header.Set("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
