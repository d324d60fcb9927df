package web

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// XForwardedProto records the scheme the client used, as seen by the proxy in
// front of us, on the request URL.
func XForwardedProto(defaultScheme string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if hdr := c.GetHeader("X-Forwarded-Proto"); hdr != "" {
			// Proxy chains append, the first entry is the client's.
			c.Request.URL.Scheme = strings.TrimSpace(strings.Split(hdr, ",")[0])
		} else if c.Request.TLS != nil {
			c.Request.URL.Scheme = "https"
		} else {
			c.Request.URL.Scheme = defaultScheme
		}

		c.Next()
	}
}
