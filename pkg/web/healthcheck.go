package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthCheckEndpoint bypasses every cache tier.
func HealthCheckEndpoint(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.String(http.StatusOK, "ok")
}
