package web

import (
	"github.com/gin-gonic/gin"
	"github.com/terrycain/tiles-server/pkg/metrics"
)

// GetRouter wires the routes. auth may be nil, in which case nothing is
// authenticated.
func GetRouter(webHandler *Handlers, auth *JWTAuth, withMetrics bool) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), RequestID(), GinLogger())
	if withMetrics {
		router.Use(metrics.PromReqMiddleware())
	}
	router.Use(XForwardedProto("http"))

	router.GET("/health", HealthCheckEndpoint)

	tiles := router.Group("/")
	if auth != nil {
		tiles.Use(auth.AuthRequired())
	}
	tiles.GET("/", webHandler.ListPage)
	tiles.GET("/tiles", webHandler.ListJSON)
	tiles.GET("/tiles/:id", webHandler.Preview)
	// Shares the :z wildcard with the tile route; gin rejects differing names.
	tiles.GET("/tiles/:id/:z", webHandler.ArchiveDocument)
	tiles.GET("/tiles/:id/:z/:x/:y", webHandler.Tile)

	return router
}
