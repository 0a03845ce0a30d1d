package router

import (
	"vadstream/internal/bootstrap"
	"vadstream/internal/middleware"

	"github.com/gin-gonic/gin"
)

// NewRouter creates and configures the router with all routes. All
// dependencies are explicitly injected through AppDependencies.
func NewRouter(deps *bootstrap.AppDependencies) *gin.Engine {
	ginRouter := gin.New()

	ginRouter.Use(middleware.Logger())
	ginRouter.Use(gin.Recovery())

	ginRouter.GET("/ws/audio", func(c *gin.Context) {
		deps.Transport.Handle(c.Writer, c.Request, deps.Registry.NextID, deps.NewSessionPipeline, deps.RegisterSession)
	})

	deps.Admin.RegisterRoutes(ginRouter)

	ginRouter.Static("/static", "./static")
	ginRouter.StaticFile("/", "./static/index.html")

	return ginRouter
}
