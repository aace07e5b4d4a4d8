package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"go-aftershock/handlers"
	"go-aftershock/metrics"
)

func SetupRouter(
	disaster *handlers.DisasterHandler,
	subscribe *handlers.SubscribeHandler,
	auth gin.HandlerFunc,
	log *logrus.Entry,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(log))

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "Hello, welcome to Go Aftershock!",
		})
	})
	r.GET("/healthz", handlers.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.GET("/ws/user/:userID", auth, subscribe.Subscribe)

	// api routes
	api := r.Group("/api/disaster", auth)
	{
		api.POST("/prompt", disaster.Prompt)
		api.GET("/events", disaster.Events)
	}

	return r
}
