package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/evote/internal/middleware"
)

type RouterDeps struct {
	Elections    *ElectionHandler
	Voters       *VoterHandler
	Tokens       *TokenHandler
	Distribution *DistributionHandler
	ResendWindow time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.POST("/elections", deps.Elections.Create)
	api.GET("/elections/current", deps.Elections.Current)
	api.GET("/elections/:id", deps.Elections.Get)
	api.POST("/elections/:id/activate", deps.Elections.Activate)
	api.POST("/elections/:id/close", deps.Elections.Close)

	api.POST("/voters", deps.Voters.Register)
	api.POST("/voters/batch", deps.Voters.RegisterBatch)
	api.GET("/voters/:id", deps.Voters.Get)
	api.DELETE("/voters/:id", deps.Voters.Remove)
	api.POST("/voters/:id/restore", deps.Voters.Restore)

	api.GET("/voters/:id/token", deps.Tokens.Status)
	api.POST("/voters/:id/token/resend", middleware.RateLimit(deps.ResendWindow), deps.Tokens.Resend)

	api.GET("/distribution", deps.Distribution.State)
	api.POST("/distribution/catchup", deps.Distribution.CatchUp)
}
