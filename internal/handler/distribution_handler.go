package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/evote/internal/pkg/response"
	"github.com/xxxsen/evote/internal/service"
)

type DistributionHandler struct {
	distribution *service.DistributionService
}

func NewDistributionHandler(distribution *service.DistributionService) *DistributionHandler {
	return &DistributionHandler{distribution: distribution}
}

func (h *DistributionHandler) State(c *gin.Context) {
	response.Success(c, gin.H{"processing": h.distribution.Processing()})
}

// CatchUp schedules a reconciliation pass and returns without waiting for it.
func (h *DistributionHandler) CatchUp(c *gin.Context) {
	h.distribution.TriggerCatchUp()
	response.Success(c, gin.H{"accepted": true})
}
