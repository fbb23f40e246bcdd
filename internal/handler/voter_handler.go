package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/evote/internal/pkg/response"
	"github.com/xxxsen/evote/internal/service"
)

const maxBatchVoters = 5000

type VoterHandler struct {
	voters *service.VoterService
}

func NewVoterHandler(voters *service.VoterService) *VoterHandler {
	return &VoterHandler{voters: voters}
}

type batchVoterRequest struct {
	Voters []service.RegisterVoterInput `json:"voters"`
}

func (h *VoterHandler) Register(c *gin.Context) {
	var req service.RegisterVoterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	voter, err := h.voters.Register(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, voter)
}

func (h *VoterHandler) RegisterBatch(c *gin.Context) {
	var req batchVoterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	if len(req.Voters) > maxBatchVoters {
		badRequest(c, "too many voters")
		return
	}
	res, err := h.voters.RegisterBatch(c.Request.Context(), req.Voters)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}

func (h *VoterHandler) Get(c *gin.Context) {
	voter, err := h.voters.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, voter)
}

func (h *VoterHandler) Remove(c *gin.Context) {
	if err := h.voters.Remove(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

func (h *VoterHandler) Restore(c *gin.Context) {
	if err := h.voters.Restore(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}
