package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/evote/internal/pkg/response"
	"github.com/xxxsen/evote/internal/service"
)

type ElectionHandler struct {
	elections *service.ElectionService
}

func NewElectionHandler(elections *service.ElectionService) *ElectionHandler {
	return &ElectionHandler{elections: elections}
}

type electionRequest struct {
	Name    string `json:"name"`
	EndDate int64  `json:"end_date"`
}

func (h *ElectionHandler) Create(c *gin.Context) {
	var req electionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	election, err := h.elections.Create(c.Request.Context(), service.CreateElectionInput{Name: req.Name, EndDate: req.EndDate})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, election)
}

func (h *ElectionHandler) Get(c *gin.Context) {
	election, err := h.elections.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, election)
}

func (h *ElectionHandler) Current(c *gin.Context) {
	election, err := h.elections.Current(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, election)
}

// Activate answers once the status flips; tokens are distributed in the background.
func (h *ElectionHandler) Activate(c *gin.Context) {
	election, err := h.elections.Activate(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, election)
}

func (h *ElectionHandler) Close(c *gin.Context) {
	election, err := h.elections.Close(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, election)
}
