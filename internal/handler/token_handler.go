package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/evote/internal/pkg/response"
	"github.com/xxxsen/evote/internal/service"
)

type TokenHandler struct {
	tokens *service.TokenService
}

func NewTokenHandler(tokens *service.TokenService) *TokenHandler {
	return &TokenHandler{tokens: tokens}
}

func (h *TokenHandler) Status(c *gin.Context) {
	status, err := h.tokens.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, status)
}

func (h *TokenHandler) Resend(c *gin.Context) {
	res, err := h.tokens.Resend(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}
