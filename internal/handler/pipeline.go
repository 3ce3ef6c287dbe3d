package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"signalrelay/internal/repository"
)

// PipelineHandler exposes worker progress for operators.
type PipelineHandler struct {
	Repo repository.Repository
}

func (h *PipelineHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/pipeline/state", h.listStates)
}

func (h *PipelineHandler) listStates(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListSyncStates(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}
