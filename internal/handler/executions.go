package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"signalrelay/internal/repository"
)

type ExecutionHandler struct {
	Repo repository.Repository
}

func (h *ExecutionHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/executions")
	group.GET("", h.listExecutions)
	group.GET("/:id", h.getExecution)
	group.POST("/:id/reset", h.resetExecution)
}

func (h *ExecutionHandler) listExecutions(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	params := repository.ListExecutedTradesParams{Limit: limit, Offset: offset}
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		params.Status = &status
	}

	items, err := h.Repo.ListExecutedTrades(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, int64(len(items))))
}

func (h *ExecutionHandler) getExecution(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid execution id", nil)
		return
	}
	item, err := h.Repo.GetExecutedTradeByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "execution not found", nil)
		return
	}
	Ok(c, item, nil)
}

// resetExecution requeues a failed or unconfirmed execution for another
// attempt. Rows that completed and verified on chain are not resettable.
func (h *ExecutionHandler) resetExecution(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid execution id", nil)
		return
	}
	ctx := c.Request.Context()

	reset, err := h.Repo.ResetExecutedTrade(ctx, id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if !reset {
		Error(c, http.StatusConflict, "execution is not resettable", nil)
		return
	}
	item, err := h.Repo.GetExecutedTradeByID(ctx, id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}
