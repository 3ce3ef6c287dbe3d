package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"signalrelay/internal/models"
	"signalrelay/internal/repository"
)

type TraderHandler struct {
	Repo repository.Repository
}

func (h *TraderHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/traders")
	group.PUT("/:id", h.upsertTrader)
	group.GET("/:id", h.getTrader)
	group.PUT("/:id/followers/:follower_id", h.follow)
	group.DELETE("/:id/followers/:follower_id", h.unfollow)
}

type upsertTraderRequest struct {
	Handle        string  `json:"handle"`
	LedgerAddress *string `json:"ledger_address"`
}

func (h *TraderHandler) upsertTrader(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := int64Param(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid trader id", nil)
		return
	}
	var req upsertTraderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if req.LedgerAddress != nil {
		trimmed := strings.TrimSpace(*req.LedgerAddress)
		if trimmed == "" {
			req.LedgerAddress = nil
		} else {
			req.LedgerAddress = &trimmed
		}
	}

	item := &models.Trader{
		ID:            id,
		Handle:        strings.TrimSpace(req.Handle),
		LedgerAddress: req.LedgerAddress,
	}
	if err := h.Repo.UpsertTrader(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

func (h *TraderHandler) getTrader(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := int64Param(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid trader id", nil)
		return
	}
	item, err := h.Repo.GetTraderByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "trader not found", nil)
		return
	}
	Ok(c, item, nil)
}

func (h *TraderHandler) follow(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	traderID, ok := int64Param(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid trader id", nil)
		return
	}
	followerID, ok := int64Param(c, "follower_id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid follower id", nil)
		return
	}
	if err := h.Repo.UpsertFollow(c.Request.Context(), traderID, followerID); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"trader_id": traderID, "follower_id": followerID}, nil)
}

func (h *TraderHandler) unfollow(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	traderID, ok := int64Param(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid trader id", nil)
		return
	}
	followerID, ok := int64Param(c, "follower_id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid follower id", nil)
		return
	}
	if err := h.Repo.DeleteFollow(c.Request.Context(), traderID, followerID); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"trader_id": traderID, "follower_id": followerID}, nil)
}
