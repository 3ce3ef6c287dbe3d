package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"signalrelay/internal/canonical"
	"signalrelay/internal/models"
	"signalrelay/internal/repository"
)

type SignalHandler struct {
	Repo repository.Repository
}

func (h *SignalHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/signals")
	group.POST("", h.broadcast)
	group.GET("", h.listSignals)
	group.GET("/:id", h.getSignal)
}

type broadcastIntent struct {
	Action         string     `json:"action" binding:"required"`
	Market         string     `json:"market" binding:"required"`
	SizeMode       string     `json:"size_mode" binding:"required"`
	SizeValue      string     `json:"size_value" binding:"required"`
	MaxSlippageBps *int       `json:"max_slippage_bps"`
	DeadlineTs     *time.Time `json:"deadline_ts"`
}

type broadcastRequest struct {
	TraderID int64            `json:"trader_id" binding:"required"`
	Payload  json.RawMessage  `json:"payload" binding:"required"`
	Intent   *broadcastIntent `json:"intent"`
}

type broadcastResponse struct {
	Signal *models.Signal         `json:"signal"`
	Intent *models.TradeIntent    `json:"intent,omitempty"`
	Anchor *models.AnchoredSignal `json:"anchor"`
}

// broadcast records a signal, fingerprints its payload, queues the anchor
// when the trader has a ledger address, snapshots the trade intent when
// present, and fans deliveries out to the trader's current followers.
func (h *SignalHandler) broadcast(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	ctx := c.Request.Context()

	trader, err := h.Repo.GetTraderByID(ctx, req.TraderID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if trader == nil {
		Error(c, http.StatusNotFound, "trader not found", nil)
		return
	}

	payloadHash, err := canonical.FingerprintJSON(req.Payload)
	if err != nil {
		Error(c, http.StatusBadRequest, "payload is not valid JSON", nil)
		return
	}

	signal := &models.Signal{
		TraderID: req.TraderID,
		Payload:  datatypes.JSON(req.Payload),
	}
	if err := h.Repo.InsertSignal(ctx, signal); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}

	var intent *models.TradeIntent
	if req.Intent != nil {
		intent, err = h.buildIntent(signal.ID, req.Intent)
		if err != nil {
			Error(c, http.StatusBadRequest, err.Error(), nil)
			return
		}
		if err := h.Repo.InsertTradeIntent(ctx, intent); err != nil {
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
	}

	var anchor *models.AnchoredSignal
	if trader.LedgerAddress != nil {
		anchor = &models.AnchoredSignal{
			SignalID:           signal.ID,
			Status:             models.AnchorStatusPending,
			PayloadHash:        &payloadHash,
			VerificationStatus: models.VerificationUnverified,
		}
		if err := h.Repo.InsertAnchoredSignal(ctx, anchor); err != nil {
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
	}

	followerIDs, err := h.Repo.ListFollowerIDs(ctx, req.TraderID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if len(followerIDs) > 0 {
		deliveries := make([]models.SignalDelivery, 0, len(followerIDs))
		for _, followerID := range followerIDs {
			deliveries = append(deliveries, models.SignalDelivery{
				SignalID:   signal.ID,
				FollowerID: followerID,
				Status:     models.DeliveryStatusQueued,
			})
		}
		if err := h.Repo.EnqueueDeliveries(ctx, deliveries); err != nil {
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
	}

	Ok(c, broadcastResponse{Signal: signal, Intent: intent, Anchor: anchor},
		map[string]any{"followers_notified": len(followerIDs)})
}

func (h *SignalHandler) buildIntent(signalID uint64, req *broadcastIntent) (*models.TradeIntent, error) {
	sizeValue, err := decimal.NewFromString(strings.TrimSpace(req.SizeValue))
	if err != nil {
		return nil, err
	}

	hashInput := map[string]any{
		"signal_id":  signalID,
		"action":     req.Action,
		"market":     req.Market,
		"size_mode":  req.SizeMode,
		"size_value": sizeValue,
	}
	if req.MaxSlippageBps != nil {
		hashInput["max_slippage_bps"] = *req.MaxSlippageBps
	} else {
		hashInput["max_slippage_bps"] = nil
	}
	if req.DeadlineTs != nil {
		hashInput["deadline_ts"] = req.DeadlineTs.UTC().Format(time.RFC3339)
	} else {
		hashInput["deadline_ts"] = nil
	}
	intentHash, err := canonical.Fingerprint(hashInput)
	if err != nil {
		return nil, err
	}

	return &models.TradeIntent{
		SignalID:       signalID,
		Action:         req.Action,
		Market:         req.Market,
		SizeMode:       req.SizeMode,
		SizeValue:      sizeValue,
		MaxSlippageBps: req.MaxSlippageBps,
		DeadlineTs:     req.DeadlineTs,
		IntentHash:     intentHash,
	}, nil
}

func (h *SignalHandler) listSignals(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	params := repository.ListSignalsParams{Limit: limit, Offset: offset}
	if traderID := intQuery(c, "trader_id", 0); traderID != 0 {
		id := int64(traderID)
		params.TraderID = &id
	}

	items, err := h.Repo.ListSignals(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, int64(len(items))))
}

func (h *SignalHandler) getSignal(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid signal id", nil)
		return
	}
	ctx := c.Request.Context()

	signal, err := h.Repo.GetSignalByID(ctx, id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if signal == nil {
		Error(c, http.StatusNotFound, "signal not found", nil)
		return
	}
	anchor, err := h.Repo.GetAnchoredSignalBySignalID(ctx, id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"signal": signal, "anchor": anchor}, nil)
}
