package apihttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"strike/internal/broker"
	"strike/internal/decision"
	"strike/internal/gateway"
	"strike/internal/logger"
	"strike/internal/policy"
	"strike/internal/store/model"

	"github.com/gin-gonic/gin"
)

// EventLog is the slice of the ledger the API reads the audit trail from.
type EventLog interface {
	ListEvents(ctx context.Context, limit int) ([]model.EventModel, error)
}

// Router wires the service components into the /api/v1 handlers.
type Router struct {
	Gateway  *gateway.Gateway
	Engine   *decision.Engine
	Reviewer decision.Reviewer
	Policies *policy.Store
	Events   EventLog
}

func NewRouter(gw *gateway.Gateway, engine *decision.Engine, review decision.Reviewer, policies *policy.Store, events EventLog) *Router {
	return &Router{Gateway: gw, Engine: engine, Reviewer: review, Policies: policies, Events: events}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/decide", r.handleDecide)
	group.POST("/review", r.handleReview)
	group.GET("/guidelines", r.handleGuidelines)
	group.POST("/orders/propose", r.handlePropose)
	group.POST("/orders/:id/approve", r.handleApprove)
	group.GET("/orders/pending", r.handlePendingOrders)
	group.GET("/orders/recent", r.handleRecentOrders)
	group.GET("/positions", r.handlePositions)
	group.GET("/account", r.handleAccount)
	group.GET("/status", r.handleStatus)
	group.GET("/events", r.handleEvents)
	group.GET("/policy", r.handlePolicyGet)
	group.PATCH("/policy", r.handlePolicyPatch)
	group.POST("/policy/reset", r.handlePolicyReset)
	group.POST("/sweeps/refresh", r.handleSweepRefresh)
	group.POST("/sweeps/account", r.handleSweepAccount)
	group.POST("/sweeps/exits", r.handleSweepExits)
}

type decideRequest struct {
	Feature decision.FeatureVector `json:"feature" binding:"required"`
	Score   decision.ScoreCard     `json:"score" binding:"required"`
}

func (r *Router) handleDecide(c *gin.Context) {
	var req decideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	card := r.Engine.Decide(c.Request.Context(), req.Feature, req.Score)
	c.JSON(http.StatusOK, card)
}

type reviewRequest struct {
	Feature decision.FeatureVector `json:"feature" binding:"required"`
	Score   decision.ScoreCard     `json:"score" binding:"required"`
	Action  decision.Action        `json:"action" binding:"required"`
	// WeakFloor defaults to the policy's minimum composite score when omitted.
	WeakFloor *float64 `json:"weak_floor"`
}

func (r *Router) handleReview(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	floor := r.Policies.Get().MinCompositeScore
	if req.WeakFloor != nil {
		floor = *req.WeakFloor
	}
	judgement := r.Reviewer.Review(c.Request.Context(), req.Feature, req.Score, req.Action, floor)
	c.JSON(http.StatusOK, judgement)
}

func (r *Router) handleGuidelines(c *gin.Context) {
	c.JSON(http.StatusOK, r.Policies.Guidelines())
}

type proposeRequest struct {
	Decision decision.DecisionCard   `json:"decision" binding:"required"`
	Chain    []broker.OptionContract `json:"chain"`
}

func (r *Router) handlePropose(c *gin.Context) {
	var req proposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order, err := r.Gateway.ProposeOrder(c.Request.Context(), req.Decision, req.Chain)
	if errors.Is(err, gateway.ErrProposalRejected) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		logger.Errorf("[api] propose failed symbol=%s err=%v", req.Decision.Symbol, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

type approveRequest struct {
	Approved bool   `json:"approved"`
	Comment  string `json:"comment"`
}

func (r *Router) handleApprove(c *gin.Context) {
	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order, err := r.Gateway.ApproveOrder(c.Request.Context(), c.Param("id"), req.Approved, req.Comment)
	if err != nil {
		logger.Errorf("[api] approve failed id=%s err=%v", c.Param("id"), err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, order)
}

func (r *Router) handlePendingOrders(c *gin.Context) {
	orders, err := r.Gateway.ListPendingOrders(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (r *Router) handleRecentOrders(c *gin.Context) {
	limit := parseLimit(c, 50)
	orders, err := r.Gateway.ListRecentOrders(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (r *Router) handlePositions(c *gin.Context) {
	open, err := r.Gateway.ListOpenPositions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": open})
}

func (r *Router) handleAccount(c *gin.Context) {
	snap, at := r.Gateway.LastAccountSnapshot()
	c.JSON(http.StatusOK, gin.H{"account": snap, "synced_at": at})
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.Gateway.RuntimeStatus())
}

func (r *Router) handleEvents(c *gin.Context) {
	limit := parseLimit(c, 100)
	events, err := r.Events.ListEvents(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (r *Router) handlePolicyGet(c *gin.Context) {
	c.JSON(http.StatusOK, r.Policies.Get())
}

func (r *Router) handlePolicyPatch(c *gin.Context) {
	var patch policy.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updated, err := r.Policies.Update(c.Request.Context(), patch)
	if err != nil {
		// The merged policy is live in memory even when persistence failed;
		// surface both facts.
		logger.Errorf("[api] policy persist failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "policy": updated})
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (r *Router) handlePolicyReset(c *gin.Context) {
	reset, err := r.Policies.Reset(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "policy": reset})
		return
	}
	c.JSON(http.StatusOK, reset)
}

func (r *Router) handleSweepRefresh(c *gin.Context) {
	if err := r.Gateway.RefreshBrokerStatuses(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (r *Router) handleSweepAccount(c *gin.Context) {
	if err := r.Gateway.SyncAccountState(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (r *Router) handleSweepExits(c *gin.Context) {
	proposed, err := r.Gateway.RunExitAutomation(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposed": proposed})
}

func parseLimit(c *gin.Context, def int) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if limit <= 0 {
		limit = def
	}
	if limit > 500 {
		limit = 500
	}
	return limit
}
