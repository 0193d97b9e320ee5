package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/sentinel/internal/logging"
	"github.com/mbd888/sentinel/internal/risk"
	"github.com/mbd888/sentinel/internal/validation"
	"github.com/mbd888/sentinel/internal/witness"
)

// auditPaymentHandler scores a payment and, unless it is blocked, seals it
// into the audit ledger with the strategy the assessment recommends.
func (s *Server) auditPaymentHandler(c *gin.Context) {
	ctx := c.Request.Context()

	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "request body must be valid JSON",
		})
		return
	}
	if err := validation.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": err.Error(),
		})
		return
	}
	if err := risk.ValidateAmount(req.Amount); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": err.Error(),
		})
		return
	}

	logger := logging.L(ctx).With("account", req.AccountID, "to", req.ToAccount)
	logger.Info("processing payment", "amount", req.Amount.String(), "ip", req.IPAddress)

	a, err := s.engine.Analyze(ctx, req.toRisk())
	if err != nil {
		logger.Error("payment analysis failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "analysis_failed",
			"message": err.Error(),
		})
		return
	}
	c.Header("X-Assessment-ID", a.ID)

	ev := witness.NewEvent(req.AccountID, req.ToAccount, req.Amount, s.now())
	w, err := s.witness.Process(ctx, ev, a.Decision, a.Strategy)
	switch {
	case errors.Is(err, witness.ErrBlocked):
		logger.Warn("payment blocked", "score", a.Score)
		c.JSON(http.StatusForbidden, gin.H{
			"status":  risk.DecisionBlocked,
			"risk":    a.Score,
			"reasons": a.Reasons,
		})
		return
	case err != nil:
		logger.Error("failed to seal payment", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "seal_failed",
			"message": "failed to record payment in audit ledger",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        w.Status,
		"strategy":      w.Strategy,
		"risk":          a.Score,
		"decision":      a.Decision,
		"transactionId": w.TransactionID(),
		"witness":       w,
	})
}

func (s *Server) listBlocksHandler(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	blocks, err := s.witness.Blocks(c.Request.Context(), limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list audit blocks", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to list audit blocks",
		})
		return
	}
	if blocks == nil {
		blocks = []*witness.Block{}
	}
	c.JSON(http.StatusOK, gin.H{"blocks": blocks, "count": len(blocks)})
}

func (s *Server) getWitnessHandler(c *gin.Context) {
	id := c.Param("id")
	w, verified, err := s.witness.Verify(c.Request.Context(), id)
	switch {
	case errors.Is(err, witness.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "no witness for transaction",
		})
		return
	case err != nil:
		logging.L(c.Request.Context()).Error("failed to verify witness", "transaction", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to verify witness",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"witness": w, "verified": verified})
}

// checkChainHandler re-validates the newest blocks on demand. A broken
// chain is still a 200; callers read the intact flag.
func (s *Server) checkChainHandler(c *gin.Context) {
	rep, err := s.chain.RunAll(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to check audit chain", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to check audit chain",
		})
		return
	}
	c.JSON(http.StatusOK, rep)
}
