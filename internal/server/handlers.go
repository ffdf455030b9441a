package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fanvault/finguard/internal/finance"
	"github.com/fanvault/finguard/internal/policy"
	"github.com/fanvault/finguard/internal/security"
)

// writeError renders service and pipeline failures in the stable
// {error, message, details} shape. Scope denials are recorded as
// permission_denied security events with the caller attached.
func (s *Server) writeError(c *gin.Context, err error) {
	var rejection *policy.Error
	if errors.As(err, &rejection) {
		if rejection.Code == policy.CodeInsufficientScope {
			source := security.Source{IP: c.ClientIP(), UserAgent: c.Request.UserAgent()}
			if principal := principalFrom(c); principal != nil {
				source.UserID = principal.UserID.String()
				source.SessionID = principal.SessionID
			}
			s.deps.Recorder.Record(security.EventPermissionDenied, source,
				map[string]string{"path": c.FullPath()})
		}
		c.JSON(rejection.Status, rejection)
		return
	}
	c.JSON(finance.StatusFromError(err), gin.H{
		"error":   "INTERNAL_ERROR",
		"message": err.Error(),
	})
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_ID",
			"message": "path id must be a UUID",
		})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleCreateTransaction(c *gin.Context) {
	var in finance.TransactionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": err.Error()})
		return
	}
	result, err := s.deps.Finance.CreateTransaction(c.Request.Context(), principalFrom(c), &in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if result.Duplicate {
		response := gin.H{"status": "duplicate"}
		if result.TransactionID != nil {
			response["transactionId"] = result.TransactionID
		}
		c.JSON(http.StatusOK, response)
		return
	}
	c.JSON(http.StatusCreated, result.Transaction)
}

func (s *Server) handleGetTransaction(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if _, rejection := s.deps.Gate.Authorize(c.Request.Context(), &policy.Request{
		Operation: policy.OpTransactionRead,
		Principal: principalFrom(c),
	}); rejection != nil {
		s.writeError(c, rejection)
		return
	}
	tx, err := s.deps.Finance.GetTransaction(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (s *Server) handleCancelTransaction(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var in struct {
		AccountID string `json:"accountId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": err.Error()})
		return
	}
	tx, err := s.deps.Finance.CancelTransaction(c.Request.Context(), principalFrom(c), id, in.AccountID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (s *Server) handleCreatePayout(c *gin.Context) {
	var in finance.PayoutInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": err.Error()})
		return
	}
	payout, duplicate, err := s.deps.Finance.CreatePayout(c.Request.Context(), principalFrom(c), &in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if duplicate {
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}
	c.JSON(http.StatusCreated, payout)
}

type approvalInput struct {
	TOTPCode string `json:"totpCode"`
}

func (s *Server) handleApprovePayout(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var in approvalInput
	_ = c.ShouldBindJSON(&in)
	payout, err := s.deps.Finance.ApprovePayout(c.Request.Context(), principalFrom(c), id, in.TOTPCode)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payout)
}

func (s *Server) handleExecutePayout(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var in approvalInput
	_ = c.ShouldBindJSON(&in)
	payout, err := s.deps.Finance.ExecutePayout(c.Request.Context(), principalFrom(c), id, in.TOTPCode)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payout)
}

func (s *Server) handleGetBalance(c *gin.Context) {
	if _, rejection := s.deps.Gate.Authorize(c.Request.Context(), &policy.Request{
		Operation: policy.OpBalanceRead,
		Principal: principalFrom(c),
	}); rejection != nil {
		s.writeError(c, rejection)
		return
	}
	account, err := s.deps.Finance.GetAccount(c.Request.Context(), c.Param("account"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (s *Server) handleLockBalance(c *gin.Context) {
	accountID := c.Param("account")
	var in struct {
		Amount int64  `json:"amount" binding:"required"`
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": err.Error()})
		return
	}
	if _, rejection := s.deps.Gate.Authorize(c.Request.Context(), &policy.Request{
		Operation: policy.OpBalanceLock,
		Principal: principalFrom(c),
		AccountID: accountID,
		Amount:    in.Amount,
	}); rejection != nil {
		s.writeError(c, rejection)
		return
	}
	lock := s.deps.Gate.Locks().Acquire(accountID, in.Amount, in.Reason)
	if lock == nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":   policy.CodeBalanceLocked,
			"message": "account already holds an active balance lock",
		})
		return
	}
	c.JSON(http.StatusCreated, lock)
}

func (s *Server) handleUnlockBalance(c *gin.Context) {
	accountID := c.Param("account")
	var in struct {
		LockID   string `json:"lockId" binding:"required"`
		TOTPCode string `json:"totpCode"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": err.Error()})
		return
	}
	if _, rejection := s.deps.Gate.Authorize(c.Request.Context(), &policy.Request{
		Operation: policy.OpBalanceUnlock,
		Principal: principalFrom(c),
		AccountID: accountID,
		TOTPCode:  in.TOTPCode,
	}); rejection != nil {
		s.writeError(c, rejection)
		return
	}
	if !s.deps.Gate.Locks().Release(accountID, in.LockID) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "LOCK_NOT_FOUND",
			"message": "no active lock with that id on the account",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "released"})
}

func (s *Server) handleCreateAccount(c *gin.Context) {
	var in struct {
		ID       string    `json:"id" binding:"required"`
		OwnerID  uuid.UUID `json:"ownerId" binding:"required"`
		Currency string    `json:"currency" binding:"required"`
		TOTPCode string    `json:"totpCode"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": err.Error()})
		return
	}
	// account creation is administrative but not dual-control
	if _, rejection := s.deps.Gate.Authorize(c.Request.Context(), &policy.Request{
		Operation: policy.OpLedgerAdmin,
		Principal: principalFrom(c),
		TOTPCode:  in.TOTPCode,
		Approved:  true,
	}); rejection != nil {
		s.writeError(c, rejection)
		return
	}
	account, err := s.deps.Finance.CreateAccount(c.Request.Context(), in.ID, in.OwnerID, in.Currency)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}
