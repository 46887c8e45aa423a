package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ibimina/saccopay/internal/models"
	"github.com/ibimina/saccopay/internal/payments"
	"github.com/ibimina/saccopay/internal/storage"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

type ingestRequest struct {
	Channel      string `json:"channel" binding:"required"`
	Sender       string `json:"sender"`
	Body         string `json:"body" binding:"required"`
	ReceivedAt   string `json:"received_at"`
	SourceDevice string `json:"source_device"`
	SaccoID      string `json:"sacco_id"`
}

func (s *Server) handleIngestMessage(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if s.limiter != nil {
		bucket := "ingest:" + req.Sender
		if req.Sender == "" {
			bucket = "ingest:" + c.ClientIP()
		}
		allowed, err := s.limiter.Allow(c.Request.Context(), bucket)
		if err != nil {
			s.log.Warn().Err(err).Msg("Rate limit check failed")
		}
		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
	}

	input := payments.IngestInput{
		Channel:      req.Channel,
		Sender:       req.Sender,
		Body:         req.Body,
		SourceDevice: req.SourceDevice,
	}
	if req.ReceivedAt != "" {
		receivedAt, err := time.Parse(time.RFC3339, req.ReceivedAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid received_at"})
			return
		}
		input.ReceivedAt = receivedAt
	}
	if req.SaccoID != "" {
		saccoID, err := uuid.Parse(req.SaccoID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sacco_id"})
			return
		}
		input.SaccoID = saccoID
	}

	result, err := s.payments.IngestMessage(c.Request.Context(), input)
	if err != nil {
		s.log.Error().Err(err).Msg("Ingest failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ingestion failed"})
		return
	}
	c.JSON(http.StatusAccepted, result)
}

func (s *Server) handleGetPayment(c *gin.Context) {
	paymentID, ok := parseID(c)
	if !ok {
		return
	}
	payment, err := s.payments.GetPayment(c.Request.Context(), actorFrom(c), paymentID)
	if err != nil {
		s.writeActionError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

type assignRequest struct {
	GroupID  string `json:"group_id" binding:"required"`
	MemberID string `json:"member_id"`
	Note     string `json:"note"`
}

func (s *Server) handleAssign(c *gin.Context) {
	paymentID, ok := parseID(c)
	if !ok {
		return
	}
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	groupID, err := uuid.Parse(req.GroupID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group_id"})
		return
	}
	input := payments.AssignInput{PaymentID: paymentID, GroupID: groupID, Note: req.Note}
	if req.MemberID != "" {
		memberID, err := uuid.Parse(req.MemberID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member_id"})
			return
		}
		input.MemberID = &memberID
	}

	payment, err := s.payments.Assign(c.Request.Context(), actorFrom(c), input)
	if err != nil {
		s.writeActionError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

type noteRequest struct {
	Note string `json:"note"`
}

func (s *Server) handleApprove(c *gin.Context) {
	paymentID, ok := parseID(c)
	if !ok {
		return
	}
	var req noteRequest
	_ = c.ShouldBindJSON(&req)

	payment, err := s.payments.Approve(c.Request.Context(), actorFrom(c), paymentID, req.Note)
	if err != nil {
		s.writeActionError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (s *Server) handleReject(c *gin.Context) {
	paymentID, ok := parseID(c)
	if !ok {
		return
	}
	var req noteRequest
	_ = c.ShouldBindJSON(&req)

	payment, err := s.payments.Reject(c.Request.Context(), actorFrom(c), paymentID, req.Note)
	if err != nil {
		s.writeActionError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (s *Server) handleSettle(c *gin.Context) {
	paymentID, ok := parseID(c)
	if !ok {
		return
	}
	payment, err := s.payments.Settle(c.Request.Context(), actorFrom(c), paymentID)
	if err != nil {
		s.writeActionError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (s *Server) handleListExceptions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	exceptions, err := s.payments.ListOpenExceptions(c.Request.Context(), actorFrom(c), limit)
	if err != nil {
		s.writeActionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exceptions": exceptions, "count": len(exceptions)})
}

func (s *Server) handleBalance(c *gin.Context) {
	ownerType := models.AccountOwnerType(c.Param("ownerType"))
	switch ownerType {
	case models.OwnerClearing, models.OwnerSettlement, models.OwnerGroup, models.OwnerMember:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid owner type"})
		return
	}
	ownerID, err := uuid.Parse(c.Param("ownerId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid owner id"})
		return
	}
	currency := c.DefaultQuery("currency", "RWF")

	account, err := s.store.FindAccount(c.Request.Context(), ownerType, ownerID, currency)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	balance, err := s.ledger.Balance(c.Request.Context(), account.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "balance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id": account.ID,
		"owner_type": ownerType,
		"owner_id":   ownerID,
		"currency":   currency,
		"balance":    balance.String(),
	})
}

func (s *Server) handleListPollers(c *gin.Context) {
	pollers, err := s.store.ListActivePollers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pollers": pollers, "count": len(pollers)})
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment id"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) writeActionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, payments.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, payments.ErrNoOpenException):
		c.JSON(http.StatusConflict, gin.H{"error": "no open exception for payment"})
	case errors.Is(err, payments.ErrGroupRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "group required"})
	case errors.Is(err, payments.ErrNotSettleable):
		c.JSON(http.StatusConflict, gin.H{"error": "only posted payments can be settled"})
	default:
		s.log.Error().Err(err).Msg("Action failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
