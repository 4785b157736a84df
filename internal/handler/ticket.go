package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/psds-microservice/onboarding-service/internal/auth"
	"github.com/psds-microservice/onboarding-service/internal/errs"
	"github.com/psds-microservice/onboarding-service/internal/kafka"
	"github.com/psds-microservice/onboarding-service/internal/logger"
	"github.com/psds-microservice/onboarding-service/internal/model"
	"github.com/psds-microservice/onboarding-service/internal/service"
	"go.uber.org/zap"
)

const (
	msgTicketCreated  = "Ticket created, awaiting approval."
	msgTicketApproved = "Ticket approved and customer record linked."
	msgTicketRejected = "Ticket rejected."
	msgInvalidBody    = "Invalid request body."

	// ListPath is where form submissions are redirected after creation.
	ListPath = "/api/v1/tickets"
)

type TicketHandler struct {
	svc      service.TicketServicer
	producer kafka.TicketEventProducer
	log      *zap.Logger
	inflight sync.WaitGroup
}

func NewTicketHandler(svc service.TicketServicer, producer kafka.TicketEventProducer, log *zap.Logger) *TicketHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &TicketHandler{svc: svc, producer: producer, log: log}
}

type createTicketRequest struct {
	RequesterFirstName string `json:"requester_first_name" form:"requester_first_name"`
	RequesterLastName  string `json:"requester_last_name" form:"requester_last_name"`
	ContactNumber      string `json:"contact_number" form:"contact_number"`
	SiteAddress        string `json:"site_address" form:"site_address"`
	Description        string `json:"description" form:"description"`
}

type approveRequest struct {
	ID            int64   `json:"id"`
	TechnologyTag string  `json:"technologyTag"`
	DecisionNote  *string `json:"decisionNote"`
}

type rejectRequest struct {
	ID           int64   `json:"id"`
	DecisionNote *string `json:"decisionNote"`
}

type decisionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *TicketHandler) List(c *gin.Context) {
	search := c.Query("search")
	items, err := h.svc.ListVisible(c.Request.Context(), auth.IdentityFrom(c), search)
	if err != nil {
		h.fail(c, err)
		return
	}
	resp := gin.H{
		"tickets": items,
		"total":   len(items),
		"search":  search,
	}
	if notice := c.Query("notice"); notice == "ticket_created" {
		resp["notice"] = msgTicketCreated
	}
	c.JSON(http.StatusOK, resp)
}

func (h *TicketHandler) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid ticket id."})
		return
	}
	t, err := h.svc.Detail(c.Request.Context(), auth.IdentityFrom(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// Create accepts JSON or a submitted form. Forms are redirected to the list on
// success; validation failures come back with the original input so the
// caller can correct it.
func (h *TicketHandler) Create(c *gin.Context) {
	var req createTicketRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": msgInvalidBody})
		return
	}
	t, err := h.svc.Create(c.Request.Context(), auth.IdentityFrom(c), service.TicketDraft{
		RequesterFirstName: req.RequesterFirstName,
		RequesterLastName:  req.RequesterLastName,
		ContactNumber:      req.ContactNumber,
		SiteAddress:        req.SiteAddress,
		Description:        req.Description,
	})
	var verr *errs.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"success": false,
			"message": errs.Message(err),
			"errors":  verr.Fields,
			"ticket":  req,
		})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	h.publishAsync(kafka.EventTicketCreated, t)

	if isFormPost(c) {
		c.Redirect(http.StatusSeeOther, ListPath+"?notice=ticket_created")
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": msgTicketCreated,
		"ticket":  t,
	})
}

// Approve always answers 200 with {success, message}; failures are reported
// in the body so the page can show them inline. Authorization is checked
// before the ticket id.
func (h *TicketHandler) Approve(c *gin.Context) {
	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, decisionResponse{Success: false, Message: msgInvalidBody})
		return
	}
	t, err := h.svc.Approve(c.Request.Context(), auth.IdentityFrom(c), service.ApproveRequest{
		ID:            uint64(req.ID),
		TechnologyTag: req.TechnologyTag,
		DecisionNote:  deref(req.DecisionNote),
	})
	if err != nil {
		h.decisionFailed(c, "approve", req.ID, err)
		return
	}
	h.publishAsync(kafka.EventTicketApproved, t)
	c.JSON(http.StatusOK, decisionResponse{Success: true, Message: msgTicketApproved})
}

func (h *TicketHandler) Reject(c *gin.Context) {
	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, decisionResponse{Success: false, Message: msgInvalidBody})
		return
	}
	t, err := h.svc.Reject(c.Request.Context(), auth.IdentityFrom(c), service.RejectRequest{
		ID:           uint64(req.ID),
		DecisionNote: deref(req.DecisionNote),
	})
	if err != nil {
		h.decisionFailed(c, "reject", req.ID, err)
		return
	}
	h.publishAsync(kafka.EventTicketRejected, t)
	c.JSON(http.StatusOK, decisionResponse{Success: true, Message: msgTicketRejected})
}

func (h *TicketHandler) decisionFailed(c *gin.Context, op string, id int64, err error) {
	if errors.Is(err, errs.ErrPersistence) {
		logger.FromGin(c, h.log).Error("ticket decision failed",
			zap.String("op", op), zap.Int64("ticket_id", id), zap.Error(err))
	}
	c.JSON(http.StatusOK, decisionResponse{Success: false, Message: errs.Message(err)})
}

func (h *TicketHandler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.FromGin(c, h.log).Error("ticket request failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"success": false, "message": errs.Message(err)})
}

// publishAsync sends the event off the request path. Wait blocks until every
// send started here has finished.
func (h *TicketHandler) publishAsync(event string, t *model.Ticket) {
	if h.producer == nil || t == nil {
		return
	}
	snapshot := *t
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.producer.ProduceTicketEvent(ctx, event, &snapshot)
	}()
}

// Wait returns once all pending ticket events have been handed to the
// producer. Call it after the HTTP server has stopped and before closing the
// producer.
func (h *TicketHandler) Wait() {
	h.inflight.Wait()
}

// ticketID maps non-positive ids to 0, which the service rejects as invalid
// after its role check.
func ticketID(id int64) uint64 {
	if id <= 0 {
		return 0
	}
	return uint64(id)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func isFormPost(c *gin.Context) bool {
	ct := c.ContentType()
	return ct == binding.MIMEPOSTForm || strings.HasPrefix(ct, binding.MIMEMultipartPOSTForm)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
