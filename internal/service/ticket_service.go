package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/psds-microservice/onboarding-service/internal/errs"
	"github.com/psds-microservice/onboarding-service/internal/metrics"
	"github.com/psds-microservice/onboarding-service/internal/model"
	"github.com/psds-microservice/onboarding-service/internal/repository"
	"github.com/psds-microservice/onboarding-service/internal/sitelock"
	"go.uber.org/zap"
)

// DefaultRejectNote is stored when an approver rejects without a note.
const DefaultRejectNote = "No explanation provided."

// TicketServicer is the lifecycle surface used by the HTTP handlers.
type TicketServicer interface {
	ListVisible(ctx context.Context, caller model.Identity, search string) ([]model.Ticket, error)
	Detail(ctx context.Context, caller model.Identity, id uint64) (*model.Ticket, error)
	Create(ctx context.Context, caller model.Identity, draft TicketDraft) (*model.Ticket, error)
	Approve(ctx context.Context, caller model.Identity, req ApproveRequest) (*model.Ticket, error)
	Reject(ctx context.Context, caller model.Identity, req RejectRequest) (*model.Ticket, error)
}

// TicketDraft is the requester-supplied part of a ticket. Workflow fields are
// always stamped by the service.
type TicketDraft struct {
	RequesterFirstName string
	RequesterLastName  string
	ContactNumber      string
	SiteAddress        string
	Description        string
}

type ApproveRequest struct {
	ID            uint64
	TechnologyTag string
	DecisionNote  string
}

type RejectRequest struct {
	ID           uint64
	DecisionNote string
}

type Deps struct {
	Store    *repository.Store
	Locker   sitelock.Locker
	Metrics  *metrics.TicketMetrics
	Log      *zap.Logger
	Now      func() time.Time
	Resolver *CustomerResolver
}

type TicketService struct {
	store    *repository.Store
	locker   sitelock.Locker
	metrics  *metrics.TicketMetrics
	log      *zap.Logger
	now      func() time.Time
	resolver *CustomerResolver
}

func NewTicketService(d Deps) *TicketService {
	s := &TicketService{
		store:    d.Store,
		locker:   d.Locker,
		metrics:  d.Metrics,
		log:      d.Log,
		now:      d.Now,
		resolver: d.Resolver,
	}
	if s.locker == nil {
		s.locker = sitelock.NewLocalLocker()
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.resolver == nil {
		s.resolver = NewCustomerResolver(s.now)
	}
	return s
}

func (s *TicketService) Create(ctx context.Context, caller model.Identity, draft TicketDraft) (*model.Ticket, error) {
	if !caller.HasRole(model.RoleRequester) {
		return nil, errs.ErrUnauthorized
	}
	if verr := draft.validate(); verr != nil {
		return nil, verr
	}
	t := &model.Ticket{
		RequesterFirstName: draft.RequesterFirstName,
		RequesterLastName:  draft.RequesterLastName,
		ContactNumber:      draft.ContactNumber,
		SiteAddress:        draft.SiteAddress,
		Description:        draft.Description,
		Status:             model.TicketStatusPendingApproval,
		CreatedByID:        caller.UserID,
		CreatedByName:      caller.DisplayName,
		CreatedAt:          s.now().UTC(),
	}
	if err := s.store.Tickets.Create(ctx, t); err != nil {
		return nil, persistence("create ticket", err)
	}
	s.metrics.TicketCreated()
	s.log.Info("ticket created",
		zap.Uint64("ticket_id", t.ID),
		zap.Int64("created_by_id", t.CreatedByID),
		zap.String("site_address", t.SiteAddress))
	return t, nil
}

func (s *TicketService) Detail(ctx context.Context, caller model.Identity, id uint64) (*model.Ticket, error) {
	if !caller.Authenticated() {
		return nil, errs.ErrUnauthorized
	}
	t, err := s.store.Tickets.GetByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err)
	}
	if caller.RequesterOnly() && t.CreatedByID != caller.UserID {
		return nil, errs.ErrUnauthorized
	}
	return t, nil
}

// Approve decides a pending ticket and links it to the customer for its site
// address, creating that customer on first approval. The customer insert and
// the ticket transition commit together or not at all.
func (s *TicketService) Approve(ctx context.Context, caller model.Identity, req ApproveRequest) (t *model.Ticket, err error) {
	defer func() { s.metrics.Decision("approve", resultLabel(err)) }()

	if !caller.IsApprover() {
		return nil, errs.ErrUnauthorized
	}
	if req.ID == 0 {
		return nil, errs.Validation("id", "Invalid ticket id.")
	}
	t, err = s.store.Tickets.GetByID(ctx, req.ID)
	if err != nil {
		return nil, lookupErr(err)
	}
	tech := strings.TrimSpace(req.TechnologyTag)
	if tech == "" {
		return nil, errs.Validation("technologyTag", "Please select a technology.")
	}
	if t.Status.Terminal() {
		return nil, errs.ErrInvalidState
	}

	unlock, err := s.locker.Lock(ctx, t.SiteAddress)
	if err != nil {
		return nil, persistence("lock site address", err)
	}
	defer unlock()

	t.TechnologyTag = &tech
	var customer *model.Customer
	var created bool
	decidedAt := s.now().UTC()
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		var rerr error
		customer, created, rerr = s.resolver.Resolve(ctx, tx, t)
		if rerr != nil {
			return fmt.Errorf("resolve customer: %w", rerr)
		}
		return tx.Tickets.Decide(ctx, t.ID, repository.Decision{
			Status:        model.TicketStatusApproved,
			DecidedByID:   caller.UserID,
			DecidedByName: caller.DisplayName,
			DecidedAt:     decidedAt,
			DecisionNote:  req.DecisionNote,
			TechnologyTag: &tech,
			CustomerID:    &customer.ID,
		})
	})
	if err != nil {
		if errors.Is(err, errs.ErrInvalidState) {
			return nil, err
		}
		return nil, persistence("approve ticket", err)
	}
	s.metrics.CustomerResolved(created)

	note := req.DecisionNote
	t.Status = model.TicketStatusApproved
	t.DecidedByID = &caller.UserID
	t.DecidedByName = &caller.DisplayName
	t.DecidedAt = &decidedAt
	t.DecisionNote = &note
	t.CustomerID = &customer.ID

	s.log.Info("ticket approved",
		zap.Uint64("ticket_id", t.ID),
		zap.Int64("decided_by_id", caller.UserID),
		zap.Uint64("customer_id", customer.ID),
		zap.Bool("customer_created", created))
	return t, nil
}

func (s *TicketService) Reject(ctx context.Context, caller model.Identity, req RejectRequest) (t *model.Ticket, err error) {
	defer func() { s.metrics.Decision("reject", resultLabel(err)) }()

	if !caller.IsApprover() {
		return nil, errs.ErrUnauthorized
	}
	if req.ID == 0 {
		return nil, errs.Validation("id", "Invalid ticket id.")
	}
	t, err = s.store.Tickets.GetByID(ctx, req.ID)
	if err != nil {
		return nil, lookupErr(err)
	}
	if t.Status.Terminal() {
		return nil, errs.ErrInvalidState
	}

	note := strings.TrimSpace(req.DecisionNote)
	if note == "" {
		note = DefaultRejectNote
	}
	decidedAt := s.now().UTC()
	err = s.store.Tickets.Decide(ctx, t.ID, repository.Decision{
		Status:        model.TicketStatusRejected,
		DecidedByID:   caller.UserID,
		DecidedByName: caller.DisplayName,
		DecidedAt:     decidedAt,
		DecisionNote:  note,
	})
	if err != nil {
		if errors.Is(err, errs.ErrInvalidState) {
			return nil, err
		}
		return nil, persistence("reject ticket", err)
	}

	t.Status = model.TicketStatusRejected
	t.DecidedByID = &caller.UserID
	t.DecidedByName = &caller.DisplayName
	t.DecidedAt = &decidedAt
	t.DecisionNote = &note

	s.log.Info("ticket rejected",
		zap.Uint64("ticket_id", t.ID),
		zap.Int64("decided_by_id", caller.UserID))
	return t, nil
}

// validate rejects blank required fields. The draft itself is stored as
// submitted; whitespace is only ignored for the blank check.
func (d TicketDraft) validate() *errs.ValidationError {
	verr := errs.NewValidationError()
	if isBlank(d.RequesterFirstName) {
		verr.Add("requester_first_name", "First name is required.")
	}
	if isBlank(d.RequesterLastName) {
		verr.Add("requester_last_name", "Last name is required.")
	}
	if isBlank(d.ContactNumber) {
		verr.Add("contact_number", "Contact number is required.")
	}
	if isBlank(d.SiteAddress) {
		verr.Add("site_address", "Site address is required.")
	}
	if verr.Empty() {
		return nil
	}
	return verr
}

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }

func lookupErr(err error) error {
	if errors.Is(err, errs.ErrNotFound) {
		return err
	}
	return persistence("load ticket", err)
}

func persistence(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, errs.ErrPersistence, err)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errs.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, errs.ErrNotFound):
		return "not_found"
	case errors.Is(err, errs.ErrValidation):
		return "validation"
	case errors.Is(err, errs.ErrInvalidState):
		return "invalid_state"
	default:
		return "error"
	}
}
