package repository

import (
	"context"
	"errors"
	"time"

	"github.com/psds-microservice/onboarding-service/internal/errs"
	"github.com/psds-microservice/onboarding-service/internal/model"
	"gorm.io/gorm"
)

type TicketRepository struct {
	db *gorm.DB
}

// TicketFilter holds equality constraints. Nil/empty fields are ignored.
type TicketFilter struct {
	CreatedByID *int64
	Status      model.TicketStatus
}

// Decision is the set of fields written by a single terminal transition.
type Decision struct {
	Status        model.TicketStatus
	DecidedByID   int64
	DecidedByName string
	DecidedAt     time.Time
	DecisionNote  string
	TechnologyTag *string
	CustomerID    *uint64
}

func (r *TicketRepository) Create(ctx context.Context, t *model.Ticket) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *TicketRepository) GetByID(ctx context.Context, id uint64) (*model.Ticket, error) {
	var t model.Ticket
	if err := r.db.WithContext(ctx).First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketNotFound
		}
		return nil, err
	}
	return &t, nil
}

// List returns matching tickets, newest first.
func (r *TicketRepository) List(ctx context.Context, f TicketFilter) ([]model.Ticket, error) {
	var items []model.Ticket
	tx := r.db.WithContext(ctx).Model(&model.Ticket{})
	if f.CreatedByID != nil {
		tx = tx.Where("created_by_id = ?", *f.CreatedByID)
	}
	if f.Status != "" {
		tx = tx.Where("status = ?", f.Status)
	}
	if err := tx.Order("created_at DESC").Order("id DESC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// Decide moves a pending ticket to a terminal state. The update only matches
// while the row is still PendingApproval, so of two concurrent decisions at
// most one succeeds; the loser gets errs.ErrInvalidState.
func (r *TicketRepository) Decide(ctx context.Context, id uint64, d Decision) error {
	changes := map[string]interface{}{
		"status":          d.Status,
		"decided_by_id":   d.DecidedByID,
		"decided_by_name": d.DecidedByName,
		"decided_at":      d.DecidedAt,
		"decision_note":   d.DecisionNote,
	}
	if d.TechnologyTag != nil {
		changes["technology_tag"] = *d.TechnologyTag
	}
	if d.CustomerID != nil {
		changes["customer_id"] = *d.CustomerID
	}
	res := r.db.WithContext(ctx).
		Model(&model.Ticket{}).
		Where("id = ? AND status = ?", id, model.TicketStatusPendingApproval).
		Updates(changes)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.ErrInvalidState
	}
	return nil
}

// All is used by maintenance commands that replay ticket state.
func (r *TicketRepository) All(ctx context.Context) ([]model.Ticket, error) {
	var items []model.Ticket
	if err := r.db.WithContext(ctx).Order("id").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
