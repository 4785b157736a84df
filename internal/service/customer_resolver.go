package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/psds-microservice/onboarding-service/internal/model"
	"github.com/psds-microservice/onboarding-service/internal/repository"
)

// CustomerResolver finds or creates the customer for an approved ticket,
// keyed by exact site address. It performs no authorization checks.
type CustomerResolver struct {
	now func() time.Time
}

func NewCustomerResolver(now func() time.Time) *CustomerResolver {
	if now == nil {
		now = time.Now
	}
	return &CustomerResolver{now: now}
}

// Resolve returns the existing customer for t.SiteAddress unchanged, or
// creates one from the ticket. t.TechnologyTag must already be set. created
// reports whether a new row was inserted.
func (r *CustomerResolver) Resolve(ctx context.Context, store *repository.Store, t *model.Ticket) (c *model.Customer, created bool, err error) {
	existing, err := store.Customers.FindBySiteAddress(ctx, t.SiteAddress)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	c = newCustomerFromTicket(t, r.now().UTC())
	err = store.Savepoint(ctx, func(sp *repository.Store) error {
		return sp.Customers.Create(ctx, c)
	})
	if errors.Is(err, repository.ErrDuplicateSiteAddress) {
		// lost a race with another instance; the winner is canonical
		existing, err = store.Customers.FindBySiteAddress(ctx, t.SiteAddress)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, repository.ErrDuplicateSiteAddress
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

func newCustomerFromTicket(t *model.Ticket, now time.Time) *model.Customer {
	tech := ""
	if t.TechnologyTag != nil {
		tech = *t.TechnologyTag
	}
	return &model.Customer{
		CompanyName:    t.SiteAddress,
		ContactPerson:  strings.TrimSpace(t.RequesterFirstName + " " + t.RequesterLastName),
		ContactNumber:  t.ContactNumber,
		SiteAddress:    t.SiteAddress,
		TechnologyTag:  tech,
		Status:         model.CustomerStatusActive,
		RequesterLabel: t.CreatedByName,
		Note:           t.Description,
		RegisteredAt:   now,
	}
}
