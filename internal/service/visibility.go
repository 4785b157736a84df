package service

import (
	"context"
	"strings"

	"github.com/psds-microservice/onboarding-service/internal/errs"
	"github.com/psds-microservice/onboarding-service/internal/model"
	"github.com/psds-microservice/onboarding-service/internal/repository"
)

// ListVisible returns the tickets caller may see, newest first. Requesters see
// only their own tickets, approvers see all. A non-blank search keeps tickets
// whose site address or requester first/last name contains it exactly as
// given (case-sensitive, surrounding spaces included).
func (s *TicketService) ListVisible(ctx context.Context, caller model.Identity, search string) ([]model.Ticket, error) {
	var filter repository.TicketFilter
	switch {
	case caller.IsApprover():
	case caller.HasRole(model.RoleRequester):
		owner := caller.UserID
		filter.CreatedByID = &owner
	default:
		return nil, errs.ErrUnauthorized
	}

	items, err := s.store.Tickets.List(ctx, filter)
	if err != nil {
		return nil, persistence("list tickets", err)
	}

	if strings.TrimSpace(search) == "" {
		return items, nil
	}
	out := items[:0]
	for _, t := range items {
		if matchesSearch(&t, search) {
			out = append(out, t)
		}
	}
	return out, nil
}

func matchesSearch(t *model.Ticket, term string) bool {
	return strings.Contains(t.SiteAddress, term) ||
		strings.Contains(t.RequesterFirstName, term) ||
		strings.Contains(t.RequesterLastName, term)
}
