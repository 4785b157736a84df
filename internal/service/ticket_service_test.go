package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/psds-microservice/onboarding-service/internal/dbtest"
	"github.com/psds-microservice/onboarding-service/internal/errs"
	"github.com/psds-microservice/onboarding-service/internal/metrics"
	"github.com/psds-microservice/onboarding-service/internal/model"
	"github.com/psds-microservice/onboarding-service/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	requester = model.Identity{UserID: 1, DisplayName: "Field One", Roles: []model.Role{model.RoleRequester}}
	other     = model.Identity{UserID: 3, DisplayName: "Field Two", Roles: []model.Role{model.RoleRequester}}
	approver  = model.Identity{UserID: 2, DisplayName: "Ops Lead", Roles: []model.Role{model.RoleApprover}}
	nobody    = model.Identity{UserID: 4, DisplayName: "Guest"}
)

// stepClock advances one minute per call so creation order is deterministic.
type stepClock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Minute)
	return c.cur
}

func newTestService(t *testing.T) (*TicketService, *repository.Store, *prometheus.Registry) {
	t.Helper()
	svc, store, reg, _ := newTestServiceDB(t)
	return svc, store, reg
}

// newTestServiceDB also returns the underlying gorm handle so tests can hook
// into its callbacks.
func newTestServiceDB(t *testing.T) (*TicketService, *repository.Store, *prometheus.Registry, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t)
	store := repository.New(db)
	reg := prometheus.NewRegistry()
	clock := &stepClock{cur: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc := NewTicketService(Deps{
		Store:   store,
		Metrics: metrics.NewTicketMetrics(reg),
		Log:     zap.NewNop(),
		Now:     clock.Now,
	})
	return svc, store, reg, db
}

func acmeDraft() TicketDraft {
	return TicketDraft{
		RequesterFirstName: "Ada",
		RequesterLastName:  "Lovelace",
		ContactNumber:      "555-0100",
		SiteAddress:        "acme.com",
		Description:        "Needs a storefront",
	}
}

func mustCreate(t *testing.T, svc *TicketService, caller model.Identity, d TicketDraft) *model.Ticket {
	t.Helper()
	tk, err := svc.Create(context.Background(), caller, d)
	require.NoError(t, err)
	return tk
}

func TestCreate_StampsServerFields(t *testing.T) {
	svc, _, reg := newTestService(t)
	ctx := context.Background()

	tk := mustCreate(t, svc, requester, acmeDraft())
	assert.NotZero(t, tk.ID)
	assert.Equal(t, requester.UserID, tk.CreatedByID)
	assert.Equal(t, requester.DisplayName, tk.CreatedByName)
	assert.Equal(t, model.TicketStatusPendingApproval, tk.Status)
	assert.Equal(t, time.UTC, tk.CreatedAt.Location())
	assert.Nil(t, tk.CustomerID)
	assert.Nil(t, tk.TechnologyTag)

	got, err := svc.Detail(ctx, requester, tk.ID)
	require.NoError(t, err)
	d := acmeDraft()
	assert.Equal(t, d.RequesterFirstName, got.RequesterFirstName)
	assert.Equal(t, d.RequesterLastName, got.RequesterLastName)
	assert.Equal(t, d.ContactNumber, got.ContactNumber)
	assert.Equal(t, d.SiteAddress, got.SiteAddress)
	assert.Equal(t, d.Description, got.Description)
	assert.Equal(t, requester.UserID, got.CreatedByID)
	assert.Equal(t, model.TicketStatusPendingApproval, got.Status)

	assert.Equal(t, 1.0, counterValue(t, reg, "onboarding_tickets_created_total"))
}

func TestCreate_Rejections(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, approver, acmeDraft())
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = svc.Create(ctx, nobody, acmeDraft())
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = svc.Create(ctx, requester, TicketDraft{SiteAddress: "  ", Description: "x"})
	require.ErrorIs(t, err, errs.ErrValidation)
	var verr *errs.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Fields, 4)
	assert.Contains(t, verr.Fields, "site_address")

	items, err := store.Tickets.List(ctx, repository.TicketFilter{})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestListVisible_RoleScoping(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	a := mustCreate(t, svc, requester, acmeDraft())
	b := mustCreate(t, svc, other, TicketDraft{RequesterFirstName: "Grace", RequesterLastName: "Hopper", ContactNumber: "1", SiteAddress: "navy.mil"})
	c := mustCreate(t, svc, requester, TicketDraft{RequesterFirstName: "Alan", RequesterLastName: "Turing", ContactNumber: "2", SiteAddress: "bletchley.uk"})

	mine, err := svc.ListVisible(ctx, requester, "")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, []uint64{c.ID, a.ID}, ids(mine))
	for _, tk := range mine {
		assert.Equal(t, requester.UserID, tk.CreatedByID)
	}

	all, err := svc.ListVisible(ctx, approver, "")
	require.NoError(t, err)
	assert.Equal(t, []uint64{c.ID, b.ID, a.ID}, ids(all))

	_, err = svc.ListVisible(ctx, nobody, "")
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestListVisible_Search(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	a := mustCreate(t, svc, requester, acmeDraft())
	b := mustCreate(t, svc, other, TicketDraft{RequesterFirstName: "Grace", RequesterLastName: "Hopper", ContactNumber: "1", SiteAddress: "navy.mil"})

	cases := []struct {
		term string
		want []uint64
	}{
		{"acme", []uint64{a.ID}},
		{"Hopp", []uint64{b.ID}},
		{"Ada", []uint64{a.ID}},
		{"ACME", nil},
		{"  ", []uint64{b.ID, a.ID}},
		{" Hopp", nil},
		{"Ada ", nil},
		{"zzz", nil},
	}
	for _, tc := range cases {
		got, err := svc.ListVisible(ctx, approver, tc.term)
		require.NoError(t, err)
		assert.Equal(t, tc.want, ids(got), "term %q", tc.term)
	}

	// search never widens a requester's view
	got, err := svc.ListVisible(ctx, requester, "navy")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDetail_Ownership(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	tk := mustCreate(t, svc, requester, acmeDraft())

	_, err := svc.Detail(ctx, other, tk.ID)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	got, err := svc.Detail(ctx, approver, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tk.ID, got.ID)

	_, err = svc.Detail(ctx, approver, 999)
	assert.ErrorIs(t, err, errs.ErrTicketNotFound)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = svc.Detail(ctx, nobody, tk.ID)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestApprove_CreatesCustomer(t *testing.T) {
	svc, store, reg := newTestService(t)
	ctx := context.Background()
	tk := mustCreate(t, svc, requester, acmeDraft())

	got, err := svc.Approve(ctx, approver, ApproveRequest{ID: tk.ID, TechnologyTag: "WordPress", DecisionNote: "ok"})
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusApproved, got.Status)
	require.NotNil(t, got.CustomerID)

	stored, err := store.Tickets.GetByID(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusApproved, stored.Status)
	require.NotNil(t, stored.TechnologyTag)
	assert.Equal(t, "WordPress", *stored.TechnologyTag)
	require.NotNil(t, stored.CustomerID)
	assert.Equal(t, *got.CustomerID, *stored.CustomerID)
	require.NotNil(t, stored.DecidedByID)
	assert.Equal(t, approver.UserID, *stored.DecidedByID)
	assert.Equal(t, approver.DisplayName, *stored.DecidedByName)
	assert.NotNil(t, stored.DecidedAt)
	assert.Equal(t, "ok", *stored.DecisionNote)

	c, err := store.Customers.GetByID(ctx, *stored.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, "acme.com", c.CompanyName)
	assert.Equal(t, "Ada Lovelace", c.ContactPerson)
	assert.Equal(t, "555-0100", c.ContactNumber)
	assert.Equal(t, "acme.com", c.SiteAddress)
	assert.Equal(t, "WordPress", c.TechnologyTag)
	assert.Equal(t, model.CustomerStatusActive, c.Status)
	assert.Equal(t, requester.DisplayName, c.RequesterLabel)
	assert.Equal(t, "Needs a storefront", c.Note)

	n, err := testutil.GatherAndCount(reg, "onboarding_customers_resolved_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1.0, counterValue(t, reg, "onboarding_ticket_decisions_total"))
}

func TestApprove_SameSiteReusesCustomer(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	first := mustCreate(t, svc, requester, acmeDraft())
	second := mustCreate(t, svc, other, TicketDraft{
		RequesterFirstName: "Charles", RequesterLastName: "Babbage", ContactNumber: "555-0199",
		SiteAddress: "acme.com", Description: "second office",
	})

	a, err := svc.Approve(ctx, approver, ApproveRequest{ID: first.ID, TechnologyTag: "WordPress"})
	require.NoError(t, err)
	before, err := store.Customers.GetByID(ctx, *a.CustomerID)
	require.NoError(t, err)

	b, err := svc.Approve(ctx, approver, ApproveRequest{ID: second.ID, TechnologyTag: "Shopify"})
	require.NoError(t, err)
	assert.Equal(t, *a.CustomerID, *b.CustomerID)

	after, err := store.Customers.GetByID(ctx, *a.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	n, err := store.Customers.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// site address matching is exact
	third := mustCreate(t, svc, requester, TicketDraft{RequesterFirstName: "A", RequesterLastName: "B", ContactNumber: "3", SiteAddress: "ACME.com"})
	c, err := svc.Approve(ctx, approver, ApproveRequest{ID: third.ID, TechnologyTag: "WordPress"})
	require.NoError(t, err)
	assert.NotEqual(t, *a.CustomerID, *c.CustomerID)
}

func TestApprove_Failures(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	tk := mustCreate(t, svc, requester, acmeDraft())

	_, err := svc.Approve(ctx, requester, ApproveRequest{ID: tk.ID, TechnologyTag: "WordPress"})
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = svc.Approve(ctx, approver, ApproveRequest{ID: 0, TechnologyTag: "WordPress"})
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = svc.Approve(ctx, approver, ApproveRequest{ID: 4242, TechnologyTag: "WordPress"})
	assert.ErrorIs(t, err, errs.ErrTicketNotFound)

	_, err = svc.Approve(ctx, approver, ApproveRequest{ID: tk.ID, TechnologyTag: "   "})
	assert.ErrorIs(t, err, errs.ErrValidation)

	stored, err := store.Tickets.GetByID(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusPendingApproval, stored.Status)
	assert.Nil(t, stored.TechnologyTag)

	n, err := store.Customers.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDecisions_TerminalStatesAreFinal(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	approved := mustCreate(t, svc, requester, acmeDraft())
	rejected := mustCreate(t, svc, requester, TicketDraft{RequesterFirstName: "A", RequesterLastName: "B", ContactNumber: "1", SiteAddress: "other.example"})

	_, err := svc.Approve(ctx, approver, ApproveRequest{ID: approved.ID, TechnologyTag: "WordPress"})
	require.NoError(t, err)
	_, err = svc.Reject(ctx, approver, RejectRequest{ID: rejected.ID})
	require.NoError(t, err)

	_, err = svc.Approve(ctx, approver, ApproveRequest{ID: approved.ID, TechnologyTag: "Shopify"})
	assert.ErrorIs(t, err, errs.ErrInvalidState)
	_, err = svc.Reject(ctx, approver, RejectRequest{ID: approved.ID})
	assert.ErrorIs(t, err, errs.ErrInvalidState)
	_, err = svc.Approve(ctx, approver, ApproveRequest{ID: rejected.ID, TechnologyTag: "Shopify"})
	assert.ErrorIs(t, err, errs.ErrInvalidState)

	stored, err := store.Tickets.GetByID(ctx, approved.ID)
	require.NoError(t, err)
	assert.Equal(t, "WordPress", *stored.TechnologyTag)

	n, err := store.Customers.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestReject(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	tk := mustCreate(t, svc, requester, acmeDraft())

	_, err := svc.Reject(ctx, requester, RejectRequest{ID: tk.ID})
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
	_, err = svc.Reject(ctx, approver, RejectRequest{ID: 77})
	assert.ErrorIs(t, err, errs.ErrTicketNotFound)

	got, err := svc.Reject(ctx, approver, RejectRequest{ID: tk.ID, DecisionNote: "  "})
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusRejected, got.Status)

	stored, err := store.Tickets.GetByID(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusRejected, stored.Status)
	assert.Equal(t, DefaultRejectNote, *stored.DecisionNote)
	assert.Equal(t, approver.UserID, *stored.DecidedByID)
	assert.NotNil(t, stored.DecidedAt)
	assert.Nil(t, stored.CustomerID)
	assert.Nil(t, stored.TechnologyTag)

	n, err := store.Customers.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestApprove_ConcurrentDecisionsCommitOnce(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	tk := mustCreate(t, svc, requester, acmeDraft())

	var wg sync.WaitGroup
	results := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, results[i] = svc.Approve(ctx, approver, ApproveRequest{ID: tk.ID, TechnologyTag: "WordPress"})
			} else {
				_, results[i] = svc.Reject(ctx, approver, RejectRequest{ID: tk.ID})
			}
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, errs.ErrInvalidState)
	}
	assert.Equal(t, 1, ok)

	stored, err := store.Tickets.GetByID(ctx, tk.ID)
	require.NoError(t, err)
	n, err := store.Customers.Count(ctx)
	require.NoError(t, err)
	if stored.Status == model.TicketStatusApproved {
		assert.Equal(t, int64(1), n)
	} else {
		assert.Zero(t, n)
	}
}

func TestCreate_StoresInputAsSubmitted(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	d := TicketDraft{
		RequesterFirstName: "Ada ",
		RequesterLastName:  " Lovelace",
		ContactNumber:      "555-0100 ",
		SiteAddress:        " acme.com",
		Description:        "line one\n",
	}

	tk := mustCreate(t, svc, requester, d)
	got, err := svc.Detail(ctx, requester, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, d.RequesterFirstName, got.RequesterFirstName)
	assert.Equal(t, d.RequesterLastName, got.RequesterLastName)
	assert.Equal(t, d.ContactNumber, got.ContactNumber)
	assert.Equal(t, d.SiteAddress, got.SiteAddress)
	assert.Equal(t, d.Description, got.Description)

	// the unchanged address is also the customer key
	_, err = svc.Approve(ctx, approver, ApproveRequest{ID: tk.ID, TechnologyTag: "WordPress"})
	require.NoError(t, err)
	c, err := store.Customers.FindBySiteAddress(ctx, " acme.com")
	require.NoError(t, err)
	require.NotNil(t, c)
	c, err = store.Customers.FindBySiteAddress(ctx, "acme.com")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestApprove_LostInsertRaceLinksExistingCustomer(t *testing.T) {
	svc, store, reg, db := newTestServiceDB(t)
	ctx := context.Background()
	tk := mustCreate(t, svc, requester, acmeDraft())

	// Another instance commits a customer for the same address right after
	// this approval's lookup came back empty.
	fired := false
	err := db.Callback().Query().After("gorm:query").Register("test:competing_customer", func(tx *gorm.DB) {
		if fired || tx.Statement.Table != "customers" || tx.RowsAffected != 0 {
			return
		}
		fired = true
		_, err := tx.Statement.ConnPool.ExecContext(tx.Statement.Context,
			"INSERT INTO customers (company_name, contact_person, contact_number, site_address, technology_tag, status, requester_label, note, registered_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
			"Acme Holdings", "Grace Hopper", "555-0199", "acme.com", "Drupal",
			model.CustomerStatusActive, "Field Two", "", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
		if err != nil {
			_ = tx.AddError(err)
		}
	})
	require.NoError(t, err)

	got, err := svc.Approve(ctx, approver, ApproveRequest{ID: tk.ID, TechnologyTag: "WordPress"})
	require.NoError(t, err)
	require.True(t, fired)
	require.NotNil(t, got.CustomerID)

	n, err := store.Customers.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	c, err := store.Customers.GetByID(ctx, *got.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Holdings", c.CompanyName)
	assert.Equal(t, "Drupal", c.TechnologyTag)

	stored, err := store.Tickets.GetByID(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusApproved, stored.Status)
	assert.Equal(t, c.ID, *stored.CustomerID)
	assert.Equal(t, 0.0, counterValueLabel(t, reg, "onboarding_customers_resolved_total", "outcome", "created"))
}

func TestApprove_TicketWriteFailureRollsBackCustomer(t *testing.T) {
	svc, store, _, db := newTestServiceDB(t)
	ctx := context.Background()
	tk := mustCreate(t, svc, requester, acmeDraft())

	err := db.Callback().Update().Before("gorm:update").Register("test:fail_ticket_update", func(tx *gorm.DB) {
		if tx.Statement.Table == "tickets" {
			_ = tx.AddError(errors.New("disk I/O error"))
		}
	})
	require.NoError(t, err)

	_, err = svc.Approve(ctx, approver, ApproveRequest{ID: tk.ID, TechnologyTag: "WordPress"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrPersistence)
	assert.NotErrorIs(t, err, errs.ErrInvalidState)

	stored, err := store.Tickets.GetByID(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusPendingApproval, stored.Status)
	assert.Nil(t, stored.CustomerID)
	assert.Nil(t, stored.TechnologyTag)

	n, err := store.Customers.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func counterValueLabel(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var sum float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}
	return sum
}

func ids(items []model.Ticket) []uint64 {
	if len(items) == 0 {
		return nil
	}
	out := make([]uint64, len(items))
	for i := range items {
		out[i] = items[i].ID
	}
	return out
}
