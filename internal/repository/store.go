// Package repository is the persistence gateway for tickets and customers.
// It only filters by equality and orders results; anything richer belongs to
// the service layer.
package repository

import (
	"context"

	"gorm.io/gorm"
)

type Store struct {
	db        *gorm.DB
	Tickets   *TicketRepository
	Customers *CustomerRepository
}

func New(db *gorm.DB) *Store {
	return &Store{
		db:        db,
		Tickets:   &TicketRepository{db: db},
		Customers: &CustomerRepository{db: db},
	}
}

// Transaction runs fn against a Store bound to a single database transaction.
// Returning an error from fn rolls everything back.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(New(tx))
	})
}

// Savepoint runs fn in a nested transaction so a failed statement can be
// undone without aborting the enclosing one.
func (s *Store) Savepoint(ctx context.Context, fn func(tx *Store) error) error {
	return s.Transaction(ctx, fn)
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
