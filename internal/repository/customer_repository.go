package repository

import (
	"context"
	"errors"

	"github.com/psds-microservice/onboarding-service/internal/errs"
	"github.com/psds-microservice/onboarding-service/internal/model"
	"gorm.io/gorm"
)

// ErrDuplicateSiteAddress is returned by Create when another customer already
// owns the site address.
var ErrDuplicateSiteAddress = errors.New("customer with this site address already exists")

type CustomerRepository struct {
	db *gorm.DB
}

// FindBySiteAddress does an exact, case-sensitive match. A nil customer and
// nil error mean no match.
func (r *CustomerRepository) FindBySiteAddress(ctx context.Context, siteAddress string) (*model.Customer, error) {
	var c model.Customer
	err := r.db.WithContext(ctx).
		Where("site_address = ?", siteAddress).
		Order("id").
		Take(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *CustomerRepository) Create(ctx context.Context, c *model.Customer) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateSiteAddress
		}
		return err
	}
	return nil
}

func (r *CustomerRepository) GetByID(ctx context.Context, id uint64) (*model.Customer, error) {
	var c model.Customer
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *CustomerRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Customer{}).Count(&n).Error
	return n, err
}
