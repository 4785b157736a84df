package model

import (
	"database/sql/driver"
	"fmt"
	"time"
)

type TicketStatus string

const (
	TicketStatusPendingApproval TicketStatus = "PendingApproval"
	TicketStatusApproved        TicketStatus = "Approved"
	TicketStatusRejected        TicketStatus = "Rejected"
)

// ParseTicketStatus accepts only the three known states.
func ParseTicketStatus(s string) (TicketStatus, error) {
	switch TicketStatus(s) {
	case TicketStatusPendingApproval, TicketStatusApproved, TicketStatusRejected:
		return TicketStatus(s), nil
	default:
		return "", fmt.Errorf("unknown ticket status %q", s)
	}
}

// Terminal reports whether no further decision may be applied.
func (s TicketStatus) Terminal() bool {
	switch s {
	case TicketStatusApproved, TicketStatusRejected:
		return true
	case TicketStatusPendingApproval:
		return false
	default:
		return true
	}
}

func (s TicketStatus) Value() (driver.Value, error) {
	if _, err := ParseTicketStatus(string(s)); err != nil {
		return nil, err
	}
	return string(s), nil
}

func (s *TicketStatus) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("scan ticket status: unsupported type %T", src)
	}
	parsed, err := ParseTicketStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type Ticket struct {
	ID                 uint64       `gorm:"primaryKey" json:"id"`
	RequesterFirstName string       `gorm:"type:varchar(100);not null" json:"requester_first_name"`
	RequesterLastName  string       `gorm:"type:varchar(100);not null" json:"requester_last_name"`
	ContactNumber      string       `gorm:"type:varchar(32);not null" json:"contact_number"`
	SiteAddress        string       `gorm:"type:varchar(255);index;not null" json:"site_address"`
	Description        string       `gorm:"type:text" json:"description,omitempty"`
	Status             TicketStatus `gorm:"type:varchar(32);index;not null" json:"status"`

	CreatedByID   int64     `gorm:"index;not null" json:"created_by_id"`
	CreatedByName string    `gorm:"type:varchar(128)" json:"created_by_name"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`

	DecidedByID   *int64     `json:"decided_by_id,omitempty"`
	DecidedByName *string    `gorm:"type:varchar(128)" json:"decided_by_name,omitempty"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
	DecisionNote  *string    `gorm:"type:text" json:"decision_note,omitempty"`
	TechnologyTag *string    `gorm:"type:varchar(64)" json:"technology_tag,omitempty"`
	CustomerID    *uint64    `gorm:"index" json:"customer_id,omitempty"`
}

const (
	CustomerStatusActive   = "Active"
	CustomerStatusInactive = "Inactive"
)

type Customer struct {
	ID             uint64    `gorm:"primaryKey" json:"id"`
	CompanyName    string    `gorm:"type:varchar(255);not null" json:"company_name"`
	ContactPerson  string    `gorm:"type:varchar(255)" json:"contact_person"`
	ContactNumber  string    `gorm:"type:varchar(32)" json:"contact_number"`
	SiteAddress    string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"site_address"`
	TechnologyTag  string    `gorm:"type:varchar(64)" json:"technology_tag"`
	Status         string    `gorm:"type:varchar(32);not null" json:"status"`
	RequesterLabel string    `gorm:"type:varchar(128)" json:"requester_label"`
	Note           string    `gorm:"type:text" json:"note,omitempty"`
	RegisteredAt   time.Time `json:"registered_at"`
}
