package company

import (
	"strings"
	"time"

	"github.com/safecity/platform/internal/shared/errors"
	"github.com/safecity/platform/internal/shared/types"
)

// CompanyStatus represents the operational state of a security company
type CompanyStatus string

const (
	CompanyStatusPending  CompanyStatus = "pending"
	CompanyStatusActive   CompanyStatus = "active"
	CompanyStatusInactive CompanyStatus = "inactive"
)

// ParseCompanyStatus validates a status literal
func ParseCompanyStatus(s string) (CompanyStatus, error) {
	switch CompanyStatus(strings.ToLower(strings.TrimSpace(s))) {
	case CompanyStatusPending:
		return CompanyStatusPending, nil
	case CompanyStatusActive:
		return CompanyStatusActive, nil
	case CompanyStatusInactive:
		return CompanyStatusInactive, nil
	}
	return "", errors.Validation("validation failed", map[string]string{
		"status": "must be one of: pending, active, inactive",
	})
}

// Company is a private security company operating on the platform
type Company struct {
	ID                 types.ID          `json:"id"`
	Name               string            `json:"name"`
	RegistrationNumber string            `json:"registration_number"`
	Contact            types.ContactInfo `json:"contact"`
	Status             CompanyStatus     `json:"status"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// New creates a company in the active state
func New(name, registrationNumber string, contact types.ContactInfo) (*Company, error) {
	name = strings.TrimSpace(name)
	registrationNumber = strings.TrimSpace(registrationNumber)

	if name == "" {
		return nil, errors.Validation("validation failed", map[string]string{
			"name": "name is required",
		})
	}
	if registrationNumber == "" {
		return nil, errors.Validation("validation failed", map[string]string{
			"registration_number": "registration_number is required",
		})
	}

	now := time.Now()
	return &Company{
		ID:                 types.NewID(),
		Name:               name,
		RegistrationNumber: registrationNumber,
		Contact:            contact,
		Status:             CompanyStatusActive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// IsActive reports whether the company may be assigned new work
func (c *Company) IsActive() bool {
	return c.Status == CompanyStatusActive
}
