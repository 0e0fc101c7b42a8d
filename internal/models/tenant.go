package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant represents a subscribing school. It is the unit of data isolation
// and billing; all soft state, never hard-deleted.
type Tenant struct {
	ID   uuid.UUID `json:"id" db:"id"`
	Name string    `json:"name" db:"name"`
	Slug string    `json:"slug" db:"slug"`

	Email string  `json:"email" db:"email"`
	Phone *string `json:"phone,omitempty" db:"phone"`

	SchoolName string  `json:"school_name" db:"school_name"`
	SchoolType *string `json:"school_type,omitempty" db:"school_type"`

	SubscriptionPlan    string     `json:"subscription_plan" db:"subscription_plan"`
	SubscriptionStatus  string     `json:"subscription_status" db:"subscription_status"`
	SubscriptionStartAt time.Time  `json:"subscription_start_at" db:"subscription_start_at"`
	SubscriptionEndAt   *time.Time `json:"subscription_end_at,omitempty" db:"subscription_end_at"`
	TrialEndAt          *time.Time `json:"trial_end_at,omitempty" db:"trial_end_at"`

	IsActive bool `json:"is_active" db:"is_active"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Subscription plans, ordered by increasing resource limits.
const (
	PlanBasic        = "basic"
	PlanProfessional = "professional"
	PlanEnterprise   = "enterprise"
)

// Subscription statuses. Exactly one holds at any time; cancelled is
// terminal and a cancelled tenant never regains access without a new
// subscription record.
const (
	TenantTrial     = "trial"
	TenantActive    = "active"
	TenantSuspended = "suspended"
	TenantCancelled = "cancelled"
)

// IsValidPlan reports whether plan names a known subscription plan.
func IsValidPlan(plan string) bool {
	switch plan {
	case PlanBasic, PlanProfessional, PlanEnterprise:
		return true
	}
	return false
}

// IsTrialExpired reports whether the trial window has closed at now.
// A tenant with no trial end date is not considered expired.
func (t *Tenant) IsTrialExpired(now time.Time) bool {
	return t.TrialEndAt != nil && now.After(*t.TrialEndAt)
}

// IsSubscriptionExpired reports whether the paid subscription has lapsed at now.
func (t *Tenant) IsSubscriptionExpired(now time.Time) bool {
	return t.SubscriptionEndAt != nil && now.After(*t.SubscriptionEndAt)
}
