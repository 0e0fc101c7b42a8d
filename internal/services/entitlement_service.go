package services

import (
	"time"

	"school-access-service/internal/models"
)

// Feature names tracked against plan limits.
const (
	FeatureStudents              = "students"
	FeatureTeachers              = "teachers"
	FeatureStorageGB             = "storage_gb"
	FeatureAPICallsPerDay        = "api_calls_per_day"
	FeatureNotificationsPerMonth = "notifications_per_month"
)

// Unlimited is the sentinel limit meaning no cap for the feature.
const Unlimited = -1

// planLimits is the fixed plan x feature table. Unknown features resolve
// to 0 (nothing allowed).
var planLimits = map[string]map[string]int{
	models.PlanBasic: {
		FeatureStudents:              100,
		FeatureTeachers:              20,
		FeatureStorageGB:             10,
		FeatureAPICallsPerDay:        1000,
		FeatureNotificationsPerMonth: 1000,
	},
	models.PlanProfessional: {
		FeatureStudents:              500,
		FeatureTeachers:              50,
		FeatureStorageGB:             50,
		FeatureAPICallsPerDay:        5000,
		FeatureNotificationsPerMonth: 5000,
	},
	models.PlanEnterprise: {
		FeatureStudents:              Unlimited,
		FeatureTeachers:              Unlimited,
		FeatureStorageGB:             500,
		FeatureAPICallsPerDay:        50000,
		FeatureNotificationsPerMonth: 50000,
	},
}

// EntitlementService decides whether a tenant's subscription permits system
// access and whether a usage counter is within plan limits. Pure decision
// functions over tenant state and the static table; no side effects.
type EntitlementService struct {
	now func() time.Time
}

func NewEntitlementService() *EntitlementService {
	return &EntitlementService{now: time.Now}
}

// CanAccess reports whether the tenant may use the system right now.
// Evaluated in order: deactivated and cancelled tenants never pass;
// trial and active tenants pass only inside their respective windows;
// suspended tenants never pass.
func (s *EntitlementService) CanAccess(t *models.Tenant) bool {
	if t == nil || !t.IsActive {
		return false
	}

	switch t.SubscriptionStatus {
	case models.TenantCancelled:
		return false
	case models.TenantTrial:
		return !t.IsTrialExpired(s.now())
	case models.TenantActive:
		return !t.IsSubscriptionExpired(s.now())
	}

	// suspended or anything unrecognized
	return false
}

// FeatureLimit returns the numeric limit for a feature under a plan.
// Unlimited (-1) means no cap; an unknown feature name yields 0.
func (s *EntitlementService) FeatureLimit(plan, feature string) int {
	return planLimits[plan][feature]
}

// CanUse reports whether one more unit of the feature fits within the plan
// limit given the current usage.
func (s *EntitlementService) CanUse(plan, feature string, currentUsage int) bool {
	limit := s.FeatureLimit(plan, feature)
	if limit == Unlimited {
		return true
	}
	return currentUsage < limit
}

// Limits returns the full limit table for a plan, for the admin surface.
func (s *EntitlementService) Limits(plan string) map[string]int {
	src := planLimits[plan]
	out := make(map[string]int, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
