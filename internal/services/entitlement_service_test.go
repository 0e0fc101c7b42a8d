package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"school-access-service/internal/models"
)

func newTestEntitlementService(at time.Time) *EntitlementService {
	svc := NewEntitlementService()
	svc.now = func() time.Time { return at }
	return svc
}

func TestCanAccess(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestEntitlementService(now)

	past := now.Add(-time.Hour)
	future := now.Add(24 * time.Hour)

	tests := []struct {
		name   string
		tenant *models.Tenant
		want   bool
	}{
		{"nil tenant", nil, false},
		{
			"deactivated tenant",
			&models.Tenant{IsActive: false, SubscriptionStatus: models.TenantActive},
			false,
		},
		{
			"trial inside window",
			&models.Tenant{IsActive: true, SubscriptionStatus: models.TenantTrial, TrialEndAt: &future},
			true,
		},
		{
			"trial expired",
			&models.Tenant{IsActive: true, SubscriptionStatus: models.TenantTrial, TrialEndAt: &past},
			false,
		},
		{
			"trial without end date",
			&models.Tenant{IsActive: true, SubscriptionStatus: models.TenantTrial},
			true,
		},
		{
			"active inside window",
			&models.Tenant{IsActive: true, SubscriptionStatus: models.TenantActive, SubscriptionEndAt: &future},
			true,
		},
		{
			"active expired",
			&models.Tenant{IsActive: true, SubscriptionStatus: models.TenantActive, SubscriptionEndAt: &past},
			false,
		},
		{
			"active without end date",
			&models.Tenant{IsActive: true, SubscriptionStatus: models.TenantActive},
			true,
		},
		{
			"suspended",
			&models.Tenant{IsActive: true, SubscriptionStatus: models.TenantSuspended},
			false,
		},
		{
			"cancelled",
			&models.Tenant{IsActive: true, SubscriptionStatus: models.TenantCancelled},
			false,
		},
		{
			"cancelled with future end date stays closed",
			&models.Tenant{IsActive: true, SubscriptionStatus: models.TenantCancelled, SubscriptionEndAt: &future},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.CanAccess(tt.tenant))
		})
	}
}

func TestFeatureLimitTable(t *testing.T) {
	svc := NewEntitlementService()

	assert.Equal(t, 100, svc.FeatureLimit(models.PlanBasic, FeatureStudents))
	assert.Equal(t, 20, svc.FeatureLimit(models.PlanBasic, FeatureTeachers))
	assert.Equal(t, 10, svc.FeatureLimit(models.PlanBasic, FeatureStorageGB))
	assert.Equal(t, 1000, svc.FeatureLimit(models.PlanBasic, FeatureAPICallsPerDay))
	assert.Equal(t, 1000, svc.FeatureLimit(models.PlanBasic, FeatureNotificationsPerMonth))

	assert.Equal(t, 500, svc.FeatureLimit(models.PlanProfessional, FeatureStudents))
	assert.Equal(t, 50, svc.FeatureLimit(models.PlanProfessional, FeatureTeachers))
	assert.Equal(t, 50, svc.FeatureLimit(models.PlanProfessional, FeatureStorageGB))
	assert.Equal(t, 5000, svc.FeatureLimit(models.PlanProfessional, FeatureAPICallsPerDay))

	assert.Equal(t, Unlimited, svc.FeatureLimit(models.PlanEnterprise, FeatureStudents))
	assert.Equal(t, Unlimited, svc.FeatureLimit(models.PlanEnterprise, FeatureTeachers))
	assert.Equal(t, 500, svc.FeatureLimit(models.PlanEnterprise, FeatureStorageGB))
	assert.Equal(t, 50000, svc.FeatureLimit(models.PlanEnterprise, FeatureAPICallsPerDay))

	// Unknown feature or plan resolves to 0.
	assert.Equal(t, 0, svc.FeatureLimit(models.PlanBasic, "holograms"))
	assert.Equal(t, 0, svc.FeatureLimit("platinum", FeatureStudents))
}

func TestCanUse(t *testing.T) {
	svc := NewEntitlementService()

	// Below, at, and over the cap.
	assert.True(t, svc.CanUse(models.PlanBasic, FeatureStudents, 99))
	assert.False(t, svc.CanUse(models.PlanBasic, FeatureStudents, 100))
	assert.False(t, svc.CanUse(models.PlanBasic, FeatureStudents, 150))

	// Unlimited admits any usage.
	assert.True(t, svc.CanUse(models.PlanEnterprise, FeatureStudents, 0))
	assert.True(t, svc.CanUse(models.PlanEnterprise, FeatureStudents, 1_000_000))

	// Unknown features admit nothing.
	assert.False(t, svc.CanUse(models.PlanBasic, "holograms", 0))
}

func TestLimitsReturnsCopy(t *testing.T) {
	svc := NewEntitlementService()

	limits := svc.Limits(models.PlanBasic)
	limits[FeatureStudents] = 9999

	assert.Equal(t, 100, svc.FeatureLimit(models.PlanBasic, FeatureStudents))
}
