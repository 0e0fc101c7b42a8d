package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"school-access-service/internal/models"
)

const tenantColumns = `
	id, name, slug, email, phone, school_name, school_type,
	subscription_plan, subscription_status, subscription_start_at,
	subscription_end_at, trial_end_at, is_active, created_at, updated_at`

// TenantRepository persists tenants (schools) in PostgreSQL.
type TenantRepository struct {
	db *sql.DB
}

func NewTenantRepository(db *sql.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

func (r *TenantRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`
	return r.scanTenant(r.db.QueryRowContext(ctx, query, id))
}

func (r *TenantRepository) GetBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE slug = $1 LIMIT 1`
	return r.scanTenant(r.db.QueryRowContext(ctx, query, slug))
}

func (r *TenantRepository) Create(ctx context.Context, tenant *models.Tenant) error {
	query := `
		INSERT INTO tenants (id, name, slug, email, phone, school_name, school_type,
			subscription_plan, subscription_status, subscription_start_at,
			subscription_end_at, trial_end_at, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	now := time.Now()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		tenant.ID, tenant.Name, tenant.Slug, tenant.Email, tenant.Phone,
		tenant.SchoolName, tenant.SchoolType, tenant.SubscriptionPlan,
		tenant.SubscriptionStatus, tenant.SubscriptionStartAt,
		tenant.SubscriptionEndAt, tenant.TrialEndAt, tenant.IsActive,
		tenant.CreatedAt, tenant.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return models.ErrDuplicate
	}
	return err
}

func (r *TenantRepository) List(ctx context.Context, limit, offset int) ([]models.Tenant, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `SELECT ` + tenantColumns + `
		FROM tenants ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.collectTenants(rows)
}

func (r *TenantRepository) UpdateSubscriptionStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `
		UPDATE tenants
		SET subscription_status = $2,
			is_active = ($2 IN ('trial', 'active')),
			updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// ListExpiringWithin returns tenants whose trial or subscription window
// closes within the given duration. Used by the expiry-warning sweeper.
func (r *TenantRepository) ListExpiringWithin(ctx context.Context, within time.Duration) ([]models.Tenant, error) {
	query := `SELECT ` + tenantColumns + `
		FROM tenants
		WHERE (subscription_status = 'trial'
				AND trial_end_at IS NOT NULL
				AND trial_end_at BETWEEN NOW() AND NOW() + ($1 * interval '1 second'))
			OR (subscription_status = 'active'
				AND subscription_end_at IS NOT NULL
				AND subscription_end_at BETWEEN NOW() AND NOW() + ($1 * interval '1 second'))
		ORDER BY COALESCE(trial_end_at, subscription_end_at)`

	rows, err := r.db.QueryContext(ctx, query, int(within.Seconds()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.collectTenants(rows)
}

func (r *TenantRepository) collectTenants(rows *sql.Rows) ([]models.Tenant, error) {
	var tenants []models.Tenant
	for rows.Next() {
		tenant, err := r.scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, *tenant)
	}
	return tenants, rows.Err()
}

func (r *TenantRepository) scanTenant(row rowScanner) (*models.Tenant, error) {
	tenant := &models.Tenant{}
	var (
		phone             sql.NullString
		schoolType        sql.NullString
		subscriptionEndAt sql.NullTime
		trialEndAt        sql.NullTime
	)

	err := row.Scan(
		&tenant.ID, &tenant.Name, &tenant.Slug, &tenant.Email, &phone,
		&tenant.SchoolName, &schoolType, &tenant.SubscriptionPlan,
		&tenant.SubscriptionStatus, &tenant.SubscriptionStartAt,
		&subscriptionEndAt, &trialEndAt, &tenant.IsActive,
		&tenant.CreatedAt, &tenant.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}

	if phone.Valid {
		tenant.Phone = &phone.String
	}
	if schoolType.Valid {
		tenant.SchoolType = &schoolType.String
	}
	if subscriptionEndAt.Valid {
		tenant.SubscriptionEndAt = &subscriptionEndAt.Time
	}
	if trialEndAt.Valid {
		tenant.TrialEndAt = &trialEndAt.Time
	}

	return tenant, nil
}
