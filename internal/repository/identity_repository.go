package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"school-access-service/internal/models"
)

const identityColumns = `
	id, tenant_id, email, username, password_hash, first_name, last_name,
	phone, role, status, email_verified, verification_token,
	password_reset_token, password_reset_expires, failed_login_attempts,
	locked_until, two_factor_enabled, totp_secret, last_login_at,
	created_at, updated_at`

// IdentityRepository persists identities in PostgreSQL.
type IdentityRepository struct {
	db *sql.DB
}

func NewIdentityRepository(db *sql.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

func (r *IdentityRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM users WHERE id = $1`
	return r.scanIdentity(r.db.QueryRowContext(ctx, query, id))
}

func (r *IdentityRepository) GetByEmail(ctx context.Context, email string) (*models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM users WHERE email = $1 LIMIT 1`
	return r.scanIdentity(r.db.QueryRowContext(ctx, query, email))
}

func (r *IdentityRepository) GetByResetToken(ctx context.Context, token string) (*models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM users WHERE password_reset_token = $1 LIMIT 1`
	return r.scanIdentity(r.db.QueryRowContext(ctx, query, token))
}

func (r *IdentityRepository) GetByVerificationToken(ctx context.Context, token string) (*models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM users WHERE verification_token = $1 LIMIT 1`
	return r.scanIdentity(r.db.QueryRowContext(ctx, query, token))
}

func (r *IdentityRepository) Create(ctx context.Context, identity *models.Identity) error {
	query := `
		INSERT INTO users (id, tenant_id, email, username, password_hash, first_name,
			last_name, phone, role, status, email_verified, verification_token,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	if identity.ID == uuid.Nil {
		identity.ID = uuid.New()
	}
	now := time.Now()
	identity.CreatedAt = now
	identity.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		identity.ID, identity.TenantID, identity.Email, identity.Username,
		identity.PasswordHash, identity.FirstName, identity.LastName,
		identity.Phone, identity.Role, identity.Status, identity.EmailVerified,
		identity.VerificationToken, identity.CreatedAt, identity.UpdatedAt,
	)
	if isUniqueViolation(err) {
		// A concurrent registration won the email/username index.
		return models.ErrDuplicate
	}
	return err
}

func (r *IdentityRepository) Update(ctx context.Context, identity *models.Identity) error {
	query := `
		UPDATE users
		SET username = $2, first_name = $3, last_name = $4, phone = $5,
			role = $6, status = $7, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		identity.ID, identity.Username, identity.FirstName, identity.LastName,
		identity.Phone, identity.Role, identity.Status,
	)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (r *IdentityRepository) List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]models.Identity, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `SELECT ` + identityColumns + `
		FROM users WHERE tenant_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var identities []models.Identity
	for rows.Next() {
		ident, err := r.scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		identities = append(identities, *ident)
	}
	return identities, rows.Err()
}

func (r *IdentityRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username,
	).Scan(&exists)
	return exists, err
}

// RecordLoginFailure bumps the failure counter and arms the lockout window
// in a single statement, so concurrent failed attempts serialize on the row
// and the count survives a crash between the write and the response.
func (r *IdentityRepository) RecordLoginFailure(ctx context.Context, id uuid.UUID, threshold int, lockFor time.Duration) (int, *time.Time, error) {
	query := `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
			locked_until = CASE
				WHEN failed_login_attempts + 1 >= $2 THEN NOW() + ($3 * interval '1 second')
				ELSE locked_until
			END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING failed_login_attempts, locked_until
	`

	var attempts int
	var lockedUntil sql.NullTime
	err := r.db.QueryRowContext(ctx, query, id, threshold, int(lockFor.Seconds())).
		Scan(&attempts, &lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil, models.ErrNotFound
		}
		return 0, nil, err
	}
	if lockedUntil.Valid {
		return attempts, &lockedUntil.Time, nil
	}
	return attempts, nil, nil
}

func (r *IdentityRepository) ResetLoginFailures(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE users
		SET failed_login_attempts = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (r *IdentityRepository) SetLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	return err
}

func (r *IdentityRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, passwordHash)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (r *IdentityRepository) SetPasswordReset(ctx context.Context, id uuid.UUID, token string, expires time.Time) error {
	query := `
		UPDATE users
		SET password_reset_token = $2, password_reset_expires = $3, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, id, token, expires)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (r *IdentityRepository) ClearPasswordReset(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE users
		SET password_reset_token = NULL, password_reset_expires = NULL, updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *IdentityRepository) SetVerificationToken(ctx context.Context, id uuid.UUID, token string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET verification_token = $2, updated_at = NOW() WHERE id = $1`, id, token)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (r *IdentityRepository) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE users
		SET email_verified = TRUE, verification_token = NULL, status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`
	_, err := r.db.ExecContext(ctx, query, id, models.StatusActive, models.StatusPending)
	return err
}

func (r *IdentityRepository) SetTwoFactor(ctx context.Context, id uuid.UUID, enabled bool, secret string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET two_factor_enabled = $2, totp_secret = $3, updated_at = NOW() WHERE id = $1`,
		id, enabled, secret)
	if err != nil {
		return err
	}
	return requireRow(result)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *IdentityRepository) scanIdentity(row rowScanner) (*models.Identity, error) {
	ident := &models.Identity{}
	var (
		tenantID            sql.NullString
		username            sql.NullString
		phone               sql.NullString
		verificationToken   sql.NullString
		passwordResetToken  sql.NullString
		passwordResetExpiry sql.NullTime
		lockedUntil         sql.NullTime
		totpSecret          sql.NullString
		lastLoginAt         sql.NullTime
	)

	err := row.Scan(
		&ident.ID, &tenantID, &ident.Email, &username, &ident.PasswordHash,
		&ident.FirstName, &ident.LastName, &phone, &ident.Role, &ident.Status,
		&ident.EmailVerified, &verificationToken, &passwordResetToken,
		&passwordResetExpiry, &ident.FailedLoginAttempts, &lockedUntil,
		&ident.TwoFactorEnabled, &totpSecret, &lastLoginAt,
		&ident.CreatedAt, &ident.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}

	if tenantID.Valid {
		parsed, err := uuid.Parse(tenantID.String)
		if err != nil {
			return nil, err
		}
		ident.TenantID = &parsed
	}
	if username.Valid {
		ident.Username = &username.String
	}
	if phone.Valid {
		ident.Phone = &phone.String
	}
	if verificationToken.Valid {
		ident.VerificationToken = &verificationToken.String
	}
	if passwordResetToken.Valid {
		ident.PasswordResetToken = &passwordResetToken.String
	}
	if passwordResetExpiry.Valid {
		ident.PasswordResetExpiry = &passwordResetExpiry.Time
	}
	if lockedUntil.Valid {
		ident.LockedUntil = &lockedUntil.Time
	}
	if totpSecret.Valid {
		ident.TOTPSecret = totpSecret.String
	}
	if lastLoginAt.Valid {
		ident.LastLoginAt = &lastLoginAt.Time
	}

	return ident, nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	return nil
}
