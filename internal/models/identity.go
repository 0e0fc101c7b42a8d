package models

import (
	"time"

	"github.com/google/uuid"
)

// Identity represents a principal in the system. Every identity except a
// super admin is bound to exactly one tenant (school).
type Identity struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	TenantID      *uuid.UUID `json:"tenant_id,omitempty" db:"tenant_id"`
	Email         string     `json:"email" db:"email"`
	Username      *string    `json:"username,omitempty" db:"username"`
	PasswordHash  string     `json:"-" db:"password_hash"`
	FirstName     string     `json:"first_name" db:"first_name"`
	LastName      string     `json:"last_name" db:"last_name"`
	Phone         *string    `json:"phone,omitempty" db:"phone"`
	Role          string     `json:"role" db:"role"`
	Status        string     `json:"status" db:"status"`
	EmailVerified bool       `json:"email_verified" db:"email_verified"`

	// Email verification / password reset tokens. Never exposed.
	VerificationToken   *string    `json:"-" db:"verification_token"`
	PasswordResetToken  *string    `json:"-" db:"password_reset_token"`
	PasswordResetExpiry *time.Time `json:"-" db:"password_reset_expires"`

	// Brute-force lockout state.
	FailedLoginAttempts int        `json:"-" db:"failed_login_attempts"`
	LockedUntil         *time.Time `json:"-" db:"locked_until"`

	// 2FA state.
	TwoFactorEnabled bool   `json:"two_factor_enabled" db:"two_factor_enabled"`
	TOTPSecret       string `json:"-" db:"totp_secret"`

	LastLoginAt *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Identity roles. Closed set; super_admin is the only role without a tenant.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleTeacher    = "teacher"
	RoleStudent    = "student"
	RoleParent     = "parent"
	RoleStaff      = "staff"
)

// Identity statuses. Identities are never hard-deleted; deactivation is a
// transition to inactive.
const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"
	StatusPending   = "pending"
)

// Roles returns all assignable roles.
func Roles() []string {
	return []string{RoleSuperAdmin, RoleAdmin, RoleTeacher, RoleStudent, RoleParent, RoleStaff}
}

// IsValidRole reports whether role is a member of the closed role set.
func IsValidRole(role string) bool {
	switch role {
	case RoleSuperAdmin, RoleAdmin, RoleTeacher, RoleStudent, RoleParent, RoleStaff:
		return true
	}
	return false
}

// FullName returns the identity's display name.
func (i *Identity) FullName() string {
	return i.FirstName + " " + i.LastName
}

// IsActive reports whether the identity may use the system at all.
func (i *Identity) IsActive() bool {
	return i.Status == StatusActive
}

// IsLocked reports whether the lockout window is still open at now.
func (i *Identity) IsLocked(now time.Time) bool {
	return i.LockedUntil != nil && now.Before(*i.LockedUntil)
}

// Capabilities
//
// Each role maps to a fixed set of named capabilities. The table is built
// once and never mutated at runtime; callers receive the shared map and must
// treat it as read-only.

const (
	// Platform level
	CapManagePlatform      = "manage_platform"
	CapManageTenants       = "manage_tenants"
	CapManageSubscriptions = "manage_subscriptions"
	CapViewAllData         = "view_all_data"
	CapManageUsers         = "manage_users"
	CapManageSystem        = "manage_system"

	// School administration
	CapManageSchool    = "manage_school"
	CapManageStudents  = "manage_students"
	CapManageTeachers  = "manage_teachers"
	CapManageStaff     = "manage_staff"
	CapViewReports     = "view_reports"
	CapManageFees      = "manage_fees"
	CapManageHostel    = "manage_hostel"
	CapManageTransport = "manage_transport"

	// Teaching
	CapManageClasses       = "manage_classes"
	CapTakeAttendance      = "take_attendance"
	CapGradeAssignments    = "grade_assignments"
	CapViewStudentProgress = "view_student_progress"
	CapCreateAssignments   = "create_assignments"
	CapSendNotifications   = "send_notifications"

	// Student
	CapViewOwnData       = "view_own_data"
	CapSubmitAssignments = "submit_assignments"
	CapViewGrades        = "view_grades"
	CapViewSchedule      = "view_schedule"
	CapViewAttendance    = "view_attendance"

	// Parent
	CapViewChildData        = "view_child_data"
	CapViewChildGrades      = "view_child_grades"
	CapViewChildAttendance  = "view_child_attendance"
	CapPayFees              = "pay_fees"
	CapReceiveNotifications = "receive_notifications"

	// Staff
	CapManageAttendance = "manage_attendance"
)

// RoleCapabilities returns the role -> capability table.
func RoleCapabilities() map[string][]string {
	return map[string][]string{
		RoleSuperAdmin: {
			CapManagePlatform, CapManageTenants, CapManageSubscriptions,
			CapViewAllData, CapManageUsers, CapManageSystem,
		},
		RoleAdmin: {
			CapManageSchool, CapManageStudents, CapManageTeachers,
			CapManageStaff, CapViewReports, CapManageFees,
			CapManageHostel, CapManageTransport,
		},
		RoleTeacher: {
			CapManageClasses, CapManageStudents, CapTakeAttendance,
			CapGradeAssignments, CapViewStudentProgress,
			CapCreateAssignments, CapSendNotifications,
		},
		RoleStudent: {
			CapViewOwnData, CapSubmitAssignments, CapViewGrades,
			CapViewSchedule, CapViewAttendance,
		},
		RoleParent: {
			CapViewChildData, CapViewChildGrades, CapViewChildAttendance,
			CapPayFees, CapReceiveNotifications,
		},
		RoleStaff: {
			CapManageAttendance, CapManageFees, CapViewReports,
			CapSendNotifications,
		},
	}
}

// HasCapability reports whether the identity's role grants the named
// capability. Finer-grained than role-set membership; used by handlers that
// need capability-level checks.
func (i *Identity) HasCapability(capability string) bool {
	for _, c := range RoleCapabilities()[i.Role] {
		if c == capability {
			return true
		}
	}
	return false
}

// IdentityPatch is a typed partial update. Nil fields are left untouched;
// Apply merges field-by-field so there is no dynamic attribute dispatch.
type IdentityPatch struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Username  *string `json:"username,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Status    *string `json:"status,omitempty"`
	Role      *string `json:"role,omitempty"`
}

// Apply merges the patch into the identity.
func (p IdentityPatch) Apply(i *Identity) {
	if p.FirstName != nil {
		i.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		i.LastName = *p.LastName
	}
	if p.Username != nil {
		i.Username = p.Username
	}
	if p.Phone != nil {
		i.Phone = p.Phone
	}
	if p.Status != nil {
		i.Status = *p.Status
	}
	if p.Role != nil {
		i.Role = *p.Role
	}
}

// Profile is the public projection of an identity returned to callers.
// It never carries the password hash or token columns.
type Profile struct {
	ID            uuid.UUID  `json:"id"`
	TenantID      *uuid.UUID `json:"tenant_id,omitempty"`
	Email         string     `json:"email"`
	Username      *string    `json:"username,omitempty"`
	FirstName     string     `json:"first_name"`
	LastName      string     `json:"last_name"`
	Role          string     `json:"role"`
	Status        string     `json:"status"`
	EmailVerified bool       `json:"email_verified"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
}

// Profile returns the public projection.
func (i *Identity) Profile() *Profile {
	return &Profile{
		ID:            i.ID,
		TenantID:      i.TenantID,
		Email:         i.Email,
		Username:      i.Username,
		FirstName:     i.FirstName,
		LastName:      i.LastName,
		Role:          i.Role,
		Status:        i.Status,
		EmailVerified: i.EmailVerified,
		LastLoginAt:   i.LastLoginAt,
	}
}
