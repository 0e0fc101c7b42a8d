package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHasCapability(t *testing.T) {
	teacher := &Identity{Role: RoleTeacher}
	assert.True(t, teacher.HasCapability(CapTakeAttendance))
	assert.False(t, teacher.HasCapability(CapManageFees))

	unknown := &Identity{Role: "janitor"}
	assert.False(t, unknown.HasCapability(CapViewOwnData))
}

func TestRoleCapabilitiesCoversAllRoles(t *testing.T) {
	table := RoleCapabilities()
	for _, role := range []string{RoleSuperAdmin, RoleAdmin, RoleTeacher, RoleStudent, RoleParent, RoleStaff} {
		assert.NotEmpty(t, table[role], role)
	}
}

func TestIsLocked(t *testing.T) {
	now := time.Now()
	identity := &Identity{Status: StatusActive}
	assert.False(t, identity.IsLocked(now))

	past := now.Add(-time.Minute)
	identity.LockedUntil = &past
	assert.False(t, identity.IsLocked(now))

	future := now.Add(time.Minute)
	identity.LockedUntil = &future
	assert.True(t, identity.IsLocked(now))
}

func TestPatchApply(t *testing.T) {
	identity := &Identity{FirstName: "Ada", Role: RoleStudent, Status: StatusActive}

	name := "Grace"
	role := RoleTeacher
	patch := IdentityPatch{FirstName: &name, Role: &role}
	patch.Apply(identity)

	assert.Equal(t, "Grace", identity.FirstName)
	assert.Equal(t, RoleTeacher, identity.Role)
	assert.Equal(t, StatusActive, identity.Status)
}
