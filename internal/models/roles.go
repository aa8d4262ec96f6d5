package models

// Role is an organizational role. Roles are totally ordered by Level.
type Role string

const (
	RoleSiteEngineer   Role = "SITE_ENGINEER"
	RoleZoneManager    Role = "ZONE_MANAGER"
	RoleProjectManager Role = "PROJECT_MANAGER"
	RoleAreaManager    Role = "AREA_MANAGER"
	RolePMODirector    Role = "PMO_DIRECTOR"
	RoleSuperAdmin     Role = "SUPER_ADMIN"
)

// TopRole has an unbounded approval ceiling and sees every org unit.
const TopRole = RoleSuperAdmin

var roleLevels = map[Role]int{
	RoleSiteEngineer:   10,
	RoleZoneManager:    20,
	RoleProjectManager: 30,
	RoleAreaManager:    40,
	RolePMODirector:    50,
	RoleSuperAdmin:     100,
}

// Level returns the hierarchy level of the role, 0 for unknown roles
func (r Role) Level() int {
	return roleLevels[r]
}

// IsValid reports whether r is one of the known roles
func (r Role) IsValid() bool {
	_, ok := roleLevels[r]
	return ok
}

func (r Role) String() string {
	return string(r)
}

// AllRoles returns every role ordered by ascending level
func AllRoles() []Role {
	return []Role{
		RoleSiteEngineer,
		RoleZoneManager,
		RoleProjectManager,
		RoleAreaManager,
		RolePMODirector,
		RoleSuperAdmin,
	}
}

// EntityType is the category of an approvable business object
type EntityType string

const (
	EntityExpense         EntityType = "expense"
	EntityTask            EntityType = "task"
	EntitySafeTransaction EntityType = "safeTransaction"
	EntityPayrollRun      EntityType = "payrollRun"
)

// AllEntityTypes lists every approvable category. Dispatch sites are tested
// against this list.
func AllEntityTypes() []EntityType {
	return []EntityType{
		EntityExpense,
		EntityTask,
		EntitySafeTransaction,
		EntityPayrollRun,
	}
}

// IsValid reports whether t is a known category
func (t EntityType) IsValid() bool {
	switch t {
	case EntityExpense, EntityTask, EntitySafeTransaction, EntityPayrollRun:
		return true
	}
	return false
}

func (t EntityType) String() string {
	return string(t)
}

// Decision is an approver's verdict on the active step
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// IsValid reports whether d is APPROVE or REJECT
func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionReject
}
