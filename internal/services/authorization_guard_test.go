package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"approval-workflow-service/internal/cache"
	"approval-workflow-service/internal/models"
	"approval-workflow-service/internal/rbac"
)

type failingScopes struct{ err error }

func (f failingScopes) ScopeOf(ctx context.Context, user *models.User) (rbac.Scope, error) {
	return nil, f.err
}

func TestCanAct_RoleAndScopeMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := pendingWorkflow(models.EntityExpense, f.zoneA1, floatPtr(2250), models.RoleProjectManager)

	assert.NoError(t, f.guard.CanAct(ctx, f.projectManager, wf, models.DecisionApprove))
	assert.NoError(t, f.guard.CanAct(ctx, f.projectManager, wf, models.DecisionReject))
	assert.True(t, f.guard.Allowed(ctx, f.projectManager, wf, models.DecisionApprove))
}

func TestCanAct_RoleMismatchDeniedEvenInScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := pendingWorkflow(models.EntityExpense, f.zoneA1, floatPtr(2250), models.RoleProjectManager)

	// The area manager's scope covers zoneA1 and their ceiling covers the amount.
	for _, decision := range []models.Decision{models.DecisionApprove, models.DecisionReject} {
		err := f.guard.CanAct(ctx, f.areaManager, wf, decision)
		require.ErrorIs(t, err, ErrUnauthorized)

		approvalErr, ok := AsApprovalError(err)
		require.True(t, ok)
		require.NotNil(t, approvalErr.RequiredRole)
		assert.Equal(t, models.RoleProjectManager, *approvalErr.RequiredRole)
		assert.Equal(t, wf.ID, *approvalErr.WorkflowID)
	}
}

func TestCanAct_ScopeMismatchDeniedEvenWithRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := pendingWorkflow(models.EntityExpense, f.zoneA1, floatPtr(2250), models.RoleProjectManager)

	for _, decision := range []models.Decision{models.DecisionApprove, models.DecisionReject} {
		err := f.guard.CanAct(ctx, f.outsiderPM, wf, decision)
		assert.ErrorIs(t, err, ErrUnauthorized)
	}
}

func TestCanAct_ThresholdOnlyCheckedOnApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// Not produced by ChainBuilder; guards against a mid-tier role reaching a
	// workflow above its ceiling.
	wf := pendingWorkflow(models.EntityExpense, f.projectA, floatPtr(25000), models.RoleAreaManager)

	err := f.guard.CanAct(ctx, f.areaManager, wf, models.DecisionApprove)
	require.ErrorIs(t, err, ErrThresholdExceeded)
	approvalErr, ok := AsApprovalError(err)
	require.True(t, ok)
	require.NotNil(t, approvalErr.RequiredThreshold)
	assert.Equal(t, 25000.0, *approvalErr.RequiredThreshold)

	assert.NoError(t, f.guard.CanAct(ctx, f.areaManager, wf, models.DecisionReject))
}

func TestCanAct_NonMonetaryCategoryIgnoresStoredAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// Tasks have no ceilings, so a stored amount is not a spending limit.
	wf := pendingWorkflow(models.EntityTask, f.zoneA1, floatPtr(100), models.RoleProjectManager)

	assert.NoError(t, f.guard.CanAct(ctx, f.projectManager, wf, models.DecisionApprove))
}

func TestCanAct_BoundaryAmountIsApprovable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := pendingWorkflow(models.EntityExpense, f.projectA, floatPtr(5000), models.RoleProjectManager)

	assert.NoError(t, f.guard.CanAct(ctx, f.projectManager, wf, models.DecisionApprove))

	wf.Amount = floatPtr(5000.01)
	assert.ErrorIs(t, f.guard.CanAct(ctx, f.projectManager, wf, models.DecisionApprove), ErrThresholdExceeded)
}

func TestCanAct_RoleWithoutCeilingCannotApproveAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// Project managers hold no payroll ceiling at all.
	wf := pendingWorkflow(models.EntityPayrollRun, f.projectA, floatPtr(10), models.RoleProjectManager)

	assert.ErrorIs(t, f.guard.CanAct(ctx, f.projectManager, wf, models.DecisionApprove), ErrThresholdExceeded)
	assert.NoError(t, f.guard.CanAct(ctx, f.projectManager, wf, models.DecisionReject))
}

func TestCanAct_NonMonetarySkipsThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := pendingWorkflow(models.EntityTask, f.zoneA1, nil, models.RoleProjectManager)

	assert.NoError(t, f.guard.CanAct(ctx, f.projectManager, wf, models.DecisionApprove))
}

func TestCanAct_TopRoleSeesEveryUnit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := pendingWorkflow(models.EntityExpense, f.projectB, floatPtr(1e7), models.RoleSuperAdmin)

	assert.NoError(t, f.guard.CanAct(ctx, f.superAdmin, wf, models.DecisionApprove))
}

func TestCanAct_TerminalWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := pendingWorkflow(models.EntityTask, f.zoneA1, nil, models.RoleProjectManager)
	wf.Status = models.WorkflowApproved
	wf.CurrentApproverRole = nil

	assert.ErrorIs(t, f.guard.CanAct(ctx, f.projectManager, wf, models.DecisionApprove), ErrInvalidState)
}

func TestCanAct_ScopeResolverFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resolverErr := errors.New("hierarchy unavailable")
	guard := NewAuthorizationGuard(f.policy, failingScopes{err: resolverErr})
	wf := pendingWorkflow(models.EntityTask, f.zoneA1, nil, models.RoleProjectManager)

	err := guard.CanAct(ctx, f.projectManager, wf, models.DecisionApprove)
	assert.ErrorIs(t, err, resolverErr)
	assert.False(t, guard.Allowed(ctx, f.projectManager, wf, models.DecisionApprove))
}

func TestCachedScopeResolver_WithoutCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	scope, err := f.scopes.ScopeOf(ctx, f.projectManager)
	require.NoError(t, err)
	assert.True(t, scope.Contains(f.projectA))
	assert.True(t, scope.Contains(f.zoneA1))
	assert.False(t, scope.Contains(f.areaNorth))

	scope, err = f.scopes.ScopeOf(ctx, nil)
	require.NoError(t, err)
	assert.True(t, scope.IsEmpty())
}

// redisGuard returns a guard whose scopes are cached in an in-process Redis
func redisGuard(t *testing.T, f *fixture) (*AuthorizationGuard, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })

	scopes := NewCachedScopeResolver(f.hierarchy, cache.NewScopeCache(client, 5*time.Minute), nil)
	return NewAuthorizationGuard(f.policy, scopes), server
}

func TestCachedScope_RemovedAssignmentIsNotHonoured(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	guard, server := redisGuard(t, f)

	pm := newUser(models.RoleProjectManager, f.projectA)
	pm.Assignments = []models.UserOrgAssignment{{UserID: pm.ID, OrgUnitID: f.projectB}}
	wf := pendingWorkflow(models.EntityExpense, f.projectB, floatPtr(2250), models.RoleProjectManager)

	require.NoError(t, guard.CanAct(ctx, pm, wf, models.DecisionApprove))
	assert.Len(t, server.Keys(), 1)

	// Served from the cache while nothing changed.
	require.NoError(t, guard.CanAct(ctx, pm, wf, models.DecisionApprove))
	assert.Len(t, server.Keys(), 1)

	pm.Assignments = nil
	assert.ErrorIs(t, guard.CanAct(ctx, pm, wf, models.DecisionApprove), ErrUnauthorized)
}

func TestCachedScope_DemotedTopRoleLosesGlobalScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	guard, _ := redisGuard(t, f)

	admin := newUser(models.RoleSuperAdmin, f.pmo)
	top := pendingWorkflow(models.EntityExpense, f.projectB, floatPtr(25000), models.RoleSuperAdmin)
	require.NoError(t, guard.CanAct(ctx, admin, top, models.DecisionApprove))

	admin.Role = models.RoleProjectManager
	admin.PrimaryOrgUnitID = f.projectA
	wf := pendingWorkflow(models.EntityExpense, f.projectB, floatPtr(2250), models.RoleProjectManager)

	assert.ErrorIs(t, guard.CanAct(ctx, admin, wf, models.DecisionApprove), ErrUnauthorized)
}

func TestCachedScope_FollowsHierarchyReplacement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	guard, _ := redisGuard(t, f)

	wf := pendingWorkflow(models.EntityExpense, f.zoneA1, floatPtr(15000), models.RoleAreaManager)
	require.NoError(t, guard.CanAct(ctx, f.areaManager, wf, models.DecisionApprove))

	// Move project A under the south area.
	moved := append([]models.OrgUnit(nil), f.units...)
	for i := range moved {
		if moved[i].ID == f.projectA {
			moved[i].ParentID = &f.areaSouth
		}
	}
	next, err := rbac.NewOrgHierarchy(moved)
	require.NoError(t, err)
	f.hierarchy.Replace(next)

	assert.ErrorIs(t, guard.CanAct(ctx, f.areaManager, wf, models.DecisionApprove), ErrUnauthorized)
}

func TestCachedScope_RedisOutageFallsBackToHierarchy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	guard, server := redisGuard(t, f)
	server.Close()

	wf := pendingWorkflow(models.EntityExpense, f.zoneA1, floatPtr(2250), models.RoleProjectManager)
	assert.NoError(t, guard.CanAct(ctx, f.projectManager, wf, models.DecisionApprove))
	assert.ErrorIs(t, guard.CanAct(ctx, f.outsiderPM, wf, models.DecisionApprove), ErrUnauthorized)
}

func TestScopeFingerprint_IgnoresAssignmentOrder(t *testing.T) {
	f := newFixture(t)
	user := newUser(models.RoleProjectManager, f.projectA)
	user.Assignments = []models.UserOrgAssignment{{OrgUnitID: f.projectB}, {OrgUnitID: f.zoneA1}}
	swapped := *user
	swapped.Assignments = []models.UserOrgAssignment{{OrgUnitID: f.zoneA1}, {OrgUnitID: f.projectB}}

	version := f.hierarchy.Current().Version()
	assert.Equal(t, scopeFingerprint(user, version), scopeFingerprint(&swapped, version))
	assert.NotEqual(t, scopeFingerprint(user, version), scopeFingerprint(user, version+1))
}
