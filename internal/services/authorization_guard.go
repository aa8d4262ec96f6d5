package services

import (
	"bytes"
	"context"
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"approval-workflow-service/internal/cache"
	"approval-workflow-service/internal/models"
	"approval-workflow-service/internal/rbac"
)

// AuthorizationGuard decides whether a user may act on the active step of a
// workflow. Role and scope are checked independently and both must pass.
type AuthorizationGuard struct {
	policy *rbac.ThresholdPolicy
	scopes ScopeResolver
}

// NewAuthorizationGuard creates a new AuthorizationGuard
func NewAuthorizationGuard(policy *rbac.ThresholdPolicy, scopes ScopeResolver) *AuthorizationGuard {
	return &AuthorizationGuard{
		policy: policy,
		scopes: scopes,
	}
}

// CanAct returns nil when user may take decision on workflow. REJECT never
// needs spending authority.
func (g *AuthorizationGuard) CanAct(ctx context.Context, user *models.User, workflow *models.ApprovalWorkflow, decision models.Decision) error {
	if !decision.IsValid() {
		return invalidState("unknown decision %q", decision).withWorkflow(workflow.ID)
	}
	if workflow.Status != models.WorkflowPending || workflow.CurrentApproverRole == nil {
		return invalidState("workflow is already %s", workflow.Status).withWorkflow(workflow.ID)
	}

	required := *workflow.CurrentApproverRole
	if user.Role != required {
		return unauthorized("role %s cannot act on this step", user.Role).
			withWorkflow(workflow.ID).
			withRole(required)
	}

	scope, err := g.scopes.ScopeOf(ctx, user)
	if err != nil {
		return err
	}
	if !scope.Contains(workflow.OrgUnitID) {
		return unauthorized("org unit %s is outside the user's scope", workflow.OrgUnitID).
			withWorkflow(workflow.ID).
			withRole(required)
	}

	if decision == models.DecisionApprove && g.policy.IsMonetary(workflow.EntityType) && workflow.Amount != nil {
		ceiling, ok := g.policy.ThresholdFor(user.Role, workflow.EntityType)
		if !ok || ceiling < *workflow.Amount {
			return thresholdExceeded("amount %.2f exceeds the %s ceiling for %s", *workflow.Amount, user.Role, workflow.EntityType).
				withWorkflow(workflow.ID).
				withRole(required).
				withThreshold(workflow.Amount)
		}
	}

	return nil
}

// Allowed is CanAct reduced to a yes/no answer
func (g *AuthorizationGuard) Allowed(ctx context.Context, user *models.User, workflow *models.ApprovalWorkflow, decision models.Decision) bool {
	return g.CanAct(ctx, user, workflow, decision) == nil
}

// CachedScopeResolver resolves scopes from the hierarchy snapshot and keeps
// the result in Redis. Entries are keyed by a fingerprint of the user's role,
// units and the snapshot version, so a changed user or tree never reads a
// stale scope. Cache failures fall through to the hierarchy.
type CachedScopeResolver struct {
	hierarchy HierarchyProvider
	cache     *cache.ScopeCache
	logger    *logrus.Entry
}

// NewCachedScopeResolver creates a scope resolver. scopeCache may be nil.
func NewCachedScopeResolver(hierarchy HierarchyProvider, scopeCache *cache.ScopeCache, logger *logrus.Logger) *CachedScopeResolver {
	if logger == nil {
		logger = logrus.New()
	}
	return &CachedScopeResolver{
		hierarchy: hierarchy,
		cache:     scopeCache,
		logger:    logger.WithField("component", "scope-resolver"),
	}
}

// ScopeOf returns the user's scope
func (r *CachedScopeResolver) ScopeOf(ctx context.Context, user *models.User) (rbac.Scope, error) {
	if user == nil {
		return rbac.Scope{}, nil
	}

	hierarchy := r.hierarchy.Current()
	fingerprint := scopeFingerprint(user, hierarchy.Version())

	ids, found, err := r.cache.Get(ctx, user.ID, fingerprint)
	if err != nil {
		r.logger.WithError(err).WithField("user_id", user.ID).Warn("Scope cache read failed")
	} else if found {
		return rbac.NewScope(ids...), nil
	}

	scope := hierarchy.ScopeOf(user)
	if err := r.cache.Set(ctx, user.ID, fingerprint, scope.IDs()); err != nil {
		r.logger.WithError(err).WithField("user_id", user.ID).Warn("Scope cache write failed")
	}
	return scope, nil
}

// scopeFingerprint hashes every input of OrgHierarchy.ScopeOf
func scopeFingerprint(user *models.User, hierarchyVersion uint64) uint64 {
	assigned := make([]uuid.UUID, 0, len(user.Assignments))
	for _, assignment := range user.Assignments {
		assigned = append(assigned, assignment.OrgUnitID)
	}
	sort.Slice(assigned, func(i, j int) bool {
		return bytes.Compare(assigned[i][:], assigned[j][:]) < 0
	})

	var version [8]byte
	binary.BigEndian.PutUint64(version[:], hierarchyVersion)

	d := xxhash.New()
	d.Write(version[:])
	d.WriteString(string(user.Role))
	d.Write([]byte{0})
	d.Write(user.PrimaryOrgUnitID[:])
	for i := range assigned {
		d.Write(assigned[i][:])
	}
	return d.Sum64()
}
