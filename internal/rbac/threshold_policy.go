package rbac

import (
	"fmt"
	"math"
	"sort"

	"approval-workflow-service/internal/models"
)

// ChainRules holds the category rules that sit next to the ceiling table
type ChainRules struct {
	// Monetary categories carry an amount and are chained by ceiling.
	Monetary map[models.EntityType]bool
	// FixedChains is the chain of a non-monetary category. An empty chain
	// means the category needs no approval.
	FixedChains map[models.EntityType][]models.Role
	// Overlays force a minimum approver role onto a monetary chain.
	Overlays map[models.EntityType]models.Role
}

// DefaultChainRules returns the rules used in production
func DefaultChainRules() ChainRules {
	return ChainRules{
		Monetary: map[models.EntityType]bool{
			models.EntityExpense:         true,
			models.EntitySafeTransaction: true,
			models.EntityPayrollRun:      true,
		},
		FixedChains: map[models.EntityType][]models.Role{
			models.EntityTask: {models.RoleProjectManager},
		},
		Overlays: map[models.EntityType]models.Role{
			models.EntitySafeTransaction: models.RoleAreaManager,
			models.EntityPayrollRun:      models.RolePMODirector,
		},
	}
}

// ThresholdPolicy maps {role, category} to an approval ceiling. It is
// immutable once built.
type ThresholdPolicy struct {
	ceilings map[models.EntityType]map[models.Role]float64
	ladders  map[models.EntityType][]models.Role
	rules    ChainRules
}

// NewThresholdPolicy builds a policy from ceiling rows. The top role is always
// unbounded for monetary categories.
func NewThresholdPolicy(rows []models.RoleThreshold, rules ChainRules) (*ThresholdPolicy, error) {
	p := &ThresholdPolicy{
		ceilings: make(map[models.EntityType]map[models.Role]float64),
		ladders:  make(map[models.EntityType][]models.Role),
		rules:    rules,
	}

	for _, row := range rows {
		if !row.Role.IsValid() {
			return nil, fmt.Errorf("%w: unknown role %q", ErrPolicyMisconfigured, row.Role)
		}
		if !row.EntityType.IsValid() {
			return nil, fmt.Errorf("%w: unknown entity type %q", ErrPolicyMisconfigured, row.EntityType)
		}

		var ceiling float64
		switch {
		case row.Unbounded:
			ceiling = math.Inf(1)
		case row.Ceiling == nil:
			continue
		case *row.Ceiling < 0:
			return nil, fmt.Errorf("%w: negative ceiling for %s/%s", ErrPolicyMisconfigured, row.Role, row.EntityType)
		default:
			ceiling = *row.Ceiling
		}

		if row.Role == models.TopRole && !math.IsInf(ceiling, 1) {
			return nil, fmt.Errorf("%w: %s must be unbounded for %s", ErrPolicyMisconfigured, models.TopRole, row.EntityType)
		}

		if p.ceilings[row.EntityType] == nil {
			p.ceilings[row.EntityType] = make(map[models.Role]float64)
		}
		p.ceilings[row.EntityType][row.Role] = ceiling
	}

	for category, monetary := range rules.Monetary {
		if !monetary {
			continue
		}
		if p.ceilings[category] == nil {
			p.ceilings[category] = make(map[models.Role]float64)
		}
		p.ceilings[category][models.TopRole] = math.Inf(1)
	}

	for category, byRole := range p.ceilings {
		ladder := make([]models.Role, 0, len(byRole))
		for role := range byRole {
			ladder = append(ladder, role)
		}
		sort.Slice(ladder, func(i, j int) bool {
			ci, cj := byRole[ladder[i]], byRole[ladder[j]]
			if ci != cj {
				return ci < cj
			}
			return ladder[i].Level() < ladder[j].Level()
		})

		// Ceilings must not shrink as role level grows.
		for i := 1; i < len(ladder); i++ {
			if ladder[i].Level() < ladder[i-1].Level() {
				return nil, fmt.Errorf("%w: %s outranks %s but has a lower ceiling for %s",
					ErrPolicyMisconfigured, ladder[i-1], ladder[i], category)
			}
		}
		p.ladders[category] = ladder
	}

	for category, role := range rules.Overlays {
		if !rules.Monetary[category] {
			return nil, fmt.Errorf("%w: overlay on non-monetary category %s", ErrPolicyMisconfigured, category)
		}
		if _, ok := p.ceilings[category][role]; !ok {
			return nil, fmt.Errorf("%w: overlay role %s has no ceiling for %s", ErrPolicyMisconfigured, role, category)
		}
	}

	return p, nil
}

// ThresholdFor returns the ceiling of role for category. ok is false when the
// role cannot approve the category at all.
func (p *ThresholdPolicy) ThresholdFor(role models.Role, category models.EntityType) (float64, bool) {
	ceiling, ok := p.ceilings[category][role]
	return ceiling, ok
}

// RolesByAscendingCeiling returns the roles holding a ceiling for category,
// cheapest first
func (p *ThresholdPolicy) RolesByAscendingCeiling(category models.EntityType) []models.Role {
	ladder := p.ladders[category]
	out := make([]models.Role, len(ladder))
	copy(out, ladder)
	return out
}

// IsMonetary reports whether the category is chained by amount
func (p *ThresholdPolicy) IsMonetary(category models.EntityType) bool {
	return p.rules.Monetary[category]
}

// FixedChain returns the chain of a non-monetary category
func (p *ThresholdPolicy) FixedChain(category models.EntityType) ([]models.Role, bool) {
	chain, ok := p.rules.FixedChains[category]
	if !ok {
		return nil, false
	}
	out := make([]models.Role, len(chain))
	copy(out, chain)
	return out, true
}

// Overlay returns the minimum role forced onto every chain of category
func (p *ThresholdPolicy) Overlay(category models.EntityType) (models.Role, bool) {
	role, ok := p.rules.Overlays[category]
	return role, ok
}

// DefaultThresholds is the seed ceiling table
func DefaultThresholds() []models.RoleThreshold {
	ceiling := func(v float64) *float64 { return &v }
	return []models.RoleThreshold{
		{Role: models.RoleZoneManager, EntityType: models.EntityExpense, Ceiling: ceiling(1000)},
		{Role: models.RoleProjectManager, EntityType: models.EntityExpense, Ceiling: ceiling(5000)},
		{Role: models.RoleAreaManager, EntityType: models.EntityExpense, Ceiling: ceiling(20000)},
		{Role: models.RoleSuperAdmin, EntityType: models.EntityExpense, Unbounded: true},

		{Role: models.RoleProjectManager, EntityType: models.EntitySafeTransaction, Ceiling: ceiling(2000)},
		{Role: models.RoleAreaManager, EntityType: models.EntitySafeTransaction, Ceiling: ceiling(10000)},
		{Role: models.RolePMODirector, EntityType: models.EntitySafeTransaction, Ceiling: ceiling(50000)},
		{Role: models.RoleSuperAdmin, EntityType: models.EntitySafeTransaction, Unbounded: true},

		{Role: models.RoleAreaManager, EntityType: models.EntityPayrollRun, Ceiling: ceiling(50000)},
		{Role: models.RolePMODirector, EntityType: models.EntityPayrollRun, Ceiling: ceiling(250000)},
		{Role: models.RoleSuperAdmin, EntityType: models.EntityPayrollRun, Unbounded: true},
	}
}
