package services

import (
	"math"

	"github.com/google/uuid"

	"approval-workflow-service/internal/models"
	"approval-workflow-service/internal/rbac"
)

// MaxAmount is the largest amount the decimal(15,2) amount column holds
const MaxAmount = 9999999999999.99

// ChainLink is one required approver in a chain. Threshold is nil for
// non-monetary categories and for unbounded roles.
type ChainLink struct {
	Role      models.Role `json:"role"`
	Threshold *float64    `json:"threshold,omitempty"`
}

// ChainBuilder computes the ordered approver chain of a new workflow
type ChainBuilder struct {
	policy    *rbac.ThresholdPolicy
	hierarchy HierarchyProvider
}

// NewChainBuilder creates a new ChainBuilder
func NewChainBuilder(policy *rbac.ThresholdPolicy, hierarchy HierarchyProvider) *ChainBuilder {
	return &ChainBuilder{
		policy:    policy,
		hierarchy: hierarchy,
	}
}

// Build returns the chain for category. Monetary categories get the cheapest
// role whose ceiling covers amount (inclusive), followed by the category
// overlay when it outranks that role. An empty chain means no approval is
// required.
func (b *ChainBuilder) Build(category models.EntityType, amount *float64, orgUnitID uuid.UUID) ([]ChainLink, error) {
	if !b.hierarchy.Current().Exists(orgUnitID) {
		return nil, notFound("org unit %s not found", orgUnitID)
	}

	if !category.IsValid() {
		return nil, configuration(nil, "unknown entity type %q", category)
	}

	if !b.policy.IsMonetary(category) {
		if amount != nil {
			return nil, invalidState("%s does not carry an amount", category)
		}
		roles, ok := b.policy.FixedChain(category)
		if !ok {
			return nil, configuration(nil, "no chain rule defined for %s", category)
		}
		chain := make([]ChainLink, 0, len(roles))
		for _, role := range roles {
			chain = append(chain, ChainLink{Role: role})
		}
		return chain, nil
	}

	if amount == nil || *amount <= 0 || math.IsNaN(*amount) || math.IsInf(*amount, 0) {
		return nil, invalidState("%s requires a positive amount", category)
	}
	if *amount > MaxAmount {
		return nil, invalidState("amount exceeds %.2f", MaxAmount)
	}
	if !wholeCents(*amount) {
		return nil, invalidState("amount %v has more than two decimal places", *amount)
	}

	var (
		chosen  models.Role
		ceiling float64
		found   bool
	)
	for _, role := range b.policy.RolesByAscendingCeiling(category) {
		c, ok := b.policy.ThresholdFor(role, category)
		if ok && c >= *amount {
			chosen, ceiling, found = role, c, true
			break
		}
	}
	if !found {
		return nil, configuration(rbac.ErrPolicyMisconfigured, "no role can approve %s of %.2f", category, *amount)
	}

	chain := []ChainLink{{Role: chosen, Threshold: snapshot(ceiling)}}

	if overlay, ok := b.policy.Overlay(category); ok && overlay.Level() > chosen.Level() {
		c, ok := b.policy.ThresholdFor(overlay, category)
		if !ok {
			return nil, configuration(rbac.ErrPolicyMisconfigured, "overlay role %s has no ceiling for %s", overlay, category)
		}
		chain = append(chain, ChainLink{Role: overlay, Threshold: snapshot(c)})
	}

	return chain, nil
}

// wholeCents reports whether v is the closest float64 to a value with at most
// two decimal places
func wholeCents(v float64) bool {
	return math.Round(v*100)/100 == v
}

func snapshot(ceiling float64) *float64 {
	if math.IsInf(ceiling, 1) {
		return nil
	}
	return &ceiling
}
