package rbac

import "errors"

var (
	// ErrCyclicHierarchy is returned when parent links of org units form a cycle
	ErrCyclicHierarchy = errors.New("org hierarchy contains a cycle")

	// ErrPolicyMisconfigured is returned when the threshold table cannot back a chain
	ErrPolicyMisconfigured = errors.New("threshold policy misconfigured")
)
