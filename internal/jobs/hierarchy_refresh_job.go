package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"approval-workflow-service/internal/models"
	"approval-workflow-service/internal/rbac"
)

// OrgUnitSource loads the organisational tree
type OrgUnitSource interface {
	ListOrgUnits(ctx context.Context) ([]models.OrgUnit, error)
}

// ScopeInvalidator drops cached scopes derived from an older tree
type ScopeInvalidator interface {
	InvalidateAll(ctx context.Context) (int, error)
}

// HierarchyRefreshJob periodically reloads the org hierarchy snapshot
type HierarchyRefreshJob struct {
	source   OrgUnitSource
	store    *rbac.HierarchyStore
	cache    ScopeInvalidator
	logger   *logrus.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHierarchyRefreshJob creates a new refresh job. cache may be nil.
func NewHierarchyRefreshJob(source OrgUnitSource, store *rbac.HierarchyStore, cache ScopeInvalidator, logger *logrus.Logger, interval time.Duration) *HierarchyRefreshJob {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &HierarchyRefreshJob{
		source:   source,
		store:    store,
		cache:    cache,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the refresh loop until Stop is called or ctx is cancelled
func (j *HierarchyRefreshJob) Start(ctx context.Context) {
	j.logger.Info("Hierarchy refresh job started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.Refresh(ctx)
		case <-j.stopCh:
			j.logger.Info("Hierarchy refresh job stopped")
			return
		case <-ctx.Done():
			j.logger.Info("Hierarchy refresh job context cancelled")
			return
		}
	}
}

// Stop signals the job to stop
func (j *HierarchyRefreshJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
}

// Refresh loads the tree and swaps it in. A failed load or an invalid tree
// keeps the previous snapshot.
func (j *HierarchyRefreshJob) Refresh(ctx context.Context) bool {
	units, err := j.source.ListOrgUnits(ctx)
	if err != nil {
		j.logger.WithError(err).Error("Failed to load org units")
		return false
	}

	hierarchy, err := rbac.NewOrgHierarchy(units)
	if err != nil {
		j.logger.WithError(err).Error("Org hierarchy is invalid, keeping previous snapshot")
		return false
	}

	j.store.Replace(hierarchy)

	if j.cache != nil {
		dropped, err := j.cache.InvalidateAll(ctx)
		if err != nil {
			j.logger.WithError(err).Warn("Failed to invalidate cached scopes")
		} else if dropped > 0 {
			j.logger.WithField("keys", dropped).Debug("Cached scopes invalidated")
		}
	}

	j.logger.WithField("units", hierarchy.Len()).Debug("Org hierarchy refreshed")
	return true
}
