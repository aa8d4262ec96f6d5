package services

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"approval-workflow-service/internal/models"
	"approval-workflow-service/internal/rbac"
	"approval-workflow-service/internal/repository"
)

// MockApprovalRepository is a mock implementation of ApprovalRepositoryInterface
type MockApprovalRepository struct {
	mock.Mock
}

var _ repository.ApprovalRepositoryInterface = (*MockApprovalRepository)(nil)

func (m *MockApprovalRepository) CreateWorkflow(ctx context.Context, workflow *models.ApprovalWorkflow) error {
	args := m.Called(ctx, workflow)
	return args.Error(0)
}

func (m *MockApprovalRepository) GetWorkflowByID(ctx context.Context, id uuid.UUID) (*models.ApprovalWorkflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ApprovalWorkflow), args.Error(1)
}

func (m *MockApprovalRepository) GetWorkflowForUpdate(ctx context.Context, id uuid.UUID) (*models.ApprovalWorkflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ApprovalWorkflow), args.Error(1)
}

func (m *MockApprovalRepository) UpdateWorkflowState(ctx context.Context, workflow *models.ApprovalWorkflow) error {
	args := m.Called(ctx, workflow)
	return args.Error(0)
}

func (m *MockApprovalRepository) DecideStep(ctx context.Context, step *models.ApprovalStep) error {
	args := m.Called(ctx, step)
	return args.Error(0)
}

func (m *MockApprovalRepository) ListPendingWorkflows(ctx context.Context, role models.Role, orgUnitIDs []uuid.UUID) ([]models.ApprovalWorkflow, error) {
	args := m.Called(ctx, role, orgUnitIDs)
	return args.Get(0).([]models.ApprovalWorkflow), args.Error(1)
}

func (m *MockApprovalRepository) ListWorkflowsByEntity(ctx context.Context, entityType models.EntityType, entityID string) ([]models.ApprovalWorkflow, error) {
	args := m.Called(ctx, entityType, entityID)
	return args.Get(0).([]models.ApprovalWorkflow), args.Error(1)
}

func (m *MockApprovalRepository) CreateAuditLog(ctx context.Context, log *models.ApprovalAuditLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

func (m *MockApprovalRepository) GetWorkflowHistory(ctx context.Context, workflowID uuid.UUID) ([]models.ApprovalAuditLog, error) {
	args := m.Called(ctx, workflowID)
	return args.Get(0).([]models.ApprovalAuditLog), args.Error(1)
}

// WithTransaction executes the callback with the mock itself
func (m *MockApprovalRepository) WithTransaction(ctx context.Context, fn func(txRepo repository.ApprovalRepositoryInterface) error) error {
	return fn(m)
}

// memoryRepository is a transactional in-memory store. Transactions are
// serialized and roll back on error, like row-locked transactions on a
// single workflow.
type memoryRepository struct {
	txMu      sync.Mutex
	mu        sync.Mutex
	workflows map[uuid.UUID]*models.ApprovalWorkflow
	audit     []models.ApprovalAuditLog
}

var _ repository.ApprovalRepositoryInterface = (*memoryRepository)(nil)

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{workflows: make(map[uuid.UUID]*models.ApprovalWorkflow)}
}

func copyWorkflow(w *models.ApprovalWorkflow) *models.ApprovalWorkflow {
	out := *w
	out.Steps = append([]models.ApprovalStep(nil), w.Steps...)
	out.ChainRoles = append([]string(nil), w.ChainRoles...)
	return &out
}

func (r *memoryRepository) WithTransaction(ctx context.Context, fn func(txRepo repository.ApprovalRepositoryInterface) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	saved := make(map[uuid.UUID]*models.ApprovalWorkflow, len(r.workflows))
	for id, w := range r.workflows {
		saved[id] = copyWorkflow(w)
	}
	r.mu.Unlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.workflows = saved
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *memoryRepository) CreateWorkflow(ctx context.Context, workflow *models.ApprovalWorkflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if workflow.CreatedAt.IsZero() {
		// Strictly increasing so newest-first ordering is deterministic.
		workflow.CreatedAt = time.Now().Add(time.Duration(len(r.workflows)) * time.Millisecond)
	}
	r.workflows[workflow.ID] = copyWorkflow(workflow)
	return nil
}

func (r *memoryRepository) GetWorkflowByID(ctx context.Context, id uuid.UUID) (*models.ApprovalWorkflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workflows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyWorkflow(w), nil
}

func (r *memoryRepository) GetWorkflowForUpdate(ctx context.Context, id uuid.UUID) (*models.ApprovalWorkflow, error) {
	return r.GetWorkflowByID(ctx, id)
}

func (r *memoryRepository) UpdateWorkflowState(ctx context.Context, workflow *models.ApprovalWorkflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.workflows[workflow.ID]
	if !ok || stored.Version != workflow.Version || stored.Status != models.WorkflowPending {
		return repository.ErrVersionConflict
	}
	stored.Status = workflow.Status
	stored.CurrentApproverRole = workflow.CurrentApproverRole
	stored.CompletedAt = workflow.CompletedAt
	stored.Version++
	workflow.Version = stored.Version
	return nil
}

func (r *memoryRepository) DecideStep(ctx context.Context, step *models.ApprovalStep) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.workflows[step.WorkflowID]
	if !ok {
		return repository.ErrNotFound
	}
	for i := range stored.Steps {
		s := &stored.Steps[i]
		if s.ID != step.ID {
			continue
		}
		if s.Status != models.StepPending {
			return repository.ErrStepAlreadyDecided
		}
		s.Status = step.Status
		s.ApprovedBy = step.ApprovedBy
		s.DecidedAt = step.DecidedAt
		s.Remark = step.Remark
		return nil
	}
	return repository.ErrNotFound
}

func (r *memoryRepository) ListPendingWorkflows(ctx context.Context, role models.Role, orgUnitIDs []uuid.UUID) ([]models.ApprovalWorkflow, error) {
	scope := rbac.NewScope(orgUnitIDs...)
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ApprovalWorkflow
	for _, w := range r.workflows {
		if w.Status == models.WorkflowPending && w.CurrentApproverRole != nil &&
			*w.CurrentApproverRole == role && scope.Contains(w.OrgUnitID) {
			out = append(out, *copyWorkflow(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) ListWorkflowsByEntity(ctx context.Context, entityType models.EntityType, entityID string) ([]models.ApprovalWorkflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ApprovalWorkflow
	for _, w := range r.workflows {
		if w.EntityType == entityType && w.EntityID == entityID {
			out = append(out, *copyWorkflow(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) CreateAuditLog(ctx context.Context, log *models.ApprovalAuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audit = append(r.audit, *log)
	return nil
}

func (r *memoryRepository) GetWorkflowHistory(ctx context.Context, workflowID uuid.UUID) ([]models.ApprovalAuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ApprovalAuditLog
	for _, entry := range r.audit {
		if entry.WorkflowID == workflowID {
			out = append(out, entry)
		}
	}
	return out, nil
}

// MockEntityStatusPort records entity status callbacks
type MockEntityStatusPort struct {
	mock.Mock
}

func (m *MockEntityStatusPort) OnApproved(ctx context.Context, entityType models.EntityType, entityID string, approverID uuid.UUID) error {
	args := m.Called(ctx, entityType, entityID, approverID)
	return args.Error(0)
}

func (m *MockEntityStatusPort) OnRejected(ctx context.Context, entityType models.EntityType, entityID string, approverID uuid.UUID) error {
	args := m.Called(ctx, entityType, entityID, approverID)
	return args.Error(0)
}

// recordingNotifier keeps every notification it receives
type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
	err  error
}

func (n *recordingNotifier) Notify(ctx context.Context, notification models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	return n.err
}

func (n *recordingNotifier) all() []models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Notification(nil), n.sent...)
}

// blockingNotifier holds every notification until release is closed
type blockingNotifier struct {
	recordingNotifier
	release chan struct{}
}

func (n *blockingNotifier) Notify(ctx context.Context, notification models.Notification) error {
	select {
	case <-n.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return n.recordingNotifier.Notify(ctx, notification)
}

// drain waits for the service's background side effects
func drain(t *testing.T, service *ApprovalService) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, service.Drain(ctx))
}

type userDirectory map[uuid.UUID]*models.User

func (d userDirectory) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, ok := d[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return user, nil
}

// fixture is a small organization:
//
//	pmo
//	├── areaNorth
//	│   └── projectA
//	│       └── zoneA1
//	└── areaSouth
//	    └── projectB
type fixture struct {
	pmo, areaNorth, areaSouth, projectA, projectB, zoneA1 uuid.UUID
	units                                                 []models.OrgUnit

	zoneManager    *models.User
	projectManager *models.User
	outsiderPM     *models.User
	areaManager    *models.User
	pmoDirector    *models.User
	superAdmin     *models.User
	requester      *models.User

	policy    *rbac.ThresholdPolicy
	hierarchy *rbac.HierarchyStore
	users     userDirectory
	chains    *ChainBuilder
	guard     *AuthorizationGuard
	scopes    *CachedScopeResolver
}

func newUser(role models.Role, primary uuid.UUID) *models.User {
	return &models.User{ID: uuid.New(), Name: string(role), Role: role, PrimaryOrgUnitID: primary}
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithRules(t, rbac.DefaultChainRules())
}

func newFixtureWithRules(t *testing.T, rules rbac.ChainRules) *fixture {
	t.Helper()

	f := &fixture{
		pmo:       uuid.New(),
		areaNorth: uuid.New(),
		areaSouth: uuid.New(),
		projectA:  uuid.New(),
		projectB:  uuid.New(),
		zoneA1:    uuid.New(),
	}
	parent := func(id uuid.UUID) *uuid.UUID { return &id }
	units := []models.OrgUnit{
		{ID: f.pmo, Name: "PMO", Type: models.OrgUnitPMO},
		{ID: f.areaNorth, Name: "North", Type: models.OrgUnitArea, ParentID: parent(f.pmo)},
		{ID: f.areaSouth, Name: "South", Type: models.OrgUnitArea, ParentID: parent(f.pmo)},
		{ID: f.projectA, Name: "Tower A", Type: models.OrgUnitProject, ParentID: parent(f.areaNorth)},
		{ID: f.projectB, Name: "Bridge B", Type: models.OrgUnitProject, ParentID: parent(f.areaSouth)},
		{ID: f.zoneA1, Name: "Zone A1", Type: models.OrgUnitZone, ParentID: parent(f.projectA)},
	}

	f.units = units

	hierarchy, err := rbac.NewOrgHierarchy(units)
	require.NoError(t, err)
	policy, err := rbac.NewThresholdPolicy(rbac.DefaultThresholds(), rules)
	require.NoError(t, err)

	f.policy = policy
	f.hierarchy = rbac.NewHierarchyStore(hierarchy)

	f.zoneManager = newUser(models.RoleZoneManager, f.zoneA1)
	f.projectManager = newUser(models.RoleProjectManager, f.projectA)
	f.outsiderPM = newUser(models.RoleProjectManager, f.projectB)
	f.areaManager = newUser(models.RoleAreaManager, f.areaNorth)
	f.pmoDirector = newUser(models.RolePMODirector, f.pmo)
	f.superAdmin = newUser(models.RoleSuperAdmin, f.pmo)
	f.requester = newUser(models.RoleSiteEngineer, f.zoneA1)

	f.users = userDirectory{}
	for _, u := range []*models.User{f.zoneManager, f.projectManager, f.outsiderPM, f.areaManager, f.pmoDirector, f.superAdmin, f.requester} {
		f.users[u.ID] = u
	}

	f.chains = NewChainBuilder(f.policy, f.hierarchy)
	f.scopes = NewCachedScopeResolver(f.hierarchy, nil, nil)
	f.guard = NewAuthorizationGuard(f.policy, f.scopes)
	return f
}

func (f *fixture) service(repo repository.ApprovalRepositoryInterface, entityStatus EntityStatusPort, notifier NotificationPort) *ApprovalService {
	return NewApprovalService(ApprovalServiceDeps{
		Repo:         repo,
		Users:        f.users,
		Chains:       f.chains,
		Guard:        f.guard,
		Scopes:       f.scopes,
		EntityStatus: entityStatus,
		Notifier:     notifier,
	})
}

func floatPtr(v float64) *float64 { return &v }

func rolePtr(r models.Role) *models.Role { return &r }

// pendingWorkflow builds a pending workflow whose steps follow roles
func pendingWorkflow(entityType models.EntityType, orgUnitID uuid.UUID, amount *float64, roles ...models.Role) *models.ApprovalWorkflow {
	w := &models.ApprovalWorkflow{
		ID:                  uuid.New(),
		EntityType:          entityType,
		EntityID:            uuid.NewString(),
		RequestedBy:         uuid.New(),
		OrgUnitID:           orgUnitID,
		Amount:              amount,
		Status:              models.WorkflowPending,
		CurrentApproverRole: rolePtr(roles[0]),
		Version:             1,
	}
	for i, role := range roles {
		w.ChainRoles = append(w.ChainRoles, string(role))
		w.Steps = append(w.Steps, models.ApprovalStep{
			ID:         uuid.New(),
			WorkflowID: w.ID,
			Order:      i + 1,
			Role:       role,
			Status:     models.StepPending,
		})
	}
	return w
}
