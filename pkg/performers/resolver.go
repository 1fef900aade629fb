package performers

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/dukex/taskflow/pkg/models"
)

// Result reports how a task's performers changed.
// Assigned and Removed hold effective users, so a user who keeps access
// through another row is in neither list.
type Result struct {
	CreatedUsers  []int64
	CreatedGroups []int64
	DeletedUsers  []int64
	DeletedGroups []int64
	Assigned      []int64
	Removed       []int64
}

// Changed reports whether any performer row was added or removed.
func (r *Result) Changed() bool {
	return len(r.CreatedUsers)+len(r.CreatedGroups)+len(r.DeletedUsers)+len(r.DeletedGroups) > 0
}

type performerKey struct {
	kind models.PerformerType
	id   int64
}

func keyOf(performer *models.TaskPerformer) performerKey {
	switch performer.Type {
	case models.PerformerTypeGroup:
		if performer.GroupID != nil {
			return performerKey{kind: models.PerformerTypeGroup, id: *performer.GroupID}
		}
	case models.PerformerTypeUser:
		if performer.UserID != nil {
			return performerKey{kind: models.PerformerTypeUser, id: *performer.UserID}
		}
	}

	return performerKey{kind: performer.Type}
}

// Resolver turns raw performer specs into task performer rows.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver creates a performer resolver.
func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{
		logger: logger.With("module", "performer_resolver"),
	}
}

// Resolve reconciles the task performers with specs. Rows edited manually are kept as they are,
// group rows take a fresh snapshot of the group members, and a fallback performer is assigned
// when nobody is left to act on the task.
func (r *Resolver) Resolve(ctx context.Context, account *models.Account, workflow *models.Workflow, task *models.Task, specs []models.RawPerformer) (*Result, error) {
	desired, err := r.desiredKeys(ctx, account, workflow, task, specs)
	if err != nil {
		return nil, err
	}

	before := task.EffectiveUserIDs()
	result := &Result{}
	kept := make([]*models.TaskPerformer, 0, len(task.Performers))
	present := make(map[performerKey]struct{}, len(task.Performers))

	for _, performer := range task.Performers {
		key := keyOf(performer)

		if performer.DirectlyStatus == models.DirectlyStatusNoStatus && !slices.Contains(desired, key) {
			result.recordDeleted(key)

			continue
		}

		if performer.Type == models.PerformerTypeGroup && !performer.IsDeleted() {
			performer.GroupMembers = groupMembers(account, key.id)
		}

		present[key] = struct{}{}
		kept = append(kept, performer)
	}

	for _, key := range desired {
		if _, ok := present[key]; ok {
			continue
		}

		kept = append(kept, newPerformer(account, key, models.DirectlyStatusNoStatus))
		present[key] = struct{}{}
		result.recordCreated(key)
	}

	task.Performers = kept

	if len(task.EffectiveUserIDs()) == 0 {
		if err := r.assignFallback(ctx, account, workflow, task, result); err != nil {
			return nil, err
		}
	}

	result.diff(before, task.EffectiveUserIDs())

	return result, nil
}

// AddDirect assigns a user or group to the task as a manual edit that template re-sync keeps.
func (r *Resolver) AddDirect(ctx context.Context, account *models.Account, task *models.Task, performerType models.PerformerType, id int64) (*Result, error) {
	key := performerKey{kind: performerType, id: id}
	if err := validateReference(account, task, key); err != nil {
		return nil, err
	}

	before := task.EffectiveUserIDs()
	result := &Result{}

	existing := findPerformer(task, key)
	if existing != nil {
		existing.DirectlyStatus = models.DirectlyStatusCreated
		if existing.Type == models.PerformerTypeGroup {
			existing.GroupMembers = groupMembers(account, id)
		}
	} else {
		task.Performers = append(task.Performers, newPerformer(account, key, models.DirectlyStatusCreated))
		result.recordCreated(key)
	}

	result.diff(before, task.EffectiveUserIDs())

	r.logger.InfoContext(ctx, "Performer added to task", "task", task.APIName, "type", performerType, "id", id)

	return result, nil
}

// RemoveDirect marks a performer as manually removed. Its row stays so that re-sync does not bring it back.
func (r *Resolver) RemoveDirect(ctx context.Context, task *models.Task, performerType models.PerformerType, id int64) (*Result, error) {
	key := performerKey{kind: performerType, id: id}

	existing := findPerformer(task, key)
	if existing == nil || existing.IsDeleted() {
		return nil, &ResolutionError{Task: task.APIName, Type: performerType, ID: id, Err: ErrPerformerNotFound}
	}

	if len(task.ActivePerformers()) == 1 {
		return nil, &ResolutionError{Task: task.APIName, Type: performerType, ID: id, Err: ErrLastPerformer}
	}

	before := task.EffectiveUserIDs()
	existing.DirectlyStatus = models.DirectlyStatusDeleted

	result := &Result{}
	result.recordDeleted(key)
	result.diff(before, task.EffectiveUserIDs())

	r.logger.InfoContext(ctx, "Performer removed from task", "task", task.APIName, "type", performerType, "id", id)

	return result, nil
}

// MarkCompleted records that userID completed its part of the task. Both the user row and
// every group row the user acts through are completed. It reports false when the user is
// not an effective performer.
func MarkCompleted(task *models.Task, userID int64, now time.Time) bool {
	marked := false

	for _, performer := range task.ActivePerformers() {
		if !performer.Covers(userID) {
			continue
		}

		marked = true

		if !performer.IsCompleted {
			performer.IsCompleted = true
			performer.DateCompleted = &now
		}
	}

	return marked
}

// ResetCompletion clears completion marks, used when a task becomes active again.
func ResetCompletion(task *models.Task) {
	for _, performer := range task.Performers {
		performer.IsCompleted = false
		performer.DateCompleted = nil
	}
}

// IsSatisfied reports whether the task completion policy holds: every active performer
// completed when completion by all is required, any one of them otherwise.
// Group rows without members cannot act and are not waited on.
func IsSatisfied(task *models.Task) bool {
	actionable := 0
	completed := 0

	for _, performer := range task.ActivePerformers() {
		if performer.Type == models.PerformerTypeGroup && len(performer.GroupMembers) == 0 {
			continue
		}

		actionable++

		if performer.IsCompleted {
			completed++
		}
	}

	if actionable == 0 {
		return false
	}

	if task.RequireCompletionByAll {
		return completed == actionable
	}

	return completed > 0
}

// StarterOrOwner returns the user a WORKFLOW_STARTER spec resolves to.
func StarterOrOwner(account *models.Account, workflow *models.Workflow) int64 {
	if !workflow.IsExternal && workflow.StarterID != nil {
		if user, ok := account.User(*workflow.StarterID); ok && user.IsActive {
			return user.ID
		}
	}

	return account.OwnerID
}

func (r *Resolver) desiredKeys(ctx context.Context, account *models.Account, workflow *models.Workflow, task *models.Task, specs []models.RawPerformer) ([]performerKey, error) {
	desired := make([]performerKey, 0, len(specs))

	add := func(key performerKey) {
		if !slices.Contains(desired, key) {
			desired = append(desired, key)
		}
	}

	for _, spec := range specs {
		switch spec.Type {
		case models.PerformerTypeUser:
			if spec.UserID == nil {
				return nil, &ResolutionError{Task: task.APIName, Type: spec.Type, Err: ErrUserNotFound}
			}

			user, ok := account.User(*spec.UserID)
			if !ok {
				return nil, &ResolutionError{Task: task.APIName, Type: spec.Type, ID: *spec.UserID, Err: ErrUserNotFound}
			}

			if !user.IsActive {
				r.logger.WarnContext(ctx, "Skipping inactive performer", "task", task.APIName, "user_id", user.ID)

				continue
			}

			add(performerKey{kind: models.PerformerTypeUser, id: user.ID})
		case models.PerformerTypeGroup:
			if spec.GroupID == nil {
				return nil, &ResolutionError{Task: task.APIName, Type: spec.Type, Err: ErrGroupNotFound}
			}

			if _, ok := account.Group(*spec.GroupID); !ok {
				return nil, &ResolutionError{Task: task.APIName, Type: spec.Type, ID: *spec.GroupID, Err: ErrGroupNotFound}
			}

			add(performerKey{kind: models.PerformerTypeGroup, id: *spec.GroupID})
		case models.PerformerTypeWorkflowStarter:
			add(performerKey{kind: models.PerformerTypeUser, id: StarterOrOwner(account, workflow)})
		}
	}

	return desired, nil
}

// assignFallback gives an unassigned task to the starter, or to the account owner when
// the starter cannot take it. A user manually removed from the task is never picked.
func (r *Resolver) assignFallback(ctx context.Context, account *models.Account, workflow *models.Workflow, task *models.Task, result *Result) error {
	fallback, existing, ok := fallbackCandidate(account, task, StarterOrOwner(account, workflow), account.OwnerID)
	if !ok {
		return &ResolutionError{Task: task.APIName, Type: models.PerformerTypeWorkflowStarter, Err: ErrNoFallback}
	}

	key := performerKey{kind: models.PerformerTypeUser, id: fallback}

	if existing != nil {
		existing.DirectlyStatus = models.DirectlyStatusNoStatus
	} else {
		task.Performers = append(task.Performers, newPerformer(account, key, models.DirectlyStatusNoStatus))
		result.recordCreated(key)
	}

	r.logger.InfoContext(ctx, "Assigned fallback performer",
		"workflow_id", workflow.ID,
		"task", task.APIName,
		"user_id", fallback,
	)

	return nil
}

func fallbackCandidate(account *models.Account, task *models.Task, candidates ...int64) (int64, *models.TaskPerformer, bool) {
	for _, candidate := range candidates {
		if _, ok := account.User(candidate); !ok {
			continue
		}

		existing := findPerformer(task, performerKey{kind: models.PerformerTypeUser, id: candidate})
		if existing != nil && existing.IsDeleted() {
			continue
		}

		return candidate, existing, true
	}

	return 0, nil, false
}

func validateReference(account *models.Account, task *models.Task, key performerKey) error {
	switch key.kind {
	case models.PerformerTypeUser:
		if user, ok := account.User(key.id); !ok || !user.IsActive {
			return &ResolutionError{Task: task.APIName, Type: key.kind, ID: key.id, Err: ErrUserNotFound}
		}
	case models.PerformerTypeGroup:
		if _, ok := account.Group(key.id); !ok {
			return &ResolutionError{Task: task.APIName, Type: key.kind, ID: key.id, Err: ErrGroupNotFound}
		}
	default:
		return &ResolutionError{Task: task.APIName, Type: key.kind, ID: key.id, Err: ErrUserNotFound}
	}

	return nil
}

func findPerformer(task *models.Task, key performerKey) *models.TaskPerformer {
	for _, performer := range task.Performers {
		if keyOf(performer) == key {
			return performer
		}
	}

	return nil
}

func newPerformer(account *models.Account, key performerKey, status models.DirectlyStatus) *models.TaskPerformer {
	id := key.id
	performer := &models.TaskPerformer{Type: key.kind, DirectlyStatus: status}

	if key.kind == models.PerformerTypeGroup {
		performer.GroupID = &id
		performer.GroupMembers = groupMembers(account, id)
	} else {
		performer.UserID = &id
	}

	return performer
}

func groupMembers(account *models.Account, groupID int64) []int64 {
	group, ok := account.Group(groupID)
	if !ok {
		return nil
	}

	members := make([]int64, 0, len(group.Users))

	for _, id := range group.Users {
		if user, ok := account.User(id); ok && user.IsActive {
			members = append(members, id)
		}
	}

	return members
}

func (r *Result) recordCreated(key performerKey) {
	if key.kind == models.PerformerTypeGroup {
		r.CreatedGroups = append(r.CreatedGroups, key.id)
	} else {
		r.CreatedUsers = append(r.CreatedUsers, key.id)
	}
}

func (r *Result) recordDeleted(key performerKey) {
	if key.kind == models.PerformerTypeGroup {
		r.DeletedGroups = append(r.DeletedGroups, key.id)
	} else {
		r.DeletedUsers = append(r.DeletedUsers, key.id)
	}
}

func (r *Result) diff(before, after []int64) {
	for _, id := range after {
		if !slices.Contains(before, id) {
			r.Assigned = append(r.Assigned, id)
		}
	}

	for _, id := range before {
		if !slices.Contains(after, id) {
			r.Removed = append(r.Removed, id)
		}
	}
}
