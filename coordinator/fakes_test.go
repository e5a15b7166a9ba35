package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"taskmanager/domain"
)

type fakeTasks struct {
	mu        sync.Mutex
	rows      map[string]domain.Task
	calls     []string
	insertErr error
	getErr    error
	replace   error
	deleteErr error
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{rows: map[string]domain.Task{}}
}

func (f *fakeTasks) Insert(ctx context.Context, t domain.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "insert")
	if f.insertErr != nil {
		return f.insertErr
	}
	if _, ok := f.rows[t.TaskID]; ok {
		return &domain.ConflictError{Entity: "task", Key: t.TaskID}
	}
	f.rows[t.TaskID] = t
	return nil
}

func (f *fakeTasks) Get(ctx context.Context, id string) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "get")
	if f.getErr != nil {
		return domain.Task{}, f.getErr
	}
	t, ok := f.rows[id]
	if !ok {
		return domain.Task{}, &domain.NotFoundError{Entity: "task", ID: id}
	}
	return t, nil
}

func (f *fakeTasks) Replace(ctx context.Context, t domain.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "replace")
	if f.replace != nil {
		return f.replace
	}
	f.rows[t.TaskID] = t
	return nil
}

func (f *fakeTasks) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "delete")
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeTasks) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rows[id]
	return ok
}

type fakeMembers struct {
	mu         sync.Mutex
	rows       []domain.Membership
	calls      []string
	createErr  error
	replaceErr error
	forTaskErr error
	commitErr  error
}

func (f *fakeMembers) Create(ctx context.Context, rows []domain.Membership) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "create")
	if f.createErr != nil {
		return f.createErr
	}
	f.rows = append(f.rows, rows...)
	return nil
}

func (f *fakeMembers) ReplaceAssignees(ctx context.Context, taskID string, assignees []string, now time.Time) ([]domain.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "replace-assignees")
	if f.replaceErr != nil {
		return nil, f.replaceErr
	}
	kept := f.rows[:0]
	for _, m := range f.rows {
		if m.TaskID == taskID && m.Role == domain.RoleAssignee {
			continue
		}
		kept = append(kept, m)
	}
	added := domain.AssigneeMemberships(taskID, assignees, now)
	f.rows = append(kept, added...)
	return added, nil
}

func (f *fakeMembers) ForTask(ctx context.Context, taskID string) ([]domain.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "for-task")
	if f.forTaskErr != nil {
		return nil, f.forTaskErr
	}
	var out []domain.Membership
	for _, m := range f.rows {
		if m.TaskID == taskID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMembers) TaskIDsForUser(ctx context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "ids-for-user")
	var out []string
	seen := map[string]bool{}
	for _, m := range f.rows {
		if m.UserID == userID && !seen[m.TaskID] {
			seen[m.TaskID] = true
			out = append(out, m.TaskID)
		}
	}
	return out, nil
}

// DeleteTask mimics the transactional delete: rows come back when then or
// the commit fails.
func (f *fakeMembers) DeleteTask(ctx context.Context, taskID string, then func(context.Context) error) ([]domain.Membership, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "delete-task")
	before := append([]domain.Membership(nil), f.rows...)
	var removed []domain.Membership
	kept := make([]domain.Membership, 0, len(f.rows))
	for _, m := range f.rows {
		if m.TaskID == taskID {
			removed = append(removed, m)
			continue
		}
		kept = append(kept, m)
	}
	f.rows = kept
	f.mu.Unlock()

	if err := then(ctx); err != nil {
		f.restore(before)
		return nil, err
	}
	if f.commitErr != nil {
		f.restore(before)
		return removed, &domain.DownstreamError{Store: "ros", Op: "commit", Err: fmt.Errorf("%w: %v", domain.ErrCommitFailed, f.commitErr)}
	}
	return removed, nil
}

func (f *fakeMembers) restore(rows []domain.Membership) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = rows
}

func (f *fakeMembers) count(taskID string, role domain.Role) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.rows {
		if m.TaskID == taskID && m.Role == role {
			n++
		}
	}
	return n
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
	err  error
}

func (f *fakeNotifier) Publish(ctx context.Context, n domain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("publish without deadline")
	}
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

type fakeGrants struct {
	tasks *fakeTasks
}

func (g *fakeGrants) IssueUploadGrant(ctx context.Context, filename, taskID, userID string) (domain.UploadGrant, error) {
	if !g.tasks.has(taskID) {
		return domain.UploadGrant{}, &domain.ConditionalWriteError{Entity: "task", ID: taskID, Reason: "task does not exist"}
	}
	return domain.UploadGrant{
		UploadURL:    "https://uploads.example.com/tasks/" + taskID + "/a1-" + filename,
		FileKey:      "tasks/" + taskID + "/a1-" + filename,
		AttachmentID: "a1",
		ExpiresAt:    time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC),
	}, nil
}

// frozenClock never advances unless told to.
type frozenClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *frozenClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *frozenClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("task-%d", n)
	}
}
