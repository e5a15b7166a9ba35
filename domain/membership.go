package domain

import "time"

// Role describes how a user relates to a task.
type Role string

const (
	RoleCreator  Role = "creator"
	RoleAssignee Role = "assignee"
	RoleAdmin    Role = "admin"
)

// MembershipStatus tracks whether a member accepted the task.
type MembershipStatus string

const (
	MembershipActive  MembershipStatus = "active"
	MembershipPending MembershipStatus = "pending"
)

// Membership is a task-user row kept in the relational store. Rows are keyed
// by (TaskID, UserID, Role).
type Membership struct {
	TaskID    string           `json:"taskId"`
	UserID    string           `json:"userId"`
	Role      Role             `json:"role"`
	Status    MembershipStatus `json:"status"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// Recipients returns the distinct user ids of the given memberships in the
// order they first appear.
func Recipients(ms []Membership) []string {
	seen := make(map[string]struct{}, len(ms))
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		if m.UserID == "" {
			continue
		}
		if _, ok := seen[m.UserID]; ok {
			continue
		}
		seen[m.UserID] = struct{}{}
		out = append(out, m.UserID)
	}
	return out
}

// CreationMemberships builds the rows recorded when a task is created: the
// creator as active and every distinct assignee as pending.
func CreationMemberships(taskID, creatorID string, assignees []string, now time.Time) []Membership {
	rows := []Membership{{
		TaskID: taskID, UserID: creatorID, Role: RoleCreator,
		Status: MembershipActive, CreatedAt: now, UpdatedAt: now,
	}}
	return append(rows, AssigneeMemberships(taskID, assignees, now)...)
}

// AssigneeMemberships builds pending assignee rows, skipping blanks and
// repeats.
func AssigneeMemberships(taskID string, assignees []string, now time.Time) []Membership {
	seen := make(map[string]struct{}, len(assignees))
	rows := make([]Membership, 0, len(assignees))
	for _, u := range assignees {
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		rows = append(rows, Membership{
			TaskID: taskID, UserID: u, Role: RoleAssignee,
			Status: MembershipPending, CreatedAt: now, UpdatedAt: now,
		})
	}
	return rows
}
