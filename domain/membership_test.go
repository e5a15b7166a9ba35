package domain

import (
	"reflect"
	"testing"
	"time"
)

func TestRecipientsDistinctInOrder(t *testing.T) {
	ms := []Membership{
		{UserID: "u1", Role: RoleCreator},
		{UserID: "u2", Role: RoleAssignee},
		{UserID: "u1", Role: RoleAdmin},
		{UserID: ""},
	}
	if got := Recipients(ms); !reflect.DeepEqual(got, []string{"u1", "u2"}) {
		t.Fatalf("unexpected recipients: %v", got)
	}
}

func TestCreationMembershipsDedupesAssignees(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := CreationMemberships("t1", "u1", []string{"u2", "", "u2", "u3"}, now)
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].Role != RoleCreator || rows[0].Status != MembershipActive || rows[0].UserID != "u1" {
		t.Fatalf("unexpected creator row: %+v", rows[0])
	}
	for _, r := range rows[1:] {
		if r.Role != RoleAssignee || r.Status != MembershipPending || r.TaskID != "t1" || !r.CreatedAt.Equal(now) {
			t.Fatalf("unexpected assignee row: %+v", r)
		}
	}
}
