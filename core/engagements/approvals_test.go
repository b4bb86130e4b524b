package engagements

import (
	"context"
	"errors"
	"testing"

	"osprey-ptx/core/store"
)

func TestRecordApprovalInvalidRole(t *testing.T) {
	f := newFixture(t)
	eng := f.newEngagement(t)
	_, err := f.tracker.RecordApproval(context.Background(), eng.ID, "janitor", "tester", "")
	if !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("err = %v, want ErrInvalidRole", err)
	}
}

func TestRecordApprovalUnknownEngagement(t *testing.T) {
	f := newFixture(t)
	_, err := f.tracker.RecordApproval(context.Background(), 4242, "coordinator", "tester", "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMissingApprovalsOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eng := f.newEngagement(t)
	required := []store.EngagementRole{store.RoleCoordinator, store.RoleSponsor, store.RoleBlueLead}

	missing, err := f.tracker.MissingApprovals(ctx, eng.ID, required)
	if err != nil || len(missing) != 3 {
		t.Fatalf("missing = %v, err %v", missing, err)
	}

	if _, err := f.tracker.RecordApproval(ctx, eng.ID, "sponsor", "tester", "lgtm"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	missing, err = f.tracker.MissingApprovals(ctx, eng.ID, required)
	if err != nil {
		t.Fatalf("missing: %v", err)
	}
	// Order follows the required list, not the approval order.
	if len(missing) != 2 || missing[0] != store.RoleCoordinator || missing[1] != store.RoleBlueLead {
		t.Fatalf("missing = %v", missing)
	}

	ok, err := f.tracker.RequiredRolesApproved(ctx, eng.ID, []store.EngagementRole{store.RoleSponsor})
	if err != nil || !ok {
		t.Fatalf("sponsor-only approved = %v, err %v", ok, err)
	}
}

func TestRepeatApprovalOverwrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eng := f.newEngagement(t)

	if _, err := f.tracker.RecordApproval(ctx, eng.ID, "coordinator", "alice", "first pass"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := f.tracker.RecordApproval(ctx, eng.ID, "coordinator", "bob", "second pass"); err != nil {
		t.Fatalf("re-approve: %v", err)
	}
	list, err := f.tracker.ListApprovals(ctx, eng.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("approvals = %d, err %v; want 1", len(list), err)
	}
	if list[0].ApproverIdentity != "bob" || list[0].Comments != "second pass" {
		t.Errorf("approval = %+v", list[0])
	}
}
