package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "viewer read", role: RoleViewer, action: ActionRead, allow: true},
		{name: "viewer write", role: RoleViewer, action: ActionWrite, allow: false},
		{name: "viewer comment", role: RoleViewer, action: ActionComment, allow: false},
		{name: "editor publish", role: RoleEditor, action: ActionPublish, allow: true},
		{name: "editor admin", role: RoleEditor, action: ActionAdmin, allow: false},
		{name: "commenter read", role: RoleCommenter, action: ActionRead, allow: true},
		{name: "commenter comment", role: RoleCommenter, action: ActionComment, allow: true},
		{name: "owner admin", role: RoleOwner, action: ActionAdmin, allow: true},
		{name: "unknown read", role: Role("superuser"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestMaxOrdering(t *testing.T) {
	cases := []struct {
		a, b, want Role
	}{
		{RoleViewer, RoleEditor, RoleEditor},
		{RoleEditor, RoleViewer, RoleEditor},
		{RoleOwner, RoleEditor, RoleOwner},
		{RoleCommenter, RoleCommenter, RoleCommenter},
		{Role("bogus"), RoleViewer, RoleViewer},
	}
	for _, tc := range cases {
		if got := Max(tc.a, tc.b); got != tc.want {
			t.Fatalf("Max(%q, %q) = %q, want %q", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestAtLeast(t *testing.T) {
	if !AtLeast(RoleEditor, RoleViewer) {
		t.Fatal("editor should satisfy viewer threshold")
	}
	if AtLeast(RoleViewer, RoleEditor) {
		t.Fatal("viewer must not satisfy editor threshold")
	}
	if AtLeast(Role("bogus"), Role("bogus")) {
		t.Fatal("unknown roles must never satisfy a threshold")
	}
}

func TestCatalog(t *testing.T) {
	cat := DefaultCatalog()

	t.Run("unknown feature disabled", func(t *testing.T) {
		if cat.Enabled(Feature("time_travel"), RoleOwner, "enterprise") {
			t.Fatal("unknown feature must be disabled")
		}
		if cat.Known(Feature("time_travel")) {
			t.Fatal("unknown feature must not be known")
		}
	})

	t.Run("role threshold", func(t *testing.T) {
		if cat.Enabled(FeatureAttachments, RoleViewer, "free") {
			t.Fatal("viewer must not pass an editor-gated feature")
		}
		if !cat.Enabled(FeatureAttachments, RoleEditor, "free") {
			t.Fatal("editor should pass an editor-gated feature")
		}
	})

	t.Run("plan restriction", func(t *testing.T) {
		if cat.Enabled(FeatureAuditLog, RoleOwner, "free") {
			t.Fatal("audit log must be off outside team/enterprise plans")
		}
		if !cat.Enabled(FeatureAuditLog, RoleOwner, "team") {
			t.Fatal("audit log should be on for team plan owners")
		}
	})
}
