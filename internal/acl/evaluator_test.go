package acl

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/luckydye/scroll/internal/rbac"
	"github.com/luckydye/scroll/internal/store"
)

type fakeSource struct {
	listActiveGrants func(ctx context.Context, resourceType, resourceID string) ([]store.Grant, error)
	getSpace         func(ctx context.Context, spaceID string) (store.Space, error)
	getDocument      func(ctx context.Context, spaceID, documentID string) (store.Document, error)
}

func (f *fakeSource) ListActiveGrants(ctx context.Context, resourceType, resourceID string) ([]store.Grant, error) {
	if f.listActiveGrants == nil {
		return nil, nil
	}
	return f.listActiveGrants(ctx, resourceType, resourceID)
}

func (f *fakeSource) GetSpace(ctx context.Context, spaceID string) (store.Space, error) {
	if f.getSpace == nil {
		return store.Space{ID: spaceID, Plan: "free"}, nil
	}
	return f.getSpace(ctx, spaceID)
}

func (f *fakeSource) GetDocument(ctx context.Context, spaceID, documentID string) (store.Document, error) {
	if f.getDocument == nil {
		return store.Document{ID: documentID, SpaceID: spaceID}, nil
	}
	return f.getDocument(ctx, spaceID, documentID)
}

func grantsByResource(table map[string][]store.Grant) func(ctx context.Context, resourceType, resourceID string) ([]store.Grant, error) {
	return func(_ context.Context, resourceType, resourceID string) ([]store.Grant, error) {
		return table[resourceType+"/"+resourceID], nil
	}
}

func TestGetPermissionMaxAcrossDirectAndGroup(t *testing.T) {
	source := &fakeSource{
		listActiveGrants: grantsByResource(map[string][]store.Grant{
			"space/sp-1": {
				{SubjectType: "user", SubjectID: "u-1", Role: "viewer"},
				{SubjectType: "group", SubjectID: "g-1", Role: "editor"},
			},
		}),
	}
	eval := NewEvaluator(source, nil)

	role, ok, err := eval.GetPermission(context.Background(), "sp-1", ResourceSpace, "sp-1", "u-1", []string{"g-1"})
	if err != nil {
		t.Fatalf("GetPermission() error = %v", err)
	}
	if !ok || role != rbac.RoleEditor {
		t.Fatalf("GetPermission() = (%q, %v), want (editor, true)", role, ok)
	}
}

func TestGetPermissionInheritsSpaceRole(t *testing.T) {
	source := &fakeSource{
		listActiveGrants: grantsByResource(map[string][]store.Grant{
			"space/sp-1": {
				{SubjectType: "user", SubjectID: "u-1", Role: "editor"},
			},
		}),
	}
	eval := NewEvaluator(source, nil)

	role, ok, err := eval.GetPermission(context.Background(), "sp-1", ResourceDocument, "doc-1", "u-1", nil)
	if err != nil {
		t.Fatalf("GetPermission() error = %v", err)
	}
	if !ok || role != rbac.RoleEditor {
		t.Fatalf("GetPermission() = (%q, %v), want inherited (editor, true)", role, ok)
	}
}

func TestGetPermissionDocumentGrantOverridesSpaceRole(t *testing.T) {
	// A direct viewer grant on the document wins over an editor space role:
	// resource-scope grants replace inheritance, they do not combine with it.
	source := &fakeSource{
		listActiveGrants: grantsByResource(map[string][]store.Grant{
			"space/sp-1": {
				{SubjectType: "user", SubjectID: "u-1", Role: "editor"},
			},
			"document/doc-1": {
				{SubjectType: "user", SubjectID: "u-1", Role: "viewer"},
			},
		}),
	}
	eval := NewEvaluator(source, nil)

	role, ok, err := eval.GetPermission(context.Background(), "sp-1", ResourceDocument, "doc-1", "u-1", nil)
	if err != nil {
		t.Fatalf("GetPermission() error = %v", err)
	}
	if !ok || role != rbac.RoleViewer {
		t.Fatalf("GetPermission() = (%q, %v), want (viewer, true)", role, ok)
	}
}

func TestGetPermissionNoAccessIsNotAnError(t *testing.T) {
	eval := NewEvaluator(&fakeSource{}, nil)

	role, ok, err := eval.GetPermission(context.Background(), "sp-1", ResourceDocument, "doc-1", "u-1", nil)
	if err != nil {
		t.Fatalf("GetPermission() error = %v", err)
	}
	if ok || role != "" {
		t.Fatalf("GetPermission() = (%q, %v), want no access without error", role, ok)
	}
}

func TestGetPermissionIgnoresUnknownRoles(t *testing.T) {
	source := &fakeSource{
		listActiveGrants: grantsByResource(map[string][]store.Grant{
			"space/sp-1": {
				{SubjectType: "user", SubjectID: "u-1", Role: "superuser"},
			},
		}),
	}
	eval := NewEvaluator(source, nil)

	_, ok, err := eval.GetPermission(context.Background(), "sp-1", ResourceSpace, "sp-1", "u-1", nil)
	if err != nil {
		t.Fatalf("GetPermission() error = %v", err)
	}
	if ok {
		t.Fatal("unknown role names must not confer access")
	}
}

func TestVerifySpaceRole(t *testing.T) {
	source := &fakeSource{
		listActiveGrants: grantsByResource(map[string][]store.Grant{
			"space/sp-1": {
				{SubjectType: "user", SubjectID: "u-viewer", Role: "viewer"},
			},
		}),
		getSpace: func(_ context.Context, spaceID string) (store.Space, error) {
			if spaceID != "sp-1" {
				return store.Space{}, sql.ErrNoRows
			}
			return store.Space{ID: "sp-1", Visibility: "private", Plan: "free"}, nil
		},
	}
	eval := NewEvaluator(source, nil)
	ctx := context.Background()

	t.Run("insufficient role is forbidden", func(t *testing.T) {
		_, err := eval.VerifySpaceRole(ctx, "sp-1", "u-viewer", nil, rbac.RoleEditor)
		if !errors.Is(err, ErrForbidden) {
			t.Fatalf("VerifySpaceRole() error = %v, want ErrForbidden", err)
		}
	})

	t.Run("no visibility is not found", func(t *testing.T) {
		_, err := eval.VerifySpaceRole(ctx, "sp-1", "u-stranger", nil, rbac.RoleViewer)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("VerifySpaceRole() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("missing space is indistinguishable from no visibility", func(t *testing.T) {
		_, err := eval.VerifySpaceRole(ctx, "sp-missing", "u-viewer", nil, rbac.RoleViewer)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("VerifySpaceRole() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("sufficient role passes", func(t *testing.T) {
		role, err := eval.VerifySpaceRole(ctx, "sp-1", "u-viewer", nil, rbac.RoleViewer)
		if err != nil {
			t.Fatalf("VerifySpaceRole() error = %v", err)
		}
		if role != rbac.RoleViewer {
			t.Fatalf("VerifySpaceRole() role = %q, want viewer", role)
		}
	})
}

func TestVerifySpaceRolePublicSpaceGrantsViewer(t *testing.T) {
	source := &fakeSource{
		getSpace: func(_ context.Context, spaceID string) (store.Space, error) {
			return store.Space{ID: spaceID, Visibility: "public", Plan: "free"}, nil
		},
	}
	eval := NewEvaluator(source, nil)

	role, err := eval.VerifySpaceRole(context.Background(), "sp-1", "u-anyone", nil, rbac.RoleViewer)
	if err != nil {
		t.Fatalf("VerifySpaceRole() error = %v", err)
	}
	if role != rbac.RoleViewer {
		t.Fatalf("VerifySpaceRole() role = %q, want viewer", role)
	}
	if _, err := eval.VerifySpaceRole(context.Background(), "sp-1", "u-anyone", nil, rbac.RoleEditor); !errors.Is(err, ErrForbidden) {
		t.Fatalf("public space must not grant more than viewer, got %v", err)
	}
}

func TestVerifyDocumentRolePublicSpaceGrantsViewer(t *testing.T) {
	source := &fakeSource{
		getSpace: func(_ context.Context, spaceID string) (store.Space, error) {
			return store.Space{ID: spaceID, Visibility: "public", Plan: "free"}, nil
		},
	}
	eval := NewEvaluator(source, nil)

	// A document listed through the public space must also be readable.
	role, err := eval.VerifyDocumentRole(context.Background(), "sp-1", "doc-1", "u-anyone", nil, rbac.RoleViewer)
	if err != nil {
		t.Fatalf("VerifyDocumentRole() error = %v", err)
	}
	if role != rbac.RoleViewer {
		t.Fatalf("VerifyDocumentRole() role = %q, want viewer", role)
	}
	if _, err := eval.VerifyDocumentRole(context.Background(), "sp-1", "doc-1", "u-anyone", nil, rbac.RoleEditor); !errors.Is(err, ErrForbidden) {
		t.Fatalf("public space must not grant more than viewer on documents, got %v", err)
	}
}

func TestVerifyDocumentRolePrivateSpaceStaysMasked(t *testing.T) {
	source := &fakeSource{
		getSpace: func(_ context.Context, spaceID string) (store.Space, error) {
			return store.Space{ID: spaceID, Visibility: "private", Plan: "free"}, nil
		},
	}
	eval := NewEvaluator(source, nil)

	_, err := eval.VerifyDocumentRole(context.Background(), "sp-1", "doc-1", "u-stranger", nil, rbac.RoleViewer)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("VerifyDocumentRole() error = %v, want ErrNotFound", err)
	}
}

func TestVerifyDocumentRoleMasksMissingDocument(t *testing.T) {
	source := &fakeSource{
		getDocument: func(_ context.Context, _, _ string) (store.Document, error) {
			return store.Document{}, sql.ErrNoRows
		},
	}
	eval := NewEvaluator(source, nil)

	_, err := eval.VerifyDocumentRole(context.Background(), "sp-1", "doc-missing", "u-1", nil, rbac.RoleViewer)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("VerifyDocumentRole() error = %v, want ErrNotFound", err)
	}
}

func TestVerifyExtensionAccess(t *testing.T) {
	source := &fakeSource{
		listActiveGrants: grantsByResource(map[string][]store.Grant{
			"extension/ext-tasks": {
				{SubjectType: "user", SubjectID: "u-ext", Role: "editor"},
			},
			"space/sp-1": {
				{SubjectType: "user", SubjectID: "u-space", Role: "owner"},
			},
		}),
		getSpace: func(_ context.Context, spaceID string) (store.Space, error) {
			return store.Space{ID: spaceID, Plan: "free"}, nil
		},
	}
	eval := NewEvaluator(source, nil)
	ctx := context.Background()

	t.Run("extension grant", func(t *testing.T) {
		role, err := eval.VerifyExtensionAccess(ctx, "sp-1", "ext-tasks", "u-ext", nil, rbac.RoleEditor)
		if err != nil {
			t.Fatalf("VerifyExtensionAccess() error = %v", err)
		}
		if role != rbac.RoleEditor {
			t.Fatalf("role = %q, want editor", role)
		}
	})

	t.Run("space role inherited into extension scope", func(t *testing.T) {
		if _, err := eval.VerifyExtensionAccess(ctx, "sp-1", "ext-tasks", "u-space", nil, rbac.RoleOwner); err != nil {
			t.Fatalf("VerifyExtensionAccess() error = %v", err)
		}
	})

	t.Run("stranger sees nothing", func(t *testing.T) {
		if _, err := eval.VerifyExtensionAccess(ctx, "sp-1", "ext-tasks", "u-stranger", nil, rbac.RoleViewer); !errors.Is(err, ErrNotFound) {
			t.Fatalf("VerifyExtensionAccess() error = %v, want ErrNotFound", err)
		}
	})
}

func TestHasFeature(t *testing.T) {
	source := &fakeSource{
		listActiveGrants: grantsByResource(map[string][]store.Grant{
			"space/sp-free": {
				{SubjectType: "user", SubjectID: "u-owner", Role: "owner"},
			},
			"space/sp-team": {
				{SubjectType: "user", SubjectID: "u-owner", Role: "owner"},
				{SubjectType: "user", SubjectID: "u-viewer", Role: "viewer"},
			},
		}),
		getSpace: func(_ context.Context, spaceID string) (store.Space, error) {
			plan := "free"
			if spaceID == "sp-team" {
				plan = "team"
			}
			return store.Space{ID: spaceID, Plan: plan}, nil
		},
	}
	eval := NewEvaluator(source, nil)
	ctx := context.Background()

	if eval.HasFeature(ctx, "sp-free", rbac.FeatureAuditLog, "u-owner", nil) {
		t.Fatal("audit log must be off on the free plan")
	}
	if !eval.HasFeature(ctx, "sp-team", rbac.FeatureAuditLog, "u-owner", nil) {
		t.Fatal("audit log should be on for team plan owners")
	}
	if eval.HasFeature(ctx, "sp-team", rbac.FeatureAuditLog, "u-viewer", nil) {
		t.Fatal("viewers must not see the audit log")
	}
	if eval.HasFeature(ctx, "sp-team", rbac.Feature("time_travel"), "u-owner", nil) {
		t.Fatal("unknown features are always disabled")
	}
}
