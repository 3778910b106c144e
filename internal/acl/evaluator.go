package acl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/luckydye/scroll/internal/rbac"
	"github.com/luckydye/scroll/internal/store"
)

const (
	ResourceSpace     = "space"
	ResourceDocument  = "document"
	ResourceExtension = "extension"
)

var (
	// ErrForbidden means the caller is known to the resource but holds a
	// role below the required threshold.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound covers both a missing resource and a caller with zero
	// visibility. The two are indistinguishable on purpose so that probing
	// for ids reveals nothing.
	ErrNotFound = errors.New("not found")
)

type grantSource interface {
	ListActiveGrants(ctx context.Context, resourceType, resourceID string) ([]store.Grant, error)
	GetSpace(ctx context.Context, spaceID string) (store.Space, error)
	GetDocument(ctx context.Context, spaceID, documentID string) (store.Document, error)
}

// Evaluator computes effective roles from stored grants. It never mutates
// anything and never reports an error for plain "no access".
type Evaluator struct {
	source  grantSource
	catalog *rbac.Catalog
}

func NewEvaluator(source grantSource, catalog *rbac.Catalog) *Evaluator {
	if catalog == nil {
		catalog = rbac.DefaultCatalog()
	}
	return &Evaluator{source: source, catalog: catalog}
}

// GetPermission resolves the effective role of subjectID (with its group
// memberships) on one resource. Grants at the resource's own scope are
// combined by maximum role; when none exist and the resource lives inside a
// space, the subject's space role is inherited instead. A resource-scope
// grant overrides the space role entirely, even when it is lower.
func (e *Evaluator) GetPermission(ctx context.Context, spaceID, resourceType, resourceID, subjectID string, groupIDs []string) (rbac.Role, bool, error) {
	role, ok, err := e.maxGrantedRole(ctx, resourceType, resourceID, subjectID, groupIDs)
	if err != nil {
		return "", false, err
	}
	if ok {
		return role, true, nil
	}
	if resourceType == ResourceSpace {
		return "", false, nil
	}
	return e.maxGrantedRole(ctx, ResourceSpace, spaceID, subjectID, groupIDs)
}

func (e *Evaluator) maxGrantedRole(ctx context.Context, resourceType, resourceID, subjectID string, groupIDs []string) (rbac.Role, bool, error) {
	grants, err := e.source.ListActiveGrants(ctx, resourceType, resourceID)
	if err != nil {
		return "", false, fmt.Errorf("load grants: %w", err)
	}

	groups := make(map[string]bool, len(groupIDs))
	for _, id := range groupIDs {
		groups[id] = true
	}

	var best rbac.Role
	found := false
	for _, grant := range grants {
		switch grant.SubjectType {
		case "user":
			if grant.SubjectID != subjectID {
				continue
			}
		case "group":
			if !groups[grant.SubjectID] {
				continue
			}
		default:
			continue
		}
		candidate := rbac.Role(grant.Role)
		if rbac.Level(candidate) == 0 {
			continue
		}
		if !found || rbac.Level(candidate) > rbac.Level(best) {
			best = candidate
		}
		found = true
	}
	return best, found, nil
}

// HasFeature reports whether subjectID may use feature in the space. The
// decision folds together the subject's effective space role, the feature
// catalog, and the space's plan. Unknown features are disabled; evaluation
// errors also read as disabled.
func (e *Evaluator) HasFeature(ctx context.Context, spaceID string, feature rbac.Feature, subjectID string, groupIDs []string) bool {
	if !e.catalog.Known(feature) {
		return false
	}
	space, err := e.source.GetSpace(ctx, spaceID)
	if err != nil {
		return false
	}
	role, ok, err := e.GetPermission(ctx, spaceID, ResourceSpace, spaceID, subjectID, groupIDs)
	if err != nil || !ok {
		return false
	}
	return e.catalog.Enabled(feature, role, space.Plan)
}

// VerifySpaceRole gates access to a space. A missing space and an invisible
// space produce the same ErrNotFound; a visible space with an insufficient
// role produces ErrForbidden.
func (e *Evaluator) VerifySpaceRole(ctx context.Context, spaceID, subjectID string, groupIDs []string, min rbac.Role) (rbac.Role, error) {
	space, err := e.source.GetSpace(ctx, spaceID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load space: %w", err)
	}

	role, ok, err := e.GetPermission(ctx, spaceID, ResourceSpace, spaceID, subjectID, groupIDs)
	if err != nil {
		return "", err
	}
	if !ok && space.Visibility == "public" {
		role, ok = rbac.RoleViewer, true
	}
	if !ok {
		return "", ErrNotFound
	}
	if !rbac.AtLeast(role, min) {
		return "", ErrForbidden
	}
	return role, nil
}

// VerifyDocumentRole gates access to a document within a space. A public
// space lends its implicit viewer role to the documents inside it, the same
// fallback VerifySpaceRole applies, so listing and reading stay consistent.
func (e *Evaluator) VerifyDocumentRole(ctx context.Context, spaceID, documentID, subjectID string, groupIDs []string, min rbac.Role) (rbac.Role, error) {
	_, err := e.source.GetDocument(ctx, spaceID, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load document: %w", err)
	}

	role, ok, err := e.GetPermission(ctx, spaceID, ResourceDocument, documentID, subjectID, groupIDs)
	if err != nil {
		return "", err
	}
	if !ok {
		space, err := e.source.GetSpace(ctx, spaceID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("load space: %w", err)
		}
		if err == nil && space.Visibility == "public" {
			role, ok = rbac.RoleViewer, true
		}
	}
	if !ok {
		return "", ErrNotFound
	}
	if !rbac.AtLeast(role, min) {
		return "", ErrForbidden
	}
	return role, nil
}

// VerifyExtensionAccess gates an extension's storage namespace. The subject
// needs both an effective role on the extension (or its space) and the
// extension storage feature for the space's plan.
func (e *Evaluator) VerifyExtensionAccess(ctx context.Context, spaceID, extensionID, subjectID string, groupIDs []string, min rbac.Role) (rbac.Role, error) {
	space, err := e.source.GetSpace(ctx, spaceID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load space: %w", err)
	}

	role, ok, err := e.GetPermission(ctx, spaceID, ResourceExtension, extensionID, subjectID, groupIDs)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotFound
	}
	if !rbac.AtLeast(role, min) {
		return "", ErrForbidden
	}
	if !e.catalog.Enabled(rbac.FeatureExtensionStorage, role, space.Plan) {
		return "", ErrForbidden
	}
	return role, nil
}
