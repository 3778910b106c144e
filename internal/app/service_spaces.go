package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/luckydye/scroll/internal/acl"
	"github.com/luckydye/scroll/internal/auth"
	"github.com/luckydye/scroll/internal/export"
	"github.com/luckydye/scroll/internal/rbac"
	"github.com/luckydye/scroll/internal/store"
	"github.com/luckydye/scroll/internal/util"
)

type CreateSpaceInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Visibility  string `json:"visibility"`
	Plan        string `json:"plan"`
}

type GrantInput struct {
	SubjectType  string  `json:"subjectType"`
	SubjectID    string  `json:"subjectId"`
	ResourceType string  `json:"resourceType"`
	ResourceID   string  `json:"resourceId"`
	Role         string  `json:"role"`
	ExpiresAt    *string `json:"expiresAt"`
}

type CreateTokenInput struct {
	Name         string  `json:"name"`
	ResourceType string  `json:"resourceType"`
	ResourceID   string  `json:"resourceId"`
	MaxRole      string  `json:"maxRole"`
	ExpiresAt    *string `json:"expiresAt"`
}

// CreateSpace is a session-only operation: scoped tokens cannot mint spaces.
// The creator receives an owner grant in the same breath.
func (s *Service) CreateSpace(ctx context.Context, ident auth.Identity, in CreateSpaceInput) (map[string]any, error) {
	if ident.Kind != auth.IdentitySession {
		return nil, acl.ErrForbidden
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, validationError("name is required", nil)
	}
	visibility := in.Visibility
	if visibility == "" {
		visibility = "private"
	}
	if visibility != "private" && visibility != "public" {
		return nil, validationError("visibility must be private or public", nil)
	}
	plan := in.Plan
	if plan == "" {
		plan = "free"
	}

	space := store.Space{
		ID:          util.NewID("spc"),
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Visibility:  visibility,
		Plan:        plan,
		CreatedBy:   ident.User.ID,
	}
	baseSlug := util.Slugify(name)
	inserted := false
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		space.Slug = baseSlug
		if attempt > 0 {
			space.Slug = fmt.Sprintf("%s-%d", baseSlug, attempt+1)
		}
		err := s.store.InsertSpace(ctx, space)
		if errors.Is(err, store.ErrDuplicateSlug) {
			continue
		}
		if err != nil {
			return nil, err
		}
		inserted = true
		break
	}
	if !inserted {
		return nil, conflictError("SLUG_CONFLICT", "could not find a free slug for this name", nil)
	}

	creatorID := ident.User.ID
	if err := s.store.UpsertGrant(ctx, store.Grant{
		ID:           util.NewID("grt"),
		SubjectType:  "user",
		SubjectID:    creatorID,
		ResourceType: acl.ResourceSpace,
		ResourceID:   space.ID,
		SpaceID:      space.ID,
		Role:         string(rbac.RoleOwner),
		GrantedBy:    &creatorID,
	}); err != nil {
		return nil, err
	}

	s.audit(ctx, ident, "space.create", space.ID, acl.ResourceSpace, space.ID, map[string]any{"name": name})
	return spacePayload(space), nil
}

// ListSpaces returns the spaces the caller can see: public ones plus any it
// holds a grant on. Token identities see only their bound space.
func (s *Service) ListSpaces(ctx context.Context, ident auth.Identity) (map[string]any, error) {
	if ident.Kind == auth.IdentityToken {
		space, err := s.store.GetSpace(ctx, ident.Token.SpaceID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"spaces": []map[string]any{spacePayload(space)}}, nil
	}

	spaces, err := s.store.ListSpaces(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := s.groupIDs(ctx, ident)
	if err != nil {
		return nil, err
	}
	visible := make([]map[string]any, 0, len(spaces))
	for _, space := range spaces {
		if space.Visibility == "public" {
			visible = append(visible, spacePayload(space))
			continue
		}
		_, ok, err := s.acl.GetPermission(ctx, space.ID, acl.ResourceSpace, space.ID, ident.User.ID, groups)
		if err != nil {
			return nil, err
		}
		if ok {
			visible = append(visible, spacePayload(space))
		}
	}
	return map[string]any{"spaces": visible}, nil
}

func (s *Service) GetSpace(ctx context.Context, ident auth.Identity, spaceID string) (map[string]any, error) {
	role, err := s.verifySpace(ctx, ident, spaceID, rbac.RoleViewer)
	if err != nil {
		return nil, err
	}
	space, err := s.store.GetSpace(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	payload := spacePayload(space)
	payload["role"] = role
	return payload, nil
}

func (s *Service) UpdateSpace(ctx context.Context, ident auth.Identity, spaceID, name, description, visibility string) (map[string]any, error) {
	if _, err := s.verifySpace(ctx, ident, spaceID, rbac.RoleOwner); err != nil {
		return nil, err
	}
	space, err := s.store.GetSpace(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		name = space.Name
	}
	if description == "" {
		description = space.Description
	}
	if visibility == "" {
		visibility = space.Visibility
	}
	if visibility != "private" && visibility != "public" {
		return nil, validationError("visibility must be private or public", nil)
	}
	if err := s.store.UpdateSpace(ctx, spaceID, strings.TrimSpace(name), description, visibility); err != nil {
		return nil, err
	}
	updated, err := s.store.GetSpace(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, ident, "space.update", spaceID, acl.ResourceSpace, spaceID, map[string]any{"visibility": visibility})
	return spacePayload(updated), nil
}

func (s *Service) DeleteSpace(ctx context.Context, ident auth.Identity, spaceID string) error {
	if _, err := s.verifySpace(ctx, ident, spaceID, rbac.RoleOwner); err != nil {
		return err
	}
	if err := s.store.DeleteSpace(ctx, spaceID); err != nil {
		if errors.Is(err, store.ErrSpaceNotEmpty) {
			return conflictError("SPACE_NOT_EMPTY", "delete or move the space's documents first", nil)
		}
		return err
	}
	s.audit(ctx, ident, "space.delete", spaceID, acl.ResourceSpace, spaceID, nil)
	return nil
}

// GrantPermission assigns a role on a space, document, or extension. Only a
// space owner may manage grants, and only through a session.
func (s *Service) GrantPermission(ctx context.Context, ident auth.Identity, spaceID string, in GrantInput) (map[string]any, error) {
	if ident.Kind != auth.IdentitySession {
		return nil, acl.ErrForbidden
	}
	if _, err := s.verifySpace(ctx, ident, spaceID, rbac.RoleOwner); err != nil {
		return nil, err
	}

	if in.SubjectType != "user" && in.SubjectType != "group" {
		return nil, validationError("subjectType must be user or group", nil)
	}
	if in.SubjectID == "" {
		return nil, validationError("subjectId is required", nil)
	}
	if !rbac.Valid(in.Role) {
		return nil, validationError("role must be viewer, commenter, editor or owner", nil)
	}
	resourceType := in.ResourceType
	resourceID := in.ResourceID
	if resourceType == "" {
		resourceType = acl.ResourceSpace
		resourceID = spaceID
	}
	switch resourceType {
	case acl.ResourceSpace:
		resourceID = spaceID
	case acl.ResourceDocument:
		if _, err := s.store.GetDocument(ctx, spaceID, resourceID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, validationError("document does not exist in this space", nil)
			}
			return nil, err
		}
	case acl.ResourceExtension:
		if resourceID == "" {
			return nil, validationError("resourceId is required for extension grants", nil)
		}
	default:
		return nil, validationError("resourceType must be space, document or extension", nil)
	}

	expiresAt, err := parseOptionalTime(in.ExpiresAt)
	if err != nil {
		return nil, validationError("expiresAt must be RFC 3339", nil)
	}

	grantedBy := ident.User.ID
	grant := store.Grant{
		ID:           util.NewID("grt"),
		SubjectType:  in.SubjectType,
		SubjectID:    in.SubjectID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		SpaceID:      spaceID,
		Role:         string(rbac.Normalize(in.Role)),
		GrantedBy:    &grantedBy,
		ExpiresAt:    expiresAt,
	}
	if err := s.store.UpsertGrant(ctx, grant); err != nil {
		return nil, err
	}

	s.audit(ctx, ident, "permission.grant", spaceID, resourceType, resourceID, map[string]any{
		"subjectType": in.SubjectType,
		"subjectId":   in.SubjectID,
		"role":        grant.Role,
	})
	return map[string]any{
		"id":           grant.ID,
		"subjectType":  grant.SubjectType,
		"subjectId":    grant.SubjectID,
		"resourceType": grant.ResourceType,
		"resourceId":   grant.ResourceID,
		"spaceId":      grant.SpaceID,
		"role":         grant.Role,
	}, nil
}

func (s *Service) RevokePermission(ctx context.Context, ident auth.Identity, spaceID, subjectType, subjectID, resourceType, resourceID string) error {
	if ident.Kind != auth.IdentitySession {
		return acl.ErrForbidden
	}
	if _, err := s.verifySpace(ctx, ident, spaceID, rbac.RoleOwner); err != nil {
		return err
	}
	if resourceType == "" {
		resourceType = acl.ResourceSpace
		resourceID = spaceID
	}
	ok, err := s.store.DeleteGrant(ctx, subjectType, subjectID, resourceType, resourceID)
	if err != nil {
		return err
	}
	if !ok {
		return notFoundError()
	}
	s.audit(ctx, ident, "permission.revoke", spaceID, resourceType, resourceID, map[string]any{
		"subjectType": subjectType,
		"subjectId":   subjectID,
	})
	return nil
}

func (s *Service) ListPermissions(ctx context.Context, ident auth.Identity, spaceID, resourceType, resourceID string) (map[string]any, error) {
	if _, err := s.verifySpace(ctx, ident, spaceID, rbac.RoleOwner); err != nil {
		return nil, err
	}
	if resourceType == "" {
		resourceType = acl.ResourceSpace
		resourceID = spaceID
	}
	grants, err := s.store.ListGrants(ctx, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(grants))
	for _, grant := range grants {
		item := map[string]any{
			"id":           grant.ID,
			"subjectType":  grant.SubjectType,
			"subjectId":    grant.SubjectID,
			"resourceType": grant.ResourceType,
			"resourceId":   grant.ResourceID,
			"role":         grant.Role,
			"grantedAt":    grant.GrantedAt.Format(time.RFC3339),
		}
		if grant.ExpiresAt != nil {
			item["expiresAt"] = grant.ExpiresAt.Format(time.RFC3339)
		}
		if grant.UserEmail != nil {
			item["userEmail"] = *grant.UserEmail
		}
		if grant.UserName != nil {
			item["userName"] = *grant.UserName
		}
		if grant.GroupName != nil {
			item["groupName"] = *grant.GroupName
		}
		if grant.MemberCount != nil {
			item["memberCount"] = *grant.MemberCount
		}
		items = append(items, item)
	}
	return map[string]any{"grants": items}, nil
}

// Groups are account-level; any session user may create one and manage its
// members. Tokens have no business here.
func (s *Service) CreateGroup(ctx context.Context, ident auth.Identity, name, description string) (map[string]any, error) {
	if ident.Kind != auth.IdentitySession {
		return nil, acl.ErrForbidden
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("name is required", nil)
	}
	group := store.Group{
		ID:          util.NewID("grp"),
		Name:        name,
		Description: strings.TrimSpace(description),
	}
	if err := s.store.InsertGroup(ctx, group); err != nil {
		return nil, err
	}
	return groupPayload(group), nil
}

func (s *Service) ListGroups(ctx context.Context, ident auth.Identity) (map[string]any, error) {
	if ident.Kind != auth.IdentitySession {
		return nil, acl.ErrForbidden
	}
	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(groups))
	for _, group := range groups {
		items = append(items, groupPayload(group))
	}
	return map[string]any{"groups": items}, nil
}

func (s *Service) DeleteGroup(ctx context.Context, ident auth.Identity, groupID string) error {
	if ident.Kind != auth.IdentitySession {
		return acl.ErrForbidden
	}
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return err
	}
	return s.store.DeleteGroup(ctx, groupID)
}

func (s *Service) AddGroupMember(ctx context.Context, ident auth.Identity, groupID, userID string) error {
	if ident.Kind != auth.IdentitySession {
		return acl.ErrForbidden
	}
	if userID == "" {
		return validationError("userId is required", nil)
	}
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return err
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return validationError("user does not exist", nil)
		}
		return err
	}
	return s.store.AddGroupMember(ctx, util.NewID("gmb"), groupID, userID)
}

func (s *Service) RemoveGroupMember(ctx context.Context, ident auth.Identity, groupID, userID string) error {
	if ident.Kind != auth.IdentitySession {
		return acl.ErrForbidden
	}
	ok, err := s.store.RemoveGroupMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return notFoundError()
	}
	return nil
}

func (s *Service) ListGroupMembers(ctx context.Context, ident auth.Identity, groupID string) (map[string]any, error) {
	if ident.Kind != auth.IdentitySession {
		return nil, acl.ErrForbidden
	}
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	members, err := s.store.ListGroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(members))
	for _, member := range members {
		items = append(items, map[string]any{
			"id":    member.ID,
			"name":  member.DisplayName,
			"email": member.Email,
		})
	}
	return map[string]any{"members": items}, nil
}

// CreateAccessToken mints a scoped programmatic credential. The plaintext is
// returned exactly once; only its hash is stored.
func (s *Service) CreateAccessToken(ctx context.Context, ident auth.Identity, spaceID string, in CreateTokenInput) (map[string]any, error) {
	if ident.Kind != auth.IdentitySession {
		return nil, acl.ErrForbidden
	}
	if _, err := s.verifySpace(ctx, ident, spaceID, rbac.RoleOwner); err != nil {
		return nil, err
	}

	if strings.TrimSpace(in.Name) == "" {
		return nil, validationError("name is required", nil)
	}
	if !rbac.Valid(in.MaxRole) {
		return nil, validationError("maxRole must be viewer, commenter, editor or owner", nil)
	}
	resourceType := in.ResourceType
	resourceID := in.ResourceID
	switch resourceType {
	case "", acl.ResourceSpace:
		resourceType = acl.ResourceSpace
		resourceID = spaceID
	case acl.ResourceDocument:
		if _, err := s.store.GetDocument(ctx, spaceID, resourceID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, validationError("document does not exist in this space", nil)
			}
			return nil, err
		}
	case acl.ResourceExtension:
		if resourceID == "" {
			return nil, validationError("resourceId is required for extension tokens", nil)
		}
	default:
		return nil, validationError("resourceType must be space, document or extension", nil)
	}
	expiresAt, err := parseOptionalTime(in.ExpiresAt)
	if err != nil {
		return nil, validationError("expiresAt must be RFC 3339", nil)
	}

	secret := make([]byte, 24)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	plaintext := accessTokenPrefix + hex.EncodeToString(secret)

	record := store.AccessToken{
		ID:           util.NewID("tok"),
		TokenHash:    auth.HashToken(plaintext),
		Name:         strings.TrimSpace(in.Name),
		SpaceID:      spaceID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		MaxRole:      string(rbac.Normalize(in.MaxRole)),
		CreatedBy:    ident.User.ID,
		ExpiresAt:    expiresAt,
	}
	if err := s.store.InsertAccessToken(ctx, record); err != nil {
		return nil, err
	}

	s.audit(ctx, ident, "token.create", spaceID, resourceType, resourceID, map[string]any{
		"tokenId": record.ID,
		"maxRole": record.MaxRole,
	})
	payload := accessTokenPayload(record)
	payload["token"] = plaintext
	return payload, nil
}

func (s *Service) ListAccessTokens(ctx context.Context, ident auth.Identity, spaceID string) (map[string]any, error) {
	if _, err := s.verifySpace(ctx, ident, spaceID, rbac.RoleOwner); err != nil {
		return nil, err
	}
	tokens, err := s.store.ListAccessTokens(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(tokens))
	for _, record := range tokens {
		items = append(items, accessTokenPayload(record))
	}
	return map[string]any{"tokens": items}, nil
}

// RevokeAccessToken is idempotent at the store level but reports 404 for an
// unknown id so callers notice typos.
func (s *Service) RevokeAccessToken(ctx context.Context, ident auth.Identity, spaceID, tokenID string) error {
	if ident.Kind != auth.IdentitySession {
		return acl.ErrForbidden
	}
	if _, err := s.verifySpace(ctx, ident, spaceID, rbac.RoleOwner); err != nil {
		return err
	}
	ok, err := s.store.RevokeAccessToken(ctx, spaceID, tokenID)
	if err != nil {
		return err
	}
	if !ok {
		return notFoundError()
	}
	s.audit(ctx, ident, "token.revoke", spaceID, acl.ResourceSpace, spaceID, map[string]any{"tokenId": tokenID})
	return nil
}

func (s *Service) GetExtensionValue(ctx context.Context, ident auth.Identity, spaceID, extensionID, key string) (map[string]any, error) {
	if _, err := s.verifyExtension(ctx, ident, spaceID, extensionID, rbac.RoleViewer); err != nil {
		return nil, err
	}
	entry, err := s.store.GetExtensionEntry(ctx, spaceID, extensionID, key)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"key":       entry.Key,
		"value":     entry.Value,
		"updatedAt": entry.UpdatedAt.Format(time.RFC3339),
	}, nil
}

func (s *Service) PutExtensionValue(ctx context.Context, ident auth.Identity, spaceID, extensionID, key, value string) error {
	if _, err := s.verifyExtension(ctx, ident, spaceID, extensionID, rbac.RoleEditor); err != nil {
		return err
	}
	if key == "" {
		return validationError("key is required", nil)
	}
	if err := s.store.PutExtensionEntry(ctx, spaceID, extensionID, key, value); err != nil {
		return err
	}
	s.audit(ctx, ident, "extension.put", spaceID, acl.ResourceExtension, extensionID, map[string]any{"key": key})
	return nil
}

func (s *Service) DeleteExtensionValue(ctx context.Context, ident auth.Identity, spaceID, extensionID, key string) error {
	if _, err := s.verifyExtension(ctx, ident, spaceID, extensionID, rbac.RoleEditor); err != nil {
		return err
	}
	ok, err := s.store.DeleteExtensionEntry(ctx, spaceID, extensionID, key)
	if err != nil {
		return err
	}
	if !ok {
		return notFoundError()
	}
	s.audit(ctx, ident, "extension.delete", spaceID, acl.ResourceExtension, extensionID, map[string]any{"key": key})
	return nil
}

func (s *Service) ListExtensionKeys(ctx context.Context, ident auth.Identity, spaceID, extensionID string) (map[string]any, error) {
	if _, err := s.verifyExtension(ctx, ident, spaceID, extensionID, rbac.RoleViewer); err != nil {
		return nil, err
	}
	keys, err := s.store.ListExtensionKeys(ctx, spaceID, extensionID)
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []string{}
	}
	return map[string]any{"keys": keys}, nil
}

// ListAuditEvents is gated twice: the caller must own the space, and the
// space's plan must carry the audit log feature.
func (s *Service) ListAuditEvents(ctx context.Context, ident auth.Identity, spaceID string, limit, offset int) (map[string]any, error) {
	role, err := s.verifySpace(ctx, ident, spaceID, rbac.RoleOwner)
	if err != nil {
		return nil, err
	}
	space, err := s.store.GetSpace(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	if !rbac.DefaultCatalog().Enabled(rbac.FeatureAuditLog, role, space.Plan) {
		return nil, acl.ErrForbidden
	}
	if limit < 1 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	events, err := s.store.ListAuditEvents(ctx, spaceID, limit, offset)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(events))
	for _, event := range events {
		items = append(items, map[string]any{
			"id":           event.ID,
			"action":       event.Action,
			"actorId":      event.ActorID,
			"resourceType": event.ResourceType,
			"resourceId":   event.ResourceID,
			"payload":      event.Payload,
			"createdAt":    event.CreatedAt.Format(time.RFC3339),
		})
	}
	return map[string]any{"events": items}, nil
}

// UploadAttachment stores a file in the blob store and records it against a
// document. Returns 503 when no blob backend is configured.
func (s *Service) UploadAttachment(ctx context.Context, ident auth.Identity, spaceID, documentID, filename, contentType string, r io.Reader, size int64) (map[string]any, error) {
	if s.blobs == nil {
		return nil, domainError(503, "STORAGE_UNAVAILABLE", "Attachment storage is not configured", nil)
	}
	if _, err := s.verifyDocument(ctx, ident, spaceID, documentID, rbac.RoleEditor); err != nil {
		return nil, err
	}
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, validationError("filename is required", nil)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	item := store.Attachment{
		ID:          util.NewID("att"),
		DocumentID:  documentID,
		SpaceID:     spaceID,
		Filename:    filename,
		ContentType: contentType,
		UploadedBy:  ident.SubjectID(),
	}
	item.ObjectKey = fmt.Sprintf("%s/%s/%s", spaceID, documentID, item.ID)

	written, err := s.blobs.Put(ctx, item.ObjectKey, r, size, contentType)
	if err != nil {
		return nil, err
	}
	item.Size = written
	if err := s.store.InsertAttachment(ctx, item); err != nil {
		_ = s.blobs.Delete(ctx, item.ObjectKey)
		return nil, err
	}

	s.audit(ctx, ident, "attachment.upload", spaceID, acl.ResourceDocument, documentID, map[string]any{
		"attachmentId": item.ID,
		"filename":     filename,
		"size":         written,
	})
	return attachmentPayload(item), nil
}

func (s *Service) GetAttachment(ctx context.Context, ident auth.Identity, spaceID, documentID, attachmentID string) (store.Attachment, io.ReadCloser, error) {
	if s.blobs == nil {
		return store.Attachment{}, nil, domainError(503, "STORAGE_UNAVAILABLE", "Attachment storage is not configured", nil)
	}
	if _, err := s.verifyDocument(ctx, ident, spaceID, documentID, rbac.RoleViewer); err != nil {
		return store.Attachment{}, nil, err
	}
	item, err := s.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		return store.Attachment{}, nil, err
	}
	if item.DocumentID != documentID || item.SpaceID != spaceID {
		return store.Attachment{}, nil, acl.ErrNotFound
	}
	body, err := s.blobs.Get(ctx, item.ObjectKey)
	if err != nil {
		return store.Attachment{}, nil, err
	}
	return item, body, nil
}

func (s *Service) ListAttachments(ctx context.Context, ident auth.Identity, spaceID, documentID string) (map[string]any, error) {
	if _, err := s.verifyDocument(ctx, ident, spaceID, documentID, rbac.RoleViewer); err != nil {
		return nil, err
	}
	attachments, err := s.store.ListAttachments(ctx, documentID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(attachments))
	for _, item := range attachments {
		items = append(items, attachmentPayload(item))
	}
	return map[string]any{"attachments": items}, nil
}

func (s *Service) DeleteAttachment(ctx context.Context, ident auth.Identity, spaceID, documentID, attachmentID string) error {
	if _, err := s.verifyDocument(ctx, ident, spaceID, documentID, rbac.RoleEditor); err != nil {
		return err
	}
	item, err := s.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		return err
	}
	if item.DocumentID != documentID || item.SpaceID != spaceID {
		return acl.ErrNotFound
	}
	ok, err := s.store.DeleteAttachment(ctx, attachmentID)
	if err != nil {
		return err
	}
	if !ok {
		return notFoundError()
	}
	if s.blobs != nil {
		_ = s.blobs.Delete(ctx, item.ObjectKey)
	}
	s.audit(ctx, ident, "attachment.delete", spaceID, acl.ResourceDocument, documentID, map[string]any{"attachmentId": attachmentID})
	return nil
}

// ExportRevision renders a document revision (rev 0 means head) to the
// requested format.
func (s *Service) ExportRevision(ctx context.Context, ident auth.Identity, spaceID, documentID string, rev int64, format string) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(503, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	if _, err := s.verifyDocument(ctx, ident, spaceID, documentID, rbac.RoleViewer); err != nil {
		return nil, err
	}
	if rev < 0 {
		return nil, validationError("rev must not be negative", nil)
	}

	var exportFormat export.Format
	switch format {
	case "", "pdf":
		exportFormat = export.FormatPDF
	case "docx":
		exportFormat = export.FormatDOCX
	default:
		return nil, validationError("format must be pdf or docx", nil)
	}

	result, err := s.exporter.Export(ctx, export.Request{
		SpaceID:    spaceID,
		DocumentID: documentID,
		Rev:        rev,
		Format:     exportFormat,
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, ident, "document.export", spaceID, acl.ResourceDocument, documentID, map[string]any{
		"rev":    rev,
		"format": string(exportFormat),
	})
	return result, nil
}

func parseOptionalTime(value *string) (*time.Time, error) {
	if value == nil || *value == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, *value)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func spacePayload(space store.Space) map[string]any {
	return map[string]any{
		"id":          space.ID,
		"name":        space.Name,
		"slug":        space.Slug,
		"description": space.Description,
		"visibility":  space.Visibility,
		"plan":        space.Plan,
		"createdBy":   space.CreatedBy,
		"createdAt":   space.CreatedAt.Format(time.RFC3339),
		"updatedAt":   space.UpdatedAt.Format(time.RFC3339),
	}
}

func groupPayload(group store.Group) map[string]any {
	return map[string]any{
		"id":          group.ID,
		"name":        group.Name,
		"description": group.Description,
		"createdAt":   group.CreatedAt.Format(time.RFC3339),
	}
}

func accessTokenPayload(record store.AccessToken) map[string]any {
	payload := map[string]any{
		"id":           record.ID,
		"name":         record.Name,
		"spaceId":      record.SpaceID,
		"resourceType": record.ResourceType,
		"resourceId":   record.ResourceID,
		"maxRole":      record.MaxRole,
		"createdBy":    record.CreatedBy,
		"createdAt":    record.CreatedAt.Format(time.RFC3339),
	}
	if record.ExpiresAt != nil {
		payload["expiresAt"] = record.ExpiresAt.Format(time.RFC3339)
	}
	if record.RevokedAt != nil {
		payload["revokedAt"] = record.RevokedAt.Format(time.RFC3339)
	}
	return payload
}

func attachmentPayload(item store.Attachment) map[string]any {
	return map[string]any{
		"id":          item.ID,
		"documentId":  item.DocumentID,
		"filename":    item.Filename,
		"contentType": item.ContentType,
		"size":        item.Size,
		"uploadedBy":  item.UploadedBy,
		"createdAt":   item.CreatedAt.Format(time.RFC3339),
	}
}
