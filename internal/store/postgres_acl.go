package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// UpsertGrant stores one role per (subject, resource), replacing any prior
// grant for the same pair.
func (s *PostgresStore) UpsertGrant(ctx context.Context, grant Grant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO grants (id, subject_type, subject_id, resource_type, resource_id, space_id, role, granted_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (subject_type, subject_id, resource_type, resource_id)
		DO UPDATE SET role=EXCLUDED.role, granted_by=EXCLUDED.granted_by, granted_at=NOW(), expires_at=EXCLUDED.expires_at
	`, grant.ID, grant.SubjectType, grant.SubjectID, grant.ResourceType, grant.ResourceID, grant.SpaceID, grant.Role, grant.GrantedBy, grant.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert grant: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteGrant(ctx context.Context, subjectType, subjectID, resourceType, resourceID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM grants
		WHERE subject_type=$1 AND subject_id=$2 AND resource_type=$3 AND resource_id=$4
	`, subjectType, subjectID, resourceType, resourceID)
	if err != nil {
		return false, fmt.Errorf("delete grant: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete grant affected: %w", err)
	}
	return affected > 0, nil
}

// ListActiveGrants returns every unexpired grant addressing a resource.
// Subject filtering happens in the evaluator.
func (s *PostgresStore) ListActiveGrants(ctx context.Context, resourceType, resourceID string) ([]Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_type, subject_id, resource_type, resource_id, space_id, role, granted_by, granted_at, expires_at
		FROM grants
		WHERE resource_type=$1 AND resource_id=$2
		  AND (expires_at IS NULL OR expires_at > NOW())
	`, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("list active grants: %w", err)
	}
	defer rows.Close()

	items := make([]Grant, 0)
	for rows.Next() {
		var item Grant
		if err := rows.Scan(&item.ID, &item.SubjectType, &item.SubjectID, &item.ResourceType, &item.ResourceID, &item.SpaceID, &item.Role, &item.GrantedBy, &item.GrantedAt, &item.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grants: %w", err)
	}
	return items, nil
}

// ListGrants returns a resource's grants with joined subject details for
// admin listings. Expired grants are included so admins can see and clean
// them up.
func (s *PostgresStore) ListGrants(ctx context.Context, resourceType, resourceID string) ([]GrantWithDetails, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.subject_type, g.subject_id, g.resource_type, g.resource_id, g.space_id, g.role, g.granted_by, g.granted_at, g.expires_at,
			u.email, u.display_name,
			gr.name,
			(SELECT COUNT(*) FROM group_memberships gm WHERE gm.group_id=gr.id)
		FROM grants g
		LEFT JOIN users u ON g.subject_type='user' AND u.id=g.subject_id
		LEFT JOIN groups gr ON g.subject_type='group' AND gr.id=g.subject_id
		WHERE g.resource_type=$1 AND g.resource_id=$2
		ORDER BY g.granted_at ASC
	`, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	items := make([]GrantWithDetails, 0)
	for rows.Next() {
		var item GrantWithDetails
		var memberCount *int
		if err := rows.Scan(
			&item.ID, &item.SubjectType, &item.SubjectID, &item.ResourceType, &item.ResourceID, &item.SpaceID, &item.Role, &item.GrantedBy, &item.GrantedAt, &item.ExpiresAt,
			&item.UserEmail, &item.UserName,
			&item.GroupName,
			&memberCount,
		); err != nil {
			return nil, fmt.Errorf("scan grant details: %w", err)
		}
		item.MemberCount = memberCount
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grant details: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertGroup(ctx context.Context, group Group) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO groups (id, name, description)
		VALUES ($1, $2, $3)
	`, group.ID, group.Name, group.Description)
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetGroup(ctx context.Context, groupID string) (Group, error) {
	var item Group
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM groups
		WHERE id=$1
	`, groupID).Scan(&item.ID, &item.Name, &item.Description, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Group{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM groups
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	items := make([]Group, 0)
	for rows.Next() {
		var item Group
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return items, nil
}

// DeleteGroup removes the group, its memberships, and its grants together.
func (s *PostgresStore) DeleteGroup(ctx context.Context, groupID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete group: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM grants WHERE subject_type='group' AND subject_id=$1`, groupID); err != nil {
		return fmt.Errorf("delete group grants: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM group_memberships WHERE group_id=$1`, groupID); err != nil {
		return fmt.Errorf("delete group memberships: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id=$1`, groupID); err != nil {
		return fmt.Errorf("delete group: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete group: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddGroupMember(ctx context.Context, id, groupID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_memberships (id, group_id, user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id, user_id) DO NOTHING
	`, id, groupID, userID)
	if err != nil {
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM group_memberships WHERE group_id=$1 AND user_id=$2
	`, groupID, userID)
	if err != nil {
		return false, fmt.Errorf("remove group member: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove group member affected: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListGroupMembers(ctx context.Context, groupID string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.display_name, u.email, u.is_external, u.deactivated_at
		FROM group_memberships gm
		JOIN users u ON u.id = gm.user_id
		WHERE gm.group_id=$1
		ORDER BY u.display_name ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var item User
		if err := rows.Scan(&item.ID, &item.DisplayName, &item.Email, &item.IsExternal, &item.DeactivatedAt); err != nil {
			return nil, fmt.Errorf("scan group member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group members: %w", err)
	}
	return items, nil
}

// ListGroupIDsForUser resolves a user's group memberships for permission
// evaluation.
func (s *PostgresStore) ListGroupIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_id FROM group_memberships WHERE user_id=$1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user groups: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user group: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user groups: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) InsertAccessToken(ctx context.Context, token AccessToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_tokens (id, token_hash, name, space_id, resource_type, resource_id, max_role, created_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, token.ID, token.TokenHash, token.Name, token.SpaceID, token.ResourceType, token.ResourceID, token.MaxRole, token.CreatedBy, token.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAccessTokenByHash(ctx context.Context, tokenHash string) (AccessToken, error) {
	var item AccessToken
	err := s.db.QueryRowContext(ctx, `
		SELECT id, token_hash, name, space_id, resource_type, resource_id, max_role, created_by, created_at, expires_at, revoked_at
		FROM access_tokens
		WHERE token_hash=$1
	`, tokenHash).Scan(&item.ID, &item.TokenHash, &item.Name, &item.SpaceID, &item.ResourceType, &item.ResourceID, &item.MaxRole, &item.CreatedBy, &item.CreatedAt, &item.ExpiresAt, &item.RevokedAt)
	if err != nil {
		return AccessToken{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListAccessTokens(ctx context.Context, spaceID string) ([]AccessToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, token_hash, name, space_id, resource_type, resource_id, max_role, created_by, created_at, expires_at, revoked_at
		FROM access_tokens
		WHERE space_id=$1
		ORDER BY created_at DESC
	`, spaceID)
	if err != nil {
		return nil, fmt.Errorf("list access tokens: %w", err)
	}
	defer rows.Close()

	items := make([]AccessToken, 0)
	for rows.Next() {
		var item AccessToken
		if err := rows.Scan(&item.ID, &item.TokenHash, &item.Name, &item.SpaceID, &item.ResourceType, &item.ResourceID, &item.MaxRole, &item.CreatedBy, &item.CreatedAt, &item.ExpiresAt, &item.RevokedAt); err != nil {
			return nil, fmt.Errorf("scan access token: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate access tokens: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, spaceID, tokenID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE access_tokens SET revoked_at=NOW()
		WHERE id=$1 AND space_id=$2 AND revoked_at IS NULL
	`, tokenID, spaceID)
	if err != nil {
		return false, fmt.Errorf("revoke access token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke access token affected: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) GetExtensionEntry(ctx context.Context, spaceID, extensionID, key string) (ExtensionEntry, error) {
	var item ExtensionEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT space_id, extension_id, key, value, updated_at
		FROM extension_storage
		WHERE space_id=$1 AND extension_id=$2 AND key=$3
	`, spaceID, extensionID, key).Scan(&item.SpaceID, &item.ExtensionID, &item.Key, &item.Value, &item.UpdatedAt)
	if err != nil {
		return ExtensionEntry{}, err
	}
	return item, nil
}

// PutExtensionEntry overwrites the value for (space, extension, key).
// Values are opaque; no history is kept.
func (s *PostgresStore) PutExtensionEntry(ctx context.Context, spaceID, extensionID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO extension_storage (space_id, extension_id, key, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (space_id, extension_id, key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()
	`, spaceID, extensionID, key, value)
	if err != nil {
		return fmt.Errorf("put extension entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteExtensionEntry(ctx context.Context, spaceID, extensionID, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM extension_storage
		WHERE space_id=$1 AND extension_id=$2 AND key=$3
	`, spaceID, extensionID, key)
	if err != nil {
		return false, fmt.Errorf("delete extension entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete extension entry affected: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListExtensionKeys(ctx context.Context, spaceID, extensionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM extension_storage
		WHERE space_id=$1 AND extension_id=$2
		ORDER BY key ASC
	`, spaceID, extensionID)
	if err != nil {
		return nil, fmt.Errorf("list extension keys: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan extension key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate extension keys: %w", err)
	}
	return keys, nil
}

func (s *PostgresStore) InsertAuditEvent(ctx context.Context, event AuditEvent) error {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	encodedPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (action, actor_id, space_id, resource_type, resource_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
	`, event.Action, event.ActorID, event.SpaceID, event.ResourceType, event.ResourceID, string(encodedPayload))
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAuditEvents(ctx context.Context, spaceID string, limit, offset int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, actor_id, space_id, resource_type, resource_id, payload, created_at
		FROM audit_events
		WHERE space_id=$1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, spaceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	items := make([]AuditEvent, 0)
	for rows.Next() {
		var item AuditEvent
		var payloadRaw []byte
		if err := rows.Scan(&item.ID, &item.Action, &item.ActorID, &item.SpaceID, &item.ResourceType, &item.ResourceID, &payloadRaw, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		_ = json.Unmarshal(payloadRaw, &item.Payload)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertAttachment(ctx context.Context, item Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, document_id, space_id, filename, content_type, size, object_key, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.DocumentID, item.SpaceID, item.Filename, item.ContentType, item.Size, item.ObjectKey, item.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAttachment(ctx context.Context, attachmentID string) (Attachment, error) {
	var item Attachment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, space_id, filename, content_type, size, object_key, uploaded_by, created_at
		FROM attachments
		WHERE id=$1
	`, attachmentID).Scan(&item.ID, &item.DocumentID, &item.SpaceID, &item.Filename, &item.ContentType, &item.Size, &item.ObjectKey, &item.UploadedBy, &item.CreatedAt)
	if err != nil {
		return Attachment{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListAttachments(ctx context.Context, documentID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, space_id, filename, content_type, size, object_key, uploaded_by, created_at
		FROM attachments
		WHERE document_id=$1
		ORDER BY created_at DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]Attachment, 0)
	for rows.Next() {
		var item Attachment
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.SpaceID, &item.Filename, &item.ContentType, &item.Size, &item.ObjectKey, &item.UploadedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteAttachment(ctx context.Context, attachmentID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE id=$1`, attachmentID)
	if err != nil {
		return false, fmt.Errorf("delete attachment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete attachment affected: %w", err)
	}
	return affected > 0, nil
}
