package store

import (
	"context"
	"encoding/json"
	"fmt"
)

const documentColumns = `id, space_id, title, slug, doc_type, parent_id, properties, published_rev, created_by, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (Document, error) {
	var item Document
	var propertiesRaw []byte
	err := row.Scan(
		&item.ID,
		&item.SpaceID,
		&item.Title,
		&item.Slug,
		&item.Type,
		&item.ParentID,
		&propertiesRaw,
		&item.PublishedRev,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Document{}, err
	}
	if len(propertiesRaw) > 0 {
		_ = json.Unmarshal(propertiesRaw, &item.Properties)
	}
	return item, nil
}

// InsertDocument creates the document row and its first revision in one
// transaction, leaving the published pointer at revision 1. A slug collision
// inside the space surfaces as ErrDuplicateSlug without side effects.
func (s *PostgresStore) InsertDocument(ctx context.Context, item Document, first Revision) error {
	properties := item.Properties
	if properties == nil {
		properties = map[string]any{}
	}
	encodedProperties, err := json.Marshal(properties)
	if err != nil {
		return fmt.Errorf("marshal document properties: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, space_id, title, slug, doc_type, parent_id, properties, published_rev, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, 1, $8)
	`, item.ID, item.SpaceID, item.Title, item.Slug, item.Type, item.ParentID, string(encodedProperties), item.CreatedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSlug
		}
		return fmt.Errorf("insert document: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO revisions (id, document_id, rev, parent_rev, checksum, message, content, created_by)
		VALUES ($1, $2, 1, 0, $3, $4, $5, $6)
	`, first.ID, item.ID, first.Checksum, first.Message, first.Content, first.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert first revision: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, spaceID, documentID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE space_id=$1 AND id=$2
	`, spaceID, documentID)
	return scanDocument(row)
}

// GetDocumentByID looks a document up without a space qualifier. Used by
// credential resolution and the CLI, where only the id is known up front.
func (s *PostgresStore) GetDocumentByID(ctx context.Context, documentID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE id=$1
	`, documentID)
	return scanDocument(row)
}

// ListDocuments returns one page of a space's documents, newest first, and
// the total count. Content never travels with listings.
func (s *PostgresStore) ListDocuments(ctx context.Context, spaceID string, limit, offset int) ([]Document, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE space_id=$1`, spaceID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE space_id=$1
		ORDER BY updated_at DESC, id ASC
		LIMIT $2 OFFSET $3
	`, spaceID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate documents: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) UpdateDocumentMeta(ctx context.Context, documentID, title string, parentID *string, properties map[string]any) error {
	if properties == nil {
		properties = map[string]any{}
	}
	encodedProperties, err := json.Marshal(properties)
	if err != nil {
		return fmt.Errorf("marshal document properties: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE documents
		SET title=$2, parent_id=$3, properties=$4::jsonb, updated_at=NOW()
		WHERE id=$1
	`, documentID, title, parentID, string(encodedProperties))
	if err != nil {
		return fmt.Errorf("update document meta: %w", err)
	}
	return nil
}

// SetPublishedRev moves the published pointer. Returns false when rev names
// no stored revision of the document; pointing at the current value is a
// no-op that still reports true.
func (s *PostgresStore) SetPublishedRev(ctx context.Context, documentID string, rev int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET published_rev=$2, updated_at=NOW()
		WHERE id=$1
		  AND EXISTS(SELECT 1 FROM revisions WHERE document_id=$1 AND rev=$2)
	`, documentID, rev)
	if err != nil {
		return false, fmt.Errorf("set published rev: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set published rev affected: %w", err)
	}
	return affected > 0, nil
}

// DeleteDocument removes the document, its revisions, and every grant
// addressing it. Grants must not outlive their resource.
func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM grants WHERE resource_type='document' AND resource_id=$1`, documentID); err != nil {
		return fmt.Errorf("delete document grants: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM revisions WHERE document_id=$1`, documentID); err != nil {
		return fmt.Errorf("delete document revisions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete document: %w", err)
	}
	return nil
}

// AppendRevision claims the next revision number for the document in a
// single statement. The unique index on (document_id, rev) turns a lost race
// into ErrRevisionConflict; parent_rev always records the head it extended.
func (s *PostgresStore) AppendRevision(ctx context.Context, item Revision) (Revision, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO revisions (id, document_id, rev, parent_rev, checksum, message, content, created_by)
		SELECT $1, $2, COALESCE(MAX(rev), 0)+1, COALESCE(MAX(rev), 0), $3, $4, $5, $6
		FROM revisions
		WHERE document_id=$2
		RETURNING rev, parent_rev, created_at
	`, item.ID, item.DocumentID, item.Checksum, item.Message, item.Content, item.CreatedBy).Scan(&item.Rev, &item.ParentRev, &item.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Revision{}, ErrRevisionConflict
		}
		return Revision{}, fmt.Errorf("append revision: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE documents SET updated_at=NOW() WHERE id=$1`, item.DocumentID); err != nil {
		return Revision{}, fmt.Errorf("touch document: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetRevision(ctx context.Context, documentID string, rev int64) (Revision, error) {
	var item Revision
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, rev, parent_rev, checksum, message, content, created_by, created_at
		FROM revisions
		WHERE document_id=$1 AND rev=$2
	`, documentID, rev).Scan(
		&item.ID,
		&item.DocumentID,
		&item.Rev,
		&item.ParentRev,
		&item.Checksum,
		&item.Message,
		&item.Content,
		&item.CreatedBy,
		&item.CreatedAt,
	)
	if err != nil {
		return Revision{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetHeadRevision(ctx context.Context, documentID string) (Revision, error) {
	var item Revision
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, rev, parent_rev, checksum, message, content, created_by, created_at
		FROM revisions
		WHERE document_id=$1
		ORDER BY rev DESC
		LIMIT 1
	`, documentID).Scan(
		&item.ID,
		&item.DocumentID,
		&item.Rev,
		&item.ParentRev,
		&item.Checksum,
		&item.Message,
		&item.Content,
		&item.CreatedBy,
		&item.CreatedAt,
	)
	if err != nil {
		return Revision{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListRevisions(ctx context.Context, documentID string, limit, offset int) ([]RevisionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, rev, parent_rev, checksum, message, created_by, created_at
		FROM revisions
		WHERE document_id=$1
		ORDER BY rev DESC
		LIMIT $2 OFFSET $3
	`, documentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	items := make([]RevisionSummary, 0)
	for rows.Next() {
		var item RevisionSummary
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.Rev, &item.ParentRev, &item.Checksum, &item.Message, &item.CreatedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revisions: %w", err)
	}
	return items, nil
}
