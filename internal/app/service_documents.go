package app

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/luckydye/scroll/internal/acl"
	"github.com/luckydye/scroll/internal/auth"
	"github.com/luckydye/scroll/internal/gitmirror"
	"github.com/luckydye/scroll/internal/rbac"
	"github.com/luckydye/scroll/internal/search"
	"github.com/luckydye/scroll/internal/store"
	"github.com/luckydye/scroll/internal/util"
)

// maxSlugAttempts bounds the numeric-suffix retry on slug collisions.
const maxSlugAttempts = 10

type CreateDocumentInput struct {
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	Type       string         `json:"type"`
	ParentID   *string        `json:"parentId"`
	Properties map[string]any `json:"properties"`
}

type SaveRevisionInput struct {
	Content string `json:"content"`
	Message string `json:"message"`
}

func checksumOf(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func (s *Service) CreateDocument(ctx context.Context, ident auth.Identity, spaceID string, in CreateDocumentInput) (map[string]any, error) {
	if _, err := s.verifySpace(ctx, ident, spaceID, rbac.RoleEditor); err != nil {
		return nil, err
	}

	if strings.TrimSpace(in.Content) == "" {
		return nil, validationError("content is required", nil)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = "Untitled"
	}
	docType := strings.TrimSpace(in.Type)
	if docType == "" {
		docType = "page"
	}

	actorID := ident.SubjectID()
	baseSlug := util.Slugify(title)
	doc := store.Document{
		ID:           util.NewID("doc"),
		SpaceID:      spaceID,
		Title:        title,
		Type:         docType,
		ParentID:     in.ParentID,
		Properties:   in.Properties,
		PublishedRev: 1,
		CreatedBy:    actorID,
	}
	first := store.Revision{
		ID:         util.NewID("rev"),
		DocumentID: doc.ID,
		Rev:        1,
		ParentRev:  0,
		Checksum:   checksumOf(in.Content),
		Message:    "Initial revision",
		Content:    in.Content,
		CreatedBy:  actorID,
	}

	inserted := false
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		doc.Slug = baseSlug
		if attempt > 0 {
			doc.Slug = fmt.Sprintf("%s-%d", baseSlug, attempt+1)
		}
		err := s.store.InsertDocument(ctx, doc, first)
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
		return nil, conflictError("SLUG_CONFLICT", "could not find a free slug for this title", nil)
	}

	s.audit(ctx, ident, "document.create", spaceID, "document", doc.ID, map[string]any{
		"title": title,
		"slug":  doc.Slug,
	})
	s.indexDocument(doc, in.Content)
	s.mirrorRevision(doc, first, actorID)

	return documentPayload(doc), nil
}

func (s *Service) GetDocument(ctx context.Context, ident auth.Identity, spaceID, documentID string) (map[string]any, error) {
	if _, err := s.verifyDocument(ctx, ident, spaceID, documentID, rbac.RoleViewer); err != nil {
		return nil, err
	}
	doc, err := s.store.GetDocument(ctx, spaceID, documentID)
	if err != nil {
		return nil, err
	}
	head, err := s.store.GetHeadRevision(ctx, documentID)
	if err != nil {
		return nil, err
	}
	payload := documentPayload(doc)
	payload["headRev"] = head.Rev
	payload["content"] = head.Content
	payload["checksum"] = head.Checksum
	return payload, nil
}

// GetDocumentByID resolves a document from its id alone, for callers that do
// not know the space up front. Authorization failures are reported as not
// found so ids cannot be probed.
func (s *Service) GetDocumentByID(ctx context.Context, ident auth.Identity, documentID string) (map[string]any, error) {
	doc, err := s.store.GetDocumentByID(ctx, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, acl.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if _, err := s.verifyDocument(ctx, ident, doc.SpaceID, documentID, rbac.RoleViewer); err != nil {
		if errors.Is(err, acl.ErrForbidden) || errors.Is(err, auth.ErrTokenScope) {
			return nil, acl.ErrNotFound
		}
		return nil, err
	}
	return s.GetDocument(ctx, ident, doc.SpaceID, documentID)
}

func (s *Service) ListDocuments(ctx context.Context, ident auth.Identity, spaceID string, limit, offset int) (map[string]any, error) {
	if _, err := s.verifySpace(ctx, ident, spaceID, rbac.RoleViewer); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 1000 {
		return nil, validationError("limit must be between 1 and 1000", nil)
	}
	if offset < 0 {
		return nil, validationError("offset must not be negative", nil)
	}

	docs, total, err := s.store.ListDocuments(ctx, spaceID, limit, offset)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		items = append(items, documentPayload(doc))
	}
	return map[string]any{
		"documents": items,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	}, nil
}

func (s *Service) UpdateDocumentMeta(ctx context.Context, ident auth.Identity, spaceID, documentID, title string, parentID *string, properties map[string]any) (map[string]any, error) {
	if _, err := s.verifyDocument(ctx, ident, spaceID, documentID, rbac.RoleEditor); err != nil {
		return nil, err
	}
	doc, err := s.store.GetDocument(ctx, spaceID, documentID)
	if err != nil {
		return nil, err
	}

	nextTitle := strings.TrimSpace(title)
	if nextTitle == "" {
		nextTitle = doc.Title
	}
	if parentID == nil {
		parentID = doc.ParentID
	}
	if properties == nil {
		properties = doc.Properties
	}
	if err := s.store.UpdateDocumentMeta(ctx, documentID, nextTitle, parentID, properties); err != nil {
		return nil, err
	}

	updated, err := s.store.GetDocument(ctx, spaceID, documentID)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, ident, "document.update", spaceID, "document", documentID, map[string]any{"title": nextTitle})
	if head, err := s.store.GetHeadRevision(ctx, documentID); err == nil {
		s.indexDocument(updated, head.Content)
	}
	return documentPayload(updated), nil
}

func (s *Service) DeleteDocument(ctx context.Context, ident auth.Identity, spaceID, documentID string) error {
	if _, err := s.verifyDocument(ctx, ident, spaceID, documentID, rbac.RoleOwner); err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	s.audit(ctx, ident, "document.delete", spaceID, "document", documentID, nil)
	if s.search != nil {
		s.search.DeleteDocument(documentID)
	}
	if s.mirror != nil {
		go func() {
			if err := s.mirror.Remove(documentID); err != nil {
				log.Printf("remove mirror %s: %v", documentID, err)
			}
		}()
	}
	return nil
}

// SaveRevision appends a new head revision. The published pointer is never
// touched. A losing race on the revision counter is retried once, then
// surfaces as a conflict.
func (s *Service) SaveRevision(ctx context.Context, ident auth.Identity, spaceID, documentID string, in SaveRevisionInput) (map[string]any, error) {
	if _, err := s.verifyDocument(ctx, ident, spaceID, documentID, rbac.RoleEditor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, validationError("content is required", nil)
	}

	actorID := ident.SubjectID()
	revision := store.Revision{
		ID:         util.NewID("rev"),
		DocumentID: documentID,
		Checksum:   checksumOf(in.Content),
		Message:    strings.TrimSpace(in.Message),
		Content:    in.Content,
		CreatedBy:  actorID,
	}

	saved, err := s.store.AppendRevision(ctx, revision)
	if errors.Is(err, store.ErrRevisionConflict) {
		revision.ID = util.NewID("rev")
		saved, err = s.store.AppendRevision(ctx, revision)
	}
	if errors.Is(err, store.ErrRevisionConflict) {
		return nil, conflictError("REVISION_CONFLICT", "concurrent write, please retry", nil)
	}
	if err != nil {
		return nil, err
	}

	s.audit(ctx, ident, "revision.save", spaceID, "document", documentID, map[string]any{"rev": saved.Rev})
	if doc, err := s.store.GetDocument(ctx, spaceID, documentID); err == nil {
		s.indexDocument(doc, saved.Content)
		s.mirrorRevision(doc, saved, actorID)
	}
	return revisionPayload(saved), nil
}

// RestoreRevision appends a new head whose content copies targetRev. The
// parent of the new head is the current head, so history stays linear and
// nothing is rewound.
func (s *Service) RestoreRevision(ctx context.Context, ident auth.Identity, spaceID, documentID string, targetRev int64, message string) (map[string]any, error) {
	if _, err := s.verifyDocument(ctx, ident, spaceID, documentID, rbac.RoleEditor); err != nil {
		return nil, err
	}
	if targetRev <= 0 {
		return nil, validationError("rev must be a positive integer", nil)
	}
	target, err := s.store.GetRevision(ctx, documentID, targetRev)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, validationError(fmt.Sprintf("revision %d does not exist", targetRev), nil)
	}
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(message) == "" {
		message = fmt.Sprintf("Restore revision %d", targetRev)
	}
	return s.SaveRevision(ctx, ident, spaceID, documentID, SaveRevisionInput{
		Content: target.Content,
		Message: message,
	})
}

// PublishRevision moves only the published pointer. Publishing the already
// published revision is a no-op success.
func (s *Service) PublishRevision(ctx context.Context, ident auth.Identity, spaceID, documentID string, rev int64) (map[string]any, error) {
	role, err := s.verifyDocument(ctx, ident, spaceID, documentID, rbac.RoleViewer)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(role, rbac.ActionPublish) {
		return nil, acl.ErrForbidden
	}
	if rev <= 0 {
		return nil, validationError("rev must be a positive integer", nil)
	}
	ok, err := s.store.SetPublishedRev(ctx, documentID, rev)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, validationError(fmt.Sprintf("revision %d does not exist", rev), nil)
	}
	s.audit(ctx, ident, "revision.publish", spaceID, "document", documentID, map[string]any{"rev": rev})
	return map[string]any{"documentId": documentID, "publishedRev": rev}, nil
}

func (s *Service) GetRevision(ctx context.Context, ident auth.Identity, spaceID, documentID string, rev int64) (map[string]any, error) {
	if _, err := s.verifyDocument(ctx, ident, spaceID, documentID, rbac.RoleViewer); err != nil {
		return nil, err
	}
	revision, err := s.store.GetRevision(ctx, documentID, rev)
	if err != nil {
		return nil, err
	}
	return revisionPayload(revision), nil
}

func (s *Service) ListRevisions(ctx context.Context, ident auth.Identity, spaceID, documentID string, limit, offset int) (map[string]any, error) {
	if _, err := s.verifyDocument(ctx, ident, spaceID, documentID, rbac.RoleViewer); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	revisions, err := s.store.ListRevisions(ctx, documentID, limit, offset)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(revisions))
	for _, summary := range revisions {
		items = append(items, map[string]any{
			"rev":       summary.Rev,
			"parentRev": summary.ParentRev,
			"checksum":  summary.Checksum,
			"message":   summary.Message,
			"createdBy": summary.CreatedBy,
			"createdAt": summary.CreatedAt.Format(time.RFC3339),
		})
	}
	return map[string]any{"documentId": documentID, "revisions": items}, nil
}

// SearchDocuments runs full-text search scoped to one space. A blank query
// with no filters returns an empty result before any storage access.
func (s *Service) SearchDocuments(ctx context.Context, ident auth.Identity, spaceID, text string, filters []search.PropertyFilter, limit, offset int) (map[string]any, error) {
	if _, err := s.verifySpace(ctx, ident, spaceID, rbac.RoleViewer); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 1000 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	// A blank query with no filters is answered locally, even when no
	// search backend is configured.
	if strings.TrimSpace(text) == "" && len(filters) == 0 {
		return map[string]any{
			"results": []search.Result{},
			"total":   0,
			"query":   "",
		}, nil
	}
	if s.search == nil {
		return nil, domainError(503, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}

	resp := s.search.Search(search.Query{
		Text:    strings.TrimSpace(text),
		SpaceID: spaceID,
		Filters: filters,
		Limit:   limit,
		Offset:  offset,
	})
	if resp.Results == nil {
		resp.Results = []search.Result{}
	}
	return map[string]any{
		"results": resp.Results,
		"total":   resp.Total,
		"query":   resp.Query,
	}, nil
}

func (s *Service) indexDocument(doc store.Document, content string) {
	if s.search == nil {
		return
	}
	s.search.IndexDocument(search.DocumentRecord{
		ID:         doc.ID,
		Title:      doc.Title,
		Slug:       doc.Slug,
		SpaceID:    doc.SpaceID,
		Content:    content,
		Properties: doc.Properties,
	})
}

func (s *Service) mirrorRevision(doc store.Document, revision store.Revision, author string) {
	if s.mirror == nil {
		return
	}
	go func() {
		message := revision.Message
		if message == "" {
			message = fmt.Sprintf("Revision %d", revision.Rev)
		}
		_, err := s.mirror.MirrorRevision(doc.ID, gitmirror.Snapshot{
			Title:    doc.Title,
			Rev:      revision.Rev,
			Checksum: revision.Checksum,
			Content:  revision.Content,
		}, author, message)
		if err != nil {
			log.Printf("mirror revision %s@%d: %v", doc.ID, revision.Rev, err)
		}
	}()
}

func documentPayload(doc store.Document) map[string]any {
	return map[string]any{
		"id":           doc.ID,
		"spaceId":      doc.SpaceID,
		"title":        doc.Title,
		"slug":         doc.Slug,
		"type":         doc.Type,
		"parentId":     doc.ParentID,
		"properties":   doc.Properties,
		"publishedRev": doc.PublishedRev,
		"createdBy":    doc.CreatedBy,
		"createdAt":    doc.CreatedAt.Format(time.RFC3339),
		"updatedAt":    doc.UpdatedAt.Format(time.RFC3339),
	}
}

func revisionPayload(revision store.Revision) map[string]any {
	return map[string]any{
		"documentId": revision.DocumentID,
		"rev":        revision.Rev,
		"parentRev":  revision.ParentRev,
		"checksum":   revision.Checksum,
		"message":    revision.Message,
		"content":    revision.Content,
		"createdBy":  revision.CreatedBy,
		"createdAt":  revision.CreatedAt.Format(time.RFC3339),
	}
}
