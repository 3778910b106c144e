package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/luckydye/scroll/internal/acl"
	"github.com/luckydye/scroll/internal/auth"
	"github.com/luckydye/scroll/internal/config"
	"github.com/luckydye/scroll/internal/search"
	"github.com/luckydye/scroll/internal/store"
)

type fakeStore struct {
	pingFn                  func(context.Context) error
	getUserByIDFn           func(context.Context, string) (store.User, error)
	isSessionTokenRevokedFn func(context.Context, string) (bool, error)
	listSpacesFn            func(context.Context) ([]store.Space, error)
	getSpaceFn              func(context.Context, string) (store.Space, error)
	insertSpaceFn           func(context.Context, store.Space) error
	deleteSpaceFn           func(context.Context, string) error
	insertDocumentFn        func(context.Context, store.Document, store.Revision) error
	getDocumentFn           func(context.Context, string, string) (store.Document, error)
	listDocumentsFn         func(context.Context, string, int, int) ([]store.Document, int, error)
	setPublishedRevFn       func(context.Context, string, int64) (bool, error)
	deleteDocumentFn        func(context.Context, string) error
	appendRevisionFn        func(context.Context, store.Revision) (store.Revision, error)
	getRevisionFn           func(context.Context, string, int64) (store.Revision, error)
	getHeadRevisionFn       func(context.Context, string) (store.Revision, error)
	listRevisionsFn         func(context.Context, string, int, int) ([]store.RevisionSummary, error)
	upsertGrantFn           func(context.Context, store.Grant) error
	listActiveGrantsFn      func(context.Context, string, string) ([]store.Grant, error)
	listGroupIDsForUserFn   func(context.Context, string) ([]string, error)
	insertAccessTokenFn     func(context.Context, store.AccessToken) error
	getAccessTokenByHashFn  func(context.Context, string) (store.AccessToken, error)
	revokeAccessTokenFn     func(context.Context, string, string) (bool, error)
	getExtensionEntryFn     func(context.Context, string, string, string) (store.ExtensionEntry, error)
	putExtensionEntryFn     func(context.Context, string, string, string, string) error
	listExtensionKeysFn     func(context.Context, string, string) ([]string, error)
	insertAuditEventFn      func(context.Context, store.AuditEvent) error
	listAuditEventsFn       func(context.Context, string, int, int) ([]store.AuditEvent, error)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}
func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, DisplayName: "Avery"}, nil
}
func (f *fakeStore) RevokeSessionToken(context.Context, string, time.Time) error { return nil }
func (f *fakeStore) IsSessionTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if f.isSessionTokenRevokedFn != nil {
		return f.isSessionTokenRevokedFn(ctx, jti)
	}
	return false, nil
}
func (f *fakeStore) ListSpaces(ctx context.Context) ([]store.Space, error) {
	if f.listSpacesFn != nil {
		return f.listSpacesFn(ctx)
	}
	return nil, nil
}
func (f *fakeStore) GetSpace(ctx context.Context, spaceID string) (store.Space, error) {
	if f.getSpaceFn != nil {
		return f.getSpaceFn(ctx, spaceID)
	}
	return store.Space{ID: spaceID, Visibility: "private", Plan: "free"}, nil
}
func (f *fakeStore) InsertSpace(ctx context.Context, space store.Space) error {
	if f.insertSpaceFn != nil {
		return f.insertSpaceFn(ctx, space)
	}
	return nil
}
func (f *fakeStore) UpdateSpace(context.Context, string, string, string, string) error { return nil }
func (f *fakeStore) DeleteSpace(ctx context.Context, spaceID string) error {
	if f.deleteSpaceFn != nil {
		return f.deleteSpaceFn(ctx, spaceID)
	}
	return nil
}
func (f *fakeStore) InsertDocument(ctx context.Context, item store.Document, first store.Revision) error {
	if f.insertDocumentFn != nil {
		return f.insertDocumentFn(ctx, item, first)
	}
	return nil
}
func (f *fakeStore) GetDocument(ctx context.Context, spaceID, documentID string) (store.Document, error) {
	if f.getDocumentFn != nil {
		return f.getDocumentFn(ctx, spaceID, documentID)
	}
	return store.Document{ID: documentID, SpaceID: spaceID, Title: "Doc"}, nil
}
func (f *fakeStore) GetDocumentByID(ctx context.Context, documentID string) (store.Document, error) {
	if f.getDocumentFn != nil {
		return f.getDocumentFn(ctx, "spc-1", documentID)
	}
	return store.Document{ID: documentID, SpaceID: "spc-1", Title: "Doc"}, nil
}
func (f *fakeStore) ListDocuments(ctx context.Context, spaceID string, limit, offset int) ([]store.Document, int, error) {
	if f.listDocumentsFn != nil {
		return f.listDocumentsFn(ctx, spaceID, limit, offset)
	}
	return nil, 0, nil
}
func (f *fakeStore) UpdateDocumentMeta(context.Context, string, string, *string, map[string]any) error {
	return nil
}
func (f *fakeStore) SetPublishedRev(ctx context.Context, documentID string, rev int64) (bool, error) {
	if f.setPublishedRevFn != nil {
		return f.setPublishedRevFn(ctx, documentID, rev)
	}
	return true, nil
}
func (f *fakeStore) DeleteDocument(ctx context.Context, documentID string) error {
	if f.deleteDocumentFn != nil {
		return f.deleteDocumentFn(ctx, documentID)
	}
	return nil
}
func (f *fakeStore) AppendRevision(ctx context.Context, item store.Revision) (store.Revision, error) {
	if f.appendRevisionFn != nil {
		return f.appendRevisionFn(ctx, item)
	}
	item.Rev = 2
	item.ParentRev = 1
	return item, nil
}
func (f *fakeStore) GetRevision(ctx context.Context, documentID string, rev int64) (store.Revision, error) {
	if f.getRevisionFn != nil {
		return f.getRevisionFn(ctx, documentID, rev)
	}
	return store.Revision{}, sql.ErrNoRows
}
func (f *fakeStore) GetHeadRevision(ctx context.Context, documentID string) (store.Revision, error) {
	if f.getHeadRevisionFn != nil {
		return f.getHeadRevisionFn(ctx, documentID)
	}
	return store.Revision{DocumentID: documentID, Rev: 1, Content: "hello"}, nil
}
func (f *fakeStore) ListRevisions(ctx context.Context, documentID string, limit, offset int) ([]store.RevisionSummary, error) {
	if f.listRevisionsFn != nil {
		return f.listRevisionsFn(ctx, documentID, limit, offset)
	}
	return nil, nil
}
func (f *fakeStore) UpsertGrant(ctx context.Context, grant store.Grant) error {
	if f.upsertGrantFn != nil {
		return f.upsertGrantFn(ctx, grant)
	}
	return nil
}
func (f *fakeStore) DeleteGrant(context.Context, string, string, string, string) (bool, error) {
	return true, nil
}
func (f *fakeStore) ListActiveGrants(ctx context.Context, resourceType, resourceID string) ([]store.Grant, error) {
	if f.listActiveGrantsFn != nil {
		return f.listActiveGrantsFn(ctx, resourceType, resourceID)
	}
	return nil, nil
}
func (f *fakeStore) ListGrants(context.Context, string, string) ([]store.GrantWithDetails, error) {
	return nil, nil
}
func (f *fakeStore) InsertGroup(context.Context, store.Group) error        { return nil }
func (f *fakeStore) GetGroup(context.Context, string) (store.Group, error) { return store.Group{}, nil }
func (f *fakeStore) ListGroups(context.Context) ([]store.Group, error)     { return nil, nil }
func (f *fakeStore) DeleteGroup(context.Context, string) error             { return nil }
func (f *fakeStore) AddGroupMember(context.Context, string, string, string) error {
	return nil
}
func (f *fakeStore) RemoveGroupMember(context.Context, string, string) (bool, error) {
	return true, nil
}
func (f *fakeStore) ListGroupMembers(context.Context, string) ([]store.User, error) {
	return nil, nil
}
func (f *fakeStore) ListGroupIDsForUser(ctx context.Context, userID string) ([]string, error) {
	if f.listGroupIDsForUserFn != nil {
		return f.listGroupIDsForUserFn(ctx, userID)
	}
	return nil, nil
}
func (f *fakeStore) InsertAccessToken(ctx context.Context, token store.AccessToken) error {
	if f.insertAccessTokenFn != nil {
		return f.insertAccessTokenFn(ctx, token)
	}
	return nil
}
func (f *fakeStore) GetAccessTokenByHash(ctx context.Context, tokenHash string) (store.AccessToken, error) {
	if f.getAccessTokenByHashFn != nil {
		return f.getAccessTokenByHashFn(ctx, tokenHash)
	}
	return store.AccessToken{}, sql.ErrNoRows
}
func (f *fakeStore) ListAccessTokens(context.Context, string) ([]store.AccessToken, error) {
	return nil, nil
}
func (f *fakeStore) RevokeAccessToken(ctx context.Context, spaceID, tokenID string) (bool, error) {
	if f.revokeAccessTokenFn != nil {
		return f.revokeAccessTokenFn(ctx, spaceID, tokenID)
	}
	return true, nil
}
func (f *fakeStore) GetExtensionEntry(ctx context.Context, spaceID, extensionID, key string) (store.ExtensionEntry, error) {
	if f.getExtensionEntryFn != nil {
		return f.getExtensionEntryFn(ctx, spaceID, extensionID, key)
	}
	return store.ExtensionEntry{}, sql.ErrNoRows
}
func (f *fakeStore) PutExtensionEntry(ctx context.Context, spaceID, extensionID, key, value string) error {
	if f.putExtensionEntryFn != nil {
		return f.putExtensionEntryFn(ctx, spaceID, extensionID, key, value)
	}
	return nil
}
func (f *fakeStore) DeleteExtensionEntry(context.Context, string, string, string) (bool, error) {
	return true, nil
}
func (f *fakeStore) ListExtensionKeys(ctx context.Context, spaceID, extensionID string) ([]string, error) {
	if f.listExtensionKeysFn != nil {
		return f.listExtensionKeysFn(ctx, spaceID, extensionID)
	}
	return nil, nil
}
func (f *fakeStore) InsertAuditEvent(ctx context.Context, event store.AuditEvent) error {
	if f.insertAuditEventFn != nil {
		return f.insertAuditEventFn(ctx, event)
	}
	return nil
}
func (f *fakeStore) ListAuditEvents(ctx context.Context, spaceID string, limit, offset int) ([]store.AuditEvent, error) {
	if f.listAuditEventsFn != nil {
		return f.listAuditEventsFn(ctx, spaceID, limit, offset)
	}
	return nil, nil
}
func (f *fakeStore) InsertAttachment(context.Context, store.Attachment) error { return nil }
func (f *fakeStore) GetAttachment(context.Context, string) (store.Attachment, error) {
	return store.Attachment{}, sql.ErrNoRows
}
func (f *fakeStore) ListAttachments(context.Context, string) ([]store.Attachment, error) {
	return nil, nil
}
func (f *fakeStore) DeleteAttachment(context.Context, string) (bool, error) { return true, nil }

type fakeSessions struct {
	saved map[string]store.User
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{saved: make(map[string]store.User)}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash string, user store.User, _ time.Time) error {
	f.saved[tokenHash] = user
	return nil
}
func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	user, ok := f.saved[tokenHash]
	if !ok {
		return store.User{}, errors.New("refresh session not found")
	}
	return user, nil
}
func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	delete(f.saved, tokenHash)
	return nil
}

type fakeSearch struct {
	indexed []search.DocumentRecord
	deleted []string
	results []search.Result
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	return search.Response{Results: f.results, Total: len(f.results), Query: q.Text}
}
func (f *fakeSearch) IndexDocument(doc search.DocumentRecord) { f.indexed = append(f.indexed, doc) }
func (f *fakeSearch) DeleteDocument(id string)                { f.deleted = append(f.deleted, id) }

func newTestService(fs *fakeStore) *Service {
	cfg := config.Config{JWTSecret: "test-secret", AccessTTL: time.Hour, RefreshTTL: 24 * time.Hour}
	return New(cfg, fs, Deps{Sessions: newFakeSessions(), Search: &fakeSearch{}})
}

func sessionIdentity(userID string) auth.Identity {
	return auth.Identity{Kind: auth.IdentitySession, User: &auth.SessionUser{ID: userID, Name: "Avery", JTI: "jti-1"}}
}

func ownerGrant(spaceID, userID string) store.Grant {
	return store.Grant{
		ID:           "grt-1",
		SubjectType:  "user",
		SubjectID:    userID,
		ResourceType: acl.ResourceSpace,
		ResourceID:   spaceID,
		SpaceID:      spaceID,
		Role:         "owner",
	}
}

func TestCreateDocumentRetriesSlugOnCollision(t *testing.T) {
	var slugs []string
	fs := &fakeStore{
		listActiveGrantsFn: func(_ context.Context, _, _ string) ([]store.Grant, error) {
			return []store.Grant{ownerGrant("spc-1", "user-1")}, nil
		},
		insertDocumentFn: func(_ context.Context, item store.Document, first store.Revision) error {
			slugs = append(slugs, item.Slug)
			if len(slugs) < 3 {
				return store.ErrDuplicateSlug
			}
			if first.Rev != 1 || first.ParentRev != 0 {
				t.Fatalf("expected first revision rev=1 parent=0, got rev=%d parent=%d", first.Rev, first.ParentRev)
			}
			return nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.CreateDocument(context.Background(), sessionIdentity("user-1"), "spc-1", CreateDocumentInput{
		Title:   "Release Notes",
		Content: "hello world",
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if len(slugs) != 3 {
		t.Fatalf("expected 3 insert attempts, got %d", len(slugs))
	}
	if slugs[0] != "release-notes" || slugs[1] != "release-notes-2" || slugs[2] != "release-notes-3" {
		t.Fatalf("unexpected slug sequence: %v", slugs)
	}
	if payload["slug"] != "release-notes-3" {
		t.Fatalf("expected slug release-notes-3, got %v", payload["slug"])
	}
}

func TestCreateDocumentRequiresContent(t *testing.T) {
	fs := &fakeStore{
		listActiveGrantsFn: func(_ context.Context, _, _ string) ([]store.Grant, error) {
			return []store.Grant{ownerGrant("spc-1", "user-1")}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateDocument(context.Background(), sessionIdentity("user-1"), "spc-1", CreateDocumentInput{Title: "Empty"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected 422 validation error, got %v", err)
	}
}

func TestCreateDocumentBlankTitleBecomesUntitled(t *testing.T) {
	var inserted store.Document
	fs := &fakeStore{
		listActiveGrantsFn: func(_ context.Context, _, _ string) ([]store.Grant, error) {
			return []store.Grant{ownerGrant("spc-1", "user-1")}, nil
		},
		insertDocumentFn: func(_ context.Context, item store.Document, _ store.Revision) error {
			inserted = item
			return nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.CreateDocument(context.Background(), sessionIdentity("user-1"), "spc-1", CreateDocumentInput{
		Title:   "   ",
		Content: "body",
	}); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if inserted.Title != "Untitled" {
		t.Fatalf("expected title Untitled, got %q", inserted.Title)
	}
}

func TestSaveRevisionRetriesConflictOnce(t *testing.T) {
	attempts := 0
	fs := &fakeStore{
		listActiveGrantsFn: func(_ context.Context, _, _ string) ([]store.Grant, error) {
			return []store.Grant{ownerGrant("spc-1", "user-1")}, nil
		},
		appendRevisionFn: func(_ context.Context, item store.Revision) (store.Revision, error) {
			attempts++
			if attempts == 1 {
				return store.Revision{}, store.ErrRevisionConflict
			}
			item.Rev = 3
			item.ParentRev = 2
			return item, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.SaveRevision(context.Background(), sessionIdentity("user-1"), "spc-1", "doc-1", SaveRevisionInput{Content: "new body"})
	if err != nil {
		t.Fatalf("SaveRevision: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 append attempts, got %d", attempts)
	}
	if payload["rev"] != int64(3) {
		t.Fatalf("expected rev 3, got %v", payload["rev"])
	}
}

func TestSaveRevisionSecondConflictSurfacesAsConflict(t *testing.T) {
	fs := &fakeStore{
		listActiveGrantsFn: func(_ context.Context, _, _ string) ([]store.Grant, error) {
			return []store.Grant{ownerGrant("spc-1", "user-1")}, nil
		},
		appendRevisionFn: func(_ context.Context, _ store.Revision) (store.Revision, error) {
			return store.Revision{}, store.ErrRevisionConflict
		},
	}
	svc := newTestService(fs)

	_, err := svc.SaveRevision(context.Background(), sessionIdentity("user-1"), "spc-1", "doc-1", SaveRevisionInput{Content: "new body"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "REVISION_CONFLICT" {
		t.Fatalf("expected REVISION_CONFLICT, got %v", err)
	}
}

func TestRestoreRevisionCopiesTargetContent(t *testing.T) {
	var appended store.Revision
	fs := &fakeStore{
		listActiveGrantsFn: func(_ context.Context, _, _ string) ([]store.Grant, error) {
			return []store.Grant{ownerGrant("spc-1", "user-1")}, nil
		},
		getRevisionFn: func(_ context.Context, _ string, rev int64) (store.Revision, error) {
			if rev != 2 {
				return store.Revision{}, sql.ErrNoRows
			}
			return store.Revision{DocumentID: "doc-1", Rev: 2, Content: "old body"}, nil
		},
		appendRevisionFn: func(_ context.Context, item store.Revision) (store.Revision, error) {
			appended = item
			item.Rev = 5
			item.ParentRev = 4
			return item, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.RestoreRevision(context.Background(), sessionIdentity("user-1"), "spc-1", "doc-1", 2, "")
	if err != nil {
		t.Fatalf("RestoreRevision: %v", err)
	}
	if appended.Content != "old body" {
		t.Fatalf("expected restored content, got %q", appended.Content)
	}
	if appended.Message != "Restore revision 2" {
		t.Fatalf("expected default restore message, got %q", appended.Message)
	}
	if payload["rev"] != int64(5) {
		t.Fatalf("expected new head rev 5, got %v", payload["rev"])
	}
}

func TestRestoreRevisionUnknownTargetIsValidationError(t *testing.T) {
	fs := &fakeStore{
		listActiveGrantsFn: func(_ context.Context, _, _ string) ([]store.Grant, error) {
			return []store.Grant{ownerGrant("spc-1", "user-1")}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.RestoreRevision(context.Background(), sessionIdentity("user-1"), "spc-1", "doc-1", 99, "")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected 422 for unknown target rev, got %v", err)
	}
}

func TestPublishRevisionRejectsUnknownRev(t *testing.T) {
	fs := &fakeStore{
		listActiveGrantsFn: func(_ context.Context, _, _ string) ([]store.Grant, error) {
			return []store.Grant{ownerGrant("spc-1", "user-1")}, nil
		},
		setPublishedRevFn: func(_ context.Context, _ string, _ int64) (bool, error) {
			return false, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.PublishRevision(context.Background(), sessionIdentity("user-1"), "spc-1", "doc-1", 42)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected 422 for unknown rev, got %v", err)
	}
}

func TestPublishRevisionIsIdempotent(t *testing.T) {
	var publishedRevs []int64
	fs := &fakeStore{
		listActiveGrantsFn: func(_ context.Context, _, _ string) ([]store.Grant, error) {
			return []store.Grant{ownerGrant("spc-1", "user-1")}, nil
		},
		setPublishedRevFn: func(_ context.Context, _ string, rev int64) (bool, error) {
			publishedRevs = append(publishedRevs, rev)
			return true, nil
		},
	}
	svc := newTestService(fs)
	ident := sessionIdentity("user-1")

	first, err := svc.PublishRevision(context.Background(), ident, "spc-1", "doc-1", 3)
	if err != nil {
		t.Fatalf("first publish failed: %v", err)
	}
	second, err := svc.PublishRevision(context.Background(), ident, "spc-1", "doc-1", 3)
	if err != nil {
		t.Fatalf("re-publishing the published revision must succeed, got %v", err)
	}
	if first["publishedRev"] != int64(3) || second["publishedRev"] != int64(3) {
		t.Fatalf("publishedRev changed across identical publishes: %v then %v", first, second)
	}
	if len(publishedRevs) != 2 || publishedRevs[0] != 3 || publishedRevs[1] != 3 {
		t.Fatalf("unexpected SetPublishedRev calls: %v", publishedRevs)
	}
}

func TestPublishRevisionNeedsEditorRole(t *testing.T) {
	fs := &fakeStore{
		listActiveGrantsFn: func(_ context.Context, _, _ string) ([]store.Grant, error) {
			grant := ownerGrant("spc-1", "user-1")
			grant.Role = "viewer"
			return []store.Grant{grant}, nil
		},
		setPublishedRevFn: func(_ context.Context, _ string, _ int64) (bool, error) {
			t.Fatal("publish must not reach the store for a viewer")
			return false, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.PublishRevision(context.Background(), sessionIdentity("user-1"), "spc-1", "doc-1", 3)
	if !errors.Is(err, acl.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for viewer publish, got %v", err)
	}
}

func TestSearchBlankQueryShortCircuitsWithoutBackend(t *testing.T) {
	fs := &fakeStore{
		listActiveGrantsFn: func(_ context.Context, _, _ string) ([]store.Grant, error) {
			return []store.Grant{ownerGrant("spc-1", "user-1")}, nil
		},
	}
	// No search backend configured at all.
	svc := New(config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	}, fs, Deps{Sessions: newFakeSessions()})

	payload, err := svc.SearchDocuments(context.Background(), sessionIdentity("user-1"), "spc-1", "   ", nil, 20, 0)
	if err != nil {
		t.Fatalf("blank query must not need a backend, got %v", err)
	}
	if payload["total"] != 0 {
		t.Fatalf("expected empty result set, got %v", payload)
	}
	if results, ok := payload["results"].([]search.Result); !ok || len(results) != 0 {
		t.Fatalf("expected zero results, got %v", payload["results"])
	}

	// A real query still reports the missing backend.
	_, err = svc.SearchDocuments(context.Background(), sessionIdentity("user-1"), "spc-1", "notes", nil, 20, 0)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "SEARCH_UNAVAILABLE" {
		t.Fatalf("expected SEARCH_UNAVAILABLE for non-empty query, got %v", err)
	}
}

func TestListDocumentsValidatesPagination(t *testing.T) {
	fs := &fakeStore{
		listActiveGrantsFn: func(_ context.Context, _, _ string) ([]store.Grant, error) {
			return []store.Grant{ownerGrant("spc-1", "user-1")}, nil
		},
	}
	svc := newTestService(fs)
	ident := sessionIdentity("user-1")

	for _, tc := range []struct {
		name   string
		limit  int
		offset int
	}{
		{"zero limit", 0, 0},
		{"limit too large", 1001, 0},
		{"negative offset", 10, -1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.ListDocuments(context.Background(), ident, "spc-1", tc.limit, tc.offset)
			var domainErr *DomainError
			if !errors.As(err, &domainErr) || domainErr.Status != 422 {
				t.Fatalf("expected 422, got %v", err)
			}
		})
	}
}

func TestDeleteDocumentRemovesSearchEntry(t *testing.T) {
	fs := &fakeStore{
		listActiveGrantsFn: func(_ context.Context, _, _ string) ([]store.Grant, error) {
			return []store.Grant{ownerGrant("spc-1", "user-1")}, nil
		},
	}
	fsearch := &fakeSearch{}
	cfg := config.Config{JWTSecret: "test-secret", AccessTTL: time.Hour, RefreshTTL: 24 * time.Hour}
	svc := New(cfg, fs, Deps{Sessions: newFakeSessions(), Search: fsearch})

	if err := svc.DeleteDocument(context.Background(), sessionIdentity("user-1"), "spc-1", "doc-1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if len(fsearch.deleted) != 1 || fsearch.deleted[0] != "doc-1" {
		t.Fatalf("expected search delete for doc-1, got %v", fsearch.deleted)
	}
}

func TestViewerCannotWrite(t *testing.T) {
	fs := &fakeStore{
		listActiveGrantsFn: func(_ context.Context, _, _ string) ([]store.Grant, error) {
			grant := ownerGrant("spc-1", "user-1")
			grant.Role = "viewer"
			return []store.Grant{grant}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateDocument(context.Background(), sessionIdentity("user-1"), "spc-1", CreateDocumentInput{
		Title:   "Nope",
		Content: "body",
	})
	if !errors.Is(err, acl.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for viewer write, got %v", err)
	}
}

func TestStrangerSeesNotFound(t *testing.T) {
	fs := &fakeStore{
		listActiveGrantsFn: func(_ context.Context, _, _ string) ([]store.Grant, error) {
			return nil, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.GetDocument(context.Background(), sessionIdentity("user-9"), "spc-1", "doc-1")
	if !errors.Is(err, acl.ErrNotFound) {
		t.Fatalf("expected ErrNotFound masking for stranger, got %v", err)
	}
}

func TestTokenIdentityScopeGatesDocument(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs)

	tok := &auth.ScopedToken{
		ID:           "tok-1",
		SpaceID:      "spc-1",
		ResourceType: acl.ResourceDocument,
		ResourceID:   "doc-1",
		MaxRole:      "editor",
		CreatedBy:    "user-1",
	}
	ident := auth.Identity{Kind: auth.IdentityToken, Token: tok}

	if _, err := svc.GetDocument(context.Background(), ident, "spc-1", "doc-1"); err != nil {
		t.Fatalf("expected in-scope read to pass, got %v", err)
	}
	if _, err := svc.GetDocument(context.Background(), ident, "spc-1", "doc-2"); !errors.Is(err, auth.ErrTokenScope) {
		t.Fatalf("expected ErrTokenScope for out-of-scope document, got %v", err)
	}
	// Owner-level space operations exceed the token's editor ceiling.
	if err := svc.DeleteSpace(context.Background(), ident, "spc-1"); !errors.Is(err, auth.ErrTokenScope) {
		t.Fatalf("expected ErrTokenScope for role above ceiling, got %v", err)
	}
}

func TestAuthenticateResolvesAccessToken(t *testing.T) {
	plaintext := accessTokenPrefix + "deadbeef"
	fs := &fakeStore{
		getAccessTokenByHashFn: func(_ context.Context, tokenHash string) (store.AccessToken, error) {
			if tokenHash != auth.HashToken(plaintext) {
				return store.AccessToken{}, sql.ErrNoRows
			}
			return store.AccessToken{
				ID:           "tok-1",
				SpaceID:      "spc-1",
				ResourceType: acl.ResourceSpace,
				ResourceID:   "spc-1",
				MaxRole:      "viewer",
				CreatedBy:    "user-1",
			}, nil
		},
	}
	svc := newTestService(fs)

	ident, err := svc.Authenticate(context.Background(), plaintext)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if ident.Kind != auth.IdentityToken {
		t.Fatalf("expected token identity, got %v", ident.Kind)
	}
	if ident.Token.SpaceID != "spc-1" {
		t.Fatalf("expected token bound to spc-1, got %s", ident.Token.SpaceID)
	}

	if _, err := svc.Authenticate(context.Background(), accessTokenPrefix+"unknown"); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for unknown token, got %v", err)
	}
}

func TestAuthenticateRejectsRevokedAccessToken(t *testing.T) {
	revokedAt := time.Now().Add(-time.Hour)
	fs := &fakeStore{
		getAccessTokenByHashFn: func(_ context.Context, _ string) (store.AccessToken, error) {
			return store.AccessToken{
				ID:           "tok-1",
				SpaceID:      "spc-1",
				ResourceType: acl.ResourceSpace,
				ResourceID:   "spc-1",
				MaxRole:      "viewer",
				RevokedAt:    &revokedAt,
			}, nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.Authenticate(context.Background(), accessTokenPrefix+"whatever"); !errors.Is(err, auth.ErrRevokedToken) {
		t.Fatalf("expected ErrRevokedToken, got %v", err)
	}
}

func TestRefreshIsSingleUse(t *testing.T) {
	fs := &fakeStore{}
	sessions := newFakeSessions()
	cfg := config.Config{JWTSecret: "test-secret", AccessTTL: time.Hour, RefreshTTL: 24 * time.Hour}
	svc := New(cfg, fs, Deps{Sessions: sessions})

	first, err := svc.CreateSession(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	second, err := svc.Refresh(context.Background(), first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.Token == "" || second.RefreshToken == first.RefreshToken {
		t.Fatalf("expected rotated token pair")
	}

	if _, err := svc.Refresh(context.Background(), first.RefreshToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected reused refresh token to be rejected, got %v", err)
	}
}

func TestAuditLogRequiresPlan(t *testing.T) {
	fs := &fakeStore{
		listActiveGrantsFn: func(_ context.Context, _, _ string) ([]store.Grant, error) {
			return []store.Grant{ownerGrant("spc-1", "user-1")}, nil
		},
		getSpaceFn: func(_ context.Context, spaceID string) (store.Space, error) {
			return store.Space{ID: spaceID, Visibility: "private", Plan: "free"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.ListAuditEvents(context.Background(), sessionIdentity("user-1"), "spc-1", 10, 0)
	if !errors.Is(err, acl.ErrForbidden) {
		t.Fatalf("expected audit log forbidden on free plan, got %v", err)
	}
}

func TestAuditLogAllowedOnTeamPlan(t *testing.T) {
	fs := &fakeStore{
		listActiveGrantsFn: func(_ context.Context, _, _ string) ([]store.Grant, error) {
			return []store.Grant{ownerGrant("spc-1", "user-1")}, nil
		},
		getSpaceFn: func(_ context.Context, spaceID string) (store.Space, error) {
			return store.Space{ID: spaceID, Visibility: "private", Plan: "team"}, nil
		},
		listAuditEventsFn: func(_ context.Context, _ string, _, _ int) ([]store.AuditEvent, error) {
			return []store.AuditEvent{{ID: 1, Action: "document.create"}}, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.ListAuditEvents(context.Background(), sessionIdentity("user-1"), "spc-1", 10, 0)
	if err != nil {
		t.Fatalf("ListAuditEvents: %v", err)
	}
	events, _ := payload["events"].([]map[string]any)
	if len(events) != 1 || events[0]["action"] != "document.create" {
		t.Fatalf("unexpected events payload: %v", payload)
	}
}

func TestPublicSpaceGrantsImplicitViewer(t *testing.T) {
	fs := &fakeStore{
		getSpaceFn: func(_ context.Context, spaceID string) (store.Space, error) {
			return store.Space{ID: spaceID, Visibility: "public", Plan: "free"}, nil
		},
		listActiveGrantsFn: func(_ context.Context, _, _ string) ([]store.Grant, error) {
			return nil, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.GetSpace(context.Background(), sessionIdentity("user-9"), "spc-1")
	if err != nil {
		t.Fatalf("expected public space readable, got %v", err)
	}
	if payload["visibility"] != "public" {
		t.Fatalf("unexpected payload: %v", payload)
	}

	// Documents inside the public space are readable too, not just listable.
	doc, err := svc.GetDocument(context.Background(), sessionIdentity("user-9"), "spc-1", "doc-1")
	if err != nil {
		t.Fatalf("expected document in public space readable, got %v", err)
	}
	if doc["content"] != "hello" {
		t.Fatalf("unexpected document payload: %v", doc)
	}

	// Writing still needs an explicit grant.
	_, err = svc.CreateDocument(context.Background(), sessionIdentity("user-9"), "spc-1", CreateDocumentInput{
		Title:   "Nope",
		Content: "body",
	})
	if !errors.Is(err, acl.ErrForbidden) {
		t.Fatalf("expected write forbidden in public space, got %v", err)
	}
}

func TestCreateAccessTokenReturnsPlaintextOnce(t *testing.T) {
	var stored store.AccessToken
	fs := &fakeStore{
		listActiveGrantsFn: func(_ context.Context, _, _ string) ([]store.Grant, error) {
			return []store.Grant{ownerGrant("spc-1", "user-1")}, nil
		},
		insertAccessTokenFn: func(_ context.Context, token store.AccessToken) error {
			stored = token
			return nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.CreateAccessToken(context.Background(), sessionIdentity("user-1"), "spc-1", CreateTokenInput{
		Name:    "ci",
		MaxRole: "viewer",
	})
	if err != nil {
		t.Fatalf("CreateAccessToken: %v", err)
	}
	plaintext, _ := payload["token"].(string)
	if plaintext == "" {
		t.Fatalf("expected plaintext token in creation response")
	}
	if stored.TokenHash != auth.HashToken(plaintext) {
		t.Fatalf("stored hash must be sha256 of the plaintext")
	}
	if stored.ResourceType != acl.ResourceSpace || stored.ResourceID != "spc-1" {
		t.Fatalf("default token scope should be space-wide, got %s/%s", stored.ResourceType, stored.ResourceID)
	}
}

func TestExtensionRoundTrip(t *testing.T) {
	values := map[string]string{}
	fs := &fakeStore{
		listActiveGrantsFn: func(_ context.Context, _, _ string) ([]store.Grant, error) {
			return []store.Grant{ownerGrant("spc-1", "user-1")}, nil
		},
		putExtensionEntryFn: func(_ context.Context, _, _, key, value string) error {
			values[key] = value
			return nil
		},
		getExtensionEntryFn: func(_ context.Context, spaceID, extensionID, key string) (store.ExtensionEntry, error) {
			value, ok := values[key]
			if !ok {
				return store.ExtensionEntry{}, sql.ErrNoRows
			}
			return store.ExtensionEntry{SpaceID: spaceID, ExtensionID: extensionID, Key: key, Value: value}, nil
		},
	}
	svc := newTestService(fs)
	ident := sessionIdentity("user-1")

	if err := svc.PutExtensionValue(context.Background(), ident, "spc-1", "ext.todo", "items", `["a","b"]`); err != nil {
		t.Fatalf("PutExtensionValue: %v", err)
	}
	payload, err := svc.GetExtensionValue(context.Background(), ident, "spc-1", "ext.todo", "items")
	if err != nil {
		t.Fatalf("GetExtensionValue: %v", err)
	}
	if payload["value"] != `["a","b"]` {
		t.Fatalf("unexpected value: %v", payload["value"])
	}

	if _, err := svc.GetExtensionValue(context.Background(), ident, "spc-1", "ext.todo", "missing"); err == nil {
		t.Fatalf("expected error for missing key")
	}
}
