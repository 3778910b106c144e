package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/luckydye/scroll/internal/acl"
	"github.com/luckydye/scroll/internal/auth"
	"github.com/luckydye/scroll/internal/authpw"
	"github.com/luckydye/scroll/internal/config"
	"github.com/luckydye/scroll/internal/email"
	"github.com/luckydye/scroll/internal/export"
	"github.com/luckydye/scroll/internal/gitmirror"
	"github.com/luckydye/scroll/internal/rbac"
	"github.com/luckydye/scroll/internal/search"
	"github.com/luckydye/scroll/internal/store"
	"github.com/luckydye/scroll/internal/util"
)

// accessTokenPrefix marks programmatic credentials so Authenticate can tell
// them apart from session tokens without parsing.
const accessTokenPrefix = "sct_"

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	IsExternal   bool
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	RevokeSessionToken(ctx context.Context, jti string, exp time.Time) error
	IsSessionTokenRevoked(ctx context.Context, jti string) (bool, error)

	ListSpaces(ctx context.Context) ([]store.Space, error)
	GetSpace(ctx context.Context, spaceID string) (store.Space, error)
	InsertSpace(ctx context.Context, space store.Space) error
	UpdateSpace(ctx context.Context, spaceID, name, description, visibility string) error
	DeleteSpace(ctx context.Context, spaceID string) error

	InsertDocument(ctx context.Context, item store.Document, first store.Revision) error
	GetDocument(ctx context.Context, spaceID, documentID string) (store.Document, error)
	GetDocumentByID(ctx context.Context, documentID string) (store.Document, error)
	ListDocuments(ctx context.Context, spaceID string, limit, offset int) ([]store.Document, int, error)
	UpdateDocumentMeta(ctx context.Context, documentID, title string, parentID *string, properties map[string]any) error
	SetPublishedRev(ctx context.Context, documentID string, rev int64) (bool, error)
	DeleteDocument(ctx context.Context, documentID string) error
	AppendRevision(ctx context.Context, item store.Revision) (store.Revision, error)
	GetRevision(ctx context.Context, documentID string, rev int64) (store.Revision, error)
	GetHeadRevision(ctx context.Context, documentID string) (store.Revision, error)
	ListRevisions(ctx context.Context, documentID string, limit, offset int) ([]store.RevisionSummary, error)

	UpsertGrant(ctx context.Context, grant store.Grant) error
	DeleteGrant(ctx context.Context, subjectType, subjectID, resourceType, resourceID string) (bool, error)
	ListActiveGrants(ctx context.Context, resourceType, resourceID string) ([]store.Grant, error)
	ListGrants(ctx context.Context, resourceType, resourceID string) ([]store.GrantWithDetails, error)
	InsertGroup(ctx context.Context, group store.Group) error
	GetGroup(ctx context.Context, groupID string) (store.Group, error)
	ListGroups(ctx context.Context) ([]store.Group, error)
	DeleteGroup(ctx context.Context, groupID string) error
	AddGroupMember(ctx context.Context, id, groupID, userID string) error
	RemoveGroupMember(ctx context.Context, groupID, userID string) (bool, error)
	ListGroupMembers(ctx context.Context, groupID string) ([]store.User, error)
	ListGroupIDsForUser(ctx context.Context, userID string) ([]string, error)

	InsertAccessToken(ctx context.Context, token store.AccessToken) error
	GetAccessTokenByHash(ctx context.Context, tokenHash string) (store.AccessToken, error)
	ListAccessTokens(ctx context.Context, spaceID string) ([]store.AccessToken, error)
	RevokeAccessToken(ctx context.Context, spaceID, tokenID string) (bool, error)

	GetExtensionEntry(ctx context.Context, spaceID, extensionID, key string) (store.ExtensionEntry, error)
	PutExtensionEntry(ctx context.Context, spaceID, extensionID, key, value string) error
	DeleteExtensionEntry(ctx context.Context, spaceID, extensionID, key string) (bool, error)
	ListExtensionKeys(ctx context.Context, spaceID, extensionID string) ([]string, error)

	InsertAuditEvent(ctx context.Context, event store.AuditEvent) error
	ListAuditEvents(ctx context.Context, spaceID string, limit, offset int) ([]store.AuditEvent, error)

	InsertAttachment(ctx context.Context, item store.Attachment) error
	GetAttachment(ctx context.Context, attachmentID string) (store.Attachment, error)
	ListAttachments(ctx context.Context, documentID string) ([]store.Attachment, error)
	DeleteAttachment(ctx context.Context, attachmentID string) (bool, error)
}

// sessionStore holds refresh tokens; Redis in production, Postgres as a
// fallback when Redis is not reachable at startup.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexDocument(doc search.DocumentRecord)
	DeleteDocument(id string)
}

type mirrorService interface {
	MirrorRevision(documentID string, snap gitmirror.Snapshot, author, message string) (gitmirror.CommitInfo, error)
	Remove(documentID string) error
}

type blobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (int64, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

type exportService interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

// Deps bundles the side services the app wires in. Optional fields stay nil
// when the backing system is not configured; the affected routes answer 503.
type Deps struct {
	Sessions sessionStore
	Search   searchService
	Mirror   mirrorService
	Blobs    blobStore
	Exporter exportService
	AuthPW   *authpw.Service
	Email    *email.Service
}

type Service struct {
	cfg      config.Config
	store    dataStore
	acl      *acl.Evaluator
	sessions sessionStore
	search   searchService
	mirror   mirrorService
	blobs    blobStore
	exporter exportService
	authpw   *authpw.Service
	email    *email.Service
}

func New(cfg config.Config, dataStore dataStore, deps Deps) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		acl:      acl.NewEvaluator(aclSource{dataStore}, rbac.DefaultCatalog()),
		sessions: deps.Sessions,
		search:   deps.Search,
		mirror:   deps.Mirror,
		blobs:    deps.Blobs,
		exporter: deps.Exporter,
		authpw:   deps.AuthPW,
		email:    deps.Email,
	}
}

// aclSource narrows dataStore to what the evaluator reads.
type aclSource struct {
	dataStore
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) EmailService() *email.Service {
	return s.email
}

// CreateSession issues a fresh access + refresh token pair for a user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	// Refresh tokens are single use.
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	if user.DeactivatedAt != nil {
		return Session{}, auth.ErrInvalidToken
	}

	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		IsExternal:   user.IsExternal,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsSessionTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	if user.DeactivatedAt != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:      token,
		UserID:     user.ID,
		UserName:   user.DisplayName,
		IsExternal: user.IsExternal,
		JTI:        claims.JTI,
		ExpiresAt:  time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeSessionToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// Authenticate resolves a bearer credential to an Identity. Credentials
// carrying the access-token prefix resolve against the token store; anything
// else is treated as a session token.
func (s *Service) Authenticate(ctx context.Context, token string) (auth.Identity, error) {
	if token == "" {
		return auth.Identity{}, auth.ErrInvalidToken
	}

	if strings.HasPrefix(token, accessTokenPrefix) {
		record, err := s.store.GetAccessTokenByHash(ctx, auth.HashToken(token))
		if errors.Is(err, sql.ErrNoRows) {
			return auth.Identity{}, auth.ErrInvalidToken
		}
		if err != nil {
			return auth.Identity{}, err
		}
		scoped := &auth.ScopedToken{
			ID:           record.ID,
			SpaceID:      record.SpaceID,
			ResourceType: record.ResourceType,
			ResourceID:   record.ResourceID,
			MaxRole:      rbac.Role(record.MaxRole),
			CreatedBy:    record.CreatedBy,
			ExpiresAt:    record.ExpiresAt,
			RevokedAt:    record.RevokedAt,
		}
		if !scoped.Live(time.Now()) {
			if scoped.RevokedAt != nil {
				return auth.Identity{}, auth.ErrRevokedToken
			}
			return auth.Identity{}, auth.ErrExpiredToken
		}
		return auth.Identity{Kind: auth.IdentityToken, Token: scoped}, nil
	}

	session, err := s.SessionFromToken(ctx, token)
	if err != nil {
		return auth.Identity{}, err
	}
	return auth.Identity{Kind: auth.IdentitySession, User: &auth.SessionUser{
		ID:   session.UserID,
		Name: session.UserName,
		JTI:  session.JTI,
	}}, nil
}

// groupIDs resolves group memberships for session identities. Token
// identities never carry group grants.
func (s *Service) groupIDs(ctx context.Context, ident auth.Identity) ([]string, error) {
	if ident.Kind != auth.IdentitySession {
		return nil, nil
	}
	return s.store.ListGroupIDsForUser(ctx, ident.User.ID)
}

// verifySpace gates a space operation for either identity kind and returns
// the effective role.
func (s *Service) verifySpace(ctx context.Context, ident auth.Identity, spaceID string, min rbac.Role) (rbac.Role, error) {
	if ident.Kind == auth.IdentityToken {
		if err := auth.VerifyTokenPermission(ident.Token, spaceID, acl.ResourceSpace, spaceID, min); err != nil {
			return "", err
		}
		return ident.Token.MaxRole, nil
	}
	groups, err := s.groupIDs(ctx, ident)
	if err != nil {
		return "", err
	}
	return s.acl.VerifySpaceRole(ctx, spaceID, ident.User.ID, groups, min)
}

func (s *Service) verifyDocument(ctx context.Context, ident auth.Identity, spaceID, documentID string, min rbac.Role) (rbac.Role, error) {
	if ident.Kind == auth.IdentityToken {
		// Token scope is checked first so a bad token cannot probe for
		// document existence.
		if err := auth.VerifyTokenPermission(ident.Token, spaceID, acl.ResourceDocument, documentID, min); err != nil {
			return "", err
		}
		if _, err := s.store.GetDocument(ctx, spaceID, documentID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return "", acl.ErrNotFound
			}
			return "", err
		}
		return ident.Token.MaxRole, nil
	}
	groups, err := s.groupIDs(ctx, ident)
	if err != nil {
		return "", err
	}
	return s.acl.VerifyDocumentRole(ctx, spaceID, documentID, ident.User.ID, groups, min)
}

func (s *Service) verifyExtension(ctx context.Context, ident auth.Identity, spaceID, extensionID string, min rbac.Role) (rbac.Role, error) {
	if ident.Kind == auth.IdentityToken {
		if err := auth.VerifyTokenPermission(ident.Token, spaceID, acl.ResourceExtension, extensionID, min); err != nil {
			return "", err
		}
		return ident.Token.MaxRole, nil
	}
	groups, err := s.groupIDs(ctx, ident)
	if err != nil {
		return "", err
	}
	return s.acl.VerifyExtensionAccess(ctx, spaceID, extensionID, ident.User.ID, groups, min)
}

// audit records an event without ever failing the calling operation.
func (s *Service) audit(ctx context.Context, ident auth.Identity, action, spaceID, resourceType, resourceID string, payload map[string]any) {
	_ = s.store.InsertAuditEvent(ctx, store.AuditEvent{
		Action:       action,
		ActorID:      ident.SubjectID(),
		SpaceID:      spaceID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Payload:      payload,
	})
}
