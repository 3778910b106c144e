package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsExternal            bool
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Space struct {
	ID          string
	Name        string
	Slug        string
	Description string
	Visibility  string
	Plan        string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Document struct {
	ID           string
	SpaceID      string
	Title        string
	Slug         string
	Type         string
	ParentID     *string
	Properties   map[string]any
	PublishedRev int64
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Revision is one immutable entry in a document's append-only history.
// Content is stored verbatim; Checksum is the sha256 hex of Content.
type Revision struct {
	ID         string
	DocumentID string
	Rev        int64
	ParentRev  int64
	Checksum   string
	Message    string
	Content    string
	CreatedBy  string
	CreatedAt  time.Time
}

// RevisionSummary is a Revision without its content, for history listings.
type RevisionSummary struct {
	ID         string
	DocumentID string
	Rev        int64
	ParentRev  int64
	Checksum   string
	Message    string
	CreatedBy  string
	CreatedAt  time.Time
}

// Grant assigns a role to a user or group on a space, document, or
// extension. Effective permissions take the maximum across applicable
// grants; expired rows are skipped at evaluation time.
type Grant struct {
	ID           string
	SubjectType  string // 'user' or 'group'
	SubjectID    string
	ResourceType string // 'space', 'document' or 'extension'
	ResourceID   string
	SpaceID      string
	Role         string
	GrantedBy    *string
	GrantedAt    time.Time
	ExpiresAt    *time.Time
}

// GrantWithDetails includes joined subject info for API responses.
type GrantWithDetails struct {
	Grant
	UserEmail   *string
	UserName    *string
	GroupName   *string
	MemberCount *int
}

type Group struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type GroupMembership struct {
	ID        string
	GroupID   string
	UserID    string
	CreatedAt time.Time
}

// AccessToken is the stored form of a programmatic credential. Only the
// sha256 hash of the secret is persisted.
type AccessToken struct {
	ID           string
	TokenHash    string
	Name         string
	SpaceID      string
	ResourceType string
	ResourceID   string
	MaxRole      string
	CreatedBy    string
	CreatedAt    time.Time
	ExpiresAt    *time.Time
	RevokedAt    *time.Time
}

// ExtensionEntry is one key/value pair in an extension's per-space storage.
type ExtensionEntry struct {
	SpaceID     string
	ExtensionID string
	Key         string
	Value       string
	UpdatedAt   time.Time
}

type Attachment struct {
	ID          string
	DocumentID  string
	SpaceID     string
	Filename    string
	ContentType string
	Size        int64
	ObjectKey   string
	UploadedBy  string
	CreatedAt   time.Time
}

type AuditEvent struct {
	ID           int64
	Action       string
	ActorID      string
	SpaceID      string
	ResourceType string
	ResourceID   string
	Payload      map[string]any
	CreatedAt    time.Time
}
