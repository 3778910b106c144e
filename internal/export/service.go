package export

import (
	"context"
	"fmt"
	"html/template"

	"github.com/luckydye/scroll/internal/store"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetDocument(ctx context.Context, spaceID, documentID string) (store.Document, error)
	GetSpace(ctx context.Context, spaceID string) (store.Space, error)
	GetRevision(ctx context.Context, documentID string, rev int64) (store.Revision, error)
	GetHeadRevision(ctx context.Context, documentID string) (store.Revision, error)
}

// Service provides document export functionality
type Service struct {
	store      DataStore
	chromeAddr string
}

// NewService creates a new export service. chromeAddr points at a remote
// Chrome debugging endpoint; when empty a local headless chromium is used.
func NewService(store DataStore, chromeAddr string) *Service {
	return &Service{store: store, chromeAddr: chromeAddr}
}

// Export renders the requested revision in the requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	doc, err := s.store.GetDocument(ctx, req.SpaceID, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}

	space, err := s.store.GetSpace(ctx, doc.SpaceID)
	if err != nil {
		return nil, fmt.Errorf("get space: %w", err)
	}

	var revision store.Revision
	if req.Rev > 0 {
		revision, err = s.store.GetRevision(ctx, doc.ID, req.Rev)
	} else {
		revision, err = s.store.GetHeadRevision(ctx, doc.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	data := TemplateData{
		Title:       doc.Title,
		ContentHTML: template.HTML(ContentToHTML(revision.Content)),
		Author:      revision.CreatedBy,
		UpdatedAt:   revision.CreatedAt,
		SpaceName:   space.Name,
		Rev:         revision.Rev,
		Checksum:    revision.Checksum,
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(ctx, html, doc.Title, s.chromeAddr)
	case FormatDOCX:
		return exportDOCX(revision.Content, doc.Title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}
