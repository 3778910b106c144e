package app

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/luckydye/scroll/internal/auth"
	"github.com/luckydye/scroll/internal/search"
)

// handleSpace routes everything under /api/spaces/{id}. parts is the split
// request path including the leading "api".
func (s *HTTPServer) handleSpace(w http.ResponseWriter, r *http.Request, ident auth.Identity, parts []string) {
	spaceID := parts[2]

	if len(parts) == 3 {
		if r.Method == http.MethodGet {
			payload, err := s.service.GetSpace(r.Context(), ident, spaceID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}

		if r.Method == http.MethodPut {
			var body struct {
				Name        string `json:"name"`
				Description string `json:"description"`
				Visibility  string `json:"visibility"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateSpace(r.Context(), ident, spaceID, body.Name, body.Description, body.Visibility)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}

		if r.Method == http.MethodDelete {
			if err := s.service.DeleteSpace(r.Context(), ident, spaceID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}

		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 4 && parts[3] == "permissions" {
		s.handlePermissions(w, r, ident, spaceID)
		return
	}

	if len(parts) >= 4 && parts[3] == "tokens" {
		if len(parts) == 4 && r.Method == http.MethodGet {
			payload, err := s.service.ListAccessTokens(r.Context(), ident, spaceID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
		if len(parts) == 4 && r.Method == http.MethodPost {
			var body CreateTokenInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateAccessToken(r.Context(), ident, spaceID, body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
			return
		}
		if len(parts) == 5 && r.Method == http.MethodDelete {
			if err := s.service.RevokeAccessToken(r.Context(), ident, spaceID, parts[4]); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 4 && parts[3] == "search" && r.Method == http.MethodGet {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		limit, ok := queryInt(w, r, "limit", 20)
		if !ok {
			return
		}
		offset, ok := queryInt(w, r, "offset", 0)
		if !ok {
			return
		}
		var filters []search.PropertyFilter
		if raw := strings.TrimSpace(r.URL.Query().Get("filters")); raw != "" {
			if err := json.Unmarshal([]byte(raw), &filters); err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "filters must be a JSON array of {key, value}", nil)
				return
			}
		}
		payload, err := s.service.SearchDocuments(r.Context(), ident, spaceID, q, filters, limit, offset)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 4 && parts[3] == "audit" && r.Method == http.MethodGet {
		limit, ok := queryInt(w, r, "limit", 100)
		if !ok {
			return
		}
		offset, ok := queryInt(w, r, "offset", 0)
		if !ok {
			return
		}
		payload, err := s.service.ListAuditEvents(r.Context(), ident, spaceID, limit, offset)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) >= 6 && parts[3] == "extensions" && parts[5] == "storage" {
		s.handleExtensionStorage(w, r, ident, spaceID, parts[4], parts)
		return
	}

	if len(parts) >= 4 && parts[3] == "documents" {
		s.handleSpaceDocuments(w, r, ident, spaceID, parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handlePermissions(w http.ResponseWriter, r *http.Request, ident auth.Identity, spaceID string) {
	if r.Method == http.MethodGet {
		resourceType := strings.TrimSpace(r.URL.Query().Get("resourceType"))
		resourceID := strings.TrimSpace(r.URL.Query().Get("resourceId"))
		payload, err := s.service.ListPermissions(r.Context(), ident, spaceID, resourceType, resourceID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodPost {
		var body GrantInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.GrantPermission(r.Context(), ident, spaceID, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	if r.Method == http.MethodDelete {
		var body struct {
			SubjectType  string `json:"subjectType"`
			SubjectID    string `json:"subjectId"`
			ResourceType string `json:"resourceType"`
			ResourceID   string `json:"resourceId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		err := s.service.RevokePermission(r.Context(), ident, spaceID, body.SubjectType, body.SubjectID, body.ResourceType, body.ResourceID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleExtensionStorage(w http.ResponseWriter, r *http.Request, ident auth.Identity, spaceID, extensionID string, parts []string) {
	if len(parts) == 6 && r.Method == http.MethodGet {
		payload, err := s.service.ListExtensionKeys(r.Context(), ident, spaceID, extensionID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 7 {
		key := parts[6]
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetExtensionValue(r.Context(), ident, spaceID, extensionID, key)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case http.MethodPut:
			var body struct {
				Value string `json:"value"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.service.PutExtensionValue(r.Context(), ident, spaceID, extensionID, key, body.Value); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		case http.MethodDelete:
			if err := s.service.DeleteExtensionValue(r.Context(), ident, spaceID, extensionID, key); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleSpaceDocuments(w http.ResponseWriter, r *http.Request, ident auth.Identity, spaceID string, parts []string) {
	if len(parts) == 4 {
		if r.Method == http.MethodGet {
			limit, ok := queryInt(w, r, "limit", 100)
			if !ok {
				return
			}
			offset, ok := queryInt(w, r, "offset", 0)
			if !ok {
				return
			}
			payload, err := s.service.ListDocuments(r.Context(), ident, spaceID, limit, offset)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
		if r.Method == http.MethodPost {
			var body CreateDocumentInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateDocument(r.Context(), ident, spaceID, body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	documentID := parts[4]

	if len(parts) == 5 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetDocument(r.Context(), ident, spaceID, documentID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case http.MethodPatch:
			var body struct {
				Title      string         `json:"title"`
				ParentID   *string        `json:"parentId"`
				Properties map[string]any `json:"properties"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateDocumentMeta(r.Context(), ident, spaceID, documentID, body.Title, body.ParentID, body.Properties)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case http.MethodDelete:
			if err := s.service.DeleteDocument(r.Context(), ident, spaceID, documentID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 6 && parts[5] == "revisions" {
		if r.Method == http.MethodGet {
			limit, ok := queryInt(w, r, "limit", 50)
			if !ok {
				return
			}
			offset, ok := queryInt(w, r, "offset", 0)
			if !ok {
				return
			}
			payload, err := s.service.ListRevisions(r.Context(), ident, spaceID, documentID, limit, offset)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
		if r.Method == http.MethodPost {
			var body SaveRevisionInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.SaveRevision(r.Context(), ident, spaceID, documentID, body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 7 && parts[5] == "revisions" && r.Method == http.MethodGet {
		rev, err := strconv.ParseInt(parts[6], 10, 64)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "rev must be an integer", nil)
			return
		}
		payload, err := s.service.GetRevision(r.Context(), ident, spaceID, documentID, rev)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 6 && parts[5] == "restore" && r.Method == http.MethodPost {
		var body struct {
			Rev     int64  `json:"rev"`
			Message string `json:"message"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.RestoreRevision(r.Context(), ident, spaceID, documentID, body.Rev, body.Message)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	if len(parts) == 6 && parts[5] == "publish" && r.Method == http.MethodPost {
		var body struct {
			Rev int64 `json:"rev"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.PublishRevision(r.Context(), ident, spaceID, documentID, body.Rev)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 6 && parts[5] == "export" && r.Method == http.MethodPost {
		var body struct {
			Format string `json:"format"`
			Rev    int64  `json:"rev"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.ExportRevision(r.Context(), ident, spaceID, documentID, body.Rev, body.Format)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
		w.Header().Set("Content-Type", result.MimeType)
		w.Write(result.Data)
		return
	}

	if len(parts) >= 6 && parts[5] == "attachments" {
		s.handleAttachments(w, r, ident, spaceID, documentID, parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleAttachments(w http.ResponseWriter, r *http.Request, ident auth.Identity, spaceID, documentID string, parts []string) {
	if len(parts) == 6 && r.Method == http.MethodGet {
		payload, err := s.service.ListAttachments(r.Context(), ident, spaceID, documentID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 6 && r.Method == http.MethodPost {
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "multipart field 'file' is required", nil)
			return
		}
		defer file.Close()
		contentType := header.Header.Get("Content-Type")
		payload, err := s.service.UploadAttachment(r.Context(), ident, spaceID, documentID, header.Filename, contentType, file, header.Size)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	if len(parts) == 7 && r.Method == http.MethodGet {
		item, body, err := s.service.GetAttachment(r.Context(), ident, spaceID, documentID, parts[6])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		defer body.Close()
		w.Header().Set("Content-Disposition", "attachment; filename=\""+item.Filename+"\"")
		w.Header().Set("Content-Type", item.ContentType)
		_, _ = io.Copy(w, body)
		return
	}

	if len(parts) == 7 && r.Method == http.MethodDelete {
		if err := s.service.DeleteAttachment(r.Context(), ident, spaceID, documentID, parts[6]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

// queryInt parses an optional integer query parameter, writing a validation
// error and returning ok=false when the raw value is not an integer.
func queryInt(w http.ResponseWriter, r *http.Request, name string, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", name+" must be an integer", nil)
		return 0, false
	}
	return parsed, true
}
