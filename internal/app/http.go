package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hearth/api/internal/live"
	"hearth/api/internal/search"
	"hearth/api/internal/util"
)

// Searcher answers full-text queries over active original messages.
type Searcher interface {
	Search(search.Query) search.Response
}

// Attachments is the blob store behind message attachments: upload,
// existence checks and short-lived download links.
type Attachments interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Attached(ctx context.Context, key string) bool
	Remove(ctx context.Context, key string) error
	DownloadURL(ctx context.Context, key, filename string, expiry time.Duration) (string, error)
}

// LiveHub attaches websocket observers to live channels.
type LiveHub interface {
	Attach(scope, target string, c live.Conn)
	Detach(scope, target string, c live.Conn)
}

type HTTPServer struct {
	service     *Service
	searcher    Searcher
	attachments Attachments
	hub         LiveHub
	corsOrigin  string
}

func NewHTTPServer(service *Service, searcher Searcher, attachments Attachments, hub LiveHub, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		service:     service,
		searcher:    searcher,
		attachments: attachments,
		hub:         hub,
		corsOrigin:  corsOrigin,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, "q is required", nil)
			return
		}
		limit := 20
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, CodeValidation, "limit must be an integer", nil)
				return
			}
			limit = parsed
		}
		offset := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, CodeValidation, "offset must be an integer", nil)
				return
			}
			offset = parsed
		}
		payload := s.searcher.Search(search.Query{
			Text:         q,
			FilterRoomID: strings.TrimSpace(r.URL.Query().Get("roomId")),
			Limit:        limit,
			Offset:       offset,
		})
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/messages" {
		s.handleCreateMessage(w, r, userID)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "messages" {
		messageID := parts[2]
		switch r.Method {
		case http.MethodGet:
			s.handleGetMessage(w, r, messageID)
		case http.MethodPut:
			s.handleEditMessage(w, r, messageID)
		case http.MethodDelete:
			s.handleSetActive(w, r, messageID, false)
		default:
			writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "messages" && parts[3] == "reactivate" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Method not allowed", nil)
			return
		}
		s.handleSetActive(w, r, parts[2], true)
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "messages" && parts[3] == "attachment" {
		switch r.Method {
		case http.MethodGet:
			s.handleAttachmentURL(w, r, parts[2])
		case http.MethodPost:
			s.handleUploadAttachment(w, r, parts[2])
		case http.MethodDelete:
			s.handleRemoveAttachment(w, r, parts[2])
		default:
			writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "memberships" && r.Method == http.MethodGet {
		membership, err := s.service.GetMembership(r.Context(), parts[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"membershipId": membership.ID,
			"roomId":       membership.RoomID,
			"userId":       membership.UserID,
			"involvement":  membership.Involvement,
			"unread":       membership.Unread(),
			"unreadAt":     membership.UnreadAt,
		})
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "memberships" && parts[3] == "read" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Method not allowed", nil)
			return
		}
		membership, err := s.service.MarkRead(r.Context(), parts[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"membershipId": membership.ID,
			"roomId":       membership.RoomID,
			"userId":       membership.UserID,
			"unread":       membership.Unread(),
		})
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[3] == "live" && r.Method == http.MethodGet {
		scope, ok := liveScopeForRoute(parts[1])
		if !ok {
			writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
			return
		}
		s.handleLive(w, r, scope, parts[2])
		return
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
}

func (s *HTTPServer) handleCreateMessage(w http.ResponseWriter, r *http.Request, userID string) {
	var body struct {
		RoomID            string `json:"roomId"`
		ParentMessageID   string `json:"parentMessageId"`
		Body              string `json:"body"`
		AttachmentKey     string `json:"attachmentKey"`
		AttachmentName    string `json:"attachmentName"`
		OriginalMessageID string `json:"originalMessageId"`
		ClientMessageID   string `json:"clientMessageId"`
		InFeed            bool   `json:"inFeed"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error(), nil)
		return
	}
	message, err := s.service.CreateMessage(r.Context(), CreateMessageInput{
		RoomID:            body.RoomID,
		ParentMessageID:   body.ParentMessageID,
		CreatorID:         userID,
		Body:              body.Body,
		AttachmentKey:     body.AttachmentKey,
		AttachmentName:    body.AttachmentName,
		OriginalMessageID: body.OriginalMessageID,
		ClientMessageID:   body.ClientMessageID,
		InFeed:            body.InFeed,
	})
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, s.service.messagePayload(r.Context(), message))
}

func (s *HTTPServer) handleGetMessage(w http.ResponseWriter, r *http.Request, messageID string) {
	canonical, err := s.service.GetMessage(r.Context(), messageID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	boosts, err := s.service.DisplayBoosts(r.Context(), canonical)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	boostPayload := make([]map[string]any, 0, len(boosts))
	for _, boost := range boosts {
		boostPayload = append(boostPayload, map[string]any{
			"id":        boost.ID,
			"boosterId": boost.BoosterID,
			"content":   boost.Content,
			"createdAt": boost.CreatedAt.Unix(),
		})
	}
	bookmarks, err := s.service.DisplayBookmarks(r.Context(), canonical)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	bookmarkPayload := make([]map[string]any, 0, len(bookmarks))
	for _, bookmark := range bookmarks {
		bookmarkPayload = append(bookmarkPayload, map[string]any{
			"id":        bookmark.ID,
			"userId":    bookmark.UserID,
			"createdAt": bookmark.CreatedAt.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   s.service.messagePayload(r.Context(), canonical.Message),
		"boosts":    boostPayload,
		"bookmarks": bookmarkPayload,
	})
}

func (s *HTTPServer) handleEditMessage(w http.ResponseWriter, r *http.Request, messageID string) {
	var body struct {
		Body string `json:"body"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error(), nil)
		return
	}
	message, err := s.service.EditMessage(r.Context(), messageID, body.Body)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, s.service.messagePayload(r.Context(), message))
}

func (s *HTTPServer) handleSetActive(w http.ResponseWriter, r *http.Request, messageID string, active bool) {
	flip := s.service.Deactivate
	if active {
		flip = s.service.Reactivate
	}
	message, err := flip(r.Context(), messageID)
	if err != nil {
		status, code, msg, details := mapError(err)
		writeError(w, status, code, msg, details)
		return
	}
	writeJSON(w, http.StatusOK, s.service.messagePayload(r.Context(), message))
}

func (s *HTTPServer) handleAttachmentURL(w http.ResponseWriter, r *http.Request, messageID string) {
	canonical, err := s.service.GetMessage(r.Context(), messageID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	resolved := canonical.Resolved()
	if !resolved.HasLocalAttachment() {
		writeError(w, http.StatusNotFound, CodeNotFound, "Message has no attachment", nil)
		return
	}
	if s.attachments == nil {
		writeError(w, http.StatusServiceUnavailable, CodeAttachmentsUnavailable, "Attachment storage not configured", nil)
		return
	}
	if !s.attachments.Attached(r.Context(), *resolved.AttachmentKey) {
		writeError(w, http.StatusNotFound, CodeNotFound, "Attachment is missing from storage", nil)
		return
	}
	url, err := s.attachments.DownloadURL(r.Context(), *resolved.AttachmentKey, canonical.DisplayAttachmentFilename(), 15*time.Minute)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeServerError, "Could not sign download URL", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url})
}

const maxAttachmentBytes = 25 << 20

// handleUploadAttachment streams the request body into the blob store and
// records the key on the message. Copies never own an attachment.
func (s *HTTPServer) handleUploadAttachment(w http.ResponseWriter, r *http.Request, messageID string) {
	if s.attachments == nil {
		writeError(w, http.StatusServiceUnavailable, CodeAttachmentsUnavailable, "Attachment storage not configured", nil)
		return
	}
	filename := strings.TrimSpace(r.URL.Query().Get("filename"))
	if filename == "" {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "filename is required", nil)
		return
	}
	canonical, err := s.service.GetMessage(r.Context(), messageID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	if canonical.Message.IsCopy() {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "copies resolve attachments through their original", nil)
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := util.NewID("att")
	body := http.MaxBytesReader(w, r.Body, maxAttachmentBytes)
	if err := s.attachments.Put(r.Context(), key, body, r.ContentLength, contentType); err != nil {
		writeError(w, http.StatusInternalServerError, CodeServerError, "Could not store attachment", nil)
		return
	}
	message, err := s.service.SetAttachment(r.Context(), messageID, key, filename)
	if err != nil {
		status, code, msg, details := mapError(err)
		writeError(w, status, code, msg, details)
		return
	}
	writeJSON(w, http.StatusCreated, s.service.messagePayload(r.Context(), message))
}

func (s *HTTPServer) handleRemoveAttachment(w http.ResponseWriter, r *http.Request, messageID string) {
	if s.attachments == nil {
		writeError(w, http.StatusServiceUnavailable, CodeAttachmentsUnavailable, "Attachment storage not configured", nil)
		return
	}
	canonical, err := s.service.GetMessage(r.Context(), messageID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	if !canonical.Message.HasLocalAttachment() {
		writeError(w, http.StatusNotFound, CodeNotFound, "Message has no attachment", nil)
		return
	}
	if err := s.attachments.Remove(r.Context(), *canonical.Message.AttachmentKey); err != nil {
		// The blob may already be gone; the reference is cleared regardless.
		s.service.log.Warn("attachment remove failed", "key", *canonical.Message.AttachmentKey, "err", err)
	}
	message, err := s.service.ClearAttachment(r.Context(), messageID)
	if err != nil {
		status, code, msg, details := mapError(err)
		writeError(w, status, code, msg, details)
		return
	}
	writeJSON(w, http.StatusOK, s.service.messagePayload(r.Context(), message))
}

func (s *HTTPServer) handleLive(w http.ResponseWriter, r *http.Request, scope, target string) {
	conn, err := live.UpgradeWS(w, r)
	if err != nil {
		return // upgrade already wrote the response
	}
	s.hub.Attach(scope, target, conn)
	conn.ReadUntilClosed()
	s.hub.Detach(scope, target, conn)
	_ = conn.Close()
}

func liveScopeForRoute(segment string) (string, bool) {
	switch segment {
	case "rooms":
		return live.ScopeRoom, true
	case "threads":
		return live.ScopeThread, true
	case "messages":
		return live.ScopeMessage, true
	case "memberships":
		return live.ScopeMembership, true
	default:
		return "", false
	}
}

// requireUser reads the identity the auth gateway established. This service
// trusts the header; authentication itself lives upstream.
func (s *HTTPServer) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if userID == "" {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
		return "", false
	}
	return userID, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.service.log.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-User-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, CodeNotFound, "Not found", nil
	}
	return http.StatusInternalServerError, CodeServerError, "Server error", nil
}
