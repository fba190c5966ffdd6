package api

import (
	"net/http"
	"strconv"

	"github.com/admithub/handoff/internal/domain"
	"github.com/admithub/handoff/internal/handoff"
	"github.com/admithub/handoff/internal/store"
	"github.com/go-chi/chi/v5"
)

// HandoffHandler exposes the escalation core over REST for the admin
// dashboard and the chat pipeline.
type HandoffHandler struct {
	repo  store.Repository
	coord *handoff.Coordinator
}

// NewHandoffHandler creates the REST handler for handoff resources.
func NewHandoffHandler(repo store.Repository, coord *handoff.Coordinator) *HandoffHandler {
	return &HandoffHandler{repo: repo, coord: coord}
}

// RegisterRoutes mounts the handoff API under /api/handoff.
func (h *HandoffHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/handoff", func(r chi.Router) {
		r.Post("/requests", h.createRequest)
		r.Get("/requests", h.listRequests)
		r.Get("/requests/{id}", h.getRequest)
		r.Post("/requests/{id}/accept", h.acceptRequest)
		r.Post("/requests/{id}/decline", h.declineRequest)
		r.Get("/pending-count", h.pendingCount)
		r.Get("/sessions", h.listSessions)
		r.Get("/conversations/{conversationID}/status", h.conversationStatus)
		r.Post("/conversations/{conversationID}/messages", h.sendMessage)
		r.Get("/conversations/{conversationID}/messages", h.listMessages)
		r.Get("/settings", h.getSettings)
		r.Put("/settings", h.updateSettings)
	})
}

type createRequestBody struct {
	ConversationID string `json:"conversation_id"`
	UserID         int64  `json:"user_id,omitempty"`
	GuestID        string `json:"guest_id,omitempty"`
	UserMessage    string `json:"user_message"`
}

func (h *HandoffHandler) createRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := decode(r, &body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.ConversationID == "" || body.UserMessage == "" {
		Error(w, http.StatusBadRequest, "conversation_id and user_message are required")
		return
	}
	if (body.UserID != 0) == (body.GuestID != "") {
		Error(w, http.StatusBadRequest, "exactly one of user_id and guest_id is required")
		return
	}

	req, err := h.coord.Create(r.Context(), domain.CreateRequest{
		ConversationID: body.ConversationID,
		UserID:         body.UserID,
		GuestID:        body.GuestID,
		UserMessage:    body.UserMessage,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusCreated, req)
}

func (h *HandoffHandler) getRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.repo.GetRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, req)
}

func (h *HandoffHandler) listRequests(w http.ResponseWriter, r *http.Request) {
	status := domain.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.StatusWaiting
	}
	if !status.IsValid() {
		Error(w, http.StatusBadRequest, "unknown status")
		return
	}

	requests, err := h.repo.ListRequestsByStatus(r.Context(), status)
	if err != nil {
		writeError(w, err)
		return
	}
	if requests == nil {
		requests = []*domain.HandoffRequest{}
	}
	JSON(w, http.StatusOK, requests)
}

type adminActionBody struct {
	AdminID   int64  `json:"admin_id"`
	AdminName string `json:"admin_name,omitempty"`
}

func (h *HandoffHandler) acceptRequest(w http.ResponseWriter, r *http.Request) {
	var body adminActionBody
	if err := decode(r, &body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.AdminID == 0 || body.AdminName == "" {
		Error(w, http.StatusBadRequest, "admin_id and admin_name are required")
		return
	}

	req, err := h.coord.Accept(r.Context(), chi.URLParam(r, "id"), body.AdminID, body.AdminName)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, req)
}

func (h *HandoffHandler) declineRequest(w http.ResponseWriter, r *http.Request) {
	var body adminActionBody
	if err := decode(r, &body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.AdminID == 0 {
		Error(w, http.StatusBadRequest, "admin_id is required")
		return
	}

	req, err := h.coord.Decline(r.Context(), chi.URLParam(r, "id"), body.AdminID)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, req)
}

func (h *HandoffHandler) pendingCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.coord.Aggregator().PendingCount(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, domain.PendingCount{Count: count})
}

func (h *HandoffHandler) listSessions(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 50)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	requests, total, err := h.repo.ListRecentRequests(r.Context(), limit, (page-1)*limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if requests == nil {
		requests = []*domain.HandoffRequest{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"data":          requests,
		"count":         total,
		"has_next_page": total > page*limit,
	})
}

func (h *HandoffHandler) conversationStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.coord.Status(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

type sendMessageBody struct {
	Content     string `json:"content"`
	IsFromAdmin bool   `json:"is_from_admin"`
	AdminID     int64  `json:"admin_id,omitempty"`
	AdminName   string `json:"admin_name,omitempty"`
}

func (h *HandoffHandler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var body sendMessageBody
	if err := decode(r, &body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Content == "" {
		Error(w, http.StatusBadRequest, "content is required")
		return
	}

	msg, err := h.coord.SendMessage(r.Context(), domain.MessageSent{
		ConversationID: chi.URLParam(r, "conversationID"),
		Content:        body.Content,
		IsFromAdmin:    body.IsFromAdmin,
		AdminID:        body.AdminID,
		AdminName:      body.AdminName,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusCreated, msg)
}

func (h *HandoffHandler) listMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.repo.ListMessages(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if messages == nil {
		messages = []*domain.HumanMessage{}
	}
	JSON(w, http.StatusOK, messages)
}

func (h *HandoffHandler) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.repo.GetSettings(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, settings)
}

func (h *HandoffHandler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var body domain.HandoffSetting
	if err := decode(r, &body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.TimeoutSeconds <= 0 {
		Error(w, http.StatusBadRequest, "timeout_seconds must be positive")
		return
	}

	settings, err := h.repo.UpdateSettings(r.Context(), &body)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, settings)
}

func queryInt(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
