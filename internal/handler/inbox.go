package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/schoolinbox/internal/inbox"
	"github.com/schoolinbox/internal/middleware"
	"github.com/schoolinbox/internal/model"
	"github.com/schoolinbox/internal/repository"
)

// InboxHandler serves the conversation list: windows per category, counts,
// load-more and the two ways of opening the composer (draft or existing).
type InboxHandler struct {
	manager     *inbox.Manager
	profileRepo *repository.ProfileRepository
}

func NewInboxHandler(manager *inbox.Manager, profileRepo *repository.ProfileRepository) *InboxHandler {
	return &InboxHandler{manager: manager, profileRepo: profileRepo}
}

// GetInbox returns either every window or a single one (?category=unread).
// The first call from a fresh session mounts the user's engine.
func (h *InboxHandler) GetInbox(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	engine, err := h.manager.Engine(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load inbox")
		return
	}
	if raw := r.URL.Query().Get("category"); raw != "" {
		cat, ok := model.ParseCategory(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown category")
			return
		}
		writeJSON(w, http.StatusOK, engine.Window(cat))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"windows": engine.Windows(),
		"counts":  engine.Counts(),
	})
}

// LoadMore widens one category window by the configured increment.
func (h *InboxHandler) LoadMore(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	cat, ok := model.ParseCategory(chi.URLParam(r, "category"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown category")
		return
	}
	engine, err := h.manager.Engine(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load inbox")
		return
	}
	if err := engine.LoadMore(r.Context(), cat); err != nil {
		if errors.Is(err, inbox.ErrClosed) {
			writeError(w, http.StatusConflict, "inbox closed")
			return
		}
		// The window keeps its previous content; the client may retry.
		writeError(w, http.StatusBadGateway, "failed to load more")
		return
	}
	writeJSON(w, http.StatusOK, engine.Window(cat))
}

func (h *InboxHandler) GetCounts(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	engine, err := h.manager.Engine(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load inbox")
		return
	}
	if err := engine.Reconcile(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "failed to refresh counts")
		return
	}
	writeJSON(w, http.StatusOK, engine.Counts())
}

type draftRequest struct {
	Participants []string `json:"participants"`
}

// ComposeDraft opens the composer for a new, not yet persisted conversation.
// An empty participant list answers 204: nothing to compose.
func (h *InboxHandler) ComposeDraft(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	userID := middleware.GetUserID(r.Context())
	engine, err := h.manager.Engine(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load inbox")
		return
	}
	draft, ok := engine.ComposeDraft(r.Context(), req.Participants)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, draft.Selection())
}

// SelectConversation opens the composer on an existing conversation.
func (h *InboxHandler) SelectConversation(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	engine, err := h.manager.Engine(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load inbox")
		return
	}
	sel, err := engine.SelectConversation(r.Context(), chi.URLParam(r, "conversationId"))
	if err != nil {
		if errors.Is(err, inbox.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to select conversation")
		return
	}
	writeJSON(w, http.StatusOK, sel)
}

// ListStaff returns the staff directory the composer picks recipients from.
func (h *InboxHandler) ListStaff(w http.ResponseWriter, r *http.Request) {
	staff, err := h.profileRepo.ListStaff(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list staff")
		return
	}
	out := make([]model.Participant, 0, len(staff))
	for _, s := range staff {
		out = append(out, s.Participant())
	}
	writeJSON(w, http.StatusOK, out)
}
