package user

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/forno/backend/internal/model/chat"
	"github.com/zhouzirui/forno/backend/internal/model/user"
	"github.com/zhouzirui/forno/backend/pkg/utils"
)

const (
	msgRequired = "Nome e telefone são obrigatórios."
	msgNotFound = "Cliente não encontrado."
)

// Handler serves the customer directory.
type Handler struct {
	users  user.Store
	logger zerolog.Logger
}

// New creates the user handler.
func New(users user.Store, logger zerolog.Logger) *Handler {
	return &Handler{users: users, logger: logger}
}

// RegisterRoutes mounts the user routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/users", func(r chi.Router) {
		r.Post("/", h.handleCreateUser)
		r.Get("/", h.handleFindByQuery)
		r.Get("/{telefone}", h.handleFindByPhone)
	})
}

// handleCreateUser returns the user owning the phone number, creating it when new.
func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name  string `json:"nome"`
		Phone string `json:"telefone"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(payload.Name) == "" || strings.TrimSpace(payload.Phone) == "" {
		utils.RespondError(w, http.StatusBadRequest, msgRequired)
		return
	}

	u, err := h.users.CreateUser(r.Context(), payload.Name, payload.Phone)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, u)
}

func (h *Handler) handleFindByQuery(w http.ResponseWriter, r *http.Request) {
	phone := r.URL.Query().Get("telefone")
	if phone == "" {
		utils.RespondError(w, http.StatusBadRequest, "telefone query parameter is required")
		return
	}
	h.findByPhone(w, r, phone)
}

func (h *Handler) handleFindByPhone(w http.ResponseWriter, r *http.Request) {
	h.findByPhone(w, r, chi.URLParam(r, "telefone"))
}

func (h *Handler) findByPhone(w http.ResponseWriter, r *http.Request, phone string) {
	u, err := h.users.FindByPhone(r.Context(), phone)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, u)
}

func (h *Handler) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrUserNotFound):
		utils.RespondError(w, http.StatusNotFound, msgNotFound)
	case errors.Is(err, chat.ErrInvalidUser):
		utils.RespondError(w, http.StatusBadRequest, msgRequired)
	default:
		h.logger.Error().Err(err).Msg("user store failed")
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
