package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"osprey-ptx/core/auth"
	"osprey-ptx/core/store"
	"osprey-ptx/core/utils"
)

type AccountsHandler struct {
	users  store.UsersStore
	audits store.AuditStore
	logger *utils.Logger
}

func NewAccountsHandler(users store.UsersStore, audits store.AuditStore, logger *utils.Logger) *AccountsHandler {
	return &AccountsHandler{users: users, audits: audits, logger: logger}
}

func (h *AccountsHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *AccountsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string   `json:"username"`
		FullName string   `json:"full_name"`
		Email    string   `json:"email"`
		Password string   `json:"password"`
		Roles    []string `json:"roles"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	payload.Username = strings.ToLower(strings.TrimSpace(payload.Username))
	if payload.Username == "" || payload.Password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}
	hash, err := auth.HashPassword(payload.Password)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	user := &store.User{
		Username:     payload.Username,
		FullName:     payload.FullName,
		Email:        payload.Email,
		PasswordHash: hash,
		Active:       true,
	}
	if _, err := h.users.Create(r.Context(), user, payload.Roles); err != nil {
		http.Error(w, "could not create user", http.StatusConflict)
		return
	}
	actor := actorName(r)
	_ = h.audits.Record(r.Context(), actor, "accounts.create", "username="+user.Username)
	writeJSON(w, http.StatusCreated, user)
}

func (h *AccountsHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(urlParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id format", http.StatusBadRequest)
		return
	}
	var payload struct {
		Active bool `json:"active"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	if err := h.users.SetActive(r.Context(), id, payload.Active); err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	_ = h.audits.Record(r.Context(), actorName(r), "accounts.set_active",
		"user_id="+strconv.FormatInt(id, 10)+" active="+strconv.FormatBool(payload.Active))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func actorName(r *http.Request) string {
	if sr := auth.SessionFromContext(r.Context()); sr != nil {
		return sr.Username
	}
	return ""
}
