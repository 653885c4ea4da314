// Package admin serves the administrator's account management API.
package admin

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"portal/internal/common"
	"portal/internal/gateway"
	"portal/internal/models"
	"portal/internal/sysstats"
)

// SessionBinder resolves the caller's session for one request.
type SessionBinder func(w http.ResponseWriter, r *http.Request) gateway.Sessions

type Handler struct {
	gw         *gateway.Gateway
	bind       SessionBinder
	statsPaths []string
	log        *logrus.Logger
}

// NewHandler builds the admin API. statsPaths are the filesystems reported
// by /admin/stats.
func NewHandler(gw *gateway.Gateway, bind SessionBinder, statsPaths []string, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{gw: gw, bind: bind, statsPaths: statsPaths, log: log}
}

// Register mounts the routes on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/admin/users", h.ListUsers).Methods(http.MethodGet)
	r.HandleFunc("/admin/users/{username}/delete", h.DeleteUser).Methods(http.MethodPost)
	r.HandleFunc("/admin/stats", h.Stats).Methods(http.MethodGet)
}

type usersResponse struct {
	Users []models.AccountView `json:"users"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) sendJSON(w http.ResponseWriter, status int, resp interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.WithError(err).Error("Failed to encode JSON response")
	}
}

// sendError answers a failed admin call. Non-admins get a bare text 403.
func (h *Handler) sendError(w http.ResponseWriter, r *http.Request, err error) {
	status := common.HTTPStatus(err)
	if status == http.StatusForbidden {
		http.Error(w, common.MsgForbidden, http.StatusForbidden)
		return
	}

	fields := logrus.Fields{"path": r.URL.Path, "status": status}
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).WithFields(fields).Error("Admin API error")
	} else {
		h.log.WithFields(fields).Info("Admin API request rejected: " + common.Message(err))
	}
	h.sendJSON(w, status, errorResponse{Error: common.Message(err)})
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.gw.ListUsers(r.Context(), h.bind(w, r))
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	if users == nil {
		users = []models.AccountView{}
	}
	h.sendJSON(w, http.StatusOK, usersResponse{Users: users})
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(mux.Vars(r)["username"])
	if err := h.gw.DeleteUser(r.Context(), h.bind(w, r), username); err != nil {
		h.sendError(w, r, err)
		return
	}

	h.log.WithField("username", models.NormalizeUsername(username)).Info("Account deleted by admin")
	h.sendJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if err := h.gw.RequireAdmin(r.Context(), h.bind(w, r)); err != nil {
		h.sendError(w, r, err)
		return
	}
	h.sendJSON(w, http.StatusOK, sysstats.Collect(r.Context(), h.statsPaths))
}
