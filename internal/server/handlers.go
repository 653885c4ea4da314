package server

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"path"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"portal/internal/common"
	"portal/internal/gateway"
	"portal/internal/models"
)

const (
	welcomeRedirect = "/html/offerings.html?welcome=1"
	adminRedirect   = "/html/admin.html"
	logoutRedirect  = "/index.html"
	loginPage       = "/html/login.html"
)

// adminPages are served only to admin sessions.
var adminPages = []string{"/html/admin.html", "/html/admin-users.html"}

const maxFormSize = 64 << 10

// formValues reads a urlencoded form or a flat JSON object.
func formValues(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	values := make(map[string]string)

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		raw := make(map[string]interface{})
		if err := json.NewDecoder(io.LimitReader(r.Body, maxFormSize)).Decode(&raw); err != nil && err != io.EOF {
			return nil, err
		}
		for k, v := range raw {
			if s, ok := v.(string); ok {
				values[k] = s
			}
		}
		return values, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	for k := range r.PostForm {
		values[k] = r.PostForm.Get(k)
	}
	return values, nil
}

func (s *Server) sendText(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	io.WriteString(w, message)
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, resp interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.WithError(err).Error("Failed to encode JSON response")
	}
}

// sendFailure answers signup and login failures with a plain-text message.
func (s *Server) sendFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := common.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
	}
	s.sendText(w, status, common.Message(err))
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	form, err := formValues(w, r)
	if err != nil {
		s.sendText(w, http.StatusBadRequest, common.MsgRequiredFields)
		return
	}

	req := models.SignupRequest{
		Username:        form["username"],
		Password:        form["password"],
		ConfirmPassword: form["confirmPassword"],
		FirstName:       form["firstName"],
		LastName:        form["lastName"],
		Nickname:        form["nickname"],
	}
	id, err := s.config.Gateway.Signup(r.Context(), s.bind(w, r), req)
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}

	s.log.WithFields(logrus.Fields{"username": id.Username, "store": id.Origin}).Info("Signup")
	http.Redirect(w, r, welcomeRedirect, http.StatusFound)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	form, err := formValues(w, r)
	if err != nil {
		s.sendText(w, http.StatusBadRequest, common.MsgMissingCredentials)
		return
	}

	id, err := s.config.Gateway.Login(r.Context(), s.bind(w, r), form["username"], form["password"])
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}

	s.log.WithFields(logrus.Fields{"username": id.Username, "store": id.Origin}).Info("Login")
	if id.IsAdmin {
		http.Redirect(w, r, adminRedirect, http.StatusFound)
		return
	}
	http.Redirect(w, r, welcomeRedirect, http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.config.Gateway.Logout(r.Context(), s.bind(w, r)); err != nil {
		s.log.WithError(err).Warn("Logout failed")
	}
	http.Redirect(w, r, logoutRedirect, http.StatusFound)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	profile, err := s.config.Gateway.Me(r.Context(), s.bind(w, r))
	if err != nil {
		s.log.WithError(err).Warn("Failed to resolve session")
		profile = gateway.Profile{}
	}
	if !profile.Authenticated {
		s.sendJSON(w, http.StatusOK, map[string]bool{"authenticated": false})
		return
	}
	s.sendJSON(w, http.StatusOK, profile)
}

func (s *Server) handleAdminPage(w http.ResponseWriter, r *http.Request) {
	id, err := s.bind(w, r).Current(r.Context())
	if err != nil || !id.IsAdmin || !models.IsReserved(id.Username) {
		http.Redirect(w, r, loginPage, http.StatusFound)
		return
	}
	if s.config.StaticDir == "" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.config.StaticDir, filepath.FromSlash(path.Clean(r.URL.Path))))
}
