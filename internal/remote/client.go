// Package remote is an AccountStore that talks to a portal server over its
// HTTP interface. The command-line client uses it as its primary store.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"portal/internal/common"
	"portal/internal/localstore"
	"portal/internal/models"
	"portal/internal/session"
	"portal/internal/storage"
)

var _ storage.AccountStore = (*Store)(nil)

const maxBody = 1 << 20

type Options struct {
	// Timeout caps a single request; the gateway usually sets a tighter
	// deadline through the context.
	Timeout time.Duration
	Logger  *logrus.Logger
}

// Store keeps the server session cookie in kv so that consecutive client
// invocations share one server session.
type Store struct {
	baseURL *url.URL
	client  *http.Client
	kv      localstore.KV
	log     *logrus.Logger
}

func New(serverURL string, kv localstore.KV, opts Options) (*Store, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", serverURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	return &Store{
		baseURL: u,
		client: &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		kv:  kv,
		log: opts.Logger,
	}, nil
}

func (s *Store) Name() string {
	return storage.RemoteName
}

func (s *Store) Signup(ctx context.Context, req models.SignupRequest) (*models.Account, error) {
	form := url.Values{
		"username":        {req.Username},
		"password":        {req.Password},
		"confirmPassword": {req.ConfirmPassword},
		"firstName":       {req.FirstName},
		"lastName":        {req.LastName},
		"nickname":        {req.Nickname},
	}
	if err := s.submit(ctx, "/signup", form); err != nil {
		return nil, err
	}
	return req.Account(), nil
}

func (s *Store) Login(ctx context.Context, username, password string) (*models.Account, error) {
	form := url.Values{"username": {username}, "password": {password}}
	if err := s.submit(ctx, "/login", form); err != nil {
		return nil, err
	}
	if models.IsReserved(username) {
		return models.NewAdminAccount(), nil
	}
	return &models.Account{Username: models.NormalizeUsername(username)}, nil
}

// submit posts a form to a route that answers with a redirect on success
// and a plain-text message on failure.
func (s *Store) submit(ctx context.Context, path string, form url.Values) error {
	resp, err := s.do(ctx, http.MethodPost, path, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusFound || resp.StatusCode == http.StatusSeeOther:
		return s.keepCookie(ctx, resp)
	case resp.StatusCode == http.StatusNotFound:
		// No account routes here: treat as if the server were down.
		return common.Unreachable(fmt.Errorf("%s: route not found", path))
	}
	return s.failure(path, resp)
}

// Lookup asks the server who the current session belongs to.
func (s *Store) Lookup(ctx context.Context, username string) (*models.Account, error) {
	resp, err := s.do(ctx, http.MethodGet, "/me", nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, s.failure("/me", resp)
	}

	var me struct {
		Authenticated bool   `json:"authenticated"`
		Username      string `json:"username"`
		DisplayName   string `json:"displayName"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&me); err != nil {
		return nil, common.Internal(fmt.Errorf("decode /me: %w", err))
	}
	if !me.Authenticated || me.Username != models.NormalizeUsername(username) {
		return nil, common.New(common.ErrNotFound, common.MsgUserNotFound)
	}
	return &models.Account{Username: me.Username, Nickname: me.DisplayName}, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]models.AccountView, error) {
	resp, err := s.do(ctx, http.MethodGet, "/admin/users", nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, s.failure("/admin/users", resp)
	}

	var body struct {
		Users []models.AccountView `json:"users"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&body); err != nil {
		return nil, common.Internal(fmt.Errorf("decode users: %w", err))
	}
	return body.Users, nil
}

// SoftDelete rejects a blank username locally; the server has no route
// for an empty path segment.
func (s *Store) SoftDelete(ctx context.Context, username string) error {
	username = models.NormalizeUsername(username)
	if username == "" {
		return common.New(common.ErrValidation, common.MsgMissingUsername)
	}
	path := "/admin/users/" + url.PathEscape(username) + "/delete"
	resp, err := s.do(ctx, http.MethodPost, path, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	return s.failure(path, resp)
}

// Logout ends the server session. Failures are logged and ignored; the
// stored cookie is dropped either way.
func (s *Store) Logout(ctx context.Context) {
	resp, err := s.do(ctx, http.MethodPost, "/logout", nil, "")
	if err != nil {
		s.log.WithError(err).Debug("Remote logout failed")
	} else {
		resp.Body.Close()
	}
	if err := s.kv.Delete(ctx, localstore.KeyRemoteCookie); err != nil {
		s.log.WithError(err).Warn("Failed to clear remote session")
	}
}

func (s *Store) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL.String()+path, body)
	if err != nil {
		return nil, common.Internal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json, text/plain")

	cookie, ok, err := s.kv.Get(ctx, localstore.KeyRemoteCookie)
	if err != nil {
		return nil, common.Internal(err)
	}
	if ok && cookie != "" {
		req.AddCookie(&http.Cookie{Name: session.CookieName, Value: cookie})
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, common.Unreachable(fmt.Errorf("%s %s: %w", method, path, err))
	}
	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		resp.Body.Close()
		return nil, common.Unreachable(fmt.Errorf("%s %s: %s", method, path, resp.Status))
	}
	return resp, nil
}

func (s *Store) keepCookie(ctx context.Context, resp *http.Response) error {
	for _, c := range resp.Cookies() {
		if c.Name != session.CookieName {
			continue
		}
		if err := s.kv.Set(ctx, localstore.KeyRemoteCookie, c.Value); err != nil {
			return common.Internal(fmt.Errorf("store session cookie: %w", err))
		}
		return nil
	}
	return nil
}

// failure turns an error response into a classified error. Text and JSON
// bodies are both understood.
func (s *Store) failure(path string, resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return common.Unreachable(fmt.Errorf("%s: read body: %w", path, err))
	}

	message := strings.TrimSpace(string(raw))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		message = body.Error
	}

	switch resp.StatusCode {
	case http.StatusForbidden:
		return common.New(common.ErrForbidden, common.MsgForbidden)
	case http.StatusNotFound:
		return common.New(common.ErrNotFound, common.MsgUserNotFound)
	}
	if resp.StatusCode >= 500 || message == "" {
		s.log.WithFields(logrus.Fields{"path": path, "status": resp.StatusCode}).Warn("Remote server error")
		return common.Internal(errors.New(resp.Status + ": " + message))
	}
	return common.FromMessage(message)
}
