// Package cli implements the commands of the portal client. The client
// talks to the portal server and falls back to an on-disk local store when
// the server cannot be reached.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	"portal/internal/common"
	"portal/internal/gateway"
	"portal/internal/localstore"
	"portal/internal/models"
	"portal/internal/remote"
	"portal/internal/storage"
)

type Options struct {
	ServerURL     string
	AdminPassword string
	// Iterations is the local store's PBKDF2 work factor; zero keeps the default.
	Iterations int
	Timeout    time.Duration
	// JSON switches the output of every command to JSON.
	JSON   bool
	Out    io.Writer
	Logger *logrus.Logger
}

// App is one client invocation. The remote session cookie, the local
// accounts and the identity all live in the same KV.
type App struct {
	gw       *gateway.Gateway
	remote   *remote.Store
	identity *localstore.Identity
	json     bool
	out      io.Writer
}

func New(kv localstore.KV, opts Options) (*App, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	rs, err := remote.New(opts.ServerURL, kv, remote.Options{Logger: opts.Logger})
	if err != nil {
		return nil, err
	}
	local := localstore.New(kv, localstore.Options{
		AdminPassword: opts.AdminPassword,
		Iterations:    opts.Iterations,
		Logger:        opts.Logger,
	})

	return &App{
		gw: gateway.New(rs, local, gateway.Options{
			Timeout: opts.Timeout,
			Logger:  opts.Logger,
		}),
		remote:   rs,
		identity: localstore.NewIdentity(kv),
		json:     opts.JSON,
		out:      opts.Out,
	}, nil
}

type result struct {
	OK       bool   `json:"ok"`
	Username string `json:"username,omitempty"`
	Store    string `json:"store,omitempty"`
	IsAdmin  bool   `json:"isAdmin,omitempty"`
}

func (a *App) Signup(ctx context.Context, req models.SignupRequest) error {
	id, err := a.gw.Signup(ctx, a.identity, req)
	if err != nil {
		return err
	}
	return a.print(result{OK: true, Username: id.Username, Store: id.Origin},
		"Signed up as %s (%s store)\n", id.Username, id.Origin)
}

func (a *App) Login(ctx context.Context, username, password string) error {
	id, err := a.gw.Login(ctx, a.identity, username, password)
	if err != nil {
		return err
	}
	role := ""
	if id.IsAdmin {
		role = ", admin"
	}
	return a.print(result{OK: true, Username: id.Username, Store: id.Origin, IsAdmin: id.IsAdmin},
		"Logged in as %s (%s store%s)\n", id.Username, id.Origin, role)
}

// Logout ends the server session as well when the identity came from it.
func (a *App) Logout(ctx context.Context) error {
	id, err := a.identity.Current(ctx)
	if err != nil {
		return common.Internal(err)
	}
	if id.Origin == storage.RemoteName {
		a.remote.Logout(ctx)
	}
	if err := a.gw.Logout(ctx, a.identity); err != nil {
		return err
	}
	return a.print(result{OK: true}, "Logged out\n")
}

func (a *App) Me(ctx context.Context) error {
	p, err := a.gw.Me(ctx, a.identity)
	if err != nil {
		return err
	}
	if a.json {
		return a.encode(p)
	}
	if !p.Authenticated {
		_, err := fmt.Fprintln(a.out, "Not logged in")
		return err
	}
	if p.ShowWelcome {
		fmt.Fprintf(a.out, "Welcome, %s!\n", p.DisplayName)
	}
	_, err = fmt.Fprintf(a.out, "Username: %s\nName:     %s\nAdmin:    %t\n", p.Username, p.DisplayName, p.IsAdmin)
	return err
}

func (a *App) Users(ctx context.Context) error {
	users, err := a.gw.ListUsers(ctx, a.identity)
	if err != nil {
		return err
	}
	if users == nil {
		users = []models.AccountView{}
	}
	if a.json {
		return a.encode(struct {
			Users []models.AccountView `json:"users"`
		}{users})
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USERNAME\tNAME\tNICKNAME\tCREATED\tDELETED")
	for _, u := range users {
		deleted := "-"
		if u.DeletedAt != nil {
			deleted = u.DeletedAt.Format(time.RFC3339)
		} else if u.IsDeleted {
			deleted = "yes"
		}
		name := u.FirstName
		if u.LastName != "" {
			name += " " + u.LastName
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", u.Username, name, u.Nickname, u.CreatedAt.Format(time.RFC3339), deleted)
	}
	return tw.Flush()
}

func (a *App) Delete(ctx context.Context, username string) error {
	if err := a.gw.DeleteUser(ctx, a.identity, username); err != nil {
		return err
	}
	return a.print(result{OK: true, Username: models.NormalizeUsername(username)},
		"Deleted %s\n", models.NormalizeUsername(username))
}

func (a *App) print(v interface{}, format string, args ...interface{}) error {
	if a.json {
		return a.encode(v)
	}
	_, err := fmt.Fprintf(a.out, format, args...)
	return err
}

func (a *App) encode(v interface{}) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
