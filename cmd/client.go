package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"portal/internal/cli"
	"portal/internal/common"
	"portal/internal/localstore"
	"portal/internal/models"
)

var clientJSON bool

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Talk to a portal server from the command line",
	Long: `Sign up, log in and administer accounts on a portal server.
When the server cannot be reached the client keeps working against a local
store in client.data_dir; identities created there stay local.`,
}

var signupCmd = &cobra.Command{
	Use:   "signup [username]",
	Short: "Create an account and log in",
	Args:  cobra.MaximumNArgs(1),
	RunE: withApp(func(ctx context.Context, app *cli.App, p *cli.Prompter, cmd *cobra.Command, args []string) error {
		req := models.SignupRequest{}
		req.FirstName, _ = cmd.Flags().GetString("first-name")
		req.LastName, _ = cmd.Flags().GetString("last-name")
		req.Nickname, _ = cmd.Flags().GetString("nickname")

		var err error
		if req.Username, err = argOrPrompt(p, args, "Username"); err != nil {
			return err
		}
		if req.Password, err = p.Password("Password"); err != nil {
			return err
		}
		if req.ConfirmPassword, err = p.Password("Confirm password"); err != nil {
			return err
		}
		return app.Signup(ctx, req)
	}),
}

var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Log in",
	Args:  cobra.MaximumNArgs(1),
	RunE: withApp(func(ctx context.Context, app *cli.App, p *cli.Prompter, cmd *cobra.Command, args []string) error {
		username, err := argOrPrompt(p, args, "Username")
		if err != nil {
			return err
		}
		password, err := p.Password("Password")
		if err != nil {
			return err
		}
		return app.Login(ctx, username, password)
	}),
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, app *cli.App, _ *cli.Prompter, _ *cobra.Command, _ []string) error {
		return app.Logout(ctx)
	}),
}

var meCmd = &cobra.Command{
	Use:   "me",
	Short: "Show the logged in account",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, app *cli.App, _ *cli.Prompter, _ *cobra.Command, _ []string) error {
		return app.Me(ctx)
	}),
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List all accounts (admin only)",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, app *cli.App, _ *cli.Prompter, _ *cobra.Command, _ []string) error {
		return app.Users(ctx)
	}),
}

var deleteCmd = &cobra.Command{
	Use:   "delete <username>",
	Short: "Soft delete an account and block its username (admin only)",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, app *cli.App, _ *cli.Prompter, _ *cobra.Command, args []string) error {
		return app.Delete(ctx, args[0])
	}),
}

func init() {
	rootCmd.AddCommand(clientCmd)
	clientCmd.PersistentFlags().BoolVar(&clientJSON, "json", false, "Print results as JSON")
	clientCmd.PersistentFlags().String("server", "http://localhost:3000", "Portal server URL")
	viperBind("client.server_url", clientCmd.PersistentFlags().Lookup("server"))

	signupCmd.Flags().String("first-name", "", "First name")
	signupCmd.Flags().String("last-name", "", "Last name")
	signupCmd.Flags().String("nickname", "", "Nickname shown after login")

	clientCmd.AddCommand(signupCmd, loginCmd, logoutCmd, meCmd, usersCmd, deleteCmd)
}

type clientRun func(ctx context.Context, app *cli.App, p *cli.Prompter, cmd *cobra.Command, args []string) error

// withApp opens the client state, runs fn and turns account errors into
// their user-facing message.
func withApp(fn clientRun) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		if err := os.MkdirAll(cfg.Client.DataDir, 0700); err != nil {
			return fmt.Errorf("failed to create client directory: %w", err)
		}
		kv, err := localstore.OpenSQLiteKV(filepath.Join(cfg.Client.DataDir, "client.db"))
		if err != nil {
			return err
		}
		defer kv.Close()

		app, err := cli.New(kv, cli.Options{
			ServerURL:     cfg.Client.ServerURL,
			AdminPassword: cfg.Auth.AdminPassword,
			Iterations:    cfg.Local.Iterations,
			Timeout:       cfg.Client.Timeout,
			JSON:          clientJSON,
			Out:           cmd.OutOrStdout(),
			Logger:        log,
		})
		if err != nil {
			return err
		}

		prompter := cli.NewPrompter(os.Stdin, cmd.ErrOrStderr(), int(os.Stdin.Fd()))
		if err := fn(cmd.Context(), app, prompter, cmd, args); err != nil {
			var classified *common.Error
			if errors.As(err, &classified) {
				log.WithError(err).Debug("Client command failed")
				return errors.New(common.Message(err))
			}
			return err
		}
		return nil
	}
}

func argOrPrompt(p *cli.Prompter, args []string, prompt string) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return args[0], nil
	}
	return p.Text(prompt)
}
