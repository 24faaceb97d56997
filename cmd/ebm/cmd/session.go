package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	email    string
	password string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and load the organization context",
	RunE: func(cmd *cobra.Command, args []string) error {
		if password == "" {
			password = os.Getenv("EBM_PASSWORD")
		}
		if email == "" || password == "" {
			return errors.New("--email and --password (or EBM_PASSWORD) are required")
		}

		ctx := cmd.Context()
		a, err := startApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Session.Login(ctx, email, password); err != nil {
			return err
		}
		a.Orgs.HandleSession(ctx, a.Session.State())

		if u := a.Session.CurrentUser(); u != nil {
			fmt.Printf("Signed in as %s %s <%s>\n", u.FirstName, u.LastName, u.Email)
		}
		printOrganizations(a)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the cached session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := startApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		a.Session.Logout(ctx)
		fmt.Println("Signed out")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd)
	loginCmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	loginCmd.Flags().StringVarP(&password, "password", "p", "", "Account password")
}
