package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/spf13/cobra"

	"github.com/jmcleod/ebm/app"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session, organization, flags and sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := startApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		defer w.Flush()

		if u := a.Session.CurrentUser(); a.Session.IsAuthenticated() && u != nil {
			fmt.Fprintf(w, "User:\t%s <%s>\n", u.ID, u.Email)
		} else {
			fmt.Fprintf(w, "User:\t(signed out)\n")
		}
		org := a.Orgs.State()
		fmt.Fprintf(w, "Context:\t%s\n", org.Phase)
		if org.Active != nil {
			fmt.Fprintf(w, "Organization:\t%s (%s, %s)\n", org.Active.Name, org.Active.ID, org.Role)
		}
		fmt.Fprintf(w, "Flags:\t%s\n", strings.Join(mapset.Sorted(a.Flags.EnabledKeys()), ", "))
		fmt.Fprintf(w, "Last sync:\t%s\n", formatTime(a.Sync.LastSync()))
		return nil
	},
}

var orgsCmd = &cobra.Command{
	Use:   "orgs",
	Short: "List the organizations of the signed-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := startApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		printOrganizations(a)
		return nil
	},
}

var switchCmd = &cobra.Command{
	Use:   "switch <organization-id>",
	Short: "Make an organization the active context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := startApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.Orgs.SwitchOrganization(ctx, args[0]) {
			return fmt.Errorf("cannot switch to %q: not a member or signed out", args[0])
		}
		org := a.Orgs.ActiveOrganization()
		fmt.Printf("Active organization: %s (%s)\n", org.Name, a.Orgs.Role())
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reload navigation and feature flags for the active context",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := startApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		res := a.Sync.SyncAll(cmd.Context())
		switch {
		case res.Skipped != "":
			fmt.Printf("Sync skipped: %s\n", res.Skipped)
		case res.Err != nil:
			fmt.Printf("Sync %s incomplete: %v\n", res.RunID, res.Err)
		default:
			fmt.Printf("Sync %s complete at %s\n", res.RunID, formatTime(a.Sync.LastSync()))
		}
		return nil
	},
}

func printOrganizations(a *app.App) {
	orgs := a.Orgs.Organizations()
	if len(orgs) == 0 {
		fmt.Println("No organizations")
		return
	}
	active := a.Orgs.ActiveOrganizationID()
	user := a.Session.CurrentUser()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "\tID\tNAME\tROLE")
	for _, o := range orgs {
		marker := ""
		if o.ID == active {
			marker = "*"
		}
		m, _ := user.Membership(o.ID)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", marker, o.ID, o.Name, m.Role)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.RFC1123)
}

func init() {
	rootCmd.AddCommand(statusCmd, orgsCmd, switchCmd, syncCmd)
}
