package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ebm/model"
)

var navTree bool

var navCmd = &cobra.Command{
	Use:   "nav [route]",
	Short: "Show the visible navigation for a route",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := startApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if navTree {
			printTree(a.Nav.Current().Roots(), 0)
			return nil
		}

		route := "/"
		if len(args) == 1 {
			route = args[0]
		}
		if g := a.Navigator.CanEnter(route); !g.Allowed {
			fmt.Printf("%s is guarded, redirecting to %s\n", route, g.Redirect)
			route = g.Redirect
		}
		a.Navigator.RouteChanged(route)

		view := a.Navigator.View()
		if view.Stack != nil {
			crumbs := make([]string, 0, len(view.Stack.Breadcrumbs))
			for _, n := range view.Stack.Breadcrumbs {
				crumbs = append(crumbs, n.Label)
			}
			fmt.Printf("%s  [%s]\n", strings.Join(crumbs, " > "), view.Route)
		} else {
			fmt.Printf("%s (not in tree)\n", view.Route)
		}
		for _, n := range view.Visible {
			marker := " "
			if view.Stack != nil && n.ID == view.Stack.CurrentNode.ID {
				marker = "*"
			}
			fmt.Printf(" %s %-14s %s\n", marker, n.Label, n.Route)
		}
		return nil
	},
}

func printTree(nodes []model.NavNode, depth int) {
	for _, n := range nodes {
		var tags []string
		if n.FeatureKey != "" {
			tags = append(tags, "feature="+n.FeatureKey)
		}
		if n.RequiresAuth {
			tags = append(tags, "auth")
		}
		if n.RequiresOrgAdmin {
			tags = append(tags, "admin")
		}
		if n.VisibleWhen != "" && n.VisibleWhen != model.VisibleAlways {
			tags = append(tags, "when="+string(n.VisibleWhen))
		}
		fmt.Printf("%s%s %s", strings.Repeat("  ", depth), n.Label, n.Route)
		if len(tags) > 0 {
			fmt.Printf(" (%s)", strings.Join(tags, ", "))
		}
		fmt.Println()
		printTree(n.Children, depth+1)
	}
}

func init() {
	rootCmd.AddCommand(navCmd)
	navCmd.Flags().BoolVar(&navTree, "tree", false, "Print the whole resolved tree")
}
