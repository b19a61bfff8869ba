package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Show or switch the current speaker",
}

var userCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "Print the current speaker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(rt *runtime) error {
			ctx, out := cmd.Context(), cmd.OutOrStdout()
			sess := rt.users.CurrentUser(ctx)
			fmt.Fprintf(out, "%s (%s), active since %s\n", sess.DisplayName, sess.Relation, since(sess.SwitchedAt))
			if left, ok := rt.users.TimeUntilRevert(ctx); ok {
				fmt.Fprintf(out, "Reverts to %s in %s\n", rt.users.PrimaryUser(), left.Round(time.Second))
			}
			return nil
		})
	},
}

var userRelation string

var userSwitchCmd = &cobra.Command{
	Use:   "switch NAME",
	Short: "Switch the current speaker, resolving spoken names",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(rt *runtime) error {
			ctx := cmd.Context()
			name, display, relation := strings.Join(args, " "), "", userRelation
			if m, ok, err := rt.users.FindUserByName(ctx, name); err != nil {
				return err
			} else if ok {
				name, display = m.Username, m.DisplayName
				if relation == "" {
					relation = m.Relation
				}
			}
			sess, err := rt.users.SwitchUser(ctx, name, display, relation)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Now talking to %s (%s)\n", check(true), sess.DisplayName, sess.Relation)
			return nil
		})
	},
}

var userFindCmd = &cobra.Command{
	Use:   "find NAME",
	Short: "Resolve a spoken name to a known person",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(rt *runtime) error {
			m, ok, err := rt.users.FindUserByName(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no known person called %q", strings.Join(args, " "))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t(%s)\n", m.Username, m.DisplayName, m.Relation, m.Source)
			return nil
		})
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known users",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(rt *runtime) error {
			list, err := rt.users.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			for _, u := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s %-12s %5d messages  last active %s\n",
					u.Username, u.Relation, u.TotalMessages, since(u.LastActive))
			}
			return nil
		})
	},
}

func init() {
	userSwitchCmd.Flags().StringVar(&userRelation, "relation", "", "Relation tag (default: stored relation or gjest)")
	userCmd.AddCommand(userCurrentCmd, userSwitchCmd, userFindCmd, userListCmd)
}
