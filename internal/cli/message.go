package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/duckmemory/duckmem/internal/store"
)

var messageCmd = &cobra.Command{
	Use:   "message",
	Short: "Record and list conversation turns",
}

var (
	messageSession string
	messageUser    string
	messageLimit   int
)

var messageAddCmd = &cobra.Command{
	Use:   "add USER_TEXT AI_RESPONSE",
	Short: "Record one exchange for the worker to process",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(rt *runtime) error {
			ctx := cmd.Context()
			session := messageSession
			if session == "" {
				session = uuid.NewString()
			}
			user := messageUser
			if user == "" {
				user = rt.users.CurrentUsername(ctx)
			}
			id, err := rt.store.SaveMessage(ctx, store.Message{
				UserText:   args[0],
				AIResponse: args[1],
				SessionID:  session,
				UserName:   user,
				Metadata:   store.MessageMetadata{Channel: "cli"},
			})
			if err != nil {
				return err
			}
			if err := rt.users.IncrementMessageCount(ctx, user); err != nil {
				return err
			}
			if err := rt.users.Touch(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s message %d saved (session %s, user %s)\n", check(true), id, session, user)
			return nil
		})
	},
}

var messageListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the latest exchanges, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(rt *runtime) error {
			msgs, err := rt.store.RecentMessages(cmd.Context(), messageUser, messageLimit)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				fmt.Fprintf(cmd.OutOrStdout(), "#%d %s %s %s\n  %s: %s\n  duck: %s\n",
					m.ID, m.Timestamp.Format("2006-01-02 15:04"), check(m.Processed), m.SessionID, m.UserName, m.UserText, m.AIResponse)
			}
			return nil
		})
	},
}

func init() {
	messageAddCmd.Flags().StringVar(&messageSession, "session", "", "Session id (default: a new UUID)")
	messageAddCmd.Flags().StringVar(&messageUser, "user", "", "Speaker (default: current user)")
	messageListCmd.Flags().StringVar(&messageUser, "user", "", "Only this speaker's turns")
	messageListCmd.Flags().IntVar(&messageLimit, "limit", 10, "Number of exchanges")
	messageCmd.AddCommand(messageAddCmd, messageListCmd)
}
