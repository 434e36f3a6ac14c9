package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/parley/internal/store"
	"github.com/user/parley/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd, sessionSearchCmd, sessionDeleteCmd)
	sessionListCmd.Flags().StringVar(&sessionListModel, "model", "", "only sessions for this model")
	sessionListCmd.Flags().IntVar(&sessionListLimit, "limit", 0, "maximum number of sessions")
	sessionSearchCmd.Flags().StringVar(&sessionSearchScope, "session", "", "restrict search to one session")
}

var (
	sessionListModel   string
	sessionListLimit   int
	sessionSearchScope string
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
}

func openStore() (*store.Store, error) {
	cfg := loadConfig()
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

func printSessions(ctx context.Context, st *store.Store) error {
	filter := types.SessionFilter{ModelID: sessionListModel, Limit: sessionListLimit}
	list, err := st.ListSessions(ctx, filter)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tMODEL\tMESSAGES\tUPDATED")
	for _, s := range list {
		count, err := st.CountMessages(ctx, s.ID)
		if err != nil {
			count = 0
		}
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			s.ID,
			title,
			s.ModelID,
			count,
			s.UpdatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	return w.Flush()
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		return printSessions(cmd.Context(), st)
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		id := types.SessionID(args[0])

		sess, err := st.GetSession(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("session not found: %s", args[0])
			}
			return fmt.Errorf("get session: %w", err)
		}

		title := sess.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s  [%s]  created %s\n\n", title, sess.ModelID, sess.CreatedAt.Format("2006-01-02 15:04:05"))

		msgs, err := st.ListMessages(ctx, id, 0, 0)
		if err != nil {
			return fmt.Errorf("list messages: %w", err)
		}
		for _, msg := range msgs {
			fmt.Printf("[%s] %s\n", msg.Role, msg.Content)
			for _, call := range msg.ToolCalls {
				fmt.Printf("  tool %s (%s)\n", call.Name, call.Status)
			}
		}
		return nil
	},
}

var sessionSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search message content across sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}

		msgs, err := st.SearchMessages(cmd.Context(), args[0], types.SessionID(sessionSearchScope))
		if err != nil {
			return fmt.Errorf("search messages: %w", err)
		}
		if len(msgs) == 0 {
			fmt.Println("No matches.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION\tROLE\tCONTENT")
		for _, msg := range msgs {
			content := msg.Content
			if len(content) > 80 {
				content = content[:80] + "…"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", msg.SessionID, msg.Role, content)
		}
		return w.Flush()
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session and its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}

		id := types.SessionID(args[0])
		if err := st.DeleteSession(cmd.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("session not found: %s", args[0])
			}
			return fmt.Errorf("delete session: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Session %s deleted.\n", args[0])
		return nil
	},
}
