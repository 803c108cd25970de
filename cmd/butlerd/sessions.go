package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/gitbutler/butlerd/internal/deltas"
	"github.com/gitbutler/butlerd/internal/sessions"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect recorded editing sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List flushed sessions, newest first",
	Long: `List flushed sessions from the session index.

--since accepts natural language ("2 hours ago", "yesterday"), a Go
duration ("90m") or an RFC 3339 timestamp.`,
	Run: func(cmd *cobra.Command, args []string) {
		since, _ := cmd.Flags().GetString("since")
		project, _ := cmd.Flags().GetString("project")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := sessions.Filter{ProjectID: project, Limit: limit}
		if since != "" {
			t, err := parseSince(since, time.Now())
			if err != nil {
				fatalf("%v", err)
			}
			filter.Since = t
		}

		index := openIndex()
		defer index.Close()

		list, err := index.List(cmd.Context(), filter)
		if err != nil {
			fatalf("%v", err)
		}
		if len(list) == 0 {
			fmt.Println(mutedStyle.Render("No sessions found."))
			return
		}

		t := table.New().
			Border(lipgloss.RoundedBorder()).
			Headers("ID", "PROJECT", "BRANCH", "STARTED", "DURATION", "FILES")
		for _, s := range list {
			started := s.Meta.StartedAt()
			duration := s.Meta.LastActivity().Sub(started).Round(time.Second)
			t.Row(s.ID, s.ProjectID, shortRef(s.Meta.Branch), started.Local().Format("2006-01-02 15:04"), duration.String(), fmt.Sprint(len(s.Files)))
		}
		fmt.Println(t.Render())
	},
}

var deltasCmd = &cobra.Command{
	Use:   "deltas",
	Short: "Inspect recorded file deltas",
}

var deltasShowCmd = &cobra.Command{
	Use:   "show <session> <path>",
	Short: "Print the delta log of a file in a session",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		sessionID, relPath := args[0], filepath.ToSlash(args[1])

		index := openIndex()
		defer index.Close()

		list, err := loadDeltas(cmd.Context(), index, sessionID, relPath)
		if err != nil {
			fatalf("%v", err)
		}
		if len(list) == 0 {
			fmt.Println(mutedStyle.Render("No deltas recorded for " + relPath))
			return
		}

		fmt.Println(headerStyle.Render(fmt.Sprintf("%s in session %s", relPath, sessionID)))
		for i, d := range list {
			ops := make([]string, len(d.Operations))
			for j, op := range d.Operations {
				ops[j] = op.String()
			}
			fmt.Printf("%3d  %s  %s\n", i+1, mutedStyle.Render(d.Timestamp().Local().Format("15:04:05.000")), strings.Join(ops, " "))
		}
	},
}

func openIndex() *sessions.Index {
	index, err := sessions.OpenIndex(filepath.Join(cfg.DataDir, "sessions.db"))
	if err != nil {
		fatalf("failed to open session index: %v", err)
	}
	return index
}

func loadDeltas(ctx context.Context, index *sessions.Index, sessionID, relPath string) ([]deltas.Delta, error) {
	session, err := index.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			return nil, fmt.Errorf("no flushed session %s", sessionID)
		}
		return nil, err
	}

	project, err := openRegistry().Get(session.ProjectID)
	if err != nil {
		return nil, err
	}

	store, err := sessions.NewManager(cfg.DataDir, index, nil).Store(project)
	if err != nil {
		return nil, err
	}
	return store.Deltas(sessionID, relPath)
}

// parseSince turns a human time expression into an absolute time.
func parseSince(expr string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, expr); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(expr); err == nil {
		return now.Add(-d), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	result, err := w.Parse(expr, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse --since %q: %w", expr, err)
	}
	if result == nil {
		return time.Time{}, fmt.Errorf("failed to parse --since %q", expr)
	}
	return result.Time, nil
}

func shortRef(ref string) string {
	return strings.TrimPrefix(ref, "refs/heads/")
}

func init() {
	sessionsListCmd.Flags().String("since", "", `Only sessions active after this time, e.g. "2 hours ago"`)
	sessionsListCmd.Flags().String("project", "", "Only sessions of this project")
	sessionsListCmd.Flags().Int("limit", 50, "Maximum number of sessions")

	sessionsCmd.AddCommand(sessionsListCmd)
	deltasCmd.AddCommand(deltasShowCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(deltasCmd)
}
