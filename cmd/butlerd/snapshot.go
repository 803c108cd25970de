package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/gitbutler/butlerd/internal/oplog"
	"github.com/gitbutler/butlerd/internal/vcs"
	"github.com/gitbutler/butlerd/internal/vcs/git"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <project>",
	Short: "Snapshot a project's worktree into its oplog now",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		message, _ := cmd.Flags().GetString("message")

		registry := openRegistry()
		project, err := registry.Get(args[0])
		if err != nil {
			fatalf("%v", err)
		}

		repo, err := git.Open(project.Path)
		if err != nil {
			fatalf("%v", err)
		}

		details := oplog.NewSnapshotDetails(oplog.FileChanges).WithTrailer("Source", "cli")
		if message != "" {
			details.Title = message
		}

		guard := project.ExclusiveWorktreeAccess()
		id, err := oplog.CreateSnapshot(cmd.Context(), repo, details, guard.WritePermission())
		guard.Release()
		if err != nil {
			fatalf("%v", err)
		}

		if err := registry.MarkSnapshot(project.ID, time.Now()); err != nil {
			fatalf("%v", err)
		}

		fmt.Printf("%s %s\n", okStyle.Render("Created snapshot"), id)
	},
}

var oplogCmd = &cobra.Command{
	Use:   "oplog <project>",
	Short: "List a project's snapshots, newest first",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")

		project, err := openRegistry().Get(args[0])
		if err != nil {
			fatalf("%v", err)
		}

		repo, err := git.Open(project.Path)
		if err != nil {
			fatalf("%v", err)
		}

		if _, err := repo.FindReference(cmd.Context(), oplog.Ref); errors.Is(err, vcs.ErrRefNotFound) {
			fmt.Println(mutedStyle.Render("No snapshots yet."))
			return
		}

		snapshots, err := oplog.ListSnapshots(cmd.Context(), repo, limit)
		if err != nil {
			fatalf("%v", err)
		}
		if len(snapshots) == 0 {
			fmt.Println(mutedStyle.Render("No snapshots yet."))
			return
		}

		t := table.New().
			Border(lipgloss.RoundedBorder()).
			Headers("ID", "CREATED", "OPERATION", "TITLE")
		for _, s := range snapshots {
			t.Row(s.ID[:min(12, len(s.ID))], s.CreatedAt.Local().Format("2006-01-02 15:04:05"), string(s.Details.Operation), s.Details.Title)
		}
		fmt.Println(t.Render())
	},
}

func init() {
	snapshotCmd.Flags().StringP("message", "m", "", "Snapshot title")
	oplogCmd.Flags().Int("limit", 20, "Maximum number of snapshots")

	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(oplogCmd)
}
