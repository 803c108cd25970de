package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/gitbutler/butlerd/internal/projects"
	"github.com/gitbutler/butlerd/internal/vcs/git"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage watched projects",
}

var projectAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Register a git working directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		title, _ := cmd.Flags().GetString("title")

		repo, err := git.Open(args[0])
		if err != nil {
			fatalf("%s is not a git repository: %v", args[0], err)
		}

		registry := openRegistry()
		project, err := registry.Add(repo.RepoRoot(), title)
		if err != nil {
			fatalf("%v", err)
		}

		fmt.Printf("%s %s (%s)\n", okStyle.Render("Added"), project.ID, project.Path)
		fmt.Println(mutedStyle.Render("Restart 'butlerd watch' to pick it up."))
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watched projects",
	Run: func(cmd *cobra.Command, args []string) {
		list, err := openRegistry().List()
		if err != nil {
			fatalf("%v", err)
		}
		if len(list) == 0 {
			fmt.Println(mutedStyle.Render("No projects registered."))
			return
		}

		t := table.New().
			Border(lipgloss.RoundedBorder()).
			Headers("ID", "TITLE", "PATH", "SYNC", "LAST SNAPSHOT")
		for _, p := range list {
			sync := "off"
			if p.IsSyncEnabled() && p.HasCodeURL() {
				sync = p.CodeURL
			}
			last := "never"
			if !p.LastSnapshotAt.IsZero() {
				last = p.LastSnapshotAt.Local().Format("2006-01-02 15:04:05")
			}
			t.Row(p.ID, p.Title, p.Path, sync, last)
		}
		fmt.Println(t.Render())
	},
}

var projectRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Stop watching a project",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := openRegistry().Remove(args[0]); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s %s\n", okStyle.Render("Removed"), args[0])
	},
}

var projectSyncCmd = &cobra.Command{
	Use:   "sync <id>",
	Short: "Configure oplog sync to the remote service",
	Long: `Enable or disable pushing the project's oplog.

Examples:
  butlerd project sync abc123 --url https://code.example.com/me/repo
  butlerd project sync abc123 --disable`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		url, _ := cmd.Flags().GetString("url")
		disable, _ := cmd.Flags().GetBool("disable")

		if !disable && url == "" {
			fatalf("--url is required unless --disable is set")
		}

		registry := openRegistry()
		if disable {
			// Disabling keeps the configured URL
			project, err := registry.Get(args[0])
			if err != nil {
				fatalf("%v", err)
			}
			url = project.CodeURL
		}

		if err := registry.SetSync(args[0], !disable, url); err != nil {
			fatalf("%v", err)
		}
		if disable {
			fmt.Println(okStyle.Render("Sync disabled"))
			return
		}
		fmt.Printf("%s to %s\n", okStyle.Render("Sync enabled"), url)
	},
}

func openRegistry() *projects.Registry {
	registry, err := projects.Open(cfg.DataDir)
	if err != nil {
		fatalf("failed to open project registry: %v", err)
	}
	return registry
}

func init() {
	projectAddCmd.Flags().String("title", "", "Display name (default: directory name)")
	projectSyncCmd.Flags().String("url", "", "Remote code URL")
	projectSyncCmd.Flags().Bool("disable", false, "Turn sync off")

	projectCmd.AddCommand(projectAddCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectRemoveCmd)
	projectCmd.AddCommand(projectSyncCmd)
	rootCmd.AddCommand(projectCmd)
}
