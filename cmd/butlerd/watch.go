package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gitbutler/butlerd/internal/cloudsync"
	"github.com/gitbutler/butlerd/internal/dashboard"
	"github.com/gitbutler/butlerd/internal/logging"
	"github.com/gitbutler/butlerd/internal/metrics"
	"github.com/gitbutler/butlerd/internal/projects"
	"github.com/gitbutler/butlerd/internal/sessions"
	"github.com/gitbutler/butlerd/internal/users"
	"github.com/gitbutler/butlerd/internal/vbranch"
	"github.com/gitbutler/butlerd/internal/vcs/git"
	"github.com/gitbutler/butlerd/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch every registered project until interrupted",
	Long: `Start the daemon. Every project registered with 'butlerd project add' is
watched; file changes are debounced per project and handled concurrently.

When the dashboard is enabled, changes are streamed as JSON to WebSocket
clients on ws://<host>:<port>/ws and metrics are served on /metrics.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := runWatch(ctx); err != nil {
			fatalf("%v", err)
		}
	},
}

func runWatch(ctx context.Context) error {
	log := logging.NewLogger("cli")

	registry, err := projects.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	watched, err := registry.List()
	if err != nil {
		return err
	}

	index, err := sessions.OpenIndex(filepath.Join(cfg.DataDir, "sessions.db"))
	if err != nil {
		return err
	}
	defer index.Close()

	m := metrics.New()
	sender := watcher.NewSender(256)

	handler, err := watcher.NewHandler(watcher.HandlerConfig{
		Projects:         registry,
		Users:            users.NewStore(cfg.DataDir),
		Open:             git.Opener,
		Branches:         vbranch.NewService(git.Opener),
		Pusher:           cloudsync.New(),
		Sender:           sender,
		Sessions:         sessions.NewManager(cfg.DataDir, index, git.Opener),
		SnapshotInterval: cfg.Snapshot.Interval,
		Metrics:          m,
	})
	if err != nil {
		return err
	}

	fw, err := watcher.NewFileWatcher()
	if err != nil {
		return err
	}
	for _, p := range watched {
		repo, err := git.Open(p.Path)
		if err != nil {
			log.WithError(err).WithField("project", p.ID).Warn("Skipping project")
			continue
		}
		ignore := func(paths []string) (map[string]bool, error) {
			return repo.IgnoredPaths(context.Background(), paths)
		}
		if err := fw.AddProject(p.ID, repo.RepoRoot(), repo.GitDir(), ignore); err != nil {
			log.WithError(err).WithField("project", p.ID).Warn("Skipping project")
			continue
		}
		log.WithField("project", p.ID).WithField("path", p.Path).Info("Watching project")
	}

	daemon, err := watcher.New(handler, fw, &watcher.Config{
		DebounceInterval: cfg.Watcher.Debounce,
		FlushInterval:    cfg.Sessions.FlushCheck,
		Metrics:          m,
	})
	if err != nil {
		return err
	}

	var server *dashboard.Server
	if cfg.Dashboard.Enabled {
		server = dashboard.NewServer(&dashboard.Config{
			Host:    cfg.Dashboard.Host,
			Port:    cfg.Dashboard.Port,
			Metrics: m,
		})
		if err := server.Start(); err != nil {
			return err
		}
		defer server.Stop()

		fmt.Println(okStyle.Render("Dashboard: ws://" + server.Addr() + "/ws"))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// The consumer below exits once the sender is closed
		defer sender.Close()
		return daemon.Start(gctx)
	})

	g.Go(func() error {
		if server != nil {
			return server.Forward(context.Background(), sender.Changes())
		}
		for change := range sender.Changes() {
			log.WithField("kind", change.Kind()).WithField("project", change.Project()).Debug("Change")
		}
		return nil
	})

	// Publish initial branch state
	for _, p := range watched {
		if err := daemon.Post(watcher.RecalculateVirtualBranches{ProjectID: p.ID}); err != nil {
			log.WithError(err).WithField("project", p.ID).Warn("Skipped initial recalculation")
		}
	}

	return g.Wait()
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
