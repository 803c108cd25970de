package watcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gitbutler/butlerd/internal/logging"
	"github.com/gitbutler/butlerd/internal/metrics"
)

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long a project must be quiet before its
	// queued file changes are turned into events. This batches editor
	// save bursts together.
	DebounceInterval time.Duration

	// FlushInterval is how often sessions are checked for idleness.
	FlushInterval time.Duration

	Metrics *metrics.Metrics
	Logger  *logrus.Entry
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 100 * time.Millisecond,
		FlushInterval:    5 * time.Second,
	}
}

// pendingChanges accumulates file events of one project between flushes of
// the change queue.
type pendingChanges struct {
	projectPaths map[string]struct{}
	gitPaths     map[string]struct{}
	oplog        bool
	lastQueued   time.Time
}

// Daemon feeds file watcher output and posted events to the Handler. Every
// event runs on its own goroutine; events of different projects never wait
// for each other.
type Daemon struct {
	handler *Handler
	watcher *FileWatcher
	config  *Config
	log     *logrus.Entry

	changeQueue   map[string]*pendingChanges
	changeQueueMu sync.Mutex

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inflight sync.WaitGroup
	stopOnce sync.Once

	// stopped is set once Stop has begun waiting for in-flight events
	stopped   bool
	stoppedMu sync.RWMutex
}

// ErrDaemonStopped is returned by Post after Stop.
var ErrDaemonStopped = errors.New("daemon is stopped")

// New creates a Daemon. watcher may be nil, in which case only posted
// events are handled.
func New(handler *Handler, watcher *FileWatcher, config *Config) (*Daemon, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = DefaultConfig().FlushInterval
	}

	logger := config.Logger
	if logger == nil {
		logger = logging.NewLogger("daemon")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		handler:     handler,
		watcher:     watcher,
		config:      config,
		log:         logger,
		changeQueue: make(map[string]*pendingChanges),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start runs the daemon until ctx is cancelled, then stops it.
func (d *Daemon) Start(ctx context.Context) error {
	d.log.Info("Starting daemon")

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			return fmt.Errorf("failed to start file watcher: %w", err)
		}
		d.wg.Add(1)
		go d.watchFileEvents()
	}

	d.wg.Add(2)
	go d.processChangeQueue()
	go d.flushSessions()

	select {
	case <-ctx.Done():
		d.log.Info("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop shuts the daemon down and waits for in-flight events to finish.
func (d *Daemon) Stop() error {
	var stopErr error

	d.stopOnce.Do(func() {
		d.log.Info("Stopping daemon")
		d.cancel()

		if d.watcher != nil {
			if err := d.watcher.Stop(); err != nil {
				stopErr = err
				d.log.WithError(err).Warn("Error closing watcher")
			}
		}

		d.wg.Wait()

		d.stoppedMu.Lock()
		d.stopped = true
		d.stoppedMu.Unlock()

		d.inflight.Wait()

		d.log.Info("Daemon stopped")
	})

	return stopErr
}

// Post handles an event from outside the file watcher, e.g. a
// RecalculateVirtualBranches after a command. It returns immediately, or
// ErrDaemonStopped once the daemon has been stopped.
func (d *Daemon) Post(event InternalEvent) error {
	if !d.dispatch(event) {
		return ErrDaemonStopped
	}
	return nil
}

// Wait blocks until every dispatched event has been handled.
func (d *Daemon) Wait() {
	d.inflight.Wait()
}

// dispatch reports false if the daemon is stopped and the event was
// dropped.
func (d *Daemon) dispatch(event InternalEvent) bool {
	d.stoppedMu.RLock()
	if d.stopped {
		d.stoppedMu.RUnlock()
		d.log.WithField("event", event.String()).Debug("Dropped event after stop")
		return false
	}
	d.inflight.Add(1)
	d.stoppedMu.RUnlock()

	// Handlers finish what they started even during shutdown
	ctx := context.WithoutCancel(d.ctx)

	go func() {
		defer d.inflight.Done()

		m := d.config.Metrics
		m.EventStarted()
		defer m.EventFinished()

		start := time.Now()
		err := d.handler.Handle(ctx, event)
		elapsed := time.Since(start)

		result := "ok"
		if err != nil {
			result = "error"
			d.log.WithFields(logrus.Fields{
				"event":   event.String(),
				"project": event.Project(),
			}).WithError(err).Error("Failed to handle event")
		} else {
			d.log.WithField("event", event.String()).WithField("elapsed", elapsed).Debug("Handled event")
		}
		m.RecordEvent(eventKind(event), result, elapsed.Seconds())
	}()
	return true
}

// watchFileEvents queues watcher output for debouncing.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.queueChange(event)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.log.WithError(err).Warn("Watcher error")
		}
	}
}

// queueChange records a file event for the next debounced flush.
func (d *Daemon) queueChange(event FileEvent) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	pending, ok := d.changeQueue[event.ProjectID]
	if !ok {
		pending = &pendingChanges{
			projectPaths: make(map[string]struct{}),
			gitPaths:     make(map[string]struct{}),
		}
		d.changeQueue[event.ProjectID] = pending
	}

	switch event.Kind {
	case KindProject:
		pending.projectPaths[event.Path] = struct{}{}
	case KindGit:
		pending.gitPaths[event.Path] = struct{}{}
	case KindOplog:
		pending.oplog = true
	}
	pending.lastQueued = time.Now()
}

func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			for _, event := range d.takeSettled(time.Now()) {
				if event, ok := d.dropIgnored(event); ok {
					d.dispatch(event)
				}
			}
		}
	}
}

// dropIgnored removes ignored paths from a ProjectFilesChange. It reports
// false when nothing is left to handle.
func (d *Daemon) dropIgnored(event InternalEvent) (InternalEvent, bool) {
	change, ok := event.(ProjectFilesChange)
	if !ok || d.watcher == nil {
		return event, true
	}

	change.Paths = d.watcher.FilterIgnored(change.ProjectID, change.Paths)
	return change, len(change.Paths) > 0
}

// takeSettled removes projects that have been quiet for the debounce
// interval from the queue and returns their events.
func (d *Daemon) takeSettled(now time.Time) []InternalEvent {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	var events []InternalEvent
	for projectID, pending := range d.changeQueue {
		if now.Sub(pending.lastQueued) < d.config.DebounceInterval {
			continue
		}

		if len(pending.gitPaths) > 0 {
			events = append(events, GitFilesChange{ProjectID: projectID, Paths: sortedKeys(pending.gitPaths)})
		}
		if pending.oplog {
			events = append(events, OplogChange{ProjectID: projectID})
		}
		if len(pending.projectPaths) > 0 {
			events = append(events, ProjectFilesChange{ProjectID: projectID, Paths: sortedKeys(pending.projectPaths)})
		}

		delete(d.changeQueue, projectID)
	}

	return events
}

// flushSessions periodically closes idle sessions.
func (d *Daemon) flushSessions() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if err := d.handler.FlushSessions(d.ctx); err != nil {
				d.log.WithError(err).Error("Failed to flush sessions")
			}
		}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
