package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gitbutler/butlerd/internal/deltas"
	"github.com/gitbutler/butlerd/internal/logging"
)

const (
	currentDir  = "session"
	archiveDir  = "sessions"
	wdDir       = "wd"
	deltasDir   = "deltas"
	metaFile    = "meta.json"
	maxFileSize = 5 << 20
)

// Store is the session recorder of one project. It is safe for concurrent
// use; Register and Flush are serialized.
type Store struct {
	projectID string
	root      string
	source    Source
	index     *Index
	now       func() time.Time
	log       *logrus.Entry

	mu      sync.Mutex
	current *Session
}

// StoreOptions configures a Store.
type StoreOptions struct {
	// Source provides baselines and HEAD info. Nil means every new file
	// starts empty and sessions carry no branch.
	Source Source

	// Index receives flushed sessions. Nil disables indexing.
	Index *Index
}

// NewStore opens the store rooted at root, recovering an open session left
// behind by a previous process.
func NewStore(projectID, root string, opts StoreOptions) (*Store, error) {
	s := &Store{
		projectID: projectID,
		root:      root,
		source:    opts.Source,
		index:     opts.Index,
		now:       time.Now,
		log:       logging.NewLogger("sessions").WithField("project", projectID),
	}

	current, err := s.loadCurrent()
	if err != nil {
		return nil, err
	}
	s.current = current

	return s, nil
}

// Current returns a copy of the open session, or nil.
func (s *Store) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil
	}
	c := *s.current
	return &c
}

// Observation is a computed but not yet persisted change of one file.
// Observe builds it without blocking other writers; Commit persists it.
type Observation struct {
	Path string

	previous string
	content  string
	ops      []deltas.Operation
}

// Register records that relPath now holds content. The delta log and mirror
// are both persisted before it returns. Identical content records nothing.
func (s *Store) Register(ctx context.Context, relPath, content string) error {
	obs, err := s.observe(ctx, relPath, content)
	if err != nil || obs == nil {
		return err
	}
	return s.Commit(ctx, obs)
}

// RegisterFile reads relPath from the worktree at worktreeRoot and
// registers its content.
func (s *Store) RegisterFile(ctx context.Context, worktreeRoot, relPath string) error {
	obs, err := s.ObserveFile(ctx, worktreeRoot, relPath)
	if err != nil || obs == nil {
		return err
	}
	return s.Commit(ctx, obs)
}

// ObserveFile reads relPath from the worktree at worktreeRoot and diffs it
// against the last observed content. It returns nil when there is nothing
// to record. A deleted file is observed as empty content. Directories,
// oversized, binary and non UTF-8 files are skipped.
func (s *Store) ObserveFile(ctx context.Context, worktreeRoot, relPath string) (*Observation, error) {
	path := filepath.Join(worktreeRoot, filepath.FromSlash(relPath))

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s.observe(ctx, relPath, "")
		}
		return nil, fmt.Errorf("failed to stat %s: %w", relPath, err)
	}
	if info.IsDir() || info.Size() > maxFileSize {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s.observe(ctx, relPath, "")
		}
		return nil, fmt.Errorf("failed to read %s: %w", relPath, err)
	}
	if !isText(data) {
		return nil, nil
	}

	return s.observe(ctx, relPath, string(data))
}

func (s *Store) observe(ctx context.Context, relPath, content string) (*Observation, error) {
	if !filepath.IsLocal(filepath.FromSlash(relPath)) {
		return nil, fmt.Errorf("path %q escapes the worktree", relPath)
	}

	s.mu.Lock()
	previous, err := s.mirrorContent(ctx, s.currentPath(), relPath)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if previous == content {
		return nil, nil
	}

	return &Observation{
		Path:     relPath,
		previous: previous,
		content:  content,
		ops:      deltas.Compute(previous, content),
	}, nil
}

// Commit appends the observation's delta and updates the mirror. If the
// file was registered again since the observation was made, the delta is
// recomputed against the newer mirror.
func (s *Store) Commit(ctx context.Context, obs *Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionDir := s.currentPath()
	previous, err := s.mirrorContent(ctx, sessionDir, obs.Path)
	if err != nil {
		return err
	}
	if previous == obs.content {
		return nil
	}
	ops := obs.ops
	if previous != obs.previous {
		ops = deltas.Compute(previous, obs.content)
	}

	session, err := s.ensureSession(ctx)
	if err != nil {
		return err
	}

	now := s.now()
	delta := deltas.Delta{Operations: ops, TimestampMs: now.UnixMilli()}
	if _, err := deltas.Append(filepath.Join(sessionDir, deltasDir), obs.Path, delta); err != nil {
		return fmt.Errorf("failed to append delta for %s: %w", obs.Path, err)
	}

	// A deleted file keeps an empty mirror so a re-created file diffs
	// against nothing rather than its committed baseline.
	if err := writeFileAtomic(filepath.Join(sessionDir, wdDir, filepath.FromSlash(obs.Path)), []byte(obs.content)); err != nil {
		return fmt.Errorf("failed to update mirror for %s: %w", obs.Path, err)
	}

	session.Meta.LastTimestampMs = now.UnixMilli()
	if err := s.writeMeta(session); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"path":       obs.Path,
		"operations": len(delta.Operations),
	}).Debug("Registered delta")

	return nil
}

// ShouldFlush reports whether the open session is idle or too old at now.
// With no open session there is nothing to flush.
func (s *Store) ShouldFlush(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current != nil && s.current.shouldFlushAt(now)
}

// Flush closes the open session and returns it. The session is archived
// under sessions/<id> and recorded in the index; the next Register opens a
// fresh session whose mirror starts from the flushed one.
func (s *Store) Flush(ctx context.Context) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.current
	if session == nil {
		return nil, ErrNoActiveSession
	}

	sessionDir := s.currentPath()
	files, err := deltas.ListFiles(filepath.Join(sessionDir, deltasDir))
	if err != nil {
		return nil, err
	}
	session.Files = files

	if err := s.writeMeta(session); err != nil {
		return nil, err
	}

	archived := s.archivePath(session.ID)
	if err := os.MkdirAll(filepath.Dir(archived), 0755); err != nil {
		return nil, fmt.Errorf("failed to create session archive: %w", err)
	}
	if err := os.Rename(sessionDir, archived); err != nil {
		return nil, fmt.Errorf("failed to archive session %s: %w", session.ID, err)
	}

	// From here on the session is closed even if indexing fails
	s.current = nil

	if err := copyTree(filepath.Join(archived, wdDir), filepath.Join(sessionDir, wdDir)); err != nil {
		return nil, fmt.Errorf("failed to seed next session: %w", err)
	}

	if s.index != nil {
		if err := s.index.Record(ctx, session); err != nil {
			return nil, err
		}
	}

	s.log.WithFields(logrus.Fields{
		"session": session.ID,
		"files":   len(files),
	}).Info("Flushed session")

	return session, nil
}

// Deltas returns the delta log of relPath in a session. An empty ID or the
// ID of the open session reads the open session.
func (s *Store) Deltas(sessionID, relPath string) ([]deltas.Delta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	return deltas.ReadFile(filepath.Join(dir, deltasDir), relPath)
}

// Files returns the paths with recorded deltas in a session.
func (s *Store) Files(sessionID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	return deltas.ListFiles(filepath.Join(dir, deltasDir))
}

// Mirror returns the last observed content of relPath in the open session.
func (s *Store) Mirror(relPath string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.currentPath(), wdDir, filepath.FromSlash(relPath)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read mirror: %w", err)
	}
	return string(data), true, nil
}

// List returns flushed sessions of this project that were active at or
// after since, newest first.
func (s *Store) List(ctx context.Context, since time.Time) ([]*Session, error) {
	if s.index != nil {
		return s.index.List(ctx, Filter{ProjectID: s.projectID, Since: since})
	}

	entries, err := os.ReadDir(filepath.Join(s.root, archiveDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var result []*Session
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		session, err := readMeta(filepath.Join(s.root, archiveDir, entry.Name(), metaFile))
		if err != nil {
			return nil, err
		}
		if session == nil || session.Meta.LastActivity().Before(since) {
			continue
		}
		result = append(result, session)
	}

	sortNewestFirst(result)
	return result, nil
}

func (s *Store) ensureSession(ctx context.Context) (*Session, error) {
	if s.current != nil {
		return s.current, nil
	}

	now := s.now().UnixMilli()
	session := &Session{
		ID:        uuid.NewString(),
		ProjectID: s.projectID,
		Meta: Meta{
			StartTimestampMs: now,
			LastTimestampMs:  now,
		},
	}

	if s.source != nil {
		branch, commit, err := s.source.Head(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read head for new session: %w", err)
		}
		session.Meta.Branch = branch
		session.Meta.Commit = commit
	}

	if err := s.writeMeta(session); err != nil {
		return nil, err
	}

	s.current = session
	s.log.WithField("session", session.ID).Debug("Opened session")
	return session, nil
}

func (s *Store) mirrorContent(ctx context.Context, sessionDir, relPath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(sessionDir, wdDir, filepath.FromSlash(relPath)))
	if err == nil {
		return string(data), nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("failed to read mirror for %s: %w", relPath, err)
	}

	if s.source == nil {
		return "", nil
	}
	return s.source.Baseline(ctx, relPath)
}

func (s *Store) sessionDir(sessionID string) (string, error) {
	if sessionID == "" || (s.current != nil && s.current.ID == sessionID) {
		return s.currentPath(), nil
	}

	if !filepath.IsLocal(sessionID) {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	dir := s.archivePath(sessionID)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return "", fmt.Errorf("failed to open session %s: %w", sessionID, err)
	}
	return dir, nil
}

func (s *Store) currentPath() string {
	return filepath.Join(s.root, currentDir)
}

func (s *Store) archivePath(id string) string {
	return filepath.Join(s.root, archiveDir, id)
}

func (s *Store) writeMeta(session *Session) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session meta: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.currentPath(), metaFile), data); err != nil {
		return fmt.Errorf("failed to write session meta: %w", err)
	}
	return nil
}

func (s *Store) loadCurrent() (*Session, error) {
	session, err := readMeta(filepath.Join(s.currentPath(), metaFile))
	if err != nil {
		return nil, err
	}
	if session != nil && session.ProjectID == "" {
		session.ProjectID = s.projectID
	}
	return session, nil
}

func readMeta(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session meta: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to parse session meta %s: %w", path, err)
	}
	return &session, nil
}

// isText reports whether data is valid UTF-8 without NUL bytes.
func isText(data []byte) bool {
	for _, b := range data {
		if b == 0 {
			return false
		}
	}
	return utf8.Valid(data)
}
