// Package sessions records file edits as per-session delta logs.
//
// A project's data directory holds at most one open session:
//
//	session/meta.json        open session metadata
//	session/wd/<path>        last observed content of every tracked file
//	session/deltas/<path>    append-only delta log per file
//	sessions/<id>/...        flushed sessions, same layout
//
// Register records one observation of a file. Flush closes the open session,
// archives it under sessions/<id> and indexes it; the next Register opens a
// new session whose mirror starts from the flushed one.
package sessions

import (
	"errors"
	"time"
)

const (
	// IdleTimeout closes a session nobody has written to for this long.
	IdleTimeout = 5 * time.Minute

	// MaxAge closes a session that has been open this long regardless of
	// activity.
	MaxAge = time.Hour
)

// ErrNoActiveSession is returned by Flush when nothing has been registered
// since the last flush.
var ErrNoActiveSession = errors.New("no active session")

// ErrSessionNotFound is returned when a flushed session ID is unknown.
var ErrSessionNotFound = errors.New("session not found")

// Meta describes the lifetime of a session and the repository state it
// started on.
type Meta struct {
	StartTimestampMs int64  `json:"start_timestamp_ms"`
	LastTimestampMs  int64  `json:"last_timestamp_ms"`
	Branch           string `json:"branch,omitempty"`
	Commit           string `json:"commit,omitempty"`
}

// StartedAt returns the session start time.
func (m Meta) StartedAt() time.Time {
	return time.UnixMilli(m.StartTimestampMs)
}

// LastActivity returns the time of the most recent registered change.
func (m Meta) LastActivity() time.Time {
	return time.UnixMilli(m.LastTimestampMs)
}

// Session is one recording window.
type Session struct {
	ID        string   `json:"id"`
	ProjectID string   `json:"project_id"`
	Meta      Meta     `json:"meta"`
	Files     []string `json:"files,omitempty"`
}

// shouldFlushAt reports whether the session is idle or too old at now.
func (s *Session) shouldFlushAt(now time.Time) bool {
	if now.Sub(s.Meta.LastActivity()) >= IdleTimeout {
		return true
	}
	return now.Sub(s.Meta.StartedAt()) >= MaxAge
}
