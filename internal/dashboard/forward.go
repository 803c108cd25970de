package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gitbutler/butlerd/internal/watcher"
)

// NewMessage wraps a Change in the wire envelope.
func NewMessage(change watcher.Change, at time.Time) (Message, error) {
	data, err := json.Marshal(change)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s change: %w", change.Kind(), err)
	}

	return Message{
		Type:      change.Kind(),
		ProjectID: change.Project(),
		Timestamp: at,
		Data:      data,
	}, nil
}

// Forward broadcasts every Change received on changes until the channel is
// closed or ctx is done.
func (s *Server) Forward(ctx context.Context, changes <-chan watcher.Change) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case change, ok := <-changes:
			if !ok {
				return nil
			}

			msg, err := NewMessage(change, time.Now())
			if err != nil {
				s.log.WithError(err).Error("Dropped change")
				continue
			}
			s.Broadcast(msg)
		}
	}
}
